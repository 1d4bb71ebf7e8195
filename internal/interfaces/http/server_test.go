package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/invoice-lifecycle/internal/application/idgen"
	"github.com/garyjia/invoice-lifecycle/internal/application/port"
	"github.com/garyjia/invoice-lifecycle/internal/application/service"
	"github.com/garyjia/invoice-lifecycle/internal/infrastructure/export"
	"github.com/garyjia/invoice-lifecycle/internal/infrastructure/persistence/repository"
	"github.com/garyjia/invoice-lifecycle/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/invoice-lifecycle/pkg/database"
)

const invoiceBody = `{
	"description": "Website redesign",
	"payment_terms": 14,
	"client_name": "Acme Ltd",
	"client_email": "billing@acme.test",
	"sender_address": {"street": "1 Sender St", "city": "London", "post_code": "E1 6AN", "country": "UK"},
	"client_address": {"street": "9 Client Rd", "city": "Leeds", "post_code": "LS1 4AP", "country": "UK"},
	"items": [
		{"name": "Design", "quantity": 2, "unit_price": "150.50"},
		{"name": "Hosting", "quantity": 1, "unit_price": 20}
	]
}`

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Kind    string          `json:"kind"`
	Result  json.RawMessage `json:"result"`
}

type failingPing struct{}

func (failingPing) PingContext(context.Context) error { return errors.New("database is locked") }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := zap.NewNop()

	raw, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "api.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	_, err = database.NewMigrator(raw, logger).Run()
	require.NoError(t, err)

	db := sqlite.NewDB(raw.DB, logger)
	uow := repository.NewUnitOfWork(db, logger)
	ids := idgen.NewAllocator(uow.Invoices(), idgen.Config{}, logger)
	require.NoError(t, ids.Initialize(context.Background()))

	clock := port.SystemClock{}
	exporter := export.NewXLSXExporter(logger)
	invoices := service.NewInvoiceService(uow, ids, clock, exporter, logger)
	recurring := service.NewRecurringService(uow, ids, clock, service.BatchAtomic, logger)

	cfg := DefaultServerConfig()
	cfg.Mode = gin.TestMode
	return NewServer(cfg, invoices, recurring, exporter, db, logger)
}

func do(t *testing.T, s *Server, method, path, user, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

// createInvoice posts the sample body and returns the stored invoice id
func createInvoice(t *testing.T, s *Server, user string) string {
	t.Helper()
	rec, env := do(t, s, http.MethodPost, "/api/v1/invoices", user, invoiceBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.True(t, env.Success)

	_, list := do(t, s, http.MethodGet, "/api/v1/invoices?page=1&page_size=1", user, "")
	var page struct {
		Invoices []struct {
			ID         string `json:"id"`
			FrontendID string `json:"frontend_id"`
		} `json:"invoices"`
	}
	require.NoError(t, json.Unmarshal(list.Result, &page))
	require.NotEmpty(t, page.Invoices)
	return page.Invoices[0].ID
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	rec, _ := do(t, s, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	unhealthy := NewServer(ServerConfig{Mode: gin.TestMode}, nil, nil, nil, failingPing{}, zap.NewNop())
	rec, _ = do(t, unhealthy, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequireUser(t *testing.T) {
	s := newTestServer(t)

	rec, env := do(t, s, http.MethodGet, "/api/v1/invoices", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "unauthorized", env.Kind)
}

func TestInvoiceLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	rec, env := do(t, s, http.MethodPost, "/api/v1/invoices", "alice", invoiceBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.JSONEq(t, `"INV-000001"`, string(env.Result))

	id := createInvoice(t, s, "alice")

	rec, env = do(t, s, http.MethodGet, "/api/v1/invoices/"+id, "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var invoice struct {
		FrontendID string `json:"frontend_id"`
		Status     string `json:"status"`
		Total      string `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Result, &invoice))
	assert.Equal(t, "INV-000002", invoice.FrontendID)
	assert.Equal(t, "Draft", invoice.Status)
	assert.Equal(t, "321", invoice.Total)

	// another user sees not found, not forbidden
	rec, _ = do(t, s, http.MethodGet, "/api/v1/invoices/"+id, "bob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = do(t, s, http.MethodPost, "/api/v1/invoices/"+id+"/paid", "alice", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "invalid_transition", env.Kind)

	rec, env = do(t, s, http.MethodPost, "/api/v1/invoices/"+id+"/pending", "bob", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "unauthorized", env.Kind)

	rec, env = do(t, s, http.MethodPost, "/api/v1/invoices/"+id+"/pending", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Invoice marked as pending successfully.", env.Message)

	rec, env = do(t, s, http.MethodPut, "/api/v1/invoices/"+id, "alice", invoiceBody)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Pending invoices cannot be edited.", env.Message)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/invoices/"+id+"/paid", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = do(t, s, http.MethodDelete, "/api/v1/invoices/"+id, "bob", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env = do(t, s, http.MethodDelete, "/api/v1/invoices/"+id, "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Invoice deleted successfully", env.Message)

	rec, _ = do(t, s, http.MethodDelete, "/api/v1/invoices/"+id, "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEditInvoiceOverHTTP(t *testing.T) {
	s := newTestServer(t)
	id := createInvoice(t, s, "alice")

	edited := `{"payment_terms": 30, "client_name": "Acme Group", "client_email": "ap@acme.test",
		"sender_address": {"street": "1 Sender St", "city": "London", "post_code": "E1 6AN", "country": "UK"},
		"client_address": {"street": "9 Client Rd", "city": "Leeds", "post_code": "LS1 4AP", "country": "UK"},
		"items": [{"name": "Audit", "quantity": 3, "unit_price": "10.10"}]}`

	rec, env := do(t, s, http.MethodPut, "/api/v1/invoices/"+id, "alice", edited)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, env.Success)

	_, env = do(t, s, http.MethodGet, "/api/v1/invoices/"+id, "alice", "")
	var invoice struct {
		ClientName string `json:"client_name"`
		Total      string `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Result, &invoice))
	assert.Equal(t, "Acme Group", invoice.ClientName)
	assert.Equal(t, "30.3", invoice.Total)
}

func TestValidationErrors(t *testing.T) {
	s := newTestServer(t)

	rec, env := do(t, s, http.MethodPost, "/api/v1/invoices", "alice", `{"payment_terms": "soon"`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", env.Kind)

	rec, env = do(t, s, http.MethodPost, "/api/v1/invoices", "alice", `{"payment_terms": -1, "client_name": "Acme"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Payment terms cannot be negative.", env.Message)

	rec, _ = do(t, s, http.MethodGet, "/api/v1/invoices?page=abc", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListInvoicesPagination(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 3; i++ {
		createInvoice(t, s, "alice")
	}
	createInvoice(t, s, "bob")

	rec, env := do(t, s, http.MethodGet, "/api/v1/invoices?page=2&page_size=2", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var page struct {
		Invoices   []json.RawMessage `json:"invoices"`
		TotalCount int               `json:"total_count"`
		TotalPages int               `json:"total_pages"`
	}
	require.NoError(t, json.Unmarshal(env.Result, &page))
	assert.Len(t, page.Invoices, 1)
	assert.Equal(t, 3, page.TotalCount)
	assert.Equal(t, 2, page.TotalPages)
}

func TestExportInvoices(t *testing.T) {
	s := newTestServer(t)
	createInvoice(t, s, "alice")

	rec, _ := do(t, s, http.MethodGet, "/api/v1/invoices/export", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")
	assert.Equal(t, "1", rec.Header().Get("X-Invoice-Count"))

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(export.InvoicesSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestRunRecurring(t *testing.T) {
	s := newTestServer(t)

	rec, env := do(t, s, http.MethodPost, "/api/v1/recurring/run", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, env.Success)

	var report service.GenerationReport
	require.NoError(t, json.Unmarshal(env.Result, &report))
	assert.Equal(t, service.BatchAtomic, report.Mode)
	assert.Zero(t, report.Candidates)

	bare := NewServer(ServerConfig{Mode: gin.TestMode}, nil, nil, nil, nil, zap.NewNop())
	rec, _ = do(t, bare, http.MethodPost, "/api/v1/recurring/run", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListRecurrences(t *testing.T) {
	s := newTestServer(t)

	body := strings.Replace(invoiceBody, `"payment_terms": 14,`,
		`"payment_terms": 14, "is_recurring": true, "recurrence_period": "Daily", "recurrence_end_date": "2999-12-31",`, 1)
	rec, _ := do(t, s, http.MethodPost, "/api/v1/invoices", "alice", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	_, list := do(t, s, http.MethodGet, "/api/v1/invoices", "alice", "")
	var page struct {
		Invoices []struct {
			ID          string `json:"id"`
			IsRecurring bool   `json:"is_recurring"`
		} `json:"invoices"`
	}
	require.NoError(t, json.Unmarshal(list.Result, &page))
	require.Len(t, page.Invoices, 1)
	require.True(t, page.Invoices[0].IsRecurring)
	id := page.Invoices[0].ID

	rec, env := do(t, s, http.MethodGet, "/api/v1/invoices/"+id+"/recurrences", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `[]`, string(env.Result))

	rec, _ = do(t, s, http.MethodGet, "/api/v1/invoices/"+id+"/recurrences", "bob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecoveryReturnsEnvelope(t *testing.T) {
	s := NewServer(ServerConfig{Mode: gin.TestMode}, nil, nil, nil, nil, zap.NewNop())
	s.Router().GET("/boom", func(c *gin.Context) { panic("boom") })

	rec, env := do(t, s, http.MethodGet, "/boom", "", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "persistence", env.Kind)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusCreated, statusFor(service.KindNone, true, http.StatusCreated))
	assert.Equal(t, http.StatusOK, statusFor(service.KindInvalidTransition, true, http.StatusOK))
	assert.Equal(t, http.StatusBadRequest, statusFor(service.KindValidation, false, http.StatusOK))
	assert.Equal(t, http.StatusNotFound, statusFor(service.KindNotFound, false, http.StatusOK))
	assert.Equal(t, http.StatusForbidden, statusFor(service.KindUnauthorized, false, http.StatusOK))
	assert.Equal(t, http.StatusConflict, statusFor(service.KindConflict, false, http.StatusOK))
	assert.Equal(t, http.StatusInternalServerError, statusFor(service.KindPersistence, false, http.StatusOK))
	assert.Equal(t, http.StatusInternalServerError, statusFor(service.KindNone, false, http.StatusOK))
}
