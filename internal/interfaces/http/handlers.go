package http

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyjia/invoice-lifecycle/internal/application/port"
	"github.com/garyjia/invoice-lifecycle/internal/application/service"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	invoices  service.InvoiceService
	recurring service.RecurringService
	exporter  port.StatementExporter
	health    HealthChecker
	logger    *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	invoices service.InvoiceService,
	recurring service.RecurringService,
	exporter port.StatementExporter,
	health HealthChecker,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		invoices:  invoices,
		recurring: recurring,
		exporter:  exporter,
		health:    health,
		logger:    logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Timestamp string `json:"timestamp"`
}

// statusFor maps a result kind to an HTTP status
func statusFor(kind service.Kind, success bool, onSuccess int) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindUnauthorized:
		return http.StatusForbidden
	case service.KindConflict:
		return http.StatusConflict
	case service.KindPersistence:
		return http.StatusInternalServerError
	}
	if !success {
		return http.StatusInternalServerError
	}
	return onSuccess
}

func respond[T any](c *gin.Context, res service.Result[T], onSuccess int) {
	c.JSON(statusFor(res.Kind, res.Success, onSuccess), res)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest,
		service.Fail[any](service.KindValidation, fmt.Sprintf("Invalid request: %v", err)))
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Database:  "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.PingContext(ctx); err != nil {
			h.logger.Warn("Health check failed", zap.Error(err))
			resp.Status = "unhealthy"
			resp.Database = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, resp)
}

// CreateInvoice handles POST /api/v1/invoices
func (h *Handlers) CreateInvoice(c *gin.Context) {
	var req service.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	respond(c, h.invoices.CreateInvoice(c.Request.Context(), c.GetString(ctxUserID), req), http.StatusCreated)
}

// ListInvoices handles GET /api/v1/invoices
func (h *Handlers) ListInvoices(c *gin.Context) {
	var page service.PageRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		badRequest(c, err)
		return
	}
	respond(c, h.invoices.ListInvoices(c.Request.Context(), c.GetString(ctxUserID), page), http.StatusOK)
}

// GetInvoice handles GET /api/v1/invoices/:id
func (h *Handlers) GetInvoice(c *gin.Context) {
	respond(c, h.invoices.GetInvoice(c.Request.Context(), c.GetString(ctxUserID), c.Param("id")), http.StatusOK)
}

// EditInvoice handles PUT /api/v1/invoices/:id
func (h *Handlers) EditInvoice(c *gin.Context) {
	var req service.EditInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	respond(c, h.invoices.EditInvoice(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"), req), http.StatusOK)
}

// MarkAsPaid handles POST /api/v1/invoices/:id/paid
func (h *Handlers) MarkAsPaid(c *gin.Context) {
	respond(c, h.invoices.MarkAsPaid(c.Request.Context(), c.GetString(ctxUserID), c.Param("id")), http.StatusOK)
}

// MarkAsPending handles POST /api/v1/invoices/:id/pending
func (h *Handlers) MarkAsPending(c *gin.Context) {
	respond(c, h.invoices.MarkAsPending(c.Request.Context(), c.GetString(ctxUserID), c.Param("id")), http.StatusOK)
}

// DeleteInvoice handles DELETE /api/v1/invoices/:id
func (h *Handlers) DeleteInvoice(c *gin.Context) {
	respond(c, h.invoices.DeleteInvoice(c.Request.Context(), c.GetString(ctxUserID), c.Param("id")), http.StatusOK)
}

// ExportInvoices handles GET /api/v1/invoices/export.
// The statement is buffered so a failure can still be reported as JSON.
func (h *Handlers) ExportInvoices(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	var buf bytes.Buffer
	res := h.invoices.ExportInvoices(c.Request.Context(), userID, &buf)
	if !res.Success || h.exporter == nil {
		if res.Success {
			res = service.Fail[int](service.KindPersistence, "Statement export is not configured.")
		}
		respond(c, res, http.StatusOK)
		return
	}

	filename := fmt.Sprintf("invoices-%s%s", time.Now().UTC().Format("20060102"), h.exporter.FileExtension())
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("X-Invoice-Count", fmt.Sprintf("%d", res.Result))
	c.Data(http.StatusOK, h.exporter.ContentType(), buf.Bytes())
}

// ListRecurrences handles GET /api/v1/invoices/:id/recurrences
func (h *Handlers) ListRecurrences(c *gin.Context) {
	if h.recurring == nil {
		c.JSON(http.StatusServiceUnavailable,
			service.Fail[any](service.KindNone, "Recurring generation is not configured."))
		return
	}
	respond(c, h.recurring.ListInstances(c.Request.Context(), c.GetString(ctxUserID), c.Param("id")), http.StatusOK)
}

// RunRecurring handles POST /api/v1/recurring/run
func (h *Handlers) RunRecurring(c *gin.Context) {
	if h.recurring == nil {
		c.JSON(http.StatusServiceUnavailable,
			service.Fail[any](service.KindNone, "Recurring generation is not configured."))
		return
	}
	respond(c, h.recurring.GenerateRecurringInvoices(c.Request.Context()), http.StatusOK)
}
