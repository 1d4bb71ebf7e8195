package port

import (
	"context"
	"io"
	"time"

	"github.com/garyjia/invoice-lifecycle/internal/domain/entity"
)

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC
type SystemClock struct{}

// Now returns the current UTC time
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock always returns the same instant
type FixedClock struct {
	At time.Time
}

// Now returns the fixed instant
func (c FixedClock) Now() time.Time {
	return c.At
}

// StatementExporter renders a set of invoices into a downloadable document
type StatementExporter interface {
	Export(ctx context.Context, w io.Writer, userID string, invoices []*entity.Invoice) error
	ContentType() string
	FileExtension() string
}
