package repository

import (
	"context"

	"github.com/facturia/verifactu-api/internal/domain/entity"
)

// RecordRepository persiste los registros de facturación (append-only; un
// registro con huella calculada jamás se edita).
type RecordRepository interface {
	Create(ctx context.Context, record *entity.Record) error
	GetByID(ctx context.Context, id string) (*entity.Record, error)
	GetByInvoiceID(ctx context.Context, invoiceID string) ([]*entity.Record, error)
	// ListByCompany devuelve los registros del emisor ordenados por posición
	// de cadena ascendente (para verificación de integridad).
	ListByCompany(ctx context.Context, companyID string) ([]*entity.Record, error)
}
