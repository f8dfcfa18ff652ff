package repository

import (
	"context"

	"github.com/facturia/verifactu-api/internal/domain/entity"
)

// InvoiceRepository es el puerto hacia el colaborador de facturas: lee los
// datos de la factura y escribe de vuelta su estado de cumplimiento.
type InvoiceRepository interface {
	Create(ctx context.Context, invoice *entity.Invoice) error
	GetByID(ctx context.Context, id string) (*entity.Invoice, error)
	// UpdateCompliance escribe status, CSV, sent_at, verified_at, last_error,
	// chain_fingerprint y qr_data. No toca los campos de negocio de la factura.
	UpdateCompliance(ctx context.Context, invoice *entity.Invoice) error
	// GetComplianceStatus devuelve solo los campos de estado (ligero, polling).
	GetComplianceStatus(ctx context.Context, id string) (*entity.Invoice, error)
}
