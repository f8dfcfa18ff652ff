package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/facturia/verifactu-api/internal/domain"
	"github.com/facturia/verifactu-api/internal/domain/entity"
	"github.com/facturia/verifactu-api/internal/domain/repository"
)

var _ repository.InvoiceRepository = (*InvoiceRepo)(nil)

// InvoiceRepo implementación del puerto InvoiceRepository sobre PostgreSQL.
type InvoiceRepo struct {
	pool *pgxpool.Pool
}

// NewInvoiceRepository construye el adaptador de persistencia para facturas.
func NewInvoiceRepository(pool *pgxpool.Pool) *InvoiceRepo {
	return &InvoiceRepo{pool: pool}
}

const invoiceColumns = `
	id, company_id, customer_id, series, number, date,
	net_total, tax_total, grand_total, tipo_factura,
	status, confirmation_csv, sent_at, verified_at, last_error,
	chain_fingerprint, qr_data, cancelled, cancellation_reason,
	created_at, updated_at`

// Create persiste una factura nueva en estado PENDING.
func (r *InvoiceRepo) Create(ctx context.Context, inv *entity.Invoice) error {
	query := `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, $21)`
	_, err := querierFrom(ctx, r.pool).Exec(ctx, query,
		inv.ID, inv.CompanyID, nullIfEmpty(inv.CustomerID), inv.Series, inv.Number, inv.Date,
		inv.NetTotal, inv.TaxTotal, inv.GrandTotal, inv.TipoFactura,
		inv.Status, inv.ConfirmationCSV, inv.SentAt, inv.VerifiedAt, inv.LastError,
		inv.ChainFingerprint, inv.QRData, inv.Cancelled, inv.CancellationReason,
		inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

// GetByID obtiene una factura por ID.
func (r *InvoiceRepo) GetByID(ctx context.Context, id string) (*entity.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	var inv entity.Invoice
	var customerID *string
	err := querierFrom(ctx, r.pool).QueryRow(ctx, query, id).Scan(
		&inv.ID, &inv.CompanyID, &customerID, &inv.Series, &inv.Number, &inv.Date,
		&inv.NetTotal, &inv.TaxTotal, &inv.GrandTotal, &inv.TipoFactura,
		&inv.Status, &inv.ConfirmationCSV, &inv.SentAt, &inv.VerifiedAt, &inv.LastError,
		&inv.ChainFingerprint, &inv.QRData, &inv.Cancelled, &inv.CancellationReason,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	if customerID != nil {
		inv.CustomerID = *customerID
	}
	return &inv, nil
}

// UpdateCompliance escribe el estado de cumplimiento de la factura. Los
// campos de negocio (importes, fechas, contraparte) no se tocan: una factura
// encadenada es inmutable.
func (r *InvoiceRepo) UpdateCompliance(ctx context.Context, inv *entity.Invoice) error {
	query := `
		UPDATE invoices SET
			status = $2, confirmation_csv = $3, sent_at = $4, verified_at = $5,
			last_error = $6, chain_fingerprint = $7, qr_data = $8,
			cancelled = $9, cancellation_reason = $10, updated_at = $11
		WHERE id = $1`
	cmd, err := querierFrom(ctx, r.pool).Exec(ctx, query,
		inv.ID, inv.Status, inv.ConfirmationCSV, inv.SentAt, inv.VerifiedAt,
		inv.LastError, inv.ChainFingerprint, inv.QRData,
		inv.Cancelled, inv.CancellationReason, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update invoice compliance: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetComplianceStatus devuelve solo los campos de estado (consulta ligera
// para sondeo desde el frontend).
func (r *InvoiceRepo) GetComplianceStatus(ctx context.Context, id string) (*entity.Invoice, error) {
	query := `
		SELECT id, company_id, status, confirmation_csv, sent_at, verified_at,
		       last_error, chain_fingerprint, qr_data
		FROM invoices WHERE id = $1`
	var inv entity.Invoice
	err := querierFrom(ctx, r.pool).QueryRow(ctx, query, id).Scan(
		&inv.ID, &inv.CompanyID, &inv.Status, &inv.ConfirmationCSV,
		&inv.SentAt, &inv.VerifiedAt, &inv.LastError, &inv.ChainFingerprint, &inv.QRData,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get invoice status: %w", err)
	}
	return &inv, nil
}
