package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/facturia/verifactu-api/internal/domain/entity"
	"github.com/facturia/verifactu-api/internal/domain/repository"
)

var _ repository.SubmissionRepository = (*SubmissionRepo)(nil)

// SubmissionRepo persiste los sobres de envío para auditoría: qué bytes
// viajaron, cuántos intentos hubo y qué respondió la AEAT.
type SubmissionRepo struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository construye el adaptador de auditoría de envíos.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepo {
	return &SubmissionRepo{pool: pool}
}

// Create inserta el sobre de un envío.
func (r *SubmissionRepo) Create(ctx context.Context, s *entity.Submission) error {
	query := `
		INSERT INTO verifactu_submissions
			(id, company_id, invoice_id, record_ids, xml_payload, attempt,
			 submitted_at, http_status, transport_err, estado_envio, csv, authority_errs, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := querierFrom(ctx, r.pool).Exec(ctx, query,
		s.ID, s.CompanyID, s.InvoiceID, s.RecordIDs, s.XMLPayload, s.Attempt,
		s.SubmittedAt, s.HTTPStatus, s.TransportErr, s.EstadoEnvio, s.CSV, s.AuthorityErrs, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// ListByInvoice devuelve los envíos de una factura, el más reciente primero.
func (r *SubmissionRepo) ListByInvoice(ctx context.Context, invoiceID string) ([]*entity.Submission, error) {
	query := `
		SELECT id, company_id, invoice_id, record_ids, xml_payload, attempt,
		       submitted_at, http_status, transport_err, estado_envio, csv, authority_errs, created_at
		FROM verifactu_submissions WHERE invoice_id = $1
		ORDER BY created_at DESC`
	rows, err := querierFrom(ctx, r.pool).Query(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var out []*entity.Submission
	for rows.Next() {
		var s entity.Submission
		if err := rows.Scan(
			&s.ID, &s.CompanyID, &s.InvoiceID, &s.RecordIDs, &s.XMLPayload, &s.Attempt,
			&s.SubmittedAt, &s.HTTPStatus, &s.TransportErr, &s.EstadoEnvio, &s.CSV, &s.AuthorityErrs, &s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}
