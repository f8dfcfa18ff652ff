package repository

import (
	"context"

	"github.com/facturia/verifactu-api/internal/domain/entity"
)

// SubmissionRepository persiste los sobres de envío: una fila por intento de
// transporte, para auditoría (los reintentos reutilizan el mismo payload).
type SubmissionRepository interface {
	Create(ctx context.Context, submission *entity.Submission) error
	ListByInvoice(ctx context.Context, invoiceID string) ([]*entity.Submission, error)
}
