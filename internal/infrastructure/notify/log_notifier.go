package notify

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/facturia/verifactu-api/internal/application/compliance"
)

var _ compliance.Notifier = (*LogNotifier)(nil)

// LogNotifier escribe los eventos en el log estructurado. Es el notificador
// por defecto cuando Redis no está configurado.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier crea el notificador por log.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify registra el evento con severidad según el estado.
func (n *LogNotifier) Notify(_ context.Context, event compliance.NotificationEvent) {
	n.logger.Warn().
		Str("invoice_id", event.InvoiceID).
		Str("company_id", event.CompanyID).
		Str("status", event.Status).
		Str("reason", event.Reason).
		Str("details", strings.Join(event.Details, "; ")).
		Msg("evento de cumplimiento")
}
