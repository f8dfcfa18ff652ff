// Package compliance orquesta el ciclo de cumplimiento VERI*FACTU de una
// factura: construcción del registro, huella y encadenamiento, generación del
// XML, envío a la AEAT y máquina de estados de la factura.
package compliance

import (
	"context"
	"time"

	"github.com/facturia/verifactu-api/internal/domain/entity"
)

// NotificationEvent es el aviso publicado cuando una factura cae en REJECTED
// o ERROR. Los consumidores (panel de operador, alertas) lo leen del canal.
type NotificationEvent struct {
	InvoiceID string    `json:"invoice_id"`
	CompanyID string    `json:"company_id"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason"`
	Details   []string  `json:"details,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier publica eventos de rechazo o error. Las implementaciones no deben
// bloquear el flujo principal; un fallo de notificación se registra y se sigue.
type Notifier interface {
	Notify(ctx context.Context, event NotificationEvent)
}

// ChainTxRunner ejecuta el commit del eslabón y la inserción del registro en
// una misma transacción: o ambos quedan, o ninguno.
type ChainTxRunner interface {
	RunChain(ctx context.Context, fn func(ctx context.Context) error) error
}

// ReceiptGenerator produce el justificante PDF con el QR tributario de una
// factura ya encadenada.
type ReceiptGenerator interface {
	Generate(invoice *entity.Invoice, company *entity.Company, record *entity.Record) ([]byte, error)
}

// Metrics cuenta los desenlaces del motor. La implementación real exporta a
// Prometheus; los tests usan una no-op.
type Metrics interface {
	SubmissionResult(estado string)
	ChainConflict()
	StateTransition(to string)
}

// NopMetrics descarta todas las métricas.
type NopMetrics struct{}

func (NopMetrics) SubmissionResult(string) {}
func (NopMetrics) ChainConflict()          {}
func (NopMetrics) StateTransition(string)  {}
