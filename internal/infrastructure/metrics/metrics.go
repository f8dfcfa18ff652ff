// Package metrics expone los contadores Prometheus del motor de cumplimiento.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/facturia/verifactu-api/internal/application/compliance"
)

var _ compliance.Metrics = (*Metrics)(nil)

// Metrics agrupa los contadores del motor VERI*FACTU.
type Metrics struct {
	Submissions      *prometheus.CounterVec
	ChainConflicts   prometheus.Counter
	StateTransitions *prometheus.CounterVec
}

// New crea y registra los contadores en el registro por defecto.
func New() *Metrics {
	return &Metrics{
		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "verifactu_submissions_total",
			Help: "Envíos a la AEAT por desenlace (Correcto, Incorrecto, transporte...)",
		}, []string{"estado"}),
		ChainConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "verifactu_chain_conflicts_total",
			Help: "Commits de cadena perdidos por CAS y reconstruidos",
		}),
		StateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "verifactu_state_transitions_total",
			Help: "Transiciones de estado de cumplimiento de facturas",
		}, []string{"to"}),
	}
}

// SubmissionResult cuenta el desenlace de un envío.
func (m *Metrics) SubmissionResult(estado string) {
	m.Submissions.WithLabelValues(estado).Inc()
}

// ChainConflict cuenta un CAS perdido.
func (m *Metrics) ChainConflict() {
	m.ChainConflicts.Inc()
}

// StateTransition cuenta una transición de estado.
func (m *Metrics) StateTransition(to string) {
	m.StateTransitions.WithLabelValues(to).Inc()
}
