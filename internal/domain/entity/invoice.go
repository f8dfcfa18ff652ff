package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Estados de cumplimiento VERI*FACTU de una factura. Las transiciones son
// append-only: nunca se vuelve a un estado anterior salvo ERROR -> PENDING
// mediante reintento manual (ver CanTransition).
const (
	StatusPending  = "PENDING"  // registro pendiente de huella/encadenamiento
	StatusSigned   = "SIGNED"   // huella calculada y eslabón comprometido; XML generado
	StatusSent     = "SENT"     // entregado a la AEAT sin error de transporte
	StatusVerified = "VERIFIED" // AEAT confirmó con CSV; terminal
	StatusRejected = "REJECTED" // rechazo de negocio de la AEAT; terminal
	StatusError    = "ERROR"    // fallo irrecuperable en cualquier paso
)

// CanTransition indica si el paso from -> to es válido en la máquina de estados.
// ERROR es alcanzable desde cualquier estado no terminal; ERROR -> PENDING solo
// por reintento manual explícito.
func CanTransition(from, to string) bool {
	switch to {
	case StatusError:
		return from != StatusVerified && from != StatusRejected
	case StatusPending:
		return from == StatusError || from == ""
	case StatusSigned:
		return from == StatusPending
	case StatusSent:
		return from == StatusSigned
	case StatusVerified, StatusRejected:
		return from == StatusSent
	}
	return false
}

// IsTerminal indica si el estado no admite más procesamiento automático.
func IsTerminal(status string) bool {
	return status == StatusVerified || status == StatusRejected
}

// Invoice representa la cabecera de una factura con su estado de cumplimiento.
type Invoice struct {
	ID          string
	CompanyID   string
	CustomerID  string
	Series      string // serie de facturación (ej: "FACT-")
	Number      string
	Date        time.Time
	NetTotal    decimal.Decimal // base imponible
	TaxTotal    decimal.Decimal // cuota total (IVA)
	GrandTotal  decimal.Decimal // importe total
	TipoFactura string          // código L2 (F1, F2, R1..R5)

	// Estado de cumplimiento VERI*FACTU, escrito por el motor.
	Status           string
	ConfirmationCSV  string // CSV devuelto por la AEAT al aceptar
	SentAt           *time.Time
	VerifiedAt       *time.Time
	LastError        string
	ChainFingerprint string // huella del registro de alta de esta factura
	QRData           string // contenido del QR tributario

	Cancelled          bool
	CancellationReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SeriesNumber devuelve serie+número tal y como viaja en NumSerieFactura.
func (i *Invoice) SeriesNumber() string {
	return i.Series + i.Number
}
