package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tipos de registro de facturación VERI*FACTU.
const (
	RecordAlta         = "ALTA"         // registro de alta (factura nueva)
	RecordModificacion = "MODIFICACION" // subsanación de un registro previo
	RecordBaja         = "BAJA"         // anulación
)

// Record es un registro de facturación inmutable: una vez calculada su huella
// no se edita nunca; cualquier corrección es un registro nuevo (MODIFICACION o
// BAJA) que referencia al original.
type Record struct {
	ID        string
	CompanyID string
	InvoiceID string
	Type      string // RecordAlta | RecordModificacion | RecordBaja

	NumSerieFactura string
	FechaExpedicion time.Time
	FechaHoraGen    time.Time // FechaHoraHusoGenRegistro; fijada al construir
	TipoFactura     string    // código L2; solo ALTA/MODIFICACION
	Descripcion     string

	BaseImponible decimal.Decimal
	CuotaTotal    decimal.Decimal
	ImporteTotal  decimal.Decimal

	// Contraparte (Destinatario). NIF vacío solo para extranjeros.
	CounterpartyName    string
	CounterpartyNIF     string
	CounterpartyCountry string
	CounterpartyIDType  string
	CounterpartyIDNum   string

	Motivo     string // obligatorio en MODIFICACION y BAJA
	RefExterna string // id del registro original (MODIFICACION)

	HuellaAnterior string // eslabón previo del emisor; vacío = primer registro
	Huella         string // huella propia (SHA-256, hex minúsculas)
	ChainPosition  int64  // posición en la cadena del emisor (1-based)

	CreatedAt time.Time
}

// PrimerRegistro indica si este registro abre la cadena de su emisor.
func (r *Record) PrimerRegistro() bool {
	return r.HuellaAnterior == ""
}
