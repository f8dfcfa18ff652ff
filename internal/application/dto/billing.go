package dto

import "time"

// CreateCompanyRequest alta de un obligado tributario emisor.
type CreateCompanyRequest struct {
	Name    string `json:"name"`
	NIF     string `json:"nif"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
}

// CreateCustomerRequest alta de una contraparte (destinatario).
// Para contrapartes extranjeras NIF va vacío y se rellenan country_code,
// id_type (código L7) e id_number.
type CreateCustomerRequest struct {
	Name        string `json:"name"`
	NIF         string `json:"nif"`
	CountryCode string `json:"country_code"`
	IDType      string `json:"id_type"`
	IDNumber    string `json:"id_number"`
	Email       string `json:"email"`
	Address     string `json:"address"`
}

// CreateInvoiceRequest cabecera de factura. Los importes viajan como string
// para no perder precisión decimal en el JSON.
type CreateInvoiceRequest struct {
	CustomerID  string `json:"customer_id"`
	Series      string `json:"series"`
	Number      string `json:"number"`
	Date        string `json:"date"` // YYYY-MM-DD
	NetTotal    string `json:"net_total"`
	TaxTotal    string `json:"tax_total"`
	GrandTotal  string `json:"grand_total"`
	TipoFactura string `json:"tipo_factura"` // F1, F2, R1..R5
}

// CancelInvoiceRequest anulación de una factura ya registrada.
type CancelInvoiceRequest struct {
	Motivo string `json:"motivo"`
}

// AmendInvoiceRequest subsanación de una factura ya presentada.
type AmendInvoiceRequest struct {
	Motivo string `json:"motivo"`
}

// ComplianceStatusResponse estado de cumplimiento de una factura.
type ComplianceStatusResponse struct {
	InvoiceID          string     `json:"invoice_id"`
	Status             string     `json:"status"`
	ConfirmationCSV    string     `json:"confirmation_csv,omitempty"`
	SentAt             *time.Time `json:"sent_at,omitempty"`
	VerifiedAt         *time.Time `json:"verified_at,omitempty"`
	LastError          string     `json:"last_error,omitempty"`
	ChainFingerprint   string     `json:"chain_fingerprint,omitempty"`
	QRData             string     `json:"qr_data,omitempty"`
	Cancelled          bool       `json:"cancelled"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`

	Records     []RecordSummary     `json:"records,omitempty"`
	Submissions []SubmissionSummary `json:"submissions,omitempty"`
}

// RecordSummary registro de facturación asociado a la factura.
type RecordSummary struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Huella         string    `json:"huella"`
	HuellaAnterior string    `json:"huella_anterior,omitempty"`
	ChainPosition  int64     `json:"chain_position"`
	FechaHoraGen   time.Time `json:"fecha_hora_gen"`
}

// SubmissionSummary intento de envío a la AEAT (auditoría).
type SubmissionSummary struct {
	ID            string    `json:"id"`
	Attempt       int       `json:"attempt"`
	SubmittedAt   time.Time `json:"submitted_at"`
	HTTPStatus    int       `json:"http_status"`
	TransportErr  string    `json:"transport_err,omitempty"`
	EstadoEnvio   string    `json:"estado_envio,omitempty"`
	CSV           string    `json:"csv,omitempty"`
	AuthorityErrs string    `json:"authority_errs,omitempty"`
}
