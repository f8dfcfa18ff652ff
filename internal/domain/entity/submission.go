package entity

import "time"

// Submission es el sobre de un intento de transporte hacia la AEAT. Cada
// intento (incluidos los reintentos con el mismo payload) genera una fila
// nueva para auditoría; el payload reenviado es byte a byte el mismo.
type Submission struct {
	ID         string
	CompanyID  string
	InvoiceID  string
	RecordIDs  []string
	XMLPayload string
	Attempt    int // número de intento dentro del envío lógico (1-based)

	SubmittedAt   time.Time
	HTTPStatus    int    // 0 si la conexión no llegó a completarse
	TransportErr  string // error de red/timeout, vacío si hubo respuesta
	EstadoEnvio   string // Correcto | ParcialmenteCorrecto | Incorrecto
	CSV           string // id de confirmación de la AEAT
	AuthorityErrs string // descripciones de error por línea, separadas por "; "

	CreatedAt time.Time
}
