// Taxonomía de errores del motor de cumplimiento VERI*FACTU. Cada categoría
// tiene una política de propagación distinta (ver orquestador): validación y
// conflicto de cadena se reintentan localmente, transporte se reintenta con
// backoff, rechazo y parseo son terminales, certificado es fatal hasta que un
// operador lo sustituya.
package verifactu

import (
	"errors"
	"fmt"
	"strings"
)

// ErrChainConflict señala un compare-and-swap perdido sobre el eslabón del
// emisor: la huella anterior leída quedó obsoleta y el registro debe
// reconstruirse contra el eslabón fresco.
var ErrChainConflict = errors.New("verifactu: huella anterior obsoleta, reconstruir registro contra el eslabón actual")

// FieldError es un problema de validación en un campo concreto.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError acumula todos los campos inválidos de una factura para
// reportarlos de una vez (nunca se corta en el primero).
type ValidationError struct {
	Fields []FieldError
}

// Add registra un problema de campo.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// HasErrors indica si se acumuló algún problema.
func (e *ValidationError) HasErrors() bool { return len(e.Fields) > 0 }

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "verifactu: factura inválida"
	}
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "verifactu: factura inválida: " + strings.Join(parts, "; ")
}

// TransportError es un fallo de red, timeout o 5xx tras agotar los reintentos.
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("verifactu: transporte fallido tras %d intentos: %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectionLine es una línea de error devuelta por la AEAT.
type RejectionLine struct {
	Code        string
	Description string
}

// AuthorityRejection es un rechazo de negocio bien formado de la AEAT:
// terminal, exige un registro correctivo nuevo, nunca un reenvío.
type AuthorityRejection struct {
	EstadoEnvio string
	CSV         string
	Lines       []RejectionLine
}

func (e *AuthorityRejection) Error() string {
	if len(e.Lines) == 0 {
		return "verifactu: rechazo AEAT (" + e.EstadoEnvio + ")"
	}
	parts := make([]string, len(e.Lines))
	for i, l := range e.Lines {
		if l.Code != "" {
			parts[i] = "[" + l.Code + "] " + l.Description
		} else {
			parts[i] = l.Description
		}
	}
	return "verifactu: rechazo AEAT (" + e.EstadoEnvio + "): " + strings.Join(parts, "; ")
}

// Descriptions devuelve las descripciones de rechazo tal cual llegaron.
func (e *AuthorityRejection) Descriptions() []string {
	out := make([]string, len(e.Lines))
	for i, l := range e.Lines {
		out[i] = l.Description
	}
	return out
}

// ParseError es una respuesta de la AEAT que no se pudo interpretar; se trata
// como estado error, nunca se ignora en silencio.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("verifactu: respuesta AEAT no interpretable: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// CertificateError cubre certificado inválido, ilegible, caducado o un fallo
// de pinning del certificado del servidor.
type CertificateError struct {
	Reason string
	Err    error
}

func (e *CertificateError) Error() string {
	if e.Err != nil {
		return "verifactu: certificado: " + e.Reason + ": " + e.Err.Error()
	}
	return "verifactu: certificado: " + e.Reason
}

func (e *CertificateError) Unwrap() error { return e.Err }
