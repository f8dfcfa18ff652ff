// Package verifactu: cálculo de la huella de los registros de facturación
// VERI*FACTU. Algoritmo: SHA-256 en hexadecimal minúsculas sobre una cadena
// canónica de campos en orden estricto, unidos por "|", con la huella del
// registro anterior como último campo. El orden y la presencia de campos por
// tipo de registro son contrato externo de la AEAT y no se alteran.
package verifactu

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/facturia/verifactu-api/internal/domain/entity"
	pkgvf "github.com/facturia/verifactu-api/pkg/verifactu"
)

// Formatos de fecha de la cadena canónica y del XML.
const (
	FechaLayout     = "02-01-2006"                // FechaExpedicionFactura (DD-MM-YYYY)
	FechaHoraLayout = "2006-01-02T15:04:05-07:00" // FechaHoraHusoGenRegistro
)

// HuellaParams contiene los datos para calcular la huella en el orden exigido.
// Tipo decide el juego de campos: ALTA usa tipo de factura y totales;
// MODIFICACION/BAJA usan el motivo del registro correctivo.
type HuellaParams struct {
	Tipo            string // entity.RecordAlta | RecordModificacion | RecordBaja
	NIF             string // NIF del obligado a emitir
	NumSerieFactura string
	FechaExpedicion string          // DD-MM-YYYY
	TipoFactura     string          // código L2 (solo ALTA/MODIFICACION)
	CuotaTotal      decimal.Decimal // solo ALTA
	ImporteTotal    decimal.Decimal // solo ALTA
	Motivo          string          // solo MODIFICACION/BAJA
	FechaHoraGen    string          // RFC3339 con huso
	HuellaAnterior  string          // vacío = primer registro de la cadena
}

// HuellaService calcula la huella de los registros de facturación.
type HuellaService struct{}

// NewHuellaService crea el servicio.
func NewHuellaService() *HuellaService {
	return &HuellaService{}
}

// Calculate genera la huella (SHA-256 hex minúsculas) a partir de los
// parámetros. Función pura: mismos campos y misma huella anterior producen
// siempre la misma huella, requisito para la verificación posterior.
func (s *HuellaService) Calculate(p *HuellaParams) (string, error) {
	if p == nil {
		return "", fmt.Errorf("verifactu: HuellaParams es obligatorio")
	}
	if strings.TrimSpace(p.NIF) == "" {
		return "", fmt.Errorf("verifactu: NIF del emisor es obligatorio para la huella")
	}
	if strings.TrimSpace(p.NumSerieFactura) == "" {
		return "", fmt.Errorf("verifactu: NumSerieFactura es obligatorio")
	}
	if p.FechaExpedicion == "" {
		return "", fmt.Errorf("verifactu: FechaExpedicion es obligatoria (DD-MM-YYYY)")
	}
	if p.FechaHoraGen == "" {
		return "", fmt.Errorf("verifactu: FechaHoraGen es obligatoria (RFC3339)")
	}

	fields, err := s.canonicalFields(p)
	if err != nil {
		return "", err
	}
	// La huella anterior cierra siempre la cadena canónica (vacía al inicio).
	fields = append(fields, p.HuellaAnterior)

	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:]), nil
}

// canonicalFields devuelve la lista ordenada de campos según el tipo de
// registro. El switch es exhaustivo: un tipo nuevo no puede pasar en silencio.
func (s *HuellaService) canonicalFields(p *HuellaParams) ([]string, error) {
	switch p.Tipo {
	case entity.RecordAlta:
		if !pkgvf.ValidTipoFactura[p.TipoFactura] {
			return nil, fmt.Errorf("verifactu: TipoFactura %q no admitido en registro de alta", p.TipoFactura)
		}
		return []string{
			strings.TrimSpace(p.NIF),
			strings.TrimSpace(p.NumSerieFactura),
			p.FechaExpedicion,
			p.TipoFactura,
			formatAmount(p.CuotaTotal),
			formatAmount(p.ImporteTotal),
			p.FechaHoraGen,
		}, nil
	case entity.RecordModificacion, entity.RecordBaja:
		if strings.TrimSpace(p.Motivo) == "" {
			return nil, fmt.Errorf("verifactu: Motivo es obligatorio en registros de %s", strings.ToLower(p.Tipo))
		}
		return []string{
			strings.TrimSpace(p.NIF),
			strings.TrimSpace(p.NumSerieFactura),
			p.FechaExpedicion,
			strings.TrimSpace(p.Motivo),
			p.FechaHoraGen,
		}, nil
	default:
		return nil, fmt.Errorf("verifactu: tipo de registro desconocido %q", p.Tipo)
	}
}

// formatAmount formatea montos para la cadena canónica: sin separador de
// miles, punto decimal, 2 decimales (ej: 1500.00). El formato es contrato,
// no cosmética: la huella se calcula sobre las cadenas formateadas.
func formatAmount(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}
