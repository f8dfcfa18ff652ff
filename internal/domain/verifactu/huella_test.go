package verifactu_test

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturia/verifactu-api/internal/domain/entity"
	"github.com/facturia/verifactu-api/internal/domain/verifactu"
)

// ──────────────────────────────────────────────────────────────────────────────
// Vectores de referencia calculados con SHA-256 sobre la cadena canónica.
// Si alguien altera el orden de campos, el separador o el formato de montos,
// estos tests fallan de inmediato: son el canario del encadenamiento.
//
// Cadena alta = NIF|NumSerie|FechaExp|TipoFactura|Cuota|Importe|FechaHoraGen|HuellaAnterior
//   "A39200019|FACT-001|29-11-2025|F1|21.00|121.00|2025-11-29T10:00:00+01:00|"
// ──────────────────────────────────────────────────────────────────────────────

const (
	testNIF = "A39200019"

	// Primera factura del emisor: huella anterior vacía (inicio de cadena).
	huellaF1 = "b062a29ef23b86e5b1209a72cdb5a0aa5eaa20e46a992a6fc7cb9fbccf9da488"
	// Segunda factura encadenada a F1.
	huellaF2 = "8b79bab0eb580488bac4f8f59df1c5d7fbd182deca82165f689f83170a231cf7"
	// Anulación de FACT-001 encadenada a F2.
	huellaBaja = "b8723575705e6ee8c2011d890e12d94a5c8ab855cb2deeec0f8a0ecf078cfe56"
)

func altaParams() *verifactu.HuellaParams {
	return &verifactu.HuellaParams{
		Tipo:            entity.RecordAlta,
		NIF:             testNIF,
		NumSerieFactura: "FACT-001",
		FechaExpedicion: "29-11-2025",
		TipoFactura:     "F1",
		CuotaTotal:      decimal.NewFromFloat(21),
		ImporteTotal:    decimal.NewFromFloat(121),
		FechaHoraGen:    "2025-11-29T10:00:00+01:00",
		HuellaAnterior:  "",
	}
}

func TestCalculate_VectorAltaPrimerRegistro(t *testing.T) {
	svc := verifactu.NewHuellaService()

	huella, err := svc.Calculate(altaParams())
	require.NoError(t, err)
	assert.Equal(t, huellaF1, huella,
		"la huella del primer registro debe coincidir con el vector SHA-256 de referencia")
}

func TestCalculate_VectorAltaEncadenada(t *testing.T) {
	svc := verifactu.NewHuellaService()

	p := &verifactu.HuellaParams{
		Tipo:            entity.RecordAlta,
		NIF:             testNIF,
		NumSerieFactura: "FACT-002",
		FechaExpedicion: "30-11-2025",
		TipoFactura:     "F1",
		CuotaTotal:      decimal.NewFromFloat(4.20),
		ImporteTotal:    decimal.NewFromFloat(24.20),
		FechaHoraGen:    "2025-11-30T09:30:00+01:00",
		HuellaAnterior:  huellaF1,
	}
	huella, err := svc.Calculate(p)
	require.NoError(t, err)
	assert.Equal(t, huellaF2, huella)
	assert.NotEqual(t, huellaF1, huella, "registros distintos deben producir huellas distintas")
}

func TestCalculate_VectorBaja(t *testing.T) {
	svc := verifactu.NewHuellaService()

	p := &verifactu.HuellaParams{
		Tipo:            entity.RecordBaja,
		NIF:             testNIF,
		NumSerieFactura: "FACT-001",
		FechaExpedicion: "29-11-2025",
		Motivo:          "Factura emitida por error",
		FechaHoraGen:    "2025-11-30T11:00:00+01:00",
		HuellaAnterior:  huellaF2,
	}
	huella, err := svc.Calculate(p)
	require.NoError(t, err)
	assert.Equal(t, huellaBaja, huella)
}

// TestCalculate_Determinista verifica que el cálculo es una función pura:
// mismos campos y misma huella anterior producen siempre la misma huella.
func TestCalculate_Determinista(t *testing.T) {
	svc := verifactu.NewHuellaService()

	h1, err1 := svc.Calculate(altaParams())
	h2, err2 := svc.Calculate(altaParams())

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, h1, h2)
}

// TestCalculate_HuellaAnteriorAfecta verifica que el eslabón previo cambia la
// huella resultante: el encadenamiento forma parte del contenido firmado.
func TestCalculate_HuellaAnteriorAfecta(t *testing.T) {
	svc := verifactu.NewHuellaService()

	p1 := altaParams()
	p2 := altaParams()
	p2.HuellaAnterior = huellaF1

	h1, _ := svc.Calculate(p1)
	h2, _ := svc.Calculate(p2)

	assert.NotEqual(t, h1, h2)
}

func TestCalculate_FormatoMontosEsContrato(t *testing.T) {
	svc := verifactu.NewHuellaService()

	// 21 y 21.004 redondean ambos a "21.00": misma cadena, misma huella.
	p1 := altaParams()
	p2 := altaParams()
	p2.CuotaTotal = decimal.NewFromFloat(21.004)

	h1, _ := svc.Calculate(p1)
	h2, _ := svc.Calculate(p2)
	assert.Equal(t, h1, h2, "el redondeo a 2 decimales forma parte del contrato de la huella")
}

func TestCalculate_LongitudYMinusculas(t *testing.T) {
	svc := verifactu.NewHuellaService()
	huella, err := svc.Calculate(altaParams())
	require.NoError(t, err)
	assert.Len(t, huella, 64, "SHA-256 en hex son 64 caracteres")
	assert.Equal(t, strings.ToLower(huella), huella, "la huella viaja en minúsculas")
	assert.Regexp(t, "^[0-9a-f]{64}$", huella)
}

// ── Errores de validación ─────────────────────────────────────────────────────

func TestCalculate_ErrorSiNilParams(t *testing.T) {
	svc := verifactu.NewHuellaService()
	_, err := svc.Calculate(nil)
	assert.Error(t, err)
}

func TestCalculate_ErrorSiNIFVacio(t *testing.T) {
	svc := verifactu.NewHuellaService()
	p := altaParams()
	p.NIF = "  "
	_, err := svc.Calculate(p)
	assert.Error(t, err)
}

func TestCalculate_ErrorSiTipoDesconocido(t *testing.T) {
	svc := verifactu.NewHuellaService()
	p := altaParams()
	p.Tipo = "SUSTITUCION"
	_, err := svc.Calculate(p)
	assert.Error(t, err, "un tipo de registro nuevo no puede pasar en silencio")
}

func TestCalculate_ErrorSiBajaSinMotivo(t *testing.T) {
	svc := verifactu.NewHuellaService()
	p := altaParams()
	p.Tipo = entity.RecordBaja
	p.Motivo = ""
	_, err := svc.Calculate(p)
	assert.Error(t, err)
}

func TestCalculate_ErrorSiTipoFacturaInvalido(t *testing.T) {
	svc := verifactu.NewHuellaService()
	p := altaParams()
	p.TipoFactura = "F9"
	_, err := svc.Calculate(p)
	assert.Error(t, err)
}
