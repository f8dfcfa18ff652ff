package aeat

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturia/verifactu-api/internal/domain/entity"
)

func buildTestEnvelope(t *testing.T, records []*entity.Record) []byte {
	t.Helper()
	builder := NewXMLBuilderService()
	payload, err := builder.Build(&EnvelopeContext{
		Company: &entity.Company{Name: "Ferretería Asturiana SL", NIF: "A39200019"},
		Records: records,
	})
	require.NoError(t, err)
	return payload
}

func testAltaRecord() *entity.Record {
	gen, _ := time.Parse(time.RFC3339, "2026-03-15T10:30:00+01:00")
	return &entity.Record{
		Type:             entity.RecordAlta,
		NumSerieFactura:  "FA2026/0042",
		FechaExpedicion:  time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		FechaHoraGen:     gen,
		TipoFactura:      "F1",
		Descripcion:      "Venta de material",
		BaseImponible:    decimal.NewFromFloat(100),
		CuotaTotal:       decimal.NewFromFloat(21),
		ImporteTotal:     decimal.NewFromFloat(121),
		CounterpartyName: "Cliente SL",
		CounterpartyNIF:  "B76365782",
		Huella:           strings.Repeat("a", 64),
		ChainPosition:    1,
	}
}

func TestStructuralValidator_PayloadValido(t *testing.T) {
	payload := buildTestEnvelope(t, []*entity.Record{testAltaRecord()})

	v := NewStructuralValidator()
	violations := v.Validate(payload)
	assert.Empty(t, violations)
}

func TestStructuralValidator_PayloadVacio(t *testing.T) {
	v := NewStructuralValidator()
	violations := v.Validate([]byte("   "))
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], "vacío")
}

func TestStructuralValidator_XMLMalFormado(t *testing.T) {
	v := NewStructuralValidator()
	violations := v.Validate([]byte("<sum:RegFactuSistemaFacturacion><abierto>"))
	require.NotEmpty(t, violations)
	assert.Contains(t, strings.Join(violations, "\n"), "mal formado")
}

func TestStructuralValidator_AmpersandSinEscapar(t *testing.T) {
	payload := buildTestEnvelope(t, []*entity.Record{testAltaRecord()})
	roto := strings.Replace(string(payload), "Venta de material", "Tornillos & Tuercas", 1)

	v := NewStructuralValidator()
	violations := v.Validate([]byte(roto))
	require.NotEmpty(t, violations)
	assert.Contains(t, strings.Join(violations, "\n"), "ampersand")
}

func TestStructuralValidator_EntidadesValidasNoDisparan(t *testing.T) {
	payload := buildTestEnvelope(t, []*entity.Record{func() *entity.Record {
		r := testAltaRecord()
		r.Descripcion = "Tornillos & Tuercas" // el builder escapa a &amp;
		return r
	}()})

	v := NewStructuralValidator()
	assert.Empty(t, v.Validate(payload))
}

func TestStructuralValidator_RaizIncorrecta(t *testing.T) {
	xml := `<sum:OtraCosa xmlns:sum="` + NsSum + `"></sum:OtraCosa>`

	v := NewStructuralValidator()
	violations := v.Validate([]byte(xml))
	joined := strings.Join(violations, "\n")
	assert.Contains(t, joined, "elemento raíz")
}

func TestStructuralValidator_NamespaceIncorrecto(t *testing.T) {
	xml := `<sum:RegFactuSistemaFacturacion xmlns:sum="http://example.com/otro"></sum:RegFactuSistemaFacturacion>`

	v := NewStructuralValidator()
	violations := v.Validate([]byte(xml))
	joined := strings.Join(violations, "\n")
	assert.Contains(t, joined, "namespace")
}

// Un payload con varias carencias debe reportarlas todas de una vez, no solo
// la primera que encuentre.
func TestStructuralValidator_AcumulaTodasLasViolaciones(t *testing.T) {
	xml := `<sum:RegFactuSistemaFacturacion xmlns:sum="` + NsSum + `" xmlns:sum1="` + NsSum1 + `">` +
		`<sum:Cabecera><sum1:ObligadoEmision><sum1:NombreRazon></sum1:NombreRazon><sum1:NIF></sum1:NIF></sum1:ObligadoEmision></sum:Cabecera>` +
		`<sum:RegistroFactura><sum1:RegistroAlta>` +
		`<sum1:IDFactura><sum1:NumSerieFactura></sum1:NumSerieFactura><sum1:FechaExpedicionFactura></sum1:FechaExpedicionFactura></sum1:IDFactura>` +
		`</sum1:RegistroAlta></sum:RegistroFactura>` +
		`</sum:RegFactuSistemaFacturacion>`

	v := NewStructuralValidator()
	violations := v.Validate([]byte(xml))

	joined := strings.Join(violations, "\n")
	assert.Contains(t, joined, "NombreRazon")
	assert.Contains(t, joined, "NIF")
	assert.Contains(t, joined, "NumSerieFactura")
	assert.Contains(t, joined, "FechaExpedicionFactura")
	assert.Contains(t, joined, "Huella")
	assert.Contains(t, joined, "TipoHuella")
	assert.Contains(t, joined, "Encadenamiento")
	assert.Contains(t, joined, "TipoFactura")
	assert.GreaterOrEqual(t, len(violations), 8)
}

func TestStructuralValidator_SinRegistros(t *testing.T) {
	xml := `<sum:RegFactuSistemaFacturacion xmlns:sum="` + NsSum + `" xmlns:sum1="` + NsSum1 + `">` +
		`<sum:Cabecera><sum1:ObligadoEmision><sum1:NombreRazon>Empresa</sum1:NombreRazon><sum1:NIF>A39200019</sum1:NIF></sum1:ObligadoEmision></sum:Cabecera>` +
		`</sum:RegFactuSistemaFacturacion>`

	v := NewStructuralValidator()
	violations := v.Validate([]byte(xml))
	assert.Contains(t, strings.Join(violations, "\n"), "ningún RegistroAlta")
}
