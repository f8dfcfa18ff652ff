package compliance

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/facturia/verifactu-api/internal/domain/entity"
	"github.com/facturia/verifactu-api/internal/domain/verifactu"
	pkgvf "github.com/facturia/verifactu-api/pkg/verifactu"
)

// RecordBuilder construye registros de facturación a partir de una factura ya
// persistida. Valida acumulando: el resultado es todos los problemas de la
// factura de una vez, nunca solo el primero.
type RecordBuilder struct {
	now func() time.Time // inyectable en tests
}

// NewRecordBuilder crea el constructor de registros.
func NewRecordBuilder() *RecordBuilder {
	return &RecordBuilder{now: time.Now}
}

// BuildAlta construye un registro de ALTA para la factura. El registro sale
// sin huella ni posición: eso lo fija el ChainService al comprometer el
// eslabón.
func (b *RecordBuilder) BuildAlta(invoice *entity.Invoice, company *entity.Company, customer *entity.Customer) (*entity.Record, error) {
	verr := &verifactu.ValidationError{}

	b.validateCommon(verr, invoice, company)

	if invoice.TipoFactura == "" {
		verr.Add("tipo_factura", "es obligatorio en un registro de alta")
	} else if !pkgvf.ValidTipoFactura[invoice.TipoFactura] {
		verr.Add("tipo_factura", fmt.Sprintf("código %q no admitido (F1, F2, R1..R5)", invoice.TipoFactura))
	}

	b.validateTotals(verr, invoice)
	b.validateCounterparty(verr, invoice, customer)

	if verr.HasErrors() {
		return nil, verr
	}

	rec := &entity.Record{
		ID:              uuid.NewString(),
		CompanyID:       invoice.CompanyID,
		InvoiceID:       invoice.ID,
		Type:            entity.RecordAlta,
		NumSerieFactura: invoice.SeriesNumber(),
		FechaExpedicion: invoice.Date,
		FechaHoraGen:    b.now(),
		TipoFactura:     invoice.TipoFactura,
		Descripcion:     fmt.Sprintf("Factura %s", invoice.SeriesNumber()),
		BaseImponible:   invoice.NetTotal,
		CuotaTotal:      invoice.TaxTotal,
		ImporteTotal:    invoice.GrandTotal,
		CreatedAt:       b.now(),
	}
	if customer != nil {
		rec.CounterpartyName = customer.Name
		rec.CounterpartyNIF = customer.NIF
		rec.CounterpartyCountry = customer.CountryCode
		rec.CounterpartyIDType = customer.IDType
		rec.CounterpartyIDNum = customer.IDNumber
	}
	return rec, nil
}

// BuildModificacion construye un registro de subsanación referenciando al
// registro original. Motivo es obligatorio.
func (b *RecordBuilder) BuildModificacion(invoice *entity.Invoice, company *entity.Company, customer *entity.Customer, original *entity.Record, motivo string) (*entity.Record, error) {
	verr := &verifactu.ValidationError{}

	b.validateCommon(verr, invoice, company)
	if strings.TrimSpace(motivo) == "" {
		verr.Add("motivo", "es obligatorio en una subsanación")
	}
	if original == nil {
		verr.Add("registro_original", "una subsanación debe referenciar al registro original")
	}
	if invoice.TipoFactura != "" && !pkgvf.ValidTipoFactura[invoice.TipoFactura] {
		verr.Add("tipo_factura", fmt.Sprintf("código %q no admitido", invoice.TipoFactura))
	}
	b.validateTotals(verr, invoice)

	if verr.HasErrors() {
		return nil, verr
	}

	rec := &entity.Record{
		ID:              uuid.NewString(),
		CompanyID:       invoice.CompanyID,
		InvoiceID:       invoice.ID,
		Type:            entity.RecordModificacion,
		NumSerieFactura: invoice.SeriesNumber(),
		FechaExpedicion: invoice.Date,
		FechaHoraGen:    b.now(),
		TipoFactura:     invoice.TipoFactura,
		Descripcion:     fmt.Sprintf("Subsanación de %s", original.NumSerieFactura),
		BaseImponible:   invoice.NetTotal,
		CuotaTotal:      invoice.TaxTotal,
		ImporteTotal:    invoice.GrandTotal,
		Motivo:          motivo,
		RefExterna:      original.ID,
		CreatedAt:       b.now(),
	}
	if customer != nil {
		rec.CounterpartyName = customer.Name
		rec.CounterpartyNIF = customer.NIF
		rec.CounterpartyCountry = customer.CountryCode
		rec.CounterpartyIDType = customer.IDType
		rec.CounterpartyIDNum = customer.IDNumber
	}
	return rec, nil
}

// BuildBaja construye un registro de anulación. La factura no se borra nunca:
// la baja es un registro más de la cadena.
func (b *RecordBuilder) BuildBaja(invoice *entity.Invoice, company *entity.Company, motivo string) (*entity.Record, error) {
	verr := &verifactu.ValidationError{}

	b.validateCommon(verr, invoice, company)
	if strings.TrimSpace(motivo) == "" {
		verr.Add("motivo", "es obligatorio en una anulación")
	}

	if verr.HasErrors() {
		return nil, verr
	}

	return &entity.Record{
		ID:              uuid.NewString(),
		CompanyID:       invoice.CompanyID,
		InvoiceID:       invoice.ID,
		Type:            entity.RecordBaja,
		NumSerieFactura: invoice.SeriesNumber(),
		FechaExpedicion: invoice.Date,
		FechaHoraGen:    b.now(),
		Motivo:          motivo,
		Descripcion:     fmt.Sprintf("Anulación de %s", invoice.SeriesNumber()),
		CreatedAt:       b.now(),
	}, nil
}

// validateCommon comprueba los campos presentes en todo tipo de registro.
func (b *RecordBuilder) validateCommon(verr *verifactu.ValidationError, invoice *entity.Invoice, company *entity.Company) {
	if invoice == nil {
		verr.Add("factura", "es obligatoria")
		return
	}
	if company == nil {
		verr.Add("emisor", "es obligatorio")
	} else {
		if strings.TrimSpace(company.Name) == "" {
			verr.Add("emisor.nombre", "es obligatorio")
		}
		if err := pkgvf.ValidateNIF(company.NIF); err != nil {
			verr.Add("emisor.nif", err.Error())
		}
	}
	if strings.TrimSpace(invoice.Series) == "" {
		verr.Add("serie", "es obligatoria")
	}
	if strings.TrimSpace(invoice.Number) == "" {
		verr.Add("numero", "es obligatorio")
	}
	if invoice.Date.IsZero() {
		verr.Add("fecha_expedicion", "es obligatoria")
	} else if invoice.Date.After(b.now().AddDate(0, 0, 1)) {
		verr.Add("fecha_expedicion", "no puede estar en el futuro")
	}
}

// validateTotals exige coherencia aritmética: base + cuota = importe total,
// comparado a 2 decimales (la resolución del suministro).
func (b *RecordBuilder) validateTotals(verr *verifactu.ValidationError, invoice *entity.Invoice) {
	if invoice == nil {
		return
	}
	if invoice.GrandTotal.LessThanOrEqual(decimal.Zero) && !invoice.Cancelled {
		verr.Add("importe_total", "debe ser mayor que cero")
	}
	sum := invoice.NetTotal.Add(invoice.TaxTotal).Round(2)
	if !sum.Equal(invoice.GrandTotal.Round(2)) {
		verr.Add("importe_total", fmt.Sprintf(
			"base (%s) + cuota (%s) no cuadra con el total (%s)",
			invoice.NetTotal.StringFixed(2), invoice.TaxTotal.StringFixed(2), invoice.GrandTotal.StringFixed(2)))
	}
}

// validateCounterparty aplica las reglas del destinatario: una factura
// completa (F1, R1..R4) exige contraparte identificada; la simplificada (F2,
// R5) puede ir sin destinatario.
func (b *RecordBuilder) validateCounterparty(verr *verifactu.ValidationError, invoice *entity.Invoice, customer *entity.Customer) {
	if invoice == nil {
		return
	}
	simplified := invoice.TipoFactura == pkgvf.TipoFacturaSimplificada ||
		invoice.TipoFactura == pkgvf.TipoFacturaR5
	if simplified {
		return
	}
	if customer == nil || strings.TrimSpace(customer.Name) == "" {
		verr.Add("destinatario", "una factura completa exige destinatario identificado")
		return
	}
	if customer.NIF != "" {
		if err := pkgvf.ValidateNIF(customer.NIF); err != nil {
			verr.Add("destinatario.nif", err.Error())
		}
		return
	}
	// Contraparte extranjera: necesita país, tipo de documento y número.
	if customer.CountryCode == "" || customer.CountryCode == pkgvf.CountryES {
		verr.Add("destinatario.nif", "contraparte española sin NIF")
		return
	}
	if customer.IDType == "" || customer.IDNumber == "" {
		verr.Add("destinatario.id_otro", "contraparte extranjera exige tipo y número de documento")
	}
}
