package aeat

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/ucarion/c14n"

	"github.com/facturia/verifactu-api/internal/domain/entity"
	"github.com/facturia/verifactu-api/internal/domain/verifactu"
	pkgvf "github.com/facturia/verifactu-api/pkg/verifactu"
)

// XMLBuilderService construye el cuerpo RegFactuSistemaFacturacion de un
// envío: Cabecera + un RegistroAlta/RegistroAnulacion por registro. Devuelve
// la forma canónica (C14N) para que el reenvío idempotente sea byte a byte el
// mismo payload. No muta estado de cadena: las huellas llegan ya calculadas.
type XMLBuilderService struct{}

// NewXMLBuilderService crea el servicio.
func NewXMLBuilderService() *XMLBuilderService {
	return &XMLBuilderService{}
}

// Build genera el []byte del documento de suministro.
func (s *XMLBuilderService) Build(ctx *EnvelopeContext) ([]byte, error) {
	if ctx == nil || ctx.Company == nil {
		return nil, fmt.Errorf("aeat: falta el obligado a emitir en el contexto")
	}
	if len(ctx.Records) == 0 {
		return nil, fmt.Errorf("aeat: el envío debe contener al menos un registro")
	}

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")

	root := xml.StartElement{
		Name: xml.Name{Local: "sum:" + RootElement},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns:sum"}, Value: NsSum},
			{Name: xml.Name{Local: "xmlns:sum1"}, Value: NsSum1},
		},
	}
	if err := enc.EncodeToken(root); err != nil {
		return nil, err
	}

	s.writeCabecera(enc, ctx.Company)

	for _, rec := range ctx.Records {
		if err := s.writeRegistro(enc, ctx.Company, rec); err != nil {
			return nil, err
		}
	}

	if err := enc.EncodeToken(root.End()); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return canonicalize(buf.Bytes())
}

// canonicalize devuelve la forma C14N del documento: la representación
// estable que se guarda en el sobre y se reenvía sin recalcular.
func canonicalize(raw []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Entity = map[string]string{}
	out, err := c14n.Canonicalize(dec)
	if err != nil {
		return nil, fmt.Errorf("aeat: canonicalizar XML: %w", err)
	}
	return out, nil
}

// writeCabecera escribe sum:Cabecera con el obligado a emitir.
func (s *XMLBuilderService) writeCabecera(enc *xml.Encoder, company *entity.Company) {
	open(enc, "sum:Cabecera")
	writeEl(enc, "sum1:IDVersion", pkgvf.IDVersion)
	open(enc, "sum1:ObligadoEmision")
	writeEl(enc, "sum1:NombreRazon", company.Name)
	writeEl(enc, "sum1:NIF", company.NIF)
	closeEl(enc, "sum1:ObligadoEmision")
	closeEl(enc, "sum:Cabecera")
}

// writeRegistro despacha por tipo de registro. Exhaustivo: un tipo nuevo no
// puede serializarse sin sus campos obligatorios.
func (s *XMLBuilderService) writeRegistro(enc *xml.Encoder, company *entity.Company, rec *entity.Record) error {
	open(enc, "sum:RegistroFactura")
	defer closeEl(enc, "sum:RegistroFactura")

	switch rec.Type {
	case entity.RecordAlta, entity.RecordModificacion:
		return s.writeRegistroAlta(enc, company, rec)
	case entity.RecordBaja:
		return s.writeRegistroAnulacion(enc, company, rec)
	default:
		return fmt.Errorf("aeat: tipo de registro desconocido %q", rec.Type)
	}
}

func (s *XMLBuilderService) writeRegistroAlta(enc *xml.Encoder, company *entity.Company, rec *entity.Record) error {
	open(enc, "sum1:RegistroAlta")
	writeEl(enc, "sum1:IDVersion", pkgvf.IDVersion)

	s.writeIDFactura(enc, company, rec)

	// Subsanación: una MODIFICACION es un alta subsanada que referencia al
	// registro original.
	if rec.Type == entity.RecordModificacion {
		writeEl(enc, "sum1:Subsanacion", "S")
		if rec.RefExterna != "" {
			writeEl(enc, "sum1:RefExterna", rec.RefExterna)
		}
	}

	writeEl(enc, "sum1:TipoFactura", rec.TipoFactura)
	if rec.Descripcion != "" {
		writeEl(enc, "sum1:DescripcionOperacion", rec.Descripcion)
	}

	s.writeDestinatarios(enc, rec)

	writeEl(enc, "sum1:CuotaTotal", formatDecimal(rec.CuotaTotal))
	writeEl(enc, "sum1:ImporteTotal", formatDecimal(rec.ImporteTotal))

	s.writeEncadenamiento(enc, rec)
	s.writeSistemaInformatico(enc, company)

	writeEl(enc, "sum1:FechaHoraHusoGenRegistro", rec.FechaHoraGen.Format(verifactu.FechaHoraLayout))
	writeEl(enc, "sum1:TipoHuella", pkgvf.TipoHuellaSHA256)
	writeEl(enc, "sum1:Huella", rec.Huella)

	closeEl(enc, "sum1:RegistroAlta")
	return nil
}

func (s *XMLBuilderService) writeRegistroAnulacion(enc *xml.Encoder, company *entity.Company, rec *entity.Record) error {
	open(enc, "sum1:RegistroAnulacion")
	writeEl(enc, "sum1:IDVersion", pkgvf.IDVersion)

	s.writeIDFactura(enc, company, rec)

	if rec.Motivo != "" {
		writeEl(enc, "sum1:MotivoAnulacion", rec.Motivo)
	}

	s.writeEncadenamiento(enc, rec)
	s.writeSistemaInformatico(enc, company)

	writeEl(enc, "sum1:FechaHoraHusoGenRegistro", rec.FechaHoraGen.Format(verifactu.FechaHoraLayout))
	writeEl(enc, "sum1:TipoHuella", pkgvf.TipoHuellaSHA256)
	writeEl(enc, "sum1:Huella", rec.Huella)

	closeEl(enc, "sum1:RegistroAnulacion")
	return nil
}

func (s *XMLBuilderService) writeIDFactura(enc *xml.Encoder, company *entity.Company, rec *entity.Record) {
	open(enc, "sum1:IDFactura")
	writeEl(enc, "sum1:IDEmisorFactura", company.NIF)
	writeEl(enc, "sum1:NumSerieFactura", rec.NumSerieFactura)
	writeEl(enc, "sum1:FechaExpedicionFactura", rec.FechaExpedicion.Format(verifactu.FechaLayout))
	closeEl(enc, "sum1:IDFactura")
}

// writeDestinatarios escribe la contraparte. NIF español si existe; si no,
// IDOtro con país y tipo de documento (solo admisible para no españoles).
func (s *XMLBuilderService) writeDestinatarios(enc *xml.Encoder, rec *entity.Record) {
	if rec.CounterpartyName == "" {
		return // factura simplificada sin destinatario identificado
	}
	open(enc, "sum1:Destinatarios")
	open(enc, "sum1:IDDestinatario")
	writeEl(enc, "sum1:NombreRazon", rec.CounterpartyName)
	if rec.CounterpartyNIF != "" {
		writeEl(enc, "sum1:NIF", rec.CounterpartyNIF)
	} else {
		open(enc, "sum1:IDOtro")
		writeEl(enc, "sum1:CodigoPais", rec.CounterpartyCountry)
		writeEl(enc, "sum1:IDType", rec.CounterpartyIDType)
		writeEl(enc, "sum1:ID", rec.CounterpartyIDNum)
		closeEl(enc, "sum1:IDOtro")
	}
	closeEl(enc, "sum1:IDDestinatario")
	closeEl(enc, "sum1:Destinatarios")
}

func (s *XMLBuilderService) writeEncadenamiento(enc *xml.Encoder, rec *entity.Record) {
	open(enc, "sum1:Encadenamiento")
	if rec.PrimerRegistro() {
		writeEl(enc, "sum1:PrimerRegistro", "S")
	} else {
		open(enc, "sum1:RegistroAnterior")
		writeEl(enc, "sum1:Huella", rec.HuellaAnterior)
		closeEl(enc, "sum1:RegistroAnterior")
	}
	closeEl(enc, "sum1:Encadenamiento")
}

func (s *XMLBuilderService) writeSistemaInformatico(enc *xml.Encoder, company *entity.Company) {
	open(enc, "sum1:SistemaInformatico")
	writeEl(enc, "sum1:NombreRazon", company.Name)
	writeEl(enc, "sum1:NIF", company.NIF)
	writeEl(enc, "sum1:NombreSistemaInformatico", SistemaNombre)
	writeEl(enc, "sum1:IdSistemaInformatico", SistemaID)
	writeEl(enc, "sum1:Version", SistemaVersion)
	writeEl(enc, "sum1:NumeroInstalacion", SistemaInstalacion)
	closeEl(enc, "sum1:SistemaInformatico")
}

// ── helpers de codificación ───────────────────────────────────────────────────

func open(enc *xml.Encoder, local string) {
	_ = enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: local}})
}

func closeEl(enc *xml.Encoder, local string) {
	_ = enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: local}})
}

func writeEl(enc *xml.Encoder, local, value string) {
	open(enc, local)
	_ = enc.EncodeToken(xml.CharData(value))
	closeEl(enc, local)
}

func formatDecimal(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}
