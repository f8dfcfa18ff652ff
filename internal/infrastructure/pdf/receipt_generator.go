// Package pdf genera el justificante gráfico de un registro de facturación
// VERI*FACTU: identificación del emisor y la factura, huella encadenada, CSV
// de la AEAT (si ya hay confirmación), código QR de cotejo y la leyenda
// exigida por la Orden HAC/1177/2024.
package pdf

import (
	"fmt"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"

	"github.com/facturia/verifactu-api/internal/application/compliance"
	"github.com/facturia/verifactu-api/internal/domain/entity"
)

var (
	colorPrimary = &props.Color{Red: 140, Green: 21, Blue: 21}
	colorGray    = &props.Color{Red: 100, Green: 100, Blue: 100}
)

var _ compliance.ReceiptGenerator = (*MarotoReceiptGenerator)(nil)

// MarotoReceiptGenerator implementa compliance.ReceiptGenerator usando Maroto v2.
type MarotoReceiptGenerator struct{}

// NewMarotoReceiptGenerator construye el generador.
func NewMarotoReceiptGenerator() *MarotoReceiptGenerator { return &MarotoReceiptGenerator{} }

// Generate genera el justificante y devuelve sus bytes.
func (g *MarotoReceiptGenerator) Generate(invoice *entity.Invoice, company *entity.Company, record *entity.Record) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(10).WithRightMargin(10).
		WithTopMargin(10).WithBottomMargin(10).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 9}).
		WithTitle("Justificante VERI*FACTU", true).
		WithAuthor(company.Name, true).
		Build()

	m := maroto.New(cfg)

	m.AddRows(headerRow(invoice, company))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.5}))
	m.AddRows(estadoRow(invoice))
	m.AddRows(importesRow(record))
	m.AddRows(line.NewRow(1, props.Line{Color: colorGray, Thickness: 0.3}))
	for _, r := range huellaRows(record) {
		m.AddRows(r)
	}
	m.AddRows(qrRow(invoice))
	m.AddRows(leyendaRow())

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: generar justificante: %w", err)
	}
	return doc.GetBytes(), nil
}

// headerRow: razón social + NIF (izq), número de factura + fecha (der).
func headerRow(invoice *entity.Invoice, company *entity.Company) core.Row {
	return row.New(18).Add(
		col.New(7).Add(
			text.New(company.Name, props.Text{
				Style: fontstyle.Bold, Size: 13, Color: colorPrimary, Top: 1,
			}),
			text.New("NIF: "+company.NIF, props.Text{Size: 9, Top: 9, Color: colorGray}),
		),
		col.New(5).Add(
			text.New("JUSTIFICANTE VERI*FACTU", props.Text{
				Style: fontstyle.Bold, Size: 8, Align: align.Right, Color: colorPrimary, Top: 1,
			}),
			text.New(invoice.SeriesNumber(), props.Text{
				Style: fontstyle.Bold, Size: 12, Align: align.Right, Top: 7,
			}),
			text.New("Fecha: "+invoice.Date.Format("02/01/2006"), props.Text{
				Size: 8, Align: align.Right, Top: 14, Color: colorGray,
			}),
		),
	)
}

// estadoRow: estado de cumplimiento y CSV si la AEAT ya confirmó.
func estadoRow(invoice *entity.Invoice) core.Row {
	csv := invoice.ConfirmationCSV
	if csv == "" {
		csv = "pendiente de confirmación"
	}
	return row.New(12).Add(
		col.New(12).Add(
			text.New("Estado: "+invoice.Status, props.Text{
				Style: fontstyle.Bold, Size: 9, Top: 1,
			}),
			text.New("CSV (código seguro de verificación): "+csv, props.Text{
				Size: 8, Top: 7, Color: colorGray,
			}),
		),
	)
}

// importesRow: importes del registro tal y como viajaron a la AEAT.
func importesRow(record *entity.Record) core.Row {
	return row.New(12).Add(
		col.New(4).Add(
			text.New("Base imponible", props.Text{Style: fontstyle.Bold, Size: 8, Top: 1}),
			text.New(record.BaseImponible.StringFixed(2)+" €", props.Text{Size: 9, Top: 7}),
		),
		col.New(4).Add(
			text.New("Cuota IVA", props.Text{Style: fontstyle.Bold, Size: 8, Top: 1}),
			text.New(record.CuotaTotal.StringFixed(2)+" €", props.Text{Size: 9, Top: 7}),
		),
		col.New(4).Add(
			text.New("Importe total", props.Text{Style: fontstyle.Bold, Size: 8, Top: 1, Color: colorPrimary}),
			text.New(record.ImporteTotal.StringFixed(2)+" €", props.Text{
				Style: fontstyle.Bold, Size: 10, Top: 7, Color: colorPrimary,
			}),
		),
	)
}

// huellaRows: huella del registro y eslabón anterior, partidas para caber.
func huellaRows(record *entity.Record) []core.Row {
	anterior := record.HuellaAnterior
	if anterior == "" {
		anterior = "(primer registro de la cadena)"
	}
	return []core.Row{
		row.New(7).Add(col.New(12).Add(
			text.New("Huella (SHA-256): "+record.Huella, props.Text{Size: 7, Top: 1}),
		)),
		row.New(7).Add(col.New(12).Add(
			text.New("Huella anterior: "+anterior, props.Text{Size: 7, Top: 1, Color: colorGray}),
		)),
		row.New(7).Add(col.New(12).Add(
			text.New(fmt.Sprintf("Posición en la cadena del emisor: %d", record.ChainPosition),
				props.Text{Size: 7, Top: 1, Color: colorGray}),
		)),
	}
}

// qrRow: QR tributario de cotejo en la sede de la AEAT.
func qrRow(invoice *entity.Invoice) core.Row {
	return row.New(40).Add(
		col.New(4),
		col.New(4).Add(code.NewQr(invoice.QRData, props.Rect{
			Center: true, Percent: 90,
		})),
		col.New(4),
	)
}

// leyendaRow: leyenda obligatoria de los sistemas de emisión verificable.
func leyendaRow() core.Row {
	return row.New(10).Add(
		col.New(12).Add(
			text.New("Factura verificable en la sede electrónica de la AEAT", props.Text{
				Style: fontstyle.Bold, Size: 8, Align: align.Center, Top: 2,
			}),
			text.New("VERI*FACTU", props.Text{
				Size: 8, Align: align.Center, Top: 7, Color: colorGray,
			}),
		),
	)
}
