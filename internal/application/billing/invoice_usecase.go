package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/facturia/verifactu-api/internal/application/dto"
	"github.com/facturia/verifactu-api/internal/domain"
	"github.com/facturia/verifactu-api/internal/domain/entity"
	"github.com/facturia/verifactu-api/internal/domain/repository"
	pkgvf "github.com/facturia/verifactu-api/pkg/verifactu"
)

// dateLayout formato de fecha de expedición en la API.
const dateLayout = "2006-01-02"

// InvoiceUseCase alta y consulta de facturas con su estado de cumplimiento.
type InvoiceUseCase struct {
	invoiceRepo    repository.InvoiceRepository
	customerRepo   repository.CustomerRepository
	recordRepo     repository.RecordRepository
	submissionRepo repository.SubmissionRepository
}

// NewInvoiceUseCase construye el caso de uso.
func NewInvoiceUseCase(
	invoiceRepo repository.InvoiceRepository,
	customerRepo repository.CustomerRepository,
	recordRepo repository.RecordRepository,
	submissionRepo repository.SubmissionRepository,
) *InvoiceUseCase {
	return &InvoiceUseCase{
		invoiceRepo:    invoiceRepo,
		customerRepo:   customerRepo,
		recordRepo:     recordRepo,
		submissionRepo: submissionRepo,
	}
}

// Create registra la cabecera de una factura en estado PENDING. El motor de
// cumplimiento la encadena y envía después, fuera del ciclo HTTP.
func (uc *InvoiceUseCase) Create(ctx context.Context, companyID string, in dto.CreateInvoiceRequest) (*entity.Invoice, error) {
	if strings.TrimSpace(in.Series) == "" || strings.TrimSpace(in.Number) == "" {
		return nil, fmt.Errorf("serie y número requeridos: %w", domain.ErrInvalidInput)
	}
	if !pkgvf.ValidTipoFactura[in.TipoFactura] {
		return nil, fmt.Errorf("tipo de factura %q fuera del catálogo L2: %w", in.TipoFactura, domain.ErrInvalidInput)
	}
	date, err := time.Parse(dateLayout, in.Date)
	if err != nil {
		return nil, fmt.Errorf("fecha de expedición (formato %s): %w", dateLayout, domain.ErrInvalidInput)
	}
	net, err := decimal.NewFromString(in.NetTotal)
	if err != nil {
		return nil, fmt.Errorf("net_total inválido: %w", domain.ErrInvalidInput)
	}
	tax, err := decimal.NewFromString(in.TaxTotal)
	if err != nil {
		return nil, fmt.Errorf("tax_total inválido: %w", domain.ErrInvalidInput)
	}
	grand, err := decimal.NewFromString(in.GrandTotal)
	if err != nil {
		return nil, fmt.Errorf("grand_total inválido: %w", domain.ErrInvalidInput)
	}
	if !net.Add(tax).Round(2).Equal(grand.Round(2)) {
		return nil, fmt.Errorf("grand_total no cuadra con base + cuota: %w", domain.ErrInvalidInput)
	}

	if in.CustomerID != "" {
		customer, err := uc.customerRepo.GetByID(ctx, in.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("destinatario: %w", err)
		}
		if customer.CompanyID != companyID {
			return nil, domain.ErrForbidden
		}
	}

	now := time.Now()
	invoice := &entity.Invoice{
		ID:          uuid.NewString(),
		CompanyID:   companyID,
		CustomerID:  in.CustomerID,
		Series:      strings.TrimSpace(in.Series),
		Number:      strings.TrimSpace(in.Number),
		Date:        date,
		NetTotal:    net,
		TaxTotal:    tax,
		GrandTotal:  grand,
		TipoFactura: in.TipoFactura,
		Status:      entity.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.invoiceRepo.Create(ctx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

// GetByID devuelve la factura si pertenece al emisor del token.
func (uc *InvoiceUseCase) GetByID(ctx context.Context, companyID, id string) (*entity.Invoice, error) {
	invoice, err := uc.invoiceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice.CompanyID != companyID {
		return nil, domain.ErrForbidden
	}
	return invoice, nil
}

// ComplianceStatus ensambla el estado de cumplimiento completo de una factura:
// cabecera, registros de facturación encadenados e intentos de envío.
func (uc *InvoiceUseCase) ComplianceStatus(ctx context.Context, companyID, id string) (*dto.ComplianceStatusResponse, error) {
	invoice, err := uc.GetByID(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	out := &dto.ComplianceStatusResponse{
		InvoiceID:          invoice.ID,
		Status:             invoice.Status,
		ConfirmationCSV:    invoice.ConfirmationCSV,
		SentAt:             invoice.SentAt,
		VerifiedAt:         invoice.VerifiedAt,
		LastError:          invoice.LastError,
		ChainFingerprint:   invoice.ChainFingerprint,
		QRData:             invoice.QRData,
		Cancelled:          invoice.Cancelled,
		CancellationReason: invoice.CancellationReason,
	}
	records, err := uc.recordRepo.GetByInvoiceID(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		out.Records = append(out.Records, dto.RecordSummary{
			ID:             r.ID,
			Type:           r.Type,
			Huella:         r.Huella,
			HuellaAnterior: r.HuellaAnterior,
			ChainPosition:  r.ChainPosition,
			FechaHoraGen:   r.FechaHoraGen,
		})
	}
	submissions, err := uc.submissionRepo.ListByInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, s := range submissions {
		out.Submissions = append(out.Submissions, dto.SubmissionSummary{
			ID:            s.ID,
			Attempt:       s.Attempt,
			SubmittedAt:   s.SubmittedAt,
			HTTPStatus:    s.HTTPStatus,
			TransportErr:  s.TransportErr,
			EstadoEnvio:   s.EstadoEnvio,
			CSV:           s.CSV,
			AuthorityErrs: s.AuthorityErrs,
		})
	}
	return out, nil
}
