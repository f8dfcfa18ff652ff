package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/facturia/verifactu-api/internal/application/billing"
	"github.com/facturia/verifactu-api/internal/application/compliance"
	"github.com/facturia/verifactu-api/internal/application/dto"
	"github.com/facturia/verifactu-api/internal/domain"
	"github.com/facturia/verifactu-api/internal/domain/entity"
	"github.com/facturia/verifactu-api/internal/domain/repository"
	"github.com/facturia/verifactu-api/internal/domain/verifactu"
)

// ComplianceHandler expone el ciclo VERI*FACTU de una factura: procesamiento,
// estado, reintento, consulta a la AEAT, anulación, verificación de cadena y
// justificante PDF.
type ComplianceHandler struct {
	orchestrator *compliance.Orchestrator
	chain        *compliance.ChainService
	invoiceUC    *billing.InvoiceUseCase
	companyRepo  repository.CompanyRepository
	recordRepo   repository.RecordRepository
	receipts     compliance.ReceiptGenerator
}

// NewComplianceHandler construye el handler.
func NewComplianceHandler(
	orchestrator *compliance.Orchestrator,
	chain *compliance.ChainService,
	invoiceUC *billing.InvoiceUseCase,
	companyRepo repository.CompanyRepository,
	recordRepo repository.RecordRepository,
	receipts compliance.ReceiptGenerator,
) *ComplianceHandler {
	return &ComplianceHandler{
		orchestrator: orchestrator,
		chain:        chain,
		invoiceUC:    invoiceUC,
		companyRepo:  companyRepo,
		recordRepo:   recordRepo,
		receipts:     receipts,
	}
}

// ownInvoice valida que la factura exista y pertenezca al emisor del token.
func (h *ComplianceHandler) ownInvoice(c *fiber.Ctx) (*entity.Invoice, error) {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return nil, c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	id := c.Params("id")
	if id == "" {
		return nil, c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "id requerido"})
	}
	invoice, err := h.invoiceUC.GetByID(c.Context(), companyID, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "factura no encontrada"})
		}
		if errors.Is(err, domain.ErrForbidden) {
			return nil, c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "acceso denegado"})
		}
		return nil, c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return invoice, nil
}

// Process encola el ciclo de cumplimiento de la factura. El procesamiento es
// asíncrono; el estado se consulta con GET.
// POST /api/invoices/:id/verifactu
func (h *ComplianceHandler) Process(c *fiber.Ctx) error {
	invoice, err := h.ownInvoice(c)
	if invoice == nil {
		return err
	}
	if entity.IsTerminal(invoice.Status) {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "INVALID_STATUS", Message: "la factura ya está en estado terminal: " + invoice.Status})
	}
	if invoice.Status != entity.StatusPending {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "INVALID_STATUS", Message: "la factura ya fue procesada (estado " + invoice.Status + ")"})
	}
	h.orchestrator.ProcessAsync(invoice.ID)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"invoice_id": invoice.ID,
		"status":     "processing",
	})
}

// Status devuelve el estado de cumplimiento completo: cabecera, registros
// encadenados e intentos de envío.
// GET /api/invoices/:id/verifactu
func (h *ComplianceHandler) Status(c *fiber.Ctx) error {
	invoice, err := h.ownInvoice(c)
	if invoice == nil {
		return err
	}
	status, err := h.invoiceUC.ComplianceStatus(c.Context(), invoice.CompanyID, invoice.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.JSON(status)
}

// Retry relanza una factura en ERROR. El registro ya encadenado se reutiliza:
// el reenvío es byte a byte idéntico al envío original.
// POST /api/invoices/:id/verifactu/retry
func (h *ComplianceHandler) Retry(c *fiber.Ctx) error {
	invoice, err := h.ownInvoice(c)
	if invoice == nil {
		return err
	}
	if err := h.orchestrator.Retry(c.Context(), invoice.ID); err != nil {
		return h.mapComplianceError(c, err)
	}
	status, err := h.invoiceUC.ComplianceStatus(c.Context(), invoice.CompanyID, invoice.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.JSON(status)
}

// Poll consulta a la AEAT el estado de un envío pendiente de respuesta y
// persiste el desenlace (VERIFIED o REJECTED).
// POST /api/invoices/:id/verifactu/poll
func (h *ComplianceHandler) Poll(c *fiber.Ctx) error {
	invoice, err := h.ownInvoice(c)
	if invoice == nil {
		return err
	}
	updated, err := h.orchestrator.PollStatus(c.Context(), invoice.ID)
	if err != nil {
		return h.mapComplianceError(c, err)
	}
	return c.JSON(dto.ComplianceStatusResponse{
		InvoiceID:        updated.ID,
		Status:           updated.Status,
		ConfirmationCSV:  updated.ConfirmationCSV,
		SentAt:           updated.SentAt,
		VerifiedAt:       updated.VerifiedAt,
		LastError:        updated.LastError,
		ChainFingerprint: updated.ChainFingerprint,
		QRData:           updated.QRData,
		Cancelled:        updated.Cancelled,
	})
}

// Cancel encadena un registro de BAJA para la factura. La anulación es un
// registro nuevo: el alta original permanece intacto en la cadena.
// POST /api/invoices/:id/verifactu/cancel
func (h *ComplianceHandler) Cancel(c *fiber.Ctx) error {
	invoice, err := h.ownInvoice(c)
	if invoice == nil {
		return err
	}
	var in dto.CancelInvoiceRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if err := h.orchestrator.Cancel(c.Context(), invoice.ID, in.Motivo); err != nil {
		return h.mapComplianceError(c, err)
	}
	status, err := h.invoiceUC.ComplianceStatus(c.Context(), invoice.CompanyID, invoice.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.JSON(status)
}

// Amend encadena un registro de MODIFICACION que subsana la factura tras un
// rechazo. El alta original permanece intacta; la corrección la referencia.
// POST /api/invoices/:id/verifactu/amend
func (h *ComplianceHandler) Amend(c *fiber.Ctx) error {
	invoice, err := h.ownInvoice(c)
	if invoice == nil {
		return err
	}
	var in dto.AmendInvoiceRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if err := h.orchestrator.Amend(c.Context(), invoice.ID, in.Motivo); err != nil {
		return h.mapComplianceError(c, err)
	}
	status, err := h.invoiceUC.ComplianceStatus(c.Context(), invoice.CompanyID, invoice.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.JSON(status)
}

// VerifyChain recorre la cadena completa del emisor recalculando cada huella
// y devuelve el informe de integridad.
// GET /api/companies/:id/verifactu/chain
func (h *ComplianceHandler) VerifyChain(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	if c.Params("id") != companyID {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "solo se puede verificar la cadena del propio emisor"})
	}
	company, err := h.companyRepo.GetByID(c.Context(), companyID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "emisor no encontrado"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	report, err := h.chain.VerifyChain(c.Context(), company.ID, company.NIF)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.JSON(report)
}

// Receipt genera el justificante PDF de la factura con su QR tributario.
// GET /api/invoices/:id/verifactu/receipt
func (h *ComplianceHandler) Receipt(c *fiber.Ctx) error {
	invoice, err := h.ownInvoice(c)
	if invoice == nil {
		return err
	}
	if invoice.ChainFingerprint == "" {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "INVALID_STATUS", Message: "la factura aún no tiene registro encadenado"})
	}
	company, err := h.companyRepo.GetByID(c.Context(), invoice.CompanyID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	records, err := h.recordRepo.GetByInvoiceID(c.Context(), invoice.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	var alta *entity.Record
	for _, r := range records {
		if r.Type == entity.RecordAlta && r.Huella != "" {
			alta = r
			break
		}
	}
	if alta == nil {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "INVALID_STATUS", Message: "sin registro de alta encadenado"})
	}
	pdfBytes, err := h.receipts.Generate(invoice, company, alta)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "PDF_GENERATION", Message: err.Error()})
	}
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, `inline; filename="justificante-`+invoice.SeriesNumber()+`.pdf"`)
	return c.Send(pdfBytes)
}

// mapComplianceError traduce los errores del motor a códigos HTTP.
func (h *ComplianceHandler) mapComplianceError(c *fiber.Ctx, err error) error {
	var vErr *verifactu.ValidationError
	if errors.As(err, &vErr) {
		details := make([]string, 0, len(vErr.Fields))
		for _, f := range vErr.Fields {
			details = append(details, f.Field+": "+f.Message)
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{
			Code:    "VALIDATION",
			Message: "el registro no supera la validación",
			Details: details,
		})
	}
	var rej *verifactu.AuthorityRejection
	if errors.As(err, &rej) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{
			Code:    "AEAT_REJECTED",
			Message: "la AEAT rechazó el registro",
			Details: rej.Descriptions(),
		})
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "factura no encontrada"})
	case errors.Is(err, domain.ErrInvalidStatus):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "INVALID_STATUS", Message: err.Error()})
	case errors.Is(err, domain.ErrAlreadyVerified):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "ALREADY_VERIFIED", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
}
