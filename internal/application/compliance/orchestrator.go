package compliance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/facturia/verifactu-api/internal/domain"
	"github.com/facturia/verifactu-api/internal/domain/entity"
	"github.com/facturia/verifactu-api/internal/domain/repository"
	"github.com/facturia/verifactu-api/internal/domain/verifactu"
	"github.com/facturia/verifactu-api/internal/infrastructure/aeat"
	pkgvf "github.com/facturia/verifactu-api/pkg/verifactu"
)

// qrBaseURL servicio de cotejo del QR tributario.
const qrBaseURL = "https://www2.agenciatributaria.gob.es/wlpl/TIKE-CONT/ValidarQR"

// processTimeout techo del ciclo completo de una factura (encadenar + enviar).
const processTimeout = 2 * time.Minute

// Orchestrator dirige el ciclo de cumplimiento de una factura:
//
//	PENDING → (huella + eslabón) → SIGNED → (SOAP AEAT) → SENT → VERIFIED | REJECTED
//
// ERROR es alcanzable desde cualquier estado no terminal; ERROR → PENDING solo
// mediante Retry explícito de un operador. El commit del eslabón en SIGNED es
// irreversible: un reintento posterior reenvía los mismos bytes, jamás
// recalcula la huella.
//
// Se ejecuta en goroutine independiente (ProcessAsync) con su propio contexto,
// desacoplado del ciclo HTTP.
type Orchestrator struct {
	invoiceRepo    repository.InvoiceRepository
	companyRepo    repository.CompanyRepository
	customerRepo   repository.CustomerRepository
	recordRepo     repository.RecordRepository
	submissionRepo repository.SubmissionRepository

	builder   *RecordBuilder
	chain     *ChainService
	xmlGen    *aeat.XMLBuilderService
	validator *aeat.StructuralValidator
	submitter aeat.Submitter
	notifier  Notifier
	metrics   Metrics
	logger    zerolog.Logger

	autoSend bool

	// sendQ ordena los envíos por emisor según la posición de cadena: la AEAT
	// exige que los registros de una misma cadena lleguen en orden de posición,
	// y el ticket se toma en el mismo commit del eslabón.
	sendQ sendQueue
	wg    sync.WaitGroup
}

// OrchestratorDeps agrupa las dependencias del orquestador.
type OrchestratorDeps struct {
	InvoiceRepo    repository.InvoiceRepository
	CompanyRepo    repository.CompanyRepository
	CustomerRepo   repository.CustomerRepository
	RecordRepo     repository.RecordRepository
	SubmissionRepo repository.SubmissionRepository
	Builder        *RecordBuilder
	Chain          *ChainService
	XMLGen         *aeat.XMLBuilderService
	Validator      *aeat.StructuralValidator
	Submitter      aeat.Submitter
	Notifier       Notifier
	Metrics        Metrics
	Logger         zerolog.Logger
	AutoSend       bool
}

// NewOrchestrator construye el orquestador. Submitter puede ser nil si
// AutoSend es false (modo solo-encadenado).
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	o := &Orchestrator{
		invoiceRepo:    deps.InvoiceRepo,
		companyRepo:    deps.CompanyRepo,
		customerRepo:   deps.CustomerRepo,
		recordRepo:     deps.RecordRepo,
		submissionRepo: deps.SubmissionRepo,
		builder:        deps.Builder,
		chain:          deps.Chain,
		xmlGen:         deps.XMLGen,
		validator:      deps.Validator,
		submitter:      deps.Submitter,
		notifier:       deps.Notifier,
		metrics:        deps.Metrics,
		logger:         deps.Logger,
		autoSend:       deps.AutoSend,
	}
	if deps.Chain != nil {
		// El ticket de envío se toma dentro de la transacción que compromete
		// el eslabón: así el orden de tickets coincide con el de posiciones.
		deps.Chain.setSendGate(&o.sendQ)
	}
	return o
}

// ProcessAsync dispara el procesamiento en una goroutine independiente.
func (o *Orchestrator) ProcessAsync(invoiceID string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		if err := o.Process(ctx, invoiceID); err != nil {
			o.logger.Error().Err(err).Str("invoice_id", invoiceID).
				Msg("ciclo VERI*FACTU terminó con error")
		}
	}()
}

// Wait bloquea hasta que terminen los procesamientos en vuelo (apagado).
func (o *Orchestrator) Wait() { o.wg.Wait() }

// Process es el núcleo síncrono del ciclo. Siempre deja la factura en un
// estado coherente antes de volver.
func (o *Orchestrator) Process(ctx context.Context, invoiceID string) error {
	inv, err := o.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("factura %s: %w", invoiceID, err)
	}
	if inv.Status != entity.StatusPending {
		o.logger.Warn().Str("invoice_id", invoiceID).Str("status", inv.Status).
			Msg("estado inesperado, no se procesa")
		return nil
	}

	company, err := o.companyRepo.GetByID(ctx, inv.CompanyID)
	if err != nil {
		return o.markError(ctx, inv, fmt.Errorf("emisor %s: %w", inv.CompanyID, err))
	}

	var customer *entity.Customer
	if inv.CustomerID != "" {
		customer, err = o.customerRepo.GetByID(ctx, inv.CustomerID)
		if err != nil {
			return o.markError(ctx, inv, fmt.Errorf("destinatario %s: %w", inv.CustomerID, err))
		}
	}

	// Reanudación tras ERROR: si la factura ya tiene registro encadenado el
	// commit es irreversible y se reutiliza tal cual (reenvío idempotente).
	rec, err := o.existingRecord(ctx, inv)
	if err != nil {
		return o.markError(ctx, inv, err)
	}
	if rec == nil {
		rec, err = o.builder.BuildAlta(inv, company, customer)
		if err != nil {
			return o.markError(ctx, inv, err)
		}
		if err := o.chain.CommitRecord(ctx, company.NIF, rec); err != nil {
			return o.markError(ctx, inv, err)
		}
	}

	// El commit ya tomó el ticket; en reanudación (registro preexistente de un
	// proceso anterior) register lo repone. El defer lo libera pase lo que pase
	// para no dejar bloqueados los envíos posteriores del emisor.
	o.sendQ.register(company.ID, rec.ChainPosition)
	defer o.sendQ.release(company.ID, rec.ChainPosition)

	inv.ChainFingerprint = rec.Huella
	inv.QRData = buildQRData(company.NIF, rec)
	if err := o.transition(ctx, inv, entity.StatusSigned); err != nil {
		return err
	}

	return o.submitRecord(ctx, inv, company, rec)
}

// existingRecord devuelve el registro de alta ya comprometido de la factura,
// o nil si aún no existe.
func (o *Orchestrator) existingRecord(ctx context.Context, inv *entity.Invoice) (*entity.Record, error) {
	records, err := o.recordRepo.GetByInvoiceID(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("registros de la factura: %w", err)
	}
	for _, r := range records {
		if r.Type == entity.RecordAlta && r.Huella != "" {
			return r, nil
		}
	}
	return nil, nil
}

// submitRecord genera el XML, lo valida y lo entrega a la AEAT, moviendo la
// factura por SENT hasta VERIFIED, REJECTED o ERROR.
func (o *Orchestrator) submitRecord(ctx context.Context, inv *entity.Invoice, company *entity.Company, rec *entity.Record) error {
	payload, err := o.xmlGen.Build(&aeat.EnvelopeContext{Company: company, Records: []*entity.Record{rec}})
	if err != nil {
		return o.markError(ctx, inv, fmt.Errorf("generar XML: %w", err))
	}
	if violations := o.validator.Validate(payload); len(violations) > 0 {
		return o.markError(ctx, inv, fmt.Errorf("XML no apto para envío: %s", strings.Join(violations, "; ")))
	}

	if !o.autoSend || o.submitter == nil {
		o.logger.Info().Str("invoice_id", inv.ID).
			Msg("envío automático desactivado; factura queda en SIGNED")
		return nil
	}

	if err := o.sendQ.waitTurn(ctx, company.ID, rec.ChainPosition); err != nil {
		return o.markError(ctx, inv, fmt.Errorf("esperando turno de envío: %w", err))
	}

	submission := &entity.Submission{
		CompanyID:  company.ID,
		InvoiceID:  inv.ID,
		RecordIDs:  []string{rec.ID},
		XMLPayload: string(payload),
		CreatedAt:  time.Now(),
	}

	result, submitErr := o.submitWithAudit(ctx, submission, payload)

	switch {
	case submitErr == nil:
		now := time.Now()
		inv.SentAt = &now
		if err := o.transition(ctx, inv, entity.StatusSent); err != nil {
			return err
		}
		inv.ConfirmationCSV = result.CSV
		inv.VerifiedAt = &now
		inv.LastError = ""
		o.metrics.SubmissionResult(result.EstadoEnvio)
		o.logger.Info().Str("invoice_id", inv.ID).Str("csv", result.CSV).
			Int("intentos", result.Attempts).Msg("registro aceptado por la AEAT")
		return o.transition(ctx, inv, entity.StatusVerified)

	case isRejection(submitErr):
		// La AEAT respondió: hubo entrega, luego SENT, y el rechazo es
		// terminal. El detalle viaja literal, sin traducir.
		now := time.Now()
		inv.SentAt = &now
		if err := o.transition(ctx, inv, entity.StatusSent); err != nil {
			return err
		}
		var rej *verifactu.AuthorityRejection
		errors.As(submitErr, &rej)
		inv.LastError = rej.Error()
		o.metrics.SubmissionResult(rej.EstadoEnvio)
		o.notify(inv, entity.StatusRejected, rej.Error(), rej.Descriptions())
		return o.transition(ctx, inv, entity.StatusRejected)

	default:
		o.metrics.SubmissionResult("transporte")
		return o.markError(ctx, inv, submitErr)
	}
}

// submitWithAudit entrega el payload persistiendo un sobre por cada intento de
// transporte; el último intento lleva además el desenlace de negocio.
func (o *Orchestrator) submitWithAudit(ctx context.Context, base *entity.Submission, payload []byte) (*aeat.SubmitResult, error) {
	var attempts []*entity.Submission
	result, err := o.submitter.Submit(ctx, payload, func(attempt, status int, transportErr string) {
		env := *base
		env.ID = uuid.NewString()
		env.Attempt = attempt
		env.HTTPStatus = status
		env.TransportErr = transportErr
		env.SubmittedAt = time.Now()
		attempts = append(attempts, &env)
	})

	if len(attempts) == 0 {
		// El transporte no llegó a reportar intentos (doble de test); queda
		// al menos el sobre con el desenlace.
		env := *base
		env.ID = uuid.NewString()
		env.Attempt = 1
		env.SubmittedAt = time.Now()
		attempts = append(attempts, &env)
	}

	last := attempts[len(attempts)-1]
	if result != nil {
		last.EstadoEnvio = result.EstadoEnvio
		last.CSV = result.CSV
	}
	var rej *verifactu.AuthorityRejection
	if errors.As(err, &rej) {
		last.EstadoEnvio = rej.EstadoEnvio
		last.AuthorityErrs = strings.Join(rej.Descriptions(), "; ")
	} else if err != nil && last.TransportErr == "" {
		last.TransportErr = err.Error()
	}

	if o.submissionRepo != nil {
		for _, env := range attempts {
			if persistErr := o.submissionRepo.Create(ctx, env); persistErr != nil {
				o.logger.Error().Err(persistErr).Str("invoice_id", env.InvoiceID).
					Int("intento", env.Attempt).Msg("no se pudo persistir la auditoría del envío")
			}
		}
	}
	return result, err
}

// Retry rearma una factura en ERROR y relanza el ciclo. Es la única vía de
// vuelta a PENDING y exige acción explícita del operador.
func (o *Orchestrator) Retry(ctx context.Context, invoiceID string) error {
	inv, err := o.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Status != entity.StatusError {
		return fmt.Errorf("%w: reintento manual solo desde ERROR, no desde %s",
			domain.ErrInvalidStatus, inv.Status)
	}
	inv.LastError = ""
	if err := o.transition(ctx, inv, entity.StatusPending); err != nil {
		return err
	}
	return o.Process(ctx, invoiceID)
}

// PollStatus consulta a la AEAT el estado de una factura que quedó en SENT
// (respuesta perdida o envío asíncrono) y resuelve a VERIFIED o REJECTED.
func (o *Orchestrator) PollStatus(ctx context.Context, invoiceID string) (*entity.Invoice, error) {
	inv, err := o.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != entity.StatusSent {
		return inv, nil
	}
	company, err := o.companyRepo.GetByID(ctx, inv.CompanyID)
	if err != nil {
		return nil, err
	}

	res, err := o.submitter.QueryStatus(ctx, company.NIF, inv.SeriesNumber(), inv.Date)
	if err != nil {
		// El sondeo es best-effort: un fallo de transporte deja SENT intacto.
		o.logger.Warn().Err(err).Str("invoice_id", invoiceID).Msg("consulta de estado fallida")
		return inv, err
	}

	switch res.EstadoRegistro {
	case pkgvf.EstadoRegistroCorrecto, pkgvf.EstadoRegistroAceptadoErr:
		now := time.Now()
		inv.ConfirmationCSV = res.CSV
		inv.VerifiedAt = &now
		if err := o.transition(ctx, inv, entity.StatusVerified); err != nil {
			return nil, err
		}
	case pkgvf.EstadoRegistroIncorrecto:
		inv.LastError = fmt.Sprintf("[%s] %s", res.Code, res.Description)
		o.notify(inv, entity.StatusRejected, inv.LastError, nil)
		if err := o.transition(ctx, inv, entity.StatusRejected); err != nil {
			return nil, err
		}
	}
	return inv, nil
}

// Cancel emite el registro de BAJA de una factura ya verificada. La factura
// no se borra: la anulación es un eslabón más de la cadena.
func (o *Orchestrator) Cancel(ctx context.Context, invoiceID, motivo string) error {
	inv, err := o.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Cancelled {
		return fmt.Errorf("%w: la factura ya está anulada", domain.ErrInvalidStatus)
	}
	company, err := o.companyRepo.GetByID(ctx, inv.CompanyID)
	if err != nil {
		return err
	}

	rec, err := o.builder.BuildBaja(inv, company, motivo)
	if err != nil {
		return err
	}
	if err := o.chain.CommitRecord(ctx, company.NIF, rec); err != nil {
		return err
	}

	defer o.sendQ.release(company.ID, rec.ChainPosition)

	inv.Cancelled = true
	inv.CancellationReason = motivo
	inv.UpdatedAt = time.Now()
	if err := o.invoiceRepo.UpdateCompliance(ctx, inv); err != nil {
		return err
	}

	return o.sendCommitted(ctx, inv, company, rec)
}

// Amend encadena un registro de MODIFICACION que subsana la factura: el
// registro original permanece intacto en la cadena y la corrección es un
// eslabón nuevo que lo referencia. Es el remedio previsto tras un rechazo.
func (o *Orchestrator) Amend(ctx context.Context, invoiceID, motivo string) error {
	inv, err := o.invoiceRepo.GetByID(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Cancelled {
		return fmt.Errorf("%w: la factura está anulada", domain.ErrInvalidStatus)
	}
	if inv.Status != entity.StatusVerified && inv.Status != entity.StatusRejected {
		return fmt.Errorf("%w: la subsanación exige un registro ya presentado, no %s",
			domain.ErrInvalidStatus, inv.Status)
	}
	company, err := o.companyRepo.GetByID(ctx, inv.CompanyID)
	if err != nil {
		return err
	}
	var customer *entity.Customer
	if inv.CustomerID != "" {
		if customer, err = o.customerRepo.GetByID(ctx, inv.CustomerID); err != nil {
			return err
		}
	}

	original, err := o.existingRecord(ctx, inv)
	if err != nil {
		return err
	}
	if original == nil {
		return fmt.Errorf("%w: la factura no tiene registro de alta comprometido", domain.ErrInvalidStatus)
	}

	rec, err := o.builder.BuildModificacion(inv, company, customer, original, motivo)
	if err != nil {
		return err
	}
	if err := o.chain.CommitRecord(ctx, company.NIF, rec); err != nil {
		return err
	}
	defer o.sendQ.release(company.ID, rec.ChainPosition)

	return o.sendCommitted(ctx, inv, company, rec)
}

// sendCommitted entrega un registro correctivo ya encadenado (baja o
// subsanación) respetando el turno de posición del emisor.
func (o *Orchestrator) sendCommitted(ctx context.Context, inv *entity.Invoice, company *entity.Company, rec *entity.Record) error {
	if !o.autoSend || o.submitter == nil {
		return nil
	}
	payload, err := o.xmlGen.Build(&aeat.EnvelopeContext{Company: company, Records: []*entity.Record{rec}})
	if err != nil {
		return err
	}
	if err := o.sendQ.waitTurn(ctx, company.ID, rec.ChainPosition); err != nil {
		return err
	}
	submission := &entity.Submission{
		CompanyID: company.ID, InvoiceID: inv.ID,
		RecordIDs: []string{rec.ID}, XMLPayload: string(payload), CreatedAt: time.Now(),
	}
	_, err = o.submitWithAudit(ctx, submission, payload)
	return err
}

// ── Ayudantes de estado ───────────────────────────────────────────────────────

// transition aplica la máquina de estados y persiste. Un paso inválido es un
// bug del orquestador, no de los datos: se devuelve como error duro.
func (o *Orchestrator) transition(ctx context.Context, inv *entity.Invoice, to string) error {
	if !entity.CanTransition(inv.Status, to) {
		return fmt.Errorf("transición %s -> %s no permitida", inv.Status, to)
	}
	inv.Status = to
	inv.UpdatedAt = time.Now()
	o.metrics.StateTransition(to)
	if err := o.invoiceRepo.UpdateCompliance(ctx, inv); err != nil {
		return fmt.Errorf("persistir estado %s: %w", to, err)
	}
	o.logger.Info().Str("invoice_id", inv.ID).Str("status", to).Msg("transición de estado")
	return nil
}

// markError lleva la factura a ERROR conservando la causa y notifica.
func (o *Orchestrator) markError(ctx context.Context, inv *entity.Invoice, cause error) error {
	inv.LastError = cause.Error()
	if entity.CanTransition(inv.Status, entity.StatusError) {
		if err := o.transition(ctx, inv, entity.StatusError); err != nil {
			o.logger.Error().Err(err).Str("invoice_id", inv.ID).Msg("no se pudo persistir ERROR")
		}
	}
	o.notify(inv, entity.StatusError, cause.Error(), nil)
	return cause
}

func (o *Orchestrator) notify(inv *entity.Invoice, status, reason string, details []string) {
	if o.notifier == nil {
		return
	}
	// Fire-and-forget: la notificación jamás bloquea ni aborta el ciclo.
	o.notifier.Notify(context.Background(), NotificationEvent{
		InvoiceID: inv.ID,
		CompanyID: inv.CompanyID,
		Status:    status,
		Reason:    reason,
		Details:   details,
		At:        time.Now(),
	})
}

func isRejection(err error) bool {
	var rej *verifactu.AuthorityRejection
	return errors.As(err, &rej)
}

// buildQRData compone la URL del QR tributario de cotejo (Orden HAC/1177/2024).
func buildQRData(nif string, rec *entity.Record) string {
	q := url.Values{}
	q.Set("nif", nif)
	q.Set("numserie", rec.NumSerieFactura)
	q.Set("fecha", rec.FechaExpedicion.Format(verifactu.FechaLayout))
	q.Set("importe", rec.ImporteTotal.StringFixed(2))
	return qrBaseURL + "?" + q.Encode()
}

// ── sendQueue ─────────────────────────────────────────────────────────────────

// sendQueue ordena los envíos de cada emisor por posición de cadena. Un
// registro toma su ticket en la misma transacción que compromete el eslabón,
// antes de que el siguiente registro del emisor pueda encadenarse; solo se
// envía cuando ningún ticket inferior del mismo emisor siga pendiente.
type sendQueue struct {
	mu      sync.Mutex
	pending map[string][]int64
	conds   map[string]*sync.Cond
}

// condFor exige q.mu tomado.
func (q *sendQueue) condFor(company string) *sync.Cond {
	if q.conds == nil {
		q.conds = make(map[string]*sync.Cond)
		q.pending = make(map[string][]int64)
	}
	c, ok := q.conds[company]
	if !ok {
		c = sync.NewCond(&q.mu)
		q.conds[company] = c
	}
	return c
}

// register toma el ticket pos del emisor. Es idempotente: reanudar una factura
// cuyo eslabón ya estaba comprometido vuelve a tomar el mismo ticket.
func (q *sendQueue) register(company string, pos int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.condFor(company)
	for _, p := range q.pending[company] {
		if p == pos {
			return
		}
	}
	q.pending[company] = append(q.pending[company], pos)
}

// release retira el ticket y despierta a quienes esperan turno.
func (q *sendQueue) release(company string, pos int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	tickets := q.pending[company]
	for i, p := range tickets {
		if p == pos {
			q.pending[company] = append(tickets[:i], tickets[i+1:]...)
			break
		}
	}
	q.condFor(company).Broadcast()
}

// waitTurn bloquea hasta que pos sea el ticket más bajo pendiente del emisor o
// el contexto expire.
func (q *sendQueue) waitTurn(ctx context.Context, company string, pos int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cond := q.condFor(company)
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()
	for q.lowest(company) < pos {
		if err := ctx.Err(); err != nil {
			return err
		}
		cond.Wait()
	}
	return ctx.Err()
}

// lowest exige q.mu tomado.
func (q *sendQueue) lowest(company string) int64 {
	min := int64(math.MaxInt64)
	for _, p := range q.pending[company] {
		if p < min {
			min = p
		}
	}
	return min
}
