package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturia/verifactu-api/internal/domain"
	"github.com/facturia/verifactu-api/internal/domain/entity"
	"github.com/facturia/verifactu-api/internal/domain/verifactu"
	"github.com/facturia/verifactu-api/internal/infrastructure/aeat"
)

type orchestratorFixture struct {
	orch        *Orchestrator
	invoices    *memInvoiceRepo
	records     *memRecordRepo
	submissions *memSubmissionRepo
	submitter   *fakeSubmitter
	notifier    *memNotifier
}

func newOrchestratorFixture(t *testing.T, autoSend bool, script ...func() (*aeat.SubmitResult, error)) *orchestratorFixture {
	t.Helper()

	invoices := newMemInvoiceRepo(validInvoice())
	records := &memRecordRepo{}
	submissions := &memSubmissionRepo{}
	submitter := &fakeSubmitter{script: script}
	notifier := &memNotifier{}

	chain := NewChainService(newMemChainRepo(), records, verifactu.NewHuellaService(), nopTx{}, nil, zerolog.Nop())

	orch := NewOrchestrator(OrchestratorDeps{
		InvoiceRepo:    invoices,
		CompanyRepo:    &memCompanyRepo{companies: map[string]*entity.Company{"co-1": validCompany()}},
		CustomerRepo:   &memCustomerRepo{customers: map[string]*entity.Customer{"cu-1": validCustomer()}},
		RecordRepo:     records,
		SubmissionRepo: submissions,
		Builder:        NewRecordBuilder(),
		Chain:          chain,
		XMLGen:         aeat.NewXMLBuilderService(),
		Validator:      aeat.NewStructuralValidator(),
		Submitter:      submitter,
		Notifier:       notifier,
		Logger:         zerolog.Nop(),
		AutoSend:       autoSend,
	})
	return &orchestratorFixture{
		orch: orch, invoices: invoices, records: records,
		submissions: submissions, submitter: submitter, notifier: notifier,
	}
}

func acceptedResult() (*aeat.SubmitResult, error) {
	return &aeat.SubmitResult{EstadoEnvio: "Correcto", CSV: "CSV-AEAT-OK-1", Attempts: 1}, nil
}

func (f *orchestratorFixture) invoice(t *testing.T) *entity.Invoice {
	t.Helper()
	inv, err := f.invoices.GetByID(context.Background(), "inv-1")
	require.NoError(t, err)
	return inv
}

// Ciclo completo feliz: PENDING → SIGNED → SENT → VERIFIED con CSV.
func TestOrchestrator_CicloVerificado(t *testing.T) {
	f := newOrchestratorFixture(t, true, acceptedResult)

	require.NoError(t, f.orch.Process(context.Background(), "inv-1"))

	inv := f.invoice(t)
	assert.Equal(t, entity.StatusVerified, inv.Status)
	assert.Equal(t, "CSV-AEAT-OK-1", inv.ConfirmationCSV)
	assert.NotNil(t, inv.SentAt)
	assert.NotNil(t, inv.VerifiedAt)
	assert.Len(t, inv.ChainFingerprint, 64)
	assert.Contains(t, inv.QRData, "ValidarQR")
	assert.Contains(t, inv.QRData, "nif=A39200019")

	records, _ := f.records.GetByInvoiceID(context.Background(), "inv-1")
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].ChainPosition)

	subs, _ := f.submissions.ListByInvoice(context.Background(), "inv-1")
	require.Len(t, subs, 1)
	assert.Equal(t, "Correcto", subs[0].EstadoEnvio)
	assert.Empty(t, f.notifier.events)
}

// Con envío automático apagado la factura queda en SIGNED, encadenada y con
// QR, lista para un envío posterior.
func TestOrchestrator_SoloFirmaSinEnvio(t *testing.T) {
	f := newOrchestratorFixture(t, false)

	require.NoError(t, f.orch.Process(context.Background(), "inv-1"))

	inv := f.invoice(t)
	assert.Equal(t, entity.StatusSigned, inv.Status)
	assert.Len(t, inv.ChainFingerprint, 64)
	assert.Empty(t, f.submitter.payloads)
}

// Un rechazo de negocio de la AEAT es terminal: REJECTED, detalle literal y
// notificación emitida. El eslabón comprometido permanece.
func TestOrchestrator_RechazoAEAT(t *testing.T) {
	rejection := &verifactu.AuthorityRejection{
		EstadoEnvio: "Incorrecto",
		Lines: []verifactu.RejectionLine{
			{Code: "1117", Description: "El NIF del destinatario no está identificado"},
		},
	}
	f := newOrchestratorFixture(t, true, func() (*aeat.SubmitResult, error) {
		return nil, rejection
	})

	require.NoError(t, f.orch.Process(context.Background(), "inv-1"))

	inv := f.invoice(t)
	assert.Equal(t, entity.StatusRejected, inv.Status)
	assert.Contains(t, inv.LastError, "El NIF del destinatario no está identificado")
	assert.NotNil(t, inv.SentAt)
	assert.Nil(t, inv.VerifiedAt)

	// el registro sigue en la cadena: la corrección será un registro nuevo
	records, _ := f.records.GetByInvoiceID(context.Background(), "inv-1")
	assert.Len(t, records, 1)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, entity.StatusRejected, f.notifier.events[0].Status)
	assert.Contains(t, f.notifier.events[0].Details, "El NIF del destinatario no está identificado")
}

// Fallo de transporte agotado: la factura cae en ERROR conservando la causa.
// El reintento manual reutiliza el registro ya comprometido y reenvía
// exactamente los mismos bytes.
func TestOrchestrator_ErrorDeTransporteYReintento(t *testing.T) {
	calls := 0
	f := newOrchestratorFixture(t, true, func() (*aeat.SubmitResult, error) {
		calls++
		if calls == 1 {
			return nil, &verifactu.TransportError{Attempts: 3, Err: errors.New("connection refused")}
		}
		return acceptedResult()
	})
	ctx := context.Background()

	err := f.orch.Process(ctx, "inv-1")
	require.Error(t, err)

	inv := f.invoice(t)
	assert.Equal(t, entity.StatusError, inv.Status)
	assert.Contains(t, inv.LastError, "connection refused")
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, entity.StatusError, f.notifier.events[0].Status)

	huellaOriginal := f.invoice(t).ChainFingerprint

	require.NoError(t, f.orch.Retry(ctx, "inv-1"))

	inv = f.invoice(t)
	assert.Equal(t, entity.StatusVerified, inv.Status)
	// el commit es irreversible: misma huella, un solo registro
	assert.Equal(t, huellaOriginal, inv.ChainFingerprint)
	records, _ := f.records.GetByInvoiceID(ctx, "inv-1")
	assert.Len(t, records, 1)
	// reenvío idempotente byte a byte
	require.Len(t, f.submitter.payloads, 2)
	assert.Equal(t, f.submitter.payloads[0], f.submitter.payloads[1])
}

func TestOrchestrator_RetrySoloDesdeError(t *testing.T) {
	f := newOrchestratorFixture(t, true, acceptedResult)
	require.NoError(t, f.orch.Process(context.Background(), "inv-1"))

	err := f.orch.Retry(context.Background(), "inv-1")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

// Una factura inválida jamás toca la cadena: ERROR con todos los problemas
// acumulados y cero registros.
func TestOrchestrator_ValidacionNoTocaLaCadena(t *testing.T) {
	f := newOrchestratorFixture(t, true, acceptedResult)
	ctx := context.Background()

	inv := f.invoice(t)
	inv.Series = ""
	inv.TipoFactura = "F9"
	require.NoError(t, f.invoices.UpdateCompliance(ctx, inv))

	err := f.orch.Process(ctx, "inv-1")
	var verr *verifactu.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.GreaterOrEqual(t, len(verr.Fields), 2)

	assert.Equal(t, entity.StatusError, f.invoice(t).Status)
	records, _ := f.records.GetByInvoiceID(ctx, "inv-1")
	assert.Empty(t, records)
	assert.Empty(t, f.submitter.payloads)
}

// Los estados terminales no se reprocesan aunque llegue un disparo duplicado.
func TestOrchestrator_TerminalNoSeReprocesa(t *testing.T) {
	f := newOrchestratorFixture(t, true, acceptedResult)
	ctx := context.Background()

	require.NoError(t, f.orch.Process(ctx, "inv-1"))
	require.NoError(t, f.orch.Process(ctx, "inv-1")) // no-op

	records, _ := f.records.GetByInvoiceID(ctx, "inv-1")
	assert.Len(t, records, 1)
	require.Len(t, f.submitter.payloads, 1)
}

func TestOrchestrator_PollStatusResuelveSent(t *testing.T) {
	f := newOrchestratorFixture(t, true, acceptedResult)
	ctx := context.Background()

	// dejar la factura en SENT a mano (respuesta perdida)
	inv := f.invoice(t)
	inv.Status = entity.StatusSent
	require.NoError(t, f.invoices.UpdateCompliance(ctx, inv))

	f.submitter.query = func() (*aeat.QueryResult, error) {
		return &aeat.QueryResult{EstadoRegistro: "Correcto", CSV: "CSV-POLL-9"}, nil
	}

	got, err := f.orch.PollStatus(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusVerified, got.Status)
	assert.Equal(t, entity.StatusVerified, f.invoice(t).Status)
	assert.Equal(t, "CSV-POLL-9", f.invoice(t).ConfirmationCSV)
}

func TestOrchestrator_PollStatusRechazo(t *testing.T) {
	f := newOrchestratorFixture(t, true, acceptedResult)
	ctx := context.Background()

	inv := f.invoice(t)
	inv.Status = entity.StatusSent
	require.NoError(t, f.invoices.UpdateCompliance(ctx, inv))

	f.submitter.query = func() (*aeat.QueryResult, error) {
		return &aeat.QueryResult{EstadoRegistro: "Incorrecto", Code: "3000", Description: "Registro duplicado"}, nil
	}

	_, err := f.orch.PollStatus(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRejected, f.invoice(t).Status)
	assert.Contains(t, f.invoice(t).LastError, "Registro duplicado")
}

// La anulación añade un registro de BAJA encadenado tras el alta.
func TestOrchestrator_CancelEncadenaBaja(t *testing.T) {
	f := newOrchestratorFixture(t, true, acceptedResult, acceptedResult)
	ctx := context.Background()

	require.NoError(t, f.orch.Process(ctx, "inv-1"))
	require.NoError(t, f.orch.Cancel(ctx, "inv-1", "Factura emitida por error"))

	inv := f.invoice(t)
	assert.True(t, inv.Cancelled)
	assert.Equal(t, "Factura emitida por error", inv.CancellationReason)

	records, _ := f.records.GetByInvoiceID(ctx, "inv-1")
	require.Len(t, records, 2)
	baja := records[1]
	assert.Equal(t, entity.RecordBaja, baja.Type)
	assert.Equal(t, int64(2), baja.ChainPosition)
	assert.Equal(t, records[0].Huella, baja.HuellaAnterior)

	// la anulación no revierte el ciclo: una segunda baja se rechaza
	err := f.orch.Cancel(ctx, "inv-1", "otra vez")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

// Dos facturas del mismo emisor llegan a la AEAT en el orden de sus posiciones
// de cadena aunque la primera tarde más en alcanzar la fase de envío.
func TestOrchestrator_EnviosEnOrdenDeCadena(t *testing.T) {
	f := newOrchestratorFixture(t, true, acceptedResult)
	ctx := context.Background()

	inv2 := validInvoice()
	inv2.ID = "inv-2"
	inv2.Number = "0043"
	require.NoError(t, f.invoices.Create(ctx, inv2))

	// La primera factura compromete su eslabón (posición 1) pero aún no envía.
	inv1, err := f.invoices.GetByID(ctx, "inv-1")
	require.NoError(t, err)
	rec1, err := f.orch.builder.BuildAlta(inv1, validCompany(), validCustomer())
	require.NoError(t, err)
	require.NoError(t, f.orch.chain.CommitRecord(ctx, validCompany().NIF, rec1))

	// La segunda se procesa entera: compromete la posición 2 y queda a la
	// espera de que la 1 salga primero.
	done := make(chan error, 1)
	go func() { done <- f.orch.Process(ctx, "inv-2") }()

	time.Sleep(50 * time.Millisecond)
	f.submitter.mu.Lock()
	enviados := len(f.submitter.payloads)
	f.submitter.mu.Unlock()
	assert.Zero(t, enviados, "la posición 2 no puede salir antes que la 1")

	require.NoError(t, f.orch.Process(ctx, "inv-1"))
	require.NoError(t, <-done)

	require.Len(t, f.submitter.payloads, 2)
	assert.Contains(t, string(f.submitter.payloads[0]), "FA2026/0042")
	assert.Contains(t, string(f.submitter.payloads[1]), "FA2026/0043")
	inv2Final, _ := f.invoices.GetByID(ctx, "inv-2")
	assert.Equal(t, entity.StatusVerified, inv2Final.Status)
}

// Cada intento de transporte deja su propio sobre de auditoría; solo el último
// lleva el desenlace de negocio.
func TestOrchestrator_AuditoriaUnSobrePorIntento(t *testing.T) {
	f := newOrchestratorFixture(t, true, acceptedResult)
	f.submitter.attempts = []func(rec aeat.AttemptRecorder){
		func(rec aeat.AttemptRecorder) {
			rec(1, 503, "")
			rec(2, 200, "")
		},
	}

	require.NoError(t, f.orch.Process(context.Background(), "inv-1"))

	subs, _ := f.submissions.ListByInvoice(context.Background(), "inv-1")
	require.Len(t, subs, 2)
	assert.Equal(t, 1, subs[0].Attempt)
	assert.Equal(t, 503, subs[0].HTTPStatus)
	assert.Empty(t, subs[0].EstadoEnvio)
	assert.Equal(t, 2, subs[1].Attempt)
	assert.Equal(t, 200, subs[1].HTTPStatus)
	assert.Equal(t, "Correcto", subs[1].EstadoEnvio)
	assert.Equal(t, "CSV-AEAT-OK-1", subs[1].CSV)
	assert.NotEqual(t, subs[0].ID, subs[1].ID)
}

// La subsanación tras un rechazo encadena un registro de MODIFICACION que
// referencia al alta original; el alta permanece intacta en la cadena.
func TestOrchestrator_AmendEncadenaModificacion(t *testing.T) {
	rejection := &verifactu.AuthorityRejection{
		EstadoEnvio: "Incorrecto",
		Lines: []verifactu.RejectionLine{
			{Code: "1117", Description: "El NIF del destinatario no está identificado"},
		},
	}
	f := newOrchestratorFixture(t, true,
		func() (*aeat.SubmitResult, error) { return nil, rejection },
		acceptedResult,
	)
	ctx := context.Background()

	require.NoError(t, f.orch.Process(ctx, "inv-1"))
	require.Equal(t, entity.StatusRejected, f.invoice(t).Status)

	require.NoError(t, f.orch.Amend(ctx, "inv-1", "Subsanado el NIF del destinatario"))

	records, _ := f.records.GetByInvoiceID(ctx, "inv-1")
	require.Len(t, records, 2)
	mod := records[1]
	assert.Equal(t, entity.RecordModificacion, mod.Type)
	assert.Equal(t, int64(2), mod.ChainPosition)
	assert.Equal(t, records[0].Huella, mod.HuellaAnterior)
	assert.Equal(t, records[0].ID, mod.RefExterna)
	require.Len(t, f.submitter.payloads, 2)
}

// Sin registro presentado no hay nada que subsanar.
func TestOrchestrator_AmendExigeRegistroPresentado(t *testing.T) {
	f := newOrchestratorFixture(t, true, acceptedResult)

	err := f.orch.Amend(context.Background(), "inv-1", "corrección de importes")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}
