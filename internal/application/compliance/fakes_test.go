package compliance

// Dobles en memoria de los puertos de persistencia y transporte. El libro de
// encadenamiento replica la semántica CAS del repositorio real.

import (
	"context"
	"sync"
	"time"

	"github.com/facturia/verifactu-api/internal/domain"
	"github.com/facturia/verifactu-api/internal/domain/entity"
	"github.com/facturia/verifactu-api/internal/domain/verifactu"
	"github.com/facturia/verifactu-api/internal/infrastructure/aeat"
)

// ── Libro de encadenamiento (CAS) ─────────────────────────────────────────────

type memChainRepo struct {
	mu    sync.Mutex
	links map[string]struct {
		huella   string
		position int64
	}
}

func newMemChainRepo() *memChainRepo {
	return &memChainRepo{links: make(map[string]struct {
		huella   string
		position int64
	})}
}

func (r *memChainRepo) GetCurrentLink(_ context.Context, companyID string) (string, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link := r.links[companyID]
	return link.huella, link.position, nil
}

func (r *memChainRepo) CommitLink(_ context.Context, companyID, expectedPrev, newHuella string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link := r.links[companyID]
	if link.huella != expectedPrev {
		return 0, verifactu.ErrChainConflict
	}
	link.huella = newHuella
	link.position++
	r.links[companyID] = link
	return link.position, nil
}

// ── Registros ─────────────────────────────────────────────────────────────────

type memRecordRepo struct {
	mu      sync.Mutex
	records []*entity.Record
}

func (r *memRecordRepo) Create(_ context.Context, rec *entity.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *rec
	r.records = append(r.records, &clone)
	return nil
}

func (r *memRecordRepo) GetByID(_ context.Context, id string) (*entity.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memRecordRepo) GetByInvoiceID(_ context.Context, invoiceID string) ([]*entity.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Record
	for _, rec := range r.records {
		if rec.InvoiceID == invoiceID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memRecordRepo) ListByCompany(_ context.Context, companyID string) ([]*entity.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Record
	for _, rec := range r.records {
		if rec.CompanyID == companyID {
			out = append(out, rec)
		}
	}
	// orden por posición de cadena, como el repositorio real
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].ChainPosition > out[j].ChainPosition; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out, nil
}

// ── Facturas, emisores, contrapartes, envíos ──────────────────────────────────

type memInvoiceRepo struct {
	mu       sync.Mutex
	invoices map[string]*entity.Invoice
}

func newMemInvoiceRepo(invs ...*entity.Invoice) *memInvoiceRepo {
	r := &memInvoiceRepo{invoices: make(map[string]*entity.Invoice)}
	for _, inv := range invs {
		r.invoices[inv.ID] = inv
	}
	return r
}

func (r *memInvoiceRepo) Create(_ context.Context, inv *entity.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invoices[inv.ID] = inv
	return nil
}

func (r *memInvoiceRepo) GetByID(_ context.Context, id string) (*entity.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *inv
	return &clone, nil
}

func (r *memInvoiceRepo) UpdateCompliance(_ context.Context, inv *entity.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *inv
	r.invoices[inv.ID] = &clone
	return nil
}

func (r *memInvoiceRepo) GetComplianceStatus(ctx context.Context, id string) (*entity.Invoice, error) {
	return r.GetByID(ctx, id)
}

type memCompanyRepo struct{ companies map[string]*entity.Company }

func (r *memCompanyRepo) Create(_ context.Context, c *entity.Company) error {
	r.companies[c.ID] = c
	return nil
}

func (r *memCompanyRepo) GetByID(_ context.Context, id string) (*entity.Company, error) {
	c, ok := r.companies[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func (r *memCompanyRepo) GetByNIF(_ context.Context, nif string) (*entity.Company, error) {
	for _, c := range r.companies {
		if c.NIF == nif {
			return c, nil
		}
	}
	return nil, domain.ErrNotFound
}

type memCustomerRepo struct{ customers map[string]*entity.Customer }

func (r *memCustomerRepo) Create(_ context.Context, c *entity.Customer) error {
	r.customers[c.ID] = c
	return nil
}

func (r *memCustomerRepo) GetByID(_ context.Context, id string) (*entity.Customer, error) {
	c, ok := r.customers[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

type memSubmissionRepo struct {
	mu          sync.Mutex
	submissions []*entity.Submission
}

func (r *memSubmissionRepo) Create(_ context.Context, s *entity.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *s
	r.submissions = append(r.submissions, &clone)
	return nil
}

func (r *memSubmissionRepo) ListByInvoice(_ context.Context, invoiceID string) ([]*entity.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Submission
	for _, s := range r.submissions {
		if s.InvoiceID == invoiceID {
			out = append(out, s)
		}
	}
	return out, nil
}

// ── Transacción, transporte, notificación ─────────────────────────────────────

// nopTx ejecuta el cierre sin transacción real; los dobles ya son atómicos.
type nopTx struct{}

func (nopTx) RunChain(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// fakeSubmitter responde según un guion de resultados por llamada. Si un paso
// del guion define attempts, el recorder recibe esos intentos; si no, un único
// intento coherente con el desenlace.
type fakeSubmitter struct {
	mu       sync.Mutex
	calls    int
	payloads [][]byte
	script   []func() (*aeat.SubmitResult, error)
	attempts []func(rec aeat.AttemptRecorder)
	query    func() (*aeat.QueryResult, error)
}

func (f *fakeSubmitter) Submit(_ context.Context, payload []byte, rec aeat.AttemptRecorder) (*aeat.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	step := f.calls
	f.calls++
	if step >= len(f.script) {
		step = len(f.script) - 1
	}
	result, err := f.script[step]()
	if rec != nil {
		switch {
		case step < len(f.attempts) && f.attempts[step] != nil:
			f.attempts[step](rec)
		case err != nil && !isRejection(err):
			rec(1, 0, err.Error())
		default:
			rec(1, 200, "")
		}
	}
	return result, err
}

func (f *fakeSubmitter) QueryStatus(_ context.Context, _, _ string, _ time.Time) (*aeat.QueryResult, error) {
	if f.query == nil {
		return nil, domain.ErrNotFound
	}
	return f.query()
}

type memNotifier struct {
	mu     sync.Mutex
	events []NotificationEvent
}

func (n *memNotifier) Notify(_ context.Context, event NotificationEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}
