package billing

import (
	"context"
	"sync"

	"github.com/facturia/verifactu-api/internal/domain"
	"github.com/facturia/verifactu-api/internal/domain/entity"
)

// Dobles en memoria de los puertos de persistencia.

type memCompanyRepo struct {
	mu    sync.Mutex
	items map[string]*entity.Company
}

func newMemCompanyRepo() *memCompanyRepo {
	return &memCompanyRepo{items: map[string]*entity.Company{}}
}

func (r *memCompanyRepo) Create(_ context.Context, c *entity.Company) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[c.ID] = c
	return nil
}

func (r *memCompanyRepo) GetByID(_ context.Context, id string) (*entity.Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

func (r *memCompanyRepo) GetByNIF(_ context.Context, nif string) (*entity.Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.items {
		if c.NIF == nif {
			return c, nil
		}
	}
	return nil, domain.ErrNotFound
}

type memCustomerRepo struct {
	mu    sync.Mutex
	items map[string]*entity.Customer
}

func newMemCustomerRepo() *memCustomerRepo {
	return &memCustomerRepo{items: map[string]*entity.Customer{}}
}

func (r *memCustomerRepo) Create(_ context.Context, c *entity.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[c.ID] = c
	return nil
}

func (r *memCustomerRepo) GetByID(_ context.Context, id string) (*entity.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

type memInvoiceRepo struct {
	mu    sync.Mutex
	items map[string]*entity.Invoice
}

func newMemInvoiceRepo() *memInvoiceRepo {
	return &memInvoiceRepo{items: map[string]*entity.Invoice{}}
}

func (r *memInvoiceRepo) Create(_ context.Context, inv *entity.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, other := range r.items {
		if other.CompanyID == inv.CompanyID && other.SeriesNumber() == inv.SeriesNumber() {
			return domain.ErrDuplicate
		}
	}
	r.items[inv.ID] = inv
	return nil
}

func (r *memInvoiceRepo) GetByID(_ context.Context, id string) (*entity.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return inv, nil
}

func (r *memInvoiceRepo) UpdateCompliance(_ context.Context, inv *entity.Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[inv.ID]; !ok {
		return domain.ErrNotFound
	}
	r.items[inv.ID] = inv
	return nil
}

func (r *memInvoiceRepo) GetComplianceStatus(ctx context.Context, id string) (*entity.Invoice, error) {
	return r.GetByID(ctx, id)
}

type memRecordRepo struct {
	mu    sync.Mutex
	items []*entity.Record
}

func (r *memRecordRepo) Create(_ context.Context, rec *entity.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, rec)
	return nil
}

func (r *memRecordRepo) GetByID(_ context.Context, id string) (*entity.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.items {
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
	for _, rec := range r.items {
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
	for _, rec := range r.items {
		if rec.CompanyID == companyID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type memSubmissionRepo struct {
	mu    sync.Mutex
	items []*entity.Submission
}

func (r *memSubmissionRepo) Create(_ context.Context, s *entity.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, s)
	return nil
}

func (r *memSubmissionRepo) ListByInvoice(_ context.Context, invoiceID string) ([]*entity.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.Submission
	for _, s := range r.items {
		if s.InvoiceID == invoiceID {
			out = append(out, s)
		}
	}
	return out, nil
}
