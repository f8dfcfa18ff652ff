package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/facturia/verifactu-api/internal/domain"
	"github.com/facturia/verifactu-api/internal/domain/entity"
	"github.com/facturia/verifactu-api/internal/domain/repository"
)

var _ repository.CompanyRepository = (*CompanyRepo)(nil)

// CompanyRepo implementación del puerto CompanyRepository sobre PostgreSQL.
type CompanyRepo struct {
	pool *pgxpool.Pool
}

// NewCompanyRepository construye el adaptador de persistencia para emisores.
func NewCompanyRepository(pool *pgxpool.Pool) *CompanyRepo {
	return &CompanyRepo{pool: pool}
}

// Create persiste un emisor nuevo.
func (r *CompanyRepo) Create(ctx context.Context, company *entity.Company) error {
	query := `
		INSERT INTO companies (id, name, nif, address, phone, email, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := querierFrom(ctx, r.pool).Exec(ctx, query,
		company.ID, company.Name, company.NIF, company.Address,
		company.Phone, company.Email, company.Status,
		company.CreatedAt, company.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert company: %w", err)
	}
	return nil
}

// GetByID obtiene un emisor por ID.
func (r *CompanyRepo) GetByID(ctx context.Context, id string) (*entity.Company, error) {
	return r.getBy(ctx, "id", id)
}

// GetByNIF obtiene un emisor por NIF.
func (r *CompanyRepo) GetByNIF(ctx context.Context, nif string) (*entity.Company, error) {
	return r.getBy(ctx, "nif", nif)
}

func (r *CompanyRepo) getBy(ctx context.Context, column, value string) (*entity.Company, error) {
	query := `
		SELECT id, name, nif, address, phone, email, status, created_at, updated_at
		FROM companies WHERE ` + column + ` = $1`
	var c entity.Company
	err := querierFrom(ctx, r.pool).QueryRow(ctx, query, value).Scan(
		&c.ID, &c.Name, &c.NIF, &c.Address, &c.Phone, &c.Email, &c.Status,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get company by %s: %w", column, err)
	}
	return &c, nil
}
