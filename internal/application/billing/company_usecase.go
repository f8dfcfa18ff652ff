package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/facturia/verifactu-api/internal/application/dto"
	"github.com/facturia/verifactu-api/internal/domain"
	"github.com/facturia/verifactu-api/internal/domain/entity"
	"github.com/facturia/verifactu-api/internal/domain/repository"
	pkgvf "github.com/facturia/verifactu-api/pkg/verifactu"
)

// CompanyUseCase gestiona el alta y consulta de obligados tributarios.
type CompanyUseCase struct {
	repo repository.CompanyRepository
}

// NewCompanyUseCase construye el caso de uso.
func NewCompanyUseCase(repo repository.CompanyRepository) *CompanyUseCase {
	return &CompanyUseCase{repo: repo}
}

// Create da de alta un emisor. El NIF debe superar la validación mod-23 de la
// AEAT antes de tocar la DB.
func (uc *CompanyUseCase) Create(ctx context.Context, in dto.CreateCompanyRequest) (*entity.Company, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("nombre requerido: %w", domain.ErrInvalidInput)
	}
	nif := strings.ToUpper(strings.TrimSpace(in.NIF))
	if err := pkgvf.ValidateNIF(nif); err != nil {
		return nil, fmt.Errorf("nif del emisor: %v: %w", err, domain.ErrInvalidInput)
	}
	if existing, err := uc.repo.GetByNIF(ctx, nif); err == nil && existing != nil {
		return nil, fmt.Errorf("emisor con NIF %s ya registrado: %w", nif, domain.ErrDuplicate)
	}
	now := time.Now()
	company := &entity.Company{
		ID:        uuid.NewString(),
		Name:      name,
		NIF:       nif,
		Address:   strings.TrimSpace(in.Address),
		Phone:     strings.TrimSpace(in.Phone),
		Email:     strings.TrimSpace(in.Email),
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := uc.repo.Create(ctx, company); err != nil {
		return nil, err
	}
	return company, nil
}

// GetByID devuelve un emisor por id.
func (uc *CompanyUseCase) GetByID(ctx context.Context, id string) (*entity.Company, error) {
	return uc.repo.GetByID(ctx, id)
}
