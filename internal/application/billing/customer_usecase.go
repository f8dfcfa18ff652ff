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

// CustomerUseCase gestiona las contrapartes (destinatarios) de un emisor.
type CustomerUseCase struct {
	repo repository.CustomerRepository
}

// NewCustomerUseCase construye el caso de uso.
func NewCustomerUseCase(repo repository.CustomerRepository) *CustomerUseCase {
	return &CustomerUseCase{repo: repo}
}

// Create da de alta una contraparte. Españolas: NIF válido. Extranjeras:
// country_code distinto de ES más id_type (L7) e id_number.
func (uc *CustomerUseCase) Create(ctx context.Context, companyID string, in dto.CreateCustomerRequest) (*entity.Customer, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("nombre requerido: %w", domain.ErrInvalidInput)
	}
	nif := strings.ToUpper(strings.TrimSpace(in.NIF))
	country := strings.ToUpper(strings.TrimSpace(in.CountryCode))
	if country == "" {
		country = "ES"
	}
	if nif != "" {
		if err := pkgvf.ValidateNIF(nif); err != nil {
			return nil, fmt.Errorf("nif del destinatario: %v: %w", err, domain.ErrInvalidInput)
		}
	} else {
		if country == "ES" {
			return nil, fmt.Errorf("destinatario español sin NIF: %w", domain.ErrInvalidInput)
		}
		if in.IDType == "" || strings.TrimSpace(in.IDNumber) == "" {
			return nil, fmt.Errorf("destinatario extranjero requiere id_type e id_number: %w", domain.ErrInvalidInput)
		}
	}
	now := time.Now()
	customer := &entity.Customer{
		ID:          uuid.NewString(),
		CompanyID:   companyID,
		Name:        name,
		NIF:         nif,
		CountryCode: country,
		IDType:      in.IDType,
		IDNumber:    strings.TrimSpace(in.IDNumber),
		Email:       strings.TrimSpace(in.Email),
		Address:     strings.TrimSpace(in.Address),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.repo.Create(ctx, customer); err != nil {
		return nil, err
	}
	return customer, nil
}

// GetByID devuelve la contraparte si pertenece al emisor del token.
func (uc *CustomerUseCase) GetByID(ctx context.Context, companyID, id string) (*entity.Customer, error) {
	customer, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if customer.CompanyID != companyID {
		return nil, domain.ErrForbidden
	}
	return customer, nil
}
