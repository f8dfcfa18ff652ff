package repository

import (
	"context"

	"github.com/facturia/verifactu-api/internal/domain/entity"
)

// CompanyRepository define el puerto de persistencia para Company (DIP).
// La implementación vive en infrastructure.
type CompanyRepository interface {
	Create(ctx context.Context, company *entity.Company) error
	GetByID(ctx context.Context, id string) (*entity.Company, error)
	GetByNIF(ctx context.Context, nif string) (*entity.Company, error)
}
