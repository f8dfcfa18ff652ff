package repository

import (
	"context"

	"github.com/facturia/verifactu-api/internal/domain/entity"
)

// CustomerRepository define el puerto de persistencia para la contraparte.
type CustomerRepository interface {
	Create(ctx context.Context, customer *entity.Customer) error
	GetByID(ctx context.Context, id string) (*entity.Customer, error)
}
