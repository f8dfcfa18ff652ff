package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/facturia/verifactu-api/internal/domain/repository"
	"github.com/facturia/verifactu-api/internal/domain/verifactu"
)

var _ repository.ChainStateRepository = (*ChainStateRepo)(nil)

// ChainStateRepo implementa el libro de encadenamiento por emisor sobre
// PostgreSQL. La linealizabilidad la da un compare-and-swap en SQL: el UPDATE
// solo prospera si la huella almacenada sigue siendo la que leyó el llamador.
type ChainStateRepo struct {
	pool *pgxpool.Pool
}

// NewChainStateRepository construye el adaptador del libro de encadenamiento.
func NewChainStateRepository(pool *pgxpool.Pool) *ChainStateRepo {
	return &ChainStateRepo{pool: pool}
}

// GetCurrentLink devuelve la última huella comprometida del emisor y su
// posición. Cadena sin iniciar: huella vacía y posición 0, sin error.
func (r *ChainStateRepo) GetCurrentLink(ctx context.Context, companyID string) (string, int64, error) {
	query := `
		SELECT last_huella, last_position
		FROM verifactu_chain_states WHERE company_id = $1`
	var huella string
	var position int64
	err := querierFrom(ctx, r.pool).QueryRow(ctx, query, companyID).Scan(&huella, &position)
	if err != nil {
		if isNoRows(err) {
			return "", 0, nil
		}
		return "", 0, fmt.Errorf("get chain state: %w", err)
	}
	return huella, position, nil
}

// CommitLink avanza el eslabón del emisor con CAS. Si expectedPrev está vacía
// intenta abrir la cadena; en ambos casos, perder la carrera contra otro
// commit devuelve verifactu.ErrChainConflict.
func (r *ChainStateRepo) CommitLink(ctx context.Context, companyID, expectedPrev, newHuella string) (int64, error) {
	q := querierFrom(ctx, r.pool)

	if expectedPrev == "" {
		// Apertura de cadena: el INSERT pierde si otra goroutine ya abrió.
		query := `
			INSERT INTO verifactu_chain_states (company_id, last_huella, last_position, updated_at)
			VALUES ($1, $2, 1, NOW())
			ON CONFLICT (company_id) DO NOTHING
			RETURNING last_position`
		var position int64
		err := q.QueryRow(ctx, query, companyID, newHuella).Scan(&position)
		if err != nil {
			if isNoRows(err) {
				return 0, verifactu.ErrChainConflict
			}
			return 0, fmt.Errorf("open chain: %w", err)
		}
		return position, nil
	}

	query := `
		UPDATE verifactu_chain_states
		SET last_huella = $3, last_position = last_position + 1, updated_at = NOW()
		WHERE company_id = $1 AND last_huella = $2
		RETURNING last_position`
	var position int64
	err := q.QueryRow(ctx, query, companyID, expectedPrev, newHuella).Scan(&position)
	if err != nil {
		if isNoRows(err) {
			// La huella leída quedó obsoleta: otro commit ganó el CAS.
			return 0, verifactu.ErrChainConflict
		}
		return 0, fmt.Errorf("advance chain: %w", err)
	}
	return position, nil
}
