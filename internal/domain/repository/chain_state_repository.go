package repository

import "context"

// ChainStateRepository es el puerto del libro de encadenamiento por emisor.
// La implementación debe garantizar linealizabilidad por emisor: dos commits
// concurrentes leídos sobre el mismo eslabón no pueden prosperar ambos.
type ChainStateRepository interface {
	// GetCurrentLink devuelve la última huella comprometida y su posición.
	// Cadena sin iniciar: huella vacía y posición 0, sin error.
	GetCurrentLink(ctx context.Context, companyID string) (huella string, position int64, err error)

	// CommitLink avanza el eslabón con compare-and-swap sobre la huella
	// almacenada. Si expectedPrev quedó obsoleta devuelve
	// verifactu.ErrChainConflict y el llamador debe reconstruir el registro.
	// Devuelve la posición del eslabón nuevo (1-based).
	CommitLink(ctx context.Context, companyID, expectedPrev, newHuella string) (position int64, err error)
}
