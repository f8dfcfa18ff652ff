package entity

import "time"

// ChainState es el estado de encadenamiento por emisor: la huella del último
// registro aceptado para encadenar y su posición. Solo lo muta el commit del
// eslabón (compare-and-swap); un envío fallido nunca lo toca.
type ChainState struct {
	CompanyID    string
	LastHuella   string // vacío = cadena sin iniciar
	LastPosition int64
	UpdatedAt    time.Time
}
