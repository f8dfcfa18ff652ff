package entity

import "time"

// Company representa un obligado tributario emisor de facturas (multi-tenant).
type Company struct {
	ID        string
	Name      string
	NIF       string // NIF/CIF español del obligado a emitir
	Address   string
	Phone     string
	Email     string
	Status    string // active, suspended, inactive
	CreatedAt time.Time
	UpdatedAt time.Time
}
