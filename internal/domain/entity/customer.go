package entity

import "time"

// Customer representa la contraparte (destinatario) de una factura.
// Para contrapartes no españolas el NIF puede estar vacío; en ese caso
// CountryCode e IDType identifican el documento extranjero.
type Customer struct {
	ID          string
	CompanyID   string
	Name        string
	NIF         string // NIF/CIF español; vacío si la contraparte es extranjera
	CountryCode string // ISO 3166-1 alfa-2; "ES" por defecto
	IDType      string // código L7 para documentos extranjeros (02, 03, 04, 07)
	IDNumber    string // número del documento extranjero si NIF está vacío
	Email       string
	Address     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
