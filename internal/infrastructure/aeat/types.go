// Package aeat implementa la capa de intercambio con los servicios VERI*FACTU
// de la AEAT: generación del XML de suministro, validación estructural previa
// al envío y cliente SOAP con TLS mutuo y pinning de certificado.
package aeat

import (
	"github.com/facturia/verifactu-api/internal/domain/entity"
)

// Namespaces oficiales del suministro VERI*FACTU.
const (
	// NsSum esquema de la operación RegFactuSistemaFacturacion.
	NsSum = "https://www2.agenciatributaria.gob.es/static_files/common/internet/dep/aplicaciones/es/aeat/tike/cont/ws/SuministroLR.xsd"
	// NsSum1 tipos comunes (Cabecera, RegistroAlta, RegistroAnulacion...).
	NsSum1 = "https://www2.agenciatributaria.gob.es/static_files/common/internet/dep/aplicaciones/es/aeat/tike/cont/ws/SuministroInformacion.xsd"

	// RootElement nombre local del elemento raíz del envío.
	RootElement = "RegFactuSistemaFacturacion"
)

// Identificación del sistema informático de facturación (SistemaInformatico),
// obligatoria en cada registro.
const (
	SistemaNombre      = "verifactu-api"
	SistemaID          = "77"
	SistemaVersion     = "1.0"
	SistemaInstalacion = "001"
)

// EnvelopeContext agrupa el obligado a emitir y los registros a suministrar
// en un mismo envío.
type EnvelopeContext struct {
	Company *entity.Company
	Records []*entity.Record
}
