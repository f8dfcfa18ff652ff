// Package verifactu contiene catálogos y validaciones alineados a la
// especificación técnica de los sistemas VERI*FACTU (AEAT, RD 1007/2023 y
// Orden HAC/1177/2024).
package verifactu

// =============================================================================
// L2 - Tipo de factura (TipoFactura)
// =============================================================================

const (
	TipoFacturaCompleta     = "F1" // Factura completa (art. 6 RD 1619/2012)
	TipoFacturaSimplificada = "F2" // Factura simplificada (ticket)
	TipoFacturaR1           = "R1" // Rectificativa: error fundado en derecho / art. 80 LIVA
	TipoFacturaR2           = "R2" // Rectificativa: concurso de acreedores
	TipoFacturaR3           = "R3" // Rectificativa: créditos incobrables
	TipoFacturaR4           = "R4" // Rectificativa: resto
	TipoFacturaR5           = "R5" // Rectificativa de facturas simplificadas
)

// ValidTipoFactura códigos de tipo de factura admitidos en RegistroAlta.
var ValidTipoFactura = map[string]bool{
	TipoFacturaCompleta: true, TipoFacturaSimplificada: true,
	TipoFacturaR1: true, TipoFacturaR2: true, TipoFacturaR3: true,
	TipoFacturaR4: true, TipoFacturaR5: true,
}

// =============================================================================
// L12 - Tipo de huella (TipoHuella)
// =============================================================================

const (
	// TipoHuellaSHA256 único algoritmo admitido por la especificación.
	TipoHuellaSHA256 = "01"
)

// =============================================================================
// Versión del esquema de suministro
// =============================================================================

const (
	// IDVersion versión del anexo técnico implementada.
	IDVersion = "1.0"
)

// =============================================================================
// Entornos del servicio web AEAT
// =============================================================================

const (
	EnvProduction = "production" // www1.agenciatributaria.gob.es
	EnvSandbox    = "sandbox"    // prewww1.aeat.es (entorno de pruebas)
)

// =============================================================================
// EstadoEnvio devuelto por la AEAT en RespuestaRegFactuSistemaFacturacion
// =============================================================================

const (
	EstadoEnvioCorrecto       = "Correcto"
	EstadoEnvioParcial        = "ParcialmenteCorrecto"
	EstadoEnvioIncorrecto     = "Incorrecto"
	EstadoRegistroCorrecto    = "Correcto"
	EstadoRegistroAceptadoErr = "AceptadoConErrores"
	EstadoRegistroIncorrecto  = "Incorrecto"
)

// =============================================================================
// Países (operaciones con contraparte extranjera sin NIF español)
// =============================================================================

const (
	CountryES = "ES"
)

// IDTypeOtro códigos IDType para contrapartes no españolas (L7).
const (
	IDTypeNIFIVA    = "02" // NIF-IVA intracomunitario
	IDTypePasaporte = "03"
	IDTypeOficial   = "04" // Documento oficial del país de residencia
	IDTypeNoCensado = "07"
)
