package aeat

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/beevik/etree"
)

// StructuralValidator realiza las comprobaciones estructurales previas al
// envío. No valida contra XSD (eso lo hace la propia AEAT al recibir): su
// trabajo es que un payload obviamente malformado no consuma un intento de
// red. Devuelve siempre la lista completa de violaciones, nunca solo la
// primera.
type StructuralValidator struct{}

// NewStructuralValidator crea el validador.
func NewStructuralValidator() *StructuralValidator {
	return &StructuralValidator{}
}

// entidades XML válidas tras un '&': &amp; &lt; &gt; &quot; &apos; y
// referencias numéricas &#NNN; / &#xHH;.
var validEntity = regexp.MustCompile(`^&(amp|lt|gt|quot|apos|#[0-9]+|#x[0-9a-fA-F]+);`)

// Validate devuelve todas las violaciones estructurales del payload.
// Lista vacía = apto para envío. El payload llega canonicalizado y por tanto
// sin declaración XML; la declaración la aporta el sobre SOAP del transporte.
func (v *StructuralValidator) Validate(payload []byte) []string {
	var violations []string

	raw := string(payload)
	if strings.TrimSpace(raw) == "" {
		return []string{"payload vacío"}
	}

	// Ampersands sin escapar: rompen el parseo en el receptor aunque algunos
	// parsers locales los toleren.
	for i := 0; i < len(raw); i++ {
		if raw[i] == '&' && !validEntity.MatchString(raw[i:]) {
			violations = append(violations, fmt.Sprintf("ampersand sin escapar en el byte %d", i))
		}
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(payload); err != nil {
		violations = append(violations, "XML mal formado: "+err.Error())
		return violations // sin árbol no hay más comprobaciones posibles
	}

	root := doc.Root()
	if root == nil {
		violations = append(violations, "documento sin elemento raíz")
		return violations
	}
	if localTag(root) != RootElement {
		violations = append(violations, fmt.Sprintf("elemento raíz %q, esperado %q", root.Tag, RootElement))
	}
	if ns := rootNamespace(root); ns != NsSum {
		violations = append(violations, fmt.Sprintf("namespace del raíz %q, esperado %q", ns, NsSum))
	}

	if !balancedTags(raw) {
		violations = append(violations, "etiquetas de apertura y cierre descompensadas")
	}

	violations = append(violations, v.validateCabecera(root)...)
	violations = append(violations, v.validateRegistros(root)...)

	return violations
}

// validateCabecera exige la cabecera con el obligado a emitir completo.
func (v *StructuralValidator) validateCabecera(root *etree.Element) []string {
	var out []string
	cab := findChild(root, "Cabecera")
	if cab == nil {
		return []string{"falta sum:Cabecera"}
	}
	obligado := findChild(cab, "ObligadoEmision")
	if obligado == nil {
		return []string{"falta sum1:ObligadoEmision en la cabecera"}
	}
	if textOf(obligado, "NombreRazon") == "" {
		out = append(out, "falta sum1:NombreRazon del obligado a emitir")
	}
	if textOf(obligado, "NIF") == "" {
		out = append(out, "falta sum1:NIF del obligado a emitir")
	}
	return out
}

// validateRegistros exige al menos un registro y, en cada uno, identificación
// de factura, huella y tipo de huella.
func (v *StructuralValidator) validateRegistros(root *etree.Element) []string {
	var out []string
	var total int
	for _, rf := range root.ChildElements() {
		if localTag(rf) != "RegistroFactura" {
			continue
		}
		for _, reg := range rf.ChildElements() {
			tag := localTag(reg)
			if tag != "RegistroAlta" && tag != "RegistroAnulacion" {
				continue
			}
			total++
			prefix := fmt.Sprintf("registro %d (%s)", total, tag)

			idf := findChild(reg, "IDFactura")
			if idf == nil {
				out = append(out, prefix+": falta sum1:IDFactura")
			} else {
				if textOf(idf, "NumSerieFactura") == "" {
					out = append(out, prefix+": falta sum1:NumSerieFactura")
				}
				if textOf(idf, "FechaExpedicionFactura") == "" {
					out = append(out, prefix+": falta sum1:FechaExpedicionFactura")
				}
			}
			if textOf(reg, "Huella") == "" {
				out = append(out, prefix+": falta sum1:Huella")
			}
			if textOf(reg, "TipoHuella") == "" {
				out = append(out, prefix+": falta sum1:TipoHuella")
			}
			if findChild(reg, "Encadenamiento") == nil {
				out = append(out, prefix+": falta sum1:Encadenamiento")
			}
			if tag == "RegistroAlta" && textOf(reg, "TipoFactura") == "" {
				out = append(out, prefix+": falta sum1:TipoFactura")
			}
		}
	}
	if total == 0 {
		out = append(out, "el envío no contiene ningún RegistroAlta ni RegistroAnulacion")
	}
	return out
}

// ── helpers ───────────────────────────────────────────────────────────────────

// localTag devuelve el nombre local sin prefijo de namespace.
func localTag(e *etree.Element) string {
	if i := strings.Index(e.Tag, ":"); i != -1 {
		return e.Tag[i+1:]
	}
	return e.Tag
}

// rootNamespace resuelve el namespace declarado para el prefijo del raíz
// (o el xmlns por defecto).
func rootNamespace(root *etree.Element) string {
	prefix := root.Space
	attrKey := "xmlns"
	if prefix != "" {
		attrKey = "xmlns:" + prefix
	}
	for _, a := range root.Attr {
		if a.Space == "xmlns" && a.Key == prefix {
			return a.Value
		}
		if a.Space == "" && a.Key == attrKey {
			return a.Value
		}
	}
	return ""
}

func findChild(e *etree.Element, local string) *etree.Element {
	for _, c := range e.ChildElements() {
		if localTag(c) == local {
			return c
		}
	}
	return nil
}

// textOf busca el primer descendiente con ese nombre local y devuelve su texto.
func textOf(e *etree.Element, local string) string {
	if c := findChild(e, local); c != nil {
		return strings.TrimSpace(c.Text())
	}
	for _, c := range e.ChildElements() {
		if t := textOf(c, local); t != "" {
			return t
		}
	}
	return ""
}

// balancedTags recuenta aperturas y cierres como comprobación independiente
// del parser (los self-closing cuentan como equilibrados).
func balancedTags(raw string) bool {
	var opens, closes int
	for i := 0; i < len(raw)-1; i++ {
		if raw[i] != '<' {
			continue
		}
		switch {
		case raw[i+1] == '/':
			closes++
		case raw[i+1] == '?' || raw[i+1] == '!':
			// declaración, comentario o CDATA: no cuenta
		default:
			if end := strings.IndexByte(raw[i:], '>'); end != -1 && raw[i+end-1] == '/' {
				// self-closing
			} else {
				opens++
			}
		}
	}
	return opens == closes
}
