// Certificate pinning del servidor AEAT: se fija la huella SHA-256 del
// SubjectPublicKeyInfo (SPKI) esperado por hostname. Un pin que no casa es
// un fallo de certificado, nunca un error de red reintentable.

package aeat

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/facturia/verifactu-api/internal/domain/verifactu"
)

// PinStore resuelve el pin SPKI esperado para un hostname. Sin pin registrado
// para el host, la verificación estándar de la cadena es suficiente.
type PinStore interface {
	PinFor(host string) (string, bool)
}

// StaticPinStore es un PinStore inmutable construido desde configuración.
type StaticPinStore map[string]string

// PinFor devuelve el pin configurado para el host.
func (s StaticPinStore) PinFor(host string) (string, bool) {
	pin, ok := s[host]
	return pin, ok
}

// SPKIFingerprint calcula la huella SHA-256 del SPKI en Base64, el mismo
// formato que usan HPKP y la configuración VERIFACTU_PINNED_CERTS.
func SPKIFingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// verifyPinnedChain comprueba que algún certificado de la cadena presentada
// coincide con el pin esperado. Se acepta el pin en cualquier eslabón (hoja o
// intermedia) para sobrevivir rotaciones de la hoja.
func verifyPinnedChain(rawCerts [][]byte, expectedPin string) error {
	var seen []string
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			continue
		}
		fp := SPKIFingerprint(cert)
		if fp == expectedPin {
			return nil
		}
		seen = append(seen, fp)
	}
	return &verifactu.CertificateError{
		Reason: fmt.Sprintf("pin SPKI no coincide: esperado %s, presentados %v", expectedPin, seen),
	}
}

// tlsConfigWithPinning construye la configuración TLS de salida: certificado
// de cliente (mTLS) y, si hay pin para el host, verificación adicional del
// certificado del servidor. La verificación estándar de la cadena sigue
// activa; el pin es una condición extra, no un reemplazo.
func tlsConfigWithPinning(clientCert tls.Certificate, host string, pins PinStore) *tls.Config {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if len(clientCert.Certificate) > 0 {
		cfg.Certificates = []tls.Certificate{clientCert}
	}
	if pins == nil {
		return cfg
	}
	pin, ok := pins.PinFor(host)
	if !ok {
		return cfg
	}
	cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		return verifyPinnedChain(rawCerts, pin)
	}
	return cfg
}
