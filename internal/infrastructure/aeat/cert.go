// Carga del certificado del obligado tributario desde .p12 (PKCS#12) o par PEM.

package aeat

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/pkcs12"

	"github.com/facturia/verifactu-api/internal/domain/verifactu"
)

// LoadClientCertificate carga el certificado con el que se autentica el
// emisor ante la AEAT. Si certPath termina en .p12/.pfx se interpreta como
// PKCS#12; en otro caso como PEM (certificado y llave separados o combinados).
func LoadClientCertificate(certPath, keyPath, password string) (tls.Certificate, error) {
	if certPath == "" {
		return tls.Certificate{}, &verifactu.CertificateError{Reason: "ruta de certificado no configurada"}
	}
	var cert tls.Certificate
	var err error
	if isP12(certPath) {
		cert, err = loadFromP12(certPath, password)
	} else {
		cert, err = loadFromPEM(certPath, keyPath)
	}
	if err != nil {
		return tls.Certificate{}, err
	}
	if err := checkExpiry(cert); err != nil {
		return tls.Certificate{}, err
	}
	return cert, nil
}

func isP12(path string) bool {
	n := len(path)
	return (n > 4 && path[n-4:] == ".p12") || (n > 4 && path[n-4:] == ".pfx")
}

// loadFromP12 carga certificado y llave privada desde un archivo .p12/.pfx.
// El password puede ser vacío si el archivo no está protegido.
func loadFromP12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, &verifactu.CertificateError{Reason: "leer p12", Err: err}
	}
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, &verifactu.CertificateError{Reason: "decodificar p12", Err: err}
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  priv,
		Leaf:        cert,
	}, nil
}

// loadFromPEM carga certificado y llave desde archivos PEM (separados o combinados).
func loadFromPEM(certPath, keyPath string) (tls.Certificate, error) {
	if keyPath == "" {
		keyPath = certPath
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, &verifactu.CertificateError{Reason: "cargar PEM", Err: err}
	}
	return cert, nil
}

// checkExpiry rechaza en el arranque un certificado caducado o aún no válido;
// fallar aquí es más claro que un alerta TLS a mitad de un envío.
func checkExpiry(cert tls.Certificate) error {
	leaf := cert.Leaf
	if leaf == nil && len(cert.Certificate) > 0 {
		parsed, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return &verifactu.CertificateError{Reason: "parsear certificado", Err: err}
		}
		leaf = parsed
	}
	if leaf == nil {
		return nil
	}
	now := time.Now()
	if now.After(leaf.NotAfter) {
		return &verifactu.CertificateError{
			Reason: fmt.Sprintf("certificado caducado el %s", leaf.NotAfter.Format("2006-01-02")),
		}
	}
	if now.Before(leaf.NotBefore) {
		return &verifactu.CertificateError{
			Reason: fmt.Sprintf("certificado aún no válido (desde %s)", leaf.NotBefore.Format("2006-01-02")),
		}
	}
	return nil
}
