package aeat

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/facturia/verifactu-api/internal/domain/verifactu"
	"github.com/facturia/verifactu-api/pkg/config"
	pkgvf "github.com/facturia/verifactu-api/pkg/verifactu"
)

// ── Endpoints oficiales ────────────────────────────────────────────────────────

const (
	submitURLProd    = "https://www1.agenciatributaria.gob.es/wlpl/TIKE-CONT/ws/SistemaFacturacion/VerifactuSOAP"
	submitURLSandbox = "https://prewww1.aeat.es/wlpl/TIKE-CONT/ws/SistemaFacturacion/VerifactuSOAP"
	queryURLProd     = "https://www1.agenciatributaria.gob.es/wlpl/TIKE-CONT/ws/SistemaFacturacion/ConsultaSOAP"
	queryURLSandbox  = "https://prewww1.aeat.es/wlpl/TIKE-CONT/ws/SistemaFacturacion/ConsultaSOAP"

	soapNS = "http://schemas.xmlsoap.org/soap/envelope/"

	maxResponseBytes = 1 << 20 // max 1 MB
)

// ── Puerto (interfaz) ──────────────────────────────────────────────────────────

// ResponseLine es la respuesta de la AEAT a un registro individual del envío.
type ResponseLine struct {
	NumSerieFactura string
	EstadoRegistro  string
	Code            string
	Description     string
}

// SubmitResult es el resultado de un envío aceptado por la AEAT.
type SubmitResult struct {
	EstadoEnvio string
	CSV         string // código seguro de verificación; prueba de la entrega
	Lines       []ResponseLine
	Attempts    int
	RawResponse []byte
}

// QueryResult es el estado de un registro previamente enviado.
type QueryResult struct {
	EstadoRegistro string
	CSV            string
	Code           string
	Description    string
}

// AttemptRecorder recibe el desenlace de cada intento de transporte; permite
// persistir el sobre y el resultado intento a intento. Se pasa por llamada,
// nunca se guarda en el cliente: un mismo cliente sirve envíos concurrentes
// de varios emisores.
type AttemptRecorder func(attempt int, httpStatus int, transportErr string)

// Submitter define el puerto de salida hacia el servicio VERI*FACTU de la
// AEAT. La implementación concreta usa SOAP; para tests se inyecta un mock.
type Submitter interface {
	// Submit entrega un RegFactuSistemaFacturacion ya validado. Reintenta
	// solo fallos de transporte; un rechazo de negocio o un fallo de
	// certificado es terminal y vuelve sin reintentar. rec puede ser nil.
	Submit(ctx context.Context, payload []byte, rec AttemptRecorder) (*SubmitResult, error)
	// QueryStatus consulta el estado de un registro ya presentado.
	QueryStatus(ctx context.Context, nif, numSerieFactura string, fechaExpedicion time.Time) (*QueryResult, error)
}

// ── Implementación SOAP ────────────────────────────────────────────────────────

// SOAPClient implementa Submitter contra el WS SOAP de la AEAT con TLS mutuo
// (certificado del obligado) y pinning opcional del certificado del servidor.
type SOAPClient struct {
	httpClient  *http.Client
	submitURL   string
	queryURL    string
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	logger      zerolog.Logger
}

// NewSOAPClient construye el cliente según la configuración: entorno
// (producción o sandbox), certificado de cliente y pines SPKI.
func NewSOAPClient(cfg config.VeriFactuConfig, clientCert tls.Certificate, log zerolog.Logger) (*SOAPClient, error) {
	submitURL, queryURL := endpointsFor(cfg)

	host, err := hostOf(submitURL)
	if err != nil {
		return nil, fmt.Errorf("aeat: endpoint de envío inválido: %w", err)
	}

	tlsCfg := tlsConfigWithPinning(clientCert, host, StaticPinStore(cfg.PinnedCerts))
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoffBase := cfg.BackoffBase
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	backoffCap := cfg.BackoffCap
	if backoffCap <= 0 {
		backoffCap = 30 * time.Second
	}

	return &SOAPClient{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		},
		submitURL:   submitURL,
		queryURL:    queryURL,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
		logger:      log,
	}, nil
}

func endpointsFor(cfg config.VeriFactuConfig) (submit, query string) {
	if cfg.Environment == pkgvf.EnvProduction {
		submit, query = submitURLProd, queryURLProd
	} else {
		submit, query = submitURLSandbox, queryURLSandbox
	}
	if cfg.SubmitURL != "" {
		submit = cfg.SubmitURL
	}
	if cfg.QueryURL != "" {
		query = cfg.QueryURL
	}
	return submit, query
}

func hostOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	return u.Hostname(), nil
}

// ── Submit ─────────────────────────────────────────────────────────────────────

// Submit entrega el payload con reintentos de transporte acotados: backoff
// exponencial desde backoffBase con techo backoffCap, máximo maxAttempts
// intentos. Errores de certificado, rechazos de negocio y respuestas no
// interpretables cortan el bucle de inmediato.
func (c *SOAPClient) Submit(ctx context.Context, payload []byte, rec AttemptRecorder) (*SubmitResult, error) {
	envelope := wrapSOAP(payload)

	var lastErr error
	delay := c.backoffBase
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			c.logger.Warn().Int("intento", attempt).Dur("espera", delay).
				Msg("reintentando envío a la AEAT")
			select {
			case <-ctx.Done():
				return nil, &verifactu.TransportError{Attempts: attempt - 1, Err: ctx.Err()}
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.backoffCap {
				delay = c.backoffCap
			}
		}

		status, raw, err := c.post(ctx, c.submitURL, envelope)
		record(rec, attempt, status, err)

		if err != nil {
			// Un fallo de pinning o de certificado de cliente no se arregla
			// reintentando; se propaga tal cual para que el operador actúe.
			var certErr *verifactu.CertificateError
			if errors.As(err, &certErr) {
				return nil, certErr
			}
			lastErr = err
			continue
		}

		if status >= 500 {
			lastErr = fmt.Errorf("HTTP %d del servicio AEAT", status)
			continue
		}
		if status != http.StatusOK {
			return nil, &verifactu.TransportError{
				Attempts: attempt,
				Err:      fmt.Errorf("HTTP %d del servicio AEAT: %s", status, truncate(raw, 512)),
			}
		}

		result, err := parseSubmitResponse(raw)
		if err != nil {
			return nil, err // AuthorityRejection o ParseError; ambos terminales
		}
		result.Attempts = attempt
		return result, nil
	}

	return nil, &verifactu.TransportError{Attempts: c.maxAttempts, Err: lastErr}
}

// post hace una llamada SOAP y devuelve el status HTTP y el cuerpo crudo.
func (c *SOAPClient) post(ctx context.Context, endpoint string, envelope []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(envelope))
	if err != nil {
		return 0, nil, fmt.Errorf("soap: crear request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("soap: llamada HTTP fallida: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("soap: leer respuesta: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func record(rec AttemptRecorder, attempt, status int, err error) {
	if rec == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	rec(attempt, status, msg)
}

// wrapSOAP envuelve el RegFactuSistemaFacturacion en un Envelope SOAP 1.1.
// El payload ya viene serializado y canonicalizado; se inserta tal cual.
func wrapSOAP(payload []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(`<soapenv:Envelope xmlns:soapenv="` + soapNS + `"><soapenv:Header/><soapenv:Body>`)
	buf.Write(payload)
	buf.WriteString(`</soapenv:Body></soapenv:Envelope>`)
	return buf.Bytes()
}

// ── Estructuras de respuesta SOAP ─────────────────────────────────────────────

type soapResponseEnvelope struct {
	Body soapResponseBody `xml:"Body"`
}

type soapResponseBody struct {
	Respuesta *respuestaRegFactu `xml:"RespuestaRegFactuSistemaFacturacion"`
	Consulta  *respuestaConsulta `xml:"RespuestaConsultaFactuSistemaFacturacion"`
	Fault     *soapFault         `xml:"Fault"`
}

type respuestaRegFactu struct {
	CSV            string           `xml:"CSV"`
	EstadoEnvio    string           `xml:"EstadoEnvio"`
	RespuestaLinea []respuestaLinea `xml:"RespuestaLinea"`
}

type respuestaLinea struct {
	IDFactura struct {
		NumSerieFactura string `xml:"NumSerieFactura"`
	} `xml:"IDFactura"`
	EstadoRegistro           string `xml:"EstadoRegistro"`
	CodigoErrorRegistro      string `xml:"CodigoErrorRegistro"`
	DescripcionErrorRegistro string `xml:"DescripcionErrorRegistro"`
}

type respuestaConsulta struct {
	RegistroRespuestaConsulta []struct {
		EstadoRegistro struct {
			EstadoRegistro           string `xml:"EstadoRegistro"`
			CodigoErrorRegistro      string `xml:"CodigoErrorRegistro"`
			DescripcionErrorRegistro string `xml:"DescripcionErrorRegistro"`
		} `xml:"EstadoRegistro"`
		CSV string `xml:"CSV"`
	} `xml:"RegistroRespuestaConsultaFactuSistemaFacturacion"`
}

type soapFault struct {
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
}

// parseSubmitResponse interpreta la respuesta de la AEAT. Correcto devuelve
// el resultado con su CSV; Incorrecto y ParcialmenteCorrecto son rechazos de
// negocio (terminales); lo no interpretable es un ParseError.
func parseSubmitResponse(raw []byte) (*SubmitResult, error) {
	var env soapResponseEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, &verifactu.ParseError{Raw: string(raw), Err: err}
	}

	if env.Body.Fault != nil {
		return nil, &verifactu.TransportError{
			Attempts: 1,
			Err:      fmt.Errorf("SOAP Fault [%s]: %s", env.Body.Fault.FaultCode, env.Body.Fault.FaultString),
		}
	}

	resp := env.Body.Respuesta
	if resp == nil {
		return nil, &verifactu.ParseError{
			Raw: string(raw),
			Err: errors.New("respuesta sin RespuestaRegFactuSistemaFacturacion"),
		}
	}

	lines := make([]ResponseLine, 0, len(resp.RespuestaLinea))
	for _, l := range resp.RespuestaLinea {
		lines = append(lines, ResponseLine{
			NumSerieFactura: l.IDFactura.NumSerieFactura,
			EstadoRegistro:  l.EstadoRegistro,
			Code:            l.CodigoErrorRegistro,
			Description:     l.DescripcionErrorRegistro,
		})
	}

	switch resp.EstadoEnvio {
	case pkgvf.EstadoEnvioCorrecto:
		return &SubmitResult{
			EstadoEnvio: resp.EstadoEnvio,
			CSV:         resp.CSV,
			Lines:       lines,
			RawResponse: raw,
		}, nil
	case pkgvf.EstadoEnvioIncorrecto, pkgvf.EstadoEnvioParcial:
		rej := &verifactu.AuthorityRejection{EstadoEnvio: resp.EstadoEnvio, CSV: resp.CSV}
		for _, l := range lines {
			if l.EstadoRegistro == pkgvf.EstadoRegistroCorrecto {
				continue
			}
			rej.Lines = append(rej.Lines, verifactu.RejectionLine{Code: l.Code, Description: l.Description})
		}
		return nil, rej
	default:
		return nil, &verifactu.ParseError{
			Raw: string(raw),
			Err: fmt.Errorf("EstadoEnvio desconocido %q", resp.EstadoEnvio),
		}
	}
}

// ── QueryStatus ───────────────────────────────────────────────────────────────

// QueryStatus consulta el estado de un registro presentado. Es una operación
// de solo lectura; un fallo de transporte aquí no se reintenta (el sondeo se
// repetirá de todos modos).
func (c *SOAPClient) QueryStatus(ctx context.Context, nif, numSerieFactura string, fechaExpedicion time.Time) (*QueryResult, error) {
	envelope := buildQueryEnvelope(nif, numSerieFactura, fechaExpedicion)

	status, raw, err := c.post(ctx, c.queryURL, envelope)
	if err != nil {
		var certErr *verifactu.CertificateError
		if errors.As(err, &certErr) {
			return nil, certErr
		}
		return nil, &verifactu.TransportError{Attempts: 1, Err: err}
	}
	if status != http.StatusOK {
		return nil, &verifactu.TransportError{
			Attempts: 1,
			Err:      fmt.Errorf("HTTP %d en consulta AEAT: %s", status, truncate(raw, 512)),
		}
	}

	var env soapResponseEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return nil, &verifactu.ParseError{Raw: string(raw), Err: err}
	}
	if env.Body.Fault != nil {
		return nil, &verifactu.TransportError{
			Attempts: 1,
			Err:      fmt.Errorf("SOAP Fault [%s]: %s", env.Body.Fault.FaultCode, env.Body.Fault.FaultString),
		}
	}
	if env.Body.Consulta == nil || len(env.Body.Consulta.RegistroRespuestaConsulta) == 0 {
		return nil, &verifactu.ParseError{
			Raw: string(raw),
			Err: errors.New("consulta sin registros en la respuesta"),
		}
	}

	reg := env.Body.Consulta.RegistroRespuestaConsulta[0]
	return &QueryResult{
		EstadoRegistro: reg.EstadoRegistro.EstadoRegistro,
		CSV:            reg.CSV,
		Code:           reg.EstadoRegistro.CodigoErrorRegistro,
		Description:    reg.EstadoRegistro.DescripcionErrorRegistro,
	}, nil
}

// buildQueryEnvelope arma la ConsultaFactuSistemaFacturacion por NIF del
// emisor, número de serie y periodo de imputación de la fecha de expedición.
func buildQueryEnvelope(nif, numSerieFactura string, fechaExpedicion time.Time) []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(`<soapenv:Envelope xmlns:soapenv="` + soapNS + `"><soapenv:Header/><soapenv:Body>`)
	buf.WriteString(`<con:ConsultaFactuSistemaFacturacion xmlns:con="` + NsSum + `" xmlns:sum1="` + NsSum1 + `">`)
	buf.WriteString(`<con:Cabecera><sum1:IDVersion>` + pkgvf.IDVersion + `</sum1:IDVersion>`)
	buf.WriteString(`<sum1:ObligadoEmision><sum1:NIF>` + xmlEscape(nif) + `</sum1:NIF></sum1:ObligadoEmision></con:Cabecera>`)
	buf.WriteString(`<con:FiltroConsulta>`)
	buf.WriteString(`<con:PeriodoImputacion>`)
	buf.WriteString(`<sum1:Ejercicio>` + fechaExpedicion.Format("2006") + `</sum1:Ejercicio>`)
	buf.WriteString(`<sum1:Periodo>` + fechaExpedicion.Format("01") + `</sum1:Periodo>`)
	buf.WriteString(`</con:PeriodoImputacion>`)
	buf.WriteString(`<con:NumSerieFactura>` + xmlEscape(numSerieFactura) + `</con:NumSerieFactura>`)
	buf.WriteString(`</con:FiltroConsulta>`)
	buf.WriteString(`</con:ConsultaFactuSistemaFacturacion>`)
	buf.WriteString(`</soapenv:Body></soapenv:Envelope>`)
	return buf.Bytes()
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func truncate(raw []byte, n int) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > n {
		return s[:n] + "…"
	}
	return s
}
