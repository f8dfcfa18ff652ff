package compliance

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/facturia/verifactu-api/internal/domain/entity"
	"github.com/facturia/verifactu-api/internal/domain/repository"
	"github.com/facturia/verifactu-api/internal/domain/verifactu"
)

// maxChainRebuilds acota cuántas veces se reconstruye un registro que perdió
// el compare-and-swap contra otro commit concurrente del mismo emisor.
const maxChainRebuilds = 3

// ChainService compromete registros en la cadena de su emisor. El commit del
// eslabón y la inserción del registro van en la misma transacción; un CAS
// perdido reconstruye la huella contra el eslabón fresco y reintenta.
type ChainService struct {
	chainRepo  repository.ChainStateRepository
	recordRepo repository.RecordRepository
	huella     *verifactu.HuellaService
	tx         ChainTxRunner
	metrics    Metrics
	logger     zerolog.Logger

	// gate, si está conectado, recibe el ticket de envío de cada eslabón en la
	// misma transacción que lo compromete.
	gate *sendQueue
}

// setSendGate conecta la cola de envíos del orquestador.
func (s *ChainService) setSendGate(gate *sendQueue) { s.gate = gate }

// NewChainService construye el servicio de encadenamiento.
func NewChainService(
	chainRepo repository.ChainStateRepository,
	recordRepo repository.RecordRepository,
	huella *verifactu.HuellaService,
	tx ChainTxRunner,
	metrics Metrics,
	logger zerolog.Logger,
) *ChainService {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &ChainService{
		chainRepo:  chainRepo,
		recordRepo: recordRepo,
		huella:     huella,
		tx:         tx,
		metrics:    metrics,
		logger:     logger,
	}
}

// CommitRecord calcula la huella del registro contra el eslabón actual del
// emisor y lo compromete. Tras volver sin error, rec lleva Huella,
// HuellaAnterior y ChainPosition definitivos y está persistido. El commit es
// irreversible: no existe operación de descommit.
func (s *ChainService) CommitRecord(ctx context.Context, companyNIF string, rec *entity.Record) error {
	for attempt := 1; attempt <= maxChainRebuilds; attempt++ {
		prev, _, err := s.chainRepo.GetCurrentLink(ctx, rec.CompanyID)
		if err != nil {
			return fmt.Errorf("leer eslabón actual: %w", err)
		}

		huella, err := s.huella.Calculate(huellaParamsFor(companyNIF, rec, prev))
		if err != nil {
			return err
		}
		rec.HuellaAnterior = prev
		rec.Huella = huella

		err = s.tx.RunChain(ctx, func(txCtx context.Context) error {
			pos, commitErr := s.chainRepo.CommitLink(txCtx, rec.CompanyID, prev, huella)
			if commitErr != nil {
				return commitErr
			}
			rec.ChainPosition = pos
			if createErr := s.recordRepo.Create(txCtx, rec); createErr != nil {
				return createErr
			}
			// El ticket se toma aquí: el CAS garantiza que la posición
			// siguiente del emisor no puede asignarse hasta que esta
			// transacción confirme, así el orden de tickets es el de cadena.
			if s.gate != nil {
				s.gate.register(rec.CompanyID, pos)
			}
			return nil
		})
		if err != nil && s.gate != nil && rec.ChainPosition > 0 {
			s.gate.release(rec.CompanyID, rec.ChainPosition)
		}
		if errors.Is(err, verifactu.ErrChainConflict) {
			s.metrics.ChainConflict()
			s.logger.Warn().Str("company_id", rec.CompanyID).Int("intento", attempt).
				Msg("CAS de cadena perdido, reconstruyendo registro")
			continue
		}
		return err
	}
	return fmt.Errorf("cadena de %s: %d reconstrucciones agotadas: %w",
		rec.CompanyID, maxChainRebuilds, verifactu.ErrChainConflict)
}

func huellaParamsFor(nif string, rec *entity.Record, prev string) *verifactu.HuellaParams {
	return &verifactu.HuellaParams{
		Tipo:            rec.Type,
		NIF:             nif,
		NumSerieFactura: rec.NumSerieFactura,
		FechaExpedicion: rec.FechaExpedicion.Format(verifactu.FechaLayout),
		TipoFactura:     rec.TipoFactura,
		CuotaTotal:      rec.CuotaTotal,
		ImporteTotal:    rec.ImporteTotal,
		Motivo:          rec.Motivo,
		FechaHoraGen:    rec.FechaHoraGen.Format(verifactu.FechaHoraLayout),
		HuellaAnterior:  prev,
	}
}

// ChainBreak describe una discontinuidad detectada al verificar la cadena.
type ChainBreak struct {
	Position int64  `json:"position"`
	RecordID string `json:"record_id"`
	Problem  string `json:"problem"`
}

// ChainReport es el resultado de recorrer la cadena completa de un emisor.
type ChainReport struct {
	CompanyID string       `json:"company_id"`
	Records   int          `json:"records"`
	Intact    bool         `json:"intact"`
	Breaks    []ChainBreak `json:"breaks,omitempty"`
}

// VerifyChain recorre los registros del emisor en orden de posición y
// recalcula cada huella: detecta manipulación a posteriori, huecos de
// posición y enlaces rotos. Operación de solo lectura.
func (s *ChainService) VerifyChain(ctx context.Context, companyID, companyNIF string) (*ChainReport, error) {
	records, err := s.recordRepo.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("listar registros del emisor: %w", err)
	}

	report := &ChainReport{CompanyID: companyID, Records: len(records), Intact: true}
	addBreak := func(rec *entity.Record, problem string) {
		report.Intact = false
		report.Breaks = append(report.Breaks, ChainBreak{
			Position: rec.ChainPosition, RecordID: rec.ID, Problem: problem,
		})
	}

	prevHuella := ""
	var prevPos int64
	for _, rec := range records {
		if rec.ChainPosition != prevPos+1 {
			addBreak(rec, fmt.Sprintf("posición %d tras %d: hueco en la cadena", rec.ChainPosition, prevPos))
		}
		if rec.HuellaAnterior != prevHuella {
			addBreak(rec, fmt.Sprintf("huella anterior %q no enlaza con el eslabón previo %q", rec.HuellaAnterior, prevHuella))
		}
		recalculada, err := s.huella.Calculate(huellaParamsFor(companyNIF, rec, rec.HuellaAnterior))
		if err != nil {
			addBreak(rec, "no se pudo recalcular la huella: "+err.Error())
		} else if recalculada != rec.Huella {
			addBreak(rec, "huella almacenada no coincide con la recalculada: contenido alterado")
		}
		prevHuella = rec.Huella
		prevPos = rec.ChainPosition
	}

	// El eslabón del libro debe apuntar al último registro.
	lastHuella, lastPos, err := s.chainRepo.GetCurrentLink(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("leer eslabón actual: %w", err)
	}
	if len(records) > 0 {
		tail := records[len(records)-1]
		if lastHuella != tail.Huella || lastPos != tail.ChainPosition {
			addBreak(tail, fmt.Sprintf("el libro apunta a %q (pos %d) pero el último registro es %q (pos %d)",
				lastHuella, lastPos, tail.Huella, tail.ChainPosition))
		}
	}

	return report, nil
}
