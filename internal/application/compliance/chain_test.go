package compliance

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturia/verifactu-api/internal/domain/entity"
	"github.com/facturia/verifactu-api/internal/domain/verifactu"
)

const chainTestNIF = "A39200019"

func newChainFixture() (*ChainService, *memChainRepo, *memRecordRepo) {
	chainRepo := newMemChainRepo()
	recordRepo := &memRecordRepo{}
	svc := NewChainService(chainRepo, recordRepo, verifactu.NewHuellaService(), nopTx{}, nil, zerolog.Nop())
	return svc, chainRepo, recordRepo
}

func chainTestRecord(n int) *entity.Record {
	return &entity.Record{
		ID:              fmt.Sprintf("rec-%03d", n),
		CompanyID:       "co-1",
		InvoiceID:       fmt.Sprintf("inv-%03d", n),
		Type:            entity.RecordAlta,
		NumSerieFactura: fmt.Sprintf("FA2026/%04d", n),
		FechaExpedicion: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		FechaHoraGen:    time.Date(2026, 3, 15, 10, 0, n, 0, time.UTC),
		TipoFactura:     "F1",
		BaseImponible:   decimal.NewFromInt(int64(100 * n)),
		CuotaTotal:      decimal.NewFromInt(int64(21 * n)),
		ImporteTotal:    decimal.NewFromInt(int64(121 * n)),
	}
}

func TestChainService_PrimerRegistro(t *testing.T) {
	svc, chainRepo, _ := newChainFixture()

	rec := chainTestRecord(1)
	require.NoError(t, svc.CommitRecord(context.Background(), chainTestNIF, rec))

	assert.Empty(t, rec.HuellaAnterior)
	assert.Len(t, rec.Huella, 64)
	assert.Equal(t, int64(1), rec.ChainPosition)

	huella, pos, err := chainRepo.GetCurrentLink(context.Background(), "co-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Huella, huella)
	assert.Equal(t, int64(1), pos)
}

func TestChainService_EncadenaSecuencialmente(t *testing.T) {
	svc, _, _ := newChainFixture()
	ctx := context.Background()

	first := chainTestRecord(1)
	second := chainTestRecord(2)
	require.NoError(t, svc.CommitRecord(ctx, chainTestNIF, first))
	require.NoError(t, svc.CommitRecord(ctx, chainTestNIF, second))

	assert.Equal(t, first.Huella, second.HuellaAnterior)
	assert.Equal(t, int64(2), second.ChainPosition)
	assert.NotEqual(t, first.Huella, second.Huella)
}

// Dos emisores tienen cadenas independientes: cada una arranca en la posición 1.
func TestChainService_CadenasPorEmisor(t *testing.T) {
	svc, _, _ := newChainFixture()
	ctx := context.Background()

	a := chainTestRecord(1)
	b := chainTestRecord(2)
	b.CompanyID = "co-2"

	require.NoError(t, svc.CommitRecord(ctx, chainTestNIF, a))
	require.NoError(t, svc.CommitRecord(ctx, "B76365782", b))

	assert.Equal(t, int64(1), a.ChainPosition)
	assert.Equal(t, int64(1), b.ChainPosition)
	assert.Empty(t, b.HuellaAnterior)
}

// N goroutines comprometen a la vez sobre el mismo emisor: el CAS obliga a
// que cada commit prospere contra un eslabón único, sin huecos ni duplicados.
func TestChainService_CommitsConcurrentes(t *testing.T) {
	svc, _, recordRepo := newChainFixture()
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.CommitRecord(ctx, chainTestNIF, chainTestRecord(i+1))
		}(i)
	}
	wg.Wait()

	var committed int
	for _, err := range errs {
		if err == nil {
			committed++
		} else {
			// solo se admite el conflicto de cadena tras agotar reconstrucciones
			assert.ErrorIs(t, err, verifactu.ErrChainConflict)
		}
	}
	require.Greater(t, committed, 0)

	records, err := recordRepo.ListByCompany(ctx, "co-1")
	require.NoError(t, err)
	require.Len(t, records, committed)

	// posiciones 1..committed sin huecos y enlace perfecto
	prevHuella := ""
	for i, rec := range records {
		assert.Equal(t, int64(i+1), rec.ChainPosition)
		assert.Equal(t, prevHuella, rec.HuellaAnterior)
		prevHuella = rec.Huella
	}
}

func TestChainService_VerifyChainIntacta(t *testing.T) {
	svc, _, _ := newChainFixture()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, svc.CommitRecord(ctx, chainTestNIF, chainTestRecord(i)))
	}

	report, err := svc.VerifyChain(ctx, "co-1", chainTestNIF)
	require.NoError(t, err)
	assert.True(t, report.Intact)
	assert.Equal(t, 5, report.Records)
	assert.Empty(t, report.Breaks)
}

// La manipulación a posteriori de un registro comprometido debe detectarse al
// recalcular su huella.
func TestChainService_VerifyChainDetectaManipulacion(t *testing.T) {
	svc, _, recordRepo := newChainFixture()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, svc.CommitRecord(ctx, chainTestNIF, chainTestRecord(i)))
	}

	// alterar el importe del segundo registro directamente en el almacén
	recordRepo.mu.Lock()
	recordRepo.records[1].ImporteTotal = decimal.NewFromInt(999999)
	recordRepo.mu.Unlock()

	report, err := svc.VerifyChain(ctx, "co-1", chainTestNIF)
	require.NoError(t, err)
	assert.False(t, report.Intact)
	require.NotEmpty(t, report.Breaks)
	assert.Equal(t, int64(2), report.Breaks[0].Position)
	assert.Contains(t, report.Breaks[0].Problem, "contenido alterado")
}
