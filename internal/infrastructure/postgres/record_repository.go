package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/facturia/verifactu-api/internal/domain"
	"github.com/facturia/verifactu-api/internal/domain/entity"
	"github.com/facturia/verifactu-api/internal/domain/repository"
)

var _ repository.RecordRepository = (*RecordRepo)(nil)

// RecordRepo persiste los registros de facturación. La tabla es append-only:
// no existe UPDATE ni DELETE sobre verifactu_records.
type RecordRepo struct {
	pool *pgxpool.Pool
}

// NewRecordRepository construye el adaptador de registros de facturación.
func NewRecordRepository(pool *pgxpool.Pool) *RecordRepo {
	return &RecordRepo{pool: pool}
}

const recordColumns = `
	id, company_id, invoice_id, record_type, num_serie_factura,
	fecha_expedicion, fecha_hora_gen, tipo_factura, descripcion,
	base_imponible, cuota_total, importe_total,
	counterparty_name, counterparty_nif, counterparty_country,
	counterparty_id_type, counterparty_id_num,
	motivo, ref_externa, huella_anterior, huella, chain_position, created_at`

// Create inserta el registro ya encadenado.
func (r *RecordRepo) Create(ctx context.Context, rec *entity.Record) error {
	query := `
		INSERT INTO verifactu_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`
	_, err := querierFrom(ctx, r.pool).Exec(ctx, query,
		rec.ID, rec.CompanyID, rec.InvoiceID, rec.Type, rec.NumSerieFactura,
		rec.FechaExpedicion, rec.FechaHoraGen, nullIfEmpty(rec.TipoFactura), rec.Descripcion,
		rec.BaseImponible, rec.CuotaTotal, rec.ImporteTotal,
		rec.CounterpartyName, rec.CounterpartyNIF, rec.CounterpartyCountry,
		rec.CounterpartyIDType, rec.CounterpartyIDNum,
		rec.Motivo, rec.RefExterna, rec.HuellaAnterior, rec.Huella, rec.ChainPosition, rec.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// GetByID obtiene un registro por ID.
func (r *RecordRepo) GetByID(ctx context.Context, id string) (*entity.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM verifactu_records WHERE id = $1`
	rec, err := scanRecord(querierFrom(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// GetByInvoiceID devuelve los registros de una factura (alta, subsanaciones,
// baja) por orden de posición.
func (r *RecordRepo) GetByInvoiceID(ctx context.Context, invoiceID string) ([]*entity.Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM verifactu_records WHERE invoice_id = $1 ORDER BY chain_position`
	return r.list(ctx, query, invoiceID)
}

// ListByCompany devuelve la cadena completa del emisor en orden de posición.
func (r *RecordRepo) ListByCompany(ctx context.Context, companyID string) ([]*entity.Record, error) {
	query := `SELECT ` + recordColumns + `
		FROM verifactu_records WHERE company_id = $1 ORDER BY chain_position`
	return r.list(ctx, query, companyID)
}

func (r *RecordRepo) list(ctx context.Context, query string, arg any) ([]*entity.Record, error) {
	rows, err := querierFrom(ctx, r.pool).Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []*entity.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (*entity.Record, error) {
	var rec entity.Record
	var tipoFactura *string
	err := row.Scan(
		&rec.ID, &rec.CompanyID, &rec.InvoiceID, &rec.Type, &rec.NumSerieFactura,
		&rec.FechaExpedicion, &rec.FechaHoraGen, &tipoFactura, &rec.Descripcion,
		&rec.BaseImponible, &rec.CuotaTotal, &rec.ImporteTotal,
		&rec.CounterpartyName, &rec.CounterpartyNIF, &rec.CounterpartyCountry,
		&rec.CounterpartyIDType, &rec.CounterpartyIDNum,
		&rec.Motivo, &rec.RefExterna, &rec.HuellaAnterior, &rec.Huella, &rec.ChainPosition, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if tipoFactura != nil {
		rec.TipoFactura = *tipoFactura
	}
	return &rec, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
