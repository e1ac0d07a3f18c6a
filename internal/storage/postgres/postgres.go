// Package postgres stores cases in Postgres through a pgxpool.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/georgeshao/o2c-triage/internal/storage"
	"github.com/georgeshao/o2c-triage/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

const caseColumns = `id, batch_id, seq, email_id, received_at, sender, subject, body,
	category, queue, customer_name, invoice_references, amounts, dates,
	dispute_reason, next_action, model, slot, fallback, diagnostic, processed_at`

type Config struct {
	URL      string
	MaxConns int32
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

var newPool = pgxpool.NewWithConfig

// New opens a pool, applies poolCfgMut if given, and creates the schema.
func New(ctx context.Context, cfg Config, poolCfgMut func(*pgxpool.Config)) (*PostgresStore, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if poolCfgMut != nil {
		poolCfgMut(pcfg)
	}

	pool, err := newPool(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) AppendCase(ctx context.Context, rec *storage.CaseRecord) error {
	c := rec.Classification
	c.Fill()

	amounts := make([]string, len(c.Amounts))
	for i, a := range c.Amounts {
		amounts[i] = string(a)
	}

	// A single-statement INSERT commits before Exec returns.
	_, err := s.pool.Exec(ctx, `INSERT INTO cases (`+caseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		rec.ID, rec.BatchID, rec.Seq, rec.EmailID, rec.ReceivedAt, rec.From, rec.Subject, rec.Body,
		string(c.Category), string(c.Queue), c.CustomerName, c.InvoiceReferences, amounts, c.Dates,
		c.DisputeReason, c.NextAction, rec.Model, rec.Slot, rec.Fallback, rec.Diagnostic,
		rec.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert case: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCase(ctx context.Context, id string) (*storage.CaseRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = $1`, id)

	rec, err := scanCase(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListCases(ctx context.Context, filter storage.CaseFilter) ([]*storage.CaseRecord, error) {
	if filter.BatchID == "" {
		return nil, fmt.Errorf("batch id is required")
	}

	var (
		where = []string{"batch_id = $1"}
		args  = []any{filter.BatchID}
	)
	if filter.Queue != nil {
		args = append(args, string(*filter.Queue))
		where = append(where, fmt.Sprintf("queue = $%d", len(args)))
	}
	if filter.AfterSeq != nil {
		args = append(args, *filter.AfterSeq)
		where = append(where, fmt.Sprintf("seq > $%d", len(args)))
	}
	args = append(args, filter.EffectiveLimit())

	query := fmt.Sprintf(`SELECT %s FROM cases WHERE %s ORDER BY seq ASC LIMIT $%d`,
		caseColumns, strings.Join(where, " AND "), len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	defer rows.Close()

	var records []*storage.CaseRecord
	for rows.Next() {
		rec, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}

	return records, nil
}

func (s *PostgresStore) QueueCounts(ctx context.Context, batchID string) (map[types.Queue]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT queue, COUNT(*) FROM cases WHERE batch_id = $1 GROUP BY queue`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to count cases: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.Queue]int)
	for rows.Next() {
		var (
			queue string
			n     int64
		)
		if err := rows.Scan(&queue, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[types.Queue(queue)] = int(n)
	}
	return counts, rows.Err()
}

func (s *PostgresStore) LatestBatchID(ctx context.Context) (string, error) {
	var batchID string
	err := s.pool.QueryRow(ctx, `SELECT batch_id FROM cases ORDER BY processed_at DESC, seq DESC LIMIT 1`).Scan(&batchID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get latest batch: %w", err)
	}
	return batchID, nil
}

func (s *PostgresStore) AppendSent(ctx context.Context, rec *storage.SentRecord) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO sent_emails (id, case_id, email_id, recipient, subject, body, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.CaseID, rec.EmailID, rec.To, rec.Subject, rec.Body, rec.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sent email: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSent(ctx context.Context, caseID string) ([]*storage.SentRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, case_id, email_id, recipient, subject, body, sent_at
		FROM sent_emails WHERE case_id = $1 ORDER BY sent_at ASC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sent emails: %w", err)
	}
	defer rows.Close()

	var records []*storage.SentRecord
	for rows.Next() {
		var rec storage.SentRecord
		if err := rows.Scan(&rec.ID, &rec.CaseID, &rec.EmailID, &rec.To, &rec.Subject, &rec.Body, &rec.SentAt); err != nil {
			return nil, fmt.Errorf("failed to scan sent email: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func scanCase(row pgx.Row) (*storage.CaseRecord, error) {
	var (
		rec             storage.CaseRecord
		category, queue string
		amounts         []string
		processedAt     time.Time
	)

	err := row.Scan(
		&rec.ID, &rec.BatchID, &rec.Seq, &rec.EmailID, &rec.ReceivedAt, &rec.From, &rec.Subject, &rec.Body,
		&category, &queue, &rec.Classification.CustomerName, &rec.Classification.InvoiceReferences, &amounts,
		&rec.Classification.Dates, &rec.Classification.DisputeReason, &rec.Classification.NextAction,
		&rec.Model, &rec.Slot, &rec.Fallback, &rec.Diagnostic, &processedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Classification.Category = types.Category(category)
	rec.Classification.Queue = types.Queue(queue)
	rec.Classification.Amounts = make([]types.Amount, len(amounts))
	for i, a := range amounts {
		rec.Classification.Amounts[i] = types.Amount(a)
	}
	rec.ProcessedAt = processedAt

	return &rec, nil
}
