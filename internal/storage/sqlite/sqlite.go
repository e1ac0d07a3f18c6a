package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/georgeshao/o2c-triage/internal/storage"
	"github.com/georgeshao/o2c-triage/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

const caseColumns = `id, batch_id, seq, email_id, received_at, sender, subject, body,
	category, queue, customer_name, invoice_references, amounts, dates,
	dispute_reason, next_action, model, slot, fallback, diagnostic, processed_at`

type SQLiteStore struct {
	db *sql.DB
}

func New(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL with synchronous=FULL fsyncs the log on every commit, which is what
	// AppendCase promises.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite works best with single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(schemaSQL)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) AppendCase(ctx context.Context, rec *storage.CaseRecord) error {
	c := rec.Classification
	c.Fill()

	refs, err := json.Marshal(c.InvoiceReferences)
	if err != nil {
		return fmt.Errorf("failed to marshal invoice references: %w", err)
	}
	amounts, err := json.Marshal(c.Amounts)
	if err != nil {
		return fmt.Errorf("failed to marshal amounts: %w", err)
	}
	dates, err := json.Marshal(c.Dates)
	if err != nil {
		return fmt.Errorf("failed to marshal dates: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO cases (`+caseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.BatchID, rec.Seq, rec.EmailID, rec.ReceivedAt, rec.From, rec.Subject, rec.Body,
		string(c.Category), string(c.Queue), c.CustomerName, string(refs), string(amounts), string(dates),
		c.DisputeReason, c.NextAction, rec.Model, rec.Slot, rec.Fallback, toNullString(rec.Diagnostic),
		rec.ProcessedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert case: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCase(ctx context.Context, id string) (*storage.CaseRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = ?`, id)

	rec, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListCases(ctx context.Context, filter storage.CaseFilter) ([]*storage.CaseRecord, error) {
	if filter.BatchID == "" {
		return nil, fmt.Errorf("batch id is required")
	}

	var (
		where = []string{"batch_id = ?"}
		args  = []any{filter.BatchID}
	)
	if filter.Queue != nil {
		where = append(where, "queue = ?")
		args = append(args, string(*filter.Queue))
	}
	if filter.AfterSeq != nil {
		where = append(where, "seq > ?")
		args = append(args, *filter.AfterSeq)
	}
	args = append(args, filter.EffectiveLimit())

	query := `SELECT ` + caseColumns + ` FROM cases WHERE ` + strings.Join(where, " AND ") + ` ORDER BY seq ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLiteStore) QueueCounts(ctx context.Context, batchID string) (map[types.Queue]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT queue, COUNT(*) FROM cases WHERE batch_id = ? GROUP BY queue`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to count cases: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.Queue]int)
	for rows.Next() {
		var (
			queue string
			n     int
		)
		if err := rows.Scan(&queue, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[types.Queue(queue)] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) LatestBatchID(ctx context.Context) (string, error) {
	var batchID string
	err := s.db.QueryRowContext(ctx, `SELECT batch_id FROM cases ORDER BY processed_at DESC, seq DESC LIMIT 1`).Scan(&batchID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get latest batch: %w", err)
	}
	return batchID, nil
}

func (s *SQLiteStore) AppendSent(ctx context.Context, rec *storage.SentRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sent_emails (id, case_id, email_id, recipient, subject, body, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CaseID, rec.EmailID, rec.To, rec.Subject, rec.Body, rec.SentAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sent email: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSent(ctx context.Context, caseID string) ([]*storage.SentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, case_id, email_id, recipient, subject, body, sent_at
		FROM sent_emails WHERE case_id = ? ORDER BY sent_at ASC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sent emails: %w", err)
	}
	defer rows.Close()

	var records []*storage.SentRecord
	for rows.Next() {
		var (
			rec    storage.SentRecord
			sentAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.CaseID, &rec.EmailID, &rec.To, &rec.Subject, &rec.Body, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan sent email: %w", err)
		}
		rec.SentAt = time.Unix(0, sentAt)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCase(row scanner) (*storage.CaseRecord, error) {
	var (
		rec                  storage.CaseRecord
		category, queue      string
		refs, amounts, dates string
		diagnostic           sql.NullString
		processedAt          int64
	)

	err := row.Scan(
		&rec.ID, &rec.BatchID, &rec.Seq, &rec.EmailID, &rec.ReceivedAt, &rec.From, &rec.Subject, &rec.Body,
		&category, &queue, &rec.Classification.CustomerName, &refs, &amounts, &dates,
		&rec.Classification.DisputeReason, &rec.Classification.NextAction, &rec.Model, &rec.Slot, &rec.Fallback,
		&diagnostic, &processedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Classification.Category = types.Category(category)
	rec.Classification.Queue = types.Queue(queue)
	rec.Diagnostic = fromNullString(diagnostic)
	rec.ProcessedAt = time.Unix(0, processedAt)

	if err := json.Unmarshal([]byte(refs), &rec.Classification.InvoiceReferences); err != nil {
		return nil, fmt.Errorf("failed to unmarshal invoice references: %w", err)
	}
	if err := json.Unmarshal([]byte(amounts), &rec.Classification.Amounts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal amounts: %w", err)
	}
	if err := json.Unmarshal([]byte(dates), &rec.Classification.Dates); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dates: %w", err)
	}

	return &rec, nil
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
