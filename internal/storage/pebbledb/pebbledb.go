package pebbledb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/georgeshao/o2c-triage/internal/storage"
	"github.com/georgeshao/o2c-triage/pkg/types"
)

// Key prefixes
const (
	prefixCase  = "case:"  // case:{id} → case JSON
	prefixSeq   = "seq:"   // seq:{hex(batch)}:{seq} → case id
	prefixCount = "count:" // count:{hex(batch)}:{queue} → int64
	prefixSent  = "sent:"  // sent:{hex(case)}:{ts}:{id} → sent JSON
	keyLatest   = "meta:latest_batch"
)

var ErrDuplicateCase = errors.New("case already exists")

type PebbleStore struct {
	db *pebble.DB
}

type caseData struct {
	ID             string                     `json:"id"`
	BatchID        string                     `json:"batch_id"`
	Seq            int                        `json:"seq"`
	EmailID        string                     `json:"email_id"`
	ReceivedAt     string                     `json:"received_at"`
	From           string                     `json:"from"`
	Subject        string                     `json:"subject"`
	Body           string                     `json:"body"`
	Classification types.ClassificationResult `json:"classification"`
	Model          string                     `json:"model,omitempty"`
	Slot           int                        `json:"slot"`
	Fallback       bool                       `json:"fallback"`
	Diagnostic     *string                    `json:"diagnostic,omitempty"`
	ProcessedAt    int64                      `json:"processed_at"` // Unix nano
}

type sentData struct {
	ID      string `json:"id"`
	CaseID  string `json:"case_id"`
	EmailID string `json:"email_id"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	SentAt  int64  `json:"sent_at"` // Unix nano
}

func New(dbPath string) (*PebbleStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	opts := &pebble.Options{
		Merger: &pebble.Merger{
			Name: "int64_add",
			Merge: func(key, value []byte) (pebble.ValueMerger, error) {
				return &int64Merger{sum: decodeInt64(value)}, nil
			},
		},
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}

	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func caseKey(id string) []byte {
	return []byte(prefixCase + id)
}

// Ids embedded in prefix-scanned keys are hex encoded so one id can never
// be a prefix of another's key range.
func seqKey(batchID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s%x:%010d", prefixSeq, batchID, seq))
}

func seqPrefix(batchID string) []byte {
	return []byte(fmt.Sprintf("%s%x:", prefixSeq, batchID))
}

func countKey(batchID string, queue types.Queue) []byte {
	return append(countPrefix(batchID), string(queue)...)
}

func countPrefix(batchID string) []byte {
	return []byte(fmt.Sprintf("%s%x:", prefixCount, batchID))
}

func sentKey(caseID string, ts int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%x:%020d:%s", prefixSent, caseID, ts, id))
}

func sentPrefix(caseID string) []byte {
	return []byte(fmt.Sprintf("%s%x:", prefixSent, caseID))
}

func encodeInt64(n int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n))
	return b
}

func decodeInt64(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

type int64Merger struct {
	sum int64
}

func (m *int64Merger) MergeNewer(value []byte) error {
	m.sum += decodeInt64(value)
	return nil
}

func (m *int64Merger) MergeOlder(value []byte) error {
	m.sum += decodeInt64(value)
	return nil
}

func (m *int64Merger) Finish(includesBase bool) ([]byte, io.Closer, error) {
	return encodeInt64(m.sum), nil, nil
}

func upperBound(prefix []byte) []byte {
	ub := make([]byte, len(prefix))
	copy(ub, prefix)
	for i := len(ub) - 1; i >= 0; i-- {
		if ub[i] < 0xff {
			ub[i]++
			return ub[:i+1]
		}
	}
	return nil
}

// AppendCase writes the case, its sequence index entry and its queue counter
// in one batch committed with pebble.Sync.
func (s *PebbleStore) AppendCase(ctx context.Context, rec *storage.CaseRecord) error {
	exists, err := s.has(caseKey(rec.ID))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCase, rec.ID)
	}

	c := rec.Classification
	c.Fill()

	value, err := json.Marshal(caseData{
		ID:             rec.ID,
		BatchID:        rec.BatchID,
		Seq:            rec.Seq,
		EmailID:        rec.EmailID,
		ReceivedAt:     rec.ReceivedAt,
		From:           rec.From,
		Subject:        rec.Subject,
		Body:           rec.Body,
		Classification: c,
		Model:          rec.Model,
		Slot:           rec.Slot,
		Fallback:       rec.Fallback,
		Diagnostic:     rec.Diagnostic,
		ProcessedAt:    rec.ProcessedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal case: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	batch.Set(caseKey(rec.ID), value, nil)
	batch.Set(seqKey(rec.BatchID, rec.Seq), []byte(rec.ID), nil)
	batch.Merge(countKey(rec.BatchID, c.Queue), encodeInt64(1), nil)
	batch.Set([]byte(keyLatest), []byte(rec.BatchID), nil)

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit case: %w", err)
	}
	return nil
}

func (s *PebbleStore) has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read key: %w", err)
	}
	closer.Close()
	return true, nil
}

func (s *PebbleStore) GetCase(ctx context.Context, id string) (*storage.CaseRecord, error) {
	value, closer, err := s.db.Get(caseKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	defer closer.Close()

	var data caseData
	if err := json.Unmarshal(value, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal case: %w", err)
	}
	return toCaseRecord(&data), nil
}

func (s *PebbleStore) ListCases(ctx context.Context, filter storage.CaseFilter) ([]*storage.CaseRecord, error) {
	if filter.BatchID == "" {
		return nil, fmt.Errorf("batch id is required")
	}

	prefix := seqPrefix(filter.BatchID)
	lower := prefix
	if filter.AfterSeq != nil {
		lower = seqKey(filter.BatchID, *filter.AfterSeq+1)
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	limit := filter.EffectiveLimit()
	var records []*storage.CaseRecord

	for iter.First(); iter.Valid() && len(records) < limit; iter.Next() {
		rec, err := s.GetCase(ctx, string(iter.Value()))
		if err != nil {
			return nil, err
		}
		if rec == nil || rec.BatchID != filter.BatchID || !filter.Matches(rec) {
			continue
		}
		records = append(records, rec)
	}

	return records, iter.Error()
}

func (s *PebbleStore) QueueCounts(ctx context.Context, batchID string) (map[types.Queue]int, error) {
	counts := make(map[types.Queue]int)

	prefix := countPrefix(batchID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		queue := types.Queue(bytes.TrimPrefix(iter.Key(), prefix))
		if n := decodeInt64(iter.Value()); n > 0 {
			counts[queue] = int(n)
		}
	}

	return counts, iter.Error()
}

func (s *PebbleStore) LatestBatchID(ctx context.Context) (string, error) {
	value, closer, err := s.db.Get([]byte(keyLatest))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get latest batch: %w", err)
	}
	defer closer.Close()
	return string(value), nil
}

func (s *PebbleStore) AppendSent(ctx context.Context, rec *storage.SentRecord) error {
	value, err := json.Marshal(sentData{
		ID:      rec.ID,
		CaseID:  rec.CaseID,
		EmailID: rec.EmailID,
		To:      rec.To,
		Subject: rec.Subject,
		Body:    rec.Body,
		SentAt:  rec.SentAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal sent email: %w", err)
	}

	return s.db.Set(sentKey(rec.CaseID, rec.SentAt.UnixNano(), rec.ID), value, pebble.Sync)
}

func (s *PebbleStore) ListSent(ctx context.Context, caseID string) ([]*storage.SentRecord, error) {
	prefix := sentPrefix(caseID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var records []*storage.SentRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var data sentData
		if err := json.Unmarshal(iter.Value(), &data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sent email: %w", err)
		}
		records = append(records, &storage.SentRecord{
			ID:      data.ID,
			CaseID:  data.CaseID,
			EmailID: data.EmailID,
			To:      data.To,
			Subject: data.Subject,
			Body:    data.Body,
			SentAt:  time.Unix(0, data.SentAt),
		})
	}

	return records, iter.Error()
}

func toCaseRecord(data *caseData) *storage.CaseRecord {
	return &storage.CaseRecord{
		ID:             data.ID,
		BatchID:        data.BatchID,
		Seq:            data.Seq,
		EmailID:        data.EmailID,
		ReceivedAt:     data.ReceivedAt,
		From:           data.From,
		Subject:        data.Subject,
		Body:           data.Body,
		Classification: data.Classification,
		Model:          data.Model,
		Slot:           data.Slot,
		Fallback:       data.Fallback,
		Diagnostic:     data.Diagnostic,
		ProcessedAt:    time.Unix(0, data.ProcessedAt),
	}
}
