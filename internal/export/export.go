// Package export writes cases in the processed_cases.json layout read by
// the review dashboard.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/georgeshao/o2c-triage/internal/storage"
	"github.com/georgeshao/o2c-triage/pkg/types"
)

// Record is one entry of the export file: the email fields followed by the
// flattened classification.
type Record struct {
	EmailID           string         `json:"email_id"`
	ReceivedAt        string         `json:"received_at"`
	From              string         `json:"from"`
	Subject           string         `json:"subject"`
	Body              string         `json:"body"`
	Category          types.Category `json:"category"`
	Queue             types.Queue    `json:"queue"`
	CustomerName      string         `json:"customer_name"`
	InvoiceReferences []string       `json:"invoice_references"`
	Amounts           []types.Amount `json:"amounts"`
	Dates             []string       `json:"dates"`
	DisputeReason     string         `json:"dispute_reason"`
	NextAction        string         `json:"next_action"`
}

func FromCase(rec *storage.CaseRecord) Record {
	c := rec.Classification
	c.Fill()
	return Record{
		EmailID:           rec.EmailID,
		ReceivedAt:        rec.ReceivedAt,
		From:              rec.From,
		Subject:           rec.Subject,
		Body:              rec.Body,
		Category:          c.Category,
		Queue:             c.Queue,
		CustomerName:      c.CustomerName,
		InvoiceReferences: c.InvoiceReferences,
		Amounts:           c.Amounts,
		Dates:             c.Dates,
		DisputeReason:     c.DisputeReason,
		NextAction:        c.NextAction,
	}
}

// WriteFile atomically replaces path with records: it writes a temp file in
// the same directory, syncs it and renames it over path.
func WriteFile(path string, records []Record) error {
	if records == nil {
		records = []Record{}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal export: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write export: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close export: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace export: %w", err)
	}
	return nil
}

// Writer is a CaseAppender that forwards to the store and then rewrites the
// export file, so the file always holds every case appended so far.
type Writer struct {
	path string
	next storage.CaseAppender

	mu      sync.Mutex
	records []Record
}

func NewWriter(path string, next storage.CaseAppender) *Writer {
	return &Writer{path: path, next: next}
}

// Seed preloads cases written by an earlier run of the same batch.
func (w *Writer) Seed(cases []*storage.CaseRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range cases {
		w.records = append(w.records, FromCase(c))
	}
}

func (w *Writer) AppendCase(ctx context.Context, rec *storage.CaseRecord) error {
	if err := w.next.AppendCase(ctx, rec); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.records = append(w.records, FromCase(rec))
	if err := WriteFile(w.path, w.records); err != nil {
		return fmt.Errorf("case %s stored but export failed: %w", rec.ID, err)
	}
	return nil
}
