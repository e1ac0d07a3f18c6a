// Package storagetest holds a behavioural suite every storage.Store backend
// must pass.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/georgeshao/o2c-triage/internal/storage"
	"github.com/georgeshao/o2c-triage/pkg/types"
)

// NewCase returns a classified case for batchID at position seq.
func NewCase(batchID string, seq int, queue types.Queue) *storage.CaseRecord {
	category := map[types.Queue]types.Category{
		types.QueueCashApplication: types.CategoryPaymentClaim,
		types.QueueDisputes:        types.CategoryDispute,
		types.QueueARSupport:       types.CategoryGeneralAR,
		types.QueueManualReview:    types.CategoryError,
	}[queue]

	rec := &storage.CaseRecord{
		ID:         fmt.Sprintf("%s-case-%03d", batchID, seq),
		BatchID:    batchID,
		Seq:        seq,
		EmailID:    fmt.Sprintf("email-%03d", seq),
		ReceivedAt: "2025-01-15T09:30:00Z",
		From:       "ap@acme.example",
		Subject:    fmt.Sprintf("Invoice INV-%05d", seq),
		Body:       "We paid the invoice yesterday.",
		Classification: types.ClassificationResult{
			Category:          category,
			Queue:             queue,
			CustomerName:      "Acme Corp",
			InvoiceReferences: []string{fmt.Sprintf("INV-%05d", seq)},
			Amounts:           []types.Amount{"1200.50"},
			Dates:             []string{"2025-01-14"},
			NextAction:        "Match payment",
		},
		Model:       "gemini-2.5-flash-lite",
		Slot:        seq % 3,
		ProcessedAt: time.Unix(1736933400, 0).Add(time.Duration(seq) * time.Second),
	}

	if queue == types.QueueManualReview {
		diag := "Manual review needed: All keys exhausted"
		rec.Fallback = true
		rec.Model = ""
		rec.Diagnostic = &diag
		rec.Classification.CustomerName = ""
		rec.Classification.InvoiceReferences = []string{}
		rec.Classification.Amounts = []types.Amount{}
		rec.Classification.Dates = []string{}
		rec.Classification.NextAction = diag
	}

	return rec
}

// SentFor returns a sent-email log entry for caseID.
func SentFor(caseID string) *storage.SentRecord {
	return &storage.SentRecord{
		ID:      "sent-" + caseID,
		CaseID:  caseID,
		To:      "ap@acme.example",
		Subject: "Re: Invoice",
		Body:    "Thanks, we are looking into it.",
		SentAt:  time.Unix(1736940000, 0),
	}
}

// Run exercises store. The store must be empty.
func Run(t *testing.T, store storage.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("empty store has no latest batch", func(t *testing.T) {
		batchID, err := store.LatestBatchID(ctx)
		if err != nil {
			t.Fatalf("LatestBatchID failed: %v", err)
		}
		if batchID != "" {
			t.Errorf("LatestBatchID = %q, want empty", batchID)
		}
	})

	queues := []types.Queue{
		types.QueueCashApplication,
		types.QueueDisputes,
		types.QueueManualReview,
		types.QueueDisputes,
		types.QueueARSupport,
	}

	t.Run("append and get", func(t *testing.T) {
		for i, q := range queues {
			if err := store.AppendCase(ctx, NewCase("batch-a", i, q)); err != nil {
				t.Fatalf("AppendCase(%d) failed: %v", i, err)
			}
		}

		want := NewCase("batch-a", 2, types.QueueManualReview)
		got, err := store.GetCase(ctx, want.ID)
		if err != nil {
			t.Fatalf("GetCase failed: %v", err)
		}
		if got == nil {
			t.Fatal("GetCase returned nil")
		}
		if got.Seq != 2 || got.EmailID != want.EmailID || got.Subject != want.Subject {
			t.Errorf("GetCase = %+v", got)
		}
		if got.Classification.Queue != types.QueueManualReview || got.Classification.Category != types.CategoryError {
			t.Errorf("classification = %+v", got.Classification)
		}
		if !got.Fallback || got.Diagnostic == nil || *got.Diagnostic != *want.Diagnostic {
			t.Errorf("fallback fields = %v %v", got.Fallback, got.Diagnostic)
		}
		if !got.ProcessedAt.Equal(want.ProcessedAt) {
			t.Errorf("ProcessedAt = %v, want %v", got.ProcessedAt, want.ProcessedAt)
		}

		classified, err := store.GetCase(ctx, NewCase("batch-a", 0, types.QueueCashApplication).ID)
		if err != nil {
			t.Fatalf("GetCase failed: %v", err)
		}
		c := classified.Classification
		if len(c.InvoiceReferences) != 1 || c.InvoiceReferences[0] != "INV-00000" {
			t.Errorf("InvoiceReferences = %v", c.InvoiceReferences)
		}
		if len(c.Amounts) != 1 || c.Amounts[0] != "1200.50" {
			t.Errorf("Amounts = %v", c.Amounts)
		}
		if classified.Model != "gemini-2.5-flash-lite" || classified.Fallback || classified.Diagnostic != nil {
			t.Errorf("classified metadata = %+v", classified)
		}
	})

	t.Run("get missing case", func(t *testing.T) {
		got, err := store.GetCase(ctx, "does-not-exist")
		if err != nil {
			t.Fatalf("GetCase failed: %v", err)
		}
		if got != nil {
			t.Errorf("GetCase = %+v, want nil", got)
		}
	})

	t.Run("duplicate append is rejected", func(t *testing.T) {
		if err := store.AppendCase(ctx, NewCase("batch-a", 0, types.QueueCashApplication)); err == nil {
			t.Error("expected error appending an existing case")
		}
	})

	t.Run("list in sequence order", func(t *testing.T) {
		cases, err := store.ListCases(ctx, storage.CaseFilter{BatchID: "batch-a"})
		if err != nil {
			t.Fatalf("ListCases failed: %v", err)
		}
		if len(cases) != len(queues) {
			t.Fatalf("ListCases returned %d cases, want %d", len(cases), len(queues))
		}
		for i, c := range cases {
			if c.Seq != i {
				t.Errorf("cases[%d].Seq = %d", i, c.Seq)
			}
		}
	})

	t.Run("list by queue with cursor", func(t *testing.T) {
		q := types.QueueDisputes
		cases, err := store.ListCases(ctx, storage.CaseFilter{BatchID: "batch-a", Queue: &q, Limit: 1})
		if err != nil {
			t.Fatalf("ListCases failed: %v", err)
		}
		if len(cases) != 1 || cases[0].Seq != 1 {
			t.Fatalf("first page = %v", seqs(cases))
		}

		after := cases[0].Seq
		cases, err = store.ListCases(ctx, storage.CaseFilter{BatchID: "batch-a", Queue: &q, AfterSeq: &after, Limit: 1})
		if err != nil {
			t.Fatalf("ListCases failed: %v", err)
		}
		if len(cases) != 1 || cases[0].Seq != 3 {
			t.Fatalf("second page = %v", seqs(cases))
		}

		after = cases[0].Seq
		cases, err = store.ListCases(ctx, storage.CaseFilter{BatchID: "batch-a", Queue: &q, AfterSeq: &after})
		if err != nil {
			t.Fatalf("ListCases failed: %v", err)
		}
		if len(cases) != 0 {
			t.Errorf("third page = %v, want empty", seqs(cases))
		}
	})

	t.Run("queue counts", func(t *testing.T) {
		counts, err := store.QueueCounts(ctx, "batch-a")
		if err != nil {
			t.Fatalf("QueueCounts failed: %v", err)
		}
		want := map[types.Queue]int{
			types.QueueCashApplication: 1,
			types.QueueDisputes:        2,
			types.QueueARSupport:       1,
			types.QueueManualReview:    1,
		}
		for q, n := range want {
			if counts[q] != n {
				t.Errorf("counts[%s] = %d, want %d", q, counts[q], n)
			}
		}
	})

	t.Run("latest batch follows newest append", func(t *testing.T) {
		rec := NewCase("batch-b", 0, types.QueueARSupport)
		rec.ProcessedAt = rec.ProcessedAt.Add(time.Hour)
		if err := store.AppendCase(ctx, rec); err != nil {
			t.Fatalf("AppendCase failed: %v", err)
		}

		batchID, err := store.LatestBatchID(ctx)
		if err != nil {
			t.Fatalf("LatestBatchID failed: %v", err)
		}
		if batchID != "batch-b" {
			t.Errorf("LatestBatchID = %q, want batch-b", batchID)
		}

		cases, err := store.ListCases(ctx, storage.CaseFilter{BatchID: "batch-a"})
		if err != nil {
			t.Fatalf("ListCases failed: %v", err)
		}
		if len(cases) != len(queues) {
			t.Errorf("batch-a has %d cases after batch-b append, want %d", len(cases), len(queues))
		}
	})

	t.Run("sent log", func(t *testing.T) {
		caseID := NewCase("batch-a", 1, types.QueueDisputes).ID
		base := time.Unix(1736940000, 0)
		for i := 0; i < 2; i++ {
			err := store.AppendSent(ctx, &storage.SentRecord{
				ID:      fmt.Sprintf("sent-%d", i),
				CaseID:  caseID,
				EmailID: "email-001",
				To:      "ap@acme.example",
				Subject: "Re: Invoice INV-00001",
				Body:    fmt.Sprintf("body %d", i),
				SentAt:  base.Add(time.Duration(i) * time.Minute),
			})
			if err != nil {
				t.Fatalf("AppendSent failed: %v", err)
			}
		}

		sent, err := store.ListSent(ctx, caseID)
		if err != nil {
			t.Fatalf("ListSent failed: %v", err)
		}
		if len(sent) != 2 {
			t.Fatalf("ListSent returned %d, want 2", len(sent))
		}
		if sent[0].ID != "sent-0" || sent[1].Body != "body 1" {
			t.Errorf("ListSent = %+v %+v", sent[0], sent[1])
		}
		if !sent[1].SentAt.Equal(base.Add(time.Minute)) {
			t.Errorf("SentAt = %v", sent[1].SentAt)
		}

		none, err := store.ListSent(ctx, "other-case")
		if err != nil {
			t.Fatalf("ListSent failed: %v", err)
		}
		if len(none) != 0 {
			t.Errorf("ListSent(other-case) = %d records", len(none))
		}
	})

	t.Run("batch id that extends another is kept apart", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			if err := store.AppendCase(ctx, NewCase("batch-a:b", i, types.QueueDisputes)); err != nil {
				t.Fatalf("AppendCase(%d) failed: %v", i, err)
			}
		}

		cases, err := store.ListCases(ctx, storage.CaseFilter{BatchID: "batch-a"})
		if err != nil {
			t.Fatalf("ListCases failed: %v", err)
		}
		if len(cases) != len(queues) {
			t.Errorf("ListCases(batch-a) = %d cases, want %d", len(cases), len(queues))
		}
		for _, c := range cases {
			if c.BatchID != "batch-a" {
				t.Errorf("ListCases(batch-a) returned case of batch %q", c.BatchID)
			}
		}

		counts, err := store.QueueCounts(ctx, "batch-a")
		if err != nil {
			t.Fatalf("QueueCounts failed: %v", err)
		}
		if counts[types.QueueDisputes] != 2 || len(counts) != 4 {
			t.Errorf("QueueCounts(batch-a) = %v", counts)
		}

		caseID := NewCase("batch-a", 1, types.QueueDisputes).ID
		longer := NewCase("batch-a:b", 3, types.QueueDisputes)
		longer.ID = caseID + ":b"
		if err := store.AppendCase(ctx, longer); err != nil {
			t.Fatalf("AppendCase failed: %v", err)
		}
		if err := store.AppendSent(ctx, SentFor(longer.ID)); err != nil {
			t.Fatalf("AppendSent failed: %v", err)
		}

		sent, err := store.ListSent(ctx, caseID)
		if err != nil {
			t.Fatalf("ListSent failed: %v", err)
		}
		if len(sent) != 2 {
			t.Errorf("ListSent(%s) = %d records, want 2", caseID, len(sent))
		}
	})
}

func seqs(cases []*storage.CaseRecord) []int {
	out := make([]int, len(cases))
	for i, c := range cases {
		out[i] = c.Seq
	}
	return out
}
