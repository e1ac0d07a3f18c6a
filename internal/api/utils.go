package api

import (
	"time"

	"github.com/georgeshao/o2c-triage/internal/storage"
	"github.com/georgeshao/o2c-triage/pkg/types"
)

func recordToCase(record *storage.CaseRecord) types.Case {
	c := record.Classification
	c.Fill()

	return types.Case{
		ID:                record.ID,
		BatchID:           record.BatchID,
		Seq:               record.Seq,
		EmailID:           record.EmailID,
		ReceivedAt:        record.ReceivedAt,
		From:              record.From,
		Subject:           record.Subject,
		Body:              record.Body,
		Category:          c.Category,
		Queue:             c.Queue,
		CustomerName:      c.CustomerName,
		InvoiceReferences: c.InvoiceReferences,
		Amounts:           c.Amounts,
		Dates:             c.Dates,
		DisputeReason:     c.DisputeReason,
		NextAction:        c.NextAction,
		Model:             record.Model,
		Fallback:          record.Fallback,
		Diagnostic:        record.Diagnostic,
		ProcessedAt:       record.ProcessedAt.Format(time.RFC3339),
	}
}

func recordToSent(record *storage.SentRecord) types.SentEmail {
	return types.SentEmail{
		ID:      record.ID,
		CaseID:  record.CaseID,
		EmailID: record.EmailID,
		To:      record.To,
		Subject: record.Subject,
		Body:    record.Body,
		SentAt:  record.SentAt.Format(time.RFC3339),
	}
}

// queueSummary lists every queue in dashboard order, including empty ones.
func queueSummary(batchID string, counts map[types.Queue]int) types.QueueSummary {
	summary := types.QueueSummary{
		BatchID:      batchID,
		ManualReview: counts[types.QueueManualReview],
		Queues:       make([]types.QueueCount, len(types.Queues)),
	}
	for i, q := range types.Queues {
		summary.Queues[i] = types.QueueCount{Queue: q, Count: counts[q]}
		summary.Total += counts[q]
	}
	return summary
}

func parseQueue(s string) (types.Queue, bool) {
	for _, q := range types.Queues {
		if string(q) == s {
			return q, true
		}
	}
	return "", false
}
