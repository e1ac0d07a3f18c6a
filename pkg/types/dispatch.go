package types

import "time"

// BatchSummary reports the outcome of one batch run.
type BatchSummary struct {
	BatchID   string        `json:"batch_id"`
	Total     int           `json:"total"`
	Processed int           `json:"processed"`
	Fallbacks int           `json:"fallbacks"`
	Queues    map[Queue]int `json:"queues"`
	Duration  time.Duration `json:"duration"`
}

func NewBatchSummary(batchID string, total int) *BatchSummary {
	return &BatchSummary{
		BatchID: batchID,
		Total:   total,
		Queues:  make(map[Queue]int, len(Queues)),
	}
}

// Draft is a generated reply for a case.
type Draft struct {
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body" validate:"required"`
}

type SendEmailRequest struct {
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body" validate:"required"`
}

type SentEmail struct {
	ID      string `json:"id"`
	CaseID  string `json:"case_id"`
	EmailID string `json:"email_id"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	SentAt  string `json:"sent_at"`
}

type DraftResponse struct {
	Draft
	// Generated is false when the fixed fallback text was returned.
	Generated bool `json:"generated"`
}

type ListSentResponse struct {
	Sent []SentEmail `json:"sent"`
}

// BatchRequest mirrors the input file layout.
type BatchRequest struct {
	Emails []Email `json:"emails"`
}

type BatchResponse struct {
	BatchID     string `json:"batch_id"`
	QueuedCount int    `json:"queued_count"`
	Status      string `json:"status"`
}
