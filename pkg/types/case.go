package types

// Case is the wire form of a persisted case record.
type Case struct {
	ID                string   `json:"id"`
	BatchID           string   `json:"batch_id"`
	Seq               int      `json:"seq"`
	EmailID           string   `json:"email_id"`
	ReceivedAt        string   `json:"received_at"`
	From              string   `json:"from"`
	Subject           string   `json:"subject"`
	Body              string   `json:"body"`
	Category          Category `json:"category"`
	Queue             Queue    `json:"queue"`
	CustomerName      string   `json:"customer_name"`
	InvoiceReferences []string `json:"invoice_references"`
	Amounts           []Amount `json:"amounts"`
	Dates             []string `json:"dates"`
	DisputeReason     string   `json:"dispute_reason"`
	NextAction        string   `json:"next_action"`
	Model             string   `json:"model,omitempty"`
	Fallback          bool     `json:"fallback"`
	Diagnostic        *string  `json:"diagnostic,omitempty"`
	ProcessedAt       string   `json:"processed_at"`
}

type QueueCount struct {
	Queue Queue `json:"queue"`
	Count int   `json:"count"`
}

// QueueSummary is the dashboard header: per-queue counts for one batch and
// how many cases need manual attention.
type QueueSummary struct {
	BatchID      string       `json:"batch_id"`
	Total        int          `json:"total"`
	ManualReview int          `json:"manual_review"`
	Queues       []QueueCount `json:"queues"`
}

type ListCasesResponse struct {
	Cases     []Case `json:"cases"`
	BatchID   string `json:"batch_id"`
	Limit     int    `json:"limit"`
	NextAfter *int   `json:"next_after,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
