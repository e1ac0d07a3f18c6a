package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Email is one inbound message as supplied by the input loader. It is the
// classification request: the engine reads it and never mutates it.
type Email struct {
	ID         string `json:"id"`
	From       string `json:"from"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	ReceivedAt string `json:"receivedAt"`
}

type Category string

const (
	CategoryPaymentClaim Category = "Payment Claim"
	CategoryDispute      Category = "Dispute"
	CategoryGeneralAR    Category = "General AR Request"
	CategoryError        Category = "Error"
)

type Queue string

const (
	QueueCashApplication Queue = "Cash Application"
	QueueDisputes        Queue = "Disputes"
	QueueARSupport       Queue = "AR Support"
	QueueManualReview    Queue = "Manual Review"
)

// Queues lists every routing queue in dashboard order.
var Queues = []Queue{QueueCashApplication, QueueDisputes, QueueARSupport, QueueManualReview}

// Amount is a monetary value as extracted by the model. Models return either
// bare numbers or formatted strings ("$1,200.00"), so both decode to text.
type Amount string

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a string or number: %s", data)
	}
	*a = Amount(n.String())
	return nil
}

// ClassificationResult is the structured reply expected from the inference service.
type ClassificationResult struct {
	Category          Category `json:"category" validate:"required,oneof='Payment Claim' Dispute 'General AR Request'"`
	Queue             Queue    `json:"queue" validate:"required,oneof='Cash Application' Disputes 'AR Support'"`
	CustomerName      string   `json:"customer_name"`
	InvoiceReferences []string `json:"invoice_references"`
	Amounts           []Amount `json:"amounts"`
	Dates             []string `json:"dates"`
	DisputeReason     string   `json:"dispute_reason"`
	NextAction        string   `json:"next_action"`
}

// Fill replaces nil slices with empty ones so persisted records always
// carry arrays rather than nulls.
func (r *ClassificationResult) Fill() {
	if r.InvoiceReferences == nil {
		r.InvoiceReferences = []string{}
	}
	if r.Amounts == nil {
		r.Amounts = []Amount{}
	}
	if r.Dates == nil {
		r.Dates = []string{}
	}
}
