package dispatcher

import (
	"strings"
	"text/template"

	"github.com/georgeshao/o2c-triage/pkg/types"
)

var classifyTemplate = template.Must(template.New("classify").Parse(`You are an Order-to-Cash email classification agent.

Analyze this email and respond with ONLY valid JSON, no markdown, no backticks:

From: {{.From}}
Subject: {{.Subject}}
Body: {{.Body}}
Received: {{.ReceivedAt}}

Respond in this exact JSON format:
{
    "category": "Payment Claim" OR "Dispute" OR "General AR Request",
    "queue": "Cash Application" OR "Disputes" OR "AR Support",
    "customer_name": "extracted company name",
    "invoice_references": ["INV-XXXXX"],
    "amounts": [],
    "dates": [],
    "dispute_reason": "reason if dispute, otherwise empty string",
    "next_action": "brief recommended next step"
}

Classification rules:
- "Payment Claim" -> customer says they paid, transferred, remitted -> queue: "Cash Application"
- "Dispute" -> short payment, pricing issue, damaged goods, credit note request, partial payment, deductions, payment on hold -> queue: "Disputes"
- "General AR Request" -> invoice copy request, statement request, payment confirmation request, proof of delivery request -> queue: "AR Support"
`))

// BuildPrompt renders the classification request for email.
func BuildPrompt(email *types.Email) (string, error) {
	var b strings.Builder
	if err := classifyTemplate.Execute(&b, email); err != nil {
		return "", err
	}
	return b.String(), nil
}
