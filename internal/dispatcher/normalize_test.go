package dispatcher

import (
	"errors"
	"strings"
	"testing"

	"github.com/georgeshao/o2c-triage/pkg/formatting"
	"github.com/georgeshao/o2c-triage/pkg/types"
)

func TestNormalize(t *testing.T) {
	result, err := Normalize(validReply)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if result.Category != types.CategoryPaymentClaim || result.Queue != types.QueueCashApplication {
		t.Errorf("result = %+v", result)
	}
	if len(result.Amounts) != 1 || result.Amounts[0] != "1200.5" {
		t.Errorf("Amounts = %v", result.Amounts)
	}
}

func TestNormalizeFencedMatchesUnfenced(t *testing.T) {
	plain, err := Normalize(validReply)
	if err != nil {
		t.Fatalf("Normalize(plain) failed: %v", err)
	}

	for _, fenced := range []string{
		"```json\n" + validReply + "\n```",
		"```\n" + validReply + "\n```\n",
		"  \n```json\n" + validReply + "\n```  ",
	} {
		got, err := Normalize(fenced)
		if err != nil {
			t.Fatalf("Normalize(fenced) failed: %v", err)
		}
		if got.CustomerName != plain.CustomerName || got.NextAction != plain.NextAction ||
			got.InvoiceReferences[0] != plain.InvoiceReferences[0] {
			t.Errorf("fenced = %+v, plain = %+v", got, plain)
		}
	}
}

func TestNormalizeFillsMissingArrays(t *testing.T) {
	result, err := Normalize(`{"category":"Dispute","queue":"Disputes","dispute_reason":"short paid"}`)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if result.InvoiceReferences == nil || result.Amounts == nil || result.Dates == nil {
		t.Errorf("nil slices left in %+v", result)
	}
}

func TestNormalizeRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", "   "},
		{"prose", "I think this is a payment claim."},
		{"trailing garbage", validReply + " thanks!"},
		{"unknown category", `{"category":"Spam","queue":"AR Support"}`},
		{"missing queue", `{"category":"Dispute"}`},
		{"manual review is not a model answer", `{"category":"Error","queue":"Manual Review"}`},
		{"wrong type", `{"category":"Dispute","queue":"Disputes","dates":"yesterday"}`},
		{"truncated", strings.TrimSuffix(validReply, "}")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.raw)
			if !errors.Is(err, formatting.ErrParseFailed) {
				t.Errorf("Normalize error = %v, want ErrParseFailed", err)
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt, err := BuildPrompt(&types.Email{
		From:       "ap@acme.example",
		Subject:    "Remittance for INV-10042",
		Body:       "Paid via ACH.",
		ReceivedAt: "2025-01-15T09:30:00Z",
	})
	if err != nil {
		t.Fatalf("BuildPrompt failed: %v", err)
	}

	for _, want := range []string{
		"From: ap@acme.example\n",
		"Subject: Remittance for INV-10042\n",
		"Body: Paid via ACH.\n",
		"Received: 2025-01-15T09:30:00Z\n",
		`"queue": "Cash Application" OR "Disputes" OR "AR Support"`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
