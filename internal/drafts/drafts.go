// Package drafts generates reply emails for classified cases. It makes a
// single best-effort pass over credentials and models and falls back to a
// fixed text, never an error, when nothing answers.
package drafts

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"text/template"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/georgeshao/o2c-triage/internal/inference"
	"github.com/georgeshao/o2c-triage/internal/metrics"
	"github.com/georgeshao/o2c-triage/internal/storage"
	"github.com/georgeshao/o2c-triage/pkg/formatting"
	"github.com/georgeshao/o2c-triage/pkg/types"
)

const fallbackBody = "Unable to generate draft at this time. Please compose manually."

var draftTemplate = template.Must(template.New("draft").Parse(`You are a professional Accounts Receivable team member.
Generate a response email for this case.

Queue: {{.Queue}}
Category: {{.Category}}
Customer: {{.CustomerName}}
Original Subject: {{.Subject}}
Invoice References: {{.InvoiceReferences}}
Dispute Reason: {{.DisputeReason}}
Recommended Action: {{.NextAction}}

Write a professional, concise response email addressed to the customer.
End the email with:
Sincerely,
Your {{.Queue}} Team

Respond with ONLY valid JSON, no markdown, no backticks:
{
    "subject": "Re: original subject",
    "body": "professional email body text ending with the sign-off above"
}`))

var validate = validator.New()

type promptData struct {
	Queue             types.Queue
	Category          types.Category
	CustomerName      string
	Subject           string
	InvoiceReferences string
	DisputeReason     string
	NextAction        string
}

type Generator struct {
	invoker     inference.Invoker
	credentials []string
	models      []string
	limiter     *rate.Limiter
	logger      *slog.Logger

	shuffle func([]string)
}

// NewGenerator returns a generator. limiter may be nil for no throttling.
func NewGenerator(invoker inference.Invoker, credentials, models []string, limiter *rate.Limiter, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		invoker:     invoker,
		credentials: append([]string(nil), credentials...),
		models:      append([]string(nil), models...),
		limiter:     limiter,
		logger:      logger,
		shuffle: func(s []string) {
			rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
		},
	}
}

// Fallback is the draft returned when generation fails.
func Fallback(rec *storage.CaseRecord) *types.Draft {
	return &types.Draft{
		Subject: "Re: " + rec.Subject,
		Body:    fallbackBody,
	}
}

// Generate returns a draft for rec and whether it came from a model. The
// only error is a context failure while waiting on the limiter.
func (g *Generator) Generate(ctx context.Context, rec *storage.CaseRecord) (*types.Draft, bool, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, false, err
		}
	}

	prompt, err := buildPrompt(rec)
	if err != nil {
		g.logger.ErrorContext(ctx, "Failed to build draft prompt", "case_id", rec.ID, "error", err)
		metrics.DraftsTotal.WithLabelValues("fallback").Inc()
		return Fallback(rec), false, nil
	}

	keys := append([]string(nil), g.credentials...)
	g.shuffle(keys)

	for _, key := range keys {
		for _, model := range g.models {
			draft, err := g.try(ctx, key, model, prompt)
			if err != nil {
				if ctx.Err() != nil {
					return nil, false, ctx.Err()
				}
				g.logger.DebugContext(ctx, "Draft attempt failed", "case_id", rec.ID, "model", model, "error", err)
				continue
			}
			metrics.DraftsTotal.WithLabelValues("generated").Inc()
			return draft, true, nil
		}
	}

	g.logger.WarnContext(ctx, "Draft generation fell back", "case_id", rec.ID)
	metrics.DraftsTotal.WithLabelValues("fallback").Inc()
	return Fallback(rec), false, nil
}

func (g *Generator) try(ctx context.Context, key, model, prompt string) (*types.Draft, error) {
	raw, err := g.invoker.Invoke(ctx, key, model, prompt)
	if err != nil {
		return nil, err
	}

	draft, err := formatting.Parse[types.Draft](raw)
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(draft); err != nil {
		return nil, fmt.Errorf("%w: %w", formatting.ErrParseFailed, err)
	}
	return &draft, nil
}

func buildPrompt(rec *storage.CaseRecord) (string, error) {
	c := rec.Classification
	queue := c.Queue
	if queue == "" {
		queue = types.QueueARSupport
	}

	var b strings.Builder
	err := draftTemplate.Execute(&b, promptData{
		Queue:             queue,
		Category:          c.Category,
		CustomerName:      c.CustomerName,
		Subject:           rec.Subject,
		InvoiceReferences: strings.Join(c.InvoiceReferences, ", "),
		DisputeReason:     c.DisputeReason,
		NextAction:        c.NextAction,
	})
	return b.String(), err
}
