package drafts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"golang.org/x/time/rate"

	"github.com/georgeshao/o2c-triage/internal/storage/storagetest"
	"github.com/georgeshao/o2c-triage/pkg/types"
)

type fakeInvoker struct {
	calls   []string
	prompts []string
	respond func(key, model string) (string, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, key, model, prompt string) (string, error) {
	f.calls = append(f.calls, key+"/"+model)
	f.prompts = append(f.prompts, prompt)
	return f.respond(key, model)
}

func newTestGenerator(inv *fakeInvoker, keys []string, limiter *rate.Limiter) *Generator {
	g := NewGenerator(inv, keys, []string{"lite", "flash"}, limiter, slog.New(slog.NewTextHandler(io.Discard, nil)))
	g.shuffle = func([]string) {}
	return g
}

func TestGenerateReturnsModelDraft(t *testing.T) {
	inv := &fakeInvoker{respond: func(key, model string) (string, error) {
		return "```json\n{\"subject\": \"Re: Short payment\", \"body\": \"Hello,\\n\\nSincerely,\\nYour Disputes Team\"}\n```", nil
	}}
	g := newTestGenerator(inv, []string{"K1", "K2"}, nil)
	rec := storagetest.NewCase("b", 1, types.QueueDisputes)

	draft, generated, err := g.Generate(context.Background(), rec)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if !generated || draft.Subject != "Re: Short payment" {
		t.Errorf("draft = %+v generated = %v", draft, generated)
	}
	if len(inv.calls) != 1 || inv.calls[0] != "K1/lite" {
		t.Errorf("calls = %v", inv.calls)
	}

	prompt := inv.prompts[0]
	for _, want := range []string{"Queue: Disputes\n", "Customer: Acme Corp\n", "Invoice References: INV-00001\n", "Your Disputes Team"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestGenerateTriesModelsWithinEachKey(t *testing.T) {
	inv := &fakeInvoker{respond: func(key, model string) (string, error) {
		if key == "K2" && model == "flash" {
			return `{"subject": "Re: x", "body": "ok"}`, nil
		}
		if model == "lite" {
			return "", errors.New("quota")
		}
		return `{"subject": ""}`, nil
	}}
	g := newTestGenerator(inv, []string{"K1", "K2"}, nil)

	_, generated, err := g.Generate(context.Background(), storagetest.NewCase("b", 0, types.QueueARSupport))
	if err != nil || !generated {
		t.Fatalf("Generate = %v, %v", generated, err)
	}

	want := []string{"K1/lite", "K1/flash", "K2/lite", "K2/flash"}
	if strings.Join(inv.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", inv.calls, want)
	}
}

func TestGenerateFallsBackWithoutRetrying(t *testing.T) {
	inv := &fakeInvoker{respond: func(key, model string) (string, error) {
		return "", errors.New("unauthorized")
	}}
	g := newTestGenerator(inv, []string{"K1", "K2", "K3"}, nil)
	rec := storagetest.NewCase("b", 2, types.QueueCashApplication)

	draft, generated, err := g.Generate(context.Background(), rec)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if generated {
		t.Error("generated = true for fallback")
	}
	if draft.Subject != "Re: "+rec.Subject || draft.Body != "Unable to generate draft at this time. Please compose manually." {
		t.Errorf("fallback draft = %+v", draft)
	}
	if len(inv.calls) != 6 {
		t.Errorf("calls = %d, want one pass of 6", len(inv.calls))
	}
}

func TestGenerateWithoutCredentials(t *testing.T) {
	inv := &fakeInvoker{respond: func(string, string) (string, error) {
		t.Error("invoker called with no credentials")
		return "", nil
	}}
	g := newTestGenerator(inv, nil, nil)

	draft, generated, err := g.Generate(context.Background(), storagetest.NewCase("b", 0, types.QueueARSupport))
	if err != nil || generated || draft.Body != fallbackBody {
		t.Errorf("Generate = %+v, %v, %v", draft, generated, err)
	}
}

func TestGenerateRespectsLimiter(t *testing.T) {
	inv := &fakeInvoker{respond: func(string, string) (string, error) {
		return `{"subject": "s", "body": "b"}`, nil
	}}
	limiter := rate.NewLimiter(rate.Limit(0.001), 1)
	g := newTestGenerator(inv, []string{"K1"}, limiter)
	rec := storagetest.NewCase("b", 0, types.QueueARSupport)

	if _, _, err := g.Generate(context.Background(), rec); err != nil {
		t.Fatalf("first Generate failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := g.Generate(ctx, rec); err == nil {
		t.Error("expected limiter wait to fail on cancelled context")
	}
	if len(inv.calls) != 1 {
		t.Errorf("calls = %d, want 1", len(inv.calls))
	}
}

func TestBuildPromptDefaultsQueue(t *testing.T) {
	rec := storagetest.NewCase("b", 0, types.QueueARSupport)
	rec.Classification.Queue = ""

	prompt, err := buildPrompt(rec)
	if err != nil {
		t.Fatalf("buildPrompt failed: %v", err)
	}
	if !strings.Contains(prompt, "Queue: AR Support\n") {
		t.Errorf("prompt = %q", prompt)
	}
}
