package dispatcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/georgeshao/o2c-triage/internal/inference"
	"github.com/georgeshao/o2c-triage/internal/storage"
	"github.com/georgeshao/o2c-triage/pkg/types"
)

const validReply = `{
  "category": "Payment Claim",
  "queue": "Cash Application",
  "customer_name": "Acme Corp",
  "invoice_references": ["INV-10042"],
  "amounts": [1200.5],
  "dates": ["2025-01-14"],
  "dispute_reason": "",
  "next_action": "Match payment to invoice"
}`

var (
	errOverloaded = &inference.StatusError{Code: http.StatusServiceUnavailable, Status: "UNAVAILABLE", Message: "model overloaded"}
	errQuota      = &inference.StatusError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED", Message: "quota"}
	errAuth       = &inference.StatusError{Code: http.StatusUnauthorized, Status: "UNAUTHENTICATED", Message: "API key not valid"}
)

type call struct {
	credential string
	model      string
	prompt     string
}

func (c call) pair() string {
	return c.credential + "/" + c.model
}

type fakeInvoker struct {
	calls   []call
	respond func(c call, n int) (string, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, credential, model, prompt string) (string, error) {
	c := call{credential: credential, model: model, prompt: prompt}
	f.calls = append(f.calls, c)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.respond(c, len(f.calls))
}

func (f *fakeInvoker) pairs() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.pair()
	}
	return out
}

func alwaysSucceed(call, int) (string, error) {
	return validReply, nil
}

func alwaysQuota(call, int) (string, error) {
	return "", errQuota
}

type memStore struct {
	records []*storage.CaseRecord
	failAt  int // fail the append with this 1-based count; 0 never fails
}

func (m *memStore) AppendCase(ctx context.Context, rec *storage.CaseRecord) error {
	if m.failAt > 0 && len(m.records)+1 == m.failAt {
		return fmt.Errorf("disk full")
	}
	m.records = append(m.records, rec)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(creds, models []string) Config {
	return Config{
		Credentials: creds,
		Models:      models,
		Cooldown:    time.Millisecond,
		Pace:        time.Second,
	}
}

func newTestDispatcher(t *testing.T, creds, models []string, inv inference.Invoker) *Dispatcher {
	t.Helper()
	d, err := New(testConfig(creds, models), inv, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return d
}

// newTestRunner returns a runner whose pacing sleeps are recorded instead of
// taken.
func newTestRunner(d *Dispatcher, store storage.CaseAppender) (*Runner, *[]time.Duration) {
	r := NewRunner(d, store, testLogger())
	var slept []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	r.now = func() time.Time { return time.Unix(1736933400, 0) }
	return r, &slept
}

func emails(subjects ...string) []types.Email {
	out := make([]types.Email, len(subjects))
	for i, s := range subjects {
		out[i] = types.Email{
			ID:         fmt.Sprintf("email-%03d", i+1),
			From:       "ap@acme.example",
			Subject:    s,
			Body:       "Please see attached.",
			ReceivedAt: "2025-01-15T09:30:00Z",
		}
	}
	return out
}

func subjectIs(c call, subject string) bool {
	return strings.Contains(c.prompt, "Subject: "+subject+"\n")
}

// recordWaits wraps d's cooldown backoff and records every wait it grants.
func recordWaits(d *Dispatcher) *[]time.Duration {
	var waits []time.Duration
	next := d.backoff
	d.backoff = func(cooldown time.Duration) retry.Backoff {
		b := next(cooldown)
		return retry.BackoffFunc(func() (time.Duration, bool) {
			wait, stop := b.Next()
			if !stop {
				waits = append(waits, wait)
			}
			return wait, stop
		})
	}
	return &waits
}
