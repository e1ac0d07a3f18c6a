package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/georgeshao/o2c-triage/internal/inference"
	"github.com/georgeshao/o2c-triage/internal/metrics"
	"github.com/georgeshao/o2c-triage/pkg/types"
)

var (
	// ErrFatalDispatch wraps a failure that no other credential or model can fix.
	ErrFatalDispatch = errors.New("fatal dispatch error")
	// ErrExhausted means every (model, credential) pair was skipped in one pass.
	ErrExhausted = errors.New("all credentials and models exhausted")
)

// Result is a successful classification and the pair that produced it.
type Result struct {
	Classification *types.ClassificationResult
	Model          string
	Slot           int
}

type Dispatcher struct {
	pool    *Pool
	ladder  *Ladder
	invoker inference.Invoker
	config  Config
	logger  *slog.Logger

	backoff func(cooldown time.Duration) retry.Backoff
}

func New(config Config, invoker inference.Invoker, logger *slog.Logger) (*Dispatcher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	pool, err := NewPool(config.Credentials)
	if err != nil {
		return nil, err
	}

	ladder, err := NewLadder(config.Models)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		pool:    pool,
		ladder:  ladder,
		invoker: invoker,
		config:  config,
		logger:  logger,
		backoff: cooldownBackoff,
	}, nil
}

func (d *Dispatcher) Pool() *Pool {
	return d.pool
}

// Dispatch makes one pass over every (model, credential) pair: models in
// ladder order, credentials in rotation order from start. It returns the
// first success, a fatal error wrapped in ErrFatalDispatch, or ErrExhausted.
func (d *Dispatcher) Dispatch(ctx context.Context, email *types.Email, start int) (*Result, error) {
	prompt, err := BuildPrompt(email)
	if err != nil {
		return nil, fmt.Errorf("%w: build prompt: %w", ErrFatalDispatch, err)
	}

	for _, model := range d.ladder.Models() {
		for _, slot := range d.pool.RotationOrder(start) {
			outcome := d.attempt(ctx, slot, model, prompt)
			metrics.AttemptsTotal.WithLabelValues(model, strconv.Itoa(slot.Index), outcome.Kind.String()).Inc()

			switch outcome.Kind {
			case OutcomeSuccess:
				return &Result{Classification: outcome.Result, Model: model, Slot: slot.Index}, nil
			case OutcomeFatal:
				d.logger.WarnContext(ctx, "Fatal attempt",
					"email_id", email.ID, "model", model, "slot", slot.Index, "error", outcome.Err)
				return nil, fmt.Errorf("%w: %w", ErrFatalDispatch, outcome.Err)
			case OutcomeSkip:
				d.logger.DebugContext(ctx, "Skipping pair",
					"email_id", email.ID, "model", model, "slot", slot.Index, "error", outcome.Err)
			}
		}
	}

	return nil, ErrExhausted
}

func (d *Dispatcher) attempt(ctx context.Context, slot Slot, model, prompt string) Outcome {
	began := time.Now()
	raw, err := d.invoker.Invoke(ctx, slot.Credential, model, prompt)
	metrics.AttemptLatency.WithLabelValues(model).Observe(time.Since(began).Seconds())

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fatal(ctxErr)
		}
		if inference.IsRetryable(err) {
			return skip(err)
		}
		return fatal(err)
	}

	result, err := Normalize(raw)
	if err != nil {
		return skip(err)
	}
	return success(result)
}
