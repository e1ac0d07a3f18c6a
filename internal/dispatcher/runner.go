package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/georgeshao/o2c-triage/internal/metrics"
	"github.com/georgeshao/o2c-triage/internal/storage"
	"github.com/georgeshao/o2c-triage/pkg/formatting"
	"github.com/georgeshao/o2c-triage/pkg/types"
)

const (
	fallbackPrefix   = "Manual review needed: "
	exhaustedReason  = "All keys exhausted"
	maxDiagnosticLen = 100
)

// ErrBatchInProgress is returned when a runner is asked to start a batch
// while another is still running.
var ErrBatchInProgress = errors.New("batch already in progress")

// Runner walks a batch strictly in order, resolving each email and appending
// its case before moving to the next.
type Runner struct {
	dispatcher *Dispatcher
	store      storage.CaseAppender
	pace       time.Duration
	logger     *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	active bool
	wg     sync.WaitGroup
}

func NewRunner(d *Dispatcher, store storage.CaseAppender, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		dispatcher: d,
		store:      store,
		pace:       d.config.Pace,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// CaseID is the identifier of the case at position seq of batchID.
func CaseID(batchID string, seq int) string {
	return fmt.Sprintf("%s-%04d", batchID, seq)
}

// Run processes emails as a new batch.
func (r *Runner) Run(ctx context.Context, emails []types.Email) (*types.BatchSummary, error) {
	return r.RunFrom(ctx, uuid.NewString(), emails, 0)
}

// RunFrom processes emails[from:] under batchID. Rotation offsets use the
// absolute index, so resuming a batch reproduces the same credential order.
func (r *Runner) RunFrom(ctx context.Context, batchID string, emails []types.Email, from int) (*types.BatchSummary, error) {
	if err := r.acquire(); err != nil {
		return nil, err
	}
	defer r.release()

	return r.run(ctx, batchID, emails, from)
}

// Start launches a batch in the background and returns once it has been
// accepted. done, if not nil, receives the summary and error.
func (r *Runner) Start(ctx context.Context, batchID string, emails []types.Email, done func(*types.BatchSummary, error)) error {
	if err := r.acquire(); err != nil {
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release()
		summary, err := r.run(ctx, batchID, emails, 0)
		if done != nil {
			done(summary, err)
		}
	}()
	return nil
}

// Wait blocks until a batch launched by Start has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Busy reports whether a batch is running.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Runner) acquire() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return ErrBatchInProgress
	}
	r.active = true
	metrics.BatchInProgress.Set(1)
	return nil
}

func (r *Runner) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	metrics.BatchInProgress.Set(0)
}

func (r *Runner) run(ctx context.Context, batchID string, emails []types.Email, from int) (*types.BatchSummary, error) {
	if from < 0 || from > len(emails) {
		return nil, fmt.Errorf("resume offset %d out of range [0, %d]", from, len(emails))
	}

	began := r.now()
	summary := types.NewBatchSummary(batchID, len(emails))
	logger := r.logger.With("batch_id", batchID)

	logger.InfoContext(ctx, "Starting batch", "emails", len(emails), "from", from,
		"credentials", r.dispatcher.pool.Len())

	for i := from; i < len(emails); i++ {
		email := &emails[i]
		start := r.dispatcher.pool.StartFor(i)

		logger.InfoContext(ctx, "Processing email", "seq", i, "email_id", email.ID, "slot", start)

		result, err := r.dispatcher.Resolve(ctx, email, start)
		if ctxErr := ctx.Err(); ctxErr != nil {
			summary.Duration = r.now().Sub(began)
			return summary, ctxErr
		}

		rec := r.record(batchID, i, email, result, err)
		if err := r.store.AppendCase(ctx, rec); err != nil {
			summary.Duration = r.now().Sub(began)
			return summary, fmt.Errorf("append case %d: %w", i, err)
		}

		summary.Processed++
		summary.Queues[rec.Classification.Queue]++
		metrics.CasesTotal.WithLabelValues(string(rec.Classification.Queue)).Inc()

		if rec.Fallback {
			summary.Fallbacks++
			reason := "exhausted"
			if err != nil {
				reason = "fatal"
			}
			metrics.FallbacksTotal.WithLabelValues(reason).Inc()
			logger.WarnContext(ctx, "Email routed to manual review", "seq", i, "email_id", email.ID,
				"diagnostic", *rec.Diagnostic)
		} else {
			logger.InfoContext(ctx, "Email classified", "seq", i, "email_id", email.ID,
				"category", rec.Classification.Category, "queue", rec.Classification.Queue,
				"model", rec.Model, "slot", rec.Slot)
		}

		if i < len(emails)-1 {
			if err := r.sleep(ctx, r.pace); err != nil {
				summary.Duration = r.now().Sub(began)
				return summary, err
			}
		}
	}

	summary.Duration = r.now().Sub(began)

	args := []any{"processed", summary.Processed, "total", summary.Total, "duration", summary.Duration}
	for _, q := range types.Queues {
		args = append(args, string(q), summary.Queues[q])
	}
	logger.InfoContext(ctx, "Batch complete", args...)

	return summary, nil
}

func (r *Runner) record(batchID string, seq int, email *types.Email, result *Result, err error) *storage.CaseRecord {
	rec := &storage.CaseRecord{
		ID:          CaseID(batchID, seq),
		BatchID:     batchID,
		Seq:         seq,
		EmailID:     email.ID,
		ReceivedAt:  email.ReceivedAt,
		From:        email.From,
		Subject:     email.Subject,
		Body:        email.Body,
		Slot:        r.dispatcher.pool.StartFor(seq),
		ProcessedAt: r.now(),
	}

	switch {
	case err != nil:
		applyFallback(rec, err.Error())
	case result == nil:
		applyFallback(rec, exhaustedReason)
	default:
		rec.Classification = *result.Classification
		rec.Model = result.Model
		rec.Slot = result.Slot
	}
	return rec
}

func applyFallback(rec *storage.CaseRecord, diagnostic string) {
	rec.Fallback = true
	rec.Diagnostic = &diagnostic
	rec.Classification = types.ClassificationResult{
		Category:          types.CategoryError,
		Queue:             types.QueueManualReview,
		InvoiceReferences: []string{},
		Amounts:           []types.Amount{},
		Dates:             []string{},
		NextAction:        fallbackPrefix + formatting.Truncate(diagnostic, maxDiagnosticLen),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
