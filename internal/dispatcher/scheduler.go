package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/georgeshao/o2c-triage/internal/metrics"
	"github.com/georgeshao/o2c-triage/pkg/types"
)

// cooldownBackoff allows exactly one retry, after cooldown.
func cooldownBackoff(cooldown time.Duration) retry.Backoff {
	return retry.WithMaxRetries(1, retry.NewConstant(cooldown))
}

// Resolve runs a pass immediately and, if every pair was skipped, exactly one
// more pass from the same offset after Cooldown. It returns (nil, nil) when
// both passes are exhausted. Fatal errors return at once with no cooldown.
func (d *Dispatcher) Resolve(ctx context.Context, email *types.Email, start int) (*Result, error) {
	began := time.Now()
	defer func() {
		metrics.DispatchLatency.Observe(time.Since(began).Seconds())
	}()

	var (
		result *Result
		pass   int
	)

	err := retry.Do(ctx, d.backoff(d.config.Cooldown), func(ctx context.Context) error {
		pass++
		r, err := d.Dispatch(ctx, email, start)
		if errors.Is(err, ErrExhausted) {
			if pass == 1 {
				metrics.CooldownsTotal.Inc()
				d.logger.InfoContext(ctx, "All pairs busy, cooling down",
					"email_id", email.ID, "cooldown", d.config.Cooldown)
			}
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		result = r
		return nil
	})

	if errors.Is(err, ErrExhausted) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
