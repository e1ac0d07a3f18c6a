package dispatcher

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/georgeshao/o2c-triage/internal/inference"
	"github.com/georgeshao/o2c-triage/internal/metrics"
	"github.com/georgeshao/o2c-triage/pkg/types"
)

func TestNewValidatesConfig(t *testing.T) {
	inv := &fakeInvoker{respond: alwaysSucceed}

	if _, err := New(testConfig(nil, DefaultModels), inv, nil); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("no credentials: error = %v", err)
	}
	if _, err := New(testConfig([]string{"k1"}, nil), inv, nil); !errors.Is(err, ErrNoModels) {
		t.Errorf("no models: error = %v", err)
	}

	cfg := testConfig([]string{"k1"}, DefaultModels)
	cfg.Cooldown = 0
	if _, err := New(cfg, inv, nil); err == nil {
		t.Error("expected error for zero cooldown")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Cooldown != 15*time.Second || cfg.Pace != 4*time.Second {
		t.Errorf("DefaultConfig delays = %s / %s", cfg.Cooldown, cfg.Pace)
	}
	if !reflect.DeepEqual(cfg.Models, DefaultModels) {
		t.Errorf("DefaultConfig models = %v", cfg.Models)
	}
}

func TestDispatchOverloadThenSuccess(t *testing.T) {
	inv := &fakeInvoker{respond: func(c call, _ int) (string, error) {
		switch c.pair() {
		case "K1/M1", "K1/M2":
			return "", errOverloaded
		case "K2/M1":
			return validReply, nil
		}
		t.Errorf("unexpected attempt %s", c.pair())
		return validReply, nil
	}}
	d := newTestDispatcher(t, []string{"K1", "K2"}, []string{"M1", "M2"}, inv)

	// Third request of the batch.
	start := d.Pool().StartFor(2)
	result, err := d.Resolve(context.Background(), &emails("Remittance")[0], start)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if result == nil {
		t.Fatal("Resolve returned nil result")
	}
	if result.Model != "M1" || result.Slot != 1 {
		t.Errorf("result from %s slot %d, want M1 slot 1", result.Model, result.Slot)
	}
	if result.Classification.Queue != types.QueueCashApplication {
		t.Errorf("queue = %s", result.Classification.Queue)
	}

	want := []string{"K1/M1", "K2/M1"}
	if got := inv.pairs(); !reflect.DeepEqual(got, want) {
		t.Errorf("attempts = %v, want %v", got, want)
	}
}

func TestDispatchVisitsCredentialsBeforeModels(t *testing.T) {
	inv := &fakeInvoker{respond: alwaysQuota}
	d := newTestDispatcher(t, []string{"K1", "K2", "K3"}, []string{"M1", "M2"}, inv)

	_, err := d.Dispatch(context.Background(), &emails("Statement")[0], 1)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("Dispatch error = %v, want ErrExhausted", err)
	}

	want := []string{"K2/M1", "K3/M1", "K1/M1", "K2/M2", "K3/M2", "K1/M2"}
	if got := inv.pairs(); !reflect.DeepEqual(got, want) {
		t.Errorf("attempts = %v, want %v", got, want)
	}
}

func TestDispatchFatalAbortsImmediately(t *testing.T) {
	inv := &fakeInvoker{respond: func(c call, _ int) (string, error) {
		if c.pair() == "K1/M1" {
			return "", errAuth
		}
		return validReply, nil
	}}
	d := newTestDispatcher(t, []string{"K1", "K2"}, []string{"M1", "M2"}, inv)

	result, err := d.Resolve(context.Background(), &emails("Invoice copy")[0], 0)
	if result != nil {
		t.Errorf("Resolve result = %+v, want nil", result)
	}
	if !errors.Is(err, ErrFatalDispatch) {
		t.Fatalf("Resolve error = %v, want ErrFatalDispatch", err)
	}

	var se *inference.StatusError
	if !errors.As(err, &se) || se.Code != 401 {
		t.Errorf("error does not carry the status: %v", err)
	}
	if len(inv.calls) != 1 {
		t.Errorf("attempts = %v, want only K1/M1", inv.pairs())
	}
}

func TestDispatchTransportFailureIsFatal(t *testing.T) {
	inv := &fakeInvoker{respond: func(call, int) (string, error) {
		return "", inference.ErrTransport
	}}
	d := newTestDispatcher(t, []string{"K1", "K2"}, []string{"M1"}, inv)

	_, err := d.Dispatch(context.Background(), &emails("Hello")[0], 0)
	if !errors.Is(err, ErrFatalDispatch) || !errors.Is(err, inference.ErrTransport) {
		t.Errorf("Dispatch error = %v", err)
	}
	if len(inv.calls) != 1 {
		t.Errorf("attempts = %d, want 1", len(inv.calls))
	}
}

func TestDispatchParseFailureSkips(t *testing.T) {
	inv := &fakeInvoker{respond: func(c call, _ int) (string, error) {
		if c.credential == "K1" {
			return "Sure! Here is the classification you asked for.", nil
		}
		return "```json\n" + validReply + "\n```", nil
	}}
	d := newTestDispatcher(t, []string{"K1", "K2"}, []string{"M1"}, inv)

	result, err := d.Dispatch(context.Background(), &emails("Paid")[0], 0)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if result.Slot != 1 {
		t.Errorf("Slot = %d, want 1", result.Slot)
	}
}

func TestResolveTwoPassBound(t *testing.T) {
	inv := &fakeInvoker{respond: alwaysQuota}
	creds := []string{"K1", "K2", "K3"}
	models := []string{"M1", "M2"}
	d := newTestDispatcher(t, creds, models, inv)
	waits := recordWaits(d)
	cooldowns := testutil.ToFloat64(metrics.CooldownsTotal)

	result, err := d.Resolve(context.Background(), &emails("Busy")[0], 2)
	if err != nil {
		t.Fatalf("Resolve error = %v, want nil", err)
	}
	if result != nil {
		t.Errorf("Resolve result = %+v, want nil", result)
	}

	if !reflect.DeepEqual(*waits, []time.Duration{time.Millisecond}) {
		t.Errorf("cooldown waits = %v, want exactly one of 1ms", *waits)
	}
	if got := testutil.ToFloat64(metrics.CooldownsTotal) - cooldowns; got != 1 {
		t.Errorf("cooldowns recorded = %v, want 1", got)
	}

	if want := 2 * len(creds) * len(models); len(inv.calls) != want {
		t.Fatalf("attempts = %d, want %d", len(inv.calls), want)
	}

	// Both passes start from the same offset.
	pairs := inv.pairs()
	half := len(pairs) / 2
	if !reflect.DeepEqual(pairs[:half], pairs[half:]) {
		t.Errorf("second pass %v differs from first %v", pairs[half:], pairs[:half])
	}
	if pairs[0] != "K3/M1" {
		t.Errorf("first attempt = %s, want K3/M1", pairs[0])
	}
}

func TestResolveSecondPassSuccess(t *testing.T) {
	inv := &fakeInvoker{respond: func(_ call, n int) (string, error) {
		if n <= 4 {
			return "", errOverloaded
		}
		return validReply, nil
	}}
	d := newTestDispatcher(t, []string{"K1", "K2"}, []string{"M1", "M2"}, inv)
	waits := recordWaits(d)

	result, err := d.Resolve(context.Background(), &emails("Retry")[0], 0)
	if len(*waits) != 1 {
		t.Errorf("cooldown waits = %v, want 1", *waits)
	}
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if result == nil || result.Model != "M1" || result.Slot != 0 {
		t.Errorf("result = %+v, want M1 slot 0", result)
	}
	if len(inv.calls) != 5 {
		t.Errorf("attempts = %d, want 5", len(inv.calls))
	}
}

func TestResolveFatalOnSecondPass(t *testing.T) {
	inv := &fakeInvoker{respond: func(_ call, n int) (string, error) {
		if n <= 2 {
			return "", errQuota
		}
		return "", errAuth
	}}
	d := newTestDispatcher(t, []string{"K1", "K2"}, []string{"M1"}, inv)

	_, err := d.Resolve(context.Background(), &emails("Auth")[0], 0)
	if !errors.Is(err, ErrFatalDispatch) {
		t.Errorf("Resolve error = %v, want ErrFatalDispatch", err)
	}
	if len(inv.calls) != 3 {
		t.Errorf("attempts = %d, want 3", len(inv.calls))
	}
}

func TestResolveStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inv := &fakeInvoker{respond: func(_ call, _ int) (string, error) {
		cancel()
		return "", errQuota
	}}
	d := newTestDispatcher(t, []string{"K1", "K2"}, []string{"M1"}, inv)

	_, err := d.Resolve(ctx, &emails("Cancel")[0], 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Resolve error = %v, want context.Canceled", err)
	}
	if len(inv.calls) != 1 {
		t.Errorf("attempts = %d, want 1", len(inv.calls))
	}
}

func TestResolveFirstPassSuccessSkipsCooldown(t *testing.T) {
	inv := &fakeInvoker{respond: alwaysSucceed}
	d := newTestDispatcher(t, []string{"K1"}, []string{"M1"}, inv)
	waits := recordWaits(d)

	result, err := d.Resolve(context.Background(), &emails("Paid")[0], 0)
	if err != nil || result == nil {
		t.Fatalf("Resolve = %+v, %v", result, err)
	}
	if len(*waits) != 0 {
		t.Errorf("cooldown waits = %v, want none", *waits)
	}
}
