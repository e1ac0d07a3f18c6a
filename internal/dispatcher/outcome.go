package dispatcher

import "github.com/georgeshao/o2c-triage/pkg/types"

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	// OutcomeSkip means this (model, credential) pair cannot serve the item
	// right now; the next pair should be tried.
	OutcomeSkip
	// OutcomeFatal aborts dispatch for the item.
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkip:
		return "skip"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// Outcome is the result of a single attempt. Result is set for success, Err
// for skip and fatal.
type Outcome struct {
	Kind   OutcomeKind
	Result *types.ClassificationResult
	Err    error
}

func success(r *types.ClassificationResult) Outcome {
	return Outcome{Kind: OutcomeSuccess, Result: r}
}

func skip(err error) Outcome {
	return Outcome{Kind: OutcomeSkip, Err: err}
}

func fatal(err error) Outcome {
	return Outcome{Kind: OutcomeFatal, Err: err}
}
