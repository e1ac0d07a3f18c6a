package storage

import (
	"time"

	"github.com/georgeshao/o2c-triage/pkg/types"
)

const DefaultListLimit = 100

// CaseRecord is the persisted outcome for one input email. Records are
// append-only; nothing updates a case once written.
type CaseRecord struct {
	ID             string
	BatchID        string
	Seq            int
	EmailID        string
	ReceivedAt     string
	From           string
	Subject        string
	Body           string
	Classification types.ClassificationResult
	Model          string
	Slot           int
	Fallback       bool
	Diagnostic     *string
	ProcessedAt    time.Time
}

type SentRecord struct {
	ID      string
	CaseID  string
	EmailID string
	To      string
	Subject string
	Body    string
	SentAt  time.Time
}

type CaseFilter struct {
	BatchID  string
	Queue    *types.Queue
	AfterSeq *int // return cases with seq greater than this
	Limit    int
}

// EffectiveLimit returns Limit, or DefaultListLimit when unset.
func (f CaseFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// Matches reports whether rec passes the filter's queue and cursor
// constraints. BatchID is assumed to be applied by the backend's index.
func (f CaseFilter) Matches(rec *CaseRecord) bool {
	if f.Queue != nil && rec.Classification.Queue != *f.Queue {
		return false
	}
	if f.AfterSeq != nil && rec.Seq <= *f.AfterSeq {
		return false
	}
	return true
}
