package storage

import (
	"context"

	"github.com/georgeshao/o2c-triage/pkg/types"
)

// CaseAppender is the write side used by the batch runner. AppendCase must
// not return until rec is durable: a crash after it returns never loses rec,
// and a crash before it returns never leaves a partial record behind.
type CaseAppender interface {
	AppendCase(ctx context.Context, rec *CaseRecord) error
}

type Store interface {
	CaseAppender

	GetCase(ctx context.Context, id string) (*CaseRecord, error)
	ListCases(ctx context.Context, filter CaseFilter) ([]*CaseRecord, error)
	QueueCounts(ctx context.Context, batchID string) (map[types.Queue]int, error)
	LatestBatchID(ctx context.Context) (string, error)

	AppendSent(ctx context.Context, rec *SentRecord) error
	ListSent(ctx context.Context, caseID string) ([]*SentRecord, error)

	Close() error
}
