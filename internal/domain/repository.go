package domain

import (
	"context"
	"time"
)

type ReadingRepository interface {
	Insert(ctx context.Context, r Reading) (int64, error)
	ListRecent(ctx context.Context, channel, limit int) ([]Reading, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type StatusRepository interface {
	Insert(ctx context.Context, r StatusRecord) (int64, error)
	Latest(ctx context.Context) (StatusRecord, bool, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
