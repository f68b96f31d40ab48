package cache

import (
	"context"
	"time"

	"tokoledger/internal/domain"
)

// SummaryCache holds precomputed daily sales totals keyed by date. Entries are
// invalidated whenever a sale lands on the keyed date.
type SummaryCache interface {
	Get(ctx context.Context, key string) (*domain.SalesTotals, bool, error)
	Set(ctx context.Context, key string, value *domain.SalesTotals, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string) (*domain.SalesTotals, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ string, _ *domain.SalesTotals, _ time.Duration) error {
	return nil
}

func (NoopSummaryCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
