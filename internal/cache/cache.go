package cache

import (
	"context"
	"time"

	"konsinyasi/backend/internal/domain"
)

type SummaryCache interface {
	Get(ctx context.Context, key string) (*domain.ConsignmentSummary, bool, error)
	Set(ctx context.Context, key string, value *domain.ConsignmentSummary, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string) (*domain.ConsignmentSummary, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ string, _ *domain.ConsignmentSummary, _ time.Duration) error {
	return nil
}

func (NoopSummaryCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
