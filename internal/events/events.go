package events

import (
	"context"

	"konsinyasi/backend/internal/domain"
)

// Publisher hands confirmed sales to downstream consumers such as the
// finance ledger. Publishing is best effort and never rolls back a
// settlement that already committed.
type Publisher interface {
	PublishSales(ctx context.Context, sales []domain.SaleEvent) error
}

type NoopPublisher struct{}

func (NoopPublisher) PublishSales(_ context.Context, _ []domain.SaleEvent) error {
	return nil
}

// RecordingPublisher keeps every published batch in memory.
type RecordingPublisher struct {
	Batches [][]domain.SaleEvent
}

func (p *RecordingPublisher) PublishSales(_ context.Context, sales []domain.SaleEvent) error {
	batch := make([]domain.SaleEvent, len(sales))
	copy(batch, sales)
	p.Batches = append(p.Batches, batch)
	return nil
}
