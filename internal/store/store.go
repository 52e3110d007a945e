package store

import (
	"context"
	"errors"
	"fmt"

	"konsinyasi/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrVersionConflict   = errors.New("record was modified concurrently")
	ErrInvalidRecord     = errors.New("invalid record")
)

// ConsignmentStore owns consignment records. Records are never deleted.
// CreateConsignment assigns the next CON-NNN id when the id is empty and
// starts the version at 1; UpdateConsignment succeeds only when the stored
// version equals c.Version and bumps it.
type ConsignmentStore interface {
	CreateConsignment(ctx context.Context, c domain.Consignment) (*domain.Consignment, error)
	GetConsignment(ctx context.Context, id string) (*domain.Consignment, error)
	ListConsignments(ctx context.Context) ([]domain.Consignment, error)
	UpdateConsignment(ctx context.Context, c domain.Consignment) (*domain.Consignment, error)
}

type ClientStore interface {
	GetClient(ctx context.Context, id string) (*domain.Client, error)
	ListClients(ctx context.Context) ([]domain.Client, error)
}

// ProductStore resolves catalog products and moves units between available
// and consigned stock.
type ProductStore interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ConsignStock(ctx context.Context, movements []domain.StockMovement) error
	ReleaseStock(ctx context.Context, movements []domain.StockMovement) error
}

type SettlementStore interface {
	CreateSettlement(ctx context.Context, s domain.Settlement) (*domain.Settlement, error)
	ListSettlements(ctx context.Context, consignmentID string) ([]domain.Settlement, error)
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)
}

type Repository interface {
	ConsignmentStore
	ClientStore
	ProductStore
	SettlementStore
	AuditStore
}

// ConsignmentID formats the sequential id for the n-th consignment.
func ConsignmentID(n int) string {
	return fmt.Sprintf("CON-%03d", n)
}
