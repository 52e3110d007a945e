package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"konsinyasi/backend/internal/domain"
	"konsinyasi/backend/internal/store"
	"konsinyasi/backend/internal/xid"
)

type Store struct {
	mu            sync.RWMutex
	clients       map[string]domain.Client
	products      map[string]domain.Product
	consignments  map[string]domain.Consignment
	settlements   map[string][]domain.Settlement
	auditLogs     []domain.AuditLog
	consignmentNo int
}

func New() *Store {
	return &Store{
		clients:      make(map[string]domain.Client),
		products:     make(map[string]domain.Product),
		consignments: make(map[string]domain.Consignment),
		settlements:  make(map[string][]domain.Settlement),
		auditLogs:    make([]domain.AuditLog, 0, 64),
	}
}

// NewSeeded returns a store holding the demo clients, products and the four
// consignments the dashboard ships with.
func NewSeeded() *Store {
	s := New()

	for _, c := range []domain.Client{
		{ID: "1", Name: "John Doe"},
		{ID: "2", Name: "Jane Smith"},
		{ID: "3", Name: "Mike Johnson"},
		{ID: "4", Name: "Sarah Williams"},
	} {
		s.clients[c.ID] = c
	}

	for _, p := range []domain.Product{
		{ID: "1", Name: "Laptop Pro 15", Price: price("1299.99"), AvailableStock: 50},
		{ID: "2", Name: "Wireless Mouse", Price: price("49.99"), AvailableStock: 200},
		{ID: "3", Name: "USB-C Hub", Price: price("79.99"), AvailableStock: 100},
		{ID: "4", Name: "Mechanical Keyboard", Price: price("149.99"), AvailableStock: 75},
		{ID: "5", Name: "Monitor 27\"", Price: price("399.99"), AvailableStock: 30},
	} {
		s.products[p.ID] = p
	}

	for _, c := range []domain.Consignment{
		{
			ID:         "CON-001",
			ClientID:   "1",
			ClientName: "John Doe",
			Items: []domain.ConsignmentItem{
				{ID: "item-1", ProductID: "1", ProductName: "Laptop Pro 15", Quantity: 5, PricePerUnit: price("1299.99"), SoldQuantity: 2},
				{ID: "item-2", ProductID: "2", ProductName: "Wireless Mouse", Quantity: 20, PricePerUnit: price("49.99"), SoldQuantity: 15},
			},
			AdvanceAmount: price("2000"),
			TotalValue:    price("7499.75"),
			Status:        domain.StatusPartiallySettled,
			IssuedDate:    date(2024, 1, 10),
		},
		{
			ID:         "CON-002",
			ClientID:   "2",
			ClientName: "Jane Smith",
			Items: []domain.ConsignmentItem{
				{ID: "item-3", ProductID: "3", ProductName: "USB-C Hub", Quantity: 10, PricePerUnit: price("79.99")},
			},
			AdvanceAmount: price("500"),
			TotalValue:    price("799.90"),
			Status:        domain.StatusIssued,
			IssuedDate:    date(2024, 1, 15),
		},
		{
			ID:         "CON-003",
			ClientID:   "3",
			ClientName: "Mike Johnson",
			Items: []domain.ConsignmentItem{
				{ID: "item-4", ProductID: "4", ProductName: "Mechanical Keyboard", Quantity: 8, PricePerUnit: price("149.99"), SoldQuantity: 8},
			},
			AdvanceAmount: price("500"),
			TotalValue:    price("1199.92"),
			Status:        domain.StatusSold,
			IssuedDate:    date(2024, 1, 5),
			SettledDate:   datePtr(2024, 1, 12),
		},
		{
			ID:         "CON-004",
			ClientID:   "4",
			ClientName: "Sarah Williams",
			Items: []domain.ConsignmentItem{
				{ID: "item-5", ProductID: "5", ProductName: "Monitor 27\"", Quantity: 3, PricePerUnit: price("399.99"), ReturnedQuantity: 3},
			},
			AdvanceAmount: price("400"),
			TotalValue:    price("1199.97"),
			Status:        domain.StatusReturned,
			IssuedDate:    date(2024, 1, 8),
			SettledDate:   datePtr(2024, 1, 14),
		},
	} {
		c.Version = 1
		s.consignments[c.ID] = c
		s.consignmentNo++
	}

	return s
}

func (s *Store) CreateConsignment(_ context.Context, c domain.Consignment) (*domain.Consignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateConsignment(c); err != nil {
		return nil, err
	}
	if c.ID == "" {
		c.ID = store.ConsignmentID(s.consignmentNo + 1)
	}
	if _, exists := s.consignments[c.ID]; exists {
		return nil, store.ErrInvalidRecord
	}

	c.Version = 1
	stored := c.Clone()
	s.consignments[c.ID] = stored
	s.consignmentNo++

	created := stored.Clone()
	return &created, nil
}

func (s *Store) GetConsignment(_ context.Context, id string) (*domain.Consignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.consignments[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyConsignment := c.Clone()
	return &copyConsignment, nil
}

func (s *Store) ListConsignments(_ context.Context) ([]domain.Consignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Consignment, 0, len(s.consignments))
	for _, c := range s.consignments {
		result = append(result, c.Clone())
	}
	slices.SortFunc(result, func(a, b domain.Consignment) int {
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) UpdateConsignment(_ context.Context, c domain.Consignment) (*domain.Consignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateConsignment(c); err != nil {
		return nil, err
	}
	existing, exists := s.consignments[c.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if existing.Version != c.Version {
		return nil, store.ErrVersionConflict
	}

	c.Version++
	stored := c.Clone()
	s.consignments[c.ID] = stored

	updated := stored.Clone()
	return &updated, nil
}

func (s *Store) GetClient(_ context.Context, id string) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, exists := s.clients[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &client, nil
}

func (s *Store) ListClients(_ context.Context) ([]domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]domain.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	slices.SortFunc(clients, func(a, b domain.Client) int {
		return strings.Compare(a.Name, b.Name)
	})
	return clients, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

// ConsignStock moves units from available to consigned stock. Either every
// movement applies or none does.
func (s *Store) ConsignStock(_ context.Context, movements []domain.StockMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	totals, err := s.movementTotals(movements)
	if err != nil {
		return err
	}
	for productID, qty := range totals {
		if s.products[productID].AvailableStock < qty {
			return store.ErrInsufficientStock
		}
	}
	for productID, qty := range totals {
		p := s.products[productID]
		p.AvailableStock -= qty
		p.ConsignedStock += qty
		s.products[productID] = p
	}
	return nil
}

// ReleaseStock moves returned units from consigned back to available stock.
// Consigned stock never drops below zero; seeded consignments predate the
// stock counters.
func (s *Store) ReleaseStock(_ context.Context, movements []domain.StockMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	totals, err := s.movementTotals(movements)
	if err != nil {
		return err
	}
	for productID, qty := range totals {
		p := s.products[productID]
		p.AvailableStock += qty
		p.ConsignedStock = max(0, p.ConsignedStock-qty)
		s.products[productID] = p
	}
	return nil
}

func (s *Store) movementTotals(movements []domain.StockMovement) (map[string]int, error) {
	totals := make(map[string]int, len(movements))
	for _, m := range movements {
		if m.Qty < 0 {
			return nil, store.ErrInvalidRecord
		}
		if _, exists := s.products[m.ProductID]; !exists {
			return nil, store.ErrNotFound
		}
		totals[m.ProductID] += m.Qty
	}
	return totals, nil
}

func (s *Store) CreateSettlement(_ context.Context, settlement domain.Settlement) (*domain.Settlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if settlement.ConsignmentID == "" {
		return nil, store.ErrInvalidRecord
	}
	if _, exists := s.consignments[settlement.ConsignmentID]; !exists {
		return nil, store.ErrNotFound
	}
	if settlement.ID == "" {
		settlement.ID = xid.New("stl")
	}
	if settlement.CreatedAt.IsZero() {
		settlement.CreatedAt = time.Now().UTC()
	}
	settlement.SoldItems = slices.Clone(settlement.SoldItems)
	settlement.ReturnedItems = slices.Clone(settlement.ReturnedItems)

	s.settlements[settlement.ConsignmentID] = append(s.settlements[settlement.ConsignmentID], settlement)
	created := settlement
	return &created, nil
}

func (s *Store) ListSettlements(_ context.Context, consignmentID string) ([]domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.settlements[consignmentID]
	result := make([]domain.Settlement, len(history))
	copy(result, history)
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.AuditLog, 0, min(limit, len(s.auditLogs)))
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.auditLogs[i])
	}
	return result, nil
}

func validateConsignment(c domain.Consignment) error {
	if c.ClientID == "" || len(c.Items) == 0 {
		return store.ErrInvalidRecord
	}
	for _, item := range c.Items {
		if item.Quantity < 1 || item.SoldQuantity < 0 || item.ReturnedQuantity < 0 || item.Remaining() < 0 {
			return store.ErrInvalidRecord
		}
	}
	return nil
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func datePtr(year int, month time.Month, day int) *time.Time {
	d := date(year, month, day)
	return &d
}
