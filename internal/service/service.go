package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"konsinyasi/backend/internal/cache"
	"konsinyasi/backend/internal/catalog"
	"konsinyasi/backend/internal/domain"
	"konsinyasi/backend/internal/events"
	"konsinyasi/backend/internal/lock"
	"konsinyasi/backend/internal/metrics"
	"konsinyasi/backend/internal/settlement"
	"konsinyasi/backend/internal/store"
	"konsinyasi/backend/internal/xid"
)

const SummaryCacheKey = "consignment:summary"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo         store.Repository
	locker       lock.Locker
	summaryCache cache.SummaryCache
	summaryTTL   time.Duration
	publisher    events.Publisher
	metrics      *metrics.Metrics
	log          *zap.Logger
	now          func() time.Time
}

type Option func(*Service)

func WithLocker(locker lock.Locker) Option {
	return func(s *Service) {
		if locker != nil {
			s.locker = locker
		}
	}
}

func WithSummaryCache(c cache.SummaryCache, ttl time.Duration) Option {
	return func(s *Service) {
		if c != nil {
			s.summaryCache = c
		}
		if ttl > 0 {
			s.summaryTTL = ttl
		}
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(repo store.Repository, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		locker:       lock.NewKeyedMutex(),
		summaryCache: cache.NoopSummaryCache{},
		summaryTTL:   30 * time.Second,
		publisher:    events.NoopPublisher{},
		log:          zap.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue resolves the client and catalog products, moves the units into
// consigned stock and stores a new consignment in the issued state.
func (s *Service) Issue(ctx context.Context, req domain.IssueRequest) (domain.Consignment, error) {
	created, err := s.issue(ctx, req)
	if err != nil {
		s.metrics.RecordError("issue", errorReason(err))
		return domain.Consignment{}, err
	}
	s.metrics.RecordIssued()
	return created, nil
}

func (s *Service) issue(ctx context.Context, req domain.IssueRequest) (domain.Consignment, error) {
	if len(req.Items) == 0 {
		return domain.Consignment{}, domain.ErrEmptyItemList
	}

	client, err := s.repo.GetClient(ctx, strings.TrimSpace(req.ClientID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Consignment{}, fmt.Errorf("%w: %s", domain.ErrUnknownClient, req.ClientID)
		}
		return domain.Consignment{}, err
	}

	lines := make([]settlement.IssuedLine, 0, len(req.Items))
	movements := make([]domain.StockMovement, 0, len(req.Items))
	for _, item := range req.Items {
		product, err := s.repo.GetProduct(ctx, strings.TrimSpace(item.ProductID))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Consignment{}, fmt.Errorf("%w: %s", domain.ErrUnknownProduct, item.ProductID)
			}
			return domain.Consignment{}, err
		}
		lines = append(lines, settlement.IssuedLine{Product: *product, Quantity: item.Quantity})
		movements = append(movements, domain.StockMovement{ProductID: product.ID, Qty: item.Quantity})
	}

	consignment, err := settlement.Issue(*client, lines, req.AdvanceAmount, req.Notes, s.now())
	if err != nil {
		return domain.Consignment{}, err
	}

	if err := s.repo.ConsignStock(ctx, movements); err != nil {
		return domain.Consignment{}, err
	}

	created, err := s.repo.CreateConsignment(ctx, consignment)
	if err != nil {
		if releaseErr := s.repo.ReleaseStock(ctx, movements); releaseErr != nil {
			s.log.Error("failed to release stock after create failure", zap.Error(releaseErr))
		}
		return domain.Consignment{}, err
	}

	s.invalidateSummary(ctx)
	s.logAudit(ctx, "consignment_issue", created.ID,
		fmt.Sprintf("client=%s,items=%d,total=%s,advance=%s", created.ClientID, len(created.Items), created.TotalValue.StringFixed(2), created.AdvanceAmount.StringFixed(2)))
	s.log.Info("consignment issued",
		zap.String("consignment_id", created.ID),
		zap.String("client_id", created.ClientID),
		zap.String("total_value", created.TotalValue.StringFixed(2)),
	)

	return *created, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Consignment, error) {
	c, err := s.getConsignment(ctx, id)
	if err != nil {
		return domain.Consignment{}, err
	}
	return *c, nil
}

func (s *Service) List(ctx context.Context, filter domain.ConsignmentFilter) ([]domain.Consignment, error) {
	consignments, err := s.repo.ListConsignments(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.Filter(consignments, filter), nil
}

// Summary returns the dashboard aggregates. Results are cached until the next
// mutation or the cache TTL, whichever comes first.
func (s *Service) Summary(ctx context.Context) (domain.ConsignmentSummary, error) {
	cached, ok, err := s.summaryCache.Get(ctx, SummaryCacheKey)
	if err != nil {
		s.log.Warn("summary cache read failed", zap.Error(err))
	} else if ok && cached != nil {
		return *cached, nil
	}

	consignments, err := s.repo.ListConsignments(ctx)
	if err != nil {
		return domain.ConsignmentSummary{}, err
	}
	summary := catalog.Summarize(consignments)

	if err := s.summaryCache.Set(ctx, SummaryCacheKey, &summary, s.summaryTTL); err != nil {
		s.log.Warn("summary cache write failed", zap.Error(err))
	}
	return summary, nil
}

// Preview runs the calculator without committing anything.
func (s *Service) Preview(ctx context.Context, id string, lines []domain.SettlementLine) (domain.SettlementResult, error) {
	deltas, err := toDeltas(lines)
	if err != nil {
		return domain.SettlementResult{}, err
	}
	c, err := s.getConsignment(ctx, id)
	if err != nil {
		return domain.SettlementResult{}, err
	}
	return settlement.Calculate(*c, deltas)
}

func (s *Service) RecordSettlement(ctx context.Context, id string, req domain.SettlementRequest) (domain.SettlementResponse, error) {
	resp, err := s.recordSettlement(ctx, id, req)
	if err != nil {
		s.metrics.RecordError("settle", errorReason(err))
		return domain.SettlementResponse{}, err
	}
	s.metrics.RecordSettlement(string(resp.Consignment.Status))
	return resp, nil
}

func (s *Service) recordSettlement(ctx context.Context, id string, req domain.SettlementRequest) (domain.SettlementResponse, error) {
	if req.AdditionalPayment.IsNegative() {
		return domain.SettlementResponse{}, fmt.Errorf("%w: additional payment must not be negative", domain.ErrInvalidRequest)
	}
	deltas, err := toDeltas(req.Items)
	if err != nil {
		return domain.SettlementResponse{}, err
	}

	id = strings.TrimSpace(id)
	release, err := s.locker.Lock(ctx, id)
	if err != nil {
		return domain.SettlementResponse{}, fmt.Errorf("lock consignment %s: %w", id, err)
	}
	defer release()

	current, err := s.getConsignment(ctx, id)
	if err != nil {
		return domain.SettlementResponse{}, err
	}
	if settlement.IsTerminal(current.Status) {
		return domain.SettlementResponse{}, fmt.Errorf("%w: %s is %s", domain.ErrConsignmentClosed, current.ID, current.Status)
	}

	result, err := settlement.Calculate(*current, deltas)
	if err != nil {
		return domain.SettlementResponse{}, err
	}
	if result.IsZero() && req.AdditionalPayment.IsZero() {
		return domain.SettlementResponse{}, domain.ErrNothingToSettle
	}

	now := s.now()
	next, err := settlement.Apply(*current, result, now)
	if err != nil {
		return domain.SettlementResponse{}, err
	}
	updated, err := s.repo.UpdateConsignment(ctx, next)
	if err != nil {
		return domain.SettlementResponse{}, err
	}

	var sold, returned []domain.ItemQuantity
	var released []domain.StockMovement
	for _, line := range result.Items {
		if line.SoldDelta > 0 {
			sold = append(sold, domain.ItemQuantity{ItemID: line.ItemID, Quantity: line.SoldDelta})
		}
		if line.ReturnedDelta > 0 {
			returned = append(returned, domain.ItemQuantity{ItemID: line.ItemID, Quantity: line.ReturnedDelta})
			released = append(released, domain.StockMovement{ProductID: line.ProductID, Qty: line.ReturnedDelta})
		}
	}
	s.releaseStock(ctx, updated.ID, released)

	record := s.recordLedger(ctx, domain.Settlement{
		ID:                xid.New("stl"),
		ConsignmentID:     updated.ID,
		ClientID:          updated.ClientID,
		Kind:              domain.SettlementKindPartial,
		SoldItems:         sold,
		ReturnedItems:     returned,
		AdditionalPayment: req.AdditionalPayment,
		TotalSoldValue:    result.TotalSoldValue,
		BalanceDue:        result.BalanceDue,
		RefundDue:         result.RefundDue,
		ResultingStatus:   updated.Status,
		CreatedAt:         now.UTC(),
	})

	sales := settlement.SaleEvents(*updated, result, now)
	s.publishSales(ctx, updated.ID, sales)

	s.invalidateSummary(ctx)
	s.logAudit(ctx, "consignment_settle", updated.ID,
		fmt.Sprintf("status=%s,sold_value=%s,payment=%s", updated.Status, result.TotalSoldValue.StringFixed(2), req.AdditionalPayment.StringFixed(2)))
	s.log.Info("settlement recorded",
		zap.String("consignment_id", updated.ID),
		zap.String("status", string(updated.Status)),
		zap.Int("sales", len(sales)),
		zap.Int("remaining", result.RemainingItemsCount),
	)

	return domain.SettlementResponse{
		Consignment: *updated,
		Result:      result,
		Sales:       sales,
		Settlement:  record,
	}, nil
}

// ReturnAll closes a consignment by marking every outstanding unit returned.
// The refund and balance figures are reported for the finance ledger; the
// advance itself is not changed.
func (s *Service) ReturnAll(ctx context.Context, id string) (domain.ReturnAllResponse, error) {
	resp, err := s.returnAll(ctx, id)
	if err != nil {
		s.metrics.RecordError("return_all", errorReason(err))
		return domain.ReturnAllResponse{}, err
	}
	s.metrics.RecordReturnAll()
	return resp, nil
}

func (s *Service) returnAll(ctx context.Context, id string) (domain.ReturnAllResponse, error) {
	id = strings.TrimSpace(id)
	release, err := s.locker.Lock(ctx, id)
	if err != nil {
		return domain.ReturnAllResponse{}, fmt.Errorf("lock consignment %s: %w", id, err)
	}
	defer release()

	current, err := s.getConsignment(ctx, id)
	if err != nil {
		return domain.ReturnAllResponse{}, err
	}

	now := s.now()
	next, result, err := settlement.ReturnAll(*current, now)
	if err != nil {
		return domain.ReturnAllResponse{}, err
	}
	updated, err := s.repo.UpdateConsignment(ctx, next)
	if err != nil {
		return domain.ReturnAllResponse{}, err
	}

	productOf := make(map[string]string, len(updated.Items))
	for _, item := range updated.Items {
		productOf[item.ID] = item.ProductID
	}
	released := make([]domain.StockMovement, 0, len(result.ReturnedItems))
	for _, line := range result.ReturnedItems {
		released = append(released, domain.StockMovement{ProductID: productOf[line.ItemID], Qty: line.Quantity})
	}
	s.releaseStock(ctx, updated.ID, released)

	record := s.recordLedger(ctx, domain.Settlement{
		ID:                xid.New("stl"),
		ConsignmentID:     updated.ID,
		ClientID:          updated.ClientID,
		Kind:              domain.SettlementKindReturnAll,
		ReturnedItems:     result.ReturnedItems,
		AdditionalPayment: decimal.Zero,
		TotalSoldValue:    result.TotalSoldValue,
		BalanceDue:        result.BalanceDue,
		RefundDue:         result.RefundDue,
		ResultingStatus:   updated.Status,
		CreatedAt:         now.UTC(),
	})

	s.invalidateSummary(ctx)
	s.logAudit(ctx, "consignment_return_all", updated.ID,
		fmt.Sprintf("returned_lines=%d,refund=%s,balance=%s", len(result.ReturnedItems), result.RefundDue.StringFixed(2), result.BalanceDue.StringFixed(2)))
	s.log.Info("consignment returned",
		zap.String("consignment_id", updated.ID),
		zap.String("refund_due", result.RefundDue.StringFixed(2)),
	)

	return domain.ReturnAllResponse{
		Consignment: *updated,
		Result:      result,
		Settlement:  record,
	}, nil
}

func (s *Service) ListSettlements(ctx context.Context, id string) ([]domain.Settlement, error) {
	c, err := s.getConsignment(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSettlements(ctx, c.ID)
}

func (s *Service) ListClients(ctx context.Context) ([]domain.Client, error) {
	return s.repo.ListClients(ctx)
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *Service) getConsignment(ctx context.Context, id string) (*domain.Consignment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrConsignmentNotFound
	}
	c, err := s.repo.GetConsignment(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConsignmentNotFound, id)
		}
		return nil, err
	}
	return c, nil
}

func (s *Service) releaseStock(ctx context.Context, consignmentID string, movements []domain.StockMovement) {
	if len(movements) == 0 {
		return
	}
	if err := s.repo.ReleaseStock(ctx, movements); err != nil {
		s.log.Warn("failed to release returned stock", zap.String("consignment_id", consignmentID), zap.Error(err))
	}
}

// recordLedger persists the settlement for the finance ledger. A failed write
// still returns the record so the caller can see what was settled.
func (s *Service) recordLedger(ctx context.Context, record domain.Settlement) domain.Settlement {
	saved, err := s.repo.CreateSettlement(ctx, record)
	if err != nil {
		s.log.Warn("failed to record settlement", zap.String("consignment_id", record.ConsignmentID), zap.Error(err))
		return record
	}
	return *saved
}

func (s *Service) publishSales(ctx context.Context, consignmentID string, sales []domain.SaleEvent) {
	if len(sales) == 0 {
		return
	}
	err := s.publisher.PublishSales(ctx, sales)
	s.metrics.RecordSalesPublished(len(sales), err)
	if err != nil {
		s.log.Warn("failed to publish sale events", zap.String("consignment_id", consignmentID), zap.Int("count", len(sales)), zap.Error(err))
	}
}

func (s *Service) invalidateSummary(ctx context.Context) {
	if err := s.summaryCache.Invalidate(ctx, SummaryCacheKey); err != nil {
		s.log.Warn("failed to invalidate summary cache", zap.Error(err))
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok || strings.TrimSpace(actor.Username) == "" {
		actor = domain.Actor{Username: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		Action:        action,
		EntityType:    "consignment",
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.String("entity_id", entityID), zap.Error(err))
	}
}

func toDeltas(lines []domain.SettlementLine) (domain.Deltas, error) {
	deltas := make(domain.Deltas, len(lines))
	for _, line := range lines {
		itemID := strings.TrimSpace(line.ItemID)
		if itemID == "" {
			return nil, fmt.Errorf("%w: item_id is required", domain.ErrInvalidDelta)
		}
		if _, dup := deltas[itemID]; dup {
			return nil, fmt.Errorf("%w: item %s listed more than once", domain.ErrInvalidDelta, itemID)
		}
		deltas[itemID] = domain.ItemDelta{Sold: line.Sold, Returned: line.Returned}
	}
	return deltas, nil
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidDelta):
		return "invalid_delta"
	case errors.Is(err, domain.ErrEmptyItemList):
		return "empty_item_list"
	case errors.Is(err, domain.ErrUnknownClient):
		return "unknown_client"
	case errors.Is(err, domain.ErrUnknownProduct):
		return "unknown_product"
	case errors.Is(err, domain.ErrNothingToSettle):
		return "nothing_to_settle"
	case errors.Is(err, domain.ErrConsignmentClosed):
		return "consignment_closed"
	case errors.Is(err, domain.ErrConsignmentNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, store.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, store.ErrVersionConflict):
		return "version_conflict"
	default:
		return "internal"
	}
}
