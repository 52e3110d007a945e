package settlement

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"konsinyasi/backend/internal/domain"
	"konsinyasi/backend/internal/xid"
)

// IssuedLine is one catalog product resolved for issuance.
type IssuedLine struct {
	Product  domain.Product
	Quantity int
}

// IsActive reports whether a consignment still has goods out with the client.
func IsActive(status domain.ConsignmentStatus) bool {
	return status == domain.StatusIssued || status == domain.StatusPartiallySettled
}

// IsTerminal reports whether no further settlement operations apply. Sold is
// only reachable through seeded data and behaves like closed.
func IsTerminal(status domain.ConsignmentStatus) bool {
	switch status {
	case domain.StatusClosed, domain.StatusReturned, domain.StatusSold:
		return true
	}
	return false
}

// NextStatus is the single place consignment status transitions are decided.
// allReturned is set by a return-all request, allSettled when every item has
// nothing remaining after a settlement round.
func NextStatus(current domain.ConsignmentStatus, allSettled bool, allReturned bool) (domain.ConsignmentStatus, error) {
	switch current {
	case domain.StatusIssued, domain.StatusPartiallySettled:
	case domain.StatusClosed, domain.StatusReturned, domain.StatusSold:
		return current, fmt.Errorf("%w: status is %s", domain.ErrConsignmentClosed, current)
	default:
		return current, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRequest, current)
	}

	switch {
	case allReturned:
		return domain.StatusReturned, nil
	case allSettled:
		return domain.StatusClosed, nil
	default:
		return domain.StatusPartiallySettled, nil
	}
}

// Issue builds a new consignment in the issued state. The id is left empty
// for the store to assign.
func Issue(client domain.Client, lines []IssuedLine, advance decimal.Decimal, notes string, now time.Time) (domain.Consignment, error) {
	if len(lines) == 0 {
		return domain.Consignment{}, domain.ErrEmptyItemList
	}
	if advance.IsNegative() {
		return domain.Consignment{}, fmt.Errorf("%w: advance amount must not be negative", domain.ErrInvalidRequest)
	}

	items := make([]domain.ConsignmentItem, 0, len(lines))
	total := decimal.Zero
	for _, line := range lines {
		if line.Quantity < 1 {
			return domain.Consignment{}, fmt.Errorf("%w: quantity for product %s must be at least 1", domain.ErrInvalidRequest, line.Product.ID)
		}
		items = append(items, domain.ConsignmentItem{
			ID:           xid.New("item"),
			ProductID:    line.Product.ID,
			ProductName:  line.Product.Name,
			Quantity:     line.Quantity,
			PricePerUnit: line.Product.Price,
		})
		total = total.Add(lineValue(line.Product.Price, line.Quantity))
	}

	return domain.Consignment{
		ClientID:      client.ID,
		ClientName:    client.Name,
		Items:         items,
		AdvanceAmount: advance,
		TotalValue:    total,
		Status:        domain.StatusIssued,
		IssuedDate:    DateOf(now),
		Notes:         strings.TrimSpace(notes),
	}, nil
}

// Apply commits a calculated settlement, returning the new consignment value.
// c itself is left untouched.
func Apply(c domain.Consignment, result domain.SettlementResult, now time.Time) (domain.Consignment, error) {
	if result.ConsignmentID != c.ID || len(result.Items) != len(c.Items) {
		return domain.Consignment{}, fmt.Errorf("%w: settlement does not belong to %s", domain.ErrInvalidDelta, c.ID)
	}

	status, err := NextStatus(c.Status, result.AllSettled, false)
	if err != nil {
		return domain.Consignment{}, err
	}

	next := c.Clone()
	for i, line := range result.Items {
		item := &next.Items[i]
		if item.ID != line.ItemID {
			return domain.Consignment{}, fmt.Errorf("%w: item order mismatch at %s", domain.ErrInvalidDelta, line.ItemID)
		}
		if line.NewSold < item.SoldQuantity || line.NewReturned < item.ReturnedQuantity || line.NewSold+line.NewReturned > item.Quantity {
			return domain.Consignment{}, fmt.Errorf("%w: stale settlement for item %s", domain.ErrInvalidDelta, item.ID)
		}
		item.SoldQuantity = line.NewSold
		item.ReturnedQuantity = line.NewReturned
	}

	next.Status = status
	if result.AllSettled {
		settled := DateOf(now)
		next.SettledDate = &settled
	}
	return next, nil
}

// ReturnAll marks every outstanding unit as returned. The refund/balance
// report is informational; the advance itself is never changed.
func ReturnAll(c domain.Consignment, now time.Time) (domain.Consignment, domain.ReturnAllResult, error) {
	status, err := NextStatus(c.Status, false, true)
	if err != nil {
		return domain.Consignment{}, domain.ReturnAllResult{}, err
	}

	next := c.Clone()
	returned := make([]domain.ItemQuantity, 0, len(next.Items))
	for i := range next.Items {
		item := &next.Items[i]
		remaining := item.Remaining()
		if remaining <= 0 {
			continue
		}
		item.ReturnedQuantity += remaining
		returned = append(returned, domain.ItemQuantity{ItemID: item.ID, Quantity: remaining})
	}

	sold := SoldValue(next)
	balanceDue, refundDue := reconcile(next.AdvanceAmount, sold)

	next.Status = status
	settled := DateOf(now)
	next.SettledDate = &settled

	return next, domain.ReturnAllResult{
		ReturnedItems:  returned,
		TotalSoldValue: sold,
		RefundDue:      refundDue,
		BalanceDue:     balanceDue,
	}, nil
}

// SaleEvents lists one sale per item with a positive sold delta.
func SaleEvents(c domain.Consignment, result domain.SettlementResult, now time.Time) []domain.SaleEvent {
	events := make([]domain.SaleEvent, 0, len(result.Items))
	for _, line := range result.Items {
		if line.SoldDelta <= 0 {
			continue
		}
		events = append(events, domain.SaleEvent{
			ConsignmentID: c.ID,
			ClientID:      c.ClientID,
			ItemID:        line.ItemID,
			ProductID:     line.ProductID,
			ProductName:   line.ProductName,
			Quantity:      line.SoldDelta,
			UnitPrice:     line.PricePerUnit,
			Amount:        lineValue(line.PricePerUnit, line.SoldDelta),
			Date:          DateOf(now),
		})
	}
	return events
}

func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
