// Package settlement holds the consignment settlement rules: the calculator
// that previews a settlement round and the lifecycle transitions that commit
// one. Nothing here performs I/O.
package settlement

import (
	"fmt"

	"github.com/shopspring/decimal"

	"konsinyasi/backend/internal/domain"
)

// Calculate previews the effect of applying deltas to c. Sold and returned
// values are cumulative, so a call with no deltas reports the consignment's
// current position. c is never modified.
func Calculate(c domain.Consignment, deltas domain.Deltas) (domain.SettlementResult, error) {
	known := make(map[string]struct{}, len(c.Items))
	for _, item := range c.Items {
		known[item.ID] = struct{}{}
	}
	for itemID := range deltas {
		if _, ok := known[itemID]; !ok {
			return domain.SettlementResult{}, fmt.Errorf("%w: item %s is not part of %s", domain.ErrInvalidDelta, itemID, c.ID)
		}
	}

	result := domain.SettlementResult{
		ConsignmentID:      c.ID,
		Items:              make([]domain.ItemSettlement, 0, len(c.Items)),
		TotalSoldValue:     decimal.Zero,
		TotalReturnedValue: decimal.Zero,
		AllSettled:         true,
	}

	for _, item := range c.Items {
		delta := deltas[item.ID]
		if delta.Sold < 0 || delta.Returned < 0 {
			return domain.SettlementResult{}, fmt.Errorf("%w: negative quantity for item %s", domain.ErrInvalidDelta, item.ID)
		}
		remaining := item.Remaining()
		if delta.Sold+delta.Returned > remaining {
			return domain.SettlementResult{}, fmt.Errorf("%w: item %s has %d remaining, got sold=%d returned=%d",
				domain.ErrInvalidDelta, item.ID, remaining, delta.Sold, delta.Returned)
		}

		newSold := item.SoldQuantity + delta.Sold
		newReturned := item.ReturnedQuantity + delta.Returned
		newRemaining := item.Quantity - newSold - newReturned

		result.Items = append(result.Items, domain.ItemSettlement{
			ItemID:        item.ID,
			ProductID:     item.ProductID,
			ProductName:   item.ProductName,
			PricePerUnit:  item.PricePerUnit,
			SoldDelta:     delta.Sold,
			ReturnedDelta: delta.Returned,
			NewSold:       newSold,
			NewReturned:   newReturned,
			NewRemaining:  newRemaining,
		})
		result.TotalSoldValue = result.TotalSoldValue.Add(lineValue(item.PricePerUnit, newSold))
		result.TotalReturnedValue = result.TotalReturnedValue.Add(lineValue(item.PricePerUnit, newReturned))
		result.RemainingItemsCount += newRemaining
		if newRemaining != 0 {
			result.AllSettled = false
		}
	}

	result.BalanceDue, result.RefundDue = reconcile(c.AdvanceAmount, result.TotalSoldValue)
	return result, nil
}

// SoldValue is the cumulative value of units sold so far.
func SoldValue(c domain.Consignment) decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(lineValue(item.PricePerUnit, item.SoldQuantity))
	}
	return total
}

// reconcile splits the difference between sold value and advance into the
// amount the client still owes and the amount owed back to the client. At
// most one of the two is non-zero.
func reconcile(advance decimal.Decimal, sold decimal.Decimal) (balanceDue decimal.Decimal, refundDue decimal.Decimal) {
	diff := sold.Sub(advance)
	return decimal.Max(decimal.Zero, diff), decimal.Max(decimal.Zero, diff.Neg())
}

func lineValue(price decimal.Decimal, qty int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(qty)))
}
