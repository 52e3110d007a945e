// Package catalog holds the read-only listing queries and dashboard totals
// computed over a snapshot of consignments.
package catalog

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"konsinyasi/backend/internal/domain"
	"konsinyasi/backend/internal/settlement"
)

const allStatuses = "all"

func Summarize(consignments []domain.Consignment) domain.ConsignmentSummary {
	summary := domain.ConsignmentSummary{
		TotalAdvancesHeld:   decimal.Zero,
		TotalConsignedValue: decimal.Zero,
	}
	for _, c := range consignments {
		if !settlement.IsActive(c.Status) {
			continue
		}
		summary.ActiveCount++
		summary.TotalAdvancesHeld = summary.TotalAdvancesHeld.Add(c.AdvanceAmount)
		summary.TotalConsignedValue = summary.TotalConsignedValue.Add(c.TotalValue)
		if c.Status == domain.StatusPartiallySettled {
			summary.PendingSettlementCount++
		}
	}
	return summary
}

// Filter keeps consignments whose client name or id contains the search text
// and whose status matches, both case-insensitively. An empty status or "all"
// matches every status. Results are newest first.
func Filter(consignments []domain.Consignment, filter domain.ConsignmentFilter) []domain.Consignment {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	status := strings.ToLower(strings.TrimSpace(filter.Status))

	result := make([]domain.Consignment, 0, len(consignments))
	for _, c := range consignments {
		if search != "" &&
			!strings.Contains(strings.ToLower(c.ClientName), search) &&
			!strings.Contains(strings.ToLower(c.ID), search) {
			continue
		}
		if status != "" && status != allStatuses && string(c.Status) != status {
			continue
		}
		result = append(result, c)
	}

	SortNewestFirst(result)
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result
}

func SortNewestFirst(consignments []domain.Consignment) {
	slices.SortStableFunc(consignments, func(a, b domain.Consignment) int {
		if c := b.IssuedDate.Compare(a.IssuedDate); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
}
