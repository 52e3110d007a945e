package catalog

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"konsinyasi/backend/internal/domain"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func fixtures() []domain.Consignment {
	return []domain.Consignment{
		{ID: "CON-001", ClientName: "John Doe", Status: domain.StatusPartiallySettled, AdvanceAmount: decimal.RequireFromString("2000"), TotalValue: decimal.RequireFromString("7499.75"), IssuedDate: day(10)},
		{ID: "CON-002", ClientName: "Jane Smith", Status: domain.StatusIssued, AdvanceAmount: decimal.RequireFromString("500"), TotalValue: decimal.RequireFromString("799.90"), IssuedDate: day(15)},
		{ID: "CON-003", ClientName: "Mike Johnson", Status: domain.StatusSold, AdvanceAmount: decimal.RequireFromString("500"), TotalValue: decimal.RequireFromString("1199.92"), IssuedDate: day(5)},
		{ID: "CON-004", ClientName: "Sarah Williams", Status: domain.StatusReturned, AdvanceAmount: decimal.RequireFromString("400"), TotalValue: decimal.RequireFromString("1199.97"), IssuedDate: day(8)},
	}
}

func TestSummarizeCountsOnlyActive(t *testing.T) {
	summary := Summarize(fixtures())

	if summary.ActiveCount != 2 {
		t.Fatalf("expected 2 active, got %d", summary.ActiveCount)
	}
	if !summary.TotalAdvancesHeld.Equal(decimal.RequireFromString("2500")) {
		t.Fatalf("expected advances 2500, got %s", summary.TotalAdvancesHeld)
	}
	if !summary.TotalConsignedValue.Equal(decimal.RequireFromString("8299.65")) {
		t.Fatalf("expected consigned value 8299.65, got %s", summary.TotalConsignedValue)
	}
	if summary.PendingSettlementCount != 1 {
		t.Fatalf("expected 1 pending settlement, got %d", summary.PendingSettlementCount)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	summary := Summarize(nil)
	if summary.ActiveCount != 0 || !summary.TotalAdvancesHeld.IsZero() || !summary.TotalConsignedValue.IsZero() {
		t.Fatalf("expected zero summary, got %+v", summary)
	}
}

func TestFilterBySearchAndStatus(t *testing.T) {
	got := Filter(fixtures(), domain.ConsignmentFilter{Search: "JANE"})
	if len(got) != 1 || got[0].ID != "CON-002" {
		t.Fatalf("expected Jane's consignment, got %+v", got)
	}

	got = Filter(fixtures(), domain.ConsignmentFilter{Search: "con-00"})
	if len(got) != 4 {
		t.Fatalf("expected id substring to match all, got %d", len(got))
	}
	if got[0].ID != "CON-002" || got[3].ID != "CON-003" {
		t.Fatalf("expected newest first, got %s..%s", got[0].ID, got[3].ID)
	}

	got = Filter(fixtures(), domain.ConsignmentFilter{Status: "Returned"})
	if len(got) != 1 || got[0].ID != "CON-004" {
		t.Fatalf("expected returned consignment, got %+v", got)
	}

	got = Filter(fixtures(), domain.ConsignmentFilter{Search: "o", Status: "all", Limit: 2})
	if len(got) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(got))
	}

	got = Filter(fixtures(), domain.ConsignmentFilter{Search: "nobody"})
	if len(got) != 0 {
		t.Fatalf("expected no matches, got %d", len(got))
	}
}
