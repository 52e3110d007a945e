package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ConsignmentStatus string

type Client struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Product struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	AvailableStock int             `json:"available_stock"`
	ConsignedStock int             `json:"consigned_stock"`
}

type ConsignmentItem struct {
	ID               string          `json:"id"`
	ProductID        string          `json:"product_id"`
	ProductName      string          `json:"product_name"`
	Quantity         int             `json:"quantity"`
	PricePerUnit     decimal.Decimal `json:"price_per_unit"`
	SoldQuantity     int             `json:"sold_quantity"`
	ReturnedQuantity int             `json:"returned_quantity"`
}

// Remaining is the number of units still held by the client.
func (i ConsignmentItem) Remaining() int {
	return i.Quantity - i.SoldQuantity - i.ReturnedQuantity
}

type Consignment struct {
	ID            string            `json:"id"`
	ClientID      string            `json:"client_id"`
	ClientName    string            `json:"client_name"`
	Items         []ConsignmentItem `json:"items"`
	AdvanceAmount decimal.Decimal   `json:"advance_amount"`
	TotalValue    decimal.Decimal   `json:"total_value"`
	Status        ConsignmentStatus `json:"status"`
	IssuedDate    time.Time         `json:"issued_date"`
	SettledDate   *time.Time        `json:"settled_date,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	Version       int               `json:"version"`
}

// Clone returns a deep copy so callers can never mutate a stored record
// through a shared items slice.
func (c Consignment) Clone() Consignment {
	out := c
	out.Items = make([]ConsignmentItem, len(c.Items))
	copy(out.Items, c.Items)
	if c.SettledDate != nil {
		settled := *c.SettledDate
		out.SettledDate = &settled
	}
	return out
}

// ItemDelta is a proposed change to one item's sold and returned counts.
type ItemDelta struct {
	Sold     int `json:"sold"`
	Returned int `json:"returned"`
}

// Deltas maps item id to the proposed change for that item. Items without an
// entry are treated as a zero delta.
type Deltas map[string]ItemDelta

type ItemSettlement struct {
	ItemID        string          `json:"item_id"`
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	PricePerUnit  decimal.Decimal `json:"price_per_unit"`
	SoldDelta     int             `json:"sold_delta"`
	ReturnedDelta int             `json:"returned_delta"`
	NewSold       int             `json:"new_sold"`
	NewReturned   int             `json:"new_returned"`
	NewRemaining  int             `json:"new_remaining"`
}

type SettlementResult struct {
	ConsignmentID       string           `json:"consignment_id"`
	Items               []ItemSettlement `json:"items"`
	TotalSoldValue      decimal.Decimal  `json:"total_sold_value"`
	TotalReturnedValue  decimal.Decimal  `json:"total_returned_value"`
	BalanceDue          decimal.Decimal  `json:"balance_due"`
	RefundDue           decimal.Decimal  `json:"refund_due"`
	RemainingItemsCount int              `json:"remaining_items_count"`
	AllSettled          bool             `json:"all_settled"`
}

// IsZero reports whether the result carries no sold or returned movement.
func (r SettlementResult) IsZero() bool {
	for _, item := range r.Items {
		if item.SoldDelta != 0 || item.ReturnedDelta != 0 {
			return false
		}
	}
	return true
}

// SaleEvent is handed to the sales collaborator for every item sold during a
// settlement.
type SaleEvent struct {
	ConsignmentID string          `json:"consignment_id"`
	ClientID      string          `json:"client_id"`
	ItemID        string          `json:"item_id"`
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	Amount        decimal.Decimal `json:"amount"`
	Date          time.Time       `json:"date"`
}

type StockMovement struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type ItemQuantity struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// Settlement is the persisted record of one settlement round. It is what the
// finance ledger consumes to move actual money.
type Settlement struct {
	ID                string            `json:"id"`
	ConsignmentID     string            `json:"consignment_id"`
	ClientID          string            `json:"client_id"`
	Kind              string            `json:"kind"`
	SoldItems         []ItemQuantity    `json:"sold_items"`
	ReturnedItems     []ItemQuantity    `json:"returned_items"`
	AdditionalPayment decimal.Decimal   `json:"additional_payment"`
	TotalSoldValue    decimal.Decimal   `json:"total_sold_value"`
	BalanceDue        decimal.Decimal   `json:"balance_due"`
	RefundDue         decimal.Decimal   `json:"refund_due"`
	ResultingStatus   ConsignmentStatus `json:"resulting_status"`
	CreatedAt         time.Time         `json:"created_at"`
}

type IssueLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type IssueRequest struct {
	ClientID      string          `json:"client_id"`
	Items         []IssueLine     `json:"items"`
	AdvanceAmount decimal.Decimal `json:"advance_amount"`
	Notes         string          `json:"notes"`
}

type SettlementLine struct {
	ItemID   string `json:"item_id"`
	Sold     int    `json:"sold"`
	Returned int    `json:"returned"`
}

type SettlementRequest struct {
	Items             []SettlementLine `json:"items"`
	AdditionalPayment decimal.Decimal  `json:"additional_payment"`
}

type SettlementResponse struct {
	Consignment Consignment      `json:"consignment"`
	Result      SettlementResult `json:"result"`
	Sales       []SaleEvent      `json:"sales"`
	Settlement  Settlement       `json:"settlement"`
}

type ReturnAllResult struct {
	ReturnedItems  []ItemQuantity  `json:"returned_items"`
	TotalSoldValue decimal.Decimal `json:"total_sold_value"`
	RefundDue      decimal.Decimal `json:"refund_due"`
	BalanceDue     decimal.Decimal `json:"balance_due"`
}

type ReturnAllResponse struct {
	Consignment Consignment     `json:"consignment"`
	Result      ReturnAllResult `json:"result"`
	Settlement  Settlement      `json:"settlement"`
}

type ConsignmentFilter struct {
	Search string
	Status string
	Limit  int
}

type ConsignmentSummary struct {
	ActiveCount            int             `json:"active_count"`
	TotalAdvancesHeld      decimal.Decimal `json:"total_advances_held"`
	TotalConsignedValue    decimal.Decimal `json:"total_consigned_value"`
	PendingSettlementCount int             `json:"pending_settlement_count"`
}

type Actor struct {
	Username string
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	StatusIssued           ConsignmentStatus = "issued"
	StatusPartiallySettled ConsignmentStatus = "partially_settled"
	StatusSold             ConsignmentStatus = "sold"
	StatusReturned         ConsignmentStatus = "returned"
	StatusClosed           ConsignmentStatus = "closed"
)

const (
	SettlementKindPartial   = "settlement"
	SettlementKindReturnAll = "return_all"
)
