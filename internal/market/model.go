package market

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Constants for order sides, statuses, and delivery types.
const (
	// Order sides
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"

	// Order statuses
	OrderStatusPending   = "PENDING"
	OrderStatusPartial   = "PARTIAL"
	OrderStatusFilled    = "FILLED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusRejected  = "REJECTED"
	OrderStatusExpired   = "EXPIRED"

	// Delivery types
	DeliveryTypeContinuous = "CONTINUOUS"
	DeliveryTypeScheduled  = "SCHEDULED"
)

// Rejection reasons persisted on rejected orders. Each admission check and
// matching-time policy failure maps to exactly one reason.
const (
	RejectReasonQuantity      = "INVALID_QUANTITY"
	RejectReasonBelowMinimum  = "BELOW_MINIMUM_ORDER_SIZE"
	RejectReasonAboveMaximum  = "ABOVE_MAXIMUM_ORDER_SIZE"
	RejectReasonPrice         = "INVALID_PRICE"
	RejectReasonUnknownSource = "UNKNOWN_ENERGY_SOURCE"
	RejectReasonExpiry        = "EXPIRY_IN_PAST"
	RejectReasonIceberg       = "INVALID_ICEBERG_VISIBLE_QUANTITY"
	RejectReasonSide          = "INVALID_SIDE"
	RejectReasonFillOrKill    = "FILL_OR_KILL_UNFULFILLABLE"
)

// Order is a request to buy or sell a quantity of energy at a limit price.
// It is a pure domain type; persistence mapping lives in the repository.
type Order struct {
	ID                uuid.UUID       `json:"id"`
	ExternalReference string          `json:"external_reference,omitempty"`
	MemberID          uuid.UUID       `json:"member_id"`
	EnergySourceID    uuid.UUID       `json:"energy_source_id"`
	Side              string          `json:"side"`
	Quantity          decimal.Decimal `json:"quantity"`
	FilledQuantity    decimal.Decimal `json:"filled_quantity"`
	LimitPrice        decimal.Decimal `json:"limit_price"`
	Status            string          `json:"status"`
	RejectionReason   string          `json:"rejection_reason,omitempty"`

	// Order-type flags
	PartialFillsAllowed    bool            `json:"partial_fills_allowed"`
	FillOrKill             bool            `json:"fill_or_kill"`
	MinimumOrderSize       decimal.Decimal `json:"minimum_order_size"`
	MaximumOrderSize       decimal.Decimal `json:"maximum_order_size"`
	Iceberg                bool            `json:"iceberg"`
	IcebergVisibleQuantity decimal.Decimal `json:"iceberg_visible_quantity,omitempty"`
	StopLossPrice          decimal.Decimal `json:"stop_loss_price,omitempty"`
	TakeProfitPrice        decimal.Decimal `json:"take_profit_price,omitempty"`
	CounterOffersAllowed   bool            `json:"counter_offers_allowed"`
	LinkedOrderIDs         []uuid.UUID     `json:"linked_order_ids,omitempty"`

	DeliveryDate time.Time  `json:"delivery_date"`
	DeliveryType string     `json:"delivery_type"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	MatchedAt    *time.Time `json:"matched_at,omitempty"`
	FilledAt     *time.Time `json:"filled_at,omitempty"`

	// Sequence is the monotonically increasing admission sequence number
	// used as the final tie-break for price-time priority.
	Sequence uint64 `json:"sequence"`
}

// Remaining returns the unfilled quantity of the order.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// IsBuy reports whether the order is on the buy side.
func (o *Order) IsBuy() bool { return o.Side == OrderSideBuy }

// IsTerminal reports whether the order's status admits no further transition.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// IsActive reports whether the order may rest in a book.
func (o *Order) IsActive() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusPartial
}

// IsExpired reports whether the order's expiry has passed at the given time.
func (o *Order) IsExpired(now time.Time) bool {
	return o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

// HasTrigger reports whether a stop-loss or take-profit condition is still armed.
func (o *Order) HasTrigger() bool {
	return o.StopLossPrice.IsPositive() || o.TakeProfitPrice.IsPositive()
}

// Match is an immutable record of one matching event between exactly one buy
// order and one sell order. Corrections are compensating records, never edits.
type Match struct {
	ID             uuid.UUID       `json:"id"`
	EnergySourceID uuid.UUID       `json:"energy_source_id"`
	BuyOrderID     uuid.UUID       `json:"buy_order_id"`
	SellOrderID    uuid.UUID       `json:"sell_order_id"`
	BuyerID        uuid.UUID       `json:"buyer_id"`
	SellerID       uuid.UUID       `json:"seller_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	MatchedAt      time.Time       `json:"matched_at"`
}

// Amount returns the gross monetary value of the match (quantity * price).
func (m *Match) Amount() decimal.Decimal {
	return m.Quantity.Mul(m.Price)
}

// OrderStatusSnapshot is the caller-facing view returned by GetOrderStatus.
type OrderStatusSnapshot struct {
	OrderID          uuid.UUID       `json:"order_id"`
	Status           string          `json:"status"`
	Quantity         decimal.Decimal `json:"quantity"`
	FilledQuantity   decimal.Decimal `json:"filled_quantity"`
	AverageFillPrice decimal.Decimal `json:"average_fill_price"`
	RejectionReason  string          `json:"rejection_reason,omitempty"`
	Matches          []*Match        `json:"matches"`
}

// AverageFillPrice computes the quantity-weighted average execution price
// over the given matches. Zero when nothing has filled.
func AverageFillPrice(matches []*Match) decimal.Decimal {
	total := decimal.Zero
	qty := decimal.Zero
	for _, m := range matches {
		total = total.Add(m.Quantity.Mul(m.Price))
		qty = qty.Add(m.Quantity)
	}
	if qty.IsZero() {
		return decimal.Zero
	}
	return total.Div(qty)
}

// PriceTick is one observation from the price feed.
type PriceTick struct {
	EnergySourceID uuid.UUID       `json:"energy_source_id"`
	Price          decimal.Decimal `json:"price"`
	Timestamp      time.Time       `json:"timestamp"`
}
