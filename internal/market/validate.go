package market

import "time"

// ValidateAdmission runs the admission checks in order and returns the first
// failing rejection reason, or "" when the order is admissible. Source
// resolution is checked separately by the engine because it needs I/O.
func ValidateAdmission(o *Order, now time.Time) string {
	if o.Side != OrderSideBuy && o.Side != OrderSideSell {
		return RejectReasonSide
	}
	if !o.Quantity.IsPositive() {
		return RejectReasonQuantity
	}
	if o.MinimumOrderSize.IsPositive() && o.Quantity.LessThan(o.MinimumOrderSize) {
		return RejectReasonBelowMinimum
	}
	if o.MaximumOrderSize.IsPositive() && o.Quantity.GreaterThan(o.MaximumOrderSize) {
		return RejectReasonAboveMaximum
	}
	if !o.LimitPrice.IsPositive() {
		return RejectReasonPrice
	}
	if o.ExpiresAt != nil && !o.ExpiresAt.After(now) {
		return RejectReasonExpiry
	}
	if o.Iceberg {
		if !o.IcebergVisibleQuantity.IsPositive() || o.IcebergVisibleQuantity.GreaterThan(o.Quantity) {
			return RejectReasonIceberg
		}
	}
	return ""
}
