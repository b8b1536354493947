package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/enercoop/gridmatch/internal/market"
	"github.com/enercoop/gridmatch/internal/orderbook"
)

// plannedFill is one fill computed by a planning pass, before anything is
// committed. Price is always the resting order's limit price.
type plannedFill struct {
	counter *orderbook.Entry
	qty     decimal.Decimal
	price   decimal.Decimal
}

// simEntry mirrors one resting counter-order during planning. Planning never
// touches the live book; it replays the same visible-slice and iceberg
// refresh rules on these copies.
type simEntry struct {
	entry     *orderbook.Entry
	price     decimal.Decimal
	seq       uint64
	remaining decimal.Decimal
	visible   decimal.Decimal
	iceberg   decimal.Decimal // visible slice size, zero for plain orders
	allOrNone bool
	skip      bool
}

// planFills computes the fills a marketable order would take from the book,
// in strict price-time priority, without mutating anything. It returns the
// planned fills and the unfilled remainder.
//
// Resting orders that disallow partial fills are skipped when the trade
// would only partially fill them. Iceberg counters contribute one visible
// slice at a time; an exhausted slice is re-queued behind every entry at its
// price with a fresh sequence, reproducing the refresh rule the commit path
// applies for real.
func planFills(book *orderbook.Book, taker *market.Order, now time.Time) ([]plannedFill, decimal.Decimal) {
	need := taker.Remaining()
	if !need.IsPositive() {
		return nil, need
	}

	crosses := func(restingPrice decimal.Decimal) bool {
		if taker.IsBuy() {
			return taker.LimitPrice.GreaterThanOrEqual(restingPrice)
		}
		return taker.LimitPrice.LessThanOrEqual(restingPrice)
	}

	// Collect the crossing, matchable region of the opposite side.
	var sims []*simEntry
	var maxSeq uint64
	book.Ascend(!taker.IsBuy(), func(e *orderbook.Entry) bool {
		if !crosses(e.Order.LimitPrice) {
			return false
		}
		if e.Order.ID == taker.ID || e.Order.IsExpired(now) {
			return true
		}
		s := &simEntry{
			entry:     e,
			price:     e.Order.LimitPrice,
			seq:       e.Seq(),
			remaining: e.Order.Remaining(),
			visible:   e.Visible,
			allOrNone: !e.Order.PartialFillsAllowed,
		}
		if e.Order.Iceberg {
			s.iceberg = e.Order.IcebergVisibleQuantity
		}
		if s.seq > maxSeq {
			maxSeq = s.seq
		}
		sims = append(sims, s)
		return true
	})

	better := func(a, b *simEntry) bool {
		if !a.price.Equal(b.price) {
			if taker.IsBuy() {
				return a.price.LessThan(b.price)
			}
			return a.price.GreaterThan(b.price)
		}
		return a.seq < b.seq
	}

	var fills []plannedFill
	for need.IsPositive() {
		var best *simEntry
		for _, s := range sims {
			if s.skip || !s.remaining.IsPositive() {
				continue
			}
			if best == nil || better(s, best) {
				best = s
			}
		}
		if best == nil {
			break
		}
		// An all-or-none resting order is only matchable when the
		// taker can absorb it whole; otherwise try the next entry.
		if best.allOrNone && need.LessThan(best.remaining) {
			best.skip = true
			continue
		}
		qty := decimal.Min(need, best.visible)
		fills = append(fills, plannedFill{counter: best.entry, qty: qty, price: best.price})
		need = need.Sub(qty)
		best.remaining = best.remaining.Sub(qty)
		best.visible = best.visible.Sub(qty)
		if best.remaining.IsPositive() && !best.visible.IsPositive() {
			// Simulated iceberg refresh: new slice, time priority
			// reset behind every live entry.
			best.visible = decimal.Min(best.iceberg, best.remaining)
			maxSeq++
			best.seq = maxSeq
		}
	}
	return fills, need
}
