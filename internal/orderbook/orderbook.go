// Package orderbook implements the in-memory per-source book: two price-time
// ordered sides containing only active, unexpired orders. The book is a cache
// reconstructible from the order repository at any time, never the system of
// record. All mutation happens on the owning source's goroutine, so the book
// itself carries no locks.
package orderbook

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"github.com/enercoop/gridmatch/internal/market"
)

// Entry is one resting order's position in the book. For iceberg orders only
// the visible slice participates in priority; the hidden remainder surfaces
// as a fresh slice, with time priority reset, once the visible part is gone.
type Entry struct {
	Order *market.Order

	// Visible is the quantity currently exposed to matching. Equal to the
	// order's remaining quantity for non-iceberg orders.
	Visible decimal.Decimal

	// seq orders entries at equal price. It starts as the order's
	// admission sequence and is bumped on iceberg refresh.
	seq uint64
}

// Seq returns the entry's current priority sequence.
func (e *Entry) Seq() uint64 { return e.seq }

// Level is one aggregated price level of a depth snapshot.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

func bidLess(a, b *Entry) bool {
	if !a.Order.LimitPrice.Equal(b.Order.LimitPrice) {
		return a.Order.LimitPrice.GreaterThan(b.Order.LimitPrice)
	}
	return a.seq < b.seq
}

func askLess(a, b *Entry) bool {
	if !a.Order.LimitPrice.Equal(b.Order.LimitPrice) {
		return a.Order.LimitPrice.LessThan(b.Order.LimitPrice)
	}
	return a.seq < b.seq
}

// Book holds the resting bids and asks for one energy source.
type Book struct {
	SourceID uuid.UUID

	bids *btree.BTreeG[*Entry]
	asks *btree.BTreeG[*Entry]
	byID map[uuid.UUID]*Entry

	// lastSeq tracks the highest priority sequence observed, so iceberg
	// refreshes can take a sequence later than every resting entry.
	lastSeq uint64
}

// New creates an empty book for the source.
func New(sourceID uuid.UUID) *Book {
	return &Book{
		SourceID: sourceID,
		bids:     btree.NewBTreeG(bidLess),
		asks:     btree.NewBTreeG(askLess),
		byID:     make(map[uuid.UUID]*Entry),
	}
}

func (b *Book) side(isBuy bool) *btree.BTreeG[*Entry] {
	if isBuy {
		return b.bids
	}
	return b.asks
}

// Add inserts an active order into the book. Iceberg orders expose at most
// their visible quantity. Adding an order that is already present is a no-op.
func (b *Book) Add(order *market.Order) *Entry {
	if e, ok := b.byID[order.ID]; ok {
		return e
	}
	e := &Entry{
		Order:   order,
		Visible: visibleSlice(order),
		seq:     order.Sequence,
	}
	if e.seq > b.lastSeq {
		b.lastSeq = e.seq
	}
	b.side(order.IsBuy()).Set(e)
	b.byID[order.ID] = e
	return e
}

func visibleSlice(order *market.Order) decimal.Decimal {
	remaining := order.Remaining()
	if order.Iceberg && order.IcebergVisibleQuantity.LessThan(remaining) {
		return order.IcebergVisibleQuantity
	}
	return remaining
}

// Remove deletes an order from the book. Returns false when absent.
func (b *Book) Remove(orderID uuid.UUID) bool {
	e, ok := b.byID[orderID]
	if !ok {
		return false
	}
	b.side(e.Order.IsBuy()).Delete(e)
	delete(b.byID, orderID)
	return true
}

// Get returns the resting entry for an order id.
func (b *Book) Get(orderID uuid.UUID) (*Entry, bool) {
	e, ok := b.byID[orderID]
	return e, ok
}

// Len returns the number of resting entries on both sides.
func (b *Book) Len() int { return len(b.byID) }

// BestBid returns the highest-priority bid entry.
func (b *Book) BestBid() (*Entry, bool) {
	return b.bids.Min()
}

// BestAsk returns the highest-priority ask entry.
func (b *Book) BestAsk() (*Entry, bool) {
	return b.asks.Min()
}

// Ascend walks one side in priority order (best first) until fn returns
// false. fn must not mutate the book.
func (b *Book) Ascend(isBuy bool, fn func(*Entry) bool) {
	b.side(isBuy).Scan(fn)
}

// ApplyFill reduces the entry's visible slice by qty after the order's
// filled quantity has been incremented. Fully consumed entries are removed;
// an iceberg with hidden remainder is re-exposed as a fresh slice whose time
// priority is reset to later than every current resting entry.
func (b *Book) ApplyFill(e *Entry, qty decimal.Decimal) {
	e.Visible = e.Visible.Sub(qty)
	remaining := e.Order.Remaining()
	if remaining.IsZero() {
		b.Remove(e.Order.ID)
		return
	}
	if e.Visible.IsPositive() {
		return
	}
	// Iceberg refresh: same order, new slice, new sequence.
	tree := b.side(e.Order.IsBuy())
	tree.Delete(e)
	b.lastSeq++
	e.seq = b.lastSeq
	e.Visible = visibleSlice(e.Order)
	tree.Set(e)
}

// ReplacePrice moves a resting order to a new limit price, keeping its
// original time priority sequence. Used when a stop/take-profit trigger
// converts an order to a marketable limit order.
func (b *Book) ReplacePrice(e *Entry, price decimal.Decimal) {
	tree := b.side(e.Order.IsBuy())
	tree.Delete(e)
	e.Order.LimitPrice = price
	tree.Set(e)
}

// ExpiredOrders returns the resting orders whose expiry has passed at now.
func (b *Book) ExpiredOrders(now time.Time) []*market.Order {
	var expired []*market.Order
	for _, e := range b.byID {
		if e.Order.IsExpired(now) {
			expired = append(expired, e.Order)
		}
	}
	return expired
}

// Depth returns up to maxLevels aggregated price levels per side, best first.
// Only visible quantity is reported, so iceberg reserves stay hidden.
func (b *Book) Depth(maxLevels int) (bids, asks []Level) {
	collect := func(tree *btree.BTreeG[*Entry]) []Level {
		var levels []Level
		tree.Scan(func(e *Entry) bool {
			n := len(levels)
			if n > 0 && levels[n-1].Price.Equal(e.Order.LimitPrice) {
				levels[n-1].Quantity = levels[n-1].Quantity.Add(e.Visible)
				levels[n-1].Orders++
				return true
			}
			if n >= maxLevels {
				return false
			}
			levels = append(levels, Level{Price: e.Order.LimitPrice, Quantity: e.Visible, Orders: 1})
			return true
		})
		return levels
	}
	return collect(b.bids), collect(b.asks)
}
