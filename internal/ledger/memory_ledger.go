package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryLedger is an in-memory Client for tests. It reproduces the
// balance_before/balance_after and per-match idempotency semantics of the
// database ledger, and can be told to fail to exercise retry paths.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[uuid.UUID]decimal.Decimal
	entries  map[uuid.UUID][]WalletEntry // by match id

	// FailNext makes the next N postings fail with a retryable error.
	FailNext int
	// PostCount counts PostMatchSettlement invocations.
	PostCount int
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[uuid.UUID]decimal.Decimal),
		entries:  make(map[uuid.UUID][]WalletEntry),
	}
}

func (l *MemoryLedger) PostMatchSettlement(ctx context.Context, matchID uuid.UUID, buyer, seller Posting) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.PostCount++
	if l.FailNext > 0 {
		l.FailNext--
		return Retryable(context.DeadlineExceeded)
	}
	if _, ok := l.entries[matchID]; ok {
		return nil
	}
	for _, p := range []Posting{buyer, seller} {
		before := l.balances[p.MemberID]
		after := before.Add(p.Net())
		l.balances[p.MemberID] = after
		l.entries[matchID] = append(l.entries[matchID], WalletEntry{
			ID:            uuid.New(),
			MatchID:       matchID,
			Side:          p.Side,
			MemberID:      p.MemberID,
			Amount:        p.Amount,
			Fee:           p.Fee,
			BalanceBefore: before,
			BalanceAfter:  after,
		})
	}
	return nil
}

// Balance returns the member's balance.
func (l *MemoryLedger) Balance(memberID uuid.UUID) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[memberID]
}

// Entries returns the posted entries for a match.
func (l *MemoryLedger) Entries(matchID uuid.UUID) []WalletEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]WalletEntry, len(l.entries[matchID]))
	copy(out, l.entries[matchID])
	return out
}

// SettledMatches returns how many distinct matches have been posted.
func (l *MemoryLedger) SettledMatches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
