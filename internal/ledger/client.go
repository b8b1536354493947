// Package ledger defines the balance ledger contract the settlement
// processor posts into, and its implementations. A match produces exactly
// one debit entry for the buyer and one credit entry for the seller; posting
// is idempotent per match id.
package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Entry side labels. The (match_id, side) pair is the idempotency key.
const (
	SideBuyerDebit   = "BUYER_DEBIT"
	SideSellerCredit = "SELLER_CREDIT"
)

// Posting is one requested balance change.
type Posting struct {
	MemberID uuid.UUID
	Side     string
	// Amount is the gross trade value (quantity * price); Fee is added to
	// the buyer's debit and subtracted from the seller's credit.
	Amount decimal.Decimal
	Fee    decimal.Decimal
}

// Net returns the signed balance delta the posting applies.
func (p Posting) Net() decimal.Decimal {
	if p.Side == SideBuyerDebit {
		return p.Amount.Add(p.Fee).Neg()
	}
	return p.Amount.Sub(p.Fee)
}

// Client posts match settlements into the balance ledger. Implementations
// must be idempotent per match id: re-posting an already settled match is a
// successful no-op. Transient failures are reported as retryable errors.
type Client interface {
	PostMatchSettlement(ctx context.Context, matchID uuid.UUID, buyer, seller Posting) error
}

// RetryableError marks a settlement failure the processor should retry.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable ledger error: " + e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as retryable.
func Retryable(err error) error { return &RetryableError{Err: err} }

// IsRetryable reports whether the settlement failure should be retried.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
