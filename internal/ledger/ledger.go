package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind classifies a balance-affecting event.
type Kind string

const (
	Deposit    Kind = "deposit"
	Withdrawal Kind = "withdrawal"
	GameFee    Kind = "game_fee"
	Payout     Kind = "payout"
)

// Debit reports whether entries of this kind remove money from a user.
func (k Kind) Debit() bool {
	return k == Withdrawal || k == GameFee
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Entry is one append-only ledger record. Amount is signed: fees and
// withdrawals are negative, deposits and payouts positive. Ref is the
// caller-supplied idempotency key; replaying the same Ref returns the
// original outcome without applying twice.
type Entry struct {
	ID          int64           `json:"id"`
	Ref         string          `json:"ref"`
	UserID      int64           `json:"user_id"`
	Kind        Kind            `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrMissingRef          = errors.New("ledger entry requires an idempotency ref")
)

// Ledger is the only mutation path for user balances. A user's balance
// always equals the sum of that user's completed entry amounts.
//
// Apply atomically checks and records an entry. Debits complete only if
// the balance covers them, otherwise the entry is recorded failed and
// ErrInsufficientBalance is returned. Credits always complete.
type Ledger interface {
	Apply(ctx context.Context, e Entry) (*Entry, error)
	Balance(ctx context.Context, userID int64) (decimal.Decimal, error)
	// Lookup returns the entry previously applied under ref, or nil.
	Lookup(ctx context.Context, ref string) (*Entry, error)
}

// replayed maps a previously recorded entry onto the outcome its
// original Apply returned: a failed debit reports ErrInsufficientBalance
// again, anything else reports success. Every replay path goes through
// here, including the insert race where a concurrent Apply with the same
// ref committed first.
func replayed(e *Entry) (*Entry, error) {
	if e != nil && e.Status == StatusFailed {
		return e, ErrInsufficientBalance
	}
	return e, nil
}

// validate rejects malformed entries before they reach a store: every
// entry needs a ref, and the amount sign must agree with the kind.
func validate(e Entry) error {
	if e.Ref == "" {
		return ErrMissingRef
	}
	switch {
	case e.Kind.Debit() && e.Amount.IsPositive():
		return fmt.Errorf("%s entry %s must carry a negative amount", e.Kind, e.Ref)
	case !e.Kind.Debit() && e.Amount.IsNegative():
		return fmt.Errorf("%s entry %s must carry a positive amount", e.Kind, e.Ref)
	}
	return nil
}
