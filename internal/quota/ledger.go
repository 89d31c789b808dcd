// Package quota meters per-account usage against tier limits with a
// reserve, commit and release protocol.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mealgen/internal/domain"
)

var (
	ErrUnknownReservation = errors.New("unknown or settled reservation")
	ErrOverSettle         = errors.New("settle amount exceeds outstanding reservation")
)

// Ledger is the only mutator of quota records. Every implementation performs
// the limit check and the increment as one atomic step.
type Ledger interface {
	TryReserve(ctx context.Context, accountID string, kind domain.ResourceKind, amount int) (Reservation, error)
	// Commit moves n reserved units to used.
	Commit(ctx context.Context, res Reservation, n int) error
	// Release returns n reserved units.
	Release(ctx context.Context, res Reservation, n int) error
	Usage(ctx context.Context, accountID string, kind domain.ResourceKind) (Record, error)
}

// LimitSource resolves the limit that applies to an account for a resource.
type LimitSource interface {
	Limit(ctx context.Context, accountID string, kind domain.ResourceKind) (int, error)
}

// Reservation is a claim on units of one record.
type Reservation struct {
	ID        string              `json:"id"`
	AccountID string              `json:"account_id"`
	Kind      domain.ResourceKind `json:"kind"`
	PeriodKey string              `json:"period_key"`
	Amount    int                 `json:"amount"`
	CreatedAt time.Time           `json:"created_at"`
}

// Record is the state of one (account, period, kind) triple.
type Record struct {
	AccountID string              `json:"account_id"`
	PeriodKey string              `json:"period_key"`
	Kind      domain.ResourceKind `json:"kind"`
	Limit     int                 `json:"limit"`
	Used      int                 `json:"used"`
	Reserved  int                 `json:"reserved"`
}

// Remaining returns the units still available.
func (r Record) Remaining() int {
	if left := r.Limit - r.Used - r.Reserved; left > 0 {
		return left
	}
	return 0
}

// QuotaExceededError reports a rejected reservation.
type QuotaExceededError struct {
	AccountID string
	Kind      domain.ResourceKind
	PeriodKey string
	Requested int
	Limit     int
	Used      int
	Reserved  int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s/%s in %s: requested %d, limit %d, used %d, reserved %d",
		e.AccountID, e.Kind, e.PeriodKey, e.Requested, e.Limit, e.Used, e.Reserved)
}

// Is makes errors.Is(err, domain.ErrQuotaExceeded) hold.
func (e *QuotaExceededError) Is(target error) bool {
	return target == domain.ErrQuotaExceeded
}

// PeriodKey returns the UTC calendar month of t.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func validateAmount(amount int) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidRequest)
	}
	return nil
}
