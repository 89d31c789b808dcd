package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"mealgen/internal/domain"
)

type recordKey struct {
	account string
	period  string
	kind    domain.ResourceKind
}

type memRecord struct {
	mu          sync.Mutex
	limit       int
	used        int
	reserved    int
	outstanding map[string]int
}

// MemoryLedger keeps records in process. Each record has its own mutex.
type MemoryLedger struct {
	limits LimitSource
	now    func() time.Time

	mu      sync.Mutex
	records map[recordKey]*memRecord
}

// NewMemoryLedger builds a ledger backed by limits.
func NewMemoryLedger(limits LimitSource) *MemoryLedger {
	return &MemoryLedger{limits: limits, now: time.Now, records: make(map[recordKey]*memRecord)}
}

// WithClock overrides the clock used for period keys.
func (l *MemoryLedger) WithClock(now func() time.Time) *MemoryLedger {
	l.now = now
	return l
}

func (l *MemoryLedger) record(key recordKey) *memRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	if !ok {
		rec = &memRecord{outstanding: make(map[string]int)}
		l.records[key] = rec
	}
	return rec
}

func (l *MemoryLedger) TryReserve(ctx context.Context, accountID string, kind domain.ResourceKind, amount int) (Reservation, error) {
	if err := validateAmount(amount); err != nil {
		return Reservation{}, err
	}
	limit, err := l.limits.Limit(ctx, accountID, kind)
	if err != nil {
		return Reservation{}, err
	}
	now := l.now()
	key := recordKey{account: accountID, period: PeriodKey(now), kind: kind}
	rec := l.record(key)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.limit = limit
	if rec.used+rec.reserved+amount > limit {
		return Reservation{}, &QuotaExceededError{
			AccountID: accountID, Kind: kind, PeriodKey: key.period,
			Requested: amount, Limit: limit, Used: rec.used, Reserved: rec.reserved,
		}
	}
	res := Reservation{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Kind:      kind,
		PeriodKey: key.period,
		Amount:    amount,
		CreatedAt: now.UTC(),
	}
	rec.reserved += amount
	rec.outstanding[res.ID] = amount
	return res, nil
}

func (l *MemoryLedger) Commit(ctx context.Context, res Reservation, n int) error {
	return l.settle(res, n, true)
}

func (l *MemoryLedger) Release(ctx context.Context, res Reservation, n int) error {
	return l.settle(res, n, false)
}

func (l *MemoryLedger) settle(res Reservation, n int, commit bool) error {
	if n == 0 {
		return nil
	}
	if n < 0 {
		return fmt.Errorf("%w: settle amount must be positive", domain.ErrInvalidRequest)
	}
	rec := l.record(recordKey{account: res.AccountID, period: res.PeriodKey, kind: res.Kind})
	rec.mu.Lock()
	defer rec.mu.Unlock()
	left, ok := rec.outstanding[res.ID]
	if !ok {
		return ErrUnknownReservation
	}
	if n > left {
		return fmt.Errorf("%w: %d > %d", ErrOverSettle, n, left)
	}
	rec.reserved -= n
	if commit {
		rec.used += n
	}
	if left == n {
		delete(rec.outstanding, res.ID)
	} else {
		rec.outstanding[res.ID] = left - n
	}
	return nil
}

func (l *MemoryLedger) Usage(ctx context.Context, accountID string, kind domain.ResourceKind) (Record, error) {
	limit, err := l.limits.Limit(ctx, accountID, kind)
	if err != nil {
		return Record{}, err
	}
	period := PeriodKey(l.now())
	rec := l.record(recordKey{account: accountID, period: period, kind: kind})
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return Record{
		AccountID: accountID,
		PeriodKey: period,
		Kind:      kind,
		Limit:     limit,
		Used:      rec.used,
		Reserved:  rec.reserved,
	}, nil
}

var _ Ledger = (*MemoryLedger)(nil)
