package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mealgen/internal/domain"
	"mealgen/internal/infra"
	"mealgen/internal/quota"
	"mealgen/internal/sqlinline"
)

// QuotaLedgerPG implements quota.Ledger with a conditional update per
// reservation. The row lock taken by that update is the only serialization
// point, so concurrent API replicas share one consistent ledger.
type QuotaLedgerPG struct {
	sql    infra.SQLExecutor
	limits quota.LimitSource
	now    func() time.Time
}

func NewQuotaLedger(sql infra.SQLExecutor, limits quota.LimitSource) *QuotaLedgerPG {
	return &QuotaLedgerPG{sql: sql, limits: limits, now: time.Now}
}

func (l *QuotaLedgerPG) TryReserve(ctx context.Context, accountID string, kind domain.ResourceKind, amount int) (quota.Reservation, error) {
	if amount <= 0 {
		return quota.Reservation{}, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidRequest)
	}
	limit, err := l.limits.Limit(ctx, accountID, kind)
	if err != nil {
		return quota.Reservation{}, err
	}
	now := l.now()
	res := quota.Reservation{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Kind:      kind,
		PeriodKey: quota.PeriodKey(now),
		Amount:    amount,
		CreatedAt: now.UTC(),
	}
	if _, err := l.sql.Exec(ctx, sqlinline.QEnsureQuotaRecord, accountID, res.PeriodKey, string(kind), limit); err != nil {
		return quota.Reservation{}, fmt.Errorf("ensure quota record: %w", err)
	}

	var id string
	err = l.sql.QueryRow(ctx, sqlinline.QReserveQuota, accountID, res.PeriodKey, string(kind), amount, res.ID).Scan(&id)
	if err == nil {
		return res, nil
	}
	if !infra.IsNoRows(err) {
		return quota.Reservation{}, fmt.Errorf("reserve quota: %w", err)
	}
	rec, err := l.record(ctx, accountID, res.PeriodKey, kind)
	if err != nil {
		return quota.Reservation{}, err
	}
	return quota.Reservation{}, &quota.QuotaExceededError{
		AccountID: accountID, Kind: kind, PeriodKey: res.PeriodKey,
		Requested: amount, Limit: rec.Limit, Used: rec.Used, Reserved: rec.Reserved,
	}
}

func (l *QuotaLedgerPG) Commit(ctx context.Context, res quota.Reservation, n int) error {
	return l.settle(ctx, res, n, true)
}

func (l *QuotaLedgerPG) Release(ctx context.Context, res quota.Reservation, n int) error {
	return l.settle(ctx, res, n, false)
}

func (l *QuotaLedgerPG) settle(ctx context.Context, res quota.Reservation, n int, commit bool) error {
	if n == 0 {
		return nil
	}
	if n < 0 {
		return fmt.Errorf("%w: settle amount must be positive", domain.ErrInvalidRequest)
	}
	var used int
	err := l.sql.QueryRow(ctx, sqlinline.QSettleQuota, res.ID, n, commit).Scan(&used)
	if err == nil {
		return nil
	}
	if !infra.IsNoRows(err) {
		return fmt.Errorf("settle quota: %w", err)
	}
	var outstanding int
	if err := l.sql.QueryRow(ctx, sqlinline.QSelectReservationOutstanding, res.ID).Scan(&outstanding); err != nil {
		if infra.IsNoRows(err) {
			return quota.ErrUnknownReservation
		}
		return fmt.Errorf("load reservation: %w", err)
	}
	if outstanding == 0 {
		return quota.ErrUnknownReservation
	}
	return fmt.Errorf("%w: %d > %d", quota.ErrOverSettle, n, outstanding)
}

func (l *QuotaLedgerPG) Usage(ctx context.Context, accountID string, kind domain.ResourceKind) (quota.Record, error) {
	limit, err := l.limits.Limit(ctx, accountID, kind)
	if err != nil {
		return quota.Record{}, err
	}
	rec, err := l.record(ctx, accountID, quota.PeriodKey(l.now()), kind)
	if err != nil {
		return quota.Record{}, err
	}
	rec.Limit = limit
	return rec, nil
}

func (l *QuotaLedgerPG) record(ctx context.Context, accountID, period string, kind domain.ResourceKind) (quota.Record, error) {
	rec := quota.Record{AccountID: accountID, PeriodKey: period, Kind: kind}
	err := l.sql.QueryRow(ctx, sqlinline.QSelectQuotaRecord, accountID, period, string(kind)).Scan(&rec.Limit, &rec.Used, &rec.Reserved)
	if err != nil && !infra.IsNoRows(err) {
		return rec, fmt.Errorf("load quota record: %w", err)
	}
	return rec, nil
}

var _ quota.Ledger = (*QuotaLedgerPG)(nil)
