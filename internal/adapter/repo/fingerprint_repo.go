package repo

import (
	"context"
	"fmt"
	"time"

	"mealgen/internal/infra"
	"mealgen/internal/phash"
	"mealgen/internal/sqlinline"
)

// FingerprintRepositoryPG stores perceptual hashes. Hashes are kept as
// bigint, so the uint64 bits round-trip through int64.
type FingerprintRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewFingerprintRepository(sql infra.SQLExecutor) *FingerprintRepositoryPG {
	return &FingerprintRepositoryPG{sql: sql}
}

func (r *FingerprintRepositoryPG) InsertFingerprint(ctx context.Context, fp phash.Fingerprint) error {
	created := fp.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	if _, err := r.sql.Exec(ctx, sqlinline.QInsertFingerprint, fp.Scope, fp.SourceTaskID, int64(fp.Hash), created); err != nil {
		return fmt.Errorf("insert fingerprint: %w", err)
	}
	return nil
}

func (r *FingerprintRepositoryPG) DeleteFingerprint(ctx context.Context, scope, taskID string) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QDeleteFingerprint, scope, taskID); err != nil {
		return fmt.Errorf("delete fingerprint: %w", err)
	}
	return nil
}

func (r *FingerprintRepositoryPG) ListFingerprints(ctx context.Context) ([]phash.Fingerprint, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListFingerprints)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	defer rows.Close()
	var out []phash.Fingerprint
	for rows.Next() {
		var (
			fp   phash.Fingerprint
			hash int64
		)
		if err := rows.Scan(&fp.Scope, &fp.SourceTaskID, &hash, &fp.CreatedAt); err != nil {
			return nil, err
		}
		fp.Hash = uint64(hash)
		out = append(out, fp)
	}
	return out, rows.Err()
}

var _ phash.Repository = (*FingerprintRepositoryPG)(nil)
