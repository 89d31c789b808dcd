// Package phash suppresses near-duplicate images with 64-bit perceptual
// hashes.
package phash

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sort"
	"sync"
	"time"

	"github.com/corona10/goimagehash"
	_ "golang.org/x/image/webp"

	"mealgen/internal/infra"
)

// DefaultThreshold rejects images within Hamming distance 5 of a stored one.
const DefaultThreshold = 6

// ScopePolicy decides which images are compared against each other.
type ScopePolicy string

const (
	ScopeAccount ScopePolicy = "account"
	ScopeGlobal  ScopePolicy = "global"
)

// ScopeFor returns the scope key for an account under the policy.
func (p ScopePolicy) ScopeFor(accountID string) string {
	if p == ScopeGlobal {
		return "global"
	}
	return "account:" + accountID
}

// Fingerprint is an accepted image hash. Fingerprints are append-only apart
// from Forget.
type Fingerprint struct {
	Hash         uint64
	SourceTaskID string
	Scope        string
	CreatedAt    time.Time
}

// Decision is the result of Record.
type Decision struct {
	Accepted      bool
	Hash          uint64
	MatchedTaskID string
	Distance      int
}

// Repository persists fingerprints so duplicate detection survives restarts.
type Repository interface {
	InsertFingerprint(ctx context.Context, fp Fingerprint) error
	DeleteFingerprint(ctx context.Context, scope, taskID string) error
	ListFingerprints(ctx context.Context) ([]Fingerprint, error)
}

type scopeEntry struct {
	mu     sync.Mutex
	prints []Fingerprint
}

// Store keeps fingerprints in memory, optionally writing through to a
// Repository. Compare-and-insert is atomic per scope.
type Store struct {
	threshold int
	repo      Repository
	logger    infra.Logger
	now       func() time.Time

	mu     sync.Mutex
	scopes map[string]*scopeEntry
}

// Option configures a Store.
type Option func(*Store)

func WithRepository(repo Repository) Option { return func(s *Store) { s.repo = repo } }

func WithLogger(logger infra.Logger) Option { return func(s *Store) { s.logger = logger } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// NewStore returns an empty store. threshold <= 0 selects DefaultThreshold.
func NewStore(threshold int, opts ...Option) *Store {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	s := &Store{
		threshold: threshold,
		logger:    infra.NopLogger(),
		now:       time.Now,
		scopes:    make(map[string]*scopeEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) entry(scope string) *scopeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.scopes[scope]
	if !ok {
		e = &scopeEntry{}
		s.scopes[scope] = e
	}
	return e
}

// Warm loads persisted fingerprints. Call once before serving.
func (s *Store) Warm(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	prints, err := s.repo.ListFingerprints(ctx)
	if err != nil {
		return fmt.Errorf("load fingerprints: %w", err)
	}
	for _, fp := range prints {
		e := s.entry(fp.Scope)
		e.mu.Lock()
		e.prints = append(e.prints, fp)
		e.mu.Unlock()
	}
	s.logger.Info().Int("count", len(prints)).Msg("fingerprints loaded")
	return nil
}

// Record hashes the image and either rejects it as a near duplicate of a
// fingerprint from another task in the scope or stores it. Recording the same
// task twice replaces its previous fingerprint.
func (s *Store) Record(ctx context.Context, scope, taskID string, data []byte) (Decision, error) {
	hash, err := Hash(data)
	if err != nil {
		return Decision{}, err
	}

	e := s.entry(scope)
	e.mu.Lock()
	defer e.mu.Unlock()

	best := -1
	var matched string
	own := -1
	for i, fp := range e.prints {
		if fp.SourceTaskID == taskID {
			own = i
			continue
		}
		d := Distance(hash, fp.Hash)
		if best < 0 || d < best {
			best, matched = d, fp.SourceTaskID
		}
	}
	if best >= 0 && best < s.threshold {
		return Decision{Accepted: false, Hash: hash, MatchedTaskID: matched, Distance: best}, nil
	}

	fp := Fingerprint{Hash: hash, SourceTaskID: taskID, Scope: scope, CreatedAt: s.now().UTC()}
	if s.repo != nil {
		if own >= 0 {
			if err := s.repo.DeleteFingerprint(ctx, scope, taskID); err != nil {
				return Decision{}, fmt.Errorf("replace fingerprint: %w", err)
			}
		}
		if err := s.repo.InsertFingerprint(ctx, fp); err != nil {
			return Decision{}, fmt.Errorf("persist fingerprint: %w", err)
		}
	}
	if own >= 0 {
		e.prints[own] = fp
	} else {
		e.prints = append(e.prints, fp)
	}
	d := Decision{Accepted: true, Hash: hash}
	if best >= 0 {
		d.Distance = best
	}
	return d, nil
}

// Forget drops the fingerprint of a task whose image was never stored.
func (s *Store) Forget(ctx context.Context, scope, taskID string) error {
	e := s.entry(scope)
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.prints[:0]
	removed := false
	for _, fp := range e.prints {
		if fp.SourceTaskID == taskID {
			removed = true
			continue
		}
		kept = append(kept, fp)
	}
	e.prints = kept
	if removed && s.repo != nil {
		if err := s.repo.DeleteFingerprint(ctx, scope, taskID); err != nil {
			return fmt.Errorf("forget fingerprint: %w", err)
		}
	}
	return nil
}

// Fingerprints returns a copy of the scope's fingerprints ordered by task id.
func (s *Store) Fingerprints(scope string) []Fingerprint {
	e := s.entry(scope)
	e.mu.Lock()
	out := append([]Fingerprint(nil), e.prints...)
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SourceTaskID < out[j].SourceTaskID })
	return out
}

// Hash decodes a PNG, JPEG, GIF or WebP image and returns its perceptual hash.
func Hash(data []byte) (uint64, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decode image: %w", err)
	}
	h, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return 0, fmt.Errorf("perception hash: %w", err)
	}
	return h.GetHash(), nil
}

// Distance is the Hamming distance between two perceptual hashes.
func Distance(a, b uint64) int {
	d, err := goimagehash.NewImageHash(a, goimagehash.PHash).Distance(goimagehash.NewImageHash(b, goimagehash.PHash))
	if err != nil {
		// Only reachable with mismatched hash kinds.
		return 64
	}
	return d
}
