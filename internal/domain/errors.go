package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrQuotaExceeded   = errors.New("quota exceeded")
	ErrUnsupportedTier = errors.New("unsupported tier")
	ErrProviderFailure = errors.New("provider failure")
	ErrJobTerminal     = errors.New("job already finished")
	ErrShuttingDown    = errors.New("orchestrator shutting down")
)
