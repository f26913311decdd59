package transport

import (
	"log/slog"
	"time"
)

// Option customises a Transport.
type Option func(t *Transport)

// WithTimeout sets the per-request response timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		if timeout > 0 {
			t.timeout = timeout
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithStrictOriginCheck drops inbound messages whose origin differs from
// the given origin.
func WithStrictOriginCheck(origin string) Option {
	return func(t *Transport) {
		t.strictOrigin = origin
	}
}
