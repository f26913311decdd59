package bridge

import (
	"log/slog"

	"github.com/matrix-org/go-widget-api/host"
)

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the logger, otherwise slog.Default is used.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDriver replaces the built-in static driver, wiring sessions to a
// real backend.
func WithDriver(driver host.Driver) Option {
	return func(s *Service) {
		s.driver = driver
	}
}
