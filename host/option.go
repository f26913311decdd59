package host

import (
	"log/slog"

	"github.com/matrix-org/go-widget-api/transport"
)

// Option customises a Host.
type Option func(*Host)

// WithLogger sets the logger, otherwise slog.Default is used.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithPreparingFunc registers a callback invoked when capability
// negotiation begins.
func WithPreparingFunc(fn func()) Option {
	return func(h *Host) {
		h.onPreparing = fn
	}
}

// WithReadyFunc registers a callback invoked once negotiation has
// completed and the widget may be interacted with.
func WithReadyFunc(fn func()) Option {
	return func(h *Host) {
		h.onReady = fn
	}
}

// WithCapabilitiesNotifiedFunc registers a callback invoked after each
// capability notification has been delivered to the widget, including
// renegotiations.
func WithCapabilitiesNotifiedFunc(fn func()) Option {
	return func(h *Host) {
		h.onCapabilitiesNotified = fn
	}
}

// WithTransportOptions passes options through to the underlying transport.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(h *Host) {
		h.transportOptions = append(h.transportOptions, opts...)
	}
}
