package widget

import (
	"log/slog"

	"github.com/matrix-org/go-widget-api/transport"
)

type config struct {
	widgetID         string
	logger           *slog.Logger
	onReady          func()
	transportOptions []transport.Option
}

// Option customises an API.
type Option func(*config)

// WithWidgetID sets the widget's own identifier. Without it the identifier
// is learnt from the client's first request.
func WithWidgetID(widgetID string) Option {
	return func(c *config) {
		c.widgetID = widgetID
	}
}

// WithLogger sets the logger, otherwise slog.Default is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithReadyFunc registers a callback invoked once capability negotiation
// has completed and the client is ready for requests.
func WithReadyFunc(fn func()) Option {
	return func(c *config) {
		c.onReady = fn
	}
}

// WithTransportOptions passes options through to the underlying transport.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *config) {
		c.transportOptions = append(c.transportOptions, opts...)
	}
}
