package host

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	widgetapi "github.com/matrix-org/go-widget-api"
	"github.com/matrix-org/go-widget-api/capability"
	"github.com/matrix-org/go-widget-api/schema"
	"github.com/matrix-org/go-widget-api/transport"
)

// ActionHandler intercepts an inbound widget request. Returning true marks
// the request handled: the handler owns the reply and built-in handling is
// skipped. Handlers run in registration order; the first to return true
// wins.
type ActionHandler func(request *schema.Request) bool

// Host owns one widget's session: it negotiates capabilities, answers the
// widget's requests through the driver, and exposes the outbound
// notification surface. Construct with New; a Host cannot be reused after
// Stop, recreate it instead (granted capabilities only ever reset by
// recreation).
type Host struct {
	widget    *widgetapi.Widget
	driver    Driver
	transport *transport.Transport
	logger    *slog.Logger
	caps      *capability.Store

	ctx    context.Context
	cancel context.CancelFunc

	onPreparing            func()
	onReady                func()
	onCapabilitiesNotified func()
	transportOptions       []transport.Option

	mu            sync.Mutex
	handlers      map[schema.Action][]ActionHandler
	contentLoaded bool
	stopped       bool

	turnMu     sync.Mutex
	turnCancel context.CancelFunc
}

// New creates a host for the given widget over the given channel and
// starts listening immediately, independent of negotiation. The embedding
// application must call NotifyFrameLoad once the widget's frame has
// loaded.
func New(widget *widgetapi.Widget, channel transport.Channel, driver Driver, opts ...Option) (*Host, error) {
	if widget == nil {
		return nil, errors.New("invalid widget")
	}
	if channel == nil {
		return nil, errors.New("no channel supplied")
	}
	if driver == nil {
		return nil, errors.New("invalid driver")
	}
	h := &Host{
		widget:   widget,
		driver:   driver,
		logger:   slog.Default(),
		caps:     capability.NewStore(),
		handlers: make(map[schema.Action][]ActionHandler),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.transport = transport.New(schema.DirectionToWidget, widget.ID(), channel, h.transportOptions...)
	h.transport.OnMessage(h.handleMessage)
	h.transport.Start()
	return h, nil
}

// Widget returns the widget this host serves.
func (h *Host) Widget() *widgetapi.Widget { return h.widget }

// Transport exposes the underlying transport, primarily so inter
// ActionHandler overrides can reply.
func (h *Host) Transport() *transport.Transport { return h.transport }

// On registers an interception handler for an inbound action.
func (h *Host) On(action schema.Action, handler ActionHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[action] = append(h.handlers[action], handler)
}

// Stop permanently stops the session: the transport stops listening and
// any TURN streaming is cancelled.
func (h *Host) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	h.cancel()
	h.transport.Stop()
}

// NotifyFrameLoad tells the host the widget's frame finished loading. For
// widgets that wait for frame load this begins capability negotiation;
// otherwise it re-arms the one content_loaded signal the next load cycle
// is allowed.
func (h *Host) NotifyFrameLoad() {
	if h.widget.WaitForIframeLoad() {
		go h.beginCapabilities()
		return
	}
	h.mu.Lock()
	h.contentLoaded = false
	h.mu.Unlock()
}

// HasCapability reports whether the exact capability has been granted.
func (h *Host) HasCapability(c capability.Capability) bool {
	return h.caps.Has(c)
}

// CanUseRoomTimeline reports whether the widget may access the given
// room's event stream. Pass capability.AnyRoom to test the wildcard grant.
func (h *Host) CanUseRoomTimeline(roomID string) bool {
	return h.caps.AllowsTimeline(roomID)
}

// CanSendRoomEvent reports whether the widget may send the given room
// event. The msgtype is only consulted for m.room.message.
func (h *Host) CanSendRoomEvent(eventType string, msgtype *string) bool {
	return h.caps.AllowsRoomEvent(capability.DirectionSend, eventType, msgtype)
}

// CanSendStateEvent reports whether the widget may send the given state
// event.
func (h *Host) CanSendStateEvent(eventType string, stateKey string) bool {
	return h.caps.AllowsStateEvent(capability.DirectionSend, eventType, &stateKey)
}

// CanSendToDeviceEvent reports whether the widget may send the given
// to-device event type.
func (h *Host) CanSendToDeviceEvent(eventType string) bool {
	return h.caps.AllowsToDeviceEvent(capability.DirectionSend, eventType)
}

// CanReceiveRoomEvent reports whether the widget may be fed the given room
// event.
func (h *Host) CanReceiveRoomEvent(eventType string, msgtype *string) bool {
	return h.caps.AllowsRoomEvent(capability.DirectionReceive, eventType, msgtype)
}

// CanReceiveStateEvent reports whether the widget may be fed the given
// state event. A nil stateKey stands for "any state key" and requires a
// wildcard grant.
func (h *Host) CanReceiveStateEvent(eventType string, stateKey *string) bool {
	return h.caps.AllowsStateEvent(capability.DirectionReceive, eventType, stateKey)
}

// CanReceiveToDeviceEvent reports whether the widget may be fed the given
// to-device event type.
func (h *Host) CanReceiveToDeviceEvent(eventType string) bool {
	return h.caps.AllowsToDeviceEvent(capability.DirectionReceive, eventType)
}

// beginCapabilities runs the negotiation handshake: ask the widget for its
// desired capabilities, let the driver filter them, store the grant and
// notify the widget of the outcome.
func (h *Host) beginCapabilities() {
	h.emit(h.onPreparing)

	response, err := h.transport.Send(h.ctx, schema.ActionCapabilities, nil)
	if err != nil {
		h.logger.Error("failed to request capabilities from widget", "widget", h.widget.ID(), "error", err)
		return
	}
	var caps schema.CapabilitiesResponse
	if err := unmarshal(response, &caps); err != nil {
		h.logger.Error("malformed capabilities response from widget", "widget", h.widget.ID(), "error", err)
		return
	}

	allowed, err := h.driver.ValidateCapabilities(h.ctx, caps.Capabilities)
	if err != nil {
		h.logger.Error("driver failed to validate capabilities", "widget", h.widget.ID(), "error", err)
		return
	}
	h.logger.Info("widget allowed capabilities", "widget", h.widget.ID(), "capabilities", allowed)
	h.caps.Grant(allowed...)

	h.notifyCapabilities(caps.Capabilities)
	h.emit(h.onReady)
}

// notifyCapabilities tells the widget which capabilities were requested
// and which are now approved. Delivery failure is non-fatal.
func (h *Host) notifyCapabilities(requested []capability.Capability) {
	if requested == nil {
		requested = []capability.Capability{}
	}
	_, err := h.transport.Send(h.ctx, schema.ActionNotifyCapabilities, &schema.NotifyCapabilitiesRequest{
		Requested: requested,
		Approved:  h.caps.Allowed(),
	})
	if err != nil {
		h.logger.Warn("non-fatal error notifying widget of approved capabilities", "widget", h.widget.ID(), "error", err)
	}
	h.emit(h.onCapabilitiesNotified)
}

func (h *Host) handleMessage(request *schema.Request) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	chain := h.handlers[request.Action]
	h.mu.Unlock()

	for _, handler := range chain {
		if handler(request) {
			return
		}
	}
	h.handleBuiltin(request)
}

func (h *Host) emit(fn func()) {
	if fn != nil {
		fn()
	}
}
