// Package widget is the embedded side of the widget API: it negotiates
// capabilities with the hosting client and exposes the request surface a
// widget uses to act on the user's behalf.
package widget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/matrix-org/go-widget-api/capability"
	"github.com/matrix-org/go-widget-api/schema"
	"github.com/matrix-org/go-widget-api/transport"
)

// ActionHandler intercepts an inbound client request. Returning true marks
// the request handled: the handler owns the reply and built-in handling is
// skipped. Handlers run in registration order; the first to return true
// wins.
type ActionHandler func(request *schema.Request) bool

// API is a widget's connection to its hosting client. Request the desired
// capabilities before Start; the client opens negotiation on its own
// schedule (immediately, or upon content_loaded).
type API struct {
	transport *transport.Transport
	logger    *slog.Logger
	onReady   func()

	ctx    context.Context
	cancel context.CancelFunc

	mu                   sync.Mutex
	handlers             map[schema.Action][]ActionHandler
	requested            []capability.Capability
	approved             []capability.Capability
	capabilitiesFinished bool
	awaitingNotify       bool
	supportsRenegotiate  bool
	widgetConfig         *schema.ModalWidgetOpenRequest

	versionsMu     sync.Mutex
	clientVersions []schema.APIVersion
	versionsProbed bool

	openidMu      sync.Mutex
	openidWaiters map[string]chan schema.OpenIDCredentialsPush
	openidEarly   map[string]schema.OpenIDCredentialsPush

	turnMu sync.Mutex
	turnCh chan schema.TurnServer
}

// New creates a widget API over the given channel. If no widget ID option
// is supplied, the ID is learnt from the client's first request.
func New(channel transport.Channel, opts ...Option) (*API, error) {
	if channel == nil {
		return nil, errors.New("no channel supplied")
	}
	a := &API{
		logger:        slog.Default(),
		handlers:      make(map[schema.Action][]ActionHandler),
		openidWaiters: make(map[string]chan schema.OpenIDCredentialsPush),
		openidEarly:   make(map[string]schema.OpenIDCredentialsPush),
	}
	var widgetID string
	var transportOptions []transport.Option
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	widgetID = cfg.widgetID
	transportOptions = cfg.transportOptions
	if cfg.logger != nil {
		a.logger = cfg.logger
	}
	a.onReady = cfg.onReady
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.transport = transport.New(schema.DirectionFromWidget, widgetID, channel, transportOptions...)
	a.transport.OnMessage(a.handleMessage)
	return a, nil
}

// Start begins listening to the client. Capabilities requested after Start
// only take effect through renegotiation.
func (a *API) Start() {
	a.transport.Start()
}

// Stop permanently stops the session.
func (a *API) Stop() {
	a.cancel()
	a.transport.Stop()
}

// Transport exposes the underlying transport, primarily so ActionHandler
// overrides can reply.
func (a *API) Transport() *transport.Transport { return a.transport }

// On registers an interception handler for an inbound action.
func (a *API) On(action schema.Action, handler ActionHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[action] = append(a.handlers[action], handler)
}

// RequestCapability adds a capability to the set asked of the client. After
// negotiation has completed this only works when the client supports
// renegotiation; call UpdateRequestedCapabilities to submit the change.
func (a *API) RequestCapability(c capability.Capability) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.capabilitiesFinished && !a.supportsRenegotiate {
		return errors.New("capabilities have already been negotiated")
	}
	if !slices.Contains(a.requested, c) {
		a.requested = append(a.requested, c)
	}
	return nil
}

// RequestCapabilities adds several capabilities to the requested set.
func (a *API) RequestCapabilities(caps ...capability.Capability) error {
	for _, c := range caps {
		if err := a.RequestCapability(c); err != nil {
			return err
		}
	}
	return nil
}

// RequestCapabilityForRoomTimeline asks for access to a room's event
// stream. Pass capability.AnyRoom for all rooms.
func (a *API) RequestCapabilityForRoomTimeline(roomID string) error {
	return a.RequestCapability(capability.RoomTimeline(roomID))
}

// RequestCapabilityToSendEvent asks to send room events of the given type.
func (a *API) RequestCapabilityToSendEvent(eventType string) error {
	return a.RequestCapability(capability.ForRoomEvent(capability.DirectionSend, eventType).Raw)
}

// RequestCapabilityToReceiveEvent asks to receive room events of the given
// type.
func (a *API) RequestCapabilityToReceiveEvent(eventType string) error {
	return a.RequestCapability(capability.ForRoomEvent(capability.DirectionReceive, eventType).Raw)
}

// RequestCapabilityToSendMessage asks to send m.room.message events. A nil
// msgtype asks for all message types.
func (a *API) RequestCapabilityToSendMessage(msgtype *string) error {
	return a.RequestCapability(capability.ForRoomMessageEvent(capability.DirectionSend, msgtype).Raw)
}

// RequestCapabilityToReceiveMessage asks to receive m.room.message events.
// A nil msgtype asks for all message types.
func (a *API) RequestCapabilityToReceiveMessage(msgtype *string) error {
	return a.RequestCapability(capability.ForRoomMessageEvent(capability.DirectionReceive, msgtype).Raw)
}

// RequestCapabilityToSendState asks to send state events of the given type
// and state key. A nil stateKey asks for all state keys.
func (a *API) RequestCapabilityToSendState(eventType string, stateKey *string) error {
	return a.RequestCapability(capability.ForStateEvent(capability.DirectionSend, eventType, stateKey).Raw)
}

// RequestCapabilityToReceiveState asks to receive state events of the
// given type and state key. A nil stateKey asks for all state keys.
func (a *API) RequestCapabilityToReceiveState(eventType string, stateKey *string) error {
	return a.RequestCapability(capability.ForStateEvent(capability.DirectionReceive, eventType, stateKey).Raw)
}

// RequestCapabilityToSendToDevice asks to send to-device events of the
// given type.
func (a *API) RequestCapabilityToSendToDevice(eventType string) error {
	return a.RequestCapability(capability.ForToDeviceEvent(capability.DirectionSend, eventType).Raw)
}

// RequestCapabilityToReceiveToDevice asks to receive to-device events of
// the given type.
func (a *API) RequestCapabilityToReceiveToDevice(eventType string) error {
	return a.RequestCapability(capability.ForToDeviceEvent(capability.DirectionReceive, eventType).Raw)
}

// HasCapability reports whether the widget most likely holds the given
// capability: the approved set once the client has notified one, otherwise
// the requested set, since legacy clients grant without notifying.
func (a *API) HasCapability(c capability.Capability) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.approved != nil {
		return slices.Contains(a.approved, c)
	}
	return slices.Contains(a.requested, c)
}

// WidgetConfig returns the opening configuration delivered to a modal
// widget, or nil if none has arrived.
func (a *API) WidgetConfig() *schema.ModalWidgetOpenRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.widgetConfig
}

// SupportsRenegotiation reports whether the client advertised capability
// renegotiation support during negotiation.
func (a *API) SupportsRenegotiation() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.supportsRenegotiate
}

// ClientVersions returns the API versions the client supports, probing it
// and caching the answer. Only a successful probe is cached, so a transient
// failure does not lock the widget into legacy behavior. A client too old
// to answer yields an empty list.
func (a *API) ClientVersions(ctx context.Context) []schema.APIVersion {
	a.versionsMu.Lock()
	defer a.versionsMu.Unlock()
	if a.versionsProbed {
		return a.clientVersions
	}
	response, err := a.transport.Send(ctx, schema.ActionSupportedAPIVersions, nil)
	if err != nil {
		a.logger.Warn("non-fatal error requesting supported client versions", "error", err)
		return nil
	}
	var data schema.SupportedVersionsResponse
	if err := json.Unmarshal(response, &data); err != nil {
		a.logger.Warn("malformed supported versions response from client", "error", err)
		return nil
	}
	a.clientVersions = data.SupportedVersions
	a.versionsProbed = true
	return a.clientVersions
}

func (a *API) handleMessage(request *schema.Request) {
	a.mu.Lock()
	chain := a.handlers[request.Action]
	a.mu.Unlock()
	for _, handler := range chain {
		if handler(request) {
			return
		}
	}

	switch request.Action {
	case schema.ActionSupportedAPIVersions:
		a.reply(request, &schema.SupportedVersionsResponse{SupportedVersions: schema.CurrentAPIVersions})
	case schema.ActionCapabilities:
		a.handleCapabilities(request)
	case schema.ActionNotifyCapabilities:
		a.handleNotifyCapabilities(request)
	case schema.ActionWidgetConfig:
		a.handleWidgetConfig(request)
	case schema.ActionOpenIDCredentials:
		a.handleOpenIDPush(request)
	case schema.ActionUpdateTurnServers:
		a.handleTurnUpdate(request)
	case schema.ActionUpdateVisibility:
		// Acknowledged even when the widget does not care, to keep old
		// clients from logging errors.
		a.reply(request, nil)
	default:
		a.replyError(request, "Unknown or unsupported action: "+string(request.Action))
	}
}

// handleCapabilities answers the client's capability request with the
// requested set, once only. Which client versions are in play decides when
// the widget counts as ready: clients that notify capabilities do so after
// approval, so readiness waits for the notification; older clients never
// notify and the widget is ready as soon as it has answered.
func (a *API) handleCapabilities(request *schema.Request) {
	a.mu.Lock()
	if a.capabilitiesFinished {
		a.mu.Unlock()
		a.replyError(request, "Capability negotiation already completed")
		return
	}
	requested := slices.Clone(a.requested)
	a.mu.Unlock()

	versions := a.ClientVersions(a.ctx)

	a.mu.Lock()
	a.supportsRenegotiate = slices.Contains(versions, schema.VersionMSC2974)
	a.capabilitiesFinished = true
	ready := true
	if slices.Contains(versions, schema.VersionMSC2871) {
		a.awaitingNotify = true
		ready = false
	}
	a.mu.Unlock()

	a.reply(request, &schema.CapabilitiesResponse{Capabilities: requested})
	if ready {
		a.emitReady()
	}
}

// handleNotifyCapabilities records the approved set. The notification is
// acknowledged even when its payload does not decode; the client has made
// its decision either way.
func (a *API) handleNotifyCapabilities(request *schema.Request) {
	var data schema.NotifyCapabilitiesRequest
	decoded := true
	if err := json.Unmarshal(request.Data, &data); err != nil {
		a.logger.Warn("malformed capability notification from client", "error", err)
		decoded = false
	}

	a.mu.Lock()
	if decoded {
		if data.Approved == nil {
			data.Approved = []capability.Capability{}
		}
		a.approved = append(a.approved, data.Approved...)
	}
	ready := a.awaitingNotify
	a.awaitingNotify = false
	a.mu.Unlock()

	a.reply(request, nil)
	if ready {
		a.emitReady()
	}
}

func (a *API) handleWidgetConfig(request *schema.Request) {
	var data schema.ModalWidgetOpenRequest
	if err := json.Unmarshal(request.Data, &data); err != nil {
		a.replyError(request, "Invalid request - malformed widget config")
		return
	}
	a.mu.Lock()
	a.widgetConfig = &data
	a.mu.Unlock()
	a.reply(request, nil)
}

func (a *API) handleOpenIDPush(request *schema.Request) {
	var push schema.OpenIDCredentialsPush
	if err := json.Unmarshal(request.Data, &push); err != nil || push.OriginalRequestID == "" {
		a.replyError(request, "Invalid request - missing original request ID")
		return
	}

	a.openidMu.Lock()
	if waiter, ok := a.openidWaiters[push.OriginalRequestID]; ok {
		waiter <- push
	} else {
		// The push can overtake the waiter registration; park it.
		a.openidEarly[push.OriginalRequestID] = push
	}
	a.openidMu.Unlock()
	a.reply(request, nil)
}

func (a *API) handleTurnUpdate(request *schema.Request) {
	var server schema.TurnServer
	if err := json.Unmarshal(request.Data, &server); err != nil {
		a.replyError(request, "Invalid request - malformed TURN servers")
		return
	}

	a.turnMu.Lock()
	ch := a.turnCh
	if ch == nil {
		a.turnMu.Unlock()
		a.replyError(request, "Unexpected TURN server update")
		return
	}
	// Credentials supersede each other; when the consumer lags, only the
	// newest set matters.
	select {
	case ch <- server:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- server
	}
	a.turnMu.Unlock()
	a.reply(request, nil)
}

func (a *API) emitReady() {
	if a.onReady != nil {
		a.onReady()
	}
}

func (a *API) reply(request *schema.Request, data any) {
	if err := a.transport.Reply(request, data); err != nil {
		a.logger.Error("failed to reply to client request", "action", request.Action, "error", err)
	}
}

func (a *API) replyError(request *schema.Request, message string) {
	if err := a.transport.ReplyError(request, message); err != nil {
		a.logger.Error("failed to reply to client request", "action", request.Action, "error", err)
	}
}

func unmarshal(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing payload")
	}
	return json.Unmarshal(raw, out)
}
