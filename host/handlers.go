package host

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/matrix-org/go-widget-api/capability"
	"github.com/matrix-org/go-widget-api/schema"
)

func (h *Host) handleBuiltin(request *schema.Request) {
	switch request.Action {
	case schema.ActionContentLoaded:
		h.handleContentLoaded(request)
	case schema.ActionSupportedAPIVersions:
		h.replyVersions(request)
	case schema.ActionSendEvent:
		h.handleSendEvent(request)
	case schema.ActionSendToDevice:
		h.handleSendToDevice(request)
	case schema.ActionGetOpenIDCredentials:
		h.handleOpenID(request)
	case schema.ActionNavigate:
		h.handleNavigate(request)
	case schema.ActionRenegotiateCapabilities:
		h.handleRenegotiate(request)
	case schema.ActionReadEvents:
		h.handleReadEvents(request)
	case schema.ActionWatchTurnServers:
		h.handleWatchTurnServers(request)
	case schema.ActionUnwatchTurnServers:
		h.handleUnwatchTurnServers(request)
	default:
		h.replyError(request, "Unknown or unsupported action: "+string(request.Action))
	}
}

func (h *Host) handleContentLoaded(request *schema.Request) {
	h.mu.Lock()
	if h.contentLoaded {
		h.mu.Unlock()
		// One content_loaded signal per load cycle; a second one before
		// the frame reloads is a protocol violation.
		h.logger.Error("widget sent content_loaded twice in one load cycle", "widget", h.widget.ID())
		h.replyError(request, "Improper sequence: content_loaded can only be sent once per load")
		return
	}
	h.contentLoaded = true
	h.mu.Unlock()

	if h.widget.WaitForIframeLoad() {
		h.replyError(request, "Improper sequence: not expecting content_loaded when waitForIframeLoad is true")
		return
	}
	h.reply(request, nil)
	h.beginCapabilities()
}

func (h *Host) replyVersions(request *schema.Request) {
	h.reply(request, &schema.SupportedVersionsResponse{SupportedVersions: schema.CurrentAPIVersions})
}

func (h *Host) handleRenegotiate(request *schema.Request) {
	// Receipt is acknowledged first; the outcome travels separately as a
	// capability notification.
	h.reply(request, nil)

	var data schema.RenegotiateCapabilitiesRequest
	if err := unmarshal(request.Data, &data); err != nil {
		h.logger.Error("malformed capability renegotiation", "widget", h.widget.ID(), "error", err)
		return
	}

	var newlyRequested []capability.Capability
	for _, c := range data.Capabilities {
		if !h.caps.Has(c) {
			newlyRequested = append(newlyRequested, c)
		}
	}
	if len(newlyRequested) == 0 {
		h.notifyCapabilities(nil)
		return
	}

	allowed, err := h.driver.ValidateCapabilities(h.ctx, newlyRequested)
	if err != nil {
		h.logger.Error("driver failed to validate renegotiated capabilities", "widget", h.widget.ID(), "error", err)
		return
	}
	h.caps.Grant(allowed...)
	h.notifyCapabilities(newlyRequested)
}

func (h *Host) handleSendEvent(request *schema.Request) {
	var data schema.SendEventRequest
	if err := unmarshal(request.Data, &data); err != nil || data.Type == "" {
		h.replyError(request, "Invalid request - missing event type")
		return
	}
	if data.RoomID != "" && !h.CanUseRoomTimeline(data.RoomID) {
		h.replyError(request, "Unable to access room timeline: "+data.RoomID)
		return
	}

	content := data.Content
	if len(content) == 0 {
		content = schema.EmptyData
	}

	if data.StateKey != nil {
		if !h.CanSendStateEvent(data.Type, *data.StateKey) {
			h.replyError(request, "Cannot send state events of this type")
			return
		}
	} else {
		if !h.CanSendRoomEvent(data.Type, msgtypeOf(content)) {
			h.replyError(request, "Cannot send room events of this type")
			return
		}
	}

	sent, err := h.driver.SendEvent(h.ctx, data.Type, content, data.StateKey, data.RoomID)
	if err != nil {
		h.logger.Error("driver failed to send event", "widget", h.widget.ID(), "type", data.Type, "error", err)
		h.replyError(request, "Error sending event")
		return
	}
	h.reply(request, &schema.SendEventResponse{RoomID: sent.RoomID, EventID: sent.EventID})
}

func (h *Host) handleSendToDevice(request *schema.Request) {
	var data schema.SendToDeviceRequest
	if err := unmarshal(request.Data, &data); err != nil || data.Type == "" {
		h.replyError(request, "Invalid request - missing event type")
		return
	}
	if data.Messages == nil {
		h.replyError(request, "Invalid request - missing event contents")
		return
	}
	if data.Encrypted == nil {
		h.replyError(request, "Invalid request - missing encryption flag")
		return
	}
	if !h.CanSendToDeviceEvent(data.Type) {
		h.replyError(request, "Cannot send to-device events of this type")
		return
	}

	if err := h.driver.SendToDevice(h.ctx, data.Type, *data.Encrypted, data.Messages); err != nil {
		h.logger.Error("driver failed to send to-device event", "widget", h.widget.ID(), "type", data.Type, "error", err)
		h.replyError(request, "Error sending event")
		return
	}
	h.reply(request, nil)
}

func (h *Host) handleReadEvents(request *schema.Request) {
	var data schema.ReadEventsRequest
	if err := unmarshal(request.Data, &data); err != nil || data.Type == "" {
		h.replyError(request, "Invalid request - missing event type")
		return
	}
	if data.Limit != nil && *data.Limit < 0 {
		h.replyError(request, "Invalid request - limit out of range")
		return
	}
	limit := 0
	if data.Limit != nil {
		limit = *data.Limit
	}

	// nil denotes the current room only.
	var roomIDs []string
	if len(data.RoomIDs) > 0 {
		var ok bool
		roomIDs, ok = decodeRoomIDs(data.RoomIDs)
		if !ok {
			h.replyError(request, "Invalid request - malformed room_ids")
			return
		}
		for _, roomID := range roomIDs {
			if !h.CanUseRoomTimeline(roomID) {
				h.replyError(request, "Unable to access room timeline: "+roomID)
				return
			}
		}
	}

	var events []schema.RoomEvent
	if data.StateKey != nil {
		stateKey, ok := decodeStateKeyFilter(data.StateKey)
		if !ok {
			h.replyError(request, "Invalid request - state_key must be a string or true")
			return
		}
		if !h.CanReceiveStateEvent(data.Type, stateKey) {
			h.replyError(request, "Cannot read state events of this type")
			return
		}
		var err error
		events, err = h.driver.ReadStateEvents(h.ctx, data.Type, stateKey, limit, roomIDs)
		if err != nil {
			h.logger.Error("driver failed to read state events", "widget", h.widget.ID(), "type", data.Type, "error", err)
			h.replyError(request, "Error reading events")
			return
		}
	} else {
		if !h.CanReceiveRoomEvent(data.Type, data.Msgtype) {
			h.replyError(request, "Cannot read room events of this type")
			return
		}
		var err error
		events, err = h.driver.ReadRoomEvents(h.ctx, data.Type, data.Msgtype, limit, roomIDs)
		if err != nil {
			h.logger.Error("driver failed to read room events", "widget", h.widget.ID(), "type", data.Type, "error", err)
			h.replyError(request, "Error reading events")
			return
		}
	}
	if events == nil {
		events = []schema.RoomEvent{}
	}
	h.reply(request, &schema.ReadEventsResponse{Events: events})
}

func (h *Host) handleNavigate(request *schema.Request) {
	if !h.HasCapability(capability.Navigate) {
		h.replyError(request, "Missing capability")
		return
	}
	var data schema.NavigateRequest
	if err := unmarshal(request.Data, &data); err != nil || !strings.HasPrefix(data.URI, "https://matrix.to/#") {
		h.replyError(request, "Invalid matrix.to URI")
		return
	}

	if err := h.driver.Navigate(h.ctx, data.URI); err != nil {
		h.logger.Error("driver failed to handle navigation", "widget", h.widget.ID(), "error", err)
		h.replyError(request, "Error handling navigation")
		return
	}
	h.reply(request, nil)
}

// handleOpenID runs the two-phase OpenID flow. Phase 1 answers on the
// original request. If the driver reports the decision is pending user
// confirmation, the request is answered with that pending state and the
// flow moves to phase 2, where the terminal outcome travels as an
// unsolicited openid_credentials push correlated by the original request
// ID - the original request/response pair is already closed by then.
func (h *Host) handleOpenID(request *schema.Request) {
	var mu sync.Mutex
	phase := 1
	closed := false

	replyState := func(state schema.OpenIDRequestState, credentials *schema.OpenIDCredentials, pushing bool) {
		creds := schema.OpenIDCredentials{}
		if credentials != nil {
			creds = *credentials
		}
		if pushing {
			_, err := h.transport.Send(h.ctx, schema.ActionOpenIDCredentials, &schema.OpenIDCredentialsPush{
				State:             state,
				OriginalRequestID: request.RequestID,
				OpenIDCredentials: creds,
			})
			if err != nil {
				h.logger.Error("failed to push OpenID outcome to widget", "widget", h.widget.ID(), "error", err)
			}
			return
		}
		h.reply(request, &schema.GetOpenIDResponse{State: state, OpenIDCredentials: creds})
	}

	h.driver.AskOpenID(h.ctx, func(update OpenIDUpdate) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}

		fail := func(message string) {
			h.logger.Error("failed to handle OpenID request", "widget", h.widget.ID(), "reason", message)
			if phase > 1 {
				// No error channel exists in phase 2; block the attempt.
				replyState(schema.OpenIDStateBlocked, nil, true)
			} else {
				h.replyError(request, message)
			}
		}

		switch {
		case update.State == schema.OpenIDStatePendingConfirmation && phase > 1:
			closed = true
			fail("client provided out-of-phase response to OIDC flow")
		case update.State == schema.OpenIDStatePendingConfirmation:
			replyState(update.State, nil, false)
			phase++
		case update.State == schema.OpenIDStateAllowed && (update.Credentials == nil || update.Credentials.AccessToken == ""):
			closed = true
			fail("client provided invalid OIDC token for an allowed request")
		default:
			if update.State == schema.OpenIDStateBlocked {
				update.Credentials = nil
			}
			closed = true
			replyState(update.State, update.Credentials, phase > 1)
		}
	})
}

func (h *Host) handleWatchTurnServers(request *schema.Request) {
	if !h.HasCapability(capability.TurnServers) {
		h.replyError(request, "Missing capability")
		return
	}

	h.turnMu.Lock()
	defer h.turnMu.Unlock()
	if h.turnCancel != nil {
		// Already watching.
		h.reply(request, nil)
		return
	}

	ctx, cancel := context.WithCancel(h.ctx)
	servers, err := h.driver.TurnServers(ctx)
	if err != nil {
		cancel()
		h.logger.Error("driver failed to provide TURN servers", "widget", h.widget.ID(), "error", err)
		h.replyError(request, "TURN servers not available")
		return
	}

	// Consume the first item eagerly: a stream that ends before producing
	// anything is a hard denial.
	select {
	case first, ok := <-servers:
		if !ok {
			cancel()
			h.logger.Error("driver refuses to provide any TURN servers", "widget", h.widget.ID())
			h.replyError(request, "TURN servers not available")
			return
		}
		h.turnCancel = cancel
		h.reply(request, nil)
		go h.pollTurnServers(servers, first)
	case <-ctx.Done():
		cancel()
		h.replyError(request, "TURN servers not available")
	}
}

// pollTurnServers pushes the eagerly-consumed first credential set and
// then every subsequent one, each as its own update_turn_servers push.
// Push failures terminate the loop silently apart from a log line.
func (h *Host) pollTurnServers(servers <-chan schema.TurnServer, first schema.TurnServer) {
	if _, err := h.transport.Send(h.ctx, schema.ActionUpdateTurnServers, &first); err != nil {
		h.logger.Error("error pushing TURN servers to widget", "widget", h.widget.ID(), "error", err)
		return
	}
	for server := range servers {
		if _, err := h.transport.Send(h.ctx, schema.ActionUpdateTurnServers, &server); err != nil {
			h.logger.Error("error pushing TURN servers to widget", "widget", h.widget.ID(), "error", err)
			return
		}
	}
}

func (h *Host) handleUnwatchTurnServers(request *schema.Request) {
	if !h.HasCapability(capability.TurnServers) {
		h.replyError(request, "Missing capability")
		return
	}

	h.turnMu.Lock()
	defer h.turnMu.Unlock()
	if h.turnCancel != nil {
		// Cancellation is the stop signal: the driver's stream must
		// release its upstream subscription and close the channel.
		h.turnCancel()
		h.turnCancel = nil
	}
	h.reply(request, nil)
}

func (h *Host) reply(request *schema.Request, data any) {
	if err := h.transport.Reply(request, data); err != nil {
		h.logger.Error("failed to reply to widget request", "widget", h.widget.ID(), "action", request.Action, "error", err)
	}
}

func (h *Host) replyError(request *schema.Request, message string) {
	if err := h.transport.ReplyError(request, message); err != nil {
		h.logger.Error("failed to reply to widget request", "widget", h.widget.ID(), "action", request.Action, "error", err)
	}
}

// msgtypeOf extracts the msgtype field from event content, nil when absent.
func msgtypeOf(content json.RawMessage) *string {
	var probe struct {
		Msgtype *string `json:"msgtype"`
	}
	if err := json.Unmarshal(content, &probe); err != nil {
		return nil
	}
	return probe.Msgtype
}

// decodeRoomIDs accepts either a single room ID string (including the
// AnyRoom sentinel) or a list of them.
func decodeRoomIDs(raw json.RawMessage) ([]string, bool) {
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return []string{one}, true
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, true
	}
	return nil, false
}

// decodeStateKeyFilter maps the wire state_key filter to a driver filter:
// the literal true means any state key (nil), a string means that exact
// key. Anything else is malformed.
func decodeStateKeyFilter(raw json.RawMessage) (*string, bool) {
	var anyKey bool
	if err := json.Unmarshal(raw, &anyKey); err == nil {
		if anyKey {
			return nil, true
		}
		return nil, false
	}
	var key string
	if err := json.Unmarshal(raw, &key); err == nil {
		return &key, true
	}
	return nil, false
}

func unmarshal(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing payload")
	}
	return json.Unmarshal(raw, out)
}
