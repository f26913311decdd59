package widget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/matrix-org/go-widget-api/capability"
	"github.com/matrix-org/go-widget-api/schema"
)

// SendContentLoaded tells the client the widget has finished loading. For
// widgets configured to wait for it, this is what opens capability
// negotiation.
func (a *API) SendContentLoaded(ctx context.Context) error {
	_, err := a.transport.Send(ctx, schema.ActionContentLoaded, nil)
	return err
}

// UpdateRequestedCapabilities submits the current requested set to the
// client for renegotiation. Capabilities already granted stay granted; the
// client decides about the rest and answers with a capability
// notification.
func (a *API) UpdateRequestedCapabilities(ctx context.Context) error {
	a.mu.Lock()
	requested := slices.Clone(a.requested)
	a.mu.Unlock()
	_, err := a.transport.Send(ctx, schema.ActionRenegotiateCapabilities, &schema.RenegotiateCapabilitiesRequest{
		Capabilities: requested,
	})
	return err
}

// SendSticker asks the client to post a sticker on the widget's behalf.
// The content shape is owned by the client; it travels opaquely.
func (a *API) SendSticker(ctx context.Context, data any) error {
	if !a.HasCapability(capability.StickerSending) {
		return errors.New("missing capability")
	}
	_, err := a.transport.Send(ctx, schema.ActionSendSticker, data)
	return err
}

// SetAlwaysOnScreen asks the client to keep the widget on screen. The
// client reports whether it honoured the request.
func (a *API) SetAlwaysOnScreen(ctx context.Context, value bool) (bool, error) {
	if !a.HasCapability(capability.AlwaysOnScreen) {
		return false, errors.New("missing capability")
	}
	response, err := a.transport.Send(ctx, schema.ActionUpdateAlwaysOnScreen, &schema.StickyRequest{Value: value})
	if err != nil {
		return false, err
	}
	var data schema.StickyResponse
	if err := unmarshal(response, &data); err != nil {
		return false, err
	}
	return data.Success, nil
}

// NavigateTo asks the client to open a matrix.to permalink.
func (a *API) NavigateTo(ctx context.Context, uri string) error {
	if !a.HasCapability(capability.Navigate) {
		return errors.New("missing capability")
	}
	if !strings.HasPrefix(uri, "https://matrix.to/#") {
		return errors.New("invalid matrix.to URI")
	}
	_, err := a.transport.Send(ctx, schema.ActionNavigate, &schema.NavigateRequest{URI: uri})
	return err
}

// SendRoomEvent sends a room event through the client. An empty roomID
// targets the user's currently viewed room.
func (a *API) SendRoomEvent(ctx context.Context, eventType string, content any, roomID string) (*schema.SendEventResponse, error) {
	return a.sendEvent(ctx, eventType, nil, content, roomID)
}

// SendStateEvent sends a state event through the client. An empty roomID
// targets the user's currently viewed room.
func (a *API) SendStateEvent(ctx context.Context, eventType string, stateKey string, content any, roomID string) (*schema.SendEventResponse, error) {
	return a.sendEvent(ctx, eventType, &stateKey, content, roomID)
}

func (a *API) sendEvent(ctx context.Context, eventType string, stateKey *string, content any, roomID string) (*schema.SendEventResponse, error) {
	raw, err := marshalContent(content)
	if err != nil {
		return nil, err
	}
	response, err := a.transport.Send(ctx, schema.ActionSendEvent, &schema.SendEventRequest{
		Type:     eventType,
		StateKey: stateKey,
		Content:  raw,
		RoomID:   roomID,
	})
	if err != nil {
		return nil, err
	}
	var sent schema.SendEventResponse
	if err := unmarshal(response, &sent); err != nil {
		return nil, err
	}
	return &sent, nil
}

// SendToDevice sends a to-device event through the client.
func (a *API) SendToDevice(ctx context.Context, eventType string, encrypted bool, messages schema.ToDeviceMessages) error {
	_, err := a.transport.Send(ctx, schema.ActionSendToDevice, &schema.SendToDeviceRequest{
		Type:      eventType,
		Encrypted: &encrypted,
		Messages:  messages,
	})
	return err
}

// ReadRoomEvents asks the client for recent room events of the given type.
// A nil roomIDs reads the currently viewed room; include capability.AnyRoom
// to read all accessible rooms.
func (a *API) ReadRoomEvents(ctx context.Context, eventType string, limit int, msgtype *string, roomIDs []string) ([]schema.RoomEvent, error) {
	return a.readEvents(ctx, &schema.ReadEventsRequest{
		Type:    eventType,
		Msgtype: msgtype,
		Limit:   &limit,
		RoomIDs: encodeRoomIDs(roomIDs),
	})
}

// ReadStateEvents asks the client for current state events of the given
// type. A nil stateKey reads every state key.
func (a *API) ReadStateEvents(ctx context.Context, eventType string, limit int, stateKey *string, roomIDs []string) ([]schema.RoomEvent, error) {
	filter := json.RawMessage("true")
	if stateKey != nil {
		var err error
		filter, err = json.Marshal(*stateKey)
		if err != nil {
			return nil, err
		}
	}
	return a.readEvents(ctx, &schema.ReadEventsRequest{
		Type:     eventType,
		StateKey: filter,
		Limit:    &limit,
		RoomIDs:  encodeRoomIDs(roomIDs),
	})
}

func (a *API) readEvents(ctx context.Context, request *schema.ReadEventsRequest) ([]schema.RoomEvent, error) {
	response, err := a.transport.Send(ctx, schema.ActionReadEvents, request)
	if err != nil {
		return nil, err
	}
	var data schema.ReadEventsResponse
	if err := unmarshal(response, &data); err != nil {
		return nil, err
	}
	return data.Events, nil
}

// RequestOpenIDToken asks the client for OpenID credentials proving the
// user's identity. When the decision needs user confirmation, this blocks
// until the client pushes the outcome or ctx ends.
func (a *API) RequestOpenIDToken(ctx context.Context) (*schema.OpenIDCredentials, error) {
	response, err := a.transport.SendComplete(ctx, schema.ActionGetOpenIDCredentials, nil)
	if err != nil {
		return nil, err
	}
	var data schema.GetOpenIDResponse
	if err := unmarshal(response.Response, &data); err != nil {
		return nil, err
	}

	switch data.State {
	case schema.OpenIDStateAllowed:
		return &data.OpenIDCredentials, nil
	case schema.OpenIDStateBlocked:
		return nil, errors.New("the user was not allowed to verify their identity")
	case schema.OpenIDStatePendingConfirmation:
		push, err := a.awaitOpenIDPush(ctx, response.RequestID)
		if err != nil {
			return nil, err
		}
		if push.State != schema.OpenIDStateAllowed {
			return nil, errors.New("the user was not allowed to verify their identity")
		}
		return &push.OpenIDCredentials, nil
	default:
		return nil, fmt.Errorf("invalid OpenID state: %q", data.State)
	}
}

// awaitOpenIDPush waits for the unsolicited openid_credentials message
// correlated to the given request ID.
func (a *API) awaitOpenIDPush(ctx context.Context, requestID string) (*schema.OpenIDCredentialsPush, error) {
	a.openidMu.Lock()
	if push, ok := a.openidEarly[requestID]; ok {
		delete(a.openidEarly, requestID)
		a.openidMu.Unlock()
		return &push, nil
	}
	ch := make(chan schema.OpenIDCredentialsPush, 1)
	a.openidWaiters[requestID] = ch
	a.openidMu.Unlock()

	defer func() {
		a.openidMu.Lock()
		delete(a.openidWaiters, requestID)
		delete(a.openidEarly, requestID)
		a.openidMu.Unlock()
	}()

	select {
	case push := <-ch:
		return &push, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OpenModalWidget asks the client to open a modal widget.
func (a *API) OpenModalWidget(ctx context.Context, request *schema.ModalWidgetOpenRequest) error {
	_, err := a.transport.Send(ctx, schema.ActionOpenModalWidget, request)
	return err
}

// CloseModalWidget asks the client to close this modal widget, handing
// back data for the opener.
func (a *API) CloseModalWidget(ctx context.Context, data schema.ModalWidgetReturnData) error {
	_, err := a.transport.Send(ctx, schema.ActionCloseModalWidget, data)
	return err
}

// SetModalButtonEnabled toggles one of this modal widget's buttons. The
// built-in close button cannot be disabled.
func (a *API) SetModalButtonEnabled(ctx context.Context, buttonID string, enabled bool) error {
	if buttonID == schema.ModalButtonIDClose {
		return errors.New("the close button cannot be disabled")
	}
	_, err := a.transport.Send(ctx, schema.ActionSetModalButtonEnabled, &schema.SetModalButtonEnabledRequest{
		Button:  buttonID,
		Enabled: enabled,
	})
	return err
}

// WatchTurnServers subscribes to the client's TURN credential stream. The
// newest credential set is always retained for a lagging consumer.
// Cancelling ctx unsubscribes and closes the returned channel.
func (a *API) WatchTurnServers(ctx context.Context) (<-chan schema.TurnServer, error) {
	a.turnMu.Lock()
	if a.turnCh != nil {
		ch := a.turnCh
		a.turnMu.Unlock()
		return ch, nil
	}
	ch := make(chan schema.TurnServer, 1)
	a.turnCh = ch
	a.turnMu.Unlock()

	if _, err := a.transport.Send(ctx, schema.ActionWatchTurnServers, nil); err != nil {
		a.turnMu.Lock()
		a.turnCh = nil
		a.turnMu.Unlock()
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			if err := a.UnwatchTurnServers(context.WithoutCancel(ctx)); err != nil {
				a.logger.Warn("non-fatal error unsubscribing from TURN servers", "error", err)
			}
		case <-a.ctx.Done():
		}
	}()
	return ch, nil
}

// UnwatchTurnServers unsubscribes from the TURN credential stream and
// closes the channel returned by WatchTurnServers.
func (a *API) UnwatchTurnServers(ctx context.Context) error {
	a.turnMu.Lock()
	ch := a.turnCh
	a.turnCh = nil
	if ch != nil {
		close(ch)
	}
	a.turnMu.Unlock()
	if ch == nil {
		return nil
	}
	_, err := a.transport.Send(ctx, schema.ActionUnwatchTurnServers, nil)
	return err
}

func marshalContent(content any) (json.RawMessage, error) {
	switch v := content.(type) {
	case nil:
		return schema.EmptyData, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(content)
	}
}

func encodeRoomIDs(roomIDs []string) json.RawMessage {
	if len(roomIDs) == 0 {
		return nil
	}
	if slices.Contains(roomIDs, capability.AnyRoom) {
		return json.RawMessage(`"` + capability.AnyRoom + `"`)
	}
	raw, _ := json.Marshal(roomIDs)
	return raw
}
