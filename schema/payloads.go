package schema

import (
	"encoding/json"

	"github.com/matrix-org/go-widget-api/capability"
)

// CapabilitiesResponse is a widget's answer to the host's capabilities
// request: the full list it wishes to be granted.
type CapabilitiesResponse struct {
	Capabilities []capability.Capability `json:"capabilities"`
}

// RenegotiateCapabilitiesRequest asks the host for additional capabilities
// after the initial negotiation has completed.
type RenegotiateCapabilitiesRequest struct {
	Capabilities []capability.Capability `json:"capabilities"`
}

// NotifyCapabilitiesRequest tells the widget which of its requested
// capabilities were approved.
type NotifyCapabilitiesRequest struct {
	Requested []capability.Capability `json:"requested"`
	Approved  []capability.Capability `json:"approved"`
}

// VisibilityRequest tells the widget whether it is currently visible.
type VisibilityRequest struct {
	Visible bool `json:"visible"`
}

// ScreenshotResponse carries a widget's screenshot back to the host. The
// image is an opaque data URI; this layer does not interpret it.
type ScreenshotResponse struct {
	Screenshot string `json:"screenshot"`
}

// StickyRequest asks the host to keep the widget always on screen.
type StickyRequest struct {
	Value bool `json:"value"`
}

// StickyResponse reports whether the host honoured a StickyRequest.
type StickyResponse struct {
	Success bool `json:"success"`
}

// NavigateRequest asks the host to navigate to a matrix.to permalink.
type NavigateRequest struct {
	URI string `json:"uri"`
}

// RoomEvent is a Matrix room, state or to-device event as carried over the
// widget API. Content is kept raw; this layer never interprets event bodies
// beyond the msgtype of m.room.message.
type RoomEvent struct {
	Type           string          `json:"type"`
	Sender         string          `json:"sender,omitempty"`
	EventID        string          `json:"event_id,omitempty"`
	RoomID         string          `json:"room_id,omitempty"`
	StateKey       *string         `json:"state_key,omitempty"`
	OriginServerTS int64           `json:"origin_server_ts,omitempty"`
	Content        json.RawMessage `json:"content,omitempty"`
	Unsigned       json.RawMessage `json:"unsigned,omitempty"`
	Encrypted      *bool           `json:"encrypted,omitempty"`
}

// SendEventRequest asks the host to send a room or state event on the
// widget's behalf. A present state_key (even empty) makes it a state event.
type SendEventRequest struct {
	Type     string          `json:"type"`
	StateKey *string         `json:"state_key,omitempty"`
	Content  json.RawMessage `json:"content,omitempty"`
	RoomID   string          `json:"room_id,omitempty"`
}

// SendEventResponse identifies the event the host sent.
type SendEventResponse struct {
	RoomID  string `json:"room_id"`
	EventID string `json:"event_id"`
}

// ToDeviceMessages maps user ID to device ID to message content. The "*"
// device ID addresses all of a user's devices.
type ToDeviceMessages map[string]map[string]json.RawMessage

// SendToDeviceRequest asks the host to send a to-device event.
type SendToDeviceRequest struct {
	Type      string           `json:"type"`
	Encrypted *bool            `json:"encrypted,omitempty"`
	Messages  ToDeviceMessages `json:"messages,omitempty"`
}

// ReadEventsRequest asks the host for recent room or state events.
// StateKey is absent for room events, the literal JSON true for "any state
// key", or a concrete key. RoomIDs is absent for the current room, the
// AnyRoom sentinel string, or an explicit list.
type ReadEventsRequest struct {
	Type     string          `json:"type"`
	StateKey json.RawMessage `json:"state_key,omitempty"`
	Msgtype  *string         `json:"msgtype,omitempty"`
	Limit    *int            `json:"limit,omitempty"`
	RoomIDs  json.RawMessage `json:"room_ids,omitempty"`
}

// ReadEventsResponse carries the events read on the widget's behalf.
type ReadEventsResponse struct {
	Events []RoomEvent `json:"events"`
}

// OpenIDRequestState is the state of an OpenID credential request.
type OpenIDRequestState string

const (
	OpenIDStateAllowed             OpenIDRequestState = "allowed"
	OpenIDStateBlocked             OpenIDRequestState = "blocked"
	OpenIDStatePendingConfirmation OpenIDRequestState = "request"
)

// OpenIDCredentials is an OpenID Connect token minted by the user's
// homeserver. The token is opaque to this layer; widgets validate it
// against the named server via the federation API.
type OpenIDCredentials struct {
	AccessToken      string `json:"access_token,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	MatrixServerName string `json:"matrix_server_name,omitempty"`
	ExpiresIn        int    `json:"expires_in,omitempty"`
}

// GetOpenIDResponse answers a get_openid request directly.
type GetOpenIDResponse struct {
	State OpenIDRequestState `json:"state"`
	OpenIDCredentials
}

// OpenIDCredentialsPush is the unsolicited openid_credentials message
// delivering the outcome of a request that was pending user confirmation.
// OriginalRequestID correlates it, since the original request/response pair
// is already closed.
type OpenIDCredentialsPush struct {
	State             OpenIDRequestState `json:"state"`
	OriginalRequestID string             `json:"original_request_id"`
	OpenIDCredentials
}

// TurnServer is one set of TURN relay credentials streamed to a widget.
type TurnServer struct {
	URIs     []string `json:"uris"`
	Username string   `json:"username"`
	Password string   `json:"password"`
}

// ModalButtonKind is the visual kind of a modal widget button.
type ModalButtonKind string

const (
	ModalButtonKindPrimary   ModalButtonKind = "m.primary"
	ModalButtonKindSecondary ModalButtonKind = "m.secondary"
	ModalButtonKindWarning   ModalButtonKind = "m.warning"
	ModalButtonKindDanger    ModalButtonKind = "m.danger"
	ModalButtonKindLink      ModalButtonKind = "m.link"
)

// ModalButtonIDClose is the built-in close button present on every modal
// widget. It cannot be disabled.
const ModalButtonIDClose = "m.close"

// ModalButton describes one button on a modal widget.
type ModalButton struct {
	ID       string          `json:"id"`
	Label    string          `json:"label"`
	Kind     ModalButtonKind `json:"kind"`
	Disabled bool            `json:"disabled,omitempty"`
}

// ModalWidgetOpenRequest asks the host to open a modal widget, and doubles
// as the widget_config payload the host sends to the opened modal.
type ModalWidgetOpenRequest struct {
	Type    string         `json:"type"`
	URL     string         `json:"url"`
	Name    string         `json:"name,omitempty"`
	Buttons []ModalButton  `json:"buttons,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// ModalWidgetReturnData is the opaque payload a closing modal hands back.
type ModalWidgetReturnData map[string]any

// ButtonClickedRequest tells a modal widget one of its buttons was pressed.
type ButtonClickedRequest struct {
	ID string `json:"id"`
}

// SetModalButtonEnabledRequest toggles a modal button's enabled state.
type SetModalButtonEnabledRequest struct {
	Button  string `json:"button"`
	Enabled bool   `json:"enabled"`
}
