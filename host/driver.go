// Package host drives one widget session from the hosting application's
// side: capability negotiation and renegotiation, routing of inbound widget
// requests, permission checks, and outbound notifications. Actual room and
// account operations are delegated to a Driver supplied by the embedding
// application.
package host

import (
	"context"
	"encoding/json"

	"github.com/matrix-org/go-widget-api/capability"
	"github.com/matrix-org/go-widget-api/schema"
)

// SendEventDetails identifies an event the driver sent.
type SendEventDetails struct {
	RoomID  string
	EventID string
}

// OpenIDUpdate is one step of an OpenID credential decision. Credentials
// are only meaningful when State is allowed.
type OpenIDUpdate struct {
	State       schema.OpenIDRequestState
	Credentials *schema.OpenIDCredentials
}

// Driver abstracts the hosting application for a widget session. Every
// method is invoked on behalf of exactly one widget; the driver decides
// what that widget may see and do beyond the capability checks this
// package already performs.
type Driver interface {
	// ValidateCapabilities filters a widget's requested capabilities down
	// to the set the application (or its user) approves.
	ValidateCapabilities(ctx context.Context, requested []capability.Capability) ([]capability.Capability, error)

	// SendEvent sends a room event, or a state event when stateKey is
	// non-nil. An empty roomID means the user's currently viewed room.
	SendEvent(ctx context.Context, eventType string, content json.RawMessage, stateKey *string, roomID string) (*SendEventDetails, error)

	// SendToDevice sends a to-device event to the addressed devices.
	SendToDevice(ctx context.Context, eventType string, encrypted bool, messages schema.ToDeviceMessages) error

	// ReadRoomEvents returns recent room events of the given type, newest
	// first. A nil roomIDs means the currently viewed room only.
	ReadRoomEvents(ctx context.Context, eventType string, msgtype *string, limit int, roomIDs []string) ([]schema.RoomEvent, error)

	// ReadStateEvents returns current state events of the given type. A
	// nil stateKey means all state keys.
	ReadStateEvents(ctx context.Context, eventType string, stateKey *string, limit int, roomIDs []string) ([]schema.RoomEvent, error)

	// AskOpenID asks for OpenID credentials on the widget's behalf. The
	// driver reports the decision through update: either a terminal
	// allowed/blocked outcome, or a pending-confirmation state followed by
	// exactly one terminal outcome once the user decides.
	AskOpenID(ctx context.Context, update func(OpenIDUpdate))

	// Navigate opens the given matrix.to permalink in the application.
	Navigate(ctx context.Context, uri string) error

	// TurnServers streams TURN credential updates. The returned channel is
	// closed when the driver has nothing (more) to give or when ctx is
	// cancelled; cancellation is the consumer's stop signal and must
	// release any upstream subscription.
	TurnServers(ctx context.Context) (<-chan schema.TurnServer, error)
}
