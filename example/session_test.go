// Package example demonstrates wiring both ends of a widget session in
// one process over an in-memory channel pair: the hosting side with its
// driver, and the widget side with its capability requests.
package example

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	widgetapi "github.com/matrix-org/go-widget-api"
	"github.com/matrix-org/go-widget-api/capability"
	"github.com/matrix-org/go-widget-api/host"
	"github.com/matrix-org/go-widget-api/schema"
	"github.com/matrix-org/go-widget-api/transport"
	"github.com/matrix-org/go-widget-api/widget"
)

// approvingDriver approves everything the user would reasonably allow and
// records what was sent.
type approvingDriver struct {
	sent chan schema.RoomEvent
}

var _ host.Driver = (*approvingDriver)(nil)

func (d *approvingDriver) ValidateCapabilities(_ context.Context, requested []capability.Capability) ([]capability.Capability, error) {
	var approved []capability.Capability
	for _, c := range requested {
		if c == capability.Screenshots {
			continue
		}
		approved = append(approved, c)
	}
	return approved, nil
}

func (d *approvingDriver) SendEvent(_ context.Context, eventType string, content json.RawMessage, stateKey *string, roomID string) (*host.SendEventDetails, error) {
	if roomID == "" {
		roomID = "!viewed:example.org"
	}
	d.sent <- schema.RoomEvent{Type: eventType, RoomID: roomID, StateKey: stateKey, Content: content}
	return &host.SendEventDetails{RoomID: roomID, EventID: "$example"}, nil
}

func (d *approvingDriver) SendToDevice(context.Context, string, bool, schema.ToDeviceMessages) error {
	return nil
}

func (d *approvingDriver) ReadRoomEvents(context.Context, string, *string, int, []string) ([]schema.RoomEvent, error) {
	return nil, nil
}

func (d *approvingDriver) ReadStateEvents(context.Context, string, *string, int, []string) ([]schema.RoomEvent, error) {
	return nil, nil
}

func (d *approvingDriver) AskOpenID(_ context.Context, update func(host.OpenIDUpdate)) {
	update(host.OpenIDUpdate{
		State:       schema.OpenIDStateAllowed,
		Credentials: &schema.OpenIDCredentials{AccessToken: "demo-token", MatrixServerName: "example.org"},
	})
}

func (d *approvingDriver) Navigate(context.Context, string) error { return nil }

func (d *approvingDriver) TurnServers(ctx context.Context) (<-chan schema.TurnServer, error) {
	out := make(chan schema.TurnServer, 1)
	out <- schema.TurnServer{URIs: []string{"turn:turn.example.org"}, Username: "demo", Password: "demo"}
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

func TestFullSession(t *testing.T) {
	hostEnd, widgetEnd := transport.MemoryPair()
	defer hostEnd.Close()
	defer widgetEnd.Close()

	// Widget side: request capabilities, then start.
	ready := make(chan struct{})
	api, err := widget.New(widgetEnd,
		widget.WithWidgetID("demo"),
		widget.WithReadyFunc(func() { close(ready) }),
	)
	require.NoError(t, err)
	defer api.Stop()
	require.NoError(t, api.RequestCapabilityToSendMessage(nil))
	require.NoError(t, api.RequestCapability(capability.Screenshots))
	api.Start()

	// Hosting side: wrap the definition and hand the session a driver.
	def := widgetapi.Definition{
		ID:            "demo",
		CreatorUserID: "@demo:example.org",
		Type:          widgetapi.WidgetTypeCustom,
		URL:           "https://demo.example.org/",
	}
	w, err := widgetapi.NewWidget(def)
	require.NoError(t, err)
	driver := &approvingDriver{sent: make(chan schema.RoomEvent, 1)}
	h, err := host.New(w, hostEnd, driver)
	require.NoError(t, err)
	defer h.Stop()

	// The frame "loads"; negotiation runs to completion.
	h.NotifyFrameLoad()
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("negotiation never completed")
	}
	assert.True(t, api.HasCapability("org.matrix.msc2762.send.event:m.room.message"))
	assert.False(t, api.HasCapability(capability.Screenshots))

	// The widget posts a message through the client.
	sent, err := api.SendRoomEvent(context.Background(), "m.room.message",
		map[string]string{"msgtype": "m.text", "body": "hello from the widget"}, "")
	require.NoError(t, err)
	assert.Equal(t, "$example", sent.EventID)
	delivered := <-driver.sent
	assert.JSONEq(t, `{"msgtype":"m.text","body":"hello from the widget"}`, string(delivered.Content))

	// And proves the user's identity.
	creds, err := api.RequestOpenIDToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "demo-token", creds.AccessToken)
}
