package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrix-org/go-widget-api/capability"
	"github.com/matrix-org/go-widget-api/host"
	"github.com/matrix-org/go-widget-api/schema"
	"github.com/matrix-org/go-widget-api/transport"
	"github.com/matrix-org/go-widget-api/widget"
)

const configYAML = `
addr: 127.0.0.1:0
widgets:
  - id: clock
    creatorUserId: "@admin:example.org"
    type: m.custom
    url: https://clock.example.org/?room=$matrix_room_id
driver:
  allowedCapabilities:
    - m.always_on_screen
    - "org.matrix.msc2762.send.event:m.room.message#m.text"
  roomId: "!dev:example.org"
  userId: "@dev:example.org"
  turnServers:
    - uris: ["turn:turn.example.org:3478"]
      username: dev
      password: secret
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, configYAML))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", config.Addr)
	require.Len(t, config.Widgets, 1)
	assert.Equal(t, "clock", config.Widgets[0].ID)
	assert.Equal(t, "!dev:example.org", config.Driver.RoomID)
	require.Len(t, config.Driver.TurnServers, 1)
	assert.Equal(t, "dev", config.Driver.TurnServers[0].Username)

	definition, ok := config.Widget("clock")
	require.True(t, ok)
	assert.Equal(t, "https://clock.example.org/?room=$matrix_room_id", definition.URL)
	_, ok = config.Widget("missing")
	assert.False(t, ok)
}

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, "widgets: []\n"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8448", config.Addr)
	assert.Equal(t, "!bridge:localhost", config.Driver.RoomID)
}

func TestConfigValidation(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
widgets:
  - id: broken
    type: m.custom
    url: https://x.example.org/
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")

	_, err = LoadConfig(writeConfig(t, `
widgets:
  - id: dup
    creatorUserId: "@a:example.org"
    type: m.custom
    url: https://x.example.org/
  - id: dup
    creatorUserId: "@a:example.org"
    type: m.custom
    url: https://y.example.org/
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate widget ID")
}

func TestStaticDriverCapabilities(t *testing.T) {
	driver := NewStaticDriver(&DriverConfig{
		AllowedCapabilities: []capability.Capability{capability.AlwaysOnScreen},
	}, nil)
	approved, err := driver.ValidateCapabilities(context.Background(), []capability.Capability{
		capability.AlwaysOnScreen,
		capability.Screenshots,
	})
	require.NoError(t, err)
	assert.Equal(t, []capability.Capability{capability.AlwaysOnScreen}, approved)
}

func TestStaticDriverEventStore(t *testing.T) {
	driver := NewStaticDriver(&DriverConfig{RoomID: "!dev:example.org", UserID: "@dev:example.org"}, nil)

	sent, err := driver.SendEvent(context.Background(), "m.room.message",
		[]byte(`{"msgtype":"m.text","body":"hi"}`), nil, "")
	require.NoError(t, err)
	assert.Equal(t, "!dev:example.org", sent.RoomID)
	assert.True(t, strings.HasPrefix(sent.EventID, "$"))

	key := ""
	_, err = driver.SendEvent(context.Background(), "m.room.topic", []byte(`{"topic":"x"}`), &key, "")
	require.NoError(t, err)

	msgtype := "m.text"
	events, err := driver.ReadRoomEvents(context.Background(), "m.room.message", &msgtype, 0, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, sent.EventID, events[0].EventID)
	assert.Equal(t, "@dev:example.org", events[0].Sender)

	state, err := driver.ReadStateEvents(context.Background(), "m.room.topic", nil, 0, nil)
	require.NoError(t, err)
	require.Len(t, state, 1)

	// Unknown rooms yield nothing, the wildcard yields everything.
	events, err = driver.ReadRoomEvents(context.Background(), "m.room.message", nil, 0, []string{"!other:example.org"})
	require.NoError(t, err)
	assert.Empty(t, events)
	events, err = driver.ReadRoomEvents(context.Background(), "m.room.message", nil, 0, []string{capability.AnyRoom})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestStaticDriverOpenID(t *testing.T) {
	blocked := NewStaticDriver(&DriverConfig{}, nil)
	got := make(chan schema.OpenIDRequestState, 1)
	blocked.AskOpenID(context.Background(), func(update host.OpenIDUpdate) { got <- update.State })
	assert.Equal(t, schema.OpenIDStateBlocked, <-got)

	allowed := NewStaticDriver(&DriverConfig{
		OpenID: &schema.OpenIDCredentials{AccessToken: "token", MatrixServerName: "example.org"},
	}, nil)
	allowed.AskOpenID(context.Background(), func(update host.OpenIDUpdate) {
		assert.Equal(t, schema.OpenIDStateAllowed, update.State)
		require.NotNil(t, update.Credentials)
		assert.Equal(t, "token", update.Credentials.AccessToken)
		got <- update.State
	})
	assert.Equal(t, schema.OpenIDStateAllowed, <-got)
}

// TestWebSocketSession walks a widget through a live bridge: websocket
// upgrade, capability negotiation with the static driver and an event
// send.
func TestWebSocketSession(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, configYAML))
	require.NoError(t, err)
	service, err := New(config)
	require.NoError(t, err)
	defer service.Shutdown()

	server := httptest.NewServer(service.HTTP(context.Background(), "").Handler)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/widgets/clock/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	ready := make(chan struct{})
	api, err := widget.New(transport.NewWebSocketChannel(conn, ""),
		widget.WithWidgetID("clock"),
		widget.WithReadyFunc(func() { close(ready) }),
	)
	require.NoError(t, err)
	defer api.Stop()
	require.NoError(t, api.RequestCapability(capability.AlwaysOnScreen))
	require.NoError(t, api.RequestCapabilityToSendMessage(strPtr("m.text")))
	require.NoError(t, api.RequestCapability(capability.Screenshots))
	api.Start()

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("negotiation never completed")
	}
	assert.True(t, api.HasCapability(capability.AlwaysOnScreen))
	assert.False(t, api.HasCapability(capability.Screenshots), "disallowed capability must not be approved")

	sent, err := api.SendRoomEvent(context.Background(), "m.room.message",
		map[string]string{"msgtype": "m.text", "body": "hello"}, "")
	require.NoError(t, err)
	assert.Equal(t, "!dev:example.org", sent.RoomID)
	assert.NotEmpty(t, sent.EventID)

	assert.Equal(t, 1, service.SessionCount())
}

func TestUnknownWidgetRejected(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, configYAML))
	require.NoError(t, err)
	service, err := New(config)
	require.NoError(t, err)

	server := httptest.NewServer(service.HTTP(context.Background(), "").Handler)
	defer server.Close()

	response, err := http.Get(server.URL + "/widgets/nope/ws")
	require.NoError(t, err)
	defer response.Body.Close()
	assert.Equal(t, http.StatusNotFound, response.StatusCode)
}

func strPtr(s string) *string { return &s }
