package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matrix-org/go-widget-api/capability"
	"github.com/matrix-org/go-widget-api/host"
	"github.com/matrix-org/go-widget-api/schema"
)

// StaticDriver is a self-contained host.Driver for development and
// integration testing: capability approvals, OpenID credentials and TURN
// servers come from configuration, and events land in an in-memory store
// instead of a homeserver.
type StaticDriver struct {
	config *DriverConfig
	logger *slog.Logger

	mu     sync.Mutex
	events []schema.RoomEvent
}

var _ host.Driver = (*StaticDriver)(nil)

// NewStaticDriver creates a driver from the given configuration.
func NewStaticDriver(config *DriverConfig, logger *slog.Logger) *StaticDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &StaticDriver{config: config, logger: logger}
}

// ValidateCapabilities approves the intersection of the requested set and
// the configured allowlist.
func (d *StaticDriver) ValidateCapabilities(_ context.Context, requested []capability.Capability) ([]capability.Capability, error) {
	allowed := make(map[capability.Capability]bool, len(d.config.AllowedCapabilities))
	for _, c := range d.config.AllowedCapabilities {
		allowed[c] = true
	}
	var approved []capability.Capability
	for _, c := range requested {
		if allowed[c] {
			approved = append(approved, c)
		}
	}
	return approved, nil
}

// SendEvent stores the event in memory and mints identifiers for it.
func (d *StaticDriver) SendEvent(_ context.Context, eventType string, content json.RawMessage, stateKey *string, roomID string) (*host.SendEventDetails, error) {
	if roomID == "" {
		roomID = d.config.RoomID
	}
	event := schema.RoomEvent{
		Type:           eventType,
		Sender:         d.config.UserID,
		EventID:        "$" + uuid.NewString(),
		RoomID:         roomID,
		StateKey:       stateKey,
		OriginServerTS: time.Now().UnixMilli(),
		Content:        content,
	}
	d.mu.Lock()
	d.events = append(d.events, event)
	d.mu.Unlock()
	d.logger.Info("stored widget event", "type", eventType, "room", roomID, "event", event.EventID)
	return &host.SendEventDetails{RoomID: roomID, EventID: event.EventID}, nil
}

// SendToDevice logs the messages; the bridge has no devices to deliver to.
func (d *StaticDriver) SendToDevice(_ context.Context, eventType string, encrypted bool, messages schema.ToDeviceMessages) error {
	d.logger.Info("discarding to-device event", "type", eventType, "encrypted", encrypted, "users", len(messages))
	return nil
}

// ReadRoomEvents returns stored room events of the given type, newest
// first.
func (d *StaticDriver) ReadRoomEvents(_ context.Context, eventType string, msgtype *string, limit int, roomIDs []string) ([]schema.RoomEvent, error) {
	return d.read(eventType, limit, roomIDs, func(event *schema.RoomEvent) bool {
		if event.StateKey != nil {
			return false
		}
		if msgtype == nil {
			return true
		}
		var probe struct {
			Msgtype string `json:"msgtype"`
		}
		if err := json.Unmarshal(event.Content, &probe); err != nil {
			return false
		}
		return probe.Msgtype == *msgtype
	}), nil
}

// ReadStateEvents returns stored state events of the given type.
func (d *StaticDriver) ReadStateEvents(_ context.Context, eventType string, stateKey *string, limit int, roomIDs []string) ([]schema.RoomEvent, error) {
	return d.read(eventType, limit, roomIDs, func(event *schema.RoomEvent) bool {
		if event.StateKey == nil {
			return false
		}
		return stateKey == nil || *event.StateKey == *stateKey
	}), nil
}

func (d *StaticDriver) read(eventType string, limit int, roomIDs []string, match func(*schema.RoomEvent) bool) []schema.RoomEvent {
	rooms := make(map[string]bool, len(roomIDs))
	for _, roomID := range roomIDs {
		rooms[roomID] = true
	}
	if len(rooms) == 0 {
		rooms[d.config.RoomID] = true
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	var out []schema.RoomEvent
	for i := len(d.events) - 1; i >= 0; i-- {
		event := &d.events[i]
		if event.Type != eventType {
			continue
		}
		if !rooms[capability.AnyRoom] && !rooms[event.RoomID] {
			continue
		}
		if !match(event) {
			continue
		}
		out = append(out, *event)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// AskOpenID hands out the configured credentials, or blocks the request
// when none are configured. There is no user to confirm anything.
func (d *StaticDriver) AskOpenID(_ context.Context, update func(host.OpenIDUpdate)) {
	if d.config.OpenID == nil {
		update(host.OpenIDUpdate{State: schema.OpenIDStateBlocked})
		return
	}
	update(host.OpenIDUpdate{State: schema.OpenIDStateAllowed, Credentials: d.config.OpenID})
}

// Navigate logs the permalink; the bridge has no UI to navigate.
func (d *StaticDriver) Navigate(_ context.Context, uri string) error {
	d.logger.Info("widget navigation", "uri", uri)
	return nil
}

// TurnServers streams the configured credential sets once, then holds the
// subscription open until cancelled. With none configured the stream ends
// immediately, which reads as a denial.
func (d *StaticDriver) TurnServers(ctx context.Context) (<-chan schema.TurnServer, error) {
	out := make(chan schema.TurnServer, len(d.config.TurnServers))
	if len(d.config.TurnServers) == 0 {
		close(out)
		return out, nil
	}
	for _, server := range d.config.TurnServers {
		out <- server
	}
	go func() {
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}
