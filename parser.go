package widgetapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/matrix-org/go-widget-api/schema"
)

// WidgetStateEventType is the room state event type carrying widget
// definitions, with its historical alias.
const (
	WidgetStateEventType       = "im.vector.modular.widgets"
	WidgetAccountDataEventType = "m.widgets"
)

// ErrNotWidgetEvent is returned when a state event does not describe a
// widget.
var ErrNotWidgetEvent = errors.New("not a widget state event")

// ParseWidgetFromStateEvent builds a Widget from a room state event. The
// state key doubles as the widget ID; the sender is the creator unless the
// content names one. Events with a deleted or non-HTTP(S) URL are rejected.
func ParseWidgetFromStateEvent(event schema.RoomEvent) (*Widget, error) {
	if event.Type != WidgetStateEventType {
		return nil, ErrNotWidgetEvent
	}
	if event.StateKey == nil {
		return nil, ErrNotWidgetEvent
	}

	var def Definition
	if err := json.Unmarshal(event.Content, &def); err != nil {
		return nil, fmt.Errorf("decode widget content: %w", err)
	}
	if def.ID == "" {
		def.ID = *event.StateKey
	}
	if def.CreatorUserID == "" {
		def.CreatorUserID = event.Sender
	}
	if !isHTTPURL(def.URL) {
		return nil, fmt.Errorf("widget %q has an invalid url", def.ID)
	}
	return NewWidget(def)
}

// ParseWidgetsFromRoomState extracts every valid widget definition from a
// set of room state events. Invalid definitions are skipped silently, the
// same way unparseable capabilities are dropped from a capability request.
func ParseWidgetsFromRoomState(events []schema.RoomEvent) []*Widget {
	var widgets []*Widget
	for _, event := range events {
		widget, err := ParseWidgetFromStateEvent(event)
		if err != nil {
			continue
		}
		widgets = append(widgets, widget)
	}
	return widgets
}

// ParseWidgetsFromAccountData extracts user widgets from m.widgets account
// data content: a map of widget ID to a wrapper holding the definition
// under "content". Invalid entries are skipped.
func ParseWidgetsFromAccountData(content json.RawMessage) []*Widget {
	var entries map[string]struct {
		Content Definition `json:"content"`
		Sender  string     `json:"sender"`
	}
	if err := json.Unmarshal(content, &entries); err != nil {
		return nil
	}
	var widgets []*Widget
	for id, entry := range entries {
		def := entry.Content
		if def.ID == "" {
			def.ID = id
		}
		if def.CreatorUserID == "" {
			def.CreatorUserID = entry.Sender
		}
		if !isHTTPURL(def.URL) {
			continue
		}
		widget, err := NewWidget(def)
		if err != nil {
			continue
		}
		widgets = append(widgets, widget)
	}
	return widgets
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
