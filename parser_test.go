package widgetapi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrix-org/go-widget-api/schema"
)

func widgetStateEvent(t *testing.T, stateKey string, content any) schema.RoomEvent {
	t.Helper()
	raw, err := json.Marshal(content)
	require.NoError(t, err)
	return schema.RoomEvent{
		Type:     WidgetStateEventType,
		Sender:   "@sender:example.org",
		StateKey: &stateKey,
		Content:  raw,
	}
}

func TestParseWidgetFromStateEvent(t *testing.T) {
	event := widgetStateEvent(t, "widget-1", map[string]any{
		"type": "m.custom",
		"url":  "https://widget.example.org/",
		"name": "My Widget",
	})
	widget, err := ParseWidgetFromStateEvent(event)
	require.NoError(t, err)
	assert.Equal(t, "widget-1", widget.ID(), "state key stands in for the missing id")
	assert.Equal(t, "@sender:example.org", widget.CreatorUserID(), "sender stands in for the missing creator")
	assert.Equal(t, "My Widget", widget.Name())
}

func TestParseWidgetFromStateEventExplicitFields(t *testing.T) {
	event := widgetStateEvent(t, "state-key", map[string]any{
		"id":            "explicit-id",
		"creatorUserId": "@creator:example.org",
		"type":          "m.jitsi",
		"url":           "https://meet.example.org/",
	})
	widget, err := ParseWidgetFromStateEvent(event)
	require.NoError(t, err)
	assert.Equal(t, "explicit-id", widget.ID())
	assert.Equal(t, "@creator:example.org", widget.CreatorUserID())
	assert.Equal(t, WidgetTypeJitsi, widget.Type())
}

func TestParseWidgetFromStateEventRejects(t *testing.T) {
	// Wrong event type.
	event := widgetStateEvent(t, "w", map[string]any{"type": "m.custom", "url": "https://x.example.org/"})
	event.Type = "m.room.topic"
	_, err := ParseWidgetFromStateEvent(event)
	assert.ErrorIs(t, err, ErrNotWidgetEvent)

	// Deleted widget: empty content means no URL.
	_, err = ParseWidgetFromStateEvent(widgetStateEvent(t, "w", map[string]any{}))
	assert.Error(t, err)

	// Non-HTTP(S) scheme.
	_, err = ParseWidgetFromStateEvent(widgetStateEvent(t, "w", map[string]any{
		"type": "m.custom",
		"url":  "javascript:alert(1)",
	}))
	assert.Error(t, err)
}

func TestParseWidgetsFromRoomState(t *testing.T) {
	events := []schema.RoomEvent{
		widgetStateEvent(t, "good", map[string]any{"type": "m.custom", "url": "https://a.example.org/"}),
		widgetStateEvent(t, "deleted", map[string]any{}),
		widgetStateEvent(t, "also-good", map[string]any{"type": "m.stickerpicker", "url": "https://b.example.org/"}),
	}
	widgets := ParseWidgetsFromRoomState(events)
	require.Len(t, widgets, 2)
	assert.Equal(t, "good", widgets[0].ID())
	assert.Equal(t, "also-good", widgets[1].ID())
}

func TestParseWidgetsFromAccountData(t *testing.T) {
	content := json.RawMessage(`{
		"sticker-widget": {
			"sender": "@user:example.org",
			"content": {
				"type": "m.stickerpicker",
				"url": "https://stickers.example.org/"
			}
		},
		"broken": {
			"content": {"type": "m.custom"}
		}
	}`)
	widgets := ParseWidgetsFromAccountData(content)
	require.Len(t, widgets, 1)
	assert.Equal(t, "sticker-widget", widgets[0].ID())
	assert.Equal(t, "@user:example.org", widgets[0].CreatorUserID())
	assert.Equal(t, WidgetTypeStickerpicker, widgets[0].Type())
}
