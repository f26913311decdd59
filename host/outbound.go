package host

import (
	"context"

	"github.com/matrix-org/go-widget-api/schema"
)

// TakeScreenshot asks the widget for a screenshot and returns the opaque
// data URI it produced.
func (h *Host) TakeScreenshot(ctx context.Context) (string, error) {
	response, err := h.transport.Send(ctx, schema.ActionTakeScreenshot, nil)
	if err != nil {
		return "", err
	}
	var data schema.ScreenshotResponse
	if err := unmarshal(response, &data); err != nil {
		return "", err
	}
	return data.Screenshot, nil
}

// UpdateVisibility tells the widget whether it is currently visible.
func (h *Host) UpdateVisibility(ctx context.Context, visible bool) error {
	_, err := h.transport.Send(ctx, schema.ActionUpdateVisibility, &schema.VisibilityRequest{Visible: visible})
	return err
}

// SendWidgetConfig delivers the opening configuration to a modal widget.
// Modal widgets wait for this before sending content_loaded.
func (h *Host) SendWidgetConfig(ctx context.Context, config *schema.ModalWidgetOpenRequest) error {
	_, err := h.transport.Send(ctx, schema.ActionWidgetConfig, config)
	return err
}

// NotifyModalWidgetButtonClicked tells a modal widget one of its buttons
// was pressed.
func (h *Host) NotifyModalWidgetButtonClicked(ctx context.Context, buttonID string) error {
	_, err := h.transport.Send(ctx, schema.ActionButtonClicked, &schema.ButtonClickedRequest{ID: buttonID})
	return err
}

// NotifyModalWidgetClose tells a modal widget it is being closed, handing
// it the return data to pass along.
func (h *Host) NotifyModalWidgetClose(ctx context.Context, data schema.ModalWidgetReturnData) error {
	_, err := h.transport.Send(ctx, schema.ActionCloseModalWidget, data)
	return err
}

// FeedEvent forwards a room or state event to the widget if its grants
// allow it to see it. Events the widget may not see are dropped without
// error; currentViewedRoomID names the room the user is looking at, which
// is always visible regardless of timeline grants.
func (h *Host) FeedEvent(ctx context.Context, event *schema.RoomEvent, currentViewedRoomID string) error {
	if event.RoomID != currentViewedRoomID && !h.CanUseRoomTimeline(event.RoomID) {
		return nil
	}
	if event.StateKey != nil {
		if !h.CanReceiveStateEvent(event.Type, event.StateKey) {
			return nil
		}
	} else {
		if !h.CanReceiveRoomEvent(event.Type, msgtypeOf(event.Content)) {
			return nil
		}
	}
	_, err := h.transport.Send(ctx, schema.ActionSendEvent, event)
	return err
}

// FeedToDevice forwards a to-device event to the widget if its grants
// allow it; otherwise the event is dropped without error.
func (h *Host) FeedToDevice(ctx context.Context, event *schema.RoomEvent, encrypted bool) error {
	if !h.CanReceiveToDeviceEvent(event.Type) {
		return nil
	}
	fed := *event
	fed.Encrypted = &encrypted
	_, err := h.transport.Send(ctx, schema.ActionSendToDevice, &fed)
	return err
}
