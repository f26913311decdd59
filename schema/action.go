package schema

// Action identifies a widget API operation carried in a request envelope.
type Action string

// Actions sent by the hosting application to the widget.
const (
	ActionSupportedAPIVersions Action = "supported_api_versions"
	ActionCapabilities         Action = "capabilities"
	ActionNotifyCapabilities   Action = "notify_capabilities"
	ActionTakeScreenshot       Action = "screenshot"
	ActionUpdateVisibility     Action = "visibility"
	ActionOpenIDCredentials    Action = "openid_credentials"
	ActionWidgetConfig         Action = "widget_config"
	ActionButtonClicked        Action = "button_clicked"
	ActionUpdateTurnServers    Action = "update_turn_servers"
)

// Actions sent by the widget to the hosting application.
const (
	ActionContentLoaded           Action = "content_loaded"
	ActionSendSticker             Action = "m.sticker"
	ActionUpdateAlwaysOnScreen    Action = "set_always_on_screen"
	ActionGetOpenIDCredentials    Action = "get_openid"
	ActionOpenModalWidget         Action = "open_modal"
	ActionSetModalButtonEnabled   Action = "set_button_enabled"
	ActionWatchTurnServers        Action = "watch_turn_servers"
	ActionUnwatchTurnServers      Action = "unwatch_turn_servers"
	ActionReadEvents              Action = "org.matrix.msc2876.read_events"
	ActionNavigate                Action = "org.matrix.msc2931.navigate"
	ActionRenegotiateCapabilities Action = "org.matrix.msc2974.request_capabilities"
)

// Actions used in both directions.
const (
	ActionSendEvent        Action = "send_event"
	ActionSendToDevice     Action = "send_to_device"
	ActionCloseModalWidget Action = "close_modal"
)
