package widgetapi

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// WidgetType categorises a widget definition.
type WidgetType string

const (
	WidgetTypeCustom        WidgetType = "m.custom"
	WidgetTypeJitsi         WidgetType = "m.jitsi"
	WidgetTypeStickerpicker WidgetType = "m.stickerpicker"
)

// Definition is the raw, serializable description of a widget, as found in
// room state, account data or configuration files.
type Definition struct {
	ID                string         `json:"id" yaml:"id"`
	CreatorUserID     string         `json:"creatorUserId" yaml:"creatorUserId"`
	Type              WidgetType     `json:"type" yaml:"type"`
	URL               string         `json:"url" yaml:"url"`
	Name              string         `json:"name,omitempty" yaml:"name,omitempty"`
	WaitForIframeLoad *bool          `json:"waitForIframeLoad,omitempty" yaml:"waitForIframeLoad,omitempty"`
	Data              map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// Widget is an immutable widget description. Construct with NewWidget.
type Widget struct {
	def Definition
}

// NewWidget validates a definition and wraps it. The ID, creator, type and
// URL are mandatory.
func NewWidget(def Definition) (*Widget, error) {
	switch {
	case def.ID == "":
		return nil, errors.New("widget definition missing id")
	case def.CreatorUserID == "":
		return nil, errors.New("widget definition missing creatorUserId")
	case def.Type == "":
		return nil, errors.New("widget definition missing type")
	case def.URL == "":
		return nil, errors.New("widget definition missing url")
	}
	return &Widget{def: def}, nil
}

// ID is the stable identifier, unique per embedding.
func (w *Widget) ID() string { return w.def.ID }

// CreatorUserID is the Matrix user who added the widget.
func (w *Widget) CreatorUserID() string { return w.def.CreatorUserID }

// Type categorises the widget.
func (w *Widget) Type() WidgetType { return w.def.Type }

// TemplateURL is the widget URL, possibly containing $substitution
// variables. See TemplatedURL.
func (w *Widget) TemplateURL() string { return w.def.URL }

// Name is the optional human-readable name.
func (w *Widget) Name() string { return w.def.Name }

// WaitForIframeLoad reports whether the host should begin capability
// negotiation on frame load rather than waiting for a content_loaded
// signal. Defaults to true.
func (w *Widget) WaitForIframeLoad() bool {
	if w.def.WaitForIframeLoad == nil {
		return true
	}
	return *w.def.WaitForIframeLoad
}

// Data is the opaque data bag. Never nil.
func (w *Widget) Data() map[string]any {
	if w.def.Data == nil {
		return map[string]any{}
	}
	return w.def.Data
}

// Origin is the scheme://authority part of the template URL, or empty when
// the URL does not parse.
func (w *Widget) Origin() string {
	u, err := url.Parse(w.def.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// TemplateParams supplies values for the standard substitution variables of
// a widget URL template.
type TemplateParams struct {
	WidgetRoomID    string
	CurrentUserID   string
	UserDisplayName string
	UserAvatarURL   string
	ClientID        string
	ClientTheme     string
	ClientLanguage  string
}

// TemplatedURL expands the widget's URL template: each $variable is
// replaced by its percent-encoded value. The widget's data bag contributes
// a variable per key; the standard matrix_* variables and the widget ID
// override data keys of the same name.
func (w *Widget) TemplatedURL(params TemplateParams) string {
	variables := map[string]string{}
	for k, v := range w.Data() {
		variables[k] = fmt.Sprint(v)
	}
	variables["matrix_room_id"] = params.WidgetRoomID
	variables["matrix_user_id"] = params.CurrentUserID
	variables["matrix_display_name"] = params.UserDisplayName
	variables["matrix_avatar_url"] = params.UserAvatarURL
	variables["matrix_widget_id"] = w.def.ID
	variables["org.matrix.msc2873.client_id"] = params.ClientID
	variables["org.matrix.msc2873.client_theme"] = params.ClientTheme
	variables["org.matrix.msc2873.client_language"] = params.ClientLanguage

	// Longest variable name first, so a name that prefixes another can
	// never clip its replacement.
	names := make([]string, 0, len(variables))
	for name := range variables {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})

	result := w.def.URL
	for _, name := range names {
		result = strings.ReplaceAll(result, "$"+name, url.QueryEscape(variables[name]))
	}
	return result
}
