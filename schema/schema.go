// Package schema defines the wire contract of the widget API: the request
// and response envelopes exchanged over a transport channel, the action
// catalog for both directions, the supported API version tokens and the
// typed payloads carried by each action.
package schema

import (
	"encoding/json"
)

// Direction tags an envelope with the side that sent the original request.
type Direction string

const (
	// DirectionToWidget marks traffic whose requests originate from the
	// hosting application.
	DirectionToWidget Direction = "toWidget"
	// DirectionFromWidget marks traffic whose requests originate from the
	// embedded widget.
	DirectionFromWidget Direction = "fromWidget"
)

// Invert returns the opposite direction.
func (d Direction) Invert() Direction {
	if d == DirectionToWidget {
		return DirectionFromWidget
	}
	return DirectionToWidget
}

// Request is the envelope for a single widget API request.
type Request struct {
	API       Direction       `json:"api"`
	WidgetID  string          `json:"widgetId"`
	RequestID string          `json:"requestId"`
	Action    Action          `json:"action"`
	Data      json.RawMessage `json:"data"`
}

// Response is a request echoed back with a response payload attached.
type Response struct {
	Request
	Response json.RawMessage `json:"response"`
}

// ErrorBody is the shape of a response payload signalling failure.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the human-readable failure message.
type ErrorDetail struct {
	Message string `json:"message"`
}

// NewError builds an error response payload with the given message.
func NewError(message string) *ErrorBody {
	return &ErrorBody{Error: ErrorDetail{Message: message}}
}

// IsError reports whether a response payload carries an error, returning
// the message when it does. Presence of a non-empty error.message field is
// the only failure signal defined by the protocol.
func IsError(response json.RawMessage) (string, bool) {
	if len(response) == 0 {
		return "", false
	}
	var body ErrorBody
	if err := json.Unmarshal(response, &body); err != nil {
		return "", false
	}
	if body.Error.Message == "" {
		return "", false
	}
	return body.Error.Message, true
}

// EmptyData is the payload used by requests and acknowledgements that carry
// no information of their own.
var EmptyData = json.RawMessage(`{}`)
