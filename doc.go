// Package widgetapi implements the Matrix widget API: a bidirectional,
// capability-gated RPC protocol between a hosting application and an
// embedded widget.
//
// The protocol logic is split across subpackages:
//
//   - schema holds the wire envelopes, action catalog, version tokens and
//     typed payloads.
//   - capability implements the permission string grammar and the store of
//     granted capabilities.
//   - transport correlates requests with responses over a pluggable duplex
//     channel (in-memory, WebSocket, or anything postMessage-shaped).
//   - host drives a widget session from the hosting side: capability
//     negotiation, request routing, permission checks and outbound pushes.
//   - widget mirrors the negotiation from inside the embedded application
//     and exposes the request-sending surface widgets build on.
//
// This root package carries the widget model itself: the immutable Widget
// value object, URL templating, and parsing of widget definitions out of
// room state and account data.
package widgetapi
