// Package transport implements the widget API message transport: a
// correlation layer that relays request and response envelopes over a
// minimal duplex channel, tracks in-flight requests, applies per-request
// timeouts and validates direction and origin.
//
// The channel abstraction keeps the protocol logic independent of any
// particular messaging substrate: production embeddings wire a browser-style
// postMessage pipe or a WebSocket, tests wire two in-memory endpoints
// directly together.
package transport

// Message is one raw payload delivered by a channel, together with the
// origin label of its sender. Origin semantics are channel-specific: a
// WebSocket channel reports the handshake Origin header, an in-memory
// channel reports whatever its peer was configured with. An empty origin
// means unknown.
type Message struct {
	Payload []byte
	Origin  string
}

// Channel is a postable, subscribable duplex message pipe. Implementations
// must deliver subscribed messages one at a time, in post order. At most
// one subscriber is supported; messages posted before Subscribe are held
// back and delivered, still in order, once the subscriber registers.
type Channel interface {
	// Post sends a payload to the peer endpoint.
	Post(payload []byte) error
	// Subscribe registers the receive callback.
	Subscribe(fn func(Message))
	// Close releases the channel. Posting to a closed channel fails.
	Close() error
}
