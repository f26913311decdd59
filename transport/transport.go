package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/matrix-org/go-widget-api/schema"
)

// DefaultTimeout is how long an outbound request waits for its response
// before being rejected.
const DefaultTimeout = 10 * time.Second

var (
	// ErrNotReady is returned when sending before Start, or before a
	// widget ID is known.
	ErrNotReady = errors.New("not ready or unknown widget ID")
	// ErrTimedOut is returned when a request's response never arrived.
	ErrTimedOut = errors.New("request timed out")
)

// RemoteError is a failure reported by the counterparty as an error
// response payload.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

type outcome struct {
	response *schema.Response
	err      error
}

// Transport relays widget API envelopes over a Channel for exactly one
// logical widget/host pair. One side of the pair is the primary sender of
// each direction: a transport constructed with DirectionToWidget sends
// toWidget requests and accepts fromWidget requests, and vice versa.
//
// A transport is started once and stopped once; a stopped transport cannot
// be restarted.
type Transport struct {
	direction schema.Direction
	channel   Channel
	timeout   time.Duration
	logger    *slog.Logger

	// strictOrigin, when non-empty, drops any inbound message whose origin
	// differs from it. Intended only for especially security-sensitive
	// embeddings.
	strictOrigin string

	onMessage func(*schema.Request)

	mu       sync.Mutex
	widgetID string
	ready    bool
	stopped  bool
	outbound map[string]chan outcome
}

// New creates a transport. The widget ID may be empty, in which case the
// first accepted inbound request pins it for the rest of the session.
func New(direction schema.Direction, widgetID string, channel Channel, opts ...Option) *Transport {
	t := &Transport{
		direction: direction,
		channel:   channel,
		widgetID:  widgetID,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
		outbound:  make(map[string]chan outcome),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WidgetID returns the widget ID, or empty if none has been pinned yet.
func (t *Transport) WidgetID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.widgetID
}

// OnMessage registers the callback invoked for each accepted inbound
// request. Must be set before Start. Each request is dispatched on its own
// goroutine; the callback owns the reply.
func (t *Transport) OnMessage(fn func(*schema.Request)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = fn
}

// Start subscribes to the channel and begins accepting traffic.
func (t *Transport) Start() {
	t.channel.Subscribe(t.handleMessage)
	t.mu.Lock()
	t.ready = true
	t.mu.Unlock()
}

// Stop permanently stops the transport. In-flight requests are left to
// their timeouts; subsequent inbound messages are ignored.
func (t *Transport) Stop() {
	t.mu.Lock()
	t.ready = false
	t.stopped = true
	t.mu.Unlock()
}

// Send posts a request and waits for the matching response, returning just
// the response payload.
func (t *Transport) Send(ctx context.Context, action schema.Action, data any) (json.RawMessage, error) {
	response, err := t.SendComplete(ctx, action, data)
	if err != nil {
		return nil, err
	}
	return response.Response, nil
}

// SendComplete posts a request and waits for the matching response,
// returning the full envelope including correlation metadata.
func (t *Transport) SendComplete(ctx context.Context, action schema.Action, data any) (*schema.Response, error) {
	payload, err := marshalData(data)
	if err != nil {
		return nil, fmt.Errorf("marshal request data: %w", err)
	}

	t.mu.Lock()
	if !t.ready || t.widgetID == "" {
		t.mu.Unlock()
		return nil, ErrNotReady
	}
	request := &schema.Request{
		API:       t.direction,
		WidgetID:  t.widgetID,
		RequestID: t.nextRequestIDLocked(),
		Action:    action,
		Data:      payload,
	}
	ch := make(chan outcome, 1)
	t.outbound[request.RequestID] = ch
	t.mu.Unlock()

	if err := t.post(request); err != nil {
		t.take(request.RequestID)
		return nil, err
	}

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()
	select {
	case out := <-ch:
		return out.response, out.err
	case <-timer.C:
		if !t.take(request.RequestID) {
			// The response raced the timer and already settled.
			out := <-ch
			return out.response, out.err
		}
		return nil, ErrTimedOut
	case <-ctx.Done():
		if !t.take(request.RequestID) {
			out := <-ch
			return out.response, out.err
		}
		return nil, ctx.Err()
	}
}

// Reply posts a response to an inbound request: the original envelope with
// the response payload attached. Replying consumes no ledger state; only
// the side that sent the original request tracks it.
func (t *Transport) Reply(request *schema.Request, data any) error {
	payload, err := marshalData(data)
	if err != nil {
		return fmt.Errorf("marshal response data: %w", err)
	}
	return t.post(&schema.Response{Request: *request, Response: payload})
}

// ReplyError posts an error response carrying the given message.
func (t *Transport) ReplyError(request *schema.Request, message string) error {
	return t.Reply(request, schema.NewError(message))
}

// nextRequestIDLocked generates an identifier unique among currently
// in-flight requests. IDs may be reused once their ledger entry clears.
func (t *Transport) nextRequestIDLocked() string {
	base := fmt.Sprintf("widgetapi-%d", time.Now().UnixMilli())
	id := base
	for i := 0; ; i++ {
		if _, inFlight := t.outbound[id]; !inFlight {
			return id
		}
		id = base + "-" + strconv.Itoa(i)
	}
}

// take removes and reports the presence of a ledger entry.
func (t *Transport) take(requestID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.outbound[requestID]; !ok {
		return false
	}
	delete(t.outbound, requestID)
	return true
}

func (t *Transport) post(envelope any) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	t.logger.Debug("posting widget api message", "payload", string(payload))
	return t.channel.Post(payload)
}

func (t *Transport) handleMessage(m Message) {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if stopped {
		return
	}
	if t.strictOrigin != "" && m.Origin != t.strictOrigin {
		t.logger.Debug("dropping message from unexpected origin", "origin", m.Origin)
		return
	}

	// Decode as a response first; a request is the same envelope without
	// the response field.
	var envelope schema.Response
	if err := json.Unmarshal(m.Payload, &envelope); err != nil {
		return
	}
	if envelope.Action == "" || envelope.RequestID == "" || envelope.WidgetID == "" {
		return
	}

	if len(envelope.Response) == 0 {
		t.handleRequest(&envelope.Request)
	} else {
		t.handleResponse(&envelope)
	}
}

func (t *Transport) handleRequest(request *schema.Request) {
	// Only requests originating from the counterparty direction are
	// accepted.
	if request.API != t.direction.Invert() {
		return
	}

	t.mu.Lock()
	if t.widgetID == "" {
		// First accepted request pins the widget identity for the session.
		t.widgetID = request.WidgetID
	} else if t.widgetID != request.WidgetID {
		t.mu.Unlock()
		return
	}
	fn := t.onMessage
	t.mu.Unlock()

	if fn != nil {
		go fn(request)
	}
}

func (t *Transport) handleResponse(response *schema.Response) {
	if response.API != t.direction {
		return
	}
	if response.WidgetID != t.WidgetID() {
		return
	}

	t.mu.Lock()
	ch, ok := t.outbound[response.RequestID]
	if ok {
		delete(t.outbound, response.RequestID)
	}
	t.mu.Unlock()
	if !ok {
		// Unknown request ID, e.g. a late response after timeout.
		return
	}

	if message, isErr := schema.IsError(response.Response); isErr {
		ch <- outcome{err: &RemoteError{Message: message}}
	} else {
		ch <- outcome{response: response}
	}
}

func marshalData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return schema.EmptyData, nil
	case json.RawMessage:
		if len(v) == 0 {
			return schema.EmptyData, nil
		}
		return v, nil
	default:
		return json.Marshal(data)
	}
}
