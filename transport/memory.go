package transport

import (
	"errors"
	"sync"
)

// Compile-time interface check.
var _ Channel = (*MemoryChannel)(nil)

// ErrChannelClosed is returned when posting to a closed channel.
var ErrChannelClosed = errors.New("channel closed")

// MemoryChannel is an in-process Channel for tests and same-process
// embeddings. Two endpoints created by MemoryPair deliver payloads to each
// other asynchronously, strictly in post order, with no real transport in
// between.
type MemoryChannel struct {
	mu     sync.Mutex
	cond   *sync.Cond
	peer   *MemoryChannel
	origin string
	queue  []Message
	fn     func(Message)
	closed bool
}

// MemoryPair creates two directly-wired channel endpoints.
func MemoryPair() (*MemoryChannel, *MemoryChannel) {
	a := newMemoryChannel()
	b := newMemoryChannel()
	a.peer, b.peer = b, a
	return a, b
}

func newMemoryChannel() *MemoryChannel {
	c := &MemoryChannel{}
	c.cond = sync.NewCond(&c.mu)
	go c.deliver()
	return c
}

// SetOrigin sets the origin label stamped on payloads this endpoint posts.
func (c *MemoryChannel) SetOrigin(origin string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.origin = origin
}

func (c *MemoryChannel) Post(payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	origin := c.origin
	peer := c.peer
	c.mu.Unlock()

	// Copy so the sender may reuse its buffer.
	buf := make([]byte, len(payload))
	copy(buf, payload)
	peer.enqueue(Message{Payload: buf, Origin: origin})
	return nil
}

func (c *MemoryChannel) Subscribe(fn func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fn = fn
	c.cond.Broadcast()
}

func (c *MemoryChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cond.Broadcast()
	return nil
}

func (c *MemoryChannel) enqueue(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.queue = append(c.queue, m)
	c.cond.Broadcast()
}

// deliver drains the queue on a single goroutine so subscribers observe
// post order.
func (c *MemoryChannel) deliver() {
	for {
		c.mu.Lock()
		for !c.closed && (c.fn == nil || len(c.queue) == 0) {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		m := c.queue[0]
		c.queue = c.queue[1:]
		fn := c.fn
		c.mu.Unlock()
		fn(m)
	}
}
