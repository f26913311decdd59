package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrix-org/go-widget-api/schema"
)

// pair wires a host-side and a widget-side transport over an in-memory
// channel pair.
func pair(t *testing.T, opts ...Option) (*Transport, *Transport) {
	t.Helper()
	hostEnd, widgetEnd := MemoryPair()
	t.Cleanup(func() {
		hostEnd.Close()
		widgetEnd.Close()
	})
	hostSide := New(schema.DirectionToWidget, "w1", hostEnd, opts...)
	widgetSide := New(schema.DirectionFromWidget, "w1", widgetEnd, opts...)
	return hostSide, widgetSide
}

func TestSendBeforeStart(t *testing.T) {
	hostSide, _ := pair(t)
	_, err := hostSide.Send(context.Background(), schema.ActionCapabilities, nil)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSendWithoutWidgetID(t *testing.T) {
	hostEnd, _ := MemoryPair()
	defer hostEnd.Close()
	tr := New(schema.DirectionToWidget, "", hostEnd)
	tr.Start()
	_, err := tr.Send(context.Background(), schema.ActionCapabilities, nil)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestRequestResponseRoundTrip(t *testing.T) {
	hostSide, widgetSide := pair(t)
	widgetSide.OnMessage(func(request *schema.Request) {
		assert.Equal(t, schema.DirectionToWidget, request.API)
		assert.Equal(t, "w1", request.WidgetID)
		assert.NotEmpty(t, request.RequestID)
		require.NoError(t, widgetSide.Reply(request, map[string]string{"echo": string(request.Data)}))
	})
	hostSide.Start()
	widgetSide.Start()

	response, err := hostSide.Send(context.Background(), schema.ActionCapabilities, map[string]int{"n": 7})
	require.NoError(t, err)
	var decoded struct {
		Echo string `json:"echo"`
	}
	require.NoError(t, json.Unmarshal(response, &decoded))
	assert.JSONEq(t, `{"n":7}`, decoded.Echo)
}

func TestConcurrentRequestsResolveIndependently(t *testing.T) {
	hostSide, widgetSide := pair(t)
	widgetSide.OnMessage(func(request *schema.Request) {
		// Answer later requests faster than earlier ones.
		var data struct {
			Delay int `json:"delay"`
		}
		require.NoError(t, json.Unmarshal(request.Data, &data))
		time.Sleep(time.Duration(data.Delay) * time.Millisecond)
		require.NoError(t, widgetSide.Reply(request, map[string]int{"delay": data.Delay}))
	})
	hostSide.Start()
	widgetSide.Start()

	type result struct {
		delay int
		err   error
	}
	results := make(chan result, 2)
	send := func(delay int) {
		response, err := hostSide.Send(context.Background(), schema.ActionSendEvent, map[string]int{"delay": delay})
		if err != nil {
			results <- result{err: err}
			return
		}
		var data struct {
			Delay int `json:"delay"`
		}
		if err := json.Unmarshal(response, &data); err != nil {
			results <- result{err: err}
			return
		}
		results <- result{delay: data.Delay}
	}
	go send(60)
	go send(5)

	first := <-results
	require.NoError(t, first.err)
	assert.Equal(t, 5, first.delay, "the faster reply should resolve first")
	second := <-results
	require.NoError(t, second.err)
	assert.Equal(t, 60, second.delay)
}

func TestErrorResponse(t *testing.T) {
	hostSide, widgetSide := pair(t)
	widgetSide.OnMessage(func(request *schema.Request) {
		require.NoError(t, widgetSide.ReplyError(request, "nope"))
	})
	hostSide.Start()
	widgetSide.Start()

	_, err := hostSide.Send(context.Background(), schema.ActionTakeScreenshot, nil)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "nope", remote.Message)
}

func TestTimeoutAndLateResponse(t *testing.T) {
	hostSide, widgetSide := pair(t, WithTimeout(50*time.Millisecond))
	late := make(chan *schema.Request, 1)
	widgetSide.OnMessage(func(request *schema.Request) {
		late <- request
	})
	hostSide.Start()
	widgetSide.Start()

	_, err := hostSide.Send(context.Background(), schema.ActionCapabilities, nil)
	assert.ErrorIs(t, err, ErrTimedOut)

	// A response arriving after the timeout must be dropped silently.
	require.NoError(t, widgetSide.Reply(<-late, map[string]bool{"ok": true}))
	time.Sleep(50 * time.Millisecond)
}

func TestContextCancellation(t *testing.T) {
	hostSide, widgetSide := pair(t)
	widgetSide.OnMessage(func(*schema.Request) {})
	hostSide.Start()
	widgetSide.Start()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := hostSide.Send(ctx, schema.ActionCapabilities, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDirectionFiltering(t *testing.T) {
	hostEnd, widgetEnd := MemoryPair()
	defer hostEnd.Close()
	defer widgetEnd.Close()
	hostSide := New(schema.DirectionToWidget, "w1", hostEnd)
	received := make(chan *schema.Request, 1)
	hostSide.OnMessage(func(request *schema.Request) { received <- request })
	hostSide.Start()

	// A request labelled with the host's own direction must be ignored:
	// it would otherwise be mistaken for the host's own traffic echoed
	// back.
	echo, err := json.Marshal(&schema.Request{
		API: schema.DirectionToWidget, WidgetID: "w1", RequestID: "r1", Action: schema.ActionSendEvent,
	})
	require.NoError(t, err)
	require.NoError(t, widgetEnd.Post(echo))

	ok, err := json.Marshal(&schema.Request{
		API: schema.DirectionFromWidget, WidgetID: "w1", RequestID: "r2", Action: schema.ActionContentLoaded,
	})
	require.NoError(t, err)
	require.NoError(t, widgetEnd.Post(ok))

	select {
	case request := <-received:
		assert.Equal(t, "r2", request.RequestID)
	case <-time.After(time.Second):
		t.Fatal("valid request never dispatched")
	}
	select {
	case request := <-received:
		t.Fatalf("echoed request dispatched: %v", request.RequestID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWidgetIDPinning(t *testing.T) {
	hostEnd, widgetEnd := MemoryPair()
	defer hostEnd.Close()
	defer widgetEnd.Close()
	hostSide := New(schema.DirectionToWidget, "", hostEnd)
	received := make(chan *schema.Request, 2)
	hostSide.OnMessage(func(request *schema.Request) { received <- request })
	hostSide.Start()

	post := func(widgetID, requestID string) {
		raw, err := json.Marshal(&schema.Request{
			API: schema.DirectionFromWidget, WidgetID: widgetID, RequestID: requestID, Action: schema.ActionContentLoaded,
		})
		require.NoError(t, err)
		require.NoError(t, widgetEnd.Post(raw))
	}

	post("first", "r1")
	select {
	case request := <-received:
		assert.Equal(t, "r1", request.RequestID)
	case <-time.After(time.Second):
		t.Fatal("first request never dispatched")
	}
	assert.Equal(t, "first", hostSide.WidgetID())

	// A different widget ID is dropped once pinned.
	post("second", "r2")
	post("first", "r3")
	select {
	case request := <-received:
		assert.Equal(t, "r3", request.RequestID)
	case <-time.After(time.Second):
		t.Fatal("pinned-widget request never dispatched")
	}
}

func TestStrictOriginCheck(t *testing.T) {
	hostEnd, widgetEnd := MemoryPair()
	defer hostEnd.Close()
	defer widgetEnd.Close()
	widgetEnd.SetOrigin("https://evil.example.org")
	hostSide := New(schema.DirectionToWidget, "w1", hostEnd, WithStrictOriginCheck("https://widget.example.org"))
	received := make(chan *schema.Request, 1)
	hostSide.OnMessage(func(request *schema.Request) { received <- request })
	hostSide.Start()

	raw, err := json.Marshal(&schema.Request{
		API: schema.DirectionFromWidget, WidgetID: "w1", RequestID: "r1", Action: schema.ActionContentLoaded,
	})
	require.NoError(t, err)
	require.NoError(t, widgetEnd.Post(raw))
	select {
	case <-received:
		t.Fatal("request from wrong origin dispatched")
	case <-time.After(50 * time.Millisecond):
	}

	widgetEnd.SetOrigin("https://widget.example.org")
	require.NoError(t, widgetEnd.Post(raw))
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("request from allowed origin never dispatched")
	}
}

func TestStopIgnoresTraffic(t *testing.T) {
	hostSide, widgetSide := pair(t)
	received := make(chan *schema.Request, 1)
	hostSide.OnMessage(func(request *schema.Request) { received <- request })
	hostSide.Start()
	widgetSide.Start()
	hostSide.Stop()

	_, err := hostSide.Send(context.Background(), schema.ActionCapabilities, nil)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestRequestIDUniqueness(t *testing.T) {
	hostSide, widgetSide := pair(t)
	seen := make(chan string, 8)
	widgetSide.OnMessage(func(request *schema.Request) {
		seen <- request.RequestID
		require.NoError(t, widgetSide.Reply(request, nil))
	})
	hostSide.Start()
	widgetSide.Start()

	done := make(chan struct{}, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := hostSide.Send(context.Background(), schema.ActionCapabilities, nil)
			assert.NoError(t, err)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	ids := make(map[string]bool)
	for i := 0; i < 4; i++ {
		id := <-seen
		assert.False(t, ids[id], "request ID %s reused while in flight", id)
		ids[id] = true
	}
}
