// Package ice bridges TURN credentials streamed over the widget API into
// pion/webrtc configuration, so call widgets can feed credential refreshes
// straight into their peer connections.
package ice

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/matrix-org/go-widget-api/schema"
)

// ServerFromTURN converts one TURN credential set into a pion ICE server.
func ServerFromTURN(turn *schema.TurnServer) webrtc.ICEServer {
	return webrtc.ICEServer{
		URLs:       turn.URIs,
		Username:   turn.Username,
		Credential: turn.Password,
	}
}

// ConfigFromTURN builds a webrtc.Configuration from one TURN credential
// set. When turn is nil or carries no URIs the configuration has only host
// candidates, which is sufficient for same-machine and same-LAN testing.
func ConfigFromTURN(turn *schema.TurnServer) webrtc.Configuration {
	if turn == nil || len(turn.URIs) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{ServerFromTURN(turn)},
	}
}

// Watch converts a TURN credential stream into a webrtc.Configuration
// stream, one configuration per credential refresh. The returned channel
// closes when the source closes or ctx ends.
func Watch(ctx context.Context, servers <-chan schema.TurnServer) <-chan webrtc.Configuration {
	out := make(chan webrtc.Configuration, 1)
	go func() {
		defer close(out)
		for {
			select {
			case server, ok := <-servers:
				if !ok {
					return
				}
				select {
				case out <- ConfigFromTURN(&server):
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
