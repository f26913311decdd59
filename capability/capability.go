// Package capability implements the widget permission string grammar: flat
// capability tokens, the timeline grant namespace, the event capability
// grammar with its escaping rules, and a store that tracks the set granted
// to a widget session.
package capability

import "strings"

// Capability is a flat permission token granted by the hosting application
// to a widget. Tokens have no object identity; two equal strings are the
// same capability.
type Capability string

// Well-known opaque capabilities.
const (
	Screenshots    Capability = "m.capability.screenshot"
	StickerSending Capability = "m.sticker"
	AlwaysOnScreen Capability = "m.always_on_screen"
	Navigate       Capability = "org.matrix.msc2931.navigate"
	TurnServers    Capability = "town.robin.msc3846.turn_servers"
)

// AnyRoom is the sentinel room identifier denoting "all known rooms" in
// timeline capabilities and read requests.
const AnyRoom = "*"

const timelinePrefix = "org.matrix.msc2762.timeline:"

// RoomTimeline builds the capability granting access to a room's event
// stream. Pass AnyRoom for a wildcard grant.
func RoomTimeline(roomID string) Capability {
	return Capability(timelinePrefix + roomID)
}

// TimelineRoomID extracts the room identifier from a timeline capability,
// reporting false for any other capability.
func TimelineRoomID(c Capability) (string, bool) {
	rest, ok := strings.CutPrefix(string(c), timelinePrefix)
	if !ok || rest == "" {
		return "", false
	}
	return rest, true
}
