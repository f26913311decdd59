package capability

import "strings"

// EventDirection distinguishes sending from receiving grants.
type EventDirection string

const (
	DirectionSend    EventDirection = "send"
	DirectionReceive EventDirection = "receive"
)

// EventKind distinguishes the three event categories a grant can cover.
type EventKind string

const (
	KindRoomEvent     EventKind = "event"
	KindStateEvent    EventKind = "state_event"
	KindToDeviceEvent EventKind = "to_device"
)

// EventCapability is the parsed form of an event capability string: a
// (direction, kind, event type, optional key) tuple. The key is a state key
// for state events and a msgtype for m.room.message room events; nil means
// any key. Raw retains the original string because re-serialization is
// ambiguous near the escape rules.
type EventCapability struct {
	Direction EventDirection
	Kind      EventKind
	EventType string
	Key       *string
	Raw       Capability
}

// MatchesAsStateEvent reports whether this grant authorizes the given state
// event. A nil requested state key stands for "any state key" and only
// matches wildcard grants.
func (c *EventCapability) MatchesAsStateEvent(direction EventDirection, eventType string, stateKey *string) bool {
	if c.Kind != KindStateEvent || c.Direction != direction {
		return false
	}
	if c.EventType != eventType {
		return false
	}
	return c.matchKey(stateKey)
}

// MatchesAsRoomEvent reports whether this grant authorizes the given room
// event. The msgtype is only consulted for m.room.message events.
func (c *EventCapability) MatchesAsRoomEvent(direction EventDirection, eventType string, msgtype *string) bool {
	if c.Kind != KindRoomEvent || c.Direction != direction {
		return false
	}
	if c.EventType != eventType {
		return false
	}
	if c.EventType != "m.room.message" {
		return true
	}
	return c.matchKey(msgtype)
}

// MatchesAsToDeviceEvent reports whether this grant authorizes the given
// to-device event type. To-device grants carry no key filtering.
func (c *EventCapability) MatchesAsToDeviceEvent(direction EventDirection, eventType string) bool {
	return c.Kind == KindToDeviceEvent && c.Direction == direction && c.EventType == eventType
}

func (c *EventCapability) matchKey(requested *string) bool {
	if c.Key == nil {
		return true
	}
	if requested == nil {
		return false
	}
	return *c.Key == *requested
}

// ForStateEvent builds the capability string granting a state event type,
// optionally narrowed to one state key.
func ForStateEvent(direction EventDirection, eventType string, stateKey *string) EventCapability {
	return build(direction, KindStateEvent, eventType, stateKey)
}

// ForRoomEvent builds the capability string granting a room event type.
func ForRoomEvent(direction EventDirection, eventType string) EventCapability {
	return build(direction, KindRoomEvent, eventType, nil)
}

// ForRoomMessageEvent builds the capability string granting m.room.message
// events, optionally narrowed to one msgtype.
func ForRoomMessageEvent(direction EventDirection, msgtype *string) EventCapability {
	return build(direction, KindRoomEvent, "m.room.message", msgtype)
}

// ForToDeviceEvent builds the capability string granting a to-device event
// type. To-device capabilities never carry a key segment.
func ForToDeviceEvent(direction EventDirection, eventType string) EventCapability {
	return build(direction, KindToDeviceEvent, eventType, nil)
}

// build assembles the raw string and routes it back through the parser so
// the returned tuple is exactly what a round trip would produce.
func build(direction EventDirection, kind EventKind, eventType string, key *string) EventCapability {
	escaped := strings.ReplaceAll(eventType, "#", `\#`)
	str := namespaceFor(kind) + "." + string(direction) + "." + string(kind) + ":" + escaped
	if key != nil {
		str += "#" + *key
	}
	return FindEventCapabilities([]Capability{Capability(str)})[0]
}

func namespaceFor(kind EventKind) string {
	if kind == KindToDeviceEvent {
		return "org.matrix.msc3819"
	}
	return "org.matrix.msc2762"
}

var eventPrefixes = []struct {
	prefix    string
	direction EventDirection
	kind      EventKind
}{
	{"org.matrix.msc2762.send.event:", DirectionSend, KindRoomEvent},
	{"org.matrix.msc2762.send.state_event:", DirectionSend, KindStateEvent},
	{"org.matrix.msc2762.receive.event:", DirectionReceive, KindRoomEvent},
	{"org.matrix.msc2762.receive.state_event:", DirectionReceive, KindStateEvent},
	{"org.matrix.msc3819.send.to_device:", DirectionSend, KindToDeviceEvent},
	{"org.matrix.msc3819.receive.to_device:", DirectionReceive, KindToDeviceEvent},
}

// FindEventCapabilities parses event capabilities out of an arbitrary
// capability collection. Strings that match none of the recognized
// namespaces are skipped, never reported as errors: the caller only sees
// capabilities it can act on.
func FindEventCapabilities(capabilities []Capability) []EventCapability {
	var parsed []EventCapability
	for _, cap := range capabilities {
		for _, ns := range eventPrefixes {
			segment, ok := strings.CutPrefix(string(cap), ns.prefix)
			if !ok {
				continue
			}
			eventType, key := splitEventSegment(segment, ns.kind)
			parsed = append(parsed, EventCapability{
				Direction: ns.direction,
				Kind:      ns.kind,
				EventType: eventType,
				Key:       key,
				Raw:       cap,
			})
			break
		}
	}
	return parsed
}

// splitEventSegment separates the event type from the optional key suffix.
// The capability grammar uses `#` as the separator, but a literal `#` is
// also valid in either part, escaped as `\#` on the event-type side.
//
// Test cases (key segment expected):
//
//	segment                  eventType           key
//	-------------------------------------------------------------
//	m.room.message#          m.room.message      ""
//	m.room.message#test      m.room.message      "test"
//	m.room.message\#test     m.room.message#test ""
//	m.room.message##test     m.room.message      "#test"
//	m.room.message\##test    m.room.message#     "test"
//	m.room.message\\##test   m.room.message\#    "test"
//	m.room.message\\###test  m.room.message\#    "#test"
func splitEventSegment(segment string, kind EventKind) (string, *string) {
	// A key segment is only ever expected for state events and for
	// m.room.message room events.
	expectKey := kind == KindStateEvent ||
		(kind == KindRoomEvent && strings.HasPrefix(segment, "m.room.message#"))
	if !expectKey || !strings.Contains(segment, "#") {
		return segment, nil
	}

	parts := strings.Split(segment, "#")

	// The event type is formed by consuming exploded parts until one does
	// not end with the escape character, un-escaping each consumed part's
	// trailing `\` and re-joining with `#`. Whatever remains is the key.
	idx := -1
	for i, p := range parts {
		if !strings.HasSuffix(p, `\`) {
			idx = i
			break
		}
	}

	typeParts := parts[:idx+1]
	unescaped := make([]string, len(typeParts))
	for i, p := range typeParts {
		unescaped[i] = strings.TrimSuffix(p, `\`)
	}
	eventType := strings.Join(unescaped, "#")
	key := strings.Join(parts[idx+1:], "#")
	return eventType, &key
}
