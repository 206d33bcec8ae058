package messaging

import "fmt"

// EventType is the edge event kind recorded by Message.Track.
type EventType int

const (
	EventDismiss EventType = iota
	EventInteract
	EventTrigger
	EventDisplay
	EventPushApplicationOpened
	EventPushCustomAction
)

// DefaultEventType is used for codes the SDK does not know.
const DefaultEventType = EventDismiss

var eventTypeNames = [...]string{
	EventDismiss:               "dismiss",
	EventInteract:              "interact",
	EventTrigger:               "trigger",
	EventDisplay:               "display",
	EventPushApplicationOpened: "push_application_opened",
	EventPushCustomAction:      "push_custom_action",
}

// ParseEventType maps a wire code to an EventType, falling back to DefaultEventType for unknown codes.
func ParseEventType(code int) EventType {
	if code < 0 || code >= len(eventTypeNames) {
		return DefaultEventType
	}
	return EventType(code)
}

func (e EventType) String() string {
	if e < 0 || int(e) >= len(eventTypeNames) {
		return fmt.Sprintf("EventType(%d)", int(e))
	}
	return eventTypeNames[e]
}
