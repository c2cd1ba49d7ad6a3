package schema

// Core pipeline extension points. Trigger events are derived per rule via
// TriggerEvent so a typo cannot silently create a dead event name.
const (
	// EventLineRead fires for every upstream line before matching.
	EventLineRead EventName = "line.read"
	// EventLineEmpty fires instead of matching when the line is empty.
	EventLineEmpty EventName = "line.empty"
	// EventLineDone fires after trigger dispatch for a non-empty line.
	EventLineDone EventName = "line.done"
	// EventClientAttached fires when a client channel joins the dispatcher.
	EventClientAttached EventName = "client.attached"
	// EventClientDetached fires when a client channel leaves the dispatcher.
	EventClientDetached EventName = "client.detached"
)

// TriggerEvent returns the bus event name raised when the trigger matches.
func TriggerEvent(id TriggerID) EventName {
	return EventName("trigger." + string(id))
}

// MakeTriggerID derives the globally unique trigger id from owner and name.
func MakeTriggerID(owner OwnerID, name TriggerName) TriggerID {
	return TriggerID("t_" + string(owner) + "_" + string(name))
}
