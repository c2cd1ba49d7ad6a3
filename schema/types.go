package schema

// ClientID identifies a connected client channel.
type ClientID string

// OwnerID identifies the plugin or subsystem that owns a registration.
type OwnerID string

// TriggerID is the globally unique trigger identifier, derived from owner and name.
type TriggerID string

// TriggerName is the owner-scoped name of a trigger.
type TriggerName string

// BucketID identifies a regex dedup bucket inside the index.
type BucketID string

// EventName identifies an extension point on the event bus.
type EventName string

// MessageKind distinguishes plain game output from protocol commands.
type MessageKind int

const (
	// KindOutput is ordinary line-oriented text.
	KindOutput MessageKind = iota
	// KindCommand is a protocol-level command unit, never annotated.
	KindCommand
)

// String returns the wire-facing name of the kind.
func (k MessageKind) String() string {
	switch k {
	case KindOutput:
		return "output"
	case KindCommand:
		return "command"
	default:
		return "unknown"
	}
}

// ArgType declares a coercion applied to a named capture group before dispatch.
type ArgType string

const (
	// ArgString leaves the captured text as-is.
	ArgString ArgType = "string"
	// ArgInt coerces the capture to int.
	ArgInt ArgType = "int"
	// ArgFloat coerces the capture to float64.
	ArgFloat ArgType = "float"
	// ArgBool coerces the capture to bool.
	ArgBool ArgType = "bool"
)
