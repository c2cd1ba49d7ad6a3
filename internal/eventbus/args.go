package eventbus

import "pkt.systems/mudgate/schema"

// Args is the view each handler receives. Line reflects rewrites folded in
// by earlier handlers; Raw never changes after the line is read.
type Args struct {
	Name        schema.EventName
	Line        string
	Raw         string
	Internal    bool
	Kind        schema.MessageKind
	Omitted     bool
	TriggerID   schema.TriggerID
	TriggerName schema.TriggerName
	Groups      map[string]string
	Values      map[string]any
	ClientID    schema.ClientID
}

// Mutation is the explicit value a handler returns to affect the line.
// A nil Rewrite leaves the text alone; Omit marks the line non-deliverable.
type Mutation struct {
	Rewrite *string
	Omit    bool
}

// RewriteTo builds a rewrite mutation.
func RewriteTo(line string) Mutation {
	return Mutation{Rewrite: &line}
}

// OmitLine builds an omit mutation.
func OmitLine() Mutation {
	return Mutation{Omit: true}
}

// AppliedMutation records one folded mutation with its actor, in fold order.
type AppliedMutation struct {
	Seq     int
	Owner   schema.OwnerID
	Handler string
	Rewrite *string
	Omit    bool
}

// Outcome is what Raise returns to the caller after folding every handler's
// mutation: the final line text, the omit flag, and the audit trail.
type Outcome struct {
	Line      string
	Omit      bool
	Handlers  int
	Mutations []AppliedMutation
}
