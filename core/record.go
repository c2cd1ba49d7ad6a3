package core

import (
	"strings"
	"time"

	"pkt.systems/mudgate/internal/ansi"
	"pkt.systems/mudgate/schema"
)

// Formatting pipeline step names, in the order they run.
const (
	StepReplace   = "replace"
	StepOmit      = "omit"
	StepNormalize = "normalize"
	StepColorize  = "colorize"
	StepAnnotate  = "annotate"
	StepMarkup    = "markup"
	StepTerminate = "terminate"
	StepSerialize = "serialize"
)

// ChangeEntry records one audited payload change.
type ChangeEntry struct {
	Step   string
	Actor  string
	Before string
	After  string
	At     time.Time
}

// RecordOptions configures a new Record. The zero value is an internal
// plain-output record visible to all connected, logged-in clients.
type RecordOptions struct {
	Kind     schema.MessageKind
	Clients  []schema.ClientID
	Exclude  []schema.ClientID
	External bool
	PreLogin bool
}

// Record carries one logical unit of outgoing text from creation through
// the formatting pipeline to delivery. It is mutated by at most one
// goroutine at a time; the per-connection pipeline guarantees that.
type Record struct {
	lines    []string
	kind     schema.MessageKind
	internal bool
	preLogin bool
	clients  []schema.ClientID
	exclude  []schema.ClientID

	deliver bool
	changes []ChangeEntry
	wire    []byte

	normalized bool
	colorized  bool
	annotated  bool
	encoded    bool
	terminated bool
	serialized bool

	createdAt time.Time
	now       func() time.Time
}

// NewRecord constructs a Record around the payload lines.
func NewRecord(lines []string, opts RecordOptions) *Record {
	r := &Record{
		lines:     append([]string(nil), lines...),
		kind:      opts.Kind,
		internal:  !opts.External,
		preLogin:  opts.PreLogin,
		clients:   append([]schema.ClientID(nil), opts.Clients...),
		exclude:   append([]schema.ClientID(nil), opts.Exclude...),
		deliver:   true,
		now:       time.Now,
		createdAt: time.Now(),
	}
	return r
}

// Lines returns a copy of the current payload.
func (r *Record) Lines() []string {
	return append([]string(nil), r.lines...)
}

// Text returns the payload joined with newlines.
func (r *Record) Text() string {
	return strings.Join(r.lines, "\n")
}

// Kind returns the message kind.
func (r *Record) Kind() schema.MessageKind { return r.kind }

// Internal reports whether the record was generated inside the proxy.
func (r *Record) Internal() bool { return r.internal }

// PreLogin reports whether the record may reach clients before login.
func (r *Record) PreLogin() bool { return r.preLogin }

// Deliverable reports the delivery flag.
func (r *Record) Deliverable() bool { return r.deliver }

// Changes returns the append-only change log.
func (r *Record) Changes() []ChangeEntry {
	return append([]ChangeEntry(nil), r.changes...)
}

// Wire returns the serialized payload, nil before Format.
func (r *Record) Wire() []byte {
	return append([]byte(nil), r.wire...)
}

// Replace substitutes the payload. Every substitution is change-logged with
// the actor so client-visible text is traceable to its origin. Replacing a
// serialized record is rejected.
func (r *Record) Replace(lines []string, actor string) error {
	if r.serialized {
		return schema.ErrRecordSealed
	}
	before := r.Text()
	r.lines = append([]string(nil), lines...)
	// New payload has not been through the pipeline.
	r.normalized = false
	r.colorized = false
	r.annotated = false
	r.encoded = false
	r.terminated = false
	r.logChange(StepReplace, actor, before, r.Text())
	return nil
}

// Omit clears the delivery flag, change-logged with the actor.
func (r *Record) Omit(actor string) {
	if !r.deliver {
		return
	}
	r.deliver = false
	r.logChange(StepOmit, actor, "deliverable", "omitted")
}

// Format runs the fixed step sequence and returns the wire bytes. Every
// step is a no-op on data it has already processed, so formatting an
// already-formatted record changes nothing.
func (r *Record) Format(cfg schema.ServiceConfig, actor string) []byte {
	r.normalize(actor)
	if r.kind == schema.KindOutput {
		r.colorize(cfg, actor)
		r.annotate(cfg, actor)
		r.encodeMarkup(actor)
	}
	r.terminate(actor)
	r.serialize(actor)
	return r.Wire()
}

// normalize splits embedded newlines and strips trailing CR/LF.
func (r *Record) normalize(actor string) {
	if r.normalized {
		return
	}
	before := r.Text()
	var out []string
	for _, line := range r.lines {
		line = strings.ReplaceAll(line, "\r\n", "\n")
		for _, part := range strings.Split(line, "\n") {
			out = append(out, strings.TrimRight(part, "\r"))
		}
	}
	r.lines = out
	r.normalized = true
	if after := r.Text(); after != before {
		r.logChange(StepNormalize, actor, before, after)
	}
}

// colorize wraps each line in the configured color directive.
func (r *Record) colorize(cfg schema.ServiceConfig, actor string) {
	if r.colorized {
		return
	}
	r.colorized = true
	if cfg.ColorizeWith == "" {
		return
	}
	before := r.Text()
	for i, line := range r.lines {
		if line == "" || strings.HasPrefix(line, cfg.ColorizeWith) {
			continue
		}
		r.lines[i] = cfg.ColorizeWith + line + "@!"
	}
	if after := r.Text(); after != before {
		r.logChange(StepColorize, actor, before, after)
	}
}

// annotate prepends the preamble to internally generated output lines.
func (r *Record) annotate(cfg schema.ServiceConfig, actor string) {
	if r.annotated {
		return
	}
	r.annotated = true
	if !r.internal || cfg.Preamble == "" {
		return
	}
	prefix := cfg.Preamble + " "
	before := r.Text()
	for i, line := range r.lines {
		if strings.HasPrefix(line, prefix) {
			continue
		}
		r.lines[i] = prefix + line
	}
	if after := r.Text(); after != before {
		r.logChange(StepAnnotate, actor, before, after)
	}
}

// encodeMarkup translates color markup to ANSI wire codes.
func (r *Record) encodeMarkup(actor string) {
	if r.encoded {
		return
	}
	r.encoded = true
	before := r.Text()
	for i, line := range r.lines {
		r.lines[i] = ansi.Encode(line)
	}
	if after := r.Text(); after != before {
		r.logChange(StepMarkup, actor, before, after)
	}
}

// terminate appends the line terminator to every line that lacks one.
func (r *Record) terminate(actor string) {
	if r.terminated {
		return
	}
	r.terminated = true
	before := r.Text()
	for i, line := range r.lines {
		if strings.HasSuffix(line, "\r\n") {
			continue
		}
		r.lines[i] = line + "\r\n"
	}
	if after := r.Text(); after != before {
		r.logChange(StepTerminate, actor, before, after)
	}
}

// serialize flattens the terminated lines to wire bytes and seals the record.
func (r *Record) serialize(actor string) {
	if r.serialized {
		return
	}
	r.serialized = true
	r.wire = []byte(strings.Join(r.lines, ""))
	r.logChange(StepSerialize, actor, "", "")
}

func (r *Record) logChange(step, actor, before, after string) {
	r.changes = append(r.changes, ChangeEntry{
		Step:   step,
		Actor:  actor,
		Before: before,
		After:  after,
		At:     r.now(),
	})
}
