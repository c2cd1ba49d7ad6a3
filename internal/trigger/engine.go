package trigger

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"pkt.systems/mudgate/internal/ansi"
	"pkt.systems/mudgate/internal/eventbus"
	"pkt.systems/mudgate/schema"
	"pkt.systems/pslog"
)

// Engine resolves which rules hit a line and dispatches one bus event per
// match. Rules are shared by every connection; registry operations and
// per-line snapshots both go through the engine mutex.
type Engine struct {
	mu    sync.Mutex
	bus   *eventbus.Bus
	index *Index
	rules map[schema.TriggerID]*Rule
	log   pslog.Logger
}

// NewEngine constructs an Engine on top of the bus.
func NewEngine(bus *eventbus.Bus, logger pslog.Logger) *Engine {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Engine{
		bus:   bus,
		index: NewIndex(logger),
		rules: make(map[schema.TriggerID]*Rule),
		log:   logger,
	}
}

// Index exposes the regex index for diagnostics.
func (e *Engine) Index() *Index {
	return e.index
}

// Matched identifies one rule hit on a line.
type Matched struct {
	Trigger schema.TriggerID
	Bucket  schema.BucketID
	Omit    bool
}

// LineResult is what one line's dispatch produced: the folded text, the
// omit flag, the rules that hit, and the audit trail of applied mutations.
type LineResult struct {
	Line      string
	Omit      bool
	Matches   []Matched
	Mutations []eventbus.AppliedMutation
}

func (r *LineResult) fold(out eventbus.Outcome) {
	r.Line = out.Line
	if out.Omit {
		r.Omit = true
	}
	for _, m := range out.Mutations {
		m.Seq = len(r.Mutations) + 1
		r.Mutations = append(r.Mutations, m)
	}
}

// ProcessLine runs one line through the dispatch state machine: the
// unconditional every-line event, the empty-line short circuit, one event
// per matching enabled rule in ascending priority order, and the line-done
// event. Handlers' rewrites are folded forward through every raise.
func (e *Engine) ProcessLine(ctx context.Context, line string, internal bool, kind schema.MessageKind) LineResult {
	res := LineResult{Line: line}
	res.fold(e.bus.Raise(ctx, schema.EventLineRead, &eventbus.Args{
		Line: res.Line, Raw: line, Internal: internal, Kind: kind, Omitted: res.Omit,
	}))

	if line == "" {
		res.fold(e.bus.Raise(ctx, schema.EventLineEmpty, &eventbus.Args{
			Line: res.Line, Raw: line, Internal: internal, Kind: kind, Omitted: res.Omit,
		}))
		return res
	}

	plain := ansi.StripANSI(res.Line)
	stopped := make(map[schema.BucketID]bool)
	for _, rule := range e.candidates(e.index.Match(plain, res.Line)) {
		if stopped[rule.BucketID] {
			continue
		}
		groups, ok := e.rematch(rule, plain, res.Line)
		if !ok {
			continue
		}
		atomic.AddUint64(&rule.hits, 1)
		res.fold(e.bus.Raise(ctx, schema.TriggerEvent(rule.ID), &eventbus.Args{
			Line:        res.Line,
			Raw:         line,
			Internal:    internal,
			Kind:        kind,
			Omitted:     res.Omit,
			TriggerID:   rule.ID,
			TriggerName: rule.Name,
			Groups:      groups,
			Values:      coerceArgs(groups, rule.ArgTypes, e.log),
		}))
		res.Matches = append(res.Matches, Matched{Trigger: rule.ID, Bucket: rule.BucketID, Omit: rule.Omit})
		if rule.Omit {
			res.Omit = true
		}
		if rule.StopEvaluating {
			// Halts the remaining rules in this bucket only; rules in
			// other matched buckets still dispatch.
			stopped[rule.BucketID] = true
		}
	}

	res.fold(e.bus.Raise(ctx, schema.EventLineDone, &eventbus.Args{
		Line: res.Line, Raw: line, Internal: internal, Kind: kind, Omitted: res.Omit,
	}))
	return res
}

// candidates snapshots the enabled members of the hit buckets in one
// globally ascending priority order, ties broken by id, so a lower-priority
// rule always dispatches first regardless of which bucket it lives in.
func (e *Engine) candidates(hit []schema.BucketID) []*Rule {
	if len(hit) == 0 {
		return nil
	}
	want := make(map[schema.BucketID]bool, len(hit))
	for _, id := range hit {
		want[id] = true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var members []*Rule
	for _, rule := range e.rules {
		if rule.Enabled && want[rule.BucketID] {
			members = append(members, rule)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Priority != members[j].Priority {
			return members[i].Priority < members[j].Priority
		}
		return members[i].ID < members[j].ID
	})
	return members
}

// rematch runs the rule's own group-preserving pattern against the line.
// A re-match failure is logged and skips the rule for this line only.
func (e *Engine) rematch(rule *Rule, plain, current string) (groups map[string]string, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			e.log.Error("trigger rematch failed", "trigger", rule.ID, "panic", p)
			groups, ok = nil, false
		}
	}()
	text := plain
	if rule.MatchWithColor {
		text = current
	}
	m := rule.re.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	groups = make(map[string]string)
	for i, name := range rule.re.SubexpNames() {
		if i > 0 && i < len(m) && name != "" {
			groups[name] = m[i]
		}
	}
	return groups, true
}

// coerceArgs applies declared argument-type coercions. A failed coercion
// keeps the captured string and logs the miss.
func coerceArgs(groups map[string]string, argTypes map[string]schema.ArgType, log pslog.Logger) map[string]any {
	if len(groups) == 0 {
		return nil
	}
	values := make(map[string]any, len(groups))
	for name, raw := range groups {
		switch argTypes[name] {
		case schema.ArgInt:
			if n, err := strconv.Atoi(raw); err == nil {
				values[name] = n
				continue
			}
			log.Debug("trigger arg coercion failed", "arg", name, "type", "int", "value", raw)
			values[name] = raw
		case schema.ArgFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				values[name] = f
				continue
			}
			log.Debug("trigger arg coercion failed", "arg", name, "type", "float", "value", raw)
			values[name] = raw
		case schema.ArgBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				values[name] = b
				continue
			}
			log.Debug("trigger arg coercion failed", "arg", name, "type", "bool", "value", raw)
			values[name] = raw
		default:
			values[name] = raw
		}
	}
	return values
}
