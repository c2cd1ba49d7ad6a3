// Package eventbus implements the named extension points the pipeline is
// built on: priority-ordered handler lists per event, synchronous in-order
// dispatch, and fold-forward mutation of the line under dispatch.
package eventbus

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/mudgate/schema"
	"pkt.systems/pslog"
)

// DefaultPriority is the priority a zero-value Registration runs at. A
// handler that genuinely wants priority zero must say so with another
// value; zero is reserved to mean "unset".
const DefaultPriority = 50

// HandlerFunc reacts to one raised event. The returned Mutation is folded
// into the view of later handlers and into the raise outcome.
type HandlerFunc func(ctx context.Context, args *Args) (Mutation, error)

// Registration names a handler so registrations are comparable: the same
// owner+name pair registers at most once per priority bucket per event.
// Priority zero means unset and rewrites to DefaultPriority on Register;
// handlers that must run before the defaults pick any value in 1..49.
type Registration struct {
	Owner    schema.OwnerID
	Name     string
	Priority int
	Fn       HandlerFunc
}

type registration struct {
	Registration
	seq   int
	fired uint64
}

type event struct {
	name      schema.EventName
	createdAt time.Time
	raised    uint64
	// handlers per priority bucket, insertion-ordered within a bucket
	buckets map[int][]*registration
}

// Bus is the process-wide event registry. Unknown event names are created
// empty on first touch and are never an error.
type Bus struct {
	mu     sync.Mutex
	events map[schema.EventName]*event
	nextID int
	raised atomic.Uint64
	warn   time.Duration
	log    pslog.Logger
	now    func() time.Time
}

// New constructs a Bus. handlerWarn is the soft time budget per handler;
// zero disables the slow-handler warning.
func New(logger pslog.Logger, handlerWarn time.Duration) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		events: make(map[schema.EventName]*event),
		warn:   handlerWarn,
		log:    logger,
		now:    time.Now,
	}
}

// Register adds a handler. Registering the same owner+name at the same
// priority again is a no-op, so call sites can register idempotently.
func (b *Bus) Register(name schema.EventName, reg Registration) error {
	if reg.Fn == nil {
		return schema.ErrNilHandler
	}
	if err := schema.ValidateOwnerID(reg.Owner); err != nil {
		return err
	}
	if reg.Name == "" {
		return schema.ErrEmptyName
	}
	if reg.Priority == 0 {
		reg.Priority = DefaultPriority
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	ev := b.touch(name)
	for _, existing := range ev.buckets[reg.Priority] {
		if existing.Owner == reg.Owner && existing.Name == reg.Name {
			b.log.Debug("bus register skipped", "event", name, "owner", reg.Owner, "handler", reg.Name, "priority", reg.Priority)
			return nil
		}
	}
	b.nextID++
	ev.buckets[reg.Priority] = append(ev.buckets[reg.Priority], &registration{Registration: reg, seq: b.nextID})
	b.log.Debug("bus register", "event", name, "owner", reg.Owner, "handler", reg.Name, "priority", reg.Priority)
	return nil
}

// Unregister removes a handler from every priority bucket of the event.
// Removing an absent handler is a logged no-op.
func (b *Bus) Unregister(name schema.EventName, owner schema.OwnerID, handlerName string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev := b.events[name]
	if ev == nil || !ev.remove(owner, handlerName) {
		b.log.Debug("bus unregister missed", "event", name, "owner", owner, "handler", handlerName)
		return
	}
	b.log.Debug("bus unregister", "event", name, "owner", owner, "handler", handlerName)
}

// IsRegistered reports whether owner+name has a handler on the event.
func (b *Bus) IsRegistered(name schema.EventName, owner schema.OwnerID, handlerName string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev := b.events[name]
	if ev == nil {
		return false
	}
	for _, bucket := range ev.buckets {
		for _, reg := range bucket {
			if reg.Owner == owner && reg.Name == handlerName {
				return true
			}
		}
	}
	return false
}

// RemoveAll unregisters every handler owned by owner across all events and
// returns how many were removed. Used on plugin unload so stale handlers
// never run.
func (b *Bus) RemoveAll(owner schema.OwnerID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for _, ev := range b.events {
		for priority, bucket := range ev.buckets {
			kept := bucket[:0]
			for _, reg := range bucket {
				if reg.Owner == owner {
					removed++
					continue
				}
				kept = append(kept, reg)
			}
			if len(kept) == 0 {
				delete(ev.buckets, priority)
			} else {
				ev.buckets[priority] = kept
			}
		}
	}
	if removed > 0 {
		b.log.Info("bus owner removed", "owner", owner, "handlers", removed)
	}
	return removed
}

// HandlerCount returns the number of handlers registered on the event.
func (b *Bus) HandlerCount(name schema.EventName) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev := b.events[name]
	if ev == nil {
		return 0
	}
	count := 0
	for _, bucket := range ev.buckets {
		count += len(bucket)
	}
	return count
}

// Raised returns the global raise counter.
func (b *Bus) Raised() uint64 {
	return b.raised.Load()
}

// Raise invokes the event's handlers in ascending priority order, folding
// each returned Mutation into the next handler's view. A handler error or
// panic is logged with owner and event and never stops the remaining
// handlers or propagates to the caller.
func (b *Bus) Raise(ctx context.Context, name schema.EventName, args *Args) Outcome {
	if args == nil {
		args = &Args{}
	}
	args.Name = name

	b.mu.Lock()
	ev := b.touch(name)
	ev.raised++
	snapshot := ev.ordered()
	b.mu.Unlock()
	b.raised.Add(1)

	outcome := Outcome{Line: args.Line, Omit: args.Omitted}
	for _, reg := range snapshot {
		mutation, err := b.invoke(ctx, reg, args)
		atomic.AddUint64(&reg.fired, 1)
		outcome.Handlers++
		if err != nil {
			b.log.Error("bus handler failed", "event", name, "owner", reg.Owner, "handler", reg.Name, "err", err)
			continue
		}
		if mutation.Rewrite != nil {
			applied := AppliedMutation{
				Seq:     len(outcome.Mutations) + 1,
				Owner:   reg.Owner,
				Handler: reg.Name,
				Rewrite: mutation.Rewrite,
			}
			outcome.Line = *mutation.Rewrite
			args.Line = outcome.Line
			outcome.Mutations = append(outcome.Mutations, applied)
		}
		if mutation.Omit {
			outcome.Omit = true
			args.Omitted = true
			if mutation.Rewrite == nil {
				outcome.Mutations = append(outcome.Mutations, AppliedMutation{
					Seq:     len(outcome.Mutations) + 1,
					Owner:   reg.Owner,
					Handler: reg.Name,
					Omit:    true,
				})
			} else {
				outcome.Mutations[len(outcome.Mutations)-1].Omit = true
			}
		}
	}
	return outcome
}

func (b *Bus) invoke(ctx context.Context, reg *registration, args *Args) (mutation Mutation, err error) {
	started := b.now()
	defer func() {
		if p := recover(); p != nil {
			b.log.Error("bus handler panicked", "event", args.Name, "owner", reg.Owner, "handler", reg.Name, "panic", p)
			mutation = Mutation{}
			err = nil
		}
		if b.warn > 0 {
			if elapsed := b.now().Sub(started); elapsed > b.warn {
				b.log.Warn("bus handler slow", "event", args.Name, "owner", reg.Owner, "handler", reg.Name, "elapsed", elapsed)
			}
		}
	}()
	return reg.Fn(ctx, args)
}

// touch returns the event entry, creating it when first referenced.
// Callers must hold b.mu.
func (b *Bus) touch(name schema.EventName) *event {
	ev := b.events[name]
	if ev == nil {
		ev = &event{
			name:      name,
			createdAt: b.now(),
			buckets:   make(map[int][]*registration),
		}
		b.events[name] = ev
	}
	return ev
}

func (e *event) ordered() []*registration {
	priorities := make([]int, 0, len(e.buckets))
	for priority := range e.buckets {
		priorities = append(priorities, priority)
	}
	sort.Ints(priorities)
	out := make([]*registration, 0, 8)
	for _, priority := range priorities {
		bucket := e.buckets[priority]
		sorted := append([]*registration(nil), bucket...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].seq < sorted[j].seq })
		out = append(out, sorted...)
	}
	return out
}

func (e *event) remove(owner schema.OwnerID, handlerName string) bool {
	removed := false
	for priority, bucket := range e.buckets {
		kept := bucket[:0]
		for _, reg := range bucket {
			if reg.Owner == owner && reg.Name == handlerName {
				removed = true
				continue
			}
			kept = append(kept, reg)
		}
		if len(kept) == 0 {
			delete(e.buckets, priority)
		} else {
			e.buckets[priority] = kept
		}
	}
	return removed
}
