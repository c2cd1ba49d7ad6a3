package eventbus

import (
	"sort"
	"sync/atomic"
	"time"

	"pkt.systems/mudgate/schema"
)

// HandlerDetail describes one registration for diagnostics.
type HandlerDetail struct {
	Owner    schema.OwnerID
	Name     string
	Priority int
	Fired    uint64
}

// EventDetail describes one event for diagnostics.
type EventDetail struct {
	Name      schema.EventName
	CreatedAt time.Time
	Raised    uint64
	Handlers  []HandlerDetail
}

// Detail returns owners, priorities, and counts for one event. The event is
// created empty if it did not exist.
func (b *Bus) Detail(name schema.EventName) EventDetail {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.touch(name).detail()
}

// List returns details for every known event, sorted by name.
func (b *Bus) List() []EventDetail {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]EventDetail, 0, len(b.events))
	for _, ev := range b.events {
		out = append(out, ev.detail())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (e *event) detail() EventDetail {
	detail := EventDetail{
		Name:      e.name,
		CreatedAt: e.createdAt,
		Raised:    e.raised,
	}
	for _, reg := range e.ordered() {
		detail.Handlers = append(detail.Handlers, HandlerDetail{
			Owner:    reg.Owner,
			Name:     reg.Name,
			Priority: reg.Priority,
			Fired:    atomic.LoadUint64(&reg.fired),
		})
	}
	return detail
}
