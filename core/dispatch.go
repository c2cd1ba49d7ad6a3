package core

import (
	"context"
	"fmt"
	"sync"

	"pkt.systems/mudgate/schema"
	"pkt.systems/pslog"
)

// WireUnit is what one client receives for one Record: the serialized
// payload plus the message kind.
type WireUnit struct {
	Payload []byte
	Kind    schema.MessageKind
}

// Client is one connected channel's view of the dispatcher: identity,
// visibility flags, and the private unbounded outbound queue. Lifecycle is
// owned by the transport; the dispatcher only reads identity and writes to
// the queue.
type Client struct {
	id schema.ClientID

	mu       sync.Mutex
	viewOnly bool
	loggedIn bool
	queue    []WireUnit
	closed   bool
	wake     chan struct{}
}

// ID returns the client identifier.
func (c *Client) ID() schema.ClientID { return c.id }

// ViewOnly reports whether the client is a read-only observer.
func (c *Client) ViewOnly() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewOnly
}

// LoggedIn reports whether the client completed login.
func (c *Client) LoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedIn
}

// push appends to the queue and wakes the writer. It never blocks.
func (c *Client) push(u WireUnit) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, u)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// Receive blocks until a wire unit is queued, the client is detached, or
// the context ends. The per-client writer goroutine drains the queue with
// it, so one slow client never stalls dispatch or other clients.
func (c *Client) Receive(ctx context.Context) (WireUnit, error) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			u := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return u, nil
		}
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return WireUnit{}, schema.ErrClientNotFound
		}
		select {
		case <-ctx.Done():
			return WireUnit{}, ctx.Err()
		case <-c.wake:
		}
	}
}

// Pending returns the queue depth.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Client) close() {
	c.mu.Lock()
	c.closed = true
	c.queue = nil
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Dispatcher fans formatted records out to each eligible client's queue.
type Dispatcher struct {
	mu      sync.Mutex
	clients map[schema.ClientID]*Client
	log     pslog.Logger
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher(logger pslog.Logger) *Dispatcher {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Dispatcher{
		clients: make(map[schema.ClientID]*Client),
		log:     logger,
	}
}

// Attach registers a client channel and returns it.
func (d *Dispatcher) Attach(id schema.ClientID, viewOnly bool) (*Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.clients[id]; exists {
		return nil, fmt.Errorf("%w: %s", schema.ErrDuplicateClient, id)
	}
	client := &Client{
		id:       id,
		viewOnly: viewOnly,
		wake:     make(chan struct{}, 1),
	}
	d.clients[id] = client
	d.log.Info("client attach", "client", id, "view_only", viewOnly, "clients", len(d.clients))
	return client, nil
}

// Detach removes a client and closes its queue. Unknown ids are a no-op.
func (d *Dispatcher) Detach(id schema.ClientID) {
	d.mu.Lock()
	client := d.clients[id]
	delete(d.clients, id)
	remaining := len(d.clients)
	d.mu.Unlock()
	if client == nil {
		return
	}
	client.close()
	d.log.Info("client detach", "client", id, "clients", remaining)
}

// MarkLoggedIn flips the client's login state.
func (d *Dispatcher) MarkLoggedIn(id schema.ClientID) error {
	d.mu.Lock()
	client := d.clients[id]
	d.mu.Unlock()
	if client == nil {
		return fmt.Errorf("%w: %s", schema.ErrClientNotFound, id)
	}
	client.mu.Lock()
	client.loggedIn = true
	client.mu.Unlock()
	return nil
}

// SetViewOnly flips the client's observer flag.
func (d *Dispatcher) SetViewOnly(id schema.ClientID, viewOnly bool) error {
	d.mu.Lock()
	client := d.clients[id]
	d.mu.Unlock()
	if client == nil {
		return fmt.Errorf("%w: %s", schema.ErrClientNotFound, id)
	}
	client.mu.Lock()
	client.viewOnly = viewOnly
	client.mu.Unlock()
	return nil
}

// Client looks up an attached client.
func (d *Dispatcher) Client(id schema.ClientID) (*Client, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	client, ok := d.clients[id]
	return client, ok
}

// Clients returns the attached client ids.
func (d *Dispatcher) Clients() []schema.ClientID {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]schema.ClientID, 0, len(d.clients))
	for id := range d.clients {
		out = append(out, id)
	}
	return out
}

// Dispatch enqueues the formatted record for every eligible client and
// returns how many queues received it. Enqueue never blocks the
// dispatching path.
func (d *Dispatcher) Dispatch(rec *Record, payload []byte) int {
	if !rec.Deliverable() {
		return 0
	}
	d.mu.Lock()
	candidates := make([]*Client, 0, len(d.clients))
	if len(rec.clients) > 0 {
		for _, id := range rec.clients {
			if client := d.clients[id]; client != nil {
				candidates = append(candidates, client)
			}
		}
	} else {
		excluded := make(map[schema.ClientID]bool, len(rec.exclude))
		for _, id := range rec.exclude {
			excluded[id] = true
		}
		for id, client := range d.clients {
			if !excluded[id] {
				candidates = append(candidates, client)
			}
		}
	}
	d.mu.Unlock()

	unit := WireUnit{Payload: payload, Kind: rec.Kind()}
	delivered := 0
	for _, client := range candidates {
		client.mu.Lock()
		viewOnly, loggedIn := client.viewOnly, client.loggedIn
		client.mu.Unlock()
		// View-only observers never see internal output; it would echo
		// back into shared sessions.
		if viewOnly && rec.Internal() {
			continue
		}
		if !loggedIn && !rec.PreLogin() {
			continue
		}
		if client.push(unit) {
			delivered++
		}
	}
	return delivered
}
