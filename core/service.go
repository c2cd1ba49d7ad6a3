package core

import (
	"context"
	"sync"

	"pkt.systems/mudgate/internal/eventbus"
	"pkt.systems/mudgate/internal/logx"
	"pkt.systems/mudgate/internal/trigger"
	"pkt.systems/mudgate/schema"
	"pkt.systems/pslog"
)

// ServiceDeps captures optional dependencies for the core service.
type ServiceDeps struct {
	Logger pslog.Logger
}

// Service is the injected runtime context the whole pipeline hangs off:
// the event bus, the trigger engine, the client dispatcher, and the record
// history. Construct one per proxy instance; nothing here is process-global.
type Service struct {
	cfg        schema.ServiceConfig
	bus        *eventbus.Bus
	engine     *trigger.Engine
	dispatcher *Dispatcher
	logger     pslog.Logger

	// processMu serializes line dispatch with owner removal so a plugin
	// unload lands between lines, never mid-dispatch.
	processMu sync.Mutex

	historyMu sync.Mutex
	history   *recordHistory
}

// NewService constructs the core service.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (*Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg = normalized
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	bus := eventbus.New(logger, cfg.HandlerWarn)
	return &Service{
		cfg:        cfg,
		bus:        bus,
		engine:     trigger.NewEngine(bus, logger),
		dispatcher: NewDispatcher(logger),
		logger:     logger,
		history:    newRecordHistory(cfg.HistoryMax),
	}, nil
}

// Bus exposes the event bus for handler registration and diagnostics.
func (s *Service) Bus() *eventbus.Bus { return s.bus }

// Triggers exposes the trigger engine for registration and diagnostics.
func (s *Service) Triggers() *trigger.Engine { return s.engine }

// Config returns the normalized service config.
func (s *Service) Config() schema.ServiceConfig { return s.cfg }

// ProcessLine runs one upstream line through the full pipeline: record
// construction, event raising, trigger dispatch, audited mutation,
// formatting, and fan-out. It returns the record for inspection.
func (s *Service) ProcessLine(ctx context.Context, line string, kind schema.MessageKind) *Record {
	s.processMu.Lock()
	defer s.processMu.Unlock()

	rec := NewRecord([]string{line}, RecordOptions{External: true, Kind: kind})
	res := s.engine.ProcessLine(ctx, line, false, kind)
	s.applyResult(ctx, rec, res)
	s.deliver(ctx, rec, "pipeline")
	return rec
}

// SendInternal constructs an internal record and delivers it through the
// formatting pipeline, bypassing trigger matching.
func (s *Service) SendInternal(ctx context.Context, lines []string, opts RecordOptions, actor string) *Record {
	rec := NewRecord(lines, opts)
	s.deliver(ctx, rec, actor)
	return rec
}

// Send formats a prepared record and fans it out.
func (s *Service) Send(ctx context.Context, rec *Record, actor string) int {
	return s.deliver(ctx, rec, actor)
}

func (s *Service) applyResult(ctx context.Context, rec *Record, res trigger.LineResult) {
	log := logx.Ctx(ctx)
	for _, m := range res.Mutations {
		actor := string(m.Owner) + "/" + m.Handler
		if m.Rewrite != nil {
			if err := rec.Replace([]string{*m.Rewrite}, actor); err != nil {
				log.Warn("record replace rejected", "actor", actor, "err", err)
			}
		}
		if m.Omit {
			rec.Omit(actor)
		}
	}
	for _, m := range res.Matches {
		if m.Omit {
			rec.Omit("trigger:" + string(m.Trigger))
		}
	}
	if res.Omit && rec.Deliverable() {
		rec.Omit("pipeline")
	}
}

func (s *Service) deliver(ctx context.Context, rec *Record, actor string) int {
	log := logx.Ctx(ctx)
	payload := rec.Format(s.cfg, actor)
	delivered := 0
	if rec.Deliverable() {
		delivered = s.dispatcher.Dispatch(rec, payload)
	} else {
		log.Debug("record suppressed", "actor", actor)
	}
	s.historyMu.Lock()
	s.history.Append(rec)
	s.historyMu.Unlock()
	return delivered
}

// Recent returns the bounded recent-record archive, newest last.
func (s *Service) Recent() []*Record {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	return s.history.Recent()
}

// AttachClient registers a client channel and raises the attach event.
func (s *Service) AttachClient(ctx context.Context, id schema.ClientID, viewOnly bool) (*Client, error) {
	client, err := s.dispatcher.Attach(id, viewOnly)
	if err != nil {
		return nil, err
	}
	s.bus.Raise(ctx, schema.EventClientAttached, &eventbus.Args{ClientID: id})
	return client, nil
}

// DetachClient removes a client channel and raises the detach event.
func (s *Service) DetachClient(ctx context.Context, id schema.ClientID) {
	s.dispatcher.Detach(id)
	s.bus.Raise(ctx, schema.EventClientDetached, &eventbus.Args{ClientID: id})
}

// MarkLoggedIn flips a client's login state.
func (s *Service) MarkLoggedIn(id schema.ClientID) error {
	return s.dispatcher.MarkLoggedIn(id)
}

// SetViewOnly flips a client's observer flag.
func (s *Service) SetViewOnly(id schema.ClientID, viewOnly bool) error {
	return s.dispatcher.SetViewOnly(id, viewOnly)
}

// Clients returns the attached client ids.
func (s *Service) Clients() []schema.ClientID {
	return s.dispatcher.Clients()
}

// RemoveOwner drops every bus handler and trigger the owner registered, as
// one atomic step between lines.
func (s *Service) RemoveOwner(ctx context.Context, owner schema.OwnerID) (handlers, triggers int) {
	s.processMu.Lock()
	defer s.processMu.Unlock()
	handlers = s.bus.RemoveAll(owner)
	triggers = s.engine.RemoveOwner(owner)
	logx.WithOwner(ctx, owner).Info("owner unloaded", "handlers", handlers, "triggers", triggers)
	return handlers, triggers
}
