package core

import (
	"context"
	"strings"
	"testing"

	"pkt.systems/mudgate/internal/eventbus"
	"pkt.systems/mudgate/internal/trigger"
	"pkt.systems/mudgate/schema"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(schema.ServiceConfig{}, ServiceDeps{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestOmitTriggerSuppressesDeliveryButNotObservation(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	var observed []string
	err := svc.Bus().Register(schema.EventLineRead, eventbus.Registration{
		Owner: "audit",
		Name:  "tap",
		Fn: func(_ context.Context, args *eventbus.Args) (eventbus.Mutation, error) {
			observed = append(observed, args.Line)
			return eventbus.Mutation{}, nil
		},
	})
	if err != nil {
		t.Fatalf("register tap: %v", err)
	}
	if _, err := svc.Triggers().Add(trigger.AddRequest{Owner: "sec", Name: "secret", Pattern: `^SECRET.*$`, Omit: true}); err != nil {
		t.Fatalf("add trigger: %v", err)
	}

	client, err := svc.AttachClient(ctx, "c1", false)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := svc.MarkLoggedIn("c1"); err != nil {
		t.Fatalf("login: %v", err)
	}

	rec := svc.ProcessLine(ctx, "SECRET handshake", schema.KindOutput)
	if rec.Deliverable() {
		t.Fatalf("record should be omitted")
	}
	if client.Pending() != 0 {
		t.Fatalf("omitted line reached client queue")
	}
	if len(observed) != 1 || observed[0] != "SECRET handshake" {
		t.Fatalf("line.read observer missed raw line: %v", observed)
	}

	rec = svc.ProcessLine(ctx, "public news", schema.KindOutput)
	if !rec.Deliverable() {
		t.Fatalf("plain line suppressed")
	}
	if client.Pending() != 1 {
		t.Fatalf("plain line not delivered")
	}
}

func TestHandlerRewriteIsAuditedAndDelivered(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	err := svc.Bus().Register(schema.EventLineRead, eventbus.Registration{
		Owner: "filter",
		Name:  "redact",
		Fn: func(_ context.Context, args *eventbus.Args) (eventbus.Mutation, error) {
			if strings.Contains(args.Line, "password") {
				return eventbus.RewriteTo(strings.ReplaceAll(args.Line, "password", "********")), nil
			}
			return eventbus.Mutation{}, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	client, _ := svc.AttachClient(ctx, "c1", false)
	_ = svc.MarkLoggedIn("c1")

	rec := svc.ProcessLine(ctx, "your password is hunter2", schema.KindOutput)
	unit, err := client.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if strings.Contains(string(unit.Payload), "password") {
		t.Fatalf("rewrite not applied to wire payload: %q", unit.Payload)
	}
	var replaced bool
	for _, entry := range rec.Changes() {
		if entry.Step == StepReplace && entry.Actor == "filter/redact" {
			replaced = true
		}
	}
	if !replaced {
		t.Fatalf("rewrite missing from change log: %+v", rec.Changes())
	}
}

func TestSendInternalCarriesPreamble(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	client, _ := svc.AttachClient(ctx, "c1", false)
	_ = svc.MarkLoggedIn("c1")

	svc.SendInternal(ctx, []string{"trigger added"}, RecordOptions{}, "operator")
	unit, err := client.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	want := schema.DefaultPreamble + " trigger added\r\n"
	if string(unit.Payload) != want {
		t.Fatalf("payload %q, want %q", unit.Payload, want)
	}
}

func TestExternalLineKeepsRawText(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	client, _ := svc.AttachClient(ctx, "c1", false)
	_ = svc.MarkLoggedIn("c1")

	svc.ProcessLine(ctx, "You are standing in a field.", schema.KindOutput)
	unit, _ := client.Receive(ctx)
	if string(unit.Payload) != "You are standing in a field.\r\n" {
		t.Fatalf("external line mangled: %q", unit.Payload)
	}
}

func TestRemoveOwnerDropsHandlersAndTriggers(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	_ = svc.Bus().Register(schema.EventLineRead, eventbus.Registration{
		Owner: "plugin",
		Name:  "h1",
		Fn: func(context.Context, *eventbus.Args) (eventbus.Mutation, error) {
			return eventbus.Mutation{}, nil
		},
	})
	if _, err := svc.Triggers().Add(trigger.AddRequest{Owner: "plugin", Name: "a", Pattern: `foo`}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Triggers().Add(trigger.AddRequest{Owner: "plugin", Name: "b", Pattern: `bar`}); err != nil {
		t.Fatalf("add: %v", err)
	}

	handlers, triggers := svc.RemoveOwner(ctx, "plugin")
	if handlers != 1 || triggers != 2 {
		t.Fatalf("removed handlers=%d triggers=%d", handlers, triggers)
	}
	if got := len(svc.Triggers().List()); got != 0 {
		t.Fatalf("triggers remain: %d", got)
	}
}

func TestRecentKeepsBoundedHistory(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(schema.ServiceConfig{HistoryMax: 3}, ServiceDeps{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	for _, line := range []string{"one", "two", "three", "four"} {
		svc.ProcessLine(ctx, line, schema.KindOutput)
	}
	recent := svc.Recent()
	if len(recent) != 3 {
		t.Fatalf("history size %d, want 3", len(recent))
	}
	if got := recent[len(recent)-1].Lines()[0]; got != "four\r\n" {
		t.Fatalf("newest record %q, want %q", got, "four\r\n")
	}
	if got := recent[0].Lines()[0]; got != "two\r\n" {
		t.Fatalf("oldest retained %q, want %q", got, "two\r\n")
	}
}

func TestAttachRaisesClientEvent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	var attached []schema.ClientID
	_ = svc.Bus().Register(schema.EventClientAttached, eventbus.Registration{
		Owner: "audit",
		Name:  "watch",
		Fn: func(_ context.Context, args *eventbus.Args) (eventbus.Mutation, error) {
			attached = append(attached, args.ClientID)
			return eventbus.Mutation{}, nil
		},
	})
	if _, err := svc.AttachClient(ctx, "c1", false); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if len(attached) != 1 || attached[0] != "c1" {
		t.Fatalf("attach event missing: %v", attached)
	}
}
