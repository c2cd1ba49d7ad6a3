package eventbus

import (
	"context"
	"errors"
	"testing"

	"pkt.systems/mudgate/schema"
)

func TestRaiseOrdersByPriority(t *testing.T) {
	bus := New(nil, 0)
	var order []int
	record := func(p int) HandlerFunc {
		return func(ctx context.Context, args *Args) (Mutation, error) {
			order = append(order, p)
			return Mutation{}, nil
		}
	}
	// Register out of numeric order on purpose.
	for _, p := range []int{90, 10, 50} {
		err := bus.Register("line.read", Registration{Owner: "test", Name: nameFor(p), Priority: p, Fn: record(p)})
		if err != nil {
			t.Fatalf("register priority %d: %v", p, err)
		}
	}
	bus.Raise(context.Background(), "line.read", &Args{Line: "x"})
	if len(order) != 3 || order[0] != 10 || order[1] != 50 || order[2] != 90 {
		t.Fatalf("unexpected dispatch order %v", order)
	}
}

func nameFor(p int) string {
	switch p {
	case 10:
		return "low"
	case 50:
		return "mid"
	default:
		return "high"
	}
}

func TestUnsetPriorityRunsAtDefault(t *testing.T) {
	bus := New(nil, 0)
	var order []string
	record := func(name string) HandlerFunc {
		return func(ctx context.Context, args *Args) (Mutation, error) {
			order = append(order, name)
			return Mutation{}, nil
		}
	}
	regs := []Registration{
		{Owner: "test", Name: "late", Priority: DefaultPriority + 1, Fn: record("late")},
		{Owner: "test", Name: "unset", Fn: record("unset")},
		{Owner: "test", Name: "early", Priority: 1, Fn: record("early")},
	}
	for _, reg := range regs {
		if err := bus.Register("line.read", reg); err != nil {
			t.Fatalf("register %s: %v", reg.Name, err)
		}
	}
	bus.Raise(context.Background(), "line.read", &Args{Line: "x"})
	if len(order) != 3 || order[0] != "early" || order[1] != "unset" || order[2] != "late" {
		t.Fatalf("unexpected dispatch order %v", order)
	}
	// The rewrite surfaces in diagnostics too, not just dispatch order.
	for _, h := range bus.Detail("line.read").Handlers {
		if h.Name == "unset" && h.Priority != DefaultPriority {
			t.Fatalf("unset priority reported as %d", h.Priority)
		}
	}
}

func TestRaiseIsolatesFailingHandlers(t *testing.T) {
	bus := New(nil, 0)
	ran := false
	_ = bus.Register("line.read", Registration{Owner: "bad", Name: "panics", Priority: 10, Fn: func(ctx context.Context, args *Args) (Mutation, error) {
		panic("boom")
	}})
	_ = bus.Register("line.read", Registration{Owner: "bad", Name: "errors", Priority: 20, Fn: func(ctx context.Context, args *Args) (Mutation, error) {
		return Mutation{}, errors.New("nope")
	}})
	_ = bus.Register("line.read", Registration{Owner: "good", Name: "runs", Priority: 30, Fn: func(ctx context.Context, args *Args) (Mutation, error) {
		ran = true
		return Mutation{}, nil
	}})

	outcome := bus.Raise(context.Background(), "line.read", &Args{Line: "x"})
	if !ran {
		t.Fatalf("handler after failures did not run")
	}
	if outcome.Handlers != 3 {
		t.Fatalf("expected 3 handler invocations, got %d", outcome.Handlers)
	}
}

func TestRaiseFoldsMutationsForward(t *testing.T) {
	bus := New(nil, 0)
	_ = bus.Register("line.read", Registration{Owner: "a", Name: "rewrite", Priority: 10, Fn: func(ctx context.Context, args *Args) (Mutation, error) {
		return RewriteTo(args.Line + "!"), nil
	}})
	var seen string
	_ = bus.Register("line.read", Registration{Owner: "b", Name: "observe", Priority: 20, Fn: func(ctx context.Context, args *Args) (Mutation, error) {
		seen = args.Line
		return OmitLine(), nil
	}})

	outcome := bus.Raise(context.Background(), "line.read", &Args{Line: "hello", Raw: "hello"})
	if seen != "hello!" {
		t.Fatalf("later handler saw %q, want folded rewrite", seen)
	}
	if outcome.Line != "hello!" || !outcome.Omit {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if len(outcome.Mutations) != 2 {
		t.Fatalf("expected 2 applied mutations, got %d", len(outcome.Mutations))
	}
	if outcome.Mutations[0].Owner != "a" || outcome.Mutations[1].Owner != "b" {
		t.Fatalf("mutation actors wrong: %+v", outcome.Mutations)
	}
	if outcome.Mutations[0].Seq != 1 || outcome.Mutations[1].Seq != 2 {
		t.Fatalf("mutation seq wrong: %+v", outcome.Mutations)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	bus := New(nil, 0)
	fn := func(ctx context.Context, args *Args) (Mutation, error) { return Mutation{}, nil }
	for i := 0; i < 3; i++ {
		if err := bus.Register("line.read", Registration{Owner: "a", Name: "h", Priority: 10, Fn: fn}); err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}
	if got := bus.HandlerCount("line.read"); got != 1 {
		t.Fatalf("expected 1 handler, got %d", got)
	}
	if !bus.IsRegistered("line.read", "a", "h") {
		t.Fatalf("expected handler registered")
	}
}

func TestUnknownEventAutoCreates(t *testing.T) {
	bus := New(nil, 0)
	outcome := bus.Raise(context.Background(), "never.seen", &Args{Line: "x"})
	if outcome.Handlers != 0 || outcome.Line != "x" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	detail := bus.Detail("never.seen")
	if detail.Raised != 1 {
		t.Fatalf("expected raise counted, got %d", detail.Raised)
	}
	if bus.Raised() != 1 {
		t.Fatalf("expected global counter 1, got %d", bus.Raised())
	}
}

func TestRemoveAllDropsOwner(t *testing.T) {
	bus := New(nil, 0)
	fn := func(ctx context.Context, args *Args) (Mutation, error) { return Mutation{}, nil }
	_ = bus.Register("a", Registration{Owner: "plugin", Name: "one", Fn: fn})
	_ = bus.Register("b", Registration{Owner: "plugin", Name: "two", Priority: 10, Fn: fn})
	_ = bus.Register("b", Registration{Owner: "other", Name: "keep", Priority: 10, Fn: fn})

	if removed := bus.RemoveAll("plugin"); removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if bus.IsRegistered("a", "plugin", "one") || bus.IsRegistered("b", "plugin", "two") {
		t.Fatalf("plugin handlers still registered")
	}
	if !bus.IsRegistered("b", "other", "keep") {
		t.Fatalf("unrelated handler was removed")
	}
}

func TestUnregisterAbsentIsNoop(t *testing.T) {
	bus := New(nil, 0)
	bus.Unregister("line.read", "ghost", "none")
	if got := bus.HandlerCount("line.read"); got != 0 {
		t.Fatalf("expected 0 handlers, got %d", got)
	}
}

func TestDetailReportsCounts(t *testing.T) {
	bus := New(nil, 0)
	fn := func(ctx context.Context, args *Args) (Mutation, error) { return Mutation{}, nil }
	_ = bus.Register("line.read", Registration{Owner: "a", Name: "h", Priority: 10, Fn: fn})
	bus.Raise(context.Background(), "line.read", &Args{Line: "x"})
	bus.Raise(context.Background(), "line.read", &Args{Line: "y"})

	detail := bus.Detail("line.read")
	if detail.Raised != 2 {
		t.Fatalf("expected 2 raises, got %d", detail.Raised)
	}
	if len(detail.Handlers) != 1 || detail.Handlers[0].Fired != 2 {
		t.Fatalf("unexpected handler detail %+v", detail.Handlers)
	}
	if detail.Handlers[0].Priority != 10 || detail.Handlers[0].Owner != "a" {
		t.Fatalf("unexpected handler identity %+v", detail.Handlers[0])
	}
}

func TestRegisterRejectsInvalid(t *testing.T) {
	bus := New(nil, 0)
	if err := bus.Register("x", Registration{Owner: "a", Name: "h"}); err == nil {
		t.Fatalf("expected error for nil fn")
	}
	fn := func(ctx context.Context, args *Args) (Mutation, error) { return Mutation{}, nil }
	if err := bus.Register("x", Registration{Owner: "", Name: "h", Fn: fn}); !errors.Is(err, schema.ErrEmptyName) {
		t.Fatalf("expected empty-name error, got %v", err)
	}
	if err := bus.Register("x", Registration{Owner: "a", Name: "", Fn: fn}); !errors.Is(err, schema.ErrEmptyName) {
		t.Fatalf("expected empty-name error, got %v", err)
	}
}
