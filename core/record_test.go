package core

import (
	"bytes"
	"errors"
	"testing"

	"pkt.systems/mudgate/schema"
)

func testConfig() schema.ServiceConfig {
	cfg, _ := schema.NormalizeServiceConfig(schema.ServiceConfig{})
	return cfg
}

func TestFormatPipelineOrder(t *testing.T) {
	cfg := testConfig()
	rec := NewRecord([]string{"hello @gworld@!"}, RecordOptions{})
	wire := rec.Format(cfg, "test")

	want := []byte(cfg.Preamble + " hello \x1b[32mworld\x1b[0m\r\n")
	if !bytes.Equal(wire, want) {
		t.Fatalf("wire = %q, want %q", wire, want)
	}

	steps := []string{}
	for _, entry := range rec.Changes() {
		steps = append(steps, entry.Step)
	}
	wantSteps := []string{StepAnnotate, StepMarkup, StepTerminate, StepSerialize}
	if len(steps) != len(wantSteps) {
		t.Fatalf("steps = %v, want %v", steps, wantSteps)
	}
	for i := range steps {
		if steps[i] != wantSteps[i] {
			t.Fatalf("steps = %v, want %v", steps, wantSteps)
		}
	}
}

func TestFormatIsIdempotent(t *testing.T) {
	cfg := testConfig()
	rec := NewRecord([]string{"hello"}, RecordOptions{External: true})
	first := rec.Format(cfg, "test")
	changes := len(rec.Changes())
	second := rec.Format(cfg, "test")

	if !bytes.Equal(first, second) {
		t.Fatalf("second format changed wire: %q vs %q", first, second)
	}
	if bytes.Count(second, []byte("\r\n")) != 1 {
		t.Fatalf("terminator doubled: %q", second)
	}
	if len(rec.Changes()) != changes {
		t.Fatalf("second format appended change entries")
	}
}

func TestNormalizeSplitsEmbeddedNewlines(t *testing.T) {
	rec := NewRecord([]string{"one\ntwo\r\nthree\r"}, RecordOptions{External: true})
	rec.Format(testConfig(), "test")
	want := "one\r\ntwo\r\nthree\r\n"
	if got := string(rec.Wire()); got != want {
		t.Fatalf("wire = %q, want %q", got, want)
	}
}

func TestExternalLinesGetNoPreamble(t *testing.T) {
	rec := NewRecord([]string{"game text"}, RecordOptions{External: true})
	rec.Format(testConfig(), "test")
	if got := string(rec.Wire()); got != "game text\r\n" {
		t.Fatalf("wire = %q", got)
	}
}

func TestCommandKindSkipsTextSteps(t *testing.T) {
	rec := NewRecord([]string{"@go-ahead@"}, RecordOptions{Kind: schema.KindCommand})
	rec.Format(testConfig(), "test")
	if got := string(rec.Wire()); got != "@go-ahead@\r\n" {
		t.Fatalf("command payload was rewritten: %q", got)
	}
}

func TestColorizeWrapsLines(t *testing.T) {
	cfg := testConfig()
	cfg.ColorizeWith = "@w"
	rec := NewRecord([]string{"hello"}, RecordOptions{External: true})
	rec.Format(cfg, "test")
	if got := string(rec.Wire()); got != "\x1b[37mhello\x1b[0m\r\n" {
		t.Fatalf("wire = %q", got)
	}
}

func TestReplaceIsChangeLogged(t *testing.T) {
	rec := NewRecord([]string{"before"}, RecordOptions{External: true})
	if err := rec.Replace([]string{"after"}, "chat/censor"); err != nil {
		t.Fatalf("replace: %v", err)
	}
	changes := rec.Changes()
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}
	entry := changes[0]
	if entry.Step != StepReplace || entry.Actor != "chat/censor" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Before != "before" || entry.After != "after" {
		t.Fatalf("unexpected before/after %+v", entry)
	}
}

func TestReplaceAfterSerializeRejected(t *testing.T) {
	rec := NewRecord([]string{"x"}, RecordOptions{External: true})
	rec.Format(testConfig(), "test")
	if err := rec.Replace([]string{"y"}, "late"); !errors.Is(err, schema.ErrRecordSealed) {
		t.Fatalf("expected sealed error, got %v", err)
	}
}

func TestOmitClearsDeliveryFlag(t *testing.T) {
	rec := NewRecord([]string{"x"}, RecordOptions{External: true})
	if !rec.Deliverable() {
		t.Fatalf("new record should be deliverable")
	}
	rec.Omit("trigger:t_sec_secret")
	if rec.Deliverable() {
		t.Fatalf("omit did not clear delivery flag")
	}
	changes := rec.Changes()
	if len(changes) != 1 || changes[0].Step != StepOmit || changes[0].Actor != "trigger:t_sec_secret" {
		t.Fatalf("unexpected changes %+v", changes)
	}
	// Omitting twice appends nothing.
	rec.Omit("again")
	if len(rec.Changes()) != 1 {
		t.Fatalf("double omit appended a change entry")
	}
}

func TestChangeLogIsTimeOrdered(t *testing.T) {
	rec := NewRecord([]string{"a\nb"}, RecordOptions{})
	_ = rec.Replace([]string{"c"}, "x")
	rec.Format(testConfig(), "test")
	changes := rec.Changes()
	for i := 1; i < len(changes); i++ {
		if changes[i].At.Before(changes[i-1].At) {
			t.Fatalf("change log out of order at %d: %+v", i, changes)
		}
	}
}
