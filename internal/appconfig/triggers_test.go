package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/mudgate/schema"
)

func TestLoadTriggersParsesDefinitions(t *testing.T) {
	path := writeTriggers(t, `
triggers:
  - name: dead
    owner: combat
    pattern: '^You are dead\.$'
  - name: gold
    owner: loot
    pattern: 'You receive (?P<amount>\d+) gold'
    priority: 10
    args:
      amount: int
  - name: secret
    pattern: '^SECRET'
    omit: true
    disabled: true
`)
	reqs, err := LoadTriggers(path)
	if err != nil {
		t.Fatalf("load triggers: %v", err)
	}
	if len(reqs) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(reqs))
	}
	if reqs[0].Owner != "combat" || reqs[0].Name != "dead" {
		t.Fatalf("first request %+v", reqs[0])
	}
	if reqs[1].Priority != 10 || reqs[1].ArgTypes["amount"] != schema.ArgInt {
		t.Fatalf("second request %+v", reqs[1])
	}
	if reqs[2].Owner != "config" {
		t.Fatalf("ownerless trigger should fall back to config, got %q", reqs[2].Owner)
	}
	if !reqs[2].Omit || !reqs[2].Disabled {
		t.Fatalf("third request flags %+v", reqs[2])
	}
}

func TestLoadTriggersMissingFileIsEmpty(t *testing.T) {
	reqs, err := LoadTriggers(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(reqs) != 0 {
		t.Fatalf("expected no requests, got %d", len(reqs))
	}
}

func TestLoadTriggersRejectsMissingPattern(t *testing.T) {
	path := writeTriggers(t, `
triggers:
  - name: broken
    owner: combat
`)
	if _, err := LoadTriggers(path); err == nil || !strings.Contains(err.Error(), "pattern is required") {
		t.Fatalf("expected pattern error, got %v", err)
	}
}

func TestLoadTriggersRejectsUnknownArgType(t *testing.T) {
	path := writeTriggers(t, `
triggers:
  - name: bad
    owner: combat
    pattern: 'x'
    args:
      amount: decimal
`)
	if _, err := LoadTriggers(path); err == nil || !strings.Contains(err.Error(), "unknown arg type") {
		t.Fatalf("expected arg type error, got %v", err)
	}
}

func writeTriggers(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "triggers.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("write triggers: %v", err)
	}
	return path
}
