package sshserver

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestEnsureHostKeyCreatesAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "ssh_host_key")
	first, err := EnsureHostKey(path)
	if err != nil {
		t.Fatalf("create host key: %v", err)
	}
	second, err := EnsureHostKey(path)
	if err != nil {
		t.Fatalf("reload host key: %v", err)
	}
	if !bytes.Equal(first.PublicKey().Marshal(), second.PublicKey().Marshal()) {
		t.Fatalf("host key changed across reload")
	}
}

func TestEnsureHostKeyRequiresPath(t *testing.T) {
	if _, err := EnsureHostKey("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
