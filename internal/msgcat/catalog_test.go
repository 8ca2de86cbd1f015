package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedMessages(t *testing.T) {
	c := MustDefault()
	got, err := c.Render("status.evaluation", map[string]any{"Eval": "0.34"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Evaluation: 0.34" {
		t.Fatalf("got %q", got)
	}
	if side := c.Text("status.side_to_move", map[string]any{"Side": "b"}); side != "Black to move" {
		t.Fatalf("side = %q", side)
	}
	if _, err := c.Render("errors.no_piece", map[string]any{}); err == nil {
		t.Fatalf("missing data key rendered")
	}
}

func TestTextFallsBackToKey(t *testing.T) {
	c := MustDefault()
	if got := c.Text("nope.missing", nil); got != "nope.missing" {
		t.Fatalf("got %q", got)
	}
	var nilCat *Catalog
	if got := nilCat.Text("status.ready", nil); got != "status.ready" {
		t.Fatalf("nil catalog = %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("10-status.yaml", "status:\n  ready: \"Bereit\"\n")
	write("notes.txt", "ignored")

	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Text("status.ready", nil); got != "Bereit" {
		t.Fatalf("override not applied: %q", got)
	}
	if got := c.Text("status.scanning", nil); got != "Scanning..." {
		t.Fatalf("default lost: %q", got)
	}

	write("20-dup.yml", "status:\n  ready: \"Prêt\"\n")
	if _, err := New(dir); err == nil || !strings.Contains(err.Error(), "duplicate override key") {
		t.Fatalf("duplicate keys err = %v", err)
	}
}

func TestRejectsNonStringLeaves(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("status:\n  ready: 3\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("numeric leaf accepted")
	}
}
