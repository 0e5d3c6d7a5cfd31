package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Init("json", "info", &buf)
	defer Init("text", "info", os.Stderr)

	L("patching").Info("run started", "kind", "boot")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got %q: %v", buf.String(), err)
	}
	if entry["component"] != "patching" {
		t.Fatalf("expected component patching, got %v", entry["component"])
	}
	if entry["msg"] != "run started" {
		t.Fatalf("expected msg 'run started', got %v", entry["msg"])
	}
}

func TestInitSwitchesBetweenFormats(t *testing.T) {
	defer Init("text", "info", os.Stderr)

	// Reconfiguring across handler implementations must not disturb the
	// shared root handler slot.
	var textBuf bytes.Buffer
	Init("text", "info", &textBuf)
	L("main").Info("text pass")

	var jsonBuf bytes.Buffer
	Init("json", "info", &jsonBuf)
	L("main").Info("json pass")

	var backBuf bytes.Buffer
	Init("text", "info", &backBuf)
	L("main").Info("back to text")

	if !strings.Contains(textBuf.String(), "text pass") {
		t.Fatalf("text output missing: %q", textBuf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(jsonBuf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON after switching format, got %q: %v", jsonBuf.String(), err)
	}
	if !strings.Contains(backBuf.String(), "back to text") {
		t.Fatalf("text output after switching back missing: %q", backBuf.String())
	}
}

func TestInitLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	Init("text", "warn", &buf)
	defer Init("text", "info", os.Stderr)

	log := L("worker")
	log.Debug("should be dropped")
	log.Info("should be dropped too")
	log.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("expected debug/info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("expected warn to pass, got %q", out)
	}
}

func TestLoggersPickUpHandlerSwitch(t *testing.T) {
	// Logger created before Init must route to the new handler afterwards.
	log := L("events")

	var buf bytes.Buffer
	Init("text", "info", &buf)
	defer Init("text", "info", os.Stderr)

	log.Info("after switch")
	if !strings.Contains(buf.String(), "after switch") {
		t.Fatalf("pre-Init logger did not pick up new handler: %q", buf.String())
	}
}

func TestRotatingWriterRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "launcher.log")

	rw, err := NewRotatingWriter(path, 1, 2)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()

	// Force the size over 1MB so the next write rotates.
	rw.maxSize = 16

	if _, err := rw.Write([]byte("0123456789abcdef")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := rw.Write([]byte("second")); err != nil {
		t.Fatalf("second write: %v", err)
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected rotated backup %s.1: %v", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current log: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("expected fresh log to contain only second write, got %q", data)
	}
}
