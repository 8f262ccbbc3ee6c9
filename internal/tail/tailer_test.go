package tail

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type collected struct {
	line   string
	replay bool
}

type collector struct {
	mu    sync.Mutex
	lines []collected
}

func (c *collector) add(line []byte, replay bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, collected{string(line), replay})
}

func (c *collector) snapshot() []collected {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]collected(nil), c.lines...)
}

func (c *collector) waitFor(t *testing.T, n int) []collected {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if lines := c.snapshot(); len(lines) >= n {
			return lines
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d lines, have %d", n, len(c.snapshot()))
	return nil
}

func TestTailerReplaysHistoryThenLive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.jsonl")

	history := `{"type":"user","n":1}` + "\n" + `{"type":"assistant","n":2}` + "\n"
	if err := os.WriteFile(path, []byte(history), 0644); err != nil {
		t.Fatal(err)
	}

	var c collector
	tl, err := New(path, Options{TailBytes: 50 * 1024, TailLines: 200}, c.add, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tl.Close()

	lines := c.waitFor(t, 2)
	for i, l := range lines[:2] {
		if !l.replay {
			t.Errorf("line %d: expected replay flag", i)
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"type":"assistant","n":3}` + "\n")
	f.Close()

	lines = c.waitFor(t, 3)
	last := lines[len(lines)-1]
	if last.replay {
		t.Error("live line should not carry the replay flag")
	}
	if !strings.Contains(last.line, `"n":3`) {
		t.Errorf("last line = %q", last.line)
	}
}

func TestTailerDropsTruncatedFirstHistoryLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.jsonl")

	// Build a file larger than the tail window so replay starts mid-line.
	var sb strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&sb, `{"n":%d,"pad":%q}`+"\n", i, strings.Repeat("x", 100))
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		t.Fatal(err)
	}

	var c collector
	tl, err := New(path, Options{TailBytes: 1024, TailLines: 200}, c.add, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tl.Close()

	lines := c.snapshot()
	if len(lines) == 0 {
		t.Fatal("expected some replayed lines")
	}
	// Every delivered line must be complete JSON starting with '{'.
	for i, l := range lines {
		if !strings.HasPrefix(l.line, "{") || !strings.HasSuffix(l.line, "}") {
			t.Errorf("line %d is truncated: %q", i, l.line)
		}
	}
	// The very last history line is always present.
	if !strings.Contains(lines[len(lines)-1].line, `"n":99`) {
		t.Errorf("last replayed line = %q", lines[len(lines)-1].line)
	}
}

func TestTailerCapsHistoryLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "many.jsonl")

	var sb strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&sb, `{"n":%d}`+"\n", i)
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		t.Fatal(err)
	}

	var c collector
	tl, err := New(path, Options{TailBytes: 50 * 1024, TailLines: 10}, c.add, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tl.Close()

	lines := c.snapshot()
	if len(lines) != 10 {
		t.Fatalf("expected 10 replayed lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0].line, `"n":40`) {
		t.Errorf("first kept line = %q, want n:40", lines[0].line)
	}
}

func TestTailerPartialLineAcrossWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.jsonl")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}

	var c collector
	tl, err := New(path, Options{TailBytes: 1024}, c.add, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tl.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	// Write half a line, then the rest plus a second line.
	f.WriteString(`{"type":"assist`)
	time.Sleep(200 * time.Millisecond)
	if got := c.snapshot(); len(got) != 0 {
		t.Fatalf("incomplete line delivered early: %+v", got)
	}
	f.WriteString(`ant","n":1}` + "\n" + `{"type":"user","n":2}` + "\n")

	lines := c.waitFor(t, 2)
	if lines[0].line != `{"type":"assistant","n":1}` {
		t.Errorf("first = %q", lines[0].line)
	}
	if lines[1].line != `{"type":"user","n":2}` {
		t.Errorf("second = %q", lines[1].line)
	}
}

func TestTailerCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "close.jsonl")
	if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	var c collector
	tl, err := New(path, Options{TailBytes: 1024}, c.add, nil)
	if err != nil {
		t.Fatal(err)
	}
	tl.Close()
	tl.Close()
}
