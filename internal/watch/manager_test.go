package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/passingBySol/agentnotch/internal/config"
	"github.com/passingBySol/agentnotch/internal/proc"
	"github.com/passingBySol/agentnotch/internal/source"
	"github.com/passingBySol/agentnotch/internal/state"
)

// fakeSource serves a fixed handle list and counts parsed lines.
type fakeSource struct {
	name    string
	handles []source.Handle
	err     error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Discover() ([]source.Handle, error) {
	return f.handles, f.err
}

func (f *fakeSource) ParseLine(line []byte) []source.Op {
	if len(line) == 0 || line[0] != '{' {
		return nil
	}
	return []source.Op{{Kind: source.OpTurnStart, Time: time.Now()}}
}

// fakeLocatorSource additionally maps working directories to handles,
// the way the claude source resolves announced sessions.
type fakeLocatorSource struct {
	fakeSource
	projects map[string][]source.Handle
}

func (f *fakeLocatorSource) DiscoverProject(workingDir string) ([]source.Handle, error) {
	return f.projects[workingDir], nil
}

type nopObserver struct{}

func (nopObserver) SessionsUpdated([]*state.Session) {}
func (nopObserver) SessionRemoved(string)            {}
func (nopObserver) SessionCompleted(*state.Session)  {}

func newTestManager(t *testing.T, sources ...source.Source) (*Manager, *state.Engine) {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	engine := state.New(cfg, nopObserver{})
	engine.Start()
	t.Cleanup(engine.Stop)

	m := NewManager(cfg, engine, sources, nil)
	return m, engine
}

func writeLog(t *testing.T, dir, name string, lines string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRescanAttachesAndTearsDown(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "s1.jsonl", `{"type":"x"}`+"\n")

	src := &fakeSource{
		name:    "fake",
		handles: []source.Handle{{SessionID: "s1", LogPath: path, Source: "fake", WorkingDir: "/home/u/p"}},
	}
	m, engine := newTestManager(t, src)
	defer m.Stop()

	m.rescan()
	if got := m.WatcherCount(); got != 1 {
		t.Fatalf("watchers = %d", got)
	}

	waitFor(t, func() bool {
		snaps := engine.Snapshots()
		return len(snaps) == 1 && snaps[0].ID == "s1"
	}, "session registration")

	// Source stops reporting the session: next rescan tears it down.
	src.handles = nil
	m.rescan()
	if got := m.WatcherCount(); got != 0 {
		t.Errorf("watchers after removal = %d", got)
	}
	waitFor(t, func() bool {
		return len(engine.Snapshots()) == 0
	}, "session eviction")
}

func TestRescanSurvivesDiscoverFailure(t *testing.T) {
	var healthEvents []string
	dir := t.TempDir()
	path := writeLog(t, dir, "s1.jsonl", `{"type":"x"}`+"\n")

	good := &fakeSource{
		name:    "good",
		handles: []source.Handle{{SessionID: "s1", LogPath: path, Source: "good"}},
	}
	bad := &fakeSource{name: "bad", err: os.ErrPermission}

	m, _ := newTestManager(t, good, bad)
	m.onHealth = func(sourceName, status string, _, _ int, _ string) {
		healthEvents = append(healthEvents, sourceName+":"+status)
	}
	defer m.Stop()

	// Three failing scans push the bad source to failed; the good one
	// keeps attaching sessions throughout.
	m.rescan()
	m.rescan()
	m.rescan()

	if got := m.WatcherCount(); got != 1 {
		t.Errorf("watchers = %d", got)
	}

	found := false
	for _, ev := range healthEvents {
		if ev == "bad:failed" {
			found = true
		}
	}
	if !found {
		t.Errorf("health events = %v, want bad:failed", healthEvents)
	}
}

func TestLiveLinesReachEngine(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "s1.jsonl", "")

	src := &fakeSource{
		name:    "fake",
		handles: []source.Handle{{SessionID: "s1", LogPath: path, Source: "fake"}},
	}
	m, engine := newTestManager(t, src)
	defer m.Stop()

	m.rescan()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"type":"x"}` + "\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	waitFor(t, func() bool {
		snaps := engine.Snapshots()
		return len(snaps) == 1 && snaps[0].Thinking
	}, "live line to set thinking")
}

func TestAttachProjectAttachesImmediately(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "s1.jsonl", `{"type":"x"}`+"\n")

	src := &fakeLocatorSource{
		fakeSource: fakeSource{name: "fake"},
		projects: map[string][]source.Handle{
			"/home/u/p": {{SessionID: "s1", LogPath: path, Source: "fake", WorkingDir: "/home/u/p"}},
		},
	}
	m, engine := newTestManager(t, src)
	defer m.Stop()

	// Discovery has nothing yet; the announcement attaches the log.
	m.rescan()
	if got := m.WatcherCount(); got != 0 {
		t.Fatalf("watchers before announce = %d", got)
	}

	m.AttachProject("/home/u/p")
	if got := m.WatcherCount(); got != 1 {
		t.Fatalf("watchers after announce = %d", got)
	}
	waitFor(t, func() bool {
		snaps := engine.Snapshots()
		return len(snaps) == 1 && snaps[0].ID == "s1"
	}, "announced session registration")

	// Re-announcing the same directory must not double-attach.
	m.AttachProject("/home/u/p")
	if got := m.WatcherCount(); got != 1 {
		t.Errorf("watchers after re-announce = %d", got)
	}

	m.AttachProject("/nowhere")
	if got := m.WatcherCount(); got != 1 {
		t.Errorf("watchers after unknown dir = %d", got)
	}
}

func TestPruneDeadSessions(t *testing.T) {
	dir := t.TempDir()
	alive := writeLog(t, dir, "alive.jsonl", "")
	dead := writeLog(t, dir, "dead.jsonl", "")

	src := &fakeSource{
		name: "fake",
		handles: []source.Handle{
			{SessionID: "alive", LogPath: alive, Source: "fake", WorkingDir: "/home/u/alive"},
			{SessionID: "dead", LogPath: dead, Source: "fake", WorkingDir: "/home/u/dead"},
		},
	}
	m, _ := newTestManager(t, src)
	defer m.Stop()
	m.agents = func() ([]proc.AgentProcess, error) {
		return []proc.AgentProcess{{PID: 1, Name: "claude", WorkingDir: "/home/u/alive"}}, nil
	}

	m.rescan()
	if got := m.WatcherCount(); got != 2 {
		t.Fatalf("watchers = %d", got)
	}

	m.PruneDeadSessions()
	if got := m.WatcherCount(); got != 1 {
		t.Errorf("watchers after prune = %d", got)
	}
}

func TestPruneSkipsWhenListingFails(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "s1.jsonl", "")

	src := &fakeSource{
		name:    "fake",
		handles: []source.Handle{{SessionID: "s1", LogPath: path, Source: "fake", WorkingDir: "/home/u/p"}},
	}
	m, _ := newTestManager(t, src)
	defer m.Stop()
	m.agents = func() ([]proc.AgentProcess, error) { return nil, os.ErrPermission }

	m.rescan()
	m.PruneDeadSessions()
	if got := m.WatcherCount(); got != 1 {
		t.Errorf("watchers = %d, prune must be a no-op on listing failure", got)
	}
}
