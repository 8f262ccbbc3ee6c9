// Package watch runs session discovery and file tailing: a periodic
// rescan finds recent session logs per source, attaches a tailer to
// each, and feeds parsed operations into the state engine. It also
// tracks per-source health and prunes sessions whose process is gone.
package watch

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/passingBySol/agentnotch/internal/config"
	"github.com/passingBySol/agentnotch/internal/proc"
	"github.com/passingBySol/agentnotch/internal/source"
	"github.com/passingBySol/agentnotch/internal/state"
	"github.com/passingBySol/agentnotch/internal/tail"
)

// HealthFunc receives source health transitions.
type HealthFunc func(sourceName, status string, discoverFailures, degradedSessions int, lastErr string)

// ListAgentsFunc lists running agent processes; swapped in tests.
type ListAgentsFunc func() ([]proc.AgentProcess, error)

type watcher struct {
	handle source.Handle
	tailer *tail.Tailer
}

type Manager struct {
	cfg      *config.Config
	engine   *state.Engine
	sources  []source.Source
	health   map[string]*source.Health
	onHealth HealthFunc
	agents   ListAgentsFunc

	mu       sync.Mutex
	watchers map[string]*watcher
	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewManager(cfg *config.Config, engine *state.Engine, sources []source.Source, onHealth HealthFunc) *Manager {
	m := &Manager{
		cfg:      cfg,
		engine:   engine,
		sources:  sources,
		health:   make(map[string]*source.Health),
		onHealth: onHealth,
		agents:   proc.ListAgents,
		watchers: make(map[string]*watcher),
		stop:     make(chan struct{}),
	}
	for _, src := range sources {
		m.health[src.Name()] = source.NewHealth()
	}
	return m
}

// Start performs an immediate scan and then rescans on the configured
// interval until Stop.
func (m *Manager) Start() {
	m.rescan()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.Discovery.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.rescan()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop halts rescanning and tears every watcher down.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()

	m.mu.Lock()
	keys := make([]string, 0, len(m.watchers))
	for key := range m.watchers {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	for _, key := range keys {
		m.teardown(key)
	}
}

// rescan reconciles the watcher set against each source's current
// discovery result.
func (m *Manager) rescan() {
	live := make(map[string]source.Handle)

	for _, src := range m.sources {
		h := m.health[src.Name()]
		handles, err := src.Discover()
		if err != nil {
			h.RecordDiscoverFailure(err)
			log.Printf("[watch] %s discover failed: %v", src.Name(), err)
			m.emitHealth(src.Name(), h)
			continue
		}
		h.RecordDiscoverSuccess()
		m.emitHealth(src.Name(), h)

		for _, handle := range handles {
			live[state.Key(handle.Source, handle.SessionID)] = handle
		}
	}

	m.mu.Lock()
	var toStart []source.Handle
	var toStop []string
	for key, handle := range live {
		if _, ok := m.watchers[key]; !ok {
			toStart = append(toStart, handle)
		}
	}
	for key := range m.watchers {
		if _, ok := live[key]; !ok {
			toStop = append(toStop, key)
		}
	}
	m.mu.Unlock()

	for _, handle := range toStart {
		if err := m.attach(handle); err != nil {
			log.Printf("[watch] attach %s: %v", handle.LogPath, err)
		}
	}
	for _, key := range toStop {
		m.teardown(key)
	}
}

// attach registers the session and starts tailing its log file.
func (m *Manager) attach(handle source.Handle) error {
	src := m.sourceFor(handle.Source)
	if src == nil {
		return fmt.Errorf("no source registered for %q", handle.Source)
	}
	key := state.Key(handle.Source, handle.SessionID)
	h := m.health[handle.Source]

	m.engine.UpsertSession(handle)

	onLine := func(line []byte, replay bool) {
		ops := src.ParseLine(line)
		if ops == nil {
			// A nil result from valid JSON is just an uninteresting
			// line; only broken JSON counts against health.
			if !json.Valid(line) {
				h.RecordParseFailure(key, fmt.Errorf("unparseable line in %s", handle.LogPath))
				m.emitHealth(handle.Source, h)
			}
			return
		}
		h.RecordParseSuccess(key)
		m.engine.ApplyOps(key, ops, replay)
	}
	onError := func(err error) {
		log.Printf("[watch] tail %s: %v", handle.LogPath, err)
	}

	tailer, err := tail.New(handle.LogPath, tail.Options{
		TailBytes: m.cfg.Discovery.TailBytes,
		TailLines: m.cfg.Discovery.TailLines,
	}, onLine, onError)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.watchers[key] = &watcher{handle: handle, tailer: tailer}
	m.mu.Unlock()

	log.Printf("[watch] tailing %s (%s)", handle.LogPath, handle.Source)
	return nil
}

// AttachProject attaches the session log backing a working directory
// right away, for sessions announced over the notification socket
// before the next rescan would find them.
func (m *Manager) AttachProject(workingDir string) {
	if workingDir == "" {
		return
	}
	for _, src := range m.sources {
		locator, ok := src.(source.ProjectLocator)
		if !ok {
			continue
		}
		handles, err := locator.DiscoverProject(workingDir)
		if err != nil {
			log.Printf("[watch] locate %s project for %s: %v", src.Name(), workingDir, err)
			continue
		}
		for _, handle := range handles {
			key := state.Key(handle.Source, handle.SessionID)
			m.mu.Lock()
			_, live := m.watchers[key]
			m.mu.Unlock()
			if live {
				continue
			}
			if err := m.attach(handle); err != nil {
				log.Printf("[watch] attach %s: %v", handle.LogPath, err)
			}
		}
	}
}

// teardown is the single place a session leaves the live set: the
// tailer closes, health forgets it, and the engine evicts its state.
func (m *Manager) teardown(key string) {
	m.mu.Lock()
	w, ok := m.watchers[key]
	if ok {
		delete(m.watchers, key)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	w.tailer.Close()
	if h, ok := m.health[w.handle.Source]; ok {
		h.RemoveSession(key)
	}
	m.engine.RemoveSession(key)
	log.Printf("[watch] stopped tailing %s", w.handle.LogPath)
}

// PruneDeadSessions drops watchers whose working directory no longer
// has a live agent process. Called on the rescan cadence by callers
// that opt in; a failed process listing prunes nothing.
func (m *Manager) PruneDeadSessions() {
	agents, err := m.agents()
	if err != nil {
		return
	}

	m.mu.Lock()
	var dead []string
	for key, w := range m.watchers {
		if w.handle.WorkingDir == "" {
			continue
		}
		if !proc.AnyAlive(agents, w.handle.WorkingDir) {
			dead = append(dead, key)
		}
	}
	m.mu.Unlock()

	for _, key := range dead {
		m.teardown(key)
	}
}

// WatcherCount returns the number of active tailers.
func (m *Manager) WatcherCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchers)
}

func (m *Manager) sourceFor(name string) source.Source {
	for _, src := range m.sources {
		if src.Name() == name {
			return src
		}
	}
	return nil
}

func (m *Manager) emitHealth(name string, h *source.Health) {
	if m.onHealth == nil {
		return
	}
	status, discoverFailures, degraded, lastErr, changed := h.SnapshotAndEmit(m.cfg.Discovery.HealthWarningThreshold)
	if !changed {
		return
	}
	m.onHealth(name, string(status), discoverFailures, degraded, lastErr)
}
