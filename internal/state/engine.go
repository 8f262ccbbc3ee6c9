package state

import (
	"log"
	"sync"
	"time"

	"github.com/passingBySol/agentnotch/internal/config"
	"github.com/passingBySol/agentnotch/internal/notify"
	"github.com/passingBySol/agentnotch/internal/source"
	"github.com/passingBySol/agentnotch/internal/track"
)

// Observer receives published state. Callbacks run on the engine
// goroutine; implementations must not call back into the engine
// synchronously.
type Observer interface {
	// SessionsUpdated delivers the full filtered snapshot list after a
	// state-changing transaction.
	SessionsUpdated(sessions []*Session)
	// SessionRemoved reports a session leaving the live set.
	SessionRemoved(key string)
	// SessionCompleted fires once when a session is inferred finished,
	// carrying the final snapshot.
	SessionCompleted(s *Session)
}

// Engine is the single owner of all session state. I/O components hand
// it fully-decoded events; it serializes every mutation onto one
// goroutine, derives published snapshots, and runs the timing
// heuristics.
type Engine struct {
	cfg    *config.Config
	obs    Observer
	filter *PrivacyFilter
	now    func() time.Time

	ops  chan func()
	done chan struct{}

	startMu sync.Mutex
	started bool

	// Everything below is owned by the run goroutine.
	sessions map[string]*session
	idleSlot slot
	toolSlot slot
	dirty    bool

	lastActivity time.Time
}

func New(cfg *config.Config, obs Observer) *Engine {
	return &Engine{
		cfg:      cfg,
		obs:      obs,
		filter:   NewPrivacyFilter(cfg.Privacy),
		now:      time.Now,
		ops:      make(chan func(), 256),
		done:     make(chan struct{}),
		sessions: make(map[string]*session),
	}
}

// Start launches the engine goroutine. Starting twice is a no-op.
func (e *Engine) Start() {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if e.started {
		return
	}
	e.started = true
	go e.run()
}

// Stop shuts the engine down and waits for the run loop to drain.
func (e *Engine) Stop() {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if !e.started {
		return
	}
	e.started = false
	close(e.done)
}

// post hands a closure to the run loop. Safe to call from any
// goroutine; a stopped engine discards the work.
func (e *Engine) post(fn func()) {
	select {
	case e.ops <- fn:
	case <-e.done:
	}
}

func (e *Engine) run() {
	scan := time.NewTicker(e.cfg.Heuristics.PermissionScanInterval)
	defer scan.Stop()
	telemetryScan := time.NewTicker(time.Second)
	defer telemetryScan.Stop()

	for {
		select {
		case fn := <-e.ops:
			fn()
			e.publishIfDirty()
		case <-scan.C:
			e.scanPermissionChecks()
			e.publishIfDirty()
		case <-telemetryScan.C:
			e.scanTelemetryIdle()
			e.publishIfDirty()
		case <-e.done:
			return
		}
	}
}

// Key builds the engine's session map key.
func Key(sourceName, sessionID string) string {
	return sourceName + ":" + sessionID
}

// UpsertSession registers a discovered session, creating it on first
// sight and refreshing its handle fields after that.
func (e *Engine) UpsertSession(h source.Handle) {
	e.post(func() {
		key := Key(h.Source, h.SessionID)
		s, ok := e.sessions[key]
		if !ok {
			s = e.newSession(key, h.Source, h.SessionID)
			e.sessions[key] = s
			log.Printf("[state] session %s discovered (%s)", h.SessionID, h.Source)
		}
		if h.WorkingDir != "" {
			s.workingDir = h.WorkingDir
		}
		if h.LogPath != "" {
			s.logPath = h.LogPath
		}
		if s.startedAt.IsZero() && !h.StartedAt.IsZero() {
			s.startedAt = h.StartedAt
		}
		s.connected = true
		e.dirty = true
	})
}

// RemoveSession evicts a session and all its per-session bookkeeping in
// one place: pending checks, timers, tracker state.
func (e *Engine) RemoveSession(key string) {
	e.post(func() {
		s, ok := e.sessions[key]
		if !ok {
			return
		}
		s.activeTimeSlot.cancel()
		delete(e.sessions, key)
		log.Printf("[state] session %s removed", s.id)
		e.obs.SessionRemoved(key)
		e.dirty = true
	})
}

func (e *Engine) newSession(key, sourceName, id string) *session {
	return &session{
		key:        key,
		id:         id,
		sourceName: sourceName,
		tracker:    track.New(e.cfg.Tools.RecentCapacity),
		pending:    make(map[string]*pendingCheck),
		startedAt:  e.now(),
	}
}

// ApplyOps applies normalized log-line operations to a session. The
// replay flag marks history replay on watcher attach: state is rebuilt
// but live-only side effects (permission arming, idle-timer resets,
// completion notices) are suppressed.
func (e *Engine) ApplyOps(key string, ops []source.Op, replay bool) {
	if len(ops) == 0 {
		return
	}
	e.post(func() {
		s, ok := e.sessions[key]
		if !ok {
			return
		}
		for _, op := range ops {
			e.applyOp(s, op, replay)
		}
		if !replay {
			e.touch(s)
		}
		e.dirty = true
	})
}

func (e *Engine) applyOp(s *session, op source.Op, replay bool) {
	at := op.Time
	if at.IsZero() {
		at = e.now()
	}

	switch op.Kind {
	case source.OpMeta:
		if op.Model != "" {
			s.model = op.Model
		}
		if op.WorkingDir != "" {
			s.workingDir = op.WorkingDir
		}
		if op.Branch != "" {
			s.branch = op.Branch
		}

	case source.OpToolStart:
		s.tracker.Start(op.ToolID, op.ToolName, op.ToolDetail, at)
		s.thinking = true
		if !replay && permissionEligible(op.ToolName) {
			s.pending[op.ToolID] = &pendingCheck{
				toolID:   op.ToolID,
				toolName: op.ToolName,
				armedAt:  e.now(),
			}
		}
		if !replay {
			e.toolSlot.arm(e, e.cfg.Heuristics.ToolIdleDelay, e.onToolIdle)
		}

	case source.OpToolEnd:
		s.tracker.End(op.ToolID, op.Success, s.usage.Total(), at)
		e.resolveCheck(s, op.ToolID)
		// The assistant generally resumes generating after a result.
		s.thinking = true

	case source.OpTurnStart:
		s.thinking = true
		s.stopReason = ""
		s.completedAt = time.Time{}

	case source.OpStop:
		s.stopReason = op.StopReason
		if op.StopReason == source.StopReasonEndTurn {
			s.thinking = false
		}

	case source.OpInterrupt:
		e.interrupt(s, at)

	case source.OpUsage:
		if op.Usage != nil {
			s.usage.merge(*op.Usage)
		}

	case source.OpTodos:
		s.todos = op.Todos
	}
}

// interrupt applies an interruption marker: it overrides every other
// heuristic, clearing active work and pending checks immediately.
func (e *Engine) interrupt(s *session, at time.Time) {
	s.thinking = false
	s.stopReason = "interrupted"
	s.tracker.ForceCompleteActive(at)
	s.pending = make(map[string]*pendingCheck)
	s.needsPermission = false
	s.pendingTool = ""
}

// resolveCheck clears the pending permission check for one tool call
// and recomputes the session flag from the remaining checks.
func (e *Engine) resolveCheck(s *session, toolID string) {
	delete(s.pending, toolID)
	if len(s.pending) == 0 {
		s.needsPermission = false
		s.pendingTool = ""
	}
}

// touch records live activity and re-arms the idle debounce.
func (e *Engine) touch(s *session) {
	now := e.now()
	s.lastActivityAt = now
	e.lastActivity = now
	e.idleSlot.arm(e, e.cfg.Heuristics.IdleDelay, e.onIdle)
}

// scanPermissionChecks runs on the repeating scan tick: any armed check
// older than its source's delay whose tool is still active flips the
// session to needs-permission. The transition happens once; later ticks
// see the flag already set.
func (e *Engine) scanPermissionChecks() {
	now := e.now()
	for _, s := range e.sessions {
		delay := e.cfg.PermissionDelay(s.sourceName)
		for _, check := range s.pending {
			if now.Sub(check.armedAt) < delay {
				continue
			}
			if !s.tracker.HasActiveID(check.toolID) {
				e.resolveCheck(s, check.toolID)
				e.dirty = true
				continue
			}
			if !s.needsPermission {
				s.needsPermission = true
				s.pendingTool = check.toolName
				log.Printf("[state] session %s waiting on permission for %s", s.id, check.toolName)
				e.dirty = true
			}
		}
	}
}

// onIdle fires when no event has arrived for the idle delay: quiet
// sessions stop thinking unless a permission dialog is pending.
func (e *Engine) onIdle() {
	for _, s := range e.sessions {
		if s.needsPermission {
			continue
		}
		if s.thinking {
			s.thinking = false
			e.dirty = true
		}
	}
}

// onToolIdle fires when no tool has started for the tool-idle delay.
// Sessions with nothing running get an idle_timeout stop reason, and
// every pending permission check is force-cleared; some sources never
// emit an explicit turn-end signal.
func (e *Engine) onToolIdle() {
	for _, s := range e.sessions {
		if s.tracker.ActiveCount() == 0 && !s.needsPermission {
			if s.thinking || s.stopReason == "" {
				s.stopReason = "idle_timeout"
				s.thinking = false
				e.dirty = true
			}
		}
		if len(s.pending) > 0 {
			s.pending = make(map[string]*pendingCheck)
			s.needsPermission = false
			s.pendingTool = ""
			e.dirty = true
		}
	}
}

// scanTelemetryIdle completes quiet telemetry-fed sessions. File-tailed
// sessions are excluded: their completion comes from the idle and
// tool-idle heuristics instead.
func (e *Engine) scanTelemetryIdle() {
	now := e.now()
	for _, s := range e.sessions {
		if s.sourceName != telemetrySource || !s.completedAt.IsZero() {
			continue
		}
		if s.lastTelemetryAt.IsZero() {
			continue
		}
		if now.Sub(s.lastTelemetryAt) < e.cfg.Heuristics.TelemetryIdleDelay {
			continue
		}
		if s.tracker.ActiveCount() > 0 || len(s.pending) > 0 {
			continue
		}
		e.completeSession(s, now)
	}
}

// completeSession forces the session terminal: all trackers complete,
// pending state cleared, and one synthetic Complete entry carrying the
// token total is pushed for consumers that show a completion notice.
func (e *Engine) completeSession(s *session, at time.Time) {
	s.tracker.ForceCompleteActive(at)
	s.pending = make(map[string]*pendingCheck)
	s.needsPermission = false
	s.pendingTool = ""
	s.thinking = false
	s.completedAt = at
	s.activeTimeSlot.cancel()

	s.tracker.AddCompleted(track.ToolCall{
		Name:      "Complete",
		Detail:    formatTokenTotal(s.usage.Total()),
		StartedAt: at,
		EndedAt:   at,
		Tokens:    s.usage.Total(),
		Success:   true,
		Synthetic: true,
	})

	log.Printf("[state] session %s complete (%d tokens)", s.id, s.usage.Total())
	if snap := e.filter.Apply(s.snapshot()); snap != nil {
		e.obs.SessionCompleted(snap)
	}
	e.dirty = true
}

// HandleNotification applies one socket notification.
func (e *Engine) HandleNotification(n notify.Notification) {
	e.post(func() {
		s := e.findSession(n.SessionID, n.Cwd)

		switch n.Type {
		case notify.TypeSessionStart:
			if s == nil && n.SessionID != "" {
				key := Key("notify", n.SessionID)
				s = e.newSession(key, "notify", n.SessionID)
				s.workingDir = n.Cwd
				s.connected = true
				e.sessions[key] = s
			}
			if s != nil {
				s.thinking = true
				e.touch(s)
			}

		case notify.TypePermissionRequest:
			if s != nil {
				// An explicit request needs no delay inference.
				s.needsPermission = true
				s.pendingTool = n.ToolName
				e.touch(s)
			}

		case notify.TypeIdle:
			if s != nil {
				s.thinking = false
			}

		case notify.TypeComplete:
			if s != nil && s.completedAt.IsZero() {
				e.completeSession(s, e.now())
			}

		case notify.TypeSessionEnd:
			if s != nil {
				s.connected = false
				if s.completedAt.IsZero() {
					e.completeSession(s, e.now())
				}
			}

		case notify.TypeUnknown:
			log.Printf("[state] ignoring unknown notification for session %q", n.SessionID)
		}
		e.dirty = true
	})
}

// findSession matches a notification to a live session by id first,
// then by working directory.
func (e *Engine) findSession(sessionID, cwd string) *session {
	if sessionID != "" {
		for _, s := range e.sessions {
			if s.id == sessionID {
				return s
			}
		}
	}
	if cwd != "" {
		for _, s := range e.sessions {
			if s.workingDir == cwd {
				return s
			}
		}
	}
	return nil
}

// Snapshots returns the published, privacy-filtered session list. Safe
// to call from any goroutine.
func (e *Engine) Snapshots() []*Session {
	reply := make(chan []*Session, 1)
	e.post(func() {
		reply <- e.snapshotAll()
	})
	select {
	case out := <-reply:
		return out
	case <-e.done:
		return nil
	}
}

// AnyActive reports whether any session shows activity, with a short
// grace window after the last observed event to avoid flicker.
func (e *Engine) AnyActive() bool {
	reply := make(chan bool, 1)
	e.post(func() {
		reply <- e.anyActiveLocked()
	})
	select {
	case out := <-reply:
		return out
	case <-e.done:
		return false
	}
}

func (e *Engine) anyActiveLocked() bool {
	for _, s := range e.sessions {
		switch s.activity() {
		case Thinking, ToolUse, Waiting:
			return true
		}
	}
	if e.lastActivity.IsZero() {
		return false
	}
	return e.now().Sub(e.lastActivity) < e.cfg.Heuristics.ActivityGrace
}

func (e *Engine) snapshotAll() []*Session {
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		if snap := e.filter.Apply(s.snapshot()); snap != nil {
			out = append(out, snap)
		}
	}
	return out
}

// publishIfDirty notifies the observer once per transaction so
// consumers see atomic snapshots, never partial intermediate states.
func (e *Engine) publishIfDirty() {
	if !e.dirty {
		return
	}
	e.dirty = false
	e.obs.SessionsUpdated(e.snapshotAll())
}
