// Package state owns the aggregate per-session model: normalized events
// from every source funnel into a single engine goroutine that mutates
// session state, arms inference timers, and publishes read-only
// snapshots to observers.
package state

import (
	"encoding/json"
	"time"

	"github.com/passingBySol/agentnotch/internal/source"
	"github.com/passingBySol/agentnotch/internal/track"
)

type Activity int

const (
	Starting Activity = iota
	Thinking
	ToolUse
	Waiting
	Idle
	Complete
)

var activityNames = map[Activity]string{
	Starting: "starting",
	Thinking: "thinking",
	ToolUse:  "tool_use",
	Waiting:  "waiting",
	Idle:     "idle",
	Complete: "complete",
}

var activityFromName = map[string]Activity{
	"starting": Starting,
	"thinking": Thinking,
	"tool_use": ToolUse,
	"waiting":  Waiting,
	"idle":     Idle,
	"complete": Complete,
}

func (a Activity) String() string {
	if s, ok := activityNames[a]; ok {
		return s
	}
	return "unknown"
}

func (a Activity) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Activity) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := activityFromName[s]; ok {
		*a = v
	}
	return nil
}

// TokenUsage is the session's running token counters. Each update
// replaces the prior value for its non-zero fields; counters are never
// accumulated across updates.
type TokenUsage struct {
	Input      int `json:"input"`
	Output     int `json:"output"`
	CacheRead  int `json:"cacheRead,omitempty"`
	CacheWrite int `json:"cacheWrite,omitempty"`
	Reasoning  int `json:"reasoning,omitempty"`
	MaxContext int `json:"maxContext,omitempty"`
}

// Total returns the headline token count: fresh input plus output.
func (u TokenUsage) Total() int { return u.Input + u.Output }

// merge overwrites counters from a usage op. Zero fields in the update
// leave the prior value in place so partial reports do not erase
// counters another event already established.
func (u *TokenUsage) merge(in source.Usage) {
	if in.Input > 0 {
		u.Input = in.Input
	}
	if in.Output > 0 {
		u.Output = in.Output
	}
	if in.CacheRead > 0 {
		u.CacheRead = in.CacheRead
	}
	if in.CacheWrite > 0 {
		u.CacheWrite = in.CacheWrite
	}
	if in.Reasoning > 0 {
		u.Reasoning = in.Reasoning
	}
	if in.MaxContext > 0 {
		u.MaxContext = in.MaxContext
	}
}

// Session is the published read-only snapshot of one agent session.
type Session struct {
	ID                    string            `json:"id"`
	Key                   string            `json:"key"`
	Source                string            `json:"source"`
	Model                 string            `json:"model,omitempty"`
	WorkingDir            string            `json:"workingDir,omitempty"`
	Branch                string            `json:"branch,omitempty"`
	Activity              Activity          `json:"activity"`
	Thinking              bool              `json:"thinking"`
	NeedsPermission       bool              `json:"needsPermission"`
	PendingPermissionTool string            `json:"pendingPermissionTool,omitempty"`
	ActiveTools           []track.ToolCall  `json:"activeTools,omitempty"`
	RecentTools           []track.ToolCall  `json:"recentTools,omitempty"`
	StopReason            string            `json:"stopReason,omitempty"`
	Usage                 TokenUsage        `json:"usage"`
	Todos                 []source.TodoItem `json:"todos,omitempty"`
	StartedAt             time.Time         `json:"startedAt"`
	LastActivityAt        time.Time         `json:"lastActivityAt"`
	CompletedAt           *time.Time        `json:"completedAt,omitempty"`
	Connected             bool              `json:"connected"`
}

// Clone returns a deep copy so the snapshot can be mutated (masked,
// filtered) independently of the engine's internal state.
func (s *Session) Clone() *Session {
	c := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	if len(s.ActiveTools) > 0 {
		c.ActiveTools = append([]track.ToolCall(nil), s.ActiveTools...)
	}
	if len(s.RecentTools) > 0 {
		c.RecentTools = append([]track.ToolCall(nil), s.RecentTools...)
	}
	if len(s.Todos) > 0 {
		c.Todos = append([]source.TodoItem(nil), s.Todos...)
	}
	return &c
}

// session is the engine-internal mutable record behind each snapshot.
// Only the engine goroutine touches it.
type session struct {
	key        string
	id         string
	sourceName string
	model      string
	workingDir string
	branch     string
	logPath    string

	tracker *track.Tracker
	pending map[string]*pendingCheck

	thinking        bool
	needsPermission bool
	pendingTool     string
	stopReason      string
	usage           TokenUsage
	todos           []source.TodoItem

	startedAt       time.Time
	lastActivityAt  time.Time
	lastTelemetryAt time.Time
	completedAt     time.Time
	connected       bool

	// activeTimeSlot backs the post-"active time" completion window for
	// telemetry-fed sessions.
	activeTimeSlot slot
}

// activity derives the aggregate state in priority order.
func (s *session) activity() Activity {
	switch {
	case !s.completedAt.IsZero():
		return Complete
	case s.needsPermission:
		return Waiting
	case s.tracker.ActiveCount() > 0:
		return ToolUse
	case s.thinking:
		return Thinking
	case s.lastActivityAt.IsZero():
		return Starting
	default:
		return Idle
	}
}

// snapshot builds the published view of the session.
func (s *session) snapshot() *Session {
	snap := &Session{
		ID:                    s.id,
		Key:                   s.key,
		Source:                s.sourceName,
		Model:                 s.model,
		WorkingDir:            s.workingDir,
		Branch:                s.branch,
		Activity:              s.activity(),
		Thinking:              s.thinking,
		NeedsPermission:       s.needsPermission,
		PendingPermissionTool: s.pendingTool,
		ActiveTools:           s.tracker.Active(),
		RecentTools:           s.tracker.Recent(),
		StopReason:            s.stopReason,
		Usage:                 s.usage,
		Todos:                 append([]source.TodoItem(nil), s.todos...),
		StartedAt:             s.startedAt,
		LastActivityAt:        s.lastActivityAt,
		Connected:             s.connected,
	}
	if !s.completedAt.IsZero() {
		t := s.completedAt
		snap.CompletedAt = &t
	}
	return snap
}
