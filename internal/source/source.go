// Package source defines the per-source session discovery and line
// parsing layer. Each supported agent CLI writes a different append-only
// JSONL format; both converge on the same small set of normalized
// operations the state engine consumes.
package source

import "time"

// OpKind identifies one normalized operation extracted from a log line.
type OpKind int

const (
	// OpToolStart reports a tool invocation beginning.
	OpToolStart OpKind = iota
	// OpToolEnd reports a tool invocation finishing.
	OpToolEnd
	// OpTurnStart reports a new user or assistant turn.
	OpTurnStart
	// OpStop reports an explicit turn-end signal with a stop reason.
	OpStop
	// OpInterrupt reports a user interruption marker. It overrides every
	// other heuristic: active tools and pending permission checks clear
	// immediately.
	OpInterrupt
	// OpUsage carries a token usage snapshot (overwrite, not delta).
	OpUsage
	// OpTodos carries a structured task-list update.
	OpTodos
	// OpMeta carries session metadata (model, working dir, session id).
	OpMeta
)

// StopReasonEndTurn is the stop reason meaning the turn ended cleanly.
const StopReasonEndTurn = "end_turn"

// Usage is a snapshot of a session's running token counters. Each update
// replaces the prior value for its non-zero fields; counters are never
// accumulated across updates.
type Usage struct {
	Input      int
	Output     int
	CacheRead  int
	CacheWrite int
	// Reasoning and MaxContext are reported by the codex source only.
	Reasoning  int
	MaxContext int
}

// TodoStatus is the three-value status of one checklist item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// TodoItem is one entry of a structured task-list update.
type TodoItem struct {
	Content string     `json:"content"`
	Status  TodoStatus `json:"status"`
}

// Op is one normalized operation. A single log line may yield several
// ops (an assistant message can carry usage plus multiple tool starts).
type Op struct {
	Kind OpKind
	Time time.Time

	// SessionID is the id embedded in the line, when present.
	SessionID string

	// Tool fields, for OpToolStart / OpToolEnd.
	ToolID     string
	ToolName   string
	ToolDetail string
	Success    bool

	// StopReason, for OpStop.
	StopReason string

	Usage *Usage
	Todos []TodoItem

	// Metadata, for OpMeta (and opportunistically on other kinds).
	Model      string
	WorkingDir string
	Branch     string
}

// Handle identifies one discovered session log file.
type Handle struct {
	SessionID  string
	LogPath    string
	WorkingDir string
	Source     string
	StartedAt  time.Time
}

// Source is implemented once per agent CLI.
type Source interface {
	// Name returns the short lowercase source tag, e.g. "claude".
	Name() string

	// Discover lists sessions whose log files were modified within the
	// recency window. Called on every rescan tick.
	Discover() ([]Handle, error)

	// ParseLine converts one raw log line into normalized operations.
	// Malformed lines return nil; parsing never fails hard.
	ParseLine(line []byte) []Op
}

// ProjectLocator is implemented by sources that can map a working
// directory straight to its backing session log, without waiting for
// the periodic discovery scan.
type ProjectLocator interface {
	// DiscoverProject returns the handle for the newest session log
	// under the given working directory, or nothing when the directory
	// has no logs.
	DiscoverProject(workingDir string) ([]Handle, error)
}
