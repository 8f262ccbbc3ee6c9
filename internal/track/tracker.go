// Package track maintains per-session tool invocation history: which
// tool calls are currently running and a bounded most-recent-first list
// of finished ones.
package track

import "time"

// ToolCall is one tool invocation. While running, EndedAt is zero.
// Tokens carries the session's token total as of completion.
type ToolCall struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Detail    string        `json:"detail,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   time.Time     `json:"endedAt,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Tokens    int           `json:"tokens,omitempty"`
	Success   bool          `json:"success"`
	Synthetic bool          `json:"synthetic,omitempty"`
}

// Done reports whether the call has finished.
func (c ToolCall) Done() bool { return !c.EndedAt.IsZero() }

// Tracker records tool calls for one session. It is owned by the state
// engine goroutine and needs no locking.
type Tracker struct {
	capacity int
	active   []*ToolCall // arrival order
	recent   []ToolCall  // most recent first
}

func New(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = 10
	}
	return &Tracker{capacity: capacity}
}

// Start records a tool invocation beginning. A second start with the
// same id replaces the first (log replays deliver duplicates).
func (t *Tracker) Start(id, name, detail string, at time.Time) {
	call := &ToolCall{ID: id, Name: name, Detail: detail, StartedAt: at}
	for i, existing := range t.active {
		if existing.ID == id && id != "" {
			t.active[i] = call
			return
		}
	}
	t.active = append(t.active, call)
}

// End completes the active call with the given id and moves it to the
// recent list, stamping the session's token total at completion time.
// An end with no matching start is dropped; replays deliver results for
// calls that were already folded into history.
func (t *Tracker) End(id string, success bool, tokens int, at time.Time) (ToolCall, bool) {
	for i, call := range t.active {
		if call.ID != id {
			continue
		}
		t.active = append(t.active[:i], t.active[i+1:]...)
		done := *call
		done.EndedAt = at
		done.Success = success
		done.Tokens = tokens
		if !done.StartedAt.IsZero() && at.After(done.StartedAt) {
			done.Duration = at.Sub(done.StartedAt)
		}
		t.pushRecent(done)
		return done, true
	}
	return ToolCall{}, false
}

// AddCompleted inserts an already-finished call directly into the recent
// list. Used for synthetic entries like the end-of-turn summary row.
func (t *Tracker) AddCompleted(call ToolCall) {
	t.pushRecent(call)
}

// ForceCompleteActive ends every running call unsuccessfully at the
// given time. Used when an interruption voids in-flight work.
func (t *Tracker) ForceCompleteActive(at time.Time) int {
	n := len(t.active)
	for _, call := range t.active {
		done := *call
		done.EndedAt = at
		done.Success = false
		if !done.StartedAt.IsZero() && at.After(done.StartedAt) {
			done.Duration = at.Sub(done.StartedAt)
		}
		t.pushRecent(done)
	}
	t.active = nil
	return n
}

// Active returns the running calls in arrival order.
func (t *Tracker) Active() []ToolCall {
	out := make([]ToolCall, 0, len(t.active))
	for _, call := range t.active {
		out = append(out, *call)
	}
	return out
}

// ActiveCount returns the number of running calls.
func (t *Tracker) ActiveCount() int { return len(t.active) }

// HasActiveID reports whether the call with the given id is running.
func (t *Tracker) HasActiveID(id string) bool {
	for _, call := range t.active {
		if call.ID == id {
			return true
		}
	}
	return false
}

// Recent returns finished calls, most recent first, capped at capacity.
func (t *Tracker) Recent() []ToolCall {
	out := make([]ToolCall, len(t.recent))
	copy(out, t.recent)
	return out
}

// pushRecent prepends a finished call, deduplicating by id and trimming
// to capacity.
func (t *Tracker) pushRecent(call ToolCall) {
	if call.ID != "" {
		for i, existing := range t.recent {
			if existing.ID == call.ID {
				t.recent = append(t.recent[:i], t.recent[i+1:]...)
				break
			}
		}
	}
	t.recent = append([]ToolCall{call}, t.recent...)
	if len(t.recent) > t.capacity {
		t.recent = t.recent[:t.capacity]
	}
}
