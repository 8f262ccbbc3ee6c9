package state

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/passingBySol/agentnotch/internal/otlp"
	"github.com/passingBySol/agentnotch/internal/source"
	"github.com/passingBySol/agentnotch/internal/track"
)

// telemetrySource tags sessions observed only through the push-telemetry
// channel. Their completion inference runs on the telemetry timers, not
// the file-tail heuristics.
const telemetrySource = "telemetry"

// Attribute key aliases. Different emitter versions spell the same
// field differently, so every lookup probes an ordered candidate list.
var (
	sessionIDKeys = []string{"session.id", "session_id", "sessionId"}
	toolNameKeys  = []string{"tool_name", "tool", "name"}
	modelKeys     = []string{"model", "gen_ai.request.model"}
	durationKeys  = []string{"duration_ms", "durationMs"}
	successKeys   = []string{"success", "is_success"}
	decisionKeys  = []string{"decision"}
	inputKeys     = []string{"input_tokens", "inputTokens"}
	outputKeys    = []string{"output_tokens", "outputTokens"}
	cacheReadKeys = []string{"cache_read_tokens", "cacheReadTokens", "cache_read_input_tokens"}
	eventNameKeys = []string{"event.name", "event_name"}
	typeKeys      = []string{"type", "token.type"}
	cwdKeys       = []string{"cwd", "working_directory", "workingDirectory"}
)

// HandleTelemetryLogs applies decoded telemetry log records. Each record
// is an independent event; records without a session id are dropped.
func (e *Engine) HandleTelemetryLogs(records []otlp.LogRecord) {
	if len(records) == 0 {
		return
	}
	e.post(func() {
		for _, rec := range records {
			e.applyLogRecord(rec)
		}
	})
}

func (e *Engine) applyLogRecord(rec otlp.LogRecord) {
	sessionID, ok := rec.Attrs.Str(sessionIDKeys...)
	if !ok || sessionID == "" {
		return
	}
	s := e.telemetrySession(sessionID, rec.Attrs)

	at := rec.Time
	if at.IsZero() {
		at = e.now()
	}
	s.lastTelemetryAt = e.now()

	event := rec.Body
	if name, ok := rec.Attrs.Str(eventNameKeys...); ok {
		event = name
	}

	switch shortEventName(event) {
	case "user_prompt":
		s.thinking = true
		s.stopReason = ""
		s.completedAt = time.Time{}

	case "api_request":
		s.thinking = true
		e.applyTokenAttrs(s, rec.Attrs)

	case "tool_decision":
		// A decision event means the permission dialog resolved, one
		// way or the other.
		if name, ok := rec.Attrs.Str(toolNameKeys...); ok {
			e.resolveChecksByName(s, name)
		}
		if decision, ok := rec.Attrs.Str(decisionKeys...); ok && decision == "reject" {
			s.thinking = false
		}

	case "tool_result":
		e.applyToolResult(s, rec.Attrs, at)
		s.thinking = true

	default:
		// Unrecognized events still count as activity.
	}

	if model, ok := rec.Attrs.Str(modelKeys...); ok && model != "" {
		s.model = model
	}

	e.touch(s)
	e.dirty = true
}

// applyToolResult records a completed tool call whose start was never
// separately observed: the telemetry channel only reports results.
func (e *Engine) applyToolResult(s *session, attrs otlp.AttrMap, at time.Time) {
	name, _ := attrs.Str(toolNameKeys...)
	if name == "" {
		name = "tool"
	}
	success := true
	if v, ok := attrs.Bool(successKeys...); ok {
		success = v
	} else if v, ok := attrs.Str(successKeys...); ok {
		success = v != "false"
	}

	var dur time.Duration
	if ms, ok := attrs.Float(durationKeys...); ok {
		dur = time.Duration(ms * float64(time.Millisecond))
	}

	// Result events end any matching armed check too.
	e.resolveChecksByName(s, name)

	// The tracker dedups by id; derive one from name and end time so
	// a re-delivered record folds into the same entry.
	s.tracker.AddCompleted(track.ToolCall{
		ID:        fmt.Sprintf("otlp-%s-%d", name, at.UnixNano()),
		Name:      name,
		StartedAt: at.Add(-dur),
		EndedAt:   at,
		Duration:  dur,
		Tokens:    s.usage.Total(),
		Success:   success,
	})
}

func (e *Engine) resolveChecksByName(s *session, toolName string) {
	for id, check := range s.pending {
		if check.toolName == toolName {
			delete(s.pending, id)
		}
	}
	if len(s.pending) == 0 {
		s.needsPermission = false
		s.pendingTool = ""
	}
}

// HandleTelemetryMetrics applies decoded metric points. The active-time
// metric historically precedes the end of a response, so it arms the
// short completion window.
func (e *Engine) HandleTelemetryMetrics(points []otlp.MetricPoint) {
	if len(points) == 0 {
		return
	}
	e.post(func() {
		for _, pt := range points {
			e.applyMetricPoint(pt)
		}
	})
}

func (e *Engine) applyMetricPoint(pt otlp.MetricPoint) {
	sessionID, ok := pt.Attrs.Str(sessionIDKeys...)
	if !ok || sessionID == "" {
		return
	}
	s := e.telemetrySession(sessionID, pt.Attrs)
	s.lastTelemetryAt = e.now()

	switch {
	case strings.Contains(pt.Name, "active_time"):
		armedAt := s.lastTelemetryAt
		s.activeTimeSlot.arm(e, e.cfg.Heuristics.ActiveTimeDelay, func() {
			e.onActiveTimeElapsed(s, armedAt)
		})

	case strings.Contains(pt.Name, "token"):
		if kind, ok := pt.Attrs.Str(typeKeys...); ok {
			e.applyTokenMetric(s, kind, int(pt.Value))
		}

	case strings.Contains(pt.Name, "session.count"):
		// Heartbeat only; the touch below records the activity.

	default:
		log.Printf("[state] ignoring metric %s", pt.Name)
	}

	e.touch(s)
	e.dirty = true
}

// onActiveTimeElapsed fires the configured delay after an active-time
// metric. Conditions are re-checked at fire time: telemetry that
// arrived after arming means the response is still going, as does any
// outstanding tool or pending check. armedAt is the session's last
// telemetry time when the window was armed.
func (e *Engine) onActiveTimeElapsed(s *session, armedAt time.Time) {
	if !s.completedAt.IsZero() {
		return
	}
	if s.lastTelemetryAt.After(armedAt) {
		return
	}
	if s.tracker.ActiveCount() > 0 || len(s.pending) > 0 {
		return
	}
	e.completeSession(s, e.now())
}

func (e *Engine) applyTokenAttrs(s *session, attrs otlp.AttrMap) {
	var u source.Usage
	if v, ok := attrs.Int(inputKeys...); ok {
		u.Input = int(v)
	}
	if v, ok := attrs.Int(outputKeys...); ok {
		u.Output = int(v)
	}
	if v, ok := attrs.Int(cacheReadKeys...); ok {
		u.CacheRead = int(v)
	}
	s.usage.merge(u)
}

func (e *Engine) applyTokenMetric(s *session, kind string, value int) {
	switch kind {
	case "input":
		s.usage.merge(source.Usage{Input: value})
	case "output":
		s.usage.merge(source.Usage{Output: value})
	case "cacheRead", "cache_read":
		s.usage.merge(source.Usage{CacheRead: value})
	case "cacheCreation", "cache_creation":
		s.usage.merge(source.Usage{CacheWrite: value})
	}
}

// telemetrySession finds or creates the session behind a telemetry
// event. Telemetry sessions live under their own source tag.
func (e *Engine) telemetrySession(sessionID string, attrs otlp.AttrMap) *session {
	// Prefer an existing file-tailed session with the same id so both
	// channels land on one record.
	for _, s := range e.sessions {
		if s.id == sessionID {
			return s
		}
	}
	key := Key(telemetrySource, sessionID)
	s := e.newSession(key, telemetrySource, sessionID)
	s.connected = true
	if cwd, ok := attrs.Str(cwdKeys...); ok {
		s.workingDir = cwd
	}
	e.sessions[key] = s
	log.Printf("[state] session %s discovered (telemetry)", sessionID)
	return s
}

// shortEventName strips the emitter prefix: "claude_code.tool_result"
// and plain "tool_result" are the same event.
func shortEventName(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

func formatTokenTotal(total int) string {
	return fmt.Sprintf("%d tokens", total)
}
