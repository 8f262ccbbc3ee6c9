package source

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func opsOfKind(ops []Op, kind OpKind) []Op {
	var out []Op
	for _, op := range ops {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

func TestClaudeParseAssistantToolUse(t *testing.T) {
	src := NewClaudeSource("", 5*time.Minute)

	line := `{"type":"assistant","sessionId":"sess-1","timestamp":"2026-08-30T10:00:03.000Z","message":{"role":"assistant","model":"claude-opus-4-5-20251101","content":[{"type":"text","text":"running it"},{"type":"tool_use","id":"toolu_01","name":"Bash","input":{"command":"go test ./..."}}],"usage":{"input_tokens":200,"cache_creation_input_tokens":600,"cache_read_input_tokens":3000,"output_tokens":80}}}`

	ops := src.ParseLine([]byte(line))

	starts := opsOfKind(ops, OpToolStart)
	if len(starts) != 1 {
		t.Fatalf("expected 1 tool start, got %d", len(starts))
	}
	if starts[0].ToolID != "toolu_01" || starts[0].ToolName != "Bash" {
		t.Errorf("tool start = %+v", starts[0])
	}
	if starts[0].ToolDetail != "go test ./..." {
		t.Errorf("detail = %q", starts[0].ToolDetail)
	}

	usages := opsOfKind(ops, OpUsage)
	if len(usages) != 1 {
		t.Fatalf("expected 1 usage op, got %d", len(usages))
	}
	u := usages[0].Usage
	if u.Input != 200 || u.Output != 80 || u.CacheRead != 3000 || u.CacheWrite != 600 {
		t.Errorf("usage = %+v", u)
	}

	if len(opsOfKind(ops, OpTurnStart)) != 1 {
		t.Error("expected a turn start for the assistant message")
	}

	metas := opsOfKind(ops, OpMeta)
	if len(metas) != 1 || metas[0].Model != "claude-opus-4-5-20251101" || metas[0].SessionID != "sess-1" {
		t.Errorf("meta = %+v", metas)
	}
}

func TestClaudeParseToolResult(t *testing.T) {
	src := NewClaudeSource("", 5*time.Minute)

	line := `{"type":"user","sessionId":"sess-1","timestamp":"2026-08-30T10:00:09.000Z","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_01","content":"ok"}]}}`

	ops := src.ParseLine([]byte(line))

	ends := opsOfKind(ops, OpToolEnd)
	if len(ends) != 1 {
		t.Fatalf("expected 1 tool end, got %d", len(ends))
	}
	if ends[0].ToolID != "toolu_01" || !ends[0].Success {
		t.Errorf("tool end = %+v", ends[0])
	}
	// A tool result is not a new user turn.
	if len(opsOfKind(ops, OpTurnStart)) != 0 {
		t.Error("tool result should not start a turn")
	}
}

func TestClaudeParseFailedToolResult(t *testing.T) {
	src := NewClaudeSource("", 5*time.Minute)

	line := `{"type":"user","sessionId":"sess-1","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_02","is_error":true,"content":"command not found"}]}}`

	ops := src.ParseLine([]byte(line))
	ends := opsOfKind(ops, OpToolEnd)
	if len(ends) != 1 || ends[0].Success {
		t.Errorf("expected failed tool end, got %+v", ends)
	}
}

func TestClaudeParseUserTurn(t *testing.T) {
	src := NewClaudeSource("", 5*time.Minute)

	line := `{"type":"user","sessionId":"sess-1","cwd":"/home/u/proj","message":{"role":"user","content":[{"type":"text","text":"please fix the bug"}]}}`

	ops := src.ParseLine([]byte(line))
	if len(opsOfKind(ops, OpTurnStart)) != 1 {
		t.Error("expected a turn start")
	}
	metas := opsOfKind(ops, OpMeta)
	if len(metas) != 1 || metas[0].WorkingDir != "/home/u/proj" {
		t.Errorf("meta = %+v", metas)
	}
}

func TestClaudeInterruptionMarkers(t *testing.T) {
	src := NewClaudeSource("", 5*time.Minute)

	tests := []struct {
		name string
		line string
	}{
		{
			"free text",
			`{"type":"user","sessionId":"s","message":{"role":"user","content":[{"type":"text","text":"[Request interrupted by user]"}]}}`,
		},
		{
			"tool result content",
			`{"type":"user","sessionId":"s","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","is_error":true,"content":"[Request interrupted by user for tool use]"}]}}`,
		},
		{
			"structured result field",
			`{"type":"user","sessionId":"s","toolUseResult":"The user doesn't want to proceed with this tool use.","message":{"role":"user","content":"rejected"}}`,
		},
	}

	for _, tt := range tests {
		ops := src.ParseLine([]byte(tt.line))
		if len(opsOfKind(ops, OpInterrupt)) == 0 {
			t.Errorf("%s: expected an interrupt op, got %+v", tt.name, ops)
		}
	}
}

func TestClaudeStopReason(t *testing.T) {
	src := NewClaudeSource("", 5*time.Minute)

	line := `{"type":"assistant","sessionId":"s","message":{"role":"assistant","stop_reason":"end_turn","content":[{"type":"text","text":"done"}]}}`

	ops := src.ParseLine([]byte(line))
	stops := opsOfKind(ops, OpStop)
	if len(stops) != 1 || stops[0].StopReason != StopReasonEndTurn {
		t.Errorf("stops = %+v", stops)
	}
}

func TestClaudeParseTodos(t *testing.T) {
	src := NewClaudeSource("", 5*time.Minute)

	line := `{"type":"assistant","sessionId":"s","message":{"role":"assistant","content":[{"type":"tool_use","id":"t1","name":"TodoWrite","input":{"todos":[{"content":"write parser","status":"completed"},{"content":"wire engine","status":"in_progress"},{"content":"add tests","status":"somethingnew"}]}}]}}`

	ops := src.ParseLine([]byte(line))
	todoOps := opsOfKind(ops, OpTodos)
	if len(todoOps) != 1 {
		t.Fatalf("expected 1 todos op, got %d", len(todoOps))
	}
	todos := todoOps[0].Todos
	if len(todos) != 3 {
		t.Fatalf("expected 3 items, got %d", len(todos))
	}
	if todos[0].Status != TodoCompleted || todos[1].Status != TodoInProgress {
		t.Errorf("statuses = %v %v", todos[0].Status, todos[1].Status)
	}
	// Unknown status defaults to pending.
	if todos[2].Status != TodoPending {
		t.Errorf("unknown status = %v, want pending", todos[2].Status)
	}
}

func TestClaudeMalformedLine(t *testing.T) {
	src := NewClaudeSource("", 5*time.Minute)
	if ops := src.ParseLine([]byte("{not json")); ops != nil {
		t.Errorf("expected nil for malformed line, got %+v", ops)
	}
	if ops := src.ParseLine([]byte(`{"type":"summary","summary":"compact"}`)); len(opsOfKind(ops, OpToolStart)) != 0 {
		t.Errorf("summary line produced tool ops: %+v", ops)
	}
}

func TestToolDetailProbing(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"Bash", `{"command":"ls -la"}`, "ls -la"},
		{"Read", `{"file_path":"/tmp/a.go"}`, "/tmp/a.go"},
		{"Grep", `{"pattern":"func main"}`, "func main"},
		{"WebFetch", `{"url":"https://example.com"}`, "https://example.com"},
		{"Mystery", `{"weird_key":1}`, ""},
	}

	for _, tt := range tests {
		if got := toolDetail(tt.name, []byte(tt.input)); got != tt.want {
			t.Errorf("toolDetail(%s) = %q, want %q", tt.name, got, tt.want)
		}
	}

	long := `{"command":"echo ` + strings.Repeat("a", 200) + `"}`
	if got := toolDetail("Bash", []byte(long)); len(got) > maxDetailLen+3 {
		t.Errorf("detail not truncated: %d chars", len(got))
	}

	// Truncation lands on a rune boundary even when a multi-byte
	// character straddles the limit.
	wide := truncateDetail(strings.Repeat("é", 60))
	if !utf8.ValidString(wide) {
		t.Errorf("truncated detail is not valid UTF-8: %q", wide)
	}
	if !strings.HasSuffix(wide, "…") {
		t.Errorf("truncated detail missing ellipsis: %q", wide)
	}
}
