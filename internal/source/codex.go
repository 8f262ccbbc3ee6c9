package source

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CodexSource parses the Codex CLI rollout JSONL format. Sessions live
// under baseDir (default ~/.codex/sessions) in a YYYY/MM/DD tree, one
// rollout-{timestamp}-{uuid}.jsonl file per session. Lines are envelopes
// of the form {"type": ..., "payload": ...}.
type CodexSource struct {
	baseDir        string
	discoverWindow time.Duration
}

func NewCodexSource(baseDir string, discoverWindow time.Duration) *CodexSource {
	return &CodexSource{baseDir: baseDir, discoverWindow: discoverWindow}
}

func (c *CodexSource) Name() string { return "codex" }

func (c *CodexSource) Discover() ([]Handle, error) {
	if _, err := os.Stat(c.baseDir); os.IsNotExist(err) {
		return nil, nil
	}

	cutoff := time.Now().Add(-c.discoverWindow)
	var handles []Handle

	err := filepath.WalkDir(c.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable dirs
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasPrefix(d.Name(), "rollout-") || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			return nil
		}
		handles = append(handles, Handle{
			SessionID: codexSessionIDFromFilename(d.Name()),
			LogPath:   path,
			Source:    "codex",
			StartedAt: info.ModTime(), // approximation; refined by session_meta
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return handles, nil
}

type codexEnvelope struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// ParseLine converts one rollout envelope line into normalized ops.
func (c *CodexSource) ParseLine(line []byte) []Op {
	var env codexEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil
	}

	ts := parseTimestamp(env.Timestamp)

	switch env.Type {
	case "session_meta":
		return parseCodexSessionMeta(env.Payload, ts)
	case "event_msg":
		return parseCodexEvent(env.Payload, ts)
	case "response_item":
		return parseCodexResponseItem(env.Payload, ts)
	case "env_context":
		var ctx struct {
			Cwd string `json:"cwd"`
		}
		if json.Unmarshal(env.Payload, &ctx) == nil && ctx.Cwd != "" {
			return []Op{{Kind: OpMeta, Time: ts, WorkingDir: ctx.Cwd}}
		}
	}
	return nil
}

func parseCodexSessionMeta(payload json.RawMessage, ts time.Time) []Op {
	var meta struct {
		SessionID      string          `json:"session_id"`
		ConversationID string          `json:"conversation_id"`
		Cwd            string          `json:"cwd"`
		Model          json.RawMessage `json:"model"`
		Timestamp      string          `json:"timestamp"`
	}
	if json.Unmarshal(payload, &meta) != nil {
		return nil
	}

	sessionID := meta.SessionID
	if sessionID == "" {
		sessionID = meta.ConversationID
	}
	if meta.Timestamp != "" {
		ts = parseTimestamp(meta.Timestamp)
	}

	op := Op{
		Kind:       OpMeta,
		Time:       ts,
		SessionID:  sessionID,
		WorkingDir: meta.Cwd,
		Model:      parseCodexModel(meta.Model),
	}
	if op.SessionID == "" && op.WorkingDir == "" && op.Model == "" {
		return nil
	}
	return []Op{op}
}

func parseCodexEvent(payload json.RawMessage, ts time.Time) []Op {
	var event struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if json.Unmarshal(payload, &event) != nil {
		return nil
	}

	switch event.Type {
	case "user_message", "agent_message", "agent_reasoning":
		return []Op{{Kind: OpTurnStart, Time: ts}}

	case "token_count":
		if usage := parseCodexTokenCount(event.Payload); usage != nil {
			return []Op{{Kind: OpUsage, Time: ts, Usage: usage}}
		}

	case "task_complete":
		return []Op{{Kind: OpStop, Time: ts, StopReason: StopReasonEndTurn}}

	case "turn_aborted":
		return []Op{{Kind: OpInterrupt, Time: ts}}

	case "session_configured":
		var cfg struct {
			Model json.RawMessage `json:"model"`
		}
		if json.Unmarshal(event.Payload, &cfg) == nil {
			if model := parseCodexModel(cfg.Model); model != "" {
				return []Op{{Kind: OpMeta, Time: ts, Model: model}}
			}
		}
	}
	return nil
}

func parseCodexResponseItem(payload json.RawMessage, ts time.Time) []Op {
	var item struct {
		Type      string          `json:"type"`
		CallID    string          `json:"call_id"`
		Name      string          `json:"name"`
		Arguments string          `json:"arguments"`
		Output    json.RawMessage `json:"output"`
	}
	if json.Unmarshal(payload, &item) != nil {
		return nil
	}

	switch item.Type {
	case "message":
		return []Op{{Kind: OpTurnStart, Time: ts}}

	case "reasoning":
		return []Op{{Kind: OpTurnStart, Time: ts}}

	case "function_call", "custom_tool_call", "local_shell_call":
		name := item.Name
		if name == "" {
			name = "shell"
		}
		return []Op{{
			Kind:       OpToolStart,
			Time:       ts,
			ToolID:     item.CallID,
			ToolName:   codexToolName(name),
			ToolDetail: truncateDetail(item.Arguments),
		}}

	case "function_call_output", "custom_tool_call_output", "local_shell_call_output":
		// Output is usually a JSON string holding another encoded
		// document; decode one layer so marker probes see plain text.
		out := string(item.Output)
		var decoded string
		if json.Unmarshal(item.Output, &decoded) == nil {
			out = decoded
		}
		op := Op{
			Kind:    OpToolEnd,
			Time:    ts,
			ToolID:  item.CallID,
			Success: !strings.Contains(out, `"success":false`) && !strings.Contains(out, "aborted"),
		}
		ops := []Op{op}
		if strings.Contains(out, "aborted") {
			ops = append(ops, Op{Kind: OpInterrupt, Time: ts})
		}
		return ops
	}
	return nil
}

func parseCodexTokenCount(payload json.RawMessage) *Usage {
	// Codex emits either flat token counters or an info block with
	// last_token_usage / total_token_usage, depending on version.
	var tc struct {
		InputTokens           int `json:"input_tokens"`
		CachedInputTokens     int `json:"cached_input_tokens"`
		OutputTokens          int `json:"output_tokens"`
		ReasoningOutputTokens int `json:"reasoning_output_tokens"`
		ModelContextWindow    int `json:"model_context_window"`
		Info                  *struct {
			TotalTokenUsage *struct {
				InputTokens           int `json:"input_tokens"`
				CachedInputTokens     int `json:"cached_input_tokens"`
				OutputTokens          int `json:"output_tokens"`
				ReasoningOutputTokens int `json:"reasoning_output_tokens"`
			} `json:"total_token_usage"`
			ModelContextWindow int `json:"model_context_window"`
		} `json:"info"`
	}
	if json.Unmarshal(payload, &tc) != nil {
		return nil
	}

	usage := &Usage{
		Input:      tc.InputTokens,
		Output:     tc.OutputTokens,
		CacheRead:  tc.CachedInputTokens,
		Reasoning:  tc.ReasoningOutputTokens,
		MaxContext: tc.ModelContextWindow,
	}
	if tc.Info != nil {
		if tu := tc.Info.TotalTokenUsage; tu != nil {
			usage.Input = tu.InputTokens
			usage.Output = tu.OutputTokens
			usage.CacheRead = tu.CachedInputTokens
			usage.Reasoning = tu.ReasoningOutputTokens
		}
		if tc.Info.ModelContextWindow > 0 {
			usage.MaxContext = tc.Info.ModelContextWindow
		}
	}
	if usage.Input == 0 && usage.Output == 0 && usage.CacheRead == 0 && usage.Reasoning == 0 {
		return nil
	}
	return usage
}

// codexToolName maps Codex function names onto the shared tool
// vocabulary where a clean mapping exists.
func codexToolName(name string) string {
	switch name {
	case "shell", "local_shell", "exec_command":
		return "Bash"
	case "apply_patch":
		return "FileEdit"
	case "web_search":
		return "WebSearch"
	default:
		return name
	}
}

func parseCodexModel(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var model string
	if json.Unmarshal(raw, &model) == nil {
		return model
	}
	var obj struct {
		Name  string `json:"name"`
		ID    string `json:"id"`
		Model string `json:"model"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		switch {
		case obj.Name != "":
			return obj.Name
		case obj.ID != "":
			return obj.ID
		case obj.Model != "":
			return obj.Model
		}
	}
	return ""
}

// codexSessionIDFromFilename extracts the UUID from a rollout filename
// of the form rollout-{timestamp}-{uuid}.jsonl.
func codexSessionIDFromFilename(name string) string {
	name = strings.TrimSuffix(name, ".jsonl")
	name = strings.TrimPrefix(name, "rollout-")

	if len(name) >= 36 {
		candidate := name[len(name)-36:]
		if candidate[8] == '-' && candidate[13] == '-' && candidate[18] == '-' && candidate[23] == '-' {
			return candidate
		}
	}
	return name
}
