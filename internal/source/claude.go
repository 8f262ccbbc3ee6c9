package source

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// Interruption markers appear as free text in user content blocks or in
// the structured toolUseResult field, depending on the CLI version.
var interruptMarkers = []string{
	"[Request interrupted by user",
	"The user doesn't want to proceed",
	"Tool use was rejected",
}

// ClaudeSource parses the Claude Code session JSONL format. Sessions are
// discovered under baseDir (default ~/.claude/projects) by recency.
type ClaudeSource struct {
	baseDir        string
	discoverWindow time.Duration
}

func NewClaudeSource(baseDir string, discoverWindow time.Duration) *ClaudeSource {
	return &ClaudeSource{baseDir: baseDir, discoverWindow: discoverWindow}
}

func (c *ClaudeSource) Name() string { return "claude" }

func (c *ClaudeSource) Discover() ([]Handle, error) {
	paths, err := findRecentFiles(c.baseDir, ".jsonl", c.discoverWindow)
	if err != nil {
		return nil, err
	}

	handles := make([]Handle, 0, len(paths))
	for _, path := range paths {
		handles = append(handles, Handle{
			SessionID:  SessionIDFromPath(path),
			LogPath:    path,
			WorkingDir: workingDirFromFile(path),
			Source:     "claude",
		})
	}
	return handles, nil
}

// DiscoverProject resolves a working directory to its newest session
// log via the key-derived project path, falling back to a linear scan.
// Used when a session announces itself over the notification socket
// before the rescan has seen its file.
func (c *ClaudeSource) DiscoverProject(workingDir string) ([]Handle, error) {
	dir, ok := FindProjectDir(c.baseDir, workingDir)
	if !ok {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var newest string
	var newestMod time.Time
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = entry.Name()
			newestMod = info.ModTime()
		}
	}
	if newest == "" {
		return nil, nil
	}

	path := filepath.Join(dir, newest)
	return []Handle{{
		SessionID:  SessionIDFromPath(path),
		LogPath:    path,
		WorkingDir: workingDir,
		Source:     "claude",
	}}, nil
}

// Claude JSONL wire shapes.

type claudeEntry struct {
	Type          string          `json:"type"`
	SessionID     string          `json:"sessionId"`
	Timestamp     string          `json:"timestamp"`
	Cwd           string          `json:"cwd"`
	GitBranch     string          `json:"gitBranch"`
	Message       json.RawMessage `json:"message"`
	ToolUseResult json.RawMessage `json:"toolUseResult"`
}

type claudeMessage struct {
	Role       string          `json:"role"`
	Model      string          `json:"model"`
	StopReason string          `json:"stop_reason"`
	Usage      *claudeUsage    `json:"usage"`
	Content    json.RawMessage `json:"content"`
}

type claudeUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

type claudeBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// ParseLine converts one Claude JSONL line into normalized ops. Lines
// that are not user/assistant messages (summaries, system banners) yield
// at most metadata.
func (c *ClaudeSource) ParseLine(line []byte) []Op {
	var entry claudeEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return nil
	}

	ts := parseTimestamp(entry.Timestamp)

	var ops []Op
	meta := Op{Kind: OpMeta, Time: ts, SessionID: entry.SessionID, WorkingDir: entry.Cwd, Branch: entry.GitBranch}
	haveMeta := entry.SessionID != "" || entry.Cwd != "" || entry.GitBranch != ""

	switch entry.Type {
	case "assistant":
		ops = append(ops, c.parseAssistant(entry, ts, &meta, &haveMeta)...)
	case "user":
		ops = append(ops, c.parseUser(entry, ts)...)
	}

	if haveMeta {
		ops = append([]Op{meta}, ops...)
	}
	return ops
}

func (c *ClaudeSource) parseAssistant(entry claudeEntry, ts time.Time, meta *Op, haveMeta *bool) []Op {
	var msg claudeMessage
	if err := json.Unmarshal(entry.Message, &msg); err != nil {
		return nil
	}

	if msg.Model != "" {
		meta.Model = msg.Model
		*haveMeta = true
	}

	ops := []Op{{Kind: OpTurnStart, Time: ts, SessionID: entry.SessionID}}

	if msg.Usage != nil {
		ops = append(ops, Op{Kind: OpUsage, Time: ts, SessionID: entry.SessionID, Usage: &Usage{
			Input:      msg.Usage.InputTokens,
			Output:     msg.Usage.OutputTokens,
			CacheRead:  msg.Usage.CacheReadInputTokens,
			CacheWrite: msg.Usage.CacheCreationInputTokens,
		}})
	}

	var blocks []claudeBlock
	if json.Unmarshal(msg.Content, &blocks) == nil {
		for _, block := range blocks {
			if block.Type != "tool_use" {
				continue
			}
			op := Op{
				Kind:       OpToolStart,
				Time:       ts,
				SessionID:  entry.SessionID,
				ToolID:     block.ID,
				ToolName:   block.Name,
				ToolDetail: toolDetail(block.Name, block.Input),
			}
			if block.Name == "TodoWrite" {
				if todos := parseTodos(block.Input); todos != nil {
					ops = append(ops, Op{Kind: OpTodos, Time: ts, SessionID: entry.SessionID, Todos: todos})
				}
			}
			ops = append(ops, op)
		}
	}

	if msg.StopReason != "" {
		ops = append(ops, Op{Kind: OpStop, Time: ts, SessionID: entry.SessionID, StopReason: msg.StopReason})
	}

	return ops
}

func (c *ClaudeSource) parseUser(entry claudeEntry, ts time.Time) []Op {
	var msg claudeMessage
	if err := json.Unmarshal(entry.Message, &msg); err != nil {
		return nil
	}

	if isInterruptText(entry.ToolUseResult) {
		return []Op{{Kind: OpInterrupt, Time: ts, SessionID: entry.SessionID}}
	}

	var ops []Op
	sawToolResult := false

	var blocks []claudeBlock
	if json.Unmarshal(msg.Content, &blocks) == nil {
		for _, block := range blocks {
			switch block.Type {
			case "tool_result":
				sawToolResult = true
				ops = append(ops, Op{
					Kind:      OpToolEnd,
					Time:      ts,
					SessionID: entry.SessionID,
					ToolID:    block.ToolUseID,
					Success:   !block.IsError,
				})
				if isInterruptText(block.Content) {
					ops = append(ops, Op{Kind: OpInterrupt, Time: ts, SessionID: entry.SessionID})
				}
			case "text":
				if containsInterruptMarker(block.Text) {
					ops = append(ops, Op{Kind: OpInterrupt, Time: ts, SessionID: entry.SessionID})
				}
			}
		}
	} else {
		// Content may also be a bare string.
		var text string
		if json.Unmarshal(msg.Content, &text) == nil && containsInterruptMarker(text) {
			return []Op{{Kind: OpInterrupt, Time: ts, SessionID: entry.SessionID}}
		}
	}

	// A plain user message (not a tool result) starts a new turn.
	if !sawToolResult && !containsInterruptOp(ops) {
		ops = append([]Op{{Kind: OpTurnStart, Time: ts, SessionID: entry.SessionID}}, ops...)
	}

	return ops
}

func containsInterruptOp(ops []Op) bool {
	for _, op := range ops {
		if op.Kind == OpInterrupt {
			return true
		}
	}
	return false
}

func containsInterruptMarker(text string) bool {
	for _, marker := range interruptMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// isInterruptText scans a raw JSON fragment (string, array, or object)
// for an interruption marker.
func isInterruptText(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	return containsInterruptMarker(string(raw))
}

// parseTodos decodes a TodoWrite input into checklist items. Unknown
// status strings default to pending.
func parseTodos(input json.RawMessage) []TodoItem {
	var payload struct {
		Todos []struct {
			Content string `json:"content"`
			Status  string `json:"status"`
		} `json:"todos"`
	}
	if json.Unmarshal(input, &payload) != nil || len(payload.Todos) == 0 {
		return nil
	}

	items := make([]TodoItem, 0, len(payload.Todos))
	for _, todo := range payload.Todos {
		status := TodoStatus(todo.Status)
		switch status {
		case TodoPending, TodoInProgress, TodoCompleted:
		default:
			status = TodoPending
		}
		items = append(items, TodoItem{Content: todo.Content, Status: status})
	}
	return items
}

// toolDetail extracts a short display argument from a tool input. Each
// tool names its primary argument differently; probe the usual spellings.
func toolDetail(name string, input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var m map[string]json.RawMessage
	if json.Unmarshal(input, &m) != nil {
		return ""
	}

	for _, key := range []string{"command", "file_path", "path", "pattern", "url", "query", "description", "prompt"} {
		raw, ok := m[key]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return truncateDetail(s)
		}
	}
	return ""
}

const maxDetailLen = 80

func truncateDetail(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxDetailLen {
		return s
	}
	// Back off to a rune boundary so the cut never splits a character.
	cut := maxDetailLen - 1
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
