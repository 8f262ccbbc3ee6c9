package state

import (
	"strings"
	"time"
)

// pendingCheck tracks one armed permission inference for a tool call.
// Armed at tool start for eligible tools, resolved by the matching tool
// end, or force-cleared by the tool-idle timeout or an interruption.
type pendingCheck struct {
	toolID   string
	toolName string
	armedAt  time.Time
}

// readOnlyTools never prompt: they cannot mutate anything, so a stalled
// one is slowness, not a permission dialog.
var readOnlyTools = map[string]bool{
	"Read":         true,
	"Glob":         true,
	"Grep":         true,
	"LS":           true,
	"NotebookRead": true,
	"TodoRead":     true,
	"TodoWrite":    true,
	"Task":         true,
	"WebSearch":    true,
}

// permissionEligible classifies a tool name for the needs-permission
// inference. External plugin tools (mcp prefix) always qualify; known
// read-only tools never do; anything else can mutate and qualifies.
func permissionEligible(name string) bool {
	if strings.HasPrefix(name, "mcp__") {
		return true
	}
	if readOnlyTools[name] {
		return false
	}
	return name != ""
}
