// Package proc is a thin wrapper over the process table, used to decide
// whether the agent behind a quiet session is still running at all.
package proc

import (
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// AgentProcess is one running agent CLI process.
type AgentProcess struct {
	PID        int32
	Name       string
	WorkingDir string
}

// agentExecutables maps known CLI executable names to source tags.
var agentExecutables = map[string]string{
	"claude":      "claude",
	"claude-code": "claude",
	"codex":       "codex",
}

// ListAgents scans the process table for known agent CLI processes.
// Errors reading individual processes are skipped; processes come and
// go during the scan.
func ListAgents() ([]AgentProcess, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	var out []AgentProcess
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		tag, ok := classify(p, name)
		if !ok {
			continue
		}
		cwd, _ := p.Cwd()
		out = append(out, AgentProcess{
			PID:        p.Pid,
			Name:       tag,
			WorkingDir: cwd,
		})
	}
	return out, nil
}

// AnyAlive reports whether at least one agent process has the given
// working directory.
func AnyAlive(agents []AgentProcess, workingDir string) bool {
	if workingDir == "" {
		return false
	}
	want := filepath.Clean(workingDir)
	for _, a := range agents {
		if a.WorkingDir != "" && filepath.Clean(a.WorkingDir) == want {
			return true
		}
	}
	return false
}

// classify matches a process against the known agent CLIs. The CLIs run
// under node as well as standalone binaries, so node processes are
// matched on their script argument.
func classify(p *process.Process, name string) (string, bool) {
	base := filepath.Base(name)
	if tag, ok := agentExecutables[base]; ok {
		return tag, true
	}

	if base != "node" {
		return "", false
	}
	args, err := p.CmdlineSlice()
	if err != nil || len(args) < 2 {
		return "", false
	}
	for _, arg := range args[1:] {
		script := filepath.Base(arg)
		if tag, ok := agentExecutables[script]; ok && !strings.Contains(arg, "node_modules/.bin") {
			return tag, true
		}
	}
	return "", false
}
