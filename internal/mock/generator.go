// Package mock drives the state engine with scripted sessions for UI
// development without any real agent running.
package mock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/passingBySol/agentnotch/internal/source"
	"github.com/passingBySol/agentnotch/internal/state"
)

type mockSession struct {
	handle        source.Handle
	tools         []string
	toolIdx       int
	tokensPerTick int
	tokens        int
	pattern       string
	completed     bool
	activeToolID  string
}

var commonTools = []string{"Read", "Grep", "Edit", "Write", "Bash", "Glob"}

type Generator struct {
	engine   *state.Engine
	sessions []*mockSession
	rng      *rand.Rand
}

func NewGenerator(engine *state.Engine) *Generator {
	return &Generator{
		engine: engine,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start registers the scripted sessions and launches the tick loop.
func (g *Generator) Start(ctx context.Context) {
	now := time.Now()

	g.sessions = []*mockSession{
		{
			handle: source.Handle{
				SessionID: "mock-refactor", Source: "claude",
				WorkingDir: "/home/user/myproject", StartedAt: now,
			},
			tokensPerTick: 1200, pattern: "steady",
			tools: []string{"Read", "Grep", "Edit", "Write", "Bash", "Edit"},
		},
		{
			handle: source.Handle{
				SessionID: "mock-tests", Source: "claude",
				WorkingDir: "/home/user/webapp", StartedAt: now,
			},
			tokensPerTick: 3500, pattern: "burst",
			tools: []string{"Read", "Write", "Bash", "Bash", "Write"},
		},
		{
			handle: source.Handle{
				SessionID: "mock-stuck", Source: "claude",
				WorkingDir: "/home/user/api-server", StartedAt: now,
			},
			tokensPerTick: 800, pattern: "stall",
			tools: []string{"Bash"},
		},
		{
			handle: source.Handle{
				SessionID: "mock-migrate", Source: "codex",
				WorkingDir: "/home/user/database", StartedAt: now,
			},
			tokensPerTick: 1800, pattern: "steady",
			tools: []string{"Bash", "FileEdit", "Bash", "FileEdit"},
		},
	}

	for _, ms := range g.sessions {
		g.engine.UpsertSession(ms.handle)
		g.applyOps(ms, source.Op{Kind: source.OpMeta, Model: mockModel(ms.handle.Source)})
		g.applyOps(ms, source.Op{Kind: source.OpTurnStart})
	}

	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			for _, ms := range g.sessions {
				g.tick(ms, tick)
			}
		}
	}
}

func (g *Generator) tick(ms *mockSession, tick int) {
	if ms.completed {
		return
	}
	now := time.Now()

	switch ms.pattern {
	case "stall":
		// Start one tool and never finish it: exercises the
		// needs-permission inference.
		if ms.activeToolID == "" {
			ms.activeToolID = fmt.Sprintf("%s-t%d", ms.handle.SessionID, tick)
			g.applyOps(ms, source.Op{
				Kind: source.OpToolStart, Time: now,
				ToolID: ms.activeToolID, ToolName: ms.tools[0],
				ToolDetail: "rm -rf ./build && make release",
			})
		}
		return

	case "burst":
		if tick%4 != 0 {
			return
		}
	}

	// Finish the previous tool, start the next one.
	if ms.activeToolID != "" {
		g.applyOps(ms, source.Op{
			Kind: source.OpToolEnd, Time: now,
			ToolID: ms.activeToolID, Success: g.rng.Intn(10) != 0,
		})
		ms.activeToolID = ""
	}

	ms.tokens += ms.tokensPerTick + g.rng.Intn(ms.tokensPerTick)
	g.applyOps(ms, source.Op{
		Kind: source.OpUsage, Time: now,
		Usage: &source.Usage{Input: ms.tokens, Output: ms.tokens / 4, MaxContext: 200000},
	})

	if ms.toolIdx >= len(ms.tools) {
		g.applyOps(ms, source.Op{Kind: source.OpStop, Time: now, StopReason: source.StopReasonEndTurn})
		ms.completed = true
		return
	}

	name := ms.tools[ms.toolIdx]
	ms.toolIdx++
	ms.activeToolID = fmt.Sprintf("%s-t%d", ms.handle.SessionID, tick)
	g.applyOps(ms, source.Op{
		Kind: source.OpToolStart, Time: now,
		ToolID: ms.activeToolID, ToolName: name,
		ToolDetail: mockDetail(name, g.rng),
	})
}

func (g *Generator) applyOps(ms *mockSession, ops ...source.Op) {
	key := state.Key(ms.handle.Source, ms.handle.SessionID)
	g.engine.ApplyOps(key, ops, false)
}

func mockModel(sourceName string) string {
	if sourceName == "codex" {
		return "gpt-5-codex"
	}
	return "claude-opus-4-5-20251101"
}

func mockDetail(tool string, rng *rand.Rand) string {
	switch tool {
	case "Bash":
		return []string{"go test ./...", "npm run build", "git diff --stat"}[rng.Intn(3)]
	case "Read", "Edit", "Write":
		return []string{"internal/server/handler.go", "src/components/App.tsx", "db/migrations/0042.sql"}[rng.Intn(3)]
	case "Grep":
		return "func handle"
	default:
		return ""
	}
}
