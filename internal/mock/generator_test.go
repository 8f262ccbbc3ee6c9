package mock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/passingBySol/agentnotch/internal/config"
	"github.com/passingBySol/agentnotch/internal/state"
)

type nopObserver struct{}

func (nopObserver) SessionsUpdated([]*state.Session) {}
func (nopObserver) SessionRemoved(string)            {}
func (nopObserver) SessionCompleted(*state.Session)  {}

func TestGeneratorRegistersSessions(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	engine := state.New(cfg, nopObserver{})
	engine.Start()
	defer engine.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := NewGenerator(engine)
	gen.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snaps := engine.Snapshots()
		if len(snaps) == len(gen.sessions) {
			for _, s := range snaps {
				if s.Model == "" {
					t.Errorf("session %s has no model", s.ID)
				}
				if s.WorkingDir == "" {
					t.Errorf("session %s has no working dir", s.ID)
				}
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d mock sessions, got %d", len(gen.sessions), len(engine.Snapshots()))
}
