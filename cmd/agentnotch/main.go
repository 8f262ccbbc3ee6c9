package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/passingBySol/agentnotch/internal/config"
	"github.com/passingBySol/agentnotch/internal/gateway"
	"github.com/passingBySol/agentnotch/internal/mock"
	"github.com/passingBySol/agentnotch/internal/notify"
	"github.com/passingBySol/agentnotch/internal/otlp"
	"github.com/passingBySol/agentnotch/internal/source"
	"github.com/passingBySol/agentnotch/internal/state"
	"github.com/passingBySol/agentnotch/internal/watch"
	"github.com/passingBySol/agentnotch/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Use scripted mock sessions")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	var engine *state.Engine
	broadcaster := ws.NewBroadcaster(func() []*state.Session {
		return engine.Snapshots()
	}, cfg.Server.BroadcastThrottle, cfg.Server.SnapshotInterval)
	engine = state.New(cfg, broadcaster)
	engine.Start()
	defer engine.Stop()
	defer broadcaster.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *mockMode {
		log.Println("Starting in mock mode")
		gen := mock.NewGenerator(engine)
		gen.Start(ctx)
	} else {
		startCollectors(ctx, cfg, engine, broadcaster)
	}

	server := ws.NewServer(engine, broadcaster)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// startCollectors wires every real event source into the engine: the
// telemetry ingest gateway, the notification socket, and the session
// log watchers.
func startCollectors(ctx context.Context, cfg *config.Config, engine *state.Engine, broadcaster *ws.Broadcaster) {
	ingest := gateway.NewServer(cfg.Ingest.Port, func(route gateway.Route, body []byte) {
		switch route {
		case gateway.RouteLogs:
			records, err := otlp.DecodeLogs(body)
			if err != nil {
				log.Printf("[ingest] %v", err)
				return
			}
			engine.HandleTelemetryLogs(records)
		case gateway.RouteMetrics:
			points, err := otlp.DecodeMetrics(body)
			if err != nil {
				log.Printf("[ingest] %v", err)
				return
			}
			engine.HandleTelemetryMetrics(points)
		}
	}, func(err error) {
		log.Printf("[ingest] %v", err)
	})
	ingest.Start()

	claudeDir := cfg.Discovery.ClaudeDir
	if claudeDir == "" {
		claudeDir = source.DefaultClaudeDir()
	}
	codexDir := cfg.Discovery.CodexDir
	if codexDir == "" {
		codexDir = source.DefaultCodexDir()
	}

	sources := []source.Source{
		source.NewClaudeSource(claudeDir, cfg.Discovery.Window),
		source.NewCodexSource(codexDir, cfg.Discovery.Window),
	}
	manager := watch.NewManager(cfg, engine, sources, func(sourceName, status string, discoverFailures, degraded int, lastErr string) {
		broadcaster.PublishSourceHealth(ws.SourceHealthPayload{
			Source:           sourceName,
			Status:           status,
			DiscoverFailures: discoverFailures,
			DegradedSessions: degraded,
			LastError:        lastErr,
		})
	})
	manager.Start()

	// A session announcing itself can be tailed immediately instead of
	// waiting out the rescan interval.
	sock := notify.NewServer(cfg.Notify.SocketPath, func(n notify.Notification) {
		if n.Type == notify.TypeSessionStart && n.Cwd != "" {
			manager.AttachProject(n.Cwd)
		}
		engine.HandleNotification(n)
	}, func(err error) {
		log.Printf("[notify] %v", err)
	})
	sock.Start()

	// Liveness pruning runs on its own slower cadence.
	go func() {
		ticker := time.NewTicker(cfg.Discovery.Interval * 3)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				manager.PruneDeadSessions()
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		manager.Stop()
		sock.Stop()
		ingest.Stop()
	}()
}
