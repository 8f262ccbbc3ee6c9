package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Notify     NotifyConfig     `yaml:"notify"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Heuristics HeuristicsConfig `yaml:"heuristics"`
	Tools      ToolsConfig      `yaml:"tools"`
	Privacy    PrivacyConfig    `yaml:"privacy"`
}

// ServerConfig controls the websocket/HTTP publishing surface.
type ServerConfig struct {
	Port              int           `yaml:"port"`
	Host              string        `yaml:"host"`
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
}

// IngestConfig controls the local telemetry ingest gateway.
type IngestConfig struct {
	Port int `yaml:"port"`
}

// NotifyConfig controls the Unix-domain notification socket.
type NotifyConfig struct {
	SocketPath string `yaml:"socket_path"`
}

// DiscoveryConfig controls session log file discovery.
type DiscoveryConfig struct {
	// Interval is how often the watch manager rescans for session files.
	Interval time.Duration `yaml:"interval"`
	// Window is how recently a log file must have been modified to count
	// as a live session.
	Window time.Duration `yaml:"window"`
	// ClaudeDir and CodexDir override the default base directories.
	// Empty means the per-source default under the user home.
	ClaudeDir string `yaml:"claude_dir"`
	CodexDir  string `yaml:"codex_dir"`
	// TailBytes bounds how much history is replayed when a watcher first
	// attaches to an existing log file.
	TailBytes int `yaml:"tail_bytes"`
	// TailLines caps the number of replayed history lines.
	TailLines int `yaml:"tail_lines"`
	// HealthWarningThreshold is the consecutive-failure count at which a
	// source is reported degraded/failed.
	HealthWarningThreshold int `yaml:"health_warning_threshold"`
}

// HeuristicsConfig holds the timer delays driving state inference. All
// inference here is absence-of-events based, so these delays define how
// aggressively the engine concludes "nothing is happening".
type HeuristicsConfig struct {
	// PermissionDelays maps source name to how long a permission-eligible
	// tool may run without completing before the session is considered
	// stuck waiting on user approval. The "default" key is the fallback.
	PermissionDelays map[string]time.Duration `yaml:"permission_delays"`
	// PermissionScanInterval is how often armed permission checks are
	// re-evaluated.
	PermissionScanInterval time.Duration `yaml:"permission_scan_interval"`
	// IdleDelay is the debounce after which a quiet session stops thinking.
	IdleDelay time.Duration `yaml:"idle_delay"`
	// ToolIdleDelay marks sessions idle_timeout when no tool has started
	// for this long and nothing is active.
	ToolIdleDelay time.Duration `yaml:"tool_idle_delay"`
	// TelemetryIdleDelay completes telemetry-channel sessions when no
	// telemetry has arrived for this long.
	TelemetryIdleDelay time.Duration `yaml:"telemetry_idle_delay"`
	// ActiveTimeDelay completes telemetry-channel sessions this long after
	// an active-time metric with no further activity.
	ActiveTimeDelay time.Duration `yaml:"active_time_delay"`
	// ActivityGrace keeps the global "any session active" predicate true
	// for this long after the last observed activity.
	ActivityGrace time.Duration `yaml:"activity_grace"`
}

// ToolsConfig controls tool-call tracking.
type ToolsConfig struct {
	// RecentCapacity bounds the per-session recent tool history.
	RecentCapacity int `yaml:"recent_capacity"`
}

// PrivacyConfig configures masking of the published state surface.
type PrivacyConfig struct {
	MaskWorkingDirs bool     `yaml:"mask_working_dirs"`
	MaskSessionIDs  bool     `yaml:"mask_session_ids"`
	AllowedPaths    []string `yaml:"allowed_paths"`
	BlockedPaths    []string `yaml:"blocked_paths"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8765,
			Host:              "127.0.0.1",
			BroadcastThrottle: 100 * time.Millisecond,
			SnapshotInterval:  5 * time.Second,
		},
		Ingest: IngestConfig{
			Port: 4318,
		},
		Notify: NotifyConfig{
			SocketPath: "/tmp/agentnotch.sock",
		},
		Discovery: DiscoveryConfig{
			Interval:               10 * time.Second,
			Window:                 5 * time.Minute,
			TailBytes:              50 * 1024,
			TailLines:              200,
			HealthWarningThreshold: 3,
		},
		Heuristics: HeuristicsConfig{
			PermissionDelays: map[string]time.Duration{
				"claude":  2500 * time.Millisecond,
				"codex":   5 * time.Second,
				"default": 5 * time.Second,
			},
			PermissionScanInterval: 500 * time.Millisecond,
			IdleDelay:              3 * time.Second,
			ToolIdleDelay:          10 * time.Second,
			TelemetryIdleDelay:     30 * time.Second,
			ActiveTimeDelay:        15 * time.Second,
			ActivityGrace:          5 * time.Second,
		},
		Tools: ToolsConfig{
			RecentCapacity: 10,
		},
	}
}

// Load reads a YAML config file, applying defaults for any field the file
// leaves unset. A missing file yields the defaults with no error.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Tools.RecentCapacity <= 0 {
		cfg.Tools.RecentCapacity = 10
	}

	return cfg, nil
}

// PermissionDelay returns the permission-check delay for a source, falling
// back to the "default" key and then a hardcoded 5 seconds.
func (c *Config) PermissionDelay(source string) time.Duration {
	if d, ok := c.Heuristics.PermissionDelays[source]; ok && d > 0 {
		return d
	}
	if d, ok := c.Heuristics.PermissionDelays["default"]; ok && d > 0 {
		return d
	}
	return 5 * time.Second
}
