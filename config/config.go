// Package config loads agentorg configuration from TOML.
//
// Values of the form ${VAR} are expanded from the environment before
// parsing. Durations are written as strings ("30s", "5m").
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/agentorg/llm"
	"github.com/vinayprograms/agentorg/message"
)

// Duration is a time.Duration that decodes from "30s"-style strings.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the complete agentorg configuration.
type Config struct {
	Logging      LoggingConfig      `toml:"logging"`
	Bus          BusConfig          `toml:"bus"`
	Liveness     LivenessConfig     `toml:"liveness"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Telemetry    TelemetryConfig    `toml:"telemetry"`
	LLM          LLMConfig          `toml:"llm"`
	Agents       []AgentConfig      `toml:"agents"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// BusConfig selects and tunes the message transport.
type BusConfig struct {
	Transport string        `toml:"transport"` // memory or nats
	NATS      NATSConfig    `toml:"nats"`
	History   HistoryConfig `toml:"history"`
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL            string   `toml:"url"`
	Name           string   `toml:"name"`
	Token          string   `toml:"token"`
	User           string   `toml:"user"`
	Password       string   `toml:"password"`
	ReconnectWait  Duration `toml:"reconnect_wait"`
	MaxReconnects  int      `toml:"max_reconnects"`
	ConnectTimeout Duration `toml:"connect_timeout"`
}

// HistoryConfig bounds the recent-message buffer.
type HistoryConfig struct {
	BucketWidth Duration `toml:"bucket_width"`
	PerBucket   int      `toml:"per_bucket"`
	MaxBuckets  int      `toml:"max_buckets"`
	Search      bool     `toml:"search"`
}

// LivenessConfig holds heartbeat and sweep timing.
type LivenessConfig struct {
	AliveTTL          Duration `toml:"alive_ttl"`
	PurgeTTL          Duration `toml:"purge_ttl"`
	OfflineInterval   Duration `toml:"offline_interval"`
	PurgeInterval     Duration `toml:"purge_interval"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
}

// OrchestratorConfig holds composition-root settings.
type OrchestratorConfig struct {
	StatusInterval Duration `toml:"status_interval"`
	RequestTimeout Duration `toml:"request_timeout"`
	ShutdownGrace  Duration `toml:"shutdown_grace"`
	Selector       string   `toml:"selector"` // first, round_robin, least_recent
}

// TelemetryConfig configures status export and tracing.
type TelemetryConfig struct {
	Sink     string        `toml:"sink"`     // noop, file, http, websocket
	Endpoint string        `toml:"endpoint"` // path, URL or listen address
	Tracing  TracingConfig `toml:"tracing"`
}

// TracingConfig configures OTLP trace export. Empty endpoint disables it.
type TracingConfig struct {
	Endpoint    string `toml:"endpoint"`
	Protocol    string `toml:"protocol"` // grpc or http
	Insecure    bool   `toml:"insecure"`
	Debug       bool   `toml:"debug"`
	ServiceName string `toml:"service_name"`
}

// LLMConfig selects the text generator.
type LLMConfig struct {
	Provider    string   `toml:"provider"` // echo, anthropic, openai, google
	Model       string   `toml:"model"`
	MaxTokens   int      `toml:"max_tokens"`
	BaseURL     string   `toml:"base_url"`
	MaxRetries  int      `toml:"max_retries"`
	InitBackoff Duration `toml:"init_backoff"`
	MaxBackoff  Duration `toml:"max_backoff"`

	RequestsPerMinute int `toml:"requests_per_minute"`
}

// Generator returns the llm configuration with apiKey filled in.
func (c LLMConfig) Generator(apiKey string) llm.Config {
	return llm.Config{
		Provider:  c.Provider,
		Model:     c.Model,
		APIKey:    apiKey,
		MaxTokens: c.MaxTokens,
		BaseURL:   c.BaseURL,
		Retry: llm.RetryConfig{
			MaxRetries:  c.MaxRetries,
			InitBackoff: c.InitBackoff.Duration,
			MaxBackoff:  c.MaxBackoff.Duration,
		},
		RequestsPerMinute: c.RequestsPerMinute,
	}
}

// AgentConfig is one roster entry.
type AgentConfig struct {
	ID           string   `toml:"id"`
	Name         string   `toml:"name"`
	Role         string   `toml:"role"`
	Tier         string   `toml:"tier"`
	Department   string   `toml:"department"`
	ReportingTo  string   `toml:"reporting_to"`
	Capabilities []string `toml:"capabilities"`
	SystemPrompt string   `toml:"system_prompt"`
}

// Default returns a configuration that runs in-process with the default
// roster and an offline generator.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Bus: BusConfig{
			Transport: "memory",
			NATS: NATSConfig{
				URL:            "nats://127.0.0.1:4222",
				Name:           "agentorg",
				ReconnectWait:  Duration{2 * time.Second},
				MaxReconnects:  -1,
				ConnectTimeout: Duration{5 * time.Second},
			},
			History: HistoryConfig{
				BucketWidth: Duration{time.Minute},
				PerBucket:   100,
				MaxBuckets:  60,
				Search:      true,
			},
		},
		Liveness: LivenessConfig{
			AliveTTL:          Duration{90 * time.Second},
			PurgeTTL:          Duration{10 * time.Minute},
			OfflineInterval:   Duration{30 * time.Second},
			PurgeInterval:     Duration{5 * time.Minute},
			HeartbeatInterval: Duration{30 * time.Second},
		},
		Orchestrator: OrchestratorConfig{
			StatusInterval: Duration{5 * time.Second},
			RequestTimeout: Duration{30 * time.Second},
			ShutdownGrace:  Duration{10 * time.Second},
			Selector:       "first",
		},
		Telemetry: TelemetryConfig{
			Sink:    "noop",
			Tracing: TracingConfig{Protocol: "grpc"},
		},
		LLM: LLMConfig{
			Provider:  "echo",
			MaxTokens: 1024,
		},
		Agents: DefaultRoster(),
	}
}

// Load reads path over the defaults. A file that defines no agents keeps
// the default roster. Unknown keys are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes TOML text over the defaults and validates the result.
func Parse(text string) (*Config, error) {
	cfg := Default()
	cfg.Agents = nil

	md, err := toml.Decode(expandEnvVars(text), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents = DefaultRoster()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the environment value, or "" if unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate returns the first problem found.
func (c *Config) Validate() error {
	switch c.Bus.Transport {
	case "memory":
	case "nats":
		if c.Bus.NATS.URL == "" {
			return fmt.Errorf("bus.nats.url is required for the nats transport")
		}
	default:
		return fmt.Errorf("bus.transport must be memory or nats, got %q", c.Bus.Transport)
	}

	if c.Liveness.PurgeTTL.Duration <= c.Liveness.AliveTTL.Duration {
		return fmt.Errorf("liveness.purge_ttl (%v) must exceed liveness.alive_ttl (%v)",
			c.Liveness.PurgeTTL, c.Liveness.AliveTTL)
	}
	if c.Orchestrator.StatusInterval.Duration <= 0 {
		return fmt.Errorf("orchestrator.status_interval must be positive")
	}

	switch c.Telemetry.Sink {
	case "", "noop", "websocket":
	case "file", "http":
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry.endpoint is required for the %s sink", c.Telemetry.Sink)
		}
	default:
		return fmt.Errorf("unknown telemetry.sink %q", c.Telemetry.Sink)
	}

	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if strings.TrimSpace(a.ID) == "" {
			return fmt.Errorf("agents[%d]: id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("agents[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
		if !message.Tier(a.Tier).Valid() {
			return fmt.Errorf("agents[%d] %s: tier must be executive, manager or worker, got %q", i, a.ID, a.Tier)
		}
	}
	return validateReporting(c.Agents, seen)
}

// validateReporting requires every reporting_to to name a roster member and
// the reporting lines to form a forest.
func validateReporting(agents []AgentConfig, ids map[string]bool) error {
	manager := make(map[string]string, len(agents))
	for i, a := range agents {
		if a.ReportingTo == "" {
			continue
		}
		if !ids[a.ReportingTo] {
			return fmt.Errorf("agents[%d] %s: reporting_to %q is not in the roster", i, a.ID, a.ReportingTo)
		}
		manager[a.ID] = a.ReportingTo
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(agents))
	for _, a := range agents {
		var path []string
		id := a.ID
		for id != "" && state[id] == unvisited {
			state[id] = visiting
			path = append(path, id)
			id = manager[id]
		}
		if id != "" && state[id] == visiting {
			return fmt.Errorf("agents: reporting cycle through %s", strings.Join(cycleFrom(path, id), " -> "))
		}
		for _, p := range path {
			state[p] = done
		}
	}
	return nil
}

// cycleFrom returns the part of path starting at id, closed back on id.
func cycleFrom(path []string, id string) []string {
	for i, p := range path {
		if p == id {
			return append(append([]string(nil), path[i:]...), id)
		}
	}
	return []string{id}
}
