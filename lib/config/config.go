// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/tracebuffer/lib/flush"
	"github.com/bureau-foundation/tracebuffer/lib/schedule"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// QueuePolicy is what a producer call does when the dispatch queue is
// full.
type QueuePolicy string

const (
	// QueueDrop discards the message immediately.
	QueueDrop QueuePolicy = "drop"
	// QueueBlock waits up to BlockTimeout for space, then discards.
	QueueBlock QueuePolicy = "block"
)

// Compression names accepted by transport.compression.
const (
	CompressionNone = "none"
	CompressionLZ4  = "lz4"
	CompressionZstd = "zstd"
)

// Config is the master configuration for the agent.
type Config struct {
	Environment Environment `yaml:"environment"`

	// Agent is the identity stamped on every wire unit.
	Agent AgentConfig `yaml:"agent"`

	// Buffer configures per-trace and async buffers.
	Buffer BufferConfig `yaml:"buffer"`

	// Dispatch configures the dispatch engines and sweep timers.
	Dispatch DispatchConfig `yaml:"dispatch"`

	// Shared configures the cross-trace shared buffer.
	Shared SharedConfig `yaml:"shared"`

	// Batch configures the periodic batching flusher.
	Batch BatchConfig `yaml:"batch"`

	// Transport configures the stream sender.
	Transport TransportConfig `yaml:"transport"`

	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the fields an environment section may replace.
type Overrides struct {
	Dispatch  *DispatchConfig  `yaml:"dispatch,omitempty"`
	Transport *TransportConfig `yaml:"transport,omitempty"`
}

// AgentConfig identifies this process to the collector.
type AgentConfig struct {
	// AgentID defaults to a per-process random ID. An explicit empty
	// value is replaced by "<application_name>-<random>".
	AgentID         string `yaml:"agent_id"`
	ApplicationName string `yaml:"application_name"`
	ServiceType     int16  `yaml:"service_type"`
}

// BufferConfig configures the per-trace buffers.
type BufferConfig struct {
	// MaxEvents is the per-trace buffer size. Reaching it emits a
	// partial chunk. Default: 20
	MaxEvents int `yaml:"max_events"`

	// AsyncFillRate is the percentage of MaxEvents an async chunk must
	// reach before completed async traces are merged. Default: 70
	AsyncFillRate int `yaml:"async_fill_rate"`
}

// DispatchConfig configures the dispatch engines.
type DispatchConfig struct {
	// QueueCapacity bounds each engine's queue. Default: 1024
	QueueCapacity int `yaml:"queue_capacity"`

	// BatchSize is the most messages the consumer drains per wakeup.
	// Default: 64
	BatchSize int `yaml:"batch_size"`

	// QueueFull is "drop" or "block". Default: drop
	QueueFull QueuePolicy `yaml:"queue_full"`

	// BlockTimeout bounds how long a producer waits under "block".
	// Default: 5ms
	BlockTimeout Duration `yaml:"block_timeout"`

	// StopTimeout bounds how long Stop waits for the final drain.
	// Default: 5s
	StopTimeout Duration `yaml:"stop_timeout"`

	// FlushDelay is the period of the flush-all sweep. Default: 1s
	FlushDelay Duration `yaml:"flush_delay"`

	// CloseDelay is the period of the idle-close sweep. Must be longer
	// than FlushDelay. Default: 60s
	CloseDelay Duration `yaml:"close_delay"`

	// IdleTimeout is how long a buffer may go untouched before the
	// close sweep releases it. Default: 60s
	IdleTimeout Duration `yaml:"idle_timeout"`
}

// SharedConfig configures the shared buffer.
type SharedConfig struct {
	Enabled bool `yaml:"enabled"`

	// Capacity is the aggregate event budget across all traces.
	// Default: 1000
	Capacity int `yaml:"capacity"`

	// FlushBatchSize caps the events drained into one combined unit.
	// Must be at least buffer.max_events. Default: 100
	FlushBatchSize int `yaml:"flush_batch_size"`

	// Expiry is how long a buffer may sit idle before the age sweep
	// flushes it. Default: 5s
	Expiry Duration `yaml:"expiry"`

	// SweepPeriod is the period of the shared age and capacity
	// sweeps. Default: 1s
	SweepPeriod Duration `yaml:"sweep_period"`

	// ThresholdPercent of Capacity is the largest unit routed through
	// the periodic batcher; larger units go straight to the
	// transport. Must be in (0, 100]. Default: 10
	ThresholdPercent int `yaml:"threshold_percent"`
}

// BatchConfig configures the periodic batching flusher.
type BatchConfig struct {
	// MaxEvents is the most events in one batch. Zero means use
	// shared.capacity.
	MaxEvents int `yaml:"max_events"`

	// Period is the batcher tick. Default: 1s
	Period Duration `yaml:"period"`
}

// TransportConfig configures the stream sender.
type TransportConfig struct {
	// Network is "unix" or "tcp". Default: unix
	Network string `yaml:"network"`

	// Address is the collector socket path or host:port.
	// Default: ${XDG_RUNTIME_DIR:-/tmp}/tracebuffer-collector.sock
	Address string `yaml:"address"`

	// Compression is "none", "lz4" or "zstd". Default: zstd
	Compression string `yaml:"compression"`

	// QueueBytes bounds the outgoing frame queue. The oldest frames
	// are dropped when it is full. Default: 8 MiB
	QueueBytes int `yaml:"queue_bytes"`

	// MaxFrameBytes rejects oversized encoded units. Default: 4 MiB
	MaxFrameBytes int `yaml:"max_frame_bytes"`

	// DialTimeout bounds each connection attempt. Default: 5s
	DialTimeout Duration `yaml:"dial_timeout"`
}

// Duration is a time.Duration written as a Go duration string in
// YAML ("1s", "250ms").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", node.Line, err)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Default returns the configuration every file is merged over.
func Default() *Config {
	return &Config{
		Environment: Development,
		Agent: AgentConfig{
			AgentID:         NewAgentID("tracebuffer"),
			ApplicationName: "tracebuffer",
			ServiceType:     1000,
		},
		Buffer: BufferConfig{
			MaxEvents:     20,
			AsyncFillRate: 70,
		},
		Dispatch: DispatchConfig{
			QueueCapacity: 1024,
			BatchSize:     64,
			QueueFull:     QueueDrop,
			BlockTimeout:  Duration{5 * time.Millisecond},
			StopTimeout:   Duration{5 * time.Second},
			FlushDelay:    Duration{schedule.DefaultFlushDelay},
			CloseDelay:    Duration{schedule.DefaultCloseDelay},
			IdleTimeout:   Duration{60 * time.Second},
		},
		Shared: SharedConfig{
			Enabled:          true,
			Capacity:         1000,
			FlushBatchSize:   100,
			Expiry:           Duration{5 * time.Second},
			SweepPeriod:      Duration{schedule.DefaultSharedSweepDelay},
			ThresholdPercent: 10,
		},
		Batch: BatchConfig{
			Period: Duration{time.Second},
		},
		Transport: TransportConfig{
			Network:       "unix",
			Address:       "${XDG_RUNTIME_DIR:-/tmp}/tracebuffer-collector.sock",
			Compression:   CompressionZstd,
			QueueBytes:    8 << 20,
			MaxFrameBytes: 4 << 20,
			DialTimeout:   Duration{5 * time.Second},
		},
	}
}

// Load loads the file named by TRACEBUFFER_CONFIG. It fails when the
// variable is unset.
func Load() (*Config, error) {
	path := os.Getenv("TRACEBUFFER_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("TRACEBUFFER_CONFIG environment variable not set; " +
			"set it to the path of your agent config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path, applies the environment
// section and expands variables. It does not validate; callers run
// Validate after any flag overrides.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse merges YAML data over Default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.Transport.Address = expandVars(cfg.Transport.Address)
	if cfg.Agent.AgentID == "" {
		cfg.Agent.AgentID = NewAgentID(cfg.Agent.ApplicationName)
	}
	return cfg, nil
}

// NewAgentID returns "<name>-<8 hex chars>", unique per process.
func NewAgentID(name string) string {
	return fmt.Sprintf("%s-%s", name, uuid.New().String()[:8])
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &Overrides{Dispatch: &DispatchConfig{QueueFull: QueueDrop}}
		}
	}
	if overrides == nil {
		return
	}

	if dispatch := overrides.Dispatch; dispatch != nil {
		if dispatch.QueueCapacity != 0 {
			c.Dispatch.QueueCapacity = dispatch.QueueCapacity
		}
		if dispatch.BatchSize != 0 {
			c.Dispatch.BatchSize = dispatch.BatchSize
		}
		if dispatch.QueueFull != "" {
			c.Dispatch.QueueFull = dispatch.QueueFull
		}
		if dispatch.BlockTimeout.Duration != 0 {
			c.Dispatch.BlockTimeout = dispatch.BlockTimeout
		}
	}

	if transport := overrides.Transport; transport != nil {
		if transport.Network != "" {
			c.Transport.Network = transport.Network
		}
		if transport.Address != "" {
			c.Transport.Address = transport.Address
		}
		if transport.Compression != "" {
			c.Transport.Compression = transport.Compression
		}
		if transport.QueueBytes != 0 {
			c.Transport.QueueBytes = transport.QueueBytes
		}
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the process
// environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// BatchMaxEvents returns the effective batch capacity.
func (c *Config) BatchMaxEvents() int {
	if c.Batch.MaxEvents > 0 {
		return c.Batch.MaxEvents
	}
	return c.Shared.Capacity
}

// Validate reports every configuration error at once.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Environment {
	case Development, Staging, Production:
	default:
		fail("invalid environment: %s", c.Environment)
	}

	if c.Agent.AgentID == "" {
		fail("agent.agent_id is required")
	}

	if c.Buffer.MaxEvents <= 0 {
		fail("buffer.max_events must be positive, got %d", c.Buffer.MaxEvents)
	}
	if c.Buffer.AsyncFillRate <= 0 || c.Buffer.AsyncFillRate > 100 {
		fail("buffer.async_fill_rate must be in (0, 100], got %d", c.Buffer.AsyncFillRate)
	}

	if c.Dispatch.QueueCapacity <= 0 {
		fail("dispatch.queue_capacity must be positive, got %d", c.Dispatch.QueueCapacity)
	}
	if c.Dispatch.BatchSize <= 0 {
		fail("dispatch.batch_size must be positive, got %d", c.Dispatch.BatchSize)
	}
	switch c.Dispatch.QueueFull {
	case QueueDrop:
	case QueueBlock:
		if c.Dispatch.BlockTimeout.Duration <= 0 {
			fail("dispatch.block_timeout must be positive when queue_full is block")
		}
	default:
		fail("dispatch.queue_full must be %q or %q, got %q", QueueDrop, QueueBlock, c.Dispatch.QueueFull)
	}
	if c.Dispatch.StopTimeout.Duration <= 0 {
		fail("dispatch.stop_timeout must be positive")
	}
	if c.Dispatch.FlushDelay.Duration <= 0 {
		fail("dispatch.flush_delay must be positive")
	}
	if c.Dispatch.CloseDelay.Duration <= c.Dispatch.FlushDelay.Duration {
		fail("dispatch.close_delay (%s) must be longer than dispatch.flush_delay (%s)",
			c.Dispatch.CloseDelay.Duration, c.Dispatch.FlushDelay.Duration)
	}
	if c.Dispatch.IdleTimeout.Duration <= 0 {
		fail("dispatch.idle_timeout must be positive")
	}

	if c.Shared.Enabled {
		if c.Shared.Capacity <= 0 {
			fail("shared.capacity must be positive, got %d", c.Shared.Capacity)
		}
		if c.Shared.FlushBatchSize < c.Buffer.MaxEvents {
			fail("shared.flush_batch_size (%d) must be at least buffer.max_events (%d)",
				c.Shared.FlushBatchSize, c.Buffer.MaxEvents)
		}
		if c.Shared.Expiry.Duration <= 0 {
			fail("shared.expiry must be positive")
		}
		if c.Shared.SweepPeriod.Duration <= 0 {
			fail("shared.sweep_period must be positive")
		}
		if c.Shared.ThresholdPercent <= 0 || c.Shared.ThresholdPercent > 100 {
			fail("shared.threshold_percent must be in (0, 100], got %d", c.Shared.ThresholdPercent)
		}
		if c.Batch.MaxEvents < 0 {
			fail("batch.max_events must not be negative, got %d", c.Batch.MaxEvents)
		}
		// An invalid percent is reported above.
		if threshold, err := flush.NewThreshold(c.Shared.Capacity, c.Shared.ThresholdPercent); err == nil && threshold.Limit() > c.BatchMaxEvents() {
			fail("routing threshold (%d events) exceeds batch.max_events (%d)", threshold.Limit(), c.BatchMaxEvents())
		}
		if c.Batch.Period.Duration <= 0 {
			fail("batch.period must be positive")
		}
	}

	switch c.Transport.Network {
	case "unix", "tcp":
	default:
		fail("transport.network must be unix or tcp, got %q", c.Transport.Network)
	}
	if c.Transport.Address == "" {
		fail("transport.address is required")
	}
	switch c.Transport.Compression {
	case CompressionNone, CompressionLZ4, CompressionZstd:
	default:
		fail("transport.compression must be none, lz4 or zstd, got %q", c.Transport.Compression)
	}
	if c.Transport.MaxFrameBytes <= 0 {
		fail("transport.max_frame_bytes must be positive")
	}
	if c.Transport.QueueBytes < c.Transport.MaxFrameBytes {
		fail("transport.queue_bytes (%d) must be at least transport.max_frame_bytes (%d)",
			c.Transport.QueueBytes, c.Transport.MaxFrameBytes)
	}
	if c.Transport.DialTimeout.Duration <= 0 {
		fail("transport.dial_timeout must be positive")
	}

	return errors.Join(errs...)
}
