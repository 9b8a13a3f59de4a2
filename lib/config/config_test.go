// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/tracebuffer/lib/schedule"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Dispatch.FlushDelay.Duration >= cfg.Dispatch.CloseDelay.Duration {
		t.Errorf("default flush delay %s should be shorter than close delay %s",
			cfg.Dispatch.FlushDelay.Duration, cfg.Dispatch.CloseDelay.Duration)
	}
	if cfg.BatchMaxEvents() != cfg.Shared.Capacity {
		t.Errorf("BatchMaxEvents() = %d, want shared capacity %d", cfg.BatchMaxEvents(), cfg.Shared.Capacity)
	}
}

func TestLoadRequiresEnvironmentVariable(t *testing.T) {
	t.Setenv("TRACEBUFFER_CONFIG", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when TRACEBUFFER_CONFIG is not set")
	}
	if !strings.HasPrefix(err.Error(), "TRACEBUFFER_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	content := `
environment: staging
buffer:
  max_events: 8
shared:
  flush_batch_size: 16
  expiry: 250ms
transport:
  address: ${TRACEBUFFER_TEST_DIR:-/fallback}/collector.sock
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("TRACEBUFFER_CONFIG", path)
	t.Setenv("TRACEBUFFER_TEST_DIR", "/run/test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Environment != Staging {
		t.Errorf("environment = %s, want staging", cfg.Environment)
	}
	if cfg.Buffer.MaxEvents != 8 || cfg.Shared.FlushBatchSize != 16 {
		t.Errorf("buffer.max_events=%d shared.flush_batch_size=%d, want 8 and 16",
			cfg.Buffer.MaxEvents, cfg.Shared.FlushBatchSize)
	}
	if cfg.Shared.Expiry.Duration != 250*time.Millisecond {
		t.Errorf("shared.expiry = %s, want 250ms", cfg.Shared.Expiry.Duration)
	}
	// Untouched fields keep their defaults.
	if cfg.Dispatch.QueueCapacity != 1024 {
		t.Errorf("dispatch.queue_capacity = %d, want default 1024", cfg.Dispatch.QueueCapacity)
	}
	if cfg.Transport.Address != "/run/test/collector.sock" {
		t.Errorf("transport.address = %q, want expanded path", cfg.Transport.Address)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestExpandVarsDefault(t *testing.T) {
	t.Setenv("TRACEBUFFER_UNSET_FOR_TEST", "")
	if got := expandVars("${TRACEBUFFER_UNSET_FOR_TEST:-/tmp}/x.sock"); got != "/tmp/x.sock" {
		t.Fatalf("expandVars = %q, want /tmp/x.sock", got)
	}
}

func TestParseGeneratesAgentID(t *testing.T) {
	cfg, err := Parse([]byte("agent:\n  agent_id: \"\"\n  application_name: shop\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.HasPrefix(cfg.Agent.AgentID, "shop-") || len(cfg.Agent.AgentID) != len("shop-")+8 {
		t.Fatalf("AgentID = %q, want shop-<8 chars>", cfg.Agent.AgentID)
	}

	other, err := Parse([]byte("agent:\n  agent_id: \"\"\n  application_name: shop\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if other.Agent.AgentID == cfg.Agent.AgentID {
		t.Fatalf("two parses produced the same agent ID %q", cfg.Agent.AgentID)
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte("dispatch:\n  flush_delay: soon\n"))
	if err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	cfg, err := Parse([]byte(`
environment: production
dispatch:
  queue_full: block
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Dispatch.QueueFull != QueueDrop {
		t.Errorf("production queue_full = %s, want drop", cfg.Dispatch.QueueFull)
	}

	cfg, err = Parse([]byte(`
environment: development
development:
  transport:
    compression: lz4
  dispatch:
    queue_capacity: 16
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Transport.Compression != CompressionLZ4 || cfg.Dispatch.QueueCapacity != 16 {
		t.Errorf("development overrides not applied: compression=%s capacity=%d",
			cfg.Transport.Compression, cfg.Dispatch.QueueCapacity)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"flush batch below buffer max", func(c *Config) {
			c.Buffer.MaxEvents = 50
			c.Shared.FlushBatchSize = 40
		}, "flush_batch_size"},
		{"zero percent", func(c *Config) { c.Shared.ThresholdPercent = 0 }, "threshold_percent"},
		{"percent above 100", func(c *Config) { c.Shared.ThresholdPercent = 101 }, "threshold_percent"},
		{"threshold above batch", func(c *Config) {
			c.Shared.ThresholdPercent = 100
			c.Batch.MaxEvents = 10
		}, "exceeds batch.max_events"},
		{"zero buffer max", func(c *Config) { c.Buffer.MaxEvents = 0 }, "buffer.max_events"},
		{"unknown queue policy", func(c *Config) { c.Dispatch.QueueFull = "wait" }, "queue_full"},
		{"close not after flush", func(c *Config) {
			c.Dispatch.CloseDelay = c.Dispatch.FlushDelay
		}, "close_delay"},
		{"unknown compression", func(c *Config) { c.Transport.Compression = "gzip" }, "compression"},
		{"queue smaller than frame", func(c *Config) { c.Transport.QueueBytes = 1 }, "queue_bytes"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Fatalf("error %q does not mention %q", err, test.want)
			}
		})
	}
}

func TestValidateSkipsSharedWhenDisabled(t *testing.T) {
	cfg := Default()
	cfg.Shared.Enabled = false
	cfg.Shared.FlushBatchSize = 1
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate with shared disabled: %v", err)
	}
}

func TestDefaultDelaysFollowScheduler(t *testing.T) {
	cfg := Default()
	if cfg.Dispatch.FlushDelay.Duration != schedule.DefaultFlushDelay ||
		cfg.Dispatch.CloseDelay.Duration != schedule.DefaultCloseDelay ||
		cfg.Shared.SweepPeriod.Duration != schedule.DefaultSharedSweepDelay {
		t.Fatalf("default delays flush=%s close=%s sweep=%s do not match the scheduler defaults",
			cfg.Dispatch.FlushDelay.Duration, cfg.Dispatch.CloseDelay.Duration, cfg.Shared.SweepPeriod.Duration)
	}
}
