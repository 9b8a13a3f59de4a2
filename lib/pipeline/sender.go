// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/tracebuffer/lib/clock"
	"github.com/bureau-foundation/tracebuffer/lib/config"
	"github.com/bureau-foundation/tracebuffer/lib/schema/trace"
	"github.com/bureau-foundation/tracebuffer/lib/transport"
	"github.com/bureau-foundation/tracebuffer/lib/version"
)

// NewStreamSender builds the collector stream sender described by
// cfg.Transport. The caller runs it with Run.
func NewStreamSender(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*transport.StreamSender, error) {
	compression, err := transport.ParseCompressionTag(cfg.Transport.Compression)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return transport.NewStreamSender(transport.StreamOptions{
		Network:       cfg.Transport.Network,
		Address:       cfg.Transport.Address,
		Compression:   compression,
		QueueBytes:    cfg.Transport.QueueBytes,
		MaxFrameBytes: cfg.Transport.MaxFrameBytes,
		DialTimeout:   cfg.Transport.DialTimeout.Duration,
		Hello: transport.Hello{
			Agent: trace.Agent{
				AgentID:                cfg.Agent.AgentID,
				ApplicationName:        cfg.Agent.ApplicationName,
				StartTime:              clk.Now().UnixMilli(),
				ApplicationServiceType: cfg.Agent.ServiceType,
			},
			Version: version.AgentVersion(),
		},
		Clock:  clk,
		Logger: logger.With("component", "transport"),
	})
}
