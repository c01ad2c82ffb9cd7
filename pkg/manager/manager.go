// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package manager contains the single point of entry for the pipeline simulator
package manager

import (
	"github.com/onosproject/onos-lib-go/pkg/logging"
	"github.com/onosproject/onos-lib-go/pkg/northbound"
	"github.com/onosproject/pipeline-sim/pkg/engine"
	"github.com/onosproject/pipeline-sim/pkg/northbound/p4rt"
	"github.com/onosproject/pipeline-sim/pkg/ruleset"
	"google.golang.org/grpc"
)

var log = logging.GetLogger("manager")

// Config is a manager configuration
type Config struct {
	CAPath      string
	KeyPath     string
	CertPath    string
	GRPCPort    int
	NoTLS       bool
	DeviceID    uint64
	RulesetPath string
}

// Manager single point of entry for the pipeline simulator
type Manager struct {
	Config Config
	Engine *engine.Engine

	server *northbound.Server
	stats  *engine.StatsCollector
}

// NewManager initializes the application manager
func NewManager(cfg Config) *Manager {
	log.Infow("Creating manager")
	mgr := Manager{
		Config: cfg,
	}
	return &mgr
}

// Run runs manager
func (m *Manager) Run() {
	log.Infow("Starting Manager")

	if err := m.Start(); err != nil {
		log.Fatalw("Unable to run Manager", "error", err)
	}
}

// Start initializes and starts the forwarding engine and the NB gRPC API.
func (m *Manager) Start() error {
	// Initialize the forwarding engine
	m.Engine = engine.NewEngine(m.Config.DeviceID)

	// Preload the initial rules, if a rule-set was given
	if m.Config.RulesetPath != "" {
		if err := ruleset.ApplyRuleset(m.Engine, m.Config.RulesetPath); err != nil {
			return err
		}
	}

	// Start the I/O stats collector
	m.stats = engine.NewStatsCollector(m.Engine)
	m.stats.Start()

	// Starts NB server
	err := m.startNorthboundServer()
	if err != nil {
		return err
	}
	return nil
}

// startNorthboundServer starts the northbound gRPC server
func (m *Manager) startNorthboundServer() error {
	cfg := northbound.NewInsecureServerConfig(int16(m.Config.GRPCPort))
	if !m.Config.NoTLS {
		cfg = northbound.NewServerCfg(m.Config.CAPath, m.Config.KeyPath, m.Config.CertPath, int16(m.Config.GRPCPort),
			true, northbound.SecurityConfig{})
	}
	m.server = northbound.NewServer(cfg)
	m.server.AddService(logging.Service{})
	m.server.AddService(p4rt.NewService(m.Engine))

	doneCh := make(chan error)
	go func() {
		grpcOpts := []grpc.ServerOption{
			grpc.StatsHandler(p4rt.NewStatsHandler(m.Engine)),
		}
		err := m.server.Serve(func(started string) {
			log.Info("Started NBI on ", started)
			close(doneCh)
		}, grpcOpts...)
		if err != nil {
			doneCh <- err
		}
	}()
	return <-doneCh
}

// Close kills the manager
func (m *Manager) Close() {
	log.Infow("Closing Manager")
	if m.stats != nil {
		m.stats.Stop()
	}
	if m.server != nil {
		m.server.GracefulStop()
	}
}
