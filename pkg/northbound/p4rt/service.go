// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package p4rt implements the P4Runtime API on top of the forwarding engine
package p4rt

import (
	"context"

	"github.com/onosproject/onos-lib-go/pkg/logging"
	"github.com/onosproject/onos-lib-go/pkg/northbound"
	"github.com/onosproject/pipeline-sim/pkg/engine"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/stats"
)

var log = logging.GetLogger("northbound", "p4rt")

// Service implements the P4Runtime NB gRPC
type Service struct {
	northbound.Service
	Engine *engine.Engine
}

// NewService allocates a Service for the given forwarding engine
func NewService(engine *engine.Engine) Service {
	return Service{Engine: engine}
}

// Register registers the P4Runtime server with grpc
func (s Service) Register(r *grpc.Server) {
	p4api.RegisterP4RuntimeServer(r, NewServer(s.Engine))
	log.Debug("P4Runtime service registered")
}

// NewStatsHandler returns a gRPC stats handler that feeds the engine's I/O
// statistics from the server's wire-level activity
func NewStatsHandler(engine *engine.Engine) stats.Handler {
	return &statsHandler{engine: engine}
}

type statsHandler struct {
	engine *engine.Engine
}

// ConnCtxKey is a connection context key
type ConnCtxKey struct{}

// RPCCtxKey is an RPC context key
type RPCCtxKey struct{}

// TagConn tags the connection context
func (h *statsHandler) TagConn(ctx context.Context, info *stats.ConnTagInfo) context.Context {
	return context.WithValue(ctx, ConnCtxKey{}, info)
}

// TagRPC tags the RPC context
func (h *statsHandler) TagRPC(ctx context.Context, info *stats.RPCTagInfo) context.Context {
	return context.WithValue(ctx, RPCCtxKey{}, info)
}

// HandleConn handle the connection stats
func (h *statsHandler) HandleConn(ctx context.Context, s stats.ConnStats) {
}

// HandleRPC handle RPC stats
func (h *statsHandler) HandleRPC(ctx context.Context, s stats.RPCStats) {
	if ih, ok := s.(*stats.InHeader); ok {
		h.engine.UpdateIOStats(ih.WireLength, true)
	} else if ip, ok := s.(*stats.InPayload); ok {
		h.engine.UpdateIOStats(ip.WireLength, true)
	} else if op, ok := s.(*stats.OutPayload); ok {
		h.engine.UpdateIOStats(op.WireLength, false)
	} else if it, ok := s.(*stats.InTrailer); ok {
		h.engine.UpdateIOStats(it.WireLength, true)
	}
}
