// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package engine contains the core forwarding engine: a fixed ingress
// pipeline over match-action tables and counters, together with its
// administrative write/read surface.
package engine

import (
	"sync"

	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/onos-lib-go/pkg/logging"
	"github.com/onosproject/pipeline-sim/pkg/engine/codec"
	"github.com/onosproject/pipeline-sim/pkg/engine/entries"
	"github.com/onosproject/pipeline-sim/pkg/utils"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/genproto/googleapis/rpc/code"
)

var log = logging.GetLogger("engine")

// Engine is the single point of entry for packet processing and for the
// administrative manipulation of the shared tables and counters. Packet
// processing is embarrassingly parallel: the only shared state between
// concurrent packets is the table contents and the counter cells.
type Engine struct {
	DeviceID uint64

	tables   *entries.Tables
	counters *entries.Counters
	pipeline *Pipeline
	codec    *utils.ControllerMetadataCodec

	lock                     sync.RWMutex
	forwardingPipelineConfig *p4api.ForwardingPipelineConfig
	streamResponders         []StreamResponder
	roleElections            map[string]*p4api.Uint128

	ioStats ioCounters
}

// PacketResult is the outcome of one packet's traversal of the pipeline:
// either an egress port together with the possibly mutated frame, or a drop
// indication
type PacketResult struct {
	EgressPort uint32
	Dropped    bool
	Payload    []byte
}

// NewEngine creates a new forwarding engine with the fixed pipeline tables
// and counters
func NewEngine(deviceID uint64) *Engine {
	log.Infof("Creating engine for device %d", deviceID)
	tables := entries.NewTables(TableInfos())
	counters := entries.NewCounters(CounterInfos())
	info := PipelineInfo()
	return &Engine{
		DeviceID: deviceID,
		tables:   tables,
		counters: counters,
		pipeline: NewPipeline(tables, counters),
		codec:    utils.NewControllerMetadataCodec(info),
		forwardingPipelineConfig: &p4api.ForwardingPipelineConfig{
			P4Info:         info,
			P4DeviceConfig: []byte{},
			Cookie:         &p4api.ForwardingPipelineConfig_Cookie{Cookie: 0},
		},
		roleElections: make(map[string]*p4api.Uint128),
	}
}

// Tables returns the engine's match-action table store
func (e *Engine) Tables() *entries.Tables {
	return e.tables
}

// Counters returns the engine's counter store
func (e *Engine) Counters() *entries.Counters {
	return e.counters
}

// Codec returns the codec for controller packet-out/in metadata
func (e *Engine) Codec() *utils.ControllerMetadataCodec {
	return e.codec
}

// ProcessPacket runs one raw frame received on the given ingress port
// through the pipeline and returns the outcome. Each packet is processed
// start to finish by its calling goroutine; a parse failure or a pipeline
// drop is terminal for that packet and is never retried.
func (e *Engine) ProcessPacket(payload []byte, ingressPort uint32) (*PacketResult, error) {
	e.ioStats.update(len(payload), true)

	headers, err := codec.Parse(payload)
	if err != nil {
		e.ioStats.dropped()
		return &PacketResult{Dropped: true}, err
	}

	ctx := &PacketContext{
		Headers:     headers,
		FrameLength: len(payload),
		IngressPort: ingressPort,
	}
	e.pipeline.Apply(ctx)

	if ctx.Drop {
		e.ioStats.dropped()
		return &PacketResult{Dropped: true}, nil
	}

	// Recompute the IPv4 checksum over the mutated fields before deparsing;
	// dropped packets never get here
	if headers.IPv4.Valid {
		headers.IPv4.UpdateChecksum()
	}

	out := headers.Deparse()
	e.ioStats.update(len(out), false)
	return &PacketResult{EgressPort: ctx.EgressPort, Payload: out}, nil
}

// InstallRule installs the given table entry in its table; installation is
// atomic and rejected entries leave the table unchanged
func (e *Engine) InstallRule(entry *p4api.TableEntry) error {
	return e.tables.ModifyTableEntry(entry, true)
}

// RemoveRule removes the given table entry from its table
func (e *Engine) RemoveRule(entry *p4api.TableEntry) error {
	return e.tables.RemoveTableEntry(entry)
}

// ReadCounter returns the packet and byte counts at the given index of the
// identified counter
func (e *Engine) ReadCounter(counterID uint32, index int64) (packets uint64, byteCount uint64, err error) {
	counter := e.counters.Counter(counterID)
	if counter == nil {
		return 0, 0, errors.NewNotFound("counter %d not found", counterID)
	}
	return counter.Read(index)
}

// ProcessWrite processes the specified batch of updates
func (e *Engine) ProcessWrite(atomicity p4api.WriteRequest_Atomicity, updates []*p4api.Update) error {
	for _, update := range updates {
		switch update.Type {
		case p4api.Update_INSERT:
			if err := e.processModify(update, true); err != nil {
				log.Warnf("Device %d: Unable to insert entry: %+v", e.DeviceID, err)
				return err
			}
		case p4api.Update_MODIFY:
			if err := e.processModify(update, false); err != nil {
				log.Warnf("Device %d: Unable to update entry: %+v", e.DeviceID, err)
				return err
			}
		case p4api.Update_DELETE:
			if err := e.processDelete(update); err != nil {
				log.Warnf("Device %d: Unable to delete entry: %+v", e.DeviceID, err)
				return err
			}
		default:
			return errors.NewInvalid("unsupported update type %v", update.Type)
		}
	}
	return nil
}

func (e *Engine) processModify(update *p4api.Update, isInsert bool) error {
	entity := update.Entity
	switch {
	case entity.GetTableEntry() != nil:
		return e.tables.ModifyTableEntry(entity.GetTableEntry(), isInsert)
	case entity.GetCounterEntry() != nil:
		return e.counters.ModifyCounterEntry(entity.GetCounterEntry(), isInsert)
	default:
		return errors.NewInvalid("entity type not supported by the fixed pipeline: %+v", entity)
	}
}

func (e *Engine) processDelete(update *p4api.Update) error {
	entity := update.Entity
	switch {
	case entity.GetTableEntry() != nil:
		return e.tables.RemoveTableEntry(entity.GetTableEntry())
	case entity.GetCounterEntry() != nil:
		return errors.NewInvalid("counter cannot be deleted")
	default:
		return errors.NewInvalid("entity type not supported by the fixed pipeline: %+v", entity)
	}
}

// ProcessRead executes the read of the specified set of requests, returning
// accumulated results via the supplied sender
func (e *Engine) ProcessRead(requests []*p4api.Entity, sender entries.BatchSender) []error {
	errs := make([]error, len(requests))
	for i, request := range requests {
		errs[i] = e.processRead(request, sender)
	}
	return errs
}

func (e *Engine) processRead(request *p4api.Entity, sender entries.BatchSender) error {
	switch {
	case request.GetTableEntry() != nil:
		return e.tables.ReadTableEntries(request.GetTableEntry(), sender)
	case request.GetCounterEntry() != nil:
		return e.counters.ReadCounterEntries(request.GetCounterEntry(), sender)
	default:
		return errors.NewInvalid("entity type not supported by the fixed pipeline: %+v", request)
	}
}

// SetPipelineConfig records the forwarding pipeline configuration pushed by
// the controller; the pipeline itself is fixed, so only the config envelope
// (cookie, device config) is replaced
func (e *Engine) SetPipelineConfig(fpc *p4api.ForwardingPipelineConfig) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if fpc.P4Info == nil {
		fpc.P4Info = PipelineInfo()
	}
	e.forwardingPipelineConfig = fpc
}

// GetPipelineConfig returns the forwarding pipeline configuration
func (e *Engine) GetPipelineConfig() *p4api.ForwardingPipelineConfig {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.forwardingPipelineConfig
}

// IsMaster returns an error if the given election ID is not the master for
// the specified device and role
func (e *Engine) IsMaster(deviceID uint64, role string, electionID *p4api.Uint128) error {
	if deviceID != e.DeviceID {
		return errors.NewConflict("incorrect device ID: %d", deviceID)
	}
	e.lock.RLock()
	defer e.lock.RUnlock()
	winningElectionID, ok := e.roleElections[role]
	if !ok || electionID == nil ||
		winningElectionID.High != electionID.High || winningElectionID.Low != electionID.Low {
		return errors.NewUnauthorized("not master for role %s on device ID: %d", role, deviceID)
	}
	return nil
}

// RecordRoleElection checks the given election ID for the specified role and
// records it if it is larger than the previously recorded election ID for
// the same role; returns the winning election ID for the role, or an error
// if this role and election ID has already been claimed
func (e *Engine) RecordRoleElection(role *p4api.Role, electionID *p4api.Uint128) (*p4api.Uint128, error) {
	if electionID == nil {
		return nil, errors.NewInvalid("election ID is required")
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	roleName := ""
	if role != nil {
		roleName = role.Name
	}

	maxID, ok := e.roleElections[roleName]
	if !ok || maxID.High < electionID.High || (maxID.High == electionID.High && maxID.Low < electionID.Low) {
		e.roleElections[roleName] = electionID
		return electionID, nil
	} else if maxID.High == electionID.High && maxID.Low == electionID.Low {
		return nil, errors.NewConflict("role %s election ID already claimed", roleName)
	}
	return maxID, nil
}

// RunMastershipArbitration processes the specified arbitration update and
// notifies all responders of the outcome
func (e *Engine) RunMastershipArbitration(role *p4api.Role, electionID *p4api.Uint128) error {
	log.Debugf("Device %d: running mastership arbitration for role %v and electionID %+v", e.DeviceID, role, electionID)

	maxElectionID, electionErr := e.RecordRoleElection(role, electionID)

	e.lock.RLock()
	defer e.lock.RUnlock()

	failCode := code.Code_NOT_FOUND
	if electionErr != nil {
		failCode = code.Code_INVALID_ARGUMENT
	} else {
		for _, r := range e.streamResponders {
			if r.IsMaster(role, maxElectionID) {
				failCode = code.Code_ALREADY_EXISTS
				break
			}
		}
	}

	for _, r := range e.streamResponders {
		r.SendMastershipArbitration(role, maxElectionID, failCode)
	}
	return nil
}

// AddStreamResponder adds the given stream responder to the engine
func (e *Engine) AddStreamResponder(responder StreamResponder) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.streamResponders = append(e.streamResponders, responder)
}

// RemoveStreamResponder removes the specified stream responder from the engine
func (e *Engine) RemoveStreamResponder(responder StreamResponder) {
	e.lock.Lock()
	defer e.lock.Unlock()
	for i, r := range e.streamResponders {
		if r == responder {
			e.streamResponders[i] = e.streamResponders[len(e.streamResponders)-1]
			e.streamResponders[len(e.streamResponders)-1] = nil
			e.streamResponders = e.streamResponders[:len(e.streamResponders)-1] // Truncate
			return
		}
	}
}

// SendToAllResponders sends the specified message to all responders
func (e *Engine) SendToAllResponders(response *p4api.StreamMessageResponse) {
	e.lock.RLock()
	defer e.lock.RUnlock()
	for _, r := range e.streamResponders {
		r.Send(response)
	}
}

// SendPacketIn emits a packet-in with the specified frame and egress port
// metadata to all current responders
func (e *Engine) SendPacketIn(packet []byte, egressPort uint32) {
	packetIn := &p4api.StreamMessageResponse{
		Update: &p4api.StreamMessageResponse_Packet{
			Packet: &p4api.PacketIn{
				Payload:  packet,
				Metadata: e.codec.EncodePacketInMetadata(&utils.PacketInMetadata{EgressPort: egressPort}),
			},
		},
	}
	e.SendToAllResponders(packetIn)
}
