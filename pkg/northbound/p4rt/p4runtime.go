// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package p4rt

import (
	"context"
	"io"
	"sync"

	"github.com/onosproject/onos-lib-go/pkg/errors"
	"github.com/onosproject/pipeline-sim/pkg/engine"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/genproto/googleapis/rpc/code"
	"google.golang.org/genproto/googleapis/rpc/status"
)

// Server implements the P4Runtime API
type Server struct {
	p4api.UnimplementedP4RuntimeServer
	engine *engine.Engine
}

// NewServer creates a new P4Runtime API server backed by the given engine
func NewServer(engine *engine.Engine) *Server {
	return &Server{engine: engine}
}

// Capabilities responds with the P4Runtime capabilities
func (s *Server) Capabilities(ctx context.Context, request *p4api.CapabilitiesRequest) (*p4api.CapabilitiesResponse, error) {
	log.Infof("Device %d: P4Runtime capabilities have been requested", s.engine.DeviceID)
	return &p4api.CapabilitiesResponse{P4RuntimeApiVersion: "1.1.0"}, nil
}

// Write applies the specified batch of table and counter updates
func (s *Server) Write(ctx context.Context, request *p4api.WriteRequest) (*p4api.WriteResponse, error) {
	log.Debugf("Device %d: Write received", s.engine.DeviceID)
	if err := s.engine.IsMaster(request.DeviceId, request.Role, request.ElectionId); err != nil {
		return nil, errors.Status(err).Err()
	}
	if err := s.engine.ProcessWrite(request.Atomicity, request.Updates); err != nil {
		return nil, errors.Status(err).Err()
	}
	return &p4api.WriteResponse{}, nil
}

// Read streams back the requested table entries and counter values
func (s *Server) Read(request *p4api.ReadRequest, server p4api.P4Runtime_ReadServer) error {
	log.Debugf("Device %d: Read received", s.engine.DeviceID)
	if request.DeviceId != s.engine.DeviceID {
		return errors.Status(errors.NewConflict("incorrect device ID: %d", request.DeviceId)).Err()
	}

	sender := func(entities []*p4api.Entity) error {
		err := server.Send(&p4api.ReadResponse{Entities: entities})
		if err != nil && err != io.EOF {
			return err
		}
		return nil
	}

	for _, err := range s.engine.ProcessRead(request.Entities, sender) {
		if err != nil {
			return errors.Status(err).Err()
		}
	}
	return nil
}

// SetForwardingPipelineConfig records the forwarding pipeline configuration
func (s *Server) SetForwardingPipelineConfig(ctx context.Context, request *p4api.SetForwardingPipelineConfigRequest) (*p4api.SetForwardingPipelineConfigResponse, error) {
	log.Infof("Device %d: Forwarding pipeline configuration has been set", s.engine.DeviceID)
	if err := s.engine.IsMaster(request.DeviceId, request.Role, request.ElectionId); err != nil {
		return nil, errors.Status(err).Err()
	}
	s.engine.SetPipelineConfig(request.Config)
	return &p4api.SetForwardingPipelineConfigResponse{}, nil
}

// GetForwardingPipelineConfig returns the forwarding pipeline configuration
func (s *Server) GetForwardingPipelineConfig(ctx context.Context, request *p4api.GetForwardingPipelineConfigRequest) (*p4api.GetForwardingPipelineConfigResponse, error) {
	log.Infof("Device %d: Getting pipeline configuration", s.engine.DeviceID)
	if request.DeviceId != s.engine.DeviceID {
		return nil, errors.Status(errors.NewConflict("incorrect device ID: %d", request.DeviceId)).Err()
	}
	return &p4api.GetForwardingPipelineConfigResponse{
		Config: s.engine.GetPipelineConfig(),
	}, nil
}

// StreamChannel reads and handles incoming requests and emits any queued up
// outgoing responses, e.g. packet-ins and arbitration updates
func (s *Server) StreamChannel(server p4api.P4Runtime_StreamChannelServer) error {
	responder := newStreamResponder(s.engine.DeviceID, server)
	s.engine.AddStreamResponder(responder)
	defer s.engine.RemoveStreamResponder(responder)

	// Emit any queued-up messages in the background until the stream closes
	go responder.emit(server.Context())

	for {
		msg, err := server.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		s.processRequest(responder, msg)
	}
}

func (s *Server) processRequest(responder *streamResponder, msg *p4api.StreamMessageRequest) {
	log.Debugf("Device %d: Received message: %+v", s.engine.DeviceID, msg)

	if arbitration := msg.GetArbitration(); arbitration != nil {
		s.processArbitration(responder, arbitration)
		return
	}

	if packet := msg.GetPacket(); packet != nil {
		s.processPacketOut(responder, packet)
		return
	}

	if digestAck := msg.GetDigestAck(); digestAck != nil {
		log.Infof("Device %d: digest ack ignored: %+v", s.engine.DeviceID, digestAck)
	}
}

func (s *Server) processArbitration(responder *streamResponder, arbitration *p4api.MasterArbitrationUpdate) {
	if arbitration.DeviceId != s.engine.DeviceID {
		responder.Send(&p4api.StreamMessageResponse{
			Update: &p4api.StreamMessageResponse_Arbitration{
				Arbitration: &p4api.MasterArbitrationUpdate{
					DeviceId: arbitration.DeviceId,
					Status:   &status.Status{Code: int32(code.Code_NOT_FOUND), Message: "incorrect device ID"},
				},
			},
		})
		return
	}
	responder.latchArbitration(arbitration)
	_ = s.engine.RunMastershipArbitration(arbitration.Role, arbitration.ElectionId)
}

// Packet-outs from the master get injected into the pipeline at the port
// carried in the packet-out metadata; the processed frame comes back as a
// packet-in with the chosen egress port, unless the pipeline dropped it
func (s *Server) processPacketOut(responder *streamResponder, packetOut *p4api.PacketOut) {
	if err := s.engine.IsMaster(s.engine.DeviceID, responder.roleName(), responder.getElectionID()); err != nil {
		log.Warnf("Device %d: packet out from non-master ignored: %v", s.engine.DeviceID, err)
		return
	}

	pom := s.engine.Codec().DecodePacketOutMetadata(packetOut.Metadata)
	result, err := s.engine.ProcessPacket(packetOut.Payload, pom.IngressPort)
	if err != nil {
		log.Warnf("Device %d: unable to process packet out: %v", s.engine.DeviceID, err)
		return
	}
	if result.Dropped {
		log.Debugf("Device %d: packet out dropped by the pipeline", s.engine.DeviceID)
		return
	}
	s.engine.SendPacketIn(result.Payload, result.EgressPort)
}

const maxQueuedMessages = 128

// streamResponder implements the engine.StreamResponder interface over one
// P4Runtime stream channel
type streamResponder struct {
	deviceID  uint64
	server    p4api.P4Runtime_StreamChannelServer
	sendQueue chan *p4api.StreamMessageResponse

	lock       sync.RWMutex
	role       *p4api.Role
	electionID *p4api.Uint128
}

func newStreamResponder(deviceID uint64, server p4api.P4Runtime_StreamChannelServer) *streamResponder {
	return &streamResponder{
		deviceID:  deviceID,
		server:    server,
		sendQueue: make(chan *p4api.StreamMessageResponse, maxQueuedMessages),
	}
}

// Send queues up the specified response on the stream; if the stream consumer
// cannot keep up, the message is discarded
func (r *streamResponder) Send(response *p4api.StreamMessageResponse) {
	select {
	case r.sendQueue <- response:
	default:
		log.Warnf("Device %d: stream send queue full; discarding message", r.deviceID)
	}
}

func (r *streamResponder) emit(ctx context.Context) {
	for {
		select {
		case msg := <-r.sendQueue:
			if err := r.server.Send(msg); err != nil {
				log.Warnf("Device %d: unable to send message: %v", r.deviceID, err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Records the role and election ID of the latest arbitration request received
// on this stream
func (r *streamResponder) latchArbitration(arbitration *p4api.MasterArbitrationUpdate) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.role = arbitration.Role
	r.electionID = arbitration.ElectionId
}

func (r *streamResponder) roleName() string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if r.role == nil {
		return ""
	}
	return r.role.Name
}

func (r *streamResponder) getElectionID() *p4api.Uint128 {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.electionID
}

// IsMaster returns true if this stream claimed the given role with the
// specified winning election ID
func (r *streamResponder) IsMaster(role *p4api.Role, electionID *p4api.Uint128) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if roleName(r.role) != roleName(role) || r.electionID == nil || electionID == nil {
		return false
	}
	return r.electionID.High == electionID.High && r.electionID.Low == electionID.Low
}

// SendMastershipArbitration sends the arbitration outcome to this stream if
// it participates in the given role, with an OK status for the master and
// the specified fail code for everybody else
func (r *streamResponder) SendMastershipArbitration(role *p4api.Role, electionID *p4api.Uint128, failCode code.Code) {
	r.lock.RLock()
	if roleName(r.role) != roleName(role) {
		r.lock.RUnlock()
		return
	}
	r.lock.RUnlock()

	electionStatus := &status.Status{Code: int32(code.Code_OK)}
	if !r.IsMaster(role, electionID) {
		electionStatus.Code = int32(failCode)
		electionStatus.Message = "not master"
	}
	r.Send(&p4api.StreamMessageResponse{
		Update: &p4api.StreamMessageResponse_Arbitration{
			Arbitration: &p4api.MasterArbitrationUpdate{
				DeviceId:   r.deviceID,
				Role:       role,
				ElectionId: electionID,
				Status:     electionStatus,
			},
		},
	})
}

func roleName(role *p4api.Role) string {
	if role == nil {
		return ""
	}
	return role.Name
}
