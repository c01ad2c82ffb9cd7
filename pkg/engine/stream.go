// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"google.golang.org/genproto/googleapis/rpc/code"
)

// StreamResponder abstracts a P4Runtime stream channel able to receive
// messages from the engine, e.g. packet-ins and mastership arbitration
// updates
type StreamResponder interface {
	// Send queues up the specified response on the stream
	Send(response *p4api.StreamMessageResponse)

	// IsMaster returns true if the responder won mastership for the given
	// role with the specified election ID
	IsMaster(role *p4api.Role, electionID *p4api.Uint128) bool

	// SendMastershipArbitration sends the arbitration outcome to the stream,
	// with an OK status for the master and the given failed code for others
	SendMastershipArbitration(role *p4api.Role, electionID *p4api.Uint128, failCode code.Code)
}
