// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"strings"

	"github.com/onosproject/pipeline-sim/pkg/engine/entries"
	p4info "github.com/p4lang/p4runtime/go/p4/config/v1"
)

// Table IDs of the fixed ingress pipeline
const (
	TableARPMatch    uint32 = 0x02000001
	TableACLIP       uint32 = 0x02000002
	TableACLUDP      uint32 = 0x02000003
	TableIPv4LPM     uint32 = 0x02000004
	TableTunnelExact uint32 = 0x02000005
)

// Action IDs accepted by the pipeline tables
const (
	ActionDrop          uint32 = 0x01000001
	ActionNop           uint32 = 0x01000002
	ActionSendARPReply  uint32 = 0x01000003
	ActionIPv4Forward   uint32 = 0x01000004
	ActionTunnelIngress uint32 = 0x01000005
	ActionTunnelForward uint32 = 0x01000006
	ActionTunnelEgress  uint32 = 0x01000007
)

// Counter IDs of the tunnel traffic counters
const (
	CounterTunnelIngress uint32 = 0x12000001
	CounterTunnelEgress  uint32 = 0x12000002
)

// Controller packet metadata IDs
const (
	PacketOutMetadataID uint32 = 0x04000001
	PacketInMetadataID  uint32 = 0x04000002
)

// MaxTunnelID bounds the tunnel ID space and with it the tunnel counter
// index domain
const MaxTunnelID = 1 << 16

// Table capacities
const (
	arpTableSize    = 1024
	aclTableSize    = 512
	routeTableSize  = 16384
	tunnelTableSize = 1024
)

const portBitwidth = 9

// TableInfos returns the schemas of the fixed pipeline tables
func TableInfos() []*entries.TableInfo {
	return []*entries.TableInfo{
		{
			ID:   TableARPMatch,
			Name: "ingress.arp_match",
			Fields: []entries.FieldInfo{
				{ID: 1, Name: "arp.oper", Kind: entries.MatchExact, Bytes: 2},
				{ID: 2, Name: "arp.tpa", Kind: entries.MatchLPM, Bytes: 4},
			},
			ActionIDs:       []uint32{ActionSendARPReply, ActionDrop},
			Size:            arpTableSize,
			DefaultActionID: ActionDrop,
		},
		{
			ID:   TableACLIP,
			Name: "ingress.acl_ip",
			Fields: []entries.FieldInfo{
				{ID: 1, Name: "ipv4.dst_addr", Kind: entries.MatchTernary, Bytes: 4},
			},
			ActionIDs:       []uint32{ActionDrop, ActionNop},
			Size:            aclTableSize,
			DefaultActionID: ActionNop,
		},
		{
			ID:   TableACLUDP,
			Name: "ingress.acl_udp",
			Fields: []entries.FieldInfo{
				{ID: 1, Name: "udp.dst_port", Kind: entries.MatchTernary, Bytes: 2},
			},
			ActionIDs:       []uint32{ActionDrop, ActionNop},
			Size:            aclTableSize,
			DefaultActionID: ActionNop,
		},
		{
			ID:   TableIPv4LPM,
			Name: "ingress.ipv4_lpm",
			Fields: []entries.FieldInfo{
				{ID: 1, Name: "ipv4.dst_addr", Kind: entries.MatchLPM, Bytes: 4},
			},
			ActionIDs:       []uint32{ActionIPv4Forward, ActionTunnelIngress, ActionDrop},
			Size:            routeTableSize,
			DefaultActionID: ActionDrop,
		},
		{
			ID:   TableTunnelExact,
			Name: "ingress.tunnel_exact",
			Fields: []entries.FieldInfo{
				{ID: 1, Name: "tunnel.dst_id", Kind: entries.MatchExact, Bytes: 2},
			},
			ActionIDs:       []uint32{ActionTunnelForward, ActionTunnelEgress, ActionDrop},
			Size:            tunnelTableSize,
			DefaultActionID: ActionDrop,
			ConstDefault:    true,
		},
	}
}

// CounterInfos returns the schemas of the pipeline counters
func CounterInfos() []*entries.CounterInfo {
	return []*entries.CounterInfo{
		{ID: CounterTunnelIngress, Name: "ingress.tunnel_ingress_counter", Size: MaxTunnelID},
		{ID: CounterTunnelEgress, Name: "ingress.tunnel_egress_counter", Size: MaxTunnelID},
	}
}

// PipelineInfo returns the P4Info descriptor of the fixed pipeline, derived
// from the same schemas the engine builds its tables and counters from
func PipelineInfo() *p4info.P4Info {
	info := &p4info.P4Info{
		PkgInfo: &p4info.PkgInfo{Name: "pipeline-sim", Arch: "v1model"},
	}

	matchTypes := map[entries.MatchKind]p4info.MatchField_MatchType{
		entries.MatchExact:   p4info.MatchField_EXACT,
		entries.MatchLPM:     p4info.MatchField_LPM,
		entries.MatchTernary: p4info.MatchField_TERNARY,
	}

	for _, ti := range TableInfos() {
		table := &p4info.Table{
			Preamble: preamble(ti.ID, ti.Name),
			Size:     int64(ti.Size),
		}
		for _, f := range ti.Fields {
			table.MatchFields = append(table.MatchFields, &p4info.MatchField{
				Id:       f.ID,
				Name:     f.Name,
				Bitwidth: int32(f.Bytes * 8),
				Match:    &p4info.MatchField_MatchType_{MatchType: matchTypes[f.Kind]},
			})
		}
		for _, id := range ti.ActionIDs {
			table.ActionRefs = append(table.ActionRefs, &p4info.ActionRef{Id: id})
		}
		if ti.ConstDefault {
			table.ConstDefaultActionId = ti.DefaultActionID
		}
		info.Tables = append(info.Tables, table)
	}

	info.Actions = []*p4info.Action{
		action(ActionDrop, "ingress.drop"),
		action(ActionNop, "nop"),
		action(ActionSendARPReply, "ingress.send_arp_reply",
			param(1, "mac", 48)),
		action(ActionIPv4Forward, "ingress.ipv4_forward",
			param(1, "mac", 48), param(2, "port", portBitwidth)),
		action(ActionTunnelIngress, "ingress.tunnel_ingress",
			param(1, "dst_id", 16)),
		action(ActionTunnelForward, "ingress.tunnel_forward",
			param(1, "port", portBitwidth)),
		action(ActionTunnelEgress, "ingress.tunnel_egress",
			param(1, "mac", 48), param(2, "port", portBitwidth)),
	}

	for _, ci := range CounterInfos() {
		info.Counters = append(info.Counters, &p4info.Counter{
			Preamble: preamble(ci.ID, ci.Name),
			Spec:     &p4info.CounterSpec{Unit: p4info.CounterSpec_BOTH},
			Size:     int64(ci.Size),
		})
	}

	info.ControllerPacketMetadata = []*p4info.ControllerPacketMetadata{
		{
			Preamble: preamble(PacketOutMetadataID, "packet_out"),
			Metadata: []*p4info.ControllerPacketMetadata_Metadata{
				{Id: 1, Name: "ingress_port", Bitwidth: portBitwidth},
				{Id: 2, Name: "_pad", Bitwidth: 7},
			},
		},
		{
			Preamble: preamble(PacketInMetadataID, "packet_in"),
			Metadata: []*p4info.ControllerPacketMetadata_Metadata{
				{Id: 1, Name: "egress_port", Bitwidth: portBitwidth},
				{Id: 2, Name: "_pad", Bitwidth: 7},
			},
		},
	}
	return info
}

func preamble(id uint32, name string) *p4info.Preamble {
	return &p4info.Preamble{Id: id, Name: name, Alias: name[strings.LastIndexByte(name, '.')+1:]}
}

func action(id uint32, name string, params ...*p4info.Action_Param) *p4info.Action {
	return &p4info.Action{Preamble: preamble(id, name), Params: params}
}

func param(id uint32, name string, bitwidth int32) *p4info.Action_Param {
	return &p4info.Action_Param{Id: id, Name: name, Bitwidth: bitwidth}
}
