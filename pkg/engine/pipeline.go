// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"github.com/onosproject/pipeline-sim/pkg/engine/codec"
	"github.com/onosproject/pipeline-sim/pkg/engine/entries"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
)

// PacketContext carries the mutable per-packet state through the pipeline
// stages. Each context is owned exclusively by the invocation processing its
// packet and is never shared across packets.
type PacketContext struct {
	Headers     *codec.Headers
	FrameLength int
	IngressPort uint32
	EgressPort  uint32
	Drop        bool

	// Scratch metadata: destination IPv4 address learned during parsing
	DstIPv4 [4]byte
}

// Pipeline implements the fixed ingress control flow: an ARP branch and an
// IPv4/tunnel branch with encapsulation and decapsulation, selected by the
// decoded headers. Tables and counters are shared resources injected at
// construction; the pipeline itself holds no per-packet state.
type Pipeline struct {
	arpMatch    *entries.Table
	aclIP       *entries.Table
	aclUDP      *entries.Table
	ipv4LPM     *entries.Table
	tunnelExact *entries.Table

	tunnelIngress *entries.Counter
	tunnelEgress  *entries.Counter
}

// NewPipeline creates the ingress pipeline over the given tables and counters
func NewPipeline(tables *entries.Tables, counters *entries.Counters) *Pipeline {
	return &Pipeline{
		arpMatch:      tables.Table(TableARPMatch),
		aclIP:         tables.Table(TableACLIP),
		aclUDP:        tables.Table(TableACLUDP),
		ipv4LPM:       tables.Table(TableIPv4LPM),
		tunnelExact:   tables.Table(TableTunnelExact),
		tunnelIngress: counters.Counter(CounterTunnelIngress),
		tunnelEgress:  counters.Counter(CounterTunnelEgress),
	}
}

// Apply runs the context's packet through the ingress stages. On return the
// context is in one of two terminal states: marked for egress at a port, or
// marked dropped.
func (p *Pipeline) Apply(ctx *PacketContext) {
	h := ctx.Headers
	if !h.Ethernet.Valid {
		ctx.Drop = true
		return
	}

	switch {
	case h.ARP.Valid:
		p.applyARP(ctx)

	case h.IPv4.Valid || h.Tunnel.Valid:
		if h.IPv4.Valid {
			ctx.DstIPv4 = h.IPv4.DstIP
		}
		if h.IPv4.Valid && !h.Tunnel.Valid {
			p.applyACL(ctx)
			if ctx.Drop {
				return
			}
			p.applyIPv4(ctx)
		}
		// The tunnel header may have arrived with the packet or may have
		// just been added by tunnel_ingress
		if h.Tunnel.Valid && !ctx.Drop {
			p.applyTunnel(ctx)
		}

	default:
		ctx.Drop = true
	}
}

// ARP branch: reflect requests the arp_match table claims, drop the rest
func (p *Pipeline) applyARP(ctx *PacketContext) {
	arp := &ctx.Headers.ARP
	action := p.arpMatch.Lookup([][]byte{u16(arp.Opcode), arp.TargetIP[:]})

	if entries.ActionID(action) != ActionSendARPReply {
		ctx.Drop = true
		return
	}

	eth := &ctx.Headers.Ethernet
	var mac [6]byte
	copy(mac[:], entries.ActionParam(action, 1))

	eth.DstMAC = eth.SrcMAC
	eth.SrcMAC = mac

	arp.Opcode = codec.ARPReply
	arp.TargetMAC = arp.SenderMAC
	arp.SenderMAC = mac
	arp.SenderIP, arp.TargetIP = arp.TargetIP, arp.SenderIP

	// Reflect out the port the request came in on
	ctx.EgressPort = ctx.IngressPort
}

// ACL stage: ternary IP filter, then the UDP port filter for UDP packets
func (p *Pipeline) applyACL(ctx *PacketContext) {
	if entries.ActionID(p.aclIP.Lookup([][]byte{ctx.DstIPv4[:]})) == ActionDrop {
		ctx.Drop = true
		return
	}
	if udp := &ctx.Headers.UDP; udp.Valid {
		if entries.ActionID(p.aclUDP.Lookup([][]byte{u16(udp.DstPort)})) == ActionDrop {
			ctx.Drop = true
		}
	}
}

// IPv4 routing stage: longest-prefix route lookup selecting plain forwarding
// or tunnel encapsulation
func (p *Pipeline) applyIPv4(ctx *PacketContext) {
	action := p.ipv4LPM.Lookup([][]byte{ctx.DstIPv4[:]})

	switch entries.ActionID(action) {
	case ActionIPv4Forward:
		p.ipv4Forward(ctx, action)
	case ActionTunnelIngress:
		p.tunnelIngressAction(ctx, action)
	default:
		ctx.Drop = true
	}
}

func (p *Pipeline) ipv4Forward(ctx *PacketContext, action *p4api.TableAction) {
	eth := &ctx.Headers.Ethernet
	var mac [6]byte
	copy(mac[:], entries.ActionParam(action, 1))

	ctx.EgressPort = entries.ActionParamUint32(action, 2)
	eth.SrcMAC = eth.DstMAC
	eth.DstMAC = mac

	// TTL wraps at zero; expired packets are not dropped here
	ctx.Headers.IPv4.TTL--
}

// Marks the tunnel header valid, records the encapsulated protocol and the
// tunnel destination, and counts the packet on the ingress tunnel counter
func (p *Pipeline) tunnelIngressAction(ctx *PacketContext, action *p4api.TableAction) {
	h := ctx.Headers
	dstID := uint16(entries.ActionParamUint32(action, 1))

	h.Tunnel = codec.Tunnel{
		Valid:   true,
		ProtoID: h.Ethernet.EtherType,
		DstID:   dstID,
	}
	h.Ethernet.EtherType = codec.EtherTypeTunnel

	if err := p.tunnelIngress.Increment(int64(dstID), ctx.FrameLength); err != nil {
		log.Warnf("Unable to count tunnel %d ingress packet: %v", dstID, err)
	}
}

// Tunnel stage: exact lookup on the tunnel destination ID selecting an
// interior-hop forward or terminal decapsulation; misses drop unconditionally
func (p *Pipeline) applyTunnel(ctx *PacketContext) {
	h := ctx.Headers
	dstID := h.Tunnel.DstID
	action := p.tunnelExact.Lookup([][]byte{u16(dstID)})

	switch entries.ActionID(action) {
	case ActionTunnelForward:
		// Interior hop; the packet stays encapsulated
		ctx.EgressPort = entries.ActionParamUint32(action, 1)

	case ActionTunnelEgress:
		var mac [6]byte
		copy(mac[:], entries.ActionParam(action, 1))
		ctx.EgressPort = entries.ActionParamUint32(action, 2)

		h.Ethernet.DstMAC = mac
		h.Ethernet.EtherType = h.Tunnel.ProtoID
		h.Tunnel.Valid = false

		if err := p.tunnelEgress.Increment(int64(dstID), ctx.FrameLength); err != nil {
			log.Warnf("Unable to count tunnel %d egress packet: %v", dstID, err)
		}

	default:
		ctx.Drop = true
	}
}

func u16(v uint16) []byte {
	return []byte{byte(v >> 8), byte(v)}
}
