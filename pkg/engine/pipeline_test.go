// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"testing"

	"github.com/onosproject/pipeline-sim/pkg/engine/codec"
	"github.com/onosproject/pipeline-sim/pkg/engine/entries"
	"github.com/onosproject/pipeline-sim/pkg/utils"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/stretchr/testify/assert"
)

func exactField(id uint32, value []byte) *p4api.FieldMatch {
	return &p4api.FieldMatch{
		FieldId:        id,
		FieldMatchType: &p4api.FieldMatch_Exact_{Exact: &p4api.FieldMatch_Exact{Value: value}},
	}
}

func lpmField(id uint32, value []byte, prefixLen int32) *p4api.FieldMatch {
	return &p4api.FieldMatch{
		FieldId:        id,
		FieldMatchType: &p4api.FieldMatch_Lpm{Lpm: &p4api.FieldMatch_LPM{Value: value, PrefixLen: prefixLen}},
	}
}

func ternaryField(id uint32, value []byte, mask []byte) *p4api.FieldMatch {
	return &p4api.FieldMatch{
		FieldId:        id,
		FieldMatchType: &p4api.FieldMatch_Ternary_{Ternary: &p4api.FieldMatch_Ternary{Value: value, Mask: mask}},
	}
}

func installRoute(t *testing.T, e *Engine, prefix []byte, prefixLen int32, action *p4api.TableAction) {
	t.Helper()
	assert.NoError(t, e.InstallRule(&p4api.TableEntry{
		TableId: TableIPv4LPM,
		Match:   []*p4api.FieldMatch{lpmField(1, prefix, prefixLen)},
		Action:  action,
	}))
}

func installTunnel(t *testing.T, e *Engine, dstID uint16, action *p4api.TableAction) {
	t.Helper()
	assert.NoError(t, e.InstallRule(&p4api.TableEntry{
		TableId: TableTunnelExact,
		Match:   []*p4api.FieldMatch{exactField(1, []byte{byte(dstID >> 8), byte(dstID)})},
		Action:  action,
	}))
}

func udpFrame(t *testing.T, dstIP string, dstPort uint16) []byte {
	t.Helper()
	frame, err := utils.UDPPacket(utils.MAC("00:00:00:00:00:01"), utils.MAC("08:00:00:00:01:00"),
		utils.IP("10.0.1.1"), utils.IP(dstIP), 4321, dstPort, []byte("abcdefgh"))
	assert.NoError(t, err)
	return frame
}

func TestARPResponder(t *testing.T) {
	e := NewEngine(1)
	gwMAC := utils.MAC("08:00:00:00:01:00")
	assert.NoError(t, e.InstallRule(&p4api.TableEntry{
		TableId: TableARPMatch,
		Match: []*p4api.FieldMatch{
			exactField(1, []byte{0, 1}),
			lpmField(2, utils.IP("10.0.1.10"), 32),
		},
		Action: entries.NewAction(ActionSendARPReply, gwMAC),
	}))

	ourMAC := utils.MAC("00:00:00:00:00:01")
	frame, err := utils.ARPRequestPacket(utils.IP("10.0.1.10"), ourMAC, utils.IP("10.0.1.1"))
	assert.NoError(t, err)

	result, err := e.ProcessPacket(frame, 3)
	assert.NoError(t, err)
	assert.False(t, result.Dropped)

	// The reply goes back out the port the request came in on
	assert.Equal(t, uint32(3), result.EgressPort)

	h, err := codec.Parse(result.Payload)
	assert.NoError(t, err)
	assert.Equal(t, codec.ARPReply, h.ARP.Opcode)
	assert.Equal(t, gwMAC, h.Ethernet.SrcMAC[:])
	assert.Equal(t, ourMAC, h.Ethernet.DstMAC[:])
	assert.Equal(t, gwMAC, h.ARP.SenderMAC[:])
	assert.Equal(t, utils.IP("10.0.1.10"), h.ARP.SenderIP[:])
	assert.Equal(t, ourMAC, h.ARP.TargetMAC[:])
	assert.Equal(t, utils.IP("10.0.1.1"), h.ARP.TargetIP[:])
}

func TestARPMissDrops(t *testing.T) {
	e := NewEngine(1)
	frame, err := utils.ARPRequestPacket(utils.IP("10.0.1.99"), utils.MAC("00:00:00:00:00:01"), utils.IP("10.0.1.1"))
	assert.NoError(t, err)

	result, err := e.ProcessPacket(frame, 1)
	assert.NoError(t, err)
	assert.True(t, result.Dropped)
}

func TestPlainForwarding(t *testing.T) {
	e := NewEngine(1)
	nextHop := utils.MAC("08:00:00:00:02:22")
	installRoute(t, e, utils.IP("10.0.2.0"), 24, entries.NewAction(ActionIPv4Forward, nextHop, []byte{0, 2}))

	result, err := e.ProcessPacket(udpFrame(t, "10.0.2.5", 443), 1)
	assert.NoError(t, err)
	assert.False(t, result.Dropped)
	assert.Equal(t, uint32(2), result.EgressPort)

	h, err := codec.Parse(result.Payload)
	assert.NoError(t, err)
	assert.Equal(t, nextHop, h.Ethernet.DstMAC[:])
	assert.Equal(t, utils.MAC("08:00:00:00:01:00"), h.Ethernet.SrcMAC[:])
	assert.Equal(t, uint8(63), h.IPv4.TTL)

	// The emitted checksum must be consistent with the rewritten header
	assert.Equal(t, h.IPv4.Checksum, h.IPv4.HeaderChecksum())
}

func TestRouteMissDrops(t *testing.T) {
	e := NewEngine(1)
	installRoute(t, e, utils.IP("10.0.2.0"), 24, entries.NewAction(ActionIPv4Forward, utils.MAC("08:00:00:00:02:22"), []byte{0, 2}))

	result, err := e.ProcessPacket(udpFrame(t, "10.0.3.5", 443), 1)
	assert.NoError(t, err)
	assert.True(t, result.Dropped)
}

func TestLongestPrefixPreferred(t *testing.T) {
	e := NewEngine(1)
	installRoute(t, e, utils.IP("10.0.0.0"), 16, entries.NewAction(ActionIPv4Forward, utils.MAC("08:00:00:00:01:11"), []byte{0, 1}))
	installRoute(t, e, utils.IP("10.0.2.0"), 24, entries.NewAction(ActionIPv4Forward, utils.MAC("08:00:00:00:02:22"), []byte{0, 2}))

	result, err := e.ProcessPacket(udpFrame(t, "10.0.2.9", 443), 1)
	assert.NoError(t, err)
	assert.Equal(t, uint32(2), result.EgressPort)

	result, err = e.ProcessPacket(udpFrame(t, "10.0.3.9", 443), 1)
	assert.NoError(t, err)
	assert.Equal(t, uint32(1), result.EgressPort)
}

func TestForwardDoesNotDropOnZeroTTL(t *testing.T) {
	e := NewEngine(1)
	installRoute(t, e, utils.IP("10.0.2.0"), 24, entries.NewAction(ActionIPv4Forward, utils.MAC("08:00:00:00:02:22"), []byte{0, 2}))

	frame := udpFrame(t, "10.0.2.5", 443)
	frame[22] = 0 // zero out the TTL

	result, err := e.ProcessPacket(frame, 1)
	assert.NoError(t, err)
	assert.False(t, result.Dropped)

	h, err := codec.Parse(result.Payload)
	assert.NoError(t, err)
	assert.Equal(t, uint8(255), h.IPv4.TTL)
}

func TestTunnelEncapsulation(t *testing.T) {
	e := NewEngine(1)
	installRoute(t, e, utils.IP("10.0.2.0"), 24, entries.NewAction(ActionTunnelIngress, []byte{0, 100}))
	installTunnel(t, e, 100, entries.NewAction(ActionTunnelForward, []byte{0, 2}))

	frame := udpFrame(t, "10.0.2.5", 443)
	result, err := e.ProcessPacket(frame, 1)
	assert.NoError(t, err)
	assert.False(t, result.Dropped)
	assert.Equal(t, uint32(2), result.EgressPort)

	h, err := codec.Parse(result.Payload)
	assert.NoError(t, err)
	assert.True(t, h.Tunnel.Valid)
	assert.Equal(t, codec.EtherTypeTunnel, h.Ethernet.EtherType)
	assert.Equal(t, codec.EtherTypeIPv4, h.Tunnel.ProtoID)
	assert.Equal(t, uint16(100), h.Tunnel.DstID)

	// TTL untouched on the encapsulation path
	assert.Equal(t, uint8(64), h.IPv4.TTL)

	packets, bytes, err := e.ReadCounter(CounterTunnelIngress, 100)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), packets)
	assert.Equal(t, uint64(len(frame)), bytes)
}

func TestTunnelTransitAndDecapsulation(t *testing.T) {
	ingress := NewEngine(1)
	installRoute(t, ingress, utils.IP("10.0.2.0"), 24, entries.NewAction(ActionTunnelIngress, []byte{0, 100}))
	installTunnel(t, ingress, 100, entries.NewAction(ActionTunnelForward, []byte{0, 2}))

	frame := udpFrame(t, "10.0.2.5", 443)
	result, err := ingress.ProcessPacket(frame, 1)
	assert.NoError(t, err)
	assert.False(t, result.Dropped)

	// Transit hop forwards the packet still encapsulated
	transit := NewEngine(2)
	installTunnel(t, transit, 100, entries.NewAction(ActionTunnelForward, []byte{0, 3}))
	result, err = transit.ProcessPacket(result.Payload, 1)
	assert.NoError(t, err)
	assert.False(t, result.Dropped)
	assert.Equal(t, uint32(3), result.EgressPort)

	h, err := codec.Parse(result.Payload)
	assert.NoError(t, err)
	assert.True(t, h.Tunnel.Valid)

	// Egress hop restores the original frame
	hostMAC := utils.MAC("00:00:00:00:00:02")
	egress := NewEngine(3)
	installTunnel(t, egress, 100, entries.NewAction(ActionTunnelEgress, hostMAC, []byte{0, 4}))
	result, err = egress.ProcessPacket(result.Payload, 1)
	assert.NoError(t, err)
	assert.False(t, result.Dropped)
	assert.Equal(t, uint32(4), result.EgressPort)

	h, err = codec.Parse(result.Payload)
	assert.NoError(t, err)
	assert.False(t, h.Tunnel.Valid)
	assert.Equal(t, codec.EtherTypeIPv4, h.Ethernet.EtherType)
	assert.Equal(t, hostMAC, h.Ethernet.DstMAC[:])
	assert.Equal(t, utils.IP("10.0.2.5"), h.IPv4.DstIP[:])
	assert.Equal(t, uint16(443), h.UDP.DstPort)

	packets, _, err := egress.ReadCounter(CounterTunnelEgress, 100)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), packets)
}

func TestTunnelMissDropsUnconditionally(t *testing.T) {
	e := NewEngine(1)
	frame := utils.EncapsulatePacket(udpFrame(t, "10.0.2.5", 443), 7)

	result, err := e.ProcessPacket(frame, 1)
	assert.NoError(t, err)
	assert.True(t, result.Dropped)
}

func TestTunnelCountersAreMonotonic(t *testing.T) {
	e := NewEngine(1)
	installRoute(t, e, utils.IP("10.0.2.0"), 24, entries.NewAction(ActionTunnelIngress, []byte{0, 50}))
	installTunnel(t, e, 50, entries.NewAction(ActionTunnelForward, []byte{0, 2}))

	const n = 10
	frame := udpFrame(t, "10.0.2.5", 443)
	for i := 0; i < n; i++ {
		result, err := e.ProcessPacket(frame, 1)
		assert.NoError(t, err)
		assert.False(t, result.Dropped)
	}

	packets, bytes, err := e.ReadCounter(CounterTunnelIngress, 50)
	assert.NoError(t, err)
	assert.Equal(t, uint64(n), packets)
	assert.Equal(t, uint64(n*len(frame)), bytes)

	// The other tunnel index stays untouched
	packets, bytes, err = e.ReadCounter(CounterTunnelIngress, 51)
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), packets)
	assert.Equal(t, uint64(0), bytes)
}

func TestACLDropByIP(t *testing.T) {
	e := NewEngine(1)
	installRoute(t, e, utils.IP("10.0.1.0"), 24, entries.NewAction(ActionIPv4Forward, utils.MAC("08:00:00:00:01:11"), []byte{0, 1}))
	assert.NoError(t, e.InstallRule(&p4api.TableEntry{
		TableId:  TableACLIP,
		Match:    []*p4api.FieldMatch{ternaryField(1, utils.IP("10.0.1.4"), []byte{0xff, 0xff, 0xff, 0xff})},
		Action:   entries.NewAction(ActionDrop),
		Priority: 10,
	}))

	result, err := e.ProcessPacket(udpFrame(t, "10.0.1.4", 443), 2)
	assert.NoError(t, err)
	assert.True(t, result.Dropped)

	result, err = e.ProcessPacket(udpFrame(t, "10.0.1.5", 443), 2)
	assert.NoError(t, err)
	assert.False(t, result.Dropped)
	assert.Equal(t, uint32(1), result.EgressPort)
}

func TestACLDropByUDPPort(t *testing.T) {
	e := NewEngine(1)
	installRoute(t, e, utils.IP("10.0.1.0"), 24, entries.NewAction(ActionIPv4Forward, utils.MAC("08:00:00:00:01:11"), []byte{0, 1}))
	assert.NoError(t, e.InstallRule(&p4api.TableEntry{
		TableId:  TableACLUDP,
		Match:    []*p4api.FieldMatch{ternaryField(1, []byte{0, 80}, []byte{0xff, 0xff})},
		Action:   entries.NewAction(ActionDrop),
		Priority: 10,
	}))

	result, err := e.ProcessPacket(udpFrame(t, "10.0.1.9", 80), 2)
	assert.NoError(t, err)
	assert.True(t, result.Dropped)

	result, err = e.ProcessPacket(udpFrame(t, "10.0.1.9", 81), 2)
	assert.NoError(t, err)
	assert.False(t, result.Dropped)

	// TCP segments are not subject to the UDP port filter
	tcp, err := utils.TCPPacket(utils.MAC("00:00:00:00:00:01"), utils.MAC("08:00:00:00:01:00"),
		utils.IP("10.0.1.1"), utils.IP("10.0.1.9"), 4321, 80, []byte("abcdefgh"))
	assert.NoError(t, err)

	result, err = e.ProcessPacket(tcp, 2)
	assert.NoError(t, err)
	assert.False(t, result.Dropped)

	h, err := codec.Parse(result.Payload)
	assert.NoError(t, err)
	assert.Equal(t, uint8(63), h.IPv4.TTL)
}

func TestUnknownEtherTypeDropped(t *testing.T) {
	e := NewEngine(1)

	frame := make([]byte, 64)
	copy(frame, utils.MAC("08:00:00:00:01:00"))
	copy(frame[6:], utils.MAC("00:00:00:00:00:01"))
	frame[12] = 0x86 // IPv6
	frame[13] = 0xdd

	result, err := e.ProcessPacket(frame, 1)
	assert.NoError(t, err)
	assert.True(t, result.Dropped)
}

func TestTruncatedFrameRejected(t *testing.T) {
	e := NewEngine(1)
	result, err := e.ProcessPacket([]byte{1, 2, 3}, 1)
	assert.Error(t, err)
	assert.True(t, result.Dropped)
}
