// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
)

func TestIP(t *testing.T) {
	assert.Len(t, IP("1.2.3.4"), 4)
	assert.Equal(t, IP("1.2.3.4"), []byte{0x1, 0x2, 0x3, 0x4})
	assert.Len(t, MAC("11:22:33:44:55:66"), 6)
	assert.Equal(t, MAC("11:22:33:44:55:66"), []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66})
}

func TestARPRequestPacket(t *testing.T) {
	ip := []byte{10, 10, 10, 42}
	ourIP := []byte{10, 10, 10, 69}
	ourMAC := []byte{10, 11, 12, 13, 14, 15}
	b, err := ARPRequestPacket(ip, ourMAC, ourIP)
	assert.NoError(t, err)
	assert.Len(t, b, 60)

	packet := gopacket.NewPacket(b, layers.LayerTypeEthernet, gopacket.Default)
	arpLayer := packet.Layer(layers.LayerTypeARP)
	assert.NotNil(t, arpLayer)
}

func TestUDPPacket(t *testing.T) {
	b, err := UDPPacket(MAC("00:00:00:00:00:01"), MAC("00:00:00:00:00:02"),
		IP("10.0.1.1"), IP("10.0.2.2"), 4321, 1234, []byte("hello"))
	assert.NoError(t, err)

	packet := gopacket.NewPacket(b, layers.LayerTypeEthernet, gopacket.Default)
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	assert.NotNil(t, udpLayer)
	assert.Equal(t, layers.UDPPort(1234), udpLayer.(*layers.UDP).DstPort)
}

func TestTCPPacket(t *testing.T) {
	b, err := TCPPacket(MAC("00:00:00:00:00:01"), MAC("00:00:00:00:00:02"),
		IP("10.0.1.1"), IP("10.0.2.2"), 4321, 80, []byte("hello"))
	assert.NoError(t, err)

	packet := gopacket.NewPacket(b, layers.LayerTypeEthernet, gopacket.Default)
	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	assert.NotNil(t, tcpLayer)
	assert.Equal(t, layers.TCPPort(80), tcpLayer.(*layers.TCP).DstPort)
}

func TestEncapsulatePacket(t *testing.T) {
	b, err := UDPPacket(MAC("00:00:00:00:00:01"), MAC("00:00:00:00:00:02"),
		IP("10.0.1.1"), IP("10.0.2.2"), 4321, 1234, []byte("hello"))
	assert.NoError(t, err)

	enc := EncapsulatePacket(b, 42)
	assert.Len(t, enc, len(b)+4)

	// EtherType rewritten to the tunnel type, original type preserved inside
	assert.Equal(t, byte(TunnelEtherType>>8), enc[12])
	assert.Equal(t, byte(TunnelEtherType&0xff), enc[13])
	assert.Equal(t, []byte{0x08, 0x00}, enc[14:16])
	assert.Equal(t, []byte{0x00, 42}, enc[16:18])
	assert.Equal(t, b[14:], enc[18:])
}
