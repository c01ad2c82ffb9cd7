// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package utils contains utilities for constructing test packets and for
// working with P4Runtime controller metadata
package utils

import (
	"encoding/binary"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// TunnelEtherType is the EtherType of the custom tunnel header
const TunnelEtherType = 0x1212

// IP returns the given IPv4 address as bytes
func IP(addr string) []byte {
	return net.ParseIP(addr)[12:]
}

// MAC returns the given MAC address as bytes
func MAC(addr string) []byte {
	b, _ := net.ParseMAC(addr)
	return b
}

// ARPRequestPacket returns packet bytes with an ARP request for the specified IP address
func ARPRequestPacket(theirIP []byte, ourMAC []byte, ourIP []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       ourMAC,
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   ourMAC,
		SourceProtAddress: ourIP,
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    theirIP,
	}
	return serialize(eth, arp)
}

// UDPPacket returns packet bytes with a UDP datagram for the specified
// addresses and ports
func UDPPacket(srcMAC, dstMAC []byte, srcIP, dstIP []byte, srcPort, dstPort uint16, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	return serialize(eth, ip, udp, gopacket.Payload(payload))
}

// TCPPacket returns packet bytes with a TCP segment for the specified
// addresses and ports
func TCPPacket(srcMAC, dstMAC []byte, srcIP, dstIP []byte, srcPort, dstPort uint16, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		SYN:     true,
		Window:  1024,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	return serialize(eth, ip, tcp, gopacket.Payload(payload))
}

// EncapsulatePacket splices the custom tunnel header into the given frame,
// rewriting the EtherType; gopacket has no layer for the custom header, so
// the splice is done on the raw frame bytes
func EncapsulatePacket(frame []byte, dstID uint16) []byte {
	out := make([]byte, 0, len(frame)+4)
	out = append(out, frame[:12]...)
	out = append(out, byte(TunnelEtherType>>8), byte(TunnelEtherType&0xff))
	tunnel := make([]byte, 4)
	copy(tunnel, frame[12:14]) // original EtherType becomes the tunnel protocol ID
	binary.BigEndian.PutUint16(tunnel[2:], dstID)
	out = append(out, tunnel...)
	return append(out, frame[14:]...)
}

func serialize(layer ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	err := gopacket.SerializeLayers(buf, opts, layer...)
	return buf.Bytes(), err
}
