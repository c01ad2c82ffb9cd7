// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package codec implements parsing and deparsing of the fixed header stack
// understood by the pipeline: Ethernet, ARP, Tunnel, IPv4 and UDP.
package codec

import (
	"encoding/binary"

	"github.com/onosproject/onos-lib-go/pkg/errors"
)

// EtherType values understood by the pipeline
const (
	EtherTypeIPv4   uint16 = 0x0800
	EtherTypeARP    uint16 = 0x0806
	EtherTypeTunnel uint16 = 0x1212
)

// ARP opcodes
const (
	ARPRequest uint16 = 1
	ARPReply   uint16 = 2
)

// IPv4 protocol numbers the parser descends into
const (
	IPProtocolUDP uint8 = 17
)

// Fixed header widths in bytes
const (
	EthernetLength = 14
	ARPLength      = 28
	TunnelLength   = 4
	IPv4MinLength  = 20
	UDPLength      = 8
)

// Ethernet is the decoded Ethernet II header
type Ethernet struct {
	Valid     bool
	DstMAC    [6]byte
	SrcMAC    [6]byte
	EtherType uint16
}

// ARP is the decoded ARP header for the Ethernet/IPv4 flavor
type ARP struct {
	Valid        bool
	HardwareType uint16
	ProtocolType uint16
	HardwareSize uint8
	ProtocolSize uint8
	Opcode       uint16
	SenderMAC    [6]byte
	SenderIP     [4]byte
	TargetMAC    [6]byte
	TargetIP     [4]byte
}

// Tunnel is the decoded custom tunnel header: 16-bit protocol ID of the
// encapsulated frame followed by a 16-bit tunnel destination ID
type Tunnel struct {
	Valid   bool
	ProtoID uint16
	DstID   uint16
}

// IPv4 is the decoded IPv4 header; Version and IHL are kept as separate
// 4-bit fields and packed into a single byte on deparse. Options beyond the
// 20-byte fixed part are carried opaquely.
type IPv4 struct {
	Valid          bool
	Version        uint8
	IHL            uint8
	TOS            uint8
	TotalLength    uint16
	Identification uint16
	FlagsFragment  uint16
	TTL            uint8
	Protocol       uint8
	Checksum       uint16
	SrcIP          [4]byte
	DstIP          [4]byte
	Options        []byte
}

// UDP is the decoded UDP header
type UDP struct {
	Valid    bool
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

// Headers is the decoded header stack of a single packet. Field values of a
// header are meaningful only while its validity flag is set; deparse emits
// only valid headers, in the canonical Ethernet, ARP, Tunnel, IPv4, UDP order.
type Headers struct {
	Ethernet Ethernet
	ARP      ARP
	Tunnel   Tunnel
	IPv4     IPv4
	UDP      UDP
	Payload  []byte
}

// Parse decodes the header stack from the given frame bytes. A header whose
// fixed width exceeds the remaining bytes yields a truncated-input error and
// no further headers are extracted. The incoming IPv4 checksum is recorded
// but never verified.
func Parse(buf []byte) (*Headers, error) {
	h := &Headers{}
	cursor, err := h.Ethernet.parse(buf, 0)
	if err != nil {
		return nil, err
	}

	etherType := h.Ethernet.EtherType
	if etherType == EtherTypeARP {
		if cursor, err = h.ARP.parse(buf, cursor); err != nil {
			return nil, err
		}
		h.Payload = buf[cursor:]
		return h, nil
	}

	if etherType == EtherTypeTunnel {
		if cursor, err = h.Tunnel.parse(buf, cursor); err != nil {
			return nil, err
		}
		etherType = h.Tunnel.ProtoID
	}

	if etherType == EtherTypeIPv4 {
		if cursor, err = h.IPv4.parse(buf, cursor); err != nil {
			return nil, err
		}
		if h.IPv4.Protocol == IPProtocolUDP {
			if cursor, err = h.UDP.parse(buf, cursor); err != nil {
				return nil, err
			}
		}
	}

	h.Payload = buf[cursor:]
	return h, nil
}

// Deparse serializes all valid headers, in canonical order, followed by the
// packet payload.
func (h *Headers) Deparse() []byte {
	buf := make([]byte, 0, h.length())
	if h.Ethernet.Valid {
		buf = h.Ethernet.deparse(buf)
	}
	if h.ARP.Valid {
		buf = h.ARP.deparse(buf)
	}
	if h.Tunnel.Valid {
		buf = h.Tunnel.deparse(buf)
	}
	if h.IPv4.Valid {
		buf = h.IPv4.deparse(buf)
	}
	if h.UDP.Valid {
		buf = h.UDP.deparse(buf)
	}
	return append(buf, h.Payload...)
}

// Computes the total deparsed length
func (h *Headers) length() int {
	length := len(h.Payload)
	if h.Ethernet.Valid {
		length += EthernetLength
	}
	if h.ARP.Valid {
		length += ARPLength
	}
	if h.Tunnel.Valid {
		length += TunnelLength
	}
	if h.IPv4.Valid {
		length += IPv4MinLength + len(h.IPv4.Options)
	}
	if h.UDP.Valid {
		length += UDPLength
	}
	return length
}

// Produces a truncated-input error for the named header
func truncated(name string, at int, remaining int) error {
	return errors.NewInvalid("truncated %s header at offset %d: %d bytes remaining", name, at, remaining)
}

func (e *Ethernet) parse(buf []byte, at int) (int, error) {
	if len(buf)-at < EthernetLength {
		return at, truncated("ethernet", at, len(buf)-at)
	}
	copy(e.DstMAC[:], buf[at:at+6])
	copy(e.SrcMAC[:], buf[at+6:at+12])
	e.EtherType = binary.BigEndian.Uint16(buf[at+12 : at+14])
	e.Valid = true
	return at + EthernetLength, nil
}

func (e *Ethernet) deparse(buf []byte) []byte {
	buf = append(buf, e.DstMAC[:]...)
	buf = append(buf, e.SrcMAC[:]...)
	return appendUint16(buf, e.EtherType)
}

func (a *ARP) parse(buf []byte, at int) (int, error) {
	if len(buf)-at < ARPLength {
		return at, truncated("arp", at, len(buf)-at)
	}
	a.HardwareType = binary.BigEndian.Uint16(buf[at : at+2])
	a.ProtocolType = binary.BigEndian.Uint16(buf[at+2 : at+4])
	a.HardwareSize = buf[at+4]
	a.ProtocolSize = buf[at+5]
	a.Opcode = binary.BigEndian.Uint16(buf[at+6 : at+8])
	copy(a.SenderMAC[:], buf[at+8:at+14])
	copy(a.SenderIP[:], buf[at+14:at+18])
	copy(a.TargetMAC[:], buf[at+18:at+24])
	copy(a.TargetIP[:], buf[at+24:at+28])
	a.Valid = true
	return at + ARPLength, nil
}

func (a *ARP) deparse(buf []byte) []byte {
	buf = appendUint16(buf, a.HardwareType)
	buf = appendUint16(buf, a.ProtocolType)
	buf = append(buf, a.HardwareSize, a.ProtocolSize)
	buf = appendUint16(buf, a.Opcode)
	buf = append(buf, a.SenderMAC[:]...)
	buf = append(buf, a.SenderIP[:]...)
	buf = append(buf, a.TargetMAC[:]...)
	return append(buf, a.TargetIP[:]...)
}

func (t *Tunnel) parse(buf []byte, at int) (int, error) {
	if len(buf)-at < TunnelLength {
		return at, truncated("tunnel", at, len(buf)-at)
	}
	t.ProtoID = binary.BigEndian.Uint16(buf[at : at+2])
	t.DstID = binary.BigEndian.Uint16(buf[at+2 : at+4])
	t.Valid = true
	return at + TunnelLength, nil
}

func (t *Tunnel) deparse(buf []byte) []byte {
	buf = appendUint16(buf, t.ProtoID)
	return appendUint16(buf, t.DstID)
}

func (ip *IPv4) parse(buf []byte, at int) (int, error) {
	if len(buf)-at < IPv4MinLength {
		return at, truncated("ipv4", at, len(buf)-at)
	}
	ip.Version = buf[at] >> 4
	ip.IHL = buf[at] & 0x0f
	ip.TOS = buf[at+1]
	ip.TotalLength = binary.BigEndian.Uint16(buf[at+2 : at+4])
	ip.Identification = binary.BigEndian.Uint16(buf[at+4 : at+6])
	ip.FlagsFragment = binary.BigEndian.Uint16(buf[at+6 : at+8])
	ip.TTL = buf[at+8]
	ip.Protocol = buf[at+9]
	ip.Checksum = binary.BigEndian.Uint16(buf[at+10 : at+12])
	copy(ip.SrcIP[:], buf[at+12:at+16])
	copy(ip.DstIP[:], buf[at+16:at+20])

	// Carry any options along opaquely
	ip.Options = nil
	if headerLength := int(ip.IHL) * 4; headerLength > IPv4MinLength {
		if len(buf)-at < headerLength {
			return at, truncated("ipv4 options", at, len(buf)-at)
		}
		ip.Options = append([]byte(nil), buf[at+IPv4MinLength:at+headerLength]...)
		at += headerLength - IPv4MinLength
	}
	ip.Valid = true
	return at + IPv4MinLength, nil
}

func (ip *IPv4) deparse(buf []byte) []byte {
	buf = append(buf, ip.Version<<4|ip.IHL&0x0f, ip.TOS)
	buf = appendUint16(buf, ip.TotalLength)
	buf = appendUint16(buf, ip.Identification)
	buf = appendUint16(buf, ip.FlagsFragment)
	buf = append(buf, ip.TTL, ip.Protocol)
	buf = appendUint16(buf, ip.Checksum)
	buf = append(buf, ip.SrcIP[:]...)
	buf = append(buf, ip.DstIP[:]...)
	return append(buf, ip.Options...)
}

func (u *UDP) parse(buf []byte, at int) (int, error) {
	if len(buf)-at < UDPLength {
		return at, truncated("udp", at, len(buf)-at)
	}
	u.SrcPort = binary.BigEndian.Uint16(buf[at : at+2])
	u.DstPort = binary.BigEndian.Uint16(buf[at+2 : at+4])
	u.Length = binary.BigEndian.Uint16(buf[at+4 : at+6])
	u.Checksum = binary.BigEndian.Uint16(buf[at+6 : at+8])
	u.Valid = true
	return at + UDPLength, nil
}

func (u *UDP) deparse(buf []byte) []byte {
	buf = appendUint16(buf, u.SrcPort)
	buf = appendUint16(buf, u.DstPort)
	buf = appendUint16(buf, u.Length)
	return appendUint16(buf, u.Checksum)
}

func appendUint16(buf []byte, v uint16) []byte {
	return append(buf, byte(v>>8), byte(v))
}
