// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package codec

// Checksum computes the ones'-complement sum of the given bytes folded into
// 16 bits, as used by the IPv4 header checksum
func Checksum(data []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(data[i])<<8 | uint32(data[i+1])
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}
	for sum > 0xffff {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}

// HeaderChecksum computes the checksum over the IPv4 header fields with the
// checksum field itself taken as zero
func (ip *IPv4) HeaderChecksum() uint16 {
	saved := ip.Checksum
	ip.Checksum = 0
	header := ip.deparse(make([]byte, 0, IPv4MinLength+len(ip.Options)))
	ip.Checksum = saved
	return Checksum(header)
}

// UpdateChecksum recomputes the header checksum over the current field
// values; called after all pipeline mutations and before deparse
func (ip *IPv4) UpdateChecksum() {
	ip.Checksum = ip.HeaderChecksum()
}
