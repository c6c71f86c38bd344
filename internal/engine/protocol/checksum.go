package protocol

import "encoding/binary"

// ChecksumResult is the outcome of a best-effort checksum verification.
type ChecksumResult int

const (
	ChecksumValid ChecksumResult = iota
	ChecksumInvalid
	// ChecksumIndeterminate means the checksum could not be computed from
	// the captured bytes. Callers treat it as a pass.
	ChecksumIndeterminate
)

func (r ChecksumResult) String() string {
	switch r {
	case ChecksumValid:
		return "valid"
	case ChecksumInvalid:
		return "invalid"
	default:
		return "indeterminate"
	}
}

// Checksum computes the RFC 1071 one's-complement checksum of b, added to a
// partial sum. The 16-bit word at the even offset skip is treated as zero so
// a checksum field can be left in place; pass -1 to sum every byte.
func Checksum(b []byte, skip int, initial uint32) uint16 {
	return fold(initial + partialSum(b, skip))
}

func partialSum(b []byte, skip int) uint32 {
	var sum uint32
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		if i == skip {
			continue
		}
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}
	return sum
}

func fold(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}

// VerifyIPv4Checksum checks the header checksum over hdr, which must be
// exactly the IPv4 header (IHL bytes).
func VerifyIPv4Checksum(hdr []byte) ChecksumResult {
	if len(hdr) < IPv4MinHeaderLen {
		return ChecksumIndeterminate
	}
	stored := binary.BigEndian.Uint16(hdr[10:12])
	if Checksum(hdr, 10, 0) != stored {
		return ChecksumInvalid
	}
	return ChecksumValid
}

// VerifyTCPChecksum checks the TCP checksum over the IPv4 pseudo-header and
// the segment. Fragments and segments cut short by the snapshot length are
// indeterminate: the bytes needed for the sum were never captured.
func VerifyTCPChecksum(f *Frame) ChecksumResult {
	if f.IsFragment() {
		return ChecksumIndeterminate
	}
	seg, ok := f.Segment()
	if !ok || len(seg) < TCPMinHeaderLen {
		return ChecksumIndeterminate
	}
	src, dst := f.Src.As4(), f.Dst.As4()
	pseudo := partialSum(src[:], -1) + partialSum(dst[:], -1) +
		uint32(f.Protocol) + uint32(len(seg))

	stored := binary.BigEndian.Uint16(seg[16:18])
	if Checksum(seg, 16, pseudo) != stored {
		return ChecksumInvalid
	}
	return ChecksumValid
}
