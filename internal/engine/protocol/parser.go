package protocol

import (
	"Go2NetGuard/internal/model"
	"encoding/binary"
	"errors"
	"net/netip"
)

// Header sizes in bytes.
const (
	EthernetHeaderLen = 14
	IPv4MinHeaderLen  = 20
	TCPMinHeaderLen   = 20
	UDPHeaderLen      = 8
)

// EtherTypeIPv4 is the only ethertype the pipeline inspects.
const EtherTypeIPv4 uint16 = 0x0800

// TCP flag bits as found in byte 13 of the TCP header.
const (
	TCPFlagFIN uint8 = 0x01
	TCPFlagSYN uint8 = 0x02
	TCPFlagRST uint8 = 0x04
	TCPFlagPSH uint8 = 0x08
	TCPFlagACK uint8 = 0x10
)

const (
	ipFlagMoreFragments = 0x2000
	ipFragOffsetMask    = 0x1fff
)

var (
	ErrTooShort           = errors.New("frame shorter than an ethernet header")
	ErrNotIPv4            = errors.New("not an IPv4 packet")
	ErrTruncatedIPHeader  = errors.New("frame shorter than the minimum IPv4 header")
	ErrInvalidIHL         = errors.New("IPv4 header length below 20 bytes")
	ErrTruncatedIPOptions = errors.New("frame shorter than the declared IPv4 header")
)

// Frame is the defensively decoded view of an Ethernet-framed IPv4 packet.
// All slices alias the captured data.
type Frame struct {
	Data      []byte
	EtherType uint16

	// IP spans from the IPv4 header to the end of the capture.
	IP            []byte
	IHL           int
	TotalLength   int
	Protocol      uint8
	Src           netip.Addr
	Dst           netip.Addr
	FragOffset    uint16
	MoreFragments bool

	// Transport fields are only set when HasTransport is true.
	HasTransport bool
	SrcPort      uint16
	DstPort      uint16
	TCPFlags     uint8
}

// Decode parses the Ethernet, IPv4 and TCP/UDP headers of data without ever
// reading past the captured bytes. On error the returned frame holds every
// field decoded before the failing check (addresses are set as soon as 20
// bytes of IP header are available), so callers can still describe the
// packet.
func Decode(data []byte) (*Frame, error) {
	f := &Frame{Data: data}
	if len(data) < EthernetHeaderLen {
		return f, ErrTooShort
	}
	f.EtherType = binary.BigEndian.Uint16(data[12:14])
	if f.EtherType != EtherTypeIPv4 {
		return f, ErrNotIPv4
	}
	f.IP = data[EthernetHeaderLen:]
	if len(f.IP) < IPv4MinHeaderLen {
		return f, ErrTruncatedIPHeader
	}

	ip := f.IP
	f.IHL = int(ip[0]&0x0f) * 4
	f.TotalLength = int(binary.BigEndian.Uint16(ip[2:4]))
	off := binary.BigEndian.Uint16(ip[6:8])
	f.FragOffset = off & ipFragOffsetMask
	f.MoreFragments = off&ipFlagMoreFragments != 0
	f.Protocol = ip[9]
	f.Src = netip.AddrFrom4([4]byte(ip[12:16]))
	f.Dst = netip.AddrFrom4([4]byte(ip[16:20]))

	if f.IHL < IPv4MinHeaderLen {
		return f, ErrInvalidIHL
	}
	if len(ip) < f.IHL {
		return f, ErrTruncatedIPOptions
	}

	l4 := f.L4()
	switch f.Protocol {
	case model.ProtoTCP:
		if len(l4) >= TCPMinHeaderLen {
			f.SrcPort = binary.BigEndian.Uint16(l4[0:2])
			f.DstPort = binary.BigEndian.Uint16(l4[2:4])
			f.TCPFlags = l4[13]
			f.HasTransport = true
		}
	case model.ProtoUDP:
		if len(l4) >= UDPHeaderLen {
			f.SrcPort = binary.BigEndian.Uint16(l4[0:2])
			f.DstPort = binary.BigEndian.Uint16(l4[2:4])
			f.HasTransport = true
		}
	}
	return f, nil
}

// L4 returns every captured byte after the IPv4 header, Ethernet padding
// included.
func (f *Frame) L4() []byte {
	if f.IHL == 0 || len(f.IP) <= f.IHL {
		return nil
	}
	return f.IP[f.IHL:]
}

// Segment returns the transport segment bounded by the IPv4 total length, so
// that link-layer padding is excluded. ok is false when the capture holds
// fewer bytes than the header declares.
func (f *Frame) Segment() (seg []byte, ok bool) {
	if f.TotalLength < f.IHL {
		return nil, false
	}
	if f.TotalLength > len(f.IP) {
		return f.L4(), false
	}
	return f.IP[f.IHL:f.TotalLength], true
}

// IsFragment reports whether the packet is any fragment of a larger datagram.
func (f *Frame) IsFragment() bool {
	return f.FragOffset != 0 || f.MoreFragments
}

// IsTCP reports a TCP packet with a complete fixed header.
func (f *Frame) IsTCP() bool {
	return f.Protocol == model.ProtoTCP && f.HasTransport
}

// HasFlags reports whether every bit of mask is set in the TCP flags.
func (f *Frame) HasFlags(mask uint8) bool {
	return f.TCPFlags&mask == mask
}

// Tuple returns the packet's five-tuple. Ports are zero when no transport
// header was captured.
func (f *Frame) Tuple() model.FiveTuple {
	return model.FiveTuple{
		SrcIP:    f.Src,
		DstIP:    f.Dst,
		SrcPort:  f.SrcPort,
		DstPort:  f.DstPort,
		Protocol: f.Protocol,
	}
}

// ProtoLabel renders an IP protocol number the way the flow CSV and the
// console stream expect it.
func ProtoLabel(p uint8) string {
	switch p {
	case model.ProtoTCP:
		return "TCP"
	case model.ProtoUDP:
		return "UDP"
	case model.ProtoICMP:
		return "ICMP"
	default:
		return "OTHER"
	}
}

const hexDigits = "0123456789abcdef"

// HexPreview renders at most n bytes of b as space-separated lowercase hex.
func HexPreview(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	if len(b) == 0 {
		return ""
	}
	out := make([]byte, 0, len(b)*3-1)
	for i, c := range b {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, hexDigits[c>>4], hexDigits[c&0x0f])
	}
	return string(out)
}
