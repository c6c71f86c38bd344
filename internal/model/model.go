package model

import (
	"net/netip"
	"time"
)

// IP protocol numbers the pipeline understands.
const (
	ProtoICMP uint8 = 1
	ProtoTCP  uint8 = 6
	ProtoUDP  uint8 = 17
)

// FiveTuple identifies one direction of a flow.
type FiveTuple struct {
	SrcIP    netip.Addr
	DstIP    netip.Addr
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// Reverse returns the tuple seen from the other endpoint.
func (ft FiveTuple) Reverse() FiveTuple {
	return FiveTuple{
		SrcIP:    ft.DstIP,
		DstIP:    ft.SrcIP,
		SrcPort:  ft.DstPort,
		DstPort:  ft.SrcPort,
		Protocol: ft.Protocol,
	}
}

// Symmetric reports whether the tuple equals its own reverse, e.g. a
// loopback ICMP exchange where both endpoints are the same address.
func (ft FiveTuple) Symmetric() bool {
	return ft == ft.Reverse()
}

// Packet is a single captured frame handed to the pipeline. Data is always
// Ethernet-framed; frames from other link types are normalised by the
// capture layer before they get here.
type Packet struct {
	Timestamp time.Time
	Interface string
	// CaptureLength is the number of bytes captured off the link.
	CaptureLength int
	// Length is the original on-the-wire length of the frame.
	Length int
	Data   []byte
	// Raw holds the captured bytes when Data was rewritten to Ethernet
	// framing, nil otherwise.
	Raw []byte
}

// NewPacket builds a Packet whose capture length matches its data.
func NewPacket(ts time.Time, iface string, data []byte, wireLen int) *Packet {
	if wireLen < len(data) {
		wireLen = len(data)
	}
	return &Packet{
		Timestamp:     ts,
		Interface:     iface,
		CaptureLength: len(data),
		Length:        wireLen,
		Data:          data,
	}
}

// Reframe replaces Data with its Ethernet-framed form. The capture lengths
// keep describing the bytes seen on the link.
func (p *Packet) Reframe(frame []byte) {
	if len(frame) == len(p.Data) {
		p.Data = frame
		return
	}
	p.Raw = p.Data
	p.Data = frame
}

// Captured returns the bytes as they were captured, before any reframing.
func (p *Packet) Captured() []byte {
	if p.Raw != nil {
		return p.Raw
	}
	return p.Data
}

// FrameLength is the wire length of Data, counting a synthetic link header.
func (p *Packet) FrameLength() int {
	return p.Length + len(p.Data) - p.CaptureLength
}

// FlowRow is one finalized flow, the unit written to the summary CSV and to
// every other batch writer.
type FlowRow struct {
	SrcIP         string
	DstIP         string
	SrcPort       uint16
	DstPort       uint16
	Protocol      string
	BytesSent     uint64
	BytesReceived uint64
	PktsSent      uint64
	PktsReceived  uint64
	DurationSec   float64
	AvgPktSize    float64
	PktRate       float64
	SynCount      uint64
	AckCount      uint64
	FinCount      uint64
	RstCount      uint64
	PshCount      uint64
	SynAckRatio   float64
	SynFinRatio   float64
	MinPktSize    uint64
	MaxPktSize    uint64
	TotalPackets  uint64
	TotalBytes    uint64
	FirstSeen     time.Time
	LastSeen      time.Time
}

// Batch is the result of one destructive finalize of the flow table.
type Batch struct {
	RunID     string
	Seq       int
	Timestamp time.Time
	Rows      []FlowRow
}

// TotalPackets sums sent and received packets across every row.
func (b *Batch) TotalPackets() uint64 {
	var n uint64
	for _, r := range b.Rows {
		n += r.PktsSent + r.PktsReceived
	}
	return n
}
