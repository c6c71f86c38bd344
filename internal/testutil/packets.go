// Package testutil builds wire-format frames for tests.
package testutil

import (
	"net"
	"testing"
	"time"

	"Go2NetGuard/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	srcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC = net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xaa}
)

// TCP describes a TCP segment to build.
type TCP struct {
	Src, Dst         string
	SrcPort, DstPort uint16
	SYN, ACK, FIN    bool
	RST, PSH         bool
	Payload          []byte
}

// TCPFrame serializes an Ethernet/IPv4/TCP frame with valid checksums.
func TCPFrame(t testing.TB, spec TCP) []byte {
	t.Helper()
	ip := ipv4(spec.Src, spec.Dst, layers.IPProtocolTCP)
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(spec.SrcPort),
		DstPort: layers.TCPPort(spec.DstPort),
		Seq:     1000,
		SYN:     spec.SYN,
		ACK:     spec.ACK,
		FIN:     spec.FIN,
		RST:     spec.RST,
		PSH:     spec.PSH,
		Window:  14600,
	}
	if spec.ACK {
		tcp.Ack = 2000
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("set network layer: %v", err)
	}
	return serialize(t, ethernet(), ip, tcp, gopacket.Payload(spec.Payload))
}

// SYN is shorthand for a bare connection-initiation segment.
func SYN(t testing.TB, src, dst string, srcPort, dstPort uint16) []byte {
	return TCPFrame(t, TCP{Src: src, Dst: dst, SrcPort: srcPort, DstPort: dstPort, SYN: true})
}

// UDPFrame serializes an Ethernet/IPv4/UDP frame with valid checksums.
func UDPFrame(t testing.TB, src, dst string, srcPort, dstPort uint16, payload []byte) []byte {
	t.Helper()
	ip := ipv4(src, dst, layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("set network layer: %v", err)
	}
	return serialize(t, ethernet(), ip, udp, gopacket.Payload(payload))
}

// ICMPEcho serializes an echo request, or an echo reply when reply is set.
func ICMPEcho(t testing.TB, src, dst string, reply bool) []byte {
	t.Helper()
	typ := uint8(layers.ICMPv4TypeEchoRequest)
	if reply {
		typ = layers.ICMPv4TypeEchoReply
	}
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(typ, 0),
		Id:       7,
		Seq:      1,
	}
	return serialize(t, ethernet(), ipv4(src, dst, layers.IPProtocolICMPv4), icmp, gopacket.Payload([]byte("ping")))
}

// ARPFrame serializes a non-IPv4 frame.
func ARPFrame(t testing.TB) []byte {
	t.Helper()
	eth := ethernet()
	eth.EthernetType = layers.EthernetTypeARP
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: net.ParseIP("10.0.0.1").To4(),
		DstHwAddress:      net.HardwareAddr{0, 0, 0, 0, 0, 0},
		DstProtAddress:    net.ParseIP("10.0.0.2").To4(),
	}
	return serialize(t, eth, arp)
}

// Packet wraps a frame in a model.Packet captured at ts.
func Packet(data []byte, ts time.Time) *model.Packet {
	return model.NewPacket(ts, "test0", data, len(data))
}

func ethernet() *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
}

func ipv4(src, dst string, proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		TTL:      64,
		Id:       4242,
		Protocol: proto,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
}

func serialize(t testing.TB, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("serialize layers: %v", err)
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out
}
