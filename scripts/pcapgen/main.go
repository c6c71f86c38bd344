package main

import (
	"flag"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
)

// Generator writes synthetic traffic to a pcap file. Timestamps advance by
// step per packet from a fixed start so replays are deterministic.
type Generator struct {
	w     *pcapgo.Writer
	rnd   *rand.Rand
	ts    time.Time
	step  time.Duration
	count int
}

// NewGenerator writes the file header and returns a generator.
func NewGenerator(w *pcapgo.Writer, seed int64, start time.Time) (*Generator, error) {
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return nil, err
	}
	return &Generator{w: w, rnd: rand.New(rand.NewSource(seed)), ts: start, step: 10 * time.Millisecond}, nil
}

// Count returns the number of packets written.
func (g *Generator) Count() int { return g.count }

func (g *Generator) write(data []byte) error {
	ci := gopacket.CaptureInfo{
		Timestamp:     g.ts,
		CaptureLength: len(data),
		Length:        len(data),
	}
	g.ts = g.ts.Add(g.step)
	g.count++
	return g.w.WritePacket(ci, data)
}

func serialize(ls ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		ComputeChecksums: true,
		FixLengths:       true,
	}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func ethIPv4(src, dst net.IP, proto layers.IPProtocol) (*layers.Ethernet, *layers.IPv4) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		SrcIP:    src.To4(),
		DstIP:    dst.To4(),
		Version:  4,
		TTL:      64,
		Protocol: proto,
	}
	return eth, ip
}

func (g *Generator) tcpFrame(src, dst net.IP, sp, dp uint16, set func(*layers.TCP), payload []byte) ([]byte, error) {
	eth, ip := ethIPv4(src, dst, layers.IPProtocolTCP)
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(sp),
		DstPort: layers.TCPPort(dp),
		Seq:     g.rnd.Uint32(),
		Window:  14600,
	}
	set(tcp)
	tcp.SetNetworkLayerForChecksum(ip)
	return serialize(eth, ip, tcp, gopacket.Payload(payload))
}

// Handshake writes a SYN, SYN-ACK, ACK and one data segment each way.
func (g *Generator) Handshake(client, server net.IP, cport, sport uint16) error {
	steps := []struct {
		fwd     bool
		set     func(*layers.TCP)
		payload int
	}{
		{true, func(t *layers.TCP) { t.SYN = true }, 0},
		{false, func(t *layers.TCP) { t.SYN, t.ACK = true, true }, 0},
		{true, func(t *layers.TCP) { t.ACK = true }, 0},
		{true, func(t *layers.TCP) { t.ACK, t.PSH = true, true }, 64 + g.rnd.Intn(512)},
		{false, func(t *layers.TCP) { t.ACK, t.PSH = true, true }, 64 + g.rnd.Intn(1200)},
		{true, func(t *layers.TCP) { t.FIN, t.ACK = true, true }, 0},
	}
	for _, s := range steps {
		payload := make([]byte, s.payload)
		g.rnd.Read(payload)
		var data []byte
		var err error
		if s.fwd {
			data, err = g.tcpFrame(client, server, cport, sport, s.set, payload)
		} else {
			data, err = g.tcpFrame(server, client, sport, cport, s.set, payload)
		}
		if err != nil {
			return err
		}
		if err := g.write(data); err != nil {
			return err
		}
	}
	return nil
}

// UDPExchange writes a request and a reply.
func (g *Generator) UDPExchange(client, server net.IP, cport, sport uint16) error {
	for i, pair := range [][2]net.IP{{client, server}, {server, client}} {
		eth, ip := ethIPv4(pair[0], pair[1], layers.IPProtocolUDP)
		udp := &layers.UDP{SrcPort: layers.UDPPort(cport), DstPort: layers.UDPPort(sport)}
		if i == 1 {
			udp.SrcPort, udp.DstPort = layers.UDPPort(sport), layers.UDPPort(cport)
		}
		udp.SetNetworkLayerForChecksum(ip)
		payload := make([]byte, 32+g.rnd.Intn(200))
		g.rnd.Read(payload)
		data, err := serialize(eth, ip, udp, gopacket.Payload(payload))
		if err != nil {
			return err
		}
		if err := g.write(data); err != nil {
			return err
		}
	}
	return nil
}

// SYNFlood writes n bare SYNs from one source to one service, 1ms apart.
func (g *Generator) SYNFlood(src, dst net.IP, dport uint16, n int) error {
	prev := g.step
	g.step = time.Millisecond
	defer func() { g.step = prev }()
	for i := 0; i < n; i++ {
		data, err := g.tcpFrame(src, dst, uint16(20000+g.rnd.Intn(40000)), dport, func(t *layers.TCP) { t.SYN = true }, nil)
		if err != nil {
			return err
		}
		if err := g.write(data); err != nil {
			return err
		}
	}
	return nil
}

// Malformed writes one frame of each kind the validator rejects for.
func (g *Generator) Malformed(src, dst net.IP) error {
	syn := func(t *layers.TCP) { t.SYN = true }

	badIP, err := g.tcpFrame(src, dst, 40000, 22, syn, nil)
	if err != nil {
		return err
	}
	badIP[14+10] ^= 0xff

	synFin, err := g.tcpFrame(src, dst, 40001, 22, func(t *layers.TCP) { t.SYN, t.FIN = true, true }, nil)
	if err != nil {
		return err
	}

	badTCP, err := g.tcpFrame(src, dst, 40002, 22, func(t *layers.TCP) { t.ACK = true }, []byte("payload"))
	if err != nil {
		return err
	}
	badTCP[len(badTCP)-1] ^= 0x01

	tooShort := []byte{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA, 0x00, 0x11, 0x22}

	for _, data := range [][]byte{badIP, synFin, badTCP, tooShort} {
		if err := g.write(data); err != nil {
			return err
		}
	}
	return nil
}

func randomHost(rnd *rand.Rand) net.IP {
	return net.IP{10, byte(rnd.Intn(4)), byte(rnd.Intn(256)), byte(1 + rnd.Intn(254))}
}

func main() {
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	sessions := flag.Int("c", 100, "Number of normal TCP and UDP sessions to generate")
	flood := flag.Int("flood", 50, "Number of SYNs in the flood burst")
	deny := flag.String("deny", "192.0.2.66", "Source address to emit traffic from, for denylist testing")
	seed := flag.Int64("seed", 1, "Random seed")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	g, err := NewGenerator(pcapgo.NewWriter(f), *seed, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		log.Fatalf("Failed to write pcap header: %v", err)
	}
	if err := generate(g, *sessions, *flood, net.ParseIP(*deny)); err != nil {
		log.Fatalf("Failed to generate traffic: %v", err)
	}
	log.WithFields(log.Fields{"packets": g.Count(), "file": *outputFile}).Info("Generated capture file")
}

func generate(g *Generator, sessions, flood int, deny net.IP) error {
	server := net.IP{10, 0, 0, 1}
	for i := 0; i < sessions; i++ {
		client := randomHost(g.rnd)
		port := uint16(1024 + g.rnd.Intn(60000))
		var err error
		if i%3 == 2 {
			err = g.UDPExchange(client, server, port, 53)
		} else {
			err = g.Handshake(client, server, port, 443)
		}
		if err != nil {
			return err
		}
	}
	if flood > 0 {
		if err := g.SYNFlood(net.IP{10, 9, 9, 9}, server, 80, flood); err != nil {
			return err
		}
	}
	if deny != nil {
		if err := g.Handshake(deny, server, 51000, 22); err != nil {
			return err
		}
	}
	return g.Malformed(net.IP{10, 0, 0, 5}, server)
}
