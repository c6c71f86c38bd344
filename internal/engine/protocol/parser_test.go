package protocol

import (
	"net/netip"
	"testing"

	"Go2NetGuard/internal/model"
	"Go2NetGuard/internal/testutil"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTCP(t *testing.T) {
	data := testutil.TCPFrame(t, testutil.TCP{
		Src: "10.0.0.5", Dst: "10.0.0.1", SrcPort: 40000, DstPort: 22,
		SYN: true, Payload: []byte("hello"),
	})

	f, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("10.0.0.5"), f.Src)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), f.Dst)
	assert.Equal(t, uint16(40000), f.SrcPort)
	assert.Equal(t, uint16(22), f.DstPort)
	assert.Equal(t, model.ProtoTCP, f.Protocol)
	assert.True(t, f.IsTCP())
	assert.True(t, f.HasFlags(TCPFlagSYN))
	assert.False(t, f.HasFlags(TCPFlagACK))
	assert.Equal(t, 20, f.IHL)
	assert.False(t, f.IsFragment())

	seg, ok := f.Segment()
	require.True(t, ok)
	assert.Len(t, seg, TCPMinHeaderLen+5)
}

func TestDecodeUDPAndTuple(t *testing.T) {
	f, err := Decode(testutil.UDPFrame(t, "192.168.1.2", "8.8.8.8", 5353, 53, []byte("q")))
	require.NoError(t, err)
	ft := f.Tuple()
	assert.Equal(t, uint16(5353), ft.SrcPort)
	assert.Equal(t, uint16(53), ft.DstPort)
	assert.Equal(t, model.ProtoUDP, ft.Protocol)
	assert.Equal(t, ft, ft.Reverse().Reverse())
}

func TestDecodeErrors(t *testing.T) {
	syn := testutil.SYN(t, "10.0.0.5", "10.0.0.1", 40000, 22)

	_, err := Decode(syn[:10])
	assert.ErrorIs(t, err, ErrTooShort)

	_, err = Decode(testutil.ARPFrame(t))
	assert.ErrorIs(t, err, ErrNotIPv4)

	_, err = Decode(syn[:EthernetHeaderLen+10])
	assert.ErrorIs(t, err, ErrTruncatedIPHeader)

	bad := append([]byte(nil), syn...)
	bad[EthernetHeaderLen] = 0x44 // version 4, IHL 4 words
	f, err := Decode(bad)
	assert.ErrorIs(t, err, ErrInvalidIHL)
	assert.Equal(t, netip.MustParseAddr("10.0.0.5"), f.Src, "addresses are decoded before the IHL check")

	opts := append([]byte(nil), syn[:EthernetHeaderLen+22]...)
	opts[EthernetHeaderLen] = 0x46 // 24-byte header, only 22 captured
	_, err = Decode(opts)
	assert.ErrorIs(t, err, ErrTruncatedIPOptions)
}

func TestDecodeShortTransportLeavesPortsZero(t *testing.T) {
	syn := testutil.SYN(t, "10.0.0.5", "10.0.0.1", 40000, 22)
	f, err := Decode(syn[:EthernetHeaderLen+IPv4MinHeaderLen+10])
	require.NoError(t, err)
	assert.False(t, f.HasTransport)
	assert.Zero(t, f.SrcPort)
	assert.Zero(t, f.DstPort)
}

func TestHexPreview(t *testing.T) {
	assert.Equal(t, "", HexPreview(nil, 24))
	assert.Equal(t, "00 0a ff", HexPreview([]byte{0x00, 0x0a, 0xff}, 24))
	assert.Equal(t, "01 02", HexPreview([]byte{1, 2, 3, 4}, 2))
}

func TestProtoLabel(t *testing.T) {
	assert.Equal(t, "TCP", ProtoLabel(6))
	assert.Equal(t, "UDP", ProtoLabel(17))
	assert.Equal(t, "ICMP", ProtoLabel(1))
	assert.Equal(t, "OTHER", ProtoLabel(47))
}

func TestNormalize(t *testing.T) {
	frame := testutil.SYN(t, "10.0.0.5", "10.0.0.1", 40000, 22)
	ip := frame[EthernetHeaderLen:]

	out, ok := Normalize(layers.LinkTypeEthernet, frame)
	require.True(t, ok)
	assert.Equal(t, frame, out)

	out, ok = Normalize(layers.LinkTypeRaw, ip)
	require.True(t, ok)
	f, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, uint16(22), f.DstPort)

	null := append([]byte{2, 0, 0, 0}, ip...)
	out, ok = Normalize(layers.LinkTypeNull, null)
	require.True(t, ok)
	_, err = Decode(out)
	require.NoError(t, err)

	sll := make([]byte, 16, 16+len(ip))
	sll[14], sll[15] = 0x08, 0x00
	out, ok = Normalize(layers.LinkTypeLinuxSLL, append(sll, ip...))
	require.True(t, ok)
	_, err = Decode(out)
	require.NoError(t, err)

	_, ok = Normalize(layers.LinkTypeIEEE802_11, frame)
	assert.False(t, ok)
	assert.False(t, SupportedLinkType(layers.LinkTypeIEEE802_11))
	assert.True(t, SupportedLinkType(layers.LinkTypeLinuxSLL))
}
