package protocol

import (
	"testing"

	"Go2NetGuard/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumRFC1071Example(t *testing.T) {
	// Worked example from RFC 1071 section 3: the sum is 0xddf2.
	data := []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7}
	assert.Equal(t, ^uint16(0xddf2), Checksum(data, -1, 0))
}

func TestChecksumOddLength(t *testing.T) {
	assert.Equal(t, ^uint16(0x0100), Checksum([]byte{0x01}, -1, 0))
}

func TestIPv4ChecksumRoundTrip(t *testing.T) {
	data := testutil.TCPFrame(t, testutil.TCP{Src: "10.0.0.5", Dst: "10.0.0.1", SrcPort: 40000, DstPort: 22, SYN: true})
	f, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, ChecksumValid, VerifyIPv4Checksum(f.IP[:f.IHL]))

	data[EthernetHeaderLen+8] ^= 0x01 // flip a TTL bit
	assert.Equal(t, ChecksumInvalid, VerifyIPv4Checksum(f.IP[:f.IHL]))
}

func TestTCPChecksumRoundTrip(t *testing.T) {
	data := testutil.TCPFrame(t, testutil.TCP{
		Src: "10.0.0.5", Dst: "10.0.0.1", SrcPort: 40000, DstPort: 80,
		ACK: true, PSH: true, Payload: []byte("GET / HTTP/1.1\r\n\r\n"),
	})
	f, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, ChecksumValid, VerifyTCPChecksum(f))

	seg, _ := f.Segment()
	seg[len(seg)-1] ^= 0x01
	assert.Equal(t, ChecksumInvalid, VerifyTCPChecksum(f))
}

func TestTCPChecksumIgnoresEthernetPadding(t *testing.T) {
	data := testutil.SYN(t, "10.0.0.5", "10.0.0.1", 40000, 22)
	padded := append(append([]byte(nil), data...), 0xde, 0xad, 0xbe, 0xef)
	f, err := Decode(padded)
	require.NoError(t, err)
	assert.Equal(t, ChecksumValid, VerifyTCPChecksum(f))
}

func TestTCPChecksumIndeterminateWhenTruncated(t *testing.T) {
	data := testutil.TCPFrame(t, testutil.TCP{
		Src: "10.0.0.5", Dst: "10.0.0.1", SrcPort: 40000, DstPort: 80,
		ACK: true, Payload: make([]byte, 200),
	})
	f, err := Decode(data[:len(data)-50])
	require.NoError(t, err)
	assert.Equal(t, ChecksumIndeterminate, VerifyTCPChecksum(f))
	assert.Equal(t, "indeterminate", ChecksumIndeterminate.String())
}
