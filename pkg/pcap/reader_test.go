package pcap

import (
	"Go2NetGuard/internal/capture"
	"Go2NetGuard/internal/model"
	"Go2NetGuard/internal/netif"
	"Go2NetGuard/internal/testutil"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func writePcap(t *testing.T, frames ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pcap")
	fh, err := os.Create(path)
	require.NoError(t, err)
	defer fh.Close()

	w := pcapgo.NewWriter(fh)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for i, f := range frames {
		ci := gopacket.CaptureInfo{Timestamp: t0.Add(time.Duration(i) * time.Second), CaptureLength: len(f), Length: len(f)}
		require.NoError(t, w.WritePacket(ci, f))
	}
	return path
}

func TestReaderReadsUntilEOF(t *testing.T) {
	path := writePcap(t,
		testutil.SYN(t, "10.0.0.5", "10.0.0.1", 40000, 22),
		testutil.UDPFrame(t, "10.0.0.1", "10.0.0.2", 5000, 53, []byte("q")),
	)
	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())

	_, ci, err := r.ReadPacketData()
	require.NoError(t, err)
	assert.True(t, ci.Timestamp.Equal(t0))
	_, ci, err = r.ReadPacketData()
	require.NoError(t, err)
	assert.True(t, ci.Timestamp.Equal(t0.Add(time.Second)))
	_, _, err = r.ReadPacketData()
	assert.Equal(t, io.EOF, err)
}

func TestReplayThroughDispatcher(t *testing.T) {
	path := writePcap(t,
		testutil.SYN(t, "10.0.0.5", "10.0.0.1", 40000, 22),
		testutil.SYN(t, "10.0.0.6", "10.0.0.1", 40001, 22),
		testutil.UDPFrame(t, "10.0.0.1", "10.0.0.2", 5000, 53, nil),
	)
	var got []*model.Packet
	d := capture.NewDispatcher(capture.Options{
		Open:    Opener(path),
		Handler: func(p *model.Packet) { got = append(got, p) },
	})
	require.NoError(t, d.Run(context.Background(), []netif.Interface{{Name: filepath.Base(path)}}))
	require.Len(t, got, 3)
	assert.Equal(t, "test.pcap", got[0].Interface)
	assert.True(t, got[2].Timestamp.Equal(t0.Add(2*time.Second)))
}

func TestBPFFilterOnReplay(t *testing.T) {
	path := writePcap(t,
		testutil.SYN(t, "10.0.0.5", "10.0.0.1", 40000, 22),
		testutil.UDPFrame(t, "10.0.0.1", "10.0.0.2", 5000, 53, nil),
	)
	var got int
	d := capture.NewDispatcher(capture.Options{
		Open:    Opener(path),
		Filter:  "udp",
		Handler: func(*model.Packet) { got++ },
	})
	require.NoError(t, d.Run(context.Background(), []netif.Interface{{Name: "replay"}}))
	assert.Equal(t, 1, got)
}

func TestMissingFile(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "nope.pcap"))
	assert.Error(t, err)
}
