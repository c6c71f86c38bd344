package main

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateWritesEveryScenario(t *testing.T) {
	var buf bytes.Buffer
	g, err := NewGenerator(pcapgo.NewWriter(&buf), 7, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, generate(g, 3, 10, net.ParseIP("192.0.2.66")))

	// 2 handshakes of 6 + 1 UDP exchange of 2 + 10 flood + 6 denylisted + 4 malformed
	assert.Equal(t, 34, g.Count())

	r, err := pcapgo.NewReader(&buf)
	require.NoError(t, err)
	n := 0
	var last time.Time
	for {
		_, ci, err := r.ReadPacketData()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.False(t, ci.Timestamp.Before(last))
		last = ci.Timestamp
		n++
	}
	assert.Equal(t, 34, n)
}
