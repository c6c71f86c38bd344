package filter

import (
	"Go2NetGuard/internal/engine/protocol"
	"Go2NetGuard/internal/model"
	"Go2NetGuard/internal/testutil"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFilter struct {
	stage  model.Stage
	permit bool
	seen   int
}

func (s *stubFilter) Stage() model.Stage { return s.stage }

func (s *stubFilter) Permit(*model.Packet) bool {
	s.seen++
	return s.permit
}

func (s *stubFilter) Report(w io.Writer) { fmt.Fprintf(w, "%s seen=%d\n", s.stage, s.seen) }

func TestChainEarlyExit(t *testing.T) {
	deny := &stubFilter{stage: model.StageDenylist, permit: true}
	rl := &stubFilter{stage: model.StageRateLimit, permit: false}
	mal := &stubFilter{stage: model.StageMalformed, permit: true}
	chain := NewChain(deny, nil, rl, mal)
	require.Len(t, chain.Filters(), 3)

	out := chain.Evaluate(&model.Packet{})
	assert.False(t, out.Accepted)
	assert.Equal(t, model.StageRateLimit, out.Stage)
	assert.Equal(t, 1, deny.seen)
	assert.Equal(t, 1, rl.seen)
	assert.Zero(t, mal.seen, "a rejected packet must not reach later filters")

	var sb strings.Builder
	chain.Report(&sb)
	assert.Equal(t, "DENYLIST seen=1\nRATE-LIMIT seen=1\nMALFORMED seen=0\n", sb.String())
}

func TestChainAcceptsWhenAllPermit(t *testing.T) {
	chain := NewChain(&stubFilter{stage: model.StageDenylist, permit: true})
	out := chain.Evaluate(&model.Packet{})
	assert.True(t, out.Accepted)
	assert.Empty(t, out.Stage)
}

func TestNewEvent(t *testing.T) {
	data := testutil.TCPFrame(t, testutil.TCP{
		Src: "10.0.0.5", Dst: "10.0.0.1", SrcPort: 40000, DstPort: 22, SYN: true,
	})
	pkt := testutil.Packet(data, time.Unix(1700000000, 0))
	f, err := protocol.Decode(data)
	require.NoError(t, err)

	ev := NewEvent(model.StageDenylist, pkt, f, model.ReasonDenyIP)
	assert.Equal(t, "10.0.0.5", ev.SrcIP)
	assert.Equal(t, uint16(22), ev.DstPort)
	assert.Equal(t, "TCP", ev.Protocol)
	assert.Equal(t, "test0", ev.Interface)
	// source port 40000 is 0x9c40
	assert.True(t, strings.HasPrefix(ev.Payload, "9c 40 00 16"))
	assert.Len(t, strings.Fields(ev.Payload), PreviewLen)
}
