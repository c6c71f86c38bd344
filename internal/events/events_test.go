package events

import (
	"Go2NetGuard/internal/model"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent(stage model.Stage) *model.DropEvent {
	return &model.DropEvent{
		Timestamp: time.Date(2025, 11, 8, 21, 12, 34, 123456000, time.Local),
		Interface: "eth0",
		Stage:     stage,
		SrcIP:     "10.0.0.5",
		DstIP:     "10.0.0.1",
		SrcPort:   40000,
		DstPort:   22,
		Protocol:  "TCP",
		Reason:    model.ReasonDenyIP,
		Payload:   "9c 40 00 16",
	}
}

func TestFormatDrop(t *testing.T) {
	line := FormatDrop(sampleEvent(model.StageDenylist))
	assert.Equal(t,
		"🚫 [DENYLIST DROP] 2025-11-08T21:12:34.123456 | 10.0.0.5:40000 → 10.0.0.1:22 | proto=TCP | reason=deny_ip | payload=9c 40 00 16\n",
		line)
}

func TestFormatDropRateLimitCarriesTokens(t *testing.T) {
	ev := sampleEvent(model.StageRateLimit)
	ev.Reason = model.ReasonSYNFlood
	ev.Tokens = 0.25
	ev.MaxTokens = 2
	line := FormatDrop(ev)
	assert.True(t, strings.HasPrefix(line, "⚡ [RATE-LIMIT DROP] "))
	assert.Contains(t, line, "| tokens=0.25/2.0 | reason=SYN_FLOOD |")
}

func TestFormatDropMalformedMarker(t *testing.T) {
	ev := sampleEvent(model.StageMalformed)
	ev.SrcIP, ev.DstIP = "N/A", "N/A"
	assert.True(t, strings.HasPrefix(FormatDrop(ev), "❌ [MALFORMED DROP] "))
	assert.Contains(t, FormatDrop(ev), "N/A:40000 → N/A:22")
}

func TestConsoleLinesDoNotInterleave(t *testing.T) {
	var sb strings.Builder
	c := NewConsole(&sb)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if i%2 == 0 {
					c.Notify(sampleEvent(model.StageDenylist))
				} else {
					c.Block(func(w io.Writer) { fmt.Fprintf(w, "block %d\nline two\n", g) })
				}
			}
		}(g)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(sb.String(), "\n"), "\n")
	assert.Len(t, lines, 8*10+8*10*2)
	for i, l := range lines {
		if strings.HasPrefix(l, "block ") {
			assert.Equal(t, "line two", lines[i+1])
			continue
		}
		if l == "line two" {
			continue
		}
		assert.True(t, strings.HasPrefix(l, "🚫 [DENYLIST DROP]"), l)
	}
}

func TestEncodeDecode(t *testing.T) {
	ev := sampleEvent(model.StageRateLimit)
	ev.RunID = "run-1"
	ev.Tokens = 0.5
	ev.MaxTokens = 2

	data, err := Encode(ev)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)

	assert.True(t, ev.Timestamp.Equal(got.Timestamp))
	got.Timestamp = ev.Timestamp
	assert.Equal(t, ev, got)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}
