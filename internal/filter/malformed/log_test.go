package malformed

import (
	"Go2NetGuard/internal/model"
	"Go2NetGuard/internal/testutil"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatLine(t *testing.T) {
	data := make([]byte, 40)
	for i := range data {
		data[i] = byte(i)
	}
	ts := time.Date(2025, 11, 8, 21, 12, 34, 5000, time.FixedZone("X", 3600))
	line := FormatLine(testutil.Packet(data, ts))

	assert.True(t, strings.HasPrefix(line, "2025-11-08T20:12:34.000005Z,40,\"00 01 02"))
	assert.True(t, strings.HasSuffix(line, " 1f\"\n"))
	preview := strings.Trim(strings.SplitN(strings.TrimSpace(line), ",", 3)[2], "\"")
	assert.Len(t, strings.Fields(preview), LogPreviewLen)
}

func TestFormatLineUsesCapturedBytes(t *testing.T) {
	syn := testutil.SYN(t, "10.0.0.5", "10.0.0.1", 40000, 22)
	ip := syn[14:]
	pkt := model.NewPacket(time.Unix(0, 0), "tun0", ip, len(ip))
	pkt.Reframe(syn)

	line := FormatLine(pkt)
	fields := strings.SplitN(strings.TrimSpace(line), ",", 3)
	assert.Equal(t, fmt.Sprint(len(ip)), fields[1])
	assert.True(t, strings.HasPrefix(fields[2], "\"45 00"), fields[2])
}

func TestOpenLogKeepsExistingLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "malformed.csv")
	require.NoError(t, os.WriteFile(path, []byte(LogHeader+"old,1,\"00\"\n"), 0o644))

	lg, err := OpenLog(path)
	require.NoError(t, err)
	require.NoError(t, lg.Append(testutil.Packet([]byte{0xab}, time.Unix(0, 0))))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, LogHeader+"old,1,\"00\"\n1970-01-01T00:00:00.000000Z,1,\"ab\"\n", string(data))
}

func TestConcurrentAppendsDoNotInterleave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "malformed.csv")
	lg, err := OpenLog(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				data := []byte(fmt.Sprintf("goroutine-%d-packet-%02d", g, i))
				assert.NoError(t, lg.Append(testutil.Packet(data, time.Unix(1700000000, 0))))
			}
		}(g)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 41)
	for _, l := range lines[1:] {
		assert.Len(t, strings.Split(l, ","), 3)
		assert.True(t, strings.HasSuffix(l, "\""))
	}
}
