package denylist

import (
	"Go2NetGuard/internal/model"
	"Go2NetGuard/internal/testutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []*model.DropEvent
}

func (r *recorder) Notify(ev *model.DropEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func writeLists(t *testing.T, ips, ports string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	ipFile := filepath.Join(dir, "IP.txt")
	portFile := filepath.Join(dir, "Ports.txt")
	require.NoError(t, os.WriteFile(ipFile, []byte(ips), 0o644))
	require.NoError(t, os.WriteFile(portFile, []byte(ports), 0o644))
	return ipFile, portFile
}

func load(t *testing.T, ips, ports string) Rules {
	t.Helper()
	rules, err := Load(writeLists(t, ips, ports))
	require.NoError(t, err)
	return rules
}

func pkt(data []byte) *model.Packet {
	return testutil.Packet(data, time.Unix(1700000000, 0))
}

func TestLoadSkipsBlankAndInvalidLines(t *testing.T) {
	rules := load(t, "  10.0.0.9  \n\nnot-an-ip\n::1\n192.168.1.1\n", "22\n 80 \nabc\n0\n65536\n-1\n443\n")
	assert.Len(t, rules.IPs, 2)
	assert.Len(t, rules.Ports, 3)
	assert.Contains(t, rules.Ports, uint16(80))
}

func TestLoadMissingFilesIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	rules, err := Load(filepath.Join(dir, "IP.txt"), filepath.Join(dir, "Ports.txt"))
	require.NoError(t, err)
	assert.Empty(t, rules.IPs)
	assert.Empty(t, rules.Ports)

	f := New(rules, nil)
	assert.True(t, f.Permit(pkt(testutil.SYN(t, "10.0.0.5", "10.0.0.1", 40000, 22))))
}

func TestDenyIPMatchesEitherEndpoint(t *testing.T) {
	rec := &recorder{}
	f := New(load(t, "10.0.0.9\n", ""), rec)

	assert.False(t, f.Permit(pkt(testutil.SYN(t, "10.0.0.9", "10.0.0.1", 40000, 22))))
	assert.False(t, f.Permit(pkt(testutil.UDPFrame(t, "10.0.0.1", "10.0.0.9", 53, 5353, nil))))
	assert.False(t, f.Permit(pkt(testutil.ICMPEcho(t, "10.0.0.9", "10.0.0.1", false))))
	assert.True(t, f.Permit(pkt(testutil.SYN(t, "10.0.0.5", "10.0.0.1", 40000, 22))))

	require.Len(t, rec.events, 3)
	for _, ev := range rec.events {
		assert.Equal(t, model.ReasonDenyIP, ev.Reason)
		assert.Equal(t, model.StageDenylist, ev.Stage)
	}
	assert.Equal(t, "ICMP", rec.events[2].Protocol)
	assert.Equal(t, uint64(3), f.Stats().DroppedIP)

	// a fresh load without the address restores pass-through
	f = New(load(t, "10.0.0.8\n", ""), rec)
	assert.True(t, f.Permit(pkt(testutil.SYN(t, "10.0.0.9", "10.0.0.1", 40000, 22))))
}

func TestDenyPortOnlyMatchesDestination(t *testing.T) {
	rec := &recorder{}
	f := New(load(t, "", "22\n"), rec)

	assert.False(t, f.Permit(pkt(testutil.SYN(t, "10.0.0.5", "10.0.0.1", 40000, 22))))
	assert.True(t, f.Permit(pkt(testutil.SYN(t, "10.0.0.1", "10.0.0.5", 22, 40000))))
	require.Len(t, rec.events, 1)
	assert.Equal(t, model.ReasonDenyPort, rec.events[0].Reason)
	assert.Equal(t, uint64(1), f.Stats().DroppedPort)
}

func TestNonIPv4PassesThrough(t *testing.T) {
	f := New(load(t, "10.0.0.1\n", "1\n"), nil)
	assert.True(t, f.Permit(pkt(testutil.ARPFrame(t))))
	assert.True(t, f.Permit(pkt([]byte{0x01})))
}

func TestBlockedSourceWithBrokenIPHeaderIsDropped(t *testing.T) {
	f := New(load(t, "10.0.0.9\n", ""), nil)
	bad := testutil.SYN(t, "10.0.0.9", "10.0.0.1", 40000, 80)
	bad[14] = 0x44 // IHL of 4 words
	assert.False(t, f.Permit(pkt(bad)))
	assert.EqualValues(t, 1, f.Stats().DroppedIP)
}

func TestReport(t *testing.T) {
	f := New(load(t, "10.0.0.9\n", "22\n"), nil)
	f.Permit(pkt(testutil.SYN(t, "10.0.0.9", "10.0.0.1", 40000, 80)))
	f.Permit(pkt(testutil.SYN(t, "10.0.0.5", "10.0.0.1", 40000, 22)))
	f.Permit(pkt(testutil.SYN(t, "10.0.0.5", "10.0.0.1", 40001, 22)))
	f.Permit(pkt(testutil.SYN(t, "10.0.0.5", "10.0.0.1", 40002, 443)))
	f.Permit(pkt(testutil.ARPFrame(t)))
	assert.EqualValues(t, 2, f.Stats().Allowed)

	var sb strings.Builder
	f.Report(&sb)
	assert.Contains(t, sb.String(), "[DENYLIST STATISTICS]")
	assert.Contains(t, sb.String(), "Allowed: 2 packets")
	assert.Contains(t, sb.String(), "Blocked by IP: 1 packets")
	assert.Contains(t, sb.String(), "Blocked by Port: 2 packets")
	assert.Contains(t, sb.String(), "Total blocked: 3 packets")
}
