package netif

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var devices = []Interface{
	{Name: "eth0"},
	{Name: "lo", Loopback: true},
	{Name: "any"},
	{Name: "bluetooth-monitor"},
	{Name: "dbus-system"},
	{Name: "nflog"},
	{Name: "nfqueue"},
	{Name: "usbmon1"},
	{Name: "wlan0"},
}

func defaultOpts() Options {
	return Options{
		SkipPatterns: []string{"bluetooth", "dbus", "nflog", "nfqueue", "usbmon"},
		ExcludeAny:   true,
	}
}

func names(ifaces []Interface) []string {
	var out []string
	for _, i := range ifaces {
		out = append(out, i.Name)
	}
	return out
}

func TestSelectExcludesPseudoDevices(t *testing.T) {
	assert.Equal(t, []string{"eth0", "lo", "wlan0"}, names(Select(devices, defaultOpts())))
}

func TestSelectNamedInterfaceBypassesExclusions(t *testing.T) {
	opts := defaultOpts()
	opts.Name = "any"
	assert.Equal(t, []string{"any"}, names(Select(devices, opts)))

	opts.Name = "missing0"
	assert.Empty(t, Select(devices, opts))
}

func TestAddrSet(t *testing.T) {
	set := NewAddrSet(
		netip.MustParseAddr("10.0.0.2"),
		netip.MustParseAddr("::ffff:10.0.0.1"),
		netip.MustParseAddr("fe80::1"),
	)
	require.Len(t, set, 2)
	assert.True(t, set.Contains(netip.MustParseAddr("10.0.0.1")))
	assert.False(t, set.Contains(netip.MustParseAddr("10.0.0.3")))
	assert.False(t, AddrSet(nil).Contains(netip.MustParseAddr("10.0.0.1")))
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), set.Sorted()[0])
}

func TestBuildDstFilter(t *testing.T) {
	assert.Equal(t, "", BuildDstFilter(nil))
	set := NewAddrSet(netip.MustParseAddr("192.168.1.10"), netip.MustParseAddr("127.0.0.1"))
	assert.Equal(t, "dst host 127.0.0.1 or dst host 192.168.1.10", BuildDstFilter(set))
}

func TestCollectLocalIPv4(t *testing.T) {
	set, err := CollectLocalIPv4()
	require.NoError(t, err)
	for a := range set {
		assert.True(t, a.Is4())
	}
}
