// Package netif discovers capture-capable interfaces and the host's local
// IPv4 addresses.
package netif

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strings"

	"github.com/google/gopacket/pcap"
	log "github.com/sirupsen/logrus"
)

// ErrNoInterfaces is returned when nothing can be captured on.
var ErrNoInterfaces = errors.New("no capture-capable interface found")

// Interface describes one capture device.
type Interface struct {
	Name        string
	Description string
	Addresses   []netip.Addr
	Loopback    bool
}

// Options control which devices are eligible when no single interface is
// requested.
type Options struct {
	// Name selects exactly one interface, bypassing every exclusion.
	Name string
	// SkipPatterns are substrings of device names producing non-IP or
	// synthetic traffic.
	SkipPatterns []string
	// ExcludeAny drops the aggregating "any" pseudo-device.
	ExcludeAny bool
}

// ListInterfaces returns the eligible capture devices in the order libpcap
// reports them.
func ListInterfaces(opts Options) ([]Interface, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("failed to list capture devices: %w", err)
	}
	all := make([]Interface, 0, len(devs))
	for _, d := range devs {
		all = append(all, fromPcap(d))
	}
	selected := Select(all, opts)
	if len(selected) == 0 {
		if opts.Name != "" {
			return nil, fmt.Errorf("%w: %q not present", ErrNoInterfaces, opts.Name)
		}
		return nil, ErrNoInterfaces
	}
	return selected, nil
}

func fromPcap(d pcap.Interface) Interface {
	iface := Interface{
		Name:        d.Name,
		Description: d.Description,
		// PCAP_IF_LOOPBACK
		Loopback: d.Flags&0x1 != 0,
	}
	for _, a := range d.Addresses {
		if addr, ok := netip.AddrFromSlice(a.IP); ok {
			iface.Addresses = append(iface.Addresses, addr.Unmap())
		}
	}
	return iface
}

// Select applies the naming and exclusion rules to a device list.
func Select(all []Interface, opts Options) []Interface {
	if opts.Name != "" {
		for _, iface := range all {
			if iface.Name == opts.Name {
				return []Interface{iface}
			}
		}
		return nil
	}
	var out []Interface
	for _, iface := range all {
		if skipped(iface.Name, opts) {
			log.WithField("iface", iface.Name).Debug("Skipping pseudo interface")
			continue
		}
		out = append(out, iface)
	}
	return out
}

func skipped(name string, opts Options) bool {
	if opts.ExcludeAny && name == "any" {
		return true
	}
	lower := strings.ToLower(name)
	for _, p := range opts.SkipPatterns {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// AddrSet is a set of IPv4 addresses.
type AddrSet map[netip.Addr]struct{}

// NewAddrSet builds a set from the IPv4 members of addrs.
func NewAddrSet(addrs ...netip.Addr) AddrSet {
	s := make(AddrSet, len(addrs))
	for _, a := range addrs {
		a = a.Unmap()
		if a.Is4() {
			s[a] = struct{}{}
		}
	}
	return s
}

// Contains reports whether a is in the set. A nil set contains nothing.
func (s AddrSet) Contains(a netip.Addr) bool {
	_, ok := s[a]
	return ok
}

// Sorted returns the members in ascending order.
func (s AddrSet) Sorted() []netip.Addr {
	out := make([]netip.Addr, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// CollectLocalIPv4 enumerates every IPv4 address bound to a local
// interface, loopback included. An empty set is not an error.
func CollectLocalIPv4() (AddrSet, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("failed to list interface addresses: %w", err)
	}
	set := AddrSet{}
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if addr, ok := netip.AddrFromSlice(ip); ok {
			addr = addr.Unmap()
			if addr.Is4() {
				set[addr] = struct{}{}
			}
		}
	}
	return set, nil
}

// BuildDstFilter returns a BPF expression matching packets destined to any
// address in set, or "" when the set is empty and no filter should be
// applied.
func BuildDstFilter(set AddrSet) string {
	if len(set) == 0 {
		return ""
	}
	parts := make([]string, 0, len(set))
	for _, a := range set.Sorted() {
		parts = append(parts, "dst host "+a.String())
	}
	return strings.Join(parts, " or ")
}
