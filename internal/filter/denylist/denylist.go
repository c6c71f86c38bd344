// Package denylist drops packets whose address or destination port appears
// in the operator's block lists.
package denylist

import (
	"Go2NetGuard/internal/engine/protocol"
	"Go2NetGuard/internal/filter"
	"Go2NetGuard/internal/model"
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Rules holds the two block sets. It is immutable once loaded.
type Rules struct {
	IPs   map[netip.Addr]struct{}
	Ports map[uint16]struct{}
}

// Stats is a snapshot of the filter's counters.
type Stats struct {
	BlockedIPs   int    `json:"blocked_ips"`
	BlockedPorts int    `json:"blocked_ports"`
	Allowed      uint64 `json:"allowed"`
	DroppedIP    uint64 `json:"dropped_ip"`
	DroppedPort  uint64 `json:"dropped_port"`
}

// Filter is the denylist stage.
type Filter struct {
	rules    Rules
	notifier model.Notifier

	allowed     atomic.Uint64
	droppedIP   atomic.Uint64
	droppedPort atomic.Uint64
}

// New creates a filter over already loaded rules.
func New(rules Rules, notifier model.Notifier) *Filter {
	if rules.IPs == nil {
		rules.IPs = map[netip.Addr]struct{}{}
	}
	if rules.Ports == nil {
		rules.Ports = map[uint16]struct{}{}
	}
	return &Filter{rules: rules, notifier: notifier}
}

// Load reads both lists. A missing file yields an empty set and a warning;
// any other read error is returned.
func Load(ipFile, portFile string) (Rules, error) {
	rules := Rules{IPs: map[netip.Addr]struct{}{}, Ports: map[uint16]struct{}{}}

	err := readLines(ipFile, func(line string) {
		addr, err := netip.ParseAddr(line)
		if err != nil || !addr.Is4() {
			log.WithField("line", line).Debug("Skipping invalid denylist address")
			return
		}
		rules.IPs[addr] = struct{}{}
	})
	if err != nil {
		return rules, err
	}

	err = readLines(portFile, func(line string) {
		port, err := strconv.Atoi(line)
		if err != nil || port < 1 || port > 65535 {
			return
		}
		rules.Ports[uint16(port)] = struct{}{}
	})
	if err != nil {
		return rules, err
	}

	log.WithFields(log.Fields{"ips": len(rules.IPs), "ports": len(rules.Ports)}).Info("Loaded denylist")
	return rules, nil
}

func readLines(path string, fn func(string)) error {
	fh, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.WithField("path", path).Warn("Denylist file not found, nothing loaded from it")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open denylist %s: %w", path, err)
	}
	defer fh.Close()

	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fn(line)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read denylist %s: %w", path, err)
	}
	return nil
}

// Stage implements filter.Filter.
func (f *Filter) Stage() model.Stage { return model.StageDenylist }

// Permit drops packets whose source or destination address is blocked, or
// whose destination port is blocked. Non-IPv4 frames and frames whose IP
// header cannot be read are passed on.
func (f *Filter) Permit(pkt *model.Packet) bool {
	fr, err := protocol.Decode(pkt.Data)
	if err != nil && !fr.Src.IsValid() {
		f.allowed.Add(1)
		return true
	}

	_, srcBlocked := f.rules.IPs[fr.Src]
	_, dstBlocked := f.rules.IPs[fr.Dst]
	if srcBlocked || dstBlocked {
		f.droppedIP.Add(1)
		filter.Notify(f.notifier, filter.NewEvent(model.StageDenylist, pkt, fr, model.ReasonDenyIP))
		return false
	}

	if fr.DstPort != 0 {
		if _, ok := f.rules.Ports[fr.DstPort]; ok {
			f.droppedPort.Add(1)
			filter.Notify(f.notifier, filter.NewEvent(model.StageDenylist, pkt, fr, model.ReasonDenyPort))
			return false
		}
	}
	f.allowed.Add(1)
	return true
}

// Stats returns the current counters.
func (f *Filter) Stats() Stats {
	return Stats{
		BlockedIPs:   len(f.rules.IPs),
		BlockedPorts: len(f.rules.Ports),
		Allowed:      f.allowed.Load(),
		DroppedIP:    f.droppedIP.Load(),
		DroppedPort:  f.droppedPort.Load(),
	}
}

// Report implements filter.Filter.
func (f *Filter) Report(w io.Writer) {
	s := f.Stats()
	fmt.Fprintf(w, "\n📊 [DENYLIST STATISTICS]\n")
	fmt.Fprintf(w, "   Allowed: %d packets\n", s.Allowed)
	fmt.Fprintf(w, "   Blocked by IP: %d packets\n", s.DroppedIP)
	fmt.Fprintf(w, "   Blocked by Port: %d packets\n", s.DroppedPort)
	fmt.Fprintf(w, "   Total blocked: %d packets\n", s.DroppedIP+s.DroppedPort)
}
