// Package capture runs one receive loop per interface and feeds every frame
// to a single packet handler until a packet budget is spent or a stop is
// requested.
package capture

import (
	"Go2NetGuard/internal/engine/protocol"
	"Go2NetGuard/internal/model"
	"Go2NetGuard/internal/netif"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// ErrNoHandles is returned by Run when no interface could be opened.
var ErrNoHandles = errors.New("no capture handle could be opened")

// State is the lifecycle position of one interface loop.
type State int32

const (
	StateIdle State = iota
	StateOpening
	StateCapturing
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateCapturing:
		return "capturing"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler processes one packet on the capturing goroutine.
type Handler func(pkt *model.Packet)

// Options configure a Dispatcher.
type Options struct {
	Open Opener
	// Filter is the BPF expression applied to every handle; empty captures
	// everything.
	Filter string
	// PacketLimit stops the run after that many packets; <= 0 is unlimited.
	PacketLimit int64
	Handler     Handler
	// OnState, when set, observes every interface state transition.
	OnState func(iface string, s State)
}

// Dispatcher owns the capture handles of one run.
type Dispatcher struct {
	opts   Options
	budget *Budget

	stopping atomic.Bool
	stopOnce sync.Once
	stopped  chan struct{}

	mu     sync.Mutex
	states map[string]State
}

// NewDispatcher creates a dispatcher; Run starts it.
func NewDispatcher(opts Options) *Dispatcher {
	return &Dispatcher{
		opts:    opts,
		budget:  NewBudget(opts.PacketLimit),
		stopped: make(chan struct{}),
		states:  make(map[string]State),
	}
}

// Run captures on every interface until each loop is closed. It returns
// ErrNoHandles when none of the interfaces could be opened, and nil
// otherwise, including after a stop request.
func (d *Dispatcher) Run(ctx context.Context, ifaces []netif.Interface) error {
	for _, iface := range ifaces {
		d.setState(iface.Name, StateIdle)
	}
	log.WithFields(log.Fields{"interfaces": len(ifaces), "packet_limit": d.budget.Limit()}).Debug("Dispatcher running")

	go func() {
		select {
		case <-ctx.Done():
			d.Stop()
		case <-d.stopped:
		}
	}()

	var wg sync.WaitGroup
	var opened atomic.Int32
	for _, iface := range ifaces {
		wg.Add(1)
		go func(iface netif.Interface) {
			defer wg.Done()
			if d.capture(iface) {
				opened.Add(1)
			}
		}(iface)
	}
	wg.Wait()
	d.Stop()

	if opened.Load() == 0 {
		return ErrNoHandles
	}
	return nil
}

// capture drives one interface through its states and reports whether a
// handle was opened.
func (d *Dispatcher) capture(iface netif.Interface) bool {
	logger := log.WithField("iface", iface.Name)
	defer d.setState(iface.Name, StateClosed)

	d.setState(iface.Name, StateOpening)
	src, err := d.opts.Open(iface)
	if err != nil {
		logger.WithError(err).Warn("Skipping interface that failed to open")
		return false
	}
	defer src.Close()

	lt := src.LinkType()
	if !protocol.SupportedLinkType(lt) {
		logger.WithField("linktype", lt.String()).Warn("Skipping interface with unsupported link type")
		return false
	}
	if d.opts.Filter != "" {
		if setter, ok := src.(BPFSetter); ok {
			if err := setter.SetBPFFilter(d.opts.Filter); err != nil {
				logger.WithError(err).Warn("Capture filter rejected, capturing unfiltered")
			}
		}
	}

	d.setState(iface.Name, StateCapturing)
	logger.WithField("linktype", lt.String()).Info("Capture started")

	for !d.stopping.Load() {
		data, ci, err := src.ReadPacketData()
		if errors.Is(err, ErrPollTimeout) {
			continue
		}
		if err == io.EOF {
			logger.Debug("End of capture input")
			break
		}
		if err != nil {
			logger.WithError(err).Warn("Capture read failed, closing interface")
			break
		}

		claimed, last := d.budget.Claim()
		if !claimed {
			break
		}
		pkt := model.NewPacket(ci.Timestamp, iface.Name, data, ci.Length)
		if frame, _ := protocol.Normalize(lt, data); frame != nil {
			pkt.Reframe(frame)
		}
		d.opts.Handler(pkt)
		if last {
			logger.WithField("packets", d.budget.Count()).Info("Packet budget reached, stopping capture")
			d.Stop()
		}
	}

	d.setState(iface.Name, StateDraining)
	return true
}

// Stop asks every loop to exit. Loops notice within one poll interval.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.stopping.Store(true)
		close(d.stopped)
	})
}

// Stopping reports whether a stop was requested.
func (d *Dispatcher) Stopping() bool {
	return d.stopping.Load()
}

// Processed returns the number of packets handed to the handler.
func (d *Dispatcher) Processed() int64 {
	return d.budget.Count()
}

// States returns a copy of every interface's current state.
func (d *Dispatcher) States() map[string]State {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]State, len(d.states))
	for k, v := range d.states {
		out[k] = v
	}
	return out
}

func (d *Dispatcher) setState(name string, s State) {
	d.mu.Lock()
	d.states[name] = s
	d.mu.Unlock()
	if d.opts.OnState != nil {
		d.opts.OnState(name, s)
	}
}
