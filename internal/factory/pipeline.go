// Package factory assembles the packet pipeline and its optional outputs
// from the configuration.
package factory

import (
	"Go2NetGuard/internal/api"
	"Go2NetGuard/internal/capture"
	"Go2NetGuard/internal/config"
	"Go2NetGuard/internal/engine/manager"
	"Go2NetGuard/internal/events"
	"Go2NetGuard/internal/filter/ratelimit"
	"Go2NetGuard/internal/metrics"
	"Go2NetGuard/internal/model"
	"Go2NetGuard/internal/netif"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Options carries the run-specific inputs of NewPipeline.
type Options struct {
	Console *events.Console
	Local   netif.AddrSet
	Clock   ratelimit.Clock
}

// InterfaceStatus describes one capture device in the status document.
type InterfaceStatus struct {
	State       string   `json:"state"`
	Description string   `json:"description,omitempty"`
	Addresses   []string `json:"addresses,omitempty"`
	Loopback    bool     `json:"loopback"`
}

// Status is the document served on /api/v1/stats.
type Status struct {
	manager.Stats
	Interfaces      map[string]InterfaceStatus `json:"interfaces,omitempty"`
	PublishFailures uint64                     `json:"publish_failures"`
}

// Pipeline bundles the manager with metrics, event publication and the
// status server.
type Pipeline struct {
	Manager *manager.Manager
	Metrics *metrics.Metrics

	publisher *events.Publisher
	api       *api.Server

	mu      sync.Mutex
	states  map[string]capture.State
	devices map[string]netif.Interface
}

// NewPipeline builds every component enabled by cfg.
func NewPipeline(cfg *config.Config, opts Options) (*Pipeline, error) {
	runID := uuid.NewString()
	p := &Pipeline{
		Metrics: metrics.NewMetrics(),
		states:  make(map[string]capture.State),
		devices: make(map[string]netif.Interface),
	}

	var notifiers []model.Notifier
	if cfg.Events.NATSURL != "" {
		pub, err := events.NewPublisher(cfg.Events, runID)
		if err != nil {
			log.WithError(err).Warn("Event publication unavailable, continuing without it")
		} else {
			p.publisher = pub
			notifiers = append(notifiers, pub)
		}
	}

	m, err := manager.NewManager(cfg, manager.Deps{
		RunID:     runID,
		Console:   opts.Console,
		Local:     opts.Local,
		Clock:     opts.Clock,
		Notifiers: notifiers,
		Writers:   CreateWriters(cfg),
		Metrics:   p.Metrics,
	})
	if err != nil {
		if p.publisher != nil {
			p.publisher.Close()
		}
		return nil, fmt.Errorf("failed to create manager: %w", err)
	}
	p.Manager = m

	if cfg.API.ListenAddr != "" {
		p.api = api.NewServer(cfg.API.ListenAddr, func() interface{} { return p.Status() }, p.Metrics.Registry())
	}
	return p, nil
}

// Start launches the batch flusher and the status server. It returns the
// bound API address, empty when the server is disabled.
func (p *Pipeline) Start() (string, error) {
	p.Manager.Start()
	if p.api == nil {
		return "", nil
	}
	return p.api.Start()
}

// HandlePacket is the capture handler.
func (p *Pipeline) HandlePacket(pkt *model.Packet) {
	p.Manager.HandlePacket(pkt)
}

// Track registers the devices about to be captured on, so the status
// document can describe them.
func (p *Pipeline) Track(ifaces []netif.Interface) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, iface := range ifaces {
		p.devices[iface.Name] = iface
		if _, ok := p.states[iface.Name]; !ok {
			p.states[iface.Name] = capture.StateIdle
		}
	}
}

// OnState records interface state transitions for the status document and
// the interface gauge.
func (p *Pipeline) OnState(iface string, s capture.State) {
	p.mu.Lock()
	p.states[iface] = s
	p.mu.Unlock()
	p.Metrics.Interfaces.WithLabelValues(iface).Set(float64(s))
}

// Status returns the current status document.
func (p *Pipeline) Status() Status {
	st := Status{Stats: p.Manager.Stats()}
	p.mu.Lock()
	if len(p.states) > 0 {
		st.Interfaces = make(map[string]InterfaceStatus, len(p.states))
		for name, s := range p.states {
			is := InterfaceStatus{State: s.String()}
			if dev, ok := p.devices[name]; ok {
				is.Description = dev.Description
				is.Loopback = dev.Loopback
				for _, a := range dev.Addresses {
					is.Addresses = append(is.Addresses, a.String())
				}
			}
			st.Interfaces[name] = is
		}
	}
	p.mu.Unlock()
	if p.publisher != nil {
		st.PublishFailures = p.publisher.Failed()
	}
	return st
}

// Stop flushes the final batch, prints the reports and releases every
// output. Capture must have ended before Stop is called.
func (p *Pipeline) Stop() {
	p.Manager.Stop()
	if p.api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.api.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("API server forced to shutdown")
		}
	}
	if p.publisher != nil {
		p.publisher.Close()
	}
}
