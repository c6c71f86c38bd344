package events

import (
	"Go2NetGuard/internal/config"
	"Go2NetGuard/internal/model"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

// Publisher is responsible for publishing drop events to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
	runID   string
	failed  atomic.Uint64
}

// NewPublisher connects to the configured NATS server. Every event is
// stamped with runID.
func NewPublisher(cfg config.EventsConfig, runID string) (*Publisher, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("ns-guard"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.WithField("url", cfg.NATSURL).Info("Connected to NATS server")
	return &Publisher{nc: nc, subject: cfg.Subject, runID: runID}, nil
}

// Notify implements model.Notifier. Publication failures are counted and
// never block capture.
func (p *Publisher) Notify(ev *model.DropEvent) {
	if err := p.Publish(ev); err != nil {
		if p.failed.Add(1) == 1 {
			log.WithError(err).Warn("Failed to publish drop event")
		}
	}
}

// Publish serializes a drop event to Protobuf and publishes it to the
// configured NATS subject.
func (p *Publisher) Publish(ev *model.DropEvent) error {
	stamped := *ev
	if stamped.RunID == "" {
		stamped.RunID = p.runID
	}
	data, err := Encode(&stamped)
	if err != nil {
		return err
	}
	return p.nc.Publish(p.subject, data)
}

// Failed returns the number of events that could not be published.
func (p *Publisher) Failed() uint64 {
	return p.failed.Load()
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		log.Debug("NATS connection drained and closed")
	}
}
