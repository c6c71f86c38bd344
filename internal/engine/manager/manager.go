package manager

import (
	"Go2NetGuard/internal/config"
	"Go2NetGuard/internal/engine/flowaggregator"
	"Go2NetGuard/internal/events"
	"Go2NetGuard/internal/filter"
	"Go2NetGuard/internal/filter/denylist"
	"Go2NetGuard/internal/filter/malformed"
	"Go2NetGuard/internal/filter/ratelimit"
	"Go2NetGuard/internal/metrics"
	"Go2NetGuard/internal/model"
	"Go2NetGuard/internal/netif"
	"Go2NetGuard/internal/probe/persistent"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Deps carries what the manager does not build from the configuration.
type Deps struct {
	// RunID identifies this run on every batch; a random one is generated
	// when empty.
	RunID string
	// Console receives drop lines and summary blocks; stdout when nil.
	Console *events.Console
	// Local is the host's IPv4 set used by the rate limiter modes.
	Local netif.AddrSet
	// Clock overrides the rate limiter's time source (replays).
	Clock ratelimit.Clock
	// Notifiers receive every drop event after the console.
	Notifiers []model.Notifier
	// Writers receive every batch after the CSV writer. The manager closes
	// those implementing io.Closer on Stop.
	Writers []model.Writer
	Metrics *metrics.Metrics
}

// Stats is a point-in-time view of the pipeline.
type Stats struct {
	RunID     string            `json:"run_id"`
	StartedAt time.Time         `json:"started_at"`
	Packets   uint64            `json:"packets"`
	Accepted  uint64            `json:"accepted"`
	Dropped   map[string]uint64 `json:"dropped"`
	Flows     int               `json:"flows"`
	Overflow  uint64            `json:"flow_overflow"`
	Batches   int               `json:"batches"`
	Denylist  denylist.Stats    `json:"denylist"`
	RateLimit ratelimit.Stats   `json:"rate_limit"`
	Malformed malformed.Stats   `json:"malformed"`
	Dumped    uint64            `json:"dumped"`
}

// Manager wires the flow aggregator, the filter chain and the batch writers
// together and owns the periodic batch flusher.
type Manager struct {
	runID     string
	startedAt time.Time
	console   *events.Console
	metrics   *metrics.Metrics

	aggregator *flowaggregator.Aggregator
	csv        *flowaggregator.CSVWriter
	writers    []model.Writer

	denylist  *denylist.Filter
	limiter   *ratelimit.Limiter
	validator *malformed.Validator
	chain     *filter.Chain
	dump      *persistent.Worker

	packets  atomic.Uint64
	accepted atomic.Uint64
	dropped  map[model.Stage]*atomic.Uint64

	// Batch flushing resources
	interval  time.Duration
	flushMu   sync.Mutex
	batches   int
	overflow  uint64
	done      chan struct{}
	flusherWg sync.WaitGroup
	stopOnce  sync.Once
}

// NewManager builds the pipeline described by cfg.
func NewManager(cfg *config.Config, deps Deps) (*Manager, error) {
	runID := deps.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	console := deps.Console
	if console == nil {
		console = events.NewConsole(os.Stdout)
	}

	notifiers := model.Notifiers{console}
	if deps.Metrics != nil {
		notifiers = append(notifiers, deps.Metrics)
	}
	notifiers = append(notifiers, deps.Notifiers...)

	rules, err := denylist.Load(cfg.Denylist.IPFile, cfg.Denylist.PortFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load denylist: %w", err)
	}

	limiter := ratelimit.New(cfg.RateLimit, deps.Local, notifiers)
	if deps.Clock != nil {
		limiter.SetClock(deps.Clock)
	}

	var mlog *malformed.Log
	if cfg.Malformed.LogPath != "" {
		mlog, err = malformed.OpenLog(cfg.Malformed.LogPath)
		if err != nil {
			log.WithError(err).Warn("Malformed log unavailable, continuing without it")
			mlog = nil
		}
	}

	var dump *persistent.Worker
	if cfg.Malformed.PcapPath != "" {
		dump, err = persistent.NewWorker(cfg.Malformed.PcapPath, uint32(cfg.Capture.SnapshotLen))
		if err != nil {
			log.WithError(err).Warn("Rejected-packet dump unavailable, continuing without it")
			dump = nil
		}
	}

	m := &Manager{
		runID:      runID,
		startedAt:  time.Now(),
		console:    console,
		metrics:    deps.Metrics,
		aggregator: flowaggregator.New(cfg.Aggregator),
		denylist:   denylist.New(rules, notifiers),
		limiter:    limiter,
		validator:  malformed.New(cfg.Malformed, mlog, notifiers),
		dump:       dump,
		interval:   cfg.Aggregator.Interval(),
		done:       make(chan struct{}),
		dropped: map[model.Stage]*atomic.Uint64{
			model.StageDenylist:  {},
			model.StageRateLimit: {},
			model.StageMalformed: {},
		},
	}
	if cfg.Aggregator.CSVPath != "" {
		m.csv = flowaggregator.NewCSVWriter(cfg.Aggregator.CSVPath)
		m.writers = append(m.writers, m.csv)
	}
	m.writers = append(m.writers, deps.Writers...)
	m.chain = filter.NewChain(m.denylist, m.limiter, m.validator)

	log.WithFields(log.Fields{
		"run_id":        runID,
		"blocked_ips":   len(rules.IPs),
		"blocked_ports": len(rules.Ports),
		"writers":       len(m.writers),
	}).Info("Pipeline ready")
	return m, nil
}

// RunID returns the identifier stamped on every batch.
func (m *Manager) RunID() string { return m.runID }

// HandlePacket runs one packet through the pipeline. It is called on the
// capturing goroutine and is safe for concurrent use. Aggregation happens
// before filtering, so every packet is counted in its flow whatever the
// verdict.
func (m *Manager) HandlePacket(pkt *model.Packet) model.Outcome {
	m.packets.Add(1)
	m.aggregator.Record(pkt)

	out := m.chain.Evaluate(pkt)
	if out.Accepted {
		m.accepted.Add(1)
	} else if c, ok := m.dropped[out.Stage]; ok {
		c.Add(1)
	}

	if m.metrics != nil {
		m.metrics.PacketsProcessed.Inc()
		m.metrics.BytesProcessed.Add(float64(pkt.Length))
		if out.Accepted {
			m.metrics.PacketsAccepted.Inc()
		}
	}
	if out.Stage == model.StageMalformed && m.dump != nil {
		m.dump.Enqueue(pkt)
	}
	return out
}

// Start launches the periodic batch flusher when an interval is configured.
func (m *Manager) Start() {
	if m.interval <= 0 {
		return
	}
	m.flusherWg.Add(1)
	go m.runFlusher()
	log.WithField("interval", m.interval).Info("Started batch flusher")
}

func (m *Manager) runFlusher() {
	defer m.flusherWg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b := m.Flush()
			m.console.Block(func(w io.Writer) { m.writeSummary(w, b) })
		case <-m.done:
			return
		}
	}
}

// Flush finalizes the flow table into a new batch and hands it to every
// writer. Writer failures are logged; the batch is returned regardless.
func (m *Manager) Flush() *model.Batch {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.batches++
	b := &model.Batch{
		RunID:     m.runID,
		Seq:       m.batches,
		Timestamp: time.Now(),
		Rows:      m.aggregator.Finalize(),
	}

	for _, w := range m.writers {
		if err := w.Write(b); err != nil {
			log.WithFields(log.Fields{"writer": w.Name(), "batch": b.Seq}).WithError(err).Error("Failed to write batch")
			if m.metrics != nil {
				m.metrics.WriterErrors.WithLabelValues(w.Name()).Inc()
			}
		}
	}
	if m.metrics != nil {
		m.metrics.ObserveBatch(b)
		m.metrics.FlowsActive.Set(0)
		ov := m.aggregator.Overflow()
		m.metrics.FlowOverflow.Add(float64(ov - m.overflow))
		m.overflow = ov
	}
	log.WithFields(log.Fields{"batch": b.Seq, "flows": len(b.Rows), "packets": b.TotalPackets()}).Debug("Batch flushed")
	return b
}

func (m *Manager) writeSummary(w io.Writer, b *model.Batch) {
	path := ""
	if m.csv != nil {
		path = m.csv.Path()
	}
	flowaggregator.WriteSummary(w, b, path)
}

// Stop halts the flusher, writes the final batch and prints the end-of-run
// reports. Packets must no longer be handed in once Stop is called.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		log.Info("Manager stopping...")
		close(m.done)
		m.flusherWg.Wait()

		b := m.Flush()
		m.console.Block(func(w io.Writer) {
			m.writeSummary(w, b)
			fmt.Fprintln(w)
			m.chain.Report(w)
		})

		if m.dump != nil {
			if err := m.dump.Stop(); err != nil {
				log.WithError(err).Warn("Failed to close rejected-packet dump")
			}
		}
		for _, w := range m.writers {
			if c, ok := w.(io.Closer); ok {
				if err := c.Close(); err != nil {
					log.WithField("writer", w.Name()).WithError(err).Warn("Failed to close writer")
				}
			}
		}
		log.Info("Manager stopped.")
	})
}

// Stats returns a snapshot of the pipeline counters.
func (m *Manager) Stats() Stats {
	s := Stats{
		RunID:     m.runID,
		StartedAt: m.startedAt,
		Packets:   m.packets.Load(),
		Accepted:  m.accepted.Load(),
		Dropped:   make(map[string]uint64, len(m.dropped)),
		Flows:     m.aggregator.FlowCount(),
		Overflow:  m.aggregator.Overflow(),
		Denylist:  m.denylist.Stats(),
		RateLimit: m.limiter.Stats(),
		Malformed: m.validator.Stats(),
	}
	for stage, c := range m.dropped {
		s.Dropped[string(stage)] = c.Load()
	}
	m.flushMu.Lock()
	s.Batches = m.batches
	m.flushMu.Unlock()
	if m.dump != nil {
		s.Dumped = m.dump.Written()
	}
	if m.metrics != nil {
		m.metrics.FlowsActive.Set(float64(s.Flows))
	}
	return s
}
