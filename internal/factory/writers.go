package factory

import (
	"Go2NetGuard/internal/config"
	"Go2NetGuard/internal/engine/flowaggregator"
	"Go2NetGuard/internal/model"
	"Go2NetGuard/internal/scorer"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"
)

// WriterFactory builds one optional batch writer from the configuration.
type WriterFactory func(cfg *config.Config) (model.Writer, error)

type writerEntry struct {
	enabled func(cfg *config.Config) bool
	build   WriterFactory
}

// registry holds the optional writers by name. The CSV writer is not here;
// the manager always owns it.
var registry = make(map[string]writerEntry)

// RegisterWriter registers an optional writer with its enable check.
func RegisterWriter(name string, enabled func(cfg *config.Config) bool, factory WriterFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("writer type '%s' already registered", name))
	}
	registry[name] = writerEntry{enabled: enabled, build: factory}
}

func init() {
	RegisterWriter("clickhouse",
		func(cfg *config.Config) bool { return cfg.ClickHouse.Enabled },
		func(cfg *config.Config) (model.Writer, error) {
			return flowaggregator.NewClickHouseWriter(cfg.ClickHouse)
		})
	RegisterWriter("scorer",
		func(cfg *config.Config) bool { return cfg.Scorer.Enabled },
		func(cfg *config.Config) (model.Writer, error) {
			return scorer.NewClient(cfg.Scorer)
		})
}

// CreateWriters builds every enabled optional writer in name order. A writer
// that cannot be built is logged and left out; the run goes on without it.
func CreateWriters(cfg *config.Config) []model.Writer {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	var writers []model.Writer
	for _, name := range names {
		entry := registry[name]
		if !entry.enabled(cfg) {
			continue
		}
		w, err := entry.build(cfg)
		if err != nil {
			log.WithField("writer", name).WithError(err).Warn("Writer unavailable, continuing without it")
			continue
		}
		log.WithField("writer", name).Info("Writer enabled")
		writers = append(writers, w)
	}
	return writers
}
