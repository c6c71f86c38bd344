package main

import (
	"Go2NetGuard/internal/capture"
	"Go2NetGuard/internal/config"
	"Go2NetGuard/internal/events"
	"Go2NetGuard/internal/factory"
	"Go2NetGuard/internal/filter/ratelimit"
	"Go2NetGuard/internal/netif"
	"Go2NetGuard/pkg/pcap"
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	bpfFilter  string
	localAddrs []string
	limit      int64
)

var rootCmd = &cobra.Command{
	Use:          "pcap-analyzer <file.pcap>",
	Short:        "Replay a capture file through the flow aggregator and filters",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if lvl, err := log.ParseLevel(cfg.Logging.Level); err == nil {
			log.SetLevel(lvl)
		}
		// Replays are bounded by the file, not by the live packet budget.
		cfg.Capture.PacketLimit = limit
		return replay(cfg, args[0])
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the YAML configuration file")
	rootCmd.Flags().StringVarP(&bpfFilter, "filter", "f", "", "BPF expression applied to the replay")
	rootCmd.Flags().StringSliceVar(&localAddrs, "local", nil, "Addresses treated as local by the incoming/outgoing rate-limit modes")
	rootCmd.Flags().Int64VarP(&limit, "count", "n", 0, "Stop after this many packets; 0 replays the whole file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func replay(cfg *config.Config, path string) error {
	local := netif.AddrSet{}
	for _, s := range localAddrs {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return fmt.Errorf("invalid --local address %q: %w", s, err)
		}
		local[addr] = struct{}{}
	}

	// Token buckets follow capture timestamps so the replay sees the
	// recorded inter-arrival times.
	pipeline, err := factory.NewPipeline(cfg, factory.Options{
		Console: events.NewConsole(os.Stdout),
		Local:   local,
		Clock:   ratelimit.PacketClock,
	})
	if err != nil {
		return err
	}
	if _, err := pipeline.Start(); err != nil {
		log.WithError(err).Warn("API server unavailable")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("file", path).Info("Reading packets")
	d := capture.NewDispatcher(capture.Options{
		Open:        pcap.Opener(path),
		Filter:      bpfFilter,
		PacketLimit: cfg.Capture.PacketLimit,
		Handler:     pipeline.HandlePacket,
		OnState:     pipeline.OnState,
	})
	runErr := d.Run(ctx, []netif.Interface{{Name: filepath.Base(path)}})
	pipeline.Stop()
	if runErr != nil {
		return fmt.Errorf("failed to replay %s: %w", path, runErr)
	}
	log.WithField("packets", d.Processed()).Info("Finished reading all packets from pcap file.")
	return nil
}
