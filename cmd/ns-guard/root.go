package main

import (
	"Go2NetGuard/internal/capture"
	"Go2NetGuard/internal/config"
	"Go2NetGuard/internal/events"
	"Go2NetGuard/internal/factory"
	"Go2NetGuard/internal/netif"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	configPath  string
	ifaceName   string
	packetLimit int64
	rate        float64
	burst       int
	mode        string
	apiAddr     string
	logLevel    string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ns-guard",
	Short: "Capture traffic, aggregate flows and drop denylisted, flooding or malformed packets",
	Long: `ns-guard captures packets on one or every eligible interface, aggregates
them into bidirectional flow records and runs each packet through the
denylist, SYN rate-limit and malformed-packet filters. Drops are narrated on
stdout; the flow summary CSV is written when the run ends.

Examples:
  ns-guard                      # all eligible interfaces, stop after 50 packets
  ns-guard -i eth0 -n 0         # eth0 until interrupted
  ns-guard --rate 5 --burst 10  # looser SYN budget
  ns-guard watch                # tail drop events published over NATS
`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadOrDefault(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		applyFlags(cmd.Flags(), cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		return setupLogging(cfg.Logging.Level)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCapture(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Diagnostic log level (debug, info, warn, error)")

	rootCmd.Flags().StringVarP(&ifaceName, "interface", "i", "", "Capture on this interface only (default: every eligible interface)")
	rootCmd.Flags().Int64VarP(&packetLimit, "count", "n", 0, "Stop after this many packets; 0 runs until interrupted (default from config: 50)")
	rootCmd.Flags().Float64Var(&rate, "rate", 0, "SYN tokens refilled per second per source")
	rootCmd.Flags().IntVar(&burst, "burst", 0, "SYN bucket capacity per source")
	rootCmd.Flags().StringVar(&mode, "mode", "", "Rate-limit direction: incoming, outgoing or both")
	rootCmd.Flags().StringVar(&apiAddr, "api", "", "Serve status and metrics on this address (e.g. :9100)")

	rootCmd.AddCommand(watchCmd)
}

// applyFlags overrides config values with the flags set on the command line.
func applyFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("interface") {
		cfg.Capture.Interface = ifaceName
	}
	if flags.Changed("count") {
		cfg.Capture.PacketLimit = packetLimit
	}
	if flags.Changed("rate") {
		cfg.RateLimit.Rate = rate
	}
	if flags.Changed("burst") {
		cfg.RateLimit.Burst = burst
	}
	if flags.Changed("mode") {
		cfg.RateLimit.Mode = mode
	}
	if flags.Changed("api") {
		cfg.API.ListenAddr = apiAddr
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
}

func setupLogging(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("%w: logging.level: %v", config.ErrInvalid, err)
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stderr)
	return nil
}

func runCapture(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ifaces, err := netif.ListInterfaces(netif.Options{
		Name:         cfg.Capture.Interface,
		SkipPatterns: cfg.Capture.SkipPatterns,
		ExcludeAny:   cfg.Capture.ExcludeAny,
	})
	if err != nil {
		return err
	}

	local, err := netif.CollectLocalIPv4()
	if err != nil {
		log.WithError(err).Warn("Could not enumerate local addresses")
	}
	bpf := netif.BuildDstFilter(local)
	if bpf == "" {
		log.Warn("No local IPv4 addresses found, capturing without a destination filter")
	}

	pipeline, err := factory.NewPipeline(cfg, factory.Options{
		Console: events.NewConsole(os.Stdout),
		Local:   local,
	})
	if err != nil {
		return err
	}
	if addr, err := pipeline.Start(); err != nil {
		log.WithError(err).Warn("API server unavailable")
	} else if addr != "" {
		log.WithField("addr", addr).Info("Serving status and metrics")
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	names := make([]string, len(ifaces))
	for i, iface := range ifaces {
		names[i] = iface.Name
	}
	log.WithFields(log.Fields{
		"interfaces": names,
		"limit":      cfg.Capture.PacketLimit,
		"filter":     bpf,
	}).Info("Starting capture")

	pipeline.Track(ifaces)
	d := capture.NewDispatcher(capture.Options{
		Open:        capture.LiveOpener(cfg.Capture),
		Filter:      bpf,
		PacketLimit: cfg.Capture.PacketLimit,
		Handler:     pipeline.HandlePacket,
		OnState:     pipeline.OnState,
	})
	runErr := d.Run(ctx, ifaces)
	pipeline.Stop()

	if runErr != nil {
		return runErr
	}
	log.WithField("packets", d.Processed()).Info("Capture finished")
	return nil
}
