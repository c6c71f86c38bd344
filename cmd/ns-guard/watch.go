package main

import (
	"Go2NetGuard/internal/events"
	"Go2NetGuard/internal/model"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var natsURL string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print drop events published by running ns-guard instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		ecfg := cfg.Events
		if cmd.Flags().Changed("nats") {
			ecfg.NATSURL = natsURL
		}
		if ecfg.NATSURL == "" {
			ecfg.NATSURL = nats.DefaultURL
		}
		if ecfg.Subject == "" {
			return errors.New("events.subject is empty")
		}

		sub, err := events.NewSubscriber(ecfg)
		if err != nil {
			return err
		}
		defer sub.Close()

		console := events.NewConsole(os.Stdout)
		err = sub.Start(func(ev *model.DropEvent) {
			console.Write([]byte("[" + shortID(ev.RunID) + "] " + events.FormatDrop(ev)))
		})
		if err != nil {
			return fmt.Errorf("subscriber failed to start: %w", err)
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Info("Shutdown signal received, cleaning up...")
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&natsURL, "nats", "", "NATS server URL (default from config, then "+nats.DefaultURL+")")
}

func shortID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
