// ABOUTME: Entry point for device-tracker
// ABOUTME: Reconciles ChirpStack uplinks into the node registry and manifest

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/chirpstack"
	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/config"
	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/dedupe"
	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/journal"
	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/manifest"
	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/mqtt"
	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/registry"
	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/tracker"
)

// Version is set by goreleaser at build time.
var version = "dev"

// rootOptions holds global flags and the state PersistentPreRunE loads for
// every subcommand.
type rootOptions struct {
	configPath string
	debug      bool

	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "device-tracker",
		Short:         "Track LoRaWAN devices from ChirpStack into the node registry",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if opts.debug {
				cfg.Logging.Level = "debug"
			}
			opts.cfg = cfg
			opts.logger = setupLogger(cfg.Logging, cmd.ErrOrStderr())
			slog.SetDefault(opts.logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("DEVICE_TRACKER_CONFIG"),
		"config file (.yaml or .toml); legacy environment variables apply without one")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newDevicesCommand(opts))
	cmd.AddCommand(newManifestCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Subscribe to uplinks and reconcile each device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTracker(cmd.Context(), opts)
		},
	}
}

func runTracker(ctx context.Context, opts *rootOptions) error {
	cfg := opts.cfg
	logger := opts.logger
	if err := cfg.Require(config.SectionNode, config.SectionMQTT, config.SectionChirpStack, config.SectionRegistry); err != nil {
		return err
	}

	conn, err := chirpstack.Dial(cfg.ChirpStack.APIInterface)
	if err != nil {
		return err
	}
	defer conn.Close()

	ns := chirpstack.New(conn, chirpstack.Config{
		Email:      cfg.ChirpStack.Email,
		Password:   cfg.ChirpStack.Password,
		RetryDelay: cfg.ChirpStack.RetryDelay,
	}, logger)

	reg, err := registry.New(registry.Config{
		BaseURL: cfg.Registry.APIInterface,
		Node:    cfg.Node.VSN,
		Token:   cfg.Registry.NodeToken,
	}, logger)
	if err != nil {
		return err
	}

	engineOpts := tracker.Options{Logger: logger}

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer j.Close()
		engineOpts.Journal = j
	}

	window := dedupe.NewWindow(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize)
	defer window.Close()
	engineOpts.Dedupe = window

	engine := tracker.New(ns, reg, manifest.NewStore(cfg.Node.Manifest, logger), engineOpts)

	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = mqtt.ClientID(cfg.Node.VSN)
	}

	green := color.New(color.FgGreen)
	green.Fprint(os.Stderr, "    ▶ ")
	fmt.Fprintf(os.Stderr, "Node:       %s\n", cfg.Node.VSN)
	green.Fprint(os.Stderr, "    ▶ ")
	fmt.Fprintf(os.Stderr, "Manifest:   %s\n", cfg.Node.Manifest)
	green.Fprint(os.Stderr, "    ▶ ")
	fmt.Fprintf(os.Stderr, "ChirpStack: %s\n", cfg.ChirpStack.APIInterface)
	green.Fprint(os.Stderr, "    ▶ ")
	fmt.Fprintf(os.Stderr, "Broker:     %s:%d %s\n\n", cfg.MQTT.Host, cfg.MQTT.Port, cfg.MQTT.Topic)

	logger.Info("starting device-tracker",
		"version", version,
		"vsn", cfg.Node.VSN,
		"manifest", cfg.Node.Manifest,
		"journal", cfg.Journal.Path,
		"dedupe_ttl", cfg.Dedupe.TTL,
	)

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("authenticating with chirpstack: %w", err)
	}

	sub := mqtt.New(mqtt.Config{
		Host:     cfg.MQTT.Host,
		Port:     cfg.MQTT.Port,
		Topic:    cfg.MQTT.Topic,
		QoS:      byte(cfg.MQTT.QoS),
		ClientID: clientID,
		Username: cfg.MQTT.Username,
		Password: cfg.MQTT.Password,
	}, handleUplinks(engine, logger), logger)

	return sub.Run(ctx)
}

// uplinkHandler is the part of tracker.Engine the subscriber drives.
type uplinkHandler interface {
	Handle(ctx context.Context, payload []byte) (*tracker.Outcome, error)
}

// handleUplinks adapts h to the subscriber. Only fatal errors are returned;
// the engine has already logged everything else.
func handleUplinks(h uplinkHandler, logger *slog.Logger) mqtt.HandlerFunc {
	return func(ctx context.Context, topic string, payload []byte) error {
		_, err := h.Handle(ctx, payload)
		if err == nil {
			return nil
		}
		if tracker.IsFatal(err) {
			return err
		}
		logger.Debug("uplink not reconciled", "topic", topic, "error", err)
		return nil
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// No config is needed to print the version.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "device-tracker %s\n", version)
		},
	}
}
