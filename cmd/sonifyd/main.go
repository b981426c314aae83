// Package main is the entry point for the sonifyd daemon.
// sonifyd turns a multichannel EEG stream into stereo audio: it calibrates a
// per-band baseline, normalizes live band power against it, and drives one
// oscillator per (channel, band) pair from the resulting power matrix.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/austinkregel/local-media/sonifyd/internal/acquisition"
	"github.com/austinkregel/local-media/sonifyd/internal/audio"
	"github.com/austinkregel/local-media/sonifyd/internal/config"
	"github.com/austinkregel/local-media/sonifyd/internal/ipc"
	"github.com/austinkregel/local-media/sonifyd/internal/logging"
	"github.com/austinkregel/local-media/sonifyd/internal/metrics"
	"github.com/austinkregel/local-media/sonifyd/internal/pipeline"
	"github.com/austinkregel/local-media/sonifyd/internal/types"
)

// Version is set at build time via ldflags
var Version = "dev"

// options holds the command line; zero values leave the config file alone
type options struct {
	ConfigPath  string
	Mode        string
	Input       string
	Loop        bool
	Realtime    bool
	Output      string
	WAVOut      string
	SocketPath  string
	MetricsAddr string
	Verbose     bool
}

func main() {
	cmd, _ := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() (*cobra.Command, *options) {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "sonifyd",
		Short:         "Real-time EEG sonification daemon",
		Version:       Version,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.ConfigPath, "config", "", "Config file (default: ~/.config/sonifyd/config.yaml)")
	f.StringVar(&opts.Mode, "mode", "", "Acquisition mode: live, file, wav or synthetic")
	f.StringVar(&opts.Input, "input", "", "Recording path, device path or tcp://host:port")
	f.BoolVar(&opts.Loop, "loop", false, "Restart recordings at end of file")
	f.BoolVar(&opts.Realtime, "realtime", true, "Pace replay and headless output in real time")
	f.StringVar(&opts.Output, "output", "", "Audio output: oto or headless")
	f.StringVar(&opts.WAVOut, "wav-out", "", "Record rendered audio to this WAV file (headless output)")
	f.StringVar(&opts.SocketPath, "socket", "", "Control socket path (default: /tmp/sonifyd-<uid>.sock)")
	f.StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address")
	f.BoolVar(&opts.Verbose, "verbose", false, "Enable debug logging")
	return cmd, opts
}

// loadConfig reads the config file and applies any flags the user set
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	path := opts.ConfigPath
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".config", "sonifyd", "config.yaml")
	}

	mgr := config.NewFileManager(path)
	if err := mgr.Load(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := mgr.Get()
	applyFlags(cmd, &cfg, opts)

	if cfg.Control.SocketPath == "" {
		cfg.Control.SocketPath = fmt.Sprintf("/tmp/sonifyd-%d.sock", os.Getuid())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config, opts *options) {
	changed := cmd.Flags().Changed
	if changed("mode") {
		cfg.Acquisition.Mode = types.AcquisitionMode(opts.Mode)
	}
	if changed("input") {
		cfg.Acquisition.Input = opts.Input
	}
	if changed("loop") {
		cfg.Acquisition.Loop = opts.Loop
	}
	if changed("realtime") {
		cfg.Acquisition.Realtime = opts.Realtime
		cfg.Audio.Realtime = opts.Realtime
	}
	if changed("output") {
		cfg.Audio.Output = opts.Output
	}
	if changed("wav-out") {
		cfg.Audio.WAVPath = opts.WAVOut
		// Recording only makes sense on the headless output
		if !changed("output") {
			cfg.Audio.Output = "headless"
		}
	}
	if changed("socket") {
		cfg.Control.SocketPath = opts.SocketPath
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = opts.MetricsAddr
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
}

func newOutput(cfg *config.Config, log logging.Logger) (audio.Output, error) {
	switch cfg.Audio.Output {
	case "headless":
		return audio.NewHeadlessOutput(audio.HeadlessOptions{
			SampleRate: cfg.Audio.SampleRate,
			BlockSize:  cfg.Audio.BlockSize,
			Realtime:   cfg.Audio.Realtime,
			WAVPath:    cfg.Audio.WAVPath,
		}, log), nil
	default:
		return audio.NewOtoOutput(cfg.Audio.SampleRate, cfg.Audio.BlockSize)
	}
}

func run(ctx context.Context, cmd *cobra.Command, opts *options) error {
	log := logging.NewDefaultLogger()

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn("Ignoring log level", logging.Fields{"error": err.Error()})
	}
	log.SetLevel(level)

	log.Info("sonifyd starting", logging.Fields{
		"version":  Version,
		"mode":     string(cfg.Acquisition.Mode),
		"channels": cfg.Signal.Channels,
		"bands":    len(cfg.Bands),
	})

	src, err := acquisition.New(cfg.Acquisition.Mode, acquisition.OptionsFromConfig(cfg), log)
	if err != nil {
		return fmt.Errorf("failed to initialize acquisition: %w", err)
	}

	out, err := newOutput(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize audio output: %w", err)
	}

	coord, err := pipeline.New(*cfg, src, out, log)
	if err != nil {
		out.Close()
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	server := ipc.NewServer(cfg.Control.SocketPath, coord, log)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// A finished source ends the daemon
		defer cancel()
		return coord.Run(gctx)
	})
	g.Go(func() error {
		return metrics.Serve(gctx, cfg.Metrics.Addr, log)
	})
	g.Go(func() error {
		return server.Start(gctx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("sonifyd stopped", logging.Fields{"session": coord.SessionID()})
	return nil
}
