/*
 * MIT License
 *
 * Copyright (c) 2026 Nguyen Thanh Phuong
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/phuonguno98/unorate/internal/collector"
	"github.com/phuonguno98/unorate/internal/config"
	"github.com/phuonguno98/unorate/internal/exporter"
	"github.com/phuonguno98/unorate/internal/server"
	"github.com/phuonguno98/unorate/internal/source"
	"github.com/phuonguno98/unorate/pkg/metrics"
	"github.com/phuonguno98/unorate/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// collectOptions holds the flags of the collect command.
type collectOptions struct {
	samplingInterval time.Duration
	outputPath       string
	bufferSize       int
	flushInterval    time.Duration
	includeDisks     string
	excludeDisks     string
	includeNetworks  string
	excludeNetworks  string
	pids             string
	perCore          bool
	workers          int
	listenAddr       string
}

var collectOpts collectOptions

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Start sampling counters and writing rates",
	Long: `Sample CPU, disk, network and process counters at a fixed interval and
write the derived rates to a CSV file. Optionally serve the latest frame
and a short history over HTTP.

Examples:
  # Run in foreground with default settings
  unorate collect

  # Sample every 5s, per core, and follow two processes
  unorate collect --interval 5s --per-core --pids 1234,5678

  # Load settings from a file, override the output path
  unorate collect --config unorate.yaml -o /tmp/run.csv

  # Serve the latest frame on :9100
  unorate collect --listen :9100`,
	RunE: runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)
	addCollectFlags(collectCmd.Flags(), &collectOpts)
}

func addCollectFlags(fs *pflag.FlagSet, o *collectOptions) {
	fs.DurationVar(&o.samplingInterval, "interval", config.DefaultSamplingInterval,
		"Sampling interval (e.g., 1s, 30s, 1m)")
	fs.StringVarP(&o.outputPath, "output", "o", "",
		"Output CSV file path (default: <hostname>_<timestamp>.csv)")
	fs.IntVar(&o.bufferSize, "buffer-size", config.DefaultBufferSize,
		"Number of frames buffered before the CSV writer flushes")
	fs.DurationVar(&o.flushInterval, "flush-interval", config.DefaultFlushInterval,
		"Flush interval for CSV writer")

	// Filter flags
	fs.StringVar(&o.includeDisks, "include-disks", "",
		"Comma-separated list of disk devices to monitor (empty = all physical)")
	fs.StringVar(&o.excludeDisks, "exclude-disks", "",
		"Comma-separated list of disk devices to exclude")
	fs.StringVar(&o.includeNetworks, "include-networks", "",
		"Comma-separated list of network interfaces to monitor (empty = all but loopback)")
	fs.StringVar(&o.excludeNetworks, "exclude-networks", "",
		"Comma-separated list of network interfaces to exclude")

	// Sampler flags
	fs.StringVar(&o.pids, "pids", "",
		"Comma-separated list of process ids to track")
	fs.BoolVar(&o.perCore, "per-core", false,
		"Report utilization for every CPU core")
	fs.IntVar(&o.workers, "workers", config.DefaultWorkers,
		"Maximum number of concurrent counter reads per tick")
	fs.StringVar(&o.listenAddr, "listen", "",
		"Serve the latest frame over HTTP on this address (empty = disabled)")
}

// buildConfig starts from the defaults, or from the config file when one is
// given, then applies every flag the user set explicitly.
func buildConfig(fs *pflag.FlagSet, g *globalOptions, o *collectOptions) (*config.Config, error) {
	cfg := config.Default()
	if g.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(g.configPath); err != nil {
			return nil, err
		}
	}

	set := func(name string) bool {
		f := fs.Lookup(name)
		return f != nil && f.Changed
	}

	if set("interval") {
		cfg.SamplingInterval = o.samplingInterval
	}
	if set("output") {
		cfg.OutputPath = o.outputPath
	}
	if set("buffer-size") {
		cfg.BufferSize = o.bufferSize
	}
	if set("flush-interval") {
		cfg.FlushInterval = o.flushInterval
	}
	if set("include-disks") {
		cfg.IncludeDisks = config.ParseCommaSeparated(o.includeDisks)
	}
	if set("exclude-disks") {
		cfg.ExcludeDisks = config.ParseCommaSeparated(o.excludeDisks)
	}
	if set("include-networks") {
		cfg.IncludeNetworks = config.ParseCommaSeparated(o.includeNetworks)
	}
	if set("exclude-networks") {
		cfg.ExcludeNetworks = config.ParseCommaSeparated(o.excludeNetworks)
	}
	if set("pids") {
		pids, err := config.ParsePIDs(o.pids)
		if err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		cfg.Pids = pids
	}
	if set("per-core") {
		cfg.PerCore = o.perCore
	}
	if set("workers") {
		cfg.Workers = o.workers
	}
	if set("listen") {
		cfg.ListenAddr = o.listenAddr
	}
	if set("log-level") || cfg.LogLevel == "" {
		cfg.LogLevel = g.logLevel
	}
	if set("log-file") {
		cfg.LogFile = g.logFile
	}
	if set("timezone") || cfg.Timezone == "" {
		cfg.Timezone = g.timezone
	}

	if cfg.OutputPath == "" {
		cfg.OutputPath = config.GetDefaultOutputPath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// runCollect is the main sampling entry point.
func runCollect(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd.Flags(), &globalOpts, &collectOpts)
	if err != nil {
		return err
	}

	logger, logCloser, err := InitLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	logger.Info("Starting UnoRate",
		"version", version.Info(),
		"os", runtime.GOOS,
		"arch", runtime.GOARCH,
	)
	logger.Info("Configuration loaded", "config", cfg.String())

	checkPlatformCapabilities(logger)

	sys := source.NewSystem()
	engine := metrics.NewEngine(metrics.NewStore(),
		metrics.WithClockTicks(sys.ClockTicks()),
		metrics.WithLogger(logger),
	)
	logger.Debug("Clock ticks resolved", "hz", sys.ClockTicks())

	// Buffered so that a slow writer does not stall the sampler
	frameChan := make(chan *metrics.Frame, 10)

	mgr := collector.NewManager(cfg, sys, engine, frameChan, logger)

	csvExporter, err := exporter.NewCSVExporter(cfg, frameChan, logger)
	if err != nil {
		logger.Error("Failed to create CSV exporter", "error", err)
		return err
	}
	defer func() {
		if err := csvExporter.Close(); err != nil {
			logger.Error("Failed to close exporter", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	// The exporter drains until the channel is closed, not until the signal
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := csvExporter.Start(context.Background()); err != nil {
			logger.Error("Exporter stopped with error", "error", err)
		}
	}()

	if cfg.ListenAddr != "" {
		history := server.NewHistory(server.DefaultHistorySize)
		mgr.AddRecorder(history)
		srv := server.NewServer(mgr, history, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx, cfg.ListenAddr); err != nil {
				logger.Error("HTTP server stopped with error", "error", err)
			}
		}()
	}

	logger.Info("UnoRate is running", "output", cfg.OutputPath, "session", mgr.SessionID())

	// Blocks until the signal arrives
	if err := mgr.Start(ctx); err != nil {
		logger.Error("Collector manager stopped with error", "error", err)
	}

	logger.Info("Shutting down...")

	// The manager is the only sender
	close(frameChan)
	wg.Wait()

	logger.Info("Shutdown complete")

	return nil
}

// checkPlatformCapabilities logs platform-specific capability warnings.
func checkPlatformCapabilities(logger *slog.Logger) {
	switch runtime.GOOS {
	case osWindows:
		logger.Warn("Running on Windows: CPU iowait is not reported and will be N/A")
	case osDarwin:
		logger.Info("Running on macOS: CPU iowait is not reported and will be N/A")
		logger.Info("Running on macOS: Disk counters may require Full Disk Access or sudo")
	case osLinux:
		logger.Info("Running on Linux: All counters available")
	default:
		logger.Warn("Running on unsupported platform, some counters may be unavailable", "os", runtime.GOOS)
	}
}
