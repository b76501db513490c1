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
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// globalOptions holds the persistent flags shared by all subcommands.
type globalOptions struct {
	configPath string
	logLevel   string
	logFile    string
	timezone   string
}

var globalOpts globalOptions

const (
	osWindows = "windows"
	osLinux   = "linux"
	osDarwin  = "darwin"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "unorate",
	Short: "UnoRate - Counter-to-rate system sampler",
	Long: `UnoRate samples the kernel's cumulative counters (CPU time, disk I/O,
network traffic and per-process usage) at a fixed interval and turns them
into rates: utilization percentages, throughput, IOPS and average wait.

Every series starts with a baseline sample, so the first values appear one
interval after startup. Counter resets and vanished devices show up as N/A
instead of bogus spikes.

Use 'unorate collect' to begin sampling.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	addGlobalFlags(rootCmd.PersistentFlags(), &globalOpts)
}

func addGlobalFlags(fs *pflag.FlagSet, o *globalOptions) {
	fs.StringVarP(&o.configPath, "config", "c", "",
		"YAML configuration file (flags override file values)")
	fs.StringVar(&o.logLevel, "log-level", "info",
		"Log level (debug, info, warn, error)")
	fs.StringVar(&o.logFile, "log-file", "",
		"Log file path (empty = stdout)")
	fs.StringVar(&o.timezone, "timezone", "Local",
		"Timezone for timestamps (e.g., 'Asia/Ho_Chi_Minh', 'Local')")
}

// InitLogger builds the slog.Logger shared by all commands.
// File output is JSON, console output is text. The returned closer releases the log file.
func InitLogger(levelStr, fileStr string) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if fileStr == "" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), io.NopCloser(nil), nil
	}

	f, err := os.OpenFile(fileStr, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return slog.New(slog.NewJSONHandler(f, opts)), f, nil
}
