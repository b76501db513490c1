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

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents application configuration.
type Config struct {
	SamplingInterval time.Duration `yaml:"interval"`       // Interval between samples
	OutputPath       string        `yaml:"output"`         // Path to CSV output file
	BufferSize       int           `yaml:"buffer_size"`    // Number of frames to buffer before flush
	FlushInterval    time.Duration `yaml:"flush_interval"` // Maximum time before forcing a flush

	// Filters
	IncludeDisks    []string `yaml:"include_disks"`    // Disk devices to monitor (empty = all)
	ExcludeDisks    []string `yaml:"exclude_disks"`    // Disk devices to exclude
	IncludeNetworks []string `yaml:"include_networks"` // Network interfaces to monitor (empty = all)
	ExcludeNetworks []string `yaml:"exclude_networks"` // Network interfaces to exclude

	// Tracked series
	Pids    []int32 `yaml:"pids"`     // Processes to track
	PerCore bool    `yaml:"per_core"` // Track every CPU core separately
	Workers int     `yaml:"workers"`  // Concurrent fetches per tick

	// HTTP view (empty = disabled)
	ListenAddr string `yaml:"listen"`

	// Logging
	LogLevel string `yaml:"log_level"` // Log level: debug, info, warn, error
	LogFile  string `yaml:"log_file"`  // Log file path (empty = stdout)

	// Timezone
	Timezone string `yaml:"timezone"` // Timezone location (e.g., "Asia/Ho_Chi_Minh", "Local")
}

// Default configuration values.
const (
	DefaultSamplingInterval  = 30 * time.Second
	DefaultBufferSize        = 100
	DefaultFlushInterval     = 5 * time.Second
	DefaultWorkers           = 8
	DefaultLogLevel          = "info"
	DefaultMaxOutputFileSize = 150 * 1024 * 1024 // 150MB

	maxWorkers = 256
)

// Default returns a configuration populated with default values.
// OutputPath is left empty and resolved by the caller.
func Default() *Config {
	return &Config{
		SamplingInterval: DefaultSamplingInterval,
		BufferSize:       DefaultBufferSize,
		FlushInterval:    DefaultFlushInterval,
		Workers:          DefaultWorkers,
		LogLevel:         DefaultLogLevel,
	}
}

// GetDefaultOutputPath generates default output path: <hostname>_<timestamp>.csv
func GetDefaultOutputPath() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	// Clean hostname (remove invalid filename characters)
	hostname = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, hostname)

	filename := fmt.Sprintf("%s_%s.csv", hostname, time.Now().Format("20060102150405"))

	exePath, err := os.Executable()
	if err != nil {
		return filename
	}
	return filepath.Join(filepath.Dir(exePath), filename)
}

// LoadFile reads a YAML configuration file on top of the defaults.
// Unknown keys are rejected so that typos do not silently fall back to defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// ParseCommaSeparated parses a comma-separated string into a slice of trimmed strings.
func ParseCommaSeparated(s string) []string {
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// ParsePIDs parses a comma-separated list of process ids.
func ParsePIDs(s string) ([]int32, error) {
	parts := ParseCommaSeparated(s)
	if len(parts) == 0 {
		return nil, nil
	}

	pids := make([]int32, 0, len(parts))
	for _, part := range parts {
		pid, err := strconv.ParseInt(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid pid %q: %w", part, err)
		}
		if pid <= 0 {
			return nil, fmt.Errorf("invalid pid %q: must be positive", part)
		}
		pids = append(pids, int32(pid))
	}

	return pids, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.SamplingInterval < 1*time.Second {
		return errors.New("sampling interval must be at least 1 second")
	}

	if c.SamplingInterval > 1*time.Hour {
		return errors.New("sampling interval must not exceed 1 hour")
	}

	if c.OutputPath == "" {
		return errors.New("output path cannot be empty")
	}

	if c.BufferSize < 1 {
		return errors.New("buffer size must be at least 1")
	}

	if c.FlushInterval < 1*time.Second {
		return errors.New("flush interval must be at least 1 second")
	}

	if c.Workers < 1 || c.Workers > maxWorkers {
		return fmt.Errorf("workers must be between 1 and %d", maxWorkers)
	}

	for _, pid := range c.Pids {
		if pid <= 0 {
			return fmt.Errorf("invalid pid: %d", pid)
		}
	}

	if c.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
			return fmt.Errorf("invalid listen address: %s (%w)", c.ListenAddr, err)
		}
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	// Validate Timezone
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone: %s (%w)", c.Timezone, err)
		}
	}

	if err := c.ensureOutputDir(); err != nil {
		return fmt.Errorf("output directory check failed: %w", err)
	}

	return nil
}

// ensureOutputDir checks that the parent of the output path is an existing directory.
func (c *Config) ensureOutputDir() error {
	dir := filepath.Dir(c.OutputPath)

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("output directory does not exist: %s", dir)
		}
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("output path parent is not a directory: %s", dir)
	}

	return nil
}

// String returns a human-readable representation of the configuration.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Interval=%v, Output=%s, BufferSize=%d, FlushInterval=%v, Workers=%d, Pids=%v, PerCore=%t, Listen=%q, Timezone=%s}",
		c.SamplingInterval, c.OutputPath, c.BufferSize, c.FlushInterval, c.Workers, c.Pids, c.PerCore, c.ListenAddr, c.Timezone)
}
