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

package exporter

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/phuonguno98/unorate/internal/config"
	"github.com/phuonguno98/unorate/pkg/metrics"
)

const naString = "N/A"

// CSVExporter exports frames to a CSV file with buffering.
type CSVExporter struct {
	config        *config.Config
	file          *os.File
	csvWriter     *csv.Writer
	bufWriter     *bufio.Writer
	frameChan     <-chan *metrics.Frame
	recordCount   int
	logger        *slog.Logger
	headerWritten bool
	coreOrder     []string       // Column order of CPU cores
	deviceOrder   []string       // Column order of disks
	ifaceOrder    []string       // Column order of interfaces
	pidOrder      []int32        // Column order of processes
	location      *time.Location // Timezone location for timestamps
	currentSize   int64          // Current file size in bytes
	basePath      string         // Base output path
	fileIndex     int            // Index for file rotation
	path          string         // File currently being written
}

// NewCSVExporter creates a new CSV exporter instance.
func NewCSVExporter(cfg *config.Config, frameChan <-chan *metrics.Frame, logger *slog.Logger) (*CSVExporter, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", cfg.Timezone, err)
	}

	// An existing non-empty file is left alone; its columns may not match.
	path, index := cfg.OutputPath, 0
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		path, index = nextFreePath(cfg.OutputPath, index)
		logger.Info("Output file already has data, writing to a new file", "existing", cfg.OutputPath, "output", path)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}

	bufWriter := bufio.NewWriterSize(file, 8192)

	return &CSVExporter{
		config:    cfg,
		file:      file,
		csvWriter: csv.NewWriter(bufWriter),
		bufWriter: bufWriter,
		frameChan: frameChan,
		logger:    logger,
		location:  loc,
		basePath:  cfg.OutputPath,
		fileIndex: index,
		path:      path,
	}, nil
}

// nextFreePath returns the first <base>_<n><ext> after index that does not exist.
func nextFreePath(basePath string, index int) (string, int) {
	ext := filepath.Ext(basePath)
	base := strings.TrimSuffix(basePath, ext)
	for {
		index++
		path := fmt.Sprintf("%s_%d%s", base, index, ext)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path, index
		}
	}
}

// Path returns the file currently being written.
func (e *CSVExporter) Path() string {
	return e.path
}

// Start consumes frames and writes them until ctx is done or the channel closes.
func (e *CSVExporter) Start(ctx context.Context) error {
	e.logger.Info("Starting CSV exporter", "output", e.path, "timezone", e.config.Timezone)

	flushTicker := time.NewTicker(e.config.FlushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("CSV exporter stopping...")
			return e.flush()

		case frame, ok := <-e.frameChan:
			if !ok {
				e.logger.Info("Frame channel closed, flushing remaining data...")
				return e.flush()
			}

			if err := e.writeFrame(frame); err != nil {
				e.logger.Error("Failed to write frame", "error", err)
			}

			e.recordCount++
			if e.recordCount >= e.config.BufferSize {
				if err := e.flush(); err != nil {
					e.logger.Error("Failed to flush", "error", err)
				}
				e.recordCount = 0
			}

		case <-flushTicker.C:
			if e.recordCount > 0 {
				if err := e.flush(); err != nil {
					e.logger.Error("Failed to flush", "error", err)
				}
				e.recordCount = 0
			}
		}
	}
}

// writeFrame writes a single frame to the CSV file.
func (e *CSVExporter) writeFrame(frame *metrics.Frame) error {
	if !e.headerWritten {
		if err := e.writeHeader(frame); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		e.headerWritten = true
	}

	// Rotate before writing to avoid going too far over the limit
	if e.currentSize >= config.DefaultMaxOutputFileSize {
		if err := e.rotateFile(frame); err != nil {
			e.logger.Error("Failed to rotate file", "error", err)
		}
	}

	row := e.buildRow(frame)
	if err := e.csvWriter.Write(row); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}

	e.currentSize += rowSize(row)
	return nil
}

// rowSize approximates the encoded size of a row.
func rowSize(row []string) int64 {
	n := len(row) // separators and newline
	for _, cell := range row {
		n += len(cell)
	}
	return int64(n)
}

// writeHeader fixes the column layout from frame and writes the header row.
func (e *CSVExporter) writeHeader(frame *metrics.Frame) error {
	e.coreOrder = slices.Sorted(maps.Keys(frame.Cores))
	e.deviceOrder = slices.Sorted(maps.Keys(frame.Disks))
	e.ifaceOrder = slices.Sorted(maps.Keys(frame.Networks))
	e.pidOrder = slices.Sorted(maps.Keys(frame.Processes))

	header := []string{
		"Timestamp",
		"CPU Utilization (%)",
		"CPU IO Wait (%)",
		"Context Switches (/s)",
		"Memory Utilization (%)",
		"Swap Utilization (%)",
		"Load 1m", "Load 5m", "Load 15m",
		"Uptime (s)",
		"CPU Frequency (MHz)",
		"Open Files",
		"TCP Connections",
		"Processes Total",
		"Processes Running",
		"Processes Blocked",
		"Processes Zombie",
	}

	for _, core := range e.coreOrder {
		header = append(header, fmt.Sprintf("Core [%s] Utilization (%%)", core))
	}

	for _, device := range e.deviceOrder {
		header = append(header,
			fmt.Sprintf("Disk [%s] Read (MB/s)", device),
			fmt.Sprintf("Disk [%s] Write (MB/s)", device),
			fmt.Sprintf("Disk [%s] Utilization (%%)", device),
			fmt.Sprintf("Disk [%s] Average Wait (ms)", device),
			fmt.Sprintf("Disk [%s] Throughput (IOPS)", device))
	}

	for _, iface := range e.ifaceOrder {
		header = append(header,
			fmt.Sprintf("Network [%s] Receive (Mbps)", iface),
			fmt.Sprintf("Network [%s] Transmit (Mbps)", iface))
	}

	for _, pid := range e.pidOrder {
		header = append(header,
			fmt.Sprintf("Process [%d] CPU (%%)", pid),
			fmt.Sprintf("Process [%d] Read (MB/s)", pid),
			fmt.Sprintf("Process [%d] Write (MB/s)", pid),
			fmt.Sprintf("Process [%d] Memory (MB)", pid),
			fmt.Sprintf("Process [%d] Open Files", pid))
	}

	if err := e.csvWriter.Write(header); err != nil {
		return err
	}
	e.currentSize += rowSize(header)
	return nil
}

// buildRow builds a CSV row from a frame. Invalid rates and series missing
// from the frame are written as N/A.
func (e *CSVExporter) buildRow(frame *metrics.Frame) []string {
	ts := frame.Timestamp.In(e.location)

	row := []string{
		ts.Format("2006-01-02 15:04:05"),
		formatRate(frame.CPU.Valid, frame.CPU.Percent),
		formatRate(frame.IOWaitValid, frame.IOWait),
		formatRate(frame.CPU.Valid, frame.CPU.ContextSwitchesPerSec),
		formatFloat(frame.Memory.Percent),
		formatFloat(frame.Memory.SwapPercent),
		formatFloat(frame.Load.Load1),
		formatFloat(frame.Load.Load5),
		formatFloat(frame.Load.Load15),
		strconv.FormatUint(frame.Host.UptimeSeconds, 10),
		formatFloat(frame.Host.CPUFrequencyMHz),
		strconv.FormatUint(frame.Host.OpenFiles, 10),
		strconv.Itoa(frame.Host.TCPConnections),
		strconv.Itoa(frame.Host.Processes.Total),
		strconv.Itoa(frame.Host.Processes.Running),
		strconv.Itoa(frame.Host.Processes.Blocked),
		strconv.Itoa(frame.Host.Processes.Zombie),
	}

	for _, core := range e.coreOrder {
		rate, ok := frame.Cores[core]
		row = append(row, formatRate(ok && rate.Valid, rate.Percent))
	}

	for _, device := range e.deviceOrder {
		rate, ok := frame.Disks[device]
		valid := ok && rate.Valid
		row = append(row,
			formatRate(ok && rate.ReadValid, rate.ReadMBps),
			formatRate(ok && rate.WriteValid, rate.WriteMBps),
			formatRate(valid, rate.Utilization),
			formatRate(valid, rate.Await),
			formatRate(valid, rate.IOPS))
	}

	for _, iface := range e.ifaceOrder {
		rate, ok := frame.Networks[iface]
		row = append(row,
			formatRate(ok && rate.RxValid, rate.RxMbps),
			formatRate(ok && rate.TxValid, rate.TxMbps))
	}

	for _, pid := range e.pidOrder {
		rate, ok := frame.Processes[pid]
		valid := ok && rate.Valid
		// Gauges exist from the first sample; only a vanished process has none.
		present := ok && rate.Reason != metrics.ReasonUnavailable
		openFDs := naString
		if present {
			openFDs = strconv.FormatUint(rate.OpenFDs, 10)
		}
		row = append(row,
			formatRate(valid, rate.Percent),
			formatRate(valid, rate.ReadMBps),
			formatRate(valid, rate.WriteMBps),
			formatRate(present, rate.ResidentMB),
			openFDs)
	}

	return row
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatRate(valid bool, v float64) string {
	if !valid {
		return naString
	}
	return formatFloat(v)
}

// flush flushes the buffered data to disk.
func (e *CSVExporter) flush() error {
	e.csvWriter.Flush()
	if err := e.csvWriter.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}

	if err := e.bufWriter.Flush(); err != nil {
		return fmt.Errorf("buffer writer error: %w", err)
	}

	e.logger.Debug("Flushed to disk", "records", e.recordCount)
	return nil
}

// Close flushes remaining data and closes the file.
func (e *CSVExporter) Close() error {
	e.logger.Info("Closing CSV exporter")

	if err := e.flush(); err != nil {
		e.logger.Error("Final flush failed", "error", err)
	}

	if err := e.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	e.logger.Info("CSV exporter closed")
	return nil
}

// rotateFile switches to <base>_<n><ext>, never overwriting an existing file.
// The column layout is taken afresh from frame.
func (e *CSVExporter) rotateFile(frame *metrics.Frame) error {
	e.logger.Info("Rotating output file", "current_size", e.currentSize)

	if err := e.flush(); err != nil {
		return fmt.Errorf("flush before rotate failed: %w", err)
	}
	if err := e.file.Close(); err != nil {
		return fmt.Errorf("close before rotate failed: %w", err)
	}

	var newPath string
	newPath, e.fileIndex = nextFreePath(e.basePath, e.fileIndex)

	file, err := os.OpenFile(newPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open new rotated file: %w", err)
	}

	e.file = file
	e.path = newPath
	e.bufWriter = bufio.NewWriterSize(file, 8192)
	e.csvWriter = csv.NewWriter(e.bufWriter)
	e.currentSize = 0

	if err := e.writeHeader(frame); err != nil {
		return fmt.Errorf("failed to write header to rotated file: %w", err)
	}

	e.logger.Info("File rotated successfully", "new_path", newPath)
	return nil
}
