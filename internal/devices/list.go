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

// Package devices lists the block devices and network interfaces the sampler
// can track, under the names accepted by the include/exclude filters.
package devices

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/net"
)

// Dependency injection points for testing
var (
	diskIOCounters = disk.IOCountersWithContext
	diskPartitions = disk.PartitionsWithContext
	diskUsage      = disk.UsageWithContext
	netInterfaces  = net.InterfacesWithContext
)

var loopbackNames = []string{"lo", "lo0", "Loopback"}

// IsVirtualDisk reports loop and ram devices, which carry no physical I/O.
func IsVirtualDisk(name string) bool {
	return strings.HasPrefix(name, "loop") || strings.HasPrefix(name, "ram")
}

// IsLoopback reports well-known loopback interface names.
func IsLoopback(name string) bool {
	return slices.Contains(loopbackNames, name)
}

// NormalizeDeviceName strips the /dev/ prefix so that /dev/sdd and sdd name the same device.
func NormalizeDeviceName(name string) string {
	return strings.TrimPrefix(name, "/dev/")
}

// DiskInfo represents a block device with I/O counters.
type DiskInfo struct {
	Name        string   // Counter name, as used by the disk filters
	Mountpoints []string // Mountpoints of the device, if mounted
	Filesystem  string
	Total       uint64
	Virtual     bool // Skipped unless included explicitly
}

// NetworkInfo represents network interface information.
type NetworkInfo struct {
	Name       string
	MacAddress string
	Addresses  []string
	Loopback   bool // Skipped unless included explicitly
}

// ListDisks returns the devices that report I/O counters, with mount
// information where a partition of the same name is mounted.
func ListDisks(ctx context.Context) ([]DiskInfo, error) {
	counters, err := diskIOCounters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get disk I/O counters: %w", err)
	}

	// Partition listing is best effort; counters alone are enough to sample.
	partitions, _ := diskPartitions(ctx, false)
	byDevice := make(map[string][]disk.PartitionStat)
	for _, p := range partitions {
		name := filepath.Base(NormalizeDeviceName(p.Device))
		byDevice[name] = append(byDevice[name], p)
	}

	disks := make([]DiskInfo, 0, len(counters))
	for name := range counters {
		info := DiskInfo{Name: name, Virtual: IsVirtualDisk(name)}

		for _, p := range byDevice[name] {
			info.Mountpoints = append(info.Mountpoints, p.Mountpoint)
			if info.Filesystem == "" {
				info.Filesystem = p.Fstype
			}
			if info.Total == 0 {
				if usage, err := diskUsage(ctx, p.Mountpoint); err == nil {
					info.Total = usage.Total
				}
			}
		}

		disks = append(disks, info)
	}

	sort.Slice(disks, func(i, j int) bool {
		return disks[i].Name < disks[j].Name
	})

	return disks, nil
}

// ListNetworkInterfaces returns the available network interfaces.
func ListNetworkInterfaces(ctx context.Context) ([]NetworkInfo, error) {
	interfaces, err := netInterfaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get network interfaces: %w", err)
	}

	networks := make([]NetworkInfo, 0, len(interfaces))
	for _, iface := range interfaces {
		addresses := make([]string, 0, len(iface.Addrs))
		for _, addr := range iface.Addrs {
			addresses = append(addresses, addr.Addr)
		}

		networks = append(networks, NetworkInfo{
			Name:       iface.Name,
			MacAddress: iface.HardwareAddr,
			Addresses:  addresses,
			Loopback:   IsLoopback(iface.Name) || slices.Contains(iface.Flags, "loopback"),
		})
	}

	sort.Slice(networks, func(i, j int) bool {
		return networks[i].Name < networks[j].Name
	})

	return networks, nil
}

// FormatDisksTable formats disk information as a table.
func FormatDisksTable(disks []DiskInfo) string {
	var sb strings.Builder

	sb.WriteString("\nAvailable Disk Devices:\n")
	sb.WriteString(strings.Repeat("=", 80))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%-16s %-10s %-24s %-12s %s\n", "DEVICE", "TRACKED", "MOUNTPOINT", "FILESYSTEM", "SIZE")
	sb.WriteString(strings.Repeat("-", 80))
	sb.WriteString("\n")

	for _, d := range disks {
		tracked := "yes"
		if d.Virtual {
			tracked = "no (virtual)"
		}
		mount := naString
		if len(d.Mountpoints) > 0 {
			mount = strings.Join(d.Mountpoints, ",")
		}
		fs := d.Filesystem
		if fs == "" {
			fs = naString
		}
		size := naString
		if d.Total > 0 {
			size = formatBytes(d.Total)
		}

		fmt.Fprintf(&sb, "%-16s %-10s %-24s %-12s %s\n",
			d.Name, tracked, truncate(mount, 24), fs, size)
	}

	sb.WriteString(strings.Repeat("=", 80))
	sb.WriteString("\n")

	return sb.String()
}

const naString = "N/A"

// FormatNetworksTable formats network interface information as a table.
func FormatNetworksTable(networks []NetworkInfo) string {
	var sb strings.Builder

	sb.WriteString("\nAvailable Network Interfaces:\n")
	sb.WriteString(strings.Repeat("=", 80))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%-24s %-14s %-17s %s\n", "INTERFACE", "TRACKED", "MAC ADDRESS", "IP ADDRESSES")
	sb.WriteString(strings.Repeat("-", 80))
	sb.WriteString("\n")

	for _, n := range networks {
		tracked := "yes"
		if n.Loopback {
			tracked = "no (loopback)"
		}
		mac := n.MacAddress
		if mac == "" {
			mac = naString
		}
		firstIP := naString
		if len(n.Addresses) > 0 {
			firstIP = n.Addresses[0]
		}

		fmt.Fprintf(&sb, "%-24s %-14s %-17s %s\n", truncate(n.Name, 24), tracked, mac, firstIP)

		// Additional IPs on separate lines
		for _, addr := range n.Addresses[min(1, len(n.Addresses)):] {
			fmt.Fprintf(&sb, "%-24s %-14s %-17s %s\n", "", "", "", addr)
		}
	}

	sb.WriteString(strings.Repeat("=", 80))
	sb.WriteString("\n")

	return sb.String()
}

// formatBytes converts bytes to human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// truncate truncates a string to maxLen characters.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
