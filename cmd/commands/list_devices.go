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
	"os"

	"github.com/phuonguno98/unorate/internal/devices"
	"github.com/spf13/cobra"
)

var listDevicesCmd = &cobra.Command{
	Use:   "list-devices",
	Short: "List the disks and network interfaces that can be sampled",
	Long: `List the block devices that report I/O counters and the network interfaces
on this system, under the names accepted by the include/exclude filters.
Devices marked as not tracked are skipped by default but can still be
selected with an explicit include filter.

Examples:
  # List all available devices
  unorate list-devices

  # Use the output to configure filters
  unorate collect --include-disks="sda,nvme0n1" --exclude-networks="docker0"`,
	RunE: runListDevices,
}

func init() {
	rootCmd.AddCommand(listDevicesCmd)
}

func runListDevices(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "\n========================================")
	fmt.Fprintln(out, "   UnoRate - Available Devices")
	fmt.Fprintln(out, "========================================")

	disks, err := devices.ListDisks(ctx)
	switch {
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error listing disks: %v\n", err)
	case len(disks) == 0:
		fmt.Fprintln(out, "\nNo disk devices found.")
	default:
		fmt.Fprint(out, devices.FormatDisksTable(disks))
	}

	networks, err := devices.ListNetworkInterfaces(ctx)
	switch {
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error listing network interfaces: %v\n", err)
	case len(networks) == 0:
		fmt.Fprintln(out, "\nNo network interfaces found.")
	default:
		fmt.Fprint(out, devices.FormatNetworksTable(networks))
	}

	fmt.Fprintln(out, "\nNotes:")
	fmt.Fprintln(out, "  - Use comma to separate multiple devices: --exclude-disks=\"sdb,sdc\"")
	fmt.Fprintln(out, "  - Exclude filters take priority over include filters")
	fmt.Fprintln(out, "  - An include filter also selects devices that are not tracked by default")
	fmt.Fprintln(out, "  - Disk names may be given with or without the /dev/ prefix")
	fmt.Fprintln(out)

	return nil
}
