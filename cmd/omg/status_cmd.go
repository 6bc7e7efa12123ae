// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"sort"

	flag "github.com/spf13/pflag"

	"github.com/omglabs/omg/internal/errors"
	"github.com/omglabs/omg/internal/ui"
	"github.com/omglabs/omg/pkg/snapshot"
)

// runStatus executes the 'status' command.
//
// With --prompt it reads the 16-byte snapshot file and prints one line
// without ever touching the daemon, which keeps shell prompts fast even
// when the daemon is down. Otherwise it asks the daemon for the full
// SystemStatus.
func runStatus(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	prompt := fs.Bool("prompt", false, "One-line output from the snapshot file (no daemon round trip)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: omg status [options]

Description:
  Show system status: package counters, active runtime versions, and the
  known-vulnerability count, as computed by the daemon's refresh worker.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  omg status             Full status from the daemon
  omg status --prompt    Snapshot-only fast path for shell prompts
  omg --json status      Output as JSON

`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *prompt {
		runPromptStatus(globals)
		return
	}

	c := dial(configPath, globals)
	defer c.Close()

	st, err := c.Status()
	if err != nil {
		fatalRemote(err, globals)
	}

	if globals.JSON {
		printJSON(map[string]any{
			"total_packages":      st.TotalPackages,
			"explicit":            st.Explicit,
			"orphans":             st.Orphans,
			"updates_available":   st.UpdatesAvailable,
			"runtime_versions":    st.RuntimeVersions,
			"vulnerability_count": st.VulnerabilityCount,
			"generated_at":        st.GeneratedAt,
		})
		return
	}

	ui.Header("System Status")
	fmt.Printf("%s %s (%s explicit)\n", ui.Label("Packages:"), ui.CountText(int(st.TotalPackages)), ui.CountText(int(st.Explicit)))
	fmt.Printf("%s %d\n", ui.Label("Orphans:"), st.Orphans)
	if st.UpdatesAvailable > 0 {
		_, _ = ui.Yellow.Printf("Updates available: %d\n", st.UpdatesAvailable)
	} else {
		_, _ = ui.Green.Println("System is up to date.")
	}
	if st.VulnerabilityCount > 0 {
		_, _ = ui.Red.Printf("Known vulnerabilities: %d\n", st.VulnerabilityCount)
	}
	if len(st.RuntimeVersions) > 0 {
		ui.SubHeader("Runtimes:")
		names := make([]string, 0, len(st.RuntimeVersions))
		for n := range st.RuntimeVersions {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Printf("  %s %s\n", ui.Label(n+":"), st.RuntimeVersions[n])
		}
	}
	if !st.GeneratedAt.IsZero() {
		fmt.Printf("\n%s\n", ui.DimText("as of "+st.GeneratedAt.Local().Format("15:04:05")))
	}
}

// runPromptStatus prints the snapshot counters in prompt form. Absent or
// short snapshots print nothing and exit 0, so a prompt never breaks.
func runPromptStatus(globals GlobalFlags) {
	c, ok, err := snapshot.Read(snapshotPath())
	if err != nil {
		errors.FatalError(errors.NewInternalError(
			"Cannot read status snapshot",
			fmt.Sprintf("Failed to read %s", snapshotPath()),
			"Check permissions on the runtime directory",
			err,
		), globals.JSON)
	}
	if !ok {
		// No data yet; the daemon has not published.
		return
	}
	if globals.JSON {
		printJSON(map[string]uint32{
			"total":    c.Total,
			"explicit": c.Explicit,
			"orphans":  c.Orphans,
			"updates":  c.Updates,
		})
		return
	}
	fmt.Printf("%d pkgs (%d explicit), %d updates\n", c.Total, c.Explicit, c.Updates)
}
