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
	"encoding/json"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/omglabs/omg/internal/errors"
	"github.com/omglabs/omg/internal/ui"
	"github.com/omglabs/omg/pkg/client"
	"github.com/omglabs/omg/pkg/protocol"
)

const dialTimeout = 2 * time.Second

// dial connects to the daemon or exits with a hint to start it.
func dial(configPath string, globals GlobalFlags) *client.Client {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}
	c, err := client.Dial(socketPath(cfg, globals), dialTimeout)
	if err != nil {
		errors.FatalError(errors.NewNetworkError(
			"Cannot connect to the omg daemon",
			fmt.Sprintf("Failed to reach %s", socketPath(cfg, globals)),
			"Start it with 'omg daemon', or pass --socket if it listens elsewhere",
			err,
		), globals.JSON)
	}
	return c
}

func fatalRemote(err error, globals GlobalFlags) {
	if re, ok := err.(*client.RemoteError); ok && re.Code == protocol.CodePackageNotFound {
		errors.FatalError(errors.NewInternalError("Package not found", re.Message, "Check the spelling, or run 'omg search' first", nil), globals.JSON)
	}
	errors.FatalError(errors.NewNetworkError("Daemon request failed", err.Error(), "Check the daemon log", err), globals.JSON)
}

// runSearch executes the 'search' command.
func runSearch(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	limit := fs.Uint32("limit", 0, "Maximum results (0 uses the daemon default)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: omg search <query> [options]

Description:
  Fuzzy-search package names and descriptions. Results are ranked with
  name matches weighted above description matches.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}

	c := dial(configPath, globals)
	defer c.Close()

	items, err := c.Search(fs.Arg(0), *limit)
	if err != nil {
		fatalRemote(err, globals)
	}

	if globals.JSON {
		printJSON(items)
		return
	}
	if len(items) == 0 {
		fmt.Println("No packages found.")
		return
	}
	for _, it := range items {
		marker := " "
		if it.Installed {
			marker = ui.Label("*")
		}
		fmt.Printf("%s %s %s\n    %s\n", marker, ui.Label(it.Name), ui.DimText(it.Version), it.Description)
	}
}

// runInfo executes the 'info' command.
func runInfo(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: omg info <name>\n\nShow one package's record: version, repository, dependencies, size.\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}

	c := dial(configPath, globals)
	defer c.Close()

	rec, err := c.Info(fs.Arg(0))
	if err != nil {
		fatalRemote(err, globals)
	}

	if globals.JSON {
		printJSON(rec)
		return
	}
	ui.Header(rec.Name)
	fmt.Printf("%s %s\n", ui.Label("Version:"), rec.Version)
	fmt.Printf("%s %s\n", ui.Label("Repository:"), rec.Repo)
	fmt.Printf("%s %s\n", ui.Label("Description:"), rec.Description)
	fmt.Printf("%s %v\n", ui.Label("Installed:"), rec.Installed)
	if rec.Installed {
		fmt.Printf("%s %v\n", ui.Label("Explicit:"), rec.Explicit)
	}
	if len(rec.Dependencies) > 0 {
		fmt.Printf("%s %v\n", ui.Label("Depends:"), rec.Dependencies)
	}
	if rec.SizeBytes > 0 {
		fmt.Printf("%s %d bytes\n", ui.Label("Size:"), rec.SizeBytes)
	}
}

// runListExplicit executes the 'list-explicit' command.
func runListExplicit(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("list-explicit", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: omg list-explicit\n\nList explicitly installed packages, ordered by name.\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	c := dial(configPath, globals)
	defer c.Close()

	pkgs, err := c.Explicit()
	if err != nil {
		fatalRemote(err, globals)
	}

	if globals.JSON {
		printJSON(pkgs)
		return
	}
	for _, p := range pkgs {
		fmt.Printf("%s %s\n", ui.Label(p.Name), ui.DimText(p.Version))
	}
	if !globals.Quiet {
		fmt.Printf("\n%s packages\n", ui.CountText(len(pkgs)))
	}
}

// runAudit executes the 'audit' command.
func runAudit(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: omg audit [package]\n\nRun a security audit of one package, or of the whole system.\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	pkg := ""
	if fs.NArg() > 0 {
		pkg = fs.Arg(0)
	}

	c := dial(configPath, globals)
	defer c.Close()

	rep, err := c.Audit(pkg)
	if err != nil {
		fatalRemote(err, globals)
	}

	if globals.JSON {
		printJSON(rep)
		return
	}
	ui.Header("Security Audit")
	if rep.Package != "" {
		fmt.Printf("%s %s\n", ui.Label("Package:"), rep.Package)
	}
	if rep.Total == 0 {
		_, _ = ui.Green.Println("No known vulnerabilities.")
		return
	}
	_, _ = ui.Yellow.Printf("%d known vulnerabilities\n", rep.Total)
	for _, f := range rep.Findings {
		fmt.Printf("  %s %s (%s): %s\n", ui.Label(f.ID), f.Package, f.Severity, f.Summary)
	}
}

// runCache executes the 'cache' command (stats | clear).
func runCache(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: omg cache <stats|clear>\n\nInspect or clear the daemon's response cache.\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}

	c := dial(configPath, globals)
	defer c.Close()

	switch fs.Arg(0) {
	case "stats":
		stats, err := c.CacheStats()
		if err != nil {
			fatalRemote(err, globals)
		}
		if globals.JSON {
			printJSON(stats)
			return
		}
		ui.Header("Cache")
		fmt.Printf("%s %d / %d entries\n", ui.Label("Size:"), stats.Size, stats.Capacity)
		fmt.Printf("%s %d\n", ui.Label("Hits:"), stats.Hits)
		fmt.Printf("%s %d\n", ui.Label("Misses:"), stats.Misses)
		if total := stats.Hits + stats.Misses; total > 0 {
			fmt.Printf("%s %.1f%%\n", ui.Label("Hit rate:"), 100*float64(stats.Hits)/float64(total))
		}
	case "clear":
		cleared, err := c.CacheClear()
		if err != nil {
			fatalRemote(err, globals)
		}
		if globals.JSON {
			printJSON(map[string]uint32{"cleared": cleared})
			return
		}
		_, _ = ui.Green.Printf("Cleared %d entries.\n", cleared)
	default:
		fs.Usage()
		os.Exit(1)
	}
}

// runPing executes the 'ping' command.
func runPing(args []string, configPath string, globals GlobalFlags) {
	_ = args
	c := dial(configPath, globals)
	defer c.Close()

	start := time.Now()
	if err := c.Ping(); err != nil {
		fatalRemote(err, globals)
	}
	if globals.JSON {
		printJSON(map[string]string{"status": "ok", "rtt": time.Since(start).String()})
		return
	}
	_, _ = ui.Green.Printf("pong (%s)\n", time.Since(start))
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
