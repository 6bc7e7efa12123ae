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
// Package main implements the omg CLI: the package-query daemon and its
// thin client.
//
// Usage:
//
//	omg daemon                    Run the background daemon
//	omg search <query>            Fuzzy-search the package catalog
//	omg info <name>               Show one package
//	omg status [--prompt]         Show system status
//	omg archive build             Build a catalog archive
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/omglabs/omg/internal/ui"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags holds the global CLI flags that apply to all commands.
type GlobalFlags struct {
	JSON    bool   // Output in JSON format (for applicable commands)
	NoColor bool   // Disable color output
	Quiet   bool   // Suppress non-essential output
	Socket  string // Socket path override (--socket / OMG_SOCKET)
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to config.yaml (default: $XDG_CONFIG_HOME/omg/config.yaml)")
		socketPath  = flag.String("socket", "", "Daemon socket path (default: $XDG_RUNTIME_DIR/omg.sock)")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output")
	)

	// Stop parsing at the first non-flag argument (the command name) so
	// subcommand flags like "search --limit 5" reach the subcommand
	// parser instead of being rejected here.
	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `omg - fast package and runtime queries

omg keeps a background daemon with an in-memory package catalog so that
searches, package info, and system status answer in milliseconds. Shell
prompts read a tiny snapshot file without touching the daemon at all.

Usage:
  omg <command> [options]

Commands:
  daemon         Run the background daemon
  search         Fuzzy-search the package catalog
  info           Show one package's record
  status         Show system status (counters, runtimes, vulnerabilities)
  list-explicit  List explicitly installed packages
  audit          Run a security audit
  cache          Inspect or clear the daemon's response cache
  ping           Check the daemon is alive
  archive        Build catalog archive files
  config         Show current configuration
  init           Create the configuration file

Global Options:
  --json            Output in JSON format (for applicable commands)
  --no-color        Disable color output (respects NO_COLOR env var)
  --socket          Daemon socket path (default: $XDG_RUNTIME_DIR/omg.sock)
  -q, --quiet       Suppress non-essential output
  -c, --config      Path to config.yaml
  -V, --version     Show version and exit

Examples:
  omg init                           Create configuration
  omg daemon --metrics-addr :9090    Run the daemon with metrics
  omg search firefox                 Search the catalog
  omg status --prompt                One-line status for shell prompts
  omg cache stats                    Show cache hit rates

For detailed command help: omg <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("omg version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}
	// JSON mode auto-enables quiet so progress output never corrupts it.
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{
		JSON:    *jsonOutput,
		NoColor: *noColor,
		Quiet:   *quiet,
		Socket:  *socketPath,
	}

	ui.InitColors(globals.NoColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "init":
		runInit(cmdArgs, *configPath, globals)
	case "daemon":
		runDaemon(cmdArgs, *configPath, globals)
	case "search":
		runSearch(cmdArgs, *configPath, globals)
	case "info":
		runInfo(cmdArgs, *configPath, globals)
	case "status":
		runStatus(cmdArgs, *configPath, globals)
	case "list-explicit":
		runListExplicit(cmdArgs, *configPath, globals)
	case "audit":
		runAudit(cmdArgs, *configPath, globals)
	case "cache":
		runCache(cmdArgs, *configPath, globals)
	case "ping":
		runPing(cmdArgs, *configPath, globals)
	case "archive":
		runArchive(cmdArgs, *configPath, globals)
	case "config":
		runConfigCmd(cmdArgs, *configPath, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
