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
	"path/filepath"

	flag "github.com/spf13/pflag"

	"github.com/omglabs/omg/internal/errors"
	"github.com/omglabs/omg/internal/ui"
	"github.com/omglabs/omg/pkg/catalog"
)

// runArchive executes the 'archive' command family.
//
//	omg archive build --input packages.json [--output FILE]
//	omg archive verify <file>
func runArchive(args []string, configPath string, globals GlobalFlags) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: omg archive <build|verify> [options]")
		os.Exit(1)
	}
	switch args[0] {
	case "build":
		runArchiveBuild(args[1:], configPath, globals)
	case "verify":
		runArchiveVerify(args[1:], globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown archive subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

// runArchiveBuild serializes a package list into a memory-mappable
// catalog archive. The input is the JSON dump format produced by the
// platform backends' export tools.
func runArchiveBuild(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("archive build", flag.ExitOnError)
	input := fs.String("input", "", "JSON package dump to read (required)")
	output := fs.String("output", "", "Archive file to write (default: <data_dir>/catalogs/official.archive)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: omg archive build --input packages.json [options]

Description:
  Build a catalog archive from a JSON package dump. At startup the daemon
  memory-maps the first *.archive under <data_dir>/catalogs/ (in name
  order) and serves lookups from it without copying, falling back to the
  backend when it does not validate. Other archives there are not read.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *input == "" {
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}
	if *output == "" {
		*output = filepath.Join(catalogDir(cfg), "official.archive")
	}

	data, err := os.ReadFile(*input) //nolint:gosec // G304: user-supplied input path
	if err != nil {
		errors.FatalError(errors.NewConfigError(
			"Cannot read package dump",
			fmt.Sprintf("Failed to read %s", *input),
			"Export one with your backend's dump tool first",
			err,
		), globals.JSON)
	}

	var records []catalog.PackageRecord
	if err := json.Unmarshal(data, &records); err != nil {
		errors.FatalError(errors.NewConfigError(
			"Invalid package dump",
			"JSON parsing failed",
			"The dump must be an array of package records",
			err,
		), globals.JSON)
	}

	if err := os.MkdirAll(filepath.Dir(*output), 0750); err != nil {
		errors.FatalError(errors.NewPermissionError(
			"Cannot create catalog directory",
			fmt.Sprintf("Failed to create %s", filepath.Dir(*output)),
			"Check permissions on the data directory",
			err,
		), globals.JSON)
	}

	bar := NewProgressBar(NewProgressConfig(globals), int64(len(records)), "Validating records")
	for i := range records {
		if !catalog.ValidName(records[i].Name) {
			errors.FatalError(errors.NewConfigError(
				"Invalid package name in dump",
				fmt.Sprintf("Record %d has name %q", i, records[i].Name),
				"Fix the dump and rerun",
				nil,
			), globals.JSON)
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	if err := catalog.WriteArchive(*output, records); err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot write archive",
			err.Error(),
			"Check free disk space and permissions",
			err,
		), globals.JSON)
	}

	if globals.JSON {
		printJSON(map[string]any{"output": *output, "packages": len(records)})
		return
	}
	ui.Header("Archive Built")
	fmt.Printf("%s %s\n", ui.Label("Output:"), *output)
	fmt.Printf("%s %s\n", ui.Label("Packages:"), ui.CountText(len(records)))
	fmt.Println()
	fmt.Println("The daemon picks up new archives on its next scheduled")
	fmt.Println("rebuild, or immediately after 'omg cache clear'.")
}

// runArchiveVerify maps an archive and runs the structural validation.
func runArchiveVerify(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("archive verify", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: omg archive verify <file>\n\nValidate an archive's structure and checksum.\n")
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}

	a, err := catalog.OpenArchive(fs.Arg(0))
	if err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Archive failed validation",
			err.Error(),
			"Rebuild it with 'omg archive build'",
			err,
		), globals.JSON)
	}
	defer a.Close()

	if globals.JSON {
		printJSON(map[string]any{"path": a.Path(), "packages": a.Len(), "valid": true})
		return
	}
	_, _ = ui.Green.Printf("OK: %d packages\n", a.Len())
}
