// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
)

// ProgressConfig decides whether progress bars render at all.
type ProgressConfig struct {
	Disabled bool
}

// NewProgressConfig derives progress behavior from the global flags:
// quiet and JSON modes suppress bars entirely.
func NewProgressConfig(globals GlobalFlags) ProgressConfig {
	return ProgressConfig{Disabled: globals.Quiet || globals.JSON}
}

// NewProgressBar builds a progress bar for a phase, or a silent one when
// progress output is suppressed.
func NewProgressBar(cfg ProgressConfig, total int64, description string) *progressbar.ProgressBar {
	if cfg.Disabled {
		return progressbar.NewOptions64(total, progressbar.OptionSetWriter(io.Discard))
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}
