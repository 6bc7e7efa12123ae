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

// Package errors provides user-facing errors for the CLI.
//
// A UserError carries a short message, a details line explaining what went
// wrong, and a suggestion telling the user what to do about it. FatalError
// renders one and exits, in plain text or JSON depending on output mode.
package errors

import (
	"encoding/json"
	"fmt"
	"os"
)

// Kind classifies a UserError for JSON output.
type Kind string

const (
	KindConfig     Kind = "config"
	KindPermission Kind = "permission"
	KindDatabase   Kind = "database"
	KindNetwork    Kind = "network"
	KindProtocol   Kind = "protocol"
	KindInternal   Kind = "internal"
)

// UserError is an error with enough context to be shown to a human.
type UserError struct {
	Kind       Kind
	Message    string // one line, what failed
	Details    string // what exactly went wrong
	Suggestion string // what the user can do
	Cause      error
}

func (e *UserError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *UserError) Unwrap() error { return e.Cause }

func newUserError(kind Kind, message, details, suggestion string, cause error) *UserError {
	return &UserError{Kind: kind, Message: message, Details: details, Suggestion: suggestion, Cause: cause}
}

// NewConfigError reports a problem with the configuration file.
func NewConfigError(message, details, suggestion string, cause error) *UserError {
	return newUserError(KindConfig, message, details, suggestion, cause)
}

// NewPermissionError reports a filesystem permission problem.
func NewPermissionError(message, details, suggestion string, cause error) *UserError {
	return newUserError(KindPermission, message, details, suggestion, cause)
}

// NewDatabaseError reports a problem with the local state store.
func NewDatabaseError(message, details, suggestion string, cause error) *UserError {
	return newUserError(KindDatabase, message, details, suggestion, cause)
}

// NewNetworkError reports a problem reaching the daemon.
func NewNetworkError(message, details, suggestion string, cause error) *UserError {
	return newUserError(KindNetwork, message, details, suggestion, cause)
}

// NewProtocolError reports a wire-protocol violation.
func NewProtocolError(message, details, suggestion string, cause error) *UserError {
	return newUserError(KindProtocol, message, details, suggestion, cause)
}

// NewInternalError reports an unexpected internal failure.
func NewInternalError(message, details, suggestion string, cause error) *UserError {
	return newUserError(KindInternal, message, details, suggestion, cause)
}

// FatalError prints err and exits with status 1.
//
// Plain UserErrors render as message, details, and a suggestion line; any
// other error renders as a single line. With jsonMode the same fields are
// emitted as a JSON object on stdout for machine consumers.
func FatalError(err error, jsonMode bool) {
	if jsonMode {
		out := map[string]any{"error": err.Error()}
		if ue, ok := err.(*UserError); ok {
			out["kind"] = string(ue.Kind)
			out["message"] = ue.Message
			if ue.Details != "" {
				out["details"] = ue.Details
			}
			if ue.Suggestion != "" {
				out["suggestion"] = ue.Suggestion
			}
		}
		_ = json.NewEncoder(os.Stdout).Encode(out)
		os.Exit(1)
	}

	if ue, ok := err.(*UserError); ok {
		fmt.Fprintf(os.Stderr, "Error: %s\n", ue.Message)
		if ue.Details != "" {
			fmt.Fprintf(os.Stderr, "  %s\n", ue.Details)
		}
		if ue.Cause != nil {
			fmt.Fprintf(os.Stderr, "  cause: %v\n", ue.Cause)
		}
		if ue.Suggestion != "" {
			fmt.Fprintf(os.Stderr, "\n%s\n", ue.Suggestion)
		}
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}
