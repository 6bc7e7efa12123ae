// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package daemon

import (
	"fmt"

	"github.com/omglabs/omg/pkg/catalog"
	"github.com/omglabs/omg/pkg/protocol"
)

// Request validation limits.
const (
	maxQueryBytes      = 500
	maxSearchLimit     = 1000
	DefaultSearchLimit = 50
)

// validate bounds-checks req before dispatch. It returns the (possibly
// clamped) request, or an InvalidParams response; the connection stays
// open either way.
func validate(req protocol.Request) (protocol.Request, *protocol.ErrorResponse) {
	switch r := req.(type) {
	case protocol.SearchRequest:
		if len(r.Query) > maxQueryBytes {
			return nil, invalidParams(r.ID, fmt.Sprintf("query exceeds %d bytes", maxQueryBytes))
		}
		if r.Limit == 0 {
			r.Limit = DefaultSearchLimit
		}
		if r.Limit > maxSearchLimit {
			r.Limit = maxSearchLimit
		}
		return r, nil
	case protocol.InfoRequest:
		if !catalog.ValidName(r.Name) {
			return nil, invalidParams(r.ID, "invalid package name")
		}
		return r, nil
	case protocol.SecurityAuditRequest:
		if r.Package != "" && !catalog.ValidName(r.Package) {
			return nil, invalidParams(r.ID, "invalid package name")
		}
		return r, nil
	default:
		return req, nil
	}
}

func invalidParams(id uint32, msg string) *protocol.ErrorResponse {
	return &protocol.ErrorResponse{ID: id, Code: protocol.CodeInvalidParams, Message: msg}
}
