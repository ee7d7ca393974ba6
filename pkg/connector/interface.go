// Copyright (c) 2018 PT Defender Nusa Semesta and contributors, All rights reserved.
//
// This file is part of Dpull.
//
// Dpull is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation version 3 of the License.
//
// Dpull is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Dpull. If not, see <https://www.gnu.org/licenses/>.

// Package connector provides the contract between a host and the pull plugins
package connector

import (
	"context"
	"encoding/json"
	"iter"

	log "github.com/defenxor/dpull/internal/pkg/shared/logger"
)

// Puller defines the behaviour that must be implemented by a pull plugin
type Puller interface {
	// Validate checks config and probes the provider with it. It never
	// returns an error, failures are reported in the result.
	Validate(ctx context.Context, config json.RawMessage) ValidationResult
	// Pull returns a one-pass sequence of batches. The next page is only
	// requested after the consumer returns from the previous one. A non-nil
	// error ends the sequence.
	Pull(ctx context.Context) iter.Seq2[Batch, error]
}

// Factory constructs a Puller from Options
type Factory func(opts Options) (Puller, error)

// PluginInfo is the name and version a plugin reports to providers and logs.
// Empty fields fall back to the plugin's own defaults.
type PluginInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Options defines what the host passes to a plugin constructor
type Options struct {
	Name          string          // instance name
	Config        json.RawMessage // plugin specific configuration
	Proxy         string          // outbound proxy URL, empty for direct connection
	SSLValidation bool
	Logger        log.Logger
	Plugin        PluginInfo
}

// ValidationResult is returned by Puller.Validate
type ValidationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Valid returns a successful ValidationResult
func Valid(msg string) ValidationResult {
	return ValidationResult{Success: true, Message: msg}
}

// Invalid returns a failed ValidationResult
func Invalid(msg string) ValidationResult {
	return ValidationResult{Success: false, Message: msg}
}
