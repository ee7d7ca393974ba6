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

package forescout

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/defenxor/dpull/internal/pkg/dpull/netasset"
	"github.com/defenxor/dpull/internal/pkg/shared/cfgcheck"
	"github.com/defenxor/dpull/internal/pkg/shared/str"
)

// Pull modes
const (
	ModeRemAssets = "rem_assets"
	ModeHosts     = "hosts"
)

// DefaultLookback is the rem-assets time window in minutes
const DefaultLookback = 60

// Config is the plugin configuration
type Config struct {
	BaseURL  string `json:"base_url" validate:"required,url"`
	APIToken string `json:"api_token" validate:"required"`
	// Mode selects the endpoint, rem_assets (default) or hosts
	Mode            string             `json:"mode" validate:"oneof=rem_assets hosts"`
	LookbackMinutes int                `json:"lookback_minutes" validate:"min=0,max=525600"`
	Networks        []netasset.Network `json:"networks" validate:"dive"`
	ScopeTags       bool               `json:"scope_tags"`
	Dedupe          bool               `json:"dedupe"`
	MaxRPS          int                `json:"max_rps" validate:"min=0"`
}

func parseConfig(raw json.RawMessage) (Config, error) {
	var c Config
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, errors.Wrap(err, "cannot parse configuration")
	}
	c.BaseURL = str.TrimURL(c.BaseURL)
	c.APIToken = strings.TrimSpace(c.APIToken)
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = ModeRemAssets
	}
	if c.LookbackMinutes == 0 {
		c.LookbackMinutes = DefaultLookback
	}
	if err := cfgcheck.Struct(c); err != nil {
		return c, err
	}
	return c, nil
}
