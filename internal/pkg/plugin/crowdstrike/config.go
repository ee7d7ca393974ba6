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

package crowdstrike

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/defenxor/dpull/internal/pkg/shared/cfgcheck"
	"github.com/defenxor/dpull/internal/pkg/shared/str"
)

// Config is the plugin configuration
type Config struct {
	BaseURL      string `json:"base_url" validate:"required,url"`
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret" validate:"required"`
	// Filter is an optional FQL expression passed to the indicator query
	Filter string `json:"filter"`
	// QueryLimit is the number of IDs requested per query page
	QueryLimit int  `json:"query_limit" validate:"min=0,max=2000"`
	Dedupe     bool `json:"dedupe"`
	MaxRPS     int  `json:"max_rps" validate:"min=0"`
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
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.ClientSecret = strings.TrimSpace(c.ClientSecret)
	if c.QueryLimit == 0 {
		c.QueryLimit = DefaultQueryLimit
	}
	if err := cfgcheck.Struct(c); err != nil {
		return c, err
	}
	return c, nil
}
