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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/defenxor/dpull/internal/pkg/dpull/pipeline"
	log "github.com/defenxor/dpull/internal/pkg/shared/logger"
	"github.com/defenxor/dpull/pkg/connector"
)

var kinds = map[string]connector.IndicatorKind{
	"sha256": connector.SHA256,
	"md5":    connector.MD5,
	"domain": connector.URL,
	"ipv4":   connector.URL,
	"ipv6":   connector.URL,
}

type rawIndicator struct {
	Value       string          `json:"value"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	CreatedOn   json.RawMessage `json:"created_on"`
	ModifiedOn  json.RawMessage `json:"modified_on"`
}

// normalizer maps CrowdStrike IOC entities to indicators. start is used for
// FirstSeen when created_on is missing.
func normalizer(start time.Time, l log.Logger) pipeline.Normalizer {
	return func(raw json.RawMessage) (connector.Record, error) {
		var r rawIndicator
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, &connector.MalformedRecord{Reason: "cannot decode indicator: " + err.Error(), Raw: string(raw)}
		}
		r.Value = strings.TrimSpace(r.Value)
		if r.Value == "" {
			return nil, &connector.MalformedRecord{Reason: "indicator has no value", Raw: string(raw)}
		}
		kind, ok := kinds[strings.ToLower(strings.TrimSpace(r.Type))]
		if !ok {
			l.Debug(fmt.Sprintf("Skipping indicator %s, unsupported type %q.", r.Value, r.Type))
			return nil, nil
		}
		first, err := parseTime(r.CreatedOn, start)
		if err != nil {
			return nil, &connector.MalformedRecord{Reason: "created_on: " + err.Error(), Raw: string(raw)}
		}
		last, err := parseTime(r.ModifiedOn, first)
		if err != nil {
			return nil, &connector.MalformedRecord{Reason: "modified_on: " + err.Error(), Raw: string(raw)}
		}
		return connector.Indicator{
			Value:     r.Value,
			Kind:      kind,
			Comment:   r.Description,
			FirstSeen: first,
			LastSeen:  last,
		}, nil
	}
}

// parseTime accepts an RFC3339 string or epoch seconds, or epoch
// milliseconds for values past the year 5138. Missing or null values return
// def.
func parseTime(raw json.RawMessage, def time.Time) (time.Time, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" || s == `""` {
		return def, nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return time.Time{}, err
		}
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(v))
		if err != nil {
			return time.Time{}, fmt.Errorf("%q is not an RFC3339 timestamp", v)
		}
		return t.UTC(), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s is not a timestamp", s)
	}
	if f > 1e11 {
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	return time.Unix(int64(f), 0).UTC(), nil
}
