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
	"bytes"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/defenxor/dpull/internal/pkg/dpull/netasset"
	"github.com/defenxor/dpull/internal/pkg/dpull/pipeline"
	"github.com/defenxor/dpull/internal/pkg/shared/ip"
	"github.com/defenxor/dpull/internal/pkg/shared/str"
	"github.com/defenxor/dpull/pkg/connector"
)

// Tag prefixes of rem-assets attributes
const (
	CategoryTagPrefix  = "category:"
	FunctionTagPrefix  = "function:"
	RiskScoreTagPrefix = "risk_score:"
)

// remAssetFields are requested from the rem-assets endpoint
var remAssetFields = []string{
	"ip_addresses",
	"mac_addresses",
	"rem_category",
	"rem_vendor",
	"rem_os",
	"rem_function",
	"risk_score",
}

type remAsset struct {
	IPAddresses  []string        `json:"ip_addresses"`
	MACAddresses []string        `json:"mac_addresses"`
	Category     string          `json:"rem_category"`
	Vendor       string          `json:"rem_vendor"`
	OS           string          `json:"rem_os"`
	Function     string          `json:"rem_function"`
	RiskScore    json.RawMessage `json:"risk_score"`
}

type host struct {
	MAC      string `json:"mac"`
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Vendor   string `json:"vendor"`
}

func firstNonBlank(list []string) string {
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// scalar renders a JSON string or number without quotes, "" for null
func scalar(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", errors.Newf("%s is not a string or number", raw)
	}
	return n.String(), nil
}

func remAssetNormalizer(tagger *netasset.Tagger) pipeline.Normalizer {
	return func(raw json.RawMessage) (connector.Record, error) {
		var r remAsset
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, &connector.MalformedRecord{Reason: "cannot decode asset: " + err.Error(), Raw: string(raw)}
		}
		risk, err := scalar(r.RiskScore)
		if err != nil {
			return nil, &connector.MalformedRecord{Reason: "risk_score: " + err.Error(), Raw: string(raw)}
		}
		a := connector.Asset{
			IP:           connector.Str(ip.FirstValid(r.IPAddresses)),
			MACAddress:   connector.Str(firstNonBlank(r.MACAddresses)),
			OS:           connector.Str(strings.TrimSpace(r.OS)),
			Manufacturer: connector.Str(strings.TrimSpace(r.Vendor)),
			Tags:         []string{},
		}
		if !a.Valid() {
			return nil, &connector.MalformedRecord{Reason: "asset has no IP address, MAC address or hostname", Raw: string(raw)}
		}
		if c := strings.TrimSpace(r.Category); c != "" {
			a.Tags = str.AppendUniq(a.Tags, CategoryTagPrefix+c)
		}
		if f := strings.TrimSpace(r.Function); f != "" {
			a.Tags = str.AppendUniq(a.Tags, FunctionTagPrefix+f)
		}
		if risk != "" {
			a.Tags = str.AppendUniq(a.Tags, RiskScoreTagPrefix+risk)
		}
		a.SourceID = a.MACAddress
		if a.SourceID == nil {
			a.SourceID = a.IP
		}
		tagger.Tag(&a)
		return a, nil
	}
}

func hostNormalizer(tagger *netasset.Tagger) pipeline.Normalizer {
	return func(raw json.RawMessage) (connector.Record, error) {
		var h host
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, &connector.MalformedRecord{Reason: "cannot decode host: " + err.Error(), Raw: string(raw)}
		}
		a := connector.Asset{
			IP:           connector.Str(strings.TrimSpace(h.IP)),
			MACAddress:   connector.Str(strings.TrimSpace(h.MAC)),
			Hostname:     connector.Str(strings.TrimSpace(h.Hostname)),
			OS:           connector.Str(strings.TrimSpace(h.OS)),
			Manufacturer: connector.Str(strings.TrimSpace(h.Vendor)),
			Tags:         []string{},
		}
		if !a.Valid() {
			return nil, &connector.MalformedRecord{Reason: "host has no IP address, MAC address or hostname", Raw: string(raw)}
		}
		a.SourceID = connector.Str(str.FirstNonEmpty(h.MAC, h.IP, h.Hostname))
		if a.SourceID != nil {
			*a.SourceID = strings.TrimSpace(*a.SourceID)
		}
		tagger.Tag(&a)
		return a, nil
	}
}

// hostList extracts the host list from a hosts response, which is either a
// list or an object holding the list under "hosts" or "data"
func hostList(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, errors.Wrap(err, "cannot decode hosts list")
		}
		return list, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, errors.WithDetail(errors.New("unexpected hosts response format"), string(body))
	}
	for _, k := range []string{"hosts", "data"} {
		v, ok := obj[k]
		if !ok {
			continue
		}
		var list []json.RawMessage
		if err := json.Unmarshal(v, &list); err != nil {
			return nil, errors.Wrapf(err, "cannot decode %s list", k)
		}
		return list, nil
	}
	return nil, nil
}
