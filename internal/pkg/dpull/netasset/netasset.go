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

// Package netasset tags assets with the configured networks their IP
// address belongs to
package netasset

import (
	"net"

	"github.com/cockroachdb/errors"
	"github.com/yl2chen/cidranger"

	"github.com/defenxor/dpull/internal/pkg/shared/ip"
	"github.com/defenxor/dpull/internal/pkg/shared/str"
	"github.com/defenxor/dpull/pkg/connector"
)

// Tag prefixes
const (
	NetworkTagPrefix = "network:"
	ScopeTagPrefix   = "scope:"
)

// Network represents a single entry in a source's networks config
type Network struct {
	Name string `json:"name" validate:"required"`
	CIDR string `json:"cidr" validate:"required,cidr"`
}

type networkEntry struct {
	ipNet net.IPNet
	name  string
}

func (e *networkEntry) Network() net.IPNet {
	return e.ipNet
}

// Tagger adds network tags to assets. A nil *Tagger leaves assets unchanged.
type Tagger struct {
	ranger cidranger.Ranger
	scope  bool
	count  int
}

// New builds a Tagger from networks. When scope is true, assets with an IP
// address are also tagged scope:private or scope:public.
func New(networks []Network, scope bool) (*Tagger, error) {
	if len(networks) == 0 && !scope {
		return nil, nil
	}
	t := &Tagger{ranger: cidranger.NewPCTrieRanger(), scope: scope}
	for _, n := range networks {
		_, ipNet, err := net.ParseCIDR(n.CIDR)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot parse network %s", n.Name)
		}
		if n.Name == "" {
			return nil, errors.New("name cannot be empty for " + n.CIDR)
		}
		if err := t.ranger.Insert(&networkEntry{ipNet: *ipNet, name: n.Name}); err != nil {
			return nil, errors.Wrapf(err, "cannot add network %s", n.Name)
		}
		t.count++
	}
	return t, nil
}

// Len returns the number of networks loaded
func (t *Tagger) Len() int {
	if t == nil {
		return 0
	}
	return t.count
}

// Names returns the names of every network containing addr, least specific
// first
func (t *Tagger) Names(addr string) []string {
	if t == nil || t.count == 0 {
		return nil
	}
	ipn, err := ip.Parse(addr)
	if err != nil {
		return nil
	}
	entries, err := t.ranger.ContainingNetworks(ipn)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		names = str.AppendUniq(names, e.(*networkEntry).name)
	}
	return names
}

// Tag appends network and scope tags to a based on its IP address
func (t *Tagger) Tag(a *connector.Asset) {
	if t == nil || a == nil || a.IP == nil {
		return
	}
	for _, n := range t.Names(*a.IP) {
		a.Tags = str.AppendUniq(a.Tags, NetworkTagPrefix+n)
	}
	if !t.scope {
		return
	}
	private, err := ip.IsPrivateIP(*a.IP)
	if err != nil {
		return
	}
	if private {
		a.Tags = str.AppendUniq(a.Tags, ScopeTagPrefix+"private")
	} else {
		a.Tags = str.AppendUniq(a.Tags, ScopeTagPrefix+"public")
	}
}
