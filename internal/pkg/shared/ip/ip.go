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

package ip

import (
	"net"
	"strings"

	"github.com/cockroachdb/errors"
)

var privateIPBlocks []*net.IPNet

func init() {
	for _, cidr := range []string{
		"127.0.0.0/8",    // IPv4 loopback
		"10.0.0.0/8",     // RFC1918
		"172.16.0.0/12",  // RFC1918
		"192.168.0.0/16", // RFC1918
		"::1/128",        // IPv6 loopback
		"fe80::/10",      // IPv6 link-local
		"fc00::/7",       // IPv6 unique local
	} {
		_, block, _ := net.ParseCIDR(cidr)
		privateIPBlocks = append(privateIPBlocks, block)
	}
}

// Parse returns the IP address in s, surrounding whitespace is ignored
func Parse(s string) (net.IP, error) {
	ipn := net.ParseIP(strings.TrimSpace(s))
	if ipn == nil {
		return nil, errors.Newf("%q is not an IP address", s)
	}
	return ipn, nil
}

// IsPrivateIP check if IP is in private range
func IsPrivateIP(ip string) (bool, error) {
	ipn, err := Parse(ip)
	if err != nil {
		return false, err
	}
	for _, block := range privateIPBlocks {
		if block.Contains(ipn) {
			return true, nil
		}
	}
	return false, nil
}

// FirstValid returns the canonical form of the first parseable address in
// list, or an empty string when there is none
func FirstValid(list []string) string {
	for _, s := range list {
		if ipn, err := Parse(s); err == nil {
			return ipn.String()
		}
	}
	return ""
}
