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

package connector

import (
	"time"
)

// TotalUnknown is used as Batch.Total when the provider doesn't report one
const TotalUnknown = -1

// Record is a normalized indicator or asset
type Record interface {
	// Valid reports whether the record satisfies its model invariant
	Valid() bool
	// Key identifies the record within one pull
	Key() string
}

// IndicatorKind is the type of an indicator value
type IndicatorKind string

// Indicator kinds
const (
	SHA256 IndicatorKind = "sha256"
	MD5    IndicatorKind = "md5"
	URL    IndicatorKind = "url"
)

// Known reports whether k is one of the supported kinds
func (k IndicatorKind) Known() bool {
	switch k {
	case SHA256, MD5, URL:
		return true
	}
	return false
}

// Indicator is an indicator of compromise
type Indicator struct {
	Value     string        `json:"value"`
	Kind      IndicatorKind `json:"type"`
	Comment   string        `json:"comments"`
	FirstSeen time.Time     `json:"firstSeen"`
	LastSeen  time.Time     `json:"lastSeen"`
}

// Valid implements Record
func (i Indicator) Valid() bool {
	return i.Value != "" && i.Kind.Known()
}

// Key implements Record
func (i Indicator) Key() string {
	return string(i.Kind) + ":" + i.Value
}

// Asset is a device discovered by an inventory provider. Optional fields are
// nil when the provider didn't report them.
type Asset struct {
	IP           *string  `json:"ip,omitempty"`
	MACAddress   *string  `json:"macAddress,omitempty"`
	Hostname     *string  `json:"hostname,omitempty"`
	OS           *string  `json:"os,omitempty"`
	Manufacturer *string  `json:"manufacturer,omitempty"`
	Tags         []string `json:"tags"`
	SourceID     *string  `json:"sourceId,omitempty"`
}

// Valid implements Record
func (a Asset) Valid() bool {
	return deref(a.IP) != "" || deref(a.MACAddress) != "" || deref(a.Hostname) != ""
}

// Key implements Record
func (a Asset) Key() string {
	if s := deref(a.SourceID); s != "" {
		return s
	}
	return deref(a.MACAddress) + "|" + deref(a.IP) + "|" + deref(a.Hostname)
}

// Str returns a pointer to s, or nil when s is empty
func Str(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Batch is one page of normalized records
type Batch struct {
	Records     []Record `json:"records"`
	IsFirstPage bool     `json:"isFirstPage"`
	IsLastPage  bool     `json:"isLastPage"`
	Count       int      `json:"count"`
	Total       int      `json:"total"`
}
