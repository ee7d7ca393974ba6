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

// Package paginate drives provider listing endpoints one page at a time.
//
// Both strategies return a lazy iter.Seq2 of Page. A page is fetched only
// when the consumer asks for it, and the sequence stops at the first error.
package paginate

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/cockroachdb/errors"

	log "github.com/defenxor/dpull/internal/pkg/shared/logger"
	"github.com/defenxor/dpull/pkg/connector"
)

const (
	// BatchSize is the number of IDs resolved by one entities call
	BatchSize = 100
	// Ceiling is the maximum number of pages fetched in one pull
	Ceiling = 1000
)

// Page is one page of raw provider records
type Page struct {
	Items  []json.RawMessage
	Number int
	First  bool
	Last   bool
	// Total is the provider reported total, or connector.TotalUnknown
	Total int
}

// Chunk splits ids into consecutive slices of at most size elements
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = BatchSize
	}
	var out [][]string
	for len(ids) > 0 {
		n := size
		if len(ids) < n {
			n = len(ids)
		}
		out = append(out, ids[:n:n])
		ids = ids[n:]
	}
	return out
}

// Resolver fetches the records of one ID batch
type Resolver func(ctx context.Context, ids []string) ([]json.RawMessage, error)

// IDBatch resolves ids in batches of size, one call per batch. An empty ids
// yields nothing.
func IDBatch(ctx context.Context, ids []string, size int, resolve Resolver) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		batches := Chunk(ids, size)
		for i, b := range batches {
			if err := ctx.Err(); err != nil {
				yield(Page{}, err)
				return
			}
			items, err := resolve(ctx, b)
			if err != nil {
				yield(Page{}, errors.Wrapf(err, "resolving batch %d of %d", i+1, len(batches)))
				return
			}
			p := Page{
				Items:  items,
				Number: i,
				First:  i == 0,
				Last:   i == len(batches)-1,
				Total:  len(ids),
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

// Fetcher fetches page number n. total is the provider reported total or
// connector.TotalUnknown.
type Fetcher func(ctx context.Context, n int) (items []json.RawMessage, total int, err error)

// Offset configures an offset-page walk
type Offset struct {
	// Ceiling defaults to the package Ceiling when <= 0
	Ceiling int
	Fetch   Fetcher
	Log     log.Logger
}

// Walk fetches pages 0, 1, 2... until a page has no results or the ceiling
// is reached. An empty page after at least one non-empty page is yielded as
// the Last page, an empty first page yields nothing.
func (o Offset) Walk(ctx context.Context) iter.Seq2[Page, error] {
	ceiling := o.Ceiling
	if ceiling <= 0 {
		ceiling = Ceiling
	}
	return func(yield func(Page, error) bool) {
		for n := 0; n < ceiling; n++ {
			if err := ctx.Err(); err != nil {
				yield(Page{}, err)
				return
			}
			items, total, err := o.Fetch(ctx, n)
			if err != nil {
				yield(Page{}, errors.Wrapf(err, "fetching page %d", n))
				return
			}
			if len(items) == 0 {
				if n > 0 {
					yield(Page{Number: n, Last: true, Total: total}, nil)
				}
				return
			}
			last := n == ceiling-1
			if last {
				o.Log.Warn(fmt.Sprintf("Reached the page ceiling of %d pages, stopping pagination.", ceiling))
			}
			if !yield(Page{Items: items, Number: n, First: n == 0, Last: last, Total: total}, nil) {
				return
			}
		}
	}
}

// CursorFetcher fetches one page of IDs starting at cursor after ("" for the
// first page) and returns the cursor of the next page, "" when exhausted.
type CursorFetcher func(ctx context.Context, after string) (ids []string, next string, err error)

// CollectIDs follows cursors until exhausted or until ceiling pages were
// fetched, and returns every ID seen. Reaching the ceiling is logged, not
// returned as an error.
func CollectIDs(ctx context.Context, ceiling int, l log.Logger, fetch CursorFetcher) ([]string, error) {
	if ceiling <= 0 {
		ceiling = Ceiling
	}
	var all []string
	after := ""
	for n := 0; n < ceiling; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids, next, err := fetch(ctx, after)
		if err != nil {
			return nil, errors.Wrapf(err, "fetching ID page %d", n)
		}
		all = append(all, ids...)
		if next == "" || len(ids) == 0 || next == after {
			return all, nil
		}
		after = next
	}
	l.Warn(fmt.Sprintf("Reached the page ceiling of %d pages while collecting IDs, %d IDs collected.", ceiling, len(all)))
	return all, nil
}

// Total returns the reported total from a decoded page, or
// connector.TotalUnknown when t is nil
func Total(t *int) int {
	if t == nil {
		return connector.TotalUnknown
	}
	return *t
}
