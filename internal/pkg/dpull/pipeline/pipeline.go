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

// Package pipeline turns pages of raw provider records into connector
// batches.
package pipeline

import (
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/defenxor/dpull/internal/pkg/dpull/paginate"
	"github.com/defenxor/dpull/internal/pkg/shared/cache"
	log "github.com/defenxor/dpull/internal/pkg/shared/logger"
	"github.com/defenxor/dpull/pkg/connector"
)

// Normalizer maps one raw record. A nil Record with nil error skips the
// record silently.
type Normalizer func(raw json.RawMessage) (connector.Record, error)

// Options for Run
type Options struct {
	Log log.Logger
	// Dedupe drops records whose Key was already emitted in this run. Keys
	// are remembered for DedupeWindow, a pull running longer than that may
	// emit a record again.
	Dedupe       bool
	DedupeWindow time.Duration
	// Kind names the records in log entries, e.g. "indicator"
	Kind string
}

// DefaultDedupeWindow is used when Options.DedupeWindow is not set
const DefaultDedupeWindow = 24 * time.Hour

func newDedupe(opts Options) (*cache.Cache, error) {
	w := opts.DedupeWindow
	if w <= 0 {
		w = DefaultDedupeWindow
	}
	minutes := int((w + time.Minute - 1) / time.Minute)
	return cache.New("dedupe", minutes, 0)
}

// Stats counts what Run did with the records it received
type Stats struct {
	Pages   int
	Emitted int
	Skipped int
	Dupes   int
}

// Run normalizes every page from pages into a Batch. A record the
// normalizer rejects, or one failing Valid, is logged with its raw payload
// and skipped. Errors from pages end the sequence after being logged.
// stats, when non-nil, is updated as batches are produced.
func Run(pages iter.Seq2[paginate.Page, error], normalize Normalizer, opts Options, stats *Stats) iter.Seq2[connector.Batch, error] {
	if stats == nil {
		stats = &Stats{}
	}
	kind := opts.Kind
	if kind == "" {
		kind = "record"
	}
	return func(yield func(connector.Batch, error) bool) {
		var seen *cache.Cache
		if opts.Dedupe {
			c, err := newDedupe(opts)
			if err != nil {
				yield(connector.Batch{}, errors.Wrap(err, "cannot create de-duplication cache"))
				return
			}
			defer func() { _ = c.Close() }()
			seen = c
		}

		for p, err := range pages {
			if err != nil {
				opts.Log.Error(fmt.Sprintf("Error occurred while pulling %ss. Error: %s", kind, err.Error()), errors.FlattenDetails(err))
				yield(connector.Batch{}, err)
				return
			}
			stats.Pages++
			b := connector.Batch{
				Records:     make([]connector.Record, 0, len(p.Items)),
				IsFirstPage: p.First,
				IsLastPage:  p.Last,
				Total:       p.Total,
			}
			for _, raw := range p.Items {
				rec, err := normalizeOne(normalize, raw)
				if err != nil {
					stats.Skipped++
					opts.Log.Error(fmt.Sprintf("Skipping %s: %s", kind, err.Error()), string(raw))
					continue
				}
				if rec == nil {
					stats.Skipped++
					continue
				}
				if seen != nil && seen.Seen(rec.Key()) {
					stats.Dupes++
					continue
				}
				b.Records = append(b.Records, rec)
			}
			b.Count = len(b.Records)
			stats.Emitted += b.Count
			opts.Log.Debug(fmt.Sprintf("Page %d normalized, %d of %d %ss kept.", p.Number, b.Count, len(p.Items), kind))
			if !yield(b, nil) {
				return
			}
		}
	}
}

func normalizeOne(normalize Normalizer, raw json.RawMessage) (rec connector.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = &connector.MalformedRecord{Reason: fmt.Sprint("normalizer panic: ", r), Raw: string(raw)}
		}
	}()
	rec, err = normalize(raw)
	if err != nil {
		var mr *connector.MalformedRecord
		if !errors.As(err, &mr) {
			err = &connector.MalformedRecord{Reason: err.Error(), Raw: string(raw)}
		}
		return nil, err
	}
	if rec != nil && !rec.Valid() {
		return nil, &connector.MalformedRecord{Reason: "record does not satisfy the model invariant", Raw: string(raw)}
	}
	return rec, nil
}
