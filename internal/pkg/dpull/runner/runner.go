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

// Package runner validates and pulls many sources concurrently and hands
// the resulting batches to a sink
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	rc "github.com/paulbellamy/ratecounter"
	"github.com/remeh/sizedwaitgroup"

	"github.com/defenxor/dpull/internal/pkg/dpull/sink"
	"github.com/defenxor/dpull/internal/pkg/dpull/source"
	"github.com/defenxor/dpull/internal/pkg/shared/apm"
	"github.com/defenxor/dpull/internal/pkg/shared/idgen"
	log "github.com/defenxor/dpull/internal/pkg/shared/logger"
)

// DefaultParallel is the number of sources processed at once
const DefaultParallel = 4

// RateWindow is the window over which Rate counts written records
const RateWindow = time.Minute

// Result is the outcome of one source
type Result struct {
	Source   string        `json:"source"`
	Plugin   string        `json:"plugin"`
	Run      string        `json:"run"`
	Success  bool          `json:"success"`
	Message  string        `json:"message"`
	Batches  int           `json:"batches,omitempty"`
	Records  int           `json:"records,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Runner processes sources with bounded concurrency
type Runner struct {
	Sink     sink.Sink
	Parallel int
	rate     *rc.RateCounter
	now      func() time.Time
}

// New returns a Runner writing to s
func New(s sink.Sink, parallel int) *Runner {
	if parallel <= 0 {
		parallel = DefaultParallel
	}
	return &Runner{Sink: s, Parallel: parallel, rate: rc.NewRateCounter(RateWindow), now: time.Now}
}

// Rate returns the number of records written to the sink during the last
// RateWindow, across all sources
func (r *Runner) Rate() int64 {
	return r.rate.Rate()
}

type job func(ctx context.Context, src source.Source, l log.Logger, res *Result)

func (r *Runner) each(ctx context.Context, sources []source.Source, txName string, fn job) []Result {
	results := make([]Result, len(sources))
	swg := sizedwaitgroup.New(r.Parallel)
	for i := range sources {
		swg.Add()
		go func(i int) {
			defer swg.Done()
			src := sources[i]
			res := &results[i]
			res.Source = src.Name
			res.Plugin = src.Plugin
			if err := ctx.Err(); err != nil {
				res.Err = err
				res.Message = err.Error()
				return
			}
			res.Run = idgen.RunID()
			start := r.now()

			tx := apm.StartRun(txName, src.Name, src.Plugin, res.Run)
			defer func() {
				if p := recover(); p != nil {
					res.Success = false
					res.Err = errors.Newf("panic: %v", p)
					res.Message = res.Err.Error()
				}
				res.Duration = r.now().Sub(start)
				tx.Finish(res.Success, res.Err)
			}()
			fn(ctx, src, log.Logger{Run: res.Run}, res)
		}(i)
	}
	swg.Wait()
	return results
}

// Validate runs Validate of every source with its own configuration
func (r *Runner) Validate(ctx context.Context, sources []source.Source) []Result {
	return r.each(ctx, sources, "Validate", func(ctx context.Context, src source.Source, l log.Logger, res *Result) {
		p, err := src.Build(l)
		if err != nil {
			res.Err = err
			res.Message = err.Error()
			return
		}
		v := p.Validate(ctx, src.Config)
		res.Success = v.Success
		res.Message = v.Message
	})
}

// Pull pulls every source and writes the batches to the sink
func (r *Runner) Pull(ctx context.Context, sources []source.Source) []Result {
	return r.each(ctx, sources, "Pull", func(ctx context.Context, src source.Source, l log.Logger, res *Result) {
		p, err := src.Build(l)
		if err != nil {
			res.Err = err
			res.Message = err.Error()
			return
		}
		meta := sink.Meta{Source: src.Name, Plugin: src.Plugin, Run: res.Run, Pulled: r.now().UTC()}
		for b, err := range p.Pull(ctx) {
			if err != nil {
				res.Err = err
				res.Message = err.Error()
				return
			}
			res.Batches++
			res.Records += b.Count
			if b.Count == 0 {
				continue
			}
			if err := r.Sink.Write(ctx, meta, b); err != nil {
				res.Err = errors.Wrap(err, "cannot write batch")
				res.Message = res.Err.Error()
				l.Error("Cannot write batch of source " + src.Name + ". Error: " + err.Error())
				return
			}
			r.rate.Incr(int64(b.Count))
		}
		res.Success = true
		res.Message = fmt.Sprintf("Pulled %d records in %d batches.", res.Records, res.Batches)
	})
}
