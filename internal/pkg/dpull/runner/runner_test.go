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

package runner

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/defenxor/dpull/internal/pkg/dpull/sink"
	"github.com/defenxor/dpull/internal/pkg/dpull/source"
	"github.com/defenxor/dpull/internal/pkg/shared/apm"
	"github.com/defenxor/dpull/pkg/connector"
)

var (
	running int32
	peak    int32
)

type fakePuller struct {
	mode string
	run  string
}

func (f *fakePuller) Validate(ctx context.Context, config json.RawMessage) connector.ValidationResult {
	var c struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(config, &c)
	if c.Token == "" {
		return connector.Invalid("token is a required field")
	}
	return connector.Valid("Validation successful.")
}

func (f *fakePuller) Pull(ctx context.Context) iter.Seq2[connector.Batch, error] {
	return func(yield func(connector.Batch, error) bool) {
		n := atomic.AddInt32(&running, 1)
		defer atomic.AddInt32(&running, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		switch f.mode {
		case "fail":
			yield(connector.Batch{}, &connector.APIError{StatusCode: 500})
			return
		case "panic":
			panic("plugin bug")
		}
		rec := connector.Indicator{Value: "abc", Kind: connector.SHA256}
		if !yield(connector.Batch{Records: []connector.Record{rec, rec}, IsFirstPage: true, Count: 2, Total: 3}, nil) {
			return
		}
		if !yield(connector.Batch{Records: []connector.Record{rec}, IsLastPage: true, Count: 1, Total: 3}, nil) {
			return
		}
		yield(connector.Batch{IsLastPage: true, Total: 3}, nil)
	}
}

type memSink struct {
	sync.Mutex
	metas   []sink.Meta
	records int
	err     error
}

func (m *memSink) Write(ctx context.Context, meta sink.Meta, b connector.Batch) error {
	m.Lock()
	defer m.Unlock()
	if m.err != nil {
		return m.err
	}
	m.metas = append(m.metas, meta)
	m.records += b.Count
	return nil
}

func (m *memSink) Close() error { return nil }

func init() {
	connector.Factories.Register(func(o connector.Options) (connector.Puller, error) {
		var c struct {
			Mode string `json:"mode"`
		}
		_ = json.Unmarshal(o.Config, &c)
		if c.Mode == "broken" {
			return nil, errors.New("bad proxy")
		}
		return &fakePuller{mode: c.Mode, run: o.Logger.Run}, nil
	}, "runner-fake")
}

func src(name, cfg string) source.Source {
	return source.Source{Name: name, Plugin: "runner-fake", Enabled: true, Config: json.RawMessage(cfg)}
}

func TestPull(t *testing.T) {
	apm.Enable(true)
	defer apm.Enable(false)

	ms := &memSink{}
	r := New(ms, 2)
	sources := []source.Source{
		src("a", `{}`), src("b", `{}`), src("c", `{"mode":"fail"}`),
		src("d", `{"mode":"panic"}`), src("e", `{"mode":"broken"}`), src("f", `{}`),
	}
	atomic.StoreInt32(&peak, 0)
	results := r.Pull(context.Background(), sources)
	if len(results) != len(sources) {
		t.Fatalf("expected %d results, got %d", len(sources), len(results))
	}
	for i, res := range results {
		if res.Source != sources[i].Name || res.Plugin != "runner-fake" {
			t.Errorf("result %d out of order: %+v", i, res)
		}
	}
	for _, i := range []int{0, 1, 5} {
		res := results[i]
		if !res.Success || res.Records != 3 || res.Batches != 3 || res.Run == "" {
			t.Errorf("%s: unexpected result %+v", res.Source, res)
		}
	}
	var apiErr *connector.APIError
	if results[2].Success || !errors.As(results[2].Err, &apiErr) {
		t.Errorf("c: expected APIError, got %+v", results[2])
	}
	if results[3].Success || !strings.Contains(results[3].Message, "plugin bug") {
		t.Errorf("d: expected recovered panic, got %+v", results[3])
	}
	if results[4].Success || !strings.Contains(results[4].Message, "bad proxy") {
		t.Errorf("e: expected build error, got %+v", results[4])
	}
	// empty batches are not written
	if ms.records != 9 || len(ms.metas) != 6 {
		t.Errorf("expected 9 records in 6 writes, got %d in %d", ms.records, len(ms.metas))
	}
	if r.Rate() != 9 {
		t.Errorf("expected rate of 9 written records, got %d", r.Rate())
	}
	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Errorf("expected at most 2 concurrent pulls, got %d", p)
	}
}

func TestPullSinkError(t *testing.T) {
	ms := &memSink{err: errors.New("disk full")}
	results := New(ms, 0).Pull(context.Background(), []source.Source{src("a", `{}`)})
	if results[0].Success || !strings.Contains(results[0].Message, "disk full") {
		t.Fatalf("expected sink error, got %+v", results[0])
	}
}

func TestPullCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := New(&memSink{}, 1).Pull(ctx, []source.Source{src("a", `{}`), src("b", `{}`)})
	for _, res := range results {
		if res.Success || !errors.Is(res.Err, context.Canceled) {
			t.Errorf("expected cancelled result, got %+v", res)
		}
	}
}

func TestValidate(t *testing.T) {
	results := New(nil, 0).Validate(context.Background(), []source.Source{
		src("good", `{"token":"x"}`), src("bad", `{}`), src("broken", `{"mode":"broken"}`),
	})
	if !results[0].Success || results[0].Message != "Validation successful." {
		t.Errorf("unexpected result %+v", results[0])
	}
	if results[1].Success || results[1].Message != "token is a required field" {
		t.Errorf("unexpected result %+v", results[1])
	}
	if results[2].Success || results[2].Err == nil {
		t.Errorf("unexpected result %+v", results[2])
	}
}
