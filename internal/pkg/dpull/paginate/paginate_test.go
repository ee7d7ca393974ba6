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

package paginate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	log "github.com/defenxor/dpull/internal/pkg/shared/logger"
	"github.com/defenxor/dpull/pkg/connector"
)

func ids(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("id-%d", i)
	}
	return out
}

func items(n int) []json.RawMessage {
	out := make([]json.RawMessage, n)
	for i := range out {
		out[i] = json.RawMessage(fmt.Sprintf(`{"n":%d}`, i))
	}
	return out
}

func TestChunk(t *testing.T) {
	tbl := []struct {
		n, size int
		sizes   []int
	}{
		{0, 100, nil},
		{1, 100, []int{1}},
		{100, 100, []int{100}},
		{250, 100, []int{100, 100, 50}},
		{5, 0, []int{5}},
		{5, 2, []int{2, 2, 1}},
	}
	for _, tt := range tbl {
		c := Chunk(ids(tt.n), tt.size)
		if len(c) != len(tt.sizes) {
			t.Fatalf("%d/%d: expected %d chunks, got %d", tt.n, tt.size, len(tt.sizes), len(c))
		}
		for i, s := range tt.sizes {
			if len(c[i]) != s {
				t.Errorf("%d/%d: chunk %d expected %d, got %d", tt.n, tt.size, i, s, len(c[i]))
			}
		}
	}
	// appending to a chunk must not clobber the next one
	in := ids(4)
	c := Chunk(in, 2)
	_ = append(c[0], "x")
	if in[2] != "id-2" {
		t.Fatal("chunk shares capacity with the next chunk")
	}
}

func TestIDBatch(t *testing.T) {
	var calls [][]string
	resolve := func(ctx context.Context, b []string) ([]json.RawMessage, error) {
		calls = append(calls, b)
		return items(len(b)), nil
	}

	var pages []Page
	for p, err := range IDBatch(context.Background(), ids(250), BatchSize, resolve) {
		if err != nil {
			t.Fatal(err)
		}
		pages = append(pages, p)
	}
	if len(calls) != 3 || len(calls[0]) != 100 || len(calls[1]) != 100 || len(calls[2]) != 50 {
		t.Fatalf("expected calls of 100, 100, 50 IDs, got %d calls", len(calls))
	}
	if calls[2][49] != "id-249" {
		t.Errorf("unexpected last id %s", calls[2][49])
	}
	if !pages[0].First || pages[0].Last || pages[1].First || pages[1].Last || !pages[2].Last {
		t.Errorf("unexpected first/last flags %+v", pages)
	}
	for _, p := range pages {
		if p.Total != 250 {
			t.Errorf("expected total 250, got %d", p.Total)
		}
	}
}

func TestIDBatchEmpty(t *testing.T) {
	called := false
	resolve := func(ctx context.Context, b []string) ([]json.RawMessage, error) {
		called = true
		return nil, nil
	}
	for range IDBatch(context.Background(), nil, BatchSize, resolve) {
		t.Fatal("expected no pages")
	}
	if called {
		t.Fatal("resolver should not be called for empty IDs")
	}
}

func TestIDBatchErrorStops(t *testing.T) {
	n := 0
	resolve := func(ctx context.Context, b []string) ([]json.RawMessage, error) {
		n++
		if n == 2 {
			return nil, errors.New("boom")
		}
		return items(len(b)), nil
	}
	var gotErr error
	pages := 0
	for _, err := range IDBatch(context.Background(), ids(300), BatchSize, resolve) {
		if err != nil {
			gotErr = err
			break
		}
		pages++
	}
	if pages != 1 || n != 2 {
		t.Fatalf("expected 1 page and 2 calls, got %d pages and %d calls", pages, n)
	}
	if gotErr == nil || !strings.Contains(gotErr.Error(), "batch 2 of 3") {
		t.Fatalf("unexpected error %v", gotErr)
	}
}

func TestIDBatchConsumerStops(t *testing.T) {
	n := 0
	resolve := func(ctx context.Context, b []string) ([]json.RawMessage, error) {
		n++
		return items(len(b)), nil
	}
	for range IDBatch(context.Background(), ids(300), BatchSize, resolve) {
		break
	}
	if n != 1 {
		t.Fatalf("expected 1 call after consumer stopped, got %d", n)
	}
}

func TestOffsetStopsOnEmptyPage(t *testing.T) {
	var requested []int
	o := Offset{
		Fetch: func(ctx context.Context, n int) ([]json.RawMessage, int, error) {
			requested = append(requested, n)
			if n < 3 {
				return items(10), connector.TotalUnknown, nil
			}
			return nil, connector.TotalUnknown, nil
		},
	}
	var pages []Page
	for p, err := range o.Walk(context.Background()) {
		if err != nil {
			t.Fatal(err)
		}
		pages = append(pages, p)
	}
	if len(requested) != 4 {
		t.Fatalf("expected 4 requests, got %v", requested)
	}
	if len(pages) != 4 {
		t.Fatalf("expected 4 pages, got %d", len(pages))
	}
	if !pages[0].First || pages[0].Last {
		t.Error("first page flags wrong")
	}
	last := pages[3]
	if !last.Last || len(last.Items) != 0 || last.Number != 3 {
		t.Errorf("unexpected final page %+v", last)
	}
}

func TestOffsetEmptyFirstPage(t *testing.T) {
	calls := 0
	o := Offset{
		Fetch: func(ctx context.Context, n int) ([]json.RawMessage, int, error) {
			calls++
			return nil, 0, nil
		},
	}
	for range o.Walk(context.Background()) {
		t.Fatal("expected no pages")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestOffsetCeiling(t *testing.T) {
	err := log.Setup(false)
	if err != nil {
		t.Fatal(err)
	}
	log.EnableTestingMode()

	calls := 0
	o := Offset{
		Log: log.New("IoT Forescout [test]"),
		Fetch: func(ctx context.Context, n int) ([]json.RawMessage, int, error) {
			calls++
			return items(1), connector.TotalUnknown, nil
		},
	}
	pages := 0
	var last Page
	out := log.CaptureZapOutput(func() {
		for p, err := range o.Walk(context.Background()) {
			if err != nil {
				t.Fatal(err)
			}
			pages++
			last = p
		}
	})
	if calls != Ceiling || pages != Ceiling {
		t.Fatalf("expected %d calls and pages, got %d and %d", Ceiling, calls, pages)
	}
	if !last.Last || last.Number != Ceiling-1 {
		t.Errorf("ceiling page should be marked last, got %+v", last)
	}
	if !strings.Contains(out, "WARN") || !strings.Contains(out, "page ceiling of 1000") {
		t.Errorf("expected ceiling warning, got %q", out)
	}
}

func TestOffsetFetchError(t *testing.T) {
	o := Offset{
		Ceiling: 5,
		Fetch: func(ctx context.Context, n int) ([]json.RawMessage, int, error) {
			if n == 1 {
				return nil, 0, &connector.APIError{StatusCode: 500}
			}
			return items(1), 7, nil
		},
	}
	var gotErr error
	pages := 0
	for p, err := range o.Walk(context.Background()) {
		if err != nil {
			gotErr = err
			continue
		}
		if p.Total != 7 {
			t.Errorf("expected total 7, got %d", p.Total)
		}
		pages++
	}
	var apiErr *connector.APIError
	if pages != 1 || !errors.As(gotErr, &apiErr) {
		t.Fatalf("expected 1 page then APIError, got %d pages and %v", pages, gotErr)
	}
}

func TestOffsetCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o := Offset{
		Fetch: func(ctx context.Context, n int) ([]json.RawMessage, int, error) {
			return items(1), 0, nil
		},
	}
	pages := 0
	var gotErr error
	for _, err := range o.Walk(ctx) {
		if err != nil {
			gotErr = err
			break
		}
		pages++
		cancel()
	}
	if pages != 1 || !errors.Is(gotErr, context.Canceled) {
		t.Fatalf("expected 1 page then context.Canceled, got %d and %v", pages, gotErr)
	}
}

func TestCollectIDs(t *testing.T) {
	cursors := map[string]struct {
		ids  []string
		next string
	}{
		"":   {[]string{"a", "b"}, "c1"},
		"c1": {[]string{"c"}, "c2"},
		"c2": {[]string{"d"}, ""},
	}
	var seen []string
	got, err := CollectIDs(context.Background(), 0, log.Logger{}, func(ctx context.Context, after string) ([]string, string, error) {
		seen = append(seen, after)
		p := cursors[after]
		return p.ids, p.next, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, ",") != "a,b,c,d" {
		t.Errorf("unexpected ids %v", got)
	}
	if strings.Join(seen, ",") != ",c1,c2" {
		t.Errorf("unexpected cursors %v", seen)
	}

	// a provider repeating its cursor is stopped by the ceiling
	calls := 0
	got, err = CollectIDs(context.Background(), 3, log.Logger{}, func(ctx context.Context, after string) ([]string, string, error) {
		calls++
		return []string{fmt.Sprint(calls)}, fmt.Sprint("c", calls), nil
	})
	if err != nil || calls != 3 || len(got) != 3 {
		t.Fatalf("expected 3 calls and ids, got %d, %v, %v", calls, got, err)
	}
}

func TestTotal(t *testing.T) {
	if Total(nil) != connector.TotalUnknown {
		t.Error("nil total should be unknown")
	}
	n := 5
	if Total(&n) != 5 {
		t.Error("expected 5")
	}
}
