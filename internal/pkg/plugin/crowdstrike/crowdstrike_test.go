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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/buaazp/fasthttprouter"
	"github.com/sebdah/goldie"
	"github.com/valyala/fasthttp"

	log "github.com/defenxor/dpull/internal/pkg/shared/logger"
	"github.com/defenxor/dpull/internal/pkg/shared/test"
	"github.com/defenxor/dpull/pkg/connector"
)

// provider is a mock CrowdStrike API
type provider struct {
	sync.Mutex
	tokenStatus  int
	queryPages   [][]string
	entities     map[string]string
	tokenCalls   int
	queryCalls   int
	entityCalls  [][]string
	entityStatus int
	userAgent    string
}

func (p *provider) serve(t *testing.T) string {
	router := fasthttprouter.New()
	router.POST("/oauth2/token", func(ctx *fasthttp.RequestCtx) {
		p.Lock()
		defer p.Unlock()
		p.tokenCalls++
		p.userAgent = string(ctx.UserAgent())
		if p.tokenStatus != 0 {
			ctx.SetStatusCode(p.tokenStatus)
			ctx.SetBodyString(`{"errors":[{"code":401,"message":"access denied, invalid client"}]}`)
			return
		}
		if string(ctx.PostArgs().Peek("client_id")) == "" {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			return
		}
		ctx.SetStatusCode(fasthttp.StatusCreated)
		ctx.SetBodyString(`{"access_token":"t0k3n","token_type":"bearer","expires_in":1799}`)
	})
	router.GET(queryPath, func(ctx *fasthttp.RequestCtx) {
		p.Lock()
		defer p.Unlock()
		p.queryCalls++
		if string(ctx.Request.Header.Peek("Authorization")) != "Bearer t0k3n" {
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
			return
		}
		page := 0
		if after := string(ctx.QueryArgs().Peek("after")); after != "" {
			fmt.Sscanf(after, "cursor-%d", &page)
		}
		next := ""
		if page+1 < len(p.queryPages) {
			next = fmt.Sprintf("cursor-%d", page+1)
		}
		var ids []string
		if page < len(p.queryPages) {
			ids = p.queryPages[page]
		}
		total := 0
		for _, q := range p.queryPages {
			total += len(q)
		}
		b, _ := json.Marshal(map[string]interface{}{
			"resources": ids,
			"meta":      map[string]interface{}{"pagination": map[string]interface{}{"total": total, "after": next}},
		})
		ctx.SetBody(b)
	})
	router.GET(entitiesPath, func(ctx *fasthttp.RequestCtx) {
		p.Lock()
		defer p.Unlock()
		if p.entityStatus != 0 {
			ctx.SetStatusCode(p.entityStatus)
			ctx.SetBodyString(`{"errors":[{"code":500,"message":"internal error"}]}`)
			return
		}
		var ids []string
		for _, v := range ctx.QueryArgs().PeekMulti("ids") {
			ids = append(ids, string(v))
		}
		p.entityCalls = append(p.entityCalls, ids)
		var res []json.RawMessage
		for _, id := range ids {
			if e, ok := p.entities[id]; ok {
				res = append(res, json.RawMessage(e))
			}
		}
		b, _ := json.Marshal(map[string]interface{}{"resources": res})
		ctx.SetBody(b)
	})
	return test.MockServer(t, router.Handler)
}

// calls returns the number of token, query and entity calls so far
func (p *provider) calls() (token, query int, entity [][]string) {
	p.Lock()
	defer p.Unlock()
	return p.tokenCalls, p.queryCalls, p.entityCalls
}

func config(base string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"base_url":" %s/ ","client_id":"id","client_secret":"secret"}`, base))
}

func newPlugin(t *testing.T, cfg json.RawMessage) *Plugin {
	p, err := New(connector.Options{Name: "test", Config: cfg, SSLValidation: true})
	if err != nil {
		t.Fatal(err)
	}
	pl := p.(*Plugin)
	pl.backoff = time.Millisecond
	pl.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return pl
}

func pull(t *testing.T, p *Plugin) ([]connector.Batch, error) {
	var out []connector.Batch
	for b, err := range p.Pull(context.Background()) {
		if err != nil {
			return out, err
		}
		out = append(out, b)
	}
	return out, nil
}

func TestRegistered(t *testing.T) {
	if connector.Factories.Lookup(Name) == nil {
		t.Fatal("crowdstrike is not registered")
	}
}

func TestValidate(t *testing.T) {
	prv := &provider{}
	base := prv.serve(t)
	p := newPlugin(t, nil)

	res := p.Validate(context.Background(), config(base))
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	prv.Lock()
	ua := prv.userAgent
	prv.Unlock()
	if ua != "dpull-cte-crowdstrike-v1.0.0" {
		t.Errorf("unexpected user agent %s", ua)
	}

	tbl := []struct {
		cfg   string
		field string
	}{
		{`{}`, "base_url"},
		{`{"base_url":"   ","client_id":"id","client_secret":"s"}`, "base_url"},
		{`{"base_url":"https://api.crowdstrike.com","client_secret":"s"}`, "client_id"},
		{`{"base_url":"https://api.crowdstrike.com","client_id":"id","client_secret":" "}`, "client_secret"},
		{`{"base_url":"https://api.crowdstrike.com","client_id":"id","client_secret":"s","query_limit":5000}`, "query_limit"},
		{`not json`, "cannot parse configuration"},
	}
	before, _, _ := prv.calls()
	for _, tt := range tbl {
		res := p.Validate(context.Background(), json.RawMessage(tt.cfg))
		if res.Success || !strings.Contains(res.Message, tt.field) {
			t.Errorf("%s: expected failure naming %s, got %+v", tt.cfg, tt.field, res)
		}
	}
	if after, _, _ := prv.calls(); after != before {
		t.Error("presence checks must fail before any network call")
	}
}

func TestValidateRejectedCredentials(t *testing.T) {
	prv := &provider{tokenStatus: fasthttp.StatusUnauthorized}
	base := prv.serve(t)
	p := newPlugin(t, nil)

	res := p.Validate(context.Background(), config(base))
	if res.Success || res.Message == "" {
		t.Fatalf("expected failure with message, got %+v", res)
	}
	if !strings.Contains(res.Message, "Authentication failed") {
		t.Errorf("unexpected message %s", res.Message)
	}
	if token, query, entity := prv.calls(); token != 1 || query != 0 || len(entity) != 0 {
		t.Errorf("expected only the token call, got %d/%d/%d", token, query, len(entity))
	}
}

func TestValidateUnreachable(t *testing.T) {
	p := newPlugin(t, nil)
	res := p.Validate(context.Background(), config("http://127.0.0.1:1"))
	if res.Success || !strings.Contains(res.Message, "Unable to connect") {
		t.Fatalf("expected connection failure, got %+v", res)
	}
}

func TestPullBatches(t *testing.T) {
	prv := &provider{entities: map[string]string{}}
	var page []string
	for i := 0; i < 250; i++ {
		id := fmt.Sprintf("id%03d", i)
		page = append(page, id)
		typ := "sha256"
		if i == 42 {
			typ = "email_address"
		}
		prv.entities[id] = fmt.Sprintf(`{"value":"v%03d","type":"%s","created_on":"2024-01-01T00:00:00Z"}`, i, typ)
		if len(page) == 120 {
			prv.queryPages = append(prv.queryPages, page)
			page = nil
		}
	}
	prv.queryPages = append(prv.queryPages, page)
	base := prv.serve(t)

	batches, err := pull(t, newPlugin(t, config(base)))
	if err != nil {
		t.Fatal(err)
	}
	_, query, entity := prv.calls()
	if query != 3 {
		t.Errorf("expected 3 query calls, got %d", query)
	}
	if len(entity) != 3 || len(entity[0]) != 100 || len(entity[1]) != 100 || len(entity[2]) != 50 {
		t.Fatalf("expected entity calls of 100, 100, 50 IDs, got %d calls", len(entity))
	}
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	count := 0
	for _, b := range batches {
		count += b.Count
		if b.Total != 250 {
			t.Errorf("expected total 250, got %d", b.Total)
		}
	}
	if count != 249 {
		t.Errorf("expected 249 indicators, got %d", count)
	}
	if !batches[0].IsFirstPage || !batches[2].IsLastPage || batches[1].IsFirstPage || batches[1].IsLastPage {
		t.Error("unexpected page flags")
	}
}

func TestPullNoIndicators(t *testing.T) {
	prv := &provider{}
	base := prv.serve(t)
	batches, err := pull(t, newPlugin(t, config(base)))
	if err != nil || len(batches) != 0 {
		t.Fatalf("expected no batches and no error, got %d and %v", len(batches), err)
	}
	if _, query, entity := prv.calls(); query != 1 || len(entity) != 0 {
		t.Errorf("expected a single query call, got %d/%d", query, len(entity))
	}
}

func TestPullErrors(t *testing.T) {
	prv := &provider{tokenStatus: fasthttp.StatusForbidden}
	base := prv.serve(t)
	_, err := pull(t, newPlugin(t, config(base)))
	var authErr *connector.AuthenticationFailed
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthenticationFailed, got %v", err)
	}

	prv = &provider{queryPages: [][]string{{"a"}}, entityStatus: fasthttp.StatusInternalServerError}
	base = prv.serve(t)
	_, err = pull(t, newPlugin(t, config(base)))
	var apiErr *connector.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 500 {
		t.Fatalf("expected APIError 500, got %v", err)
	}

	_, err = pull(t, newPlugin(t, json.RawMessage(`{}`)))
	if err == nil || !strings.Contains(err.Error(), "base_url") {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	n := normalizer(start, log.Logger{})
	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tbl := []struct {
		raw     string
		want    *connector.Indicator
		wantErr bool
	}{
		{
			raw:  `{"value":"abc123...","type":"sha256","created_on":"2024-01-01T00:00:00Z"}`,
			want: &connector.Indicator{Value: "abc123...", Kind: connector.SHA256, FirstSeen: jan, LastSeen: jan},
		},
		{
			raw:  `{"value":"10.1.1.1","type":"IPV4","description":"scanner","created_on":1704067200,"modified_on":1706781600000}`,
			want: &connector.Indicator{Value: "10.1.1.1", Kind: connector.URL, Comment: "scanner", FirstSeen: jan, LastSeen: time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)},
		},
		{
			raw:  `{"value":"::1","type":"ipv6","created_on":null}`,
			want: &connector.Indicator{Value: "::1", Kind: connector.URL, FirstSeen: start, LastSeen: start},
		},
		{raw: `{"value":"x@example.com","type":"email_address"}`},
		{raw: `{"value":"","type":"md5"}`, wantErr: true},
		{raw: `{"value":"abc","type":"md5","created_on":"yesterday"}`, wantErr: true},
		{raw: `{"value":"abc","type":"md5","modified_on":true}`, wantErr: true},
		{raw: `[1,2]`, wantErr: true},
	}
	for _, tt := range tbl {
		rec, err := n(json.RawMessage(tt.raw))
		if tt.wantErr {
			var mr *connector.MalformedRecord
			if !errors.As(err, &mr) || mr.Raw != tt.raw {
				t.Errorf("%s: expected MalformedRecord, got %v", tt.raw, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.raw, err)
			continue
		}
		if tt.want == nil {
			if rec != nil {
				t.Errorf("%s: expected no record, got %+v", tt.raw, rec)
			}
			continue
		}
		got, ok := rec.(connector.Indicator)
		if !ok || got.Value != tt.want.Value || got.Kind != tt.want.Kind || got.Comment != tt.want.Comment ||
			!got.FirstSeen.Equal(tt.want.FirstSeen) || !got.LastSeen.Equal(tt.want.LastSeen) {
			t.Errorf("%s: expected %+v, got %+v", tt.raw, *tt.want, rec)
		}
	}
}

func TestPullGolden(t *testing.T) {
	prv := &provider{
		queryPages: [][]string{{"i1", "i2", "i3", "i4"}},
		entities: map[string]string{
			"i1": `{"value":"abc123","type":"sha256","created_on":"2024-01-01T00:00:00Z"}`,
			"i2": `{"value":"evil.example.com","type":"Domain","description":"c2 domain","created_on":1704067200,"modified_on":"2024-02-01T10:00:00Z"}`,
			"i3": `{"value":"ignored","type":"email_address"}`,
			"i4": `{"value":"d41d8cd98f00b204e9800998ecf8427e","type":"md5"}`,
		},
	}
	base := prv.serve(t)
	batches, err := pull(t, newPlugin(t, config(base)))
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.MarshalIndent(batches, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	goldie.Assert(t, "pull", b)
}
