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

package auth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/buaazp/fasthttprouter"
	"github.com/valyala/fasthttp"

	"github.com/defenxor/dpull/internal/pkg/shared/apiclient"
	"github.com/defenxor/dpull/internal/pkg/shared/test"
	"github.com/defenxor/dpull/pkg/connector"
)

func newClient(t *testing.T) *apiclient.Client {
	o := apiclient.DefaultOptions()
	o.Backoff = 0
	c, err := apiclient.New(o)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestToken(t *testing.T) {
	var calls int32
	router := fasthttprouter.New()
	router.POST("/oauth2/token", func(ctx *fasthttp.RequestCtx) {
		atomic.AddInt32(&calls, 1)
		id := string(ctx.PostArgs().Peek("client_id"))
		secret := string(ctx.PostArgs().Peek("client_secret"))
		switch {
		case id == "good" && secret == "s3cret":
			ctx.SetStatusCode(fasthttp.StatusCreated)
			ctx.SetBodyString(`{"access_token":"tok","token_type":"bearer","expires_in":1799}`)
		case id == "empty":
			ctx.SetBodyString(`{"token_type":"bearer"}`)
		case id == "html":
			ctx.SetBodyString(`<html>ok</html>`)
		default:
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
			ctx.SetBodyString(`{"errors":[{"code":401,"message":"access denied"}]}`)
		}
	})
	base := test.MockServer(t, router.Handler)

	a := Authenticator{Client: newClient(t)}

	tok, err := a.Token(context.Background(), base, "good", "s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if tok.Value != "tok" || tok.Header() != "Bearer tok" {
		t.Fatalf("unexpected token %+v", tok)
	}

	tbl := []struct {
		id     string
		reason string
	}{
		{"bad", "token endpoint returned status code 401"},
		{"empty", "token response has no access_token"},
		{"html", "token response is not valid JSON"},
	}
	for _, tt := range tbl {
		_, err := a.Token(context.Background(), base, tt.id, "x")
		var authErr *connector.AuthenticationFailed
		if !errors.As(err, &authErr) {
			t.Fatalf("%s: expected AuthenticationFailed, got %v", tt.id, err)
		}
		if authErr.Reason != tt.reason {
			t.Errorf("%s: expected reason %q, got %q", tt.id, tt.reason, authErr.Reason)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 4 {
		t.Errorf("expected 4 token calls, got %d", n)
	}
}

func TestTokenTransportError(t *testing.T) {
	a := Authenticator{Client: newClient(t)}
	// nothing listens on port 1
	_, err := a.Token(context.Background(), "http://127.0.0.1:1", "id", "secret")
	var tErr *connector.TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}
