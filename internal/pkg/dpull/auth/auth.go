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

// Package auth exchanges OAuth2 client credentials for a bearer token
package auth

import (
	"context"
	"net/url"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/defenxor/dpull/internal/pkg/shared/apiclient"
	"github.com/defenxor/dpull/pkg/connector"
)

// TokenPath is appended to the provider base URL
const TokenPath = "/oauth2/token"

// Token is a bearer credential. It isn't cached, a new one is fetched for
// every pull.
type Token struct {
	Value  string
	Scheme string
}

// Header renders t as an Authorization header value
func (t Token) Header() string {
	return t.Scheme + " " + t.Value
}

// Doer is the part of apiclient.Client used by Authenticator
type Doer interface {
	Do(ctx context.Context, r apiclient.Request) (*apiclient.Response, error)
}

// Authenticator fetches tokens through Client
type Authenticator struct {
	Client Doer
}

// Token posts clientID and clientSecret to baseURL's token endpoint.
// Rejected credentials and responses without access_token are returned as
// *connector.AuthenticationFailed, transport errors are returned unchanged.
func (a Authenticator) Token(ctx context.Context, baseURL, clientID, clientSecret string) (Token, error) {
	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)

	resp, err := a.Client.Do(ctx, apiclient.Request{
		Method: "POST",
		URL:    baseURL + TokenPath,
		Form:   form,
		Msg:    "fetching auth token",
	})
	if err != nil {
		var apiErr *connector.APIError
		if errors.As(err, &apiErr) {
			return Token{}, &connector.AuthenticationFailed{
				Reason: "token endpoint returned status code " + strconv.Itoa(apiErr.StatusCode)}
		}
		return Token{}, err
	}

	var body struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := resp.Decode(&body); err != nil {
		return Token{}, &connector.AuthenticationFailed{Reason: "token response is not valid JSON"}
	}
	if body.AccessToken == "" {
		return Token{}, &connector.AuthenticationFailed{Reason: "token response has no access_token"}
	}
	return Token{Value: body.AccessToken, Scheme: "Bearer"}, nil
}
