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

// Package apiclient wraps a fasthttp client with the retry, TLS, proxy and
// error conventions shared by all provider plugins.
package apiclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpproxy"

	"github.com/defenxor/dpull/internal/pkg/shared/limiter"
	log "github.com/defenxor/dpull/internal/pkg/shared/logger"
	"github.com/defenxor/dpull/pkg/connector"
)

const (
	// DefaultMaxRetries is the number of retries after a 429 response, so a
	// request gets 4 attempts in total rather than 3. The extra attempt
	// lets three 429s followed by a success complete.
	DefaultMaxRetries = 3
	// DefaultBackoff is the base delay between 429 retries
	DefaultBackoff = time.Second
	// DefaultTimeout applies to a single attempt
	DefaultTimeout = 30 * time.Second
)

// Options configures a Client
type Options struct {
	VerifyTLS  bool
	Proxy      string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	UserAgent  string
	// MaxRPS enables the adaptive limiter when > 0, the limit starts halfway
	// between MinRPS and MaxRPS, drops on every 429 and recovers on success.
	// MinRPS defaults to 1.
	MaxRPS int
	MinRPS int
	Logger log.Logger
}

// DefaultOptions returns Options with TLS verification on and the default
// retry policy
func DefaultOptions() Options {
	return Options{
		VerifyTLS:  true,
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
		Backoff:    DefaultBackoff,
	}
}

// UserAgent returns the User-Agent sent by a plugin, e.g.
// dpull-cte-crowdstrike-v1.0.0
func UserAgent(module, plugin, version string) string {
	clean := func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "-")
	}
	return fmt.Sprintf("dpull-%s-%s-v%s", clean(module), clean(plugin), strings.TrimPrefix(version, "v"))
}

// Request describes one API call
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Params  url.Values
	JSON    interface{}
	Form    url.Values
	// Msg describes the call in log entries, e.g. "fetching indicator IDs"
	Msg string
}

// Response is a successful provider response. JSON is false when the body
// could not be parsed as JSON, Body then holds the raw envelope.
type Response struct {
	StatusCode int
	Body       []byte
	JSON       bool
}

// Decode unmarshals the response body into v
func (r *Response) Decode(v interface{}) error {
	if !r.JSON {
		return errors.WithDetail(errors.New("response body is not valid JSON"), string(r.Body))
	}
	return json.Unmarshal(r.Body, v)
}

// Client issues provider API requests
type Client struct {
	opts  Options
	hc    *fasthttp.Client
	lmt   *limiter.Limiter
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Client configured with opts
func New(opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	c := &Client{opts: opts, sleep: sleepCtx}
	c.hc = &fasthttp.Client{
		Name:         opts.UserAgent,
		TLSConfig:    &tls.Config{InsecureSkipVerify: !opts.VerifyTLS},
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
		// transport failures surface as TransportError on the first attempt,
		// only 429 is retried and that happens in Do
		MaxIdemponentCallAttempts: 1,
		RetryIf:                   func(*fasthttp.Request) bool { return false },
	}
	if opts.UserAgent == "" {
		c.hc.NoDefaultUserAgentHeader = true
	}
	if opts.Proxy != "" {
		dial, err := proxyDialer(opts.Proxy)
		if err != nil {
			return nil, err
		}
		c.hc.Dial = dial
	}
	if opts.MaxRPS > 0 {
		if opts.MinRPS <= 0 {
			opts.MinRPS = 1
		}
		lmt, err := limiter.New(opts.MaxRPS, opts.MinRPS)
		if err != nil {
			return nil, errors.Wrap(err, "cannot create rate limiter")
		}
		c.lmt = lmt
	}
	return c, nil
}

func proxyDialer(proxy string) (fasthttp.DialFunc, error) {
	u, err := url.Parse(proxy)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid proxy %s", proxy)
	}
	switch u.Scheme {
	case "http", "https":
		addr := u.Host
		if u.User != nil {
			addr = u.User.String() + "@" + u.Host
		}
		return fasthttpproxy.FasthttpHTTPDialer(addr), nil
	case "socks5":
		return fasthttpproxy.FasthttpSocksDialer(proxy), nil
	}
	return nil, errors.Newf("unsupported proxy scheme %q, use http or socks5", u.Scheme)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func checkRequest(r Request) error {
	if r.Method != fasthttp.MethodGet && r.Method != fasthttp.MethodPost {
		return errors.Newf("unsupported method %q", r.Method)
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return errors.Wrapf(err, "invalid URL %s", r.URL)
	}
	if !u.IsAbs() || u.Host == "" {
		return errors.Newf("URL %s is not absolute", r.URL)
	}
	return nil
}

// Do sends r, retrying on 429 with exponential backoff. Failures are returned
// as *connector.TransportError, *connector.APIError or
// connector.ErrRateLimitExceeded.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	if err := checkRequest(r); err != nil {
		return nil, err
	}
	payload, contentType, err := encodeBody(r)
	if err != nil {
		return nil, err
	}
	l := c.opts.Logger
	desc := r.Msg
	if desc == "" {
		desc = r.Method + " " + r.URL
	}
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, desc)
		}
		if c.lmt != nil {
			if err := c.lmt.Wait(ctx); err != nil {
				return nil, errors.Wrap(err, desc)
			}
		}
		l.Debug(fmt.Sprintf("%s, attempt %d: %s %s", desc, attempt+1, r.Method, r.URL))

		status, body, err := c.roundTrip(ctx, r, payload, contentType)
		if err != nil {
			l.Error("Error occurred while " + desc + ". Error: " + err.Error())
			return nil, &connector.TransportError{Cause: err}
		}

		if status == fasthttp.StatusTooManyRequests {
			if c.lmt != nil {
				c.lmt.Lower()
			}
			if attempt >= c.opts.MaxRetries {
				l.Error("Max retries reached for 429 error while "+desc+".", string(body))
				return nil, errors.WithDetail(
					errors.Wrapf(connector.ErrRateLimitExceeded, "%s after %d attempts", desc, attempt+1),
					string(body))
			}
			wait := c.opts.Backoff * time.Duration(1<<uint(attempt))
			l.Warn("Received 429 while " + desc + ", retrying in " + wait.String())
			if err := c.sleep(ctx, wait); err != nil {
				return nil, errors.Wrap(err, desc)
			}
			continue
		}

		if status < 200 || status > 299 {
			l.Error("Error occurred while "+desc+". Status Code: "+strconv.Itoa(status)+".", string(body))
			return nil, errors.WithDetail(&connector.APIError{StatusCode: status, Body: string(body)}, string(body))
		}

		if c.lmt != nil {
			c.lmt.Raise()
		}
		return &Response{
			StatusCode: status,
			Body:       body,
			JSON:       len(body) > 0 && json.Valid(body),
		}, nil
	}
}

func encodeBody(r Request) ([]byte, string, error) {
	switch {
	case r.JSON != nil:
		b, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, "", errors.Wrap(err, "cannot encode request body")
		}
		return b, "application/json", nil
	case r.Form != nil:
		return []byte(r.Form.Encode()), "application/x-www-form-urlencoded", nil
	}
	return nil, "", nil
}

func (c *Client) roundTrip(ctx context.Context, r Request, payload []byte, contentType string) (status int, body []byte, err error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(r.URL)
	req.Header.SetMethod(r.Method)
	if c.opts.UserAgent != "" {
		req.Header.SetUserAgent(c.opts.UserAgent)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	keys := make([]string, 0, len(r.Params))
	for k := range r.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := req.URI().QueryArgs()
	for _, k := range keys {
		for _, v := range r.Params[k] {
			args.Add(k, v)
		}
	}

	if contentType != "" {
		req.Header.SetContentType(contentType)
		req.SetBody(payload)
	}

	deadline := time.Now().Add(c.opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err = c.hc.DoDeadline(req, resp, deadline); err != nil {
		return 0, nil, err
	}
	body = append([]byte(nil), resp.Body()...)
	return resp.StatusCode(), body, nil
}
