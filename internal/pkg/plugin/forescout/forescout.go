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

// Package forescout pulls device inventory from the Forescout API
package forescout

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/defenxor/dpull/internal/pkg/dpull/auth"
	"github.com/defenxor/dpull/internal/pkg/dpull/netasset"
	"github.com/defenxor/dpull/internal/pkg/dpull/paginate"
	"github.com/defenxor/dpull/internal/pkg/dpull/pipeline"
	"github.com/defenxor/dpull/internal/pkg/shared/apiclient"
	"github.com/defenxor/dpull/internal/pkg/shared/idgen"
	log "github.com/defenxor/dpull/internal/pkg/shared/logger"
	"github.com/defenxor/dpull/pkg/connector"
)

const (
	// Name is the registered plugin name
	Name          = "forescout"
	ModuleName    = "IoT"
	PluginName    = "Forescout"
	PluginVersion = "1.0.0"

	hostsPath     = "/api/hosts"
	remAssetsPath = "/api/data-exchange/v3/rem-assets"
)

func init() {
	connector.Factories.Register(New, Name)
}

// Plugin is the Forescout asset puller
type Plugin struct {
	opts    connector.Options
	info    connector.PluginInfo
	log     log.Logger
	cfg     Config
	cfgErr  error
	backoff time.Duration
	ceiling int
	now     func() time.Time
}

// New returns a Plugin for opts. An invalid opts.Config is not an error
// here, Validate reports it and Pull fails with it.
func New(opts connector.Options) (connector.Puller, error) {
	p := &Plugin{
		opts:    opts,
		info:    opts.Plugin,
		now:     time.Now,
		backoff: apiclient.DefaultBackoff,
		ceiling: paginate.Ceiling,
	}
	if p.info.Name == "" {
		p.info.Name = PluginName
	}
	if p.info.Version == "" {
		p.info.Version = PluginVersion
	}
	p.log = opts.Logger
	if p.log.Src == "" {
		p.log.Src = ModuleName + " " + p.info.Name
		if opts.Name != "" {
			p.log.Src += " [" + opts.Name + "]"
		}
	}
	p.cfg, p.cfgErr = parseConfig(opts.Config)
	if _, err := p.client(p.cfg, p.log); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Plugin) client(cfg Config, l log.Logger) (*apiclient.Client, error) {
	o := apiclient.DefaultOptions()
	o.VerifyTLS = p.opts.SSLValidation
	o.Proxy = p.opts.Proxy
	o.Backoff = p.backoff
	o.UserAgent = apiclient.UserAgent(ModuleName, p.info.Name, p.info.Version)
	o.MaxRPS = cfg.MaxRPS
	o.Logger = l
	return apiclient.New(o)
}

// session is one validate or pull run against the API
type session struct {
	cfg     Config
	c       *apiclient.Client
	headers map[string]string
	from    int64
	to      int64
}

func (p *Plugin) session(cfg Config, l log.Logger) (*session, error) {
	c, err := p.client(cfg, l)
	if err != nil {
		return nil, err
	}
	// the window is fixed for the whole run
	to := p.now()
	from := to.Add(-time.Duration(cfg.LookbackMinutes) * time.Minute)
	tok := auth.Token{Value: cfg.APIToken, Scheme: "Bearer"}
	return &session{
		cfg:     cfg,
		c:       c,
		headers: map[string]string{"Authorization": tok.Header()},
		from:    from.UnixMilli(),
		to:      to.UnixMilli(),
	}, nil
}

type remAssetsRequest struct {
	From           int64    `json:"from_utc_millis"`
	To             int64    `json:"to_utc_millis"`
	SelectedFields []string `json:"selected_fields"`
	PageNumber     int      `json:"page_number"`
}

type remAssetsResponse struct {
	Results []json.RawMessage `json:"results"`
	Total   *int              `json:"total"`
}

func (s *session) remAssets(ctx context.Context, n int) ([]json.RawMessage, int, error) {
	resp, err := s.c.Do(ctx, apiclient.Request{
		Method:  "POST",
		URL:     s.cfg.BaseURL + remAssetsPath,
		Headers: s.headers,
		JSON: remAssetsRequest{
			From:           s.from,
			To:             s.to,
			SelectedFields: remAssetFields,
			PageNumber:     n,
		},
		Msg: fmt.Sprintf("fetching assets page %d", n),
	})
	if err != nil {
		return nil, 0, err
	}
	var r remAssetsResponse
	if err := resp.Decode(&r); err != nil {
		return nil, 0, errors.Wrap(err, "cannot decode rem-assets response")
	}
	return r.Results, paginate.Total(r.Total), nil
}

func (s *session) hosts(ctx context.Context) ([]json.RawMessage, error) {
	resp, err := s.c.Do(ctx, apiclient.Request{
		Method:  "GET",
		URL:     s.cfg.BaseURL + hostsPath,
		Headers: s.headers,
		Msg:     "fetching hosts",
	})
	if err != nil {
		return nil, err
	}
	if !resp.JSON {
		return nil, errors.WithDetail(errors.New("hosts response is not valid JSON"), string(resp.Body))
	}
	return hostList(resp.Body)
}

// hostPages returns the hosts listing as a single page, or nothing when the
// listing is empty
func (s *session) hostPages(ctx context.Context) iter.Seq2[paginate.Page, error] {
	return func(yield func(paginate.Page, error) bool) {
		list, err := s.hosts(ctx)
		if err != nil {
			yield(paginate.Page{}, err)
			return
		}
		if len(list) == 0 {
			return
		}
		yield(paginate.Page{Items: list, First: true, Last: true, Total: len(list)}, nil)
	}
}

// Validate checks config and performs one request with it
func (p *Plugin) Validate(ctx context.Context, config json.RawMessage) (res connector.ValidationResult) {
	l := p.log.EnsureRun(idgen.RunID())
	defer func() {
		if r := recover(); r != nil {
			l.Error(fmt.Sprint("Unexpected error during validation: ", r))
			res = connector.Invalid(fmt.Sprint("Unexpected error during validation: ", r))
		}
	}()

	cfg, err := parseConfig(config)
	if err != nil {
		l.Error("Validation error: " + err.Error())
		return connector.Invalid("Invalid configuration: " + err.Error())
	}
	if _, err := netasset.New(cfg.Networks, cfg.ScopeTags); err != nil {
		l.Error("Validation error: " + err.Error())
		return connector.Invalid("Invalid configuration: " + err.Error())
	}
	s, err := p.session(cfg, l)
	if err != nil {
		l.Error("Validation error: " + err.Error())
		return connector.Invalid(err.Error())
	}
	if cfg.Mode == ModeHosts {
		_, err = s.hosts(ctx)
	} else {
		_, _, err = s.remAssets(ctx, 0)
	}
	if err != nil {
		l.Error("Validation error: "+err.Error(), errors.FlattenDetails(err))
		return connector.Invalid(connector.Describe(err))
	}
	return connector.Valid("Validation successful.")
}

// Pull fetches assets page by page. In rem_assets mode the time window is
// computed once when the pull starts.
func (p *Plugin) Pull(ctx context.Context) iter.Seq2[connector.Batch, error] {
	return func(yield func(connector.Batch, error) bool) {
		l := p.log.EnsureRun(idgen.RunID())
		fail := func(msg string, err error) {
			l.Error(msg+" Error: "+err.Error(), errors.FlattenDetails(err))
			yield(connector.Batch{}, err)
		}
		if p.cfgErr != nil {
			fail("Invalid configuration.", p.cfgErr)
			return
		}
		cfg := p.cfg
		tagger, err := netasset.New(cfg.Networks, cfg.ScopeTags)
		if err != nil {
			fail("Invalid configuration.", err)
			return
		}
		s, err := p.session(cfg, l)
		if err != nil {
			fail("Cannot create API client.", err)
			return
		}
		l.Info("Fetching assets.")

		var pages iter.Seq2[paginate.Page, error]
		var normalize pipeline.Normalizer
		if cfg.Mode == ModeHosts {
			pages = s.hostPages(ctx)
			normalize = hostNormalizer(tagger)
		} else {
			pages = paginate.Offset{Ceiling: p.ceiling, Fetch: s.remAssets, Log: l}.Walk(ctx)
			normalize = remAssetNormalizer(tagger)
		}

		var st pipeline.Stats
		opts := pipeline.Options{Log: l, Dedupe: cfg.Dedupe, Kind: "asset"}
		for b, err := range pipeline.Run(pages, normalize, opts, &st) {
			if !yield(b, err) || err != nil {
				return
			}
		}
		l.Info(fmt.Sprintf("Successfully fetched %d assets from %d pages, skipped %d, dropped %d duplicates.",
			st.Emitted, st.Pages, st.Skipped, st.Dupes))
	}
}
