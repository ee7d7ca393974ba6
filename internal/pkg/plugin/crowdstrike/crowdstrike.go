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

// Package crowdstrike pulls indicators of compromise from the CrowdStrike
// IOC API
package crowdstrike

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/defenxor/dpull/internal/pkg/dpull/auth"
	"github.com/defenxor/dpull/internal/pkg/dpull/paginate"
	"github.com/defenxor/dpull/internal/pkg/dpull/pipeline"
	"github.com/defenxor/dpull/internal/pkg/shared/apiclient"
	"github.com/defenxor/dpull/internal/pkg/shared/idgen"
	log "github.com/defenxor/dpull/internal/pkg/shared/logger"
	"github.com/defenxor/dpull/pkg/connector"
)

const (
	// Name is the registered plugin name
	Name          = "crowdstrike"
	ModuleName    = "CTE"
	PluginName    = "CrowdStrike"
	PluginVersion = "1.0.0"

	// DefaultQueryLimit is the number of IDs requested per query page
	DefaultQueryLimit = 2000

	queryPath    = "/iocs/queries/indicators/v1"
	entitiesPath = "/iocs/entities/indicators/v1"
)

func init() {
	connector.Factories.Register(New, Name)
}

// Plugin is the CrowdStrike indicator puller
type Plugin struct {
	opts   connector.Options
	info   connector.PluginInfo
	log    log.Logger
	cfg    Config
	cfgErr error
	// 429 retry base delay, shortened by tests
	backoff time.Duration
	now     func() time.Time
}

// New returns a Plugin for opts. An invalid opts.Config is not an error
// here, Validate reports it and Pull fails with it.
func New(opts connector.Options) (connector.Puller, error) {
	p := &Plugin{opts: opts, info: opts.Plugin, now: time.Now, backoff: apiclient.DefaultBackoff}
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

// Validate checks config and authenticates with it
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
	c, err := p.client(cfg, l)
	if err != nil {
		l.Error("Validation error: " + err.Error())
		return connector.Invalid(err.Error())
	}
	if _, err := (auth.Authenticator{Client: c}).Token(ctx, cfg.BaseURL, cfg.ClientID, cfg.ClientSecret); err != nil {
		l.Error("Validation error: "+err.Error(), errors.FlattenDetails(err))
		return connector.Invalid(connector.Describe(err))
	}
	return connector.Valid("Validation successful.")
}

type queryResponse struct {
	Resources []string `json:"resources"`
	Meta      struct {
		Pagination struct {
			Total *int   `json:"total"`
			After string `json:"after"`
		} `json:"pagination"`
	} `json:"meta"`
}

type entitiesResponse struct {
	Resources []json.RawMessage `json:"resources"`
}

// Pull authenticates, collects the IDs of all matching indicators and
// resolves them in batches of paginate.BatchSize
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
		start := p.now().UTC()
		c, err := p.client(cfg, l)
		if err != nil {
			fail("Cannot create API client.", err)
			return
		}
		tok, err := (auth.Authenticator{Client: c}).Token(ctx, cfg.BaseURL, cfg.ClientID, cfg.ClientSecret)
		if err != nil {
			fail("Error pulling indicators.", err)
			return
		}
		headers := map[string]string{"Authorization": tok.Header()}

		ids, err := paginate.CollectIDs(ctx, paginate.Ceiling, l, func(ctx context.Context, after string) ([]string, string, error) {
			params := url.Values{}
			params.Set("limit", strconv.Itoa(cfg.QueryLimit))
			if cfg.Filter != "" {
				params.Set("filter", cfg.Filter)
			}
			if after != "" {
				params.Set("after", after)
			}
			resp, err := c.Do(ctx, apiclient.Request{
				Method:  "GET",
				URL:     cfg.BaseURL + queryPath,
				Headers: headers,
				Params:  params,
				Msg:     "fetching indicator IDs",
			})
			if err != nil {
				return nil, "", err
			}
			var q queryResponse
			if err := resp.Decode(&q); err != nil {
				return nil, "", errors.Wrap(err, "cannot decode indicator query response")
			}
			return q.Resources, q.Meta.Pagination.After, nil
		})
		if err != nil {
			fail("Error pulling indicators.", err)
			return
		}
		if len(ids) == 0 {
			l.Info("No indicators found.")
			return
		}
		l.Info(fmt.Sprintf("Found %d indicator IDs, fetching details.", len(ids)))

		resolve := func(ctx context.Context, batch []string) ([]json.RawMessage, error) {
			resp, err := c.Do(ctx, apiclient.Request{
				Method:  "GET",
				URL:     cfg.BaseURL + entitiesPath,
				Headers: headers,
				Params:  url.Values{"ids": batch},
				Msg:     "fetching indicator details",
			})
			if err != nil {
				return nil, err
			}
			var e entitiesResponse
			if err := resp.Decode(&e); err != nil {
				return nil, errors.Wrap(err, "cannot decode indicator entities response")
			}
			return e.Resources, nil
		}

		var st pipeline.Stats
		pages := paginate.IDBatch(ctx, ids, paginate.BatchSize, resolve)
		opts := pipeline.Options{Log: l, Dedupe: cfg.Dedupe, Kind: "indicator"}
		for b, err := range pipeline.Run(pages, normalizer(start, l), opts, &st) {
			if !yield(b, err) || err != nil {
				return
			}
		}
		l.Info(fmt.Sprintf("Pulled %d indicators from %d pages, skipped %d, dropped %d duplicates.",
			st.Emitted, st.Pages, st.Skipped, st.Dupes))
	}
}
