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

// Package source loads pull source definitions from sources_*.json files
package source

import (
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/defenxor/dpull/internal/pkg/shared/fs"
	log "github.com/defenxor/dpull/internal/pkg/shared/logger"
	"github.com/defenxor/dpull/pkg/connector"
)

// FileGlob matches source definition files in the config directory
const FileGlob = "sources_*.json"

// Source represents a single entry in a sources_*.json config file
type Source struct {
	Name    string `json:"name"`
	Plugin  string `json:"plugin"`
	Enabled bool   `json:"enabled"`
	Proxy   string `json:"proxy"`
	// SSLValidation defaults to true when absent
	SSLValidation *bool                `json:"ssl_validation"`
	Config        json.RawMessage      `json:"config"`
	Info          connector.PluginInfo `json:"plugin_info"`
}

// Sources represents the content of one sources_*.json file
type Sources struct {
	Sources []Source `json:"sources"`
}

// VerifyTLS reports whether TLS certificates are verified for s
func (s Source) VerifyTLS() bool {
	return s.SSLValidation == nil || *s.SSLValidation
}

// Options returns the connector options for s, logging through l
func (s Source) Options(l log.Logger) connector.Options {
	return connector.Options{
		Name:          s.Name,
		Config:        s.Config,
		Proxy:         s.Proxy,
		SSLValidation: s.VerifyTLS(),
		Plugin:        s.Info,
		Logger:        l,
	}
}

// Build creates the puller of s
func (s Source) Build(l log.Logger) (connector.Puller, error) {
	f := connector.Factories.Lookup(s.Plugin)
	if f == nil {
		return nil, errors.Newf("cannot find plugin %q for source %s", s.Plugin, s.Name)
	}
	p, err := f(s.Options(l))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot initialize plugin %s for source %s", s.Plugin, s.Name)
	}
	return p, nil
}

// Load reads every sources_*.json file in confDir and returns the enabled
// sources, ordered by file name then position. Source names must be unique.
func Load(confDir string) ([]Source, error) {
	p := path.Join(confDir, FileGlob)
	files, err := filepath.Glob(p)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.New("cannot find source files in " + p)
	}
	sort.Strings(files)

	var out []Source
	names := map[string]string{}
	total := 0
	for i := range files {
		if !fs.FileExist(files[i]) {
			return nil, errors.New("cannot find " + files[i])
		}
		b, err := os.ReadFile(files[i])
		if err != nil {
			return nil, err
		}
		var s Sources
		if err := json.Unmarshal(b, &s); err != nil {
			return nil, errors.Wrapf(err, "cannot parse %s", files[i])
		}
		for _, src := range s.Sources {
			total++
			if src.Name == "" || src.Plugin == "" {
				return nil, errors.Newf("%s: every source needs a name and a plugin", files[i])
			}
			if prev, ok := names[src.Name]; ok {
				return nil, errors.Newf("%s: duplicate source name %s, first defined in %s", files[i], src.Name, prev)
			}
			names[src.Name] = files[i]
			if !src.Enabled {
				log.Debug(log.M{Msg: "Skipping disabled source " + src.Name})
				continue
			}
			out = append(out, src)
		}
	}
	log.Info(log.M{Msg: "Loaded " + strconv.Itoa(len(out)) + " enabled sources out of " + strconv.Itoa(total) + "."})
	return out, nil
}

// Select returns the sources named in names, or all of them when names is
// empty
func Select(sources []Source, names []string) ([]Source, error) {
	if len(names) == 0 {
		return sources, nil
	}
	byName := map[string]Source{}
	for _, s := range sources {
		byName[s.Name] = s
	}
	var out []Source
	for _, n := range names {
		s, ok := byName[n]
		if !ok {
			return nil, errors.Newf("cannot find enabled source %s", n)
		}
		out = append(out, s)
	}
	return out, nil
}
