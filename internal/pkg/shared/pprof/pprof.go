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

package pprof

import (
	"github.com/cockroachdb/errors"
	"github.com/pkg/profile"
)

// GetProfiler starts profiler p, writing its output under dir. An empty dir
// uses a temporary directory.
func GetProfiler(p string, dir string) (i interface{ Stop() }, err error) {
	opts := []func(*profile.Profile){profile.Quiet}
	if dir != "" {
		opts = append(opts, profile.ProfilePath(dir))
	}
	switch p {
	case "cpu":
		i = profile.Start(append(opts, profile.CPUProfile)...)
	case "memory":
		i = profile.Start(append(opts, profile.MemProfile)...)
	case "mutex":
		i = profile.Start(append(opts, profile.MutexProfile)...)
	case "block":
		i = profile.Start(append(opts, profile.BlockProfile)...)
	default:
		i = nil
		err = errors.New("invalid profiler, valid option is cpu|memory|mutex|block")
	}
	return
}
