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

package idgen

import (
	"strconv"
	"time"

	"github.com/teris-io/shortid"
)

var sid, _ = shortid.New(1, shortid.DEFAULT_ABC, 2342)

// GenerateID creates random shortid
func GenerateID() (id string, err error) {
	return sid.Generate()
}

// RunID returns an ID for a validate or pull run, falling back to a
// timestamp when shortid fails
func RunID() string {
	id, err := GenerateID()
	if err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return id
}
