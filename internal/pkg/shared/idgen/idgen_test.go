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
	"strings"
	"sync"
	"testing"
)

func TestIdgen(t *testing.T) {
	var lock sync.Mutex
	var wg sync.WaitGroup
	m := map[string]bool{}
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := GenerateID()
			if err != nil {
				t.Error(err)
				return
			}
			lock.Lock()
			defer lock.Unlock()
			if m[id] {
				t.Errorf("id '%s' already generated", id)
			}
			m[id] = true
		}()
	}
	wg.Wait()
}

func TestRunID(t *testing.T) {
	a, b := RunID(), RunID()
	if a == "" || a == b {
		t.Errorf("expected distinct non-empty run IDs, got %q %q", a, b)
	}
	if strings.ContainsAny(a, " \n") {
		t.Errorf("unexpected whitespace in %q", a)
	}
}
