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

package fs

import (
	"os"
	"path/filepath"

	"github.com/kardianos/osext"
)

// FileExist check if path exist
func FileExist(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// GetDir returns the program root directory. In dev environment that is the
// nearest parent of the working directory containing go.mod.
func GetDir(devEnv bool) (string, error) {
	dir, err := osext.ExecutableFolder()
	if devEnv {
		wd, _ := os.Getwd()
		for d := wd; ; d = filepath.Dir(d) {
			if FileExist(filepath.Join(d, "go.mod")) {
				return d, nil
			}
			if d == filepath.Dir(d) {
				break
			}
		}
	}
	return dir, err
}

// AppendToFile write s to the end of filename
func AppendToFile(s string, filename string) error {
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s + "\n")
	return err
}

// EnsureDir creates directory if it doesnt exist
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, os.FileMode(0700))
}
