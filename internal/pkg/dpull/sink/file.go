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

package sink

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"

	"github.com/defenxor/dpull/internal/pkg/shared/fs"
	"github.com/defenxor/dpull/pkg/connector"
)

const fileQueueLength = 1000

// File appends one JSON document per line to a file
type File struct {
	fw *fs.FileWriter
}

// NewFile opens path for appending
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("file sink needs a file path")
	}
	f := &File{fw: &fs.FileWriter{}}
	if err := f.fw.Init(path, fileQueueLength); err != nil {
		return nil, errors.Wrapf(err, "cannot open %s", path)
	}
	return f, nil
}

// Write implements Sink
func (f *File) Write(ctx context.Context, m Meta, b connector.Batch) error {
	for _, d := range Documents(m, b) {
		j, err := json.Marshal(d)
		if err != nil {
			return errors.Wrap(err, "cannot encode document")
		}
		if err := f.fw.Write(ctx, string(j)); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes queued documents and closes the file
func (f *File) Close() error {
	return f.fw.Stop()
}
