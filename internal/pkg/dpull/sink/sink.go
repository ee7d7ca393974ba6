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

// Package sink delivers pulled batches to their destination: stdout, a file,
// NATS or Elasticsearch
package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/defenxor/dpull/pkg/connector"
)

// Sink kinds
const (
	KindStdout = "stdout"
	KindFile   = "file"
	KindNATS   = "nats"
	KindES     = "es"
)

// Meta describes where a batch came from
type Meta struct {
	Source string
	Plugin string
	Run    string
	Pulled time.Time
}

// Document is one record as written by a sink
type Document struct {
	Source string           `json:"source"`
	Plugin string           `json:"plugin"`
	Run    string           `json:"run,omitempty"`
	Pulled time.Time        `json:"pulled"`
	Key    string           `json:"key"`
	Record connector.Record `json:"record"`
}

// Documents returns the records of b wrapped with m
func Documents(m Meta, b connector.Batch) []Document {
	out := make([]Document, 0, len(b.Records))
	for _, r := range b.Records {
		out = append(out, Document{
			Source: m.Source,
			Plugin: m.Plugin,
			Run:    m.Run,
			Pulled: m.Pulled,
			Key:    r.Key(),
			Record: r,
		})
	}
	return out
}

// Sink receives batches from concurrently running sources
type Sink interface {
	Write(ctx context.Context, m Meta, b connector.Batch) error
	Close() error
}

// Config selects and configures a sink
type Config struct {
	Kind        string
	File        string
	NatsURL     string
	NatsSubject string
	ESURL       string
	ESIndex     string
	// Out is used by the stdout sink, defaults to os.Stdout
	Out io.Writer
}

// New returns the sink described by c
func New(c Config) (Sink, error) {
	switch c.Kind {
	case KindStdout, "":
		out := c.Out
		if out == nil {
			out = os.Stdout
		}
		return NewWriter(out), nil
	case KindFile:
		return NewFile(c.File)
	case KindNATS:
		return NewNATS(c.NatsURL, c.NatsSubject)
	case KindES:
		return NewES(c.ESURL, c.ESIndex)
	}
	return nil, errors.Newf("unknown sink %q, valid option is stdout|file|nats|es", c.Kind)
}

// Writer writes one JSON document per line
type Writer struct {
	sync.Mutex
	enc *json.Encoder
}

// NewWriter returns a Writer on w
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// Write implements Sink
func (w *Writer) Write(ctx context.Context, m Meta, b connector.Batch) error {
	w.Lock()
	defer w.Unlock()
	for _, d := range Documents(m, b) {
		if err := w.enc.Encode(d); err != nil {
			return errors.Wrap(err, "cannot write document")
		}
	}
	return nil
}

// Close implements Sink
func (w *Writer) Close() error { return nil }
