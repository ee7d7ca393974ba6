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
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/nats-io/nats.go"

	log "github.com/defenxor/dpull/internal/pkg/shared/logger"
	"github.com/defenxor/dpull/pkg/connector"
)

// DefaultSubject prefixes the subject documents are published to
const DefaultSubject = "dpull"

// NATS publishes every document to <subject>.<plugin>.<source>
type NATS struct {
	conn    *nats.Conn
	subject string
}

// NewNATS connects to addr
func NewNATS(addr, subject string) (*NATS, error) {
	if addr == "" {
		addr = nats.DefaultURL
	}
	if subject == "" {
		subject = DefaultSubject
	}
	conn, err := nats.Connect(addr,
		nats.Name("dpull"),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			msg := fmt.Sprintf("%q", err) // err maybe nil
			log.Info(log.M{Msg: "Disconnected from NATS server. Reason: " + msg})
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info(log.M{Msg: "Reconnected to NATS server"})
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Warn(log.M{Msg: fmt.Sprintf("NATS error occurred: %q", err)})
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			msg := fmt.Sprintf("%q", nc.LastError()) // err maybe nil
			log.Info(log.M{Msg: "NATS connection closed. Reason: " + msg})
		}))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot connect to NATS server %s", addr)
	}
	return &NATS{conn: conn, subject: subject}, nil
}

// token makes s usable as one subject token
func token(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '\t', '*', '>':
			return '_'
		}
		return r
	}, s)
}

// Subject returns the subject documents of m are published to
func (n *NATS) Subject(m Meta) string {
	return n.subject + "." + token(m.Plugin) + "." + token(m.Source)
}

// Write implements Sink, the batch is flushed before returning
func (n *NATS) Write(ctx context.Context, m Meta, b connector.Batch) error {
	subj := n.Subject(m)
	for _, d := range Documents(m, b) {
		j, err := json.Marshal(d)
		if err != nil {
			return errors.Wrap(err, "cannot encode document")
		}
		if err := n.conn.Publish(subj, j); err != nil {
			return errors.Wrapf(err, "cannot publish to %s", subj)
		}
	}
	return n.conn.FlushWithContext(ctx)
}

// Close drains and closes the connection
func (n *NATS) Close() error {
	err := n.conn.Drain()
	if err != nil {
		n.conn.Close()
	}
	return err
}
