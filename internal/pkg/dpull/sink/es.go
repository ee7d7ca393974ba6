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
	"strings"

	"github.com/cockroachdb/errors"
	elastic7 "github.com/olivere/elastic/v7"

	"github.com/defenxor/dpull/pkg/connector"
)

// DefaultIndex is used when no index is configured
const DefaultIndex = "dpull"

// ES indexes documents into Elasticsearch 7 with the bulk API. Documents
// are keyed by source and record key, so pulling the same record again
// updates it.
type ES struct {
	client *elastic7.Client
	index  string
}

// NewES returns an ES sink for esURL
func NewES(esURL, index string) (*ES, error) {
	if esURL == "" {
		return nil, errors.New("es sink needs an Elasticsearch URL")
	}
	if index == "" {
		index = DefaultIndex
	}
	client, err := elastic7.NewClient(
		elastic7.SetURL(esURL),
		elastic7.SetSniff(false),
		elastic7.SetHealthcheck(false))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot create Elasticsearch client for %s", esURL)
	}
	return &ES{client: client, index: strings.ToLower(index)}, nil
}

// Write implements Sink
func (es *ES) Write(ctx context.Context, m Meta, b connector.Batch) error {
	docs := Documents(m, b)
	if len(docs) == 0 {
		return nil
	}
	bulk := es.client.Bulk()
	for _, d := range docs {
		bulk.Add(elastic7.NewBulkIndexRequest().Index(es.index).Id(d.Source + ":" + d.Key).Doc(d))
	}
	res, err := bulk.Do(ctx)
	if err != nil {
		return errors.Wrap(err, "bulk request failed")
	}
	if failed := res.Failed(); len(failed) > 0 {
		reason := "unknown reason"
		if failed[0].Error != nil {
			reason = failed[0].Error.Type + ": " + failed[0].Error.Reason
		}
		return errors.Newf("%d of %d documents failed to index, first error: %s", len(failed), len(docs), reason)
	}
	return nil
}

// Close implements Sink
func (es *ES) Close() error {
	es.client.Stop()
	return nil
}
