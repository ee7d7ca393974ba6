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

// Package apm wraps elastic APM transactions used to trace validate and pull runs
package apm

import (
	"sync"

	"go.elastic.co/apm"
)

// Transaction results set by Finish
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

var enabled bool
var mu = sync.RWMutex{}

// Enabled returns whether apm is enabled
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// Enable set apm status
func Enable(e bool) {
	mu.Lock()
	enabled = e
	mu.Unlock()
}

// Transaction wraps transaction from apm Default tracer and make it concurrency safe.
// A nil *Transaction is valid and does nothing, it is returned when apm is disabled.
type Transaction struct {
	sync.Mutex
	Tx    *apm.Transaction
	ended bool
}

// StartTransaction returns a mutex protected apm.Transaction, or nil when
// apm is disabled
func StartTransaction(name, transactionType string) *Transaction {
	if !Enabled() {
		return nil
	}
	return &Transaction{Tx: apm.DefaultTracer.StartTransaction(name, transactionType)}
}

// StartRun starts a transaction for one operation on one source, labelled
// with the source plugin and run ID
func StartRun(op, source, plugin, run string) *Transaction {
	tx := StartTransaction(op+" "+source, "dpull")
	tx.SetCustom("source", source)
	tx.SetCustom("plugin", plugin)
	tx.SetCustom("run", run)
	return tx
}

// Finish sets the result from ok, sends err if any, then ends the transaction
func (t *Transaction) Finish(ok bool, err error) {
	t.SetError(err)
	if ok {
		t.Result(ResultSuccess)
	} else {
		t.Result(ResultFailed)
	}
	t.End()
}

// SetCustom set custom value for the transaction
func (t *Transaction) SetCustom(key string, value string) {
	if t == nil {
		return
	}
	t.Lock()
	defer t.Unlock()
	if t.ended {
		return
	}
	t.Tx.Context.SetLabel(key, value)
}

// Result set the result for the transaction
func (t *Transaction) Result(value string) {
	if t == nil {
		return
	}
	t.Lock()
	defer t.Unlock()
	if t.ended {
		return
	}
	t.Tx.Result = value
}

// SetError set and send error
func (t *Transaction) SetError(err error) {
	if t == nil || err == nil {
		return
	}
	e := apm.DefaultTracer.NewError(err)
	e.SetTransaction(t.Tx)
	e.Send()
}

// End completes the transaction
func (t *Transaction) End() {
	if t == nil {
		return
	}
	t.Lock()
	defer t.Unlock()
	if t.ended {
		return
	}
	t.ended = true
	t.Tx.End()
}
