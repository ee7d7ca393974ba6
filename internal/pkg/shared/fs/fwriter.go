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
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/enriquebris/goconcurrentqueue"
)

type stopMarker struct{}

// FileWriter appends lines to a file from a background goroutine. Writes are
// queued so producers don't block on disk I/O.
type FileWriter struct {
	sync.Mutex
	filePath string
	handle   *os.File
	q        *goconcurrentqueue.FixedFIFO
	chDone   chan struct{}
	werr     error
}

// Init opens filePath for appending and starts the write listener
func (fw *FileWriter) Init(filePath string, queueLength int) (err error) {
	if err := EnsureDir(filepath.Dir(filePath)); err != nil {
		return err
	}
	fw.Lock()
	defer fw.Unlock()
	if fw.q != nil {
		return errors.New("file writer already initialized")
	}
	fw.handle, err = os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	fw.filePath = filePath
	fw.q = goconcurrentqueue.NewFixedFIFO(queueLength)
	fw.chDone = make(chan struct{})
	go fw.writeListener()
	return nil
}

// EnqueueWrite queues data to be written as one line
func (fw *FileWriter) EnqueueWrite(data string) (err error) {
	fw.Lock()
	defer fw.Unlock()
	if fw.q == nil || fw.handle == nil {
		return errors.New("queue is uninitialized")
	}
	if fw.werr != nil {
		return fw.werr
	}
	return fw.q.Enqueue(data)
}

// Write queues data as one line, waiting for room while the queue is full
func (fw *FileWriter) Write(ctx context.Context, data string) error {
	for {
		err := fw.EnqueueWrite(data)
		var qe *goconcurrentqueue.QueueError
		if err == nil || !errors.As(err, &qe) || qe.Code() != goconcurrentqueue.QueueErrorCodeFullCapacity {
			return err
		}
		t := time.NewTimer(time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (fw *FileWriter) writeListener() {
	defer close(fw.chDone)
	for {
		res, err := fw.q.DequeueOrWaitForNextElement()
		if err != nil {
			continue
		}
		if _, ok := res.(stopMarker); ok {
			return
		}
		fw.Lock()
		if _, err := fw.handle.WriteString(res.(string) + "\n"); err != nil && fw.werr == nil {
			fw.werr = errors.Wrapf(err, "cannot write to %s", fw.filePath)
		}
		fw.Unlock()
	}
}

// Stop drains the queue, then closes the file
func (fw *FileWriter) Stop() error {
	fw.Lock()
	if fw.q == nil {
		fw.Unlock()
		return nil
	}
	q := fw.q
	fw.Unlock()

	for {
		err := q.Enqueue(stopMarker{})
		if err == nil {
			break
		}
		// queue is full, let the listener catch up
		runtime.Gosched()
	}
	<-fw.chDone

	fw.Lock()
	defer fw.Unlock()
	err := fw.handle.Close()
	fw.handle = nil
	fw.q = nil
	if fw.werr != nil {
		return fw.werr
	}
	return err
}
