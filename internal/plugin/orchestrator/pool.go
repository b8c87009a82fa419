// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TrackTime Contributors

package orchestrator

import (
	"context"

	"github.com/samber/oops"
)

// workerPool bounds the number of invoke_command calls in flight at once
// across all plugins (§5 "a bounded worker pool sized by GOMAXPROCS backs
// concurrent invoke_command dispatch"). It is a plain buffered-channel
// semaphore, not a goroutine pool: each Dispatch call still runs on its
// own goroutine so a timed-out call can be abandoned independently of the
// pool slot it held, which is released as soon as Dispatch gives up on it.
type workerPool struct {
	slots chan struct{}
}

func newWorkerPool(size int) *workerPool {
	if size < 1 {
		size = 1
	}
	return &workerPool{slots: make(chan struct{}, size)}
}

// acquire blocks until a slot is free or ctx is done, whichever comes
// first — a caller waiting on an exhausted pool is itself subject to the
// caller's timeout, not left to queue indefinitely.
func (p *workerPool) acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return oops.Code("Timeout").Wrap(ctx.Err())
	}
}

func (p *workerPool) release() {
	<-p.slots
}
