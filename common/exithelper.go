/*
 	Copyright (c) 2022 R. van Twisk
 	Distributable under the terms of The "BSD New" License
 	that can be found in the LICENSE file, herein included
 	as part of this header.
 	exithelper.go: cooperative shutdown/interrupt helper for upload workers
*/
package common

import (
	"sync"

	"github.com/tevino/abool/v2"
)

// ExitHelper coordinates cooperative cancellation between the caller (e.g. a
// signal handler) and blocking workers. Workers register with Add/Done, poll
// IsExit at page and chunk boundaries, and may select on C to unblock I/O.
type ExitHelper struct {
	C chan struct{}
	w *sync.WaitGroup
	m sync.Mutex
	b *abool.AtomicBool
}

func NewExitHelper() *ExitHelper {
	return &ExitHelper{
		C: make(chan struct{}),
		w: new(sync.WaitGroup),
		m: sync.Mutex{},
		b: abool.New(),
	}
}

func (a *ExitHelper) Add() {
	a.m.Lock()
	a.w.Add(1)
	a.m.Unlock()
}

func (a *ExitHelper) Done() {
	a.w.Done()
}

// IsExit is the poll point for cooperative interruption. Readers check it
// between store pages, the uploader between body chunks.
func (a *ExitHelper) IsExit() bool {
	return a.b.IsSet()
}

// Exit requests interruption, waits for all registered workers to unwind,
// then re-arms the helper so a later sync pass can reuse it.
func (a *ExitHelper) Exit() {
	a.m.Lock()
	a.b.Set()
	close(a.C)
	a.w.Wait()
	a.C = make(chan struct{})
	a.w = new(sync.WaitGroup)
	a.b.UnSet()
	a.m.Unlock()
}
