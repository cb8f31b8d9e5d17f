////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Error message.
const toStoppingErr = "stoppable %q cannot close from status %s, must be %s"

// Single allows stopping a single goroutine using a channel. The quit channel
// is closed on Close so that any number of selects observe it.
type Single struct {
	name   string
	quit   chan struct{}
	status Status
	once   sync.Once
}

// NewSingle returns a new running Single.
func NewSingle(name string) *Single {
	return &Single{
		name:   name,
		quit:   make(chan struct{}),
		status: Running,
	}
}

// Name returns the name of the Single.
func (s *Single) Name() string {
	return s.name
}

// GetStatus returns the status of the Single.
func (s *Single) GetStatus() Status {
	return Status(atomic.LoadUint32((*uint32)(&s.status)))
}

// IsRunning returns true if the Single is marked as running.
func (s *Single) IsRunning() bool {
	return s.GetStatus() == Running
}

// IsStopping returns true if the Single is marked as stopping.
func (s *Single) IsStopping() bool {
	return s.GetStatus() == Stopping
}

// IsStopped returns true if the Single is marked as stopped.
func (s *Single) IsStopped() bool {
	return s.GetStatus() == Stopped
}

// transition moves the status from one value to the next. It returns false,
// leaving the status as is, if the current status is not from.
func (s *Single) transition(from, to Status) bool {
	if !atomic.CompareAndSwapUint32((*uint32)(&s.status), uint32(from),
		uint32(to)) {
		return false
	}
	jww.TRACE.Printf("[STOP] %q: %s -> %s", s.name, from, to)
	return true
}

// toStopping changes the status from running to stopping.
func (s *Single) toStopping() error {
	if !s.transition(Running, Stopping) {
		return errors.Errorf(toStoppingErr, s.Name(), s.GetStatus(), Running)
	}
	return nil
}

// ToStopped changes the status from stopping to stopped. It must be called by
// the goroutine owning the Single once it has returned from its work. Panics
// if the status is not stopping.
func (s *Single) ToStopped() {
	if !s.transition(Stopping, Stopped) {
		jww.FATAL.Panicf("[STOP] %q cannot stop from status %s",
			s.Name(), s.GetStatus())
	}
}

// Quit returns a receive-only channel that is closed when the Single is
// closed.
func (s *Single) Quit() <-chan struct{} {
	return s.quit
}

// Context returns a context derived from parent that is cancelled when the
// Single is closed. The returned cancel function releases the watcher.
func (s *Single) Context(
	parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-s.quit:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Close signals the Single to stop by closing the quit channel. Returns an
// error if the Single is not running.
func (s *Single) Close() error {
	err := errors.Errorf(toStoppingErr, s.Name(), s.GetStatus(), Running)

	s.once.Do(func() {
		err = s.toStopping()
		if err != nil {
			return
		}

		close(s.quit)
	})

	if err != nil {
		jww.ERROR.Print(err.Error())
	}

	return err
}
