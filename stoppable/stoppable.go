////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package stoppable tracks the lifecycle of the long-running goroutines of the
// hub client (connection run loop, event loop, change reporting) so they can
// be shut down together and waited on.
package stoppable

import (
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Error message.
const timeoutErr = "timed out after %s waiting for %s to stop"

// Stoppable is a goroutine, or group of goroutines, that can be asked to stop.
type Stoppable interface {
	// Name returns the name of the Stoppable, used for logging.
	Name() string

	// GetStatus returns the current Status.
	GetStatus() Status

	// IsRunning returns true if the Stoppable has not been asked to stop.
	IsRunning() bool

	// IsStopping returns true if the Stoppable has been asked to stop but has
	// not finished.
	IsStopping() bool

	// IsStopped returns true once the Stoppable has fully stopped.
	IsStopped() bool

	// Close signals the Stoppable to stop. It does not wait.
	Close() error
}

// WaitForStopped polls the Stoppable until it is stopped or the timeout is
// reached.
func WaitForStopped(s Stoppable, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for !s.IsStopped() {
		select {
		case <-deadline.C:
			return errors.Errorf(timeoutErr, timeout, s.Name())
		case <-ticker.C:
		}
	}

	jww.DEBUG.Printf("Stoppable %q stopped.", s.Name())
	return nil
}
