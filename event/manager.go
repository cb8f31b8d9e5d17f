////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package event

import (
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/hubclient/stoppable"
)

const (
	// Size of the change queue. Reports beyond it are dropped.
	changeQueueLen = 1000

	duplicateCallbackErr = "key %s already exists as change callback"
)

// Manager queues reported changes and hands them to every registered callback
// from a single goroutine, so callbacks observe changes in report order.
type Manager struct {
	changes   chan Change
	callbacks sync.Map
}

// NewManager returns a Manager. Start must be called for callbacks to run.
func NewManager() *Manager {
	return &Manager{
		changes: make(chan Change, changeQueueLen),
	}
}

// Report queues a change. It never blocks; a full queue drops the change and
// logs an error.
func (m *Manager) Report(c Change) {
	select {
	case m.changes <- c:
		jww.TRACE.Printf("Change reported: %s", c)
	default:
		jww.ERROR.Printf("Change queue full, unable to report: %s", c)
	}
}

// RegisterCallback records the given function to receive changes under the
// given name.
func (m *Manager) RegisterCallback(name string, cb Callback) error {
	if _, exists := m.callbacks.LoadOrStore(name, cb); exists {
		return errors.Errorf(duplicateCallbackErr, name)
	}
	return nil
}

// UnregisterCallback deletes the callback registered under name.
func (m *Manager) UnregisterCallback(name string) {
	m.callbacks.Delete(name)
}

// Start launches the reporting goroutine.
func (m *Manager) Start() stoppable.Stoppable {
	stop := stoppable.NewSingle("ChangeReporting")
	go m.reportChanges(stop)
	return stop
}

// reportChanges hands each queued change to every registered callback.
func (m *Manager) reportChanges(stop *stoppable.Single) {
	jww.DEBUG.Print("reportChanges routine started")
	for {
		select {
		case <-stop.Quit():
			jww.DEBUG.Print("Stopping reportChanges")
			stop.ToStopped()
			return
		case c := <-m.changes:
			m.callbacks.Range(func(_, cb interface{}) bool {
				cb.(Callback)(c)
				return true
			})
		}
	}
}
