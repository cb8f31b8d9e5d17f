////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Error message.
const closeMultiErr = "multi stoppable %q failed to close %d/%d children: %s"

// Multi stops a group of Stoppables together.
type Multi struct {
	name       string
	stoppables []Stoppable
	mux        sync.RWMutex
	once       sync.Once
}

// NewMulti returns a new empty Multi.
func NewMulti(name string) *Multi {
	return &Multi{
		name: name,
	}
}

// Add adds the Stoppable to the list of children.
func (m *Multi) Add(stoppable Stoppable) {
	m.mux.Lock()
	m.stoppables = append(m.stoppables, stoppable)
	m.mux.Unlock()
}

// Name returns the name of the Multi followed by the names of its children.
func (m *Multi) Name() string {
	m.mux.RLock()
	defer m.mux.RUnlock()

	names := make([]string, len(m.stoppables))
	for i, s := range m.stoppables {
		names[i] = s.Name()
	}

	return m.name + "{" + strings.Join(names, ", ") + "}"
}

// GetStatus returns the lowest status of all children. A Multi with no
// children is stopped.
func (m *Multi) GetStatus() Status {
	m.mux.RLock()
	defer m.mux.RUnlock()

	if len(m.stoppables) == 0 {
		return Stopped
	}

	lowest := Stopped
	for _, s := range m.stoppables {
		if status := s.GetStatus(); status < lowest {
			lowest = status
		}
	}

	return lowest
}

// IsRunning returns true if any child is running.
func (m *Multi) IsRunning() bool {
	return m.GetStatus() == Running
}

// IsStopping returns true if no child is running and at least one is still
// stopping.
func (m *Multi) IsStopping() bool {
	return m.GetStatus() == Stopping
}

// IsStopped returns true if all children are stopped.
func (m *Multi) IsStopped() bool {
	return m.GetStatus() == Stopped
}

// Close closes all children in parallel. Children that are no longer running
// are skipped.
func (m *Multi) Close() error {
	var err error

	m.once.Do(func() {
		m.mux.RLock()
		children := make([]Stoppable, len(m.stoppables))
		copy(children, m.stoppables)
		m.mux.RUnlock()

		var (
			wg       sync.WaitGroup
			errMux   sync.Mutex
			failures []string
		)
		for _, s := range children {
			if !s.IsRunning() {
				continue
			}
			wg.Add(1)
			go func(s Stoppable) {
				defer wg.Done()
				if closeErr := s.Close(); closeErr != nil {
					errMux.Lock()
					failures = append(failures, closeErr.Error())
					errMux.Unlock()
				}
			}(s)
		}
		wg.Wait()

		if len(failures) > 0 {
			err = errors.Errorf(closeMultiErr, m.name, len(failures),
				len(children), strings.Join(failures, "; "))
			jww.ERROR.Print(err.Error())
		}
	})

	return err
}
