////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// Tests that Multi.Name lists the names of all children.
func TestMulti_Name(t *testing.T) {
	multi := NewMulti("testMulti")
	var names []string
	for i := 0; i < 3; i++ {
		s := NewSingle("single" + strconv.Itoa(i))
		multi.Add(s)
		names = append(names, s.Name())
	}

	expected := "testMulti{" + strings.Join(names, ", ") + "}"
	if multi.Name() != expected {
		t.Errorf("Name failed to return the expected string."+
			"\nexpected: %s\nreceived: %s", expected, multi.Name())
	}
}

// Tests that Multi.GetStatus returns the lowest status of its children.
func TestMulti_GetStatus(t *testing.T) {
	multi := NewMulti("testMulti")
	single1 := NewSingle("testSingle1")
	single2 := NewSingle("testSingle2")
	atomic.StoreUint32((*uint32)(&single2.status), uint32(Stopped))
	multi.Add(single1)
	multi.Add(single2)

	if status := multi.GetStatus(); status != Running {
		t.Errorf("GetStatus returned the wrong status."+
			"\nexpected: %s\nreceived: %s", Running, status)
	}

	atomic.StoreUint32((*uint32)(&single1.status), uint32(Stopping))
	if status := multi.GetStatus(); status != Stopping {
		t.Errorf("GetStatus returned the wrong status."+
			"\nexpected: %s\nreceived: %s", Stopping, status)
	}

	atomic.StoreUint32((*uint32)(&single1.status), uint32(Stopped))
	if status := multi.GetStatus(); status != Stopped {
		t.Errorf("GetStatus returned the wrong status."+
			"\nexpected: %s\nreceived: %s", Stopped, status)
	}
}

// Tests that a Multi with no children reports stopped.
func TestMulti_GetStatus_NoChildren(t *testing.T) {
	if status := NewMulti("testMulti").GetStatus(); status != Stopped {
		t.Errorf("GetStatus returned the wrong status."+
			"\nexpected: %s\nreceived: %s", Stopped, status)
	}
}

// Tests that Multi.Close closes every running child.
func TestMulti_Close(t *testing.T) {
	multi := NewMulti("testMulti")
	singles := []*Single{
		NewSingle("testSingle0"), NewSingle("testSingle1"),
		NewSingle("testSingle2"),
	}
	for _, s := range singles {
		multi.Add(s)
		go func(s *Single) {
			<-s.Quit()
			s.ToStopped()
		}(s)
	}

	if err := multi.Close(); err != nil {
		t.Fatalf("Close returned an error: %+v", err)
	}

	if err := WaitForStopped(multi, time.Second); err != nil {
		t.Errorf("Multi did not stop: %+v", err)
	}
}
