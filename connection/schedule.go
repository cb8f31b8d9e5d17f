////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package connection

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// schedule is a backoff.BackOff over a fixed list of delays, repeating the
// last one forever. delays[0] is the wait before the first attempt of a run,
// so NextBackOff starts at delays[1].
type schedule struct {
	delays  []time.Duration
	attempt int
}

func newSchedule(delays []time.Duration) *schedule {
	return &schedule{delays: delays}
}

// first is the wait before the first attempt.
func (s *schedule) first() time.Duration {
	return s.delay(0)
}

// NextBackOff returns the wait before the next attempt.
func (s *schedule) NextBackOff() time.Duration {
	s.attempt++
	return s.delay(s.attempt)
}

// Reset starts the schedule over.
func (s *schedule) Reset() {
	s.attempt = 0
}

func (s *schedule) delay(n int) time.Duration {
	switch {
	case len(s.delays) == 0:
		return 0
	case n >= len(s.delays):
		return s.delays[len(s.delays)-1]
	default:
		return s.delays[n]
	}
}

var _ backoff.BackOff = (*schedule)(nil)
