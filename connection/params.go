////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package connection

import (
	"encoding/json"
	"time"
)

// Params configures the Manager.
type Params struct {
	// InitialAttempts bounds the attempts of the first connection. Once they
	// are used up the manager keeps retrying on the reconnect schedule.
	InitialAttempts int

	// ReconnectDelays is the wait before each attempt of a retry run. The
	// last delay repeats forever.
	ReconnectDelays []time.Duration

	// DialTimeout bounds a single connection attempt, including the hub
	// handshake.
	DialTimeout time.Duration

	// StopTimeout is how long Stop waits for the run loop to finish.
	StopTimeout time.Duration
}

// GetDefaultParams returns the default Params.
func GetDefaultParams() Params {
	return Params{
		InitialAttempts: 3,
		ReconnectDelays: []time.Duration{
			0, 2 * time.Second, 5 * time.Second, 10 * time.Second,
			30 * time.Second,
		},
		DialTimeout: 15 * time.Second,
		StopTimeout: 5 * time.Second,
	}
}

// GetParameters returns the default Params with the given JSON applied on
// top.
func GetParameters(params string) (Params, error) {
	p := GetDefaultParams()
	if len(params) > 0 {
		err := json.Unmarshal([]byte(params), &p)
		if err != nil {
			return Params{}, err
		}
	}
	return p, nil
}
