////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package session

import (
	"encoding/json"
	"time"

	"gitlab.com/elixxir/hubclient/connection"
	"gitlab.com/elixxir/hubclient/reconcile"
)

// Params configures a Session.
type Params struct {
	Connection connection.Params
	Reconcile  reconcile.Params

	// CommandTimeout bounds every command sent to the hub.
	CommandTimeout time.Duration

	// ResyncTimeout bounds fetching the conversation summaries after a
	// (re)connection.
	ResyncTimeout time.Duration

	// TypingSweepInterval is how often stale typing flags are cleared.
	TypingSweepInterval time.Duration

	// EventQueueSize is the number of hub events that can wait for the
	// event loop before the connection's read pump blocks.
	EventQueueSize int

	// StopTimeout is how long Stop waits for the session to wind down.
	StopTimeout time.Duration
}

// GetDefaultParams returns the default Params.
func GetDefaultParams() Params {
	return Params{
		Connection:          connection.GetDefaultParams(),
		Reconcile:           reconcile.GetDefaultParams(),
		CommandTimeout:      10 * time.Second,
		ResyncTimeout:       15 * time.Second,
		TypingSweepInterval: time.Second,
		EventQueueSize:      1000,
		StopTimeout:         5 * time.Second,
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
