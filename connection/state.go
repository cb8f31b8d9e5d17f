////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package connection

import (
	"strconv"
)

// State is the lifecycle state of the hub connection.
//
// The documented transitions are:
//
//	Disconnected -> Connecting -> Resyncing -> Connected
//	Connected -> Reconnecting -> Resyncing -> Connected
//	any -> Disconnected on Stop
//
// A failed attempt goes back to Connecting or Reconnecting. Commands are only
// accepted in Connected.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Reconnecting
	Resyncing
	Connected
)

// String returns a human-readable name of the state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Reconnecting:
		return "reconnecting"
	case Resyncing:
		return "resyncing"
	case Connected:
		return "connected"
	default:
		return "INVALID STATE: " + strconv.Itoa(int(s))
	}
}
