////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package hub

import (
	"encoding/json"
	"time"
)

// Params configures a hub connection.
type Params struct {
	// KeepAliveInterval is how often a ping frame is sent to the hub.
	KeepAliveInterval time.Duration

	// ServerTimeout is how long the connection may go without receiving any
	// frame before it is considered dead. It must be longer than the hub's
	// own keep-alive interval.
	ServerTimeout time.Duration

	// HandshakeTimeout bounds the websocket upgrade and the protocol
	// handshake.
	HandshakeTimeout time.Duration

	// WriteWait is the deadline for writing a single frame.
	WriteWait time.Duration

	// MaxFramesPerSecond paces outbound frames. Zero disables pacing.
	MaxFramesPerSecond int

	// SendBufferSize is the number of outbound frames that can be queued
	// before Send and Invoke block.
	SendBufferSize int
}

// GetDefaultParams returns the default Params.
func GetDefaultParams() Params {
	return Params{
		KeepAliveInterval:  15 * time.Second,
		ServerTimeout:      30 * time.Second,
		HandshakeTimeout:   10 * time.Second,
		WriteWait:          10 * time.Second,
		MaxFramesPerSecond: 50,
		SendBufferSize:     64,
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

// withDefaults replaces unset durations and sizes with their defaults.
func (p Params) withDefaults() Params {
	d := GetDefaultParams()
	if p.KeepAliveInterval <= 0 {
		p.KeepAliveInterval = d.KeepAliveInterval
	}
	if p.ServerTimeout <= 0 {
		p.ServerTimeout = d.ServerTimeout
	}
	if p.HandshakeTimeout <= 0 {
		p.HandshakeTimeout = d.HandshakeTimeout
	}
	if p.WriteWait <= 0 {
		p.WriteWait = d.WriteWait
	}
	if p.SendBufferSize < 0 {
		p.SendBufferSize = 0
	}
	return p
}
