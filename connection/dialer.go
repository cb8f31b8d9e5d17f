////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package connection

import (
	"context"
	"encoding/json"

	"gitlab.com/elixxir/hubclient/hub"
)

// Invoker calls a hub method and waits for its completion.
type Invoker interface {
	Invoke(ctx context.Context, target string, args ...interface{}) (
		json.RawMessage, error)
}

// Conn is one established hub connection.
type Conn interface {
	Invoker

	// Send calls a hub method without waiting for a completion.
	Send(target string, args ...interface{}) error

	// Done is closed when the connection is no longer usable.
	Done() <-chan struct{}

	// Err returns why the connection ended.
	Err() error

	// Close tears down the connection.
	Close() error
}

// Dialer opens hub connections. Events pushed on the connection are passed to
// handler.
type Dialer interface {
	Dial(ctx context.Context, token string, handler hub.Handler) (Conn, error)
}

// HubDialer dials the hub at URL over a websocket.
type HubDialer struct {
	URL    string
	Params hub.Params
}

// NewHubDialer returns a Dialer for the hub at url.
func NewHubDialer(url string, params hub.Params) HubDialer {
	return HubDialer{URL: url, Params: params}
}

// Dial opens a hub connection.
func (d HubDialer) Dial(ctx context.Context, token string,
	handler hub.Handler) (Conn, error) {
	c, err := hub.Dial(ctx, d.URL, token, d.Params, handler)
	if err != nil {
		return nil, err
	}
	return c, nil
}
