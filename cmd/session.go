////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"

	"gitlab.com/elixxir/hubclient/connection"
	"gitlab.com/elixxir/hubclient/credential"
	"gitlab.com/elixxir/hubclient/event"
	"gitlab.com/elixxir/hubclient/hub"
	"gitlab.com/elixxir/hubclient/notifications"
	"gitlab.com/elixxir/hubclient/reconcile"
	"gitlab.com/elixxir/hubclient/resync"
	"gitlab.com/elixxir/hubclient/session"
	"gitlab.com/elixxir/hubclient/stoppable"
	"gitlab.com/elixxir/hubclient/storage"
)

const connectedCallback = "waitUntilConnected"

// hubSession is a session along with the change reporter and store the CLI
// opened for it.
type hubSession struct {
	*session.Session
	changes  *event.Manager
	reporter stoppable.Stoppable
	creds    credential.Provider
	closeDB  func() error
}

// initSession builds a session from the viper configuration. It panics on
// invalid configuration.
func initSession() *hubSession {
	params, err := session.GetParameters(viper.GetString(paramsFlag))
	if err != nil {
		jww.FATAL.Panicf("Failed to parse session params: %+v", err)
	}

	hubURL := viper.GetString(hubURLFlag)
	if hubURL == "" {
		jww.FATAL.Panicf("--%s must be set", hubURLFlag)
	}
	creds := credential.Static(viper.GetString(tokenFlag))
	if _, err = creds.Token(context.Background()); err != nil {
		jww.FATAL.Panicf("--%s must be set: %+v", tokenFlag, err)
	}
	if claims, err := credential.Inspect(string(creds)); err == nil &&
		claims.Subject != "" {
		jww.INFO.Printf("Connecting as %s", claims.Subject)
	}

	hs := &hubSession{
		changes: event.NewManager(),
		creds:   creds,
	}

	var store reconcile.Store
	if dbPath := viper.GetString(dbFlag); dbPath != "" {
		sqlStore, err := storage.NewSQL(dbPath)
		if err != nil {
			jww.FATAL.Panicf("Failed to open database %s: %+v", dbPath, err)
		}
		store, hs.closeDB = sqlStore, sqlStore.Close
	} else {
		jww.INFO.Printf("No --%s set, keeping state in memory", dbFlag)
		store = storage.NewMemory()
	}

	var source resync.Source
	if apiURL := viper.GetString(apiURLFlag); apiURL != "" {
		source = resync.NewHTTPSource(apiURL, creds, params.ResyncTimeout)
	}

	dialer := connection.NewHubDialer(hubURL, hub.GetDefaultParams())
	notify := notifications.NewDispatcher(notifications.LogNotifier{}, nil)

	hs.Session = session.New(params, dialer, source, store, hs.changes, notify)
	return hs
}

// printChanges writes every reported change to stdout.
func (hs *hubSession) printChanges() {
	err := hs.changes.RegisterCallback("print", func(c event.Change) {
		fmt.Println(c)
	})
	if err != nil {
		jww.FATAL.Panicf("%+v", err)
	}
}

// start begins reporting changes and connecting. The returned channel receives
// a value every time the connection becomes usable.
func (hs *hubSession) start() <-chan struct{} {
	connected := make(chan struct{}, 1)
	err := hs.changes.RegisterCallback(connectedCallback,
		func(c event.Change) {
			if c.Kind != event.ConnectionStateChanged ||
				c.Details != connection.Connected.String() {
				return
			}
			select {
			case connected <- struct{}{}:
			default:
			}
		})
	if err != nil {
		jww.FATAL.Panicf("%+v", err)
	}

	hs.reporter = hs.changes.Start()
	if err = hs.Initialize(context.Background(), hs.creds); err != nil {
		jww.FATAL.Panicf("Failed to start session: %+v", err)
	}
	return connected
}

// stop stops the session, the change reporter and the database.
func (hs *hubSession) stop() {
	if err := hs.Stop(); err != nil {
		jww.ERROR.Printf("Failed to stop session: %+v", err)
	} else {
		jww.INFO.Printf("Stopped session")
	}

	if hs.reporter != nil {
		_ = hs.reporter.Close()
		err := stoppable.WaitForStopped(hs.reporter, 5*time.Second)
		if err != nil {
			jww.WARN.Printf("%+v", err)
		}
	}

	if hs.closeDB != nil {
		if err := hs.closeDB(); err != nil {
			jww.ERROR.Printf("Failed to close database: %+v", err)
		}
	}
}

// waitUntilConnected blocks until the session is connected or panics after
// the configured timeout.
func waitUntilConnected(connected <-chan struct{}) {
	waitTimeout := time.Duration(viper.GetUint(waitTimeoutFlag))
	timeoutTimer := time.NewTimer(waitTimeout * time.Second)
	defer timeoutTimer.Stop()

	select {
	case <-connected:
		jww.INFO.Printf("Connected to hub")
	case <-timeoutTimer.C:
		jww.FATAL.Panicf("timeout on connection after %s",
			waitTimeout*time.Second)
	}
}

// parseIDs converts conversation IDs given on the command line.
func parseIDs(raw []string) ([]int64, error) {
	ids := make([]int64, 0, len(raw))
	for _, r := range raw {
		id, err := cast.ToInt64E(r)
		if err != nil {
			return nil, err
		}
		if id <= 0 {
			return nil, errors.Errorf("invalid conversation ID %q", r)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
