////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package notifications

import (
	jww "github.com/spf13/jwalterweatherman"
)

// LogNotifier shows notifications as log lines. It is always permitted.
type LogNotifier struct{}

// Permitted returns true.
func (LogNotifier) Permitted() bool { return true }

// Show logs the notification.
func (LogNotifier) Show(title, body string) error {
	jww.INFO.Printf("[NOTIF] %s: %s", title, body)
	return nil
}
