////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package cmd

// This is a comprehensive list of CLI flag name constants. Organized by
// subcommand, with root level CLI flags at the top of the list. Pulling flags
// using Viper should use the constants defined here.
const (
	//////////////// Root flags ///////////////////////////////////////////////

	// Log flags
	logLevelFlag = "logLevel"
	logFlag      = "log"

	// Hub flags
	hubURLFlag      = "hubURL"
	apiURLFlag      = "apiURL"
	tokenFlag       = "token"
	paramsFlag      = "params"
	dbFlag          = "db"
	waitTimeoutFlag = "waitTimeout"

	// Listen flags
	subscribeFlag = "subscribe"

	// Misc
	profileCPUFlag = "profile-cpu"

	///////////////// Send subcommand flags ///////////////////////////////////
	conversationFlag = "conversation"
	messageFlag      = "message"
)
