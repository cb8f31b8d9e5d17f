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

	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
)

// sendCmd sends one message to a conversation and prints the new message ID.
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Sends a message to a conversation",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		initLog(viper.GetUint(logLevelFlag), viper.GetString(logFlag))

		conversationID := viper.GetInt64(conversationFlag)
		if conversationID <= 0 {
			jww.FATAL.Panicf("--%s must be a conversation ID",
				conversationFlag)
		}
		content := viper.GetString(messageFlag)

		hs := initSession()
		waitUntilConnected(hs.start())
		defer hs.stop()

		r := hs.SendMessage(context.Background(), conversationID, content)
		if !r.Success {
			jww.ERROR.Printf("Failed to send message: %+v", r.Err)
			fmt.Printf("Failed to send message: %v\n", r.Err)
			return
		}
		jww.INFO.Printf("Sent message %d to conversation %d", r.MessageID,
			conversationID)
		fmt.Printf("Sent message %d\n", r.MessageID)
	},
}

func init() {
	sendCmd.Flags().Int64P(conversationFlag, "c", 0,
		"ID of the conversation to send to")
	viper.BindPFlag(conversationFlag, sendCmd.Flags().Lookup(conversationFlag))

	sendCmd.Flags().StringP(messageFlag, "m", "",
		"Message content to send")
	viper.BindPFlag(messageFlag, sendCmd.Flags().Lookup(messageFlag))

	rootCmd.AddCommand(sendCmd)
}
