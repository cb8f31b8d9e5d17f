////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package cmd initializes the CLI and config parsers as well as the logger.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
)

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen once
// to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// rootCmd connects to the hub, subscribes to the requested conversations and
// prints every change until interrupted.
var rootCmd = &cobra.Command{
	Use:   "hubclient",
	Short: "Runs a client for a real-time conversation hub",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if out := viper.GetString(profileCPUFlag); out != "" {
			defer profile.Start(profile.CPUProfile, profile.ProfilePath(out),
				profile.NoShutdownHook).Stop()
		}
		initLog(viper.GetUint(logLevelFlag), viper.GetString(logFlag))
		jww.INFO.Printf(Version())

		ids, err := parseIDs(viper.GetStringSlice(subscribeFlag))
		if err != nil {
			jww.FATAL.Panicf("Invalid --%s: %+v", subscribeFlag, err)
		}

		hs := initSession()
		hs.printChanges()
		waitUntilConnected(hs.start())

		for _, id := range ids {
			r := hs.Subscribe(context.Background(), id)
			if !r.Success {
				jww.ERROR.Printf("Failed to subscribe to conversation %d: %+v",
					id, r.Err)
				continue
			}
			jww.INFO.Printf("Subscribed to conversation %d", id)
		}

		// Wait until the user terminates the program
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c

		hs.stop()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().UintP(logLevelFlag, "v", 0,
		"Verbose mode for debugging")
	viper.BindPFlag(logLevelFlag,
		rootCmd.PersistentFlags().Lookup(logLevelFlag))

	rootCmd.PersistentFlags().StringP(logFlag, "l", "-",
		"Path to the log output path (- is stdout)")
	viper.BindPFlag(logFlag, rootCmd.PersistentFlags().Lookup(logFlag))

	rootCmd.PersistentFlags().StringP(hubURLFlag, "u", "",
		"URL of the real-time hub endpoint")
	viper.BindPFlag(hubURLFlag, rootCmd.PersistentFlags().Lookup(hubURLFlag))

	rootCmd.PersistentFlags().StringP(apiURLFlag, "a", "",
		"Base URL of the REST API serving conversation summaries, skips "+
			"summary resyncs if empty")
	viper.BindPFlag(apiURLFlag, rootCmd.PersistentFlags().Lookup(apiURLFlag))

	rootCmd.PersistentFlags().StringP(tokenFlag, "t", "",
		"Bearer token used to authenticate with the hub")
	viper.BindPFlag(tokenFlag, rootCmd.PersistentFlags().Lookup(tokenFlag))

	rootCmd.PersistentFlags().StringP(dbFlag, "d", "",
		"Path to the SQLite database holding local state, keeps state in "+
			"memory if empty")
	viper.BindPFlag(dbFlag, rootCmd.PersistentFlags().Lookup(dbFlag))

	rootCmd.PersistentFlags().String(paramsFlag, "",
		"JSON session parameters applied on top of the defaults")
	viper.BindPFlag(paramsFlag, rootCmd.PersistentFlags().Lookup(paramsFlag))

	rootCmd.PersistentFlags().Uint(waitTimeoutFlag, 30,
		"Seconds to wait for the first connection")
	viper.BindPFlag(waitTimeoutFlag,
		rootCmd.PersistentFlags().Lookup(waitTimeoutFlag))

	rootCmd.Flags().StringSliceP(subscribeFlag, "s", nil,
		"Conversation IDs to subscribe to")
	viper.BindPFlag(subscribeFlag, rootCmd.Flags().Lookup(subscribeFlag))

	rootCmd.PersistentFlags().String(profileCPUFlag, "",
		"Enable cpu profiling to this directory")
	viper.BindPFlag(profileCPUFlag,
		rootCmd.PersistentFlags().Lookup(profileCPUFlag))
}

// initConfig reads a .env file if present and lets HUBCLIENT_ environment
// variables stand in for every flag.
func initConfig() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		jww.WARN.Printf("Failed to load .env: %+v", err)
	}
	viper.SetEnvPrefix("hubclient")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// initLog initializes logging thresholds and the log path.
func initLog(threshold uint, logPath string) {
	if logPath != "-" && logPath != "" {
		// Disable stdout output
		jww.SetStdoutOutput(io.Discard)
		// Use log file
		logOutput, err := os.OpenFile(logPath,
			os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			panic(err.Error())
		}
		jww.SetLogOutput(logOutput)
	}

	if threshold > 1 {
		jww.INFO.Printf("log level set to: TRACE")
		jww.SetStdoutThreshold(jww.LevelTrace)
		jww.SetLogThreshold(jww.LevelTrace)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
	} else if threshold == 1 {
		jww.INFO.Printf("log level set to: DEBUG")
		jww.SetStdoutThreshold(jww.LevelDebug)
		jww.SetLogThreshold(jww.LevelDebug)
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
	} else {
		jww.INFO.Printf("log level set to: INFO")
		jww.SetStdoutThreshold(jww.LevelInfo)
		jww.SetLogThreshold(jww.LevelInfo)
	}
}
