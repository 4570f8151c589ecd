package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/billsync/billsync/internal/server"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "billsyncd",
	Short:   "billsyncd - billing-state synchronizer",
	Long:    `billsyncd keeps local subscription records consistent with the payment processor by ingesting its webhook events.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		if err := server.Run(context.Background(), Version); err != nil {
			log.Error().Err(err).Msg("billsyncd failed")
			os.Exit(1)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("billsyncd %s (%s)\n", Version, GitCommit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
