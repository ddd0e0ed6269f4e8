// Package cmd contains a CLI to interact with the configfs-tsm interface.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/google/go-tsm-tools/configfs/configfsi"
	"github.com/google/go-tsm-tools/configfs/linuxtsm"
	"github.com/google/logger"
	"github.com/spf13/cobra"
)

// RootCmd is the entrypoint for gotsm.
var RootCmd = &cobra.Command{
	Use:   "gotsm <report data>",
	Short: "Request attestation reports and extend RTMRs through configfs-tsm",
	Long: `Command line tool for the Linux configfs-tsm interface

Given hex encoded report data (up to 64 bytes on current platforms), creates a
report entry under /sys/kernel/config/tsm/report, requests a report over that
data and writes the resulting out blob.

To generate random report data, use
  head -c 64 /dev/urandom | xxd -p | tr -d '\n'`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		logger.Init("gotsm", false, false, debugOutput())
		if verbose {
			logger.SetLevel(1)
		}
	},
	PreRunE: checkReportFlags,
	RunE:    runReport,
}

var verbose bool

// ExternalClient can be set to run commands against a configfsi.Client created by
// an external package, such as a faketsm.Client in tests.
var ExternalClient configfsi.Client

func openClient() (configfsi.Client, error) {
	if ExternalClient != nil {
		return ExternalClient, nil
	}
	client, err := linuxtsm.MakeClientAt(configfsRoot)
	if err != nil {
		return nil, fmt.Errorf("connecting to configfs-tsm: %w", err)
	}
	return client, nil
}

// debugOutput is where progress messages go so data output stays clean.
func debugOutput() io.Writer {
	if verbose {
		return os.Stderr
	}
	return io.Discard
}

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log configfs operations to stderr")
	RootCmd.PersistentFlags().StringVar(&configfsRoot, "configfs-root", "",
		"directory that holds sys/kernel/config/tsm (defaults to /)")
	addOutputFlag(RootCmd)
	addFormatFlag(RootCmd)
	addReportFlags(RootCmd)
	hideHelp(RootCmd)
}
