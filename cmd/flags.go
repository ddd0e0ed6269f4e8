package cmd

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
)

var (
	output       string
	format       = formatHex
	configfsRoot string
	rtmrIndex    int
	privilege    int
	// Inputs to the service provider attributes of a report.
	serviceProvider        string
	serviceGUID            string
	serviceManifestVersion string
)

const (
	formatHex       = "hex"
	formatBinary    = "binary"
	formatTextproto = "textproto"
	formatJSON      = "json"
)

var formats = []string{formatHex, formatBinary, formatTextproto, formatJSON}

type formatFlag struct {
	value *string
}

func (f *formatFlag) Set(val string) error {
	if !slices.Contains(formats, val) {
		return fmt.Errorf("unknown format %q, allowed: %s", val, f.Allowed())
	}
	*f.value = val
	return nil
}

func (f *formatFlag) Type() string {
	return "format"
}

func (f *formatFlag) String() string {
	return *f.value
}

// Allowed gives a string list of the permitted format values for this flag.
func (f *formatFlag) Allowed() string {
	return strings.Join(formats, ", ")
}

// Disable the "help" subcommand (and just use the -h/--help flags).
// This should be called on all commands with subcommands.
// See https://github.com/spf13/cobra/issues/587 for why this is needed.
func hideHelp(cmd *cobra.Command) {
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
}

// Lets this command specify an output file, for use with dataOutput().
func addOutputFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&output, "output", "",
		"output file (defaults to stdout)")
}

// Lets this command specify how the report is written.
func addFormatFlag(cmd *cobra.Command) {
	f := formatFlag{&format}
	cmd.Flags().Var(&f, "format", "output format of the report: "+f.Allowed())
}

// Lets this command specify the RTMR to extend.
func addRtmrIndexFlag(cmd *cobra.Command) {
	cmd.Flags().IntVar(&rtmrIndex, "index", -1, "RTMR index to extend, must be non-negative")
}

func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&privilege, "privilege", -1,
		"privilege level to request the report at (negative leaves it to the kernel)")
	cmd.Flags().StringVar(&serviceProvider, "service-provider", "", "service provider to request the report from, e.g. svsm")
	cmd.Flags().StringVar(&serviceGUID, "service-guid", "", "GUID of the service whose manifest is requested")
	cmd.Flags().StringVar(&serviceManifestVersion, "service-manifest-version", "", "version of the service manifest")
}

// alwaysError implements io.Writer by always returning an error
type alwaysError struct {
	error
}

func (ae alwaysError) Write([]byte) (int, error) {
	return 0, ae.error
}

// Handle to output data file. If there is an issue opening the file, the Writer
// returned will return the error upon any call to Write()
func dataOutput() io.Writer {
	if output == "" {
		return os.Stdout
	}

	file, err := os.Create(output)
	if err != nil {
		return alwaysError{err}
	}
	return file
}
