package cmd

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/google/go-tsm-tools/report"
	"github.com/spf13/cobra"
)

var (
	auxBlobOutput  string
	manifestOutput string
)

// checkReportFlags rejects flag combinations before any configfs entry is created.
func checkReportFlags(*cobra.Command, []string) error {
	if manifestOutput != "" && serviceProvider == "" {
		return fmt.Errorf("--manifest-output requires --service-provider")
	}
	return nil
}

func runReport(_ *cobra.Command, args []string) error {
	reportData, err := hex.DecodeString(args[0])
	if err != nil {
		return fmt.Errorf("report data must be hex encoded: %w", err)
	}
	client, err := openClient()
	if err != nil {
		return err
	}

	req := &report.Request{
		InBlob:                 reportData,
		GetAuxBlob:             auxBlobOutput != "",
		ServiceProvider:        serviceProvider,
		ServiceGuid:            serviceGUID,
		ServiceManifestVersion: serviceManifestVersion,
	}
	if privilege >= 0 {
		req.Privilege = &report.Privilege{Level: uint(privilege)}
	}
	fmt.Fprintf(debugOutput(), "Requesting report over %d bytes of report data\n", len(reportData))
	resp, err := report.Get(client, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(debugOutput(), "Received %d byte report from provider %q\n", len(resp.OutBlob), resp.Provider)

	if auxBlobOutput != "" {
		if err := os.WriteFile(auxBlobOutput, resp.AuxBlob, 0644); err != nil {
			return fmt.Errorf("cannot output aux blob: %w", err)
		}
	}
	if manifestOutput != "" {
		if err := os.WriteFile(manifestOutput, resp.ManifestBlob, 0644); err != nil {
			return fmt.Errorf("cannot output manifest blob: %w", err)
		}
	}

	out, err := formatReport(resp)
	if err != nil {
		return err
	}
	if _, err := dataOutput().Write(out); err != nil {
		return fmt.Errorf("cannot output report: %w", err)
	}
	return nil
}

func init() {
	RootCmd.Flags().StringVar(&auxBlobOutput, "aux-blob-output", "",
		"fetch the auxiliary blob (e.g. certificates) and write it to this file")
	RootCmd.Flags().StringVar(&manifestOutput, "manifest-output", "",
		"write the service manifest blob to this file, requires --service-provider")
}
