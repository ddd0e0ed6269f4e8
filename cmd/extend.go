package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/google/go-tsm-tools/rtmr"
	"github.com/spf13/cobra"
)

var extendCmd = &cobra.Command{
	Use:   "extend --index <rtmr> <digest>",
	Short: "Extend a digest into an RTMR",
	Long: `Extend a hex encoded SHA-384 digest into a runtime measurement register

The RTMR is selected with --index. An entry for the RTMR is created under
/sys/kernel/config/tsm/rtmr the first time the index is used, and reused after.
The digest is not hashed again before extension.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		digest, err := hex.DecodeString(args[0])
		if err != nil {
			return fmt.Errorf("digest must be hex encoded: %w", err)
		}
		client, err := openClient()
		if err != nil {
			return err
		}
		fmt.Fprintf(debugOutput(), "Extending RTMR %d with %x\n", rtmrIndex, digest)
		return rtmr.ExtendDigest(client, rtmrIndex, digest)
	},
}

func init() {
	RootCmd.AddCommand(extendCmd)
	addRtmrIndexFlag(extendCmd)
	extendCmd.MarkFlagRequired("index")
}
