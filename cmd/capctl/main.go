// Command capctl builds, attests and inspects worker capability bundles and
// registers them with a capability registry server.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "capctl",
		Short: "Manage worker capability declarations",
		Long: `capctl turns capability manifests into attested bundles, checks
bundles against the attestation rules and registers them with a
capability registry server.`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newKeygenCmd(),
		newHashCmd(),
		newAttestCmd(),
		newVerifyCmd(),
		newRegisterCmd(),
		newRevokeCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}
