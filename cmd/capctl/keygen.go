package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/triage-ai/palisade/services/capability_registry/internal/attestation"
	"github.com/triage-ai/palisade/services/capability_registry/internal/auth"
)

func newKeygenCmd() *cobra.Command {
	var apiKey bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an attestation signing secret",
		Long: `Prints a new signing secret and the public key attestations made with it
carry. Add the public key to CAPREG_TRUSTED_KEYS to pin it on the server.
With --api-key, also prints a registry API key with the prefix and bcrypt
hash to store in registry_principals.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := attestation.GenerateSecret()
			if err != nil {
				return err
			}
			pub, err := attestation.NewEd25519Signer(nil).PublicKey(secret)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "secret:     %s\n", secret)
			fmt.Fprintf(out, "public_key: %s\n", pub)

			if !apiKey {
				return nil
			}
			key, prefix, hash, err := auth.GenerateAPIKey()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "api_key:    %s\n", key)
			fmt.Fprintf(out, "key_prefix: %s\n", prefix)
			fmt.Fprintf(out, "key_hash:   %s\n", hash)
			return nil
		},
	}
	cmd.Flags().BoolVar(&apiKey, "api-key", false, "also generate a registry API key")
	return cmd
}
