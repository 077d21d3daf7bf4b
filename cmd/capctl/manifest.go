package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/triage-ai/palisade/services/capability_registry/internal/attestation"
	"github.com/triage-ai/palisade/services/capability_registry/internal/capability"
	"github.com/triage-ai/palisade/services/capability_registry/internal/declaration"
)

// loadBundle builds the bundle a manifest file declares, giving tools without
// their own ttl the default lifetime.
func loadBundle(path string, ttl time.Duration) (capability.Bundle, error) {
	m, err := declaration.LoadManifest(path)
	if err != nil {
		return capability.Bundle{}, err
	}
	cfg := capability.DefaultConfig()
	cfg.Expiration = ttl
	return m.Bundle(capability.NewFactory(cfg, nil))
}

func newHashCmd() *cobra.Command {
	var (
		file string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print the capability hash of every tool in a manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := loadBundle(file, ttl)
			if err != nil {
				return err
			}
			for _, c := range capability.Categories {
				for _, tool := range b.Tools(c) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", c, tool.ToolName, tool.Hash())
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "manifest file")
	cmd.Flags().DurationVar(&ttl, "ttl", capability.DefaultExpiration, "lifetime of tools without a ttl")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newAttestCmd() *cobra.Command {
	var (
		file     string
		key      string
		attester string
		output   string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Build a manifest into a bundle and attest every tool",
		Long: `Builds the bundle a manifest declares, signs each tool's capability hash
with the given secret and writes the bundle as JSON. The secret may also be
supplied through CAPCTL_SIGNING_KEY.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if key == "" {
				key = os.Getenv("CAPCTL_SIGNING_KEY")
			}
			if key == "" {
				return fmt.Errorf("attest: %w", attestation.ErrEmptyKey)
			}
			b, err := loadBundle(file, ttl)
			if err != nil {
				return err
			}
			svc := attestation.NewService(attestation.ServiceConfig{})
			if err := svc.AttestBundle(&b, key, attester); err != nil {
				return err
			}
			data, err := declaration.EncodeBundle(b)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			return os.WriteFile(output, append(data, '\n'), 0o644)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "manifest file")
	cmd.Flags().StringVar(&key, "key", "", "signing secret")
	cmd.Flags().StringVar(&attester, "attester", "capctl", "attester recorded in each attestation")
	cmd.Flags().StringVarP(&output, "output", "o", "", "bundle output file (default stdout)")
	cmd.Flags().DurationVar(&ttl, "ttl", capability.DefaultExpiration, "lifetime of tools without a ttl")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
