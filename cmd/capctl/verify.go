package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/triage-ai/palisade/services/capability_registry/internal/attestation"
	"github.com/triage-ai/palisade/services/capability_registry/internal/capability"
	"github.com/triage-ai/palisade/services/capability_registry/internal/declaration"
	"github.com/triage-ai/palisade/services/capability_registry/internal/toolcheck"
)

var errNotVerified = errors.New("bundle did not verify")

type verifyResult struct {
	WorkerID        string                      `json:"worker_id"`
	Verified        bool                        `json:"verified"`
	RequiredToolsOK *bool                       `json:"required_tools_ok,omitempty"`
	Statistics      capability.Statistics       `json:"statistics"`
	Tools           []capability.SecurityReport `json:"tools"`
}

func newVerifyCmd() *cobra.Command {
	var (
		file        string
		available   []string
		probeHost   bool
		trustedKeys []string
		maxAge      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a bundle's attestations and print its security report",
		Long: `Decodes a bundle, verifies every tool's attestation and prints a JSON
report. With --available or --probe-host it also checks that every required
tool, or one of its alternatives, is present. Exits non-zero when any check
fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("verify: %w", err)
			}
			b, err := declaration.DecodeBundle(data)
			if err != nil {
				return err
			}
			svc := attestation.NewService(attestation.ServiceConfig{
				TTL:         maxAge,
				TrustedKeys: trustedKeys,
			})
			now := time.Now()

			res := verifyResult{
				WorkerID:   b.ID,
				Verified:   b.VerifyAllCapabilities(svc, now),
				Statistics: b.Statistics(svc, now),
				Tools:      b.SecurityReport(svc, now),
			}
			ok := res.Verified

			var checkers []capability.ToolChecker
			if len(available) > 0 {
				checkers = append(checkers, capability.NewToolSet(available...))
			}
			if probeHost {
				checkers = append(checkers, toolcheck.NewLookPathChecker())
			}
			if len(checkers) > 0 {
				present := b.HasAllRequiredTools(capability.AnyOf(checkers...), now)
				res.RequiredToolsOK = &present
				ok = ok && present
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !ok {
				return errNotVerified
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "bundle file")
	cmd.Flags().StringSliceVar(&available, "available", nil, "tools to treat as installed")
	cmd.Flags().BoolVar(&probeHost, "probe-host", false, "treat tools on this host's PATH as installed")
	cmd.Flags().StringSliceVar(&trustedKeys, "trusted-key", nil, "accept only attestations made with these public keys")
	cmd.Flags().DurationVar(&maxAge, "max-age", attestation.DefaultTTL, "maximum attestation age")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
