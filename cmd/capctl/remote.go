package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/triage-ai/palisade/services/capability_registry/internal/declaration"
	"github.com/triage-ai/palisade/services/capability_registry/internal/server"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

type remoteFlags struct {
	addr    string
	token   string
	timeout time.Duration
}

func (f *remoteFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", "localhost:50061", "registry server address")
	cmd.Flags().StringVar(&f.token, "token", "", "API key (default $CAPCTL_TOKEN)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "request timeout")
}

// dial connects to the registry and returns a context carrying the bearer
// token. The caller closes the connection and cancels the context.
func (f *remoteFlags) dial(parent context.Context) (*server.Client, *grpc.ClientConn, context.Context, context.CancelFunc, error) {
	token := f.token
	if token == "" {
		token = os.Getenv("CAPCTL_TOKEN")
	}
	conn, err := grpc.NewClient(f.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("dial %s: %w", f.addr, err)
	}
	ctx, cancel := context.WithTimeout(parent, f.timeout)
	if token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}
	return server.NewClient(conn), conn, ctx, cancel, nil
}

func newRegisterCmd() *cobra.Command {
	var (
		remote remoteFlags
		file   string
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a bundle with the registry server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("register: %w", err)
			}
			b, err := declaration.DecodeBundle(data)
			if err != nil {
				return err
			}
			client, conn, ctx, cancel, err := remote.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()
			defer cancel()

			if err := client.Register(ctx, b); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s (%d tools)\n", b.ID, b.ToolCount())
			return nil
		},
	}
	remote.register(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "", "bundle file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRevokeCmd() *cobra.Command {
	var (
		remote remoteFlags
		reason string
	)
	cmd := &cobra.Command{
		Use:   "revoke WORKER_ID",
		Short: "Revoke every capability of a registered worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, ctx, cancel, err := remote.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()
			defer cancel()

			found, err := client.RevokeWorker(ctx, args[0], reason)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("revoke: worker %s is not registered", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
			return nil
		},
	}
	remote.register(cmd)
	cmd.Flags().StringVar(&reason, "reason", "", "revocation reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}
