package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/lockdrop/internal/app"
	"github.com/dharsanguruparan/lockdrop/internal/config"
	"github.com/dharsanguruparan/lockdrop/internal/logging"
	"github.com/dharsanguruparan/lockdrop/internal/passhash"
	"github.com/dharsanguruparan/lockdrop/internal/queue"
	"github.com/dharsanguruparan/lockdrop/internal/token"
	"github.com/dharsanguruparan/lockdrop/internal/vault"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lockdrop",
		Short: "LockDrop operations CLI",
		Long: `lockdrop runs the API server and the background worker, and carries the
operator tasks around them: generating keys, hashing the admin password,
minting tokens and reconciling storage against the catalog.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newReconcileCmd(),
		newKeygenCmd(),
		newHashPasswordCmd(),
		newTokenCmd(),
	)
	return cmd
}

// withApp loads configuration, builds the object graph and runs fn.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Dev)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Serve(ctx)
			})
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the asynq worker and the reconcile schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.RunWorker(ctx)
			})
		},
	}
}

func newReconcileCmd() *cobra.Command {
	var recatalog, enqueue bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare stored objects with catalog rows and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if enqueue {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				client := queue.NewClient(app.RedisOpt(cfg))
				defer client.Close()
				id, err := client.EnqueueReconcile(cmd.Context(), recatalog)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "enqueued %s\n", id)
				return nil
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Service.Reconcile(ctx, recatalog)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			})
		},
	}
	cmd.Flags().BoolVar(&recatalog, "recatalog", false, "Adopt orphaned objects as new rows (needs LOCKDROP_RECOVERY_PASSWORD)")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "Hand the run to the worker instead of running it here")
	return cmd
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a fresh master key for LOCKDROP_MASTER_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := vault.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), vault.EncodeKey(key))
			return nil
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for LOCKDROP_ADMIN_PASSWORD_HASH",
		Long:  "Hashes the argument, or the first line of stdin when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := passwordArg(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			hash, err := passhash.New(cost).Hash(secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", passhash.DefaultCost, "bcrypt cost")
	return cmd
}

func passwordArg(in io.Reader, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}

func newTokenCmd() *cobra.Command {
	var admin bool
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access/refresh token pair signed with LOCKDROP_JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			tokens := token.New(cfg.JWTSecret, token.TTLs{Access: cfg.AccessTTL, Refresh: cfg.RefreshTTL, Download: cfg.DownloadTTL})
			pair, err := tokens.IssuePair(subject, admin)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(pair)
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant the admin flag")
	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	return cmd
}
