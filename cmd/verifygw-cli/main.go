// Package main provides the verifygw-cli command-line tool for operating verifygw.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	verifygw "github.com/ferro-labs/verifygw"
	"github.com/ferro-labs/verifygw/internal/auth"
	"github.com/ferro-labs/verifygw/internal/coordinator"
	"github.com/ferro-labs/verifygw/internal/version"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "verifygw-cli",
		Short:         "verifygw command line tool",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newValidateCmd(), newKeyCmd(), newTokenCmd(), newVersionCmd())
	return root
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a configuration file (JSON/YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := verifygw.LoadConfig(args[0])
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if err := verifygw.ValidateConfig(*cfg); err != nil {
				return fmt.Errorf("validation error: %w", err)
			}
			printSummary(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func printSummary(w io.Writer, cfg *verifygw.Config) {
	names := make([]string, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		names = append(names, fmt.Sprintf("%s (%s)", p.Name, p.Type))
	}
	_, _ = fmt.Fprintf(w, "✓ Config is valid\n")
	_, _ = fmt.Fprintf(w, "  Port:       %d\n", cfg.Server.Port)
	_, _ = fmt.Fprintf(w, "  Cache:      %s (ttl %s)\n", cfg.Cache.Backend, cfg.Cache.DefaultTTL())
	_, _ = fmt.Fprintf(w, "  Database:   %s\n", cfg.Database.Driver)
	_, _ = fmt.Fprintf(w, "  Providers:  %s\n", strings.Join(names, ", "))
	_, _ = fmt.Fprintf(w, "  Classifier: %s\n", cfg.Chat.Classifier)
}

func newKeyCmd() *cobra.Command {
	var secret string
	cmd := &cobra.Command{
		Use:   "key <namespace> field=value...",
		Short: "Print the cache key for a namespace and identity fields",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := coordinator.Fields{}
			for _, arg := range args[1:] {
				name, value, ok := strings.Cut(arg, "=")
				if !ok {
					return fmt.Errorf("field %q must be name=value", arg)
				}
				fields[name] = value
			}
			key, err := coordinator.NewKeyDeriver(secret).Derive(args[0], fields)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("CACHE_KEY_SECRET"), "key secret (default $CACHE_KEY_SECRET)")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		secret  string
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return errors.New("a secret is required: set --secret or $JWT_SECRET")
			}
			token, err := auth.Mint(secret, subject, ttl)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "signing secret (default $JWT_SECRET)")
	cmd.Flags().StringVar(&subject, "subject", "", "user id carried in the sub claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "verifygw-cli %s\n", version.String())
		},
	}
}
