package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-retell/pkg/core/types"
	"github.com/vango-go/vai-retell/pkg/gateway/config"
	"github.com/vango-go/vai-retell/pkg/metadata"
)

// openMetadata connects to the same backend the server would use.
func openMetadata(ctx context.Context, cfg config.Config, stderr io.Writer) metadata.Store {
	logger := newLogger(stderr, "warn", cfg.LogFormat)
	openCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return metadata.Open(openCtx, metadata.Config{
		RedisEnabled: cfg.RedisEnabled,
		RedisURL:     cfg.RedisURL,
		BadgerDir:    cfg.BadgerDir,
	}, logger)
}

func newMetadataCmd(deps cliDeps) *cobra.Command {
	return newMetadataCmdWithStore(deps, nil)
}

// newMetadataCmdWithStore wires the metadata subcommands to store, or to the
// configured backend when store is nil.
func newMetadataCmdWithStore(deps cliDeps, store metadata.Store) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Inspect and edit staged call metadata",
	}

	withStore := func(cmd *cobra.Command, fn func(ctx context.Context, s metadata.Store, cfg config.Config) error) error {
		cfg, err := deps.loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		s := store
		if s == nil {
			s = openMetadata(cmd.Context(), cfg, cmd.ErrOrStderr())
			defer s.Close()
		}
		return fn(cmd.Context(), s, cfg)
	}

	var fields types.CallFields
	put := &cobra.Command{
		Use:   "put <phone>",
		Short: "Store provider fields for a phone number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s metadata.Store, cfg config.Config) error {
				ttl := cfg.MetadataTTL
				if ttl <= 0 {
					ttl = metadata.DefaultTTL
				}
				if err := s.Set(ctx, args[0], fields, ttl); err != nil {
					return fmt.Errorf("metadata put: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %d fields for %s (%s, ttl %s)\n", fields.Count(), args[0], s.Backend(), ttl)
				return nil
			})
		},
	}
	put.Flags().StringVar(&fields.ProviderName, "provider-name", "", "provider or group name")
	put.Flags().StringVar(&fields.NPINumber, "npi", "", "NPI number")
	put.Flags().StringVar(&fields.TaxID, "tax-id", "", "tax ID (TIN)")
	put.Flags().StringVar(&fields.Specialty, "specialty", "", "specialty")
	put.Flags().StringVar(&fields.ScenarioType, "scenario", "", "existing_state or new_state_expansion")
	put.Flags().StringVar(&fields.LineOfBusiness, "line-of-business", "", "line of business")
	put.Flags().StringVar(&fields.Payer, "payer", "", "payer")
	put.Flags().StringVar(&fields.OrganizationName, "organization", "", "calling organization")

	get := &cobra.Command{
		Use:   "get <phone>",
		Short: "Print the fields stored for a phone number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s metadata.Store, _ config.Config) error {
				got, ok, err := s.Get(ctx, args[0])
				if err != nil {
					return fmt.Errorf("metadata get: %w", err)
				}
				if !ok {
					return fmt.Errorf("metadata get: nothing stored for %s", args[0])
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(got)
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <phone>",
		Short: "Remove the fields stored for a phone number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, s metadata.Store, _ config.Config) error {
				if err := s.Delete(ctx, args[0]); err != nil {
					return fmt.Errorf("metadata delete: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(put, get, del)
	return cmd
}
