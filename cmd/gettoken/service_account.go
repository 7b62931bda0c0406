package main

import (
	"github.com/spf13/cobra"

	"github.com/dvcrn/gcp-token-stash/internal/auth"
	"github.com/dvcrn/gcp-token-stash/internal/credentials"
	"github.com/dvcrn/gcp-token-stash/internal/logger"
	"github.com/dvcrn/gcp-token-stash/internal/stash"
)

func newServiceAccountCommand(rt *runtimeState) *cobra.Command {
	var (
		keyfile string
		scope   string
		out     outputOptions
	)

	cmd := &cobra.Command{
		Use:     "service-account",
		Aliases: []string{"sa"},
		Short:   "Get a token for a service account",
		Long: `Get an access token for a service account.

A JWT assertion is signed with the key in the service account key file and
exchanged at its token endpoint. Service account tokens are never stashed.

Examples:
  gettoken service-account --keyfile key.json
  gettoken service-account --keyfile key.json --scope https://www.googleapis.com/auth/devstorage.read_only
  gettoken service-account --keyfile key.json --token-only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if scope == "" {
				scope = rt.settings.ServiceAccountScope
			}
			sa, err := credentials.LoadServiceAccount(keyfile, scope)
			if err != nil {
				return err
			}
			logger.Get().Debug().Str("client_email", sa.ClientEmail).Str("scope", sa.Scope).Msg("Service account loaded")

			cache := stash.NewCache(auth.NewClient(rt.client()), nil, stash.Options{NoStash: true})
			resp, err := cache.GetToken(cmd.Context(), sa)
			if err != nil {
				return err
			}
			return emit(cmd.Context(), rt, cache, sa, resp, out)
		},
	}

	cmd.Flags().StringVar(&keyfile, "keyfile", "", "Service account key file (JSON)")
	cmd.Flags().StringVar(&scope, "scope", "", "Scope to request (default from settings, cloud-platform)")
	out.register(cmd)
	_ = cmd.MarkFlagRequired("keyfile")
	return cmd
}
