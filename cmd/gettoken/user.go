package main

import (
	"github.com/spf13/cobra"

	"github.com/dvcrn/gcp-token-stash/internal/auth"
	"github.com/dvcrn/gcp-token-stash/internal/credentials"
	"github.com/dvcrn/gcp-token-stash/internal/stash"
)

func newUserCommand(rt *runtimeState) *cobra.Command {
	var (
		clientCredentials string
		user              string
		noStash           bool
		out               outputOptions
	)

	cmd := &cobra.Command{
		Use:   "user",
		Short: "Get a token for an end user",
		Long: `Get an access token for an end user.

With a stashed token for the client and user, the refresh token is redeemed.
Otherwise a browser tab opens for consent and the authorization code is
received on a local redirect listener. The user is learned from the id_token
email when --user is not given.

Examples:
  gettoken user --client-credentials client_secret.json
  gettoken user --client-credentials client_secret.json --user me@example.com
  gettoken user --client-credentials client_secret.json --no-stash --inquire`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := credentials.LoadUserInstalledApp(clientCredentials, rt.settings.UserScopes)
			if err != nil {
				return err
			}

			opener := rt.openBrowser
			if rt.settings.NoBrowser {
				opener = nil
			}
			client := auth.NewClient(rt.client())
			authorizer := auth.NewAuthorizer(client, auth.AuthorizerOptions{
				Port:        rt.settings.LoopbackPort,
				GraceDelay:  rt.settings.GraceDelay,
				Timeout:     rt.settings.AuthorizationTimeout,
				OpenBrowser: opener,
				Out:         rt.errOut,
			})
			cache := stash.NewCache(client, authorizer, stash.Options{
				Path:    rt.settings.StashPath,
				NoStash: noStash,
				User:    user,
			})

			resp, err := cache.GetToken(cmd.Context(), app)
			if err != nil {
				return err
			}
			return emit(cmd.Context(), rt, cache, app, resp, out)
		},
	}

	cmd.Flags().StringVarP(&clientCredentials, "client-credentials", "C", "", "OAuth client credentials file (JSON)")
	cmd.Flags().StringVarP(&user, "user", "u", "", "User identifier used as the stash key")
	cmd.Flags().BoolVar(&noStash, "no-stash", false, "Neither read nor write the token stash")
	out.register(cmd)
	_ = cmd.MarkFlagRequired("client-credentials")
	return cmd
}
