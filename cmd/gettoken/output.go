package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/dvcrn/gcp-token-stash/internal/auth"
	"github.com/dvcrn/gcp-token-stash/internal/credentials"
	"github.com/dvcrn/gcp-token-stash/internal/googleapi"
	"github.com/dvcrn/gcp-token-stash/internal/stash"
)

type outputOptions struct {
	tokenOnly       bool
	trimTrailingDot bool
	inquire         bool
	url             string
}

func (o *outputOptions) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.tokenOnly, "token-only", false, "Print only the access token")
	cmd.Flags().BoolVar(&o.trimTrailingDot, "trim-trailing-dot", false, "Strip trailing dots from the printed access token")
	cmd.Flags().BoolVar(&o.inquire, "inquire", false, "Print the tokeninfo for the obtained token")
	cmd.Flags().StringVar(&o.url, "url", "", "GET this Google API URL with the token and print the response")
}

func emit(ctx context.Context, rt *runtimeState, cache *stash.Cache, cfg credentials.Config, resp *auth.TokenResponse, opts outputOptions) error {
	printed := *resp
	if opts.trimTrailingDot {
		printed.AccessToken = strings.TrimRight(printed.AccessToken, ".")
	}

	if opts.tokenOnly {
		fmt.Fprintln(rt.out, printed.AccessToken)
	} else if err := writeJSON(rt.out, printed); err != nil {
		return err
	}

	if !opts.inquire && opts.url == "" {
		return nil
	}

	// Start from the token in hand; the cache is only asked again once it expires.
	initial := stash.NewStashedToken(resp, time.Now()).OAuth2Token()
	source := oauth2.ReuseTokenSource(initial, cache.TokenSource(ctx, cfg))
	api := googleapi.NewClient(source, rt.client())

	if opts.inquire {
		info, err := api.TokenInfo(ctx)
		if err != nil {
			return fmt.Errorf("tokeninfo: %w", err)
		}
		if err := writeJSON(rt.out, info); err != nil {
			return err
		}
	}

	if opts.url != "" {
		body, err := api.Get(ctx, opts.url)
		if err != nil {
			return err
		}
		writeBody(rt.out, body)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// writeBody pretty-prints JSON bodies and passes anything else through.
func writeBody(w io.Writer, body []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err == nil {
		fmt.Fprintln(w, buf.String())
		return
	}
	fmt.Fprintln(w, string(body))
}
