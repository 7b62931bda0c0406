package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dvcrn/gcp-token-stash/internal/auth"
	"github.com/dvcrn/gcp-token-stash/internal/config"
	serverhttp "github.com/dvcrn/gcp-token-stash/internal/http"
	"github.com/dvcrn/gcp-token-stash/internal/logger"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
	ErrWriter    io.Writer
	// HTTPClient overrides the outbound client; nil builds one from settings.
	HTTPClient  serverhttp.HTTPClient
	OpenBrowser func(url string) error
}

func DefaultConfig() Config {
	return Config{
		OutputWriter: os.Stdout,
		ErrWriter:    os.Stderr,
		OpenBrowser:  auth.OpenBrowser,
	}
}

type runtimeState struct {
	configPath  string
	verbose     bool
	settings    *config.Settings
	out         io.Writer
	errOut      io.Writer
	httpClient  serverhttp.HTTPClient
	openBrowser func(url string) error
}

func (rt *runtimeState) client() serverhttp.HTTPClient {
	if rt.httpClient != nil {
		return rt.httpClient
	}
	return serverhttp.NewHTTPClient(rt.settings.HTTPTimeout)
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath:  cfg.ConfigPath,
		out:         cfg.OutputWriter,
		errOut:      cfg.ErrWriter,
		httpClient:  cfg.HTTPClient,
		openBrowser: cfg.OpenBrowser,
	}

	root := &cobra.Command{
		Use:   "gettoken",
		Short: "Get OAuth2 access tokens for Google Cloud",
		Long: `Get OAuth2 access tokens for Google Cloud APIs.

Tokens are obtained either for a service account, using its key file, or for
an end user, through a browser consent with a local redirect listener. User
tokens are stashed and refreshed on later runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.out == nil {
				rt.out = os.Stdout
			}
			if rt.errOut == nil {
				rt.errOut = os.Stderr
			}
			logger.SetOutput(rt.errOut)
			logger.SetVerbose(rt.verbose)

			settings, err := config.Load(rt.configPath)
			if err != nil {
				return err
			}
			rt.settings = settings
			logger.Get().Debug().
				Str("stash", settings.StashPath).
				Int("port", settings.LoopbackPort).
				Msg("Settings loaded")
			return nil
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to settings file")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newServiceAccountCommand(rt),
		newUserCommand(rt),
	)
	return root
}
