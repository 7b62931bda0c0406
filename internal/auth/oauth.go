package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/dvcrn/gcp-token-stash/internal/credentials"
	"github.com/dvcrn/gcp-token-stash/internal/logger"
	"github.com/dvcrn/gcp-token-stash/internal/tokenerr"
)

const (
	DefaultGraceDelay           = 500 * time.Millisecond
	DefaultAuthorizationTimeout = 2 * time.Minute
)

// AuthorizerOptions tune the end-user flow.
type AuthorizerOptions struct {
	// Port of the loopback listener. Zero picks an ephemeral port.
	Port int
	// GraceDelay precedes both the browser launch and the wait for the redirect.
	GraceDelay time.Duration
	// Timeout is the overall deadline for the user to complete consent.
	Timeout time.Duration
	// OpenBrowser is called with the authorize URL. Nil skips the launch.
	OpenBrowser func(url string) error
	// Out receives the instructions and the authorize URL. Defaults to stderr.
	Out io.Writer
}

// Authorizer runs the authorization-code flow with a loopback redirect.
type Authorizer struct {
	client   *Client
	opts     AuthorizerOptions
	newState func() string
}

func NewAuthorizer(client *Client, opts AuthorizerOptions) *Authorizer {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultAuthorizationTimeout
	}
	if opts.GraceDelay < 0 {
		opts.GraceDelay = 0
	}
	if opts.Out == nil {
		opts.Out = os.Stderr
	}
	return &Authorizer{
		client:   client,
		opts:     opts,
		newState: uuid.NewString,
	}
}

// AuthorizationURL composes the authorize request for app.
func AuthorizationURL(app *credentials.UserInstalledApp, redirectURI, state string) string {
	cfg := oauth2.Config{
		ClientID: app.ClientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:  app.AuthURI,
			TokenURL: app.TokenURI,
		},
		RedirectURL: redirectURI,
		Scopes:      app.Scopes,
	}
	return cfg.AuthCodeURL(state)
}

// Authorize sends the user through consent and exchanges the captured code.
// It fails with tokenerr.ErrAuthorizationTimeout when no redirect arrives
// before the deadline; the listener is stopped on every path.
func (a *Authorizer) Authorize(ctx context.Context, app *credentials.UserInstalledApp) (*TokenResponse, error) {
	srv := NewLoopbackServer(a.opts.Port)
	if err := srv.Start(); err != nil {
		return nil, err
	}
	defer srv.Stop()

	redirectURI := srv.RedirectURI()
	state := a.newState()
	authURL := AuthorizationURL(app, redirectURI, state)

	waitCtx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	fmt.Fprintln(a.opts.Out)
	fmt.Fprintln(a.opts.Out, "You must authorize this app before using it.")
	fmt.Fprintln(a.opts.Out, "A browser tab will open. If it does not, open this URL:")
	fmt.Fprintln(a.opts.Out)
	fmt.Fprintln(a.opts.Out, authURL)
	fmt.Fprintln(a.opts.Out)

	query, err := a.await(waitCtx, srv, authURL)
	if stopErr := srv.Stop(); stopErr != nil {
		logger.Get().Debug().Err(stopErr).Msg("Loopback listener did not stop cleanly")
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, tokenerr.ErrAuthorizationTimeout
		}
		return nil, err
	}

	code := query.Get("code")
	if code == "" {
		return nil, &tokenerr.MissingCodeError{Query: query}
	}
	if got := query.Get("state"); got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(state)) != 1 {
		return nil, &tokenerr.StateMismatchError{Expected: state, Got: got}
	}

	return a.client.ExchangeCode(ctx, app, code, redirectURI)
}

func (a *Authorizer) await(ctx context.Context, srv *LoopbackServer, authURL string) (url.Values, error) {
	if err := sleep(ctx, a.opts.GraceDelay); err != nil {
		return nil, err
	}

	if a.opts.OpenBrowser != nil {
		logger.Get().Debug().Str("url", authURL).Msg("Opening browser")
		if err := a.opts.OpenBrowser(authURL); err != nil {
			logger.Get().Warn().Err(err).Msg("Could not open browser; open the URL manually")
		}
	}

	if err := sleep(ctx, a.opts.GraceDelay); err != nil {
		return nil, err
	}

	select {
	case <-srv.Captured():
		return srv.RetrievedQuery(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
