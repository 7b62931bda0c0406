package stash

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/dvcrn/gcp-token-stash/internal/assertion"
	"github.com/dvcrn/gcp-token-stash/internal/auth"
	"github.com/dvcrn/gcp-token-stash/internal/credentials"
	"github.com/dvcrn/gcp-token-stash/internal/logger"
)

// TokenClient is the part of auth.Client the cache needs.
type TokenClient interface {
	JWTBearer(ctx context.Context, tokenURI, signedAssertion string) (*auth.TokenResponse, error)
	Refresh(ctx context.Context, app *credentials.UserInstalledApp, refreshToken string) (*auth.TokenResponse, error)
}

// Authorizer runs a full interactive authorization.
type Authorizer interface {
	Authorize(ctx context.Context, app *credentials.UserInstalledApp) (*auth.TokenResponse, error)
}

// Options configure a Cache for one invocation.
type Options struct {
	// Path of the stash document, already expanded.
	Path string
	// NoStash skips reading and writing the stash entirely.
	NoStash bool
	// User identifies the end user. Empty bypasses the stash until an
	// id_token reveals an email.
	User string
}

// Cache hands out tokens, consulting and updating the stash for user
// credentials. Service account tokens are always minted fresh.
type Cache struct {
	client     TokenClient
	authorizer Authorizer
	file       *File
	noStash    bool
	now        func() time.Time

	mu   sync.RWMutex
	user string

	group singleflight.Group
}

func NewCache(client TokenClient, authorizer Authorizer, opts Options) *Cache {
	return &Cache{
		client:     client,
		authorizer: authorizer,
		file:       &File{Path: opts.Path},
		noStash:    opts.NoStash,
		now:        time.Now,
		user:       opts.User,
	}
}

// User is the current user identifier, which may have been derived from an
// id_token during the last exchange.
func (c *Cache) User() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

func (c *Cache) setUser(user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = user
}

// GetToken returns a token for cfg.
func (c *Cache) GetToken(ctx context.Context, cfg credentials.Config) (*auth.TokenResponse, error) {
	switch cred := cfg.(type) {
	case *credentials.ServiceAccount:
		return c.serviceAccountToken(ctx, cred)
	case *credentials.UserInstalledApp:
		return c.userToken(ctx, cred)
	default:
		return nil, fmt.Errorf("unsupported credential type %T", cfg)
	}
}

func (c *Cache) serviceAccountToken(ctx context.Context, sa *credentials.ServiceAccount) (*auth.TokenResponse, error) {
	v, err, _ := c.group.Do("sa:"+sa.ClientEmail+" "+sa.Scope, func() (interface{}, error) {
		signed, err := assertion.Sign(sa, c.now())
		if err != nil {
			return nil, err
		}
		return c.client.JWTBearer(ctx, sa.TokenURI, signed)
	})
	if err != nil {
		return nil, err
	}
	return v.(*auth.TokenResponse), nil
}

func (c *Cache) userToken(ctx context.Context, app *credentials.UserInstalledApp) (*auth.TokenResponse, error) {
	if c.noStash {
		logger.Get().Debug().Msg("Ignoring token stash")
		return c.authorize(ctx, app)
	}

	key := Key(app.ClientID, c.User())
	if key == "" {
		logger.Get().Debug().Msg("No user identifier, token stash bypassed")
		resp, err := c.authorize(ctx, app)
		if err != nil {
			return nil, err
		}
		c.persist(app.ClientID, nil, resp)
		return resp, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.lookup(ctx, app, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*auth.TokenResponse), nil
}

func (c *Cache) lookup(ctx context.Context, app *credentials.UserInstalledApp, key string) (*auth.TokenResponse, error) {
	stash, err := c.file.Load()
	if err != nil {
		return nil, err
	}

	var resp *auth.TokenResponse
	if entry := stash[key]; entry != nil && entry.RefreshToken != "" {
		logger.Get().Debug().Str("key", key).Msg("Refreshing stashed token")
		resp, err = c.client.Refresh(ctx, app, entry.RefreshToken)
		if err != nil {
			logger.Get().Warn().Err(err).Msg("Refresh failed, starting a new authorization")
			resp = nil
		} else if resp.RefreshToken == "" {
			resp.RefreshToken = entry.RefreshToken
		}
	}

	if resp == nil {
		resp, err = c.authorize(ctx, app)
		if err != nil {
			return nil, err
		}
	}

	c.persist(app.ClientID, stash, resp)
	return resp, nil
}

// authorize runs the interactive flow and picks up the user's email from the
// id_token if one came back.
func (c *Cache) authorize(ctx context.Context, app *credentials.UserInstalledApp) (*auth.TokenResponse, error) {
	resp, err := c.authorizer.Authorize(ctx, app)
	if err != nil {
		return nil, err
	}
	c.learnUser(resp)
	return resp, nil
}

// learnUser keys future stash entries by the id_token email. The claim is
// read without verification and is never used for trust decisions.
func (c *Cache) learnUser(resp *auth.TokenResponse) {
	if resp.IDToken == "" {
		return
	}
	email, err := auth.UnverifiedEmail(resp.IDToken)
	if err != nil {
		logger.Get().Debug().Err(err).Msg("Could not read email from id_token")
		return
	}
	if email != c.User() {
		logger.Get().Debug().Str("user", email).Msg("User identifier taken from id_token")
		c.setUser(email)
	}
}

// persist records resp under the current key. Failing to write is logged and
// otherwise ignored; the caller still gets its token.
func (c *Cache) persist(clientID string, stash Stash, resp *auth.TokenResponse) {
	if c.noStash {
		return
	}
	c.learnUser(resp)
	key := Key(clientID, c.User())
	if key == "" {
		return
	}

	if stash == nil {
		loaded, err := c.file.Load()
		if err != nil {
			logger.Get().Warn().Err(err).Msg("Could not read token stash, token not stashed")
			return
		}
		stash = loaded
	}

	stash[key] = NewStashedToken(resp, c.now())
	logger.Get().Debug().Str("key", key).Str("path", c.file.Path).Msg("Stashing token")
	if err := c.file.Save(stash); err != nil {
		logger.Get().Warn().Err(err).Msg("Could not write token stash")
	}
}

// TokenSource adapts the cache to oauth2. Tokens are reused until they
// expire, then GetToken is consulted again.
func (c *Cache) TokenSource(ctx context.Context, cfg credentials.Config) oauth2.TokenSource {
	return oauth2.ReuseTokenSource(nil, &cacheTokenSource{ctx: ctx, cache: c, cfg: cfg})
}

type cacheTokenSource struct {
	ctx   context.Context
	cache *Cache
	cfg   credentials.Config
}

func (s *cacheTokenSource) Token() (*oauth2.Token, error) {
	resp, err := s.cache.GetToken(s.ctx, s.cfg)
	if err != nil {
		return nil, err
	}
	return NewStashedToken(resp, s.cache.now()).OAuth2Token(), nil
}
