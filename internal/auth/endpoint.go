package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dvcrn/gcp-token-stash/internal/credentials"
	serverhttp "github.com/dvcrn/gcp-token-stash/internal/http"
	"github.com/dvcrn/gcp-token-stash/internal/logger"
	"github.com/dvcrn/gcp-token-stash/internal/tokenerr"
)

// Grant types understood by the token endpoint
const (
	GrantTypeJWTBearer         = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

const maxResponseBody = 1 << 20

// TokenResponse is the JSON body returned by the token endpoint. Values are
// opaque; only ExpiresIn and IDToken are interpreted.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    *int64 `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

type tokenEndpointBody struct {
	TokenResponse
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Client performs form-encoded exchanges against an OAuth token endpoint.
// It never retries.
type Client struct {
	httpClient serverhttp.HTTPClient
}

// NewClient creates a token endpoint client. A nil httpClient uses a client
// with the default timeout.
func NewClient(httpClient serverhttp.HTTPClient) *Client {
	if httpClient == nil {
		httpClient = serverhttp.NewHTTPClient(0)
	}
	return &Client{httpClient: httpClient}
}

// Exchange posts form to tokenURI and decodes the token response.
func (c *Client) Exchange(ctx context.Context, tokenURI string, form url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("could not create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	logger.Get().Debug().
		Str("uri", tokenURI).
		Str("grant_type", form.Get("grant_type")).
		Msg("POST token endpoint")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &tokenerr.NetworkError{URI: tokenURI, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &tokenerr.NetworkError{URI: tokenURI, Err: fmt.Errorf("could not read response body: %w", err)}
	}

	logger.Get().Debug().
		Int("status", resp.StatusCode).
		Int("response_body_len", len(body)).
		Msg("token endpoint responded")

	var payload tokenEndpointBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &tokenerr.TokenEndpointError{StatusCode: resp.StatusCode, Body: body}
	}
	if payload.Error != "" {
		return nil, &tokenerr.TokenEndpointError{
			StatusCode:  resp.StatusCode,
			Body:        body,
			Code:        payload.Error,
			Description: payload.ErrorDescription,
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &tokenerr.TokenEndpointError{StatusCode: resp.StatusCode, Body: body}
	}
	if payload.AccessToken == "" {
		return nil, &tokenerr.TokenEndpointError{StatusCode: resp.StatusCode, Body: body, Code: "no access_token returned"}
	}

	tokens := payload.TokenResponse
	return &tokens, nil
}

// JWTBearer redeems a signed assertion.
func (c *Client) JWTBearer(ctx context.Context, tokenURI, assertion string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", GrantTypeJWTBearer)
	form.Set("assertion", assertion)
	return c.Exchange(ctx, tokenURI, form)
}

// ExchangeCode redeems an authorization code. redirectURI must be the exact
// value sent with the authorize request.
func (c *Client) ExchangeCode(ctx context.Context, app *credentials.UserInstalledApp, code, redirectURI string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", app.ClientID)
	form.Set("client_secret", app.ClientSecret)
	form.Set("redirect_uri", redirectURI)
	form.Set("grant_type", GrantTypeAuthorizationCode)
	return c.Exchange(ctx, app.TokenURI, form)
}

// Refresh redeems a refresh token.
func (c *Client) Refresh(ctx context.Context, app *credentials.UserInstalledApp, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", app.ClientID)
	form.Set("client_secret", app.ClientSecret)
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", GrantTypeRefreshToken)
	return c.Exchange(ctx, app.TokenURI, form)
}
