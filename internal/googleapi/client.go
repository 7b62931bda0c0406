// Package googleapi calls Google APIs with a token obtained by the token flows.
package googleapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	serverhttp "github.com/dvcrn/gcp-token-stash/internal/http"
	"github.com/dvcrn/gcp-token-stash/internal/logger"
)

const maxResponseBody = 4 << 20

// UpstreamError is a non-2xx answer from a Google endpoint. Endpoint never
// carries a query, so the token sent to tokeninfo does not leak into logs.
type UpstreamError struct {
	Operation  string
	Endpoint   string
	StatusCode int
	// Reason is Google's own error text when the body carries one.
	Reason string
	Body   []byte
}

func (e *UpstreamError) Error() string {
	detail := e.Reason
	if detail == "" {
		const maxPreview = 512
		detail = string(e.Body)
		if len(detail) > maxPreview {
			detail = detail[:maxPreview] + "..."
		}
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Operation, e.Endpoint, e.StatusCode, detail)
}

// googleReason reads both the OAuth style {"error":"...","error_description":"..."}
// and the API style {"error":{"message":"..."}} bodies.
func googleReason(body []byte) string {
	var doc struct {
		Error       json.RawMessage `json:"error"`
		Description string          `json:"error_description"`
	}
	if json.Unmarshal(body, &doc) != nil {
		return ""
	}
	if doc.Description != "" {
		return doc.Description
	}
	var code string
	if json.Unmarshal(doc.Error, &code) == nil {
		return code
	}
	var apiErr struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(doc.Error, &apiErr) == nil {
		return apiErr.Message
	}
	return ""
}

// withoutQuery drops the query and fragment of rawURL for error text.
func withoutQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// bareError strips the *url.Error wrapper, whose text repeats the full URL.
func bareError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}

// TokenInfo is the tokeninfo description of an access token. Google returns
// numbers as strings here.
type TokenInfo struct {
	Azp           string `json:"azp,omitempty"`
	Aud           string `json:"aud,omitempty"`
	Sub           string `json:"sub,omitempty"`
	Scope         string `json:"scope,omitempty"`
	Exp           string `json:"exp,omitempty"`
	ExpiresIn     string `json:"expires_in,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified string `json:"email_verified,omitempty"`
	AccessType    string `json:"access_type,omitempty"`
}

// Client calls Google APIs with bearer tokens from a TokenSource.
type Client struct {
	httpClient         serverhttp.HTTPClient
	source             oauth2.TokenSource
	tokenInfoEndpoints []string
}

// NewClient creates a client. A nil httpClient uses the default timeout.
func NewClient(source oauth2.TokenSource, httpClient serverhttp.HTTPClient) *Client {
	if httpClient == nil {
		httpClient = serverhttp.NewHTTPClient(0)
	}
	return &Client{
		httpClient:         httpClient,
		source:             source,
		tokenInfoEndpoints: TokenInfoEndpoints,
	}
}

func (c *Client) token() (string, error) {
	tok, err := c.source.Token()
	if err != nil {
		return "", fmt.Errorf("unable to get token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("access token is empty")
	}
	return tok.AccessToken, nil
}

func (c *Client) doRequest(ctx context.Context, op, rawURL, token string) ([]byte, error) {
	endpoint := withoutQuery(rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s %s: could not create request: %w", op, endpoint, bareError(err))
	}
	ApplyHeaders(req.Header, token, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: request failed: %w", op, endpoint, bareError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%s %s: could not read response body: %w", op, endpoint, bareError(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{
			Operation:  op,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Reason:     googleReason(body),
			Body:       body,
		}
	}
	return body, nil
}

// Get fetches rawURL with the bearer token and returns the body.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	token, err := c.token()
	if err != nil {
		return nil, err
	}

	logger.Get().Debug().Str("url", withoutQuery(rawURL)).Msg("GET")
	body, err := c.doRequest(ctx, "get", rawURL, token)
	if err != nil {
		return nil, err
	}
	return body, nil
}

// TokenInfo asks Google to describe the current access token.
func (c *Client) TokenInfo(ctx context.Context) (*TokenInfo, error) {
	token, err := c.token()
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, endpoint := range c.tokenInfoEndpoints {
		target := endpoint + "?" + url.Values{"access_token": {token}}.Encode()
		body, err := c.doRequest(ctx, "tokeninfo", target, "")
		if err != nil {
			lastErr = err
			logger.Get().Warn().Err(err).Str("endpoint", endpoint).Msg("tokeninfo request failed")
			continue
		}

		var info TokenInfo
		if err := json.Unmarshal(body, &info); err != nil {
			return nil, fmt.Errorf("could not unmarshal tokeninfo: %w", err)
		}
		return &info, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("tokeninfo failed with no endpoints available")
}
