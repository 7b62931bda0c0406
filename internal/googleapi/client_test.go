package googleapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func staticSource(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
}

type failingSource struct{}

func (failingSource) Token() (*oauth2.Token, error) { return nil, errors.New("no credentials") }

func TestApplyHeaders(t *testing.T) {
	h := http.Header{}
	ApplyHeaders(h, "ya29.t", "")
	assert.Equal(t, "Bearer ya29.t", h.Get("Authorization"))
	assert.Equal(t, "application/json", h.Get("Accept"))
	assert.True(t, strings.HasPrefix(h.Get("User-Agent"), "gettoken/"))

	h = http.Header{}
	ApplyHeaders(h, "", "text/plain")
	assert.Empty(t, h.Get("Authorization"))
	assert.Equal(t, "text/plain", h.Get("Accept"))
}

func TestClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer ya29.t", r.Header.Get("Authorization"))
		assert.Equal(t, "/storage/v1/b", r.URL.Path)
		assert.Equal(t, "p1", r.URL.Query().Get("project"))
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer server.Close()

	client := NewClient(staticSource("ya29.t"), server.Client())
	body, err := client.Get(context.Background(), server.URL+"/storage/v1/b?project=p1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[]}`, string(body))
}

func TestClient_GetUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"denied"}}`))
	}))
	defer server.Close()

	_, err := NewClient(staticSource("ya29.t"), server.Client()).Get(context.Background(), server.URL)
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusForbidden, upstream.StatusCode)
	assert.Equal(t, "get", upstream.Operation)
	assert.Equal(t, "denied", upstream.Reason)
	assert.Contains(t, upstream.Error(), "status 403: denied")
}

func TestClient_GetErrorOmitsQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewClient(staticSource("ya29.t"), server.Client()).Get(context.Background(), server.URL+"/b?key=secret")
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, server.URL+"/b", upstream.Endpoint)
	assert.NotContains(t, err.Error(), "secret")
}

func TestClient_TokenSourceFailure(t *testing.T) {
	_, err := NewClient(failingSource{}, nil).Get(context.Background(), "http://127.0.0.1:1/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials")
}

func TestClient_TokenInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ya29.t", r.URL.Query().Get("access_token"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"azp":"cid","aud":"cid","scope":"https://www.googleapis.com/auth/cloud-platform","exp":"1700003600","expires_in":"3599","email":"me@example.com","email_verified":"true"}`))
	}))
	defer server.Close()

	client := NewClient(staticSource("ya29.t"), server.Client())
	client.tokenInfoEndpoints = []string{server.URL + "/oauth2/v3/tokeninfo"}

	info, err := client.TokenInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cid", info.Aud)
	assert.Equal(t, "3599", info.ExpiresIn)
	assert.Equal(t, "me@example.com", info.Email)
}

func TestClient_TokenInfoFallsBack(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer broken.Close()
	working := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"aud":"second"}`))
	}))
	defer working.Close()

	client := NewClient(staticSource("ya29.t"), http.DefaultClient)
	client.tokenInfoEndpoints = []string{broken.URL, working.URL}

	info, err := client.TokenInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", info.Aud)
}

func TestClient_TokenInfoAllFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_description":"Invalid Value"}`))
	}))
	defer server.Close()

	client := NewClient(staticSource("ya29.t"), server.Client())
	client.tokenInfoEndpoints = []string{server.URL}

	_, err := client.TokenInfo(context.Background())
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, server.URL, upstream.Endpoint, "the token is not echoed in the error")
	assert.Equal(t, "tokeninfo", upstream.Operation)
	assert.Equal(t, "Invalid Value", upstream.Reason)
	assert.NotContains(t, err.Error(), "ya29.t")
}

func TestClient_TokenInfoTransportErrorOmitsToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	unreachable := server.URL
	server.Close()

	client := NewClient(staticSource("ya29.secret"), http.DefaultClient)
	client.tokenInfoEndpoints = []string{unreachable}

	_, err := client.TokenInfo(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), unreachable)
	assert.NotContains(t, err.Error(), "ya29.secret")
	assert.NotContains(t, err.Error(), "access_token")

	var uerr *url.Error
	assert.False(t, errors.As(err, &uerr))
}

func TestGoogleReason(t *testing.T) {
	assert.Equal(t, "Invalid Value", googleReason([]byte(`{"error":"invalid_token","error_description":"Invalid Value"}`)))
	assert.Equal(t, "invalid_token", googleReason([]byte(`{"error":"invalid_token"}`)))
	assert.Equal(t, "denied", googleReason([]byte(`{"error":{"code":403,"message":"denied"}}`)))
	assert.Empty(t, googleReason([]byte(`<html>oops</html>`)))
	assert.Empty(t, googleReason([]byte(`{"items":[]}`)))
}
