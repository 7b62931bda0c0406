package auth

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noRedirectClient() *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func startLoopback(t *testing.T) *LoopbackServer {
	t.Helper()
	srv := NewLoopbackServer(0)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func TestLoopbackServer_Lifecycle(t *testing.T) {
	srv := NewLoopbackServer(0)
	assert.Equal(t, StateIdle, srv.State())

	require.NoError(t, srv.Start())
	assert.Equal(t, StateListening, srv.State())
	assert.NotZero(t, srv.Port())
	assert.Equal(t, fmt.Sprintf("http://127.0.0.1:%d", srv.Port()), srv.RedirectURI())

	require.Error(t, srv.Start(), "a listening server cannot start again")

	require.NoError(t, srv.Stop())
	assert.Equal(t, StateStopped, srv.State())
	require.NoError(t, srv.Stop(), "stop is idempotent")

	require.Error(t, srv.Start(), "a stopped server cannot restart")
}

func TestLoopbackServer_StopFromIdle(t *testing.T) {
	srv := NewLoopbackServer(0)
	require.NoError(t, srv.Stop())
	assert.Equal(t, StateStopped, srv.State())
}

func TestLoopbackServer_CaptureThenConfirmation(t *testing.T) {
	srv := startLoopback(t)
	client := noRedirectClient()

	resp, err := client.Get(srv.RedirectURI() + "/?code=4/abc&state=xyz&scope=email")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/ok", resp.Header.Get("Location"))

	select {
	case <-srv.Captured():
	default:
		t.Fatal("expected capture signal")
	}
	assert.Equal(t, StateCaptured, srv.State())
	q := srv.RetrievedQuery()
	assert.Equal(t, "4/abc", q.Get("code"))
	assert.Equal(t, "xyz", q.Get("state"))
	assert.Equal(t, "email", q.Get("scope"))

	// The browser follows the redirect to the confirmation page.
	resp, err = client.Get(srv.RedirectURI() + "/ok")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "close this browser tab")

	// A late second redirect does not replace the first capture.
	resp, err = client.Get(srv.RedirectURI() + "/?code=second")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "4/abc", srv.RetrievedQuery().Get("code"))
}

func TestLoopbackServer_RequestWithoutQuery(t *testing.T) {
	srv := startLoopback(t)

	resp, err := noRedirectClient().Get(srv.RedirectURI() + "/favicon.ico")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, StateListening, srv.State())
	assert.Nil(t, srv.RetrievedQuery())
}

func TestLoopbackServer_ConcurrentRedirects(t *testing.T) {
	srv := startLoopback(t)
	client := noRedirectClient()

	codes := []string{"first", "second"}
	statuses := make([]int, len(codes))

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i, code := range codes {
		wg.Add(1)
		go func(i int, code string) {
			defer wg.Done()
			<-start
			resp, err := client.Get(srv.RedirectURI() + "/?code=" + code)
			if err != nil {
				t.Errorf("request %s failed: %v", code, err)
				return
			}
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i, code)
	}
	close(start)
	wg.Wait()

	found := 0
	confirmations := 0
	for _, status := range statuses {
		switch status {
		case http.StatusFound:
			found++
		case http.StatusOK:
			confirmations++
		}
	}
	assert.Equal(t, 1, found, "exactly one redirect is captured")
	assert.Equal(t, 1, confirmations, "the other gets the static page")

	captured := srv.RetrievedQuery().Get("code")
	assert.Contains(t, codes, captured)
}

func TestLoopbackServer_MalformedQueryIsCaptured(t *testing.T) {
	srv := startLoopback(t)

	resp, err := noRedirectClient().Get(srv.RedirectURI() + "/?state=s1&bad=%zz")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, StateCaptured, srv.State())
	q := srv.RetrievedQuery()
	assert.Equal(t, "s1", q.Get("state"))
	assert.Empty(t, q.Get("code"))
}

func TestLoopbackServer_StopFreesPort(t *testing.T) {
	srv := NewLoopbackServer(0)
	require.NoError(t, srv.Start())
	port := srv.Port()

	require.NoError(t, srv.Stop())

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err, "port should be free after stop")
	ln.Close()
}

func TestLoopbackServer_RestartOnSamePort(t *testing.T) {
	first := NewLoopbackServer(0)
	require.NoError(t, first.Start())
	port := first.Port()
	require.NoError(t, first.Stop())

	for i := 0; i < 20; i++ {
		srv := NewLoopbackServer(port)
		require.NoError(t, srv.Start(), "start %d on port %d", i, port)
		require.NoError(t, srv.Stop())
		assert.Equal(t, StateStopped, srv.State())
	}
}

func TestLoopbackServer_NoCaptureAfterStop(t *testing.T) {
	srv := NewLoopbackServer(0)
	require.NoError(t, srv.Start())
	require.NoError(t, srv.Stop())

	_, err := noRedirectClient().Get(srv.RedirectURI() + "/?code=late")
	assert.Error(t, err)
	assert.Nil(t, srv.RetrievedQuery())
}

func TestLoopbackState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "captured", StateCaptured.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "LoopbackState(9)", LoopbackState(9).String())
}
