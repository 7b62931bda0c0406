package auth

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dvcrn/gcp-token-stash/internal/logger"
)

// DefaultLoopbackPort is the fixed local port the redirect URI points at.
const DefaultLoopbackPort = 11890

// DefaultDrainTimeout bounds how long Stop waits for in-flight connections.
const DefaultDrainTimeout = 2 * time.Second

const confirmationPath = "/ok"

//go:embed templates/confirmation.html
var confirmationHTML string

var confirmationTemplate = template.Must(template.New("confirmation").Parse(confirmationHTML))

// LoopbackState is the lifecycle state of a LoopbackServer.
type LoopbackState int

const (
	StateIdle LoopbackState = iota
	StateListening
	StateCaptured
	StateStopped
)

func (s LoopbackState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateCaptured:
		return "captured"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("LoopbackState(%d)", int(s))
	}
}

// LoopbackServer is a single-use listener on 127.0.0.1 that captures the
// query of the first redirect carrying one. Later requests, including the
// browser following the redirect to the confirmation page, only get a static
// page.
type LoopbackServer struct {
	DrainTimeout time.Duration

	mu       sync.Mutex
	port     int
	state    LoopbackState
	query    url.Values
	captured chan struct{}
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// NewLoopbackServer creates an idle server for port. Port 0 binds an
// ephemeral port.
func NewLoopbackServer(port int) *LoopbackServer {
	return &LoopbackServer{
		DrainTimeout: DefaultDrainTimeout,
		port:         port,
		captured:     make(chan struct{}),
	}
}

// Start binds the listener and serves in the background.
func (s *LoopbackServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("loopback server cannot start: already %s", s.state)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start loopback listener on %s: %w", addr, err)
	}
	s.port = ln.Addr().(*net.TCPAddr).Port

	srv := &http.Server{
		Handler:           http.HandlerFunc(s.handle),
		ReadHeaderTimeout: 10 * time.Second,
	}
	done := make(chan struct{})
	s.server = srv
	s.listener = ln
	s.done = done
	s.state = StateListening

	go func() {
		defer close(done)
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			logger.Get().Warn().Err(err).Msg("Loopback listener stopped unexpectedly")
		}
	}()

	logger.Get().Debug().Int("port", s.port).Msg("Loopback listener started")
	return nil
}

// RedirectURI is the redirect_uri to send with the authorize request.
func (s *LoopbackServer) RedirectURI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("http://127.0.0.1:%d", s.port)
}

// Port returns the bound port once started.
func (s *LoopbackServer) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

func (s *LoopbackServer) State() LoopbackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Captured is closed when a query has been captured.
func (s *LoopbackServer) Captured() <-chan struct{} {
	return s.captured
}

// RetrievedQuery returns the captured query parameters, or nil.
func (s *LoopbackServer) RetrievedQuery() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

// Stop closes the listener and drains in-flight connections for at most
// DrainTimeout. The port is released when Stop returns. It is safe to call in
// any state and more than once.
func (s *LoopbackServer) Stop() error {
	s.mu.Lock()
	srv, ln, done := s.server, s.listener, s.done
	prev := s.state
	s.state = StateStopped
	s.mu.Unlock()

	if srv == nil || prev == StateStopped {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.DrainTimeout)
	defer cancel()

	var stopErr error
	if err := srv.Shutdown(ctx); err != nil {
		logger.Get().Debug().Err(err).Msg("Loopback drain incomplete; closing remaining connections")
		stopErr = srv.Close()
	}

	// Serve may not have picked up the listener yet, in which case Shutdown
	// does not know about it.
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	select {
	case <-done:
	case <-ctx.Done():
		logger.Get().Debug().Msg("Loopback serve loop did not exit before drain timeout")
	}
	return stopErr
}

func (s *LoopbackServer) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")

	if s.capture(r.URL) {
		http.Redirect(w, r, confirmationPath, http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = confirmationTemplate.Execute(w, map[string]string{
		"Title":   "OK",
		"Message": "You can now close this browser tab and return to the terminal.",
	})
}

// capture stores the first non-empty query. A malformed query is kept with
// whatever pairs parsed.
func (s *LoopbackServer) capture(u *url.URL) bool {
	if u.RawQuery == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateListening {
		return false
	}

	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		logger.Get().Debug().Err(err).Msg("Captured malformed query")
	}
	s.query = q
	s.state = StateCaptured
	close(s.captured)

	logger.Get().Debug().Strs("params", paramNames(q)).Msg("Retrieved redirect query")
	return true
}

func paramNames(q url.Values) []string {
	names := make([]string, 0, len(q))
	for k := range q {
		names = append(names, k)
	}
	return names
}
