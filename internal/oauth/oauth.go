// Package oauth runs the local callback half of an authorization-code flow:
// a short-lived HTTP listener that catches the provider redirect and hands the
// result back to the caller.
package oauth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/agentdeck/agentdeck/internal/errors"
)

const (
	// DefaultCallbackPort is where the loopback listener binds unless overridden.
	DefaultCallbackPort = 8976

	// DefaultTimeout bounds how long a flow waits for the user to finish in the browser.
	DefaultTimeout = 5 * time.Minute

	// DefaultCallbackPath is the redirect path registered with the provider.
	DefaultCallbackPath = "/oauth/callback"
)

// Flow creates callback sessions. One Flow is shared across servers; each
// authorization attempt gets its own Session and listener.
// NewFlow should be used to create instances of Flow.
type Flow struct {
	logger       hclog.Logger
	port         int
	timeout      time.Duration
	callbackPath string
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithPort overrides the callback listener port. Port 0 binds an ephemeral port,
// which tests rely on.
func WithPort(port int) FlowOption {
	return func(f *Flow) {
		if port >= 0 {
			f.port = port
		}
	}
}

// WithTimeout overrides how long Wait blocks for the redirect.
func WithTimeout(timeout time.Duration) FlowOption {
	return func(f *Flow) {
		if timeout > 0 {
			f.timeout = timeout
		}
	}
}

// WithCallbackPath overrides the redirect path.
func WithCallbackPath(path string) FlowOption {
	return func(f *Flow) {
		if path != "" {
			f.callbackPath = path
		}
	}
}

// NewFlow creates a Flow with default port, timeout and path.
func NewFlow(logger hclog.Logger, opt ...FlowOption) *Flow {
	f := &Flow{
		logger:       logger.Named("oauth"),
		port:         DefaultCallbackPort,
		timeout:      DefaultTimeout,
		callbackPath: DefaultCallbackPath,
	}
	for _, o := range opt {
		o(f)
	}
	return f
}

// Session is one in-flight authorization attempt: a bound listener waiting for
// the provider redirect. Callers direct the user's browser at the provider with
// CallbackURL as the redirect URI and State as the state parameter, then Wait.
type Session struct {
	ServerID    string
	State       string
	Addr        string
	CallbackURL string

	logger   hclog.Logger
	timeout  time.Duration
	server   *http.Server
	resultCh chan callbackResult

	closeOnce sync.Once
}

type callbackResult struct {
	code string
	err  error
}

// Begin binds the callback listener and returns the session. The listener is
// live when Begin returns, so a fast redirect cannot be missed.
func (f *Flow) Begin(serverID string) (*Session, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", f.port))
	if err != nil {
		return nil, fmt.Errorf("%w: bind callback listener: %w", errors.ErrTransport, err)
	}

	s := &Session{
		ServerID: serverID,
		State:    uuid.NewString(),
		Addr:     listener.Addr().String(),
		logger:   f.logger,
		timeout:  f.timeout,
		resultCh: make(chan callbackResult, 1),
	}
	s.CallbackURL = fmt.Sprintf("http://%s%s", s.Addr, f.callbackPath)

	mux := http.NewServeMux()
	mux.HandleFunc(f.callbackPath, s.handleCallback)

	s.server = &http.Server{Handler: mux}
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.deliver(callbackResult{err: fmt.Errorf("%w: callback listener: %w", errors.ErrTransport, err)})
		}
	}()

	f.logger.Info("OAuth callback listener started", "server", serverID, "addr", s.Addr)

	return s, nil
}

// Authenticate runs a complete flow for one server: begin a session and wait for
// the redirect. It reports whether an authorization code arrived.
func (f *Flow) Authenticate(ctx context.Context, serverID string) (bool, error) {
	session, err := f.Begin(serverID)
	if err != nil {
		return false, err
	}
	return session.Wait(ctx)
}

// Wait blocks until the provider redirects back, the timeout elapses, or the
// context is cancelled. It returns true when an authorization code arrived and
// false when the redirect carried none (the user denied access). The listener
// is torn down on every path.
func (s *Session) Wait(ctx context.Context) (bool, error) {
	defer s.Close()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case res := <-s.resultCh:
		if res.err != nil {
			return false, res.err
		}
		if res.code == "" {
			s.logger.Warn("OAuth redirect carried no authorization code", "server", s.ServerID)
			return false, nil
		}
		s.logger.Info("OAuth authorization code received", "server", s.ServerID)
		return true, nil
	case <-timer.C:
		return false, fmt.Errorf("%w: no OAuth redirect within %s for server '%s'", errors.ErrTimeout, s.timeout, s.ServerID)
	case <-ctx.Done():
		return false, fmt.Errorf("%w: %w", errors.ErrCancelled, ctx.Err())
	}
}

// Close shuts the listener down. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctx)
	})
}

func (s *Session) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if state := q.Get("state"); state != s.State {
		s.logger.Warn("OAuth redirect with mismatched state ignored", "server", s.ServerID)
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	}

	if errCode := q.Get("error"); errCode != "" {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "Authorization failed: %s. You can close this window.", errCode)
		s.deliver(callbackResult{})
		return
	}

	code := q.Get("code")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "Authorization complete. You can close this window.")
	s.deliver(callbackResult{code: code})
}

// deliver hands the result to Wait exactly once; later redirects are dropped.
func (s *Session) deliver(res callbackResult) {
	select {
	case s.resultCh <- res:
	default:
	}
}
