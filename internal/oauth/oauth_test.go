package oauth

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/errors"
)

func testFlow(t *testing.T, opt ...FlowOption) *Flow {
	t.Helper()
	opts := append([]FlowOption{WithPort(0)}, opt...)
	return NewFlow(hclog.NewNullLogger(), opts...)
}

// redirect simulates the provider sending the browser back to the callback.
func redirect(t *testing.T, session *Session, query string) *http.Response {
	t.Helper()

	resp, err := http.Get(session.CallbackURL + "?" + query)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestFlow_AuthorizationCodeDelivered(t *testing.T) {
	t.Parallel()

	session, err := testFlow(t).Begin("github")
	require.NoError(t, err)

	require.Equal(t, "github", session.ServerID)
	require.NotEmpty(t, session.State)
	require.Contains(t, session.CallbackURL, DefaultCallbackPath)

	done := make(chan struct{})
	var ok bool
	var waitErr error
	go func() {
		defer close(done)
		ok, waitErr = session.Wait(context.Background())
	}()

	resp := redirect(t, session, "state="+session.State+"&code=abc123")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	<-done
	require.NoError(t, waitErr)
	require.True(t, ok)
}

func TestFlow_DeniedRedirectReportsNoCode(t *testing.T) {
	t.Parallel()

	session, err := testFlow(t).Begin("github")
	require.NoError(t, err)

	done := make(chan struct{})
	var ok bool
	var waitErr error
	go func() {
		defer close(done)
		ok, waitErr = session.Wait(context.Background())
	}()

	redirect(t, session, "state="+session.State+"&error=access_denied")

	<-done
	require.NoError(t, waitErr)
	require.False(t, ok)
}

func TestFlow_MismatchedStateIgnored(t *testing.T) {
	t.Parallel()

	session, err := testFlow(t, WithTimeout(300*time.Millisecond)).Begin("github")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := session.Wait(context.Background())
		done <- err
	}()

	// A forged redirect is rejected and does not settle the session.
	resp := redirect(t, session, "state=forged&code=evil")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(body), "state mismatch")

	require.ErrorIs(t, <-done, errors.ErrTimeout)
}

func TestFlow_Timeout(t *testing.T) {
	t.Parallel()

	session, err := testFlow(t, WithTimeout(50*time.Millisecond)).Begin("github")
	require.NoError(t, err)

	ok, err := session.Wait(context.Background())
	require.False(t, ok)
	require.ErrorIs(t, err, errors.ErrTimeout)
}

func TestFlow_ContextCancellation(t *testing.T) {
	t.Parallel()

	session, err := testFlow(t).Begin("github")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	ok, err := session.Wait(ctx)
	require.False(t, ok)
	require.ErrorIs(t, err, errors.ErrCancelled)
}

func TestFlow_ListenerTornDownAfterWait(t *testing.T) {
	t.Parallel()

	session, err := testFlow(t, WithTimeout(20*time.Millisecond)).Begin("github")
	require.NoError(t, err)

	_, _ = session.Wait(context.Background())

	// The port is released; a late redirect finds nobody listening.
	_, err = http.Get(session.CallbackURL + "?state=" + session.State + "&code=late")
	require.Error(t, err)

	// Close after Wait is a no-op.
	session.Close()
}

func TestFlow_Authenticate(t *testing.T) {
	t.Parallel()

	flow := testFlow(t, WithTimeout(100*time.Millisecond))

	ok, err := flow.Authenticate(context.Background(), "github")
	require.False(t, ok)
	require.ErrorIs(t, err, errors.ErrTimeout)
}

func TestFlow_BindFailureIsTransportError(t *testing.T) {
	t.Parallel()

	holder, err := testFlow(t).Begin("first")
	require.NoError(t, err)
	t.Cleanup(holder.Close)

	// Binding the exact port the first session holds must fail.
	_, portStr, err := net.SplitHostPort(holder.Addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	_, err = NewFlow(hclog.NewNullLogger(), WithPort(port)).Begin("second")
	require.ErrorIs(t, err, errors.ErrTransport)
}
