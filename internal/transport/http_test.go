package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/errors"
)

func httpServerDef(id, url string, headers map[string]string) config.ServerDefinition {
	return config.ServerDefinition{
		ID:        id,
		Transport: config.TransportHTTP,
		URL:       url,
		Headers:   headers,
	}
}

func TestHTTP_SendDeliversResponseBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.JSONEq(t, `{"jsonrpc":"2.0","id":7,"method":"ping"}`, string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"jsonrpc":"2.0","id":7,"result":{}}`)
	}))
	t.Cleanup(srv.Close)

	collector := newMessageCollector()
	h := NewHTTP(hclog.NewNullLogger(), httpServerDef("svc", srv.URL, nil), collector.onMessage)

	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":7,"method":"ping"}`)))

	require.Eventually(t, func() bool {
		msgs, _ := collector.snapshot()
		return len(msgs) == 1
	}, time.Second, 5*time.Millisecond)

	msgs, _ := collector.snapshot()
	require.JSONEq(t, `{"jsonrpc":"2.0","id":7,"result":{}}`, msgs[0])
}

func TestHTTP_EmptyBodyIsNotDelivered(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	collector := newMessageCollector()
	h := NewHTTP(hclog.NewNullLogger(), httpServerDef("svc", srv.URL, nil), collector.onMessage)

	require.NoError(t, h.Send(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)))

	msgs, _ := collector.snapshot()
	require.Empty(t, msgs)
}

func TestHTTP_NonSuccessStatusIsTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	collector := newMessageCollector()
	h := NewHTTP(hclog.NewNullLogger(), httpServerDef("svc", srv.URL, nil), collector.onMessage)

	err := h.Send(context.Background(), []byte(`{}`))
	require.ErrorIs(t, err, errors.ErrTransport)
}

func TestHTTP_CustomHeadersForwarded(t *testing.T) {
	t.Parallel()

	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
	}))
	t.Cleanup(srv.Close)

	collector := newMessageCollector()
	def := httpServerDef("svc", srv.URL, map[string]string{"Authorization": "Bearer token-123"})
	h := NewHTTP(hclog.NewNullLogger(), def, collector.onMessage)

	require.NoError(t, h.Send(context.Background(), []byte(`{}`)))
	require.Equal(t, "Bearer token-123", gotAuth.Load())
}

func TestHTTP_UnreachableEndpoint(t *testing.T) {
	t.Parallel()

	collector := newMessageCollector()
	h := NewHTTP(hclog.NewNullLogger(), httpServerDef("svc", "http://127.0.0.1:1", nil), collector.onMessage)

	err := h.Send(context.Background(), []byte(`{}`))
	require.ErrorIs(t, err, errors.ErrTransport)
}

func TestSSE_EndpointAnnouncementAndDelivery(t *testing.T) {
	t.Parallel()

	collector := newMessageCollector()

	mux := http.NewServeMux()

	posted := make(chan string, 4)
	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		posted <- string(body)
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		// Announce the POST endpoint relative to the stream URL.
		_, _ = fmt.Fprint(w, "event: endpoint\ndata: /messages\n\n")
		flusher.Flush()

		// Deliver one inbound message, then hold the stream open.
		_, _ = fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n\n")
		flusher.Flush()

		<-r.Context().Done()
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	def := config.ServerDefinition{
		ID:        "events",
		Transport: config.TransportSSE,
		URL:       srv.URL + "/sse",
	}
	s := NewSSE(hclog.NewNullLogger(), def, collector.onMessage, collector.onExit)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Start(context.Background()))

	// First send lazily connects, waits for the endpoint, then POSTs there.
	require.NoError(t, s.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`)))

	select {
	case body := <-posted:
		require.True(t, strings.Contains(body, `"initialize"`))
	case <-time.After(2 * time.Second):
		t.Fatal("no POST arrived at the announced endpoint")
	}

	require.Eventually(t, func() bool {
		msgs, _ := collector.snapshot()
		return len(msgs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	msgs, _ := collector.snapshot()
	require.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, msgs[0])
}

func TestSSE_ConcurrentFirstSendsShareOneStream(t *testing.T) {
	t.Parallel()

	collector := newMessageCollector()

	var streams atomic.Int64
	mux := http.NewServeMux()

	mux.HandleFunc("/messages", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		streams.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		_, _ = fmt.Fprint(w, "event: endpoint\ndata: /messages\n\n")
		flusher.Flush()
		<-r.Context().Done()
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	def := config.ServerDefinition{
		ID:        "events",
		Transport: config.TransportSSE,
		URL:       srv.URL + "/sse",
	}
	s := NewSSE(hclog.NewNullLogger(), def, collector.onMessage, collector.onExit)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Start(context.Background()))

	// All first sends race the lazy connect; exactly one event stream may open.
	errs := make([]error, 4)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Send(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int64(1), streams.Load())
}

func TestSSE_StreamTerminationReportsExit(t *testing.T) {
	t.Parallel()

	collector := newMessageCollector()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// Stream ends immediately without announcing anything.
	}))
	t.Cleanup(srv.Close)

	def := config.ServerDefinition{
		ID:        "flaky",
		Transport: config.TransportSSE,
		URL:       srv.URL,
	}
	s := NewSSE(hclog.NewNullLogger(), def, collector.onMessage, collector.onExit)

	require.NoError(t, s.Start(context.Background()))
	// Send connects; the terminated stream surfaces through onExit.
	_ = s.Send(context.Background(), []byte(`{}`))

	select {
	case <-collector.exitCh:
	case <-time.After(2 * time.Second):
		t.Fatal("exit handler never invoked for terminated stream")
	}

	_, exits := collector.snapshot()
	require.ErrorIs(t, exits[0], errors.ErrTransport)
}
