package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nulpointcorp/llm-gateway/internal/balance"
	"github.com/nulpointcorp/llm-gateway/internal/config"
	"github.com/nulpointcorp/llm-gateway/internal/mapper"
	"github.com/nulpointcorp/llm-gateway/internal/types"
)

func newTestStreamDispatcher(t *testing.T, handler http.HandlerFunc) *Dispatcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	bal := balance.NewPeakEWMAP2C()
	endpoint := types.ApiEndpoint{Provider: types.OpenAI(), EndpointType: types.EndpointChat, Path: srv.URL}
	key := types.ProviderKey{Provider: types.OpenAI(), EndpointType: types.EndpointChat}.Key()
	bal.Insert(key, balance.Service{Endpoint: endpoint})

	return &Dispatcher{
		Balancer: bal,
		Mappers:  mapper.NewRegistry(),
		Targets: map[string]Target{
			key: {Key: key, Endpoint: endpoint, Client: srv.Client()},
		},
		Retry: config.RetryConfig{MaxAttempts: 1, Policy: "constant"},
	}
}

func drainChunks(t *testing.T, result *StreamResult, timeout time.Duration) []StreamChunk {
	t.Helper()
	var got []StreamChunk
	deadline := time.After(timeout)
	for {
		select {
		case c, ok := <-result.Chunks:
			if !ok {
				return got
			}
			got = append(got, c)
		case <-deadline:
			t.Fatal("timed out waiting for stream chunks")
		}
	}
}

func TestDispatchStream_ForwardsSSEFrames(t *testing.T) {
	d := newTestStreamDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n"))
		flusher.Flush()
		w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	})

	result, err := d.DispatchStream(context.Background(), nil, []byte(`{"model":"gpt-4o"}`), "gpt-4o")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	chunks := drainChunks(t, result, 2*time.Second)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want exactly 1 (the [DONE] marker must not be forwarded)", len(chunks))
	}
	if chunks[0].Err != nil {
		t.Fatalf("unexpected chunk error: %v", chunks[0].Err)
	}

	select {
	case <-result.FirstByte:
	default:
		t.Error("expected FirstByte to have fired once a chunk was forwarded")
	}
}

func TestDispatchStream_NoHealthyBackend(t *testing.T) {
	d := &Dispatcher{Balancer: balance.NewPeakEWMAP2C(), Mappers: mapper.NewRegistry()}
	_, err := d.DispatchStream(context.Background(), nil, []byte(`{}`), "gpt-4o")
	if err == nil {
		t.Fatal("expected an error when the balancer has no ready backend")
	}
}

func TestDispatchStream_NonRetryableStatusSurfacesOnChannel(t *testing.T) {
	// A non-retryable upstream status (not 429/5xx) is terminal immediately,
	// with no retry attempted regardless of MaxAttempts.
	d := newTestStreamDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	result, err := d.DispatchStream(context.Background(), nil, []byte(`{"model":"gpt-4o"}`), "gpt-4o")
	if err != nil {
		t.Fatalf("unexpected synchronous error: %v", err)
	}

	chunks := drainChunks(t, result, 2*time.Second)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want exactly 1 terminal error chunk", len(chunks))
	}
	if chunks[0].Err == nil {
		t.Fatal("expected the single chunk to carry a terminal error")
	}
	se, ok := chunks[0].Err.(*StreamError)
	if !ok {
		t.Fatalf("expected a *StreamError, got %T", chunks[0].Err)
	}
	if se.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", se.StatusCode)
	}
	if se.Retryable {
		t.Error("a 400 must not be marked Retryable")
	}
}

func TestDispatchStream_RetriesBeforeFirstByteForwarded(t *testing.T) {
	attempts := 0
	d := newTestStreamDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n"))
		w.(http.Flusher).Flush()
		w.Write([]byte("data: [DONE]\n\n"))
		w.(http.Flusher).Flush()
	})
	d.Retry = config.RetryConfig{MaxAttempts: 3, Policy: "constant", BaseDelay: 1}

	result, err := d.DispatchStream(context.Background(), nil, []byte(`{"model":"gpt-4o"}`), "gpt-4o")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chunks := drainChunks(t, result, 2*time.Second)
	if len(chunks) != 1 || chunks[0].Err != nil {
		t.Fatalf("expected a single successful chunk after retry, got %+v", chunks)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2 (one 500, one success)", attempts)
	}
}
