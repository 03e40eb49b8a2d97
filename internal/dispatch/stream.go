package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nulpointcorp/llm-gateway/internal/mapper"
	"github.com/nulpointcorp/llm-gateway/internal/retry"
	"github.com/nulpointcorp/llm-gateway/internal/types"
)

// StreamChunk is one forwardable SSE frame, already rendered as
// "data: ...\n\n" by the dialect mapper. A non-nil Err terminates the
// stream; the caller must stop reading Chunks once it arrives.
type StreamChunk struct {
	Data []byte
	Err  error
}

// StreamError wraps a mid-stream upstream failure. Retryable is only ever
// honored by DispatchStream's own retry loop — once a stream has forwarded
// any byte to the client, the gateway never retries (spec.md §4.4/§9 Open
// Question 1), so a StreamError reaching the caller is always terminal.
type StreamError struct {
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *StreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stream: upstream status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("stream: upstream status %d", e.StatusCode)
}

func (e *StreamError) Unwrap() error { return e.Err }

// StreamResult is the handle DispatchStream returns once the upstream
// connection is established: Chunks yields mapped SSE frames in order,
// FirstByte fires once with the time-to-first-forwarded-byte.
type StreamResult struct {
	Chunks    <-chan StreamChunk
	Key       string
	Provider  types.InferenceProvider
	Model     string
	FirstByte <-chan time.Duration
}

// DispatchStream mirrors Dispatch but executes the upstream call as a
// streaming SSE/NDJSON source instead of buffering a full response. Retries
// are only attempted while no chunk has yet reached the client. Once the
// first byte is forwarded no further attempt is made: a mapper error ends
// the stream with a terminal error chunk, and an upstream read failure ends
// it without one (the client sees a truncated stream).
func (d *Dispatcher) DispatchStream(ctx context.Context, model types.ModelId, reqBody []byte, modelLiteral string) (*StreamResult, error) {
	key, svc, done, ok := d.Balancer.Pick(ctx, model)
	if !ok {
		return nil, fmt.Errorf("dispatch: no healthy backend available")
	}
	target, ok := d.Targets[key]
	if !ok {
		done(fmt.Errorf("no target registered for key %s", key))
		return nil, fmt.Errorf("dispatch: no target registered for key %s", key)
	}

	m, err := d.Mappers.For(svc.Endpoint.Provider)
	if err != nil {
		done(err)
		return nil, err
	}
	targetModel, err := d.resolveModel(modelLiteral, svc)
	if err != nil {
		done(err)
		return nil, err
	}
	mappedReq, err := m.MapRequest(reqBody, targetModel)
	if err != nil {
		done(err)
		return nil, err
	}
	target.Endpoint.Path = resolveEndpointPath(target.Endpoint.Path, targetModel)

	chunks := make(chan StreamChunk, 16)
	firstByte := make(chan time.Duration, 1)
	result := &StreamResult{Chunks: chunks, Key: key, Provider: svc.Endpoint.Provider, Model: targetModel, FirstByte: firstByte}

	go d.runStream(ctx, key, target, m, mappedReq, done, chunks, firstByte)
	return result, nil
}

func (d *Dispatcher) runStream(ctx context.Context, key string, target Target, m mapper.Mapper, body []byte, done func(error),
	chunks chan<- StreamChunk, firstByte chan<- time.Duration) {
	defer close(chunks)

	var forwarded atomic.Bool
	start := time.Now()
	var sentErr bool

	retryable := func(err error) bool {
		if forwarded.Load() {
			return false
		}
		se, ok := err.(*StreamError)
		return ok && se.Retryable
	}

	attemptErr := retry.Do(ctx, d.Retry, retryable, func(ctx context.Context) error {
		resp, err := d.openStream(ctx, target, body)
		if err != nil {
			if d.Health != nil {
				d.Health.RecordResult(key, true)
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests && d.RateLim != nil {
			d.RateLim.ReportRateLimited(key, retryAfterFromHeader(resp.Header))
		}
		if resp.StatusCode >= 400 {
			if d.Health != nil {
				d.Health.RecordResult(key, true)
			}
			se := &StreamError{StatusCode: resp.StatusCode, Retryable: resp.StatusCode == 429 || resp.StatusCode >= 500}
			if !se.Retryable || forwarded.Load() {
				chunks <- StreamChunk{Err: se}
				sentErr = true
			}
			return se
		}
		if d.Health != nil {
			d.Health.RecordResult(key, false)
		}

		pumpSSE(resp.Body, m, chunks, &forwarded, firstByte, start)
		return nil
	})

	if attemptErr != nil && !sentErr {
		chunks <- StreamChunk{Err: attemptErr}
	}
	done(attemptErr)
}

func (d *Dispatcher) openStream(ctx context.Context, target Target, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Endpoint.Path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	StripHopByHop(req.Header)
	if target.AuthFn != nil {
		target.AuthFn(req)
	}
	if target.Signer != nil {
		if err := target.Signer.Sign(ctx, req, body); err != nil {
			return nil, err
		}
	}
	client := target.Client
	if client == nil {
		client = http.DefaultClient
	}
	return client.Do(req)
}

// pumpSSE reads upstream event-source (or Ollama NDJSON) framing line by
// line, maps each payload into a client-ready "data: ...\n\n" frame via m,
// and forwards it on chunks. Terminates on a literal "[DONE]" payload, on
// EOF or a read error, or after sending a mapper error as a terminal chunk.
// A mapper-reported nil frame is dropped silently and reading continues.
func pumpSSE(body io.Reader, m mapper.Mapper, chunks chan<- StreamChunk, forwarded *atomic.Bool, firstByte chan<- time.Duration, start time.Time) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var payload string
		switch {
		case strings.HasPrefix(line, "data:"):
			payload = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case strings.HasPrefix(line, "{"):
			payload = line
		default:
			continue
		}
		if payload == "[DONE]" {
			return
		}

		frame, err := m.MapStreamChunk([]byte(payload))
		if err != nil {
			chunks <- StreamChunk{Err: err}
			return
		}
		if frame == nil {
			continue
		}

		if forwarded.CompareAndSwap(false, true) {
			select {
			case firstByte <- time.Since(start):
			default:
			}
		}
		chunks <- StreamChunk{Data: frame}
	}
}
