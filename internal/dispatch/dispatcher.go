// Package dispatch implements the router pipeline's dispatcher stage
// (spec.md §4.4): given a balancer-selected target, it resolves the target
// model, maps the request body into the target provider's dialect, executes
// the HTTP call (with SigV4 signing for Bedrock), retries according to
// policy before any response byte has been forwarded, and reports the
// outcome back to the health and rate-limit monitors.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nulpointcorp/llm-gateway/internal/balance"
	"github.com/nulpointcorp/llm-gateway/internal/config"
	"github.com/nulpointcorp/llm-gateway/internal/health"
	"github.com/nulpointcorp/llm-gateway/internal/mapper"
	"github.com/nulpointcorp/llm-gateway/internal/quarantine"
	"github.com/nulpointcorp/llm-gateway/internal/retry"
	"github.com/nulpointcorp/llm-gateway/internal/types"
	"github.com/nulpointcorp/llm-gateway/pkg/apierr"
)

// Signer applies provider-specific request signing (AWS SigV4 for
// Bedrock) after the body has been mapped. No-op for providers that use a
// plain bearer token.
type Signer interface {
	Sign(ctx context.Context, req *http.Request, body []byte) error
}

// Target describes where to send a mapped request: the balancer key (for
// health/quarantine reporting), the concrete endpoint, and its HTTP
// client/signer.
type Target struct {
	Key      string
	Endpoint types.ApiEndpoint
	Client   *http.Client
	Signer   Signer
	AuthFn   func(req *http.Request)
}

// hopByHopHeaders are never forwarded upstream (spec.md §4.4 pre-flight
// transform, step 1): connection-scoped or credential headers the gateway
// itself owns and must not let a client or a prior hop leak through.
var hopByHopHeaders = []string{"Host", "Authorization", "Content-Length", "Accept-Encoding", "Helicone-Api-Key"}

// StripHopByHop deletes the headers a request must never carry upstream and
// forces Accept-Encoding to identity, so the gateway always receives an
// uncompressed body it can map. Used both by the mapped dispatch path below
// and by the byte-transparent direct-proxy passthrough.
func StripHopByHop(h http.Header) {
	for _, k := range hopByHopHeaders {
		h.Del(k)
	}
	h.Set("Accept-Encoding", "identity")
}

// ParseRetryAfter interprets a Retry-After header value as either a
// delta-seconds integer or an HTTP-date (RFC 9110 §10.2.3), returning the
// duration from now until that deadline. Falls back to 60s when the header
// is absent or unparseable.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 60 * time.Second
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d
	}
	return 60 * time.Second
}

func retryAfterFromHeader(h http.Header) time.Duration {
	if h == nil {
		return 60 * time.Second
	}
	return ParseRetryAfter(h.Get("Retry-After"))
}

// resolveEndpointPath substitutes a "{model}" placeholder in an endpoint
// path with the resolved target model, for providers (Bedrock) whose
// invoke URL is itself model-specific rather than carrying the model in
// the request body.
func resolveEndpointPath(path, model string) string {
	return strings.ReplaceAll(path, "{model}", model)
}

func upstreamRequestID(h http.Header) string {
	if h == nil {
		return ""
	}
	for _, k := range []string{"X-Request-Id", "Request-Id", "Anthropic-Request-Id", "X-Amzn-Requestid"} {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// Dispatcher executes one logical request against a Balancer's pool of
// Targets, applying the model mapper, dialect mapper, and retry policy.
type Dispatcher struct {
	Balancer    balance.Balancer
	Mappers     *mapper.Registry
	Targets     map[string]Target // key -> Target, kept in sync with Balancer inserts
	Health      *health.Monitor
	RateLim     *quarantine.Monitor
	Retry       config.RetryConfig
	ModelMapper *mapper.ModelResolver // nil is valid: only pinned/natively-speaking models resolve
}

// TargetFor returns the registered target for the given provider, so a
// direct (/{provider}/...) request can be forwarded straight to it without
// going through the balancer/retry pipeline at all (spec.md §8 invariant 6:
// direct proxy is byte-transparent). Reports false when this dispatcher has
// no target for that provider.
func (d *Dispatcher) TargetFor(provider types.InferenceProvider) (Target, bool) {
	for _, t := range d.Targets {
		if t.Endpoint.Provider.Equal(provider) {
			return t, true
		}
	}
	return Target{}, false
}

// Result is the outcome of a successful dispatch. Provider/Model/RequestID
// and Headers are the response-shaping extensions spec.md §4.4 calls for
// copying onto the client-visible response.
type Result struct {
	Body       []byte
	StatusCode int
	Key        string
	Provider   types.InferenceProvider
	Model      string
	RequestID  string
	Headers    http.Header // upstream response headers, Content-Length already stripped
}

// resolveModel runs the model-mapper precedence chain for svc, using
// svc.Model (when the balancer strategy pins one) as the override.
func (d *Dispatcher) resolveModel(modelLiteral string, svc balance.Service) (string, error) {
	pinned := ""
	if svc.Model != nil {
		pinned = svc.Model.String()
	}
	return d.ModelMapper.Resolve(modelLiteral, svc.Endpoint.Provider, pinned)
}

// Dispatch picks a target via Balancer, resolves the target model, maps
// reqBody into its dialect, executes the HTTP call with the configured
// retry policy, and maps the response back. model is used only by
// model-keyed balancer strategies.
func (d *Dispatcher) Dispatch(ctx context.Context, model types.ModelId, reqBody []byte, modelLiteral string) (Result, error) {
	key, svc, done, ok := d.Balancer.Pick(ctx, model)
	if !ok {
		return Result{}, apierr.UpstreamServerError("no healthy backend available")
	}
	target, ok := d.Targets[key]
	if !ok {
		done(fmt.Errorf("no target registered for key %s", key))
		return Result{}, apierr.Internal("internal routing error")
	}

	m, err := d.Mappers.For(svc.Endpoint.Provider)
	if err != nil {
		done(err)
		return Result{}, apierr.UnsupportedProvider(err.Error())
	}

	targetModel, err := d.resolveModel(modelLiteral, svc)
	if err != nil {
		done(err)
		return Result{}, apierr.InvalidRequestBody(err.Error())
	}

	mappedReq, err := m.MapRequest(reqBody, targetModel)
	if err != nil {
		done(err)
		return Result{}, apierr.InvalidRequestBody(err.Error())
	}
	target.Endpoint.Path = resolveEndpointPath(target.Endpoint.Path, targetModel)

	var result Result
	var lastStatus int
	retryable := func(err error) bool {
		// A transport-level error (no status recorded yet) or a 429/5xx
		// response is retryable; anything else is a client error and
		// should abort the retry loop immediately.
		return lastStatus == 0 || retry.DefaultRetryableStatus(lastStatus)
	}
	attemptErr := retry.Do(ctx, d.Retry, retryable, func(ctx context.Context) error {
		respBody, status, header, err := d.execute(ctx, target, mappedReq)
		lastStatus = status
		failed := err != nil || status >= 500 || status == 429

		if d.Health != nil {
			d.Health.RecordResult(key, failed)
		}
		if status == http.StatusTooManyRequests && d.RateLim != nil {
			d.RateLim.ReportRateLimited(key, retryAfterFromHeader(header))
		}

		if err != nil {
			return err
		}
		if status == http.StatusTooManyRequests || status >= 500 {
			return fmt.Errorf("upstream status %d", status)
		}

		var mappedResp []byte
		var mapErr error
		if status >= 400 {
			mappedResp, mapErr = mapper.MapErrorBody(respBody, status), nil
		} else {
			mappedResp, mapErr = m.MapResponse(respBody)
		}
		if mapErr != nil {
			return mapErr
		}
		if header != nil {
			header.Del("Content-Length")
		}
		result = Result{
			Body:       mappedResp,
			StatusCode: status,
			Key:        key,
			Provider:   svc.Endpoint.Provider,
			Model:      targetModel,
			RequestID:  upstreamRequestID(header),
			Headers:    header,
		}
		return nil
	})

	done(attemptErr)
	if attemptErr != nil {
		return Result{}, apierr.UpstreamServerError(attemptErr.Error())
	}
	return result, nil
}

func (d *Dispatcher) execute(ctx context.Context, target Target, body []byte) ([]byte, int, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Endpoint.Path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	StripHopByHop(req.Header)
	if target.AuthFn != nil {
		target.AuthFn(req)
	}
	if target.Signer != nil {
		if err := target.Signer.Sign(ctx, req, body); err != nil {
			return nil, 0, nil, err
		}
	}

	client := target.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, resp.Header, err
	}
	return respBody, resp.StatusCode, resp.Header, nil
}
