// Package apierr provides structured API error types and HTTP status mapping
// compatible with the OpenAI error format. Every error the gateway returns
// to a client implements Error, which carries its own HTTP status and a
// low-cardinality metric label — never a dynamic string such as a router
// id, model name, or request id, so that these can be used directly as
// Prometheus label values.
package apierr

import (
	"encoding/json"

	"github.com/valyala/fasthttp"
)

// ErrorType constants — the OpenAI-compatible "type" field.
const (
	TypeProviderError     = "provider_error"
	TypeRateLimitError    = "rate_limit_error"
	TypeInvalidRequest    = "invalid_request_error"
	TypeAuthenticationErr = "authentication_error"
	TypeServerError       = "server_error"
)

// Code constants — the OpenAI-compatible "code" field.
const (
	CodeRateLimitExceeded = "rate_limit_exceeded"
	CodeInvalidAPIKey     = "invalid_api_key"
	CodeInternalError     = "internal_error"
	CodeProviderError     = "provider_error"
	CodeRequestTimeout    = "request_timeout"
	CodeNotImplemented    = "not_implemented"
	CodeInvalidRequest    = "invalid_request"
	CodeNotFound          = "not_found"
	CodeUnauthorized      = "unauthorized"
)

type (
	// APIError is the structured error returned to clients.
	APIError struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
		Param   string `json:"param,omitempty"`
	}
	envelope struct {
		Error APIError `json:"error"`
	}
)

// Error is implemented by every typed error the gateway surfaces through
// the HTTP API. Kind/Metric never carry request-specific data.
type Error interface {
	error
	HTTPStatus() int
	// Metric is a fixed, low-cardinality label identifying the error
	// class for counters (e.g. "not_found", "too_many_requests").
	Metric() string
	// Headers returns any extra response headers this error requires
	// (e.g. Retry-After). May be nil.
	Headers() map[string]string
	apiError() APIError
}

type baseErr struct {
	msg     string
	status  int
	metric  string
	errType string
	code    string
	param   string
	headers map[string]string
}

func (e *baseErr) Error() string                 { return e.msg }
func (e *baseErr) HTTPStatus() int                { return e.status }
func (e *baseErr) Metric() string                 { return e.metric }
func (e *baseErr) Headers() map[string]string     { return e.headers }
func (e *baseErr) apiError() APIError {
	return APIError{Message: e.msg, Type: e.errType, Code: e.code, Param: e.param}
}

// NotFound — resource (router, provider, path) not found. HTTP 404.
func NotFound(msg string) Error {
	return &baseErr{msg: msg, status: fasthttp.StatusNotFound, metric: "not_found",
		errType: TypeInvalidRequest, code: CodeNotFound}
}

// UnsupportedProvider — the requested provider is not configured. HTTP 400.
func UnsupportedProvider(msg string) Error {
	return &baseErr{msg: msg, status: fasthttp.StatusBadRequest, metric: "unsupported_provider",
		errType: TypeInvalidRequest, code: CodeInvalidRequest}
}

// InvalidRequest — malformed request body or parameters. HTTP 400.
func InvalidRequest(msg string) Error {
	return &baseErr{msg: msg, status: fasthttp.StatusBadRequest, metric: "invalid_request",
		errType: TypeInvalidRequest, code: CodeInvalidRequest}
}

// InvalidRequestBody — request body failed to parse as JSON. HTTP 400.
func InvalidRequestBody(msg string) Error {
	return &baseErr{msg: msg, status: fasthttp.StatusBadRequest, metric: "invalid_request_body",
		errType: TypeInvalidRequest, code: CodeInvalidRequest}
}

// Unauthorized — missing or invalid credential. HTTP 401.
func Unauthorized(msg string) Error {
	return &baseErr{msg: msg, status: fasthttp.StatusUnauthorized, metric: "unauthorized",
		errType: TypeAuthenticationErr, code: CodeUnauthorized}
}

// Provider4xx — the upstream provider rejected the (already-mapped)
// request; its status code is passed through verbatim.
func Provider4xx(status int, msg string) Error {
	return &baseErr{msg: msg, status: status, metric: "provider_4xx",
		errType: TypeInvalidRequest, code: CodeInvalidRequest}
}

// TooManyRequests — the gateway's own rate limiter rejected the request.
// HTTP 429, with Retry-After and X-RateLimit-* headers per spec.
func TooManyRequests(limit, remaining, retryAfterSeconds uint64) Error {
	return &baseErr{
		msg:     "rate limit exceeded, retry after some time",
		status:  fasthttp.StatusTooManyRequests,
		metric:  "too_many_requests",
		errType: TypeRateLimitError,
		code:    CodeRateLimitExceeded,
		headers: map[string]string{
			"Retry-After":           itoa(retryAfterSeconds),
			"X-RateLimit-After":     itoa(retryAfterSeconds),
			"X-RateLimit-Limit":     itoa(limit),
			"X-RateLimit-Remaining": itoa(remaining),
		},
	}
}

// Internal — an unexpected internal failure. HTTP 500. Never leaks the
// underlying error string into the client-facing message by default;
// callers pass their own user-safe msg.
func Internal(msg string) Error {
	return &baseErr{msg: msg, status: fasthttp.StatusInternalServerError, metric: "internal",
		errType: TypeServerError, code: CodeInternalError}
}

// UpstreamServerError — a 5xx from an upstream provider. HTTP 502.
func UpstreamServerError(msg string) Error {
	return &baseErr{msg: msg, status: fasthttp.StatusBadGateway, metric: "upstream_server_error",
		errType: TypeServerError, code: CodeProviderError}
}

// Timeout — the upstream provider did not respond in time. HTTP 504.
func Timeout(msg string) Error {
	return &baseErr{msg: msg, status: fasthttp.StatusGatewayTimeout, metric: "timeout",
		errType: TypeProviderError, code: CodeRequestTimeout}
}

// StreamError — failure while relaying an SSE stream. HTTP 500, unless
// upstream status is known (see WriteProviderStreamError).
func StreamError(msg string) Error {
	return &baseErr{msg: msg, status: fasthttp.StatusInternalServerError, metric: "stream_error",
		errType: TypeServerError, code: CodeInternalError}
}

func itoa(v uint64) string {
	b := make([]byte, 0, 20)
	if v == 0 {
		return "0"
	}
	for v > 0 {
		b = append([]byte{byte('0' + v%10)}, b...)
		v /= 10
	}
	return string(b)
}

// WriteError writes e as JSON to the fasthttp response, including any
// error-specific headers (e.g. Retry-After).
func WriteError(ctx *fasthttp.RequestCtx, e Error) {
	for k, v := range e.Headers() {
		ctx.Response.Header.Set(k, v)
	}
	ctx.SetStatusCode(e.HTTPStatus())
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: e.apiError()})
	ctx.SetBody(body)
}

// Write writes a free-form error as JSON to the fasthttp response with the
// given HTTP status. Kept for call sites that have not been migrated onto
// the typed Error interface yet.
func Write(ctx *fasthttp.RequestCtx, status int, message, errType, code string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(envelope{Error: APIError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
	ctx.SetBody(body)
}

// WriteProviderError maps a provider HTTP status to the appropriate gateway
// status.
//
//	Provider 429  → 429 + Retry-After: 60
//	Provider 5xx  → 502
//	Timeout       → 504
//	Default       → 502
func WriteProviderError(ctx *fasthttp.RequestCtx, providerStatus int, msg string) {
	switch {
	case providerStatus == fasthttp.StatusTooManyRequests:
		ctx.Response.Header.Set("Retry-After", "60")
		Write(ctx, fasthttp.StatusTooManyRequests, msg, TypeRateLimitError, CodeRateLimitExceeded)
	case providerStatus >= 500 && providerStatus < 600:
		Write(ctx, fasthttp.StatusBadGateway, msg, TypeProviderError, CodeProviderError)
	default:
		Write(ctx, fasthttp.StatusBadGateway, msg, TypeProviderError, CodeProviderError)
	}
}

// WriteTimeout writes a 504 timeout error.
func WriteTimeout(ctx *fasthttp.RequestCtx) {
	Write(ctx, fasthttp.StatusGatewayTimeout, "provider request timed out", TypeProviderError, CodeRequestTimeout)
}

// WriteRateLimit writes a 429 rate limit error.
func WriteRateLimit(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("Retry-After", "60")
	Write(ctx, fasthttp.StatusTooManyRequests, "rate limit exceeded", TypeRateLimitError, CodeRateLimitExceeded)
}

// WriteStreamError maps an error observed mid-SSE-stream onto a response,
// matching upstream status class when known: 5xx passes through as
// server_error, 4xx as invalid_request, everything else (dropped
// connection, decode failure) as a 500 server_error.
func WriteStreamError(ctx *fasthttp.RequestCtx, upstreamStatus int, msg string) {
	switch {
	case upstreamStatus >= 500 && upstreamStatus < 600:
		Write(ctx, upstreamStatus, msg, TypeServerError, CodeProviderError)
	case upstreamStatus >= 400 && upstreamStatus < 500:
		Write(ctx, upstreamStatus, msg, TypeInvalidRequest, CodeInvalidRequest)
	default:
		Write(ctx, fasthttp.StatusInternalServerError, msg, TypeServerError, CodeInternalError)
	}
}
