package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llm-gateway/internal/cache"
	"github.com/nulpointcorp/llm-gateway/internal/config"
	"github.com/nulpointcorp/llm-gateway/internal/dispatch"
	"github.com/nulpointcorp/llm-gateway/internal/ratelimit"
	"github.com/nulpointcorp/llm-gateway/internal/types"
	"github.com/nulpointcorp/llm-gateway/pkg/apierr"
)

// RouterPipeline is the named-router middleware stack (spec.md §5.2):
// RateLimit → Cache → ErrorHandler → Buffer(N) → RequestContext → Balancer,
// composed as ordered Go functions around one router's Dispatcher rather
// than as trait objects. Buffer is a bounded semaphore guarding the
// balancer call; RateLimit and Cache are nil-safe and skipped when the
// router has neither configured.
type RouterPipeline struct {
	Dispatcher   *dispatch.Dispatcher
	Cache        *cache.BucketedCache
	CacheExclude *cache.ExclusionMatcher
	RateLimiter  *ratelimit.GCRALimiter
	RateLimitKey func(ctx *fasthttp.RequestCtx) string
	Buffer       chan struct{}
}

// NewRouterPipeline builds the middleware stack for one router from its
// config, wiring the GCRA limiter and bucketed cache when configured
// (spec.md §4.5/§4.7) — previously dead code, now exercised per request.
// rdb is optional: when nil the rate limiter falls back to an in-process
// GCRA table, otherwise limits are shared across replicas via Redis.
func NewRouterPipeline(d *dispatch.Dispatcher, rc config.RouterConfig, cacheBackend cache.Cache, rdb *redis.Client) *RouterPipeline {
	p := &RouterPipeline{Dispatcher: d}

	bufSize := rc.MaxInflight
	if bufSize <= 0 {
		bufSize = 256
	}
	p.Buffer = make(chan struct{}, bufSize)

	if rc.RateLimit.Capacity > 0 {
		if rdb != nil {
			p.RateLimiter = ratelimit.NewGCRALimiterRedis(rdb, rc.RateLimit.Period, rc.RateLimit.Capacity-1)
		} else {
			p.RateLimiter = ratelimit.NewGCRALimiterMemory(rc.RateLimit.Period, rc.RateLimit.Capacity-1)
		}
		p.RateLimitKey = rateLimitKeyExtractor(rc.RateLimit.KeyExtractor)
	}

	if rc.Cache.Enabled && cacheBackend != nil {
		p.Cache = cache.NewBucketedCache(cacheBackend, rc.Cache.Buckets, rc.Cache.TTL)
		p.CacheExclude = cache.NewExclusionMatcher(nil, rc.Cache.ExcludeModelGlobs)
	}

	return p
}

// rateLimitKeyExtractor returns the cell-key function for a RouterRateLimitConfig's
// KeyExtractor setting: "api_key" (default), "ip", or "global".
func rateLimitKeyExtractor(kind string) func(ctx *fasthttp.RequestCtx) string {
	switch kind {
	case "ip":
		return func(ctx *fasthttp.RequestCtx) string { return ctx.RemoteIP().String() }
	case "global":
		return func(ctx *fasthttp.RequestCtx) string { return "global" }
	default:
		return func(ctx *fasthttp.RequestCtx) string {
			if tok := parseBearerToken(string(ctx.Request.Header.Peek("Authorization"))); tok != "" {
				return tok
			}
			return ctx.RemoteIP().String()
		}
	}
}

// Dispatch runs the full middleware stack around the balancer/dispatcher
// for a single request: rate-limit check, cache lookup, buffer admission,
// dispatch (unary or streaming), and cache store on a storable miss.
func (p *RouterPipeline) Dispatch(ctx *fasthttp.RequestCtx, model types.ModelId, pathAndQuery string, body []byte, modelLiteral string) {
	if p.RateLimiter != nil {
		key := "global"
		if p.RateLimitKey != nil {
			key = p.RateLimitKey(ctx)
		}
		decision, err := p.RateLimiter.Allow(ctx, key)
		if err == nil && !decision.Allowed {
			apierr.WriteError(ctx, apierr.TooManyRequests(decision.Limit, decision.Remaining, uint64(decision.RetryAfter.Seconds())))
			return
		}
	}

	excluded := p.CacheExclude != nil && p.CacheExclude.Excluded(modelLiteral)
	isStream := gjson.GetBytes(body, "stream").Bool()

	if p.Cache != nil && !excluded && !isStream {
		policy, cached, bucketIdx := p.Cache.Lookup(ctx, "", pathAndQuery, body)
		if policy == cache.Fresh {
			ctx.Response.Header.Set("Helicone-Cache", "HIT")
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetContentType("application/json")
			ctx.SetBody(cached)
			return
		}
		_ = bucketIdx
	}

	select {
	case p.Buffer <- struct{}{}:
		defer func() { <-p.Buffer }()
	default:
		apierr.WriteError(ctx, apierr.Internal("buffer overflow"))
		return
	}

	provCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	if isStream {
		p.dispatchStreaming(provCtx, ctx, model, body, modelLiteral)
		return
	}

	res, err := p.Dispatcher.Dispatch(provCtx, model, body, modelLiteral)
	if err != nil {
		handleProviderError(ctx, err)
		return
	}

	shapeResponse(ctx, res)
	ctx.SetStatusCode(res.StatusCode)
	ctx.SetContentType("application/json")
	ctx.SetBody(res.Body)

	if p.Cache != nil && !excluded && cache.Storable(false, false, res.StatusCode) {
		_ = p.Cache.Store(ctx, "", pathAndQuery, body, res.Body, 0)
		ctx.Response.Header.Set("Helicone-Cache", "MISS")
	}
}

// dispatchStreaming runs the dispatcher's SSE path and forwards frames to
// the client as they arrive, mirroring writeSSE's fasthttp streaming
// pattern but sourcing frames from dispatch.StreamResult instead of a
// provider-level channel.
func (p *RouterPipeline) dispatchStreaming(provCtx context.Context, ctx *fasthttp.RequestCtx, model types.ModelId, body []byte, modelLiteral string) {
	result, err := p.Dispatcher.DispatchStream(provCtx, model, body, modelLiteral)
	if err != nil {
		handleProviderError(ctx, err)
		return
	}

	ctx.Response.Header.Set("X-Inference-Provider", result.Provider.String())
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.SetStatusCode(fasthttp.StatusOK)

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() { recover() }() //nolint:errcheck // panic recovery in stream writer

		for chunk := range result.Chunks {
			if chunk.Err != nil {
				fmt.Fprintf(w, "data: %s\n\n", streamErrorFrame(chunk.Err))
				w.Flush() //nolint:errcheck
				return
			}
			w.Write(chunk.Data) //nolint:errcheck
			w.Flush()           //nolint:errcheck
		}
	})
}

// shapeResponse copies the response-shaping extensions spec.md §4.4 calls
// for onto client-visible headers. AuthContext and MapperContext are
// internal-only bookkeeping and are intentionally not surfaced.
func shapeResponse(ctx *fasthttp.RequestCtx, res dispatch.Result) {
	ctx.Response.Header.Set("X-Inference-Provider", res.Provider.String())
	if res.RequestID != "" {
		ctx.Response.Header.Set("X-Upstream-Request-Id", res.RequestID)
	}
}

// streamErrorFrame renders a mid-stream failure as the OpenAI-compatible
// error envelope clients expect even inside an SSE body.
func streamErrorFrame(err error) []byte {
	status := fasthttp.StatusBadGateway
	if se, ok := err.(*dispatch.StreamError); ok {
		status = se.StatusCode
	}
	env, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"message": err.Error(),
			"type":    apierr.TypeServerError,
			"code":    status,
		},
	})
	return env
}
