// Named-router and unified-API request path (spec.md §4.1/§4.2): classifies
// the incoming path, authenticates per the configured auth mode, and hands
// the request to a RouterPipeline's middleware stack instead of the legacy
// direct provider call.
package proxy

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/llm-gateway/internal/auth"
	"github.com/nulpointcorp/llm-gateway/internal/classify"
	"github.com/nulpointcorp/llm-gateway/internal/dispatch"
	"github.com/nulpointcorp/llm-gateway/internal/types"
	"github.com/nulpointcorp/llm-gateway/pkg/apierr"
)

// SetRouters injects the named-router pipelines built at startup and the
// verifier guarding them. Safe to call once, before Start.
func (g *Gateway) SetRouters(routers map[types.RouterId]*RouterPipeline, verifier *auth.Verifier) {
	g.routers = routers
	g.authVerifier = verifier
}

type routedRequestBody struct {
	Model string `json:"model"`
}

// handleRouted serves /router/{id}/..., /ai/... and /{provider}/...
// (spec.md §4.1). It classifies the path, authenticates per the configured
// auth mode, and dispatches through the router pipeline for router and
// unified requests; direct requests bypass the pipeline entirely and are
// forwarded byte-for-byte to the named provider.
func (g *Gateway) handleRouted(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	dest := string(ctx.Request.Header.Peek(classify.DestinationHeader))
	result := classify.Classify(path, dest)

	if !g.authenticateRequest(ctx) {
		return
	}

	pathAndQuery := result.Rest
	if qs := ctx.URI().QueryString(); len(qs) > 0 {
		pathAndQuery += "?" + string(qs)
	}

	switch result.Kind {
	case classify.KindRouter:
		g.dispatchViaRouter(ctx, result.RouterID, pathAndQuery)
	case classify.KindUnified:
		g.dispatchUnified(ctx, pathAndQuery)
	case classify.KindDirect:
		g.dispatchDirect(ctx, result.Provider)
	default:
		apierr.Write(ctx, fasthttp.StatusNotFound,
			"unrecognized route", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
	}
}

// authenticateRequest checks the bearer credential against the configured
// Verifier. A nil Verifier (auth not yet initialised) always passes.
func (g *Gateway) authenticateRequest(ctx *fasthttp.RequestCtx) bool {
	if g.authVerifier == nil {
		return true
	}
	cred := parseBearerToken(string(ctx.Request.Header.Peek("Authorization")))
	if _, ok := g.authVerifier.Verify(cred); !ok {
		apierr.Write(ctx, fasthttp.StatusUnauthorized,
			"invalid or missing credential", apierr.TypeAuthenticationErr, apierr.CodeUnauthorized)
		return false
	}
	return true
}

// dispatchViaRouter runs the request through the named router's full
// middleware stack (rate-limit → cache → buffer → balancer/dispatch).
func (g *Gateway) dispatchViaRouter(ctx *fasthttp.RequestCtx, id types.RouterId, pathAndQuery string) {
	p, ok := g.routers[id]
	if !ok {
		apierr.Write(ctx, fasthttp.StatusNotFound,
			fmt.Sprintf("router %q is not configured", id.String()),
			apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}
	g.runPipeline(ctx, p, types.OpenAI(), pathAndQuery)
}

// dispatchUnified runs the request through the "default" router when
// present, otherwise the first configured router — the unified /ai
// pipeline has no router id of its own to key off of.
func (g *Gateway) dispatchUnified(ctx *fasthttp.RequestCtx, pathAndQuery string) {
	p, ok := g.routers[types.RouterId("default")]
	if !ok {
		for _, candidate := range g.routers {
			p = candidate
			ok = true
			break
		}
	}
	if !ok {
		apierr.Write(ctx, fasthttp.StatusServiceUnavailable,
			"no routers configured", apierr.TypeProviderError, apierr.CodeProviderError)
		return
	}
	g.runPipeline(ctx, p, types.OpenAI(), pathAndQuery)
}

// dispatchDirect proxies a /{provider}/... request straight to that
// provider's upstream with no mapping, no model resolution, and no retry
// (spec.md §8 invariant 6 / Glossary "Direct proxy": the body is forwarded
// bytes-for-bytes). It only strips the same hop-by-hop headers every
// dispatch path strips and forwards the configured credential for that
// provider; the response is relayed verbatim including its status code.
func (g *Gateway) dispatchDirect(ctx *fasthttp.RequestCtx, providerName string) {
	for _, p := range g.routers {
		target, ok := p.Dispatcher.TargetFor(types.ParseInferenceProvider(providerName))
		if !ok {
			continue
		}
		proxyDirect(ctx, target)
		return
	}
	// No router manages this provider directly; fall back to the legacy
	// per-provider chat-completions path so existing /{provider}/v1/...
	// integrations keep working unchanged.
	g.handleChatCompletions(ctx)
}

// proxyDirect forwards ctx's request body to target.Endpoint.Path
// unmodified and relays the upstream response verbatim — no dialect
// mapping, no model mapper, no retry loop.
func proxyDirect(ctx *fasthttp.RequestCtx, target dispatch.Target) {
	body := ctx.PostBody()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Endpoint.Path, bytes.NewReader(body))
	if err != nil {
		apierr.WriteError(ctx, apierr.Internal("failed to build upstream request"))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	dispatch.StripHopByHop(req.Header)
	if target.AuthFn != nil {
		target.AuthFn(req)
	}

	client := target.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		apierr.WriteError(ctx, apierr.UpstreamServerError(err.Error()))
		return
	}

	for k, vs := range resp.Header {
		if k == "Content-Length" {
			continue
		}
		for _, v := range vs {
			ctx.Response.Header.Add(k, v)
		}
	}
	ctx.SetStatusCode(resp.StatusCode)
	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer resp.Body.Close()
		defer func() { recover() }() //nolint:errcheck // panic recovery in stream writer
		io.Copy(w, resp.Body)        //nolint:errcheck
	})
}

func (g *Gateway) runPipeline(ctx *fasthttp.RequestCtx, p *RouterPipeline, defaultModelProvider types.InferenceProvider, pathAndQuery string) {
	body := ctx.PostBody()
	var req routedRequestBody
	if err := json.Unmarshal(body, &req); err != nil || req.Model == "" {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			"field 'model' is required", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		return
	}

	model := types.ParseModelID(defaultModelProvider, req.Model)
	p.Dispatch(ctx, model, pathAndQuery, body, req.Model)
}
