// Package classify demultiplexes an inbound request path into one of the
// gateway's three route shapes: a named router, the unified /ai pipeline,
// or a direct per-provider proxy.
package classify

import (
	"regexp"
	"strings"

	"github.com/nulpointcorp/llm-gateway/internal/types"
)

// Kind identifies which pipeline should handle a classified request.
type Kind int

const (
	KindUnknown Kind = iota
	// KindRouter — /router/{id}/... : run the named router pipeline for
	// RouterId {id}.
	KindRouter
	// KindUnified — /ai/... : run the unified API pipeline (model-based
	// routing across all configured providers).
	KindUnified
	// KindDirect — /{provider}/... : proxy straight through to {provider}
	// with no balancing or caching.
	KindDirect
)

// DestinationHeader lets a client force a specific provider on a
// /router/{id}/... or /ai/... request, bypassing that pipeline's own
// provider/model resolution. It only applies when the path's first
// segment is already "router" or "ai" — it has no effect on a direct
// (/{provider}/...) path, which already names its provider in the path.
const DestinationHeader = "helicone-router-destination"

var pathPattern = regexp.MustCompile(`^/(?:(router)/([^/]+)|(ai)|([^/]+))(/.*)?$`)

// Result is the outcome of classifying a request path.
type Result struct {
	Kind     Kind
	RouterID types.RouterId
	Provider string // set for KindDirect, including a router or ai path turned direct by DestinationHeader
	Rest     string // remainder of the path after the matched prefix
}

// Classify parses path against the three recognized route shapes. When the
// matched shape is router or ai and destinationHeader is non-empty, the
// header forces Provider (and the Kind becomes KindDirect — per spec.md
// §4.1 a forced destination skips the router's own provider resolution
// entirely) instead of letting the pipeline pick a provider itself.
func Classify(path, destinationHeader string) Result {
	m := pathPattern.FindStringSubmatch(path)
	if m == nil {
		return Result{Kind: KindUnknown}
	}

	rest := m[5]
	switch {
	case m[1] == "router":
		id, err := types.ParseRouterID(m[2])
		if err != nil {
			return Result{Kind: KindUnknown}
		}
		if destinationHeader != "" {
			return Result{Kind: KindDirect, Provider: strings.ToLower(destinationHeader), Rest: rest}
		}
		return Result{Kind: KindRouter, RouterID: id, Rest: rest}
	case m[3] == "ai":
		if destinationHeader != "" {
			return Result{Kind: KindDirect, Provider: strings.ToLower(destinationHeader), Rest: rest}
		}
		return Result{Kind: KindUnified, Rest: rest}
	case m[4] != "":
		return Result{Kind: KindDirect, Provider: strings.ToLower(m[4]), Rest: rest}
	default:
		return Result{Kind: KindUnknown}
	}
}
