package mapper

import (
	"fmt"

	"github.com/nulpointcorp/llm-gateway/internal/types"
)

// ModelResolver implements the four-step model-mapping precedence chain
// (spec.md §4.4 Model mapper): a router-pinned model from a weighted-model
// or model-latency balancer wins outright; otherwise a provider that
// speaks the client's dialect natively keeps the literal unchanged;
// otherwise the router's own model_mappings are tried before the
// process-wide default mapping; if none resolve, the request fails rather
// than silently guessing a model name.
type ModelResolver struct {
	RouterMappings map[string]map[string]string
	GlobalMappings map[string]map[string]string
}

// ErrNoModelMapping is returned when no step in the precedence chain can
// resolve a model name for the target provider.
type ErrNoModelMapping struct {
	Source string
	Target string
}

func (e *ErrNoModelMapping) Error() string {
	return fmt.Sprintf("mapper: no model mapping for %q on provider %q", e.Source, e.Target)
}

// Resolve runs the precedence chain. pinnedModel is non-empty only when the
// balancer strategy itself pins a model (WeightedModel/ModelLatency); a nil
// receiver is valid and behaves as an empty mapping table.
func (r *ModelResolver) Resolve(sourceModel string, target types.InferenceProvider, pinnedModel string) (string, error) {
	if pinnedModel != "" {
		return pinnedModel, nil
	}
	if speaksNatively(target) {
		return sourceModel, nil
	}
	if r != nil {
		if alt := lookupModel(r.RouterMappings, sourceModel, target); alt != "" {
			return alt, nil
		}
		if alt := lookupModel(r.GlobalMappings, sourceModel, target); alt != "" {
			return alt, nil
		}
	}
	return "", &ErrNoModelMapping{Source: sourceModel, Target: target.String()}
}

// speaksNatively reports whether target already understands the client's
// OpenAI-style model literals unmodified — true for OpenAI itself and for
// any OpenAI-compatible Named provider configured by base URL.
func speaksNatively(target types.InferenceProvider) bool {
	return target.Kind() == types.ProviderOpenAI || target.Kind() == types.ProviderNamed
}

func lookupModel(mappings map[string]map[string]string, source string, target types.InferenceProvider) string {
	if mappings == nil {
		return ""
	}
	forSource, ok := mappings[source]
	if !ok {
		return ""
	}
	return forSource[target.String()]
}
