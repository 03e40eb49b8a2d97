// Package types defines the wire-level identifiers shared across the
// gateway: router ids, inference providers, endpoint types, and the
// tagged model-id and balancer-key unions used by the load balancer and
// dispatcher.
package types

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// RouterId names a configured router (the {id} segment of /router/{id}/...).
type RouterId string

var routerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ParseRouterID validates s as a RouterId. Router ids are limited to
// alphanumerics, underscore and hyphen to keep them safe as metric label
// values and map keys.
func ParseRouterID(s string) (RouterId, error) {
	if !routerIDPattern.MatchString(s) {
		return "", fmt.Errorf("invalid router id %q", s)
	}
	return RouterId(s), nil
}

func (r RouterId) String() string { return string(r) }

// InferenceProvider is the closed set of providers the gateway can target,
// plus an open Named variant for OpenAI-compatible providers configured by
// base URL (e.g. "together", "groq", "moonshot").
type InferenceProvider struct {
	kind  providerKind
	named string
}

type providerKind uint8

const (
	ProviderUnknown providerKind = iota
	ProviderOpenAI
	ProviderAnthropic
	ProviderGoogleGemini
	ProviderBedrock
	ProviderOllama
	ProviderNamed
)

func (k providerKind) String() string {
	switch k {
	case ProviderOpenAI:
		return "openai"
	case ProviderAnthropic:
		return "anthropic"
	case ProviderGoogleGemini:
		return "google-gemini"
	case ProviderBedrock:
		return "bedrock"
	case ProviderOllama:
		return "ollama"
	case ProviderNamed:
		return "named"
	default:
		return "unknown"
	}
}

func OpenAI() InferenceProvider        { return InferenceProvider{kind: ProviderOpenAI} }
func Anthropic() InferenceProvider     { return InferenceProvider{kind: ProviderAnthropic} }
func GoogleGemini() InferenceProvider  { return InferenceProvider{kind: ProviderGoogleGemini} }
func Bedrock() InferenceProvider       { return InferenceProvider{kind: ProviderBedrock} }
func Ollama() InferenceProvider        { return InferenceProvider{kind: ProviderOllama} }
func Named(name string) InferenceProvider {
	return InferenceProvider{kind: ProviderNamed, named: strings.ToLower(name)}
}

// Kind reports which closed-set variant this provider is, or ProviderNamed.
func (p InferenceProvider) Kind() providerKind { return p.kind }

// NamedValue returns the underlying name when Kind() == ProviderNamed.
func (p InferenceProvider) NamedValue() string { return p.named }

func (p InferenceProvider) String() string {
	if p.kind == ProviderNamed {
		return p.named
	}
	return p.kind.String()
}

func (p InferenceProvider) Equal(other InferenceProvider) bool {
	return p.kind == other.kind && p.named == other.named
}

func (p InferenceProvider) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *InferenceProvider) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*p = ParseInferenceProvider(s)
	return nil
}

// ParseInferenceProvider maps a literal provider name onto the closed set,
// falling back to the open Named variant for anything not recognized as a
// first-class backend.
func ParseInferenceProvider(s string) InferenceProvider {
	switch strings.ToLower(s) {
	case "openai":
		return OpenAI()
	case "anthropic":
		return Anthropic()
	case "gemini", "google-gemini", "google":
		return GoogleGemini()
	case "bedrock", "aws-bedrock":
		return Bedrock()
	case "ollama":
		return Ollama()
	default:
		return Named(s)
	}
}

// EndpointType names the API surface shape of a request. Only Chat is
// implemented today; the type stays an open alias so new endpoint types
// (embeddings, completions, responses) can be added without a breaking
// change to existing callers.
type EndpointType string

const (
	EndpointChat EndpointType = "chat"
)

// ApiEndpoint is a fully-resolved (provider, endpoint-type) target plus the
// upstream path to invoke.
type ApiEndpoint struct {
	Provider     InferenceProvider
	EndpointType EndpointType
	Path         string
}

// ModelId is a tagged union over the ways a model may be named depending on
// which provider it targets. Concrete types below implement it.
type ModelId interface {
	isModelID()
	// String returns the original literal model name, unmodified, so that
	// round-tripping through ParseModelID is lossless.
	String() string
}

// ModelIdWithVersion is "name" or "name-YYYY-MM-DD"-shaped (OpenAI,
// Anthropic, Gemini naming conventions).
type ModelIdWithVersion struct {
	Name    string
	Version string // empty if unversioned
}

func (ModelIdWithVersion) isModelID() {}
func (m ModelIdWithVersion) String() string {
	if m.Version == "" {
		return m.Name
	}
	return m.Name + "-" + m.Version
}

// BedrockModelId captures Bedrock's "vendor.model-version:revision" shape.
type BedrockModelId struct {
	Vendor   string
	Model    string
	Version  string
	Revision string
	literal  string
}

func (BedrockModelId) isModelID() {}
func (m BedrockModelId) String() string { return m.literal }

// OllamaModelId captures Ollama's "name:tag" shape.
type OllamaModelId struct {
	Name string
	Tag  string // defaults to "latest" when absent in the literal
}

func (OllamaModelId) isModelID() {}
func (m OllamaModelId) String() string {
	if m.Tag == "" || m.Tag == "latest" {
		return m.Name
	}
	return m.Name + ":" + m.Tag
}

// UnknownModelId is used for Named providers and any literal that does not
// match a provider's expected shape; it round-trips the literal untouched.
type UnknownModelId struct {
	Literal string
}

func (UnknownModelId) isModelID() {}
func (m UnknownModelId) String() string { return m.Literal }

var (
	versionSuffix = regexp.MustCompile(`^(.*)-(\d{8}|\d{4}-\d{2}-\d{2})$`)
)

// ParseModelID parses literal according to the conventions of provider.
func ParseModelID(provider InferenceProvider, literal string) ModelId {
	switch provider.Kind() {
	case ProviderBedrock:
		return parseBedrockModelID(literal)
	case ProviderOllama:
		return parseOllamaModelID(literal)
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogleGemini:
		if m := versionSuffix.FindStringSubmatch(literal); m != nil {
			return ModelIdWithVersion{Name: m[1], Version: m[2]}
		}
		return ModelIdWithVersion{Name: literal}
	default:
		return UnknownModelId{Literal: literal}
	}
}

func parseBedrockModelID(literal string) ModelId {
	// vendor.model-version:revision, e.g. anthropic.claude-3-5-sonnet-20241022-v2:0
	vendor, rest, ok := strings.Cut(literal, ".")
	if !ok {
		return UnknownModelId{Literal: literal}
	}
	model, revision, _ := strings.Cut(rest, ":")
	return BedrockModelId{
		Vendor:   vendor,
		Model:    model,
		Revision: revision,
		literal:  literal,
	}
}

func parseOllamaModelID(literal string) ModelId {
	name, tag, found := strings.Cut(literal, ":")
	if !found {
		return OllamaModelId{Name: name, Tag: "latest"}
	}
	return OllamaModelId{Name: name, Tag: tag}
}

// BalancerKey is the tagged union of discovery-stream membership keys. The
// concrete variant in use is determined by the router's load-balance
// strategy (see internal/balance).
type BalancerKey interface {
	Key() string
}

type ProviderKey struct {
	Provider     InferenceProvider
	EndpointType EndpointType
}

func (k ProviderKey) Key() string {
	return "provider:" + k.Provider.String() + ":" + string(k.EndpointType)
}

type WeightedProviderKey struct {
	Provider     InferenceProvider
	EndpointType EndpointType
	Weight       string // decimal.Decimal serialized — see internal/balance
}

func (k WeightedProviderKey) Key() string {
	return "wprovider:" + k.Provider.String() + ":" + string(k.EndpointType)
}

type ModelKey struct {
	Model        ModelId
	EndpointType EndpointType
}

func (k ModelKey) Key() string {
	return "model:" + k.Model.String() + ":" + string(k.EndpointType)
}

type WeightedModelKey struct {
	Model        ModelId
	EndpointType EndpointType
	Weight       string
}

func (k WeightedModelKey) Key() string {
	return "wmodel:" + k.Model.String() + ":" + string(k.EndpointType)
}
