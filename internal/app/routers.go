package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/nulpointcorp/llm-gateway/internal/auth"
	"github.com/nulpointcorp/llm-gateway/internal/balance"
	"github.com/nulpointcorp/llm-gateway/internal/config"
	"github.com/nulpointcorp/llm-gateway/internal/controlplane"
	"github.com/nulpointcorp/llm-gateway/internal/dispatch"
	"github.com/nulpointcorp/llm-gateway/internal/health"
	"github.com/nulpointcorp/llm-gateway/internal/mapper"
	"github.com/nulpointcorp/llm-gateway/internal/providers"
	"github.com/nulpointcorp/llm-gateway/internal/providers/bedrock"
	"github.com/nulpointcorp/llm-gateway/internal/quarantine"
	"github.com/nulpointcorp/llm-gateway/internal/types"
)

// RouterPipeline bundles one named router's balancer, dispatcher, and
// quarantine monitors (spec.md §4.2). The named-router pipeline
// (rate-limit → cache → error-handler → buffer → request-context →
// balancer) composes these at request time in internal/proxy; this struct
// is the per-router state that composition closes over.
type RouterPipeline struct {
	ID         types.RouterId
	Config     config.RouterConfig
	Balancer   balance.Balancer
	Dispatcher *dispatch.Dispatcher
	Health     *health.Monitor
	RateLimit  *quarantine.Monitor
}

// initRouters builds one RouterPipeline per configured router (or a single
// implicit "default" router when none are configured), wiring each
// balancer with the process's live provider set and starting its health
// monitor. Also starts the auth verifier and, if configured, the
// control-plane client.
func (a *App) initRouters(ctx context.Context) error {
	a.authVerifier = auth.NewVerifier(auth.ParseMode(a.cfg.AuthMode), a.keySet, []byte(a.cfg.ControlPlaneAPIKey))

	routerConfigs := a.cfg.Routers
	if len(routerConfigs) == 0 {
		routerConfigs = config.Routers{"default": config.RouterConfig{LoadBalance: "peak-ewma-p2c"}}
	}

	a.routers = make(map[types.RouterId]*RouterPipeline, len(routerConfigs))

	for idLiteral, rc := range routerConfigs {
		id, err := types.ParseRouterID(idLiteral)
		if err != nil {
			return err
		}

		bal := newBalancerForStrategy(rc.LoadBalance)
		targets := a.insertTargets(bal, rc)

		healthMon := health.New(health.Config{}, a.log, bal.Insert, bal.Remove)
		rateLimMon := quarantine.New(a.log, bal.Insert, bal.Remove)

		pipeline := &RouterPipeline{
			ID:        id,
			Config:    rc,
			Balancer:  bal,
			Health:    healthMon,
			RateLimit: rateLimMon,
			Dispatcher: &dispatch.Dispatcher{
				Balancer:    bal,
				Mappers:     mapper.NewRegistry(),
				Targets:     targets,
				Health:      healthMon,
				RateLim:     rateLimMon,
				Retry:       rc.Retry,
				ModelMapper: &mapper.ModelResolver{RouterMappings: rc.ModelMappings, GlobalMappings: a.cfg.ModelMappings},
			},
		}
		a.routers[id] = pipeline
		go healthMon.Run(ctx)
	}

	if a.cfg.ControlPlaneURL != "" {
		a.cpClient = &controlplane.Client{
			URL:    a.cfg.ControlPlaneURL,
			APIKey: a.cfg.ControlPlaneAPIKey,
			Keys:   a.keySet,
			Logger: a.log,
		}
		go func() {
			if err := a.cpClient.Run(ctx); err != nil && ctx.Err() == nil {
				a.log.Warn("control plane client stopped", slog.String("error", err.Error()))
			}
		}()
	}

	return nil
}

// insertTargets populates bal and the dispatcher's target table according
// to rc.LoadBalance. Provider-keyed strategies (peak-ewma-p2c,
// weighted-provider) register one service per configured provider;
// model-keyed strategies (weighted-model, model-latency) register one
// service per "provider/model" entry in rc.Weights, each carrying its own
// parsed ModelId so the balancer can group or weight by model rather than
// by provider alone (spec.md §4.3: "one underlying dispatcher per
// (provider, model)").
func (a *App) insertTargets(bal balance.Balancer, rc config.RouterConfig) map[string]dispatch.Target {
	targets := make(map[string]dispatch.Target)

	switch rc.LoadBalance {
	case "weighted-provider":
		for name, weightRaw := range rc.Weights {
			if _, ok := a.provs[name]; !ok {
				continue
			}
			endpoint := a.providerEndpoint(name)
			weight, _ := strconv.ParseFloat(weightRaw, 64)
			key := types.WeightedProviderKey{Provider: endpoint.Provider, EndpointType: types.EndpointChat, Weight: weightRaw}.Key()
			bal.Insert(key, balance.Service{Endpoint: endpoint, Weight: weight})
			targets[key] = a.targetFor(name, key, endpoint)
		}
	case "weighted-model":
		for literal, weightRaw := range rc.Weights {
			name, modelLiteral, ok := strings.Cut(literal, "/")
			if !ok {
				continue
			}
			if _, ok := a.provs[name]; !ok {
				continue
			}
			endpoint := a.providerEndpoint(name)
			model := types.ParseModelID(endpoint.Provider, modelLiteral)
			weight, _ := strconv.ParseFloat(weightRaw, 64)
			key := types.WeightedModelKey{Model: model, EndpointType: types.EndpointChat, Weight: weightRaw}.Key()
			bal.Insert(key, balance.Service{Endpoint: endpoint, Model: model, Weight: weight})
			targets[key] = a.targetFor(name, key, endpoint)
		}
	case "model-latency":
		if len(rc.Weights) == 0 {
			// No explicit model list configured: fall back to a flat pool
			// keyed by provider only, equivalent to peak-ewma-p2c.
			for name := range a.provs {
				endpoint := a.providerEndpoint(name)
				key := types.ProviderKey{Provider: endpoint.Provider, EndpointType: types.EndpointChat}.Key()
				bal.Insert(key, balance.Service{Endpoint: endpoint})
				targets[key] = a.targetFor(name, key, endpoint)
			}
			break
		}
		for literal := range rc.Weights {
			name, modelLiteral, ok := strings.Cut(literal, "/")
			if !ok {
				continue
			}
			if _, ok := a.provs[name]; !ok {
				continue
			}
			endpoint := a.providerEndpoint(name)
			model := types.ParseModelID(endpoint.Provider, modelLiteral)
			key := types.ModelKey{Model: model, EndpointType: types.EndpointChat}.Key()
			bal.Insert(key, balance.Service{Endpoint: endpoint, Model: model})
			targets[key] = a.targetFor(name, key, endpoint)
		}
	default:
		for name := range a.provs {
			endpoint := a.providerEndpoint(name)
			key := types.ProviderKey{Provider: endpoint.Provider, EndpointType: types.EndpointChat}.Key()
			bal.Insert(key, balance.Service{Endpoint: endpoint})
			targets[key] = a.targetFor(name, key, endpoint)
		}
	}
	return targets
}

func (a *App) providerEndpoint(name string) types.ApiEndpoint {
	return types.ApiEndpoint{
		Provider:     types.ParseInferenceProvider(name),
		EndpointType: types.EndpointChat,
		Path:         providerChatURL(name, a.cfg),
	}
}

func (a *App) targetFor(name, key string, endpoint types.ApiEndpoint) dispatch.Target {
	t := dispatch.Target{
		Key:      key,
		Endpoint: endpoint,
		Client:   http.DefaultClient,
		AuthFn:   authFnFor(name, a.cfg),
	}
	if name == "bedrock" {
		t.Signer = bedrock.NewSigner(
			a.cfg.Bedrock.AccessKey, a.cfg.Bedrock.SecretKey,
			a.cfg.Bedrock.SessionToken, a.cfg.Bedrock.Region,
		)
	}
	return t
}

func newBalancerForStrategy(strategy string) balance.Balancer {
	switch strategy {
	case "weighted-provider":
		return balance.NewWeightedProvider()
	case "weighted-model":
		return balance.NewWeightedModel()
	case "model-latency":
		return balance.NewModelLatency()
	default:
		return balance.NewPeakEWMAP2C()
	}
}

// authFnFor returns a request decorator that attaches the API key
// configured for the named provider as a bearer token. Providers with no
// key in providerAPIKey (Bedrock among them) get a no-op AuthFn; Bedrock
// requests are SigV4-signed through the dispatch.Target.Signer that
// targetFor sets.
func authFnFor(name string, cfg *config.Config) func(req *http.Request) {
	key := providerAPIKey(name, cfg)
	if key == "" {
		return func(req *http.Request) {}
	}
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+key)
	}
}

// providerChatURL returns the chat-completions-shaped endpoint a mapped
// request for this provider should be POSTed to, honoring any configured
// BaseURL override the same way buildProviders (internal/app/app.go) does.
func providerChatURL(name string, cfg *config.Config) string {
	switch name {
	case "openai":
		return withDefault(cfg.OpenAI.BaseURL, "https://api.openai.com/v1") + "/chat/completions"
	case "anthropic":
		return withDefault(cfg.Anthropic.BaseURL, "https://api.anthropic.com/v1") + "/messages"
	case "gemini":
		return withDefault(cfg.Gemini.BaseURL, "https://generativelanguage.googleapis.com/v1beta") + "/models/gemini-pro:generateContent"
	case "mistral":
		return withDefault(cfg.Mistral.BaseURL, "https://api.mistral.ai/v1") + "/chat/completions"
	case "azure":
		return cfg.Azure.Endpoint + "/openai/deployments/" + name + "/chat/completions?api-version=" + cfg.Azure.APIVersion
	case "bedrock":
		base := cfg.Bedrock.EndpointURL
		if base == "" {
			base = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", cfg.Bedrock.Region)
		}
		return strings.TrimRight(base, "/") + "/model/{model}/invoke"
	default:
		for _, e := range openAICompatProviders(cfg) {
			if e.name == name {
				return e.baseURL + "/chat/completions"
			}
		}
		return ""
	}
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// providerAPIKey looks up the bearer credential for a provider name as
// resolved by buildProviders (internal/app/app.go), so the dispatch path
// forwards the same key the legacy direct path already uses.
func providerAPIKey(name string, cfg *config.Config) string {
	switch name {
	case "openai":
		return cfg.OpenAI.APIKey
	case "anthropic":
		return cfg.Anthropic.APIKey
	case "gemini":
		return cfg.Gemini.APIKey
	case "mistral":
		return cfg.Mistral.APIKey
	case "xai":
		return cfg.XAI.APIKey
	case "deepseek":
		return cfg.DeepSeek.APIKey
	case "groq":
		return cfg.Groq.APIKey
	case "together":
		return cfg.Together.APIKey
	case "perplexity":
		return cfg.Perplexity.APIKey
	case "cerebras":
		return cfg.Cerebras.APIKey
	case "moonshot":
		return cfg.Moonshot.APIKey
	case "minimax":
		return cfg.MiniMax.APIKey
	case "qwen":
		return cfg.Qwen.APIKey
	case "nebius":
		return cfg.Nebius.APIKey
	case "novita":
		return cfg.NovitaAI.APIKey
	case "bytedance":
		return cfg.ByteDance.APIKey
	case "zai":
		return cfg.ZAI.APIKey
	case "canopywave":
		return cfg.CanopyWave.APIKey
	case "inference":
		return cfg.Inference.APIKey
	case "nanogpt":
		return cfg.NanoGPT.APIKey
	case "azure":
		return cfg.Azure.APIKey
	default:
		return ""
	}
}
