// Package mapper translates a request body between provider dialects
// without a full unmarshal/remarshal round trip, so fields the gateway
// doesn't know about survive the translation untouched. Grounded on the
// wudi-gateway example's JSON-surgery style (tidwall/gjson + sjson)
// rather than the teacher's per-provider struct-based transforms.
package mapper

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/nulpointcorp/llm-gateway/internal/types"
)

// Mapper rewrites a request body from its client-facing dialect into the
// shape a specific target provider expects, rewrites that provider's
// response back into the client-facing dialect, and rewrites one upstream
// SSE/NDJSON streaming frame into a client-dialect chunk ready to forward.
type Mapper interface {
	MapRequest(body []byte, model string) ([]byte, error)
	MapResponse(body []byte) ([]byte, error)

	// MapStreamChunk rewrites one upstream streaming payload (the bytes
	// already stripped of any "data:"/NDJSON line framing) into a fully
	// formed "data: ...\n\n" frame ready to write to the client. A nil
	// slice with a nil error means the frame carries no client-visible
	// delta (e.g. an upstream ping or message_start event) and should be
	// dropped rather than forwarded.
	MapStreamChunk(chunk []byte) ([]byte, error)
}

// MapErrorBody normalizes a non-2xx upstream body into the OpenAI error
// envelope shape clients expect, regardless of which dialect the upstream
// speaks natively (spec.md §4.4 response shaping / error-body transform).
func MapErrorBody(body []byte, statusCode int) []byte {
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = gjson.GetBytes(body, "message").String()
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = fmt.Sprintf("upstream returned status %d", statusCode)
	}
	out, _ := sjson.SetBytes([]byte(`{}`), "error.message", msg)
	out, _ = sjson.SetBytes(out, "error.type", "upstream_error")
	out, _ = sjson.SetBytes(out, "error.code", statusCode)
	return out
}

// Registry resolves a Mapper for a given target provider. The client
// dialect is always OpenAI's chat-completions shape (spec.md §6.2); only
// the target side varies.
type Registry struct {
	mappers map[string]Mapper
}

func NewRegistry() *Registry {
	r := &Registry{mappers: make(map[string]Mapper)}
	r.mappers[types.ProviderOpenAI.String()] = identityMapper{}
	r.mappers[types.ProviderAnthropic.String()] = openAIToAnthropic{}
	r.mappers[types.ProviderGoogleGemini.String()] = openAIToGemini{}
	r.mappers[types.ProviderBedrock.String()] = bedrockMapper{}
	r.mappers[types.ProviderOllama.String()] = ollamaMapper{}
	return r
}

func (r *Registry) For(provider types.InferenceProvider) (Mapper, error) {
	// Named providers are OpenAI-compatible by construction (they are only
	// ever registered via a base URL in internal/app's provider table), so
	// they all share identityMapper rather than needing one entry apiece.
	if provider.Kind() == types.ProviderNamed {
		return identityMapper{}, nil
	}
	m, ok := r.mappers[provider.String()]
	if !ok {
		return nil, fmt.Errorf("mapper: no mapper registered for provider %q", provider.String())
	}
	return m, nil
}

// identityMapper passes OpenAI-dialect bodies through unchanged — used
// when the target provider already speaks the client dialect natively
// (OpenAI itself, and any OpenAI-compatible Named provider).
type identityMapper struct{}

func (identityMapper) MapRequest(body []byte, _ string) ([]byte, error) { return body, nil }
func (identityMapper) MapResponse(body []byte) ([]byte, error)          { return body, nil }

func (identityMapper) MapStreamChunk(chunk []byte) ([]byte, error) {
	return []byte(fmt.Sprintf("data: %s\n\n", chunk)), nil
}

// openAIToAnthropic rewrites an OpenAI chat-completions body into
// Anthropic's Messages API shape: system prompt hoisted out of the
// messages array, max_tokens required, and the streaming flag preserved.
type openAIToAnthropic struct{}

func (openAIToAnthropic) MapRequest(body []byte, model string) ([]byte, error) {
	out := []byte(`{}`)
	var err error

	out, err = sjson.SetBytes(out, "model", model)
	if err != nil {
		return nil, err
	}

	maxTokens := gjson.GetBytes(body, "max_tokens")
	if maxTokens.Exists() {
		out, err = sjson.SetBytes(out, "max_tokens", maxTokens.Int())
	} else {
		out, err = sjson.SetBytes(out, "max_tokens", 4096)
	}
	if err != nil {
		return nil, err
	}

	if stream := gjson.GetBytes(body, "stream"); stream.Exists() {
		if out, err = sjson.SetBytes(out, "stream", stream.Bool()); err != nil {
			return nil, err
		}
	}
	if temp := gjson.GetBytes(body, "temperature"); temp.Exists() {
		if out, err = sjson.SetBytes(out, "temperature", temp.Float()); err != nil {
			return nil, err
		}
	}

	var messages []map[string]any
	var system string
	for _, msg := range gjson.GetBytes(body, "messages").Array() {
		role := msg.Get("role").String()
		content := msg.Get("content").String()
		if role == "system" {
			if system != "" {
				system += "\n"
			}
			system += content
			continue
		}
		messages = append(messages, map[string]any{"role": role, "content": content})
	}

	if system != "" {
		if out, err = sjson.SetBytes(out, "system", system); err != nil {
			return nil, err
		}
	}
	if out, err = sjson.SetBytes(out, "messages", messages); err != nil {
		return nil, err
	}

	return out, nil
}

func (openAIToAnthropic) MapResponse(body []byte) ([]byte, error) {
	out := []byte(`{"object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant"},"finish_reason":"stop"}]}`)
	var err error

	if id := gjson.GetBytes(body, "id"); id.Exists() {
		out, err = sjson.SetBytes(out, "id", id.String())
		if err != nil {
			return nil, err
		}
	}
	if model := gjson.GetBytes(body, "model"); model.Exists() {
		out, err = sjson.SetBytes(out, "model", model.String())
		if err != nil {
			return nil, err
		}
	}

	var text string
	for _, block := range gjson.GetBytes(body, "content").Array() {
		if block.Get("type").String() == "text" {
			text += block.Get("text").String()
		}
	}
	out, err = sjson.SetBytes(out, "choices.0.message.content", text)
	if err != nil {
		return nil, err
	}

	if usage := gjson.GetBytes(body, "usage"); usage.Exists() {
		out, err = sjson.SetBytes(out, "usage.prompt_tokens", usage.Get("input_tokens").Int())
		if err != nil {
			return nil, err
		}
		out, err = sjson.SetBytes(out, "usage.completion_tokens", usage.Get("output_tokens").Int())
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// MapStreamChunk handles Anthropic's typed SSE events: only
// content_block_delta carries forwardable text, and message_stop marks the
// end of the stream. Every other event type (message_start, ping, ...) is
// dropped.
func (openAIToAnthropic) MapStreamChunk(chunk []byte) ([]byte, error) {
	switch gjson.GetBytes(chunk, "type").String() {
	case "content_block_delta":
		text := gjson.GetBytes(chunk, "delta.text").String()
		data, err := json.Marshal(map[string]any{
			"object":  "chat.completion.chunk",
			"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": text}}},
		})
		if err != nil {
			return nil, err
		}
		return []byte(fmt.Sprintf("data: %s\n\n", data)), nil
	case "message_stop":
		return []byte("data: [DONE]\n\n"), nil
	default:
		return nil, nil
	}
}

// openAIToGemini rewrites an OpenAI chat-completions body into the Gemini
// generateContent request shape.
type openAIToGemini struct{}

func (openAIToGemini) MapRequest(body []byte, _ string) ([]byte, error) {
	out := []byte(`{}`)
	var err error
	var contents []map[string]any

	for _, msg := range gjson.GetBytes(body, "messages").Array() {
		role := msg.Get("role").String()
		if role == "assistant" {
			role = "model"
		} else if role == "system" {
			role = "user"
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []map[string]string{{"text": msg.Get("content").String()}},
		})
	}
	if out, err = sjson.SetBytes(out, "contents", contents); err != nil {
		return nil, err
	}

	genConfig := map[string]any{}
	if temp := gjson.GetBytes(body, "temperature"); temp.Exists() {
		genConfig["temperature"] = temp.Float()
	}
	if maxTok := gjson.GetBytes(body, "max_tokens"); maxTok.Exists() {
		genConfig["maxOutputTokens"] = maxTok.Int()
	}
	if len(genConfig) > 0 {
		if out, err = sjson.SetBytes(out, "generationConfig", genConfig); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (openAIToGemini) MapResponse(body []byte) ([]byte, error) {
	out := []byte(`{"object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant"},"finish_reason":"stop"}]}`)
	var err error

	var text string
	parts := gjson.GetBytes(body, "candidates.0.content.parts").Array()
	for _, p := range parts {
		text += p.Get("text").String()
	}
	out, err = sjson.SetBytes(out, "choices.0.message.content", text)
	if err != nil {
		return nil, err
	}

	if usage := gjson.GetBytes(body, "usageMetadata"); usage.Exists() {
		out, err = sjson.SetBytes(out, "usage.prompt_tokens", usage.Get("promptTokenCount").Int())
		if err != nil {
			return nil, err
		}
		out, err = sjson.SetBytes(out, "usage.completion_tokens", usage.Get("candidatesTokenCount").Int())
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// MapStreamChunk handles Gemini's streamGenerateContent shape, which emits
// one full candidates object per frame rather than an incremental delta.
func (openAIToGemini) MapStreamChunk(chunk []byte) ([]byte, error) {
	var text string
	for _, p := range gjson.GetBytes(chunk, "candidates.0.content.parts").Array() {
		text += p.Get("text").String()
	}
	data, err := json.Marshal(map[string]any{
		"object":  "chat.completion.chunk",
		"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": text}}},
	})
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("data: %s\n\n", data)), nil
}

// bedrockMapper rewrites an OpenAI chat-completions body into the Bedrock
// Anthropic-Messages-on-Bedrock invoke shape: the same message/system
// hoisting as Anthropic's native API, plus the anthropic_version envelope
// field Bedrock requires. There is no top-level "model" or "stream" field —
// the model is selected by the invoke URL, and this mapper only targets the
// non-streaming invoke endpoint (Bedrock's streaming response uses AWS's
// binary eventstream framing, not SSE, and is out of scope here).
type bedrockMapper struct{}

func (bedrockMapper) MapRequest(body []byte, _ string) ([]byte, error) {
	out := []byte(`{"anthropic_version":"bedrock-2023-05-31"}`)
	var err error

	maxTokens := gjson.GetBytes(body, "max_tokens")
	if maxTokens.Exists() {
		out, err = sjson.SetBytes(out, "max_tokens", maxTokens.Int())
	} else {
		out, err = sjson.SetBytes(out, "max_tokens", 4096)
	}
	if err != nil {
		return nil, err
	}
	if temp := gjson.GetBytes(body, "temperature"); temp.Exists() {
		if out, err = sjson.SetBytes(out, "temperature", temp.Float()); err != nil {
			return nil, err
		}
	}

	var messages []map[string]any
	var system string
	for _, msg := range gjson.GetBytes(body, "messages").Array() {
		role := msg.Get("role").String()
		content := msg.Get("content").String()
		if role == "system" {
			if system != "" {
				system += "\n"
			}
			system += content
			continue
		}
		messages = append(messages, map[string]any{"role": role, "content": content})
	}
	if system != "" {
		if out, err = sjson.SetBytes(out, "system", system); err != nil {
			return nil, err
		}
	}
	if out, err = sjson.SetBytes(out, "messages", messages); err != nil {
		return nil, err
	}
	return out, nil
}

func (bedrockMapper) MapResponse(body []byte) ([]byte, error) {
	// Bedrock's invoke response body is the same Messages-API envelope
	// Anthropic's own API returns.
	return openAIToAnthropic{}.MapResponse(body)
}

func (bedrockMapper) MapStreamChunk(chunk []byte) ([]byte, error) {
	return openAIToAnthropic{}.MapStreamChunk(chunk)
}

// ollamaMapper rewrites an OpenAI chat-completions body into Ollama's
// /api/chat request shape. Ollama's own response envelope and streaming
// frames are NDJSON, not OpenAI's SSE — MapResponse and MapStreamChunk
// translate both back into the client dialect.
type ollamaMapper struct{}

func (ollamaMapper) MapRequest(body []byte, model string) ([]byte, error) {
	out := []byte(`{}`)
	var err error
	if out, err = sjson.SetBytes(out, "model", model); err != nil {
		return nil, err
	}

	var messages []map[string]any
	for _, msg := range gjson.GetBytes(body, "messages").Array() {
		messages = append(messages, map[string]any{
			"role":    msg.Get("role").String(),
			"content": msg.Get("content").String(),
		})
	}
	if out, err = sjson.SetBytes(out, "messages", messages); err != nil {
		return nil, err
	}
	if stream := gjson.GetBytes(body, "stream"); stream.Exists() {
		if out, err = sjson.SetBytes(out, "stream", stream.Bool()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (ollamaMapper) MapResponse(body []byte) ([]byte, error) {
	out := []byte(`{"object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant"},"finish_reason":"stop"}]}`)
	var err error
	content := gjson.GetBytes(body, "message.content").String()
	if out, err = sjson.SetBytes(out, "choices.0.message.content", content); err != nil {
		return nil, err
	}
	if model := gjson.GetBytes(body, "model"); model.Exists() {
		if out, err = sjson.SetBytes(out, "model", model.String()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (ollamaMapper) MapStreamChunk(chunk []byte) ([]byte, error) {
	content := gjson.GetBytes(chunk, "message.content").String()
	done := gjson.GetBytes(chunk, "done").Bool()
	data, err := json.Marshal(map[string]any{
		"object":  "chat.completion.chunk",
		"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": content}}},
	})
	if err != nil {
		return nil, err
	}
	if done {
		return []byte(fmt.Sprintf("data: %s\n\ndata: [DONE]\n\n", data)), nil
	}
	return []byte(fmt.Sprintf("data: %s\n\n", data)), nil
}
