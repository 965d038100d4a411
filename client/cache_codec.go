package client

import (
	"github.com/luminetic/ensemble/backend"
	"github.com/luminetic/ensemble/types"
)

// responseToValue flattens a response into the tagged-union form the cache
// stores. Usage is kept so cache hits report the original token counts.
func responseToValue(resp *backend.Response) types.Value {
	return types.Object(types.Map{
		"text":              types.String(resp.Text),
		"confidence":        types.Number(resp.Confidence),
		"model":             types.String(resp.Model),
		"prompt_tokens":     types.Int(resp.Usage.PromptTokens),
		"completion_tokens": types.Int(resp.Usage.CompletionTokens),
	})
}

// responseFromValue rebuilds a response from a cached value. A false return
// means the entry has an unexpected shape and should be treated as a miss.
func responseFromValue(v types.Value) (*backend.Response, bool) {
	m, ok := v.AsMap()
	if !ok {
		return nil, false
	}
	text, ok := m["text"].AsString()
	if !ok {
		return nil, false
	}

	resp := &backend.Response{Text: text}
	if conf, ok := m["confidence"].AsNumber(); ok {
		resp.Confidence = conf
	}
	if model, ok := m["model"].AsString(); ok {
		resp.Model = model
	}
	if n, ok := m["prompt_tokens"].AsInt(); ok {
		resp.Usage.PromptTokens = n
	}
	if n, ok := m["completion_tokens"].AsInt(); ok {
		resp.Usage.CompletionTokens = n
	}
	return resp, true
}
