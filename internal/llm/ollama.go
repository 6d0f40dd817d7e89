// internal/llm/ollama.go
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "llava"
)

// Ollama talks to a local Ollama server. Vision and tool calling depend on the
// pulled model.
type Ollama struct {
	client *api.Client
	model  string
}

func NewOllama(rawURL, model string) (*Ollama, error) {
	if rawURL == "" {
		rawURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url: %w", err)
	}
	return &Ollama{
		client: api.NewClient(base, &http.Client{Timeout: 5 * time.Minute}),
		model:  model,
	}, nil
}

func (o *Ollama) Name() string { return ProviderOllama + "/" + o.model }

func (o *Ollama) GenerateJSON(ctx context.Context, req GenerateRequest) (string, error) {
	format, err := json.Marshal(req.Schema.Map())
	if err != nil {
		return "", fmt.Errorf("failed to encode response schema: %w", err)
	}

	var messages []api.Message
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}
	user := api.Message{Role: "user", Content: req.Prompt}
	if len(req.Image) > 0 {
		user.Images = []api.ImageData{req.Image}
	}
	messages = append(messages, user)

	resp, err := o.chat(ctx, &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Format:   format,
		Options:  map[string]any{"temperature": req.Temperature},
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Text, nil
}

func (o *Ollama) Chat(ctx context.Context, req ChatRequest) (*Reply, error) {
	var messages []api.Message
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}
	for _, t := range req.Turns {
		msg, err := toOllamaMessage(t)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	chatReq := &api.ChatRequest{Model: o.model, Messages: messages}
	if len(req.Tools) > 0 {
		tools, err := toOllamaTools(req.Tools)
		if err != nil {
			return nil, err
		}
		chatReq.Tools = tools
	}
	return o.chat(ctx, chatReq)
}

func (o *Ollama) chat(ctx context.Context, req *api.ChatRequest) (*Reply, error) {
	stream := false
	req.Stream = &stream

	reply := &Reply{}
	var content strings.Builder
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		for _, tc := range resp.Message.ToolCalls {
			args, err := json.Marshal(tc.Function.Arguments)
			if err != nil {
				return fmt.Errorf("failed to encode arguments of %s: %w", tc.Function.Name, err)
			}
			reply.Calls = append(reply.Calls, ToolCall{Name: tc.Function.Name, Args: args})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat failed: %w", err)
	}
	reply.Text = content.String()
	return reply, nil
}

func toOllamaMessage(t Turn) (api.Message, error) {
	switch {
	case t.Call != nil:
		var args api.ToolCallFunctionArguments
		if len(t.Call.Args) > 0 {
			if err := json.Unmarshal(t.Call.Args, &args); err != nil {
				return api.Message{}, fmt.Errorf("failed to decode arguments of %s: %w", t.Call.Name, err)
			}
		}
		return api.Message{
			Role: "assistant",
			ToolCalls: []api.ToolCall{{
				Function: api.ToolCallFunction{Name: t.Call.Name, Arguments: args},
			}},
		}, nil
	case t.Result != nil:
		return api.Message{Role: "tool", Content: t.Result.Result}, nil
	case t.Role == RoleModel:
		return api.Message{Role: "assistant", Content: t.Text}, nil
	default:
		return api.Message{Role: "user", Content: t.Text}, nil
	}
}

// toOllamaTools goes through JSON so that the declarations use the same schema
// document as the structured output format.
func toOllamaTools(tools []Tool) (api.Tools, error) {
	decls := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters.Map()
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		decls = append(decls, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			},
		})
	}

	raw, err := json.Marshal(decls)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool declarations: %w", err)
	}
	var out api.Tools
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to build tool declarations: %w", err)
	}
	return out, nil
}
