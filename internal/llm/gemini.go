// internal/llm/gemini.go
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey, model, baseURL string) (*Gemini, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Name() string { return ProviderGemini + "/" + g.model }

func (g *Gemini) GenerateJSON(ctx context.Context, req GenerateRequest) (string, error) {
	var parts []*genai.Part
	if len(req.Image) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Image, req.ImageMIME))
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   toGenaiSchema(req.Schema),
		Temperature:      genai.Ptr[float32](req.Temperature),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (g *Gemini) Chat(ctx context.Context, req ChatRequest) (*Reply, error) {
	contents, err := toGenaiContents(req.Turns)
	if err != nil {
		return nil, err
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toGenaiSchema(t.Parameters),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini chat failed: %w", err)
	}

	reply := &Reply{Text: resp.Text()}
	for _, fc := range resp.FunctionCalls() {
		args, err := json.Marshal(fc.Args)
		if err != nil {
			return nil, fmt.Errorf("failed to encode arguments of %s: %w", fc.Name, err)
		}
		reply.Calls = append(reply.Calls, ToolCall{Name: fc.Name, Args: args})
	}
	return reply, nil
}

func toGenaiContents(turns []Turn) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := string(genai.RoleUser)
		if t.Role == RoleModel {
			role = string(genai.RoleModel)
		}

		switch {
		case t.Call != nil:
			var args map[string]any
			if len(t.Call.Args) > 0 {
				if err := json.Unmarshal(t.Call.Args, &args); err != nil {
					return nil, fmt.Errorf("failed to decode arguments of %s: %w", t.Call.Name, err)
				}
			}
			contents = append(contents, &genai.Content{
				Role:  string(genai.RoleModel),
				Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{Name: t.Call.Name, Args: args}}},
			})
		case t.Result != nil:
			contents = append(contents, &genai.Content{
				Role: string(genai.RoleUser),
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					Name:     t.Result.Name,
					Response: map[string]any{"result": t.Result.Result},
				}}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  role,
				Parts: []*genai.Part{{Text: t.Text}},
			})
		}
	}
	return contents, nil
}

var genaiTypes = map[Type]genai.Type{
	TypeObject:  genai.TypeObject,
	TypeArray:   genai.TypeArray,
	TypeString:  genai.TypeString,
	TypeNumber:  genai.TypeNumber,
	TypeBoolean: genai.TypeBoolean,
}

func toGenaiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genaiTypes[s.Type],
		Description: s.Description,
		Required:    s.Required,
		Items:       toGenaiSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = toGenaiSchema(p)
		}
	}
	return out
}
