// internal/llm/llm.go
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Provider names accepted by New.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderScripted = "scripted"
)

var (
	ErrNotConfigured = errors.New("model provider is not configured")
	ErrEmptyResponse = errors.New("model returned an empty response")
)

type Type string

const (
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
)

// Schema is a provider-neutral subset of JSON Schema. Each adapter converts it
// to its own wire type.
type Schema struct {
	Type        Type
	Description string
	Properties  map[string]*Schema
	Items       *Schema
	Required    []string
}

// Map renders s as a plain JSON Schema document.
func (s *Schema) Map() map[string]any {
	if s == nil {
		return nil
	}
	m := map[string]any{"type": string(s.Type)}
	if s.Description != "" {
		m["description"] = s.Description
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = p.Map()
		}
		m["properties"] = props
	}
	if s.Items != nil {
		m["items"] = s.Items.Map()
	}
	if len(s.Required) > 0 {
		m["required"] = s.Required
	}
	return m
}

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ToolCall is a model request to run a local function. Args is the raw JSON
// object the model produced.
type ToolCall struct {
	Name string
	Args json.RawMessage
}

type ToolResult struct {
	Name   string
	Result string
}

// Turn is one entry of a chat transcript. Exactly one of Text, Call or Result
// is set.
type Turn struct {
	Role   Role
	Text   string
	Call   *ToolCall
	Result *ToolResult
}

func TextTurn(role Role, text string) Turn { return Turn{Role: role, Text: text} }

type Tool struct {
	Name        string
	Description string
	Parameters  *Schema
}

// GenerateRequest asks for one schema-constrained JSON document, optionally
// grounded on an image.
type GenerateRequest struct {
	System      string
	Prompt      string
	Image       []byte
	ImageMIME   string
	Schema      *Schema
	Temperature float32
}

type ChatRequest struct {
	System string
	Turns  []Turn
	Tools  []Tool
}

type Reply struct {
	Text  string
	Calls []ToolCall
}

// Model is a generative backend.
type Model interface {
	Name() string
	GenerateJSON(ctx context.Context, req GenerateRequest) (string, error)
	Chat(ctx context.Context, req ChatRequest) (*Reply, error)
}

type Config struct {
	Provider  string
	Model     string
	APIKey    string
	OllamaURL string
	BaseURL   string
}

// New builds the Model named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderGemini:
		return NewGemini(ctx, cfg.APIKey, cfg.Model, cfg.BaseURL)
	case ProviderOllama:
		return NewOllama(cfg.OllamaURL, cfg.Model)
	case ProviderScripted:
		return NewScripted(), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}
