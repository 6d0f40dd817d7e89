// internal/server/tools.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/gin-gonic/gin"

	"nutrivision/internal/agent"
	"nutrivision/internal/llm"
)

const ToolGetHistory = "get_history"

type GetHistoryParams struct {
	Limit int  `json:"limit,omitempty" description:"Maximum number of entries to return, newest first"`
	Today bool `json:"today,omitempty" description:"Only return entries logged today"`
}

// HistoryEntry is the image-free view of a history item returned to tool callers.
type HistoryEntry struct {
	ID        string   `json:"id"`
	Timestamp int64    `json:"timestamp"`
	Foods     []string `json:"foods"`
	Calories  float64  `json:"calories"`
	Manual    bool     `json:"manual"`
}

var historyTool = llm.Tool{
	Name:        ToolGetHistory,
	Description: "List logged meals, newest first.",
	Parameters: &llm.Schema{
		Type: llm.TypeObject,
		Properties: map[string]*llm.Schema{
			"limit": {Type: llm.TypeNumber, Description: "Maximum number of entries to return."},
			"today": {Type: llm.TypeBoolean, Description: "Only return entries logged today."},
		},
	},
}

// Tools lists every tool served over /mcp and stdio.
func Tools() []llm.Tool {
	out := make([]llm.Tool, 0, len(agent.Declarations)+1)
	out = append(out, agent.Declarations...)
	return append(out, historyTool)
}

type toolHandler func(ctx context.Context, req *protocol.CallToolRequest) (interface{}, error)

// extractParams safely extracts parameters from the request arguments
func extractParams(req *protocol.CallToolRequest, target interface{}) error {
	jsonBytes, err := json.Marshal(req.Arguments)
	if err != nil {
		return fmt.Errorf("failed to marshal arguments: %w", err)
	}

	if err := json.Unmarshal(jsonBytes, target); err != nil {
		return fmt.Errorf("%w: %v", agent.ErrInvalidArgs, err)
	}

	return nil
}

func (s *Server) registerTools() {
	s.tools = map[string]toolHandler{
		agent.ToolUpdateProfile: s.handleAction(agent.ToolUpdateProfile),
		agent.ToolLogManualMeal: s.handleAction(agent.ToolLogManualMeal),
		agent.ToolSetReminder:   s.handleAction(agent.ToolSetReminder),
		ToolGetHistory:          s.handleGetHistoryTool,
	}
	for name := range s.tools {
		s.logger.Printf("Registered tool: %s", name)
	}
}

// handleAction runs one of the chat agent's tools directly against the tracker.
func (s *Server) handleAction(name string) toolHandler {
	return func(ctx context.Context, req *protocol.CallToolRequest) (interface{}, error) {
		raw, err := json.Marshal(req.Arguments)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal arguments: %w", err)
		}
		call, err := agent.Decode(name, raw)
		if err != nil {
			return nil, err
		}
		return agent.Dispatch(ctx, s.deps.Tracker, call)
	}
}

func (s *Server) handleGetHistoryTool(ctx context.Context, req *protocol.CallToolRequest) (interface{}, error) {
	var params GetHistoryParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if params.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", agent.ErrInvalidArgs)
	}

	items := s.deps.Tracker.History()
	if params.Today {
		items = s.deps.Tracker.Today().Meals
	}
	if params.Limit > 0 && params.Limit < len(items) {
		items = items[:params.Limit]
	}

	entries := make([]HistoryEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, HistoryEntry{
			ID:        item.ID,
			Timestamp: item.Timestamp,
			Foods:     item.Result.FoodNames(),
			Calories:  item.Result.TotalCalories,
			Manual:    item.IsManual(),
		})
	}
	return entries, nil
}

// callTool routes a request to its handler and renders the result as text.
func (s *Server) callTool(ctx context.Context, req *protocol.CallToolRequest) (string, error) {
	handler, ok := s.tools[req.Name]
	if !ok {
		return "", fmt.Errorf("%w: %s", agent.ErrUnknownTool, req.Name)
	}
	data, err := handler(ctx, req)
	if err != nil {
		return "", err
	}
	return toolText(data)
}

func toolText(data interface{}) (string, error) {
	if text, ok := data.(string); ok {
		return text, nil
	}
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal response: %w", err)
	}
	return string(jsonBytes), nil
}

// handleMCP serves tool calls posted as MCP CallToolRequest documents.
func (s *Server) handleMCP(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if c.Request.Method == http.MethodOptions {
		c.Status(http.StatusNoContent)
		return
	}

	var request protocol.CallToolRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid JSON: %v", err)})
		return
	}

	text, err := s.callTool(c.Request.Context(), &request)
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, agent.ErrUnknownTool) {
			err = fmt.Errorf("Unknown tool: %s", request.Name)
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, createTextResponse(text))
}

func createTextResponse(text string) *protocol.CallToolResult {
	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent{
				Type: "text",
				Text: text,
			},
		},
	}
}
