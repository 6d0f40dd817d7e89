// internal/server/stdio.go
package server

import (
	"context"
	"slices"
	"sort"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"nutrivision/internal/llm"
)

func (s *Server) newMCPServer() *mcpserver.MCPServer {
	m := mcpserver.NewMCPServer(Name, Version)
	for _, t := range Tools() {
		m.AddTool(mcpTool(t), s.stdioHandler(t.Name))
	}
	return m
}

// mcpTool converts a tool declaration into its MCP form.
func mcpTool(t llm.Tool) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(t.Description)}
	if t.Parameters == nil {
		return mcp.NewTool(t.Name, opts...)
	}

	names := make([]string, 0, len(t.Parameters.Properties))
	for name := range t.Parameters.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := t.Parameters.Properties[name]
		props := []mcp.PropertyOption{mcp.Description(p.Description)}
		if slices.Contains(t.Parameters.Required, name) {
			props = append(props, mcp.Required())
		}
		switch p.Type {
		case llm.TypeNumber:
			opts = append(opts, mcp.WithNumber(name, props...))
		case llm.TypeBoolean:
			opts = append(opts, mcp.WithBoolean(name, props...))
		case llm.TypeArray:
			if p.Items != nil {
				props = append(props, mcp.Items(p.Items.Map()))
			}
			opts = append(opts, mcp.WithArray(name, props...))
		default:
			opts = append(opts, mcp.WithString(name, props...))
		}
	}
	return mcp.NewTool(t.Name, opts...)
}

func (s *Server) stdioHandler(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		text, err := s.callTool(ctx, &protocol.CallToolRequest{Name: name, Arguments: args})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(text), nil
	}
}
