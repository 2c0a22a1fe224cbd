package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/prodscribe/internal/describe"
	"github.com/kalambet/prodscribe/internal/payload"
	"github.com/kalambet/prodscribe/internal/storage"
)

const recentGenerations = 10

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Describer Describer
	Fixtures  payload.Input
	Variant   string
	Store     GenerationStore // optional; nil hides the history tools
	Version   string
}

// NewMCPServer creates an MCP server exposing product description
// generation and the generation history.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Variant == "" {
		deps.Variant = describe.VariantAssistant
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := server.NewMCPServer(
		"prodscribe",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("prodscribe writes personalized Hebrew product descriptions from product, user and user-provided JSON blocks."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("describe_product",
			mcp.WithDescription("Generate a personalized product description. Omitted blocks fall back to the configured sample payloads."),
			mcp.WithString("product_info", mcp.Description("JSON object with product details")),
			mcp.WithString("user_personal_information", mcp.Description("JSON object with the user's personal profile")),
			mcp.WithString("user_provided_information", mcp.Description("JSON object with what the user said they need")),
			mcp.WithString("variant", mcp.Description("assistant or completion (default: server variant)"), mcp.Enum(describe.VariantAssistant, describe.VariantCompletion)),
		),
		mcpDescribeProduct(deps),
	)

	if deps.Store != nil {
		s.AddTool(
			mcp.NewTool("get_generation",
				mcp.WithDescription("Fetch a stored generation by id, including its prompt and reply."),
				mcp.WithString("id", mcp.Description("Generation id"), mcp.Required()),
			),
			mcpGetGeneration(deps),
		)

		s.AddResource(
			mcp.NewResource(
				"generations://recent",
				"Recent Generations",
				mcp.WithResourceDescription(fmt.Sprintf("Last %d generations (summaries only)", recentGenerations)),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceRecent(deps),
		)
	}

	return s
}

func mcpDescribeProduct(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var over payload.Input
		blocks := []struct {
			name string
			dst  *map[string]any
		}{
			{"product_info", &over.ProductInfo},
			{"user_personal_information", &over.UserPersonalInformation},
			{"user_provided_information", &over.UserProvidedInformation},
		}
		for _, b := range blocks {
			raw := req.GetString(b.name, "")
			if raw == "" {
				continue
			}
			if err := json.Unmarshal([]byte(raw), b.dst); err != nil {
				return mcpError(fmt.Sprintf("%s must be a JSON object: %v", b.name, err)), nil
			}
		}

		variant := req.GetString("variant", deps.Variant)
		res, err := deps.Describer.Describe(ctx, variant, deps.Fixtures.Merge(over))
		if err != nil {
			var se *describe.StageError
			if errors.As(err, &se) {
				return mcpError(fmt.Sprintf("generation failed at %s (HTTP %d): %v", se.Stage, se.Status, se)), nil
			}
			return mcpError(fmt.Sprintf("generation failed: %v", err)), nil
		}

		return mcpText(res.Reply), nil
	}
}

func mcpGetGeneration(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		g, err := deps.Store.GetGeneration(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("generation %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get generation: %v", err)), nil
		}

		b, err := json.Marshal(g)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal generation: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		gens, err := deps.Store.ListGenerations(recentGenerations, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list generations: %w", err)
		}

		type generationSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Variant   string `json:"variant"`
			Status    string `json:"status"`
			Reply     string `json:"reply,omitempty"`
		}

		summaries := make([]generationSummary, len(gens))
		for i, g := range gens {
			reply := g.Reply
			if utf8.RuneCountInString(reply) > 200 {
				reply = string([]rune(reply)[:200]) + "..."
			}
			summaries[i] = generationSummary{
				ID:        g.ID,
				CreatedAt: g.CreatedAt.Format(time.RFC3339),
				Variant:   g.Variant,
				Status:    g.Status,
				Reply:     reply,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal generations: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
