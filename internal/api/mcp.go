package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/edgecoach/internal/memory"
	"github.com/kalambet/edgecoach/internal/pipeline"
	"github.com/kalambet/edgecoach/internal/profile"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Coach    Coach
	Memory   *memory.Manager
	Profiles *profile.Manager
	Service  StatsService
}

// NewMCPServer creates an MCP server with the coaching tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"edgecoach",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("edgecoach: a growth coach that remembers past conversations and the user's focus areas."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("coach_chat",
			mcp.WithDescription("Send a message to the coach and get its reply. Pass conversation_id to continue a stored conversation."),
			mcp.WithString("message", mcp.Description("The user's message"), mcp.Required()),
			mcp.WithString("conversation_id", mcp.Description("Existing conversation to continue")),
			mcp.WithString("user_id", mcp.Description("User the conversation belongs to")),
			mcp.WithBoolean("new_conversation", mcp.Description("Start and store a new conversation (default true when no conversation_id)")),
		),
		mcpCoachChat(deps),
	)

	s.AddTool(
		mcp.NewTool("list_conversations",
			mcp.WithDescription("List stored conversations, most recent first."),
			mcp.WithString("user_id", mcp.Description("Only list this user's conversations")),
		),
		mcpListConversations(deps),
	)

	s.AddTool(
		mcp.NewTool("get_conversation",
			mcp.WithDescription("Return a stored conversation with its recent messages and summary."),
			mcp.WithString("conversation_id", mcp.Description("Conversation id"), mcp.Required()),
		),
		mcpGetConversation(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_conversation",
			mcp.WithDescription("Delete a stored conversation."),
			mcp.WithString("conversation_id", mcp.Description("Conversation id"), mcp.Required()),
		),
		mcpDeleteConversation(deps),
	)

	s.AddTool(
		mcp.NewTool("get_stats",
			mcp.WithDescription("Return request, error and cache counters of the AI service."),
		),
		mcpGetStats(deps),
	)

	s.AddTool(
		mcp.NewTool("set_profile",
			mcp.WithDescription("Update a coaching profile field (focus_areas, stage, goals, tone)."),
			mcp.WithString("user_id", mcp.Description("User id (default anonymous)")),
			mcp.WithString("key", mcp.Description("Profile field key"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value to set; lists accept a JSON array or comma-separated text"), mcp.Required()),
		),
		mcpSetProfile(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"edgecoach://stats",
			"Service Stats",
			mcp.WithResourceDescription("AI service request, error and cache counters as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"edgecoach://conversations",
			"Recent Conversations",
			mcp.WithResourceDescription("Retained conversations (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceConversations(deps),
	)

	return s
}

func mcpCoachChat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil || message == "" {
			return mcpError("message is required"), nil
		}

		convID := req.GetString("conversation_id", "")
		in := pipeline.ChatInput{
			UserMessage:    message,
			ConversationID: convID,
			UserID:         req.GetString("user_id", ""),
			Persist:        convID == "" && req.GetBool("new_conversation", true),
		}

		res, err := deps.Coach.Chat(ctx, in)
		if err != nil {
			_, detail := errorDetailFor(err)
			return mcpError(fmt.Sprintf("chat failed: %s", detail.Message)), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListConversations(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		convs, err := listConversations(deps.Memory, req.GetString("user_id", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("list failed: %v", err)), nil
		}
		b, err := json.Marshal(convs)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal conversations: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetConversation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("conversation_id")
		if err != nil {
			return mcpError("conversation_id is required"), nil
		}

		conv, err := deps.Memory.Load(id)
		if errors.Is(err, memory.ErrNotFound) {
			return mcpError(fmt.Sprintf("conversation %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load conversation: %v", err)), nil
		}

		b, err := json.Marshal(conv)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal conversation: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDeleteConversation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("conversation_id")
		if err != nil {
			return mcpError("conversation_id is required"), nil
		}
		if _, err := deps.Memory.Load(id); errors.Is(err, memory.ErrNotFound) {
			return mcpError(fmt.Sprintf("conversation %s not found", id)), nil
		}
		if err := deps.Memory.Delete(id); err != nil {
			return mcpError(fmt.Sprintf("failed to delete: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Deleted conversation %s", id)), nil
	}
}

func mcpGetStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(deps.Service.Stats())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSetProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}
		userID := req.GetString("user_id", pipeline.DefaultUserID)

		if err := deps.Profiles.SetField(userID, key, value); err != nil {
			return mcpError(fmt.Sprintf("failed to set profile: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Set %s = %s", key, value)), nil
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Service.Stats())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
		}
		return jsonResource(req.Params.URI, b), nil
	}
}

func mcpResourceConversations(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		convs, err := listConversations(deps.Memory, "")
		if err != nil {
			return nil, fmt.Errorf("failed to list conversations: %w", err)
		}
		b, err := json.Marshal(convs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal conversations: %w", err)
		}
		return jsonResource(req.Params.URI, b), nil
	}
}

func jsonResource(uri string, b []byte) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
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
