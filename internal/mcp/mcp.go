// Package mcp implements the Model Context Protocol server for gazou.
//
// The MCP server exposes the same capabilities as the HTTP API through
// MCP tools and resources: generating images, fetching stored artifacts or
// their thumbnails, deleting artifacts, and describing the available tiers.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/gazou/internal/artifact"
	"github.com/ashita-ai/gazou/internal/model"
	"github.com/ashita-ai/gazou/internal/service/generation"
	"github.com/ashita-ai/gazou/internal/service/selection"
)

// Artifacts is the read and delete side of the artifact store.
type Artifacts interface {
	Lookup(ctx context.Context, id uuid.UUID) (model.Artifact, error)
	Get(ctx context.Context, id uuid.UUID) (artifact.Blob, error)
	GetThumbnail(ctx context.Context, id uuid.UUID) (artifact.Blob, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Publisher fans artifact events out to stream subscribers.
type Publisher interface {
	Publish(eventType string, payload any)
}

// Deps holds everything the MCP server needs. Events is optional.
type Deps struct {
	Generation *generation.Service
	Artifacts  Artifacts
	Catalogue  selection.Catalogue
	Events     Publisher
	Logger     *slog.Logger
	Version    string

	// MaxInputImageBytes caps each reference image read from disk.
	MaxInputImageBytes int64
	// RecentWindow is how long generated artifact ids stay listed in the
	// session resource. Zero uses one hour.
	RecentWindow time.Duration
}

// Server wraps the MCP server with gazou's service layer.
type Server struct {
	mcpServer  *mcpserver.MCPServer
	gen        *generation.Service
	artifacts  Artifacts
	catalogue  selection.Catalogue
	events     Publisher
	logger     *slog.Logger
	maxInput   int64
	notify     func(ctx context.Context, method string, params map[string]any) error
	rootsCache *rootsCache
	recent     *recentTracker
}

// New creates and configures a new MCP server with all tools, resources
// and prompts registered.
func New(d Deps) *Server {
	window := d.RecentWindow
	if window <= 0 {
		window = time.Hour
	}
	s := &Server{
		gen:        d.Generation,
		artifacts:  d.Artifacts,
		catalogue:  d.Catalogue,
		events:     d.Events,
		logger:     d.Logger,
		maxInput:   d.MaxInputImageBytes,
		notify:     notifyClient,
		rootsCache: newRootsCache(),
		recent:     newRecentTracker(window),
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"gazou",
		d.Version,
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithInstructions(instructions),
	)

	s.registerTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

const instructions = `gazou generates images on two tiers. FAST ("flash") is quick and cheap;
QUALITY ("pro") renders up to 4K with reasoning and optional search grounding.
Leave model_tier on auto unless the user asked for a specific tier. Call
show_tiers to see the models behind each tier. Generated artifacts expire
after the configured retention; fetch them with get_artifact or read
gazou://artifacts/{id}.`

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}
