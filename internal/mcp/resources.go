package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/gazou/internal/artifact"
	"github.com/ashita-ai/gazou/internal/model"
)

const (
	artifactURIPrefix = "gazou://artifacts/"
	thumbnailSuffix   = "/thumbnail"
)

func (s *Server) registerResources() {
	// gazou://tiers: the tier catalogue.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"gazou://tiers",
			"Tiers",
			mcplib.WithResourceDescription("Available generation tiers with their models and limits"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleTiersResource,
	)

	// gazou://session/recent: artifacts generated in this session.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"gazou://session/recent",
			"Recent Artifacts",
			mcplib.WithResourceDescription("Artifacts generated in the current session that have not expired"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleSessionRecent,
	)

	// gazou://artifacts/{id}: the full image.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"gazou://artifacts/{id}",
			"Artifact",
			mcplib.WithTemplateDescription("A generated image at full resolution"),
		),
		s.handleArtifactResource,
	)

	// gazou://artifacts/{id}/thumbnail: the preview image.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"gazou://artifacts/{id}/thumbnail",
			"Artifact Thumbnail",
			mcplib.WithTemplateDescription("A bounded-size preview of a generated image"),
			mcplib.WithTemplateMIMEType(artifact.ThumbnailMIMEType),
		),
		s.handleArtifactResource,
	)
}

func (s *Server) handleTiersResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(s.catalogue.Ordered(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal tiers: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleSessionRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	var ids []uuid.UUID
	if session := mcpserver.ClientSessionFromContext(ctx); session != nil {
		ids = s.recent.Recent(session.SessionID())
	}

	artifacts := make([]model.Artifact, 0, len(ids))
	for _, id := range ids {
		a, err := s.artifacts.Lookup(ctx, id)
		if err != nil {
			// Expired or deleted since it was generated.
			continue
		}
		artifacts = append(artifacts, a)
	}

	data, err := json.MarshalIndent(map[string]any{"artifacts": artifacts}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal recent artifacts: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleArtifactResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	id, thumb, err := parseArtifactURI(uri)
	if err != nil {
		return nil, err
	}

	var blob artifact.Blob
	if thumb {
		blob, err = s.artifacts.GetThumbnail(ctx, id)
	} else {
		blob, err = s.artifacts.Get(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("mcp: read artifact %s: %w", id, err)
	}

	return []mcplib.ResourceContents{
		mcplib.BlobResourceContents{
			URI:      uri,
			MIMEType: blob.MIMEType,
			Blob:     base64.StdEncoding.EncodeToString(blob.Data),
		},
	}, nil
}

// parseArtifactURI extracts the artifact id from gazou://artifacts/{id} or
// gazou://artifacts/{id}/thumbnail.
func parseArtifactURI(uri string) (uuid.UUID, bool, error) {
	rest, ok := strings.CutPrefix(uri, artifactURIPrefix)
	if !ok {
		return uuid.Nil, false, fmt.Errorf("mcp: invalid artifact URI: %s", uri)
	}
	rest, thumb := strings.CutSuffix(rest, thumbnailSuffix)
	if rest == "" || strings.Contains(rest, "/") {
		return uuid.Nil, false, fmt.Errorf("mcp: invalid artifact URI: %s", uri)
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("mcp: invalid artifact id in URI %s: %w", uri, err)
	}
	return id, thumb, nil
}
