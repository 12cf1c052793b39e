package mcp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/gazou/internal/artifact"
	"github.com/ashita-ai/gazou/internal/model"
	"github.com/ashita-ai/gazou/internal/service/generation"
)

func (s *Server) registerTools() {
	// generate_image: create or edit images on the fast or quality tier.
	s.mcpServer.AddTool(
		mcplib.NewTool("generate_image",
			mcplib.WithDescription(`Generate new images or edit an existing one from a natural language prompt.

Leave model_tier on "auto" and gazou picks FAST for drafts and QUALITY when
the request needs grounding, deep reasoning, 4K output, or polish. Reference
images are read from local paths; with exactly one reference and mode "auto"
the prompt is treated as an edit instruction.

Returns a text summary, a JSON breakdown of every attempt, and a thumbnail
for each stored image. Fetch full-size images with get_artifact.`),
			mcplib.WithTitleAnnotation("Generate or edit images"),
			mcplib.WithReadOnlyHintAnnotation(false),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("prompt",
				mcplib.Description("Clear, detailed image prompt: subject, composition, style, and any text to render."),
				mcplib.Required(),
				mcplib.MaxLength(model.MaxPromptLen),
			),
			mcplib.WithNumber("n",
				mcplib.Description("Requested image count."),
				mcplib.Min(1),
				mcplib.Max(model.MaxBatchSize),
				mcplib.DefaultNumber(1),
			),
			mcplib.WithString("negative_prompt",
				mcplib.Description("Things to avoid (style, objects, text)."),
				mcplib.MaxLength(model.MaxNegativePromptLen),
			),
			mcplib.WithString("system_instruction",
				mcplib.Description("Optional tone or style guidance."),
				mcplib.MaxLength(model.MaxSystemInstructionLen),
			),
			mcplib.WithString("model_tier",
				mcplib.Description("'flash' for speed, 'pro' for quality, 'auto' to let gazou decide."),
				mcplib.Enum("auto", "flash", "pro"),
				mcplib.DefaultString("auto"),
			),
			mcplib.WithString("resolution",
				mcplib.Description("Output size on the quality tier: '1k', '2k' (or 'high'), '4k'."),
				mcplib.Enum("1k", "2k", "high", "4k"),
			),
			mcplib.WithString("thinking_level",
				mcplib.Description("Reasoning depth on the quality tier: 'low' or 'high'."),
			),
			mcplib.WithBoolean("enable_grounding",
				mcplib.Description("Ground the image in search results for real-world subjects. Forces the quality tier."),
			),
			mcplib.WithString("aspect_ratio",
				mcplib.Description("Output aspect ratio."),
				mcplib.Enum(model.AspectRatios...),
			),
			mcplib.WithString("mode",
				mcplib.Description("'generate', 'edit', or 'auto' (edit when exactly one input image is given)."),
				mcplib.Enum("auto", "generate", "edit"),
				mcplib.DefaultString("auto"),
			),
			mcplib.WithString("input_image_path_1", mcplib.Description("Path to the first input image.")),
			mcplib.WithString("input_image_path_2", mcplib.Description("Path to the second input image.")),
			mcplib.WithString("input_image_path_3", mcplib.Description("Path to the third input image.")),
		),
		s.handleGenerateImage,
	)

	// get_artifact: fetch a stored image or its thumbnail.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_artifact",
			mcplib.WithDescription("Fetch a previously generated image by id, as the full image or its thumbnail."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("artifact_id", mcplib.Description("Artifact id returned by generate_image."), mcplib.Required()),
			mcplib.WithString("variant",
				mcplib.Description("'full' or 'thumbnail'."),
				mcplib.Enum("full", "thumbnail"),
				mcplib.DefaultString("full"),
			),
		),
		s.handleGetArtifact,
	)

	// delete_artifact: remove a stored image before it expires.
	s.mcpServer.AddTool(
		mcplib.NewTool("delete_artifact",
			mcplib.WithDescription("Delete a stored image and its thumbnail before the retention window ends."),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("artifact_id", mcplib.Description("Artifact id to delete."), mcplib.Required()),
		),
		s.handleDeleteArtifact,
	)

	// show_tiers: describe the tiers and, optionally, how a prompt would route.
	s.mcpServer.AddTool(
		mcplib.NewTool("show_tiers",
			mcplib.WithDescription("List the available tiers with their models, maximum output edge, and features. Pass a prompt to see which tier auto selection would pick."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("prompt", mcplib.Description("Optional prompt to route.")),
			mcplib.WithBoolean("enable_grounding", mcplib.Description("Include grounding when routing the prompt.")),
			mcplib.WithString("resolution", mcplib.Description("Include a resolution when routing the prompt.")),
			mcplib.WithString("thinking_level", mcplib.Description("Include a thinking level when routing the prompt.")),
		),
		s.handleShowTiers,
	)
}

func (s *Server) handleGenerateImage(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	paths := resolveReferencePaths([]string{
		request.GetString("input_image_path_1", ""),
		request.GetString("input_image_path_2", ""),
		request.GetString("input_image_path_3", ""),
	}, s.requestRoots(ctx))

	refs, err := generation.LoadReferences(paths, s.maxInput)
	if err != nil {
		return toolError(err), nil
	}

	req, warnings, err := model.Params{
		Prompt:            request.GetString("prompt", ""),
		NegativePrompt:    request.GetString("negative_prompt", ""),
		SystemInstruction: request.GetString("system_instruction", ""),
		ModelTier:         request.GetString("model_tier", ""),
		Resolution:        request.GetString("resolution", ""),
		AspectRatio:       request.GetString("aspect_ratio", ""),
		ThinkingLevel:     request.GetString("thinking_level", ""),
		EnableGrounding:   request.GetBool("enable_grounding", false),
		N:                 optionalInt(request, "n"),
		Mode:              request.GetString("mode", ""),
		References:        refs,
	}.ToRequest()
	for _, w := range warnings {
		s.logger.Warn("mcp: generate_image", "warning", w)
	}
	if err != nil {
		return toolError(err), nil
	}

	result, err := s.gen.Run(ctx, req, s.progressFunc(ctx, request))
	if err != nil {
		return toolError(err), nil
	}

	resp := model.NewGenerateResponse(result, warnings)
	ids := make([]uuid.UUID, len(resp.Artifacts))
	for i, a := range resp.Artifacts {
		ids[i] = a.ID
	}
	if session := mcpserver.ClientSessionFromContext(ctx); session != nil {
		s.recent.Record(session.SessionID(), ids...)
	}
	if s.events != nil && len(ids) > 0 {
		s.events.Publish(model.EventArtifactsCreated, model.ArtifactEvent{
			ArtifactIDs: ids, Tier: resp.Tier, Count: len(ids),
		})
	}

	out, err := jsonResult(resp)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal generate response: %w", err)
	}
	content := []mcplib.Content{mcplib.NewTextContent(s.summarize(req, resp))}
	content = append(content, out.Content...)
	for _, a := range resp.Artifacts {
		thumb, err := s.artifacts.GetThumbnail(ctx, a.ID)
		if err != nil {
			s.logger.Warn("mcp: thumbnail unavailable", "artifact_id", a.ID, "error", err)
			continue
		}
		content = append(content, mcplib.NewImageContent(base64.StdEncoding.EncodeToString(thumb.Data), thumb.MIMEType))
	}
	return &mcplib.CallToolResult{Content: content}, nil
}

// summarize renders the one-paragraph human summary placed ahead of the
// JSON breakdown.
func (s *Server) summarize(req model.Request, resp model.GenerateResponse) string {
	verb := "Generated"
	if req.Mode == model.ModeEdit {
		verb = "Edited"
	}
	info := s.catalogue[resp.Tier]
	var b strings.Builder
	if resp.Returned == 0 {
		fmt.Fprintf(&b, "No images were produced by %s %s (%d of %d attempts failed).",
			info.Emoji, info.Name, resp.Failed, resp.Requested)
	} else {
		fmt.Fprintf(&b, "%s %d image(s) with %s %s.", verb, resp.Returned, info.Emoji, info.Name)
	}
	fmt.Fprintf(&b, "\nTier: %s", strings.ToUpper(string(resp.Tier)))
	if resp.AutoSelected {
		fmt.Fprintf(&b, " (auto: %s)", resp.Rule)
	}
	if resp.Tier == model.TierQuality {
		depth := req.Reasoning
		if depth == model.ReasoningUnset {
			depth = model.ReasoningHigh
		}
		res := req.Resolution
		if res == "" {
			res = model.ResolutionStandard
		}
		fmt.Fprintf(&b, "\nThinking level: %s\nResolution: %s", depth, res)
		if req.Grounding {
			b.WriteString("\nGrounding: enabled")
		}
	}
	if resp.Failed > 0 && resp.Returned > 0 {
		fmt.Fprintf(&b, "\n%d of %d attempts failed; see attempts for reasons.", resp.Failed, resp.Requested)
	}
	for _, w := range resp.Warnings {
		fmt.Fprintf(&b, "\nWarning: %s", w)
	}
	return b.String()
}

// progressFunc returns a reporter that forwards progress to the client when
// the request carries a progress token, and nil otherwise.
func (s *Server) progressFunc(ctx context.Context, request mcplib.CallToolRequest) generation.ProgressFunc {
	if request.Params.Meta == nil || request.Params.Meta.ProgressToken == nil {
		return nil
	}
	token := request.Params.Meta.ProgressToken
	return func(percent int, message string) {
		err := s.notify(ctx, "notifications/progress", map[string]any{
			"progressToken": token,
			"progress":      percent,
			"total":         100,
			"message":       message,
		})
		if err != nil {
			s.logger.Debug("mcp: progress notification failed", "error", err)
		}
	}
}

// notifyClient sends a notification over the session bound to ctx.
func notifyClient(ctx context.Context, method string, params map[string]any) error {
	srv := mcpserver.ServerFromContext(ctx)
	if srv == nil {
		return errors.New("mcp: no server in context")
	}
	return srv.SendNotificationToClient(ctx, method, params)
}

func (s *Server) handleGetArtifact(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := uuid.Parse(request.GetString("artifact_id", ""))
	if err != nil {
		return errorResult("artifact_id must be a UUID"), nil
	}

	meta, err := s.artifacts.Lookup(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	var blob artifact.Blob
	switch variant := request.GetString("variant", "full"); variant {
	case "full", "":
		blob, err = s.artifacts.Get(ctx, id)
	case "thumbnail":
		blob, err = s.artifacts.GetThumbnail(ctx, id)
	default:
		return errorResult(fmt.Sprintf("variant must be 'full' or 'thumbnail', got %q", variant)), nil
	}
	if err != nil {
		return toolError(err), nil
	}

	out, err := jsonResult(meta)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal artifact: %w", err)
	}
	out.Content = append(out.Content, mcplib.NewImageContent(base64.StdEncoding.EncodeToString(blob.Data), blob.MIMEType))
	return out, nil
}

func (s *Server) handleDeleteArtifact(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := uuid.Parse(request.GetString("artifact_id", ""))
	if err != nil {
		return errorResult("artifact_id must be a UUID"), nil
	}
	if err := s.artifacts.Delete(ctx, id); err != nil {
		return toolError(err), nil
	}
	s.recent.Forget(id)
	if s.events != nil {
		s.events.Publish(model.EventArtifactsDeleted, model.ArtifactEvent{ArtifactIDs: []uuid.UUID{id}, Count: 1})
	}
	return jsonResult(map[string]any{"artifact_id": id, "status": "deleted"})
}

// optionalInt returns nil when the argument is absent so the caller can tell
// an omitted field from an explicit zero.
func optionalInt(request mcplib.CallToolRequest, name string) *int {
	if _, ok := request.GetArguments()[name]; !ok {
		return nil
	}
	v := request.GetInt(name, 0)
	return &v
}

type routing struct {
	Tier model.Tier `json:"tier"`
	Rule string     `json:"rule"`
	Term string     `json:"matched_term,omitempty"`
}

func (s *Server) handleShowTiers(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	out := map[string]any{"tiers": s.catalogue.Ordered()}

	if prompt := request.GetString("prompt", ""); prompt != "" {
		resolution, err := model.ParseResolution(request.GetString("resolution", ""))
		if err != nil {
			return toolError(err), nil
		}
		reasoning, _ := model.ParseReasoningDepth(request.GetString("thinking_level", ""))
		d := s.gen.Explain(model.Request{
			Prompt:     prompt,
			Tier:       model.TierAuto,
			Resolution: resolution,
			Reasoning:  reasoning,
			Grounding:  request.GetBool("enable_grounding", false),
		})
		out["routing"] = routing{Tier: d.Tier, Rule: string(d.Rule), Term: d.Term}
	}
	return jsonResult(out)
}

// toolError turns a service error into a tool error result.
func toolError(err error) *mcplib.CallToolResult {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		return errorResult(fmt.Sprintf("%s (code %s, field %s)", verr.Message, verr.Code, verr.Field))
	case errors.Is(err, artifact.ErrNotFound):
		return errorResult("artifact not found or expired")
	case errors.Is(err, generation.ErrStoreUnavailable):
		return errorResult("images were generated but could not be stored; try again later")
	case errors.Is(err, generation.ErrNoAdapter):
		return errorResult("no backend is configured for the selected tier")
	default:
		return errorResult(err.Error())
	}
}
