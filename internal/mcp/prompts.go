package mcp

import (
	"context"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// image-brief: turns a rough idea into a generate_image call.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("image-brief",
			mcplib.WithPromptDescription("Expand a rough idea into a detailed generate_image request"),
			mcplib.WithArgument("idea",
				mcplib.ArgumentDescription("What the image should show, in a few words"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("purpose",
				mcplib.ArgumentDescription("Where the image will be used (draft, slide, print, social post)"),
			),
		),
		s.handleImageBriefPrompt,
	)

	// edit-image: walks through editing a local image.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("edit-image",
			mcplib.WithPromptDescription("Edit an existing local image with a natural language instruction"),
			mcplib.WithArgument("path",
				mcplib.ArgumentDescription("Path to the image to edit"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("instruction",
				mcplib.ArgumentDescription("What to change"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleEditImagePrompt,
	)

	// agent-setup: system prompt snippet describing the tools.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("agent-setup",
			mcplib.WithPromptDescription("System prompt snippet explaining how to use gazou's tiers and tools"),
		),
		s.handleAgentSetupPrompt,
	)
}

func (s *Server) handleImageBriefPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	idea := strings.TrimSpace(request.Params.Arguments["idea"])
	if idea == "" {
		return nil, fmt.Errorf("idea argument is required")
	}
	purpose := strings.TrimSpace(request.Params.Arguments["purpose"])
	if purpose == "" {
		purpose = "unspecified"
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Brief for: %s", idea),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`I want an image of: %s
Intended use: %s

1. WRITE a detailed prompt covering subject, composition, lighting, style,
   and the exact wording of any text that must appear in the image.

2. CHOOSE parameters:
   - Leave model_tier on "auto" unless I said otherwise. Drafts and quick
     sketches route to flash; text, diagrams, and print work route to pro.
   - Set resolution to "4k" only for print or large displays.
   - Set enable_grounding for real-world people, places, or products.
   - Set aspect_ratio to match the intended use.
   - Put anything to avoid in negative_prompt, not in the prompt.

3. CALL generate_image with the prompt and parameters.

4. SHOW me the thumbnails and the artifact ids. Use get_artifact for the
   full-size image if I ask for it.`, idea, purpose),
				},
			},
		},
	}, nil
}

func (s *Server) handleEditImagePrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	path := strings.TrimSpace(request.Params.Arguments["path"])
	instruction := strings.TrimSpace(request.Params.Arguments["instruction"])
	if path == "" || instruction == "" {
		return nil, fmt.Errorf("path and instruction arguments are required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Edit %s", path),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Edit the image at %s.

Instruction: %s

CALL generate_image with:
- prompt: the instruction above, phrased as a direct edit ("make the sky
  orange", "remove the person on the left")
- input_image_path_1: "%s"
- mode: "edit"

Keep everything the instruction does not mention unchanged. If the result
drifts, call generate_image again with a more specific instruction rather
than piling on negative_prompt terms.`, path, instruction, path),
				},
			},
		},
	}, nil
}

func (s *Server) handleAgentSetupPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	var tiers strings.Builder
	for _, t := range s.catalogue.Ordered() {
		fmt.Fprintf(&tiers, "- %s %s (%s, up to %dpx): %s\n", t.Emoji, t.Name, t.Model, t.MaxEdge, t.BestFor)
	}

	return &mcplib.GetPromptResult{
		Description: "How to use gazou for image generation",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: `You have access to gazou, an image generation service with two tiers:

` + tiers.String() + `
## Tools

- generate_image: create up to 4 images, or edit a local image
- get_artifact: fetch a stored image (full or thumbnail) by id
- delete_artifact: remove a stored image early
- show_tiers: list tiers, or see which tier a prompt would route to

## Routing

With model_tier "auto", grounding, high thinking level, or 4K resolution
always select pro. Otherwise words like "sketch", "draft", or "quick" pick
flash, words like "professional" or "4k" pick pro, and everything else
goes to pro.

## Results

Each requested image is an independent attempt. Some can fail while
others succeed; report failures to the user with the reason given in the
attempts list instead of retrying silently. Stored images expire after the
server's retention window.`,
				},
			},
		},
	}, nil
}
