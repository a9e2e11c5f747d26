// Package gemini wraps the Google GenAI SDK for the bot's three generation
// capabilities: text/vision reasoning, image synthesis, and video synthesis.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/oharu121/discord-gemini-bot/internal/history"
)

// Model identifiers per capability.
const (
	ModelText  = "gemini-3-pro-preview"
	ModelImage = "gemini-3-pro-image-preview"
	ModelVideo = "veo-3.1-generate-preview"
)

// videoPollInterval is how often a pending Veo operation is polled.
const videoPollInterval = 5 * time.Second

// Capability errors: the provider answered but returned no usable media.
// Distinct from transport errors so callers can word the user-facing reply.
var (
	ErrNoImage = errors.New("no image returned")
	ErrNoVideo = errors.New("no video returned")
)

// ImageInput is one inline image for multimodal text generation.
type ImageInput struct {
	Data []byte
	MIME string
}

// Client wraps a GenAI client. One generation attempt per call, no retries;
// cancellation is whatever the passed context carries.
type Client struct {
	genai        *genai.Client
	logger       *zap.Logger
	useGrounding bool
}

// NewClient creates a Gemini client against the public Gemini API backend.
func NewClient(ctx context.Context, apiKey string, useGrounding bool, logger *zap.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Client{
		genai:        client,
		logger:       logger,
		useGrounding: useGrounding,
	}, nil
}

// GenerateText answers a prompt, with optional conversation history and
// inline images. When grounding is enabled the model may consult Google
// Search for real-time information.
func (c *Client) GenerateText(ctx context.Context, prompt string, turns []history.Turn, images []ImageInput) (string, error) {
	var contents []*genai.Content
	for _, t := range turns {
		parts := make([]*genai.Part, 0, len(t.Parts))
		for _, p := range t.Parts {
			parts = append(parts, genai.NewPartFromText(p))
		}
		contents = append(contents, genai.NewContentFromParts(parts, genai.Role(t.Role)))
	}

	current := make([]*genai.Part, 0, len(images)+1)
	for _, img := range images {
		current = append(current, genai.NewPartFromBytes(img.Data, img.MIME))
	}
	current = append(current, genai.NewPartFromText(prompt))
	contents = append(contents, genai.NewContentFromParts(current, genai.RoleUser))

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction(), genai.RoleUser),
	}
	if c.useGrounding {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	resp, err := c.genai.Models.GenerateContent(ctx, ModelText, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("text generation: %w", err)
	}
	return resp.Text(), nil
}

// GenerateImage synthesizes one PNG for the prompt.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	resp, err := c.genai.Models.GenerateImages(ctx, ModelImage, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("image generation: %w", err)
	}

	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return nil, ErrNoImage
	}
	return resp.GeneratedImages[0].Image.ImageBytes, nil
}

// GenerateVideo synthesizes one MP4 with Veo. Video generation is a long
// running operation; this polls its status every 5 seconds until done, which
// typically takes one to two minutes.
func (c *Client) GenerateVideo(ctx context.Context, prompt string) ([]byte, error) {
	c.logger.Info("starting video generation", zap.String("prompt", prompt))

	op, err := c.genai.Models.GenerateVideos(ctx, ModelVideo, prompt, nil, &genai.GenerateVideosConfig{
		FPS:             genai.Ptr[int32](24),
		DurationSeconds: genai.Ptr[int32](5),
	})
	if err != nil {
		return nil, fmt.Errorf("video generation: %w", err)
	}

	for !op.Done {
		c.logger.Debug("waiting for video generation")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(videoPollInterval):
		}
		op, err = c.genai.Operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return nil, fmt.Errorf("poll video operation: %w", err)
		}
	}

	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 || op.Response.GeneratedVideos[0].Video == nil {
		return nil, ErrNoVideo
	}
	return op.Response.GeneratedVideos[0].Video.VideoBytes, nil
}

func systemInstruction() string {
	return fmt.Sprintf(`You are a helpful Discord bot assistant.
Today's date is %s.
Be concise in your responses as they appear in Discord chat.`, time.Now().Format("2006-01-02"))
}
