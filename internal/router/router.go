// Package router classifies cleaned user prompts into the generation
// capability they need. Two strategies exist: a fixed keyword matcher and an
// AI-backed variant that delegates the decision to the text model.
package router

import (
	"context"
	"errors"
	"strings"

	"github.com/oharu121/discord-gemini-bot/internal/gemini"
	"github.com/oharu121/discord-gemini-bot/internal/history"
)

// Intent is the generation capability a prompt maps to.
type Intent string

const (
	IntentText  Intent = "text"
	IntentImage Intent = "image"
	IntentVideo Intent = "video"
)

// ErrNotImplemented is returned by the function-calling router. It must stay
// an explicit failure so callers learn the path is missing instead of getting
// silently wrong routing.
var ErrNotImplemented = errors.New("function calling router not yet implemented, set USE_FUNCTION_CALLING=false")

// Router detects the intent of a cleaned prompt. Implementations are
// stateless per call and safe for concurrent use.
type Router interface {
	DetectIntent(ctx context.Context, prompt string) (Intent, error)
}

// Keyword sets are checked in order: a prompt matching both a video and an
// image keyword is a video request.
var (
	videoKeywords = []string{"video of", "animate", "movie of", "generate a video"}
	imageKeywords = []string{"image of", "draw", "paint", "generate an image", "picture of"}
)

// KeywordRouter matches fixed English keyword sets against the lowercased
// prompt. No match means a plain text request.
type KeywordRouter struct{}

func (KeywordRouter) DetectIntent(_ context.Context, prompt string) (Intent, error) {
	lower := strings.ToLower(prompt)
	for _, kw := range videoKeywords {
		if strings.Contains(lower, kw) {
			return IntentVideo, nil
		}
	}
	for _, kw := range imageKeywords {
		if strings.Contains(lower, kw) {
			return IntentImage, nil
		}
	}
	return IntentText, nil
}

// TextGenerator is the slice of the generation client the AI-backed router
// will delegate classification to.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, turns []history.Turn, images []gemini.ImageInput) (string, error)
}

// FunctionCallingRouter will ask the text model to pick one of the three
// generation tools (function calling works across languages, unlike the
// English keyword sets). The tool definitions and response parsing are not
// built yet, so DetectIntent fails explicitly rather than defaulting to text.
type FunctionCallingRouter struct {
	model TextGenerator
}

func NewFunctionCallingRouter(model TextGenerator) *FunctionCallingRouter {
	return &FunctionCallingRouter{model: model}
}

func (r *FunctionCallingRouter) DetectIntent(ctx context.Context, prompt string) (Intent, error) {
	return "", ErrNotImplemented
}
