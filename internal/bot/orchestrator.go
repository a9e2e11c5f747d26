// Package bot holds the message orchestrator and the Discord gateway
// adapter. The orchestrator is written against small interfaces so the
// dispatch logic tests without a gateway connection.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oharu121/discord-gemini-bot/internal/gemini"
	"github.com/oharu121/discord-gemini-bot/internal/history"
	"github.com/oharu121/discord-gemini-bot/internal/router"
)

// Reaction emoji used as processing indicators. Cosmetic only.
const (
	reactionSeen  = "\U0001F440" // eyes: message received
	reactionVideo = "\U0001F3A5" // movie camera: routed to video
	reactionImage = "\U0001F3A8" // artist palette: routed to image
	reactionDone  = "✅"     // check mark: finished
)

const (
	// messageLimit is the platform's hard message length cap, counted in
	// characters, not bytes.
	messageLimit = 2000
	// splitSize is the chunk size in characters used when a text answer
	// exceeds the cap.
	splitSize = 1900
)

// typingRefresh re-triggers the typing indicator, which the platform expires
// after roughly ten seconds, so it stays up through long generations.
const typingRefresh = 8 * time.Second

// Generator is the slice of the Gemini client the orchestrator dispatches to.
type Generator interface {
	GenerateText(ctx context.Context, prompt string, turns []history.Turn, images []gemini.ImageInput) (string, error)
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
	GenerateVideo(ctx context.Context, prompt string) ([]byte, error)
}

// Message is one triggering chat message.
type Message interface {
	AuthorID() string
	Content() string
	Attachments() []Attachment
}

// Attachment is one file attached to the triggering message. Read downloads
// its bytes; the data lives only for the duration of the request.
type Attachment interface {
	MimeType() string
	Read(ctx context.Context) ([]byte, error)
}

// ReplyHandle is an already-sent reply that can still be changed.
type ReplyHandle interface {
	Edit(content string) error
	Delete() error
}

// File is a generated media payload for an outward reply.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

// Responder is the outward surface of the triggering message's channel.
type Responder interface {
	// Send posts a plain channel message (not a reply).
	Send(content string) error
	// Reply answers the triggering message and returns an editable handle.
	Reply(content string) (ReplyHandle, error)
	// ReplyVideo answers with a captioned video attachment.
	ReplyVideo(caption string, video File) error
	// ReplyImage answers with an image attachment described by the prompt.
	ReplyImage(description string, image File) error
	React(emoji string) error
	Unreact(emoji string) error
	Typing() error
}

// Orchestrator routes each triggering message to one generation capability
// and manages acknowledgment signaling around the dispatch. It holds no
// per-message state; one instance serves concurrent messages.
type Orchestrator struct {
	gen         Generator
	router      router.Router
	botID       string
	logger      *zap.Logger
	typingEvery time.Duration
}

func NewOrchestrator(gen Generator, r router.Router, botID string, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{gen: gen, router: r, botID: botID, logger: logger, typingEvery: typingRefresh}
}

// Process handles one triggering message end to end. src is the message's
// channel, used for multi-turn context on the text path. Capability failures
// are logged, reported to the user as a single reply, and never propagate.
func (o *Orchestrator) Process(ctx context.Context, msg Message, rsp Responder, src history.Source) {
	log := o.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("author", msg.AuthorID()))

	defer func() {
		if r := recover(); r != nil {
			o.reportError(rsp, log, fmt.Errorf("panic: %v", r))
		}
	}()

	prompt := history.StripMention(msg.Content(), o.botID)
	if prompt == "" && len(msg.Attachments()) == 0 {
		if err := rsp.Send("\U0001F44B Hi! Attach an image or ask me something."); err != nil {
			log.Warn("greeting failed", zap.Error(err))
		}
		return
	}

	typingCtx, stopTyping := context.WithCancel(ctx)
	defer stopTyping()
	go o.keepTyping(typingCtx, rsp)

	if err := rsp.React(reactionSeen); err != nil {
		log.Debug("ack reaction failed", zap.Error(err))
	}

	images := o.collectImages(ctx, msg, log)

	intent, err := o.router.DetectIntent(ctx, prompt)
	if err != nil {
		o.reportError(rsp, log, err)
		return
	}
	log.Info("intent detected", zap.String("intent", string(intent)))

	switch intent {
	case router.IntentVideo:
		err = o.handleVideo(ctx, prompt, rsp)
	case router.IntentImage:
		err = o.handleImage(ctx, prompt, rsp)
	default:
		err = o.handleText(ctx, prompt, images, rsp, src, log)
	}
	if err != nil {
		o.reportError(rsp, log, err)
	}
}

// keepTyping holds the typing indicator up until ctx is cancelled. A single
// trigger expires during video generation, which runs for minutes.
func (o *Orchestrator) keepTyping(ctx context.Context, rsp Responder) {
	_ = rsp.Typing()
	t := time.NewTicker(o.typingEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = rsp.Typing()
		}
	}
}

func (o *Orchestrator) handleVideo(ctx context.Context, prompt string, rsp Responder) error {
	_ = rsp.React(reactionVideo)

	notice, err := rsp.Reply("Generating video with Veo... This usually takes ~1-2 minutes.")
	if err != nil {
		return fmt.Errorf("post video notice: %w", err)
	}

	video, err := o.gen.GenerateVideo(ctx, prompt)
	if err != nil {
		if errors.Is(err, gemini.ErrNoVideo) {
			return notice.Edit("❌ Failed to generate video.")
		}
		return err
	}

	_ = notice.Delete()
	return rsp.ReplyVideo(
		fmt.Sprintf("\U0001F3AC Video for: *%s*", prompt),
		File{Name: "generation.mp4", MimeType: "video/mp4", Data: video})
}

func (o *Orchestrator) handleImage(ctx context.Context, prompt string, rsp Responder) error {
	_ = rsp.React(reactionImage)

	img, err := o.gen.GenerateImage(ctx, prompt)
	if err != nil {
		if errors.Is(err, gemini.ErrNoImage) {
			_, rerr := rsp.Reply("❌ Could not generate image.")
			return rerr
		}
		return err
	}

	return rsp.ReplyImage(prompt, File{Name: "generation.png", MimeType: "image/png", Data: img})
}

func (o *Orchestrator) handleText(ctx context.Context, prompt string, images []gemini.ImageInput, rsp Responder, src history.Source, log *zap.Logger) error {
	turns, err := history.Collect(ctx, src, o.botID, history.DefaultLimit)
	if err != nil {
		// Degrade to single-turn rather than failing the request.
		log.Warn("history collection failed", zap.Error(err))
		turns = nil
	}

	text, err := o.gen.GenerateText(ctx, prompt, turns, images)
	if err != nil {
		return err
	}

	// Split on rune boundaries: the length cap is in characters, and a byte
	// slice would cut multi-byte text mid-rune.
	runes := []rune(text)
	if len(runes) > messageLimit {
		for start := 0; start < len(runes); start += splitSize {
			end := min(start+splitSize, len(runes))
			if _, err := rsp.Reply(string(runes[start:end])); err != nil {
				return fmt.Errorf("send reply chunk: %w", err)
			}
		}
	} else {
		if _, err := rsp.Reply(text); err != nil {
			return fmt.Errorf("send reply: %w", err)
		}
	}

	_ = rsp.Unreact(reactionSeen)
	_ = rsp.React(reactionDone)
	return nil
}

func (o *Orchestrator) collectImages(ctx context.Context, msg Message, log *zap.Logger) []gemini.ImageInput {
	var images []gemini.ImageInput
	for _, att := range msg.Attachments() {
		if !strings.HasPrefix(att.MimeType(), "image") {
			continue
		}
		data, err := att.Read(ctx)
		if err != nil {
			log.Warn("attachment read failed", zap.Error(err))
			continue
		}
		images = append(images, gemini.ImageInput{Data: data, MIME: att.MimeType()})
	}
	return images
}

func (o *Orchestrator) reportError(rsp Responder, log *zap.Logger, err error) {
	log.Error("message processing failed", zap.Error(err))
	if _, rerr := rsp.Reply(fmt.Sprintf("⚠️ An error occurred: %v", err)); rerr != nil {
		log.Warn("error reply failed", zap.Error(rerr))
	}
}
