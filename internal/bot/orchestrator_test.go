package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/oharu121/discord-gemini-bot/internal/gemini"
	"github.com/oharu121/discord-gemini-bot/internal/history"
	"github.com/oharu121/discord-gemini-bot/internal/router"
)

const botID = "bot-42"

type fakeGenerator struct {
	text    string
	textErr error
	delay   time.Duration
	img     []byte
	imgErr  error
	video   []byte
	vidErr  error

	textCalls  int
	imageCalls int
	videoCalls int
	gotImages  []gemini.ImageInput
	gotTurns   []history.Turn
}

func (f *fakeGenerator) GenerateText(_ context.Context, _ string, turns []history.Turn, images []gemini.ImageInput) (string, error) {
	f.textCalls++
	f.gotTurns = turns
	f.gotImages = images
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.text, f.textErr
}

func (f *fakeGenerator) GenerateImage(context.Context, string) ([]byte, error) {
	f.imageCalls++
	return f.img, f.imgErr
}

func (f *fakeGenerator) GenerateVideo(context.Context, string) ([]byte, error) {
	f.videoCalls++
	return f.video, f.vidErr
}

type fakeAttachment struct {
	mime string
	data []byte
	err  error
}

func (f *fakeAttachment) MimeType() string                     { return f.mime }
func (f *fakeAttachment) Read(context.Context) ([]byte, error) { return f.data, f.err }

type fakeMessage struct {
	author      string
	content     string
	attachments []Attachment
}

func (f *fakeMessage) AuthorID() string          { return f.author }
func (f *fakeMessage) Content() string           { return f.content }
func (f *fakeMessage) Attachments() []Attachment { return f.attachments }

type fakeHandle struct {
	edits   []string
	deleted bool
}

func (f *fakeHandle) Edit(content string) error { f.edits = append(f.edits, content); return nil }
func (f *fakeHandle) Delete() error             { f.deleted = true; return nil }

type fakeResponder struct {
	sends     []string
	replies   []string
	handles   []*fakeHandle
	videos    []File
	images    []File
	reactions []string
	unreacted []string

	// Typing is triggered from the indicator goroutine, so its counter
	// needs a lock.
	mu      sync.Mutex
	typings int
}

func (f *fakeResponder) Send(content string) error {
	f.sends = append(f.sends, content)
	return nil
}

func (f *fakeResponder) Reply(content string) (ReplyHandle, error) {
	f.replies = append(f.replies, content)
	h := &fakeHandle{}
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeResponder) ReplyVideo(caption string, video File) error {
	f.replies = append(f.replies, caption)
	f.videos = append(f.videos, video)
	return nil
}

func (f *fakeResponder) ReplyImage(description string, image File) error {
	f.replies = append(f.replies, description)
	f.images = append(f.images, image)
	return nil
}

func (f *fakeResponder) React(emoji string) error {
	f.reactions = append(f.reactions, emoji)
	return nil
}

func (f *fakeResponder) Unreact(emoji string) error {
	f.unreacted = append(f.unreacted, emoji)
	return nil
}

func (f *fakeResponder) Typing() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typings++
	return nil
}

func (f *fakeResponder) typingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.typings
}

type emptySource struct{}

func (emptySource) RecentMessages(context.Context, int) ([]history.Message, error) {
	return nil, nil
}

func newTestOrchestrator(t *testing.T, gen Generator) *Orchestrator {
	t.Helper()
	return NewOrchestrator(gen, router.KeywordRouter{}, botID, zaptest.NewLogger(t))
}

func TestProcessMentionOnlyAsksForInput(t *testing.T) {
	gen := &fakeGenerator{}
	rsp := &fakeResponder{}
	o := newTestOrchestrator(t, gen)

	o.Process(context.Background(), &fakeMessage{author: "u1", content: "<@bot-42> "}, rsp, emptySource{})

	require.Len(t, rsp.sends, 1)
	assert.Contains(t, rsp.sends[0], "Attach an image or ask me something")
	assert.Zero(t, gen.textCalls+gen.imageCalls+gen.videoCalls, "no capability dispatch")
	assert.Empty(t, rsp.reactions)
}

func TestProcessImagePrompt(t *testing.T) {
	gen := &fakeGenerator{img: []byte{0x89, 0x50}}
	rsp := &fakeResponder{}
	o := newTestOrchestrator(t, gen)

	o.Process(context.Background(), &fakeMessage{author: "u1", content: "<@bot-42> draw a cat in space"}, rsp, emptySource{})

	assert.Equal(t, 1, gen.imageCalls)
	assert.Zero(t, gen.textCalls)
	require.Len(t, rsp.images, 1)
	assert.Equal(t, "generation.png", rsp.images[0].Name)
	assert.Equal(t, "image/png", rsp.images[0].MimeType)
	assert.Equal(t, []string{reactionSeen, reactionImage}, rsp.reactions)
}

func TestProcessImageCapabilityFailure(t *testing.T) {
	gen := &fakeGenerator{imgErr: gemini.ErrNoImage}
	rsp := &fakeResponder{}
	o := newTestOrchestrator(t, gen)

	o.Process(context.Background(), &fakeMessage{author: "u1", content: "<@bot-42> draw a cat"}, rsp, emptySource{})

	require.Len(t, rsp.replies, 1)
	assert.Contains(t, rsp.replies[0], "Could not generate image")
	assert.Empty(t, rsp.images)
}

func TestProcessVideoPrompt(t *testing.T) {
	gen := &fakeGenerator{video: []byte{1, 2, 3}}
	rsp := &fakeResponder{}
	o := newTestOrchestrator(t, gen)

	o.Process(context.Background(), &fakeMessage{author: "u1", content: "<@bot-42> generate a video of rain"}, rsp, emptySource{})

	assert.Equal(t, 1, gen.videoCalls)
	require.Len(t, rsp.videos, 1)
	assert.Equal(t, "generation.mp4", rsp.videos[0].Name)

	// The interim notice is removed once the video is ready.
	require.NotEmpty(t, rsp.handles)
	assert.True(t, rsp.handles[0].deleted)
	assert.Equal(t, []string{reactionSeen, reactionVideo}, rsp.reactions)
}

func TestProcessVideoCapabilityFailureEditsNotice(t *testing.T) {
	gen := &fakeGenerator{vidErr: gemini.ErrNoVideo}
	rsp := &fakeResponder{}
	o := newTestOrchestrator(t, gen)

	o.Process(context.Background(), &fakeMessage{author: "u1", content: "<@bot-42> video of rain"}, rsp, emptySource{})

	require.NotEmpty(t, rsp.handles)
	require.Len(t, rsp.handles[0].edits, 1)
	assert.Contains(t, rsp.handles[0].edits[0], "Failed to generate video")
	assert.False(t, rsp.handles[0].deleted)
}

func TestProcessTextPrompt(t *testing.T) {
	gen := &fakeGenerator{text: "the answer"}
	rsp := &fakeResponder{}
	o := newTestOrchestrator(t, gen)

	o.Process(context.Background(), &fakeMessage{author: "u1", content: "<@bot-42> what is the answer"}, rsp, emptySource{})

	require.Equal(t, []string{"the answer"}, rsp.replies)
	assert.Equal(t, []string{reactionSeen, reactionDone}, rsp.reactions)
	assert.Equal(t, []string{reactionSeen}, rsp.unreacted)
}

func TestProcessLongTextIsSplit(t *testing.T) {
	gen := &fakeGenerator{text: strings.Repeat("x", 4000)}
	rsp := &fakeResponder{}
	o := newTestOrchestrator(t, gen)

	o.Process(context.Background(), &fakeMessage{author: "u1", content: "<@bot-42> tell me everything"}, rsp, emptySource{})

	require.Len(t, rsp.replies, 3) // 1900 + 1900 + 200
	assert.Len(t, rsp.replies[0], 1900)
	assert.Len(t, rsp.replies[1], 1900)
	assert.Len(t, rsp.replies[2], 200)
	for _, r := range rsp.replies {
		assert.LessOrEqual(t, len(r), 1900)
	}
}

func TestProcessLongTextSplitsOnRuneBoundaries(t *testing.T) {
	// Three-byte CJK runes: a byte-indexed split would cut mid-character.
	gen := &fakeGenerator{text: strings.Repeat("世", 2100)}
	rsp := &fakeResponder{}
	o := newTestOrchestrator(t, gen)

	o.Process(context.Background(), &fakeMessage{author: "u1", content: "<@bot-42> translate this"}, rsp, emptySource{})

	require.Len(t, rsp.replies, 2) // 1900 + 200 characters
	assert.Equal(t, 1900, len([]rune(rsp.replies[0])))
	assert.Equal(t, 200, len([]rune(rsp.replies[1])))
	for i, r := range rsp.replies {
		assert.True(t, utf8.ValidString(r), "chunk %d", i)
	}
}

func TestProcessKeepsTypingDuringSlowGeneration(t *testing.T) {
	gen := &fakeGenerator{text: "done", delay: 30 * time.Millisecond}
	rsp := &fakeResponder{}
	o := newTestOrchestrator(t, gen)
	o.typingEvery = 2 * time.Millisecond

	o.Process(context.Background(), &fakeMessage{author: "u1", content: "<@bot-42> think hard"}, rsp, emptySource{})

	// The indicator fires once up front and keeps re-triggering while the
	// generation runs.
	assert.GreaterOrEqual(t, rsp.typingCount(), 2)
}

func TestProcessShortTextIsNotSplit(t *testing.T) {
	gen := &fakeGenerator{text: strings.Repeat("y", 2000)}
	rsp := &fakeResponder{}
	o := newTestOrchestrator(t, gen)

	o.Process(context.Background(), &fakeMessage{author: "u1", content: "<@bot-42> hi"}, rsp, emptySource{})

	require.Len(t, rsp.replies, 1)
	assert.Len(t, rsp.replies[0], 2000)
}

func TestProcessCollectsImageAttachments(t *testing.T) {
	gen := &fakeGenerator{text: "described"}
	rsp := &fakeResponder{}
	o := newTestOrchestrator(t, gen)

	msg := &fakeMessage{
		author:  "u1",
		content: "<@bot-42> what is in this picture",
		attachments: []Attachment{
			&fakeAttachment{mime: "image/png", data: []byte{1}},
			&fakeAttachment{mime: "application/pdf", data: []byte{2}},
			&fakeAttachment{mime: "image/jpeg", err: errors.New("cdn down")},
		},
	}
	o.Process(context.Background(), msg, rsp, emptySource{})

	// Only the readable image attachment reaches the model.
	require.Len(t, gen.gotImages, 1)
	assert.Equal(t, "image/png", gen.gotImages[0].MIME)
}

func TestProcessAttachmentOnlyMessageDispatches(t *testing.T) {
	gen := &fakeGenerator{text: "a cat"}
	rsp := &fakeResponder{}
	o := newTestOrchestrator(t, gen)

	msg := &fakeMessage{
		author:      "u1",
		content:     "<@bot-42>",
		attachments: []Attachment{&fakeAttachment{mime: "image/png", data: []byte{1}}},
	}
	o.Process(context.Background(), msg, rsp, emptySource{})

	assert.Equal(t, 1, gen.textCalls)
	assert.Empty(t, rsp.sends)
}

func TestProcessCapabilityErrorIsCaught(t *testing.T) {
	gen := &fakeGenerator{textErr: errors.New("provider on fire")}
	rsp := &fakeResponder{}
	o := newTestOrchestrator(t, gen)

	o.Process(context.Background(), &fakeMessage{author: "u1", content: "<@bot-42> hello"}, rsp, emptySource{})

	require.Len(t, rsp.replies, 1)
	assert.Contains(t, rsp.replies[0], "An error occurred")
	assert.Contains(t, rsp.replies[0], "provider on fire")
}

func TestProcessRouterErrorIsCaught(t *testing.T) {
	gen := &fakeGenerator{}
	rsp := &fakeResponder{}
	o := NewOrchestrator(gen, router.NewFunctionCallingRouter(nil), botID, zaptest.NewLogger(t))

	o.Process(context.Background(), &fakeMessage{author: "u1", content: "<@bot-42> hello"}, rsp, emptySource{})

	require.Len(t, rsp.replies, 1)
	assert.Contains(t, rsp.replies[0], "An error occurred")
	assert.Zero(t, gen.textCalls+gen.imageCalls+gen.videoCalls)
}
