package bot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/oharu121/discord-gemini-bot/internal/gemini"
	"github.com/oharu121/discord-gemini-bot/internal/history"
	"github.com/oharu121/discord-gemini-bot/internal/rag"
	"github.com/oharu121/discord-gemini-bot/internal/router"
)

// Session owns the Discord gateway connection and wires gateway events into
// the orchestrator and the RAG query flow. discordgo invokes each handler on
// its own goroutine, so concurrent messages process independently.
type Session struct {
	dg     *discordgo.Session
	gen    Generator
	router router.Router
	rag    *rag.Client
	logger *zap.Logger
	http   *http.Client
}

func NewSession(token string, gen Generator, r router.Router, ragClient *rag.Client, logger *zap.Logger) (*Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	s := &Session{
		dg:     dg,
		gen:    gen,
		router: r,
		rag:    ragClient,
		logger: logger,
		http:   &http.Client{},
	}
	dg.AddHandler(s.onReady)
	dg.AddHandler(s.onMessageCreate)
	dg.AddHandler(s.onInteractionCreate)
	return s, nil
}

// Run opens the gateway, registers the /ask command, and blocks until ctx is
// cancelled.
func (s *Session) Run(ctx context.Context) error {
	if err := s.dg.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	defer s.dg.Close()

	if err := s.registerCommands(); err != nil {
		return fmt.Errorf("register slash commands: %w", err)
	}
	s.logger.Info("slash commands synced")

	<-ctx.Done()
	return nil
}

func (s *Session) registerCommands() error {
	_, err := s.dg.ApplicationCommandCreate(s.dg.State.User.ID, "", &discordgo.ApplicationCommand{
		Name:        "ask",
		Description: "Query the knowledge base",
		Options: []*discordgo.ApplicationCommandOption{{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "query",
			Description: "Your question to the knowledge base",
			Required:    true,
		}},
	})
	return err
}

func (s *Session) onReady(dg *discordgo.Session, _ *discordgo.Ready) {
	if dg.State.User != nil {
		s.logger.Info("logged in",
			zap.String("user", dg.State.User.String()),
			zap.String("id", dg.State.User.ID))
	}
	if err := dg.UpdateListeningStatus("mentions or /ask"); err != nil {
		s.logger.Warn("presence update failed", zap.Error(err))
	}
}

func (s *Session) onMessageCreate(dg *discordgo.Session, m *discordgo.MessageCreate) {
	// Never respond to ourselves.
	if dg.State.User == nil || m.Author == nil || m.Author.ID == dg.State.User.ID {
		return
	}

	botID := dg.State.User.ID
	mentioned := false
	for _, u := range m.Mentions {
		if u.ID == botID {
			mentioned = true
			break
		}
	}
	isDM := m.GuildID == ""
	if !mentioned && !isDM {
		return
	}

	orch := NewOrchestrator(s.gen, s.router, botID, s.logger)
	orch.Process(context.Background(),
		&discordMessage{m: m.Message, http: s.http},
		&discordResponder{dg: dg, m: m.Message},
		&channelSource{dg: dg, channelID: m.ChannelID})
}

func (s *Session) onInteractionCreate(dg *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	if data.Name != "ask" {
		return
	}

	query := ""
	for _, opt := range data.Options {
		if opt.Name == "query" {
			query = opt.StringValue()
		}
	}

	// Streaming can outlive the 3 second interaction window; defer first.
	if err := dg.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		s.logger.Error("defer /ask interaction failed", zap.Error(err))
		return
	}

	// Cancelling on return releases the stream producer if rendering stops
	// before the terminal event, e.g. on a followup edit failure.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	turns, err := history.Collect(ctx, &channelSource{dg: dg, channelID: i.ChannelID}, dg.State.User.ID, history.DefaultLimit)
	if err != nil {
		s.logger.Warn("history collection failed", zap.Error(err))
		turns = nil
	}

	display := &followupDisplay{dg: dg, interaction: i.Interaction}
	asm := rag.NewAssembler(display, s.logger)
	if err := asm.Run(s.rag.Query(ctx, query, turns)); err != nil {
		s.logger.Error("/ask query failed", zap.Error(err))
	}
}

// --- discordgo adapters ---

const embedColorBlue = 0x3498DB

func fileToDiscord(f File) *discordgo.File {
	return &discordgo.File{
		Name:        f.Name,
		ContentType: f.MimeType,
		Reader:      bytes.NewReader(f.Data),
	}
}

type discordMessage struct {
	m    *discordgo.Message
	http *http.Client
}

func (d *discordMessage) AuthorID() string { return d.m.Author.ID }
func (d *discordMessage) Content() string  { return d.m.Content }

func (d *discordMessage) Attachments() []Attachment {
	atts := make([]Attachment, 0, len(d.m.Attachments))
	for _, a := range d.m.Attachments {
		atts = append(atts, &discordAttachment{a: a, http: d.http})
	}
	return atts
}

type discordAttachment struct {
	a    *discordgo.MessageAttachment
	http *http.Client
}

func (d *discordAttachment) MimeType() string { return d.a.ContentType }

func (d *discordAttachment) Read(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.a.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build attachment request: %w", err)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download attachment: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

type discordResponder struct {
	dg *discordgo.Session
	m  *discordgo.Message
}

func (r *discordResponder) Send(content string) error {
	_, err := r.dg.ChannelMessageSend(r.m.ChannelID, content)
	return err
}

func (r *discordResponder) Reply(content string) (ReplyHandle, error) {
	sent, err := r.dg.ChannelMessageSendReply(r.m.ChannelID, content, r.m.Reference())
	if err != nil {
		return nil, err
	}
	return &discordReply{dg: r.dg, m: sent}, nil
}

func (r *discordResponder) ReplyVideo(caption string, video File) error {
	_, err := r.dg.ChannelMessageSendComplex(r.m.ChannelID, &discordgo.MessageSend{
		Content:   caption,
		Files:     []*discordgo.File{fileToDiscord(video)},
		Reference: r.m.Reference(),
	})
	return err
}

func (r *discordResponder) ReplyImage(description string, image File) error {
	_, err := r.dg.ChannelMessageSendComplex(r.m.ChannelID, &discordgo.MessageSend{
		Embed: &discordgo.MessageEmbed{
			Title:       "Generated Image",
			Description: description,
			Color:       embedColorBlue,
			Image:       &discordgo.MessageEmbedImage{URL: "attachment://" + image.Name},
			Footer:      &discordgo.MessageEmbedFooter{Text: "Model: " + gemini.ModelImage},
		},
		Files:     []*discordgo.File{fileToDiscord(image)},
		Reference: r.m.Reference(),
	})
	return err
}

func (r *discordResponder) React(emoji string) error {
	return r.dg.MessageReactionAdd(r.m.ChannelID, r.m.ID, emoji)
}

func (r *discordResponder) Unreact(emoji string) error {
	return r.dg.MessageReactionRemove(r.m.ChannelID, r.m.ID, emoji, "@me")
}

func (r *discordResponder) Typing() error {
	return r.dg.ChannelTyping(r.m.ChannelID)
}

type discordReply struct {
	dg *discordgo.Session
	m  *discordgo.Message
}

func (r *discordReply) Edit(content string) error {
	_, err := r.dg.ChannelMessageEdit(r.m.ChannelID, r.m.ID, content)
	return err
}

func (r *discordReply) Delete() error {
	return r.dg.ChannelMessageDelete(r.m.ChannelID, r.m.ID)
}

// channelSource adapts a Discord channel to the history scan. Discord
// returns messages newest first, which is the order Collect expects.
type channelSource struct {
	dg        *discordgo.Session
	channelID string
}

func (c *channelSource) RecentMessages(_ context.Context, limit int) ([]history.Message, error) {
	msgs, err := c.dg.ChannelMessages(c.channelID, limit, "", "", "")
	if err != nil {
		return nil, err
	}
	out := make([]history.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Author == nil {
			continue
		}
		hm := history.Message{AuthorID: m.Author.ID, Content: m.Content}
		for _, u := range m.Mentions {
			hm.MentionIDs = append(hm.MentionIDs, u.ID)
		}
		out = append(out, hm)
	}
	return out, nil
}

// followupDisplay renders the /ask answer through interaction followups.
type followupDisplay struct {
	dg          *discordgo.Session
	interaction *discordgo.Interaction
	msgID       string
}

func (f *followupDisplay) Send(content string) error {
	msg, err := f.dg.FollowupMessageCreate(f.interaction, true, &discordgo.WebhookParams{Content: content})
	if err != nil {
		return err
	}
	f.msgID = msg.ID
	return nil
}

func (f *followupDisplay) Edit(content string) error {
	_, err := f.dg.FollowupMessageEdit(f.interaction, f.msgID, &discordgo.WebhookEdit{Content: &content})
	return err
}
