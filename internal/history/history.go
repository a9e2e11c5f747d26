// Package history extracts a bounded, chronological conversation window from
// a channel's recent messages for multi-turn model context.
package history

import (
	"context"
	"fmt"
	"strings"
)

// DefaultLimit is the default number of turns in a context window.
const DefaultLimit = 10

// scanWindow bounds how many raw messages are ever inspected.
const scanWindow = 50

// Turn is one conversation turn in the model wire format.
type Turn struct {
	Role  string   `json:"role"` // "user" or "model"
	Parts []string `json:"parts"`
}

// Message is one raw channel message as seen by the window scan.
type Message struct {
	AuthorID   string
	Content    string
	MentionIDs []string
}

// Source yields the most recent raw messages of one channel, newest first.
// Implementations may return fewer messages than requested.
type Source interface {
	RecentMessages(ctx context.Context, limit int) ([]Message, error)
}

// Collect scans up to 50 recent messages and keeps those the bot authored or
// was mentioned in, up to limit turns. Bot-authored messages become "model"
// turns; user messages have the bot mention stripped and become "user" turns.
// The result is oldest first. Finding fewer than limit turns is not an error.
func Collect(ctx context.Context, src Source, botID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	msgs, err := src.RecentMessages(ctx, scanWindow)
	if err != nil {
		return nil, fmt.Errorf("fetch channel history: %w", err)
	}
	if len(msgs) > scanWindow {
		msgs = msgs[:scanWindow]
	}

	var turns []Turn
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}

		fromBot := m.AuthorID == botID
		mentionsBot := false
		for _, id := range m.MentionIDs {
			if id == botID {
				mentionsBot = true
				break
			}
		}
		if !fromBot && !mentionsBot {
			continue
		}

		content := m.Content
		role := "model"
		if !fromBot {
			role = "user"
			content = StripMention(content, botID)
		}

		turns = append(turns, Turn{Role: role, Parts: []string{content}})
		if len(turns) >= limit {
			break
		}
	}

	// Scan order is newest first; the model wants chronological.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// StripMention removes the bot's mention tokens (plain and nickname form)
// and trims surrounding whitespace.
func StripMention(content, botID string) string {
	content = strings.ReplaceAll(content, "<@"+botID+">", "")
	content = strings.ReplaceAll(content, "<@!"+botID+">", "")
	return strings.TrimSpace(content)
}
