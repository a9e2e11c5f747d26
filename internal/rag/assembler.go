package rag

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// State is the assembler lifecycle.
type State int

const (
	StateAccumulating State = iota
	StateFinalizing
	StateCompleted
	StateFailed
)

const (
	// updateThreshold is how much new text must accumulate before another
	// visible interim update.
	updateThreshold = 100
	// maxDisplayLength is the platform message limit in characters.
	maxDisplayLength = 2000
	// maxSources caps the citation list on the final answer.
	maxSources = 3

	ellipsis = "..."
)

// Display is the one outward-visible message the assembler drives. Send
// creates it; Edit updates it in place. The assembler calls Send at most
// once, before any Edit.
type Display interface {
	Send(content string) error
	Edit(content string) error
}

// Assembler consumes a query event stream and renders it incrementally,
// rate-limiting visible updates and appending source citations at the end.
// One assembler serves one request; it holds no cross-request state.
type Assembler struct {
	display Display
	logger  *zap.Logger

	state      State
	text       strings.Builder
	chunks     []Chunk
	lastUpdate int
	sent       bool
}

func NewAssembler(display Display, logger *zap.Logger) *Assembler {
	return &Assembler{
		display: display,
		logger:  logger,
		state:   StateAccumulating,
	}
}

// State reports the assembler lifecycle phase.
func (a *Assembler) State() State { return a.state }

// Run consumes events until the terminal event. Events after the terminal
// one are never processed; the client contract means there are none.
func (a *Assembler) Run(events <-chan Event) error {
	for ev := range events {
		switch ev.Type {
		case EventChunks:
			// Only the latest retrieval matters, not cumulative.
			a.chunks = ev.Chunks

		case EventToken:
			a.text.WriteString(ev.Token)
			if a.text.Len()-a.lastUpdate >= updateThreshold {
				if err := a.push(truncate(a.text.String() + ellipsis)); err != nil {
					return err
				}
				a.lastUpdate = a.text.Len()
			}

		case EventDone:
			a.state = StateFinalizing
			final := truncate(formatWithSources(a.text.String(), a.chunks))
			if err := a.push(final); err != nil {
				return err
			}
			a.state = StateCompleted
			return nil

		case EventError:
			a.state = StateFailed
			return a.push("Error querying knowledge base: " + ev.Err)
		}
	}

	// Producer went away without a terminal event (cancelled context).
	a.state = StateFailed
	a.logger.Warn("query stream ended without terminal event")
	return a.push("Error querying knowledge base: interrupted")
}

func (a *Assembler) push(content string) error {
	if !a.sent {
		if err := a.display.Send(content); err != nil {
			return fmt.Errorf("send display message: %w", err)
		}
		a.sent = true
		return nil
	}
	if err := a.display.Edit(content); err != nil {
		return fmt.Errorf("edit display message: %w", err)
	}
	return nil
}

// formatWithSources appends a sources section listing up to maxSources
// distinct citation keys, ordered by first appearance.
func formatWithSources(answer string, chunks []Chunk) string {
	if len(chunks) == 0 {
		return answer
	}

	var b strings.Builder
	b.WriteString(answer)
	b.WriteString("\n\n**Sources:**\n")

	seen := make(map[string]struct{}, maxSources)
	for _, ch := range chunks {
		if len(seen) >= maxSources {
			break
		}
		filename := ch.Filename
		if filename == "" {
			filename = "unknown"
		}
		key := fmt.Sprintf("%s:%d-%d", filename, ch.StartLine, ch.EndLine)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		fmt.Fprintf(&b, "- `%s`\n", key)
	}
	return b.String()
}

// truncate caps s at the display limit, cutting on a rune boundary so
// multi-byte text never ends mid-character.
func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= maxDisplayLength {
		return s
	}
	return string(runes[:maxDisplayLength-len(ellipsis)]) + ellipsis
}
