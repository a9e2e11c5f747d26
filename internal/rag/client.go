// Package rag talks to the retrieval-augmented-generation backend. The
// Client streams typed events off the backend's SSE feed; the Assembler
// folds that stream into one throttled, citation-annotated chat message.
package rag

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/oharu121/discord-gemini-bot/internal/history"
)

// EventType tags a stream event.
type EventType int

const (
	EventChunks EventType = iota
	EventToken
	EventDone
	EventError
)

// Chunk is one retrieved source document span.
type Chunk struct {
	Filename  string `json:"filename"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// Event is one typed event off the backend stream. Exactly one field beyond
// Type is meaningful, selected by Type.
type Event struct {
	Type   EventType
	Chunks []Chunk
	Token  string
	Err    string
}

type queryRequest struct {
	Message      string         `json:"message"`
	History      []history.Turn `json:"history"`
	DocumentSet  string         `json:"document_set"`
	Strategy     string         `json:"strategy"`
	UseReranking bool           `json:"use_reranking"`
}

// Client queries the RAG backend over a shared HTTP client, which is safe
// for concurrent queries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Query posts one question and streams typed events back. The returned
// channel carries at most one terminal event (Done or Error) and is closed
// right after it; a non-200 response or any transport failure, including a
// mid-stream connection drop, surfaces as that single Error event. The
// sequence is not restartable, retry with a fresh call.
func (c *Client) Query(ctx context.Context, message string, turns []history.Turn) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		c.stream(ctx, message, turns, events)
	}()
	return events
}

func (c *Client) stream(ctx context.Context, message string, turns []history.Turn, events chan<- Event) {
	send := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if turns == nil {
		turns = []history.Turn{}
	}
	body, err := json.Marshal(queryRequest{
		Message:      message,
		History:      turns,
		DocumentSet:  "original",
		Strategy:     "standard",
		UseReranking: false,
	})
	if err != nil {
		send(Event{Type: EventError, Err: fmt.Sprintf("encode request: %v", err)})
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		send(Event{Type: EventError, Err: fmt.Sprintf("build request: %v", err)})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("RAG API connection error", zap.Error(err))
		send(Event{Type: EventError, Err: fmt.Sprintf("connection error: %v", err)})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errText, _ := io.ReadAll(resp.Body)
		c.logger.Error("RAG API error",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", errText))
		send(Event{Type: EventError, Err: fmt.Sprintf("RAG API returned %d", resp.StatusCode)})
		return
	}

	// Line-oriented event-stream scan. An "event:" line names the event for
	// the "data:" lines that follow; malformed data lines are dropped.
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	current := ""
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "event: "):
			current = strings.TrimPrefix(line, "event: ")

		case strings.HasPrefix(line, "data: "):
			data := []byte(strings.TrimPrefix(line, "data: "))
			switch current {
			case "chunks":
				var payload struct {
					Chunks []Chunk `json:"chunks"`
				}
				if err := json.Unmarshal(data, &payload); err != nil {
					continue
				}
				if !send(Event{Type: EventChunks, Chunks: payload.Chunks}) {
					return
				}
			case "token":
				var payload struct {
					Token string `json:"token"`
				}
				if err := json.Unmarshal(data, &payload); err != nil {
					continue
				}
				if !send(Event{Type: EventToken, Token: payload.Token}) {
					return
				}
			case "done":
				if !json.Valid(data) {
					continue
				}
				send(Event{Type: EventDone})
				return
			case "error":
				var payload struct {
					Message string `json:"message"`
				}
				if err := json.Unmarshal(data, &payload); err != nil {
					continue
				}
				if payload.Message == "" {
					payload.Message = "Unknown error"
				}
				send(Event{Type: EventError, Err: payload.Message})
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		c.logger.Error("RAG stream read error", zap.Error(err))
		send(Event{Type: EventError, Err: fmt.Sprintf("connection error: %v", err)})
		return
	}

	// Body ended without a done or error event.
	send(Event{Type: EventError, Err: "stream closed before completion"})
}
