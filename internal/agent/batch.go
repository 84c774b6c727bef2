package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/zulandar/sociobot/internal/acl"
	"github.com/zulandar/sociobot/internal/chat"
)

// Batch exchange file names inside the per-call temp dir.
const (
	InputFile  = "messages.json"
	OutputFile = "responses.json"
)

// BatchMessage is one backlog message offered to the agent.
type BatchMessage struct {
	Message chat.Message
	Content string // message text with mentions resolved
	Advice  acl.Advice
}

// BatchRequest offers a channel's backlog to the agent in one call.
type BatchRequest struct {
	Channel  chat.Channel
	Messages []BatchMessage
	Timeout  time.Duration
	Debug    bool
}

// BatchResponse is one reply the agent chose to write.
type BatchResponse struct {
	MessageID string `json:"messageId"`
	Response  string `json:"response"`
}

type batchInput struct {
	Channel  batchChannel `json:"channel"`
	Messages []batchEntry `json:"messages"`
}

type batchChannel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type batchEntry struct {
	ID                string      `json:"id"`
	Author            batchAuthor `json:"author"`
	Content           string      `json:"content"`
	Timestamp         string      `json:"timestamp"`
	InformationalOnly bool        `json:"informationalOnly"`
	ReactionsOnly     bool        `json:"reactionsOnly"`
}

type batchAuthor struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// isoMillis matches JavaScript's Date.toISOString.
const isoMillis = "2006-01-02T15:04:05.000Z"

// BatchQuery is the instruction given to the agent for a backlog.
func BatchQuery(channelName, inputPath, outputPath string) string {
	return fmt.Sprintf("While the bot was down, these messages were sent in %s. "+
		"The message data is in the file %s. "+
		"Please read the file and respond to whichever messages you wish to, or none at all. "+
		`Write your responses as a JSON array to %s with format: [{"messageId": "123", "response": "your response"}]. `+
		"Only respond to messages that warrant a response.",
		channelName, inputPath, outputPath)
}

// Batch writes req to messages.json in a fresh temp dir, invokes the agent
// with the batch instruction, and reads back responses.json. A missing or
// malformed response file yields no responses. The temp dir is always
// removed. The Result is returned for breaker accounting.
func Batch(ctx context.Context, inv Invoker, req BatchRequest) ([]BatchResponse, Result, error) {
	dir, err := os.MkdirTemp("", "discord-bot-")
	if err != nil {
		return nil, Result{}, fmt.Errorf("agent: batch temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("agent: cleanup %s: %v", dir, err)
		}
	}()
	inputPath := filepath.Join(dir, InputFile)
	outputPath := filepath.Join(dir, OutputFile)

	data, err := json.MarshalIndent(buildInput(req), "", "  ")
	if err != nil {
		return nil, Result{}, fmt.Errorf("agent: encode batch: %w", err)
	}
	if err := os.WriteFile(inputPath, data, 0o644); err != nil {
		return nil, Result{}, fmt.Errorf("agent: write %s: %w", inputPath, err)
	}
	if req.Debug {
		log.Printf("agent: batch input %s:\n%s", inputPath, data)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = BatchTimeout
	}
	res, err := inv.Invoke(ctx, Request{
		Query:   BatchQuery(req.Channel.DisplayName(), inputPath, outputPath),
		Channel: req.Channel,
		Author:  "batch",
		Timeout: timeout,
	})
	if err != nil {
		return nil, res, err
	}
	return readResponses(outputPath), res, nil
}

func buildInput(req BatchRequest) batchInput {
	typ := "guild"
	if req.Channel.Kind == chat.KindDM {
		typ = "DM"
	}
	in := batchInput{
		Channel:  batchChannel{ID: req.Channel.ID, Name: req.Channel.DisplayName(), Type: typ},
		Messages: make([]batchEntry, 0, len(req.Messages)),
	}
	for _, bm := range req.Messages {
		m := bm.Message
		content := bm.Content
		if content == "" {
			content = m.Content
		}
		in.Messages = append(in.Messages, batchEntry{
			ID:                m.ID,
			Author:            batchAuthor{ID: m.Author.ID, Username: m.Author.Username},
			Content:           content,
			Timestamp:         m.CreatedAt.UTC().Format(isoMillis),
			InformationalOnly: bm.Advice.InformationalOnly,
			ReactionsOnly:     bm.Advice.ReactionsOnly,
		})
	}
	return in
}

func readResponses(path string) []BatchResponse {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("agent: no output file created by agent")
		return nil
	}
	if err != nil {
		log.Printf("agent: read %s: %v", path, err)
		return nil
	}
	var out []BatchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		log.Printf("agent: parse %s: %v", path, err)
		return nil
	}
	return out
}
