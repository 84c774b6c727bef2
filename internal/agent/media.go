package agent

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/zulandar/sociobot/internal/chat"
)

// Transcriber turns an audio attachment into text.
type Transcriber interface {
	Transcribe(ctx context.Context, att chat.Attachment) (string, error)
}

// Synthesizer renders text to an audio file and returns its path.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// CommandTranscriber runs "<Command> <attachment url>" and takes stdout as
// the transcript.
type CommandTranscriber struct {
	Command string
}

func (c *CommandTranscriber) Transcribe(ctx context.Context, att chat.Attachment) (string, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Command, att.URL)
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("agent: transcribe %s: %w", att.Name, err)
	}
	return strings.TrimSpace(out.String()), nil
}

// CommandSynthesizer runs "<Command> <output path>" with the text on stdin.
type CommandSynthesizer struct {
	Command string
	OutDir  string // defaults to the system temp dir
}

func (c *CommandSynthesizer) Synthesize(ctx context.Context, text string) (string, error) {
	dir := c.OutDir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "speech-*.mp3")
	if err != nil {
		return "", fmt.Errorf("agent: speech file: %w", err)
	}
	path := f.Name()
	f.Close()

	cmd := exec.CommandContext(ctx, c.Command, path)
	cmd.Stdin = strings.NewReader(text)
	if err := cmd.Run(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("agent: synthesize speech: %w", err)
	}
	if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
		os.Remove(path)
		return "", fmt.Errorf("agent: synthesize speech: no audio written to %s", filepath.Base(path))
	}
	return path, nil
}
