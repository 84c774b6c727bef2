package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/zulandar/sociobot/internal/chat"
)

// Subprocess runs the agent CLI as "<Command> discord|discord-dm <Agent>" in
// Home, writing the query to stdin and reading the reply from stdout.
type Subprocess struct {
	Command string // defaults to "zai"
	Agent   string
	Home    string
	Debug   bool
}

// Invoke runs one agent process. The process group is sent SIGTERM when
// the request times out or ctx is cancelled.
func (s *Subprocess) Invoke(ctx context.Context, req Request) (Result, error) {
	binary := s.Command
	if binary == "" {
		binary = "zai"
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = RealtimeTimeout
	}
	source := "discord"
	if req.Channel.Kind == chat.KindDM {
		source = "discord-dm"
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, source, s.Agent)
	cmd.Dir = s.Home
	cmd.Env = append(os.Environ(), Env(req)...)
	cmd.Stdin = strings.NewReader(req.Query)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Use a process group so SIGTERM reaches the agent's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 10 * time.Second

	if s.Debug {
		log.Printf("agent: spawning %s %s %s", binary, source, s.Agent)
	}
	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		log.Printf("agent: %s timed out after %s", s.Agent, timeout)
		return Result{TimedOut: true, ExitCode: -1}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		log.Printf("agent: %s failed (code %d), stderr: %s", s.Agent, exitErr.ExitCode(), truncate(stderr.String(), 1200))
		return Result{Text: ExtractResponse(stdout.String()), ExitCode: exitErr.ExitCode()}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("agent: run %s: %w", binary, err)
	}
	return Result{Text: ExtractResponse(stdout.String())}, nil
}

// Env returns the ZDS_AI_AGENT_MESSAGE_* variables describing req's channel.
func Env(req Request) []string {
	ch := req.Channel
	privacy := "public"
	if ch.Private || ch.Kind == chat.KindDM {
		privacy = "private"
	}
	server := ch.GuildName
	if server == "" {
		server = "DM"
	}
	return []string{
		"ZDS_AI_AGENT_MESSAGE_SOURCE=discord",
		"ZDS_AI_AGENT_MESSAGE_CHANNEL=" + ch.DisplayName(),
		"ZDS_AI_AGENT_MESSAGE_AUTHOR=" + req.Author,
		"ZDS_AI_AGENT_MESSAGE_PRIVACY=" + privacy,
		"ZDS_AI_AGENT_MESSAGE_SERVER=" + server,
		"ZDS_AI_AGENT_MESSAGE_MEMBERS=" + strings.Join(ch.Members, ","),
	}
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// ExtractResponse pulls the reply out of agent stdout: colour codes are
// removed and, if any line starts with ">", the reply is the last such line
// (marker stripped) plus everything after it.
func ExtractResponse(out string) string {
	out = ansiEscape.ReplaceAllString(out, "")
	lines := strings.Split(out, "\n")
	start := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), ">") {
			start = i
			break
		}
	}
	if start == -1 {
		return strings.TrimSpace(out)
	}
	first := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lines[start]), ">"))
	rest := strings.TrimSpace(strings.Join(lines[start+1:], "\n"))
	if rest != "" {
		first += "\n" + rest
	}
	return strings.TrimSpace(first)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
