// Package agent is the boundary to the external AI agent: running it as a
// subprocess, the batch file exchange, and the audio helpers around it.
package agent

import (
	"context"
	"time"

	"github.com/zulandar/sociobot/internal/chat"
)

// Default invocation timeouts.
const (
	RealtimeTimeout = 180 * time.Second
	BatchTimeout    = 300 * time.Second
)

// Request is one agent invocation.
type Request struct {
	Query   string
	Channel chat.Channel
	Author  string // username the query is on behalf of, "batch" for backlogs
	Timeout time.Duration
}

// Result is what the agent produced. A timeout is reported in TimedOut with
// a nil error; the error return is kept for failures to start at all.
type Result struct {
	Text     string
	ExitCode int
	TimedOut bool
}

// Failed reports whether the invocation counts against the breaker.
func (r Result) Failed() bool {
	return r.TimedOut || r.ExitCode != 0
}

// Invoker runs the agent.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Result, error)
}

// Reply is the realtime outcome handed to the router.
type Reply struct {
	Text             string
	HadTranscription bool // an audio attachment was transcribed into the query
	ACLLimited       bool // the chain is at or over the ceiling
}
