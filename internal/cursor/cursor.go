// Package cursor persists, per agent and channel, the id of the last message
// the agent has handled. Stores are monotonic: an id that does not move the
// cursor forward is ignored.
package cursor

import "context"

// Store reads and writes cursors.
type Store interface {
	// Get returns the cursor for (agent, channelID). ok is false when none
	// has been recorded.
	Get(ctx context.Context, agent, channelID string) (id string, ok bool, err error)
	// Set advances the cursor to id. A non-advancing id is a no-op.
	Set(ctx context.Context, agent, channelID, id string) error
	// All returns every cursor recorded for agent keyed by channel id.
	All(ctx context.Context, agent string) (map[string]string, error)
}
