package relay

import (
	"fmt"
	"strings"

	"github.com/zulandar/sociobot/internal/chat"
)

// Scope selects the channel categories a backlog pass visits. It has no
// effect on realtime routing.
type Scope struct {
	DMs    bool
	BotDMs bool
	Text   bool
}

// AllScopes covers every channel category.
var AllScopes = Scope{DMs: true, BotDMs: true, Text: true}

// ParseScope parses a comma-separated list of dms, botdms, text and all.
// An empty string means all.
func ParseScope(s string) (Scope, error) {
	if strings.TrimSpace(s) == "" {
		return AllScopes, nil
	}
	var sc Scope
	for _, part := range strings.Split(s, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "all":
			sc = AllScopes
		case "dms":
			sc.DMs = true
		case "botdms":
			sc.BotDMs = true
		case "text":
			sc.Text = true
		case "":
		default:
			return Scope{}, fmt.Errorf("relay: unknown scope %q (want dms, botdms, text or all)", part)
		}
	}
	if sc == (Scope{}) {
		return AllScopes, nil
	}
	return sc, nil
}

// Includes reports whether channels of kind are in scope.
func (s Scope) Includes(kind chat.ChannelKind) bool {
	switch kind {
	case chat.KindDM:
		return s.DMs
	case chat.KindShared:
		return s.BotDMs
	}
	return s.Text
}

func (s Scope) String() string {
	if s == AllScopes {
		return "all"
	}
	var parts []string
	for _, k := range []chat.ChannelKind{chat.KindDM, chat.KindShared, chat.KindGuildText} {
		if s.Includes(k) {
			parts = append(parts, k.String())
		}
	}
	return strings.Join(parts, ",")
}
