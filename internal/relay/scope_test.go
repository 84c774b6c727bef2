package relay

import (
	"testing"

	"github.com/zulandar/sociobot/internal/chat"
)

func TestParseScope(t *testing.T) {
	tests := []struct {
		in      string
		want    Scope
		wantErr bool
	}{
		{"", AllScopes, false},
		{"all", AllScopes, false},
		{"dms", Scope{DMs: true}, false},
		{"botdms,text", Scope{BotDMs: true, Text: true}, false},
		{" DMs , text ", Scope{DMs: true, Text: true}, false},
		{"dms,,", Scope{DMs: true}, false},
		{",", AllScopes, false},
		{"dms,all", AllScopes, false},
		{"guilds", Scope{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseScope(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseScope(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseScope(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestScope_Includes(t *testing.T) {
	s := Scope{BotDMs: true}
	if s.Includes(chat.KindDM) || s.Includes(chat.KindGuildText) {
		t.Error("botdms scope includes other kinds")
	}
	if !s.Includes(chat.KindShared) {
		t.Error("botdms scope excludes the shared channel")
	}
}

func TestScope_String(t *testing.T) {
	tests := []struct {
		s    Scope
		want string
	}{
		{AllScopes, "all"},
		{Scope{DMs: true}, "dms"},
		{Scope{DMs: true, Text: true}, "dms,text"},
		{Scope{BotDMs: true, Text: true}, "botdms,text"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("%+v.String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
