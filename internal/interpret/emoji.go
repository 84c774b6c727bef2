package interpret

import "strings"

// emojiNames maps common short names to Unicode emoji.
var emojiNames = map[string]string{
	"thumbsup":    "👍",
	"thumbsdown":  "👎",
	"heart":       "❤️",
	"heart_eyes":  "😍",
	"100":         "💯",
	"fire":        "🔥",
	"eyes":        "👀",
	"thinking":    "🤔",
	"tada":        "🎉",
	"rocket":      "🚀",
	"ship":        "🚢",
	"cruise_ship": "🛳️",
	"star":        "⭐",
	"check":       "✅",
	"x":           "❌",
	"wave":        "👋",
	"waves":       "👋",
	"clap":        "👏",
	"pray":        "🙏",
	"muscle":      "💪",
	"brain":       "🧠",
	"bulb":        "💡",
	"warning":     "⚠️",
	"question":    "❓",
	"exclamation": "❗",
	"laughing":    "😂",
	"smile":       "😊",
	"grin":        "😁",
	"joy":         "😂",
	"rofl":        "🤣",
	"sunglasses":  "😎",
	"sob":         "😭",
	"scream":      "😱",
	"flushed":     "😳",
	"shrug":       "🤷",
}

// Emoji resolves a reaction name. Wrapping colons are removed; known names
// map to Unicode and anything else is returned as-is for custom emoji.
func Emoji(name string) string {
	name = strings.TrimPrefix(name, ":")
	name = strings.TrimSuffix(name, ":")
	if e, ok := emojiNames[strings.ToLower(name)]; ok {
		return e
	}
	return name
}
