package chat

import (
	"errors"
	"strings"
)

// Platform tags the origin of a chat message. The string form is used both on
// the wire and as the CSS class on the viewer page.
type Platform string

const (
	YouTubePlatform Platform = "YouTube"
	TwitchPlatform  Platform = "Twitch"
)

// AnonymousAuthor is substituted when a platform omits the display name.
const AnonymousAuthor = "anonymous"

// ErrUnknownPlatform is returned by Append for a message with an unrecognised platform.
var ErrUnknownPlatform = errors.New("unknown chat platform")

// Valid reports whether p is one of the known platforms.
func (p Platform) Valid() bool {
	return p == YouTubePlatform || p == TwitchPlatform
}

func (p Platform) String() string { return string(p) }

// ChatMessage is the unified record both connectors produce.
type ChatMessage struct {
	Platform Platform `json:"platform"`
	Author   string   `json:"author"`
	Message  string   `json:"message"`
}

// NewMessage builds a ChatMessage, substituting AnonymousAuthor when the
// vendor supplied a blank author. The text is kept unescaped and untrimmed.
func NewMessage(p Platform, author, text string) ChatMessage {
	if strings.TrimSpace(author) == "" {
		author = AnonymousAuthor
	}
	return ChatMessage{Platform: p, Author: author, Message: text}
}
