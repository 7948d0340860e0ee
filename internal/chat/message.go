// Package chat implements the session store and room coordination core of the
// relay: entities, the connection/room registry, and the workflows that turn
// inbound events into store mutations and outbound broadcasts.
package chat

import (
	"fmt"
	"strings"
	"time"
)

// MaxMessageLen is the maximum message length in runes after trimming.
const MaxMessageLen = 500

// Message is an immutable chat message. Construct via NewMessage.
type Message struct {
	// Text is the trimmed message body.
	Text string
	// Author is the display name of the sender.
	Author string
	// Room is the room the message was sent to (may be empty).
	Room string
	// Timestamp is the creation instant.
	Timestamp time.Time
}

// NewMessage validates and constructs a Message. Text and author are trimmed;
// the timestamp is set to the current time.
//
// Precondition: text must be non-empty after trimming and at most
// MaxMessageLen runes; author must be non-empty after trimming.
// Postcondition: Returns a fully populated Message, or a *ValidationError.
func NewMessage(text, author, room string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, &ValidationError{Field: "text", Reason: "message must not be empty"}
	}
	if len([]rune(text)) > MaxMessageLen {
		return Message{}, &ValidationError{
			Field:  "text",
			Reason: fmt.Sprintf("message must not exceed %d characters", MaxMessageLen),
		}
	}
	author = strings.TrimSpace(author)
	if author == "" {
		return Message{}, &ValidationError{Field: "author", Reason: "author must not be empty"}
	}

	return Message{
		Text:      text,
		Author:    author,
		Room:      room,
		Timestamp: time.Now(),
	}, nil
}
