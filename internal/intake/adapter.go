// Package intake implements Waybill's conversational request-intake core:
// the per-thread session state machine, its idempotency and debounce guards,
// crash recovery from thread history, and the nested sub-flow mechanism.
// Chat transports, field extraction, and ticketing are collaborators behind
// the Adapter, Extractor, and Ticketer interfaces.
package intake

import (
	"context"
	"time"
)

// Adapter is the interface that platform-specific implementations must
// satisfy. Each adapter handles connection management, message
// sending/receiving, thread history retrieval, and user profile lookup for
// a single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the context is cancelled or the adapter
	// is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg OutboundMessage) error

	// ThreadHistory retrieves recent messages from a thread, oldest first.
	ThreadHistory(ctx context.Context, channelID, threadID string, limit int) ([]ThreadMessage, error)

	// LookupUser resolves a platform user id to a display profile.
	LookupUser(ctx context.Context, userID string) (UserProfile, error)

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// InboundMessage represents a message received from the chat platform.
type InboundMessage struct {
	Platform  string    // e.g. "slack", "discord"
	MessageID string    // platform-unique message identifier, used for dedup
	ChannelID string    // platform-specific channel identifier
	ThreadID  string    // thread/conversation identifier (empty if top-level)
	UserID    string    // platform-specific user identifier
	UserName  string    // human-readable username
	Text      string    // raw message text
	Timestamp time.Time // when the message was sent
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID   string       // target channel
	ThreadID    string       // thread to reply in (empty for new top-level message)
	Text        string       // message text (platform-native formatting)
	Attachments []Attachment // structured attachments (summaries, review cards)
}

// Attachment is a structured card rendered alongside a message, used for
// the confirmation summary and the review-channel posting.
type Attachment struct {
	Title  string
	Body   string
	Color  string // sidebar color hint (e.g. "#36a64f")
	Fields []Field
}

// Field is a key-value pair displayed in an attachment.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}

// ThreadMessage represents a single message within a thread history.
type ThreadMessage struct {
	UserID    string
	UserName  string
	Text      string
	IsBot     bool // authored by the bot itself (or any bot integration)
	Timestamp time.Time
}

// UserProfile is the result of a platform user lookup.
type UserProfile struct {
	DisplayName string
	Title       string
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering and
// lets recovery identify which history messages the bot wrote.
type BotUserIDer interface {
	BotUserID() string
}
