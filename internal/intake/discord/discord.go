// Package discord implements the intake Adapter for Discord using the Gateway WebSocket.
package discord

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/waybill/waybill/internal/intake"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for rate-limit retries.
	maxBackoff = 2 * time.Minute
	// defaultPageSize is the default number of messages per page for history.
	defaultPageSize = 100
	// threadNameMax is Discord's limit on thread names.
	threadNameMax = 100
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	Channel(channelID string) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageThreadStartComplex(channelID, messageID string, data *discordgo.ThreadStart) (*discordgo.Channel, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	AddHandler(handler interface{}) func()
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error { return r.s.Open() }
func (r *realSession) Close() error {
	return r.s.Close()
}
func (r *realSession) Channel(channelID string) (*discordgo.Channel, error) {
	return r.s.State.Channel(channelID)
}
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) MessageThreadStartComplex(channelID, messageID string, data *discordgo.ThreadStart) (*discordgo.Channel, error) {
	return r.s.MessageThreadStartComplex(channelID, messageID, data)
}
func (r *realSession) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	return r.s.ChannelMessages(channelID, limit, beforeID, afterID, aroundID, options...)
}
func (r *realSession) User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error) {
	return r.s.User(userID, options...)
}
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}

// Adapter implements intake.Adapter for Discord via the Gateway WebSocket.
type Adapter struct {
	sess          session
	botToken      string
	channelID     string // intake channel to watch
	botUserID     string
	mu            sync.Mutex
	connected     bool
	closed        bool
	inbound       chan intake.InboundMessage
	cancelFunc    context.CancelFunc
	removeHandler func()
	baseBackoff   time.Duration
	maxBackoff    time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken  string // Discord bot token
	ChannelID string // channel to watch for new requests
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}

	a := &Adapter{
		botToken:    opts.BotToken,
		channelID:   opts.ChannelID,
		inbound:     make(chan intake.InboundMessage, 100),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}

	if opts.Session != nil {
		a.sess = opts.Session
	}

	return a, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real session if not injected (production path).
	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
		a.sess = &realSession{s: dg}
	}

	// Register Ready handler to capture bot user ID on connect/reconnect.
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
		log.Printf("discord: connected as %s (ID: %s)", r.User.Username, r.User.ID)
	})

	// discordgo handles reconnection automatically, but we log it for observability.
	a.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		log.Printf("discord: gateway disconnected, discordgo will auto-reconnect")
	})

	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Resumed) {
		log.Printf("discord: gateway session resumed")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.connected = true
	return nil
}

// Listen returns a channel of inbound messages from Discord. Registers a
// message handler on the Gateway session. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan intake.InboundMessage, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("discord: not connected")
	}
	a.mu.Unlock()

	listenCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancelFunc = cancel
	a.mu.Unlock()

	// Register message handler.
	remove := a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(m)
	})
	a.mu.Lock()
	a.removeHandler = remove
	a.mu.Unlock()

	go func() {
		<-listenCtx.Done()
	}()

	return a.inbound, nil
}

// Send delivers a message to Discord. Translates attachments to Discord embeds.
func (a *Adapter) Send(ctx context.Context, msg intake.OutboundMessage) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("discord: not connected")
	}
	a.mu.Unlock()

	// In Discord, threads are channels. If ThreadID is set, send there directly.
	channelID := msg.ThreadID
	if channelID == "" {
		channelID = msg.ChannelID
	}
	if channelID == "" {
		channelID = a.channelID
	}
	if channelID == "" {
		return fmt.Errorf("discord: no channel specified")
	}

	data := buildMessageSend(msg)

	err := a.retryOnRateLimit(ctx, func() error {
		_, sendErr := a.sess.ChannelMessageSendComplex(channelID, data)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// ThreadHistory retrieves messages from a Discord thread channel in
// chronological order. Discord threads are actual channel objects with their
// own IDs, so threadID is the channel ID of the thread.
func (a *Adapter) ThreadHistory(ctx context.Context, channelID, threadID string, limit int) ([]intake.ThreadMessage, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("discord: not connected")
	}
	botID := a.botUserID
	a.mu.Unlock()

	// In Discord, threadID IS the channel ID of the thread.
	targetChannel := threadID
	if targetChannel == "" {
		targetChannel = channelID
	}

	var allMsgs []intake.ThreadMessage
	beforeID := ""

	pageSize := defaultPageSize
	if limit > 0 && limit < pageSize {
		pageSize = limit
	}

	for {
		var msgs []*discordgo.Message
		err := a.retryOnRateLimit(ctx, func() error {
			var apiErr error
			msgs, apiErr = a.sess.ChannelMessages(targetChannel, pageSize, beforeID, "", "")
			return apiErr
		})
		if err != nil {
			return nil, fmt.Errorf("discord: channel messages: %w", err)
		}

		if len(msgs) == 0 {
			break
		}

		for _, m := range msgs {
			if m.Author == nil {
				continue
			}
			allMsgs = append(allMsgs, intake.ThreadMessage{
				UserID:    m.Author.ID,
				UserName:  m.Author.Username,
				Text:      m.Content,
				IsBot:     m.Author.Bot || (botID != "" && m.Author.ID == botID),
				Timestamp: m.Timestamp,
			})
		}

		if limit > 0 && len(allMsgs) >= limit {
			allMsgs = allMsgs[:limit]
			break
		}

		// Paginate backwards: use the last message ID as the "before" cursor.
		beforeID = msgs[len(msgs)-1].ID

		if len(msgs) < pageSize {
			break // no more pages
		}
	}

	// The API returns newest first. Callers expect chronological order.
	for i, j := 0, len(allMsgs)-1; i < j; i, j = i+1, j-1 {
		allMsgs[i], allMsgs[j] = allMsgs[j], allMsgs[i]
	}

	return allMsgs, nil
}

// LookupUser fetches a Discord user's profile. Discord profiles carry no job
// title, so only the display name is populated.
func (a *Adapter) LookupUser(ctx context.Context, userID string) (intake.UserProfile, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return intake.UserProfile{}, fmt.Errorf("discord: not connected")
	}
	a.mu.Unlock()

	var user *discordgo.User
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		user, apiErr = a.sess.User(userID)
		return apiErr
	})
	if err != nil {
		return intake.UserProfile{}, fmt.Errorf("discord: user %s: %w", userID, err)
	}

	name := user.GlobalName
	if name == "" {
		name = user.Username
	}
	return intake.UserProfile{DisplayName: name}, nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	if a.removeHandler != nil {
		a.removeHandler()
	}
	close(a.inbound)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// SetBotUserID sets the bot user ID (used for self-message filtering).
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

// handleMessage converts a Discord message event to an InboundMessage.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}

	// Filter bot self-messages.
	a.mu.Lock()
	botID := a.botUserID
	watched := a.channelID
	a.mu.Unlock()

	if m.Author.ID == botID {
		return
	}

	// Filter bot messages.
	if m.Author.Bot {
		return
	}

	// Determine thread context. In Discord, threads are channels. A message's
	// ChannelID is the thread ID if it was sent inside a thread. We look up the
	// channel from the state cache to detect this and resolve the parent channel.
	channelID := m.ChannelID
	threadID := ""

	if ch, err := a.sess.Channel(m.ChannelID); err == nil && ch.IsThread() {
		channelID = ch.ParentID
		threadID = m.ChannelID
	} else if watched != "" && m.ChannelID == watched {
		// A top-level message in the watched channel starts a new request.
		// Give it its own thread so the conversation does not clutter the
		// channel. Fall back to the channel itself if creation fails.
		threadID = a.startThread(m)
	}

	ts, _ := discordgo.SnowflakeTimestamp(m.ID)

	a.inbound <- intake.InboundMessage{
		Platform:  "discord",
		MessageID: m.ID,
		ChannelID: channelID,
		ThreadID:  threadID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Text:      m.Content,
		Timestamp: ts,
	}
}

// startThread creates a thread from a top-level message and returns its ID,
// or "" when thread creation fails.
func (a *Adapter) startThread(m *discordgo.MessageCreate) string {
	thread, err := a.sess.MessageThreadStartComplex(m.ChannelID, m.ID, &discordgo.ThreadStart{
		Name:                threadName(m.Content),
		AutoArchiveDuration: 1440, // 24 hours
		Type:                discordgo.ChannelTypeGuildPublicThread,
	})
	if err != nil {
		log.Printf("discord: start thread for message %s: %v", m.ID, err)
		return ""
	}
	return thread.ID
}

// threadName derives a thread name from the first message, truncated to
// Discord's limit.
func threadName(content string) string {
	name := strings.TrimSpace(content)
	if name == "" {
		return "New request"
	}
	if idx := strings.IndexByte(name, '\n'); idx > 0 {
		name = name[:idx]
	}
	runes := []rune(name)
	if len(runes) > threadNameMax {
		name = string(runes[:threadNameMax-3]) + "..."
	}
	return name
}

// buildMessageSend translates an OutboundMessage into a Discord MessageSend.
func buildMessageSend(msg intake.OutboundMessage) *discordgo.MessageSend {
	data := &discordgo.MessageSend{
		Content: msg.Text,
	}

	for _, att := range msg.Attachments {
		data.Embeds = append(data.Embeds, attachmentToEmbed(att))
	}

	return data
}

// attachmentToEmbed converts an Attachment to a Discord Embed.
func attachmentToEmbed(att intake.Attachment) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       att.Title,
		Description: att.Body,
	}

	if att.Color != "" {
		embed.Color = parseHexColor(att.Color)
	}

	for _, f := range att.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}

	return embed
}

// parseHexColor converts a hex color string (e.g. "#36a64f") to an int.
func parseHexColor(hex string) int {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	var color int
	for _, c := range hex {
		color <<= 4
		switch {
		case c >= '0' && c <= '9':
			color |= int(c - '0')
		case c >= 'a' && c <= 'f':
			color |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			color |= int(c-'A') + 10
		}
	}
	return color
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err // not a rate limit error
		}

		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}

		log.Printf("discord: rate limited (attempt %d/%d), retrying in %v",
			attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
