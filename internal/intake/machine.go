package intake

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/waybill/waybill/internal/models"
	"gorm.io/gorm"
)

// Machine owns session dispatch: it guards each inbound message through the
// dedup ledger and the debouncer, loads or creates the session for its
// thread, and routes the text to the handler for the session's status and
// step. Handlers persist after every mutation; the machine itself holds no
// dialog state between messages.
type Machine struct {
	db        *gorm.DB
	adapter   Adapter
	extractor Extractor
	ticketer  Ticketer
	debounce  *Debouncer
	out       io.Writer

	botUserID       string
	requiredFields  []FieldSpecView
	debounceDelay   time.Duration
	substantiveMin  int // runes below which raw text is not a field value
	minThreadAge    time.Duration
	historyLimit    int
	reviewChannel   string
	fallbackChannel string

	// visibility-race retry knobs, see loadCurrent
	retryAttempts int
	retryBase     time.Duration
	retryCap      time.Duration
}

// MachineOpts holds parameters for creating a Machine.
type MachineOpts struct {
	DB        *gorm.DB
	Adapter   Adapter
	Extractor Extractor
	Ticketer  Ticketer

	BotUserID       string
	RequiredFields  []FieldSpecView // ordered intake fields and their questions
	DebounceDelay   time.Duration   // defaults to DefaultDebounceDelay
	SubstantiveMin  int             // defaults to 20 runes
	MinThreadAge    time.Duration   // recovery skips threads younger than this
	HistoryLimit    int             // max thread messages fetched for recovery
	ReviewChannel   string          // channel the submission summary is posted to
	FallbackChannel string          // human help channel named in apologies
	Out             io.Writer       // defaults to os.Stdout
}

// NewMachine creates a Machine.
func NewMachine(opts MachineOpts) (*Machine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("intake: machine: db is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("intake: machine: adapter is required")
	}
	if opts.Extractor == nil {
		return nil, fmt.Errorf("intake: machine: extractor is required")
	}
	if opts.Ticketer == nil {
		return nil, fmt.Errorf("intake: machine: ticketer is required")
	}
	if len(opts.RequiredFields) == 0 {
		return nil, fmt.Errorf("intake: machine: at least one required field is needed")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	delay := opts.DebounceDelay
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}
	substantive := opts.SubstantiveMin
	if substantive <= 0 {
		substantive = 20
	}
	minAge := opts.MinThreadAge
	if minAge <= 0 {
		minAge = 2 * time.Minute
	}
	histLimit := opts.HistoryLimit
	if histLimit <= 0 {
		histLimit = 100
	}
	return &Machine{
		db:              opts.DB,
		adapter:         opts.Adapter,
		extractor:       opts.Extractor,
		ticketer:        opts.Ticketer,
		debounce:        NewDebouncer(),
		out:             out,
		botUserID:       opts.BotUserID,
		requiredFields:  opts.RequiredFields,
		debounceDelay:   delay,
		substantiveMin:  substantive,
		minThreadAge:    minAge,
		historyLimit:    histLimit,
		reviewChannel:   opts.ReviewChannel,
		fallbackChannel: opts.FallbackChannel,
		retryAttempts:   defaultRetryAttempts,
		retryBase:       defaultRetryBase,
		retryCap:        defaultRetryCap,
	}, nil
}

// HandleInbound runs the full pipeline for one inbound message. It blocks
// for the debounce window, so the caller should invoke it on its own
// goroutine per message.
func (m *Machine) HandleInbound(ctx context.Context, msg InboundMessage) {
	if m.botUserID != "" && msg.UserID == m.botUserID {
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		return
	}

	claimed, err := Claim(m.db, msg.MessageID)
	if err != nil {
		// Fail closed: without a durable claim we cannot prove this message
		// wasn't processed elsewhere, so drop it.
		log.Printf("intake: claim %s: %v — dropping message", msg.MessageID, err)
		return
	}
	if !claimed {
		return
	}

	threadID := resolveThreadID(msg.ChannelID, msg.ThreadID)
	if !m.debounce.Schedule(ctx, debounceKey(threadID, msg.UserID), m.debounceDelay) {
		fmt.Fprintf(m.out, "intake: debounced [thread=%s user=%s]\n", threadID, msg.UserName)
		return
	}

	fmt.Fprintf(m.out, "intake: recv [thread=%s user=%s] %q\n",
		threadID, msg.UserName, truncate(msg.Text, 80))

	if err := m.dispatch(ctx, msg, threadID); err != nil {
		log.Printf("intake: dispatch [thread=%s user=%s]: %v", threadID, msg.UserID, err)
		m.send(ctx, msg.ChannelID, threadID, apology(m.fallbackChannel))
	}
}

// dispatch routes one debounced message to the handler for its session.
func (m *Machine) dispatch(ctx context.Context, msg InboundMessage, threadID string) error {
	sess, err := m.loadCurrent(ctx, msg.UserID, threadID)
	if err != nil {
		return err
	}

	text := strings.TrimSpace(msg.Text)

	if sess == nil {
		// No session row was ever persisted for this thread: it may have
		// been lost. Recovery rebuilds it from transport history; when it
		// declines, this is simply a brand-new conversation.
		recovered, err := m.Recover(ctx, msg, threadID)
		if err != nil {
			return err
		}
		if recovered {
			return nil
		}
		return m.startSession(ctx, msg, threadID, text)
	}

	if sess.Rec.Terminal() {
		// Terminal sessions never mutate; a new message here starts a
		// brand-new session in the same thread.
		return m.startSession(ctx, msg, threadID, text)
	}

	switch sess.Rec.Status {
	case models.StatusGathering:
		return m.handleGathering(ctx, sess, text)
	case models.StatusConfirming:
		return m.handleConfirming(ctx, sess, text)
	case models.StatusPendingApproval, models.StatusComplete:
		return m.handlePostSubmission(ctx, sess, text)
	default:
		return fmt.Errorf("intake: session %d in unknown status %q", sess.Rec.ID, sess.Rec.Status)
	}
}

// loadCurrent fetches the latest session for the thread, retrying briefly
// to cover the window where another instance's just-created row is not yet
// visible. Returns nil when no row was ever persisted.
func (m *Machine) loadCurrent(ctx context.Context, userID, threadID string) (*Session, error) {
	var sess *Session
	_, err := withBackoff(ctx, m.retryAttempts, m.retryBase, m.retryCap,
		func() (bool, error) {
			var err error
			sess, err = LatestSession(m.db, userID, threadID)
			if err != nil {
				return false, err
			}
			return sess != nil, nil
		})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// startSession creates a new session for the thread, running duplicate-
// session arbitration first. firstText is the triggering message; when a
// session starts cleanly it is fed straight into gathering instead of
// being discarded.
func (m *Machine) startSession(ctx context.Context, msg InboundMessage, threadID, firstText string) error {
	profile, err := m.adapter.LookupUser(ctx, msg.UserID)
	if err != nil {
		log.Printf("intake: lookup user %s: %v", msg.UserID, err)
		profile = UserProfile{DisplayName: msg.UserName}
	}

	sess := NewSessionFor(msg, threadID, profile)

	other, err := OpenSessionElsewhere(m.db, msg.UserID, threadID)
	if err != nil {
		return err
	}
	if other != nil {
		// Defer creation: persist a placeholder and make the user choose.
		sess.Rec.CurrentStep = fmt.Sprintf("%s%d", stepDupCheckPrefix, other.ID)
		sess.Side[sideDupThread] = other.ThreadID
		sess.Side[sideDupChannel] = other.ChannelID
		sess.Side[sideDupFirstMsg] = firstText
		if err := sess.Save(m.db); err != nil {
			return err
		}
		m.send(ctx, sess.Rec.ChannelID, threadID, dupCheckPrompt(other.ChannelID))
		return nil
	}

	if err := sess.Save(m.db); err != nil {
		return err
	}
	m.send(ctx, sess.Rec.ChannelID, threadID, msgGreeting)
	return m.handleGathering(ctx, sess, firstText)
}

// askNextField prompts for the first unset required field, recording the
// question so nudge/resume can replay it.
func (m *Machine) askNextField(ctx context.Context, sess *Session, ack string) error {
	for _, fs := range m.requiredFields {
		if sess.Fields.IsSet(fs.Key) {
			continue
		}
		sess.Rec.CurrentStep = fs.Key
		sess.Side[sideLastQuestion] = fs.Question
		if err := sess.Save(m.db); err != nil {
			return err
		}
		m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, joinAck(ack, fs.Question))
		return nil
	}
	// Everything answered: move on to follow-ups.
	return m.enterFollowUpPhase(ctx, sess, ack)
}

// allRequiredSet reports whether every configured field has a value.
func (m *Machine) allRequiredSet(sess *Session) bool {
	for _, fs := range m.requiredFields {
		if !sess.Fields.IsSet(fs.Key) {
			return false
		}
	}
	return true
}

// isRequiredField reports whether key names a configured intake field.
func (m *Machine) isRequiredField(key string) bool {
	for _, fs := range m.requiredFields {
		if fs.Key == key {
			return true
		}
	}
	return false
}

// isSubstantive reports whether text is long enough, and command-free
// enough, to stand as a field value on its own.
func (m *Machine) isSubstantive(text string) bool {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < m.substantiveMin {
		return false
	}
	return !LooksCommandLike(text)
}

// send posts a reply, logging failures rather than surfacing them: a failed
// send never rolls back state already persisted.
func (m *Machine) send(ctx context.Context, channelID, threadID, text string, attachments ...Attachment) {
	err := m.adapter.Send(ctx, OutboundMessage{
		ChannelID:   channelID,
		ThreadID:    threadID,
		Text:        text,
		Attachments: attachments,
	})
	if err != nil {
		log.Printf("intake: send [ch=%s thread=%s]: %v", channelID, threadID, err)
	}
}

// replayQuestion re-sends the last question asked, for nudge/resume.
func (m *Machine) replayQuestion(ctx context.Context, sess *Session) {
	q := sess.Side[sideLastQuestion]
	if q == "" {
		q = msgGreeting
	}
	m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, q)
}

// cancelSession marks the session cancelled and tells the user.
func (m *Machine) cancelSession(ctx context.Context, sess *Session) error {
	now := time.Now()
	sess.Rec.Status = models.StatusCancelled
	sess.Rec.CurrentStep = ""
	sess.Rec.CompletedAt = &now
	if err := sess.Save(m.db); err != nil {
		return err
	}
	m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgCancelled)
	return nil
}

// resetSession clears all progress and restarts gathering from the first
// question.
func (m *Machine) resetSession(ctx context.Context, sess *Session) error {
	sess.Fields = NewFields()
	sess.Side = make(SideChannel)
	sess.FollowUps = nil
	sess.Rec.FollowUpIndex = 0
	sess.Rec.CurrentStep = ""
	sess.Rec.Classification = models.ClassUndetermined
	sess.Rec.Status = models.StatusGathering
	if err := sess.Save(m.db); err != nil {
		return err
	}
	m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgReset)
	return m.askNextField(ctx, sess, "")
}

// resolveThreadID returns the effective thread key for session lookups.
// Top-level channel messages use the channel id as the thread key so that
// replies in the same channel find the session without an explicit thread.
func resolveThreadID(channelID, threadID string) string {
	if threadID == "" {
		return channelID
	}
	return threadID
}

func debounceKey(threadID, userID string) string {
	return threadID + ":" + userID
}

func joinAck(ack, question string) string {
	if strings.TrimSpace(ack) == "" {
		return question
	}
	return ack + "\n\n" + question
}

// truncate returns s truncated to maxLen with "..." appended if needed.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
