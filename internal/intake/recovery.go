package intake

import (
	"context"
	"log"
	"regexp"
	"strings"
	"time"
)

// mentionRe strips user-mention markup before history text is handed to
// extraction: Slack's <@U123> form and Discord's <@123>/<@!123> form.
var mentionRe = regexp.MustCompile(`<@!?[A-Za-z0-9]+>`)

// Recover attempts to rebuild a session from thread history after its row
// was lost. It returns true when a recovered session now owns the thread.
//
// Recovery is conservative: it proceeds only when the thread is old enough
// to predate this message's conversation and the history shows the bot was
// already replying there. Transport errors decline rather than fail, so a
// flaky history API degrades to treating the message as a fresh start.
func (m *Machine) Recover(ctx context.Context, msg InboundMessage, threadID string) (bool, error) {
	history, err := m.adapter.ThreadHistory(ctx, msg.ChannelID, threadID, m.historyLimit)
	if err != nil {
		log.Printf("intake: recovery history fetch [thread=%s]: %v", threadID, err)
		return false, nil
	}
	if len(history) < 2 {
		return false, nil
	}

	// A thread younger than the minimum age cannot be an interrupted
	// conversation worth rebuilding.
	if time.Since(history[0].Timestamp) < m.minThreadAge {
		return false, nil
	}

	// Without evidence the bot ever spoke here, there was no session to
	// lose.
	if !historyShowsBot(history, m.botUserID) {
		return false, nil
	}

	content := collectUserContent(history, msg.UserID)
	if strings.TrimSpace(content) == "" {
		return false, nil
	}

	log.Printf("intake: recovering session [thread=%s user=%s] from %d messages",
		threadID, msg.UserID, len(history))

	profile, err := m.adapter.LookupUser(ctx, msg.UserID)
	if err != nil {
		log.Printf("intake: recovery lookup user %s: %v", msg.UserID, err)
		profile = UserProfile{DisplayName: msg.UserName}
	}

	sess := NewSessionFor(msg, threadID, profile)
	sess.Side[sideRecovered] = time.Now().Format(time.RFC3339)

	// One extraction pass over the joined transcript, not one per message.
	res, err := m.extractor.ExtractFields(ctx, content, sess.Fields, "")
	if err != nil {
		log.Printf("intake: recovery extract [thread=%s]: %v", threadID, err)
	} else {
		sess.Fields.MergeNoOverwrite(res.Fields)
	}

	if err := sess.Save(m.db); err != nil {
		return false, err
	}

	m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgRecoveryCatchUp,
		summaryAttachment(sess, m.requiredFields))

	// The triggering message is a normal turn against the rebuilt session;
	// with nothing to say, just re-enter the dialog where the field set
	// leaves off.
	if text := strings.TrimSpace(msg.Text); text != "" {
		return true, m.handleGathering(ctx, sess, text)
	}
	return true, m.afterFieldMerge(ctx, sess, "")
}

// historyShowsBot reports whether the bot authored any message in history.
func historyShowsBot(history []ThreadMessage, botUserID string) bool {
	for _, hm := range history {
		if hm.IsBot {
			return true
		}
		if botUserID != "" && hm.UserID == botUserID {
			return true
		}
	}
	return false
}

// collectUserContent joins the requesting user's substantive messages,
// oldest first, with mention markup stripped and command chatter excluded.
func collectUserContent(history []ThreadMessage, userID string) string {
	var parts []string
	for _, hm := range history {
		if hm.IsBot || hm.UserID != userID {
			continue
		}
		text := strings.TrimSpace(mentionRe.ReplaceAllString(hm.Text, ""))
		if text == "" || LooksCommandLike(text) {
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n")
}
