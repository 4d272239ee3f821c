package intake

import (
	"context"
	"log"
	"strconv"
	"strings"
)

// handleDupCheck resolves the fork created when a user with an open session
// in another thread started talking in this one. The placeholder session
// carries the other session's id in its step marker and the triggering
// message in the side channel; nothing else happens until the user picks a
// side.
func (m *Machine) handleDupCheck(ctx context.Context, sess *Session, text string) error {
	otherID, err := strconv.ParseUint(
		strings.TrimPrefix(sess.Rec.CurrentStep, stepDupCheckPrefix), 10, 64)
	if err != nil {
		// Corrupt marker: clear it and fall back to a clean start here.
		log.Printf("intake: session %d corrupt dup marker %q: %v",
			sess.Rec.ID, sess.Rec.CurrentStep, err)
		return m.dupStartFresh(ctx, sess, 0, text)
	}

	switch Classify(text, IntentCancel, IntentContinueThere, IntentStartFresh) {
	case IntentCancel:
		return m.cancelSession(ctx, sess)
	case IntentContinueThere:
		otherChannel := sess.Side[sideDupChannel]
		if err := m.cancelSilently(sess); err != nil {
			return err
		}
		m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, continueTherePrompt(otherChannel))
		return nil
	case IntentStartFresh:
		return m.dupStartFresh(ctx, sess, uint(otherID), sess.Side[sideDupFirstMsg])
	}

	// Substantive free text is an implicit "start fresh": the user is
	// already answering questions here. Short unrecognized replies re-ask.
	if m.isSubstantive(text) {
		first := sess.Side[sideDupFirstMsg]
		if first != "" && first != text {
			text = first + "\n" + text
		}
		return m.dupStartFresh(ctx, sess, uint(otherID), text)
	}

	m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, dupCheckPrompt(sess.Side[sideDupChannel]))
	return nil
}

// dupStartFresh cancels the other session, strips the placeholder state,
// and runs the held or combined first message through normal gathering.
func (m *Machine) dupStartFresh(ctx context.Context, sess *Session, otherID uint, firstText string) error {
	if otherID != 0 {
		if err := CancelSessionByID(m.db, otherID); err != nil {
			return err
		}
	}

	sess.Rec.CurrentStep = ""
	delete(sess.Side, sideDupThread)
	delete(sess.Side, sideDupChannel)
	delete(sess.Side, sideDupFirstMsg)
	if err := sess.Save(m.db); err != nil {
		return err
	}

	m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgGreeting)
	if strings.TrimSpace(firstText) == "" {
		return m.askNextField(ctx, sess, "")
	}
	return m.handleGathering(ctx, sess, firstText)
}

// cancelSilently closes the placeholder session without the usual
// cancellation message.
func (m *Machine) cancelSilently(sess *Session) error {
	return CancelSessionByID(m.db, sess.Rec.ID)
}
