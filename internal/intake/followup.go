package intake

import (
	"context"
	"log"
)

// handleFollowUp processes one inbound text while the session is walking
// its persisted follow-up question sequence.
func (m *Machine) handleFollowUp(ctx context.Context, sess *Session, text string) error {
	switch Classify(text, IntentCancel, IntentReset, IntentDone, IntentSubmitAsIs,
		IntentSkip, IntentUnsure, IntentDiscuss, IntentNudge) {
	case IntentCancel:
		return m.cancelSession(ctx, sess)
	case IntentReset:
		return m.resetSession(ctx, sess)
	case IntentDone, IntentSubmitAsIs:
		// Short-circuit: stop asking and move to confirmation.
		sess.Rec.FollowUpIndex = len(sess.FollowUps)
		return m.enterConfirming(ctx, sess, "")
	case IntentSkip, IntentUnsure:
		return m.askFollowUpFrom(ctx, sess, sess.Rec.FollowUpIndex+1, "")
	case IntentDiscuss:
		if sess.FollowUpActive() {
			sess.AppendDiscussItem(sess.FollowUps[sess.Rec.FollowUpIndex].Question)
		}
		return m.askFollowUpFrom(ctx, sess, sess.Rec.FollowUpIndex+1, "Flagged for discussion.")
	case IntentNudge:
		m.replayQuestion(ctx, sess)
		return nil
	}

	if mentionsExistingAsset(text) {
		return m.enterDraftFlow(ctx, sess)
	}

	q := sess.FollowUps[sess.Rec.FollowUpIndex]
	remaining := sess.FollowUps[sess.Rec.FollowUpIndex+1:]

	ans, err := m.extractor.InterpretAnswer(ctx, text, q, sess.Fields, remaining)
	if err != nil {
		// Keep the raw answer rather than losing the turn.
		log.Printf("intake: interpret answer for session %d: %v", sess.Rec.ID, err)
		ans = AnswerResult{Value: text}
	}

	if ans.Value != "" {
		sess.Side[q.FieldKey] = ans.Value
	}
	sess.Fields.MergeNoOverwrite(ans.AdditionalFields)

	return m.askFollowUpFrom(ctx, sess, sess.Rec.FollowUpIndex+1, "")
}

// askFollowUpFrom advances the cursor to the first index at or after start
// whose question is not already answered — indices can be pre-answered by
// an earlier free-form message and must be skipped, not re-asked — then
// asks it, or enters confirmation when the sequence is exhausted.
func (m *Machine) askFollowUpFrom(ctx context.Context, sess *Session, start int, ack string) error {
	i := start
	for i < len(sess.FollowUps) && sess.FollowUpAnswered(i) {
		i++
	}
	sess.Rec.FollowUpIndex = i

	if i >= len(sess.FollowUps) {
		return m.enterConfirming(ctx, sess, ack)
	}

	q := sess.FollowUps[i]
	sess.Side[sideLastQuestion] = q.Question
	if err := sess.Save(m.db); err != nil {
		return err
	}
	m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, joinAck(ack, q.Question))
	return nil
}
