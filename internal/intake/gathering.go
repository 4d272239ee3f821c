package intake

import (
	"context"
	"log"
	"regexp"

	"github.com/waybill/waybill/internal/models"
)

// draftMentionRe detects a user volunteering that partial work already
// exists, which triggers the draft-collection sub-flow.
var draftMentionRe = regexp.MustCompile(
	`(?i)\b(already ha(ve|s)|there('s| is)( already)?|i ha(ve|d)( got)? a|existing)\b.{0,40}\b(draft|doc|document|deck|design|mock(up)?|prototype|asset|version)\b`)

// mentionsExistingAsset reports whether free text announces an existing
// draft or asset.
func mentionsExistingAsset(text string) bool {
	return draftMentionRe.MatchString(text)
}

// handleGathering processes one inbound text while the session is
// gathering. Sub-flow markers route first; then control commands, in the
// fixed gathering priority order; then field extraction.
func (m *Machine) handleGathering(ctx context.Context, sess *Session, text string) error {
	switch {
	case sess.InStep(stepDraftPrefix):
		return m.handleDraftFlow(ctx, sess, text)
	case sess.InStep(stepPostSubPrefix):
		return m.handlePostSubFlow(ctx, sess, text)
	case sess.InStep(stepDupCheckPrefix):
		return m.handleDupCheck(ctx, sess, text)
	}

	if sess.FollowUpActive() {
		return m.handleFollowUp(ctx, sess, text)
	}

	switch Classify(text, IntentCancel, IntentReset, IntentResume, IntentNudge, IntentUnsure, IntentDiscuss) {
	case IntentCancel:
		return m.cancelSession(ctx, sess)
	case IntentReset:
		return m.resetSession(ctx, sess)
	case IntentResume, IntentNudge:
		m.replayQuestion(ctx, sess)
		return nil
	case IntentUnsure:
		m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgUnsureGathering)
		return nil
	case IntentDiscuss:
		sess.AppendDiscussItem(sess.Rec.CurrentStep)
		sess.Fields.Set(sess.Rec.CurrentStep, "(to discuss)")
		return m.askNextField(ctx, sess, "Flagged for discussion — we'll come back to it.")
	}

	if mentionsExistingAsset(text) {
		return m.enterDraftFlow(ctx, sess)
	}

	return m.mergeFreeText(ctx, sess, text)
}

// mergeFreeText hands free-form content to the extractor and applies the
// result under the no-overwrite policy, with a raw-text fallback when
// extraction finds nothing for the field currently being asked.
func (m *Machine) mergeFreeText(ctx context.Context, sess *Session, text string) error {
	var extracted Fields
	var ack string

	res, err := m.extractor.ExtractFields(ctx, text, sess.Fields, sess.Rec.CurrentStep)
	if err != nil {
		// Extraction is best-effort; the raw-text heuristic below still
		// applies, so a collaborator outage degrades rather than aborts.
		log.Printf("intake: extract for session %d: %v", sess.Rec.ID, err)
		extracted = NewFields()
	} else {
		extracted = res.Fields
		ack = res.Acknowledgment
	}

	applied := sess.Fields.MergeNoOverwrite(extracted)

	if applied == 0 && m.isRequiredField(sess.Rec.CurrentStep) && m.isSubstantive(text) {
		sess.Fields.Set(sess.Rec.CurrentStep, text)
		applied = 1
	}

	if applied == 0 {
		if err := sess.Save(m.db); err != nil {
			return err
		}
		m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgCouldNotParse)
		m.replayQuestion(ctx, sess)
		return nil
	}

	return m.afterFieldMerge(ctx, sess, ack)
}

// afterFieldMerge advances the dialog after any field merge: either the
// next unanswered question, or the follow-up phase once every required
// field is populated. Recovery re-enters dispatch through here too.
func (m *Machine) afterFieldMerge(ctx context.Context, sess *Session, ack string) error {
	if !m.allRequiredSet(sess) {
		return m.askNextField(ctx, sess, ack)
	}
	return m.enterFollowUpPhase(ctx, sess, ack)
}

// enterFollowUpPhase runs the one-shot classification and follow-up
// generation, persists both, and asks the first unanswered question. Both
// collaborator calls are best-effort: on failure the session skips
// straight to confirmation rather than stalling.
func (m *Machine) enterFollowUpPhase(ctx context.Context, sess *Session, ack string) error {
	if sess.FollowUps == nil {
		tags, err := m.extractor.ClassifyRequest(ctx, sess.Fields)
		if err != nil {
			log.Printf("intake: classify session %d: %v", sess.Rec.ID, err)
		}
		sess.Rec.Classification = classificationFromTags(tags)

		followUps, err := m.extractor.GenerateFollowUps(ctx, sess.Fields, tags)
		if err != nil {
			log.Printf("intake: generate follow-ups for session %d: %v", sess.Rec.ID, err)
			followUps = []FollowUp{}
		}
		if followUps == nil {
			followUps = []FollowUp{}
		}
		sess.FollowUps = followUps
		sess.Rec.FollowUpIndex = 0
		sess.Rec.CurrentStep = ""
		if err := sess.Save(m.db); err != nil {
			return err
		}
	}

	return m.askFollowUpFrom(ctx, sess, sess.Rec.FollowUpIndex, ack)
}

// classificationFromTags maps collaborator type tags onto the session
// classification.
func classificationFromTags(tags []string) string {
	for _, t := range tags {
		switch t {
		case "quick", "small", "minor":
			return models.ClassQuick
		}
	}
	if len(tags) == 0 {
		return models.ClassUndetermined
	}
	return models.ClassFull
}
