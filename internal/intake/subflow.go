package intake

import (
	"context"
	"encoding/json"
	"log"
	"regexp"
	"strconv"
	"strings"
)

// Draft sub-flow phases, carried after stepDraftPrefix in CurrentStep.
const (
	draftPhaseLink   = "link"
	draftPhaseStatus = "status"
	draftPhaseDate   = "date"
	draftPhaseMore   = "more"
)

// linkRe pulls the first URL out of a reply, including Slack's <url|label>
// markup form.
var linkRe = regexp.MustCompile(`<?(https?://[^\s>|]+)`)

// enterDraftFlow suspends the current question and starts collecting
// existing-asset records. The interrupted position is stashed in the side
// channel so the dialog resumes exactly where it left off, even across a
// process restart.
func (m *Machine) enterDraftFlow(ctx context.Context, sess *Session) error {
	if sess.Rec.CurrentStep != "" {
		sess.Side[sideStashedStep] = sess.Rec.CurrentStep
	}
	if sess.FollowUpActive() {
		sess.Side[sideStashedFollowUp] = strconv.Itoa(sess.Rec.FollowUpIndex)
	}
	sess.Rec.CurrentStep = stepDraftPrefix + draftPhaseLink
	if err := sess.Save(m.db); err != nil {
		return err
	}
	m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgDraftAskLink)
	return nil
}

// handleDraftFlow routes one reply through the active draft phase. Saying
// "cancel" here abandons only the sub-flow, not the session.
func (m *Machine) handleDraftFlow(ctx context.Context, sess *Session, text string) error {
	if Classify(text, IntentCancel) == IntentCancel {
		delete(sess.Side, sideDraftPending)
		return m.exitDraftFlow(ctx, sess, "Okay, skipping that.")
	}

	phase := strings.TrimPrefix(sess.Rec.CurrentStep, stepDraftPrefix)
	switch phase {
	case draftPhaseLink:
		return m.draftCaptureLink(ctx, sess, text)
	case draftPhaseStatus:
		return m.draftCaptureStatus(ctx, sess, text)
	case draftPhaseDate:
		return m.draftCaptureDate(ctx, sess, text)
	case draftPhaseMore:
		return m.draftAskMore(ctx, sess, text)
	default:
		log.Printf("intake: session %d in unknown draft phase %q", sess.Rec.ID, phase)
		return m.exitDraftFlow(ctx, sess, "")
	}
}

func (m *Machine) draftCaptureLink(ctx context.Context, sess *Session, text string) error {
	link := text
	if match := linkRe.FindStringSubmatch(text); match != nil {
		link = match[1]
	}

	pending := DraftAsset{Link: strings.TrimSpace(link)}
	data, err := json.Marshal(pending)
	if err != nil {
		return err
	}
	sess.Side[sideDraftPending] = string(data)
	sess.Rec.CurrentStep = stepDraftPrefix + draftPhaseStatus
	if err := sess.Save(m.db); err != nil {
		return err
	}
	m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgDraftAskStatus)
	return nil
}

func (m *Machine) draftCaptureStatus(ctx context.Context, sess *Session, text string) error {
	pending, ok := m.pendingDraft(sess)
	if !ok {
		return m.exitDraftFlow(ctx, sess, "")
	}

	norm := strings.ToLower(text)
	readyHit := strings.Contains(norm, "ready") || strings.Contains(norm, "done") ||
		strings.Contains(norm, "finished") || strings.Contains(norm, "final")
	progressHit := strings.Contains(norm, "progress") || strings.Contains(norm, "wip") ||
		strings.Contains(norm, "still") || strings.Contains(norm, "not") ||
		strings.Contains(norm, "working")

	// "Done-ish but still tweaking" matches both sets; treat it like
	// neither and ask again.
	if readyHit == progressHit {
		m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgDraftStatusUnclear)
		return nil
	}

	if readyHit {
		pending.Status = "ready"
		delete(sess.Side, sideDraftPending)
		if err := sess.AppendDraftAsset(pending); err != nil {
			return err
		}
		sess.Rec.CurrentStep = stepDraftPrefix + draftPhaseMore
		if err := sess.Save(m.db); err != nil {
			return err
		}
		m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgDraftAskMore)
		return nil
	}

	pending.Status = "in_progress"
	data, err := json.Marshal(pending)
	if err != nil {
		return err
	}
	sess.Side[sideDraftPending] = string(data)
	sess.Rec.CurrentStep = stepDraftPrefix + draftPhaseDate
	if err := sess.Save(m.db); err != nil {
		return err
	}
	m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgDraftAskDate)
	return nil
}

func (m *Machine) draftCaptureDate(ctx context.Context, sess *Session, text string) error {
	pending, ok := m.pendingDraft(sess)
	if !ok {
		return m.exitDraftFlow(ctx, sess, "")
	}

	pending.Expected = strings.TrimSpace(text)
	delete(sess.Side, sideDraftPending)
	if err := sess.AppendDraftAsset(pending); err != nil {
		return err
	}
	sess.Rec.CurrentStep = stepDraftPrefix + draftPhaseMore
	if err := sess.Save(m.db); err != nil {
		return err
	}
	m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgDraftAskMore)
	return nil
}

func (m *Machine) draftAskMore(ctx context.Context, sess *Session, text string) error {
	switch Classify(text, IntentConfirm, IntentDone) {
	case IntentConfirm:
		sess.Rec.CurrentStep = stepDraftPrefix + draftPhaseLink
		if err := sess.Save(m.db); err != nil {
			return err
		}
		m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgDraftAskLink)
		return nil
	case IntentDone:
		return m.exitDraftFlow(ctx, sess, "Thanks — noted what you already have.")
	}

	// An unprompted link counts as "yes, here's another one".
	if linkRe.MatchString(text) {
		return m.draftCaptureLink(ctx, sess, text)
	}
	m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgDraftAskMore)
	return nil
}

// pendingDraft decodes the half-built asset record. A missing or corrupt
// record aborts the sub-flow instead of filing garbage.
func (m *Machine) pendingDraft(sess *Session) (DraftAsset, bool) {
	raw := sess.Side[sideDraftPending]
	if strings.TrimSpace(raw) == "" {
		log.Printf("intake: session %d has no pending draft record", sess.Rec.ID)
		return DraftAsset{}, false
	}
	var pending DraftAsset
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		log.Printf("intake: session %d pending draft decode: %v", sess.Rec.ID, err)
		return DraftAsset{}, false
	}
	return pending, true
}

// exitDraftFlow restores the stashed dialog position and re-asks whatever
// question was interrupted.
func (m *Machine) exitDraftFlow(ctx context.Context, sess *Session, ack string) error {
	stashedStep := sess.Side[sideStashedStep]
	stashedIdx := sess.Side[sideStashedFollowUp]
	delete(sess.Side, sideStashedStep)
	delete(sess.Side, sideStashedFollowUp)
	delete(sess.Side, sideDraftPending)
	sess.Rec.CurrentStep = stashedStep

	if stashedIdx != "" {
		idx, err := strconv.Atoi(stashedIdx)
		if err != nil || idx < 0 {
			idx = 0
		}
		// Resume from the interrupted question; askFollowUpFrom skips it if
		// it was answered along the way.
		return m.askFollowUpFrom(ctx, sess, idx, ack)
	}
	return m.askNextField(ctx, sess, ack)
}
