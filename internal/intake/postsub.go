package intake

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/waybill/waybill/internal/models"
)

// Post-submission sub-flow phases.
const (
	postSubAddInfo     = "add_info"
	postSubScopeChange = "scope_change"
	postSubWithdraw    = "withdraw"
)

// handlePostSubmission processes inbound text for a submitted session
// (pending approval or complete). With no sub-flow step active it offers
// the three available actions; otherwise it routes to the active phase.
func (m *Machine) handlePostSubmission(ctx context.Context, sess *Session, text string) error {
	if sess.InStep(stepPostSubPrefix) {
		return m.handlePostSubFlow(ctx, sess, text)
	}

	switch classifyPostAction(text) {
	case postSubAddInfo:
		sess.Rec.CurrentStep = stepPostSubPrefix + postSubAddInfo
		if err := sess.Save(m.db); err != nil {
			return err
		}
		m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgPostSubAskInfo)
	case postSubScopeChange:
		sess.Rec.CurrentStep = stepPostSubPrefix + postSubScopeChange
		if err := sess.Save(m.db); err != nil {
			return err
		}
		m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgPostSubAskScope)
	case postSubWithdraw:
		sess.Rec.CurrentStep = stepPostSubPrefix + postSubWithdraw
		if err := sess.Save(m.db); err != nil {
			return err
		}
		m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgPostSubConfirmWithdraw)
	default:
		m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID,
			statusLine(sess.Rec)+"\n"+msgPostSubMenu)
	}
	return nil
}

// classifyPostAction maps a reply to one of the three post-submission
// actions, accepting both the menu numbers and natural phrasings.
func classifyPostAction(text string) string {
	norm := strings.ToLower(strings.TrimSpace(text))
	switch norm {
	case "1", "one":
		return postSubAddInfo
	case "2", "two":
		return postSubScopeChange
	case "3", "three":
		return postSubWithdraw
	}
	switch {
	case strings.Contains(norm, "withdraw"):
		return postSubWithdraw
	case strings.Contains(norm, "scope"):
		return postSubScopeChange
	case strings.Contains(norm, "add") && (strings.Contains(norm, "info") ||
		strings.Contains(norm, "detail") || strings.Contains(norm, "note")):
		return postSubAddInfo
	}
	return ""
}

// handlePostSubFlow routes content into the active post-submission phase.
// Every phase clears the step marker when it completes.
func (m *Machine) handlePostSubFlow(ctx context.Context, sess *Session, text string) error {
	phase := strings.TrimPrefix(sess.Rec.CurrentStep, stepPostSubPrefix)

	switch phase {
	case postSubAddInfo:
		return m.postSubAddInfo(ctx, sess, text)
	case postSubScopeChange:
		return m.postSubScopeChange(ctx, sess, text)
	case postSubWithdraw:
		return m.postSubWithdraw(ctx, sess, text)
	default:
		sess.Rec.CurrentStep = ""
		if err := sess.Save(m.db); err != nil {
			return err
		}
		m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgPostSubMenu)
		return nil
	}
}

func (m *Machine) postSubAddInfo(ctx context.Context, sess *Session, text string) error {
	if Classify(text, IntentCancel) == IntentCancel {
		return m.clearPostSubStep(ctx, sess, "Okay, nothing added.")
	}

	note := fmt.Sprintf("Additional information from %s:\n%s", sess.Rec.UserName, text)
	if err := m.ticketer.AppendTicketNote(ctx, sess.Rec.TicketID, note); err != nil {
		log.Printf("intake: append note to ticket %s: %v", sess.Rec.TicketID, err)
		m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, apology(m.fallbackChannel))
		return nil
	}
	m.notifyReviewThread(ctx, sess, "Requester added information: "+text)
	return m.clearPostSubStep(ctx, sess, "Added to the ticket.")
}

func (m *Machine) postSubScopeChange(ctx context.Context, sess *Session, text string) error {
	if Classify(text, IntentCancel) == IntentCancel {
		return m.clearPostSubStep(ctx, sess, "Okay, scope unchanged.")
	}

	note := fmt.Sprintf("Scope change requested by %s:\n%s", sess.Rec.UserName, text)
	if err := m.ticketer.AppendTicketNote(ctx, sess.Rec.TicketID, note); err != nil {
		log.Printf("intake: append scope note to ticket %s: %v", sess.Rec.TicketID, err)
		m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, apology(m.fallbackChannel))
		return nil
	}
	if err := m.ticketer.UpdateTicketStatus(ctx, sess.Rec.TicketID, "needs-review"); err != nil {
		log.Printf("intake: update ticket %s status: %v", sess.Rec.TicketID, err)
	}
	m.notifyReviewThread(ctx, sess, "Scope change requested: "+text)
	return m.clearPostSubStep(ctx, sess, "Scope change filed for review.")
}

func (m *Machine) postSubWithdraw(ctx context.Context, sess *Session, text string) error {
	// Ambiguity is never resolved by guessing: only an explicit confirm
	// withdraws; an explicit cancel keeps the ticket; anything else re-asks.
	switch Classify(text, IntentCancel, IntentConfirm) {
	case IntentConfirm:
		if err := m.ticketer.UpdateTicketStatus(ctx, sess.Rec.TicketID, "withdrawn"); err != nil {
			log.Printf("intake: withdraw ticket %s: %v", sess.Rec.TicketID, err)
			m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, apology(m.fallbackChannel))
			return nil
		}
		now := time.Now()
		sess.Rec.Status = models.StatusWithdrawn
		sess.Rec.CurrentStep = ""
		sess.Rec.CompletedAt = &now
		if err := sess.Save(m.db); err != nil {
			return err
		}
		m.notifyReviewThread(ctx, sess, "Request withdrawn by requester.")
		m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgWithdrawn)
		return nil
	case IntentCancel:
		return m.clearPostSubStep(ctx, sess, msgWithdrawKept)
	default:
		m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgPostSubConfirmWithdraw)
		return nil
	}
}

func (m *Machine) clearPostSubStep(ctx context.Context, sess *Session, reply string) error {
	sess.Rec.CurrentStep = ""
	if err := sess.Save(m.db); err != nil {
		return err
	}
	m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, reply)
	return nil
}

// notifyReviewThread forwards a post-submission update to wherever the
// review message was posted. Best-effort.
func (m *Machine) notifyReviewThread(ctx context.Context, sess *Session, text string) {
	if sess.Rec.ReviewChannelID == "" {
		return
	}
	err := m.adapter.Send(ctx, OutboundMessage{
		ChannelID: sess.Rec.ReviewChannelID,
		Text:      fmt.Sprintf("[%s] %s", sess.Rec.TicketID, text),
	})
	if err != nil {
		log.Printf("intake: notify review channel for session %d: %v", sess.Rec.ID, err)
	}
}
