package intake

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/waybill/waybill/internal/models"
)

// enterConfirming transitions the session to the confirmation state and
// shows the collected request.
func (m *Machine) enterConfirming(ctx context.Context, sess *Session, ack string) error {
	sess.Rec.Status = models.StatusConfirming
	sess.Rec.CurrentStep = ""
	sess.Side[sideLastQuestion] = msgConfirmMenu
	if err := sess.Save(m.db); err != nil {
		return err
	}
	m.showSummary(ctx, sess, ack)
	return nil
}

// showSummary re-sends the request summary card and the confirm menu.
func (m *Machine) showSummary(ctx context.Context, sess *Session, ack string) {
	m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID,
		joinAck(ack, "Here's what I have. "+msgConfirmMenu),
		summaryAttachment(sess, m.requiredFields))
}

// handleConfirming processes one inbound text in the confirmation state.
// Commands are probed cancel-first; anything unrecognized is treated as a
// correction, where extraction is re-run with overwrite allowed.
func (m *Machine) handleConfirming(ctx context.Context, sess *Session, text string) error {
	switch Classify(text, IntentCancel, IntentReset, IntentStartFresh, IntentResume,
		IntentConfirm, IntentSubmitAsIs, IntentNudge, IntentUnsure) {
	case IntentCancel:
		return m.cancelSession(ctx, sess)
	case IntentReset, IntentStartFresh:
		return m.resetSession(ctx, sess)
	case IntentResume, IntentNudge:
		m.showSummary(ctx, sess, "")
		return nil
	case IntentConfirm, IntentSubmitAsIs:
		return m.submit(ctx, sess)
	case IntentUnsure:
		m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgConfirmMenu)
		return nil
	}

	// Correction mode: overwrite is allowed here, and only here.
	res, err := m.extractor.ExtractFields(ctx, text, sess.Fields, "")
	if err != nil {
		log.Printf("intake: correction extract for session %d: %v", sess.Rec.ID, err)
		m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgCouldNotParse)
		return nil
	}

	changed := sess.Fields.MergeOverwrite(res.Fields)
	if changed == 0 {
		m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, msgWhatToChange)
		return nil
	}
	if err := sess.Save(m.db); err != nil {
		return err
	}
	m.showSummary(ctx, sess, "Updated.")
	return nil
}

// submit hands the collected request to the ticket backend and moves the
// session to pending approval. Safe to retry: the ticket id guard and the
// dedup ledger together ensure a retried confirm never files twice.
func (m *Machine) submit(ctx context.Context, sess *Session) error {
	if sess.Rec.TicketID != "" {
		// A previous confirm already filed the ticket; just restate.
		sess.Rec.Status = models.StatusPendingApproval
		if err := sess.Save(m.db); err != nil {
			return err
		}
		m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, statusLine(sess.Rec))
		return nil
	}

	ref, err := m.ticketer.CreateTicket(ctx, TicketRequest{
		Fields:         sess.Fields.Clone(),
		Extras:         sess.Side.Extras(),
		Classification: sess.Rec.Classification,
		RequesterName:  sess.Rec.UserName,
		ThreadRef:      fmt.Sprintf("%s/%s", sess.Rec.ChannelID, sess.Rec.ThreadID),
	})
	if err != nil {
		log.Printf("intake: create ticket for session %d: %v", sess.Rec.ID, err)
		m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID, apology(m.fallbackChannel))
		return nil
	}

	sess.Rec.TicketID = ref.ID
	sess.Rec.TicketURL = ref.URL
	sess.Rec.Status = models.StatusPendingApproval
	now := time.Now()
	sess.Rec.CompletedAt = &now
	if err := sess.Save(m.db); err != nil {
		return err
	}

	m.postReviewMessage(ctx, sess)

	m.send(ctx, sess.Rec.ChannelID, sess.Rec.ThreadID,
		fmt.Sprintf("Submitted! Your request is now pending approval: %s", ref.URL))
	return nil
}

// postReviewMessage announces the submission in the review channel and
// records where, so post-submission updates can be appended there later.
// Best-effort: a failed post never blocks the submission.
func (m *Machine) postReviewMessage(ctx context.Context, sess *Session) {
	if m.reviewChannel == "" {
		return
	}
	err := m.adapter.Send(ctx, OutboundMessage{
		ChannelID:   m.reviewChannel,
		Text:        fmt.Sprintf("New request from %s", sess.Rec.UserName),
		Attachments: []Attachment{reviewAttachment(sess)},
	})
	if err != nil {
		log.Printf("intake: post review message for session %d: %v", sess.Rec.ID, err)
		return
	}
	sess.Rec.ReviewChannelID = m.reviewChannel
	sess.Rec.ReviewMessageID = sess.Rec.TicketID // correlate by ticket when the platform returns no message id
	if err := sess.Save(m.db); err != nil {
		log.Printf("intake: record review pointer for session %d: %v", sess.Rec.ID, err)
	}
}
