package intake

import (
	"fmt"
	"strings"

	"github.com/waybill/waybill/internal/models"
)

// Attachment colors, matching the review pipeline's severity palette.
const (
	ColorInfo    = "#439fe0"
	ColorSuccess = "#36a64f"
	ColorWarning = "#daa038"
)

const (
	msgGreeting = "Hi! I'll collect a few details so your request can be routed for review. " +
		"You can say \"cancel\", \"skip\", or \"start over\" at any point."

	msgCancelled = "Okay, request cancelled. Message me again any time to start a new one."

	msgReset = "Starting over — previous answers cleared."

	msgUnsureGathering = "No problem — a rough answer is fine, or say \"skip\" and we'll come back to it."

	msgCouldNotParse = "I couldn't pull anything from that — mind rephrasing?"

	msgWhatToChange = "Nothing changed. Tell me which detail to update, or say \"yes\" to submit."

	msgConfirmMenu = "Say \"yes\" to submit, name a detail to change it, \"start over\" to restart, or \"cancel\" to drop the request."

	msgDraftAskLink = "Great — drop the link to what you already have."

	msgDraftAskStatus = "Got it. Is it ready to use as-is, or still in progress?"

	msgDraftStatusUnclear = "Sorry, I need a clear answer here: is it ready, or still in progress?"

	msgDraftAskDate = "When do you expect it to be ready?"

	msgDraftAskMore = "Noted. Anything else you already have? (\"yes\" or \"done\")"

	msgPostSubMenu = "This request has already been submitted. I can: (1) add information, " +
		"(2) request a scope change, or (3) withdraw it. Which one?"

	msgPostSubAskInfo = "Sure — what should I add to the ticket?"

	msgPostSubAskScope = "Okay — describe the scope change you need."

	msgPostSubConfirmWithdraw = "Withdraw this request? Say \"yes\" to confirm or \"cancel\" to keep it."

	msgWithdrawn = "Done — the request has been withdrawn."

	msgWithdrawKept = "Okay, the request stays as filed."

	msgRecoveryCatchUp = "Sorry — I lost track of this conversation for a moment. " +
		"I've caught up from the thread; here's where we are:"
)

// apology is the single generic failure message; fallbackChannel points the
// user at a human when the bot cannot proceed.
func apology(fallbackChannel string) string {
	if fallbackChannel == "" {
		return "Something went wrong on my end. Please try again in a moment."
	}
	return fmt.Sprintf("Something went wrong on my end. Please try again in a moment, or ask a human in %s.", fallbackChannel)
}

// dupCheckPrompt asks the user to choose between an existing session and a
// fresh one here.
func dupCheckPrompt(otherChannel string) string {
	where := "another thread"
	if otherChannel != "" {
		where = fmt.Sprintf("another thread in <#%s>", otherChannel)
	}
	return fmt.Sprintf("You already have a request in progress in %s. "+
		"Say \"continue there\" to keep working on that one, or \"start fresh\" to abandon it and begin here.", where)
}

func continueTherePrompt(otherChannel string) string {
	if otherChannel == "" {
		return "Okay — pick up your existing request in its original thread."
	}
	return fmt.Sprintf("Okay — pick up your existing request in its thread in <#%s>.", otherChannel)
}

// summaryAttachment renders the collected request as a confirmation card.
func summaryAttachment(s *Session, fields []FieldSpecView) Attachment {
	att := Attachment{
		Title: "Request summary",
		Color: ColorInfo,
	}
	for _, fs := range fields {
		val := strings.Join(s.Fields[fs.Key], "; ")
		if val == "" {
			val = "—"
		}
		att.Fields = append(att.Fields, Field{Name: fs.Key, Value: val, Short: len(val) < 40})
	}
	for k, v := range s.Side.Extras() {
		att.Fields = append(att.Fields, Field{Name: k, Value: v, Short: false})
	}
	return att
}

// reviewAttachment renders the submitted request for the review channel.
func reviewAttachment(s *Session) Attachment {
	att := Attachment{
		Title: fmt.Sprintf("New %s request from %s", s.Rec.Classification, s.Rec.UserName),
		Body:  s.Fields.Get("summary"),
		Color: ColorSuccess,
	}
	if s.Rec.TicketURL != "" {
		att.Fields = append(att.Fields, Field{Name: "ticket", Value: s.Rec.TicketURL})
	}
	return att
}

// FieldSpecView is the machine's view of one configured required field.
type FieldSpecView struct {
	Key      string
	Question string
}

// statusLine describes a submitted session for post-submission replies.
func statusLine(rec *models.IntakeSession) string {
	switch rec.Status {
	case models.StatusPendingApproval:
		if rec.TicketURL != "" {
			return fmt.Sprintf("Your request is pending approval: %s", rec.TicketURL)
		}
		return "Your request is pending approval."
	case models.StatusComplete:
		if rec.TicketURL != "" {
			return fmt.Sprintf("Your request was completed: %s", rec.TicketURL)
		}
		return "Your request was completed."
	default:
		return "Your request has been submitted."
	}
}
