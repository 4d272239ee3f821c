package intake

import "context"

// Ticketer is the external ticket-tracking collaborator that receives a
// completed request for review and approval.
type Ticketer interface {
	// CreateTicket files the collected request and returns its identity.
	CreateTicket(ctx context.Context, req TicketRequest) (TicketRef, error)

	// UpdateTicketStatus moves a ticket through the review pipeline
	// ("withdrawn", "needs-review", ...). Updating to the current status
	// is a no-op.
	UpdateTicketStatus(ctx context.Context, ticketID, status string) error

	// AppendTicketNote attaches additional information to a filed ticket.
	AppendTicketNote(ctx context.Context, ticketID, note string) error
}

// TicketRequest carries everything the ticket backend needs to file a
// request.
type TicketRequest struct {
	Fields         Fields
	Extras         map[string]string // follow-up answers and other side-channel domain data
	Classification string
	RequesterName  string
	ThreadRef      string // link back to the originating chat thread
}

// TicketRef identifies a filed ticket.
type TicketRef struct {
	ID  string
	URL string
}
