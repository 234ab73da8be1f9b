package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen   TicketStatus = "OPEN"
	TicketStatusClosed TicketStatus = "CLOSED"
)

// TagAutoClose marks tickets closed by the inactivity sweep.
const TagAutoClose = "auto-close"

// Ticket is the persisted record of one support conversation.
// Records are never deleted; closed tickets remain for audit.
type Ticket struct {
	ID             string
	GuildID        string
	ChannelID      string
	OwnerID        string
	Status         TicketStatus
	Category       string
	CategoryKey    string
	ClaimedBy      *string
	CreatedAt      time.Time
	LastActivityAt time.Time
	AutoWarnedAt   *time.Time
	ClosedAt       *time.Time
	Tag            *string
}

// IdleSince returns the reference time used by the auto-close sweep:
// the last recorded activity, or the creation time if the ticket was
// never touched after opening.
func (t *Ticket) IdleSince() time.Time {
	if t.LastActivityAt.IsZero() {
		return t.CreatedAt
	}
	return t.LastActivityAt
}

// IsClaimed reports whether a staff member holds the ticket.
func (t *Ticket) IsClaimed() bool {
	return t.ClaimedBy != nil && *t.ClaimedBy != ""
}
