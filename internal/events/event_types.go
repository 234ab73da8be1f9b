package events

import "time"

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketOpened      EventType = "ticket_opened"
	EventTicketClaimed     EventType = "ticket_claimed"
	EventTicketTransferred EventType = "ticket_transferred"
	EventTicketClosed      EventType = "ticket_closed"
	EventTicketAutoWarned  EventType = "ticket_auto_warned"
	EventTranscriptCreated EventType = "transcript_created"
)

// Event represents a lifecycle event emitted by the ticket services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	GuildID   string    `json:"guild_id"`
	TicketID  string    `json:"ticket_id"`
	ActorID   string    `json:"actor_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// TicketOpenedPayload payload.
type TicketOpenedPayload struct {
	ChannelID string `json:"channel_id"`
	Category  string `json:"category"`
	Mode      string `json:"mode"`
}

// TicketClaimedPayload payload.
type TicketClaimedPayload struct {
	ClaimedBy string `json:"claimed_by"`
}

// TicketTransferredPayload payload.
type TicketTransferredPayload struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
}

// TicketClosedPayload payload.
type TicketClosedPayload struct {
	Tag       string `json:"tag,omitempty"`
	AutoClose bool   `json:"auto_close"`
}

// TranscriptCreatedPayload payload.
type TranscriptCreatedPayload struct {
	TranscriptID string `json:"transcript_id"`
	MessageCount int    `json:"message_count"`
}
