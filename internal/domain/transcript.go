package domain

import "time"

// Transcript is an immutable capture of a closed ticket's history.
// The ID is an opaque random identifier suitable for public URLs.
type Transcript struct {
	ID           string
	GuildID      string
	ChannelID    string
	OwnerID      string
	MessageCount int
	Markdown     string
	HTML         string
	CreatedAt    time.Time
}
