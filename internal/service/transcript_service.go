package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bot/internal/domain"
	"github.com/spec-kit/ticket-bot/internal/platform"
	"github.com/spec-kit/ticket-bot/internal/repository"
)

// transcriptMessageCap bounds how much history a transcript captures.
const transcriptMessageCap = 300

// fetchPageSize is the platform's maximum page size for history reads.
const fetchPageSize = 100

// TranscriptService captures a bounded message history into markdown
// and HTML and persists it immutably.
type TranscriptService struct {
	transcripts repository.TranscriptRepository
	client      platform.Client
	logger      *zap.Logger
	baseURL     string
}

// TranscriptDependencies bundles collaborators for the service.
type TranscriptDependencies struct {
	TranscriptRepo repository.TranscriptRepository
	Client         platform.Client
	Logger         *zap.Logger
	PublicBaseURL  string
}

// NewTranscriptService constructs the service.
func NewTranscriptService(deps TranscriptDependencies) *TranscriptService {
	return &TranscriptService{
		transcripts: deps.TranscriptRepo,
		client:      deps.Client,
		logger:      deps.Logger,
		baseURL:     strings.TrimRight(deps.PublicBaseURL, "/"),
	}
}

// Build fetches the ticket channel's history, renders both formats and
// persists the transcript. Returns the stored record and its public
// URL, which is empty when no base URL is configured.
func (s *TranscriptService) Build(ctx context.Context, ticket *domain.Ticket) (*domain.Transcript, string, error) {
	messages, err := s.fetchHistory(ctx, ticket.ChannelID)
	if err != nil {
		return nil, "", err
	}

	resolver := s.newMentionResolver(ctx, ticket.GuildID, messages)

	transcript := &domain.Transcript{
		ID:           newTranscriptID(),
		GuildID:      ticket.GuildID,
		ChannelID:    ticket.ChannelID,
		OwnerID:      ticket.OwnerID,
		MessageCount: len(messages),
		Markdown:     renderMarkdown(messages),
		HTML:         renderHTML(ticket, messages, resolver),
	}

	if err := s.transcripts.Create(ctx, transcript); err != nil {
		return nil, "", err
	}

	return transcript, s.PublicURL(transcript.ID), nil
}

// PublicURL returns the public link for a transcript id, or empty when
// transcripts are not publicly exposed.
func (s *TranscriptService) PublicURL(id string) string {
	if s.baseURL == "" {
		return ""
	}
	return s.baseURL + "/transcripts/" + id
}

// fetchHistory pages backwards through the channel history up to the
// cap, then returns the messages in ascending timestamp order.
func (s *TranscriptService) fetchHistory(ctx context.Context, channelID string) ([]*discordgo.Message, error) {
	var collected []*discordgo.Message
	beforeID := ""

	for len(collected) < transcriptMessageCap {
		limit := transcriptMessageCap - len(collected)
		if limit > fetchPageSize {
			limit = fetchPageSize
		}
		page, err := s.client.Messages(ctx, channelID, limit, beforeID)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		collected = append(collected, page...)
		beforeID = page[len(page)-1].ID
		if len(page) < limit {
			break
		}
	}

	sort.SliceStable(collected, func(i, j int) bool {
		return collected[i].Timestamp.Before(collected[j].Timestamp)
	})
	return collected, nil
}

func (s *TranscriptService) newMentionResolver(ctx context.Context, guildID string, messages []*discordgo.Message) *mentionResolver {
	resolver := &mentionResolver{
		users:    make(map[string]string),
		roles:    make(map[string]string),
		channels: make(map[string]string),
	}
	for _, msg := range messages {
		for _, user := range msg.Mentions {
			resolver.users[user.ID] = user.Username
		}
	}
	// Role and channel names come from guild data; failures here only
	// degrade mention rendering, never the transcript itself.
	if guild, err := s.client.Guild(ctx, guildID); err == nil {
		for _, role := range guild.Roles {
			resolver.roles[role.ID] = role.Name
		}
	} else {
		s.logger.Warn("transcript guild lookup failed", zap.String("guild_id", guildID), zap.Error(err))
	}
	if channels, err := s.client.GuildChannels(ctx, guildID); err == nil {
		for _, ch := range channels {
			resolver.channels[ch.ID] = ch.Name
		}
	}
	return resolver
}

// renderMarkdown emits one line per message:
// [timestamp] author: content [attachment urls]
func renderMarkdown(messages []*discordgo.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		b.WriteString("[")
		b.WriteString(msg.Timestamp.UTC().Format(time.RFC3339))
		b.WriteString("] ")
		b.WriteString(authorName(msg))
		b.WriteString(": ")
		b.WriteString(strings.ReplaceAll(msg.Content, "\n", " "))
		if len(msg.Attachments) > 0 {
			urls := make([]string, 0, len(msg.Attachments))
			for _, att := range msg.Attachments {
				urls = append(urls, att.URL)
			}
			b.WriteString(" [")
			b.WriteString(strings.Join(urls, " "))
			b.WriteString("]")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func authorName(msg *discordgo.Message) string {
	if msg.Author == nil {
		return "unknown"
	}
	return msg.Author.Username
}

func newTranscriptID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// TranscriptFileName names the markdown attachment delivered on close.
func TranscriptFileName(ticket *domain.Ticket) string {
	return fmt.Sprintf("transcript-%s.md", ticket.ID)
}
