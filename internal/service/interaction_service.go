package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bot/internal/domain"
	"github.com/spec-kit/ticket-bot/internal/events"
	"github.com/spec-kit/ticket-bot/internal/platform"
	"github.com/spec-kit/ticket-bot/internal/repository"
	apperrors "github.com/spec-kit/ticket-bot/pkg/util/errorutil"
)

// MaxTagLength caps user-entered close tags.
const MaxTagLength = 64

// auditChannelName is the per-guild staff-only audit log container,
// created on first close and reused thereafter.
const auditChannelName = "ticket-logs"

// staffFallbackPerms grants ticket handling to members holding a
// general management permission even without a configured staff role.
const staffFallbackPerms = discordgo.PermissionManageChannels | discordgo.PermissionManageServer

// ClaimOutcome reports a claim attempt.
type ClaimOutcome struct {
	Ticket *domain.Ticket
	// AlreadyClaimedBy is set when another staff member holds the
	// ticket; the claim was a no-op.
	AlreadyClaimedBy string
}

// CloseOutcome reports a close initiation.
type CloseOutcome struct {
	Ticket *domain.Ticket
	// AlreadyClosed means the record was closed before; only container
	// finalization ran, no transcript was regenerated.
	AlreadyClosed bool
	// TagOptions carries the tag choices to present, in order.
	TagOptions []TagOption
}

// TagOption is one entry of the close tag selection.
type TagOption struct {
	Label string
	Value string
}

// TagValueCustom and TagValueNone are the two non-literal tag choices.
const (
	TagValueCustom = "__custom"
	TagValueNone   = "__none"
)

var fixedTagOptions = []TagOption{
	{Label: "Resolved", Value: "resolved"},
	{Label: "Duplicate", Value: "duplicate"},
	{Label: "Won't fix", Value: "wont-fix"},
	{Label: "Spam", Value: "spam"},
}

// InteractionService drives the claim/transfer/close state machine for
// existing tickets.
type InteractionService struct {
	tickets     repository.TicketRepository
	configs     *ConfigResolver
	client      platform.Client
	transcripts *TranscriptService
	dispatcher  events.Dispatcher
	logger      *zap.Logger
	deleteGrace time.Duration
}

// InteractionDependencies bundles collaborators for the service.
type InteractionDependencies struct {
	TicketRepo  repository.TicketRepository
	Configs     *ConfigResolver
	Client      platform.Client
	Transcripts *TranscriptService
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
	DeleteGrace time.Duration
}

// NewInteractionService constructs the service.
func NewInteractionService(deps InteractionDependencies) *InteractionService {
	return &InteractionService{
		tickets:     deps.TicketRepo,
		configs:     deps.Configs,
		client:      deps.Client,
		transcripts: deps.Transcripts,
		dispatcher:  deps.Dispatcher,
		logger:      deps.Logger,
		deleteGrace: deps.DeleteGrace,
	}
}

// TicketForChannel resolves the ticket record hosted in a channel.
// Surfaces NOT_FOUND when the interaction references a record that no
// longer exists.
func (s *InteractionService) TicketForChannel(ctx context.Context, channelID string) (*domain.Ticket, error) {
	return s.tickets.GetLatestByChannel(ctx, channelID)
}

// IsStaff reports whether a member may handle tickets: either they hold
// a configured staff role, or they carry a general management
// permission as fallback.
func (s *InteractionService) IsStaff(ctx context.Context, guildID, channelID, userID string) (bool, error) {
	cfg, err := s.configs.Resolve(ctx, guildID)
	if err != nil {
		return false, err
	}
	if len(cfg.StaffRoleIDs) > 0 {
		member, err := s.client.Member(ctx, guildID, userID)
		if err == nil {
			for _, roleID := range member.Roles {
				for _, staffRole := range cfg.StaffRoleIDs {
					if roleID == staffRole {
						return true, nil
					}
				}
			}
		}
	}
	perms, err := s.client.UserChannelPermissions(ctx, userID, channelID)
	if err != nil {
		return false, apperrors.NewPlatformError("resolve member permissions", err)
	}
	return perms&int64(staffFallbackPerms) != 0, nil
}

// Claim assigns the ticket to a staff member. A claimed ticket stays
// with its claimant; only a transfer reassigns it.
func (s *InteractionService) Claim(ctx context.Context, channelID, actorID string) (*ClaimOutcome, error) {
	ticket, err := s.TicketForChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ticket.Status == domain.TicketStatusClosed {
		return nil, apperrors.NewValidationError("ticket is closed", nil)
	}
	staff, err := s.IsStaff(ctx, ticket.GuildID, channelID, actorID)
	if err != nil {
		return nil, err
	}
	if !staff {
		return nil, apperrors.NewForbidden("only staff can claim tickets")
	}
	if ticket.IsClaimed() {
		return &ClaimOutcome{Ticket: ticket, AlreadyClaimedBy: *ticket.ClaimedBy}, nil
	}

	ticket.ClaimedBy = &actorID
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, err
	}
	s.announce(ctx, ticket.ChannelID, fmt.Sprintf("Ticket claimed by <@%s>.", actorID))
	s.publish(ctx, events.Event{
		Type:     events.EventTicketClaimed,
		GuildID:  ticket.GuildID,
		TicketID: ticket.ID,
		ActorID:  actorID,
		Payload:  events.TicketClaimedPayload{ClaimedBy: actorID},
	})
	return &ClaimOutcome{Ticket: ticket}, nil
}

// Transfer reassigns a ticket to another staff member and announces the
// change in the container.
func (s *InteractionService) Transfer(ctx context.Context, channelID, actorID, toUserID string) (*domain.Ticket, error) {
	ticket, err := s.TicketForChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ticket.Status == domain.TicketStatusClosed {
		return nil, apperrors.NewValidationError("ticket is closed", nil)
	}
	staff, err := s.IsStaff(ctx, ticket.GuildID, channelID, actorID)
	if err != nil {
		return nil, err
	}
	if !staff {
		return nil, apperrors.NewForbidden("only staff can transfer tickets")
	}

	from := ""
	if ticket.ClaimedBy != nil {
		from = *ticket.ClaimedBy
	}
	ticket.ClaimedBy = &toUserID
	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, err
	}
	s.announce(ctx, ticket.ChannelID, fmt.Sprintf("Ticket transferred to <@%s> by <@%s>.", toUserID, actorID))
	s.publish(ctx, events.Event{
		Type:     events.EventTicketTransferred,
		GuildID:  ticket.GuildID,
		TicketID: ticket.ID,
		ActorID:  actorID,
		Payload:  events.TicketTransferredPayload{From: from, To: toUserID},
	})
	return ticket, nil
}

// BeginClose starts the close flow. Owner or staff may initiate. An
// already-closed record short-circuits to container finalization
// without regenerating a transcript.
func (s *InteractionService) BeginClose(ctx context.Context, channelID, actorID string) (*CloseOutcome, error) {
	ticket, err := s.TicketForChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ticket.OwnerID != actorID {
		staff, err := s.IsStaff(ctx, ticket.GuildID, channelID, actorID)
		if err != nil {
			return nil, err
		}
		if !staff {
			return nil, apperrors.NewForbidden("only the ticket owner or staff can close a ticket")
		}
	}

	if ticket.Status == domain.TicketStatusClosed {
		s.finalizeContainer(ctx, ticket)
		return &CloseOutcome{Ticket: ticket, AlreadyClosed: true}, nil
	}

	cfg, err := s.configs.Resolve(ctx, ticket.GuildID)
	if err != nil {
		return nil, err
	}
	return &CloseOutcome{Ticket: ticket, TagOptions: tagOptions(cfg)}, nil
}

func tagOptions(cfg *domain.TicketConfig) []TagOption {
	options := make([]TagOption, 0, len(cfg.Categories)+len(fixedTagOptions)+2)
	for _, category := range cfg.Categories {
		options = append(options, TagOption{Label: category.Label, Value: category.Key()})
	}
	options = append(options, fixedTagOptions...)
	options = append(options,
		TagOption{Label: "Custom…", Value: TagValueCustom},
		TagOption{Label: "No tag", Value: TagValueNone},
	)
	return options
}

// FinalizeClose marks the record closed with the chosen tag, builds and
// delivers the transcript, then archives or schedules deletion of the
// container. The auto-close sweep and the manual flow both land here.
func (s *InteractionService) FinalizeClose(ctx context.Context, ticket *domain.Ticket, tag, actorID string) error {
	if ticket.Status == domain.TicketStatusClosed {
		s.finalizeContainer(ctx, ticket)
		return nil
	}

	now := time.Now()
	ticket.Status = domain.TicketStatusClosed
	ticket.ClosedAt = &now
	if tag != "" {
		truncated := TruncateTag(tag)
		ticket.Tag = &truncated
	}
	closed, err := s.tickets.CloseIfOpen(ctx, ticket)
	if err != nil {
		return err
	}
	if !closed {
		// Another closer won between our read and this write; the
		// winner already delivered the transcript.
		s.finalizeContainer(ctx, ticket)
		return nil
	}

	s.deliverTranscript(ctx, ticket)

	s.publish(ctx, events.Event{
		Type:     events.EventTicketClosed,
		GuildID:  ticket.GuildID,
		TicketID: ticket.ID,
		ActorID:  actorID,
		Payload: events.TicketClosedPayload{
			Tag:       tag,
			AutoClose: tag == domain.TagAutoClose,
		},
	})

	s.finalizeContainer(ctx, ticket)
	return nil
}

// TruncateTag bounds a user-entered tag to MaxTagLength runes.
func TruncateTag(tag string) string {
	runes := []rune(strings.TrimSpace(tag))
	if len(runes) > MaxTagLength {
		runes = runes[:MaxTagLength]
	}
	return string(runes)
}

// deliverTranscript builds the transcript and delivers it to the
// container, the owner's DMs and the guild's audit channel. Delivery
// failures degrade the close, they never abort it.
func (s *InteractionService) deliverTranscript(ctx context.Context, ticket *domain.Ticket) {
	transcript, publicURL, err := s.transcripts.Build(ctx, ticket)
	if err != nil {
		s.logger.Error("build transcript", zap.String("ticket_id", ticket.ID), zap.Error(err))
		return
	}
	s.publish(ctx, events.Event{
		Type:     events.EventTranscriptCreated,
		GuildID:  ticket.GuildID,
		TicketID: ticket.ID,
		Payload: events.TranscriptCreatedPayload{
			TranscriptID: transcript.ID,
			MessageCount: transcript.MessageCount,
		},
	})

	msg := transcriptMessage(ticket, transcript, publicURL)

	if _, err := s.client.SendMessage(ctx, ticket.ChannelID, msg); err != nil {
		s.logger.Warn("deliver transcript to container", zap.String("ticket_id", ticket.ID), zap.Error(err))
	}

	if dm, err := s.client.CreateDM(ctx, ticket.OwnerID); err == nil {
		if _, err := s.client.SendMessage(ctx, dm.ID, transcriptMessage(ticket, transcript, publicURL)); err != nil {
			s.logger.Warn("deliver transcript dm", zap.String("ticket_id", ticket.ID), zap.Error(err))
		}
	} else {
		s.logger.Warn("open owner dm", zap.String("ticket_id", ticket.ID), zap.Error(err))
	}

	if auditID, err := s.ensureAuditChannel(ctx, ticket.GuildID); err == nil {
		if _, err := s.client.SendMessage(ctx, auditID, transcriptMessage(ticket, transcript, publicURL)); err != nil {
			s.logger.Warn("deliver transcript to audit channel", zap.String("ticket_id", ticket.ID), zap.Error(err))
		}
	} else {
		s.logger.Warn("provision audit channel", zap.String("guild_id", ticket.GuildID), zap.Error(err))
	}
}

func transcriptMessage(ticket *domain.Ticket, transcript *domain.Transcript, publicURL string) *discordgo.MessageSend {
	tag := "none"
	if ticket.Tag != nil && *ticket.Tag != "" {
		tag = *ticket.Tag
	}
	content := fmt.Sprintf("Ticket **%s** closed (tag: %s), %d messages captured.", ticket.Category, tag, transcript.MessageCount)
	if publicURL != "" {
		content += "\n" + publicURL
	}
	return &discordgo.MessageSend{
		Content: content,
		Files: []*discordgo.File{{
			Name:        TranscriptFileName(ticket),
			ContentType: "text/markdown",
			Reader:      strings.NewReader(transcript.Markdown),
		}},
	}
}

// ensureAuditChannel finds or creates the guild's staff-only audit log
// channel.
func (s *InteractionService) ensureAuditChannel(ctx context.Context, guildID string) (string, error) {
	channels, err := s.client.GuildChannels(ctx, guildID)
	if err != nil {
		return "", err
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildText && ch.Name == auditChannelName {
			return ch.ID, nil
		}
	}

	cfg, err := s.configs.Resolve(ctx, guildID)
	if err != nil {
		return "", err
	}
	overwrites := []*discordgo.PermissionOverwrite{
		{
			ID:   guildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionViewChannel,
		},
	}
	for _, roleID := range cfg.StaffRoleIDs {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    roleID,
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: discordgo.PermissionViewChannel | discordgo.PermissionReadMessageHistory,
		})
	}
	if botID := s.client.BotUserID(); botID != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    botID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionAttachFiles,
		})
	}
	channel, err := s.client.CreateGuildChannel(ctx, guildID, discordgo.GuildChannelCreateData{
		Name:                 auditChannelName,
		Type:                 discordgo.ChannelTypeGuildText,
		PermissionOverwrites: overwrites,
	})
	if err != nil {
		return "", err
	}
	return channel.ID, nil
}

// finalizeContainer archives a thread or schedules deletion of a
// dedicated channel after a short grace delay. Idempotent: archiving an
// archived thread and deleting a deleted channel are both no-ops at the
// platform level.
func (s *InteractionService) finalizeContainer(ctx context.Context, ticket *domain.Ticket) {
	channel, err := s.client.Channel(ctx, ticket.ChannelID)
	if err != nil {
		s.logger.Warn("finalize container lookup", zap.String("channel_id", ticket.ChannelID), zap.Error(err))
		return
	}
	if channel.IsThread() {
		if err := s.client.ArchiveThread(ctx, ticket.ChannelID); err != nil {
			s.logger.Warn("archive ticket thread", zap.String("channel_id", ticket.ChannelID), zap.Error(err))
		}
		return
	}

	channelID := ticket.ChannelID
	time.AfterFunc(s.deleteGrace, func() {
		if err := s.client.DeleteChannel(context.Background(), channelID); err != nil {
			s.logger.Warn("delete ticket channel", zap.String("channel_id", channelID), zap.Error(err))
		}
	})
}

func (s *InteractionService) announce(ctx context.Context, channelID, content string) {
	if _, err := s.client.SendMessage(ctx, channelID, &discordgo.MessageSend{Content: content}); err != nil {
		s.logger.Warn("announce in ticket", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (s *InteractionService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}
