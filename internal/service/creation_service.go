package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bot/internal/domain"
	"github.com/spec-kit/ticket-bot/internal/events"
	"github.com/spec-kit/ticket-bot/internal/persistence"
	"github.com/spec-kit/ticket-bot/internal/platform"
	"github.com/spec-kit/ticket-bot/internal/repository"
	apperrors "github.com/spec-kit/ticket-bot/pkg/util/errorutil"
)

const (
	creationLockTTL = 60 * time.Second
	formSessionTTL  = 10 * time.Minute
)

// Component custom-id prefixes for the intro message controls.
const (
	CustomIDClaim       = "ticket-claim"
	CustomIDTransfer    = "ticket-transfer"
	CustomIDClose       = "ticket-close"
	CustomIDOpen        = "ticket-open"
	CustomIDIntakeForm  = "ticket-form"
	CustomIDCloseTag    = "ticket-close-tag"
	CustomIDCloseCustom = "ticket-close-custom"
	CustomIDTransferTo  = "ticket-transfer-to"
)

// OpenRequest describes one "open ticket" action. Identity fields come
// from the triggering interaction so no extra member fetch is needed.
type OpenRequest struct {
	GuildID  string
	UserID   string
	Username string
	UserTag  string
	Category string
	// Answers holds intake form answers aligned with the category's
	// questions. Empty until the form step has run.
	Answers []string
}

// OpenResult reports the outcome of an open attempt.
type OpenResult struct {
	// Ticket is set when a record exists, new or pre-existing.
	Ticket *domain.Ticket
	// Existing is true when the request resolved to an already-open
	// ticket and no container was created.
	Existing bool
	// InProgress is true when another request holds the creation lock.
	InProgress bool
	// NeedsForm is true when the category declares intake questions
	// that have not been answered yet; Questions carries them.
	NeedsForm bool
	Questions []string
}

// pendingForm is the stored shape of an intake form session.
type pendingForm struct {
	Category  string    `json:"category"`
	Questions []string  `json:"questions"`
	CreatedAt time.Time `json:"created_at"`
}

// CreationService turns an open-ticket request into a conversation
// container plus a persisted record, with race-safe deduplication.
type CreationService struct {
	tickets    repository.TicketRepository
	configs    *ConfigResolver
	client     platform.Client
	state      persistence.TTLStore
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// CreationDependencies bundles collaborators for the service.
type CreationDependencies struct {
	TicketRepo repository.TicketRepository
	Configs    *ConfigResolver
	Client     platform.Client
	State      persistence.TTLStore
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// NewCreationService constructs the service.
func NewCreationService(deps CreationDependencies) *CreationService {
	return &CreationService{
		tickets:    deps.TicketRepo,
		configs:    deps.Configs,
		client:     deps.Client,
		state:      deps.State,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
	}
}

// Open handles the full open flow for a request. When the category has
// intake questions and the request carries no answers, it stores a
// pending form session and reports NeedsForm instead of creating
// anything.
func (s *CreationService) Open(ctx context.Context, req OpenRequest) (*OpenResult, error) {
	cfg, err := s.configs.Resolve(ctx, req.GuildID)
	if err != nil {
		return nil, err
	}

	category, ok := cfg.CategoryByLabel(req.Category)
	if !ok {
		return nil, apperrors.NewValidationError("unknown ticket category", map[string]any{"category": req.Category})
	}
	categoryKey := category.Key()

	if existing, err := s.activeTicket(ctx, req.GuildID, req.UserID, categoryKey); err != nil {
		return nil, err
	} else if existing != nil {
		return &OpenResult{Ticket: existing, Existing: true}, nil
	}

	if len(category.Questions) > 0 && len(req.Answers) == 0 {
		if err := s.storeFormSession(ctx, req.GuildID, req.UserID, category); err != nil {
			return nil, err
		}
		return &OpenResult{NeedsForm: true, Questions: category.Questions}, nil
	}

	lockKey := fmt.Sprintf("lock:%s:%s:%s", req.GuildID, req.UserID, categoryKey)
	acquired, err := s.state.SetNX(ctx, lockKey, "1", creationLockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return &OpenResult{InProgress: true}, nil
	}
	defer func() {
		if err := s.state.Delete(context.WithoutCancel(ctx), lockKey); err != nil {
			s.logger.Warn("release creation lock", zap.String("key", lockKey), zap.Error(err))
		}
	}()

	return s.create(ctx, req, cfg, category)
}

// CompleteForm consumes the pending form session for (guild, user) and
// resumes the open flow with the submitted answers. Returns a
// validation error when the session expired.
func (s *CreationService) CompleteForm(ctx context.Context, req OpenRequest) (*OpenResult, error) {
	key := formSessionKey(req.GuildID, req.UserID)
	stored, ok, err := s.state.GetDel(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NewValidationError("ticket form session expired", nil)
	}
	var session pendingForm
	if err := json.Unmarshal([]byte(stored), &session); err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	req.Category = session.Category
	if len(req.Answers) > len(session.Questions) {
		req.Answers = req.Answers[:len(session.Questions)]
	}
	return s.Open(ctx, req)
}

func (s *CreationService) storeFormSession(ctx context.Context, guildID, userID string, category domain.Category) error {
	session := pendingForm{
		Category:  category.Label,
		Questions: category.Questions,
		CreatedAt: time.Now(),
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return s.state.Set(ctx, formSessionKey(guildID, userID), string(payload), formSessionTTL)
}

func formSessionKey(guildID, userID string) string {
	return fmt.Sprintf("form:%s:%s", guildID, userID)
}

// activeTicket returns the caller's open ticket for the category after
// self-healing checks: the container must still exist, the owner must
// still be able to view it, and in thread mode the owner must still be
// a thread member. Any failed check closes the stale record.
func (s *CreationService) activeTicket(ctx context.Context, guildID, userID, categoryKey string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetOpen(ctx, guildID, userID, categoryKey)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	if s.ticketStillReachable(ctx, ticket) {
		return ticket, nil
	}

	now := time.Now()
	ticket.Status = domain.TicketStatusClosed
	ticket.ClosedAt = &now
	if _, err := s.tickets.CloseIfOpen(ctx, ticket); err != nil {
		return nil, err
	}
	s.logger.Info("closed stale ticket record",
		zap.String("ticket_id", ticket.ID),
		zap.String("channel_id", ticket.ChannelID))
	return nil, nil
}

func (s *CreationService) ticketStillReachable(ctx context.Context, ticket *domain.Ticket) bool {
	channel, err := s.client.Channel(ctx, ticket.ChannelID)
	if err != nil {
		return false
	}
	perms, err := s.client.UserChannelPermissions(ctx, ticket.OwnerID, ticket.ChannelID)
	if err != nil || perms&discordgo.PermissionViewChannel == 0 {
		return false
	}
	if channel.IsThread() {
		member, err := s.client.ThreadMemberExists(ctx, ticket.ChannelID, ticket.OwnerID)
		if err != nil || !member {
			return false
		}
	}
	return true
}

func (s *CreationService) create(ctx context.Context, req OpenRequest, cfg *domain.TicketConfig, category domain.Category) (*OpenResult, error) {
	if cfg.Mode == domain.TicketModeChannel && len(cfg.StaffRoleIDs) == 0 {
		return nil, apperrors.NewValidationError("dedicated-channel mode requires at least one staff role", nil)
	}

	channel, err := s.createContainer(ctx, req, cfg, category)
	if err != nil {
		return nil, err
	}

	s.sendIntakeAnswers(ctx, channel.ID, category, req)
	s.sendIntro(ctx, channel.ID, req, category)
	s.sendTemplate(ctx, channel.ID, req, cfg, category)

	ticket := &domain.Ticket{
		GuildID:     req.GuildID,
		ChannelID:   channel.ID,
		OwnerID:     req.UserID,
		Status:      domain.TicketStatusOpen,
		Category:    category.Label,
		CategoryKey: category.Key(),
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		if apperrors.IsConflict(err) {
			// Lost the race: another request persisted first. Discard
			// our container and hand back the winner's location.
			if delErr := s.client.DeleteChannel(ctx, channel.ID); delErr != nil {
				s.logger.Warn("discard redundant container", zap.String("channel_id", channel.ID), zap.Error(delErr))
			}
			winner, getErr := s.tickets.GetOpen(ctx, req.GuildID, req.UserID, category.Key())
			if getErr != nil {
				return nil, getErr
			}
			return &OpenResult{Ticket: winner, Existing: true}, nil
		}
		return nil, err
	}

	s.publish(ctx, events.Event{
		Type:     events.EventTicketOpened,
		GuildID:  req.GuildID,
		TicketID: ticket.ID,
		ActorID:  req.UserID,
		Payload: events.TicketOpenedPayload{
			ChannelID: channel.ID,
			Category:  category.Label,
			Mode:      string(cfg.Mode),
		},
	})
	return &OpenResult{Ticket: ticket}, nil
}

func (s *CreationService) createContainer(ctx context.Context, req OpenRequest, cfg *domain.TicketConfig, category domain.Category) (*discordgo.Channel, error) {
	name := containerName(category, req.Username)

	if cfg.Mode == domain.TicketModeThread {
		if cfg.OpeningChannelID == "" {
			return nil, apperrors.NewValidationError("no opening channel configured for ticket threads", nil)
		}
		opening, err := s.client.Channel(ctx, cfg.OpeningChannelID)
		if err != nil {
			return nil, apperrors.NewPlatformError("fetch opening channel", err)
		}
		if opening.Type != discordgo.ChannelTypeGuildText {
			return nil, apperrors.NewValidationError("opening channel cannot host threads", nil)
		}
		thread, err := s.client.CreateThread(ctx, cfg.OpeningChannelID, name)
		if err != nil {
			return nil, apperrors.NewPlatformError("create thread", err)
		}
		if err := s.client.AddThreadMember(ctx, thread.ID, req.UserID); err != nil {
			s.logger.Warn("add owner to thread", zap.String("thread_id", thread.ID), zap.Error(err))
		}
		return thread, nil
	}

	parentID, err := s.ensureCategoryParent(ctx, req.GuildID, category.Label)
	if err != nil {
		return nil, err
	}
	channel, err := s.client.CreateGuildChannel(ctx, req.GuildID, discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildText,
		ParentID:             parentID,
		PermissionOverwrites: s.channelOverwrites(req.GuildID, req.UserID, cfg.StaffRoleIDs),
	})
	if err != nil {
		return nil, apperrors.NewPlatformError("create ticket channel", err)
	}
	return channel, nil
}

// ensureCategoryParent reuses the guild category container named after
// the ticket category, creating it on first use.
func (s *CreationService) ensureCategoryParent(ctx context.Context, guildID, label string) (string, error) {
	channels, err := s.client.GuildChannels(ctx, guildID)
	if err != nil {
		return "", apperrors.NewPlatformError("list guild channels", err)
	}
	for _, ch := range channels {
		if ch.Type == discordgo.ChannelTypeGuildCategory && strings.EqualFold(ch.Name, label) {
			return ch.ID, nil
		}
	}
	parent, err := s.client.CreateGuildChannel(ctx, guildID, discordgo.GuildChannelCreateData{
		Name: label,
		Type: discordgo.ChannelTypeGuildCategory,
	})
	if err != nil {
		return "", apperrors.NewPlatformError("create category container", err)
	}
	return parent.ID, nil
}

func (s *CreationService) channelOverwrites(guildID, ownerID string, staffRoleIDs []string) []*discordgo.PermissionOverwrite {
	memberPerms := int64(discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionReadMessageHistory | discordgo.PermissionAttachFiles)

	overwrites := []*discordgo.PermissionOverwrite{
		{
			// The @everyone role id equals the guild id.
			ID:   guildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: discordgo.PermissionViewChannel,
		},
		{
			ID:    ownerID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: memberPerms,
		},
	}
	for _, roleID := range staffRoleIDs {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    roleID,
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: memberPerms,
		})
	}
	if botID := s.client.BotUserID(); botID != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    botID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: memberPerms | discordgo.PermissionManageChannels,
		})
	}
	return overwrites
}

// sendIntakeAnswers posts the form Q&A as a structured embed, falling
// back to plain text when the embed cannot be sent.
func (s *CreationService) sendIntakeAnswers(ctx context.Context, channelID string, category domain.Category, req OpenRequest) {
	if len(req.Answers) == 0 {
		return
	}
	fields := make([]*discordgo.MessageEmbedField, 0, len(req.Answers))
	for i, answer := range req.Answers {
		if i >= len(category.Questions) {
			break
		}
		if answer == "" {
			answer = "—"
		}
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  category.Questions[i],
			Value: answer,
		})
	}
	_, err := s.client.SendMessage(ctx, channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:  "Intake answers",
			Fields: fields,
			Color:  0x5865f2,
		}},
	})
	if err == nil {
		return
	}
	s.logger.Warn("intake embed failed, sending plain text", zap.String("channel_id", channelID), zap.Error(err))
	var b strings.Builder
	b.WriteString("**Intake answers**\n")
	for i, answer := range req.Answers {
		if i >= len(category.Questions) {
			break
		}
		fmt.Fprintf(&b, "%s: %s\n", category.Questions[i], answer)
	}
	if _, err := s.client.SendMessage(ctx, channelID, &discordgo.MessageSend{Content: b.String()}); err != nil {
		s.logger.Warn("intake plain text failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}

// sendIntro posts the control message with claim/transfer/close buttons
// and pins it best-effort.
func (s *CreationService) sendIntro(ctx context.Context, channelID string, req OpenRequest, category domain.Category) {
	msg, err := s.client.SendMessage(ctx, channelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       category.Label,
			Description: fmt.Sprintf("Ticket opened by <@%s>. Staff will be with you shortly.", req.UserID),
			Color:       0x57f287,
		}},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{Label: "Claim", Style: discordgo.PrimaryButton, CustomID: CustomIDClaim},
					discordgo.Button{Label: "Transfer", Style: discordgo.SecondaryButton, CustomID: CustomIDTransfer},
					discordgo.Button{Label: "Close", Style: discordgo.DangerButton, CustomID: CustomIDClose},
				},
			},
		},
	})
	if err != nil {
		s.logger.Warn("send intro message", zap.String("channel_id", channelID), zap.Error(err))
		return
	}
	if err := s.client.PinMessage(ctx, channelID, msg.ID); err != nil {
		s.logger.Warn("pin intro message", zap.String("channel_id", channelID), zap.Error(err))
	}
}

// sendTemplate posts the category template with variable substitution.
func (s *CreationService) sendTemplate(ctx context.Context, channelID string, req OpenRequest, cfg *domain.TicketConfig, category domain.Category) {
	template := category.Template
	if template == "" {
		template = cfg.ResponseTemplate
	}
	if template == "" {
		return
	}

	serverName := req.GuildID
	if guild, err := s.client.Guild(ctx, req.GuildID); err == nil {
		serverName = guild.Name
	}

	replacer := strings.NewReplacer(
		"{user}", fmt.Sprintf("<@%s>", req.UserID),
		"{username}", req.Username,
		"{userTag}", req.UserTag,
		"{category}", category.Label,
		"{server}", serverName,
	)
	if _, err := s.client.SendMessage(ctx, channelID, &discordgo.MessageSend{Content: replacer.Replace(template)}); err != nil {
		s.logger.Warn("send template message", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func containerName(category domain.Category, username string) string {
	name := category.Key() + "-" + domain.SlugifyCategory(username)
	if len(name) > 100 {
		name = name[:100]
	}
	return name
}

func (s *CreationService) publish(ctx context.Context, event events.Event) {
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
