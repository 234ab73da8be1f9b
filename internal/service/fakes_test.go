package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/spec-kit/ticket-bot/internal/domain"
	"github.com/spec-kit/ticket-bot/internal/platform"
	"github.com/spec-kit/ticket-bot/internal/repository"
	apperrors "github.com/spec-kit/ticket-bot/pkg/util/errorutil"
)

// fakeTicketRepo is an in-memory TicketRepository honoring the same
// open-ticket uniqueness rule as the partial index.
type fakeTicketRepo struct {
	mu        sync.Mutex
	seq       int
	tickets   map[string]*domain.Ticket
	createErr error
	// conflictWinner, when set, is inserted the moment createErr fires,
	// simulating the concurrent request that won the race.
	conflictWinner *domain.Ticket
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{tickets: make(map[string]*domain.Ticket)}
}

var _ repository.TicketRepository = (*fakeTicketRepo)(nil)

func (r *fakeTicketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		err := r.createErr
		r.createErr = nil
		if r.conflictWinner != nil {
			r.seq++
			r.conflictWinner.ID = fmt.Sprintf("ticket-%d", r.seq)
			r.conflictWinner.CreatedAt = time.Now()
			r.conflictWinner.LastActivityAt = r.conflictWinner.CreatedAt
			r.tickets[r.conflictWinner.ID] = r.conflictWinner
			r.conflictWinner = nil
		}
		return err
	}
	for _, existing := range r.tickets {
		if existing.Status == domain.TicketStatusOpen &&
			existing.GuildID == ticket.GuildID &&
			existing.OwnerID == ticket.OwnerID &&
			existing.CategoryKey == ticket.CategoryKey {
			return apperrors.NewConflict("open ticket already exists", nil)
		}
	}
	r.seq++
	ticket.ID = fmt.Sprintf("ticket-%d", r.seq)
	ticket.CreatedAt = time.Now()
	ticket.LastActivityAt = ticket.CreatedAt
	clone := *ticket
	r.tickets[ticket.ID] = &clone
	return nil
}

func (r *fakeTicketRepo) Update(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tickets[ticket.ID]; !ok {
		return apperrors.NewNotFound("ticket", nil)
	}
	clone := *ticket
	r.tickets[ticket.ID] = &clone
	return nil
}

func (r *fakeTicketRepo) CloseIfOpen(_ context.Context, ticket *domain.Ticket) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tickets[ticket.ID]
	if !ok {
		return false, apperrors.NewNotFound("ticket", nil)
	}
	if stored.Status != domain.TicketStatusOpen {
		return false, nil
	}
	stored.Status = ticket.Status
	stored.ClosedAt = ticket.ClosedAt
	stored.Tag = ticket.Tag
	return true, nil
}

func (r *fakeTicketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, apperrors.NewNotFound("ticket", nil)
	}
	clone := *ticket
	return &clone, nil
}

func (r *fakeTicketRepo) GetOpen(_ context.Context, guildID, ownerID, categoryKey string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ticket := range r.tickets {
		if ticket.Status == domain.TicketStatusOpen &&
			ticket.GuildID == guildID && ticket.OwnerID == ownerID && ticket.CategoryKey == categoryKey {
			clone := *ticket
			return &clone, nil
		}
	}
	return nil, apperrors.NewNotFound("ticket", nil)
}

func (r *fakeTicketRepo) GetLatestByChannel(_ context.Context, channelID string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *domain.Ticket
	for _, ticket := range r.tickets {
		if ticket.ChannelID != channelID {
			continue
		}
		if latest == nil || ticket.CreatedAt.After(latest.CreatedAt) {
			latest = ticket
		}
	}
	if latest == nil {
		return nil, apperrors.NewNotFound("ticket", nil)
	}
	clone := *latest
	return &clone, nil
}

func (r *fakeTicketRepo) TouchActivity(_ context.Context, channelID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ticket := range r.tickets {
		if ticket.ChannelID == channelID && ticket.Status == domain.TicketStatusOpen {
			ticket.LastActivityAt = at
			ticket.AutoWarnedAt = nil
		}
	}
	return nil
}

func (r *fakeTicketRepo) ListWarnDue(_ context.Context, guildID string, warnBefore, closeBefore time.Time, limit int) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []domain.Ticket
	for _, ticket := range r.tickets {
		if ticket.GuildID != guildID || ticket.Status != domain.TicketStatusOpen || ticket.AutoWarnedAt != nil {
			continue
		}
		idle := ticket.IdleSince()
		if !idle.After(warnBefore) && idle.After(closeBefore) {
			due = append(due, *ticket)
		}
		if len(due) >= limit {
			break
		}
	}
	return due, nil
}

func (r *fakeTicketRepo) ListCloseDue(_ context.Context, guildID string, closeBefore time.Time, limit int) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []domain.Ticket
	for _, ticket := range r.tickets {
		if ticket.GuildID != guildID || ticket.Status != domain.TicketStatusOpen {
			continue
		}
		if !ticket.IdleSince().After(closeBefore) {
			due = append(due, *ticket)
		}
		if len(due) >= limit {
			break
		}
	}
	return due, nil
}

// fakeTranscriptRepo stores transcripts in memory.
type fakeTranscriptRepo struct {
	mu      sync.Mutex
	records map[string]*domain.Transcript
}

func newFakeTranscriptRepo() *fakeTranscriptRepo {
	return &fakeTranscriptRepo{records: make(map[string]*domain.Transcript)}
}

var _ repository.TranscriptRepository = (*fakeTranscriptRepo)(nil)

func (r *fakeTranscriptRepo) Create(_ context.Context, transcript *domain.Transcript) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	transcript.CreatedAt = time.Now()
	clone := *transcript
	r.records[transcript.ID] = &clone
	return nil
}

func (r *fakeTranscriptRepo) GetByID(_ context.Context, id string) (*domain.Transcript, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return nil, apperrors.NewNotFound("transcript", nil)
	}
	clone := *record
	return &clone, nil
}

func (r *fakeTranscriptRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// fakeGuildConfigRepo serves raw ticket sections from memory.
type fakeGuildConfigRepo struct {
	sections map[string]*domain.RawTicketConfig
	errs     map[string]error
}

func newFakeGuildConfigRepo() *fakeGuildConfigRepo {
	return &fakeGuildConfigRepo{
		sections: make(map[string]*domain.RawTicketConfig),
		errs:     make(map[string]error),
	}
}

var _ repository.GuildConfigRepository = (*fakeGuildConfigRepo)(nil)

func (r *fakeGuildConfigRepo) GetTicketSection(_ context.Context, guildID string) (*domain.RawTicketConfig, error) {
	if err := r.errs[guildID]; err != nil {
		return nil, err
	}
	if section, ok := r.sections[guildID]; ok {
		return section, nil
	}
	return &domain.RawTicketConfig{}, nil
}

func (r *fakeGuildConfigRepo) ListGuildIDs(_ context.Context) ([]string, error) {
	var ids []string
	for id := range r.sections {
		ids = append(ids, id)
	}
	return ids, nil
}

// fakePlatform is an in-memory platform.Client recording every call.
type fakePlatform struct {
	mu            sync.Mutex
	nextID        int
	guildName     string
	channels      map[string]*discordgo.Channel
	threadMembers map[string]map[string]bool
	perms         map[string]int64
	roles         map[string][]string
	guildRoles    []*discordgo.Role
	history       map[string][]*discordgo.Message
	sent          map[string][]*discordgo.MessageSend
	pinned        []string
	deleted       []string
	archived      []string
	dmChannels    map[string]string
	sendErr       error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		guildName:     "Test Guild",
		channels:      make(map[string]*discordgo.Channel),
		threadMembers: make(map[string]map[string]bool),
		perms:         make(map[string]int64),
		roles:         make(map[string][]string),
		history:       make(map[string][]*discordgo.Message),
		sent:          make(map[string][]*discordgo.MessageSend),
		dmChannels:    make(map[string]string),
	}
}

var _ platform.Client = (*fakePlatform)(nil)

func (p *fakePlatform) addChannel(id string, chType discordgo.ChannelType, name string) *discordgo.Channel {
	ch := &discordgo.Channel{ID: id, Type: chType, Name: name}
	p.channels[id] = ch
	return ch
}

func (p *fakePlatform) newID(prefix string) string {
	p.nextID++
	return fmt.Sprintf("%s-%d", prefix, p.nextID)
}

func (p *fakePlatform) Guild(_ context.Context, guildID string) (*discordgo.Guild, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &discordgo.Guild{ID: guildID, Name: p.guildName, Roles: p.guildRoles}, nil
}

func (p *fakePlatform) Channel(_ context.Context, channelID string) (*discordgo.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.channels[channelID]
	if !ok {
		return nil, apperrors.NewNotFound("channel", nil)
	}
	return ch, nil
}

func (p *fakePlatform) GuildChannels(_ context.Context, _ string) ([]*discordgo.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*discordgo.Channel
	for _, ch := range p.channels {
		out = append(out, ch)
	}
	return out, nil
}

func (p *fakePlatform) CreateThread(_ context.Context, channelID, name string) (*discordgo.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.channels[channelID]; !ok {
		return nil, apperrors.NewNotFound("channel", nil)
	}
	id := p.newID("thread")
	thread := &discordgo.Channel{ID: id, Type: discordgo.ChannelTypeGuildPublicThread, Name: name, ParentID: channelID}
	p.channels[id] = thread
	p.threadMembers[id] = make(map[string]bool)
	return thread, nil
}

func (p *fakePlatform) CreateGuildChannel(_ context.Context, _ string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.newID("channel")
	ch := &discordgo.Channel{
		ID:                   id,
		Type:                 data.Type,
		Name:                 data.Name,
		ParentID:             data.ParentID,
		PermissionOverwrites: data.PermissionOverwrites,
	}
	p.channels[id] = ch
	return ch, nil
}

func (p *fakePlatform) DeleteChannel(_ context.Context, channelID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.channels, channelID)
	p.deleted = append(p.deleted, channelID)
	return nil
}

func (p *fakePlatform) ArchiveThread(_ context.Context, channelID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.archived = append(p.archived, channelID)
	return nil
}

func (p *fakePlatform) ThreadMemberExists(_ context.Context, threadID, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.threadMembers[threadID][userID], nil
}

func (p *fakePlatform) AddThreadMember(_ context.Context, threadID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	members, ok := p.threadMembers[threadID]
	if !ok {
		members = make(map[string]bool)
		p.threadMembers[threadID] = members
	}
	members[userID] = true
	return nil
}

func (p *fakePlatform) SendMessage(_ context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		err := p.sendErr
		p.sendErr = nil
		return nil, err
	}
	p.sent[channelID] = append(p.sent[channelID], msg)
	return &discordgo.Message{ID: p.newID("message"), ChannelID: channelID}, nil
}

func (p *fakePlatform) PinMessage(_ context.Context, channelID, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinned = append(p.pinned, channelID+"/"+messageID)
	return nil
}

func (p *fakePlatform) Messages(_ context.Context, channelID string, limit int, beforeID string) ([]*discordgo.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// History is stored newest first, matching the platform API.
	all := p.history[channelID]
	start := 0
	if beforeID != "" {
		for idx, msg := range all {
			if msg.ID == beforeID {
				start = idx + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	if start >= len(all) {
		return nil, nil
	}
	return all[start:end], nil
}

func (p *fakePlatform) Member(_ context.Context, _, userID string) (*discordgo.Member, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &discordgo.Member{
		User:  &discordgo.User{ID: userID, Username: "user-" + userID},
		Roles: p.roles[userID],
	}, nil
}

func (p *fakePlatform) User(_ context.Context, userID string) (*discordgo.User, error) {
	return &discordgo.User{ID: userID, Username: "user-" + userID}, nil
}

func (p *fakePlatform) UserChannelPermissions(_ context.Context, userID, channelID string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if perms, ok := p.perms[userID+"|"+channelID]; ok {
		return perms, nil
	}
	if perms, ok := p.perms[userID]; ok {
		return perms, nil
	}
	return discordgo.PermissionViewChannel, nil
}

func (p *fakePlatform) CreateDM(_ context.Context, userID string) (*discordgo.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.dmChannels[userID]; ok {
		return &discordgo.Channel{ID: id, Type: discordgo.ChannelTypeDM}, nil
	}
	id := p.newID("dm")
	p.dmChannels[userID] = id
	p.channels[id] = &discordgo.Channel{ID: id, Type: discordgo.ChannelTypeDM}
	return p.channels[id], nil
}

func (p *fakePlatform) BotUserID() string {
	return "bot-user"
}

func (p *fakePlatform) sentCount(channelID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent[channelID])
}
