package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bot/internal/domain"
	"github.com/spec-kit/ticket-bot/internal/events"
	"github.com/spec-kit/ticket-bot/internal/repository"
	"github.com/spec-kit/ticket-bot/internal/service"
	apperrors "github.com/spec-kit/ticket-bot/pkg/util/errorutil"
)

type memTicketRepo struct {
	mu      sync.Mutex
	seq     int
	tickets map[string]*domain.Ticket
}

func newMemTicketRepo() *memTicketRepo {
	return &memTicketRepo{tickets: make(map[string]*domain.Ticket)}
}

var _ repository.TicketRepository = (*memTicketRepo)(nil)

func (r *memTicketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	ticket.ID = fmt.Sprintf("ticket-%d", r.seq)
	if ticket.LastActivityAt.IsZero() {
		ticket.LastActivityAt = time.Now()
	}
	clone := *ticket
	r.tickets[ticket.ID] = &clone
	return nil
}

func (r *memTicketRepo) Update(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tickets[ticket.ID]; !ok {
		return apperrors.NewNotFound("ticket", nil)
	}
	clone := *ticket
	r.tickets[ticket.ID] = &clone
	return nil
}

func (r *memTicketRepo) CloseIfOpen(_ context.Context, ticket *domain.Ticket) (bool, error) {
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

func (r *memTicketRepo) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, apperrors.NewNotFound("ticket", nil)
	}
	clone := *ticket
	return &clone, nil
}

func (r *memTicketRepo) GetOpen(_ context.Context, guildID, ownerID, categoryKey string) (*domain.Ticket, error) {
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

func (r *memTicketRepo) GetLatestByChannel(_ context.Context, channelID string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ticket := range r.tickets {
		if ticket.ChannelID == channelID {
			clone := *ticket
			return &clone, nil
		}
	}
	return nil, apperrors.NewNotFound("ticket", nil)
}

func (r *memTicketRepo) TouchActivity(_ context.Context, channelID string, at time.Time) error {
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

func (r *memTicketRepo) ListWarnDue(_ context.Context, guildID string, warnBefore, closeBefore time.Time, limit int) ([]domain.Ticket, error) {
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

func (r *memTicketRepo) ListCloseDue(_ context.Context, guildID string, closeBefore time.Time, limit int) ([]domain.Ticket, error) {
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

type memTranscriptRepo struct {
	mu      sync.Mutex
	records []*domain.Transcript
}

var _ repository.TranscriptRepository = (*memTranscriptRepo)(nil)

func (r *memTranscriptRepo) Create(_ context.Context, transcript *domain.Transcript) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, transcript)
	return nil
}

func (r *memTranscriptRepo) GetByID(_ context.Context, id string) (*domain.Transcript, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.ID == id {
			return record, nil
		}
	}
	return nil, apperrors.NewNotFound("transcript", nil)
}

func (r *memTranscriptRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type memConfigRepo struct {
	sections map[string]*domain.RawTicketConfig
	errs     map[string]error
}

var _ repository.GuildConfigRepository = (*memConfigRepo)(nil)

func (r *memConfigRepo) GetTicketSection(_ context.Context, guildID string) (*domain.RawTicketConfig, error) {
	if err := r.errs[guildID]; err != nil {
		return nil, err
	}
	if section, ok := r.sections[guildID]; ok {
		return section, nil
	}
	return &domain.RawTicketConfig{}, nil
}

func (r *memConfigRepo) ListGuildIDs(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(r.sections))
	for id := range r.sections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// recordingClient is a minimal platform client for sweep tests: it hosts
// thread containers and records outbound messages and archivals.
type recordingClient struct {
	mu       sync.Mutex
	channels map[string]*discordgo.Channel
	sent     map[string][]string
	archived []string
}

func newRecordingClient() *recordingClient {
	return &recordingClient{
		channels: make(map[string]*discordgo.Channel),
		sent:     make(map[string][]string),
	}
}

func (c *recordingClient) addThread(id string) {
	c.channels[id] = &discordgo.Channel{ID: id, Type: discordgo.ChannelTypeGuildPublicThread, Name: id}
}

func (c *recordingClient) Guild(_ context.Context, guildID string) (*discordgo.Guild, error) {
	return &discordgo.Guild{ID: guildID, Name: "guild"}, nil
}

func (c *recordingClient) Channel(_ context.Context, channelID string) (*discordgo.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[channelID]
	if !ok {
		return nil, apperrors.NewNotFound("channel", nil)
	}
	return ch, nil
}

func (c *recordingClient) GuildChannels(_ context.Context, _ string) ([]*discordgo.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*discordgo.Channel
	for _, ch := range c.channels {
		out = append(out, ch)
	}
	return out, nil
}

func (c *recordingClient) CreateThread(_ context.Context, _, name string) (*discordgo.Channel, error) {
	return nil, errors.New("not supported in sweep tests")
}

func (c *recordingClient) CreateGuildChannel(_ context.Context, _ string, data discordgo.GuildChannelCreateData) (*discordgo.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := "created-" + data.Name
	ch := &discordgo.Channel{ID: id, Type: data.Type, Name: data.Name}
	c.channels[id] = ch
	return ch, nil
}

func (c *recordingClient) DeleteChannel(_ context.Context, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channelID)
	return nil
}

func (c *recordingClient) ArchiveThread(_ context.Context, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.archived = append(c.archived, channelID)
	return nil
}

func (c *recordingClient) ThreadMemberExists(_ context.Context, _, _ string) (bool, error) {
	return true, nil
}

func (c *recordingClient) AddThreadMember(_ context.Context, _, _ string) error {
	return nil
}

func (c *recordingClient) SendMessage(_ context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent[channelID] = append(c.sent[channelID], msg.Content)
	return &discordgo.Message{ID: "sent", ChannelID: channelID}, nil
}

func (c *recordingClient) PinMessage(_ context.Context, _, _ string) error {
	return nil
}

func (c *recordingClient) Messages(_ context.Context, _ string, _ int, _ string) ([]*discordgo.Message, error) {
	return nil, nil
}

func (c *recordingClient) Member(_ context.Context, _, userID string) (*discordgo.Member, error) {
	return &discordgo.Member{User: &discordgo.User{ID: userID}}, nil
}

func (c *recordingClient) User(_ context.Context, userID string) (*discordgo.User, error) {
	return &discordgo.User{ID: userID}, nil
}

func (c *recordingClient) UserChannelPermissions(_ context.Context, _, _ string) (int64, error) {
	return discordgo.PermissionViewChannel, nil
}

func (c *recordingClient) CreateDM(_ context.Context, userID string) (*discordgo.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := "dm-" + userID
	if _, ok := c.channels[id]; !ok {
		c.channels[id] = &discordgo.Channel{ID: id, Type: discordgo.ChannelTypeDM}
	}
	return c.channels[id], nil
}

func (c *recordingClient) BotUserID() string { return "bot-user" }

func (c *recordingClient) messagesTo(channelID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.sent[channelID]...)
}

type workerFixture struct {
	worker      *AutoCloseWorker
	tickets     *memTicketRepo
	transcripts *memTranscriptRepo
	configs     *memConfigRepo
	client      *recordingClient
	dispatcher  events.Dispatcher
	now         time.Time
}

func newWorkerFixture(t *testing.T, sections map[string]*domain.RawTicketConfig) *workerFixture {
	t.Helper()
	f := &workerFixture{
		tickets:     newMemTicketRepo(),
		transcripts: &memTranscriptRepo{},
		configs:     &memConfigRepo{sections: sections, errs: make(map[string]error)},
		client:      newRecordingClient(),
		dispatcher:  events.NewInMemoryDispatcher(),
		now:         time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
	resolver := service.NewConfigResolver(f.configs)
	transcriptSvc := service.NewTranscriptService(service.TranscriptDependencies{
		TranscriptRepo: f.transcripts,
		Client:         f.client,
		Logger:         zap.NewNop(),
	})
	interactions := service.NewInteractionService(service.InteractionDependencies{
		TicketRepo:  f.tickets,
		Configs:     resolver,
		Client:      f.client,
		Transcripts: transcriptSvc,
		Dispatcher:  f.dispatcher,
		Logger:      zap.NewNop(),
	})
	f.worker = NewAutoCloseWorker(AutoCloseDependencies{
		TicketRepo:      f.tickets,
		GuildConfigRepo: f.configs,
		Configs:         resolver,
		Interactions:    interactions,
		Client:          f.client,
		Dispatcher:      f.dispatcher,
		Logger:          zap.NewNop(),
		Interval:        time.Minute,
	})
	f.worker.now = func() time.Time { return f.now }
	return f
}

// seedIdleTicket creates an open thread ticket idle for the given
// number of minutes.
func (f *workerFixture) seedIdleTicket(t *testing.T, guildID string, idleMinutes int) *domain.Ticket {
	t.Helper()
	channelID := fmt.Sprintf("thread-%s-%d", guildID, f.tickets.seq+1)
	f.client.addThread(channelID)
	ticket := &domain.Ticket{
		GuildID:        guildID,
		ChannelID:      channelID,
		OwnerID:        "owner-1",
		Status:         domain.TicketStatusOpen,
		Category:       "Support",
		CategoryKey:    "support",
		LastActivityAt: f.now.Add(-time.Duration(idleMinutes) * time.Minute),
	}
	require.NoError(t, f.tickets.Create(context.Background(), ticket))
	return ticket
}

func autoCloseSection(after, reminder int) *domain.RawTicketConfig {
	return &domain.RawTicketConfig{
		AutoClose: &domain.RawAutoClose{Enabled: true, AfterMinutes: after, ReminderMinutes: reminder},
	}
}

func TestSweepWarnsThenCloses(t *testing.T) {
	f := newWorkerFixture(t, map[string]*domain.RawTicketConfig{
		"guild-1": autoCloseSection(1440, 120),
	})
	ticket := f.seedIdleTicket(t, "guild-1", 1330)

	var warned, closed []events.Event
	f.dispatcher.Subscribe(events.EventTicketAutoWarned, func(_ context.Context, e events.Event) error {
		warned = append(warned, e)
		return nil
	})
	f.dispatcher.Subscribe(events.EventTicketClosed, func(_ context.Context, e events.Event) error {
		closed = append(closed, e)
		return nil
	})

	// Minute 1330: past the 1320 warning point, before the 1440 close.
	f.worker.Sweep(context.Background())

	msgs := f.client.messagesTo(ticket.ChannelID)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "120 minutes")

	stored, err := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, stored.Status)
	require.NotNil(t, stored.AutoWarnedAt)
	require.Len(t, warned, 1)
	assert.Empty(t, closed)

	// Next tick, still before the threshold: no second warning.
	f.now = f.now.Add(time.Minute)
	f.worker.Sweep(context.Background())
	assert.Len(t, f.client.messagesTo(ticket.ChannelID), 1)

	// Past minute 1440: closed and tagged.
	f.now = f.now.Add(2 * time.Hour)
	f.worker.Sweep(context.Background())

	stored, err = f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, stored.Status)
	require.NotNil(t, stored.Tag)
	assert.Equal(t, domain.TagAutoClose, *stored.Tag)
	require.NotNil(t, stored.ClosedAt)

	require.Len(t, closed, 1)
	payload, ok := closed[0].Payload.(events.TicketClosedPayload)
	require.True(t, ok)
	assert.True(t, payload.AutoClose)

	assert.Equal(t, 1, f.transcripts.count())
	assert.Contains(t, f.client.archived, ticket.ChannelID)
}

func TestSweepIgnoresTicketsBeforeWarnPoint(t *testing.T) {
	f := newWorkerFixture(t, map[string]*domain.RawTicketConfig{
		"guild-1": autoCloseSection(1440, 120),
	})
	ticket := f.seedIdleTicket(t, "guild-1", 600)

	f.worker.Sweep(context.Background())

	assert.Empty(t, f.client.messagesTo(ticket.ChannelID))
	stored, err := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.AutoWarnedAt)
}

func TestSweepClosesWithoutWarningWhenReminderCollapsed(t *testing.T) {
	// reminder >= after collapses at config resolution, so no warning is
	// ever posted; the ticket just closes at the threshold.
	f := newWorkerFixture(t, map[string]*domain.RawTicketConfig{
		"guild-1": autoCloseSection(60, 90),
	})
	ticket := f.seedIdleTicket(t, "guild-1", 45)

	f.worker.Sweep(context.Background())
	assert.Empty(t, f.client.messagesTo(ticket.ChannelID))

	f.now = f.now.Add(30 * time.Minute)
	f.worker.Sweep(context.Background())

	stored, err := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, stored.Status)
	for _, msg := range f.client.messagesTo(ticket.ChannelID) {
		assert.NotContains(t, msg, "closed automatically in about")
	}
}

func TestSweepSkipsDisabledGuilds(t *testing.T) {
	f := newWorkerFixture(t, map[string]*domain.RawTicketConfig{
		"guild-1": {AutoClose: &domain.RawAutoClose{Enabled: false, AfterMinutes: 60}},
	})
	ticket := f.seedIdleTicket(t, "guild-1", 10000)

	f.worker.Sweep(context.Background())

	stored, err := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, stored.Status)
}

func TestActivityClearsWarningMark(t *testing.T) {
	f := newWorkerFixture(t, map[string]*domain.RawTicketConfig{
		"guild-1": autoCloseSection(1440, 120),
	})
	ticket := f.seedIdleTicket(t, "guild-1", 1330)

	f.worker.Sweep(context.Background())
	require.Len(t, f.client.messagesTo(ticket.ChannelID), 1)

	// New activity resets the clock and the warning mark.
	require.NoError(t, f.tickets.TouchActivity(context.Background(), ticket.ChannelID, f.now))

	f.now = f.now.Add(1330 * time.Minute)
	f.worker.Sweep(context.Background())

	stored, err := f.tickets.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, stored.Status)
	assert.Len(t, f.client.messagesTo(ticket.ChannelID), 2, "the ticket is warned again after fresh activity goes idle")
}

func TestSweepIsolatesGuildFailures(t *testing.T) {
	f := newWorkerFixture(t, map[string]*domain.RawTicketConfig{
		"guild-a": autoCloseSection(60, 0),
		"guild-b": autoCloseSection(60, 0),
	})
	f.configs.errs["guild-a"] = errors.New("settings document corrupted")
	broken := f.seedIdleTicket(t, "guild-a", 500)
	healthy := f.seedIdleTicket(t, "guild-b", 500)

	f.worker.Sweep(context.Background())

	stored, err := f.tickets.GetByID(context.Background(), broken.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, stored.Status)

	stored, err = f.tickets.GetByID(context.Background(), healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, stored.Status, "one broken guild must not abort the sweep")
}

func TestSweepBoundsBatchSize(t *testing.T) {
	f := newWorkerFixture(t, map[string]*domain.RawTicketConfig{
		"guild-1": autoCloseSection(60, 0),
	})
	for i := 0; i < sweepBatchSize+5; i++ {
		ticket := f.seedIdleTicket(t, "guild-1", 500)
		// Distinct owners keep the records independent.
		ticket.OwnerID = fmt.Sprintf("owner-%d", i)
		require.NoError(t, f.tickets.Update(context.Background(), ticket))
	}

	f.worker.Sweep(context.Background())

	closedCount := 0
	f.tickets.mu.Lock()
	for _, ticket := range f.tickets.tickets {
		if ticket.Status == domain.TicketStatusClosed {
			closedCount++
		}
	}
	f.tickets.mu.Unlock()
	assert.Equal(t, sweepBatchSize, closedCount, "one tick closes at most a batch; the rest wait for the next tick")
}

func TestWarningMessageWording(t *testing.T) {
	f := newWorkerFixture(t, map[string]*domain.RawTicketConfig{
		"guild-1": autoCloseSection(1440, 120),
	})
	ticket := f.seedIdleTicket(t, "guild-1", 1400)

	f.worker.Sweep(context.Background())

	msgs := f.client.messagesTo(ticket.ChannelID)
	require.Len(t, msgs, 1)
	assert.True(t, strings.Contains(msgs[0], "inactive"), "warning should say why it fired: %q", msgs[0])
}
