package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bot/internal/domain"
	"github.com/spec-kit/ticket-bot/internal/events"
	"github.com/spec-kit/ticket-bot/internal/platform"
	"github.com/spec-kit/ticket-bot/internal/repository"
	"github.com/spec-kit/ticket-bot/internal/service"
)

// sweepBatchSize bounds how many tickets one guild can warn or close
// per tick, so a busy guild cannot starve the rest of the sweep.
const sweepBatchSize = 25

// AutoCloseWorker warns about and closes inactive tickets on a fixed
// global tick, independent of any guild's configured thresholds.
type AutoCloseWorker struct {
	tickets      repository.TicketRepository
	guildConfigs repository.GuildConfigRepository
	configs      *service.ConfigResolver
	interactions *service.InteractionService
	client       platform.Client
	dispatcher   events.Dispatcher
	logger       *zap.Logger
	interval     time.Duration
	now          func() time.Time
}

// AutoCloseDependencies bundles collaborators for the worker.
type AutoCloseDependencies struct {
	TicketRepo      repository.TicketRepository
	GuildConfigRepo repository.GuildConfigRepository
	Configs         *service.ConfigResolver
	Interactions    *service.InteractionService
	Client          platform.Client
	Dispatcher      events.Dispatcher
	Logger          *zap.Logger
	Interval        time.Duration
}

// NewAutoCloseWorker constructs the worker.
func NewAutoCloseWorker(deps AutoCloseDependencies) *AutoCloseWorker {
	return &AutoCloseWorker{
		tickets:      deps.TicketRepo,
		guildConfigs: deps.GuildConfigRepo,
		configs:      deps.Configs,
		interactions: deps.Interactions,
		client:       deps.Client,
		dispatcher:   deps.Dispatcher,
		logger:       deps.Logger,
		interval:     deps.Interval,
		now:          time.Now,
	}
}

// Run ticks until ctx is cancelled.
func (w *AutoCloseWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep processes every guild once. Guilds are handled sequentially and
// failures are isolated per guild so one broken guild cannot abort the
// tick.
func (w *AutoCloseWorker) Sweep(ctx context.Context) {
	guildIDs, err := w.guildConfigs.ListGuildIDs(ctx)
	if err != nil {
		w.logger.Error("auto-close list guilds", zap.Error(err))
		return
	}
	for _, guildID := range guildIDs {
		if err := w.sweepGuild(ctx, guildID); err != nil {
			w.logger.Error("auto-close sweep failed", zap.String("guild_id", guildID), zap.Error(err))
		}
	}
}

func (w *AutoCloseWorker) sweepGuild(ctx context.Context, guildID string) error {
	cfg, err := w.configs.Resolve(ctx, guildID)
	if err != nil {
		return err
	}
	policy := cfg.AutoClose
	if !policy.Enabled || policy.AfterMinutes <= 0 {
		return nil
	}

	now := w.now()
	closeBefore := now.Add(-time.Duration(policy.AfterMinutes) * time.Minute)

	if policy.ReminderMinutes > 0 {
		// The reminder fires reminderMinutes before the close threshold:
		// a {1440, 120} policy warns at minute 1320 of inactivity.
		warnBefore := now.Add(-time.Duration(policy.AfterMinutes-policy.ReminderMinutes) * time.Minute)
		if err := w.warnPhase(ctx, guildID, warnBefore, closeBefore, policy.ReminderMinutes); err != nil {
			return err
		}
	}

	return w.closePhase(ctx, guildID, closeBefore)
}

// warnPhase posts one inactivity warning per due ticket. A ticket is
// warned at most once; the mark is only cleared by new activity.
func (w *AutoCloseWorker) warnPhase(ctx context.Context, guildID string, warnBefore, closeBefore time.Time, remainingMinutes int) error {
	due, err := w.tickets.ListWarnDue(ctx, guildID, warnBefore, closeBefore, sweepBatchSize)
	if err != nil {
		return err
	}
	for i := range due {
		ticket := &due[i]
		content := fmt.Sprintf(
			"This ticket has been inactive and will be closed automatically in about %d minutes unless there is new activity.",
			remainingMinutes)
		if _, err := w.client.SendMessage(ctx, ticket.ChannelID, &discordgo.MessageSend{Content: content}); err != nil {
			w.logger.Warn("send inactivity warning", zap.String("ticket_id", ticket.ID), zap.Error(err))
		}

		now := w.now()
		ticket.AutoWarnedAt = &now
		if err := w.tickets.Update(ctx, ticket); err != nil {
			return err
		}
		w.publish(ctx, events.Event{
			Type:     events.EventTicketAutoWarned,
			GuildID:  guildID,
			TicketID: ticket.ID,
		})
	}
	return nil
}

// closePhase runs every overdue ticket through the shared finalize
// path, tagged auto-close.
func (w *AutoCloseWorker) closePhase(ctx context.Context, guildID string, closeBefore time.Time) error {
	due, err := w.tickets.ListCloseDue(ctx, guildID, closeBefore, sweepBatchSize)
	if err != nil {
		return err
	}
	for i := range due {
		ticket := &due[i]
		if err := w.interactions.FinalizeClose(ctx, ticket, domain.TagAutoClose, ""); err != nil {
			w.logger.Error("auto-close finalize", zap.String("ticket_id", ticket.ID), zap.Error(err))
		}
	}
	return nil
}

func (w *AutoCloseWorker) publish(ctx context.Context, event events.Event) {
	if w.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = w.now()
	}
	_ = w.dispatcher.Publish(ctx, event)
}
