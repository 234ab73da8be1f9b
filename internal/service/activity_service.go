package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-bot/internal/persistence"
	"github.com/spec-kit/ticket-bot/internal/repository"
)

// ActivityService resets a ticket's inactivity clock when messages
// arrive in its container. Writes are debounced per channel to bound
// write volume under chatter.
type ActivityService struct {
	tickets  repository.TicketRepository
	state    persistence.TTLStore
	logger   *zap.Logger
	debounce time.Duration
}

// NewActivityService constructs the service.
func NewActivityService(tickets repository.TicketRepository, state persistence.TTLStore, logger *zap.Logger, debounce time.Duration) *ActivityService {
	return &ActivityService{
		tickets:  tickets,
		state:    state,
		logger:   logger,
		debounce: debounce,
	}
}

// OnMessage records activity for the channel. Resets last-activity and
// clears the auto-close warning mark on the open ticket hosted there,
// at most once per debounce window.
func (s *ActivityService) OnMessage(ctx context.Context, channelID string) {
	fresh, err := s.state.SetNX(ctx, "activity:"+channelID, "1", s.debounce)
	if err != nil {
		s.logger.Warn("activity debounce check", zap.String("channel_id", channelID), zap.Error(err))
		return
	}
	if !fresh {
		return
	}
	if err := s.tickets.TouchActivity(ctx, channelID, time.Now()); err != nil {
		s.logger.Warn("touch ticket activity", zap.String("channel_id", channelID), zap.Error(err))
	}
}
