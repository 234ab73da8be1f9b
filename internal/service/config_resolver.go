package service

import (
	"context"

	"github.com/spec-kit/ticket-bot/internal/domain"
	"github.com/spec-kit/ticket-bot/internal/repository"
)

// ConfigResolver loads the guild's raw ticket settings and returns a
// normalized config with every optional field defaulted. Pure read;
// settings are loaded fresh per operation so panel edits take effect
// without a restart.
type ConfigResolver struct {
	configs repository.GuildConfigRepository
}

// NewConfigResolver constructs the resolver.
func NewConfigResolver(configs repository.GuildConfigRepository) *ConfigResolver {
	return &ConfigResolver{configs: configs}
}

// Resolve reads and normalizes the ticket configuration for a guild.
func (r *ConfigResolver) Resolve(ctx context.Context, guildID string) (*domain.TicketConfig, error) {
	raw, err := r.configs.GetTicketSection(ctx, guildID)
	if err != nil {
		return nil, err
	}
	return Normalize(raw), nil
}

// Normalize applies defaults to a raw ticket section.
func Normalize(raw *domain.RawTicketConfig) *domain.TicketConfig {
	if raw == nil {
		raw = &domain.RawTicketConfig{}
	}

	cfg := &domain.TicketConfig{
		Mode:             domain.TicketModeThread,
		OpeningChannelID: raw.ChannelID,
		StaffRoleIDs:     raw.StaffRoles,
		ResponseTemplate: raw.ResponseTemplate,
	}
	if raw.Type == string(domain.TicketModeChannel) {
		cfg.Mode = domain.TicketModeChannel
	}

	for _, rc := range raw.Categories {
		if rc.Label == "" {
			continue
		}
		questions := rc.Questions
		if len(questions) > domain.MaxCategoryQuestions {
			questions = questions[:domain.MaxCategoryQuestions]
		}
		cfg.Categories = append(cfg.Categories, domain.Category{
			Label:       rc.Label,
			Description: rc.Description,
			Template:    rc.Template,
			Questions:   questions,
		})
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = []domain.Category{{Label: "General"}}
	}

	if raw.AutoClose != nil {
		cfg.AutoClose = domain.AutoClosePolicy{
			Enabled:         raw.AutoClose.Enabled,
			AfterMinutes:    raw.AutoClose.AfterMinutes,
			ReminderMinutes: raw.AutoClose.ReminderMinutes,
		}
	}
	if !cfg.AutoClose.Enabled || cfg.AutoClose.AfterMinutes <= 0 {
		cfg.AutoClose.Enabled = false
		cfg.AutoClose.AfterMinutes = 0
		cfg.AutoClose.ReminderMinutes = 0
	}
	// A reminder at or past the close threshold can never fire before
	// the ticket closes; collapse it to "no reminder".
	if cfg.AutoClose.ReminderMinutes >= cfg.AutoClose.AfterMinutes || cfg.AutoClose.ReminderMinutes < 0 {
		cfg.AutoClose.ReminderMinutes = 0
	}

	return cfg
}
