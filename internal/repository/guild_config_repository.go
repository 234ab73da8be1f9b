package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-bot/internal/domain"
)

// GuildConfigRepository reads the shared per-guild settings document.
// Only the `tickets` section belongs to this service; other sections of
// the same document are owned by other subsystems and ignored here.
type GuildConfigRepository interface {
	GetTicketSection(ctx context.Context, guildID string) (*domain.RawTicketConfig, error)
	// ListGuildIDs returns every guild with a settings document, for the
	// auto-close sweep.
	ListGuildIDs(ctx context.Context) ([]string, error)
}

type guildConfigRepository struct {
	pool *pgxpool.Pool
}

// NewGuildConfigRepository constructs repository.
func NewGuildConfigRepository(pool *pgxpool.Pool) GuildConfigRepository {
	return &guildConfigRepository{pool: pool}
}

func (r *guildConfigRepository) GetTicketSection(ctx context.Context, guildID string) (*domain.RawTicketConfig, error) {
	const query = `SELECT document->'tickets' FROM guild_settings WHERE guild_id=$1`
	var raw []byte
	if err := r.pool.QueryRow(ctx, query, guildID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.RawTicketConfig{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return &domain.RawTicketConfig{}, nil
	}
	var section domain.RawTicketConfig
	if err := json.Unmarshal(raw, &section); err != nil {
		return nil, err
	}
	return &section, nil
}

func (r *guildConfigRepository) ListGuildIDs(ctx context.Context) ([]string, error) {
	const query = `SELECT guild_id FROM guild_settings ORDER BY guild_id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, rows.Err()
}
