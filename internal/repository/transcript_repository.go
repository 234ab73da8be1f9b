package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-bot/internal/domain"
	apperrors "github.com/spec-kit/ticket-bot/pkg/util/errorutil"
)

// TranscriptRepository stores immutable transcripts.
type TranscriptRepository interface {
	Create(ctx context.Context, transcript *domain.Transcript) error
	GetByID(ctx context.Context, id string) (*domain.Transcript, error)
}

type transcriptRepository struct {
	pool *pgxpool.Pool
}

// NewTranscriptRepository builds repository.
func NewTranscriptRepository(pool *pgxpool.Pool) TranscriptRepository {
	return &transcriptRepository{pool: pool}
}

func (r *transcriptRepository) Create(ctx context.Context, transcript *domain.Transcript) error {
	const query = `
        INSERT INTO transcripts (id, guild_id, channel_id, owner_id, message_count, markdown, html)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING created_at`
	return r.pool.QueryRow(ctx, query,
		transcript.ID,
		transcript.GuildID,
		transcript.ChannelID,
		transcript.OwnerID,
		transcript.MessageCount,
		transcript.Markdown,
		transcript.HTML,
	).Scan(&transcript.CreatedAt)
}

func (r *transcriptRepository) GetByID(ctx context.Context, id string) (*domain.Transcript, error) {
	const query = `
        SELECT id, guild_id, channel_id, owner_id, message_count, markdown, html, created_at
        FROM transcripts WHERE id=$1`
	var transcript domain.Transcript
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&transcript.ID,
		&transcript.GuildID,
		&transcript.ChannelID,
		&transcript.OwnerID,
		&transcript.MessageCount,
		&transcript.Markdown,
		&transcript.HTML,
		&transcript.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("transcript", map[string]any{"transcript_id": id})
		}
		return nil, err
	}
	return &transcript, nil
}
