package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-bot/internal/domain"
	apperrors "github.com/spec-kit/ticket-bot/pkg/util/errorutil"
)

const pgUniqueViolation = "23505"

// TicketRepository encapsulates ticket record persistence.
type TicketRepository interface {
	// Create persists a new record. Returns a CONFLICT DomainError when
	// the open-ticket uniqueness index rejects it.
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket) error
	// CloseIfOpen writes the ticket's closing fields only while the
	// stored row is still OPEN. Returns false when another closer got
	// there first, so close side effects run exactly once.
	CloseIfOpen(ctx context.Context, ticket *domain.Ticket) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetOpen(ctx context.Context, guildID, ownerID, categoryKey string) (*domain.Ticket, error)
	// GetLatestByChannel returns the most recent record hosted in a
	// channel, regardless of status.
	GetLatestByChannel(ctx context.Context, channelID string) (*domain.Ticket, error)
	// TouchActivity resets last-activity and clears the auto-close
	// warning mark for the open ticket hosted in channelID.
	TouchActivity(ctx context.Context, channelID string, at time.Time) error
	// ListWarnDue returns open tickets idle since before warnBefore but
	// not yet past closeBefore, never warned, oldest first.
	ListWarnDue(ctx context.Context, guildID string, warnBefore, closeBefore time.Time, limit int) ([]domain.Ticket, error)
	// ListCloseDue returns open tickets idle since before closeBefore,
	// oldest first.
	ListCloseDue(ctx context.Context, guildID string, closeBefore time.Time, limit int) ([]domain.Ticket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (guild_id, channel_id, owner_id, status, category, category_key, claimed_by, last_activity_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,NOW())
        RETURNING id, created_at, last_activity_at`
	err := r.pool.QueryRow(ctx, query,
		ticket.GuildID,
		ticket.ChannelID,
		ticket.OwnerID,
		ticket.Status,
		ticket.Category,
		ticket.CategoryKey,
		ticket.ClaimedBy,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.LastActivityAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return apperrors.NewConflict("open ticket already exists", map[string]any{
				"guild_id":     ticket.GuildID,
				"owner_id":     ticket.OwnerID,
				"category_key": ticket.CategoryKey,
			})
		}
		return err
	}
	return nil
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET status=$1, claimed_by=$2, last_activity_at=$3, auto_warned_at=$4, closed_at=$5, tag=$6
        WHERE id=$7`
	cmd, err := r.pool.Exec(ctx, query,
		ticket.Status,
		ticket.ClaimedBy,
		ticket.LastActivityAt,
		ticket.AutoWarnedAt,
		ticket.ClosedAt,
		ticket.Tag,
		ticket.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticket.ID})
	}
	return nil
}

func (r *ticketRepository) CloseIfOpen(ctx context.Context, ticket *domain.Ticket) (bool, error) {
	const query = `
        UPDATE tickets SET status=$1, closed_at=$2, tag=$3
        WHERE id=$4 AND status='OPEN'`
	cmd, err := r.pool.Exec(ctx, query,
		ticket.Status,
		ticket.ClosedAt,
		ticket.Tag,
		ticket.ID,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

const ticketColumns = `id, guild_id, channel_id, owner_id, status, category, category_key,
               claimed_by, created_at, last_activity_at, auto_warned_at, closed_at, tag`

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *ticketRepository) GetOpen(ctx context.Context, guildID, ownerID, categoryKey string) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + `
        FROM tickets WHERE guild_id=$1 AND owner_id=$2 AND category_key=$3 AND status='OPEN'`
	return r.fetchSingle(ctx, query, guildID, ownerID, categoryKey)
}

func (r *ticketRepository) GetLatestByChannel(ctx context.Context, channelID string) (*domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + `
        FROM tickets WHERE channel_id=$1 ORDER BY created_at DESC LIMIT 1`
	return r.fetchSingle(ctx, query, channelID)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := r.pool.QueryRow(ctx, query, args...).Scan(
		&ticket.ID,
		&ticket.GuildID,
		&ticket.ChannelID,
		&ticket.OwnerID,
		&ticket.Status,
		&ticket.Category,
		&ticket.CategoryKey,
		&ticket.ClaimedBy,
		&ticket.CreatedAt,
		&ticket.LastActivityAt,
		&ticket.AutoWarnedAt,
		&ticket.ClosedAt,
		&ticket.Tag,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", nil)
		}
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) TouchActivity(ctx context.Context, channelID string, at time.Time) error {
	const query = `
        UPDATE tickets SET last_activity_at=$1, auto_warned_at=NULL
        WHERE channel_id=$2 AND status='OPEN'`
	_, err := r.pool.Exec(ctx, query, at, channelID)
	return err
}

func (r *ticketRepository) ListWarnDue(ctx context.Context, guildID string, warnBefore, closeBefore time.Time, limit int) ([]domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + `
        FROM tickets
        WHERE guild_id=$1 AND status='OPEN' AND auto_warned_at IS NULL
          AND last_activity_at <= $2 AND last_activity_at > $3
        ORDER BY last_activity_at ASC
        LIMIT $4`
	rows, err := r.pool.Query(ctx, query, guildID, warnBefore, closeBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListCloseDue(ctx context.Context, guildID string, closeBefore time.Time, limit int) ([]domain.Ticket, error) {
	const query = `SELECT ` + ticketColumns + `
        FROM tickets
        WHERE guild_id=$1 AND status='OPEN' AND last_activity_at <= $2
        ORDER BY last_activity_at ASC
        LIMIT $3`
	rows, err := r.pool.Query(ctx, query, guildID, closeBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(
			&ticket.ID,
			&ticket.GuildID,
			&ticket.ChannelID,
			&ticket.OwnerID,
			&ticket.Status,
			&ticket.Category,
			&ticket.CategoryKey,
			&ticket.ClaimedBy,
			&ticket.CreatedAt,
			&ticket.LastActivityAt,
			&ticket.AutoWarnedAt,
			&ticket.ClosedAt,
			&ticket.Tag,
		); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}
