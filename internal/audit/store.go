// Package audit provides PostgreSQL-backed storage for moderation incidents.
// Each row records which filter fired, why, and which actions were taken.
// Message content is never stored.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/whisper/automod/internal/incident"
	"github.com/whisper/automod/internal/moderation"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies all pending schema migrations to the database at dsn. The
// dsn must be a postgres:// URL.
func Migrate(dsn string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("audit: migrations source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("audit: migrate init: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("audit: migrate up: %w", err)
	}
	return nil
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	return db, nil
}

// Store manages incidents in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new incident store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts an incident.
func (s *Store) Record(ctx context.Context, inc *incident.Incident) error {
	const query = `
		INSERT INTO incidents (id, guild_id, channel_id, author_id, message_id, filter_name,
		                       reason, context, actions, infractions, armed, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.db.ExecContext(ctx, query,
		inc.ID.String(),
		inc.GuildID,
		inc.ChannelID,
		inc.AuthorID,
		inc.MessageID,
		inc.FilterName,
		inc.Reason,
		string(inc.Context),
		pq.Array(inc.Actions),
		inc.Infractions,
		inc.Armed,
		inc.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit incidents for a guild, newest first.
func (s *Store) Recent(ctx context.Context, guildID string, limit int) ([]incident.Incident, error) {
	const query = `
		SELECT id, guild_id, channel_id, author_id, message_id, filter_name,
		       reason, context, actions, infractions, armed, occurred_at
		FROM incidents
		WHERE guild_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, guildID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: recent: %w", err)
	}
	defer rows.Close()

	var out []incident.Incident
	for rows.Next() {
		var (
			inc    incident.Incident
			id     string
			evtCtx string
		)
		if err := rows.Scan(&id, &inc.GuildID, &inc.ChannelID, &inc.AuthorID, &inc.MessageID, &inc.FilterName,
			&inc.Reason, &evtCtx, pq.Array(&inc.Actions), &inc.Infractions, &inc.Armed, &inc.OccurredAt); err != nil {
			return nil, fmt.Errorf("audit: recent scan: %w", err)
		}
		if err := inc.ID.UnmarshalText([]byte(id)); err != nil {
			return nil, fmt.Errorf("audit: recent id: %w", err)
		}
		inc.Context = moderation.EventContext(evtCtx)
		out = append(out, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: recent rows: %w", err)
	}
	return out, nil
}

// CountRecent returns the number of incidents for a member within the given
// time window.
func (s *Store) CountRecent(ctx context.Context, guildID, authorID string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM incidents
		WHERE guild_id = $1
		  AND author_id = $2
		  AND occurred_at >= NOW() - $3::float8 * INTERVAL '1 second'`

	var count int
	err := s.db.QueryRowContext(ctx, query, guildID, authorID, window.Seconds()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("audit: count recent: %w", err)
	}
	return count, nil
}

// Prune deletes incidents older than retention and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	const query = `DELETE FROM incidents WHERE occurred_at < NOW() - $1::float8 * INTERVAL '1 second'`

	res, err := s.db.ExecContext(ctx, query, retention.Seconds())
	if err != nil {
		return 0, fmt.Errorf("audit: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("audit: prune rows: %w", err)
	}
	return n, nil
}
