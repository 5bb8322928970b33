// Package postgres provides the upsert MergeSink backed by Postgres.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/slack-history-crawler/internal/crawler"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
	// Migrate creates the tables when they are missing.
	Migrate bool
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink upserts channels, messages and reactions, one transaction per batch.
type Sink struct {
	pool   pool
	logger *zap.Logger
}

var _ crawler.MergeSink = (*Sink)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS channels (
	channel_id   VARCHAR(20) PRIMARY KEY,
	channel_name VARCHAR(80) NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	channel_id       VARCHAR(20) NOT NULL,
	"timestamp"      TIMESTAMPTZ NOT NULL,
	user_id          VARCHAR(20) NOT NULL,
	text             TEXT,
	thread_timestamp TIMESTAMPTZ,
	reply_count      INTEGER,
	PRIMARY KEY (channel_id, "timestamp")
);
CREATE TABLE IF NOT EXISTS reactions (
	channel_id       VARCHAR(20) NOT NULL,
	"timestamp"      TIMESTAMPTZ NOT NULL,
	reaction_name    VARCHAR(80) NOT NULL,
	reacting_user_id VARCHAR(20) NOT NULL,
	message_user_id  VARCHAR(20) NOT NULL,
	reaction_count   INTEGER,
	PRIMARY KEY (channel_id, "timestamp", reaction_name, reacting_user_id)
);`

const (
	upsertChannel = `
		INSERT INTO channels (channel_id, channel_name)
		VALUES ($1, $2)
		ON CONFLICT (channel_id) DO UPDATE
		SET channel_name = EXCLUDED.channel_name
		WHERE channels.channel_name IS DISTINCT FROM EXCLUDED.channel_name;`
	upsertMessage = `
		INSERT INTO messages (channel_id, "timestamp", user_id, text, thread_timestamp, reply_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (channel_id, "timestamp") DO UPDATE
		SET user_id = EXCLUDED.user_id,
			text = EXCLUDED.text,
			thread_timestamp = EXCLUDED.thread_timestamp,
			reply_count = EXCLUDED.reply_count;`
	upsertReaction = `
		INSERT INTO reactions (channel_id, "timestamp", reaction_name, reacting_user_id, message_user_id, reaction_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (channel_id, "timestamp", reaction_name, reacting_user_id) DO UPDATE
		SET reaction_count = EXCLUDED.reaction_count;`
)

// New connects to Postgres and optionally creates the schema.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewWithPool(p, logger)
	if cfg.Migrate {
		if err := s.EnsureSchema(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithPool wraps an existing pool (primarily for testing).
func NewWithPool(p pool, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{pool: p, logger: logger}
}

// EnsureSchema creates the three tables if they do not exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Write upserts the batch atomically. On failure nothing from the batch
// persists and a *crawler.PersistenceError is returned.
func (s *Sink) Write(ctx context.Context, batch *crawler.Batch) error {
	ch := batch.Channel
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &crawler.PersistenceError{Op: "begin", ChannelID: ch.ID, Err: err}
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Warn("rollback failed", zap.String("channel_id", ch.ID), zap.Error(rbErr))
		}
	}()

	if _, err := tx.Exec(ctx, upsertChannel, ch.ID, ch.Name); err != nil {
		return &crawler.PersistenceError{Op: "upsert channel", ChannelID: ch.ID, Err: err}
	}

	if batch.Empty() {
		s.logger.Info("skip registration, no messages", zap.String("channel_id", ch.ID))
	}
	for _, m := range batch.Messages() {
		if _, err := tx.Exec(ctx, upsertMessage,
			m.ChannelID,
			m.Timestamp,
			m.User,
			m.Text,
			threadArg(m.ThreadTimestamp),
			m.ReplyCount,
		); err != nil {
			return &crawler.PersistenceError{Op: "upsert message", ChannelID: ch.ID, Err: err}
		}
	}
	for _, r := range batch.Reactions() {
		if _, err := tx.Exec(ctx, upsertReaction,
			r.ChannelID,
			r.MessageTimestamp,
			r.Name,
			r.User,
			r.MessageUser,
			r.Count,
		); err != nil {
			return &crawler.PersistenceError{Op: "upsert reaction", ChannelID: ch.ID, Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &crawler.PersistenceError{Op: "commit", ChannelID: ch.ID, Err: err}
	}
	committed = true
	return nil
}

// Close releases the pool.
func (s *Sink) Close() error {
	s.pool.Close()
	return nil
}

func threadArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
