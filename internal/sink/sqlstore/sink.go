// Package sqlstore provides the upsert MergeSink for MySQL and SQLite over
// database/sql. Each entity is looked up by primary key, then inserted or
// its mutable columns updated, inside one transaction per batch.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver
	"go.uber.org/zap"

	"github.com/JakeFAU/slack-history-crawler/internal/crawler"
)

// Supported database/sql driver names.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"
)

// Config controls the connection.
type Config struct {
	Driver   string
	DSN      string
	MaxConns int
	Migrate  bool
}

// Sink is the database/sql upsert sink.
type Sink struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

var _ crawler.MergeSink = (*Sink)(nil)

var schemas = map[string][]string{
	DriverMySQL: {
		`CREATE TABLE IF NOT EXISTS channels (
			channel_id   VARCHAR(20) PRIMARY KEY,
			channel_name VARCHAR(80) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			channel_id       VARCHAR(20) NOT NULL,
			timestamp        DATETIME(6) NOT NULL,
			user_id          VARCHAR(20) NOT NULL,
			text             TEXT,
			thread_timestamp DATETIME(6) NULL,
			reply_count      INT,
			PRIMARY KEY (channel_id, timestamp)
		)`,
		`CREATE TABLE IF NOT EXISTS reactions (
			channel_id       VARCHAR(20) NOT NULL,
			timestamp        DATETIME(6) NOT NULL,
			reaction_name    VARCHAR(80) NOT NULL,
			reacting_user_id VARCHAR(20) NOT NULL,
			message_user_id  VARCHAR(20) NOT NULL,
			reaction_count   INT,
			PRIMARY KEY (channel_id, timestamp, reaction_name, reacting_user_id)
		)`,
	},
	DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS channels (
			channel_id   TEXT PRIMARY KEY,
			channel_name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			channel_id       TEXT NOT NULL,
			timestamp        DATETIME NOT NULL,
			user_id          TEXT NOT NULL,
			text             TEXT,
			thread_timestamp DATETIME,
			reply_count      INTEGER,
			PRIMARY KEY (channel_id, timestamp)
		)`,
		`CREATE TABLE IF NOT EXISTS reactions (
			channel_id       TEXT NOT NULL,
			timestamp        DATETIME NOT NULL,
			reaction_name    TEXT NOT NULL,
			reacting_user_id TEXT NOT NULL,
			message_user_id  TEXT NOT NULL,
			reaction_count   INTEGER,
			PRIMARY KEY (channel_id, timestamp, reaction_name, reacting_user_id)
		)`,
	},
}

// timestamp is a non-reserved keyword in both dialects and stays unquoted.
const (
	selectChannel = `SELECT channel_name FROM channels WHERE channel_id = ?`
	insertChannel = `INSERT INTO channels (channel_id, channel_name) VALUES (?, ?)`
	updateChannel = `UPDATE channels SET channel_name = ? WHERE channel_id = ?`

	selectMessage = `SELECT COUNT(*) FROM messages WHERE channel_id = ? AND timestamp = ?`
	insertMessage = `INSERT INTO messages (channel_id, timestamp, user_id, text, thread_timestamp, reply_count) VALUES (?, ?, ?, ?, ?, ?)`
	updateMessage = `UPDATE messages SET user_id = ?, text = ?, thread_timestamp = ?, reply_count = ? WHERE channel_id = ? AND timestamp = ?`

	selectReaction = `SELECT COUNT(*) FROM reactions WHERE channel_id = ? AND timestamp = ? AND reaction_name = ? AND reacting_user_id = ?`
	insertReaction = `INSERT INTO reactions (channel_id, timestamp, reaction_name, reacting_user_id, message_user_id, reaction_count) VALUES (?, ?, ?, ?, ?, ?)`
	updateReaction = `UPDATE reactions SET reaction_count = ? WHERE channel_id = ? AND timestamp = ? AND reaction_name = ? AND reacting_user_id = ?`
)

// New opens the database and optionally creates the schema.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Sink, error) {
	if _, ok := schemas[cfg.Driver]; !ok {
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	s, err := NewWithDB(db, cfg.Driver, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if cfg.Migrate {
		if err := s.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithDB wraps an open handle (primarily for testing).
func NewWithDB(db *sql.DB, driver string, logger *zap.Logger) (*Sink, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if _, ok := schemas[driver]; !ok {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{db: db, driver: driver, logger: logger}, nil
}

// EnsureSchema creates the tables for the sink's dialect.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemas[s.driver] {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Write upserts the batch in one transaction.
func (s *Sink) Write(ctx context.Context, batch *crawler.Batch) error {
	ch := batch.Channel
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &crawler.PersistenceError{Op: "begin", ChannelID: ch.ID, Err: err}
	}
	if err := s.write(ctx, tx, batch); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", zap.String("channel_id", ch.ID), zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return &crawler.PersistenceError{Op: "commit", ChannelID: ch.ID, Err: err}
	}
	return nil
}

func (s *Sink) write(ctx context.Context, tx *sql.Tx, batch *crawler.Batch) error {
	ch := batch.Channel
	if err := upsertChannel(ctx, tx, ch); err != nil {
		return &crawler.PersistenceError{Op: "upsert channel", ChannelID: ch.ID, Err: err}
	}
	if batch.Empty() {
		s.logger.Info("skip registration, no messages", zap.String("channel_id", ch.ID))
		return nil
	}
	for _, m := range batch.Messages() {
		if err := upsertMessage(ctx, tx, m); err != nil {
			return &crawler.PersistenceError{Op: "upsert message", ChannelID: ch.ID, Err: err}
		}
	}
	for _, r := range batch.Reactions() {
		if err := upsertReaction(ctx, tx, r); err != nil {
			return &crawler.PersistenceError{Op: "upsert reaction", ChannelID: ch.ID, Err: err}
		}
	}
	return nil
}

func upsertChannel(ctx context.Context, tx *sql.Tx, ch crawler.Channel) error {
	var name string
	err := tx.QueryRowContext(ctx, selectChannel, ch.ID).Scan(&name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, insertChannel, ch.ID, ch.Name)
		return err
	case err != nil:
		return err
	case name == ch.Name:
		return nil
	default:
		_, err = tx.ExecContext(ctx, updateChannel, ch.Name, ch.ID)
		return err
	}
}

func upsertMessage(ctx context.Context, tx *sql.Tx, m crawler.Message) error {
	exists, err := rowExists(ctx, tx, selectMessage, m.ChannelID, m.Timestamp)
	if err != nil {
		return err
	}
	if exists {
		_, err = tx.ExecContext(ctx, updateMessage, m.User, m.Text, threadArg(m.ThreadTimestamp), m.ReplyCount, m.ChannelID, m.Timestamp)
		return err
	}
	_, err = tx.ExecContext(ctx, insertMessage, m.ChannelID, m.Timestamp, m.User, m.Text, threadArg(m.ThreadTimestamp), m.ReplyCount)
	return err
}

func upsertReaction(ctx context.Context, tx *sql.Tx, r crawler.Reaction) error {
	exists, err := rowExists(ctx, tx, selectReaction, r.ChannelID, r.MessageTimestamp, r.Name, r.User)
	if err != nil {
		return err
	}
	if exists {
		_, err = tx.ExecContext(ctx, updateReaction, r.Count, r.ChannelID, r.MessageTimestamp, r.Name, r.User)
		return err
	}
	_, err = tx.ExecContext(ctx, insertReaction, r.ChannelID, r.MessageTimestamp, r.Name, r.User, r.MessageUser, r.Count)
	return err
}

func rowExists(ctx context.Context, tx *sql.Tx, query string, args ...any) (bool, error) {
	var n int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close releases the handle.
func (s *Sink) Close() error {
	return s.db.Close()
}

func threadArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
