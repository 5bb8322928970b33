// Package csvfile provides the append MergeSink writing one messages file and
// one reactions file per crawl window.
package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/slack-history-crawler/internal/crawler"
)

const (
	// NameLayout formats window bounds inside artifact names.
	NameLayout = "20060102150405"
	// TimestampLayout formats timestamps inside rows.
	TimestampLayout = "2006-01-02 15:04:05.000000"
)

var (
	messageHeader  = []string{"channel_id", "channel_name", "timestamp", "user", "text", "thread_timestamp", "reply_count"}
	reactionHeader = []string{"channel_id", "channel_name", "timestamp", "user", "reaction_name", "reaction_count", "reacting_user"}
)

// Config controls where and how artifacts are written.
type Config struct {
	Dir      string
	Window   crawler.Window
	Location *time.Location
}

// FileNames returns the message and reaction artifact names for w.
func FileNames(w crawler.Window, loc *time.Location) (messages, reactions string) {
	if loc == nil {
		loc = time.UTC
	}
	span := w.Since.In(loc).Format(NameLayout) + "-" + w.Until.In(loc).Format(NameLayout)
	return "slack_messages_" + span + ".csv", "slack_reactions_" + span + ".csv"
}

type appendFile struct {
	path string
	file *os.File
	w    *csv.Writer
}

// Sink appends rows without deduplicating across runs; rerunning a window
// appends again. Within a run each key is written once.
type Sink struct {
	mu        sync.Mutex
	messages  *appendFile
	reactions *appendFile
	loc       *time.Location
	logger    *zap.Logger
}

var _ crawler.MergeSink = (*Sink)(nil)

// New opens (or creates) both artifacts in append mode. A header row is
// written only to a newly created file.
func New(cfg Config, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	dir := cfg.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	msgName, rxName := FileNames(cfg.Window, loc)
	messages, err := openAppend(filepath.Join(dir, msgName), messageHeader)
	if err != nil {
		return nil, err
	}
	reactions, err := openAppend(filepath.Join(dir, rxName), reactionHeader)
	if err != nil {
		_ = messages.file.Close()
		return nil, err
	}
	logger.Info("writing csv artifacts",
		zap.String("messages", messages.path),
		zap.String("reactions", reactions.path))
	return &Sink{messages: messages, reactions: reactions, loc: loc, logger: logger}, nil
}

func openAppend(path string, header []string) (*appendFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	af := &appendFile{path: path, file: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := af.w.Write(header); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write header %s: %w", path, err)
		}
		af.w.Flush()
		if err := af.w.Error(); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write header %s: %w", path, err)
		}
	}
	return af, nil
}

// Write appends the batch's rows and flushes both files.
func (s *Sink) Write(_ context.Context, batch *crawler.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := batch.Channel.ID
	for _, m := range batch.Messages() {
		if err := s.messages.w.Write(s.messageRow(m)); err != nil {
			return &crawler.PersistenceError{Op: "append messages", ChannelID: ch, Err: err}
		}
	}
	for _, r := range batch.Reactions() {
		if err := s.reactions.w.Write(s.reactionRow(r)); err != nil {
			return &crawler.PersistenceError{Op: "append reactions", ChannelID: ch, Err: err}
		}
	}
	if err := s.messages.flush(); err != nil {
		return &crawler.PersistenceError{Op: "flush messages", ChannelID: ch, Err: err}
	}
	if err := s.reactions.flush(); err != nil {
		return &crawler.PersistenceError{Op: "flush reactions", ChannelID: ch, Err: err}
	}
	return nil
}

func (f *appendFile) flush() error {
	f.w.Flush()
	if err := f.w.Error(); err != nil {
		return err
	}
	return f.file.Sync()
}

func (s *Sink) messageRow(m crawler.Message) []string {
	thread := ""
	if m.ThreadTimestamp != nil {
		thread = s.format(*m.ThreadTimestamp)
	}
	return []string{
		m.ChannelID,
		m.ChannelName,
		s.format(m.Timestamp),
		m.User,
		m.Text,
		thread,
		strconv.Itoa(m.ReplyCount),
	}
}

func (s *Sink) reactionRow(r crawler.Reaction) []string {
	return []string{
		r.ChannelID,
		r.ChannelName,
		s.format(r.MessageTimestamp),
		r.MessageUser,
		r.Name,
		strconv.Itoa(r.Count),
		r.User,
	}
}

func (s *Sink) format(t time.Time) string {
	return t.In(s.loc).Format(TimestampLayout)
}

// Paths lists the artifact files, messages first.
func (s *Sink) Paths() []string {
	return []string{s.messages.path, s.reactions.path}
}

// Close flushes and closes both files.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, f := range []*appendFile{s.messages, s.reactions} {
		f.w.Flush()
		if err := f.w.Error(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush %s: %w", f.path, err)
		}
		if err := f.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", f.path, err)
		}
	}
	return firstErr
}
