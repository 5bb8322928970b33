// Package checkpoint records crawl progress in a bbolt file so an interrupted
// window can resume without refetching channels that already landed.
//
// Progress is kept per scope, one scope per output destination, so a window
// harvested into csv files is never treated as landed in a database.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/JakeFAU/slack-history-crawler/internal/crawler"
)

var (
	windowsBucket = []byte("windows")
	metaBucket    = []byte("meta")
)

const (
	pendingKey   = "pending"
	lastUntilKey = "last_until"
)

// ErrNoPending is returned by Pending when no window is unfinished.
var ErrNoPending = errors.New("no pending window")

// Store is a bbolt-backed crawler.Checkpointer. The zero scope is the one
// Open returns; Scoped derives views over the same file.
type Store struct {
	db     *bbolt.DB
	scope  string
	shared bool
}

var _ crawler.Checkpointer = (*Store)(nil)

// Open opens or creates the checkpoint file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(windowsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init checkpoint buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Scope builds a scope name from an output kind and the settings that
// identify its destination. Settings are hashed so DSNs never reach the file.
func Scope(kind string, destination ...string) string {
	if len(destination) == 0 {
		return kind
	}
	sum := sha256.Sum256([]byte(strings.Join(destination, "\x00")))
	return kind + ":" + hex.EncodeToString(sum[:6])
}

// Scoped returns a view whose windows, pending window and last bound are
// independent of every other scope. Closing the view leaves the file open.
func (s *Store) Scoped(scope string) *Store {
	return &Store{db: s.db, scope: scope, shared: true}
}

func (s *Store) key(name string) []byte {
	if s.scope == "" {
		return []byte(name)
	}
	return []byte(s.scope + "/" + name)
}

func (s *Store) windowKey(w crawler.Window) []byte {
	return s.key(w.Key())
}

// Begin pins w as the pending window.
func (s *Store) Begin(w crawler.Window) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("encode window: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.Bucket(windowsBucket).CreateBucketIfNotExists(s.windowKey(w)); err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Put(s.key(pendingKey), data)
	})
}

// Done reports whether channelID already landed for w.
func (s *Store) Done(w crawler.Window, channelID string) (bool, error) {
	var done bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(windowsBucket).Bucket(s.windowKey(w))
		if b == nil {
			return nil
		}
		done = b.Get([]byte(channelID)) != nil
		return nil
	})
	return done, err
}

// MarkDone records that channelID landed for w.
func (s *Store) MarkDone(w crawler.Window, channelID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(windowsBucket).CreateBucketIfNotExists(s.windowKey(w))
		if err != nil {
			return err
		}
		stamp, err := time.Now().UTC().MarshalText()
		if err != nil {
			return err
		}
		return b.Put([]byte(channelID), stamp)
	})
}

// Finish drops w's channel marks, clears the pending window and advances the
// last harvested bound.
func (s *Store) Finish(w crawler.Window) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		windows := tx.Bucket(windowsBucket)
		if windows.Bucket(s.windowKey(w)) != nil {
			if err := windows.DeleteBucket(s.windowKey(w)); err != nil {
				return err
			}
		}
		meta := tx.Bucket(metaBucket)
		if err := meta.Delete(s.key(pendingKey)); err != nil {
			return err
		}
		until, err := w.Until.UTC().MarshalText()
		if err != nil {
			return err
		}
		return meta.Put(s.key(lastUntilKey), until)
	})
}

// Pending returns the window a previous run began but did not finish.
func (s *Store) Pending() (crawler.Window, error) {
	var w crawler.Window
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(metaBucket).Get(s.key(pendingKey))
		if data == nil {
			return ErrNoPending
		}
		return json.Unmarshal(data, &w)
	})
	return w, err
}

// LastUntil returns the upper bound of the last finished window.
func (s *Store) LastUntil() (time.Time, bool, error) {
	var (
		t  time.Time
		ok bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(metaBucket).Get(s.key(lastUntilKey))
		if data == nil {
			return nil
		}
		ok = true
		return t.UnmarshalText(data)
	})
	return t, ok, err
}

// Close releases the file lock. It is a no-op on a scoped view.
func (s *Store) Close() error {
	if s.shared {
		return nil
	}
	return s.db.Close()
}
