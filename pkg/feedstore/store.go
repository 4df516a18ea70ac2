// Package feedstore keeps the last good body of every downloaded feed in a BoltDB database.
package feedstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var (
	keysBucket  = []byte("KEYS")
	feedsBucket = []byte("FEEDS")
)

// ErrNotFound is returned when no snapshot exists for a feed
var ErrNotFound = errors.New("feed snapshot does not exist")

var log = logrus.New()

// SetLogger replaces the logger used by the package
func SetLogger(logger *logrus.Logger) {
	if logger != nil {
		log = logger
	}
}

// Store is a BoltDB backed feed snapshot store
type Store struct {
	path     string
	database *bolt.DB
}

// Open opens or creates the database at path
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	// Create parent directory if not exists
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, fmt.Errorf("could not create database directory '%s': %v", filepath.Dir(path), err)
	}

	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) open() (err error) {
	// Open BoltDB database
	if s.database, err = bolt.Open(s.path, 0600, getOptions()); err != nil {
		return fmt.Errorf("could not open database: %v", err)
	}

	// Create buckets if not exists
	if err := s.database.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{keysBucket, feedsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("could not create bucket %s: %v", name, err)
			}
		}
		return nil
	}); err != nil {
		s.database.Close()
		return fmt.Errorf("failed to create buckets: %v", err)
	}

	log.WithField("path", s.path).Debug("Feed database ready")
	return nil
}

// Put stores body as the latest snapshot of feedURL
func (s *Store) Put(feedURL string, body []byte) error {
	if len(feedURL) == 0 {
		return fmt.Errorf("empty feed key")
	}

	entry := Entry{Key: feedURL, Size: len(body)}
	entry.UpdateTimestamp()
	entryBytes, err := entry.ToJSON()
	if err != nil {
		return fmt.Errorf("unable to marshal entry: %v", err)
	}

	return s.database.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(feedsBucket).Put([]byte(feedURL), body); err != nil {
			return fmt.Errorf("could not set feed: %v", err)
		}
		if err := tx.Bucket(keysBucket).Put([]byte(feedURL), entryBytes); err != nil {
			return fmt.Errorf("could not set entry: %v", err)
		}
		return nil
	})
}

// Get returns the latest snapshot of feedURL and its metadata
func (s *Store) Get(feedURL string) ([]byte, Entry, error) {
	var body []byte
	var entry Entry

	err := s.database.View(func(tx *bolt.Tx) error {
		entryBytes := tx.Bucket(keysBucket).Get([]byte(feedURL))
		if entryBytes == nil {
			return ErrNotFound
		}
		if err := entry.FromJSON(entryBytes); err != nil {
			return fmt.Errorf("unable to unmarshal entry: %v", err)
		}

		// Copy out of the transaction, bolt memory is only valid inside it
		stored := tx.Bucket(feedsBucket).Get([]byte(feedURL))
		if stored == nil {
			return ErrNotFound
		}
		body = append([]byte(nil), stored...)
		return nil
	})
	if err != nil {
		return nil, Entry{}, err
	}
	return body, entry, nil
}

// Delete removes the snapshot of feedURL
func (s *Store) Delete(feedURL string) error {
	return s.database.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(feedsBucket).Delete([]byte(feedURL)); err != nil {
			return fmt.Errorf("could not delete feed: %v", err)
		}
		if err := tx.Bucket(keysBucket).Delete([]byte(feedURL)); err != nil {
			return fmt.Errorf("could not delete entry: %v", err)
		}
		return nil
	})
}

// Scan returns the metadata of every snapshot, oldest first
func (s *Store) Scan() ([]Entry, error) {
	var entries []Entry

	err := s.database.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(keysBucket)
		entries = make([]Entry, 0, b.Stats().KeyN)

		return b.ForEach(func(key, entryBytes []byte) error {
			var entry Entry
			if err := entry.FromJSON(entryBytes); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Sort(ByTimestamp(entries))
	return entries, nil
}

// Prune deletes snapshots older than maxAge and returns how many were deleted
func (s *Store) Prune(maxAge time.Duration) (int, error) {
	entries, err := s.Scan()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge).Unix()
	deleted := 0
	for _, entry := range entries {
		// Entries are sorted, everything after this one is newer
		if entry.Timestamp >= cutoff {
			break
		}
		if err := s.Delete(entry.Key); err != nil {
			log.Warnf("Unable to delete feed snapshot '%s': %v", entry.Key, err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// Path returns the database file path
func (s *Store) Path() string { return s.path }

// Close closes the database
func (s *Store) Close() error {
	return s.database.Close()
}
