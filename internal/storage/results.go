package storage

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// ResultsBucket holds one Entry per image digest
	ResultsBucket = "results"

	// MetaBucket for storing metadata
	MetaBucket = "meta"

	// CountKey for tracking the number of distinct images
	CountKey = "count"
)

// ErrStoreClosed is returned by every operation after Close
var ErrStoreClosed = errors.New("store is closed")

// Entry is the stored outcome of solving one board image
type Entry struct {
	Digest    string   `json:"digest"`
	Status    string   `json:"status"`
	SFEN      string   `json:"sfen,omitempty"`
	CSA       string   `json:"csa,omitempty"`
	Moves     []string `json:"moves,omitempty"`
	Width     int      `json:"width"`
	Height    int      `json:"height"`
	ElapsedMs int64    `json:"elapsed_ms"`
	Timestamp int64    `json:"timestamp"` // Unix timestamp
}

// ResultStore caches solver results in a bbolt file keyed by image digest
type ResultStore struct {
	db     *bbolt.DB
	dbPath string

	mu       sync.RWMutex
	isClosed bool
}

// Digest returns the hex SHA-256 of an image's dimensions and gray pixels.
// Identical pixels under different bounds offsets share a digest.
func Digest(img *image.Gray) string {
	h := sha256.New()
	if img == nil {
		return hex.EncodeToString(h.Sum(nil))
	}
	b := img.Bounds()
	var dims [8]byte
	binary.BigEndian.PutUint32(dims[:4], uint32(b.Dx()))
	binary.BigEndian.PutUint32(dims[4:], uint32(b.Dy()))
	h.Write(dims[:])
	for y := b.Min.Y; y < b.Max.Y; y++ {
		start := img.PixOffset(b.Min.X, y)
		h.Write(img.Pix[start : start+b.Dx()])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Open opens or creates a result store at dbPath
func Open(dbPath string) (*ResultStore, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(ResultsBucket)); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(MetaBucket)); err != nil {
			return fmt.Errorf("create meta bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &ResultStore{db: db, dbPath: dbPath}, nil
}

// Path returns the database file path
func (s *ResultStore) Path() string {
	return s.dbPath
}

// Put stores an entry under its digest, replacing any previous result
func (s *ResultStore) Put(entry Entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.isClosed {
		return ErrStoreClosed
	}
	if entry.Digest == "" {
		return errors.New("entry has no digest")
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().Unix()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(ResultsBucket))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		meta := tx.Bucket([]byte(MetaBucket))
		if meta == nil {
			return fmt.Errorf("meta bucket not found")
		}

		key := []byte(entry.Digest)
		isNew := b.Get(key) == nil
		if err := b.Put(key, data); err != nil {
			return err
		}
		if !isNew {
			return nil
		}

		count := readCount(meta) + 1
		countBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(countBytes, count)
		return meta.Put([]byte(CountKey), countBytes)
	})
}

// Get returns the entry for digest. The boolean is false when no result is
// stored for it.
func (s *ResultStore) Get(digest string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.isClosed {
		return Entry{}, false, ErrStoreClosed
	}

	var entry Entry
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(ResultsBucket))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		data := b.Get([]byte(digest))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("corrupted entry %s: %w", digest, err)
		}
		found = true
		return nil
	})
	return entry, found, err
}

// Count returns the number of distinct images stored
func (s *ResultStore) Count() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.isClosed {
		return 0, ErrStoreClosed
	}

	var count uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket([]byte(MetaBucket))
		if meta == nil {
			return fmt.Errorf("meta bucket not found")
		}
		count = readCount(meta)
		return nil
	})
	return count, err
}

func readCount(meta *bbolt.Bucket) uint64 {
	countBytes := meta.Get([]byte(CountKey))
	if len(countBytes) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(countBytes)
}

// ForEach calls fn for every stored entry in digest order. Corrupted entries
// are skipped; an error from fn stops the iteration and is returned.
func (s *ResultStore) ForEach(fn func(Entry) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.isClosed {
		return ErrStoreClosed
	}

	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(ResultsBucket))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		return b.ForEach(func(_, data []byte) error {
			var entry Entry
			if err := json.Unmarshal(data, &entry); err != nil {
				return nil
			}
			return fn(entry)
		})
	})
}

// Delete removes the entry for digest, if any
func (s *ResultStore) Delete(digest string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.isClosed {
		return ErrStoreClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(ResultsBucket))
		meta := tx.Bucket([]byte(MetaBucket))
		if b == nil || meta == nil {
			return fmt.Errorf("bucket not found")
		}
		key := []byte(digest)
		if b.Get(key) == nil {
			return nil
		}
		if err := b.Delete(key); err != nil {
			return err
		}
		count := readCount(meta)
		if count > 0 {
			count--
		}
		countBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(countBytes, count)
		return meta.Put([]byte(CountKey), countBytes)
	})
}

// Clear removes all entries from the store
func (s *ResultStore) Clear() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.isClosed {
		return ErrStoreClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(ResultsBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucket([]byte(ResultsBucket)); err != nil {
			return err
		}

		meta := tx.Bucket([]byte(MetaBucket))
		if meta == nil {
			return fmt.Errorf("meta bucket not found")
		}
		countBytes := make([]byte, 8)
		return meta.Put([]byte(CountKey), countBytes)
	})
}

// Close closes the database connection
func (s *ResultStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed {
		return nil
	}

	s.isClosed = true
	return s.db.Close()
}

// Stats summarizes the stored results
type Stats struct {
	Total    uint64
	ByStatus map[string]int
	DBPath   string
}

// GetStats returns the number of entries per status
func (s *ResultStore) GetStats() (Stats, error) {
	count, err := s.Count()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Total: count, ByStatus: make(map[string]int), DBPath: s.dbPath}
	err = s.ForEach(func(e Entry) error {
		stats.ByStatus[e.Status]++
		return nil
	})
	return stats, err
}
