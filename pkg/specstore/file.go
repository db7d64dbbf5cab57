package specstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/mjones3/api-consistency-analyzer/pkg/types"
)

// fileRecord is the on-disk representation: the document plus the metadata
// spec §6's Persistence boundary names (source URL, version, validation
// errors, hash).
type fileRecord struct {
	Service          string    `json:"service"`
	Namespace        string    `json:"namespace"`
	SourceURL        string    `json:"source_url"`
	Content          any       `json:"content"`
	Version          string    `json:"version"`
	HarvestedAt      time.Time `json:"harvested_at"`
	IsValid          bool      `json:"is_valid"`
	ValidationErrors []string  `json:"validation_errors,omitempty"`
	ContentHash      string    `json:"content_hash"`
	FetchDurationMS  int64     `json:"fetch_duration_ms"`
}

// FileStore is a Store backed by one file per document under Root. Reads
// are by directory scan sorted by the timestamp encoded in the file name
// (the document's HarvestedAt), not by file modification time;
// writes are atomic (write-to-temp, rename); concurrent writers for the
// same identity are serialised by a per-identity mutex. Readers never block
// writers beyond the rename boundary -- a reader either sees the file
// before or after a rename, never a partial write.
type FileStore struct {
	root   string
	logger log.Logger

	mu      sync.Mutex // guards the locks and cache maps themselves
	locks   map[types.Identity]*sync.Mutex
	cache   map[types.Identity][]string // cached file list, newest file-name timestamp first
}

// NewFileStore builds a FileStore rooted at root, creating it if necessary.
func NewFileStore(root string, logger log.Logger) (*FileStore, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create storage root %q", root)
	}
	return &FileStore{
		root:   root,
		logger: logger,
		locks:  make(map[types.Identity]*sync.Mutex),
		cache:  make(map[types.Identity][]string),
	}, nil
}

func (s *FileStore) lockFor(id types.Identity) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func fileName(service, namespace string, t time.Time) string {
	// Fixed-width nanoseconds keep the names' string order equal to their
	// time order (RFC3339Nano trims trailing zeros, which would not).
	return service + "_" + namespace + "_" + t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00") + ".json"
}

// Put persists doc atomically (write-to-temp, rename). I/O errors surface
// to the caller, which per spec §4.3 records them as a harvest failure for
// that identity without aborting the cycle.
func (s *FileStore) Put(_ context.Context, doc types.SpecDocument) error {
	id := doc.Identity()
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	rec := fileRecord{
		Service:          doc.Service,
		Namespace:        doc.Namespace,
		SourceURL:        doc.SourceURL,
		Content:          doc.Content,
		Version:          doc.Version,
		HarvestedAt:      doc.HarvestedAt,
		IsValid:          doc.IsValid,
		ValidationErrors: doc.ValidationErrors,
		ContentHash:      doc.ContentHash,
		FetchDurationMS:  doc.FetchDuration.Milliseconds(),
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal spec document")
	}

	name := fileName(doc.Service, doc.Namespace, doc.HarvestedAt)
	finalPath := filepath.Join(s.root, name)

	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "rename into place")
	}

	s.invalidateCache(id)
	return nil
}

// filesFor returns this identity's file names (not full paths) sorted by
// the embedded timestamp, most recent first. The list is cached until the
// next Put or Prune for this identity.
func (s *FileStore) filesFor(id types.Identity) ([]string, error) {
	s.mu.Lock()
	if cached, ok := s.cache[id]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.Wrap(err, "scan storage root")
	}
	prefix := id.Service + "_" + id.Namespace + "_"
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool { return names[i] > names[j] })

	s.mu.Lock()
	s.cache[id] = names
	s.mu.Unlock()
	return names, nil
}

func (s *FileStore) invalidateCache(id types.Identity) {
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
}

func (s *FileStore) readNth(id types.Identity, n int) (*types.SpecDocument, error) {
	names, err := s.filesFor(id)
	if err != nil {
		// Read errors fall back to "no prior document" per spec §4.3.
		level.Warn(s.logger).Log("msg", "specstore read failed, treating as absent", "identity", id, "err", err)
		return nil, nil
	}
	if n >= len(names) {
		return nil, nil
	}
	b, err := os.ReadFile(filepath.Join(s.root, names[n]))
	if err != nil {
		level.Warn(s.logger).Log("msg", "specstore read failed, treating as absent", "identity", id, "err", err)
		return nil, nil
	}
	var rec fileRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		level.Warn(s.logger).Log("msg", "specstore decode failed, treating as absent", "identity", id, "err", err)
		return nil, nil
	}
	doc := &types.SpecDocument{
		Service:          rec.Service,
		Namespace:        rec.Namespace,
		SourceURL:        rec.SourceURL,
		Content:          rec.Content,
		Version:          rec.Version,
		HarvestedAt:      rec.HarvestedAt,
		IsValid:          rec.IsValid,
		ValidationErrors: rec.ValidationErrors,
		ContentHash:      rec.ContentHash,
		FetchDuration:    time.Duration(rec.FetchDurationMS) * time.Millisecond,
	}
	return doc, nil
}

// Latest returns the most recently harvested document for id, or nil if
// none exists.
func (s *FileStore) Latest(_ context.Context, id types.Identity) (*types.SpecDocument, error) {
	return s.readNth(id, 0)
}

// Previous returns the second-most-recently harvested document for id, or
// nil if fewer than two exist.
func (s *FileStore) Previous(_ context.Context, id types.Identity) (*types.SpecDocument, error) {
	return s.readNth(id, 1)
}

// Prune retains the latest two documents for id and removes the rest.
// Idempotent: pruning an identity already at or below two documents is a
// no-op (spec I3).
func (s *FileStore) Prune(_ context.Context, id types.Identity) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	names, err := s.filesFor(id)
	if err != nil {
		return err
	}
	if len(names) <= 2 {
		return nil
	}
	for _, name := range names[2:] {
		if err := os.Remove(filepath.Join(s.root, name)); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "prune %q", name)
		}
	}
	s.invalidateCache(id)
	return nil
}

// Diff compares two documents' field inventories, keyed by field location.
// A nil argument is treated as an empty field set (every field in the
// other document is reported added or removed accordingly).
func (s *FileStore) Diff(a, b *types.SpecDocument) Diff {
	return diffContent(a, b)
}
