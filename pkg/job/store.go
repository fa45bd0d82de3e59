package job

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const jobKeyPrefix = "job:"

// Store persists and loads job records across a fast cache and a durable
// backup file per corpus in the queue directory. Either side can rehydrate
// the other after a restart.
type Store struct {
	cache Cache
	dir   string
	log   *zap.Logger
}

// NewStore creates a store writing backups under dir.
func NewStore(cache Cache, dir string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{cache: cache, dir: strings.TrimSpace(dir), log: log}
}

// BackupPath returns the backup file for a corpus.
func (s *Store) BackupPath(corpusID string) string {
	return filepath.Join(s.dir, corpusID)
}

func (s *Store) ensureDir() error {
	if s.dir == "" {
		return fmt.Errorf("queue dir is empty")
	}
	return os.MkdirAll(s.dir, 0755)
}

// Get rehydrates the record for a corpus from the cache, falling back to
// the backup file, and creates a fresh record when neither exists.
func (s *Store) Get(ctx context.Context, corpusID string) (*Record, error) {
	corpusID = strings.TrimSpace(corpusID)
	if corpusID == "" {
		return nil, fmt.Errorf("corpus_id is required")
	}

	if dump, err := s.cache.Get(ctx, jobKeyPrefix+corpusID); err == nil {
		rec, derr := DecodeRecord([]byte(dump))
		if derr == nil {
			return rec, nil
		}
		s.log.Warn("discarding corrupt cached job record",
			zap.String("corpus_id", corpusID), zap.Error(derr))
	} else if !errors.Is(err, ErrCacheMiss) {
		s.log.Warn("job cache read failed, falling back to backup file",
			zap.String("corpus_id", corpusID), zap.Error(err))
	}

	data, err := os.ReadFile(s.BackupPath(corpusID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NewRecord(corpusID), nil
		}
		return nil, fmt.Errorf("read job backup: %w", err)
	}
	rec, err := DecodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("parse job backup: %w", err)
	}
	// Re-seed the cache from the backup.
	if cerr := s.cache.Set(ctx, jobKeyPrefix+corpusID, string(data)); cerr != nil {
		s.log.Warn("failed to re-seed job cache", zap.String("corpus_id", corpusID), zap.Error(cerr))
	}
	return rec, nil
}

// Save writes the record to the cache and the backup file. Every state
// mutation must be saved before the side effect it gates is trusted, so the
// backup write is atomic (temp file + rename).
func (s *Store) Save(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("job record is nil")
	}
	if strings.TrimSpace(rec.CorpusID) == "" {
		return fmt.Errorf("corpus_id is required")
	}
	if err := s.ensureDir(); err != nil {
		return err
	}

	data, err := rec.Encode()
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}

	if err := s.cache.Set(ctx, jobKeyPrefix+rec.CorpusID, string(data)); err != nil {
		s.log.Warn("failed to write job record to cache",
			zap.String("corpus_id", rec.CorpusID), zap.Error(err))
	}

	tmp, err := os.CreateTemp(s.dir, rec.CorpusID+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp job file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp job file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp job file: %w", err)
	}
	if err := os.Rename(tmpName, s.BackupPath(rec.CorpusID)); err != nil {
		return fmt.Errorf("rename job file: %w", err)
	}
	return nil
}

// Remove deletes the record from the cache and the backup file. A job with
// a live remote process is protected unless force is set.
func (s *Store) Remove(ctx context.Context, corpusID string, force bool) error {
	rec, err := s.Get(ctx, corpusID)
	if err != nil {
		return err
	}
	if rec.Status.IsRunning() && !force {
		return &Error{
			Kind:    ErrJob,
			Corpus:  corpusID,
			Message: "job cannot be removed due to a running annotation process",
		}
	}

	if err := s.cache.Delete(ctx, jobKeyPrefix+corpusID); err != nil {
		s.log.Error("failed to delete job record from cache",
			zap.String("corpus_id", corpusID), zap.Error(err))
	}
	if err := os.Remove(s.BackupPath(corpusID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove job backup: %w", err)
	}
	return nil
}

// List loads every backed-up record, oldest first (by backup mtime), so
// queue recovery preserves arrival order.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	if err := s.ensureDir(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read queue dir: %w", err)
	}

	type entry struct {
		rec   *Record
		mtime int64
	}
	var loaded []entry
	for _, e := range entries {
		if e.IsDir() || strings.Contains(e.Name(), ".tmp.") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.log.Warn("skipping unreadable job backup", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		rec, err := DecodeRecord(data)
		if err != nil || rec.CorpusID == "" {
			s.log.Warn("skipping invalid job backup", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		loaded = append(loaded, entry{rec: rec, mtime: info.ModTime().UnixNano()})
	}

	sort.Slice(loaded, func(i, j int) bool { return loaded[i].mtime < loaded[j].mtime })
	out := make([]*Record, len(loaded))
	for i, e := range loaded {
		out[i] = e.rec
	}
	return out, nil
}
