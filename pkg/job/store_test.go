package job

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) (*Store, *MemoryCache, string) {
	t.Helper()
	dir := t.TempDir()
	cache := NewMemoryCache()
	return NewStore(cache, dir, nil), cache, dir
}

func TestStore_SaveGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	rec := NewRecord("demo-1")
	rec.Status = StatusWaiting
	rec.SparvExports = []string{"xml_export:pretty"}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, err := s.Get(ctx, "demo-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != StatusWaiting || len(got.SparvExports) != 1 {
		t.Fatalf("record not preserved: %+v", got)
	}
}

func TestStore_GetUnknownCorpusReturnsFreshRecord(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	rec, err := s.Get(ctx, "never-seen")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if rec.Status != StatusNone || rec.CorpusID != "never-seen" {
		t.Fatalf("expected fresh record, got %+v", rec)
	}
}

func TestStore_CacheLossRecoversFromBackupFile(t *testing.T) {
	ctx := context.Background()
	s, cache, _ := newTestStore(t)

	rec := NewRecord("demo-1")
	rec.Status = StatusAnnotating
	rec.PID = 4242
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	// Simulate a cache flush.
	if err := cache.Delete(ctx, jobKeyPrefix+"demo-1"); err != nil {
		t.Fatalf("cache delete: %v", err)
	}

	got, err := s.Get(ctx, "demo-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != StatusAnnotating || got.PID != 4242 {
		t.Fatalf("backup not recovered: %+v", got)
	}

	// The read must have re-seeded the cache.
	if _, err := cache.Get(ctx, jobKeyPrefix+"demo-1"); err != nil {
		t.Fatalf("cache not re-seeded: %v", err)
	}
}

func TestStore_BackupLossRecoversFromCache(t *testing.T) {
	ctx := context.Background()
	s, _, dir := newTestStore(t)

	rec := NewRecord("demo-1")
	rec.Status = StatusWaiting
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, "demo-1")); err != nil {
		t.Fatalf("remove backup: %v", err)
	}

	got, err := s.Get(ctx, "demo-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != StatusWaiting {
		t.Fatalf("cache copy not used: %+v", got)
	}
}

func TestStore_RemoveRefusesRunningJob(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	rec := NewRecord("demo-1")
	rec.Status = StatusAnnotating
	rec.PID = 4242
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	if err := s.Remove(ctx, "demo-1", false); err == nil {
		t.Fatal("expected removal of a running job to fail")
	}

	// Forced removal succeeds.
	if err := s.Remove(ctx, "demo-1", true); err != nil {
		t.Fatalf("forced Remove() error: %v", err)
	}
	got, err := s.Get(ctx, "demo-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != StatusNone {
		t.Fatalf("record not removed: %+v", got)
	}
}

func TestStore_ListOldestFirst(t *testing.T) {
	ctx := context.Background()
	s, _, dir := newTestStore(t)

	for i, id := range []string{"first", "second", "third"} {
		rec := NewRecord(id)
		rec.Status = StatusWaiting
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("Save(%s) error: %v", id, err)
		}
		// Distinct mtimes without sleeping.
		mtime := time.Now().Add(time.Duration(i) * time.Second)
		if err := os.Chtimes(filepath.Join(dir, id), mtime, mtime); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	got, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != 3 || got[0].CorpusID != "first" || got[2].CorpusID != "third" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestStore_ListSkipsDotAndTempFiles(t *testing.T) {
	ctx := context.Background()
	s, _, dir := newTestStore(t)

	rec := NewRecord("demo-1")
	rec.Status = StatusWaiting
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".priorities.json"), []byte(`["demo-1"]`), 0644); err != nil {
		t.Fatalf("write priorities: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "demo-2.tmp.123"), []byte(`{}`), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	got, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != 1 || got[0].CorpusID != "demo-1" {
		t.Fatalf("expected only the job record, got %+v", got)
	}
}
