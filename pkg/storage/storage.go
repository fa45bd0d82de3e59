// Package storage abstracts the durable corpus store that the coordinator
// syncs against.
//
// Backends implement directory-granular transfer plus listing and single-file
// reads, keyed by logical corpus paths (source/, export/, sparv-workdir/ and
// the corpus config file). Authentication uses SDK default credential chains;
// backends should not implement custom auth logic.
package storage

import (
	"context"
	"time"
)

// FileInfo describes one stored object, in the shape the job record caches
// under available_files.
type FileInfo struct {
	Name         string    `json:"name"`
	Type         string    `json:"type,omitempty"`
	LastModified time.Time `json:"last_modified"`
	Size         int64     `json:"size"`
	Path         string    `json:"path"`
}

// Backend abstracts the durable corpus store.
//
// Implementations should be safe for concurrent use. Directory arguments are
// logical paths relative to the backend root (see Paths).
type Backend interface {
	// ListContents lists files under dir recursively. With excludeDirs set,
	// directory entries are omitted.
	ListContents(ctx context.Context, dir string, excludeDirs bool) ([]FileInfo, error)

	// DownloadDir copies the stored dir tree into localDir.
	DownloadDir(ctx context.Context, dir, localDir string) error

	// UploadDir copies localDir into the stored dir. A non-empty patterns
	// list restricts the upload to files whose dir-relative path matches
	// one of the glob patterns.
	UploadDir(ctx context.Context, dir, localDir string, patterns []string) error

	// RemoveDir deletes the stored dir tree.
	RemoveDir(ctx context.Context, dir string) error

	// GetFileContents returns the contents of a single stored file.
	GetFileContents(ctx context.Context, path string) (string, error)

	// LocalResults reports whether the store lives on the annotation host
	// itself, in which case produced results never need a sync-back pass.
	LocalResults() bool
}
