// Package local implements the storage backend on a local filesystem root.
//
// It backs single-host deployments where the corpus store and the annotation
// tool share a machine, and it is the backend of choice in tests.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/nordtext/annod/pkg/storage"
)

// Backend implements storage.Backend over a directory tree.
type Backend struct {
	root         string
	localResults bool
}

var _ storage.Backend = (*Backend)(nil)

// Config configures a local backend.
type Config struct {
	// Root is the directory under which all corpora live (required).
	Root string

	// LocalResults marks the store as living on the annotation host, so
	// finished annotation runs skip the sync-back pass.
	LocalResults bool
}

// New creates a local backend rooted at cfg.Root.
func New(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, fmt.Errorf("local storage: root dir is required")
	}
	if err := os.MkdirAll(cfg.Root, 0755); err != nil {
		return nil, fmt.Errorf("local storage: create root: %w", err)
	}
	return &Backend{root: cfg.Root, localResults: cfg.LocalResults}, nil
}

// LocalResults reports whether results are already local to the store.
func (b *Backend) LocalResults() bool {
	return b.localResults
}

func (b *Backend) abs(dir string) string {
	return filepath.Join(b.root, filepath.FromSlash(dir))
}

func (b *Backend) wrap(op, path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		err = storage.ErrNotFound
	} else if errors.Is(err, fs.ErrPermission) {
		err = storage.ErrAccessDenied
	}
	return &storage.Error{Op: op, Backend: "local", Path: path, Err: err}
}

// ListContents lists files under dir recursively.
func (b *Backend) ListContents(ctx context.Context, dir string, excludeDirs bool) ([]storage.FileInfo, error) {
	root := b.abs(dir)
	var out []storage.FileInfo
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p == root {
			return nil
		}
		if d.IsDir() && excludeDirs {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		fi := storage.FileInfo{
			Name:         d.Name(),
			LastModified: info.ModTime().UTC(),
			Path:         filepath.ToSlash(rel),
		}
		if d.IsDir() {
			fi.Type = "directory"
		} else {
			fi.Size = info.Size()
		}
		out = append(out, fi)
		return nil
	})
	if err != nil {
		return nil, b.wrap("ListContents", dir, err)
	}
	return out, nil
}

// DownloadDir copies the stored dir tree into localDir.
func (b *Backend) DownloadDir(ctx context.Context, dir, localDir string) error {
	if err := copyTree(ctx, b.abs(dir), localDir, nil); err != nil {
		return b.wrap("DownloadDir", dir, err)
	}
	return nil
}

// UploadDir copies localDir into the stored dir, optionally filtered by
// glob patterns relative to localDir.
func (b *Backend) UploadDir(ctx context.Context, dir, localDir string, patterns []string) error {
	if err := copyTree(ctx, localDir, b.abs(dir), patterns); err != nil {
		return b.wrap("UploadDir", dir, err)
	}
	return nil
}

// RemoveDir deletes the stored dir tree.
func (b *Backend) RemoveDir(ctx context.Context, dir string) error {
	if err := os.RemoveAll(b.abs(dir)); err != nil {
		return b.wrap("RemoveDir", dir, err)
	}
	return nil
}

// GetFileContents returns the contents of one stored file.
func (b *Backend) GetFileContents(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(b.abs(path))
	if err != nil {
		return "", b.wrap("GetFileContents", path, err)
	}
	return string(data), nil
}

// copyTree copies src into dst. With patterns set, only files whose
// src-relative slash path matches one of the doublestar patterns are copied.
func copyTree(ctx context.Context, src, dst string, patterns []string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !matchesAny(filepath.ToSlash(rel), patterns) {
			return nil
		}
		return copyFile(p, target)
	})
}

func matchesAny(rel string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pat := range patterns {
		if ok, err := doublestar.Match(pat, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
