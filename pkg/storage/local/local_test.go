package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nordtext/annod/pkg/storage"
)

func newTestBackend(t *testing.T) (*Backend, string) {
	t.Helper()
	root := t.TempDir()
	b, err := New(Config{Root: root})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return b, root
}

func seed(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func TestNew_RequiresRoot(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected empty root to fail")
	}
}

func TestBackend_ListContents(t *testing.T) {
	b, root := newTestBackend(t)
	seed(t, root, map[string]string{
		"demo-1/config.yaml":  "metadata:\n  id: demo-1\n",
		"demo-1/source/a.xml": "<text/>",
	})

	got, err := b.ListContents(context.Background(), "demo-1", false)
	if err != nil {
		t.Fatalf("ListContents() error: %v", err)
	}
	byPath := map[string]storage.FileInfo{}
	for _, fi := range got {
		byPath[fi.Path] = fi
	}
	if fi, ok := byPath["demo-1/config.yaml"]; !ok || fi.Type == "directory" || fi.Size == 0 {
		t.Fatalf("config file missing or wrong: %+v", byPath)
	}
	if fi, ok := byPath["demo-1/source"]; !ok || fi.Type != "directory" {
		t.Fatalf("source dir missing or wrong: %+v", byPath)
	}
	if _, ok := byPath["demo-1/source/a.xml"]; !ok {
		t.Fatalf("nested file missing: %+v", byPath)
	}
}

func TestBackend_ListContents_ExcludeDirs(t *testing.T) {
	b, root := newTestBackend(t)
	seed(t, root, map[string]string{"demo-1/source/a.xml": "<text/>"})

	got, err := b.ListContents(context.Background(), "demo-1", true)
	if err != nil {
		t.Fatalf("ListContents() error: %v", err)
	}
	for _, fi := range got {
		if fi.Type == "directory" {
			t.Fatalf("directory entry leaked: %+v", fi)
		}
	}
	if len(got) != 1 || got[0].Name != "a.xml" {
		t.Fatalf("unexpected listing: %+v", got)
	}
}

func TestBackend_ListContents_NotFound(t *testing.T) {
	b, _ := newTestBackend(t)

	_, err := b.ListContents(context.Background(), "missing", false)
	if !storage.IsNotFound(err) {
		t.Fatalf("expected a not-found error, got %v", err)
	}
}

func TestBackend_DownloadUploadRoundTrip(t *testing.T) {
	b, root := newTestBackend(t)
	seed(t, root, map[string]string{
		"demo-1/config.yaml":  "metadata:\n  id: demo-1\n",
		"demo-1/source/a.xml": "<text/>",
	})
	ctx := context.Background()

	work := t.TempDir()
	if err := b.DownloadDir(ctx, "demo-1", work); err != nil {
		t.Fatalf("DownloadDir() error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(work, "source", "a.xml"))
	if err != nil || string(data) != "<text/>" {
		t.Fatalf("downloaded tree incomplete: %v %q", err, data)
	}

	if err := b.UploadDir(ctx, "demo-2", work, nil); err != nil {
		t.Fatalf("UploadDir() error: %v", err)
	}
	got, err := b.GetFileContents(ctx, "demo-2/source/a.xml")
	if err != nil || got != "<text/>" {
		t.Fatalf("uploaded tree incomplete: %v %q", err, got)
	}
}

func TestBackend_UploadDir_PatternFilter(t *testing.T) {
	b, _ := newTestBackend(t)
	ctx := context.Background()

	work := t.TempDir()
	seed(t, work, map[string]string{
		"a/@text":       "plain text",
		"a/a.xml":       "<text/>",
		"deep/b/@text":  "more text",
		"deep/b/b.conf": "x",
	})

	if err := b.UploadDir(ctx, "demo-1/work", work, []string{"**/@text"}); err != nil {
		t.Fatalf("UploadDir() error: %v", err)
	}

	if _, err := b.GetFileContents(ctx, "demo-1/work/a/@text"); err != nil {
		t.Fatalf("matching file not uploaded: %v", err)
	}
	if _, err := b.GetFileContents(ctx, "demo-1/work/deep/b/@text"); err != nil {
		t.Fatalf("nested matching file not uploaded: %v", err)
	}
	if _, err := b.GetFileContents(ctx, "demo-1/work/a/a.xml"); !storage.IsNotFound(err) {
		t.Fatalf("non-matching file leaked into storage: %v", err)
	}
}

func TestBackend_RemoveDir(t *testing.T) {
	b, root := newTestBackend(t)
	seed(t, root, map[string]string{"demo-1/source/a.xml": "<text/>"})
	ctx := context.Background()

	if err := b.RemoveDir(ctx, "demo-1"); err != nil {
		t.Fatalf("RemoveDir() error: %v", err)
	}
	if _, err := b.ListContents(ctx, "demo-1", false); !storage.IsNotFound(err) {
		t.Fatalf("dir still listed after removal: %v", err)
	}
}

func TestBackend_GetFileContents_NotFound(t *testing.T) {
	b, _ := newTestBackend(t)

	_, err := b.GetFileContents(context.Background(), "demo-1/config.yaml")
	if !storage.IsNotFound(err) {
		t.Fatalf("expected a not-found error, got %v", err)
	}
}

func TestBackend_LocalResults(t *testing.T) {
	root := t.TempDir()
	b, err := New(Config{Root: root, LocalResults: true})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if !b.LocalResults() {
		t.Fatal("LocalResults flag lost")
	}
}
