package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	root := t.TempDir()
	fs := FileStore{Root: root}
	ctx := context.Background()

	if _, err := fs.Get(ctx, "a/b/cover0.jpg"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing err = %v, want ErrNotFound", err)
	}
	if err := fs.Put(ctx, "a/b/cover0.jpg", []byte("img")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := fs.Get(ctx, "/a/b/cover0.jpg")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "img" {
		t.Fatalf("Get = %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, "a", "b", "cover0.jpg")); err != nil {
		t.Fatalf("object not at mirrored path: %v", err)
	}
}

func TestFileStoreKeepsKeysInsideRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	fs := FileStore{Root: root}
	if err := fs.Put(context.Background(), "../../escape.jpg", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "escape.jpg")); err != nil {
		t.Fatalf("dot-dot key should be cleaned into root: %v", err)
	}
}
