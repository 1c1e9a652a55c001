package mediaengine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFSLibraryDump(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Music")
	for _, rel := range []string{"A/B/one.mp3", "A/two.flac", "notes.txt"} {
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("not really audio"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	lib := &FSLibrary{Roots: []string{root}, Logger: testLogger(t)}
	items, err := lib.Dump(context.Background())
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Path != "Music/A/B/one.mp3" || items[0].Title != "one" {
		t.Fatalf("unexpected first item %+v", items[0])
	}
	if items[1].Path != "Music/A/two.flac" || items[1].Subsong != 0 {
		t.Fatalf("unexpected second item %+v", items[1])
	}
	if items[1].FilePath != filepath.Join(root, "A/two.flac") {
		t.Fatalf("FilePath = %q", items[1].FilePath)
	}
}

func TestFSLibraryRemoveCarriesDumpIdentity(t *testing.T) {
	root := filepath.Join(t.TempDir(), "Music")
	track := filepath.Join(root, "A", "one.mp3")
	if err := os.MkdirAll(filepath.Dir(track), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(track, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	lib := &FSLibrary{Roots: []string{root}, Logger: testLogger(t)}
	items, err := lib.Dump(context.Background())
	if err != nil || len(items) != 1 {
		t.Fatalf("Dump: %v %+v", err, items)
	}
	if err := os.Remove(track); err != nil {
		t.Fatal(err)
	}

	var events []LibraryEvent
	lib.flush(context.Background(), map[string]bool{track: true}, func(ev LibraryEvent) {
		events = append(events, ev)
	})
	if len(events) != 1 || events[0].Kind != LibraryRemove || len(events[0].Items) != 1 {
		t.Fatalf("unexpected events %+v", events)
	}
	if got, want := events[0].Items[0].SourceKey(), items[0].SourceKey(); got != want {
		t.Fatalf("remove key %q, dump key %q", got, want)
	}
}

func TestIsMediaFile(t *testing.T) {
	for name, want := range map[string]bool{"a.MP3": true, "b.flac": true, "c.txt": false, "d": false} {
		if got := IsMediaFile(name); got != want {
			t.Fatalf("IsMediaFile(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestFileArtworkFolderFallback(t *testing.T) {
	dir := t.TempDir()
	track := filepath.Join(dir, "song.mp3")
	if err := os.WriteFile(track, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := (FileArtwork{}).Artwork(context.Background(), track, 0); !errors.Is(err, ErrNoArtwork) {
		t.Fatalf("err = %v, want ErrNoArtwork", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "cover.jpg"), []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	data, err := (FileArtwork{}).Artwork(context.Background(), track, 0)
	if err != nil {
		t.Fatalf("Artwork: %v", err)
	}
	if string(data) != "jpeg" {
		t.Fatalf("data = %q", data)
	}
}
