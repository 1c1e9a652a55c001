package artwork

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mediabridge/internal/mediaengine"
	"github.com/friendsincode/mediabridge/internal/medialink"
	"github.com/friendsincode/mediabridge/internal/storage"
)

type fakeSource struct {
	data  []byte
	calls atomic.Int32
}

func (s *fakeSource) Artwork(_ context.Context, filePath string, subsong int) ([]byte, error) {
	s.calls.Add(1)
	if s.data == nil {
		return nil, fmt.Errorf("%w: %s", mediaengine.ErrNoArtwork, filePath)
	}
	return s.data, nil
}

func pngImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.White)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestThumbnailGeneratedThenCached(t *testing.T) {
	src := &fakeSource{data: pngImage(t, 600, 400)}
	p := NewProvider(src, storage.FileStore{Root: t.TempDir()}, zerolog.Nop())
	target := medialink.Target{FilePath: "/music/a.flac"}

	data, outcome, err := p.Thumbnail(context.Background(), "music/a.flac/cover0.jpg", target)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	if outcome != OutcomeGenerated {
		t.Fatalf("outcome = %s", outcome)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("thumbnail not decodable: %v", err)
	}
	if img.Bounds().Dy() != DefaultHeight || img.Bounds().Dx() != 450 {
		t.Fatalf("thumbnail size = %v", img.Bounds())
	}

	_, outcome, err = p.Thumbnail(context.Background(), "music/a.flac/cover0.jpg", target)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeHit {
		t.Fatalf("second outcome = %s, want hit", outcome)
	}
	if src.calls.Load() != 1 {
		t.Fatalf("source called %d times", src.calls.Load())
	}
}

func TestSmallArtworkNotUpscaled(t *testing.T) {
	p := NewProvider(&fakeSource{data: pngImage(t, 100, 80)}, storage.FileStore{Root: t.TempDir()}, zerolog.Nop())
	data, _, err := p.Thumbnail(context.Background(), "k.jpg", medialink.Target{FilePath: "/a.mp3"})
	if err != nil {
		t.Fatal(err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dy() != 80 {
		t.Fatalf("height = %d", img.Bounds().Dy())
	}
}

func TestPlaceholderWhenNoArtwork(t *testing.T) {
	src := &fakeSource{}
	p := NewProvider(src, storage.FileStore{Root: t.TempDir()}, zerolog.Nop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, medialink.ArtworkURL("", "/music/none.mp3", 0), nil)
	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if rec.Header().Get("Cache-Control") != "no-cache" {
		t.Fatal("placeholder should not be cached by clients")
	}
	if rec.Body.Len() == 0 {
		t.Fatal("empty placeholder")
	}

	// placeholders are not stored, so later artwork is picked up
	rec = httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	if src.calls.Load() != 2 {
		t.Fatalf("source called %d times, want 2", src.calls.Load())
	}
}

func TestServeBadPath(t *testing.T) {
	p := NewProvider(&fakeSource{}, storage.FileStore{Root: t.TempDir()}, zerolog.Nop())
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/albumart/x", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}
