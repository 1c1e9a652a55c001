package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/mediabridge/internal/mediaengine"
	"github.com/friendsincode/mediabridge/internal/medialink"
	"github.com/friendsincode/mediabridge/internal/models"
)

type fakeHost struct {
	calls    []string
	file     string
	subsong  int
	uri      string
	seekTo   float64
	volume   float64
	pos      mediaengine.Position
	playErr  error
	loadFail bool
}

func (h *fakeHost) LoadFile(_ context.Context, filePath string, subsong int) error {
	h.calls = append(h.calls, "loadFile")
	h.file, h.subsong = filePath, subsong
	if h.loadFail {
		return errors.New("boom")
	}
	return nil
}

func (h *fakeHost) LoadURI(_ context.Context, uri string) error {
	h.calls = append(h.calls, "loadURI")
	h.uri = uri
	return nil
}

func (h *fakeHost) Play() error {
	h.calls = append(h.calls, "play")
	return h.playErr
}

func (h *fakeHost) Pause() error {
	h.calls = append(h.calls, "pause")
	return nil
}

func (h *fakeHost) Seek(seconds float64) error {
	h.calls = append(h.calls, "seek")
	h.seekTo = seconds
	return nil
}

func (h *fakeHost) Position() (mediaengine.Position, error) { return h.pos, nil }
func (h *fakeHost) Volume() float64                        { return h.volume }
func (h *fakeHost) SetVolume(v float64) error {
	h.volume = v
	return nil
}

const base = "http://192.168.1.2:8200"

func newMachine(h *fakeHost) *Machine {
	return NewMachine(h, base, zerolog.Nop())
}

func TestTransitions(t *testing.T) {
	h := &fakeHost{}
	m := newMachine(h)
	var seen []models.TransportState
	m.OnChange(func(s models.TransportState) { seen = append(seen, s) })

	if m.State() != models.TransportNoMediaPresent {
		t.Fatalf("initial state = %s", m.State())
	}
	if err := m.Play(); err != nil {
		t.Fatal(err)
	}
	if err := m.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := m.Stop(); err != nil {
		t.Fatal(err)
	}

	want := []models.TransportState{models.TransportPlaying, models.TransportPaused, models.TransportStopped}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d = %s, want %s", i, seen[i], want[i])
		}
	}
	if h.calls[len(h.calls)-2] != "pause" || h.calls[len(h.calls)-1] != "seek" || h.seekTo != 0 {
		t.Fatalf("stop should pause and rewind, calls %v", h.calls)
	}
}

func TestPlayErrorKeepsState(t *testing.T) {
	h := &fakeHost{playErr: mediaengine.ErrNothingLoaded}
	m := newMachine(h)
	if err := m.Play(); !errors.Is(err, mediaengine.ErrNothingLoaded) {
		t.Fatalf("err = %v", err)
	}
	if m.State() != models.TransportNoMediaPresent {
		t.Fatalf("state = %s", m.State())
	}
}

func TestSetAVTransportURIResolvesOwnStreams(t *testing.T) {
	h := &fakeHost{}
	m := newMachine(h)

	own := medialink.StreamURL(base, "/music/A/song.flac", 0, "mp3")
	if err := m.SetAVTransportURI(context.Background(), own, "<DIDL-Lite/>"); err != nil {
		t.Fatal(err)
	}
	if h.file != "/music/A/song.flac" || h.subsong != 0 || h.uri != "" {
		t.Fatalf("own stream not resolved: file=%q uri=%q", h.file, h.uri)
	}
	if m.State() != models.TransportStopped {
		t.Fatalf("state = %s", m.State())
	}
	if got := m.MediaInfo()["CurrentURIMetaData"]; got != "<DIDL-Lite/>" {
		t.Fatalf("metadata = %q", got)
	}

	if err := m.SetAVTransportURI(context.Background(), "http://elsewhere/a.mp3", ""); err != nil {
		t.Fatal(err)
	}
	if h.uri != "http://elsewhere/a.mp3" {
		t.Fatalf("external uri not passed through: %q", h.uri)
	}
}

func TestSetAVTransportURILoadFailure(t *testing.T) {
	h := &fakeHost{loadFail: true}
	m := newMachine(h)
	if err := m.SetAVTransportURI(context.Background(), medialink.StreamURL(base, "/x.flac", 0, "wav"), ""); err == nil {
		t.Fatal("expected error")
	}
	if m.MediaInfo()["CurrentURI"] != "" {
		t.Fatal("failed load should not record the uri")
	}
}

func TestSeekUnits(t *testing.T) {
	h := &fakeHost{seekTo: -1}
	m := newMachine(h)
	if err := m.Seek("REL_TIME", "0:01:05"); err != nil {
		t.Fatal(err)
	}
	if h.seekTo != 65 {
		t.Fatalf("seekTo = %v, want 65", h.seekTo)
	}
	h.seekTo = -1
	if err := m.Seek("TRACK_NR", "3"); err != nil {
		t.Fatal(err)
	}
	if h.seekTo != -1 {
		t.Fatal("track seek should be ignored")
	}
}

func TestPositionInfo(t *testing.T) {
	h := &fakeHost{pos: mediaengine.Position{Elapsed: 75.4, Duration: 200}}
	m := newMachine(h)
	info := m.PositionInfo()
	if info["RelTime"] != "1:15" || info["TrackDuration"] != "3:20" {
		t.Fatalf("unexpected position info %v", info)
	}
	if info["Track"] != "0" {
		t.Fatalf("Track = %q with nothing loaded", info["Track"])
	}
}

func TestVolumeScale(t *testing.T) {
	h := &fakeHost{volume: 0.42}
	m := newMachine(h)
	if m.Volume() != 42 {
		t.Fatalf("Volume() = %d", m.Volume())
	}
	cases := []struct {
		in   string
		want float64
	}{{"100", 1}, {"0", 0}, {"150", 1}, {"-3", 0}, {"25", 0.25}}
	for _, tc := range cases {
		if err := m.SetVolume(tc.in); err != nil {
			t.Fatalf("SetVolume(%s): %v", tc.in, err)
		}
		if h.volume != tc.want {
			t.Fatalf("SetVolume(%s) -> %v, want %v", tc.in, h.volume, tc.want)
		}
	}
	if err := m.SetVolume("loud"); err == nil {
		t.Fatal("expected error for non-numeric volume")
	}
}

func TestHostEvents(t *testing.T) {
	m := newMachine(&fakeHost{})
	m.HandleHostEvent(mediaengine.PlayerEvent{Kind: mediaengine.PlayerStarted})
	if m.State() != models.TransportPlaying {
		t.Fatalf("state = %s", m.State())
	}
	m.HandleHostEvent(mediaengine.PlayerEvent{Kind: mediaengine.PlayerEnded})
	if m.State() != models.TransportStopped {
		t.Fatalf("state = %s", m.State())
	}
}
