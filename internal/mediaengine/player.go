/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/rs/zerolog"
)

type opener func(ctx context.Context) (DecodeSource, error)

// PCMPlayer plays decode sources through a long-lived GStreamer sink
// process. Pausing stops feeding the sink; seeking reopens the decoder and
// skips ahead.
type PCMPlayer struct {
	decoder *GStreamerDecoder
	bin     string
	sink    string
	logger  zerolog.Logger
	ctx     context.Context

	mu       sync.Mutex
	cond     *sync.Cond
	open     opener
	src      DecodeSource
	gen      int
	playing  bool
	feeding  bool
	fed      int64
	duration float64
	volume   float64
	sinkProc *GStreamerProcess

	events chan PlayerEvent
}

// NewPCMPlayer creates a player. ctx bounds every process it starts.
func NewPCMPlayer(ctx context.Context, decoder *GStreamerDecoder, bin, sink string, logger zerolog.Logger) *PCMPlayer {
	p := &PCMPlayer{
		decoder: decoder,
		bin:     bin,
		sink:    sink,
		logger:  logger.With().Str("component", "player").Logger(),
		ctx:     ctx,
		volume:  1,
		events:  make(chan PlayerEvent, 16),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Events delivers playback notifications.
func (p *PCMPlayer) Events() <-chan PlayerEvent { return p.events }

func (p *PCMPlayer) emit(kind PlayerEventKind) {
	select {
	case p.events <- PlayerEvent{Kind: kind}:
	default:
		p.logger.Warn().Str("event", string(kind)).Msg("player event dropped")
	}
}

// LoadFile replaces the current track with filePath/subsong, paused at 0.
func (p *PCMPlayer) LoadFile(ctx context.Context, filePath string, subsong int) error {
	return p.load(ctx, func(ctx context.Context) (DecodeSource, error) {
		return p.decoder.OpenDecoder(ctx, filePath, subsong)
	})
}

// LoadURI replaces the current track with an arbitrary URI.
func (p *PCMPlayer) LoadURI(ctx context.Context, uri string) error {
	return p.load(ctx, func(ctx context.Context) (DecodeSource, error) {
		return p.decoder.OpenURI(ctx, uri)
	})
}

func (p *PCMPlayer) load(ctx context.Context, open opener) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := open(p.ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	p.open = open
	p.src = src
	p.fed = 0
	p.duration = 0
	if f := src.TotalFrames(); f > 0 {
		p.duration = float64(f) / float64(src.Format().SampleRate)
	}
	wasPlaying := p.playing
	p.playing = false
	p.cond.Broadcast()
	if wasPlaying {
		p.emit(PlayerPaused)
	}
	return nil
}

// resetLocked abandons the current feed goroutine and source.
func (p *PCMPlayer) resetLocked() {
	p.gen++
	p.feeding = false
	if p.src != nil {
		_ = p.src.Close()
		p.src = nil
	}
	p.cond.Broadcast()
}

// Play starts or resumes playback.
func (p *PCMPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open == nil {
		return ErrNothingLoaded
	}
	if p.playing {
		return nil
	}
	if err := p.ensureSinkLocked(); err != nil {
		return err
	}
	if p.src == nil {
		src, err := p.open(p.ctx)
		if err != nil {
			return err
		}
		p.src = src
		p.fed = 0
	}
	p.playing = true
	if !p.feeding {
		p.startFeedLocked()
	}
	p.cond.Broadcast()
	p.emit(PlayerStarted)
	return nil
}

// Pause stops feeding the sink.
func (p *PCMPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return nil
	}
	p.playing = false
	p.cond.Broadcast()
	p.emit(PlayerPaused)
	return nil
}

// Seek restarts decoding at seconds.
func (p *PCMPlayer) Seek(seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open == nil {
		return ErrNothingLoaded
	}
	if seconds < 0 {
		seconds = 0
	}
	p.resetLocked()

	src, err := p.open(p.ctx)
	if err != nil {
		return err
	}
	f := src.Format()
	skip := int64(seconds*float64(f.BytesPerSecond())) / int64(f.BlockAlign()) * int64(f.BlockAlign())
	var skipped int64
	for skipped < skip {
		chunk, err := src.ReadChunk()
		if err != nil {
			break
		}
		skipped += int64(len(chunk))
	}
	p.src = src
	p.fed = skipped
	if p.playing {
		p.startFeedLocked()
	}
	return nil
}

func (p *PCMPlayer) startFeedLocked() {
	p.gen++
	p.feeding = true
	go p.feed(p.gen, p.src)
}

// Position reports elapsed and total seconds.
func (p *PCMPlayer) Position() (Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open == nil {
		return Position{}, ErrNothingLoaded
	}
	bps := DefaultPCM.BytesPerSecond()
	if p.src != nil {
		bps = p.src.Format().BytesPerSecond()
	}
	return Position{Elapsed: float64(p.fed) / float64(bps), Duration: p.duration}, nil
}

// Volume returns the gain in [0,1].
func (p *PCMPlayer) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// SetVolume sets the gain, clamped to [0,1].
func (p *PCMPlayer) SetVolume(v float64) error {
	if math.IsNaN(v) {
		return fmt.Errorf("invalid volume")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = math.Max(0, math.Min(1, v))
	return nil
}

func (p *PCMPlayer) ensureSinkLocked() error {
	if p.sinkProc != nil {
		select {
		case <-p.sinkProc.Done():
			p.sinkProc = nil
		default:
			return nil
		}
	}
	proc, err := StartGStreamer(p.ctx, GStreamerProcessConfig{
		ID:       "sink",
		Bin:      p.bin,
		Pipeline: SinkPipeline(DefaultPCM, p.sink),
		Stdin:    true,
	}, p.logger)
	if err != nil {
		return fmt.Errorf("start audio sink: %w", err)
	}
	p.sinkProc = proc
	return nil
}

func (p *PCMPlayer) feed(gen int, src DecodeSource) {
	for {
		p.mu.Lock()
		for !p.playing && p.gen == gen {
			p.cond.Wait()
		}
		if p.gen != gen {
			p.mu.Unlock()
			return
		}
		vol := p.volume
		sink := p.sinkProc
		p.mu.Unlock()

		chunk, err := src.ReadChunk()
		if err != nil {
			p.mu.Lock()
			current := p.gen == gen
			if current {
				p.playing = false
				p.feeding = false
				p.src = nil
				_ = src.Close()
			}
			p.mu.Unlock()
			if !current {
				return
			}
			if !errors.Is(err, io.EOF) {
				p.logger.Warn().Err(err).Msg("playback decode failed")
			}
			p.emit(PlayerEnded)
			return
		}

		ScalePCM16(chunk, vol)
		if sink == nil || sink.Stdin() == nil {
			p.mu.Lock()
			if p.gen == gen {
				p.feeding = false
			}
			p.mu.Unlock()
			return
		}
		if _, err := sink.Stdin().Write(chunk); err != nil {
			p.logger.Warn().Err(err).Msg("audio sink write failed")
			p.mu.Lock()
			if p.gen == gen {
				p.playing = false
				p.feeding = false
				p.sinkProc = nil
			}
			p.mu.Unlock()
			p.emit(PlayerPaused)
			return
		}

		p.mu.Lock()
		if p.gen == gen {
			p.fed += int64(len(chunk))
		}
		p.mu.Unlock()
	}
}

// ScalePCM16 applies gain v to interleaved S16LE samples in place.
func ScalePCM16(buf []byte, v float64) {
	if v >= 1 {
		return
	}
	for i := 0; i+1 < len(buf); i += 2 {
		s := int16(binary.LittleEndian.Uint16(buf[i:]))
		binary.LittleEndian.PutUint16(buf[i:], uint16(int16(float64(s)*v)))
	}
}

// Close stops playback and the sink process.
func (p *PCMPlayer) Close() error {
	p.mu.Lock()
	p.resetLocked()
	p.playing = false
	sink := p.sinkProc
	p.sinkProc = nil
	p.mu.Unlock()
	if sink != nil {
		return sink.Stop()
	}
	return nil
}
