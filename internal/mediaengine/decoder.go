/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// ChunkSize is the size of one decoded PCM read.
const ChunkSize = 64 * 1024

// gstDecodeSource reads PCM from a GStreamer decode process.
type gstDecodeSource struct {
	proc   *GStreamerProcess
	cancel context.CancelFunc
	format PCMFormat
	frames int64
	buf    []byte

	closeOnce sync.Once
}

// GStreamerDecoder opens decode sources through gst-launch.
type GStreamerDecoder struct {
	Bin      string
	Analyzer *Analyzer
	Logger   zerolog.Logger
}

// OpenDecoder starts decoding filePath. Only subsong 0 exists for files
// GStreamer decodes as a single stream.
func (d *GStreamerDecoder) OpenDecoder(ctx context.Context, filePath string, subsong int) (DecodeSource, error) {
	if subsong != 0 {
		return nil, fmt.Errorf("%w: %s subsong %d", ErrSubsongUnavailable, filePath, subsong)
	}
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}

	var frames int64
	if d.Analyzer != nil {
		if probe, err := d.Analyzer.Probe(ctx, filePath); err == nil {
			frames = probe.DurationMs * int64(DefaultPCM.SampleRate) / 1000
		}
	}
	return d.start(ctx, filePath, DecoderPipeline(filePath, DefaultPCM), frames)
}

// OpenURI decodes a remote or local URI.
func (d *GStreamerDecoder) OpenURI(ctx context.Context, uri string) (DecodeSource, error) {
	return d.start(ctx, uri, URIDecoderPipeline(uri, DefaultPCM), 0)
}

func (d *GStreamerDecoder) start(ctx context.Context, id string, pipeline []string, frames int64) (DecodeSource, error) {
	procCtx, cancel := context.WithCancel(ctx)
	proc, err := StartGStreamer(procCtx, GStreamerProcessConfig{
		ID:       "decode:" + id,
		Bin:      d.Bin,
		Pipeline: pipeline,
		Stdout:   true,
	}, d.Logger)
	if err != nil {
		cancel()
		return nil, err
	}
	return &gstDecodeSource{
		proc:   proc,
		cancel: cancel,
		format: DefaultPCM,
		frames: frames,
		buf:    make([]byte, ChunkSize),
	}, nil
}

func (s *gstDecodeSource) Format() PCMFormat  { return s.format }
func (s *gstDecodeSource) TotalFrames() int64 { return s.frames }

// ReadChunk returns a fresh slice each call so callers may hold on to it.
func (s *gstDecodeSource) ReadChunk() ([]byte, error) {
	n, err := io.ReadFull(s.proc.Stdout(), s.buf)
	if n > 0 {
		out := make([]byte, n)
		copy(out, s.buf[:n])
		return out, nil
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		if waitErr := s.proc.Wait(); waitErr != nil {
			if msg := s.proc.LastError(); msg != "" {
				return nil, fmt.Errorf("decode failed: %s", msg)
			}
			return nil, fmt.Errorf("decode failed: %w", waitErr)
		}
		return nil, io.EOF
	}
	return nil, err
}

func (s *gstDecodeSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.proc.Stop()
		s.proc.Stdout().Close()
	})
	return err
}
