/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package stream serves library tracks as audio over HTTP, either as the
// raw file or decoded and re-encoded on the fly.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/anacrolix/dms/dlna"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/mediabridge/internal/contentdir"
	"github.com/friendsincode/mediabridge/internal/mediaengine"
	"github.com/friendsincode/mediabridge/internal/medialink"
	"github.com/friendsincode/mediabridge/internal/telemetry"
)

// ErrUnsupportedFormat is returned for output formats the server cannot produce.
var ErrUnsupportedFormat = errors.New("stream: unsupported format")

// DefaultBatchSize is the minimum amount of PCM handed to an encoder per write.
const DefaultBatchSize = 1 << 20

// encodeProcess is a running encoder reading PCM on stdin.
type encodeProcess interface {
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Wait() error
	Stop() error
}

// Handler serves GET /decode/<path>/subsong<N>.<format>.
type Handler struct {
	decoder   mediaengine.Decoder
	gstBin    string
	batchSize int
	logger    zerolog.Logger

	startEncoder func(ctx context.Context, format string, pcm mediaengine.PCMFormat) (encodeProcess, error)
}

// NewHandler creates a stream handler decoding through decoder and encoding
// with gst-launch at gstBin.
func NewHandler(decoder mediaengine.Decoder, gstBin string, logger zerolog.Logger) *Handler {
	h := &Handler{
		decoder:   decoder,
		gstBin:    gstBin,
		batchSize: DefaultBatchSize,
		logger:    logger.With().Str("component", "stream").Logger(),
	}
	h.startEncoder = h.gstEncoder
	return h
}

func (h *Handler) gstEncoder(ctx context.Context, format string, pcm mediaengine.PCMFormat) (encodeProcess, error) {
	pipeline, err := mediaengine.NewEncoderBuilder(mediaengine.EncoderConfig{
		Format: mediaengine.AudioFormat(format),
		PCM:    pcm,
	}).Build()
	if err != nil {
		return nil, err
	}
	return mediaengine.StartGStreamer(ctx, mediaengine.GStreamerProcessConfig{
		ID:       "encode:" + format,
		Bin:      h.gstBin,
		Pipeline: pipeline,
		Stdin:    true,
		Stdout:   true,
	}, h.logger)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, ok := medialink.ParseStreamPath(r.URL.EscapedPath())
	if !ok {
		http.NotFound(w, r)
		return
	}
	if contentdir.MimeType(target.Format) == "" {
		h.logger.Debug().Str("format", target.Format).Msg("unsupported stream format")
		http.Error(w, ErrUnsupportedFormat.Error(), http.StatusBadRequest)
		return
	}

	logger := h.logger.With().Str("file", target.FilePath).Int("subsong", target.Subsong).Str("format", target.Format).Logger()

	if contentdir.Passthrough(target.FilePath, target.Subsong, target.Format) {
		h.servePassthrough(w, r, target, logger)
		return
	}

	telemetry.StreamsActive.WithLabelValues(target.Format).Inc()
	defer telemetry.StreamsActive.WithLabelValues(target.Format).Dec()

	if err := h.serveTranscode(w, r, target); err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			logger.Debug().Msg("client went away")
		default:
			telemetry.StreamErrorsTotal.WithLabelValues("decode").Inc()
			logger.Warn().Err(err).Msg("stream aborted")
		}
	}
}

func (h *Handler) servePassthrough(w http.ResponseWriter, r *http.Request, t medialink.Target, logger zerolog.Logger) {
	f, err := os.Open(t.FilePath)
	if err != nil {
		logger.Debug().Err(err).Msg("passthrough open failed")
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentdir.MimeType(t.Format))
	setDLNAHeaders(w, r, true)
	http.ServeContent(w, r, "", info.ModTime(), f)
	telemetry.StreamBytesTotal.WithLabelValues(t.Format).Add(float64(info.Size()))
}

func setDLNAHeaders(w http.ResponseWriter, r *http.Request, passthrough bool) {
	w.Header().Set("transferMode.dlna.org", "Streaming")
	if r.Header.Get("getContentFeatures.dlna.org") != "" {
		w.Header().Set("contentFeatures.dlna.org", dlna.ContentFeatures{
			SupportRange: passthrough,
			Transcoded:   !passthrough,
		}.String())
	}
}

// serveTranscode decodes the target and writes it in the requested format.
// Errors before the first byte are reported to the client as a status.
func (h *Handler) serveTranscode(w http.ResponseWriter, r *http.Request, t medialink.Target) error {
	ctx := r.Context()
	src, err := h.decoder.OpenDecoder(ctx, t.FilePath, t.Subsong)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, mediaengine.ErrSubsongUnavailable) {
			http.NotFound(w, r)
			return nil
		}
		http.Error(w, "decode failed", http.StatusInternalServerError)
		return err
	}
	release := sync.OnceFunc(func() { src.Close() })
	defer release()

	w.Header().Set("Content-Type", contentdir.MimeType(t.Format))
	setDLNAHeaders(w, r, false)
	if t.Format == contentdir.FormatWAV {
		if size, ok := wavDataSize(src.Format(), src.TotalFrames()); ok {
			w.Header().Set("Content-Length", strconv.FormatInt(wavHeaderSize+size, 10))
		}
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return nil
	}

	pw := newPacedWriter(ctx, w)
	defer pw.drain()
	defer func() { telemetry.StreamBytesTotal.WithLabelValues(t.Format).Add(float64(pw.written)) }()
	// the source goes before drain so an abandoned write does not hold it
	defer release()

	switch t.Format {
	case contentdir.FormatWAV:
		return writeWAV(pw, src)
	default:
		return h.writeEncoded(ctx, pw, src, t.Format)
	}
}

// writeWAV writes a header followed by every decoded chunk. Each chunk is
// written before the next one is decoded. When the header declares a size
// the data written is exactly that size: the frame count is an estimate, so
// extra PCM is cut and a short decode is padded with silence.
func writeWAV(w io.Writer, src mediaengine.DecodeSource) error {
	f := src.Format()
	if _, err := w.Write(wavHeader(f, src.TotalFrames())); err != nil {
		return err
	}
	size, sized := wavDataSize(f, src.TotalFrames())
	var sent int64
	for !sized || sent < size {
		chunk, err := src.ReadChunk()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if sized && int64(len(chunk)) > size-sent {
			chunk = chunk[:size-sent]
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
		sent += int64(len(chunk))
	}
	if sized && sent < size {
		return writeSilence(w, f, size-sent)
	}
	return nil
}

// writeEncoded pipes decoded PCM through an encoder process. Decoded chunks
// are coalesced into batches of at least batchSize bytes.
func (h *Handler) writeEncoded(ctx context.Context, w io.Writer, src mediaengine.DecodeSource, format string) error {
	// the encoder lives on the group context so a failed write to the
	// client kills it and unblocks the feeding goroutine
	g, gctx := errgroup.WithContext(ctx)
	enc, err := h.startEncoder(gctx, format, src.Format())
	if err != nil {
		return fmt.Errorf("start encoder: %w", err)
	}
	defer enc.Stop()

	g.Go(func() error {
		defer enc.Stdin().Close()
		batch := make([]byte, 0, h.batchSize)
		for {
			if err := gctx.Err(); err != nil {
				return err
			}
			chunk, err := src.ReadChunk()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			batch = append(batch, chunk...)
			if len(batch) >= h.batchSize {
				if _, err := enc.Stdin().Write(batch); err != nil {
					return fmt.Errorf("feed encoder: %w", err)
				}
				batch = batch[:0]
			}
		}
		if len(batch) > 0 {
			if _, err := enc.Stdin().Write(batch); err != nil {
				return fmt.Errorf("feed encoder: %w", err)
			}
		}
		return nil
	})
	g.Go(func() error {
		buf := make([]byte, 64*1024)
		if _, err := io.CopyBuffer(w, enc.Stdout(), buf); err != nil {
			return err
		}
		return enc.Wait()
	})
	return g.Wait()
}
