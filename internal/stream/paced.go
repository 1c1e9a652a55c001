/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package stream

import (
	"context"
	"io"
	"net/http"
)

// pacedWriter performs one write at a time and lets a cancelled context
// release the caller while the write is still pending. drain must be called
// before the underlying writer goes away.
type pacedWriter struct {
	ctx     context.Context
	w       io.Writer
	flusher http.Flusher
	pending chan error
	written int64
}

func newPacedWriter(ctx context.Context, w io.Writer) *pacedWriter {
	pw := &pacedWriter{ctx: ctx, w: w}
	if f, ok := w.(http.Flusher); ok {
		pw.flusher = f
	}
	return pw
}

func (p *pacedWriter) Write(b []byte) (int, error) {
	if p.pending != nil {
		// a previous write was abandoned and has not completed
		return 0, p.ctx.Err()
	}
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}

	done := make(chan error, 1)
	p.pending = done
	go func() {
		_, err := p.w.Write(b)
		if err == nil && p.flusher != nil {
			p.flusher.Flush()
		}
		done <- err
	}()

	select {
	case err := <-done:
		p.pending = nil
		if err != nil {
			return 0, err
		}
		p.written += int64(len(b))
		return len(b), nil
	case <-p.ctx.Done():
		return 0, p.ctx.Err()
	}
}

// drain waits for an abandoned write to finish.
func (p *pacedWriter) drain() {
	if p.pending != nil {
		<-p.pending
		p.pending = nil
	}
}
