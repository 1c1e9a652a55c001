/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package stream

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/friendsincode/mediabridge/internal/mediaengine"
)

// wavHeaderSize is the length of a canonical PCM RIFF header.
const wavHeaderSize = 44

// unknownDataSize is declared when the frame count is not known up front.
const unknownDataSize = math.MaxUint32 - wavHeaderSize

// wavDataSize returns the data chunk size declared for frames frames of f.
// ok is false when the length is left open.
func wavDataSize(f mediaengine.PCMFormat, frames int64) (size int64, ok bool) {
	n := frames * int64(f.BlockAlign())
	if frames <= 0 || n > unknownDataSize {
		return 0, false
	}
	return n, true
}

// wavHeader returns a RIFF/WAVE header for frames frames of f.
func wavHeader(f mediaengine.PCMFormat, frames int64) []byte {
	dataSize := uint32(unknownDataSize)
	if n, ok := wavDataSize(f, frames); ok {
		dataSize = uint32(n)
	}

	h := make([]byte, wavHeaderSize)
	copy(h[0:], "RIFF")
	binary.LittleEndian.PutUint32(h[4:], 36+dataSize)
	copy(h[8:], "WAVE")
	copy(h[12:], "fmt ")
	binary.LittleEndian.PutUint32(h[16:], 16)
	binary.LittleEndian.PutUint16(h[20:], 1)
	binary.LittleEndian.PutUint16(h[22:], uint16(f.Channels))
	binary.LittleEndian.PutUint32(h[24:], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(h[28:], uint32(f.BytesPerSecond()))
	binary.LittleEndian.PutUint16(h[32:], uint16(f.BlockAlign()))
	binary.LittleEndian.PutUint16(h[34:], uint16(f.BitsPerSample))
	copy(h[36:], "data")
	binary.LittleEndian.PutUint32(h[40:], dataSize)
	return h
}

// writeSilence writes n bytes of silent PCM in f.
func writeSilence(w io.Writer, f mediaengine.PCMFormat, n int64) error {
	fill := byte(0)
	if f.BitsPerSample == 8 {
		// unsigned 8-bit samples centre on 128
		fill = 0x80
	}
	buf := bytes.Repeat([]byte{fill}, int(min(n, 64*1024)))
	for n > 0 {
		k := min(n, int64(len(buf)))
		if _, err := w.Write(buf[:k]); err != nil {
			return err
		}
		n -= k
	}
	return nil
}
