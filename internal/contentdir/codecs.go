/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package contentdir

import (
	"path"
	"strings"

	"github.com/anacrolix/dms/dlna"
)

// Output formats the stream endpoint can produce.
const (
	FormatFLAC = "flac"
	FormatMP3  = "mp3"
	FormatWAV  = "wav"
)

var mimeTypes = map[string]string{
	FormatFLAC: "audio/flac",
	FormatMP3:  "audio/mpeg",
	FormatWAV:  "audio/wav",
}

// candidates lists offered encodings per source extension, source format first.
var candidates = map[string][]string{
	"flac": {FormatFLAC, FormatMP3, FormatWAV},
	"mp3":  {FormatMP3, FormatWAV},
	"wav":  {FormatWAV, FormatMP3},
}

var fallbackCandidates = []string{FormatMP3, FormatWAV}

// Extension returns the lower-case extension of filePath without the dot.
func Extension(filePath string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(strings.ReplaceAll(filePath, "\\", "/"))), ".")
}

// Candidates returns the encodings offered for filePath in priority order.
func Candidates(filePath string) []string {
	if c, ok := candidates[Extension(filePath)]; ok {
		return c
	}
	return fallbackCandidates
}

// MimeType returns the mime type of an output format, or "" if unsupported.
func MimeType(format string) string {
	return mimeTypes[strings.ToLower(format)]
}

// Passthrough reports whether format can be served as the raw source file.
func Passthrough(filePath string, subsong int, format string) bool {
	return subsong == 0 && strings.EqualFold(Extension(filePath), format)
}

// ProtocolInfo builds the res protocolInfo string.
func ProtocolInfo(format string, passthrough bool) string {
	cf := dlna.ContentFeatures{
		SupportRange: passthrough,
		Transcoded:   !passthrough,
	}
	return "http-get:*:" + MimeType(format) + ":" + cf.String()
}
