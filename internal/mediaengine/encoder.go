/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mediaengine

import (
	"fmt"
	"strconv"
)

// AudioFormat represents supported re-encode formats
type AudioFormat string

const (
	AudioFormatMP3  AudioFormat = "mp3"
	AudioFormatFLAC AudioFormat = "flac"
)

// EncoderConfig contains configuration for re-encoding raw PCM
type EncoderConfig struct {
	Format  AudioFormat
	Bitrate int     // kbps, MP3 only
	Quality float32 // 0.0-1.0, FLAC compression effort
	PCM     PCMFormat
}

// EncoderBuilder builds GStreamer encoder pipelines reading PCM on stdin and
// writing the encoded stream to stdout.
type EncoderBuilder struct {
	config EncoderConfig
}

// NewEncoderBuilder creates a new encoder builder
func NewEncoderBuilder(config EncoderConfig) *EncoderBuilder {
	if config.Bitrate == 0 {
		config.Bitrate = 320
	}
	if config.PCM == (PCMFormat{}) {
		config.PCM = DefaultPCM
	}
	return &EncoderBuilder{config: config}
}

// Build validates the configuration and generates the pipeline argv
func (eb *EncoderBuilder) Build() ([]string, error) {
	if err := eb.validate(); err != nil {
		return nil, fmt.Errorf("invalid encoder config: %w", err)
	}
	enc, err := eb.buildEncoder()
	if err != nil {
		return nil, fmt.Errorf("build encoder: %w", err)
	}
	args := rawSource(eb.config.PCM)
	args = append(args, "!", "audioconvert", "!")
	args = append(args, enc...)
	args = append(args, "!", "fdsink", "fd=1")
	return args, nil
}

func (eb *EncoderBuilder) buildEncoder() ([]string, error) {
	switch eb.config.Format {
	case AudioFormatMP3:
		// target=1 means CBR
		return []string{"lamemp3enc", "target=1", "bitrate=" + strconv.Itoa(eb.config.Bitrate), "cbr=true"}, nil
	case AudioFormatFLAC:
		quality := 5
		if eb.config.Quality > 0 {
			quality = int(eb.config.Quality * 8)
		}
		return []string{"flacenc", "quality=" + strconv.Itoa(quality)}, nil
	default:
		return nil, fmt.Errorf("unsupported audio format: %s", eb.config.Format)
	}
}

func (eb *EncoderBuilder) validate() error {
	if eb.config.Format == "" {
		return fmt.Errorf("audio format is required")
	}
	if eb.config.Format == AudioFormatMP3 && (eb.config.Bitrate < 8 || eb.config.Bitrate > 320) {
		return fmt.Errorf("bitrate must be between 8 and 320 kbps, got: %d", eb.config.Bitrate)
	}
	if eb.config.PCM.Channels != 1 && eb.config.PCM.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got: %d", eb.config.PCM.Channels)
	}
	return nil
}

func rawCaps(f PCMFormat) string {
	return fmt.Sprintf("audio/x-raw,format=S%dLE,layout=interleaved,rate=%d,channels=%d", f.BitsPerSample, f.SampleRate, f.Channels)
}

func rawSource(f PCMFormat) []string {
	return []string{
		"fdsrc", "fd=0", "!",
		"rawaudioparse", "use-sink-caps=false", "format=pcm",
		fmt.Sprintf("pcm-format=s%dle", f.BitsPerSample),
		"sample-rate=" + strconv.Itoa(f.SampleRate),
		"num-channels=" + strconv.Itoa(f.Channels),
	}
}

// DecoderPipeline decodes a local file to raw PCM on stdout.
func DecoderPipeline(filePath string, f PCMFormat) []string {
	return append([]string{
		"filesrc", "location=" + filePath, "!",
		"decodebin", "!",
	}, rawTail(f)...)
}

// URIDecoderPipeline decodes any URI GStreamer can open to raw PCM on stdout.
func URIDecoderPipeline(uri string, f PCMFormat) []string {
	return append([]string{"uridecodebin", "uri=" + uri, "!"}, rawTail(f)...)
}

func rawTail(f PCMFormat) []string {
	return []string{
		"audioconvert", "!",
		"audioresample", "!",
		rawCaps(f), "!",
		"fdsink", "fd=1",
	}
}

// SinkPipeline plays raw PCM from stdin on the default audio device.
func SinkPipeline(f PCMFormat, sink string) []string {
	if sink == "" {
		sink = "autoaudiosink"
	}
	args := rawSource(f)
	return append(args, "!", "audioconvert", "!", "audioresample", "!", sink)
}
