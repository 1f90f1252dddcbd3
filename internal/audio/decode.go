package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/vorbis"
	"github.com/gopxl/beep/wav"
)

// Format identifies an audio container accepted by Decode
type Format string

const (
	FormatWAV    Format = "wav"
	FormatMP3    Format = "mp3"
	FormatFLAC   Format = "flac"
	FormatVorbis Format = "ogg"
)

// SupportedFormats lists the containers Decode understands, in detection order
var SupportedFormats = []Format{FormatWAV, FormatMP3, FormatFLAC, FormatVorbis}

// ContentType returns the MIME type of the container
func (f Format) ContentType() string {
	switch f {
	case FormatWAV:
		return "audio/wav"
	case FormatMP3:
		return "audio/mpeg"
	case FormatFLAC:
		return "audio/flac"
	case FormatVorbis:
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// decodeBlockSize is the number of stereo frames pulled from a beep streamer per read
const decodeBlockSize = 4096

// DecodedAudio is a fully decoded recording held in memory.
// Channels[c][i] is sample i of channel c, in the range [-1, 1].
type DecodedAudio struct {
	Duration   float64
	SampleRate int
	Channels   [][]float64
}

// NumChannels returns the channel count
func (a *DecodedAudio) NumChannels() int {
	return len(a.Channels)
}

// NumSamples returns the number of samples per channel
func (a *DecodedAudio) NumSamples() int {
	if len(a.Channels) == 0 {
		return 0
	}
	return len(a.Channels[0])
}

// DetectFormat sniffs the container from the leading magic bytes
func DetectFormat(data []byte) (Format, bool) {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV, true
	case len(data) >= 4 && string(data[0:4]) == "fLaC":
		return FormatFLAC, true
	case len(data) >= 4 && string(data[0:4]) == "OggS":
		return FormatVorbis, true
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return FormatMP3, true
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// bare MPEG frame sync
		return FormatMP3, true
	}
	return "", false
}

// Decode decodes a complete audio file into per-channel float samples.
// Any failure is reported as a *DecodeError.
func Decode(data []byte) (*DecodedAudio, error) {
	format, ok := DetectFormat(data)
	if !ok {
		return nil, &DecodeError{}
	}

	// beep's WAV reader scales integer PCM by 1/(2^bits-1), halving the
	// amplitude, so integer PCM is read here and beep only sees the rest
	if format == FormatWAV {
		decoded, err := DecodeWAV(data)
		if err == nil {
			return decoded, nil
		}
		if !errors.Is(err, errUnsupportedEncoding) {
			return nil, &DecodeError{Format: format, Err: err}
		}
	}

	streamer, beepFormat, err := openStreamer(format, data)
	if err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}
	defer streamer.Close()

	numChannels := beepFormat.NumChannels
	if numChannels < 1 || numChannels > 2 {
		return nil, &DecodeError{Format: format, Err: fmt.Errorf("unsupported channel count %d", numChannels)}
	}
	sampleRate := int(beepFormat.SampleRate)
	if sampleRate <= 0 {
		return nil, &DecodeError{Format: format, Err: fmt.Errorf("invalid sample rate %d", sampleRate)}
	}

	capacity := 0
	if n := streamer.Len(); n > 0 {
		capacity = n
	}
	channels := make([][]float64, numChannels)
	for c := range channels {
		channels[c] = make([]float64, 0, capacity)
	}

	block := make([][2]float64, decodeBlockSize)
	for {
		n, ok := streamer.Stream(block)
		for _, frame := range block[:n] {
			for c := 0; c < numChannels; c++ {
				channels[c] = append(channels[c], frame[c])
			}
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}

	numSamples := len(channels[0])
	if numSamples == 0 {
		return nil, &DecodeError{Format: format, Err: fmt.Errorf("no audio samples")}
	}

	return &DecodedAudio{
		Duration:   float64(numSamples) / float64(sampleRate),
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}

func openStreamer(format Format, data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	r := bytes.NewReader(data)

	switch format {
	case FormatWAV:
		return wav.Decode(r)
	case FormatMP3:
		return mp3.Decode(io.NopCloser(r))
	case FormatFLAC:
		return flac.Decode(r)
	case FormatVorbis:
		return vorbis.Decode(io.NopCloser(r))
	}
	return nil, beep.Format{}, fmt.Errorf("no decoder for %q", format)
}
