package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	wavHeaderSize     = 44
	pcmBitsPerSample  = 16
	pcmBytesPerSample = pcmBitsPerSample / 8

	// sampleIndexEpsilon absorbs float error in t*sampleRate before flooring
	sampleIndexEpsilon = 1e-6
)

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

func newPCMHeader(numChannels, sampleRate, dataSize int) WAVHeader {
	channels := uint16(numChannels)
	blockAlign := channels * pcmBitsPerSample / 8

	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataSize),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(blockAlign),
		BlockAlign:    blockAlign,
		BitsPerSample: pcmBitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataSize),
	}
}

// EncodeWAV encodes interleaved PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate, numChannels int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if numChannels < 1 || numChannels > math.MaxUint16 {
		return nil, fmt.Errorf("channel count must be positive, got %d", numChannels)
	}

	if len(samples)%numChannels != 0 {
		return nil, fmt.Errorf("sample count %d is not a multiple of %d channels", len(samples), numChannels)
	}

	dataSize := len(samples) * pcmBytesPerSample
	header := newPCMHeader(numChannels, sampleRate, dataSize)

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+dataSize))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// EncodeChunk extracts [start, end) seconds from a and encodes it as a standalone
// 16-bit PCM WAV file with interleaved channels.
func EncodeChunk(a *DecodedAudio, start, end float64) ([]byte, error) {
	if a == nil || a.NumChannels() == 0 || a.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: no decoded audio", ErrInvalidRange)
	}

	first, last, err := sampleRange(a, start, end)
	if err != nil {
		return nil, err
	}

	numChannels := a.NumChannels()
	frames := last - first
	interleaved := make([]int16, 0, frames*numChannels)
	for i := first; i < last; i++ {
		for c := 0; c < numChannels; c++ {
			interleaved = append(interleaved, FloatToPCM16(a.Channels[c][i]))
		}
	}

	return EncodeWAV(interleaved, a.SampleRate, numChannels)
}

// sampleRange maps [start, end) seconds to the sample window [floor(start*sr), floor(end*sr))
func sampleRange(a *DecodedAudio, start, end float64) (int, int, error) {
	n := a.NumSamples()
	if math.IsNaN(start) || math.IsNaN(end) || start < 0 || start >= end {
		return 0, 0, fmt.Errorf("%w: [%f, %f)", ErrInvalidRange, start, end)
	}

	sr := float64(a.SampleRate)
	first := int(math.Floor(start*sr + sampleIndexEpsilon))
	last := int(math.Floor(end*sr + sampleIndexEpsilon))

	// end == Duration must reach the final sample even if Duration*sr rounds low
	if end >= a.Duration && last == n-1 {
		last = n
	}

	if last > n {
		return 0, 0, fmt.Errorf("%w: [%f, %f) exceeds %d samples", ErrInvalidRange, start, end, n)
	}
	if first >= last {
		return 0, 0, fmt.Errorf("%w: [%f, %f) selects no samples", ErrInvalidRange, start, end)
	}

	return first, last, nil
}

// FloatToPCM16 clamps s to [-1, 1] and scales it to int16, using 32768 for
// negative values and 32767 for positive ones so both ends of the range are reachable.
func FloatToPCM16(s float64) int16 {
	if math.IsNaN(s) {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}

	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// PCM16ToFloat is the inverse of FloatToPCM16
func PCM16ToFloat(v int16) float64 {
	if v < 0 {
		return float64(v) / 32768
	}
	return float64(v) / 32767
}

// errUnsupportedEncoding marks well-formed WAV files whose sample encoding
// DecodeWAV does not read (float, 8-bit, compressed)
var errUnsupportedEncoding = errors.New("unsupported WAV encoding")

const (
	waveFormatPCM        = 1
	waveFormatExtensible = 0xFFFE
)

// wavLayout is the fmt chunk of a WAV file plus its sample bytes
type wavLayout struct {
	audioFormat   uint16
	numChannels   int
	sampleRate    int
	bitsPerSample int
	data          []byte
}

// parseWAVLayout walks the RIFF chunks, so files carrying LIST, fact or other
// chunks before the samples are read correctly
func parseWAVLayout(data []byte) (*wavLayout, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF/WAVE header")
	}

	var (
		layout  wavLayout
		haveFmt bool
	)
	for pos := 12; pos+8 <= len(data); {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := data[pos+8:]

		switch id {
		case "fmt ":
			if size < 16 || len(body) < 16 {
				return nil, fmt.Errorf("invalid WAV file: fmt chunk too short")
			}
			layout.audioFormat = binary.LittleEndian.Uint16(body[0:2])
			layout.numChannels = int(binary.LittleEndian.Uint16(body[2:4]))
			layout.sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			layout.bitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			if layout.audioFormat == waveFormatExtensible && size >= 40 && len(body) >= 26 {
				// the sub-format GUID starts with the actual format tag
				layout.audioFormat = binary.LittleEndian.Uint16(body[24:26])
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			// streamed or truncated files may declare more than they hold
			layout.data = body[:min(size, len(body))]
			return &layout, nil
		}

		// chunks are padded to an even size
		pos += 8 + size + size%2
	}

	if !haveFmt {
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	return nil, fmt.Errorf("invalid WAV file: missing data chunk")
}

// DecodeWAV decodes a 16- or 24-bit integer PCM WAV file into per-channel
// samples. 16-bit samples use the exact inverse of FloatToPCM16.
func DecodeWAV(data []byte) (*DecodedAudio, error) {
	layout, err := parseWAVLayout(data)
	if err != nil {
		return nil, err
	}

	if layout.audioFormat != waveFormatPCM {
		return nil, fmt.Errorf("%w: format tag %d", errUnsupportedEncoding, layout.audioFormat)
	}

	var toFloat func(b []byte) float64
	switch layout.bitsPerSample {
	case 16:
		toFloat = func(b []byte) float64 {
			return PCM16ToFloat(int16(binary.LittleEndian.Uint16(b)))
		}
	case 24:
		toFloat = func(b []byte) float64 {
			v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			return float64(v) / (1 << 23)
		}
	default:
		return nil, fmt.Errorf("%w: %d-bit samples", errUnsupportedEncoding, layout.bitsPerSample)
	}

	if layout.numChannels == 0 {
		return nil, fmt.Errorf("invalid channel count: 0")
	}
	if layout.sampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}

	sampleBytes := layout.bitsPerSample / 8
	frameBytes := sampleBytes * layout.numChannels
	frames := len(layout.data) / frameBytes
	if frames <= 0 {
		return nil, fmt.Errorf("no audio data found")
	}

	channels := make([][]float64, layout.numChannels)
	for c := range channels {
		channels[c] = make([]float64, frames)
	}
	for i := 0; i < frames; i++ {
		frame := layout.data[i*frameBytes:]
		for c := range channels {
			channels[c][i] = toFloat(frame[c*sampleBytes:])
		}
	}

	return &DecodedAudio{
		Duration:   float64(frames) / float64(layout.sampleRate),
		SampleRate: layout.sampleRate,
		Channels:   channels,
	}, nil
}

// ValidateWAV validates a WAV file format without decoding the entire audio data
func ValidateWAV(data []byte) error {
	if len(data) < wavHeaderSize {
		return fmt.Errorf("WAV data too short: need at least 44 bytes, got %d", len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return nil
}

// WAVInfo holds basic information about a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"` // per channel
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if header.SampleRate == 0 || header.BlockAlign == 0 {
		return nil, fmt.Errorf("invalid WAV header: sample_rate=%d block_align=%d", header.SampleRate, header.BlockAlign)
	}

	numSamples := header.Subchunk2Size / uint32(header.BlockAlign)

	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      float64(numSamples) / float64(header.SampleRate),
		DataSize:      header.Subchunk2Size,
		NumSamples:    numSamples,
	}, nil
}

// GetWAVDuration calculates the duration of a WAV file in seconds
func GetWAVDuration(data []byte) (float64, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}
