package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name   string
		data   []byte
		want   Format
		wantOK bool
	}{
		{"wav", []byte("RIFF\x24\x00\x00\x00WAVEfmt "), FormatWAV, true},
		{"flac", []byte("fLaC\x00\x00\x00\x22"), FormatFLAC, true},
		{"ogg", []byte("OggS\x00\x02"), FormatVorbis, true},
		{"mp3 with id3", []byte("ID3\x04\x00"), FormatMP3, true},
		{"mp3 frame sync", []byte{0xFF, 0xFB, 0x90, 0x64}, FormatMP3, true},
		{"riff without wave", []byte("RIFF\x24\x00\x00\x00AVI LIST"), "", false},
		{"m4a", []byte("\x00\x00\x00\x20ftypM4A "), "", false},
		{"empty", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DetectFormat(tt.data)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("DetectFormat() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestFormatContentType(t *testing.T) {
	if FormatMP3.ContentType() != "audio/mpeg" {
		t.Errorf("Expected audio/mpeg, got %s", FormatMP3.ContentType())
	}
	if Format("").ContentType() != "application/octet-stream" {
		t.Errorf("Expected octet-stream fallback, got %s", Format("").ContentType())
	}
}

func TestDecodeWAVFile(t *testing.T) {
	source := sineAudio(16000, 0.5, 2)
	data, err := EncodeChunk(source, 0, source.Duration)
	if err != nil {
		t.Fatalf("EncodeChunk failed: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decoded.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", decoded.SampleRate)
	}
	if decoded.NumChannels() != 2 {
		t.Fatalf("Expected 2 channels, got %d", decoded.NumChannels())
	}
	if decoded.NumSamples() != source.NumSamples() {
		t.Fatalf("Expected %d samples, got %d", source.NumSamples(), decoded.NumSamples())
	}
	if math.Abs(decoded.Duration-0.5) > 1e-9 {
		t.Errorf("Expected duration 0.5, got %f", decoded.Duration)
	}

	for c := 0; c < 2; c++ {
		for i := 0; i < decoded.NumSamples(); i += 97 {
			if diff := math.Abs(decoded.Channels[c][i] - source.Channels[c][i]); diff > 1e-3 {
				t.Fatalf("Channel %d sample %d differs by %f", c, i, diff)
			}
		}
	}
}

func TestDecodeMonoKeepsOneChannel(t *testing.T) {
	source := sineAudio(8000, 0.25, 1)
	data, err := EncodeChunk(source, 0, source.Duration)
	if err != nil {
		t.Fatalf("EncodeChunk failed: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.NumChannels() != 1 {
		t.Errorf("Expected 1 channel, got %d", decoded.NumChannels())
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		wantFormat Format
	}{
		{"unrecognized", []byte("definitely not audio"), ""},
		{"empty", nil, ""},
		{"truncated wav", []byte("RIFF\x24\x00\x00\x00WAVE"), FormatWAV},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if !errors.Is(err, ErrDecode) {
				t.Fatalf("Expected ErrDecode, got %v", err)
			}

			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("Expected *DecodeError, got %T", err)
			}
			if decodeErr.Format != tt.wantFormat {
				t.Errorf("Expected format %q, got %q", tt.wantFormat, decodeErr.Format)
			}

			for _, f := range SupportedFormats {
				if !strings.Contains(err.Error(), string(f)) {
					t.Errorf("Error %q does not list supported format %s", err.Error(), f)
				}
			}
		})
	}
}

func TestDecodeWAVKeepsAmplitude(t *testing.T) {
	source := &DecodedAudio{
		Duration:   0.5,
		SampleRate: 8,
		Channels:   [][]float64{{0.5, -0.5, 0.9, 0.25}},
	}
	data, err := EncodeChunk(source, 0, source.Duration)
	if err != nil {
		t.Fatalf("EncodeChunk failed: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	for i, want := range source.Channels[0] {
		if got := decoded.Channels[0][i]; math.Abs(got-want) > 1.0/32767 {
			t.Errorf("Sample %d: expected %f, got %f", i, want, got)
		}
	}

	again, err := EncodeChunk(decoded, 0, decoded.Duration)
	if err != nil {
		t.Fatalf("EncodeChunk failed: %v", err)
	}
	for i := wavHeaderSize; i < len(data); i += 2 {
		orig := int16(binary.LittleEndian.Uint16(data[i:]))
		got := int16(binary.LittleEndian.Uint16(again[i:]))
		if d := int(orig) - int(got); d < -1 || d > 1 {
			t.Errorf("Re-encoded sample at byte %d: expected %d, got %d", i, orig, got)
		}
	}
}

func TestDecodeWAVWithMetadataChunk(t *testing.T) {
	var pcm bytes.Buffer
	binary.Write(&pcm, binary.LittleEndian, []int16{-32768, 32767, 0})

	data := buildWAV(
		fmtChunk(waveFormatPCM, 1, 16000, 16),
		wavChunk{"LIST", []byte("INFOINAMvisit")},
		wavChunk{"data", pcm.Bytes()},
	)

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	want := []float64{-1, 1, 0}
	for i, w := range want {
		if got := decoded.Channels[0][i]; got != w {
			t.Errorf("Sample %d: expected %f, got %f", i, w, got)
		}
	}
}
