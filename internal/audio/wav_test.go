package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// sineAudio builds a decoded recording with a different tone per channel
func sineAudio(sampleRate int, seconds float64, channels int) *DecodedAudio {
	numSamples := int(math.Round(seconds * float64(sampleRate)))
	a := &DecodedAudio{
		Duration:   float64(numSamples) / float64(sampleRate),
		SampleRate: sampleRate,
		Channels:   make([][]float64, channels),
	}
	for c := range a.Channels {
		a.Channels[c] = make([]float64, numSamples)
		frequency := 220.0 * float64(c+1)
		for i := range a.Channels[c] {
			t := float64(i) / float64(sampleRate)
			a.Channels[c][i] = 0.8 * math.Sin(2*math.Pi*frequency*t)
		}
	}
	return a
}

func TestEncodeWAV(t *testing.T) {
	sampleRate := 8000
	samples := make([]int16, 800)
	for i := range samples {
		samples[i] = int16(16383 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}

	wavData, err := EncodeWAV(samples, sampleRate, 1)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	expectedSize := 44 + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	if err := ValidateWAV(wavData); err != nil {
		t.Errorf("Generated WAV is invalid: %v", err)
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}

	if info.SampleRate != uint32(sampleRate) {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}
	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}
	if math.Abs(info.Duration-0.1) > 0.001 {
		t.Errorf("Expected duration 0.100, got %.3f", info.Duration)
	}
}

func TestEncodeWAVInvalidInput(t *testing.T) {
	tests := []struct {
		name       string
		samples    []int16
		sampleRate int
		channels   int
	}{
		{"empty samples", []int16{}, 8000, 1},
		{"zero sample rate", []int16{1, 2, 3}, 0, 1},
		{"negative sample rate", []int16{1, 2, 3}, -1000, 1},
		{"zero channels", []int16{1, 2, 3}, 8000, 0},
		{"partial frame", []int16{1, 2, 3}, 8000, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeWAV(tt.samples, tt.sampleRate, tt.channels); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestEncodeChunkHeader(t *testing.T) {
	a := sineAudio(16000, 2, 2)

	data, err := EncodeChunk(a, 0.5, 1.5)
	if err != nil {
		t.Fatalf("EncodeChunk failed: %v", err)
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		t.Fatalf("Failed to read header: %v", err)
	}

	frames := 16000
	if got := len(data); got != 44+frames*2*2 {
		t.Errorf("Expected %d bytes, got %d", 44+frames*4, got)
	}
	if header.AudioFormat != 1 {
		t.Errorf("Expected PCM format tag, got %d", header.AudioFormat)
	}
	if header.NumChannels != 2 {
		t.Errorf("Expected 2 channels, got %d", header.NumChannels)
	}
	if header.ByteRate != 16000*4 {
		t.Errorf("Expected byte rate %d, got %d", 16000*4, header.ByteRate)
	}
	if header.BlockAlign != 4 {
		t.Errorf("Expected block align 4, got %d", header.BlockAlign)
	}
	if header.Subchunk2Size != uint32(frames*4) {
		t.Errorf("Expected data size %d, got %d", frames*4, header.Subchunk2Size)
	}
	if header.ChunkSize != uint32(len(data)-8) {
		t.Errorf("Expected RIFF size %d, got %d", len(data)-8, header.ChunkSize)
	}
}

func TestEncodeChunkInterleaving(t *testing.T) {
	a := &DecodedAudio{
		Duration:   0.5,
		SampleRate: 4,
		Channels: [][]float64{
			{0.1, 0.2},
			{-0.1, -0.2},
		},
	}

	data, err := EncodeChunk(a, 0, 0.5)
	if err != nil {
		t.Fatalf("EncodeChunk failed: %v", err)
	}

	got := make([]int16, 4)
	if err := binary.Read(bytes.NewReader(data[44:]), binary.LittleEndian, got); err != nil {
		t.Fatalf("Failed to read samples: %v", err)
	}

	want := []int16{
		FloatToPCM16(0.1), FloatToPCM16(-0.1),
		FloatToPCM16(0.2), FloatToPCM16(-0.2),
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestFloatToPCM16(t *testing.T) {
	tests := []struct {
		in   float64
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32768},
		{1.5, 32767},
		{-2, -32768},
		{0.5, 16383},
		{-0.5, -16384},
		{math.NaN(), 0},
	}

	for _, tt := range tests {
		if got := FloatToPCM16(tt.in); got != tt.want {
			t.Errorf("FloatToPCM16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEncodeChunkRoundTrip(t *testing.T) {
	a := sineAudio(16000, 1, 2)

	data, err := EncodeChunk(a, 0.25, 0.75)
	if err != nil {
		t.Fatalf("EncodeChunk failed: %v", err)
	}

	decoded, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if decoded.SampleRate != a.SampleRate {
		t.Errorf("Expected sample rate %d, got %d", a.SampleRate, decoded.SampleRate)
	}
	if decoded.NumChannels() != a.NumChannels() {
		t.Fatalf("Expected %d channels, got %d", a.NumChannels(), decoded.NumChannels())
	}
	if decoded.NumSamples() != 8000 {
		t.Fatalf("Expected 8000 samples, got %d", decoded.NumSamples())
	}

	// truncation toward zero loses less than one quantization step
	const tolerance = 1.0 / 32767
	offset := 4000
	for c := 0; c < a.NumChannels(); c++ {
		for i, got := range decoded.Channels[c] {
			want := a.Channels[c][offset+i]
			if math.Abs(got-want) > tolerance {
				t.Fatalf("Channel %d sample %d: expected %f, got %f", c, i, want, got)
			}
		}
	}
}

func TestEncodeChunkInvalidRange(t *testing.T) {
	a := sineAudio(8000, 1, 1)

	tests := []struct {
		name       string
		start, end float64
	}{
		{"negative start", -0.1, 0.5},
		{"start equals end", 0.5, 0.5},
		{"start after end", 0.6, 0.5},
		{"end past duration", 0.5, 1.5},
		{"sub-sample window", 0.5, 0.5 + 1e-5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeChunk(a, tt.start, tt.end)
			if !errors.Is(err, ErrInvalidRange) {
				t.Errorf("Expected ErrInvalidRange, got %v", err)
			}
		})
	}
}

func TestEncodeChunkFullDuration(t *testing.T) {
	a := sineAudio(44100, 0.7, 1)

	data, err := EncodeChunk(a, 0, a.Duration)
	if err != nil {
		t.Fatalf("EncodeChunk failed: %v", err)
	}

	info, err := GetWAVInfo(data)
	if err != nil {
		t.Fatalf("GetWAVInfo failed: %v", err)
	}
	if int(info.NumSamples) != a.NumSamples() {
		t.Errorf("Expected %d samples, got %d", a.NumSamples(), info.NumSamples)
	}
}

func TestValidateWAV(t *testing.T) {
	if err := ValidateWAV([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for too short WAV data")
	}

	invalidWAV := make([]byte, 50)
	copy(invalidWAV[0:4], []byte("FAKE"))
	if err := ValidateWAV(invalidWAV); err == nil {
		t.Error("Expected error for invalid RIFF header")
	}
}

func TestGetWAVDuration(t *testing.T) {
	sampleRate := 8000
	samples := make([]int16, sampleRate*2) // 1 second of stereo
	for i := range samples {
		samples[i] = int16(i % 1000)
	}

	wavData, err := EncodeWAV(samples, sampleRate, 2)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	duration, err := GetWAVDuration(wavData)
	if err != nil {
		t.Fatalf("GetWAVDuration failed: %v", err)
	}

	if math.Abs(duration-1.0) > 0.001 {
		t.Errorf("Expected duration 1.000, got %.3f", duration)
	}
}

type wavChunk struct {
	id   string
	body []byte
}

// buildWAV assembles a RIFF/WAVE file from raw chunks in the given order
func buildWAV(chunks ...wavChunk) []byte {
	var body bytes.Buffer
	body.WriteString("WAVE")
	for _, chunk := range chunks {
		body.WriteString(chunk.id)
		binary.Write(&body, binary.LittleEndian, uint32(len(chunk.body)))
		body.Write(chunk.body)
		if len(chunk.body)%2 == 1 {
			body.WriteByte(0)
		}
	}

	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func fmtChunk(formatTag uint16, channels, sampleRate, bits int) wavChunk {
	var b bytes.Buffer
	blockAlign := channels * bits / 8
	binary.Write(&b, binary.LittleEndian, formatTag)
	binary.Write(&b, binary.LittleEndian, uint16(channels))
	binary.Write(&b, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&b, binary.LittleEndian, uint32(sampleRate*blockAlign))
	binary.Write(&b, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&b, binary.LittleEndian, uint16(bits))
	return wavChunk{"fmt ", b.Bytes()}
}

func TestDecodeWAVExactValues(t *testing.T) {
	source := &DecodedAudio{
		Duration:   0.5,
		SampleRate: 8,
		Channels:   [][]float64{{0.5, -0.5, 0.9, 0.25}},
	}

	data, err := EncodeChunk(source, 0, source.Duration)
	if err != nil {
		t.Fatalf("EncodeChunk failed: %v", err)
	}

	decoded, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	// 0.5*32767 and 0.9*32767 truncate, -0.5 is exact on the 32768 side
	want := []int16{16383, -16384, 29490, 8191}
	for i, v := range want {
		if got := decoded.Channels[0][i]; got != PCM16ToFloat(v) {
			t.Errorf("Sample %d: expected %f, got %f", i, PCM16ToFloat(v), got)
		}
		if diff := math.Abs(decoded.Channels[0][i] - source.Channels[0][i]); diff > 1.0/32767 {
			t.Errorf("Sample %d differs from the source by %f", i, diff)
		}
	}
}

func TestDecodeWAVSkipsExtraChunks(t *testing.T) {
	samples := []int16{16383, -16384, 32767, -32768}
	var pcm bytes.Buffer
	binary.Write(&pcm, binary.LittleEndian, samples)

	data := buildWAV(
		fmtChunk(waveFormatPCM, 2, 44100, 16),
		wavChunk{"LIST", []byte("INFOISFT\x03\x00\x00\x00Go\x00")}, // odd size, padded
		wavChunk{"data", pcm.Bytes()},
	)

	decoded, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if decoded.NumChannels() != 2 || decoded.NumSamples() != 2 || decoded.SampleRate != 44100 {
		t.Fatalf("Unexpected layout: %d channels, %d samples, %d Hz",
			decoded.NumChannels(), decoded.NumSamples(), decoded.SampleRate)
	}

	want := [][]float64{
		{16383.0 / 32767, 1},
		{-0.5, -1},
	}
	for c := range want {
		for i := range want[c] {
			if got := decoded.Channels[c][i]; got != want[c][i] {
				t.Errorf("Channel %d sample %d: expected %f, got %f", c, i, want[c][i], got)
			}
		}
	}
}

func TestDecodeWAVExtensibleAnd24Bit(t *testing.T) {
	// WAVE_FORMAT_EXTENSIBLE wrapping 24-bit PCM, mono
	format := fmtChunk(waveFormatExtensible, 1, 48000, 24)
	ext := make([]byte, 24)
	binary.LittleEndian.PutUint16(ext[0:2], 22) // cbSize
	binary.LittleEndian.PutUint16(ext[2:4], 24) // valid bits
	binary.LittleEndian.PutUint16(ext[8:10], waveFormatPCM)
	format.body = append(format.body, ext...)

	// +0.5, -0.5, -1 in 24-bit
	pcm := []byte{0x00, 0x00, 0x40, 0x00, 0x00, 0xC0, 0x00, 0x00, 0x80}

	decoded, err := DecodeWAV(buildWAV(format, wavChunk{"data", pcm}))
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	want := []float64{0.5, -0.5, -1}
	if decoded.NumSamples() != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), decoded.NumSamples())
	}
	for i, w := range want {
		if got := decoded.Channels[0][i]; got != w {
			t.Errorf("Sample %d: expected %f, got %f", i, w, got)
		}
	}
}

func TestDecodeWAVErrors(t *testing.T) {
	pcm := wavChunk{"data", []byte{0, 0, 0, 0}}

	tests := []struct {
		name        string
		data        []byte
		unsupported bool
	}{
		{"not riff", []byte("RIFX\x00\x00\x00\x00WAVE"), false},
		{"missing fmt", buildWAV(pcm), false},
		{"missing data", buildWAV(fmtChunk(waveFormatPCM, 1, 8000, 16)), false},
		{"float samples", buildWAV(fmtChunk(3, 1, 8000, 32), pcm), true},
		{"8-bit samples", buildWAV(fmtChunk(waveFormatPCM, 1, 8000, 8), pcm), true},
		{"zero channels", buildWAV(fmtChunk(waveFormatPCM, 0, 8000, 16), pcm), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeWAV(tt.data)
			if err == nil {
				t.Fatal("Expected error")
			}
			if got := errors.Is(err, errUnsupportedEncoding); got != tt.unsupported {
				t.Errorf("errors.Is(err, errUnsupportedEncoding) = %v, want %v (%v)", got, tt.unsupported, err)
			}
		})
	}
}

func TestDecodeWAVTruncatedData(t *testing.T) {
	source := sineAudio(8000, 0.1, 1)
	data, err := EncodeChunk(source, 0, source.Duration)
	if err != nil {
		t.Fatalf("EncodeChunk failed: %v", err)
	}

	// the header still declares the full length
	decoded, err := DecodeWAV(data[:len(data)-101])
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if want := source.NumSamples() - 51; decoded.NumSamples() != want {
		t.Errorf("Expected %d whole samples, got %d", want, decoded.NumSamples())
	}
}
