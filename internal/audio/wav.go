package audio

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
)

// WAVHeaderSize is the size of the canonical RIFF/WAVE/fmt/data header.
const WAVHeaderSize = 44

// DefaultSpeechSampleRate is the rate of PCM16 speech returned by the voice service.
const DefaultSpeechSampleRate = 24000

// DecodeBase64Audio decodes a standard base64 audio payload.
func DecodeBase64Audio(payload string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return data, nil
}

// WrapPCM16AsWAV prefixes mono PCM16 data with a 44-byte WAV header. The
// output is fully determined by its inputs; an odd trailing byte is kept
// as-is in the data chunk.
func WrapPCM16AsWAV(pcm []byte, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = DefaultSpeechSampleRate
	}
	const (
		channels      = 1
		bitsPerSample = 16
	)
	dataSize := uint32(len(pcm))

	out := make([]byte, WAVHeaderSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], 36+dataSize)
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(out[22:24], channels)
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*channels*bitsPerSample/8))
	binary.LittleEndian.PutUint16(out[32:34], channels*bitsPerSample/8)
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], dataSize)
	copy(out[WAVHeaderSize:], pcm)
	return out
}

// EncodeWAV encodes interleaved s16le PCM into a WAV container.
func EncodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	samples := make([]int, len(pcm)/2)
	if len(samples) == 0 {
		return nil, errors.New("no audio samples to encode")
	}
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}

	out := &writerseeker.WriterSeeker{}
	encoder := wav.NewEncoder(out, sampleRate, 16, channels, 1)
	if err := encoder.Write(buf); err != nil {
		return nil, fmt.Errorf("encoder write buffer: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("encoder close: %w", err)
	}

	data, err := io.ReadAll(out.Reader())
	if err != nil {
		return nil, fmt.Errorf("reading wav into memory: %w", err)
	}
	return data, nil
}

// WAVInfo describes a decoded WAV container.
type WAVInfo struct {
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	BitDepth   int           `json:"bit_depth"`
	DataSize   int           `json:"data_size"`
	Duration   time.Duration `json:"duration"`
}

// InspectWAV reads the header of a WAV container.
func InspectWAV(data []byte) (WAVInfo, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return WAVInfo{}, fmt.Errorf("reading wav header: %w", err)
	}
	if d.WavAudioFormat != 1 {
		return WAVInfo{}, fmt.Errorf("unsupported wav format %d", d.WavAudioFormat)
	}
	if err := d.FwdToPCM(); err != nil {
		return WAVInfo{}, fmt.Errorf("locating pcm data: %w", err)
	}

	info := WAVInfo{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
		DataSize:   d.PCMSize,
	}
	if bytesPerSecond := info.SampleRate * info.Channels * info.BitDepth / 8; bytesPerSecond > 0 {
		info.Duration = time.Duration(int64(info.DataSize) * int64(time.Second) / int64(bytesPerSecond))
	}
	return info, nil
}
