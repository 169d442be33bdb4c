package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const defaultChunkSize = 4096

// Clip is an encoded recording ready for upload.
type Clip struct {
	Data        []byte
	Filename    string
	ContentType string
	SampleRate  int
	Channels    int
	Duration    time.Duration
}

// Recording owns one live capture: the microphone stream, the PCM buffer,
// the level meter and the goroutine pumping between them. It is acquired by
// StartRecording and released by Close (or Finish), exactly once.
type Recording struct {
	stream    Stream
	format    Format
	chunkSize int
	started   time.Time

	level atomic.Uint64 // math.Float64bits of the latest level

	mu  sync.Mutex
	pcm bytes.Buffer
	err error

	stopping  atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// StartRecording acquires the microphone and starts buffering audio.
func StartRecording(ctx context.Context, mic Microphone, format Format, chunkSize int) (*Recording, error) {
	format = format.withDefaults()
	if chunkSize < 256 {
		chunkSize = defaultChunkSize
	}

	stream, err := mic.Open(ctx, format)
	if err != nil {
		var accessErr *MicrophoneAccessError
		if errors.As(err, &accessErr) {
			return nil, err
		}
		return nil, &MicrophoneAccessError{Device: format.InputDevice, Err: err}
	}

	r := &Recording{
		stream:    stream,
		format:    format,
		chunkSize: chunkSize,
		started:   time.Now(),
		done:      make(chan struct{}),
	}
	go r.pump()

	slog.Debug("Recording started", "device", format.InputDevice, "sample_rate", format.SampleRate)
	return r, nil
}

func (r *Recording) pump() {
	defer close(r.done)

	buf := make([]byte, r.chunkSize)
	for {
		n, err := r.stream.Read(buf)
		if n > 0 {
			r.mu.Lock()
			r.pcm.Write(buf[:n])
			r.mu.Unlock()
			r.level.Store(math.Float64bits(Level(buf[:n])))
		}
		if err != nil {
			if r.stopping.Load() {
				return
			}
			if errors.Is(err, io.EOF) {
				err = errors.New("stream ended unexpectedly")
			}
			r.mu.Lock()
			r.err = &RecorderError{Err: err}
			r.mu.Unlock()
			slog.Debug("Recording stream failed", "error", err)
			return
		}
	}
}

// Level returns the most recent intensity sample, 0..100.
func (r *Recording) Level() float64 {
	return math.Float64frombits(r.level.Load())
}

// Done is closed when the pump stops, either after Close or on a stream failure.
func (r *Recording) Done() <-chan struct{} {
	return r.done
}

// Err returns the mid-capture failure, if any.
func (r *Recording) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close stops the stream and waits for the pump. Safe to call more than once.
func (r *Recording) Close() error {
	r.closeOnce.Do(func() {
		r.stopping.Store(true)
		r.closeErr = r.stream.Stop()
		<-r.done
		r.level.Store(0)
		slog.Debug("Recording released", "elapsed", time.Since(r.started))
	})
	return r.closeErr
}

// Finish releases the microphone and returns the buffered audio as a WAV clip.
func (r *Recording) Finish() (Clip, error) {
	if err := r.Close(); err != nil {
		slog.Debug("Capture stream stop reported an error", "error", err)
	}
	if err := r.Err(); err != nil {
		return Clip{}, err
	}

	r.mu.Lock()
	pcm := append([]byte(nil), r.pcm.Bytes()...)
	r.mu.Unlock()

	data, err := EncodeWAV(pcm, r.format.SampleRate, r.format.Channels)
	if err != nil {
		return Clip{}, &RecorderError{Err: err}
	}

	bytesPerSecond := r.format.SampleRate * r.format.Channels * 2
	return Clip{
		Data:        data,
		Filename:    "recording.wav",
		ContentType: "audio/wav",
		SampleRate:  r.format.SampleRate,
		Channels:    r.format.Channels,
		Duration:    time.Duration(int64(len(pcm)) * int64(time.Second) / int64(bytesPerSecond)),
	}, nil
}

// Capture records for exactly d and returns the encoded clip. The
// microphone is released on every return path.
func Capture(ctx context.Context, mic Microphone, format Format, chunkSize int, d time.Duration) (Clip, error) {
	rec, err := StartRecording(ctx, mic, format, chunkSize)
	if err != nil {
		return Clip{}, err
	}
	defer rec.Close()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-rec.Done():
	case <-ctx.Done():
		return Clip{}, ctx.Err()
	}
	return rec.Finish()
}

// Level computes the mean absolute amplitude of an s16le chunk scaled to 0..100.
func Level(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += math.Abs(float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))))
	}
	return math.Min(100, sum/float64(n)/32768*100)
}
