package audio

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeStream serves a fixed PCM payload, then blocks until stopped or fails
// with err when set.
type fakeStream struct {
	mu      sync.Mutex
	data    []byte
	err     error
	stopped chan struct{}
	once    sync.Once
	stops   int
}

func newFakeStream(data []byte, err error) *fakeStream {
	return &fakeStream{data: data, err: err, stopped: make(chan struct{})}
}

func (s *fakeStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	if len(s.data) > 0 {
		n := copy(p, s.data)
		s.data = s.data[n:]
		s.mu.Unlock()
		return n, nil
	}
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	<-s.stopped
	return 0, io.EOF
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	s.stops++
	s.mu.Unlock()
	s.once.Do(func() { close(s.stopped) })
	return nil
}

type fakeMic struct {
	stream *fakeStream
	err    error
	opens  int
}

func (m *fakeMic) Open(ctx context.Context, format Format) (Stream, error) {
	m.opens++
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

func TestCaptureProducesWAVClip(t *testing.T) {
	stream := newFakeStream(make([]byte, 3200), nil)
	mic := &fakeMic{stream: stream}

	clip, err := Capture(context.Background(), mic, Format{}, 0, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if clip.Filename != "recording.wav" || clip.ContentType != "audio/wav" {
		t.Errorf("unexpected clip metadata %+v", clip)
	}
	if clip.Duration != 100*time.Millisecond {
		t.Errorf("duration = %v, want 100ms", clip.Duration)
	}
	info, err := InspectWAV(clip.Data)
	if err != nil {
		t.Fatalf("clip is not a wav: %v", err)
	}
	if info.SampleRate != 16000 || info.Channels != 1 {
		t.Errorf("unexpected clip format %+v", info)
	}
	if stream.stops != 1 {
		t.Errorf("stream stopped %d times, want 1", stream.stops)
	}
}

func TestCaptureMicrophoneDenied(t *testing.T) {
	mic := &fakeMic{err: errors.New("permission denied")}

	_, err := Capture(context.Background(), mic, Format{}, 0, time.Second)
	var accessErr *MicrophoneAccessError
	if !errors.As(err, &accessErr) {
		t.Fatalf("expected MicrophoneAccessError, got %v", err)
	}
}

func TestCaptureStreamFailure(t *testing.T) {
	stream := newFakeStream(make([]byte, 100), errors.New("device unplugged"))
	mic := &fakeMic{stream: stream}

	start := time.Now()
	_, err := Capture(context.Background(), mic, Format{}, 0, 5*time.Second)
	var recErr *RecorderError
	if !errors.As(err, &recErr) {
		t.Fatalf("expected RecorderError, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("stream failure should end the capture early")
	}
	if stream.stops != 1 {
		t.Errorf("stream must be released on failure, stops=%d", stream.stops)
	}
}

func TestCaptureCancelled(t *testing.T) {
	stream := newFakeStream(make([]byte, 100), nil)
	mic := &fakeMic{stream: stream}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := Capture(ctx, mic, Format{}, 0, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if stream.stops != 1 {
		t.Errorf("stream must be released on cancel, stops=%d", stream.stops)
	}
}

func TestRecordingCloseIdempotent(t *testing.T) {
	stream := newFakeStream(nil, nil)
	rec, err := StartRecording(context.Background(), &fakeMic{stream: stream}, Format{}, 0)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	rec.Close()
	rec.Close()
	if stream.stops != 1 {
		t.Errorf("stops = %d, want 1", stream.stops)
	}
	if rec.Level() != 0 {
		t.Errorf("level after close = %v, want 0", rec.Level())
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func TestProcessMicrophoneArgs(t *testing.T) {
	mic := NewProcessMicrophone("", "")
	args, err := mic.Args(Format{InputDevice: "hw:1"})
	if err != nil {
		t.Fatalf("args failed: %v", err)
	}
	got := strings.Join(args, " ")
	want := "ffmpeg -nostdin -hide_banner -loglevel warning -f pulse -i hw:1 -ac 1 -ar 16000 -f s16le -"
	if got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}

	custom := NewProcessMicrophone("", `arecord -D "my device" -f S16_LE`)
	args, err = custom.Args(Format{})
	if err != nil {
		t.Fatalf("custom args failed: %v", err)
	}
	if len(args) != 5 || args[2] != "my device" {
		t.Errorf("unexpected custom argv %q", args)
	}
}

func TestProcessMicrophoneEarlyExit(t *testing.T) {
	script := writeScript(t, `echo "no such device" >&2; exit 1`)
	mic := NewProcessMicrophone("", script)

	_, err := mic.Open(context.Background(), Format{})
	var accessErr *MicrophoneAccessError
	if !errors.As(err, &accessErr) {
		t.Fatalf("expected MicrophoneAccessError, got %v", err)
	}
	if !strings.Contains(err.Error(), "no such device") {
		t.Errorf("stderr should be reported, got %v", err)
	}
}

func TestProcessMicrophoneStreams(t *testing.T) {
	script := writeScript(t, `head -c 6400 /dev/zero; exec sleep 5`)
	mic := NewProcessMicrophone("", script)

	clip, err := Capture(context.Background(), mic, Format{}, 0, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if clip.Duration != 200*time.Millisecond {
		t.Errorf("duration = %v, want 200ms", clip.Duration)
	}
}

func TestProcessMicrophoneKeepsOutputFlushedOnStop(t *testing.T) {
	// 3200 bytes up front, 60000 more written from the INT handler.
	script := writeScript(t, `trap 'head -c 60000 /dev/zero; exit 0' INT
head -c 3200 /dev/zero
while :; do sleep 0.05; done`)
	mic := NewProcessMicrophone("", script)

	rec, err := StartRecording(context.Background(), mic, Format{}, 0)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	clip, err := rec.Finish()
	if err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	info, err := InspectWAV(clip.Data)
	if err != nil {
		t.Fatalf("clip is not a wav: %v", err)
	}
	if info.DataSize != 63200 {
		t.Errorf("buffered %d bytes, want 63200", info.DataSize)
	}
}
