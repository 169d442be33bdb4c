package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/audiolibrelab/shabadfinder/internal/api"
	"github.com/audiolibrelab/shabadfinder/internal/audio"
	"github.com/audiolibrelab/shabadfinder/internal/config"
)

// SourceKind selects where a listening session gets its hymn id from.
type SourceKind string

const (
	SourceLive      SourceKind = "live"
	SourceSimulated SourceKind = "simulated"
)

// Source opens one capture per listening session.
type Source interface {
	Kind() SourceKind
	Open(ctx context.Context) (Capture, error)
}

// Capture is an acquired source. Close releases it and is safe to call
// more than once.
type Capture interface {
	Level() float64
	Identify(ctx context.Context, status func(string)) (string, error)
	Close() error
}

// NoMatchError is a recognition answer that names no hymn.
type NoMatchError struct {
	Message string
}

func (e *NoMatchError) Error() string {
	if e.Message == "" {
		return "No match found"
	}
	return e.Message
}

// Recognizer identifies a recorded clip.
type Recognizer interface {
	Identify(ctx context.Context, clip audio.Clip) (api.RecognitionResult, error)
}

// LiveSource records from the microphone and asks the recognition service.
type LiveSource struct {
	mic        audio.Microphone
	format     audio.Format
	chunkSize  int
	recognizer Recognizer
}

func NewLiveSource(mic audio.Microphone, cfg config.AudioConfig, recognizer Recognizer) *LiveSource {
	return &LiveSource{
		mic: mic,
		format: audio.Format{
			SampleRate:  cfg.SampleRate,
			Channels:    cfg.Channels,
			InputFormat: cfg.InputFormat,
			InputDevice: cfg.InputDevice,
		},
		chunkSize:  cfg.ChunkSize,
		recognizer: recognizer,
	}
}

func (s *LiveSource) Kind() SourceKind { return SourceLive }

func (s *LiveSource) Open(ctx context.Context) (Capture, error) {
	rec, err := audio.StartRecording(ctx, s.mic, s.format, s.chunkSize)
	if err != nil {
		return nil, err
	}
	return &liveCapture{rec: rec, recognizer: s.recognizer}, nil
}

type liveCapture struct {
	rec        *audio.Recording
	recognizer Recognizer
}

func (c *liveCapture) Level() float64 { return c.rec.Level() }

func (c *liveCapture) Close() error { return c.rec.Close() }

func (c *liveCapture) Identify(ctx context.Context, status func(string)) (string, error) {
	clip, err := c.rec.Finish()
	if err != nil {
		return "", err
	}

	status("Sending to recognition server...")
	result, err := c.recognizer.Identify(ctx, clip)
	if err != nil {
		return "", err
	}
	if !result.Matched() {
		return "", &NoMatchError{Message: result.Message}
	}

	status(fmt.Sprintf("Match found: Shabad ID %s (confidence: %s)", result.ShabadID, result.ConfidenceText()))
	return string(result.ShabadID), nil
}

// SimulatedSource picks a random hymn from the demo pool and produces a
// synthetic intensity signal. No microphone or recognition call is made.
type SimulatedSource struct {
	pool []config.DemoShabad

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulatedSource(pool []config.DemoShabad, rng *rand.Rand) *SimulatedSource {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &SimulatedSource{pool: pool, rng: rng}
}

func (s *SimulatedSource) Kind() SourceKind { return SourceSimulated }

func (s *SimulatedSource) Open(ctx context.Context) (Capture, error) {
	if len(s.pool) == 0 {
		return nil, errors.New("demo shabad pool is empty")
	}
	return &simulatedCapture{src: s}, nil
}

func (s *SimulatedSource) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

func (s *SimulatedSource) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

type simulatedCapture struct {
	src *SimulatedSource
}

func (c *simulatedCapture) Level() float64 { return c.src.float() * 100 }

func (c *simulatedCapture) Close() error { return nil }

func (c *simulatedCapture) Identify(ctx context.Context, status func(string)) (string, error) {
	pick := c.src.pool[c.src.intn(len(c.src.pool))]
	status(fmt.Sprintf("Simulation: Using demo Shabad ID %s", pick.ID))
	return pick.ID, nil
}
