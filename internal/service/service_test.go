package service

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/shabadfinder/internal/api"
	"github.com/audiolibrelab/shabadfinder/internal/audio"
	"github.com/audiolibrelab/shabadfinder/internal/config"
)

type fakeAPI struct {
	mu sync.Mutex

	identifyCalls int
	identify      api.RecognitionResult
	fetched       []string
	fetchErr      error
	explainErr    error
	explainCalls  int
	voice         string
	voiceErr      error
}

func (f *fakeAPI) Identify(ctx context.Context, clip audio.Clip) (api.RecognitionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identifyCalls++
	return f.identify, nil
}

func (f *fakeAPI) FetchHymn(ctx context.Context, id string) (api.HymnDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, id)
	if f.fetchErr != nil {
		return api.HymnDocument{}, f.fetchErr
	}
	return api.HymnDocument{
		ID:    id,
		Lines: []api.Line{{Gurmukhi: "ੴ", Transliteration: "ik oankaar", Translation: "One Universal Creator"}},
		Info:  api.ShabadInfo{Raag: api.Label{English: "Jap"}, PageNo: 1},
	}, nil
}

func (f *fakeAPI) GenerateExplanation(ctx context.Context, translation, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.explainCalls++
	if f.explainErr != nil {
		return "", f.explainErr
	}
	return "Peace within.", nil
}

func (f *fakeAPI) GenerateVoice(ctx context.Context, text, key string) (string, bool, error) {
	if f.voiceErr != nil {
		return "", false, f.voiceErr
	}
	return f.voice, f.voice != "", nil
}

func (f *fakeAPI) snapshot() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identifyCalls, append([]string(nil), f.fetched...)
}

// blockingStream yields silence until stopped.
type blockingStream struct {
	stopped chan struct{}
	once    sync.Once
}

func (s *blockingStream) Read(p []byte) (int, error) {
	select {
	case <-s.stopped:
		return 0, io.EOF
	case <-time.After(5 * time.Millisecond):
		n := min(len(p), 320)
		clear(p[:n])
		return n, nil
	}
}

func (s *blockingStream) Stop() error {
	s.once.Do(func() { close(s.stopped) })
	return nil
}

func (s *blockingStream) isStopped() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

type fakeMic struct {
	mu     sync.Mutex
	err    error
	stream *blockingStream
	opened chan struct{}
}

func newFakeMic() *fakeMic {
	return &fakeMic{stream: &blockingStream{stopped: make(chan struct{})}, opened: make(chan struct{}, 1)}
}

func (m *fakeMic) Open(ctx context.Context, format audio.Format) (audio.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.opened <- struct{}{}
	return m.stream, nil
}

func testConfig(window time.Duration) *config.Config {
	cfg := config.Default()
	cfg.Session.ListenWindow = window
	cfg.Session.SimulatedExplanationDelay = 10 * time.Millisecond
	cfg.Session.DemoShabads = []config.DemoShabad{{ID: "1", Name: "Mool Mantar"}}
	return cfg
}

func newTestController(cfg *config.Config, client *fakeAPI, mic audio.Microphone) *Controller {
	live := NewLiveSource(mic, cfg.Audio, client)
	sim := NewSimulatedSource(cfg.Session.DemoShabads, rand.New(rand.NewPCG(1, 2)))
	return NewWithSources(cfg, client, nil, live, sim)
}

func settle(t *testing.T, c *Controller) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("session did not settle: %v", err)
	}
	return state
}

func TestTransition(t *testing.T) {
	tests := []struct {
		from View
		ev   Event
		to   View
		ok   bool
	}{
		{ViewHome, EventStart, ViewListening, true},
		{ViewListening, EventIdentified, ViewResult, true},
		{ViewListening, EventFailed, ViewError, true},
		{ViewListening, EventCancel, ViewHome, true},
		{ViewResult, EventBack, ViewHome, true},
		{ViewError, EventRetry, ViewHome, true},
		{ViewHome, EventBack, ViewHome, false},
		{ViewResult, EventStart, ViewResult, false},
		{ViewError, EventStart, ViewError, false},
		{ViewListening, EventStart, ViewListening, false},
	}
	for _, tt := range tests {
		got, err := Transition(tt.from, tt.ev)
		if (err == nil) != tt.ok || got != tt.to {
			t.Errorf("Transition(%s, %s) = %s, %v; want %s ok=%v", tt.from, tt.ev, got, err, tt.to, tt.ok)
		}
		var terr *TransitionError
		if !tt.ok && !errors.As(err, &terr) {
			t.Errorf("expected TransitionError, got %v", err)
		}
	}
}

func TestSimulatedReachesResultWithoutRecognition(t *testing.T) {
	client := &fakeAPI{}
	window := 50 * time.Millisecond
	c := newTestController(testConfig(window), client, newFakeMic())
	defer c.Close()

	start := time.Now()
	if err := c.Start(context.Background(), SourceSimulated); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if c.Snapshot().View != ViewListening {
		t.Fatal("expected listening view right after start")
	}

	state := settle(t, c)
	if state.View != ViewResult {
		t.Fatalf("view = %s, want result (error %q)", state.View, state.Error)
	}
	if elapsed := time.Since(start); elapsed < window {
		t.Errorf("result reached before the wait window: %v", elapsed)
	}
	identifyCalls, fetched := client.snapshot()
	if identifyCalls != 0 {
		t.Errorf("simulation must not call recognition, got %d calls", identifyCalls)
	}
	if len(fetched) != 1 || fetched[0] != "1" {
		t.Errorf("fetched %v, want [1]", fetched)
	}
	if state.Hymn == nil || state.Hymn.ID != "1" {
		t.Errorf("unexpected hymn %+v", state.Hymn)
	}
}

func TestFetchNotFoundGoesToError(t *testing.T) {
	client := &fakeAPI{fetchErr: &api.NotFoundError{ID: "1"}}
	c := newTestController(testConfig(10*time.Millisecond), client, newFakeMic())
	defer c.Close()

	if err := c.Start(context.Background(), SourceSimulated); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	state := settle(t, c)
	if state.View != ViewError {
		t.Fatalf("view = %s, want error", state.View)
	}
	if !strings.Contains(state.Error, "1") {
		t.Errorf("error should cite the id, got %q", state.Error)
	}

	if err := c.Retry(); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if s := c.Snapshot(); s.View != ViewHome || s.Error != "" {
		t.Errorf("unexpected state after retry %+v", s)
	}
}

func TestShapeErrorIsGeneric(t *testing.T) {
	client := &fakeAPI{fetchErr: &api.ShapeError{Service: "GurbaniNow API", Errors: []string{"Shabad array is empty"}}}
	c := newTestController(testConfig(10*time.Millisecond), client, newFakeMic())
	defer c.Close()

	c.Start(context.Background(), SourceSimulated)
	state := settle(t, c)
	if state.Error != "Received an invalid response from GurbaniNow API" {
		t.Errorf("unexpected error message %q", state.Error)
	}
}

func TestLiveIdentifies(t *testing.T) {
	client := &fakeAPI{identify: api.RecognitionResult{Success: true, ShabadID: "3589"}}
	mic := newFakeMic()
	c := newTestController(testConfig(50*time.Millisecond), client, mic)
	defer c.Close()

	if err := c.Start(context.Background(), SourceLive); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	state := settle(t, c)
	if state.View != ViewResult || state.Hymn.ID != "3589" {
		t.Fatalf("unexpected state %+v", state)
	}
	if !mic.stream.isStopped() {
		t.Error("microphone must be released after capture")
	}
	if calls, _ := client.snapshot(); calls != 1 {
		t.Errorf("identify calls = %d, want 1", calls)
	}
}

func TestLiveNoMatch(t *testing.T) {
	client := &fakeAPI{identify: api.RecognitionResult{Success: false, Message: "No match found"}}
	c := newTestController(testConfig(20*time.Millisecond), client, newFakeMic())
	defer c.Close()

	c.Start(context.Background(), SourceLive)
	state := settle(t, c)
	if state.View != ViewError || state.Error != "No match found" {
		t.Fatalf("unexpected state %+v", state)
	}
	if _, fetched := client.snapshot(); len(fetched) != 0 {
		t.Errorf("no fetch expected without a match, got %v", fetched)
	}
}

func TestMicrophoneDenied(t *testing.T) {
	mic := newFakeMic()
	mic.err = errors.New("permission denied")
	c := newTestController(testConfig(time.Second), &fakeAPI{}, mic)
	defer c.Close()

	c.Start(context.Background(), SourceLive)
	state := settle(t, c)
	if state.View != ViewError || !strings.Contains(state.Error, "Microphone access failed") {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestCancelTearsDownCapture(t *testing.T) {
	client := &fakeAPI{identify: api.RecognitionResult{Success: true, ShabadID: "1"}}
	mic := newFakeMic()
	c := newTestController(testConfig(5*time.Second), client, mic)
	defer c.Close()

	if err := c.Start(context.Background(), SourceLive); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	select {
	case <-mic.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("microphone was never opened")
	}

	if err := c.Cancel(); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if !mic.stream.isStopped() {
		t.Fatal("microphone must be released when Cancel returns")
	}
	state := c.Snapshot()
	if state.View != ViewHome || state.Level != 0 {
		t.Errorf("unexpected state after cancel %+v", state)
	}
	if calls, fetched := client.snapshot(); calls != 0 || len(fetched) != 0 {
		t.Errorf("cancelled session must not identify or fetch (calls=%d fetched=%v)", calls, fetched)
	}

	if err := c.Cancel(); err == nil {
		t.Error("cancel from home should be rejected")
	}
}

func TestStartRejectedOutsideHome(t *testing.T) {
	c := newTestController(testConfig(time.Second), &fakeAPI{}, newFakeMic())
	defer c.Close()

	if err := c.Start(context.Background(), SourceSimulated); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	err := c.Start(context.Background(), SourceSimulated)
	var terr *TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if err := c.Start(context.Background(), SourceKind("radio")); err == nil {
		t.Error("unknown source should be rejected")
	}
}

func resultController(t *testing.T, client *fakeAPI, key string) *Controller {
	t.Helper()
	cfg := testConfig(10 * time.Millisecond)
	cfg.Generative.APIKey = key
	c := newTestController(cfg, client, newFakeMic())
	if err := c.Start(context.Background(), SourceSimulated); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if state := settle(t, c); state.View != ViewResult {
		t.Fatalf("expected result view, got %+v", state)
	}
	return c
}

func TestExplainWithVoiceAndBack(t *testing.T) {
	pcm := []byte{1, 0, 2, 0}
	client := &fakeAPI{voice: base64.StdEncoding.EncodeToString(pcm)}
	c := resultController(t, client, "key")
	defer c.Close()

	if err := c.Explain(context.Background()); err != nil {
		t.Fatalf("Explain failed: %v", err)
	}
	state := c.Snapshot()
	if state.Explanation != "Peace within." || state.Generating {
		t.Fatalf("unexpected state %+v", state)
	}
	if state.PlaybackID == "" || !strings.HasPrefix(state.PlaybackURL, "blob:") {
		t.Fatalf("expected playback asset, got %+v", state)
	}
	asset, ok := c.Playback(state.PlaybackID)
	if !ok || len(asset.Data) != audio.WAVHeaderSize+len(pcm) {
		t.Fatalf("unexpected playback asset %v %v", asset, ok)
	}
	if c.Assets().Live() != 1 {
		t.Fatalf("live assets = %d, want 1", c.Assets().Live())
	}

	// a second request is a no-op
	c.Explain(context.Background())
	if client.explainCalls != 1 {
		t.Errorf("explain calls = %d, want 1", client.explainCalls)
	}

	if err := c.Back(); err != nil {
		t.Fatalf("Back failed: %v", err)
	}
	state = c.Snapshot()
	if state.View != ViewHome || state.Hymn != nil || state.Explanation != "" || state.PlaybackID != "" {
		t.Errorf("back must discard result data, got %+v", state)
	}
	if c.Assets().Live() != 0 {
		t.Errorf("playback asset leaked: %d live", c.Assets().Live())
	}
}

func TestExplainWithoutKey(t *testing.T) {
	client := &fakeAPI{}
	c := resultController(t, client, "")
	defer c.Close()

	if err := c.Explain(context.Background()); err != nil {
		t.Fatalf("Explain failed: %v", err)
	}
	state := c.Snapshot()
	if state.Explanation != SimulatedExplanation {
		t.Errorf("unexpected explanation %q", state.Explanation)
	}
	if state.PlaybackID != "" || client.explainCalls != 0 {
		t.Error("no generative call or playback without a key")
	}
}

func TestCancelledExplainCanBeRetried(t *testing.T) {
	client := &fakeAPI{}
	c := resultController(t, client, "")
	defer c.Close()
	c.simulatedDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Explain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	state := c.Snapshot()
	if state.Generating || state.Explanation != "" {
		t.Fatalf("cancelled explain left state %+v", state)
	}

	c.simulatedDelay = 10 * time.Millisecond
	if err := c.Explain(context.Background()); err != nil {
		t.Fatalf("second Explain failed: %v", err)
	}
	if state := c.Snapshot(); state.Generating || state.Explanation != SimulatedExplanation {
		t.Errorf("second explain did not run: %+v", state)
	}
}

func TestCancelledGenerationResetsFlag(t *testing.T) {
	client := &fakeAPI{explainErr: context.Canceled}
	c := resultController(t, client, "key")
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Explain(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if state := c.Snapshot(); state.Generating {
		t.Fatal("generating flag stuck after cancel")
	}

	client.mu.Lock()
	client.explainErr = nil
	client.mu.Unlock()
	if err := c.Explain(context.Background()); err != nil {
		t.Fatalf("second Explain failed: %v", err)
	}
	if state := c.Snapshot(); state.Explanation != "Peace within." {
		t.Errorf("explanation = %q", state.Explanation)
	}
}

func TestExplainFailureShowsApology(t *testing.T) {
	client := &fakeAPI{explainErr: &api.AccessDeniedError{Service: "Gemini API"}}
	c := resultController(t, client, "bad-key")
	defer c.Close()

	c.Explain(context.Background())
	state := c.Snapshot()
	if state.View != ViewResult {
		t.Fatalf("explanation failure must not leave the result view, got %s", state.View)
	}
	if state.Explanation != ExplanationApology || state.Generating {
		t.Errorf("unexpected state %+v", state)
	}
}

func TestVoiceFailureLeavesNoPlayback(t *testing.T) {
	for name, client := range map[string]*fakeAPI{
		"absent": {},
		"error":  {voiceErr: &api.HTTPStatusError{Service: "Gemini API", Code: 500}},
	} {
		t.Run(name, func(t *testing.T) {
			c := resultController(t, client, "key")
			defer c.Close()

			c.Explain(context.Background())
			state := c.Snapshot()
			if state.Explanation != "Peace within." {
				t.Errorf("explanation should survive voice failure, got %q", state.Explanation)
			}
			if state.PlaybackID != "" || c.Assets().Live() != 0 {
				t.Errorf("no playback expected, got %+v", state)
			}
		})
	}
}

func TestExplainOutsideResult(t *testing.T) {
	c := newTestController(testConfig(time.Second), &fakeAPI{}, newFakeMic())
	defer c.Close()
	if err := c.Explain(context.Background()); err == nil {
		t.Error("explain from home should fail")
	}
}

type recordingListener struct {
	mu     sync.Mutex
	views  []View
	levels int
}

func (l *recordingListener) StateChanged(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.views) == 0 || l.views[len(l.views)-1] != s.View {
		l.views = append(l.views, s.View)
	}
}

func (l *recordingListener) LevelChanged(float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.levels++
}

func TestListenerReceivesTransitions(t *testing.T) {
	c := newTestController(testConfig(150*time.Millisecond), &fakeAPI{}, newFakeMic())
	defer c.Close()

	l := &recordingListener{}
	unsubscribe := c.Subscribe(l)
	defer unsubscribe()

	c.Start(context.Background(), SourceSimulated)
	settle(t, c)

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.views) != 2 || l.views[0] != ViewListening || l.views[1] != ViewResult {
		t.Errorf("unexpected view sequence %v", l.views)
	}
	if l.levels == 0 {
		t.Error("expected level samples while listening")
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	client := &fakeAPI{voice: "AAAA"}
	c := resultController(t, client, "key")
	c.Explain(context.Background())
	if c.Assets().Live() != 1 {
		t.Fatalf("expected one live asset, got %d", c.Assets().Live())
	}

	c.Close()
	c.Close()
	if c.Assets().Live() != 0 {
		t.Errorf("close leaked %d assets", c.Assets().Live())
	}
	if err := c.Start(context.Background(), SourceSimulated); err == nil {
		t.Error("start after close should fail")
	}
}

func TestNewSessionReleasesAsset(t *testing.T) {
	client := &fakeAPI{voice: "AAAA"}
	c := resultController(t, client, "key")
	defer c.Close()

	c.Explain(context.Background())
	c.Back()
	c.Start(context.Background(), SourceSimulated)
	settle(t, c)
	if c.Assets().Live() != 0 {
		t.Errorf("expected no live assets, got %d", c.Assets().Live())
	}
}
