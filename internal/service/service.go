package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/shabadfinder/internal/api"
	"github.com/audiolibrelab/shabadfinder/internal/audio"
	"github.com/audiolibrelab/shabadfinder/internal/config"
	"github.com/audiolibrelab/shabadfinder/internal/telemetry"
)

// Service represents the core shabadfinder service interface
type Service interface {
	// Listening session
	Start(ctx context.Context, kind SourceKind) error
	Cancel() error
	Wait(ctx context.Context) (State, error)

	// Result and error views
	Back() error
	Retry() error
	Explain(ctx context.Context) error
	Playback(id string) (*audio.Asset, bool)

	Snapshot() State
	Subscribe(l Listener) func()
	Close() error
}

// Listener receives state changes and level samples. Callbacks run outside
// the controller lock and may call back into it.
type Listener interface {
	StateChanged(State)
	LevelChanged(float64)
}

// API is the subset of the api client the controller needs.
type API interface {
	Recognizer
	FetchHymn(ctx context.Context, id string) (api.HymnDocument, error)
	GenerateExplanation(ctx context.Context, translation, key string) (string, error)
	GenerateVoice(ctx context.Context, text, key string) (string, bool, error)
}

const (
	levelInterval = 50 * time.Millisecond

	// SimulatedExplanation is shown when no generative API key is configured.
	SimulatedExplanation = "The key to happiness lies in surrendering the ego and realizing that the Divine Light is within us all. " +
		"Just as water blends with water, let your soul blend with the Truth."

	// ExplanationApology replaces the explanation when generation fails.
	ExplanationApology = "Unable to generate explanation. (API Key may be invalid or quota exceeded)"
)

// session is one listening run. done is closed once its capture has been
// released and its pipeline goroutine has returned.
type session struct {
	gen    uint64
	kind   SourceKind
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller owns the view state machine and every resource tied to it: the
// active capture, its level loop and the current playback asset.
type Controller struct {
	client  API
	sources map[SourceKind]Source
	assets  *audio.AssetStore
	metrics *telemetry.Metrics

	apiKey           string
	listenWindow     time.Duration
	processingDelay  time.Duration
	simulatedDelay   time.Duration
	speechSampleRate int

	level atomic.Uint64 // math.Float64bits

	mu            sync.Mutex
	state         State
	gen           uint64
	active        *session
	explainCancel context.CancelFunc
	closed        bool

	listenersMu sync.RWMutex
	listeners   map[int]Listener
	nextID      int
}

// New creates a controller with a live and a simulated source.
func New(cfg *config.Config, client API, mic audio.Microphone, metrics *telemetry.Metrics) *Controller {
	live := NewLiveSource(mic, cfg.Audio, client)
	sim := NewSimulatedSource(cfg.Session.DemoShabads, nil)
	return NewWithSources(cfg, client, metrics, live, sim)
}

// NewWithSources creates a controller with explicit capture sources.
func NewWithSources(cfg *config.Config, client API, metrics *telemetry.Metrics, sources ...Source) *Controller {
	c := &Controller{
		client:           client,
		sources:          make(map[SourceKind]Source, len(sources)),
		assets:           audio.NewAssetStore(),
		metrics:          metrics,
		apiKey:           cfg.Generative.APIKey,
		listenWindow:     cfg.Session.ListenWindow,
		processingDelay:  cfg.Session.ProcessingDelay,
		simulatedDelay:   cfg.Session.SimulatedExplanationDelay,
		speechSampleRate: cfg.Generative.SampleRate,
		state:            State{View: ViewHome, Status: "Ready."},
		listeners:        make(map[int]Listener),
	}
	for _, src := range sources {
		c.sources[src.Kind()] = src
	}
	return c
}

// Assets exposes the playback asset store.
func (c *Controller) Assets() *audio.AssetStore {
	return c.assets
}

// Start moves home -> listening and begins capture from the chosen source.
// It returns once the session is running; Wait blocks until it settles.
func (c *Controller) Start(ctx context.Context, kind SourceKind) error {
	src, ok := c.sources[kind]
	if !ok {
		return fmt.Errorf("unknown source %q", kind)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("controller is closed")
	}
	if err := c.transitionLocked(EventStart); err != nil {
		c.mu.Unlock()
		return err
	}
	c.gen++
	c.releaseAssetLocked()
	c.state.Hymn = nil
	c.state.Explanation = ""
	c.state.Error = ""
	c.state.Source = kind

	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess := &session{gen: c.gen, kind: kind, cancel: cancel, done: make(chan struct{})}
	c.active = sess
	if kind == SourceSimulated {
		c.setStatusLocked("Simulation Mode: Generating fake audio levels...")
	} else {
		c.setStatusLocked("Requesting Mic Permissions...")
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	go c.run(sessCtx, sess, src)
	return nil
}

func (c *Controller) run(ctx context.Context, s *session, src Source) {
	defer close(s.done)

	capture, err := src.Open(ctx)
	if err != nil {
		c.fail(s.gen, err)
		return
	}
	defer func() {
		if err := capture.Close(); err != nil {
			slog.Debug("Capture release reported an error", "error", err)
		}
	}()

	stopLevels := c.startLevelLoop(capture)
	defer stopLevels()

	if s.kind == SourceLive {
		c.setStatus(s.gen, "Mic Active. Analyzing audio...")
	}

	timer := time.NewTimer(c.listenWindow)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		return
	}
	stopLevels()

	c.setStatus(s.gen, "Analyzing audio fingerprint...")
	id, err := capture.Identify(ctx, func(msg string) { c.setStatus(s.gen, msg) })
	if err != nil {
		c.fail(s.gen, err)
		return
	}

	if c.processingDelay > 0 {
		select {
		case <-time.After(c.processingDelay):
		case <-ctx.Done():
			return
		}
	}

	c.setStatus(s.gen, fmt.Sprintf("Fetching lyrics for Shabad %s...", id))
	doc, err := c.client.FetchHymn(ctx, id)
	if err != nil {
		c.fail(s.gen, err)
		return
	}
	c.complete(s.gen, doc)
}

// startLevelLoop publishes the capture level until the returned stop func
// is called. stop waits for the loop to exit and is idempotent.
func (c *Controller) startLevelLoop(capture Capture) func() {
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(levelInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				lvl := capture.Level()
				c.level.Store(math.Float64bits(lvl))
				c.notifyLevel(lvl)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			c.level.Store(0)
			c.notifyLevel(0)
		})
	}
}

func (c *Controller) complete(gen uint64, doc api.HymnDocument) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		slog.Debug("Discarding stale identification", "gen", gen)
		return
	}
	if err := c.transitionLocked(EventIdentified); err != nil {
		c.mu.Unlock()
		slog.Debug("Identification arrived in unexpected view", "error", err)
		return
	}
	c.active = nil
	c.state.Hymn = &doc
	c.state.Explanation = ""
	c.releaseAssetLocked()
	c.setStatusLocked("Data loaded successfully.")
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

func (c *Controller) fail(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		slog.Debug("Discarding stale failure", "gen", gen, "error", err)
		return
	}
	if terr := c.transitionLocked(EventFailed); terr != nil {
		c.mu.Unlock()
		slog.Debug("Failure arrived in unexpected view", "error", terr)
		return
	}
	c.active = nil
	c.state.Error = UserMessage(err)
	c.setStatusLocked("API Error: " + c.state.Error)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	slog.Error("Listening session failed", "error", err)
	c.notify(snap)
}

// Cancel aborts listening. The capture and level loop are released before
// the view changes.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	if _, err := Transition(c.state.View, EventCancel); err != nil {
		c.mu.Unlock()
		return err
	}
	sess := c.active
	c.active = nil
	c.gen++
	c.mu.Unlock()

	if sess != nil {
		sess.cancel()
		<-sess.done
	}

	c.mu.Lock()
	if c.state.View != ViewListening {
		c.mu.Unlock()
		return nil
	}
	_ = c.transitionLocked(EventCancel)
	c.state.Source = ""
	c.setStatusLocked("Ready.")
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	return nil
}

// Wait blocks until the active listening session settles.
func (c *Controller) Wait(ctx context.Context) (State, error) {
	c.mu.Lock()
	sess := c.active
	c.mu.Unlock()

	if sess != nil {
		select {
		case <-sess.done:
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		}
	}
	return c.Snapshot(), nil
}

// Back leaves the result view, discarding the hymn, the explanation and the
// playback asset.
func (c *Controller) Back() error {
	c.mu.Lock()
	if err := c.transitionLocked(EventBack); err != nil {
		c.mu.Unlock()
		return err
	}
	c.gen++
	if c.explainCancel != nil {
		c.explainCancel()
		c.explainCancel = nil
	}
	c.state.Hymn = nil
	c.state.Explanation = ""
	c.state.Generating = false
	c.state.Source = ""
	c.releaseAssetLocked()
	c.setStatusLocked("Ready.")
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	return nil
}

// Retry leaves the error view.
func (c *Controller) Retry() error {
	c.mu.Lock()
	if err := c.transitionLocked(EventRetry); err != nil {
		c.mu.Unlock()
		return err
	}
	c.state.Error = ""
	c.state.Source = ""
	c.setStatusLocked("Ready.")
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	return nil
}

// Explain generates an explanation and, when available, spoken audio for
// the current hymn. It blocks until both finish. A second call while an
// explanation exists or is being generated is a no-op.
func (c *Controller) Explain(ctx context.Context) error {
	c.mu.Lock()
	if c.state.View != ViewResult || c.state.Hymn == nil {
		view := c.state.View
		c.mu.Unlock()
		return fmt.Errorf("nothing to explain in %s view", view)
	}
	if c.state.Explanation != "" || c.state.Generating {
		c.mu.Unlock()
		return nil
	}
	gen := c.gen
	ctx, cancel := context.WithCancel(ctx)
	c.explainCancel = cancel
	c.state.Generating = true
	translation := c.state.Hymn.Translation()
	c.setStatusLocked("Contacting Gemini AI...")
	snap := c.snapshotLocked()
	c.mu.Unlock()
	defer cancel()

	c.notify(snap)

	// A cancelled explanation must not leave the view stuck generating.
	abort := func() error {
		c.update(gen, func(s *State) {
			s.Generating = false
			c.setStatusLocked("Ready.")
		})
		return ctx.Err()
	}

	if c.apiKey == "" {
		c.setStatus(gen, "API Key missing. Using Simulation.")
		select {
		case <-time.After(c.simulatedDelay):
		case <-ctx.Done():
			return abort()
		}
		c.finishExplain(gen, SimulatedExplanation, "Ready.")
		return nil
	}

	c.setStatus(gen, "Gemini: Generating explanation...")
	text, err := c.client.GenerateExplanation(ctx, translation, c.apiKey)
	if err != nil {
		if ctx.Err() != nil {
			return abort()
		}
		slog.Error("Explanation generation failed", "error", err)
		c.finishExplain(gen, ExplanationApology, "Error: "+err.Error())
		return nil
	}
	if !c.update(gen, func(s *State) { s.Explanation = text }) {
		return nil
	}

	c.setStatus(gen, "Gemini: Generating voice...")
	payload, ok, err := c.client.GenerateVoice(ctx, text, c.apiKey)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return abort()
		}
		slog.Warn("Voice generation failed, playback unavailable", "error", err)
		c.finishExplain(gen, text, "Error: "+err.Error())
		return nil
	case !ok:
		c.finishExplain(gen, text, "No voice returned.")
		return nil
	}

	pcm, err := audio.DecodeBase64Audio(payload)
	if err != nil {
		slog.Warn("Voice payload could not be decoded", "error", err)
		c.finishExplain(gen, text, "Error: "+err.Error())
		return nil
	}
	wav := audio.WrapPCM16AsWAV(pcm, c.speechSampleRate)

	c.update(gen, func(s *State) {
		c.releaseAssetLocked()
		asset := c.assets.Create(wav)
		s.PlaybackID = asset.ID
		s.PlaybackURL = asset.URL
		s.Generating = false
		c.setStatusLocked("Voice generated. Playing...")
	})
	return nil
}

func (c *Controller) finishExplain(gen uint64, text, status string) {
	c.update(gen, func(s *State) {
		s.Explanation = text
		s.Generating = false
		c.setStatusLocked(status)
	})
}

// Playback returns the current playback asset.
func (c *Controller) Playback(id string) (*audio.Asset, bool) {
	c.mu.Lock()
	current := c.state.PlaybackID
	c.mu.Unlock()
	if id == "" {
		id = current
	}
	if id == "" || id != current {
		return nil, false
	}
	return c.assets.Open(id)
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers a listener and returns its unsubscribe func.
func (c *Controller) Subscribe(l Listener) func() {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

// Close tears down every resource the controller holds. Safe to call more
// than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sess := c.active
	c.active = nil
	c.gen++
	if c.explainCancel != nil {
		c.explainCancel()
		c.explainCancel = nil
	}
	c.releaseAssetLocked()
	c.mu.Unlock()

	if sess != nil {
		sess.cancel()
		<-sess.done
	}
	slog.Debug("Controller closed", "live_assets", c.assets.Live())
	return nil
}

// update applies fn to the state if gen is still current and notifies
// listeners. It reports whether fn ran.
func (c *Controller) update(gen uint64, fn func(s *State)) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	fn(&c.state)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	return true
}

func (c *Controller) setStatus(gen uint64, msg string) {
	c.update(gen, func(*State) { c.setStatusLocked(msg) })
}

func (c *Controller) setStatusLocked(msg string) {
	c.state.Status = msg
	slog.Debug(msg)
}

func (c *Controller) transitionLocked(e Event) error {
	from := c.state.View
	to, err := Transition(from, e)
	if err != nil {
		return err
	}
	c.state.View = to
	c.metrics.ObserveTransition(string(from), string(to))
	slog.Debug("View transition", "from", from, "event", e, "to", to)
	return nil
}

func (c *Controller) releaseAssetLocked() {
	if c.state.PlaybackID != "" {
		c.assets.Release(c.state.PlaybackID)
	}
	c.state.PlaybackID = ""
	c.state.PlaybackURL = ""
}

func (c *Controller) snapshotLocked() State {
	s := c.state
	s.Level = math.Float64frombits(c.level.Load())
	return s
}

func (c *Controller) notify(s State) {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	for _, l := range c.listeners {
		l.StateChanged(s)
	}
}

func (c *Controller) notifyLevel(level float64) {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	for _, l := range c.listeners {
		l.LevelChanged(level)
	}
}

// UserMessage maps an error to the text shown in the error view. Shape
// errors are reduced to a generic message; their detail is logged where
// they are raised.
func UserMessage(err error) string {
	var (
		micErr   *audio.MicrophoneAccessError
		recErr   *audio.RecorderError
		notFound *api.NotFoundError
		denied   *api.AccessDeniedError
		shape    *api.ShapeError
		status   *api.HTTPStatusError
		network  *api.NetworkError
		noMatch  *NoMatchError
	)
	switch {
	case errors.As(err, &micErr):
		return fmt.Sprintf("Microphone access failed: %v. Try simulation mode.", micErr.Err)
	case errors.As(err, &recErr):
		return fmt.Sprintf("Recording failed: %v", recErr.Err)
	case errors.As(err, &noMatch):
		return noMatch.Error()
	case errors.As(err, &notFound):
		return fmt.Sprintf("Shabad %s was not found", notFound.ID)
	case errors.As(err, &denied):
		return fmt.Sprintf("%s denied access", denied.Service)
	case errors.As(err, &shape):
		return fmt.Sprintf("Received an invalid response from %s", shape.Service)
	case errors.As(err, &status):
		return fmt.Sprintf("HTTP error! status: %d", status.Code)
	case errors.As(err, &network):
		return fmt.Sprintf("Cannot reach %s", network.Service)
	default:
		return err.Error()
	}
}

var _ Service = (*Controller)(nil)
