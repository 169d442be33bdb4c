// Package harness runs live checks against the configured remote services.
package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/audiolibrelab/shabadfinder/internal/api"
)

// Services is the subset of the API client the checks exercise.
type Services interface {
	Health(ctx context.Context) (map[string]any, error)
	FetchHymn(ctx context.Context, id string) (api.HymnDocument, error)
	GenerateExplanation(ctx context.Context, translation, key string) (string, error)
	GenerateVoice(ctx context.Context, text, key string) (string, bool, error)
}

// Result is the outcome of one check.
type Result struct {
	Name       string `json:"name" yaml:"name"`
	Passed     bool   `json:"passed" yaml:"passed"`
	Status     string `json:"status" yaml:"status"`
	DurationMs int64  `json:"duration" yaml:"duration"`
	Data       any    `json:"data" yaml:"data"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
}

type Summary struct {
	Total    int     `json:"total" yaml:"total"`
	Passed   int     `json:"passed" yaml:"passed"`
	Failed   int     `json:"failed" yaml:"failed"`
	PassRate float64 `json:"passRate" yaml:"passRate"`
}

type Report struct {
	Summary Summary  `json:"summary" yaml:"summary"`
	Results []Result `json:"results" yaml:"results"`
}

type SmokeReport struct {
	Passed  bool     `json:"passed" yaml:"passed"`
	Results []Result `json:"results" yaml:"results"`
}

// Check is one named live check.
type Check func(ctx context.Context) Result

// MultipleShabadIDs are fetched by the multi-hymn check.
var MultipleShabadIDs = []string{"1", "3589", "1365"}

const (
	responseTimeIterations = 3
	responseTimeThreshold  = 2 * time.Second
)

// Harness runs checks sequentially against one set of services.
type Harness struct {
	services Services
	apiKey   string
	// OnResult is called after each check completes.
	OnResult func(Result)
}

func New(services Services, apiKey string) *Harness {
	return &Harness{services: services, apiKey: apiKey}
}

// RunAll runs every check and summarizes them.
func (h *Harness) RunAll(ctx context.Context) Report {
	results := h.run(ctx,
		h.RecognitionHealth,
		h.ContentBasic,
		h.ContentMultiple,
		h.ContentResponseTime,
		h.ExplanationText,
		h.Voice,
	)

	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}
	total := len(results)
	rate := 0.0
	if total > 0 {
		rate = math.Round(float64(passed)/float64(total)*1000) / 10
	}
	slog.Info("API checks finished", "passed", passed, "total", total)

	return Report{
		Summary: Summary{Total: total, Passed: passed, Failed: total - passed, PassRate: rate},
		Results: results,
	}
}

// RunSmoke runs the essential checks only.
func (h *Harness) RunSmoke(ctx context.Context) SmokeReport {
	results := h.run(ctx, h.RecognitionHealth, h.ContentBasic)
	allPassed := true
	for _, r := range results {
		allPassed = allPassed && r.Passed
	}
	return SmokeReport{Passed: allPassed, Results: results}
}

func (h *Harness) run(ctx context.Context, checks ...Check) []Result {
	results := make([]Result, 0, len(checks))
	for _, check := range checks {
		r := check(ctx)
		slog.Debug("API check", "name", r.Name, "passed", r.Passed, "status", r.Status, "duration_ms", r.DurationMs)
		results = append(results, r)
		if h.OnResult != nil {
			h.OnResult(r)
		}
	}
	return results
}

// Export renders any report as indented JSON.
func Export(report any) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to export results: %w", err)
	}
	return string(data), nil
}

func timed(name string, fn func(r *Result)) Result {
	start := time.Now()
	r := Result{Name: name}
	fn(&r)
	if r.DurationMs == 0 {
		r.DurationMs = time.Since(start).Milliseconds()
	}
	return r
}

func (h *Harness) RecognitionHealth(ctx context.Context) Result {
	return timed("Recognition API - Health Check", func(r *Result) {
		health, err := h.services.Health(ctx)
		var statusErr *api.HTTPStatusError
		switch {
		case errors.As(err, &statusErr):
			r.Status = fmt.Sprintf("Health check failed with status %d", statusErr.Code)
			r.Error = fmt.Sprintf("HTTP %d", statusErr.Code)
		case err != nil:
			r.Status = "Cannot connect to Recognition API"
			r.Error = err.Error()
		default:
			r.Passed = true
			r.Status = "Recognition API is healthy"
			r.Data = health
		}
	})
}

func (h *Harness) ContentBasic(ctx context.Context) Result {
	return timed("GurbaniNow API - Basic Connectivity", func(r *Result) {
		const id = "1"
		doc, err := h.services.FetchHymn(ctx, id)
		if err != nil {
			r.Status = "Failed to connect to GurbaniNow API"
			r.Error = err.Error()
			return
		}
		r.Passed = true
		r.Status = "Successfully fetched Shabad data"
		r.Data = map[string]any{
			"shabadId":  id,
			"lineCount": len(doc.Lines),
			"raag":      orNA(doc.Info.Raag.String()),
			"writer":    orNA(doc.Info.Writer.String()),
			"pageNo":    doc.Info.PageNo,
		}
	})
}

type fetchOutcome struct {
	ID        string `json:"id" yaml:"id"`
	Success   bool   `json:"success" yaml:"success"`
	LineCount int    `json:"lineCount,omitempty" yaml:"lineCount,omitempty"`
	Raag      string `json:"raag,omitempty" yaml:"raag,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

func (h *Harness) ContentMultiple(ctx context.Context) Result {
	return timed("GurbaniNow API - Multiple Shabads", func(r *Result) {
		outcomes := make([]fetchOutcome, 0, len(MultipleShabadIDs))
		succeeded := 0
		for _, id := range MultipleShabadIDs {
			doc, err := h.services.FetchHymn(ctx, id)
			if err != nil {
				outcomes = append(outcomes, fetchOutcome{ID: id, Error: err.Error()})
				continue
			}
			succeeded++
			outcomes = append(outcomes, fetchOutcome{
				ID:        id,
				Success:   true,
				LineCount: len(doc.Lines),
				Raag:      orNA(doc.Info.Raag.String()),
			})
		}
		r.Passed = succeeded == len(MultipleShabadIDs)
		r.Status = fmt.Sprintf("%d/%d Shabads fetched successfully", succeeded, len(MultipleShabadIDs))
		r.Data = map[string]any{"results": outcomes}
	})
}

func (h *Harness) ContentResponseTime(ctx context.Context) Result {
	r := Result{Name: "GurbaniNow API - Response Time"}

	measurements := make([]int64, 0, responseTimeIterations)
	var total time.Duration
	for i := 0; i < responseTimeIterations; i++ {
		start := time.Now()
		if _, err := h.services.FetchHymn(ctx, "1"); err != nil {
			r.Status = "Failed to measure response time"
			r.Error = err.Error()
			return r
		}
		elapsed := time.Since(start)
		total += elapsed
		measurements = append(measurements, elapsed.Milliseconds())
	}

	minMs, maxMs := measurements[0], measurements[0]
	for _, m := range measurements {
		minMs = min(minMs, m)
		maxMs = max(maxMs, m)
	}
	avg := total / responseTimeIterations

	r.Passed = avg < responseTimeThreshold
	if r.Passed {
		r.Status = "Good response time"
	} else {
		r.Status = "Response time is slow"
	}
	r.DurationMs = total.Milliseconds()
	r.Data = map[string]any{
		"average":      fmt.Sprintf("%dms", avg.Milliseconds()),
		"min":          fmt.Sprintf("%dms", minMs),
		"max":          fmt.Sprintf("%dms", maxMs),
		"measurements": measurements,
	}
	return r
}

func (h *Harness) ExplanationText(ctx context.Context) Result {
	return timed("Gemini API - Text Generation", func(r *Result) {
		if h.apiKey == "" {
			r.Status = "Gemini API key not configured"
			r.Error = "GEMINI_API_KEY not set in environment"
			return
		}
		const input = "The Divine Light illuminates all beings equally."
		text, err := h.services.GenerateExplanation(ctx, input, h.apiKey)
		if err != nil {
			r.Status = "Failed to generate explanation"
			r.Error = err.Error()
			return
		}
		preview := []rune(text)
		if len(preview) > 100 {
			preview = preview[:100]
		}
		r.Passed = true
		r.Status = "Gemini API generated explanation successfully"
		r.Data = map[string]any{
			"inputLength":  len([]rune(input)),
			"outputLength": len([]rune(text)),
			"preview":      string(preview),
		}
	})
}

func (h *Harness) Voice(ctx context.Context) Result {
	return timed("Gemini API - Text-to-Speech", func(r *Result) {
		if h.apiKey == "" {
			r.Status = "Gemini API key not configured"
			r.Error = "GEMINI_API_KEY not set in environment"
			return
		}
		payload, ok, err := h.services.GenerateVoice(ctx, "This is a test of the text to speech system.", h.apiKey)
		switch {
		case err != nil:
			r.Status = "Failed to generate voice"
			r.Error = err.Error()
		case !ok:
			r.Status = "No audio data returned"
			r.Error = "Response contained no audio data"
		default:
			r.Passed = true
			r.Status = "Gemini TTS generated audio successfully"
			r.Data = map[string]any{
				"audioLength": len(payload),
				"format":      "PCM16 (base64)",
			}
		}
	})
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
