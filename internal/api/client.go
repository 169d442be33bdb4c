// Package api talks to the three remote services: the recognition server,
// the GurbaniNow content API and the Gemini generative API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/audiolibrelab/shabadfinder/internal/config"
	"github.com/audiolibrelab/shabadfinder/internal/telemetry"
)

const (
	serviceRecognition = "Recognition API"
	serviceContent     = "GurbaniNow API"
	serviceGenerative  = "Gemini API"
)

// maxBodySize caps response bodies; TTS payloads are the largest.
const maxBodySize = 32 << 20

// Client talks to the recognition, content and generative services. It is
// safe for concurrent use.
type Client struct {
	http *http.Client

	contentURL     string
	recognitionURL string
	generativeURL  string

	textModel  string
	voiceModel string
	voiceName  string

	metrics *telemetry.Metrics
}

// New builds a client from configuration. metrics may be nil.
func New(cfg *config.Config, metrics *telemetry.Metrics) *Client {
	return &Client{
		http:           &http.Client{Timeout: cfg.HTTP.Timeout},
		contentURL:     cfg.Content.BaseURL,
		recognitionURL: cfg.Recognition.BaseURL,
		generativeURL:  cfg.Generative.BaseURL,
		textModel:      cfg.Generative.TextModel,
		voiceModel:     cfg.Generative.VoiceModel,
		voiceName:      cfg.Generative.VoiceName,
		metrics:        metrics,
	}
}

// observe wraps one remote call with a span, a metric sample and a debug log.
func (c *Client) observe(ctx context.Context, service, operation string, call func(ctx context.Context) error) error {
	ctx, span := telemetry.Tracer().Start(ctx, operation)
	span.SetAttributes(attribute.String("service", service))
	defer span.End()

	start := time.Now()
	err := call(ctx)
	elapsed := time.Since(start)

	outcome := Outcome(err)
	c.metrics.ObserveRequest(service, operation, outcome, elapsed)
	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		slog.Debug("API call failed", "service", service, "operation", operation, "outcome", outcome, "elapsed", elapsed, "error", err)
	} else {
		slog.Debug("API call completed", "service", service, "operation", operation, "elapsed", elapsed)
	}
	return err
}

// send executes req and returns the body of a 2xx response. Non-2xx
// statuses are returned as *HTTPStatusError for the caller to refine.
func (c *Client) send(req *http.Request, service string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		// drop the request URL, it may carry an API key
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
		}
		return nil, &NetworkError{Service: service, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &NetworkError{Service: service, Err: fmt.Errorf("reading response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, &HTTPStatusError{Service: service, Code: resp.StatusCode}
	}
	return body, nil
}

// decodeJSON parses a 2xx body. A body that is not JSON is a shape error.
func decodeJSON(service string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &ShapeError{Service: service, Errors: []string{fmt.Sprintf("Response is not valid JSON: %v", err)}}
	}
	return nil
}

// logShape logs the full developer message for a shape error.
func logShape(err *ShapeError) {
	slog.Error(err.Error())
}
