package api

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/audiolibrelab/shabadfinder/internal/audio"
	"github.com/audiolibrelab/shabadfinder/internal/validate"
)

// Identify uploads a clip to {recognition}/identify as multipart field "file".
func (c *Client) Identify(ctx context.Context, clip audio.Clip) (RecognitionResult, error) {
	var result RecognitionResult
	err := c.observe(ctx, serviceRecognition, "identify", func(ctx context.Context) error {
		body, contentType, err := multipartClip(clip)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.recognitionURL+"/identify", body)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)

		raw, err := c.send(req, serviceRecognition)
		if err != nil {
			return err
		}

		var decoded any
		if err := decodeJSON(serviceRecognition, raw, &decoded); err != nil {
			return err
		}
		if out := validate.RecognitionResult(decoded); !out.Valid {
			shapeErr := &ShapeError{Service: serviceRecognition, Errors: out.Errors}
			logShape(shapeErr)
			return shapeErr
		}
		return decodeJSON(serviceRecognition, raw, &result)
	})
	if err != nil {
		return RecognitionResult{}, err
	}
	return result, nil
}

func multipartClip(clip audio.Clip) (*bytes.Buffer, string, error) {
	filename := clip.Filename
	if filename == "" {
		filename = "recording.wav"
	}
	contentType := clip.ContentType
	if contentType == "" {
		contentType = "audio/wav"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("creating form part: %w", err)
	}
	if _, err := part.Write(clip.Data); err != nil {
		return nil, "", fmt.Errorf("writing form part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// Health returns the recognition service health document.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var health map[string]any
	err := c.observe(ctx, serviceRecognition, "health", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.recognitionURL+"/health", nil)
		if err != nil {
			return err
		}
		raw, err := c.send(req, serviceRecognition)
		if err != nil {
			return err
		}
		return decodeJSON(serviceRecognition, raw, &health)
	})
	return health, err
}
