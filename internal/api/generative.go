package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/audiolibrelab/shabadfinder/internal/validate"
)

// DefaultExplanation is used when the service answers without a candidate.
const DefaultExplanation = "This Shabad speaks of finding peace within."

const promptTranslationLimit = 500

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (r generateResponse) firstPart() (part, bool) {
	if len(r.Candidates) == 0 || len(r.Candidates[0].Content.Parts) == 0 {
		return part{}, false
	}
	return r.Candidates[0].Content.Parts[0], true
}

// ExplanationPrompt builds the prompt for a hymn translation.
func ExplanationPrompt(translation string) string {
	runes := []rune(translation)
	if len(runes) > promptTranslationLimit {
		runes = runes[:promptTranslationLimit]
	}
	return fmt.Sprintf("Explain the spiritual meaning of this Gurbani shabad concisely in 2 sentences. "+
		"Focus on the core message. Shabad translation: \"%s...\"", string(runes))
}

// GenerateExplanation asks the text model for a short explanation.
func (c *Client) GenerateExplanation(ctx context.Context, translation, key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", &MissingCredentialError{Service: serviceGenerative}
	}

	var text string
	err := c.observe(ctx, serviceGenerative, "generate_explanation", func(ctx context.Context) error {
		payload := generateRequest{Contents: []content{{Parts: []part{{Text: ExplanationPrompt(translation)}}}}}

		var resp generateResponse
		if err := c.generate(ctx, c.textModel, key, payload, &resp); err != nil {
			return err
		}

		first, _ := resp.firstPart()
		out := validate.ExplanationText(first.Text)
		if !out.Valid {
			slog.Debug("No explanation candidate, using default", "errors", out.Errors)
			text = DefaultExplanation
			return nil
		}
		for _, w := range out.Warnings {
			slog.Warn(w)
		}
		text = first.Text
		return nil
	})
	return text, err
}

// GenerateVoice synthesizes speech for text. It returns the base64 PCM16
// payload and true, or "" and false when the response carries no audio.
func (c *Client) GenerateVoice(ctx context.Context, text, key string) (string, bool, error) {
	if strings.TrimSpace(key) == "" {
		return "", false, &MissingCredentialError{Service: serviceGenerative}
	}

	var payload string
	err := c.observe(ctx, serviceGenerative, "generate_voice", func(ctx context.Context) error {
		speech := &speechConfig{}
		speech.VoiceConfig.PrebuiltVoiceConfig.VoiceName = c.voiceName
		req := generateRequest{
			Contents: []content{{Parts: []part{{Text: text}}}},
			GenerationConfig: &generationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig:       speech,
			},
		}

		var resp generateResponse
		if err := c.generate(ctx, c.voiceModel, key, req, &resp); err != nil {
			return err
		}

		first, _ := resp.firstPart()
		if first.InlineData == nil || first.InlineData.Data == "" {
			return nil
		}
		if out := validate.VoicePayload(first.InlineData.Data); !out.Valid {
			shapeErr := &ShapeError{Service: serviceGenerative, Errors: out.Errors}
			logShape(shapeErr)
			return shapeErr
		}
		payload = first.InlineData.Data
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return payload, payload != "", nil
}

func (c *Client) generate(ctx context.Context, model, key string, payload generateRequest, out *generateResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.generativeURL, url.PathEscape(model), url.QueryEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.send(req, serviceGenerative)
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.Code == http.StatusForbidden {
		return &AccessDeniedError{Service: serviceGenerative}
	}
	if err != nil {
		return err
	}
	return decodeJSON(serviceGenerative, raw, out)
}
