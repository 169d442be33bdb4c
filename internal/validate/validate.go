// Package validate checks the shape of responses from the recognition,
// content and generative services before they reach the view layer.
//
// Every function is pure and returns an Outcome; none of them panic or
// return errors. Callers decide what an invalid outcome means.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxExplanationLength is the soft upper bound for generated explanations.
const MaxExplanationLength = 1000

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

// Outcome is the result of a single validation call.
type Outcome struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings,omitempty"`
	// Data echoes the validated input when Valid is true.
	Data any `json:"data,omitempty"`
}

func newOutcome(data any, errs, warnings []string) Outcome {
	if errs == nil {
		errs = []string{}
	}
	out := Outcome{Valid: len(errs) == 0, Errors: errs, Warnings: warnings}
	if out.Valid {
		out.Data = data
	}
	return out
}

// HymnDocument validates a content-service shabad response:
// {"shabad": [{"line": {...}}], "shabadinfo": {"raag", "pageNo", "writer"}}.
func HymnDocument(data any) Outcome {
	var errs []string

	if data == nil {
		return newOutcome(nil, []string{"Response data is null or undefined"}, nil)
	}
	doc, ok := data.(map[string]any)
	if !ok {
		return newOutcome(nil, []string{"Response data is not an object"}, nil)
	}

	lines, ok := doc["shabad"].([]any)
	switch {
	case !ok:
		errs = append(errs, "Missing or invalid 'shabad' array")
	case len(lines) == 0:
		errs = append(errs, "Shabad array is empty")
	default:
		for i, item := range lines {
			line, _ := lookup(item, "line").(map[string]any)
			if line == nil {
				errs = append(errs, fmt.Sprintf("Line %d: Missing 'line' object", i))
				continue
			}
			if !present(lookup(line, "gurmukhi", "Gurmukhi")) {
				errs = append(errs, fmt.Sprintf("Line %d: Missing Gurmukhi text", i))
			}
			if !present(lookup(line, "transliteration", "english")) {
				errs = append(errs, fmt.Sprintf("Line %d: Missing English transliteration", i))
			}
			if !present(lookup(line, "translation", "english", "default")) {
				errs = append(errs, fmt.Sprintf("Line %d: Missing English translation", i))
			}
		}
	}

	info, ok := doc["shabadinfo"].(map[string]any)
	if !ok {
		errs = append(errs, "Missing 'shabadinfo' object (metadata)")
	} else {
		if !present(info["raag"]) {
			errs = append(errs, "Missing raag in shabadinfo")
		}
		// page 0 is a real page number
		if page, isNum := info["pageNo"].(float64); !(isNum && page == 0) && !present(info["pageNo"]) {
			errs = append(errs, "Missing pageNo in shabadinfo")
		}
		if !present(info["writer"]) {
			errs = append(errs, "Missing writer in shabadinfo")
		}
	}

	return newOutcome(data, errs, nil)
}

// RecognitionResult validates {"success", "shabad_id", "confidence", "message"}.
func RecognitionResult(data any) Outcome {
	if data == nil {
		return newOutcome(nil, []string{"Response data is null or undefined"}, nil)
	}
	res, ok := data.(map[string]any)
	if !ok {
		return newOutcome(nil, []string{"Response data is not an object"}, nil)
	}

	var errs []string
	success, isBool := res["success"].(bool)
	if !isBool {
		errs = append(errs, "Missing or invalid 'success' field")
	}

	if success {
		if !present(res["shabad_id"]) {
			errs = append(errs, "Success is true but 'shabad_id' is missing")
		}
		if c, exists := res["confidence"]; exists && c != nil {
			f, isNum := c.(float64)
			if !isNum || f < 0 || f > 1 {
				errs = append(errs, "'confidence' must be a number between 0 and 1")
			}
		}
	} else if !present(res["message"]) {
		errs = append(errs, "Failed response should include 'message' field")
	}

	return newOutcome(data, errs, nil)
}

// ExplanationText validates generated explanation text. Texts over
// MaxExplanationLength characters are flagged but still valid.
func ExplanationText(text string) Outcome {
	var errs, warnings []string
	switch {
	case text == "":
		errs = append(errs, "Explanation must be a non-empty string")
	case strings.TrimSpace(text) == "":
		errs = append(errs, "Explanation is empty")
	case utf8.RuneCountInString(text) > MaxExplanationLength:
		warnings = append(warnings, fmt.Sprintf("Explanation is unusually long (>%d characters)", MaxExplanationLength))
	}
	return newOutcome(text, errs, warnings)
}

// VoicePayload validates a base64 encoded audio payload.
func VoicePayload(payload string) Outcome {
	var errs []string
	if payload == "" {
		errs = append(errs, "Audio data must be a non-empty string")
	} else if !base64Pattern.MatchString(payload) {
		errs = append(errs, "Audio data is not valid base64")
	}
	return newOutcome(payload, errs, nil)
}

// Format renders validation errors as a numbered developer-facing message.
func Format(apiName string, errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s validation failed:", apiName)
	for i, e := range errs {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, e)
	}
	return b.String()
}

// lookup walks nested JSON objects and returns nil on any miss.
func lookup(v any, path ...string) any {
	for _, key := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[key]
	}
	return v
}

// present reports whether a decoded JSON value counts as supplied:
// null, "", false and 0 do not.
func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	default:
		return true
	}
}
