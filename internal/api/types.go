package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RecognitionResult is the recognition service's answer for one clip.
type RecognitionResult struct {
	Success    bool     `json:"success"`
	ShabadID   ID       `json:"shabad_id,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	SongName   string   `json:"song_name,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// Matched reports whether the result names a hymn.
func (r RecognitionResult) Matched() bool {
	return r.Success && r.ShabadID != ""
}

// ConfidenceText renders the confidence for log lines.
func (r RecognitionResult) ConfidenceText() string {
	if r.Confidence == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*r.Confidence, 'f', 2, 64)
}

// ID is a hymn identifier. It decodes from a JSON string or number.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("shabad id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Label is a piece of metadata that is either a plain string or an object
// of script variants such as {"english": "Jap", "unicode": "ਜਪੁ"}.
type Label struct {
	English  string `json:"english,omitempty" yaml:"english,omitempty"`
	Gurmukhi string `json:"gurmukhi,omitempty" yaml:"gurmukhi,omitempty"`
}

func (l *Label) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		l.English = s
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("label must be a string or object: %w", err)
	}
	l.English = firstString(obj, "english", "English")
	l.Gurmukhi = firstString(obj, "unicode", "gurmukhi", "Gurmukhi")
	return nil
}

func (l Label) String() string {
	if l.English != "" {
		return l.English
	}
	return l.Gurmukhi
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Line is one verse of a hymn.
type Line struct {
	Gurmukhi        string `json:"gurmukhi" yaml:"gurmukhi"`
	Transliteration string `json:"transliteration" yaml:"transliteration"`
	Translation     string `json:"translation" yaml:"translation"`
}

// ShabadInfo is hymn metadata. PageNo 0 is a valid page.
type ShabadInfo struct {
	Raag   Label `json:"raag" yaml:"raag"`
	PageNo int   `json:"page_no" yaml:"page_no"`
	Writer Label `json:"writer" yaml:"writer"`
}

// HymnDocument is a validated content-service hymn.
type HymnDocument struct {
	ID    string          `json:"id" yaml:"id"`
	Lines []Line          `json:"lines" yaml:"lines"`
	Info  ShabadInfo      `json:"info" yaml:"info"`
	Raw   json.RawMessage `json:"-" yaml:"-"`
}

// Translation joins the English translations of every line.
func (d HymnDocument) Translation() string {
	parts := make([]string, 0, len(d.Lines))
	for _, l := range d.Lines {
		if t := strings.TrimSpace(l.Translation); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// wire shape of GET /shabad/{id}
type wireHymn struct {
	Shabad []struct {
		Line struct {
			Gurmukhi struct {
				Gurmukhi string `json:"Gurmukhi"`
			} `json:"gurmukhi"`
			Transliteration struct {
				English string `json:"english"`
			} `json:"transliteration"`
			Translation struct {
				English struct {
					Default string `json:"default"`
				} `json:"english"`
			} `json:"translation"`
		} `json:"line"`
	} `json:"shabad"`
	ShabadInfo map[string]json.RawMessage `json:"shabadinfo"`
}

// pageNumber decodes from a JSON integer, an integral float or a numeric string.
type pageNumber int

func (p *pageNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*p = 0
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		*p = pageNumber(n)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return fmt.Errorf("%s is not a page number", data)
	}
	*p = pageNumber(f)
	return nil
}

// decodeHymn maps a validated body onto a HymnDocument. Each value with an
// unusable type is reported by field name.
func decodeHymn(id string, raw []byte) (HymnDocument, []string) {
	var w wireHymn
	if err := json.Unmarshal(raw, &w); err != nil {
		return HymnDocument{}, []string{fmt.Sprintf("Invalid field type: %v", err)}
	}

	var (
		errs   []string
		raag   Label
		page   pageNumber
		writer Label
	)
	field := func(key string, v any) {
		value, ok := w.ShabadInfo[key]
		if !ok {
			return
		}
		if err := json.Unmarshal(value, v); err != nil {
			errs = append(errs, fmt.Sprintf("Invalid %s in shabadinfo: %v", key, err))
		}
	}
	field("raag", &raag)
	field("pageNo", &page)
	field("writer", &writer)
	if len(errs) > 0 {
		return HymnDocument{}, errs
	}

	doc := HymnDocument{
		ID:  id,
		Raw: raw,
		Info: ShabadInfo{
			Raag:   raag,
			PageNo: int(page),
			Writer: writer,
		},
	}
	for _, item := range w.Shabad {
		doc.Lines = append(doc.Lines, Line{
			Gurmukhi:        item.Line.Gurmukhi.Gurmukhi,
			Transliteration: item.Line.Transliteration.English,
			Translation:     item.Line.Translation.English.Default,
		})
	}
	return doc, nil
}
