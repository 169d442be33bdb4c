package service

import (
	"fmt"

	"github.com/audiolibrelab/shabadfinder/internal/api"
)

// View is the screen the application is on.
type View string

const (
	ViewHome      View = "home"
	ViewListening View = "listening"
	ViewResult    View = "result"
	ViewError     View = "error"
)

// Event drives a view change.
type Event string

const (
	EventStart      Event = "start"
	EventIdentified Event = "identified"
	EventFailed     Event = "failed"
	EventCancel     Event = "cancel"
	EventBack       Event = "back"
	EventRetry      Event = "retry"
)

var transitions = map[View]map[Event]View{
	ViewHome: {
		EventStart: ViewListening,
	},
	ViewListening: {
		EventIdentified: ViewResult,
		EventFailed:     ViewError,
		EventCancel:     ViewHome,
	},
	ViewResult: {
		EventBack: ViewHome,
	},
	ViewError: {
		EventRetry: ViewHome,
	},
}

// TransitionError is returned for an event the current view does not accept.
type TransitionError struct {
	From  View
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s from %s view", e.Event, e.From)
}

// Transition returns the view reached from v on e.
func Transition(v View, e Event) (View, error) {
	next, ok := transitions[v][e]
	if !ok {
		return v, &TransitionError{From: v, Event: e}
	}
	return next, nil
}

// State is a snapshot of the application.
type State struct {
	View        View              `json:"view"`
	Status      string            `json:"status"`
	Source      SourceKind        `json:"source,omitempty"`
	Level       float64           `json:"level"`
	Hymn        *api.HymnDocument `json:"hymn,omitempty"`
	Explanation string            `json:"explanation,omitempty"`
	Generating  bool              `json:"generating"`
	PlaybackID  string            `json:"playback_id,omitempty"`
	PlaybackURL string            `json:"playback_url,omitempty"`
	Error       string            `json:"error,omitempty"`
}
