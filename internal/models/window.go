package models

import "time"

// Window is a half-open [Start, End) range over a change field.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow orders the two instants so that Start never exceeds End.
func NewWindow(a, b time.Time) Window {
	if a.After(b) {
		a, b = b, a
	}
	return Window{Start: a, End: b}
}

func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

func (w Window) Empty() bool {
	return !w.End.After(w.Start)
}
