// Package timerange splits a change history into monthly import windows.
package timerange

import (
	"iter"
	"slices"
	"time"

	"pharmsync/internal/models"
)

// Boundaries yields start, every monthly boundary strictly between start and
// end, then end. Boundaries keep the day of month and hour of start with
// minutes and seconds zeroed; months lacking that day are skipped. When
// start equals end the sequence is the single instant start. When start is
// after end no interior boundary exists and the sequence is start, end.
func Boundaries(start, end time.Time) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		if !yield(start) {
			return
		}
		if start.Equal(end) {
			return
		}
		for t := range between(start, end) {
			if !yield(t) {
				return
			}
		}
		yield(end)
	}
}

func between(start, end time.Time) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		if !start.Before(end) {
			return
		}
		loc := start.Location()
		year, month, day := start.Date()
		hour := start.Hour()
		for k := 0; ; k++ {
			first := time.Date(year, month+time.Month(k), 1, 0, 0, 0, 0, loc)
			if !first.Before(end) {
				return
			}
			t := time.Date(year, month+time.Month(k), day, hour, 0, 0, 0, loc)
			if t.Day() != day {
				continue
			}
			if !t.After(start) {
				continue
			}
			if !t.Before(end) {
				return
			}
			if !yield(t) {
				return
			}
		}
	}
}

// Collect returns the boundary sequence, newest first when inverse is set.
func Collect(start, end time.Time, inverse bool) []time.Time {
	bounds := slices.Collect(Boundaries(start, end))
	if inverse {
		slices.Reverse(bounds)
	}
	return bounds
}

// Windows pairs consecutive boundaries in walk order. Degenerate pairs are
// dropped and every window is ordered start <= end, so a reversed walk still
// yields valid ranges.
func Windows(bounds []time.Time) []models.Window {
	if len(bounds) < 2 {
		return nil
	}
	windows := make([]models.Window, 0, len(bounds)-1)
	prev := bounds[0]
	for _, curr := range bounds[1:] {
		if !prev.Equal(curr) {
			windows = append(windows, models.NewWindow(prev, curr))
		}
		prev = curr
	}
	return windows
}
