// Package interval provides the time range value types shared by the
// availability and conflict detection layers.
package interval

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidSlot is returned when a slot's start does not precede its end.
var ErrInvalidSlot = errors.New("interval: start must be before end")

// Slot is an immutable meeting time range. The range is half-open: Start is
// included, End is not.
type Slot struct {
	Start    time.Time
	End      time.Time
	Location string
}

// NewSlot builds a slot after validating the start < end invariant. The
// location is an IANA timezone name kept for presentation; comparisons are
// instant based.
func NewSlot(start, end time.Time, location string) (Slot, error) {
	if !start.Before(end) {
		return Slot{}, ErrInvalidSlot
	}
	return Slot{Start: start.UTC(), End: end.UTC(), Location: location}, nil
}

// Valid reports whether the slot satisfies the start < end invariant.
func (s Slot) Valid() bool {
	return s.Start.Before(s.End)
}

// Equal reports whether two slots cover the same instant range.
func (s Slot) Equal(other Slot) bool {
	return s.Start.Equal(other.Start) && s.End.Equal(other.End)
}

// Duration returns the slot length.
func (s Slot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

func (s Slot) String() string {
	return fmt.Sprintf("[%s, %s)", s.Start.UTC().Format(time.RFC3339), s.End.UTC().Format(time.RFC3339))
}

// Overlaps applies the half-open overlap rule: two ranges conflict when
// start_a < end_b and start_b < end_a. Touching endpoints do not overlap.
func (s Slot) Overlaps(other Slot) bool {
	return s.Start.Before(other.End) && other.Start.Before(s.End)
}

// Window bounds an availability query.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether the slot intersects the window.
func (w Window) Contains(s Slot) bool {
	return s.Start.Before(w.To) && w.From.Before(s.End)
}

// Source tags where a busy interval came from.
type Source string

const (
	// SourceExternal marks intervals read from the external calendar.
	SourceExternal Source = "external-calendar"
	// SourceInternal marks intervals derived from internal meetings.
	SourceInternal Source = "internal-meeting"
)

// BusyInterval is a slot during which a participant is unavailable, together
// with its origin. MeetingID is set for internal intervals, EventID for
// external ones.
type BusyInterval struct {
	Slot      Slot
	Source    Source
	MeetingID string
	EventID   string
	Summary   string
}

// SortByStart orders intervals by start time, then end time, in place.
func SortByStart(intervals []BusyInterval) {
	sort.SliceStable(intervals, func(i, j int) bool {
		if intervals[i].Slot.Start.Equal(intervals[j].Slot.Start) {
			return intervals[i].Slot.End.Before(intervals[j].Slot.End)
		}
		return intervals[i].Slot.Start.Before(intervals[j].Slot.Start)
	})
}

// Merge coalesces overlapping and adjacent intervals that share a source into
// a single interval, returning an ordered timeline. Intervals from different
// sources are never merged so conflict reports keep their origin. Identifier
// and summary fields survive only when a run consists of a single interval.
func Merge(intervals []BusyInterval) []BusyInterval {
	if len(intervals) <= 1 {
		out := make([]BusyInterval, len(intervals))
		copy(out, intervals)
		SortByStart(out)
		return out
	}

	bySource := make(map[Source][]BusyInterval)
	for _, iv := range intervals {
		bySource[iv.Source] = append(bySource[iv.Source], iv)
	}

	merged := make([]BusyInterval, 0, len(intervals))
	for _, group := range bySource {
		merged = append(merged, mergeRun(group)...)
	}
	SortByStart(merged)
	return merged
}

func mergeRun(intervals []BusyInterval) []BusyInterval {
	SortByStart(intervals)

	out := make([]BusyInterval, 0, len(intervals))
	current := intervals[0]
	for _, next := range intervals[1:] {
		// Adjacent counts as mergeable: [10,11) + [11,12) becomes [10,12).
		if !next.Slot.Start.After(current.Slot.End) {
			if next.Slot.End.After(current.Slot.End) {
				current.Slot.End = next.Slot.End
			}
			if next.MeetingID != current.MeetingID {
				current.MeetingID = ""
			}
			if next.EventID != current.EventID {
				current.EventID = ""
			}
			if next.Summary != current.Summary {
				current.Summary = ""
			}
			continue
		}
		out = append(out, current)
		current = next
	}
	return append(out, current)
}
