// Package scheduler holds the pure conflict detection rules used before a
// meeting is confirmed.
package scheduler

import (
	"sort"

	"github.com/example/contract-scheduler/internal/interval"
)

// Conflict reports one busy interval that overlaps the candidate slot for one
// participant. A participant with several overlapping intervals produces
// several conflicts; external and internal intervals are both reported with
// no precedence.
type Conflict struct {
	ParticipantID string
	Interval      interval.BusyInterval
}

// Report is the outcome of a conflict check. An empty report means the slot
// is free for every participant.
type Report struct {
	Conflicts []Conflict
}

// Empty reports whether no conflict was found.
func (r Report) Empty() bool {
	return len(r.Conflicts) == 0
}

// Participants returns the distinct participants involved in the report, in
// sorted order.
func (r Report) Participants() []string {
	seen := make(map[string]struct{}, len(r.Conflicts))
	out := make([]string, 0, len(r.Conflicts))
	for _, c := range r.Conflicts {
		if _, ok := seen[c.ParticipantID]; ok {
			continue
		}
		seen[c.ParticipantID] = struct{}{}
		out = append(out, c.ParticipantID)
	}
	sort.Strings(out)
	return out
}

// CheckConflicts evaluates the candidate slot against each participant's busy
// timeline using the half-open overlap rule. Conflicts are ordered by
// participant, then by interval start, so reports are deterministic.
func CheckConflicts(candidate interval.Slot, timelines map[string][]interval.BusyInterval) Report {
	participants := make([]string, 0, len(timelines))
	for id := range timelines {
		participants = append(participants, id)
	}
	sort.Strings(participants)

	var conflicts []Conflict
	for _, id := range participants {
		timeline := append([]interval.BusyInterval(nil), timelines[id]...)
		interval.SortByStart(timeline)
		for _, busy := range timeline {
			if candidate.Overlaps(busy.Slot) {
				conflicts = append(conflicts, Conflict{ParticipantID: id, Interval: busy})
			}
		}
	}
	return Report{Conflicts: conflicts}
}
