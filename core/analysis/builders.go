package analysis

import (
	"sort"

	"github.com/trezcool/classguard/core/classroom"
)

const unknownApp = "Unknown"

// SummarizeClassroom builds the insight payload from the current roster and telemetry.
// Only the current app is known locally; the activity counters are left at zero.
func SummarizeClassroom(students map[string]classroom.Student, screens map[string]classroom.ScreenSample) map[string]StudentSummary {
	summaries := make(map[string]StudentSummary, len(students))
	for id, s := range students {
		app := unknownApp
		if sample, ok := screens[id]; ok && sample.ActiveApp != "" {
			app = sample.ActiveApp
		}
		summaries[id] = StudentSummary{Name: s.Username, CurrentApp: app}
	}
	return summaries
}

// CodeSubmissions lists the students that have a screenshot, ordered by id.
func CodeSubmissions(students map[string]classroom.Student, screens map[string]classroom.ScreenSample) []CodeSubmission {
	subs := make([]CodeSubmission, 0, len(students))
	for id, s := range students {
		sample, ok := screens[id]
		if !ok || !sample.HasImage() {
			continue
		}
		subs = append(subs, CodeSubmission{ID: id, Name: s.Username, Screenshot: sample.Image})
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs
}
