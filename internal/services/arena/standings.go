package arena

import (
	"sort"

	"github.com/mcoot/typerace/internal/model"
)

// Standing is a racer's place in the results
type Standing struct {
	Position int
	model.ParticipantView
}

// Standings ranks racers: finishers first by finish time, then everyone
// else by progress and then WPM. Lane breaks any remaining tie.
func Standings(participants []model.ParticipantView) []Standing {
	ranked := make([]model.ParticipantView, len(participants))
	copy(ranked, participants)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		switch {
		case a.IsFinished() && b.IsFinished():
			if !a.FinishedAt.Equal(*b.FinishedAt) {
				return a.FinishedAt.Before(*b.FinishedAt)
			}
		case a.IsFinished() != b.IsFinished():
			return a.IsFinished()
		}
		if a.Progress != b.Progress {
			return a.Progress > b.Progress
		}
		if a.WPM != b.WPM {
			return a.WPM > b.WPM
		}
		return a.LaneNumber < b.LaneNumber
	})

	standings := make([]Standing, len(ranked))
	for i, p := range ranked {
		standings[i] = Standing{Position: i + 1, ParticipantView: p}
	}
	return standings
}
