// Package lane classifies a card's free-text status into the four coarse
// lanes the board groups by. Classification is derived at render time; it is
// never stored.
package lane

import "strings"

type Lane string

const (
	// LaneNone marks a status outside every defined lane. Cards with an
	// unknown status are omitted from all lane groupings, not defaulted.
	LaneNone    Lane = ""
	LaneNext    Lane = "Next"
	LaneDoing   Lane = "Doing"
	LaneBlocked Lane = "Blocked"
	LaneDone    Lane = "Done"
)

// laneByStatus is a single membership table so the lanes stay mutually
// exclusive by construction.
var laneByStatus = map[string]Lane{
	"todo":    LaneNext,
	"backlog": LaneNext,
	"next":    LaneNext,
	"open":    LaneNext,

	"doing":       LaneDoing,
	"in_progress": LaneDoing,
	"working":     LaneDoing,
	"running":     LaneDoing,

	"blocked": LaneBlocked,
	"paused":  LaneBlocked,
	"waiting": LaneBlocked,

	"done":      LaneDone,
	"completed": LaneDone,
	"closed":    LaneDone,
}

// Classify maps a free-text status to its lane, case-insensitively.
func Classify(status string) Lane {
	return laneByStatus[strings.ToLower(strings.TrimSpace(status))]
}
