package state

import (
	"fmt"
	"strings"
	"time"
)

// State represents node health. Waiting is an overlay reported through
// Constitution and is never stored as a node's underlying State.
type State int

const (
	StateNew State = iota
	StateWaiting
	StateOK
	StateProblem
)

var stateNames = map[State]string{
	StateNew:     "NEW",
	StateWaiting: "WAITING",
	StateOK:      "OK",
	StateProblem: "PROBLEM",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState parses a persisted state name. "alarm" is accepted as an
// older spelling of PROBLEM.
func ParseState(value string) (State, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "", "NEW":
		return StateNew, nil
	case "WAITING":
		return StateWaiting, nil
	case "OK":
		return StateOK, nil
	case "PROBLEM", "ALARM":
		return StateProblem, nil
	default:
		return StateNew, fmt.Errorf("unknown state %q", value)
	}
}

// AlarmEvent is the side effect a transition asks for.
type AlarmEvent int

const (
	AlarmNone AlarmEvent = iota
	AlarmOpen
	AlarmClose
)

func (e AlarmEvent) String() string {
	switch e {
	case AlarmOpen:
		return "opened"
	case AlarmClose:
		return "resolved"
	default:
		return "none"
	}
}

// Thresholds configures the waiting gate and the hysteresis band.
type Thresholds struct {
	// ShortWindow must contain at least ShortMin samples.
	ShortWindow time.Duration
	ShortMin    int
	// LongWindow must contain at least LongMin samples.
	LongWindow time.Duration
	LongMin    int
	// LossWindow is the window the loss ratio is computed over.
	LossWindow time.Duration
	// Loss ratios strictly above AlarmRatio force PROBLEM, strictly below
	// ResolveRatio force OK.
	AlarmRatio   float64
	ResolveRatio float64
}

// DefaultThresholds returns one sample per minute, five per five minutes,
// a 60 minute loss window and a 30%..90% hysteresis band.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ShortWindow:  time.Minute,
		ShortMin:     1,
		LongWindow:   5 * time.Minute,
		LongMin:      5,
		LossWindow:   60 * time.Minute,
		AlarmRatio:   0.9,
		ResolveRatio: 0.3,
	}
}

type lossBand int

const (
	bandHealthy lossBand = iota
	bandHysteresis
	bandFailing
)

func (th Thresholds) band(lossRatio float64) lossBand {
	switch {
	case lossRatio < th.ResolveRatio:
		return bandHealthy
	case lossRatio > th.AlarmRatio:
		return bandFailing
	default:
		return bandHysteresis
	}
}

var transitions = map[lossBand]map[State]State{
	bandHealthy: {
		StateNew:     StateOK,
		StateOK:      StateOK,
		StateProblem: StateOK,
	},
	bandHysteresis: {
		StateNew:     StateNew,
		StateOK:      StateOK,
		StateProblem: StateProblem,
	},
	bandFailing: {
		StateNew:     StateProblem,
		StateOK:      StateProblem,
		StateProblem: StateProblem,
	},
}

var alarmEvents = map[[2]State]AlarmEvent{
	{StateNew, StateProblem}: AlarmOpen,
	{StateOK, StateProblem}:  AlarmOpen,
	{StateProblem, StateOK}:  AlarmClose,
}

// Transition returns the next state for a node currently in current.
// A waiting node never moves.
func Transition(current State, waiting bool, lossRatio float64, th Thresholds) State {
	if waiting {
		return current
	}
	next, ok := transitions[th.band(lossRatio)][current]
	if !ok {
		return current
	}
	return next
}

// AlarmEventFor returns the alarm side effect of moving from one state to
// another.
func AlarmEventFor(from, to State) AlarmEvent {
	return alarmEvents[[2]State{from, to}]
}
