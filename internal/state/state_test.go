package state

import "testing"

func TestTransitionTable(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		name    string
		current State
		waiting bool
		ratio   float64
		want    State
	}{
		{"new healthy", StateNew, false, 0.0, StateOK},
		{"new failing", StateNew, false, 1.0, StateProblem},
		{"new in band", StateNew, false, 0.5, StateNew},
		{"ok in band", StateOK, false, 0.5, StateOK},
		{"ok at alarm ratio", StateOK, false, 0.9, StateOK},
		{"ok above alarm ratio", StateOK, false, 0.91, StateProblem},
		{"problem in band", StateProblem, false, 0.5, StateProblem},
		{"problem at resolve ratio", StateProblem, false, 0.3, StateProblem},
		{"problem below resolve ratio", StateProblem, false, 0.29, StateOK},
		{"waiting freezes ok", StateOK, true, 1.0, StateOK},
		{"waiting freezes problem", StateProblem, true, 0.0, StateProblem},
		{"waiting freezes new", StateNew, true, 1.0, StateNew},
	}

	for _, tc := range cases {
		if got := Transition(tc.current, tc.waiting, tc.ratio, th); got != tc.want {
			t.Fatalf("%s: Transition(%s, %v, %.2f) = %s, want %s", tc.name, tc.current, tc.waiting, tc.ratio, got, tc.want)
		}
	}
}

func TestAlarmEventFor(t *testing.T) {
	cases := []struct {
		from, to State
		want     AlarmEvent
	}{
		{StateNew, StateProblem, AlarmOpen},
		{StateOK, StateProblem, AlarmOpen},
		{StateProblem, StateOK, AlarmClose},
		{StateNew, StateOK, AlarmNone},
		{StateOK, StateOK, AlarmNone},
		{StateProblem, StateProblem, AlarmNone},
	}
	for _, tc := range cases {
		if got := AlarmEventFor(tc.from, tc.to); got != tc.want {
			t.Fatalf("AlarmEventFor(%s, %s) = %s, want %s", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestParseState(t *testing.T) {
	cases := map[string]State{
		"":        StateNew,
		"new":     StateNew,
		"ok":      StateOK,
		"OK":      StateOK,
		"problem": StateProblem,
		"alarm":   StateProblem,
		"waiting": StateWaiting,
	}
	for in, want := range cases {
		got, err := ParseState(in)
		if err != nil || got != want {
			t.Fatalf("ParseState(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
	if _, err := ParseState("melting"); err == nil {
		t.Fatalf("expected error for unknown state")
	}
}

func TestStateString(t *testing.T) {
	for state, name := range stateNames {
		got, err := ParseState(state.String())
		if err != nil || got != state {
			t.Fatalf("round trip of %s failed: %s, %v", name, got, err)
		}
	}
}
