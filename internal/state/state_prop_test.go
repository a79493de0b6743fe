//go:build property

package state

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func buildBuffer(pattern []bool, step time.Duration) *Buffer {
	b := NewBuffer()
	for i, lost := range pattern {
		at := base.Add(time.Duration(i) * step)
		s := RTTSample(at, time.Millisecond)
		if lost {
			s = LostSample(at)
		}
		_ = b.Append(s)
	}
	return b
}

func TestTransitionProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	props := gopter.NewProperties(params)
	th := DefaultThresholds()
	states := gen.OneConstOf(StateNew, StateOK, StateProblem)

	props.Property("waiting never changes state", prop.ForAll(
		func(current State, ratio float64) bool {
			return Transition(current, true, ratio, th) == current
		},
		states, gen.Float64Range(0, 1),
	))

	props.Property("problem is only entered above the alarm ratio", prop.ForAll(
		func(current State, ratio float64) bool {
			next := Transition(current, false, ratio, th)
			if current != StateProblem && next == StateProblem {
				return ratio > th.AlarmRatio
			}
			return true
		},
		states, gen.Float64Range(0, 1),
	))

	props.Property("ok is only entered below the resolve ratio", prop.ForAll(
		func(current State, ratio float64) bool {
			next := Transition(current, false, ratio, th)
			if current != StateOK && next == StateOK {
				return ratio < th.ResolveRatio
			}
			return true
		},
		states, gen.Float64Range(0, 1),
	))

	props.TestingRun(t)
}

func TestBufferProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	props := gopter.NewProperties(params)

	props.Property("evaluation is deterministic", prop.ForAll(
		func(pattern []bool) bool {
			now := base.Add(time.Duration(len(pattern)) * 10 * time.Second)
			first := NewNode(NodeInfo{ID: "a"})
			second := NewNode(NodeInfo{ID: "a"})
			first.buffer = buildBuffer(pattern, 10*time.Second)
			second.buffer = buildBuffer(pattern, 10*time.Second)
			return first.Evaluate(now, DefaultThresholds()) == second.Evaluate(now, DefaultThresholds())
		},
		gen.SliceOf(gen.Bool()),
	))

	props.Property("evict never drops uncommitted samples", prop.ForAll(
		func(pattern []bool, commitEvery int) bool {
			b := buildBuffer(pattern, time.Minute)
			var toCommit []Sample
			for i, s := range b.Uncommitted() {
				if i%commitEvery == 0 {
					toCommit = append(toCommit, s)
				}
			}
			b.MarkCommitted(toCommit)
			uncommitted := len(b.Uncommitted())

			b.Evict(base.Add(time.Duration(len(pattern))*time.Minute), 10*time.Minute)
			return len(b.Uncommitted()) == uncommitted
		},
		gen.SliceOf(gen.Bool()), gen.IntRange(1, 5),
	))

	props.Property("stored samples reload with the same window counts", prop.ForAll(
		func(pattern []bool) bool {
			original := buildBuffer(pattern, 10*time.Second)
			restored := NewBuffer()
			restored.LoadCommitted(original.Samples())
			restored.LoadCommitted(original.Samples())

			now := base.Add(time.Duration(len(pattern)) * 10 * time.Second)
			for _, window := range []time.Duration{time.Minute, 5 * time.Minute, time.Hour} {
				t1, l1 := original.WindowCounts(now, window)
				t2, l2 := restored.WindowCounts(now, window)
				if t1 != t2 || l1 != l2 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
	))

	props.TestingRun(t)
}
