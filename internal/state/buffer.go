package state

import (
	"errors"
	"sort"
	"time"
)

// ErrOutOfOrder is returned when a sample older than the newest buffered
// sample is appended.
var ErrOutOfOrder = errors.New("sample older than buffer tail")

// Sample records a single probe outcome. Seq identifies the sample inside
// its buffer.
type Sample struct {
	Seq       uint64
	SentAt    time.Time
	RTT       time.Duration
	Lost      bool
	Committed bool
}

// RTTSample returns an answered sample.
func RTTSample(at time.Time, rtt time.Duration) Sample {
	return Sample{SentAt: at, RTT: rtt}
}

// LostSample returns an unanswered sample.
func LostSample(at time.Time) Sample {
	return Sample{SentAt: at, Lost: true}
}

// Buffer holds the samples of one node in send order. It is not safe for
// concurrent use; the owning NodeSet serializes access.
type Buffer struct {
	samples []Sample
	nextSeq uint64
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds s at the tail.
func (b *Buffer) Append(s Sample) error {
	if n := len(b.samples); n > 0 && s.SentAt.Before(b.samples[n-1].SentAt) {
		return ErrOutOfOrder
	}
	b.nextSeq++
	s.Seq = b.nextSeq
	b.samples = append(b.samples, s)
	return nil
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	return len(b.samples)
}

// Samples returns a copy of every buffered sample.
func (b *Buffer) Samples() []Sample {
	return append([]Sample(nil), b.samples...)
}

// Latest returns the newest sample.
func (b *Buffer) Latest() (Sample, bool) {
	if len(b.samples) == 0 {
		return Sample{}, false
	}
	return b.samples[len(b.samples)-1], true
}

// WindowCounts counts samples sent strictly after now-window, and how many
// of those were lost.
func (b *Buffer) WindowCounts(now time.Time, window time.Duration) (total, lost int) {
	cutoff := now.Add(-window)
	for i := len(b.samples) - 1; i >= 0; i-- {
		s := b.samples[i]
		if !s.SentAt.After(cutoff) {
			break
		}
		total++
		if s.Lost {
			lost++
		}
	}
	return total, lost
}

// Uncommitted returns copies of the samples not yet written to the store,
// oldest first.
func (b *Buffer) Uncommitted() []Sample {
	var out []Sample
	for _, s := range b.samples {
		if !s.Committed {
			out = append(out, s)
		}
	}
	return out
}

// MarkCommitted flags exactly the given samples as committed and returns
// how many flipped. Samples already committed or no longer buffered are
// ignored.
func (b *Buffer) MarkCommitted(samples []Sample) int {
	if len(samples) == 0 {
		return 0
	}
	seqs := make(map[uint64]struct{}, len(samples))
	for _, s := range samples {
		seqs[s.Seq] = struct{}{}
	}

	flipped := 0
	for i := range b.samples {
		if _, ok := seqs[b.samples[i].Seq]; ok && !b.samples[i].Committed {
			b.samples[i].Committed = true
			flipped++
		}
	}
	return flipped
}

// Evict drops committed samples sent before now-olderThan. Old samples that
// are still uncommitted stay in place and are counted as skipped.
func (b *Buffer) Evict(now time.Time, olderThan time.Duration) (removed, skipped int) {
	cutoff := now.Add(-olderThan)
	kept := b.samples[:0]
	for _, s := range b.samples {
		if s.SentAt.Before(cutoff) {
			if s.Committed {
				removed++
				continue
			}
			skipped++
		}
		kept = append(kept, s)
	}
	for i := len(kept); i < len(b.samples); i++ {
		b.samples[i] = Sample{}
	}
	b.samples = kept
	return removed, skipped
}

// LoadCommitted inserts samples read back from the store. Samples sent at
// or before the newest buffered sample are skipped, so loading the same
// range twice never duplicates history.
func (b *Buffer) LoadCommitted(samples []Sample) int {
	sorted := append([]Sample(nil), samples...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SentAt.Before(sorted[j].SentAt) })

	inserted := 0
	for _, s := range sorted {
		if latest, ok := b.Latest(); ok && !s.SentAt.After(latest.SentAt) {
			continue
		}
		s.Committed = true
		if err := b.Append(s); err != nil {
			continue
		}
		inserted++
	}
	return inserted
}
