// Package status renders a plain-text report of node health.
package status

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/doridoridoriand/keepitup/internal/state"
)

// DefaultSamples is how many recent samples a node block lists.
const DefaultSamples = 10

// Options controls the report layout.
type Options struct {
	// Samples limits the listed samples per node; 0 uses DefaultSamples.
	Samples int
	// Scale is the milliseconds per bar character; 0 uses 10.
	Scale int
	// Width of the RTT bar; 0 disables it.
	BarWidth int
}

// Summary is the RTT statistics of the answered samples of a node.
type Summary struct {
	Count  int
	Lost   int
	Mean   time.Duration
	Median time.Duration
	P95    time.Duration
}

// Summarize computes RTT statistics over samples. Lost samples are counted
// but do not contribute to the RTT figures.
func Summarize(samples []state.Sample) Summary {
	var sum Summary
	data := make(stats.Float64Data, 0, len(samples))
	for _, s := range samples {
		sum.Count++
		if s.Lost {
			sum.Lost++
			continue
		}
		data = append(data, float64(s.RTT))
	}
	if len(data) == 0 {
		return sum
	}
	if mean, err := data.Mean(); err == nil {
		sum.Mean = time.Duration(math.Round(mean))
	}
	if median, err := data.Median(); err == nil {
		sum.Median = time.Duration(math.Round(median))
	}
	if p95, err := data.Percentile(95); err == nil {
		sum.P95 = time.Duration(math.Round(p95))
	}
	return sum
}

// Render writes one block per node to w.
func Render(w io.Writer, nodes []state.NodeStatus, now time.Time, opts Options) error {
	if opts.Samples <= 0 {
		opts.Samples = DefaultSamples
	}
	if len(nodes) == 0 {
		_, err := fmt.Fprintln(w, "no nodes")
		return err
	}

	var b strings.Builder
	for i, node := range nodes {
		if i > 0 {
			b.WriteString("\n")
		}
		writeNode(&b, node, now, opts)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeNode(b *strings.Builder, node state.NodeStatus, now time.Time, opts Options) {
	name := node.Name
	if name == "" {
		name = node.ID
	}
	fmt.Fprintf(b, "%s\n", name)
	fmt.Fprintf(b, "  id:           %s\n", node.ID)
	fmt.Fprintf(b, "  address:      %s\n", orDash(node.Address))
	fmt.Fprintf(b, "  constitution: %s\n", node.Constitution)
	fmt.Fprintf(b, "  loss:         %.1f%% (%d/%d)\n", node.LossRatio*100, node.Lost, node.Total)
	if !node.LastSeenAt.IsZero() {
		fmt.Fprintf(b, "  last seen:    %s ago\n", formatDuration(now.Sub(node.LastSeenAt)))
	}

	summary := Summarize(node.Samples)
	if summary.Count > summary.Lost {
		fmt.Fprintf(b, "  rtt:          mean %s  median %s  p95 %s\n",
			formatRTT(summary.Mean), formatRTT(summary.Median), formatRTT(summary.P95))
	}

	recent := Recent(node.Samples, opts.Samples)
	if len(recent) == 0 {
		b.WriteString("  samples:      none\n")
		return
	}
	b.WriteString("  samples:\n")
	for _, s := range recent {
		ago := now.Sub(s.SentAt).Truncate(time.Second)
		if s.Lost {
			fmt.Fprintf(b, "    %ds ago, lost\n", int(ago.Seconds()))
			continue
		}
		line := fmt.Sprintf("    %ds ago, %s ms", int(ago.Seconds()), formatMillis(s.RTT))
		if opts.BarWidth > 0 {
			line = padOrTrim(line, 28) + " " + buildBar(s.RTT, opts.Scale, opts.BarWidth)
		}
		b.WriteString(strings.TrimRight(line, " "))
		b.WriteString("\n")
	}
}

// Recent returns up to limit samples, newest first.
func Recent(samples []state.Sample, limit int) []state.Sample {
	if limit <= 0 || limit > len(samples) {
		limit = len(samples)
	}
	out := make([]state.Sample, 0, limit)
	for i := len(samples) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, samples[i])
	}
	return out
}

func buildBar(rtt time.Duration, scale int, width int) string {
	if width <= 0 {
		return ""
	}
	if scale <= 0 {
		scale = 10
	}
	ms := float64(rtt.Milliseconds())
	if ms <= 0 {
		return ""
	}
	units := int(math.Round(ms / float64(scale)))
	if units > width {
		units = width
	}
	return strings.Repeat("#", units)
}

func padOrTrim(value string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(value)
	if len(runes) > width {
		return string(runes[:width])
	}
	if len(runes) < width {
		return value + strings.Repeat(" ", width-len(runes))
	}
	return value
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}

func formatMillis(rtt time.Duration) string {
	return fmt.Sprintf("%.2f", float64(rtt)/float64(time.Millisecond))
}

func formatRTT(rtt time.Duration) string {
	if rtt <= 0 {
		return "-"
	}
	if rtt < time.Millisecond {
		return fmt.Sprintf("%dus", rtt.Microseconds())
	}
	if rtt < time.Second {
		return fmt.Sprintf("%.1fms", float64(rtt)/float64(time.Millisecond))
	}
	return fmt.Sprintf("%.1fs", rtt.Seconds())
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}
