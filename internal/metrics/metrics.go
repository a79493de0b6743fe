package metrics

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/doridoridoriand/keepitup/internal/config"
	"github.com/doridoridoriand/keepitup/internal/state"
)

const namespace = "keepitup"

// SnapshotSource provides the node view exported by the collector.
type SnapshotSource interface {
	Snapshot() []state.NodeStatus
}

var (
	nodeLabels = []string{"node", "name", "address"}

	nodeUpDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "node", "up"),
		"Whether the node is currently OK (1) or not (0).",
		nodeLabels, nil,
	)
	nodeLossDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "node", "loss_ratio"),
		"Loss ratio over the loss window.",
		nodeLabels, nil,
	)
	nodeRTTDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "node", "last_rtt_seconds"),
		"Round trip time of the newest answered probe.",
		nodeLabels, nil,
	)
	nodesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "nodes"),
		"Number of nodes per reported state.",
		[]string{"constitution"}, nil,
	)
)

var constitutions = []state.State{state.StateNew, state.StateWaiting, state.StateOK, state.StateProblem}

// Collector exports node health from snapshots taken at scrape time.
type Collector struct {
	mode   config.MetricsMode
	source SnapshotSource
}

// NewCollector returns a collector for mode.
func NewCollector(mode config.MetricsMode, source SnapshotSource) *Collector {
	return &Collector{mode: mode, source: source}
}

func (c *Collector) perTarget() bool {
	return c.mode == config.MetricsModePerTarget || c.mode == config.MetricsModeBoth
}

func (c *Collector) aggregated() bool {
	return c.mode == config.MetricsModeAggregated || c.mode == config.MetricsModeBoth
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	if c.perTarget() {
		ch <- nodeUpDesc
		ch <- nodeLossDesc
		ch <- nodeRTTDesc
	}
	if c.aggregated() {
		ch <- nodesDesc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.mode == "" {
		return
	}
	snapshot := c.source.Snapshot()

	if c.aggregated() {
		counts := make(map[state.State]int, len(constitutions))
		for _, node := range snapshot {
			counts[node.Constitution]++
		}
		for _, st := range constitutions {
			ch <- prometheus.MustNewConstMetric(nodesDesc, prometheus.GaugeValue, float64(counts[st]), st.String())
		}
	}

	if c.perTarget() {
		for _, node := range snapshot {
			labels := []string{node.ID, node.Name, node.Address}
			up := 0.0
			if node.Constitution == state.StateOK {
				up = 1
			}
			ch <- prometheus.MustNewConstMetric(nodeUpDesc, prometheus.GaugeValue, up, labels...)
			ch <- prometheus.MustNewConstMetric(nodeLossDesc, prometheus.GaugeValue, node.LossRatio, labels...)
			if node.LastRTT > 0 {
				ch <- prometheus.MustNewConstMetric(nodeRTTDesc, prometheus.GaugeValue, node.LastRTT.Seconds(), labels...)
			}
		}
	}
}

// NewRegistry returns a registry holding the node collector, a Recorder and
// the Go runtime collectors.
func NewRegistry(mode config.MetricsMode, source SnapshotSource) (*prometheus.Registry, *Recorder) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(mode, source),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, NewRecorder(reg)
}

// Handler serves the registry on GET requests only.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	metrics := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		metrics.ServeHTTP(w, r)
	})
}

// Serve starts an HTTP server and blocks until context cancellation.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = server.Shutdown(context.Background())
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return context.Canceled
		}
		return err
	}
}
