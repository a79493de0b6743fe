package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/doridoridoriand/keepitup/internal/log"
	"github.com/doridoridoriand/keepitup/internal/state"
	"github.com/doridoridoriand/keepitup/internal/tsdb"
)

// Scheduler drives the probe interval.
type Scheduler interface {
	Run(ctx context.Context) error
	RunInterval(ctx context.Context) error
	Stop()
}

// Registry is the node list the scheduler refreshes from and saves to.
type Registry interface {
	List(ctx context.Context, owner string) ([]state.NodeInfo, error)
	Save(ctx context.Context, statuses []state.NodeStatus) error
}

// AlarmHandler applies alarm side effects of evaluations and returns the
// evaluations whose event took effect.
type AlarmHandler interface {
	HandleAll(ctx context.Context, evaluations []state.Evaluation) ([]state.Evaluation, error)
}

// Observer is told about every slice, flush and interval.
type Observer interface {
	ObserveSlice(report state.SliceReport)
	ObserveFlush(committed int, err error)
	ObserveCycle(d time.Duration)
}

const flushTimeout = 5 * time.Second

type nopObserver struct{}

func (nopObserver) ObserveSlice(state.SliceReport) {}
func (nopObserver) ObserveFlush(int, error)        {}
func (nopObserver) ObserveCycle(time.Duration)     {}

// Options are the timing settings of the driver loop.
type Options struct {
	Interval  time.Duration
	Timeout   time.Duration
	Retention time.Duration
}

// SliceCount is interval / timeout, at least 1.
func (o Options) SliceCount() int {
	if o.Timeout <= 0 {
		return 1
	}
	n := int(o.Interval / o.Timeout)
	if n < 1 {
		return 1
	}
	return n
}

// Impl is the default scheduler. It is the only writer of its NodeSet.
type Impl struct {
	mu       sync.Mutex
	opts     Options
	nodes    *state.NodeSet
	registry Registry
	store    tsdb.Store
	alarms   AlarmHandler
	observer Observer
	logger   *log.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	cancel context.CancelFunc
}

// NewScheduler constructs a scheduler instance.
func NewScheduler(opts Options, nodes *state.NodeSet, registry Registry, store tsdb.Store, alarms AlarmHandler, logger *log.Logger) *Impl {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Impl{
		opts:     opts,
		nodes:    nodes,
		registry: registry,
		store:    store,
		alarms:   alarms,
		observer: nopObserver{},
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// SetObserver installs o.
func (s *Impl) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	s.observer = o
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run refreshes the node list, loads recent history from the time-series
// store and then runs intervals until ctx is cancelled.
func (s *Impl) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	if err := s.refresh(runCtx); err != nil {
		s.logger.LogError("scheduler", err, map[string]interface{}{"step": "refresh"})
	}
	if err := s.Rehydrate(runCtx); err != nil {
		s.logger.LogError("scheduler", err, map[string]interface{}{"step": "rehydrate"})
	}

	for {
		if err := s.RunInterval(runCtx); err != nil && runCtx.Err() == nil {
			s.logger.LogError("scheduler", err, nil)
		}
		if runCtx.Err() != nil {
			s.finalFlush()
			return runCtx.Err()
		}
	}
}

// finalFlush writes the samples of an interrupted interval.
func (s *Impl) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	committed, err := s.nodes.FlushToStore(ctx, s.store)
	s.observer.ObserveFlush(committed, err)
	if err != nil {
		s.logger.LogError("scheduler", err, map[string]interface{}{"step": "final flush"})
	}
}

// Stop cancels a running Run.
func (s *Impl) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Rehydrate fills node buffers with the samples stored during the last
// retention period.
func (s *Impl) Rehydrate(ctx context.Context) error {
	since := s.now().Add(-s.opts.Retention)
	points, err := s.store.Query(ctx, "", since)
	if err != nil {
		return fmt.Errorf("load samples: %w", err)
	}
	inserted := s.nodes.Rehydrate(points)
	s.logger.Info("samples loaded", map[string]interface{}{
		"points":   len(points),
		"inserted": inserted,
		"since":    since,
	})
	return nil
}

func (s *Impl) refresh(ctx context.Context) error {
	infos, err := s.registry.List(ctx, "")
	if err != nil {
		return fmt.Errorf("refresh nodes: %w", err)
	}
	added, removed := s.nodes.Refresh(infos)
	if added > 0 || removed > 0 {
		s.logger.Info("node list refreshed", map[string]interface{}{
			"nodes":   len(infos),
			"added":   added,
			"removed": removed,
		})
	}
	return nil
}

// RunInterval runs one full interval: refresh, probe every slice, flush,
// evaluate, evict. Failures of single steps are collected and returned;
// they never stop the remaining steps.
func (s *Impl) RunInterval(ctx context.Context) error {
	start := s.now()
	var errs *multierror.Error

	if err := s.refresh(ctx); err != nil {
		errs = multierror.Append(errs, err)
	}

	count := s.opts.SliceCount()
	for i := 0; i < count; i++ {
		sliceStart := s.now()
		report, err := s.nodes.ProbeSlice(ctx, i, count, s.opts.Timeout)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		elapsed := s.now().Sub(sliceStart)
		s.observer.ObserveSlice(report)
		if report.Probed > 0 {
			s.logger.LogSlice(i, count, report.Probed, report.Lost, elapsed)
		}
		if err := s.sleep(ctx, s.opts.Timeout-elapsed); err != nil {
			return err
		}
	}

	committed, err := s.nodes.FlushToStore(ctx, s.store)
	s.observer.ObserveFlush(committed, err)
	if err != nil {
		errs = multierror.Append(errs, fmt.Errorf("flush samples: %w", err))
	}

	if err := s.evaluate(ctx); err != nil {
		errs = multierror.Append(errs, err)
	}

	removed, skipped := s.nodes.Evict(s.opts.Retention)
	if skipped > 0 {
		s.logger.Warn("uncommitted samples kept past retention", map[string]interface{}{
			"skipped": skipped,
			"removed": removed,
		})
	}

	s.observer.ObserveCycle(s.now().Sub(start))
	return errs.ErrorOrNil()
}

func (s *Impl) evaluate(ctx context.Context) error {
	var errs *multierror.Error
	evaluations := s.nodes.EvaluateAll()

	var (
		dirty    []state.NodeStatus
		dirtyIDs []string
	)
	for _, ev := range evaluations {
		if ev.Changed() {
			from, to := ev.From.String(), ev.To.String()
			if ev.WasWaiting {
				from = state.StateWaiting.String()
			}
			if ev.IsWaiting {
				to = state.StateWaiting.String()
			}
			s.logger.LogTransition(ev.NodeID, ev.Name, from, to, ev.LossRatio)
		}
		if !ev.Dirty {
			continue
		}
		if status, ok := s.nodes.Lookup(ev.NodeID); ok {
			status.Samples = nil
			dirty = append(dirty, status)
			dirtyIDs = append(dirtyIDs, ev.NodeID)
		}
	}

	// Unapplied events and unsaved nodes stay flagged and are retried on
	// the next interval.
	if s.alarms != nil {
		applied, err := s.alarms.HandleAll(ctx, evaluations)
		for _, ev := range applied {
			s.nodes.AckEvent(ev.NodeID, ev.Event)
		}
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("dispatch alarms: %w", err))
		}
	}
	if len(dirty) > 0 {
		if err := s.registry.Save(ctx, dirty); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("save node state: %w", err))
		} else {
			s.nodes.MarkSaved(dirtyIDs)
		}
	}
	return errs.ErrorOrNil()
}
