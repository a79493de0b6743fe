package alarm

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/doridoridoriand/keepitup/internal/log"
	"github.com/doridoridoriand/keepitup/internal/notify"
	"github.com/doridoridoriand/keepitup/internal/state"
)

// SubscriberSource lists who should hear about a node.
type SubscriberSource interface {
	Subscribers(ctx context.Context, nodeID string) ([]notify.Subscriber, error)
}

// Recorder observes dispatcher outcomes.
type Recorder interface {
	AlarmRecorded(kind string)
	InvariantViolated()
}

type nopRecorder struct{}

func (nopRecorder) AlarmRecorded(string) {}
func (nopRecorder) InvariantViolated()   {}

// Dispatcher applies the alarm side effect of an evaluation: open or close
// the ledger entry and notify subscribers.
type Dispatcher struct {
	ledger      Ledger
	notifier    notify.Notifier
	subscribers SubscriberSource
	logger      *log.Logger
	recorder    Recorder
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(ledger Ledger, notifier notify.Notifier, subscribers SubscriberSource, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Dispatcher{
		ledger:      ledger,
		notifier:    notifier,
		subscribers: subscribers,
		logger:      logger,
		recorder:    nopRecorder{},
	}
}

// SetRecorder installs r.
func (d *Dispatcher) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	d.recorder = r
}

// HandleAll dispatches every evaluation that carries an alarm event and
// returns the ones whose event was applied. A failing node never stops the
// others.
func (d *Dispatcher) HandleAll(ctx context.Context, evaluations []state.Evaluation) ([]state.Evaluation, error) {
	var (
		applied []state.Evaluation
		result  *multierror.Error
	)
	for _, ev := range evaluations {
		if ev.Event == state.AlarmNone {
			continue
		}
		if err := d.Handle(ctx, ev); err != nil {
			result = multierror.Append(result, fmt.Errorf("node %s: %w", ev.NodeID, err))
			continue
		}
		applied = append(applied, ev)
	}
	return applied, result.ErrorOrNil()
}

// Handle dispatches one evaluation.
func (d *Dispatcher) Handle(ctx context.Context, ev state.Evaluation) error {
	switch ev.Event {
	case state.AlarmOpen:
		return d.open(ctx, ev)
	case state.AlarmClose:
		return d.close(ctx, ev)
	default:
		return nil
	}
}

func (d *Dispatcher) latestOpen(ctx context.Context, nodeID string) (*Alarm, error) {
	open, err := d.ledger.LatestOpen(ctx, nodeID)
	if errors.Is(err, ErrInvariantViolation) {
		d.recorder.InvariantViolated()
		d.logger.LogError("alarm", err, map[string]interface{}{"node_id": nodeID})
		return open, nil
	}
	return open, err
}

func (d *Dispatcher) open(ctx context.Context, ev state.Evaluation) error {
	existing, err := d.latestOpen(ctx, ev.NodeID)
	if err != nil {
		return fmt.Errorf("load open alarm: %w", err)
	}
	if existing != nil {
		return nil
	}

	opened, err := d.ledger.Open(ctx, ev.NodeID, ev.At)
	if errors.Is(err, ErrAlreadyOpen) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open alarm: %w", err)
	}
	d.recorder.AlarmRecorded(state.AlarmOpen.String())
	d.logger.LogAlarm(ev.NodeID, ev.Name, state.AlarmOpen.String(), opened.ID)

	ref, err := d.notify(ctx, ev, notify.KindOpened, "")
	if err != nil {
		return err
	}
	if ref == "" {
		return nil
	}
	if err := d.ledger.SetNotificationRef(ctx, opened, ref); err != nil {
		return fmt.Errorf("store notification ref: %w", err)
	}
	return nil
}

func (d *Dispatcher) close(ctx context.Context, ev state.Evaluation) error {
	open, err := d.latestOpen(ctx, ev.NodeID)
	if err != nil {
		return fmt.Errorf("load open alarm: %w", err)
	}
	if open == nil {
		d.logger.Warn("no open alarm to resolve", map[string]interface{}{"node_id": ev.NodeID})
		return nil
	}

	if err := d.ledger.Close(ctx, open, ev.At); err != nil {
		return fmt.Errorf("close alarm: %w", err)
	}
	d.recorder.AlarmRecorded(state.AlarmClose.String())
	d.logger.LogAlarm(ev.NodeID, ev.Name, state.AlarmClose.String(), open.ID)

	_, err = d.notify(ctx, ev, notify.KindResolved, open.NotificationRef)
	return err
}

func (d *Dispatcher) notify(ctx context.Context, ev state.Evaluation, kind notify.Kind, ref string) (string, error) {
	if d.notifier == nil {
		return "", nil
	}
	var subs []notify.Subscriber
	if d.subscribers != nil {
		var err error
		if subs, err = d.subscribers.Subscribers(ctx, ev.NodeID); err != nil {
			return "", fmt.Errorf("list subscribers: %w", err)
		}
	}
	node := notify.Node{ID: ev.NodeID, Name: ev.Name, Address: ev.Address}
	sent, err := d.notifier.Notify(ctx, subs, kind, node, ref)
	if err != nil {
		return "", fmt.Errorf("notify %s: %w", kind, err)
	}
	return sent, nil
}
