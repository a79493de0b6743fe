// Package alarm keeps the durable record of node outages and turns health
// transitions into ledger updates and notifications.
package alarm

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvariantViolation is returned when a node has more than one open
	// alarm. It is reported and never repaired automatically.
	ErrInvariantViolation = errors.New("more than one open alarm for node")

	// ErrAlreadyOpen is returned by Open when the node already has an open
	// alarm.
	ErrAlreadyOpen = errors.New("alarm already open")

	// ErrNotOpen is returned by Close for an alarm that is already closed.
	ErrNotOpen = errors.New("alarm is not open")
)

// Alarm records one outage of a node.
type Alarm struct {
	ID              uint       `gorm:"primarykey" json:"id"`
	NodeID          string     `gorm:"column:node_id;type:varchar(64);index;not null" json:"node_id"`
	OpenedAt        time.Time  `gorm:"column:opened_at;not null" json:"opened_at"`
	ClosedAt        *time.Time `gorm:"column:closed_at" json:"closed_at,omitempty"`
	NotificationRef string     `gorm:"column:notification_ref;type:varchar(255)" json:"notification_ref,omitempty"`
}

// IsResolved reports whether the alarm has been closed.
func (a *Alarm) IsResolved() bool {
	return a.ClosedAt != nil
}

// Duration returns how long the outage lasted, or has lasted so far.
func (a *Alarm) Duration(now time.Time) time.Duration {
	if a.ClosedAt != nil {
		return a.ClosedAt.Sub(a.OpenedAt)
	}
	return now.Sub(a.OpenedAt)
}

// Ledger stores alarms.
type Ledger interface {
	// LatestOpen returns the newest open alarm of the node, or nil. When
	// more than one alarm is open it returns the newest together with
	// ErrInvariantViolation.
	LatestOpen(ctx context.Context, nodeID string) (*Alarm, error)

	// Open creates a new open alarm. It fails with ErrAlreadyOpen when the
	// node already has one.
	Open(ctx context.Context, nodeID string, at time.Time) (*Alarm, error)

	// Close sets ClosedAt on an open alarm.
	Close(ctx context.Context, alarm *Alarm, at time.Time) error

	// SetNotificationRef stores the correlation reference of the opening
	// notification.
	SetNotificationRef(ctx context.Context, alarm *Alarm, ref string) error

	// History returns every alarm of the node, newest first.
	History(ctx context.Context, nodeID string) ([]Alarm, error)
}
