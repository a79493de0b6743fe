package alarm

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// TableName pins the table name regardless of naming strategy.
func (Alarm) TableName() string {
	return "alarms"
}

// GormLedger stores alarms in a relational database.
type GormLedger struct {
	db *gorm.DB
}

// NewGormLedger migrates the alarm table and returns a ledger on db.
func NewGormLedger(db *gorm.DB) (*GormLedger, error) {
	if err := db.AutoMigrate(&Alarm{}); err != nil {
		return nil, fmt.Errorf("migrate alarms: %w", err)
	}
	return &GormLedger{db: db}, nil
}

func openAlarms(tx *gorm.DB, nodeID string) ([]Alarm, error) {
	var alarms []Alarm
	err := tx.Where("node_id = ? AND closed_at IS NULL", nodeID).
		Order("opened_at DESC").Order("id DESC").
		Find(&alarms).Error
	return alarms, err
}

func (l *GormLedger) LatestOpen(ctx context.Context, nodeID string) (*Alarm, error) {
	alarms, err := openAlarms(l.db.WithContext(ctx), nodeID)
	if err != nil {
		return nil, err
	}
	switch len(alarms) {
	case 0:
		return nil, nil
	case 1:
		return &alarms[0], nil
	default:
		return &alarms[0], fmt.Errorf("%w: node %s has %d", ErrInvariantViolation, nodeID, len(alarms))
	}
}

func (l *GormLedger) Open(ctx context.Context, nodeID string, at time.Time) (*Alarm, error) {
	alarm := &Alarm{NodeID: nodeID, OpenedAt: at}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		open, err := openAlarms(tx, nodeID)
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return ErrAlreadyOpen
		}
		return tx.Create(alarm).Error
	})
	if err != nil {
		return nil, err
	}
	return alarm, nil
}

func (l *GormLedger) Close(ctx context.Context, alarm *Alarm, at time.Time) error {
	result := l.db.WithContext(ctx).Model(&Alarm{}).
		Where("id = ? AND closed_at IS NULL", alarm.ID).
		Update("closed_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotOpen
	}
	closed := at
	alarm.ClosedAt = &closed
	return nil
}

func (l *GormLedger) SetNotificationRef(ctx context.Context, alarm *Alarm, ref string) error {
	if err := l.db.WithContext(ctx).Model(&Alarm{}).
		Where("id = ?", alarm.ID).
		Update("notification_ref", ref).Error; err != nil {
		return err
	}
	alarm.NotificationRef = ref
	return nil
}

func (l *GormLedger) History(ctx context.Context, nodeID string) ([]Alarm, error) {
	var alarms []Alarm
	err := l.db.WithContext(ctx).Where("node_id = ?", nodeID).
		Order("opened_at DESC").Order("id DESC").
		Find(&alarms).Error
	return alarms, err
}
