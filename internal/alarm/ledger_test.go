package alarm

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doridoridoriand/keepitup/internal/database"
)

var base = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newGormLedger(t *testing.T) *GormLedger {
	t.Helper()
	db, err := database.Open(database.Options{
		Driver: database.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "alarms.db"),
	}, nil)
	require.NoError(t, err)
	ledger, err := NewGormLedger(db)
	require.NoError(t, err)
	return ledger
}

func TestLedgers(t *testing.T) {
	ledgers := map[string]func(t *testing.T) Ledger{
		"memory": func(*testing.T) Ledger { return NewMemoryLedger() },
		"gorm":   func(t *testing.T) Ledger { return newGormLedger(t) },
	}

	for name, build := range ledgers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ledger := build(t)

			open, err := ledger.LatestOpen(ctx, "n1")
			require.NoError(t, err)
			assert.Nil(t, open)

			opened, err := ledger.Open(ctx, "n1", base)
			require.NoError(t, err)
			assert.False(t, opened.IsResolved())

			_, err = ledger.Open(ctx, "n1", base.Add(time.Minute))
			assert.True(t, errors.Is(err, ErrAlreadyOpen))

			require.NoError(t, ledger.SetNotificationRef(ctx, opened, "<ref@keepitup>"))
			open, err = ledger.LatestOpen(ctx, "n1")
			require.NoError(t, err)
			require.NotNil(t, open)
			assert.Equal(t, opened.ID, open.ID)
			assert.Equal(t, "<ref@keepitup>", open.NotificationRef)

			require.NoError(t, ledger.Close(ctx, open, base.Add(10*time.Minute)))
			assert.True(t, open.IsResolved())
			assert.Equal(t, 10*time.Minute, open.Duration(base.Add(time.Hour)))
			assert.True(t, errors.Is(ledger.Close(ctx, open, base.Add(time.Hour)), ErrNotOpen))

			open, err = ledger.LatestOpen(ctx, "n1")
			require.NoError(t, err)
			assert.Nil(t, open)

			_, err = ledger.Open(ctx, "n1", base.Add(time.Hour))
			require.NoError(t, err)

			history, err := ledger.History(ctx, "n1")
			require.NoError(t, err)
			require.Len(t, history, 2)
			assert.False(t, history[0].IsResolved())
			assert.True(t, history[1].IsResolved())
		})
	}
}

func TestGormLedgerReportsDuplicateOpenAlarms(t *testing.T) {
	ctx := context.Background()
	ledger := newGormLedger(t)

	require.NoError(t, ledger.db.Create(&Alarm{NodeID: "n1", OpenedAt: base}).Error)
	require.NoError(t, ledger.db.Create(&Alarm{NodeID: "n1", OpenedAt: base.Add(time.Minute)}).Error)

	open, err := ledger.LatestOpen(ctx, "n1")
	assert.True(t, errors.Is(err, ErrInvariantViolation))
	require.NotNil(t, open)
	assert.True(t, open.OpenedAt.Equal(base.Add(time.Minute)))
}

func TestAlarmDurationWhileOpen(t *testing.T) {
	a := &Alarm{OpenedAt: base}
	assert.Equal(t, 5*time.Minute, a.Duration(base.Add(5*time.Minute)))
}
