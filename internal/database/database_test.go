package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeRow struct {
	ID   uint
	Name string
}

func TestOpenSQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "keepitup.db")
	db, err := Open(Options{Driver: DriverSQLite, DSN: dsn}, nil, &probeRow{})
	require.NoError(t, err)

	require.NoError(t, db.Create(&probeRow{Name: "edge"}).Error)
	var count int64
	require.NoError(t, db.Model(&probeRow{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.True(t, db.Migrator().HasTable("probe_row"))
}

func TestOpenRejectsBadOptions(t *testing.T) {
	_, err := Open(Options{Driver: "oracle", DSN: "x"}, nil)
	assert.Error(t, err)

	_, err = Open(Options{Driver: DriverSQLite}, nil)
	assert.Error(t, err)
}
