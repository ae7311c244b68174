package postgres_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"signaltrader/pkg/infra/postgres"
)

type note struct {
	ID   uint `gorm:"primaryKey"`
	Text string
}

func TestOpenDialector_WithReplica(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "primary.db")
	db, err := postgres.OpenDialector(context.Background(),
		sqlite.Open(path),
		[]gorm.Dialector{sqlite.Open(path)},
		postgres.Config{MaxOpenConns: 2, MaxIdleConns: 1},
		nil)
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&note{}))
	require.NoError(t, db.Create(&note{Text: "hello"}).Error)

	var got note
	require.NoError(t, db.First(&got).Error)
	assert.Equal(t, "hello", got.Text)
}

func TestOpenDialector_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := postgres.OpenDialector(ctx, sqlite.Open(filepath.Join(t.TempDir(), "x.db")), nil, postgres.Config{}, nil)
	require.Error(t, err)
}
