package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionsRepo_List(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPositionsRepo(db, time.Second)

	entry := time.Date(2025, 2, 28, 9, 30, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"mint", "symbol", "current_pct", "value_usd", "entry_time"}).
		AddRow("MintA", "AAA", 0.12, 1200.0, entry).
		AddRow("MintB", "BBB", 0.03, 300.0, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM positions")).WillReturnRows(rows)

	positions, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 2)

	assert.Equal(t, "MintA", positions[0].Mint)
	assert.InDelta(t, 0.12, positions[0].CurrentPct, 1e-12)
	require.NotNil(t, positions[0].EntryTime)
	assert.True(t, entry.Equal(*positions[0].EntryTime))
	assert.Nil(t, positions[1].EntryTime)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPositionsRepo_List_Error(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPositionsRepo(db, time.Second)

	mock.ExpectQuery(regexp.QuoteMeta("FROM positions")).WillReturnError(errors.New("timeout"))

	_, err := repo.List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list positions")
}
