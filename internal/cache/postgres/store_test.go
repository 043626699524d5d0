package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/apigrove/media-gateway/internal/cache"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestPutUpsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	store := newWithPool(mock, "provider_cache", 0, fixedClock{now: now})

	mock.ExpectExec("INSERT INTO provider_cache").
		WithArgs("https://example.com/watch?v=abc|mp3", []byte(`{"title":"x"}`), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.Put(context.Background(), "https://example.com/watch?v=abc|mp3", json.RawMessage(`{"title":"x"}`))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetHit(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	store := newWithPool(mock, "provider_cache", 0, fixedClock{now: now})

	rows := pgxmock.NewRows([]string{"value", "stored_at"}).
		AddRow([]byte(`{"title":"x"}`), now.Add(-time.Hour))
	mock.ExpectQuery("SELECT value, stored_at FROM provider_cache").
		WithArgs("k").
		WillReturnRows(rows)

	got, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"x"}`, string(got))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissReturnsNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newWithPool(mock, "provider_cache", 0, fixedClock{now: time.Unix(0, 0)})

	mock.ExpectQuery("SELECT value, stored_at FROM provider_cache").
		WithArgs("absent").
		WillReturnRows(pgxmock.NewRows([]string{"value", "stored_at"}))

	_, err = store.Get(context.Background(), "absent")
	require.ErrorIs(t, err, cache.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetExpiredDeletesAndMisses(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	storedAt := now.Add(-2 * time.Hour)
	store := newWithPool(mock, "provider_cache", time.Hour, fixedClock{now: now})

	rows := pgxmock.NewRows([]string{"value", "stored_at"}).
		AddRow([]byte(`{}`), storedAt)
	mock.ExpectQuery("SELECT value, stored_at FROM provider_cache").
		WithArgs("k").
		WillReturnRows(rows)
	mock.ExpectExec("DELETE FROM provider_cache").
		WithArgs("k", storedAt).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	_, err = store.Get(context.Background(), "k")
	require.ErrorIs(t, err, cache.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRejectsInvalidTableName(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{DSN: "postgres://x", Table: "drop table;"}, fixedClock{})
	require.Error(t, err)
}
