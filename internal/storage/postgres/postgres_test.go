package postgres

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rucat-project/rucat/internal/apierr"
	"github.com/rucat-project/rucat/internal/engine"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestInsert(t *testing.T) {
	store, mock := newMockStore(t)
	rec := engine.Record{
		ID: "a", Name: "e1", EngineType: engine.Spark, Version: "3.5.3",
		Configs: map[string]string{"k": "v"}, State: engine.WaitToStart, CreateTime: time.Now().UTC(),
	}
	mock.ExpectExec("INSERT INTO engines").WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Insert(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCASStateSuccess(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE engines SET state").WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.CASState(context.Background(), "a", engine.WaitToStart, engine.TriggerStart)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCASStateConflict(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE engines SET state").WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows([]string{"id", "name", "engine_type", "version", "configs", "state", "create_time", "claimed_at"}).
		AddRow("a", "e1", "Spark", "3.5.3", []byte(`{}`), "Running", time.Now(), nil)
	mock.ExpectQuery("SELECT id, name, engine_type, version, configs, state, create_time, claimed_at").WillReturnRows(rows)

	err := store.CASState(context.Background(), "a", engine.WaitToStart, engine.TriggerStart)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeConflictState, apiErr.Code)
	assert.Equal(t, "Running", apiErr.Details["observed"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, name, engine_type, version, configs, state, create_time, claimed_at").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "engine_type", "version", "configs", "state", "create_time", "claimed_at"}))

	_, err := store.Get(context.Background(), "missing")
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeNotFound, apiErr.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteIfStateSuccess(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM engines").WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.DeleteIfState(context.Background(), "a", []engine.State{engine.WaitToStart, engine.Terminated, engine.ErrorClean})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScanByStates(t *testing.T) {
	store, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"id", "name", "engine_type", "version", "configs", "state", "create_time", "claimed_at"}).
		AddRow("a", "e1", "Spark", "3.5.3", []byte(`{"k":"v"}`), "WaitToStart", time.Now(), nil).
		AddRow("b", "e2", "Spark", "3.5.3", []byte(`{}`), "WaitToStart", time.Now(), nil)
	mock.ExpectQuery("SELECT id, name, engine_type, version, configs, state, create_time, claimed_at").WillReturnRows(rows)

	recs, err := store.ScanByStates(context.Background(), []engine.State{engine.WaitToStart})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, "v", recs[0].Configs["k"])
	require.NoError(t, mock.ExpectationsWereMet())
}
