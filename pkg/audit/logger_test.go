package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/storage/sqltest"
)

func TestNewDBLogger(t *testing.T) {
	logger, err := NewDBLogger(nil)
	assert.Error(t, err)
	assert.Nil(t, logger)
	assert.Contains(t, err.Error(), "database connection is required")
}

func TestDBLogger_Log(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		event := NewEvent(at, EventTypeAdminGrant, EventStatusSuccess)
		event.ActorID = Int64(1)
		event.SubjectID = Int64(2)
		event.WorkspaceID = Int64(3)
		event.Message = "granted admin"

		mock.ExpectQuery("INSERT INTO audit_events").
			WithArgs(at, "membership.admin_grant", "success",
				int64(1), int64(2), int64(3), nil,
				"granted admin", nil).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

		logger, err := NewDBLogger(db)
		require.NoError(t, err)
		require.NoError(t, logger.Log(context.Background(), event))
		assert.Equal(t, int64(42), event.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert error is wrapped", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("INSERT INTO audit_events").WillReturnError(errors.New("disk full"))

		logger, err := NewDBLogger(db)
		require.NoError(t, err)
		err = logger.Log(context.Background(), NewEvent(time.Now(), EventTypeLogin, EventStatusSuccess))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert audit event")
	})
}

func TestDBLogger_SQLiteRoundTrip(t *testing.T) {
	db := sqltest.Open(t)
	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	event := NewEvent(sqltest.Epoch, EventTypeLoginLocked, EventStatusDenied)
	event.SubjectID = Int64(9)
	event.Metadata["attempts"] = 3
	require.NoError(t, logger.Log(context.Background(), event))
	assert.NotZero(t, event.ID)

	var (
		eventType string
		metadata  string
	)
	require.NoError(t, db.QueryRow(`SELECT event_type, metadata FROM audit_events WHERE id = $1`, event.ID).
		Scan(&eventType, &metadata))
	assert.Equal(t, "auth.login_locked", eventType)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(metadata), &decoded))
	assert.Equal(t, float64(3), decoded["attempts"])
}

func TestSlogLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(observability.NewLogger(observability.InfoLevel, &buf))

	event := NewEvent(sqltest.Epoch, EventTypeMemberRemove, EventStatusSuccess)
	event.SubjectID = Int64(5)
	event.Message = "member removed"
	ctx := observability.WithRequestID(context.Background(), "req-1")

	require.NoError(t, logger.Log(ctx, event))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "member removed", entry["msg"])
	assert.Equal(t, "membership.member_remove", entry["event_type"])
	assert.Equal(t, float64(5), entry["subject_id"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "audit", entry["component"])
}

type failingLogger struct{ err error }

func (f failingLogger) Log(context.Context, *Event) error { return f.err }

type recordingLogger struct{ events []*Event }

func (r *recordingLogger) Log(_ context.Context, e *Event) error {
	r.events = append(r.events, e)
	return nil
}

func TestMultiLogger_Log(t *testing.T) {
	rec := &recordingLogger{}
	boom := errors.New("boom")
	multi := NewMultiLogger(failingLogger{err: boom}, rec, NoopLogger{})

	err := multi.Log(context.Background(), NewEvent(sqltest.Epoch, EventTypeSweep, EventStatusSuccess))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, rec.events, 1, "later loggers still receive the event")

	assert.NoError(t, NewMultiLogger().Log(context.Background(), &Event{}))
}
