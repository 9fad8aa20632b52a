package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/feedback"
	"github.com/irun2themoney/autoppia-miner/internal/memory"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(any) bool

func (f ArgumentMatcherFunc) Match(v any) bool {
	return f(v)
}

// jsonContains matches a JSON argument containing every fragment.
func jsonContains(fragments ...string) ArgumentMatcherFunc {
	return func(v any) bool {
		b, ok := v.([]byte)
		if !ok {
			return false
		}
		for _, f := range fragments {
			if !strings.Contains(string(b), f) {
				return false
			}
		}
		return true
	}
}

func newMockStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s, mockPool
}

func loginActions() []schemas.Action {
	return []schemas.Action{
		schemas.Navigate("http://localhost:8001/login"),
		schemas.Click(schemas.TagContains("Login")),
		schemas.Screenshot(),
	}
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestMigrate(t *testing.T) {
	s, mockPool := newMockStore(t, zap.NewNop())
	mockPool.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS task_outcomes")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecordOutcome(t *testing.T) {
	ctx := context.Background()

	t.Run("should insert the outcome in UTC", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())

		loc, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)
		observed := time.Date(2025, 11, 20, 10, 0, 0, 0, loc)
		score := 0.9

		o := feedback.Outcome{
			TaskID:    "task-1",
			Prompt:    "Login as alice",
			URL:       "http://localhost:8001/login",
			Actions:   loginActions(),
			Success:   true,
			Score:     &score,
			Timestamp: observed,
		}
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertOutcome)).
			WithArgs(
				pgxmock.AnyArg(),
				"task-1",
				"key-1",
				o.Prompt,
				o.URL,
				true,
				&score,
				"",
				jsonContains(`"type":"ClickAction"`, `"tagContainsSelector"`),
				observed.UTC(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.RecordOutcome(ctx, "key-1", o))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should encode missing actions as an empty array", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertOutcome)).
			WithArgs(
				pgxmock.AnyArg(), "", "k", "p", "", false, (*float64)(nil), "boom",
				[]byte("[]"), pgxmock.AnyArg(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.RecordOutcome(ctx, "k", feedback.Outcome{Prompt: "p", Error: "boom"}))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should wrap exec errors", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		dbErr := errors.New("disk full")
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertOutcome)).
			WithArgs(
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			).
			WillReturnError(dbErr)

		err := s.RecordOutcome(ctx, "k", feedback.Outcome{Prompt: "p"})
		assert.ErrorIs(t, err, dbErr)
		assert.Contains(t, err.Error(), "failed to insert outcome")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestSavePatterns(t *testing.T) {
	ctx := context.Background()
	updated := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	patterns := []memory.PatternStats{
		{Key: "a", Successes: 3, Failures: 1, Actions: loginActions(), Task: schemas.ParsedTask{TaskType: schemas.TaskLogin}, Updated: updated},
		{Key: "b", Successes: 1, Updated: updated},
	}

	t.Run("should upsert in one batch without rollback errors", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newMockStore(t, zap.New(core))

		mockPool.ExpectBegin()
		batch := mockPool.ExpectBatch()
		batch.ExpectExec(flexibleSQLMatcher(sqlUpsertPattern)).
			WithArgs("a", 3, 1, jsonContains(`"NavigateAction"`), jsonContains(`"task_type":"login"`), updated).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		batch.ExpectExec(flexibleSQLMatcher(sqlUpsertPattern)).
			WithArgs("b", 1, 0, []byte("null"), pgxmock.AnyArg(), updated).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SavePatterns(ctx, patterns))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, logs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should roll back when an upsert fails", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		dbErr := errors.New("constraint violation")

		mockPool.ExpectBegin()
		batch := mockPool.ExpectBatch()
		batch.ExpectExec(flexibleSQLMatcher(sqlUpsertPattern)).
			WithArgs("a", 3, 1, pgxmock.AnyArg(), pgxmock.AnyArg(), updated).
			WillReturnError(dbErr)
		mockPool.ExpectRollback()

		err := s.SavePatterns(ctx, patterns)
		assert.Error(t, err)
	})

	t.Run("should skip empty input", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		require.NoError(t, s.SavePatterns(ctx, nil))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestLoadPatterns(t *testing.T) {
	ctx := context.Background()
	updated := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("should decode stored rows", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		actions := []byte(`[{"type":"ClickAction","selector":{"type":"tagContainsSelector","value":"Login"}}]`)
		task := []byte(`{"prompt":"Login as alice","task_type":"login","credentials":{"username":"alice"}}`)
		rows := pgxmock.NewRows([]string{"key", "successes", "failures", "actions", "task", "updated_at"}).
			AddRow("a", 2, 0, actions, task, updated)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectPatterns)).WillReturnRows(rows)

		got, err := s.LoadPatterns(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "a", got[0].Key)
		assert.Equal(t, 2, got[0].Successes)
		assert.Equal(t, []schemas.Action{schemas.Click(schemas.TagContains("Login"))}, got[0].Actions)
		assert.Equal(t, "alice", got[0].Task.Credentials.Username)
		assert.Equal(t, updated, got[0].Updated)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report corrupt json", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		rows := pgxmock.NewRows([]string{"key", "successes", "failures", "actions", "task", "updated_at"}).
			AddRow("a", 2, 0, []byte(`{not json`), []byte(`{}`), updated)
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectPatterns)).WillReturnRows(rows)

		_, err := s.LoadPatterns(ctx)
		assert.ErrorContains(t, err, "failed to decode actions for pattern a")
	})

	t.Run("should wrap query errors", func(t *testing.T) {
		s, mockPool := newMockStore(t, zap.NewNop())
		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectPatterns)).WillReturnError(errors.New("timeout"))

		_, err := s.LoadPatterns(ctx)
		assert.ErrorContains(t, err, "failed to query patterns")
	})
}
