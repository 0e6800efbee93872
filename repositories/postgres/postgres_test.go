package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-gateway/models"
	"github.com/upb/llm-gateway/repositories"
	"go.uber.org/zap"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return &DB{DB: sqlDB, logger: zap.NewNop()}, mock
}

var llmConfigCols = []string{"id", "provider", "model", "api_url", "encrypted_api_key", "requires_key", "active", "created_at", "updated_at"}

func TestAuditRepository_Insert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db, zap.NewNop())

	log := models.NewAuditLog(models.RequestTypeGenerate, "groq", "llama3", false).
		WithConfig(uuid.New()).
		WithError(400, "bad request")

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "generate", "groq", "llama3", false,
			"bad request", int64(400), nil, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), log))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_InsertError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db, zap.NewNop())

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnError(errors.New("connection reset"))

	err := repo.Insert(context.Background(), models.NewAuditLog(models.RequestTypeGenerate, "openai", "gpt-4o", true))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert audit log")
}

func TestAuditRepository_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db, zap.NewNop())
	id := uuid.New()
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "config_id", "request_type", "provider", "model", "success",
			"error_message", "status_code", "latency_ms", "request_id", "timestamp"}).
			AddRow(id.String(), nil, "connection_test", "ollama", "llama3", true, nil, nil, 12, nil, ts)
		mock.ExpectQuery(regexp.QuoteMeta("FROM audit_logs WHERE id = $1")).WithArgs(id).WillReturnRows(rows)

		log, err := repo.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, log.ID)
		assert.Nil(t, log.ConfigID)
		assert.Equal(t, models.RequestTypeConnectionTest, log.RequestType)
		assert.True(t, log.Success)
		require.NotNil(t, log.LatencyMs)
		assert.Equal(t, 12, *log.LatencyMs)
		assert.Empty(t, log.RequestID)
		assert.Equal(t, ts, log.Timestamp)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM audit_logs WHERE id = $1")).WillReturnError(sql.ErrNoRows)

		_, err := repo.GetByID(context.Background(), id)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_List(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db, zap.NewNop())

	rows := sqlmock.NewRows([]string{"id", "config_id", "request_type", "provider", "model", "success",
		"error_message", "status_code", "latency_ms", "request_id", "timestamp"}).
		AddRow(uuid.NewString(), nil, "generate", "openai", "gpt-4o", true, nil, 200, 10, "r1", time.Now()).
		AddRow(uuid.NewString(), nil, "generate", "openai", "gpt-4o", false, "timeout", nil, nil, "r2", time.Now())
	mock.ExpectQuery("ORDER BY timestamp DESC LIMIT").WithArgs(10, 0).WillReturnRows(rows)

	logs, err := repo.List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "r1", logs[0].RequestID)
	require.NotNil(t, logs[1].ErrorMessage)
	assert.Equal(t, "timeout", *logs[1].ErrorMessage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLLMConfigRepository_GetActive(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLLMConfigRepository(db, zap.NewNop())
	id := uuid.New()
	now := time.Now()

	t.Run("active row", func(t *testing.T) {
		rows := sqlmock.NewRows(llmConfigCols).
			AddRow(id.String(), "anthropic", "claude-3-5-sonnet", "https://api.anthropic.com/v1", "enc", true, true, now, now)
		mock.ExpectQuery("FROM llm_configs WHERE active = true").WillReturnRows(rows)

		cfg, err := repo.GetActive(context.Background())
		require.NoError(t, err)
		assert.Equal(t, id, cfg.ID)
		assert.Equal(t, "anthropic", cfg.Provider)
		assert.True(t, cfg.HasKey())
		assert.True(t, cfg.Active)
	})

	t.Run("none active", func(t *testing.T) {
		mock.ExpectQuery("FROM llm_configs WHERE active = true").WillReturnRows(sqlmock.NewRows(llmConfigCols))

		_, err := repo.GetActive(context.Background())
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLLMConfigRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewLLMConfigRepository(db, zap.NewNop())
	cfg := models.NewLLMConfig("ollama", "llama3", "http://localhost:11434", false)
	cfg.Active = true

	mock.ExpectExec("INSERT INTO llm_configs").
		WithArgs(sqlmock.AnyArg(), "ollama", "llama3", "http://localhost:11434", nil, false, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), cfg))
	assert.False(t, cfg.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLLMConfigRepository_Activate(t *testing.T) {
	id := uuid.New()
	deactivate := regexp.QuoteMeta("UPDATE llm_configs SET active = false")
	activate := regexp.QuoteMeta("UPDATE llm_configs SET active = true")

	t.Run("switches active row in one transaction", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewLLMConfigRepository(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec(deactivate).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(activate).WithArgs(sqlmock.AnyArg(), id).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.Activate(context.Background(), id))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown id rolls back", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewLLMConfigRepository(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec(deactivate).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(activate).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := repo.Activate(context.Background(), id)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionManager_JoinsOuterTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	tm := NewTransactionManager(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM audit_logs").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	err := tm.InTransaction(context.Background(), func(ctx context.Context, outer repositories.Transaction) error {
		return tm.InTransaction(ctx, func(ctx context.Context, inner repositories.Transaction) error {
			assert.Same(t, outer, inner)
			_, err := GetExecutor(ctx, db).ExecContext(ctx, "DELETE FROM audit_logs")
			return err
		})
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionManager_RollsBackOnPanic(t *testing.T) {
	db, mock := newMockDB(t)
	tm := NewTransactionManager(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = tm.InTransaction(context.Background(), func(context.Context, repositories.Transaction) error {
			panic("boom")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPingWithRetry(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectPing()

	err = pingWithRetry(context.Background(), sqlDB, backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3), zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPingWithRetry_GivesUp(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()

	for i := 0; i < 3; i++ {
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	}

	err = pingWithRetry(context.Background(), sqlDB, backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2), zap.NewNop())
	assert.Error(t, err)
}

func TestDB_HealthCheck(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()
	db := &DB{DB: sqlDB, logger: zap.NewNop()}

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	assert.NoError(t, db.HealthCheck(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_InitSchema(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS llm_configs").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, db.InitSchema(context.Background()))

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").WillReturnError(errors.New("permission denied"))
	assert.Error(t, db.InitAuditSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
