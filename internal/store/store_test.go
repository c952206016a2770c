package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDBRejectsUnknownDriver(t *testing.T) {
	_, err := NewDB(context.Background(), "mongo", "x")
	assert.Error(t, err)
}

func TestMigrationsCreateSchema(t *testing.T) {
	db := OpenTest(t)
	assert.True(t, db.Healthy(context.Background()))

	for _, table := range []string{"users", "courses", "enrollments", "sessions", "attendance_records", "corrections", "system_logs"} {
		var name string
		err := db.Client.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = $1`, table).Scan(&name)
		require.NoError(t, err, table)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db := OpenTest(t)
	ctx := context.Background()
	insert := `INSERT INTO users (id, role, email, password_hash, full_name, created_at) VALUES ($1, 'student', $2, 'x', 'A', $3)`

	_, err := db.Client.ExecContext(ctx, insert, "u1", "a@example.com", time.Now().UTC())
	require.NoError(t, err)
	_, err = db.Client.ExecContext(ctx, insert, "u2", "a@example.com", time.Now().UTC())
	require.Error(t, err)

	assert.True(t, IsUniqueViolation(err))
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
}

func TestRunInTxRollsBack(t *testing.T) {
	db := OpenTest(t)
	ctx := context.Background()

	err := RunInTx(ctx, db.Client, func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO system_logs (id, type, message, created_at) VALUES ('l1', 'test', 'm', $1)`, time.Now().UTC())
		require.NoError(t, err)
		return errors.New("abort")
	})
	require.Error(t, err)

	var n int
	require.NoError(t, db.Client.QueryRowContext(ctx, `SELECT COUNT(*) FROM system_logs`).Scan(&n))
	assert.Zero(t, n)
}

func TestNilRedisIsHealthy(t *testing.T) {
	var r *Redis
	assert.True(t, r.Healthy(context.Background()))
	assert.NoError(t, r.Close())
}

func TestRedisOptions(t *testing.T) {
	opts := redisOptions("localhost:6379")
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 0, opts.DB)

	opts = redisOptions("redis://:secret@cache.internal:6380/2")
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, time.Second, opts.ReadTimeout)

	var nilRedis *Redis
	assert.True(t, nilRedis.Healthy(context.Background()))
	assert.NoError(t, nilRedis.Close())
}
