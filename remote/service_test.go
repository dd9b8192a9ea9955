package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPGStore connects to COACHSYNC_TEST_DATABASE_URL, or starts a throwaway
// Postgres container when it is unset.
func setupPGStore(t *testing.T) *PGStore {
	t.Helper()
	ctx := context.Background()
	dsn := os.Getenv("COACHSYNC_TEST_DATABASE_URL")
	if dsn == "" {
		dsn = startPostgres(t, ctx)
	}
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	store, err := NewPGStore(ctx, pool, &ServiceConfig{AppName: "coachsync-test"}, nil)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func startPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres container in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("coachsync_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestIsRetryableTxError(t *testing.T) {
	for _, code := range []string{"40001", "40P01", "55P03"} {
		require.True(t, isRetryableTxError(fmt.Errorf("commit: %w", &pgconn.PgError{Code: code})), code)
	}
	require.False(t, isRetryableTxError(&pgconn.PgError{Code: "23505"}))
	require.False(t, isRetryableTxError(errors.New("connection reset")))
	require.False(t, isRetryableTxError(nil))
}

func TestPGStore_ProfileConflict(t *testing.T) {
	store := setupPGStore(t)
	ctx := context.Background()
	owner := "pg-" + uuid.NewString()

	_, err := store.GetProfile(ctx, owner)
	require.ErrorIs(t, err, ErrNotFound)

	first, err := store.PutProfile(ctx, owner, json.RawMessage(`{"name":"Ada"}`), nil)
	require.NoError(t, err)

	got, err := store.GetProfile(ctx, owner)
	require.NoError(t, err)
	require.True(t, got.UpdatedAt.Equal(first.UpdatedAt))
	require.JSONEq(t, `{"name":"Ada"}`, string(got.Payload))

	second, err := store.PutProfile(ctx, owner, json.RawMessage(`{"name":"Ada L"}`), &first.UpdatedAt)
	require.NoError(t, err)
	require.True(t, second.UpdatedAt.After(first.UpdatedAt))

	_, err = store.PutProfile(ctx, owner, json.RawMessage(`{"name":"stale"}`), &first.UpdatedAt)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	require.True(t, conflict.Current.UpdatedAt.Equal(second.UpdatedAt))
}

func TestPGStore_ConversationCascade(t *testing.T) {
	store := setupPGStore(t)
	ctx := context.Background()
	owner := "pg-" + uuid.NewString()

	conv, err := store.CreateConversation(ctx, owner, "", json.RawMessage(`{"title":"Focus"}`))
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, owner, conv.ID, "", json.RawMessage(`{"role":"user","content":"hi"}`))
	require.NoError(t, err)

	msgs, err := store.ListMessages(ctx, owner, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	_, err = store.ListMessages(ctx, "someone-else", conv.ID)
	require.ErrorIs(t, err, ErrNotFound)

	n, err := store.DeleteAllConversations(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = store.ListMessages(ctx, owner, conv.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
