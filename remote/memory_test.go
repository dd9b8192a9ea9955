package remote

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestMemoryStore_PutProfileConditional(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore(fixedClock(t0))

	first, err := store.PutProfile(ctx, "user42", json.RawMessage(`{"name":"Ada"}`), nil)
	require.NoError(t, err)
	require.Equal(t, "user42", first.ID)
	require.True(t, first.UpdatedAt.Equal(t0))

	// Same clock reading must still move updated_at forward.
	second, err := store.PutProfile(ctx, "user42", json.RawMessage(`{"name":"Ada L"}`), &first.UpdatedAt)
	require.NoError(t, err)
	require.True(t, second.UpdatedAt.After(first.UpdatedAt))
	require.True(t, second.CreatedAt.Equal(first.CreatedAt))

	// Stale base loses and reports the current record.
	_, err = store.PutProfile(ctx, "user42", json.RawMessage(`{"name":"stale"}`), &first.UpdatedAt)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	require.JSONEq(t, `{"name":"Ada L"}`, string(conflict.Current.Payload))
	require.True(t, conflict.Current.UpdatedAt.Equal(second.UpdatedAt))

	// A base against a missing profile creates it.
	base := t0.Add(-time.Hour)
	created, err := store.PutProfile(ctx, "user7", json.RawMessage(`{}`), &base)
	require.NoError(t, err)
	require.Equal(t, "user7", created.OwnerID)

	// A zero base expects no profile: it creates one, then conflicts once one exists.
	var absent time.Time
	_, err = store.PutProfile(ctx, "user8", json.RawMessage(`{"name":"first"}`), &absent)
	require.NoError(t, err)
	_, err = store.PutProfile(ctx, "user8", json.RawMessage(`{"name":"second"}`), &absent)
	require.True(t, errors.As(err, &conflict))
	require.JSONEq(t, `{"name":"first"}`, string(conflict.Current.Payload))

	_, err = store.PutProfile(ctx, "user7", json.RawMessage(`{bad`), nil)
	require.Error(t, err)
}

func TestMemoryStore_ConversationsAndMessages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	conv, err := store.CreateConversation(ctx, "user42", "", json.RawMessage(`{"title":"Goals"}`))
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID)

	_, err = store.CreateConversation(ctx, "user99", "", json.RawMessage(`{"title":"Other"}`))
	require.NoError(t, err)

	msg, err := store.AppendMessage(ctx, "user42", conv.ID, "", json.RawMessage(`{"role":"user","content":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, conv.ID, msg.ParentID)

	convs, err := store.ListConversations(ctx, "user42")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.False(t, convs[0].UpdatedAt.Before(msg.CreatedAt), "appending touches the conversation")

	msgs, err := store.ListMessages(ctx, "user42", conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	_, err = store.ListMessages(ctx, "user99", conv.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.DeleteConversation(ctx, "user99", conv.ID), ErrNotFound)

	n, err := store.DeleteAllConversations(ctx, "user42")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	convs, err = store.ListConversations(ctx, "user42")
	require.NoError(t, err)
	require.Empty(t, convs)
	others, err := store.ListConversations(ctx, "user99")
	require.NoError(t, err)
	require.Len(t, others, 1)
}

func TestNextTimestamp(t *testing.T) {
	prev := time.Date(2026, 1, 1, 0, 0, 0, 500_000, time.UTC)
	require.True(t, nextTimestamp(prev.Add(-time.Second), prev).Equal(prev.Add(time.Microsecond)))
	later := prev.Add(time.Minute)
	require.True(t, nextTimestamp(later.Add(123), prev).Equal(later))
	require.True(t, nextTimestamp(later, time.Time{}).Equal(later))
}
