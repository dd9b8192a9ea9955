package coachsync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testResolver() *Resolver {
	return NewResolver(discardLogger(), func() time.Time { return at(12, 0) })
}

func profileCopy(updated time.Time, edited Option[time.Time]) *CachedEntity {
	return &CachedEntity{Kind: KindProfile, RemoteID: testOwner, OwnerID: testOwner,
		Payload: json.RawMessage(`{}`), RemoteUpdatedAt: updated, LocalEditedAt: edited}
}

func messageCopy(created time.Time, content string) *CachedEntity {
	return &CachedEntity{Kind: KindMessage, RemoteID: "m1", ParentID: "c1",
		Payload:         json.RawMessage(`{"role":"assistant","content":"` + content + `"}`),
		RemoteCreatedAt: created, RemoteUpdatedAt: created}
}

func TestResolver_Profile(t *testing.T) {
	remote := profileCopy(at(10, 0), None[time.Time]())
	tests := []struct {
		name     string
		edited   Option[time.Time]
		want     Resolution
		wantType ConflictType
	}{
		{"no local edit", None[time.Time](), ResolutionServerWins, ConflictTimestampMismatch},
		{"local edit newer", Some(at(10, 5)), ResolutionLocalWins, ConflictTimestampMismatch},
		{"local edit older", Some(at(9, 55)), ResolutionServerWins, ConflictTimestampMismatch},
		{"same instant", Some(at(10, 0)), ResolutionNoConflict, ConflictDataMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testResolver().Resolve(KindProfile, profileCopy(at(9, 0), tt.edited), remote)
			require.Equal(t, tt.want, d.Resolution)
			require.Equal(t, tt.wantType, d.ConflictType)
			require.Equal(t, tt.want, d.Entry.Resolution)
			require.Equal(t, tt.edited, d.Entry.LocalTimestamp)
			require.Equal(t, Some(at(10, 0)), d.Entry.RemoteTimestamp)
			require.True(t, d.Entry.ResolvedAt.Equal(at(12, 0)))
		})
	}
}

func TestResolver_ProfileOrderingProperty(t *testing.T) {
	res := testResolver()
	remoteAt := at(10, 0)
	for offset := -5; offset <= 5; offset++ {
		edited := remoteAt.Add(time.Duration(offset) * time.Second)
		d := res.Resolve(KindProfile, profileCopy(at(9, 0), Some(edited)), profileCopy(remoteAt, None[time.Time]()))
		switch {
		case offset > 0:
			require.Equal(t, ResolutionLocalWins, d.Resolution, offset)
		case offset < 0:
			require.Equal(t, ResolutionServerWins, d.Resolution, offset)
		default:
			require.Equal(t, ResolutionNoConflict, d.Resolution)
		}
	}
}

func TestResolver_ConversationDeterminism(t *testing.T) {
	res := testResolver()
	base := at(9, 0)
	for offset := -3; offset <= 3; offset++ {
		local := sampleConversation("c1", base)
		remote := sampleConversation("c1", base.Add(time.Duration(offset)*time.Minute))
		// A local edit stamp never changes the outcome for server-authored history.
		local.LocalEditedAt = Some(at(23, 0))

		d := res.Resolve(KindConversation, local, remote)
		if offset == 0 {
			require.Equal(t, ResolutionNoConflict, d.Resolution)
			continue
		}
		require.Equal(t, ResolutionServerWins, d.Resolution)
		require.Equal(t, ConflictTimestampMismatch, d.ConflictType)
		require.Equal(t, Some(base), d.Entry.LocalTimestamp)
		require.Equal(t, Some(remote.RemoteUpdatedAt), d.Entry.RemoteTimestamp)
	}
}

func TestResolver_Message(t *testing.T) {
	res := testResolver()
	tests := []struct {
		name     string
		local    *CachedEntity
		remote   *CachedEntity
		want     Resolution
		wantType ConflictType
	}{
		{"identical", messageCopy(at(9, 0), "hi"), messageCopy(at(9, 0), "hi"), ResolutionNoConflict, ConflictDataMismatch},
		{"created differs", messageCopy(at(9, 0), "hi"), messageCopy(at(9, 1), "hi"), ResolutionServerWins, ConflictTimestampMismatch},
		{"content differs", messageCopy(at(9, 0), "hi"), messageCopy(at(9, 0), "hello"), ResolutionServerWins, ConflictDataMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := res.Resolve(KindMessage, tt.local, tt.remote)
			require.Equal(t, tt.want, d.Resolution)
			require.Equal(t, tt.wantType, d.ConflictType)
			require.Equal(t, "m1", d.Entry.EntityID)
		})
	}

	// Formatting differences in the payload are not content differences.
	spaced := messageCopy(at(9, 0), "hi")
	spaced.Payload = json.RawMessage(`{ "content": "hi", "role": "assistant" }`)
	require.Equal(t, ResolutionNoConflict, res.Resolve(KindMessage, messageCopy(at(9, 0), "hi"), spaced).Resolution)
}

func TestResolver_MissingSides(t *testing.T) {
	res := testResolver()

	d := res.Resolve(KindConversation, nil, sampleConversation("c1", at(9, 0)))
	require.Equal(t, ConflictMissingLocal, d.ConflictType)
	require.Equal(t, ResolutionServerWins, d.Resolution)
	require.Equal(t, "c1", d.Entry.EntityID)
	require.False(t, d.Entry.LocalTimestamp.IsSome())

	d = res.Resolve(KindConversation, sampleConversation("c1", at(9, 0)), nil)
	require.Equal(t, ConflictMissingRemote, d.ConflictType)
	require.Equal(t, ResolutionServerWins, d.Resolution)
	require.False(t, d.Entry.RemoteTimestamp.IsSome())

	d = res.Resolve(KindProfile, profileCopy(at(9, 0), Some(at(9, 5))), nil)
	require.Equal(t, ConflictMissingRemote, d.ConflictType)
	require.Equal(t, ResolutionLocalWins, d.Resolution)

	d = res.Resolve(KindProfile, profileCopy(at(9, 0), None[time.Time]()), nil)
	require.Equal(t, ResolutionServerWins, d.Resolution)
}
