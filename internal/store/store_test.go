package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"secretsanta/internal/config"
	"secretsanta/internal/matching"
	"secretsanta/internal/santa"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 11, 20, 18, 30, 0, 0, time.UTC)

func backends(t *testing.T) map[string]Backend {
	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "santa.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	server := miniredis.RunT(t)
	redisStore, err := NewRedis("redis://" + server.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { redisStore.Close() })

	return map[string]Backend{
		"memory": NewMemory(),
		"sqlite": sqlite,
		"redis":  redisStore,
	}
}

func TestEvents(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.GetEvent(ctx, "g1")
			assert.ErrorIs(t, err, santa.ErrNotFound)

			event := santa.Event{GuildId: "g1", ChannelId: "c1", State: santa.StateOpen, OpenedAt: base, ClosesAt: base.Add(time.Hour)}
			require.NoError(t, store.SaveEvent(ctx, event))
			require.NoError(t, store.SaveEvent(ctx, santa.Event{GuildId: "g2", ChannelId: "c2", State: santa.StateClosed, OpenedAt: base.Add(time.Minute)}))

			got, err := store.GetEvent(ctx, "g1")
			require.NoError(t, err)
			assert.Equal(t, "c1", got.ChannelId)
			assert.Equal(t, santa.StateOpen, got.State)
			assert.True(t, got.OpenedAt.Equal(base))
			assert.True(t, got.ClosesAt.Equal(base.Add(time.Hour)))
			assert.True(t, got.MatchedAt.IsZero())
			assert.Equal(t, uuid.Nil, got.RunId)

			runId := uuid.New()
			event.State = santa.StateMatched
			event.RunId = runId
			event.MatchedAt = base.Add(2 * time.Hour)
			require.NoError(t, store.SaveEvent(ctx, event))
			got, err = store.GetEvent(ctx, "g1")
			require.NoError(t, err)
			assert.Equal(t, santa.StateMatched, got.State)
			assert.Equal(t, runId, got.RunId)
			assert.True(t, got.MatchedAt.Equal(base.Add(2*time.Hour)))

			events, err := store.ListEvents(ctx)
			require.NoError(t, err)
			require.Len(t, events, 2)
			assert.Equal(t, "g1", events[0].GuildId)
			assert.Equal(t, "g2", events[1].GuildId)
		})
	}
}

func TestParticipants(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			alice := santa.Participant{GuildId: "g1", UserId: "alice", Name: "Alice", Country: "ES", Wishlist: "books", JoinedAt: base.Add(time.Minute)}
			bob := santa.Participant{GuildId: "g1", UserId: "bob", Name: "Bob", Country: "FR", JoinedAt: base}
			other := santa.Participant{GuildId: "g2", UserId: "carol", Name: "Carol", Country: "DE", JoinedAt: base}
			for _, p := range []santa.Participant{alice, bob, other} {
				require.NoError(t, store.UpsertParticipant(ctx, p))
			}

			participants, err := store.ListParticipants(ctx, "g1")
			require.NoError(t, err)
			require.Len(t, participants, 2)
			assert.Equal(t, "bob", participants[0].UserId)
			assert.Equal(t, "alice", participants[1].UserId)

			alice.Country = "PT"
			require.NoError(t, store.UpsertParticipant(ctx, alice))
			got, err := store.GetParticipant(ctx, "g1", "alice")
			require.NoError(t, err)
			assert.Equal(t, "PT", got.Country)
			assert.Equal(t, "books", got.Wishlist)
			assert.True(t, got.JoinedAt.Equal(alice.JoinedAt))

			require.NoError(t, store.RemoveParticipant(ctx, "g1", "alice"))
			assert.ErrorIs(t, store.RemoveParticipant(ctx, "g1", "alice"), santa.ErrNotFound)
			_, err = store.GetParticipant(ctx, "g1", "alice")
			assert.ErrorIs(t, err, santa.ErrNotFound)

			participants, err = store.ListParticipants(ctx, "g3")
			require.NoError(t, err)
			assert.Empty(t, participants)
		})
	}
}

func TestAssignments(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.GetAssignment(ctx, "g1")
			assert.ErrorIs(t, err, santa.ErrNotFound)

			first := uuid.New()
			require.NoError(t, store.SaveAssignment(ctx, "g1", first, matching.Assignment{"a": "b", "b": "a"}))
			require.NoError(t, store.MarkSent(ctx, "g1", "a"))
			assert.ErrorIs(t, store.MarkSent(ctx, "g1", "z"), santa.ErrNotFound)

			record, err := store.GetAssignment(ctx, "g1")
			require.NoError(t, err)
			assert.Equal(t, first, record.RunId)
			assert.Equal(t, matching.Assignment{"a": "b", "b": "a"}, record.Pairs)
			assert.True(t, record.Sent["a"])
			assert.False(t, record.Sent["b"])

			// A new run replaces the old assignment completely
			second := uuid.New()
			require.NoError(t, store.SaveAssignment(ctx, "g1", second, matching.Assignment{"a": "c", "c": "b", "b": "a"}))
			record, err = store.GetAssignment(ctx, "g1")
			require.NoError(t, err)
			assert.Equal(t, second, record.RunId)
			assert.Len(t, record.Pairs, 3)
			assert.False(t, record.Sent["a"])
		})
	}
}

func TestDeleteEvent(t *testing.T) {
	ctx := context.Background()
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.SaveEvent(ctx, santa.Event{GuildId: "g1", State: santa.StateMatched, OpenedAt: base}))
			require.NoError(t, store.UpsertParticipant(ctx, santa.Participant{GuildId: "g1", UserId: "a", Country: "ES", JoinedAt: base}))
			require.NoError(t, store.SaveAssignment(ctx, "g1", uuid.New(), matching.Assignment{"a": "b", "b": "a"}))

			require.NoError(t, store.DeleteEvent(ctx, "g1"))

			_, err := store.GetEvent(ctx, "g1")
			assert.ErrorIs(t, err, santa.ErrNotFound)
			_, err = store.GetAssignment(ctx, "g1")
			assert.ErrorIs(t, err, santa.ErrNotFound)
			participants, err := store.ListParticipants(ctx, "g1")
			require.NoError(t, err)
			assert.Empty(t, participants)
			events, err := store.ListEvents(ctx)
			require.NoError(t, err)
			assert.Empty(t, events)
		})
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	require.NoError(t, store.SaveAssignment(ctx, "g1", uuid.New(), matching.Assignment{"a": "b", "b": "a"}))
	record, err := store.GetAssignment(ctx, "g1")
	require.NoError(t, err)
	record.Pairs["a"] = "a"
	record.Sent["a"] = true

	record, err = store.GetAssignment(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "b", record.Pairs["a"])
	assert.False(t, record.Sent["a"])
}

func TestRedisHashes(t *testing.T) {
	runId := uuid.New()
	event := santa.Event{GuildId: "g1", ChannelId: "c1", State: santa.StateMatched, RunId: runId, OpenedAt: base, MatchedAt: base.Add(time.Hour)}
	hash := eventToHash(event)
	values := make(map[string]string, len(hash))
	for key, value := range hash {
		values[key] = fmt.Sprint(value)
	}
	got, err := eventFromHash("g1", values)
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ChannelId)
	assert.Equal(t, santa.StateMatched, got.State)
	assert.Equal(t, runId, got.RunId)
	assert.True(t, got.OpenedAt.Equal(base))
	assert.True(t, got.ClosesAt.IsZero())

	_, err = eventFromHash("g1", map[string]string{"state": "x"})
	assert.Error(t, err)
	_, err = eventFromHash("g1", map[string]string{"state": "1", "opened_at": "yesterday"})
	assert.Error(t, err)

	p, err := participantFromHash("g1", "u1", map[string]string{"name": "Ann", "country": "ES", "joined_at": "0"})
	require.NoError(t, err)
	assert.Equal(t, "Ann", p.Name)
	assert.True(t, p.JoinedAt.IsZero())

	assert.Equal(t, "santa:participant:g1:u1", participantKey("g1", "u1"))
	assert.Equal(t, "santa:assignment:g1", assignmentKey("g1"))
}

func TestRedisDeleteEventRemovesKeys(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)
	store, err := NewRedis("redis://" + server.Addr())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveEvent(ctx, santa.Event{GuildId: "g1", ChannelId: "c1", State: santa.StateMatched, OpenedAt: base}))
	require.NoError(t, store.UpsertParticipant(ctx, santa.Participant{GuildId: "g1", UserId: "a", Country: "ES", JoinedAt: base}))
	require.NoError(t, store.UpsertParticipant(ctx, santa.Participant{GuildId: "g1", UserId: "b", Country: "US", JoinedAt: base}))
	require.NoError(t, store.SaveAssignment(ctx, "g1", uuid.New(), matching.Assignment{"a": "b", "b": "a"}))
	require.NoError(t, store.MarkSent(ctx, "g1", "a"))
	assert.True(t, server.Exists(participantKey("g1", "a")))
	assert.True(t, server.Exists(assignmentKey("g1")))

	require.NoError(t, store.DeleteEvent(ctx, "g1"))
	assert.Empty(t, server.Keys())
}

func TestNewRedisBadURL(t *testing.T) {
	_, err := NewRedis("not a url")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	cfg := config.New()
	cfg.StoreDriver = "memory"
	backend, err := Open(cfg)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, backend)

	cfg.StoreDriver = "sqlite"
	cfg.SqlitePath = filepath.Join(t.TempDir(), "nested", "santa.db")
	backend, err = Open(cfg)
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, backend)
	require.NoError(t, backend.Close())

	cfg.StoreDriver = "etcd"
	_, err = Open(cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
