package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satriahrh/bidstream/domain/entities"
	"github.com/satriahrh/bidstream/domain/repositories"
)

func setupIntentStore(t *testing.T, opts ...Option) (*IntentStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewIntentStore(client, opts...), mr
}

func TestIntentStore_LastNotFound(t *testing.T) {
	store, _ := setupIntentStore(t)

	_, err := store.Last(context.Background(), "nobody")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestIntentStore_SaveAndLast(t *testing.T) {
	store, mr := setupIntentStore(t, WithPrefix("test"))
	ctx := context.Background()

	intent := entities.IntentEditProposalDescription
	require.NoError(t, store.Save(ctx, "user-1", entities.VoiceIntentResult{
		Intent:        &intent,
		Transcription: "add a timeline",
	}))
	assert.True(t, mr.Exists("test:intent:user-1"))

	last, err := store.Last(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, last.Intent)
	assert.Equal(t, intent, *last.Intent)
	assert.Equal(t, "add a timeline", last.Transcription)
}

func TestIntentStore_NullIntentRoundTrip(t *testing.T) {
	store, _ := setupIntentStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "user-1", entities.VoiceIntentResult{Transcription: "what's the weather"}))

	last, err := store.Last(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, last.Intent)
}

func TestIntentStore_TTL(t *testing.T) {
	store, mr := setupIntentStore(t, WithTTL(time.Minute))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "user-1", entities.VoiceIntentResult{Transcription: "x"}))
	assert.Equal(t, time.Minute, mr.TTL("bidstream:intent:user-1"))

	mr.FastForward(2 * time.Minute)
	_, err := store.Last(ctx, "user-1")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestIntentStore_Clear(t *testing.T) {
	store, _ := setupIntentStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "user-1", entities.VoiceIntentResult{Transcription: "x"}))
	require.NoError(t, store.Clear(ctx, "user-1"))

	_, err := store.Last(ctx, "user-1")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestIntentStore_SaveRequiresUser(t *testing.T) {
	store, _ := setupIntentStore(t)
	assert.Error(t, store.Save(context.Background(), "", entities.VoiceIntentResult{}))
}
