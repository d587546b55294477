package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-compete/models"
	"mini-compete/testutil"
)

func TestIdempotencyGetMissing(t *testing.T) {
	svc := NewIdempotencyService(testutil.OpenDB(t))

	_, ok, err := svc.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdempotencyStoreAndGet(t *testing.T) {
	svc := NewIdempotencyService(testutil.OpenDB(t))
	ctx := context.Background()

	existing, err := svc.CheckAndStore(ctx, "k1", []byte(`{"status":201}`), time.Hour)
	require.NoError(t, err)
	assert.Nil(t, existing, "first write has nothing to return")

	val, ok, err := svc.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`{"status":201}`), val)
}

func TestIdempotencyFirstWriteWins(t *testing.T) {
	svc := NewIdempotencyService(testutil.OpenDB(t))
	ctx := context.Background()

	_, err := svc.CheckAndStore(ctx, "k1", []byte("first"), time.Hour)
	require.NoError(t, err)

	existing, err := svc.CheckAndStore(ctx, "k1", []byte("second"), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), existing)

	val, ok, err := svc.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("first"), val, "later writers must observe the first value")
}

func TestIdempotencyExpiryReadsAsAbsent(t *testing.T) {
	db := testutil.OpenDB(t)
	svc := NewIdempotencyService(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.IdempotencyRecord{
		Key:       "stale",
		Value:     []byte("old"),
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}).Error)

	_, ok, err := svc.Get(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, ok)

	// A stale row must not shadow a fresh write for the same key.
	existing, err := svc.CheckAndStore(ctx, "stale", []byte("new"), time.Hour)
	require.NoError(t, err)
	assert.Nil(t, existing)

	val, ok, err := svc.Get(ctx, "stale")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("new"), val)
}

func TestIdempotencyPurgeExpired(t *testing.T) {
	db := testutil.OpenDB(t)
	svc := NewIdempotencyService(db)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, db.Create(&models.IdempotencyRecord{
		Key: "old", Value: []byte("x"), ExpiresAt: now.Add(-time.Hour),
	}).Error)
	require.NoError(t, db.Create(&models.IdempotencyRecord{
		Key: "live", Value: []byte("y"), ExpiresAt: now.Add(time.Hour),
	}).Error)

	purged, err := svc.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	var count int64
	require.NoError(t, db.Model(&models.IdempotencyRecord{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}
