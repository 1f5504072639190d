package repository

import (
	"context"
	"testing"
	"time"

	"github.com/fjod/cartsubs/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/bson"
)

func setupTestDB(t *testing.T) (*MongoRepository, func()) {
	if testing.Short() {
		t.Skip("skipping MongoDB container test in short mode")
	}
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	repo := NewMongoRepository(db)
	require.NoError(t, repo.CreateIndexes(ctx))

	cleanup := func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return repo, cleanup
}

func TestGetSession_NotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	sess, err := repo.GetSession(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Nil(t, sess)
}

func TestUpsertSession_RoundTrip(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	sess := domain.NewSession("sess-1")
	sess.Items = []domain.StoredItem{
		{Key: domain.ItemKey(1), ProductID: 1, Quantity: 2,
			Conversion: &domain.ConversionRecord{ActiveSchemeID: "monthly"}},
		{Key: domain.ItemKey(4), ProductID: 4, Quantity: 1},
	}
	sess.Set(domain.ActiveSchemeSessionKey, "monthly")
	require.NoError(t, repo.UpsertSession(ctx, sess))

	got, err := repo.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, domain.SchemeID("monthly"), got.Items[0].Conversion.ActiveSchemeID)
	assert.Nil(t, got.Items[1].Conversion)
	assert.Equal(t, "monthly", got.Values[domain.ActiveSchemeSessionKey])

	// second upsert replaces the document
	sess.Items = sess.Items[:1]
	require.NoError(t, repo.UpsertSession(ctx, sess))
	got, err = repo.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)
}

func TestClearItems_KeepsValues(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	sess := domain.NewSession("sess-2")
	sess.Items = []domain.StoredItem{{Key: "k", ProductID: 1, Quantity: 1, Conversion: &domain.ConversionRecord{}}}
	sess.Set(domain.ActiveSchemeSessionKey, "weekly")
	require.NoError(t, repo.UpsertSession(ctx, sess))

	require.NoError(t, repo.ClearItems(ctx, "sess-2"))
	got, err := repo.GetSession(ctx, "sess-2")
	require.NoError(t, err)
	assert.Empty(t, got.Items)
	assert.Equal(t, "weekly", got.Values[domain.ActiveSchemeSessionKey])

	assert.ErrorIs(t, repo.ClearItems(ctx, "missing"), ErrSessionNotFound)
}

func TestContextCancellation(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Nanosecond)
	defer cancel()

	time.Sleep(10 * time.Millisecond)

	_, err := repo.GetSession(ctx, "sess-1")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "context")
}

func TestCreateIndexes_SessionTTL(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	cursor, err := repo.collection.Indexes().List(ctx)
	require.NoError(t, err)
	var indexes []bson.M
	require.NoError(t, cursor.All(ctx, &indexes))

	var expire any
	for _, idx := range indexes {
		if idx["name"] == "updated_at_1" {
			expire = idx["expireAfterSeconds"]
		}
	}
	require.NotNil(t, expire, "updated_at TTL index missing")
	assert.EqualValues(t, int64(domain.SessionTTL/time.Second), toInt64(expire))
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return -1
}
