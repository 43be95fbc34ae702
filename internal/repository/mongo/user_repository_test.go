package mongo

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caption-api/internal/domain"
	"caption-api/internal/repository"
)

// These tests need a running deployment; point CAPTION_TEST_MONGO_URI at one.
func newTestRepo(t *testing.T) repository.UserRepository {
	t.Helper()

	uri := os.Getenv("CAPTION_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("CAPTION_TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	client, err := Open(ctx, uri)
	require.NoError(t, err)

	db := client.Database("caption_test_" + uuid.NewString()[:8])
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	repo := NewUserRepository(db)
	require.NoError(t, repo.Init(ctx))
	return repo
}

func TestUserRepository_Lifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	user := &domain.User{Email: "a@x.com", Username: "alice", PasswordHash: "digest"}
	id, err := repo.Create(ctx, user)
	require.NoError(t, err)

	_, err = repo.Create(ctx, &domain.User{Email: "b@x.com", Username: "alice", PasswordHash: "digest"})
	require.ErrorIs(t, err, repository.ErrUserAlreadyExists)

	got, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	email := "new@x.com"
	updated, err := repo.UpdateFields(ctx, id, domain.ProfileFields{Email: &email})
	require.NoError(t, err)
	assert.Equal(t, "new@x.com", updated.Email)

	updated, err = repo.UpdatePassword(ctx, id, "other")
	require.NoError(t, err)
	assert.Equal(t, "other", updated.PasswordHash)

	users, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	ok, err := repo.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUserRepository_InvalidID(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetByID(context.Background(), "not-an-object-id")
	assert.ErrorIs(t, err, repository.ErrUserNotFound)
}
