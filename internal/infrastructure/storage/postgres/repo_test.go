package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pnlrelay/internal/domain/model"
)

// 需要真实数据库：PNLRELAY_TEST_POSTGRES_DSN=postgres://... go test ./...
func TestPostgresRepoFindOpenPositions(t *testing.T) {
	dsn := os.Getenv("PNLRELAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PNLRELAY_TEST_POSTGRES_DSN not set")
	}

	repo, err := New(dsn)
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	wallet := "test-" + uuid.NewString()
	id := uuid.NewString()

	require.NoError(t, repo.CreatePosition(ctx, model.Position{
		ID: id, Owner: wallet, LongIndex: 0, ShortIndex: 1,
		EntryRatio: 2, Capital: 1000, Leverage: 5, LongWeight: 0.5, ShortWeight: 0.5,
	}))

	got, err := repo.FindOpenPositions(ctx, wallet)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, model.PositionOpen, got[0].Status)

	require.NoError(t, repo.SetStatus(ctx, id, model.PositionClosed))
	got, err = repo.FindOpenPositions(ctx, wallet)
	require.NoError(t, err)
	assert.Empty(t, got)
}
