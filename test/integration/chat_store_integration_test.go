package integration

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"random-chat-be/internal/entity"
	"random-chat-be/internal/model"
	"random-chat-be/internal/pkg/logger"
	"random-chat-be/internal/repository/unitofwork"
	"random-chat-be/internal/service"
	"random-chat-be/pkg/database"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	if err := godotenv.Load("../../.env"); err != nil {
		t.Logf("Warning: Could not load ../../.env: %v", err)
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		t.Skip("DB_CONNECTION_STRING not set, skipping postgres integration test")
	}

	db, err := database.NewGormDBFromDSN(dsn, false)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.ChatUser{}))
	return db
}

// userRange reserves ids unlikely to collide with other runs and removes them afterwards.
func userRange(t *testing.T, db *gorm.DB, n int) []int64 {
	t.Helper()
	base := (time.Now().UnixNano() % 1_000_000_000) * 1000
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = base + int64(i) + 1
	}
	t.Cleanup(func() {
		db.Where("id IN ?", ids).Delete(&model.ChatUser{})
	})
	return ids
}

func TestPostgresConcurrentMatchmaking(t *testing.T) {
	db := setupDB(t)
	ids := userRange(t, db, 24)
	store := service.NewStateStore(unitofwork.NewRepositoryFactory(db), 10, logger.NewNopLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if !assert.NoError(t, store.SetSearching(ctx, id)) {
				return
			}
			_, err := store.TryFormPair(ctx, id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	// A late pass pairs anyone left waiting by interleaving.
	for _, id := range ids {
		state, err := store.GetState(ctx, id)
		require.NoError(t, err)
		if state == entity.UserStateSearching {
			_, err := store.TryFormPair(ctx, id)
			require.NoError(t, err)
		}
	}

	paired := 0
	for _, id := range ids {
		partner, err := store.GetPartner(ctx, id)
		require.NoError(t, err)
		if !partner.IsHuman() {
			continue
		}
		paired++

		back, err := store.GetPartner(ctx, partner.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.HumanPartner(id), back, "pair %d-%d not symmetric", id, partner.ID)
	}
	assert.Equal(t, len(ids), paired)
}

func TestPostgresConditionalAutomationPairing(t *testing.T) {
	db := setupDB(t)
	ids := userRange(t, db, 2)
	store := service.NewStateStore(unitofwork.NewRepositoryFactory(db), 5, logger.NewNopLogger())
	ctx := context.Background()

	require.NoError(t, store.SetSearching(ctx, ids[0]))
	ok, err := store.SetAutomationPair(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, ok)

	state, err := store.GetState(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, entity.UserStatePairedAutomation, state)

	// A stale timeout must not override an idle user.
	ok, err = store.SetAutomationPair(ctx, ids[1])
	require.NoError(t, err)
	assert.False(t, ok)

	former, err := store.BreakPair(ctx, ids[0])
	require.NoError(t, err)
	assert.True(t, former.IsAutomation())
}
