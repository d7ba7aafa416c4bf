package calls

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openGormTestRepo(t *testing.T) *GormRepo {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	// :memory: databases are per-connection.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	repo := NewGormRepo(db)
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

// Both stores must honor the same contract.
func repoImplementations(t *testing.T) map[string]Repository {
	return map[string]Repository{
		"memory": NewMemoryRepo(),
		"gorm":   openGormTestRepo(t),
	}
}

func TestRepository_Contract(t *testing.T) {
	for name, repo := range repoImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedCall(t, repo, "11111111-1111-1111-1111-111111111111", StrategyNativeTelephony, CallStatusInitiated, t0)
			seedCall(t, repo, "22222222-2222-2222-2222-222222222222", StrategyGenerativeAudio, CallStatusInitiated, t0.Add(time.Second))
			seedCall(t, repo, "33333333-3333-3333-3333-333333333333", StrategyNativeTelephony, CallStatusInitiated, t0.Add(2*time.Second))

			_, err := repo.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, repo.SetProviderCallID(ctx, "11111111-1111-1111-1111-111111111111", "CA1", t0.Add(time.Second)))
			assert.ErrorIs(t, repo.SetProviderCallID(ctx, "missing", "CA1", t0), ErrNotFound)

			ok, err := repo.TransitionStatus(ctx, "11111111-1111-1111-1111-111111111111", CallStatusInitiated, CallStatusRinging, t0.Add(2*time.Second))
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = repo.TransitionStatus(ctx, "11111111-1111-1111-1111-111111111111", CallStatusInitiated, CallStatusInProgress, t0.Add(3*time.Second))
			require.NoError(t, err)
			assert.False(t, ok, "stale from-status must not match")

			_, err = repo.TransitionStatus(ctx, "missing", CallStatusInitiated, CallStatusRinging, t0)
			assert.ErrorIs(t, err, ErrNotFound)

			res := DetectionResult{
				SchemaVersion:    ResultSchemaVersion,
				AMDStatus:        AMDMachine,
				Confidence:       0.9,
				Provider:         "twilio",
				Provenance:       ProvenanceLive,
				DetectedPatterns: []string{"voicemail"},
				DetectedAt:       t0.Add(4 * time.Second),
			}
			ok, err = repo.Finalize(ctx, "11111111-1111-1111-1111-111111111111", CallStatusCompleted, res, t0.Add(4*time.Second))
			require.NoError(t, err)
			assert.True(t, ok)

			other := res
			other.AMDStatus = AMDHuman
			ok, err = repo.Finalize(ctx, "11111111-1111-1111-1111-111111111111", CallStatusError, other, t0.Add(5*time.Second))
			require.NoError(t, err)
			assert.False(t, ok, "terminal calls must not be finalized twice")

			c, err := repo.Get(ctx, "11111111-1111-1111-1111-111111111111")
			require.NoError(t, err)
			assert.Equal(t, CallStatusCompleted, c.Status)
			assert.Equal(t, "CA1", c.ProviderCallID)
			require.NotNil(t, c.Result)
			assert.Equal(t, AMDMachine, c.Result.AMDStatus)
			assert.Equal(t, []string{"voicemail"}, c.Result.DetectedPatterns)
			assert.Equal(t, 4*time.Second, c.Latency())

			all, err := repo.List(ctx, ListFilter{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "33333333-3333-3333-3333-333333333333", all[0].ID, "most recent first")

			page, err := repo.List(ctx, ListFilter{Limit: 1, Offset: 1})
			require.NoError(t, err)
			require.Len(t, page, 1)
			assert.Equal(t, "22222222-2222-2222-2222-222222222222", page[0].ID)

			open, err := repo.List(ctx, ListFilter{
				Statuses:      []CallStatus{CallStatusInitiated},
				Strategy:      StrategyNativeTelephony,
				UpdatedBefore: t0.Add(10 * time.Second),
			})
			require.NoError(t, err)
			require.Len(t, open, 1)
			assert.Equal(t, "33333333-3333-3333-3333-333333333333", open[0].ID)

			n, err := repo.DeleteAll(ctx)
			require.NoError(t, err)
			assert.EqualValues(t, 3, n)

			all, err = repo.List(ctx, ListFilter{})
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestGormRepo_UndecodableResult(t *testing.T) {
	repo := openGormTestRepo(t)
	ctx := context.Background()
	seedCall(t, repo, "c1", StrategyMLInference, CallStatusInitiated, t0)
	require.NoError(t, repo.db.Model(&callRecord{}).Where("id = ?", "c1").Update("raw_result", "{broken").Error)

	c, err := repo.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, c.Result)
	assert.True(t, c.ResultUndecodable)
}
