package merge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-content/database"
	"github.com/saiset-co/sai-content/local"
	"github.com/saiset-co/sai-content/logger"
	"github.com/saiset-co/sai-content/policy"
	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

func newPolicies(t *testing.T, policies ...types.ContentPolicy) *policy.Manager {
	t.Helper()
	m, err := policy.NewManager(&types.ContentConfig{
		Global:       types.GlobalPolicy{Source: "contentsync", Version: "2.0.0"},
		Policies:     policies,
		Environments: map[string]types.GlobalOverlay{"none": {}},
	}, "none", policy.WithEnvironmentVariables(map[string]string{}))
	require.NoError(t, err)
	return m
}

func TestClassify(t *testing.T) {
	assert.Equal(t, types.ClassEqual, Classify(nil, nil, false, false))
	assert.Equal(t, types.ClassLocalNewer, Classify("a", nil, true, false))
	assert.Equal(t, types.ClassRemoteNewer, Classify(nil, "a", false, true))
	assert.Equal(t, types.ClassEqual, Classify(
		map[string]interface{}{"a": 1, "b": []interface{}{"x"}},
		map[string]interface{}{"b": []interface{}{"x"}, "a": float64(1)},
		true, true))
	assert.Equal(t, types.ClassConflict, Classify(map[string]interface{}{"v": 1}, map[string]interface{}{"v": 2}, true, true))
}

func TestStrategyFor(t *testing.T) {
	assert.Equal(t, types.StrategyManual, StrategyFor(types.PriorityHigh))
	assert.Equal(t, types.StrategyPreferRemote, StrategyFor(types.PriorityMedium))
	assert.Equal(t, types.StrategyPreferLocal, StrategyFor(types.PriorityLow))
}

func TestResolver_HeroConflictPrefersRemote(t *testing.T) {
	policies := newPolicies(t, types.ContentPolicy{Key: "hero", Priority: types.PriorityMedium})
	r := NewResolver(logger.NewNop(), policies, false)

	local := map[string]interface{}{"v": float64(1)}
	remote := map[string]interface{}{"v": float64(2)}

	c := r.Diff("hero", local, remote, true, true)
	assert.Equal(t, types.ClassConflict, c.Classification)
	assert.Equal(t, types.StrategyPreferRemote, c.Strategy)
	assert.Equal(t, types.ActionUseRemote, c.Action)

	merged, ok := c.Merged()
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"v": float64(2)}, merged)

	// same inputs, same answer
	assert.Equal(t, c, r.Diff("hero", local, remote, true, true))

	// applying the action converges both sides
	assert.Equal(t, types.ClassEqual, r.Diff("hero", merged, remote, true, true).Classification)
}

func TestResolver_ManualNeedsForce(t *testing.T) {
	policies := newPolicies(t, types.ContentPolicy{Key: "pricing", Priority: types.PriorityHigh})

	c := NewResolver(logger.NewNop(), policies, false).Diff("pricing", "a", "b", true, true)
	assert.Equal(t, types.StrategyManual, c.Strategy)
	assert.Equal(t, types.ActionNone, c.Action)
	_, ok := c.Merged()
	assert.False(t, ok)

	forced := NewResolver(logger.NewNop(), policies, true).Diff("pricing", "a", "b", true, true)
	assert.Equal(t, types.ActionUseLocal, forced.Action)
	assert.True(t, forced.Forced)
}

func TestResolver_ExpandDependencies(t *testing.T) {
	r := NewResolver(logger.NewNop(), newPolicies(t), false)

	// checkout -> pricing -> features: only one level is followed
	assert.Equal(t, []string{"checkout", "footer", "pricing", "navigation"}, r.ExpandDependencies([]string{"checkout", "footer"}))
	assert.Equal(t, []string{"pricing", "features"}, r.ExpandDependencies([]string{"pricing", "features"}))
}

type syncFixture struct {
	syncer *Syncer
	local  *local.Store
	remote *database.MemoryStore
}

func newSyncFixture(t *testing.T, seedLocal types.ContentDatabase) *syncFixture {
	t.Helper()

	clock := utils.NewManualClock(time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC))
	snapshot := local.NewStore(&types.LocalConfig{Path: filepath.Join(t.TempDir(), "content.json")}, logger.NewNop(), clock)
	if seedLocal != nil {
		require.NoError(t, snapshot.Save(seedLocal))
	}

	remote := database.NewMemoryStore(logger.NewNop(), "content")
	require.NoError(t, remote.Start())

	policies := newPolicies(t,
		types.ContentPolicy{Key: "hero", Priority: types.PriorityMedium},
		types.ContentPolicy{Key: "faq", Priority: types.PriorityLow},
		types.ContentPolicy{Key: "pricing", Priority: types.PriorityHigh, Dependencies: []string{"features"}},
		types.ContentPolicy{Key: "features", Priority: types.PriorityMedium},
	)

	return &syncFixture{
		syncer: NewSyncer(logger.NewNop(), policies, snapshot, remote, clock),
		local:  snapshot,
		remote: remote,
	}
}

func (f *syncFixture) seedRemote(t *testing.T, db types.ContentDatabase) {
	t.Helper()
	for key, value := range db {
		require.NoError(t, f.remote.Upsert(context.Background(), key, types.NewDocument(value, types.DocumentMeta{Source: "cms"})))
	}
}

func TestSyncer_SyncConvergesAndIsIdempotent(t *testing.T) {
	f := newSyncFixture(t, types.ContentDatabase{
		"hero":     map[string]interface{}{"v": float64(1)},
		"faq":      []interface{}{"local q"},
		"features": []interface{}{"a"},
		"pricing":  "local price",
	})
	f.seedRemote(t, types.ContentDatabase{
		"hero":    map[string]interface{}{"v": float64(2)},
		"faq":     []interface{}{"remote q"},
		"footer":  "remote footer",
		"pricing": "remote price",
	})
	ctx := context.Background()

	plan, err := f.syncer.Sync(ctx, Options{})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"faq", "features"}, plan.Pushed)
	assert.ElementsMatch(t, []string{"hero", "footer"}, plan.Pulled)
	assert.Equal(t, []string{"pricing"}, plan.Unresolved)
	assert.NotEmpty(t, plan.Backup)

	db, err := f.local.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"v": float64(2)}, db["hero"])
	assert.Equal(t, "remote footer", db["footer"])

	doc, err := f.remote.Get(ctx, "faq")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"local q"}, doc.Data)
	assert.Equal(t, "contentsync", doc.Meta.Source)

	again, err := f.syncer.Diff(ctx, nil, Options{})
	require.NoError(t, err)
	assert.Zero(t, again.Changes())
	assert.Equal(t, []string{"pricing"}, again.Unresolved)
	for _, c := range again.Conflicts {
		if c.Key != "pricing" {
			assert.Equal(t, types.ClassEqual, c.Classification, c.Key)
		}
	}
}

func TestSyncer_DryRunWritesNothing(t *testing.T) {
	seed := types.ContentDatabase{"hero": map[string]interface{}{"v": float64(1)}, "faq": []interface{}{"q"}}
	f := newSyncFixture(t, seed)
	f.seedRemote(t, types.ContentDatabase{"hero": map[string]interface{}{"v": float64(2)}})
	ctx := context.Background()

	before, err := os.ReadFile(f.local.Path())
	require.NoError(t, err)

	dry, err := f.syncer.Sync(ctx, Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, dry.DryRun)
	assert.Equal(t, []string{"faq"}, dry.Pushed)
	assert.Equal(t, []string{"hero"}, dry.Pulled)
	assert.Empty(t, dry.Backup)

	after, err := os.ReadFile(f.local.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = f.remote.Get(ctx, "faq")
	assert.ErrorIs(t, err, types.ErrDocumentNotFound)

	backups, err := f.local.Backups()
	require.NoError(t, err)
	assert.Empty(t, backups)

	real, err := f.syncer.Sync(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, dry.Pushed, real.Pushed)
	assert.Equal(t, dry.Pulled, real.Pulled)
	assert.Equal(t, dry.Conflicts, real.Conflicts)
}

func TestSyncer_PushExpandsDependenciesAndForcesManual(t *testing.T) {
	f := newSyncFixture(t, types.ContentDatabase{
		"pricing":  "local price",
		"features": []interface{}{"a"},
	})
	f.seedRemote(t, types.ContentDatabase{"pricing": "remote price"})
	ctx := context.Background()

	plan, err := f.syncer.Push(ctx, []string{"pricing"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"pricing", "features"}, plan.Keys)
	assert.Equal(t, []string{"features"}, plan.Pushed)
	assert.Equal(t, []string{"pricing"}, plan.Unresolved)

	plan, err = f.syncer.Push(ctx, []string{"pricing"}, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"pricing"}, plan.Pushed)

	doc, err := f.remote.Get(ctx, "pricing")
	require.NoError(t, err)
	assert.Equal(t, "local price", doc.Data)
}

func TestSyncer_PushDefersRemoteWins(t *testing.T) {
	f := newSyncFixture(t, types.ContentDatabase{"hero": map[string]interface{}{"v": float64(1)}})
	f.seedRemote(t, types.ContentDatabase{"hero": map[string]interface{}{"v": float64(2)}})
	ctx := context.Background()

	plan, err := f.syncer.Push(ctx, []string{"hero"}, Options{})
	require.NoError(t, err)
	assert.Empty(t, plan.Pushed)
	assert.Empty(t, plan.Pulled)
	assert.Empty(t, plan.Unresolved)
	assert.Equal(t, []string{"hero"}, plan.Deferred)
	require.Len(t, plan.Conflicts, 1)
	assert.Equal(t, types.ActionUseRemote, plan.Conflicts[0].Action)

	doc, err := f.remote.Get(ctx, "hero")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"v": float64(2)}, doc.Data)

	// sync applies the deferred change to the lagging side
	synced, err := f.syncer.Sync(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"hero"}, synced.Pulled)
	assert.Empty(t, synced.Deferred)
}

func TestSyncer_PullDefersLocalWins(t *testing.T) {
	f := newSyncFixture(t, types.ContentDatabase{"faq": []interface{}{"local q"}})
	f.seedRemote(t, types.ContentDatabase{"faq": []interface{}{"remote q"}})

	plan, err := f.syncer.Pull(context.Background(), []string{"faq"}, Options{})
	require.NoError(t, err)
	assert.Empty(t, plan.Pulled)
	assert.Equal(t, []string{"faq"}, plan.Deferred)

	db, err := f.local.Load()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"local q"}, db["faq"])
}

func TestSyncer_PriorityFilter(t *testing.T) {
	f := newSyncFixture(t, types.ContentDatabase{"hero": "h", "faq": "f"})

	plan, err := f.syncer.Push(context.Background(), nil, Options{Priority: types.PriorityLow, DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"faq"}, plan.Keys)
	assert.Equal(t, []string{"hero"}, plan.Skipped)
}

func TestSyncer_PullCreatesMissingSnapshot(t *testing.T) {
	f := newSyncFixture(t, nil)
	f.seedRemote(t, types.ContentDatabase{"hero": "remote hero", "faq": []interface{}{"q"}})

	plan, err := f.syncer.Pull(context.Background(), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"faq", "hero"}, plan.Pulled)
	assert.Empty(t, plan.Backup)

	db, err := f.local.Load()
	require.NoError(t, err)
	assert.Equal(t, "remote hero", db["hero"])
}

func TestSyncer_MissingLocalIsFatal(t *testing.T) {
	f := newSyncFixture(t, nil)
	ctx := context.Background()

	_, err := f.syncer.Push(ctx, nil, Options{})
	assert.ErrorIs(t, err, types.ErrLocalStoreMissing)
	_, err = f.syncer.Sync(ctx, Options{})
	assert.ErrorIs(t, err, types.ErrLocalStoreMissing)
	_, err = f.syncer.Diff(ctx, nil, Options{})
	assert.ErrorIs(t, err, types.ErrLocalStoreMissing)
	_, err = f.syncer.Backup(ctx)
	assert.ErrorIs(t, err, types.ErrLocalStoreMissing)
}

func TestSyncer_Validate(t *testing.T) {
	f := newSyncFixture(t, types.ContentDatabase{"hero": "h"})
	assert.True(t, f.syncer.Validate().IsValid)

	require.NoError(t, os.WriteFile(f.local.Path(), []byte("{broken"), 0o644))
	result := f.syncer.Validate()
	assert.False(t, result.IsValid)
	require.Len(t, result.Errors, 1)
}
