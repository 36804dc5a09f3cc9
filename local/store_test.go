package local

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-content/logger"
	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

func newTestStore(t *testing.T) (*Store, *utils.ManualClock) {
	t.Helper()
	clock := utils.NewManualClock(time.Date(2026, 4, 2, 9, 30, 15, 250_000_000, time.UTC))
	dir := t.TempDir()
	return NewStore(&types.LocalConfig{Path: filepath.Join(dir, "content.json")}, logger.NewNop(), clock), clock
}

func TestStore_LoadMissingFile(t *testing.T) {
	s, _ := newTestStore(t)

	assert.False(t, s.Exists())
	_, err := s.Load()
	assert.ErrorIs(t, err, types.ErrLocalStoreMissing)
}

func TestStore_LoadEmptyAndInvalid(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, os.WriteFile(s.Path(), []byte("  \n"), 0o644))
	db, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, db)

	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0o644))
	_, err = s.Load()
	assert.ErrorIs(t, err, types.ErrLocalStoreInvalid)
}

func TestStore_SaveAndLoad(t *testing.T) {
	s, _ := newTestStore(t)

	require.NoError(t, s.Save(types.ContentDatabase{
		"hero": map[string]interface{}{"v": float64(1)},
		"faq":  []interface{}{"q1"},
	}))
	assert.True(t, s.Exists())

	db, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"v": float64(1)}, db["hero"])
	assert.Equal(t, []interface{}{"q1"}, db["faq"])

	value, ok, err := s.Value("hero")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, map[string]interface{}{"v": float64(1)}, value)

	_, ok, err = s.Value("pricing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = os.Stat(s.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestStore_BackupNaming(t *testing.T) {
	s, clock := newTestStore(t)

	_, err := s.Backup()
	require.ErrorIs(t, err, types.ErrLocalStoreMissing)

	require.NoError(t, s.Save(types.ContentDatabase{"hero": "hi"}))

	first, err := s.Backup()
	require.NoError(t, err)
	assert.Equal(t, "content.backup-20260402-093015.250.json", filepath.Base(first))
	assert.Equal(t, filepath.Join(filepath.Dir(s.Path()), "backups"), filepath.Dir(first))

	clock.Advance(time.Minute)
	second, err := s.Backup()
	require.NoError(t, err)

	backups, err := s.Backups()
	require.NoError(t, err)
	assert.Equal(t, []string{first, second}, backups)

	original, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	copied, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, original, copied)
}
