package local

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

const backupTimeLayout = "20060102-150405.000"

// Store is the local JSON snapshot: one file whose top-level keys mirror the
// remote document ids.
type Store struct {
	path      string
	backupDir string
	logger    types.Logger
	clock     types.Clock
	mu        sync.Mutex
}

func NewStore(config *types.LocalConfig, logger types.Logger, clock types.Clock) *Store {
	if clock == nil {
		clock = utils.NewSystemClock()
	}

	backupDir := config.BackupDir
	if backupDir == "" {
		backupDir = filepath.Join(filepath.Dir(config.Path), "backups")
	}

	return &Store{
		path:      config.Path,
		backupDir: backupDir,
		logger:    logger,
		clock:     clock,
	}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Load reads the whole snapshot. A missing file yields ErrLocalStoreMissing.
func (s *Store) Load() (types.ContentDatabase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadLocked()
}

func (s *Store) loadLocked() (types.ContentDatabase, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, types.Errorf(types.ErrLocalStoreMissing, "%s", s.path)
	}
	if err != nil {
		return nil, types.WrapError(err, "failed to read local content")
	}

	db := make(types.ContentDatabase)
	if len(strings.TrimSpace(string(data))) == 0 {
		return db, nil
	}

	if err := utils.Unmarshal(data, &db); err != nil {
		return nil, types.Errorf(types.ErrLocalStoreInvalid, "%s: %v", s.path, err)
	}

	return db, nil
}

// Save replaces the snapshot atomically.
func (s *Store) Save(db types.ContentDatabase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db == nil {
		db = make(types.ContentDatabase)
	}

	data, err := utils.MarshalIndent(db)
	if err != nil {
		return types.WrapError(err, "failed to encode local content")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return types.WrapError(err, "failed to create local content directory")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return types.WrapError(err, "failed to write local content")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return types.WrapError(err, "failed to replace local content")
	}

	s.logger.Debug("Local content saved", zap.String("path", s.path), zap.Int("keys", len(db)))
	return nil
}

// Backup copies the current snapshot to <backup_dir>/<base>.backup-<timestamp>.json
// and returns the written path.
func (s *Store) Backup() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "", types.Errorf(types.ErrLocalStoreMissing, "%s", s.path)
	}
	if err != nil {
		return "", types.WrapError(err, "failed to read local content")
	}

	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", types.WrapError(err, "failed to create backup directory")
	}

	base := strings.TrimSuffix(filepath.Base(s.path), filepath.Ext(s.path))
	stamp := s.clock.Now().UTC().Format(backupTimeLayout)
	target := filepath.Join(s.backupDir, base+".backup-"+stamp+".json")

	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", types.WrapError(err, "failed to write backup")
	}

	s.logger.Info("Local content backed up", zap.String("backup", target))
	return target, nil
}

// Backups lists existing backup files, oldest first.
func (s *Store) Backups() ([]string, error) {
	base := strings.TrimSuffix(filepath.Base(s.path), filepath.Ext(s.path))
	matches, err := filepath.Glob(filepath.Join(s.backupDir, base+".backup-*.json"))
	if err != nil {
		return nil, types.WrapError(err, "failed to list backups")
	}
	return matches, nil
}

func (s *Store) Value(key string) (interface{}, bool, error) {
	db, err := s.Load()
	if err != nil {
		return nil, false, err
	}

	value, ok := db[key]
	return value, ok, nil
}
