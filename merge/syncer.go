package merge

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-content/local"
	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

type Operation string

const (
	OperationPush Operation = "push"
	OperationPull Operation = "pull"
	OperationSync Operation = "sync"
	OperationDiff Operation = "diff"
)

type Options struct {
	DryRun   bool
	Force    bool
	Verbose  bool
	Priority types.Priority
}

// Plan is the outcome of one run. A dry run returns the same plan a real run
// would have applied. Deferred holds keys resolved toward the side the
// operation does not write, such as a remote win during push.
type Plan struct {
	Operation  Operation            `json:"operation"`
	DryRun     bool                 `json:"dry_run"`
	Keys       []string             `json:"keys"`
	Conflicts  []types.SyncConflict `json:"conflicts"`
	Pushed     []string             `json:"pushed"`
	Pulled     []string             `json:"pulled"`
	Unresolved []string             `json:"unresolved"`
	Skipped    []string             `json:"skipped"`
	Deferred   []string             `json:"deferred"`
	Failed     []string             `json:"failed,omitempty"`
	Backup     string               `json:"backup,omitempty"`
}

func (p *Plan) Changes() int {
	return len(p.Pushed) + len(p.Pulled)
}

type SyncPolicies interface {
	PolicySource
	GetGlobalConfig() types.GlobalPolicy
	ValidateConfig() types.ValidationResult
}

// Syncer moves content between the local snapshot and the remote store.
type Syncer struct {
	logger   types.Logger
	policies SyncPolicies
	local    *local.Store
	remote   types.DocumentStore
	clock    types.Clock
}

func NewSyncer(logger types.Logger, policies SyncPolicies, localStore *local.Store, remote types.DocumentStore, clock types.Clock) *Syncer {
	if clock == nil {
		clock = utils.NewSystemClock()
	}

	return &Syncer{
		logger:   logger,
		policies: policies,
		local:    localStore,
		remote:   remote,
		clock:    clock,
	}
}

// Push copies local values to the remote store for the requested keys and
// their dependencies. An empty key list means every local key.
func (s *Syncer) Push(ctx context.Context, keys []string, opts Options) (*Plan, error) {
	localDB, err := s.local.Load()
	if err != nil {
		return nil, err
	}

	if len(keys) == 0 {
		keys = sortedKeys(localDB)
	}
	keys = NewResolver(s.logger, s.policies, opts.Force).ExpandDependencies(keys)

	plan, remoteDB, err := s.plan(ctx, OperationPush, keys, localDB, opts)
	if err != nil {
		return nil, err
	}

	return plan, s.apply(ctx, plan, localDB, remoteDB, true, false, opts)
}

// Pull copies remote values into the local snapshot. The snapshot is backed
// up before it is overwritten. A missing snapshot is created.
func (s *Syncer) Pull(ctx context.Context, keys []string, opts Options) (*Plan, error) {
	localDB, err := s.local.Load()
	if types.IsError(err, types.ErrLocalStoreMissing) {
		localDB = make(types.ContentDatabase)
	} else if err != nil {
		return nil, err
	}

	if len(keys) == 0 {
		remoteDB, err := s.listRemote(ctx)
		if err != nil {
			return nil, err
		}
		keys = sortedKeys(remoteDB)
	}

	plan, remoteDB, err := s.plan(ctx, OperationPull, keys, localDB, opts)
	if err != nil {
		return nil, err
	}

	return plan, s.apply(ctx, plan, localDB, remoteDB, false, true, opts)
}

// Sync reconciles every key present on either side in both directions.
func (s *Syncer) Sync(ctx context.Context, opts Options) (*Plan, error) {
	localDB, err := s.local.Load()
	if err != nil {
		return nil, err
	}

	remoteDB, err := s.listRemote(ctx)
	if err != nil {
		return nil, err
	}

	keys := utils.AppendUnique(sortedKeys(localDB), sortedKeys(remoteDB)...)
	sort.Strings(keys)

	plan, remoteDB, err := s.plan(ctx, OperationSync, keys, localDB, opts)
	if err != nil {
		return nil, err
	}

	return plan, s.apply(ctx, plan, localDB, remoteDB, true, true, opts)
}

// Diff reports what Sync would do for the given keys without writing.
func (s *Syncer) Diff(ctx context.Context, keys []string, opts Options) (*Plan, error) {
	localDB, err := s.local.Load()
	if err != nil {
		return nil, err
	}

	if len(keys) == 0 {
		remoteDB, err := s.listRemote(ctx)
		if err != nil {
			return nil, err
		}
		keys = utils.AppendUnique(sortedKeys(localDB), sortedKeys(remoteDB)...)
		sort.Strings(keys)
	}

	opts.DryRun = true
	plan, _, err := s.plan(ctx, OperationDiff, keys, localDB, opts)
	if err != nil {
		return nil, err
	}

	s.classify(plan, true, true)
	return plan, nil
}

func (s *Syncer) Backup(_ context.Context) (string, error) {
	return s.local.Backup()
}

// Validate checks the policy table and, when present, the local snapshot.
func (s *Syncer) Validate() types.ValidationResult {
	result := s.policies.ValidateConfig()

	if s.local.Exists() {
		if _, err := s.local.Load(); err != nil {
			result.Errors = append(result.Errors, err.Error())
			result.IsValid = false
		}
	}

	return result
}

func (s *Syncer) listRemote(ctx context.Context) (types.ContentDatabase, error) {
	docs, err := s.remote.List(ctx)
	if err != nil {
		return nil, types.Errorf(types.ErrRemoteStoreFailed, "list: %v", err)
	}

	db := make(types.ContentDatabase, len(docs))
	for key, doc := range docs {
		db[key] = doc.Data
	}
	return db, nil
}

func (s *Syncer) plan(ctx context.Context, op Operation, keys []string, localDB types.ContentDatabase, opts Options) (*Plan, types.ContentDatabase, error) {
	resolver := NewResolver(s.logger, s.policies, opts.Force)

	plan := &Plan{
		Operation:  op,
		DryRun:     opts.DryRun,
		Keys:       []string{},
		Conflicts:  []types.SyncConflict{},
		Pushed:     []string{},
		Pulled:     []string{},
		Unresolved: []string{},
		Skipped:    []string{},
		Deferred:   []string{},
	}

	remoteDB := make(types.ContentDatabase)

	for _, key := range keys {
		if opts.Priority != "" && s.policies.GetContentConfig(key).Priority != opts.Priority {
			plan.Skipped = append(plan.Skipped, key)
			continue
		}

		remoteValue, remoteOK, err := s.fetchRemote(ctx, key)
		if err != nil {
			return nil, nil, err
		}
		if remoteOK {
			remoteDB[key] = remoteValue
		}

		localValue, localOK := localDB[key]

		conflict := resolver.Diff(key, localValue, remoteValue, localOK, remoteOK)
		plan.Keys = append(plan.Keys, key)
		plan.Conflicts = append(plan.Conflicts, conflict)

		level := s.logger.Debug
		if opts.Verbose {
			level = s.logger.Info
		}
		level("Content compared",
			zap.String("key", key),
			zap.String("classification", string(conflict.Classification)),
			zap.String("strategy", string(conflict.Strategy)),
			zap.String("action", string(conflict.Action)))
	}

	return plan, remoteDB, nil
}

func (s *Syncer) fetchRemote(ctx context.Context, key string) (interface{}, bool, error) {
	doc, err := s.remote.Get(ctx, key)
	if types.IsError(err, types.ErrDocumentNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, types.Errorf(types.ErrRemoteStoreFailed, "get %s: %v", key, err)
	}
	return doc.Data, true, nil
}

// classify sorts the resolved conflicts into the plan's outcome lists for
// the directions the operation is allowed to write.
func (s *Syncer) classify(plan *Plan, toRemote, toLocal bool) {
	for _, c := range plan.Conflicts {
		switch {
		case c.Action == types.ActionUseLocal && toRemote:
			plan.Pushed = append(plan.Pushed, c.Key)
		case c.Action == types.ActionUseRemote && toLocal:
			plan.Pulled = append(plan.Pulled, c.Key)
		case c.Action == types.ActionUseLocal || c.Action == types.ActionUseRemote:
			plan.Deferred = append(plan.Deferred, c.Key)
		case c.Classification == types.ClassConflict && c.Action == types.ActionNone:
			plan.Unresolved = append(plan.Unresolved, c.Key)
		}
	}
}

func (s *Syncer) apply(ctx context.Context, plan *Plan, localDB, remoteDB types.ContentDatabase, toRemote, toLocal bool, opts Options) error {
	s.classify(plan, toRemote, toLocal)

	if len(plan.Unresolved) > 0 {
		s.logger.Warn("Conflicts need manual review", zap.Strings("keys", plan.Unresolved))
	}
	if len(plan.Deferred) > 0 {
		s.logger.Warn("Resolved changes point the other way, run sync to apply them",
			zap.String("operation", string(plan.Operation)),
			zap.Strings("keys", plan.Deferred))
	}

	if opts.DryRun {
		s.logger.Info("Dry run, nothing written",
			zap.String("operation", string(plan.Operation)),
			zap.Strings("push", plan.Pushed),
			zap.Strings("pull", plan.Pulled))
		return nil
	}

	global := s.policies.GetGlobalConfig()
	meta := types.DocumentMeta{
		UpdatedAt: s.clock.Now().UTC(),
		Source:    global.Source,
		Version:   global.Version,
	}

	pushed := plan.Pushed[:0:0]
	for _, key := range plan.Pushed {
		if err := s.remote.Upsert(ctx, key, types.NewDocument(localDB[key], meta)); err != nil {
			s.logger.Error("Failed to push content", zap.String("key", key), zap.Error(err))
			plan.Failed = append(plan.Failed, key)
			continue
		}
		pushed = append(pushed, key)
	}
	plan.Pushed = pushed

	if len(plan.Pulled) > 0 {
		if err := s.writeLocal(plan, localDB, remoteDB); err != nil {
			return err
		}
	}

	s.logger.Info("Content synchronized",
		zap.String("operation", string(plan.Operation)),
		zap.Int("pushed", len(plan.Pushed)),
		zap.Int("pulled", len(plan.Pulled)),
		zap.Int("unresolved", len(plan.Unresolved)))

	if len(plan.Failed) > 0 {
		return types.Errorf(types.ErrSyncFailed, "%d keys failed: %s", len(plan.Failed), strings.Join(plan.Failed, ", "))
	}
	return nil
}

func (s *Syncer) writeLocal(plan *Plan, localDB, remoteDB types.ContentDatabase) error {
	if s.local.Exists() {
		backup, err := s.local.Backup()
		if err != nil {
			s.logger.Warn("Backup before pull failed, continuing", zap.Error(err))
		} else {
			plan.Backup = backup
		}
	}

	for _, key := range plan.Pulled {
		localDB[key] = remoteDB[key]
	}

	if err := s.local.Save(localDB); err != nil {
		plan.Failed = append(plan.Failed, plan.Pulled...)
		plan.Pulled = []string{}
		return types.Errorf(types.ErrSyncFailed, "save local content: %v", err)
	}

	return nil
}

func sortedKeys(db types.ContentDatabase) []string {
	keys := make([]string, 0, len(db))
	for key := range db {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
