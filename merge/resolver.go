package merge

import (
	"bytes"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

// Classify compares one key across both sides. Values are equal when their
// canonical JSON encodings match.
func Classify(local, remote interface{}, localOK, remoteOK bool) types.Classification {
	switch {
	case !localOK && !remoteOK:
		return types.ClassEqual
	case localOK && !remoteOK:
		return types.ClassLocalNewer
	case !localOK && remoteOK:
		return types.ClassRemoteNewer
	case Equal(local, remote):
		return types.ClassEqual
	default:
		return types.ClassConflict
	}
}

func Equal(a, b interface{}) bool {
	left, err := canonical(a)
	if err != nil {
		return false
	}
	right, err := canonical(b)
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}

func canonical(v interface{}) ([]byte, error) {
	normalized, err := utils.Normalize(v)
	if err != nil {
		return nil, err
	}
	return utils.MarshalCanonical(normalized)
}

func StrategyFor(priority types.Priority) types.ResolutionStrategy {
	switch priority {
	case types.PriorityHigh:
		return types.StrategyManual
	case types.PriorityLow:
		return types.StrategyPreferLocal
	default:
		return types.StrategyPreferRemote
	}
}

type PolicySource interface {
	GetContentConfig(key string) types.ContentPolicy
}

type Resolver struct {
	logger   types.Logger
	policies PolicySource
	force    bool
}

// NewResolver builds a resolver. With force set, manual conflicts fall back
// to the local value.
func NewResolver(logger types.Logger, policies PolicySource, force bool) *Resolver {
	return &Resolver{
		logger:   logger,
		policies: policies,
		force:    force,
	}
}

func (r *Resolver) Diff(key string, local, remote interface{}, localOK, remoteOK bool) types.SyncConflict {
	conflict := types.SyncConflict{
		Key:            key,
		LocalValue:     local,
		RemoteValue:    remote,
		Classification: Classify(local, remote, localOK, remoteOK),
		Action:         types.ActionNone,
	}

	switch conflict.Classification {
	case types.ClassLocalNewer:
		conflict.Action = types.ActionUseLocal
	case types.ClassRemoteNewer:
		conflict.Action = types.ActionUseRemote
	case types.ClassConflict:
		conflict.Strategy = StrategyFor(r.policies.GetContentConfig(key).Priority)
		conflict.Action = r.resolve(key, conflict.Strategy)
		if conflict.Strategy == types.StrategyManual && r.force {
			conflict.Forced = true
		}
	}

	return conflict
}

func (r *Resolver) resolve(key string, strategy types.ResolutionStrategy) types.ResolvedAction {
	switch strategy {
	case types.StrategyPreferLocal:
		return types.ActionUseLocal
	case types.StrategyPreferRemote:
		return types.ActionUseRemote
	case types.StrategyManual:
		if !r.force {
			return types.ActionNone
		}
		r.logger.Warn("Manual review bypassed, keeping local value", zap.String("key", key))
		return types.ActionUseLocal
	default:
		return types.ActionNone
	}
}

// ExpandDependencies adds the direct dependencies of every requested key.
// Order is preserved and duplicates are dropped.
func (r *Resolver) ExpandDependencies(keys []string) []string {
	out := utils.AppendUnique(nil, keys...)
	for _, key := range keys {
		out = utils.AppendUnique(out, r.policies.GetContentConfig(key).Dependencies...)
	}
	return out
}
