package types

type Classification string

const (
	ClassEqual       Classification = "equal"
	ClassLocalNewer  Classification = "local-newer"
	ClassRemoteNewer Classification = "remote-newer"
	ClassConflict    Classification = "conflict"
)

type ResolutionStrategy string

const (
	StrategyNone         ResolutionStrategy = ""
	StrategyManual       ResolutionStrategy = "manual"
	StrategyPreferLocal  ResolutionStrategy = "prefer-local"
	StrategyPreferRemote ResolutionStrategy = "prefer-remote"
)

type ResolvedAction string

const (
	ActionNone      ResolvedAction = "none"
	ActionUseLocal  ResolvedAction = "use-local"
	ActionUseRemote ResolvedAction = "use-remote"
)

type SyncConflict struct {
	Key            string             `json:"key"`
	LocalValue     interface{}        `json:"local_value,omitempty"`
	RemoteValue    interface{}        `json:"remote_value,omitempty"`
	Classification Classification     `json:"classification"`
	Strategy       ResolutionStrategy `json:"strategy,omitempty"`
	Action         ResolvedAction     `json:"action"`
	Forced         bool               `json:"forced,omitempty"`
}

// Merged returns the value both sides should hold after the action is applied.
func (c SyncConflict) Merged() (interface{}, bool) {
	switch c.Action {
	case ActionUseLocal:
		return c.LocalValue, true
	case ActionUseRemote:
		return c.RemoteValue, true
	default:
		return nil, false
	}
}
