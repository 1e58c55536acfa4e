package service

// Plan is the switch strategy chosen from the live connection and host state.
type Plan int

const (
	// PlanLiveReload rewrites the store and asks connected extensions to reload.
	PlanLiveReload Plan = iota + 1
	// PlanBlockedAwaitingExtension refuses: the editor runs but no extension listens.
	PlanBlockedAwaitingExtension
	// PlanColdRestart rewrites the store while the editor is down, then launches it.
	PlanColdRestart
)

// DecidePlan picks the strategy. A live connection wins regardless of hostRunning.
func DecidePlan(hasConnection, hostRunning bool) Plan {
	switch {
	case hasConnection:
		return PlanLiveReload
	case hostRunning:
		return PlanBlockedAwaitingExtension
	default:
		return PlanColdRestart
	}
}

func (p Plan) String() string {
	switch p {
	case PlanLiveReload:
		return "live_reload"
	case PlanBlockedAwaitingExtension:
		return "blocked_awaiting_extension"
	case PlanColdRestart:
		return "cold_restart"
	default:
		return "unknown"
	}
}

// MarshalText renders the plan name in JSON.
func (p Plan) MarshalText() ([]byte, error) { return []byte(p.String()), nil }
