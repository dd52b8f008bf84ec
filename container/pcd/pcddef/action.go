package pcddef

import "fmt"

// Engine identifies the next engine of an Action.
type Engine string

// Engine values.
const (
	EngineDone    Engine = "done"
	EngineKeygen  Engine = "keygen"
	EnginePolicer Engine = "policer"
	EngineNode    Engine = "node"
)

// Engines lists valid Engine values.
var Engines = []Engine{EngineDone, EngineKeygen, EnginePolicer, EngineNode}

// Action describes what happens to a frame that matched a key, missed all keys, or selected a tree entry.
type Action struct {
	Engine Engine `json:"engine"`

	// Drop discards the frame instead of enqueuing it. EngineDone only.
	Drop bool `json:"drop,omitempty"`

	// OverrideFqid replaces the frame queue with NewFqid.
	// With EnginePolicer it also overrides the policer profile.
	OverrideFqid bool   `json:"overrideFqid,omitempty"`
	NewFqid      uint32 `json:"newFqid,omitempty"`

	// Statistics enables the hit counter of the record.
	Statistics bool `json:"statistics,omitempty"`

	// Scheme is the direct keygen scheme. EngineKeygen only.
	Scheme uint8 `json:"scheme,omitempty"`

	// Profile is the policer profile; SharedProfile selects absolute addressing. EnginePolicer only.
	Profile       uint16 `json:"profile,omitempty"`
	SharedProfile bool   `json:"sharedProfile,omitempty"`

	// Node is the child node. EngineNode only.
	Node NodeID `json:"node,omitempty"`

	// Manip is an optional attached manipulation.
	Manip ManipID `json:"manip,omitempty"`
}

// Enqueue returns an Action that enqueues the frame to the default queue.
func Enqueue() Action {
	return Action{Engine: EngineDone}
}

// Discard returns an Action that drops the frame.
func Discard() Action {
	return Action{Engine: EngineDone, Drop: true}
}

// ToKeygen returns an Action that hands the frame to a direct keygen scheme.
func ToKeygen(scheme uint8) Action {
	return Action{Engine: EngineKeygen, Scheme: scheme}
}

// ToPolicer returns an Action that hands the frame to a policer profile.
func ToPolicer(profile uint16, shared bool) Action {
	return Action{Engine: EnginePolicer, Profile: profile, SharedProfile: shared}
}

// ToNode returns an Action that continues lookup in a child node.
func ToNode(node NodeID) Action {
	return Action{Engine: EngineNode, Node: node}
}

// WithFqid returns a copy that overrides the frame queue.
func (act Action) WithFqid(fqid uint32) Action {
	act.OverrideFqid, act.NewFqid = true, fqid
	return act
}

// WithStatistics returns a copy with the hit counter enabled.
func (act Action) WithStatistics() Action {
	act.Statistics = true
	return act
}

// WithManip returns a copy with an attached manipulation.
func (act Action) WithManip(m ManipID) Action {
	act.Manip = m
	return act
}

// Child returns the child node if Engine is EngineNode.
func (act Action) Child() (NodeID, bool) {
	return act.Node, act.Engine == EngineNode && act.Node != 0
}

// Validate checks that the action is self-consistent.
// It does not check whether referenced nodes or manipulations exist.
func (act Action) Validate() error {
	switch act.Engine {
	case EngineDone, EngineKeygen, EnginePolicer:
		if act.Node != 0 {
			return fmt.Errorf("%w: node reference on %s engine", ErrConfig, act.Engine)
		}
		if act.OverrideFqid && (act.NewFqid == 0 || act.NewFqid > MaxFqid) {
			return fmt.Errorf("%w: fqid override %d out of range", ErrConfig, act.NewFqid)
		}
	case EngineNode:
		if act.Node == 0 {
			return fmt.Errorf("%w: node engine without node", ErrConfig)
		}
		if act.OverrideFqid || act.Statistics {
			return fmt.Errorf("%w: node engine cannot override fqid or keep statistics", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: next engine %q not supported", ErrConfig, act.Engine)
	}

	if act.Drop {
		if act.Engine != EngineDone {
			return fmt.Errorf("%w: drop on %s engine", ErrConfig, act.Engine)
		}
		if act.OverrideFqid {
			return fmt.Errorf("%w: drop cannot override fqid", ErrConfig)
		}
	}
	if act.Engine == EngineKeygen && act.Scheme >= MaxSchemes {
		return fmt.Errorf("%w: keygen scheme %d out of range", ErrConfig, act.Scheme)
	}
	if act.Engine == EnginePolicer && act.Profile >= MaxPolicerProfiles {
		return fmt.Errorf("%w: policer profile %d out of range", ErrConfig, act.Profile)
	}
	return nil
}

func (act Action) String() string {
	s := string(act.Engine)
	switch act.Engine {
	case EngineDone:
		if act.Drop {
			s = "drop"
		} else {
			s = "enqueue"
		}
	case EngineKeygen:
		s += fmt.Sprintf("(%d)", act.Scheme)
	case EnginePolicer:
		s += fmt.Sprintf("(%d)", act.Profile)
	case EngineNode:
		s += "(" + act.Node.String() + ")"
	}
	if act.OverrideFqid {
		s += fmt.Sprintf(" fqid=%d", act.NewFqid)
	}
	if act.Statistics {
		s += " stats"
	}
	if act.Manip != 0 {
		s += " " + act.Manip.String()
	}
	return s
}
