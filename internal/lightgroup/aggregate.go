package lightgroup

import "relativebrightness/internal/ha"

// Aggregate is the state a group reports, derived from its members
type Aggregate struct {
	On         bool          `json:"on"`
	Available  bool          `json:"available"`
	Brightness *int          `json:"brightness,omitempty"`
	Members    []MemberState `json:"members"`
}

// Aggregated combines member states the way a Home Assistant light group does.
// Unavailable members are ignored. With all set the group is on only if every
// available member is on. Brightness is the truncated mean of the on members
// that report one.
func Aggregated(members []MemberState, all bool) Aggregate {
	agg := Aggregate{Members: members}

	available := 0
	on := 0
	sum := 0
	withBrightness := 0

	for _, member := range members {
		if !member.Available {
			continue
		}
		available++

		if !member.On {
			continue
		}
		on++

		if member.Brightness != nil {
			sum += *member.Brightness
			withBrightness++
		}
	}

	agg.Available = available > 0
	if all {
		agg.On = available > 0 && on == available
	} else {
		agg.On = on > 0
	}

	if withBrightness > 0 {
		b := sum / withBrightness
		agg.Brightness = &b
	}

	return agg
}

// memberStates builds member states for entityIDs, in that order, from a full
// state dump. Entities missing from the dump are unavailable.
func memberStates(entityIDs []string, states []*ha.State) []MemberState {
	byID := make(map[string]*ha.State, len(states))
	for _, state := range states {
		if state != nil {
			byID[state.EntityID] = state
		}
	}

	members := make([]MemberState, len(entityIDs))
	for i, entityID := range entityIDs {
		state := byID[entityID]
		member := MemberState{
			EntityID:  entityID,
			Available: state.IsAvailable(),
			On:        state.IsOn(),
		}
		if member.On {
			if b, ok := state.Brightness(); ok {
				member.Brightness = &b
			}
		}
		members[i] = member
	}

	return members
}
