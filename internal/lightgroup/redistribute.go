// Package lightgroup implements light groups whose brightness changes are
// spread over the members proportionally to each member's own brightness,
// instead of forcing every member to the same level.
package lightgroup

import "math"

// Brightness bounds of a Home Assistant light
const (
	BrightnessMax = 255
	BrightnessMin = 1
)

// MemberState is the view of one member light used for a single invocation
type MemberState struct {
	EntityID   string `json:"entityId"`
	On         bool   `json:"on"`
	Available  bool   `json:"available"`
	Brightness *int   `json:"brightness,omitempty"` // nil when off or brightness is unsupported
}

// Command is one light service call: the params applied to a set of members
type Command struct {
	EntityIDs []string
	Params    TurnOnParams
}

// ServiceData renders the command as light.turn_on service data
func (c Command) ServiceData() map[string]interface{} {
	return c.Params.ServiceData(c.EntityIDs)
}

// Redistribute computes the light.turn_on commands for a group turn-on.
//
// Without a requested brightness, with no member on, or with an unknown group
// brightness, params go unchanged to every member in one command. Otherwise
// each on member with a brightness moves by the same fraction of its own
// headroom (brightening) or of its own level (dimming) that the group moves,
// and members that land on the same value share a command. Commands are
// ordered by the first member reaching each value.
func Redistribute(params TurnOnParams, groupBrightness *int, members []MemberState) []Command {
	all := entityIDs(members)

	if params.Brightness == nil || groupBrightness == nil || !anyOn(members) {
		return []Command{{EntityIDs: all, Params: params}}
	}

	current := *groupBrightness
	delta := clamp(*params.Brightness, 0, BrightnessMax) - current
	others := params.WithBrightness(nil)

	if delta == 0 {
		return []Command{{EntityIDs: all, Params: others}}
	}

	factor := changeFactor(delta, current)

	var commands []Command
	byBrightness := make(map[int]int)

	for _, member := range members {
		if !member.On || member.Brightness == nil {
			continue
		}

		target := scaleBrightness(*member.Brightness, delta, factor)

		if i, ok := byBrightness[target]; ok {
			commands[i].EntityIDs = append(commands[i].EntityIDs, member.EntityID)
			continue
		}

		byBrightness[target] = len(commands)
		commands = append(commands, Command{
			EntityIDs: []string{member.EntityID},
			Params:    others.WithBrightness(&target),
		})
	}

	return commands
}

// changeFactor is the fraction of the available range the group moves by.
// A range of zero (nothing left to brighten or dim) yields 0.
func changeFactor(delta, current int) float64 {
	if delta > 0 {
		headroom := BrightnessMax - current
		if headroom <= 0 {
			return 0
		}
		return float64(delta) / float64(headroom)
	}

	if current <= 0 {
		return 0
	}
	return float64(delta) / float64(current)
}

// scaleBrightness applies factor to a member's brightness b.
// Rounds half to even.
func scaleBrightness(b, delta int, factor float64) int {
	var offset float64
	if delta > 0 {
		offset = factor * float64(BrightnessMax-b)
	} else {
		offset = factor * float64(b)
	}

	return clamp(int(math.RoundToEven(float64(b)+offset)), BrightnessMin, BrightnessMax)
}

func clamp(value, lo, hi int) int {
	return max(lo, min(value, hi))
}

func anyOn(members []MemberState) bool {
	for _, member := range members {
		if member.On {
			return true
		}
	}
	return false
}

func entityIDs(members []MemberState) []string {
	ids := make([]string, len(members))
	for i, member := range members {
		ids[i] = member.EntityID
	}
	return ids
}
