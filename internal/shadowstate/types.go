// Package shadowstate records what each light group saw and did, so the
// reasoning behind a redistribution can be inspected after the fact.
package shadowstate

import "time"

// StateMetadata contains metadata about the shadow state
type StateMetadata struct {
	LastUpdated time.Time `json:"lastUpdated"`
	GroupID     string    `json:"groupId"`
}

// CommandRecord is one service call issued during an invocation
type CommandRecord struct {
	EntityIDs   []string               `json:"entityIds"`
	ServiceData map[string]interface{} `json:"serviceData"`
}

// InvocationRecord captures one turn_on/turn_off handled by a group
type InvocationRecord struct {
	Timestamp       time.Time              `json:"timestamp"`
	ContextID       string                 `json:"contextId"`
	UserID          string                 `json:"userId,omitempty"`
	Service         string                 `json:"service"`
	Requested       map[string]interface{} `json:"requested,omitempty"`
	GroupBrightness *int                   `json:"groupBrightness,omitempty"`
	Commands        []CommandRecord        `json:"commands"`
	ReadOnly        bool                   `json:"readOnly,omitempty"`
	Error           string                 `json:"error,omitempty"`
}

// GroupShadowState represents the shadow state of one light group
type GroupShadowState struct {
	Group    string        `json:"group"`
	Inputs   GroupInputs   `json:"inputs"`
	Outputs  GroupOutputs  `json:"outputs"`
	Metadata StateMetadata `json:"metadata"`
}

// GroupInputs tracks current and last-action input values
type GroupInputs struct {
	Current      map[string]interface{} `json:"current"`
	AtLastAction map[string]interface{} `json:"atLastAction"`
}

// GroupOutputs holds the most recent invocations, newest last
type GroupOutputs struct {
	Recent         []InvocationRecord `json:"recent"`
	LastActionTime time.Time          `json:"lastActionTime"`
}

// LastInvocation returns the newest invocation, or nil before the first one
func (o GroupOutputs) LastInvocation() *InvocationRecord {
	if len(o.Recent) == 0 {
		return nil
	}
	last := o.Recent[len(o.Recent)-1]
	return &last
}

// NewGroupShadowState creates an empty shadow state for a group
func NewGroupShadowState(groupID string) *GroupShadowState {
	return &GroupShadowState{
		Group: groupID,
		Inputs: GroupInputs{
			Current:      make(map[string]interface{}),
			AtLastAction: make(map[string]interface{}),
		},
		Outputs: GroupOutputs{
			Recent: make([]InvocationRecord, 0),
		},
		Metadata: StateMetadata{
			LastUpdated: time.Now(),
			GroupID:     groupID,
		},
	}
}
