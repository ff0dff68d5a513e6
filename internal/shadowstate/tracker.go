package shadowstate

import (
	"sort"
	"sync"
	"time"
)

// DefaultHistorySize is how many invocations a GroupTracker keeps
const DefaultHistorySize = 20

// Tracker manages shadow state for all groups
type Tracker struct {
	mu     sync.RWMutex
	groups map[string]*GroupTracker
}

// NewTracker creates a new shadow state tracker
func NewTracker() *Tracker {
	return &Tracker{
		groups: make(map[string]*GroupTracker),
	}
}

// Group returns the tracker for a group, creating it on first use
func (t *Tracker) Group(groupID string) *GroupTracker {
	t.mu.Lock()
	defer t.mu.Unlock()

	gt, ok := t.groups[groupID]
	if !ok {
		gt = NewGroupTracker(groupID, DefaultHistorySize)
		t.groups[groupID] = gt
	}
	return gt
}

// GetGroupState retrieves a copy of a group's shadow state
func (t *Tracker) GetGroupState(groupID string) (*GroupShadowState, bool) {
	t.mu.RLock()
	gt, ok := t.groups[groupID]
	t.mu.RUnlock()

	if !ok {
		return nil, false
	}
	return gt.GetState(), true
}

// GroupIDs returns the ids of all tracked groups, sorted
func (t *Tracker) GroupIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.groups))
	for id := range t.groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GroupTracker manages shadow state for a single light group
type GroupTracker struct {
	mu      sync.RWMutex
	state   *GroupShadowState
	maxSize int
}

// NewGroupTracker creates a tracker keeping at most historySize invocations
func NewGroupTracker(groupID string, historySize int) *GroupTracker {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &GroupTracker{
		state:   NewGroupShadowState(groupID),
		maxSize: historySize,
	}
}

// UpdateCurrentInputs updates the current input values
func (gt *GroupTracker) UpdateCurrentInputs(inputs map[string]interface{}) {
	gt.mu.Lock()
	defer gt.mu.Unlock()

	for key, value := range inputs {
		gt.state.Inputs.Current[key] = value
	}
	gt.state.Metadata.LastUpdated = time.Now()
}

// SnapshotInputsForAction captures current inputs as the at-last-action snapshot
func (gt *GroupTracker) SnapshotInputsForAction() {
	gt.mu.Lock()
	defer gt.mu.Unlock()

	gt.state.Inputs.AtLastAction = copyMap(gt.state.Inputs.Current)
}

// RecordInvocation appends an invocation, dropping the oldest past the history size
func (gt *GroupTracker) RecordInvocation(record InvocationRecord) {
	gt.mu.Lock()
	defer gt.mu.Unlock()

	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	gt.state.Outputs.Recent = append(gt.state.Outputs.Recent, record)
	if overflow := len(gt.state.Outputs.Recent) - gt.maxSize; overflow > 0 {
		gt.state.Outputs.Recent = append([]InvocationRecord(nil), gt.state.Outputs.Recent[overflow:]...)
	}

	gt.state.Outputs.LastActionTime = record.Timestamp
	gt.state.Metadata.LastUpdated = record.Timestamp
}

// GetState returns the current shadow state (thread-safe copy)
func (gt *GroupTracker) GetState() *GroupShadowState {
	gt.mu.RLock()
	defer gt.mu.RUnlock()

	return &GroupShadowState{
		Group: gt.state.Group,
		Inputs: GroupInputs{
			Current:      copyMap(gt.state.Inputs.Current),
			AtLastAction: copyMap(gt.state.Inputs.AtLastAction),
		},
		Outputs: GroupOutputs{
			Recent:         append([]InvocationRecord(nil), gt.state.Outputs.Recent...),
			LastActionTime: gt.state.Outputs.LastActionTime,
		},
		Metadata: gt.state.Metadata,
	}
}

func copyMap(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
