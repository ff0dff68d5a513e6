package ha

import (
	"fmt"
	"sync"
	"time"
)

// MockClient implements HAClient interface for testing
type MockClient struct {
	states       map[string]*State
	statesMu     sync.RWMutex
	subscribers  map[string][]subscriberEntry
	subsMu       sync.RWMutex
	nextSubID    int
	nextSubIDMu  sync.Mutex
	connected    bool
	connMu       sync.RWMutex
	serviceCalls []ServiceCall
	callErr      func(call ServiceCall) error
	callsMu      sync.Mutex
	statesErr    error
	subscribeErr func(entityID string) error
}

// ServiceCall records a service call for testing
type ServiceCall struct {
	Domain  string
	Service string
	Data    map[string]interface{}
	Time    time.Time
}

// EntityIDs returns the entity_id of the call as a list
func (c ServiceCall) EntityIDs() []string {
	return entityIDList(c.Data["entity_id"])
}

// mockSubscription implements Subscription interface for MockClient
type mockSubscription struct {
	entityID string
	subID    int
	mock     *MockClient
}

func (s *mockSubscription) Unsubscribe() error {
	return s.mock.unsubscribe(s.entityID, s.subID)
}

// NewMockClient creates a new mock HA client
func NewMockClient() *MockClient {
	return &MockClient{
		states:       make(map[string]*State),
		subscribers:  make(map[string][]subscriberEntry),
		serviceCalls: make([]ServiceCall, 0),
	}
}

// Connect simulates connecting to Home Assistant
func (m *MockClient) Connect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	m.connected = true
	return nil
}

// Disconnect simulates disconnecting
func (m *MockClient) Disconnect() error {
	m.connMu.Lock()
	m.connected = false
	m.connMu.Unlock()

	m.subsMu.Lock()
	m.subscribers = make(map[string][]subscriberEntry)
	m.subsMu.Unlock()
	return nil
}

// IsConnected returns connection status
func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
}

// GetState retrieves a mock state
func (m *MockClient) GetState(entityID string) (*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	state, ok := m.states[entityID]
	if !ok {
		return nil, fmt.Errorf("entity %s not found", entityID)
	}

	return state, nil
}

// GetAllStates retrieves all mock states
func (m *MockClient) GetAllStates() ([]*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	if m.statesErr != nil {
		return nil, m.statesErr
	}

	states := make([]*State, 0, len(m.states))
	for _, state := range m.states {
		states = append(states, state)
	}

	return states, nil
}

// SetGetStatesError makes GetAllStates fail with err (nil clears it)
func (m *MockClient) SetGetStatesError(err error) {
	m.statesMu.Lock()
	defer m.statesMu.Unlock()
	m.statesErr = err
}

// SetSubscribeError installs a hook deciding whether subscribing to an entity fails
func (m *MockClient) SetSubscribeError(fn func(entityID string) error) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.subscribeErr = fn
}

// SetCallServiceError installs a hook deciding whether a service call fails.
// Failed calls are still recorded but do not change any state.
func (m *MockClient) SetCallServiceError(fn func(call ServiceCall) error) {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.callErr = fn
}

// CallService records a service call
func (m *MockClient) CallService(domain, service string, data map[string]interface{}) error {
	call := ServiceCall{
		Domain:  domain,
		Service: service,
		Data:    data,
		Time:    time.Now(),
	}

	m.callsMu.Lock()
	m.serviceCalls = append(m.serviceCalls, call)
	hook := m.callErr
	m.callsMu.Unlock()

	if hook != nil {
		if err := hook(call); err != nil {
			return err
		}
	}

	for _, entityID := range call.EntityIDs() {
		m.updateStateFromServiceCall(entityID, domain, service, data)
	}

	return nil
}

// SubscribeStateChanges subscribes to state changes
func (m *MockClient) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	m.subsMu.RLock()
	hook := m.subscribeErr
	m.subsMu.RUnlock()
	if hook != nil {
		if err := hook(entityID); err != nil {
			return nil, err
		}
	}

	m.nextSubIDMu.Lock()
	subID := m.nextSubID
	m.nextSubID++
	m.nextSubIDMu.Unlock()

	m.subsMu.Lock()
	m.subscribers[entityID] = append(m.subscribers[entityID], subscriberEntry{
		subID:   subID,
		handler: handler,
	})
	m.subsMu.Unlock()

	return &mockSubscription{
		entityID: entityID,
		subID:    subID,
		mock:     m,
	}, nil
}

func (m *MockClient) unsubscribe(entityID string, subID int) error {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	m.subscribers[entityID] = removeSubscriber(m.subscribers[entityID], subID)
	if len(m.subscribers[entityID]) == 0 {
		delete(m.subscribers, entityID)
	}

	return nil
}

// SubscriberCount returns how many handlers are subscribed to an entity
func (m *MockClient) SubscriberCount(entityID string) int {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()
	return len(m.subscribers[entityID])
}

// SetState sets a mock state (for testing)
func (m *MockClient) SetState(entityID string, stateValue string, attributes map[string]interface{}) {
	m.statesMu.Lock()
	oldState := m.states[entityID]

	now := time.Now()
	newState := &State{
		EntityID:    entityID,
		State:       stateValue,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}

	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.notifySubscribers(entityID, oldState, newState)
}

// SetLight is a shorthand for a light state; brightness <= 0 leaves the attribute out
func (m *MockClient) SetLight(entityID string, on bool, brightness int) {
	stateValue := StateOff
	attributes := map[string]interface{}{}
	if on {
		stateValue = StateOn
		if brightness > 0 {
			attributes["brightness"] = float64(brightness)
		}
	}
	m.SetState(entityID, stateValue, attributes)
}

// GetServiceCalls returns all recorded service calls
func (m *MockClient) GetServiceCalls() []ServiceCall {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	calls := make([]ServiceCall, len(m.serviceCalls))
	copy(calls, m.serviceCalls)
	return calls
}

// ClearServiceCalls clears the service call history
func (m *MockClient) ClearServiceCalls() {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.serviceCalls = make([]ServiceCall, 0)
}

// updateStateFromServiceCall applies a service call to the stored state
func (m *MockClient) updateStateFromServiceCall(entityID, domain, service string, data map[string]interface{}) {
	m.statesMu.Lock()

	oldState := m.states[entityID]
	newStateValue := ""
	attributes := make(map[string]interface{})

	if oldState != nil {
		newStateValue = oldState.State
		for k, v := range oldState.Attributes {
			attributes[k] = v
		}
	}

	switch domain {
	case "light", "input_boolean":
		switch service {
		case "turn_on":
			newStateValue = StateOn
			if value, ok := data["brightness"]; ok {
				attributes["brightness"] = value
			}
		case "turn_off":
			newStateValue = StateOff
			delete(attributes, "brightness")
		}
	case "input_number":
		if value, ok := data["value"].(float64); ok {
			newStateValue = fmt.Sprintf("%.2f", value)
		}
	}

	now := time.Now()
	newState := &State{
		EntityID:    entityID,
		State:       newStateValue,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}

	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.notifySubscribers(entityID, oldState, newState)
}

// notifySubscribers notifies all subscribers of a state change
func (m *MockClient) notifySubscribers(entityID string, oldState, newState *State) {
	m.subsMu.RLock()
	entries := append([]subscriberEntry(nil), m.subscribers[entityID]...)
	m.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(entityID, oldState, newState)
	}
}

// entityIDList normalises an entity_id value (string, []string or decoded JSON list)
func entityIDList(value interface{}) []string {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []interface{}:
		ids := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				ids = append(ids, s)
			}
		}
		return ids
	default:
		return nil
	}
}
