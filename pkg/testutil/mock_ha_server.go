// Package testutil provides a mock Home Assistant WebSocket server and helpers
// for writing end-to-end tests against a real client connection.
package testutil

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"relativebrightness/internal/ha"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// connWrapper wraps a WebSocket connection with its write mutex
type connWrapper struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *connWrapper) write(msg interface{}) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.WriteJSON(msg); err != nil {
		log.Printf("Mock HA server write failed: %v", err)
	}
}

// MockHAServer simulates a Home Assistant WebSocket server
type MockHAServer struct {
	server       *http.Server
	listener     net.Listener
	addr         string
	states       map[string]*ha.State
	statesMu     sync.RWMutex
	connections  []*connWrapper
	connsMu      sync.Mutex
	token        string
	serviceCalls []ServiceCall // Track all service calls for verification
	failures     map[string]string
	callsMu      sync.Mutex // Protects serviceCalls and failures
}

// NewMockHAServer creates a new mock HA server. An addr with port 0 picks a
// free port; URL reports the one chosen after Start.
func NewMockHAServer(addr, token string) *MockHAServer {
	return &MockHAServer{
		addr:         addr,
		states:       make(map[string]*ha.State),
		connections:  make([]*connWrapper, 0),
		token:        token,
		serviceCalls: make([]ServiceCall, 0),
		failures:     make(map[string]string),
	}
}

// Start starts the mock server
func (s *MockHAServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handleWebSocket)
	s.server = &http.Server{Handler: mux}

	go func() {
		if err := s.server.Serve(listener); err != http.ErrServerClosed {
			log.Printf("Mock HA server error: %v", err)
		}
	}()

	return nil
}

// URL returns the WebSocket URL of the running server
func (s *MockHAServer) URL() string {
	return fmt.Sprintf("ws://%s/api/websocket", s.listener.Addr().String())
}

// Stop stops the mock server
func (s *MockHAServer) Stop() error {
	s.connsMu.Lock()
	for _, wrapper := range s.connections {
		wrapper.conn.Close()
	}
	s.connections = nil
	s.connsMu.Unlock()

	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// SetState sets a state and broadcasts change event
func (s *MockHAServer) SetState(entityID, state string, attributes map[string]interface{}) {
	s.statesMu.Lock()
	oldState := s.states[entityID]

	if attributes == nil {
		attributes = map[string]interface{}{}
	}

	now := time.Now()
	newState := &ha.State{
		EntityID:    entityID,
		State:       state,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}

	s.states[entityID] = newState
	s.statesMu.Unlock()

	s.broadcastStateChange(entityID, oldState, newState)
}

// SetLight sets a light state; brightness <= 0 leaves the attribute out
func (s *MockHAServer) SetLight(entityID string, on bool, brightness int) {
	state := ha.StateOff
	attributes := map[string]interface{}{}
	if on {
		state = ha.StateOn
		if brightness > 0 {
			attributes["brightness"] = brightness
		}
	}
	s.SetState(entityID, state, attributes)
}

// GetState retrieves a state
func (s *MockHAServer) GetState(entityID string) *ha.State {
	s.statesMu.RLock()
	defer s.statesMu.RUnlock()
	return s.states[entityID]
}

// FailService makes calls of domain.service that target entityID return an
// error result instead of success
func (s *MockHAServer) FailService(domain, service, entityID, message string) {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.failures[failureKey(domain, service, entityID)] = message
}

func failureKey(domain, service, entityID string) string {
	return domain + "." + service + "/" + entityID
}

// handleWebSocket handles WebSocket connections
func (s *MockHAServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	wrapper := &connWrapper{conn: conn}

	defer func() {
		s.connsMu.Lock()
		for i, w := range s.connections {
			if w.conn == conn {
				s.connections = append(s.connections[:i], s.connections[i+1:]...)
				break
			}
		}
		s.connsMu.Unlock()
		conn.Close()
	}()

	wrapper.write(ha.Message{Type: "auth_required"})

	var authMsg ha.AuthMessage
	if err := conn.ReadJSON(&authMsg); err != nil {
		log.Printf("Failed to read auth: %v", err)
		return
	}

	if authMsg.AccessToken != s.token {
		wrapper.write(ha.Message{Type: "auth_invalid"})
		return
	}

	wrapper.write(ha.AuthOkMessage{Type: "auth_ok", HAVersion: "mock"})

	// only authenticated connections receive events
	s.connsMu.Lock()
	s.connections = append(s.connections, wrapper)
	s.connsMu.Unlock()

	for {
		var msg json.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		var baseMsg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &baseMsg); err != nil {
			continue
		}

		switch baseMsg.Type {
		case "subscribe_events":
			s.handleSubscribeEvents(wrapper, msg)
		case "get_states":
			s.handleGetStates(wrapper, msg)
		case "call_service":
			s.handleCallService(wrapper, msg)
		}
	}
}

// handleSubscribeEvents handles event subscriptions
func (s *MockHAServer) handleSubscribeEvents(wrapper *connWrapper, msg json.RawMessage) {
	var req ha.SubscribeEventsRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return
	}

	success := true
	wrapper.write(ha.Message{
		ID:      req.ID,
		Type:    "result",
		Success: &success,
	})
}

// handleGetStates handles get_states requests
func (s *MockHAServer) handleGetStates(wrapper *connWrapper, msg json.RawMessage) {
	var req ha.GetStatesRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return
	}

	s.statesMu.RLock()
	states := make([]*ha.State, 0, len(s.states))
	for _, state := range s.states {
		states = append(states, state)
	}
	statesJSON, _ := json.Marshal(states)
	s.statesMu.RUnlock()

	success := true
	wrapper.write(ha.Message{
		ID:      req.ID,
		Type:    "result",
		Success: &success,
		Result:  statesJSON,
	})
}

// handleCallService records the call, applies it to the stored states and
// answers with a result message
func (s *MockHAServer) handleCallService(wrapper *connWrapper, msg json.RawMessage) {
	var req ha.CallServiceRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return
	}

	call := ServiceCall{
		Timestamp:   time.Now(),
		Domain:      req.Domain,
		Service:     req.Service,
		ServiceData: req.ServiceData,
	}

	s.callsMu.Lock()
	s.serviceCalls = append(s.serviceCalls, call)
	failure := ""
	for _, entityID := range call.EntityIDs() {
		if message, ok := s.failures[failureKey(req.Domain, req.Service, entityID)]; ok {
			failure = message
			break
		}
	}
	s.callsMu.Unlock()

	if failure != "" {
		success := false
		wrapper.write(ha.Message{
			ID:      req.ID,
			Type:    "result",
			Success: &success,
			Error:   &ha.Error{Code: "home_assistant_error", Message: failure},
		})
		return
	}

	// answer first, the way HA confirms a call before its state_changed events arrive
	success := true
	wrapper.write(ha.Message{
		ID:      req.ID,
		Type:    "result",
		Success: &success,
	})

	for _, entityID := range call.EntityIDs() {
		s.applyServiceCall(entityID, req.Domain, req.Service, req.ServiceData)
	}
}

// applyServiceCall updates the stored state of one entity for a service call
func (s *MockHAServer) applyServiceCall(entityID, domain, service string, data map[string]interface{}) {
	s.statesMu.RLock()
	oldState := s.states[entityID]
	s.statesMu.RUnlock()

	attributes := make(map[string]interface{})
	if oldState != nil {
		for k, v := range oldState.Attributes {
			attributes[k] = v
		}
	}

	switch domain {
	case "light":
		switch service {
		case "turn_on":
			if value, ok := data["brightness"]; ok {
				attributes["brightness"] = value
			}
			s.SetState(entityID, ha.StateOn, attributes)
		case "turn_off":
			delete(attributes, "brightness")
			s.SetState(entityID, ha.StateOff, attributes)
		}

	case "input_number":
		if value, ok := data["value"].(float64); ok && oldState != nil {
			s.SetState(entityID, fmt.Sprintf("%.1f", value), attributes)
		}

	default:
		// Unknown service domain - acknowledged without state changes
	}
}

// broadcastStateChange broadcasts a state change event to all connections
func (s *MockHAServer) broadcastStateChange(entityID string, oldState, newState *ha.State) {
	eventDataJSON, _ := json.Marshal(ha.StateChangedEvent{
		EntityID: entityID,
		NewState: newState,
		OldState: oldState,
	})

	msg := ha.Message{
		Type: "event",
		Event: &ha.Event{
			EventType: "state_changed",
			Data:      eventDataJSON,
			Origin:    "LOCAL",
			TimeFired: time.Now(),
		},
	}

	s.connsMu.Lock()
	wrappers := make([]*connWrapper, len(s.connections))
	copy(wrappers, s.connections)
	s.connsMu.Unlock()

	for _, wrapper := range wrappers {
		wrapper.write(msg)
	}
}

// GetServiceCalls returns all service calls since last clear
func (s *MockHAServer) GetServiceCalls() []ServiceCall {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	calls := make([]ServiceCall, len(s.serviceCalls))
	copy(calls, s.serviceCalls)
	return calls
}

// ClearServiceCalls resets the service call log
func (s *MockHAServer) ClearServiceCalls() {
	s.callsMu.Lock()
	defer s.callsMu.Unlock()
	s.serviceCalls = nil
}

// CountServiceCalls counts service calls matching criteria
func (s *MockHAServer) CountServiceCalls(domain, service string) int {
	return len(FilterServiceCalls(s.GetServiceCalls(), domain, service))
}
