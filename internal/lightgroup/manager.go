package lightgroup

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"relativebrightness/internal/config"
	"relativebrightness/internal/ha"
	"relativebrightness/internal/shadowstate"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrUnknownGroup is returned for a group id that is not configured
var ErrUnknownGroup = errors.New("unknown light group")

// triggerQueueSize bounds brightness entity updates waiting to be applied
const triggerQueueSize = 16

// Snapshot is a group's description with its live state and history
type Snapshot struct {
	Info
	State   *Aggregate                    `json:"state,omitempty"`
	Error   string                        `json:"error,omitempty"`
	History *shadowstate.GroupShadowState `json:"history"`
}

type trigger struct {
	group      *Group
	brightness int
	callCtx    ha.Context
}

// Manager owns the configured groups and their brightness entity triggers
type Manager struct {
	haClient ha.HAClient
	logger   *zap.Logger
	readOnly bool
	tracker  *shadowstate.Tracker

	groups map[string]*Group
	order  []string

	subscriptions []ha.Subscription
	triggers      chan trigger
	done          chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
}

// NewManager creates a Manager with one Group per configured light group
func NewManager(haClient ha.HAClient, cfg *config.LightGroupsConfig, logger *zap.Logger, readOnly bool) *Manager {
	m := &Manager{
		haClient: haClient,
		logger:   logger.Named("lightgroup"),
		readOnly: readOnly,
		tracker:  shadowstate.NewTracker(),
		groups:   make(map[string]*Group),
	}

	if cfg == nil {
		return m
	}

	for _, groupCfg := range cfg.LightGroups {
		id := groupCfg.ID()
		group := NewGroup(groupCfg, haClient, m.logger, readOnly, m.tracker.Group(id))
		m.groups[id] = group
		m.order = append(m.order, id)
	}

	return m
}

// Start subscribes to the brightness entity of every group that has one
func (m *Manager) Start() error {
	m.logger.Info("Starting light group manager",
		zap.Int("groups", len(m.order)),
		zap.Bool("read_only", m.readOnly))

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil {
		return fmt.Errorf("light group manager already started")
	}

	m.triggers = make(chan trigger, triggerQueueSize)
	m.done = make(chan struct{})
	m.wg.Add(1)
	go m.run(m.triggers, m.done)

	for _, id := range m.order {
		group := m.groups[id]
		entityID := group.info.BrightnessEntity
		if entityID == "" {
			continue
		}

		sub, err := m.haClient.SubscribeStateChanges(entityID, m.brightnessEntityHandler(group))
		if err != nil {
			err = fmt.Errorf("failed to subscribe to %s: %w", entityID, err)
			m.unwindLocked()
			return err
		}
		m.subscriptions = append(m.subscriptions, sub)

		m.logger.Info("Following brightness entity",
			zap.String("group", id),
			zap.String("entity_id", entityID))
	}

	m.logger.Info("Light group manager started successfully")
	return nil
}

// unwindLocked drops the subscriptions made so far and stops the trigger
// worker, leaving the manager ready for another Start. Caller holds m.mu.
func (m *Manager) unwindLocked() {
	var err error
	for _, sub := range m.subscriptions {
		err = multierr.Append(err, sub.Unsubscribe())
	}
	m.subscriptions = nil
	if err != nil {
		m.logger.Warn("Errors while unwinding brightness entity subscriptions", zap.Error(err))
	}

	close(m.done)
	m.done = nil
	m.wg.Wait()
}

// Stop unsubscribes from all brightness entities and waits for the trigger
// worker to exit. Queued triggers that have not started are dropped.
func (m *Manager) Stop() error {
	m.logger.Info("Stopping light group manager")

	m.mu.Lock()
	var err error
	for _, sub := range m.subscriptions {
		err = multierr.Append(err, sub.Unsubscribe())
	}
	m.subscriptions = nil

	done := m.done
	m.done = nil
	m.mu.Unlock()

	if done != nil {
		close(done)
		m.wg.Wait()
	}

	if err != nil {
		m.logger.Warn("Errors while stopping light group manager", zap.Error(err))
		return err
	}

	m.logger.Info("Light group manager stopped")
	return nil
}

// Group returns a group by id
func (m *Manager) Group(id string) (*Group, bool) {
	group, ok := m.groups[id]
	return group, ok
}

// Groups returns all groups in configured order
func (m *Manager) Groups() []*Group {
	groups := make([]*Group, 0, len(m.order))
	for _, id := range m.order {
		groups = append(groups, m.groups[id])
	}
	return groups
}

// Tracker returns the shadow state tracker shared by all groups
func (m *Manager) Tracker() *shadowstate.Tracker {
	return m.tracker
}

// TurnOn turns on the group with the given id
func (m *Manager) TurnOn(id string, req TurnOnRequest, callCtx ha.Context) error {
	group, ok := m.groups[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, id)
	}
	return group.TurnOn(req, callCtx)
}

// TurnOff turns off the group with the given id
func (m *Manager) TurnOff(id string, params TurnOffParams, callCtx ha.Context) error {
	group, ok := m.groups[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, id)
	}
	return group.TurnOff(params, callCtx)
}

// Snapshots returns every group with its live state. A group whose state
// cannot be read carries the error instead.
func (m *Manager) Snapshots() []Snapshot {
	snapshots := make([]Snapshot, 0, len(m.order))

	for _, group := range m.Groups() {
		snapshot := Snapshot{Info: group.Info()}

		agg, err := group.Snapshot()
		if err != nil {
			snapshot.Error = err.Error()
		} else {
			snapshot.State = &agg
		}
		snapshot.History = group.History()

		snapshots = append(snapshots, snapshot)
	}

	return snapshots
}

// brightnessEntityHandler queues a turn-on whenever the entity's numeric
// state changes. Handlers run on the client's receive loop, so the service
// calls are made from the worker instead.
func (m *Manager) brightnessEntityHandler(group *Group) ha.StateChangeHandler {
	return func(entityID string, oldState, newState *ha.State) {
		if !newState.IsAvailable() {
			return
		}
		if oldState != nil && oldState.State == newState.State {
			return
		}

		value, err := strconv.ParseFloat(newState.State, 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			m.logger.Warn("Brightness entity state is not a number",
				zap.String("entity_id", entityID),
				zap.String("state", newState.State))
			return
		}

		userID := ""
		if newState.Context != nil {
			userID = newState.Context.UserID
		}

		t := trigger{
			group:      group,
			brightness: clamp(int(math.Round(value)), 0, BrightnessMax),
			callCtx:    ha.NewContext(userID),
		}

		m.mu.Lock()
		triggers, done := m.triggers, m.done
		m.mu.Unlock()

		if done == nil {
			return
		}

		select {
		case triggers <- t:
		case <-done:
		default:
			m.logger.Warn("Brightness trigger queue full, dropping update",
				zap.String("group", group.ID()),
				zap.Int("brightness", t.brightness))
		}
	}
}

func (m *Manager) run(triggers <-chan trigger, done <-chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-done:
			return
		case t := <-triggers:
			m.logger.Info("Brightness entity changed",
				zap.String("group", t.group.ID()),
				zap.Int("brightness", t.brightness),
				zap.String("context_id", t.callCtx.ID))

			brightness := t.brightness
			req := TurnOnRequest{TurnOnParams: TurnOnParams{Brightness: &brightness}}
			if err := t.group.TurnOn(req, t.callCtx); err != nil {
				m.logger.Error("Failed to apply brightness entity change",
					zap.String("group", t.group.ID()),
					zap.Error(err))
			}
		}
	}
}
