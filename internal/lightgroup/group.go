package lightgroup

import (
	"fmt"

	"relativebrightness/internal/config"
	"relativebrightness/internal/ha"
	"relativebrightness/internal/shadowstate"

	"go.uber.org/zap"
)

const lightDomain = "light"

// Service names recorded in history and sent to Home Assistant
const (
	ServiceTurnOn  = "turn_on"
	ServiceTurnOff = "turn_off"
)

// ServiceCaller is the part of the Home Assistant client a group needs
type ServiceCaller interface {
	GetAllStates() ([]*ha.State, error)
	CallService(domain, service string, data map[string]interface{}) error
}

// Info describes a configured group
type Info struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	EntityID         string   `json:"entityId"`
	Members          []string `json:"members"`
	All              bool     `json:"all"`
	BrightnessEntity string   `json:"brightnessEntity,omitempty"`
}

// Group is one relative brightness light group
type Group struct {
	info     Info
	client   ServiceCaller
	logger   *zap.Logger
	readOnly bool
	history  *shadowstate.GroupTracker
}

// NewGroup creates a group from its configuration. history may be nil.
func NewGroup(cfg config.GroupConfig, client ServiceCaller, logger *zap.Logger, readOnly bool, history *shadowstate.GroupTracker) *Group {
	id := cfg.ID()
	if history == nil {
		history = shadowstate.NewGroupTracker(id, shadowstate.DefaultHistorySize)
	}

	return &Group{
		info: Info{
			ID:               id,
			Name:             cfg.Name,
			EntityID:         cfg.EntityID(),
			Members:          cfg.GetEntities(),
			All:              cfg.All,
			BrightnessEntity: cfg.BrightnessEntity,
		},
		client:   client,
		logger:   logger.With(zap.String("group", id)),
		readOnly: readOnly,
		history:  history,
	}
}

// ID returns the group id
func (g *Group) ID() string {
	return g.info.ID
}

// Info returns a copy of the group description
func (g *Group) Info() Info {
	info := g.info
	info.Members = append([]string(nil), g.info.Members...)
	return info
}

// History returns the recorded shadow state of the group
func (g *Group) History() *shadowstate.GroupShadowState {
	return g.history.GetState()
}

// MemberStates reads the current state of every member, in configured order
func (g *Group) MemberStates() ([]MemberState, error) {
	states, err := g.client.GetAllStates()
	if err != nil {
		return nil, fmt.Errorf("failed to read member states: %w", err)
	}
	return memberStates(g.info.Members, states), nil
}

// Snapshot returns the live aggregate state of the group
func (g *Group) Snapshot() (Aggregate, error) {
	members, err := g.MemberStates()
	if err != nil {
		return Aggregate{}, err
	}

	agg := Aggregated(members, g.info.All)
	g.updateInputs(agg)
	return agg, nil
}

// TurnOn applies a turn-on to the group, moving each member's brightness in
// proportion to its own level. Commands are sent one at a time and the first
// failure is returned; commands already sent stay applied.
func (g *Group) TurnOn(req TurnOnRequest, callCtx ha.Context) error {
	record := shadowstate.InvocationRecord{
		ContextID: callCtx.ID,
		UserID:    callCtx.UserID,
		Service:   ServiceTurnOn,
		Requested: req.Attributes(),
		ReadOnly:  g.readOnly,
	}

	members, err := g.MemberStates()
	if err != nil {
		return g.fail(record, err)
	}

	agg := Aggregated(members, g.info.All)
	record.GroupBrightness = agg.Brightness
	g.updateInputs(agg)
	g.history.SnapshotInputsForAction()

	params := req.Resolve(agg.Brightness)

	if params.Brightness != nil && *params.Brightness == 0 {
		g.logger.Debug("Brightness 0 requested, turning group off",
			zap.String("context_id", callCtx.ID))
		record.Service = ServiceTurnOff
		off := TurnOffParams{Transition: params.Transition}
		return g.dispatch(record, ServiceTurnOff, []shadowstate.CommandRecord{{
			EntityIDs:   g.Info().Members,
			ServiceData: off.ServiceData(g.info.Members),
		}}, callCtx)
	}

	commands := Redistribute(params, agg.Brightness, members)
	if len(commands) == 0 {
		g.logger.Info("No member reports a brightness, nothing to adjust",
			zap.String("context_id", callCtx.ID))
	}

	calls := make([]shadowstate.CommandRecord, len(commands))
	for i, cmd := range commands {
		calls[i] = shadowstate.CommandRecord{
			EntityIDs:   append([]string(nil), cmd.EntityIDs...),
			ServiceData: cmd.ServiceData(),
		}
	}

	return g.dispatch(record, ServiceTurnOn, calls, callCtx)
}

// TurnOff turns every member off in one command
func (g *Group) TurnOff(params TurnOffParams, callCtx ha.Context) error {
	record := shadowstate.InvocationRecord{
		ContextID: callCtx.ID,
		UserID:    callCtx.UserID,
		Service:   ServiceTurnOff,
		ReadOnly:  g.readOnly,
	}
	if params.Transition != nil {
		record.Requested = map[string]interface{}{AttrTransition: *params.Transition}
	}

	return g.dispatch(record, ServiceTurnOff, []shadowstate.CommandRecord{{
		EntityIDs:   g.Info().Members,
		ServiceData: params.ServiceData(g.info.Members),
	}}, callCtx)
}

// dispatch sends calls in order, stopping at the first failure
func (g *Group) dispatch(record shadowstate.InvocationRecord, service string, calls []shadowstate.CommandRecord, callCtx ha.Context) error {
	record.Commands = calls

	for _, call := range calls {
		fields := []zap.Field{
			zap.String("context_id", callCtx.ID),
			zap.Strings("entity_ids", call.EntityIDs),
			zap.Any("service_data", call.ServiceData),
		}

		if g.readOnly {
			g.logger.Info("READ-ONLY: Would call light."+service, fields...)
			continue
		}

		g.logger.Info("Calling light."+service, fields...)
		if err := g.client.CallService(lightDomain, service, call.ServiceData); err != nil {
			return g.fail(record, fmt.Errorf("failed to call light.%s for %v: %w", service, call.EntityIDs, err))
		}
	}

	g.history.RecordInvocation(record)
	return nil
}

func (g *Group) fail(record shadowstate.InvocationRecord, err error) error {
	record.Error = err.Error()
	g.history.RecordInvocation(record)
	g.logger.Error("Light group invocation failed",
		zap.String("context_id", record.ContextID),
		zap.String("service", record.Service),
		zap.Error(err))
	return err
}

func (g *Group) updateInputs(agg Aggregate) {
	inputs := make(map[string]interface{}, len(agg.Members)+2)
	inputs["groupOn"] = agg.On
	if agg.Brightness != nil {
		inputs["groupBrightness"] = *agg.Brightness
	} else {
		inputs["groupBrightness"] = nil
	}

	for _, member := range agg.Members {
		switch {
		case !member.Available:
			inputs[member.EntityID] = ha.StateUnavailable
		case member.Brightness != nil:
			inputs[member.EntityID] = *member.Brightness
		case member.On:
			inputs[member.EntityID] = ha.StateOn
		default:
			inputs[member.EntityID] = ha.StateOff
		}
	}

	g.history.UpdateCurrentInputs(inputs)
}
