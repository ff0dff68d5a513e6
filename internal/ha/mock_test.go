package ha

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient(t *testing.T) {
	mock := NewMockClient()

	t.Run("connection", func(t *testing.T) {
		assert.False(t, mock.IsConnected())

		err := mock.Connect()
		assert.NoError(t, err)
		assert.True(t, mock.IsConnected())

		err = mock.Connect()
		assert.Error(t, err)

		err = mock.Disconnect()
		assert.NoError(t, err)
		assert.False(t, mock.IsConnected())
	})

	t.Run("state management", func(t *testing.T) {
		mock.SetLight("light.kitchen", true, 120)

		state, err := mock.GetState("light.kitchen")
		require.NoError(t, err)
		assert.True(t, state.IsOn())

		brightness, ok := state.Brightness()
		assert.True(t, ok)
		assert.Equal(t, 120, brightness)

		_, err = mock.GetState("light.nonexistent")
		assert.Error(t, err)
	})

	t.Run("light service calls update state", func(t *testing.T) {
		mock.ClearServiceCalls()
		mock.SetLight("light.a", false, 0)
		mock.SetLight("light.b", true, 10)

		err := mock.CallService("light", "turn_on", map[string]interface{}{
			"entity_id":  []string{"light.a", "light.b"},
			"brightness": 200,
		})
		require.NoError(t, err)

		calls := mock.GetServiceCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, []string{"light.a", "light.b"}, calls[0].EntityIDs())

		for _, id := range []string{"light.a", "light.b"} {
			state, err := mock.GetState(id)
			require.NoError(t, err)
			assert.True(t, state.IsOn(), id)
			brightness, _ := state.Brightness()
			assert.Equal(t, 200, brightness, id)
		}

		err = mock.CallService("light", "turn_off", map[string]interface{}{"entity_id": "light.a"})
		require.NoError(t, err)

		state, _ := mock.GetState("light.a")
		assert.False(t, state.IsOn())
		_, ok := state.Brightness()
		assert.False(t, ok)
	})

	t.Run("failing service calls are recorded but not applied", func(t *testing.T) {
		mock.ClearServiceCalls()
		mock.SetLight("light.a", true, 50)
		mock.SetCallServiceError(func(call ServiceCall) error {
			return errors.New("boom")
		})
		defer mock.SetCallServiceError(nil)

		err := mock.CallService("light", "turn_on", map[string]interface{}{
			"entity_id":  []string{"light.a"},
			"brightness": 99,
		})
		assert.EqualError(t, err, "boom")
		assert.Len(t, mock.GetServiceCalls(), 1)

		state, _ := mock.GetState("light.a")
		brightness, _ := state.Brightness()
		assert.Equal(t, 50, brightness)
	})

	t.Run("subscriptions", func(t *testing.T) {
		callCount := 0
		handler := func(entityID string, oldState, newState *State) {
			callCount++
			assert.Equal(t, "input_number.brightness", entityID)
			assert.Equal(t, "42", newState.State)
		}

		sub, err := mock.SubscribeStateChanges("input_number.brightness", handler)
		require.NoError(t, err)
		assert.Equal(t, 1, mock.SubscriberCount("input_number.brightness"))

		mock.SetState("input_number.brightness", "42", nil)
		assert.Equal(t, 1, callCount)

		require.NoError(t, sub.Unsubscribe())
		assert.Equal(t, 0, mock.SubscriberCount("input_number.brightness"))

		mock.SetState("input_number.brightness", "42", nil)
		assert.Equal(t, 1, callCount)
	})

	t.Run("get states error", func(t *testing.T) {
		mock.SetGetStatesError(errors.New("not connected"))
		_, err := mock.GetAllStates()
		assert.Error(t, err)

		mock.SetGetStatesError(nil)
		_, err = mock.GetAllStates()
		assert.NoError(t, err)
	})

	t.Run("subscribe error", func(t *testing.T) {
		mock.SetSubscribeError(func(entityID string) error {
			return errors.New("no such entity")
		})
		_, err := mock.SubscribeStateChanges("input_number.missing", func(string, *State, *State) {})
		assert.Error(t, err)
		assert.Equal(t, 0, mock.SubscriberCount("input_number.missing"))

		mock.SetSubscribeError(nil)
		sub, err := mock.SubscribeStateChanges("input_number.missing", func(string, *State, *State) {})
		require.NoError(t, err)
		require.NoError(t, sub.Unsubscribe())
	})
}

func TestState_Helpers(t *testing.T) {
	tests := []struct {
		name           string
		state          *State
		wantOn         bool
		wantAvailable  bool
		wantBrightness int
		wantHasBright  bool
	}{
		{"nil state", nil, false, false, 0, false},
		{"on with float brightness", &State{State: "on", Attributes: map[string]interface{}{"brightness": 127.6}}, true, true, 128, true},
		{"on with int brightness", &State{State: "on", Attributes: map[string]interface{}{"brightness": 50}}, true, true, 50, true},
		{"on without brightness", &State{State: "on", Attributes: map[string]interface{}{}}, true, true, 0, false},
		{"brightness null", &State{State: "off", Attributes: map[string]interface{}{"brightness": nil}}, false, true, 0, false},
		{"unavailable", &State{State: "unavailable"}, false, false, 0, false},
		{"unknown", &State{State: "unknown"}, false, false, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantOn, tt.state.IsOn())
			assert.Equal(t, tt.wantAvailable, tt.state.IsAvailable())

			brightness, ok := tt.state.Brightness()
			assert.Equal(t, tt.wantHasBright, ok)
			assert.Equal(t, tt.wantBrightness, brightness)
		})
	}
}

func TestNewContext(t *testing.T) {
	a := NewContext("user-1")
	b := NewContext("")

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "user-1", a.UserID)
	assert.Empty(t, b.UserID)
}
