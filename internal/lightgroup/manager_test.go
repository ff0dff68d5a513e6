package lightgroup

import (
	"errors"
	"testing"
	"time"

	"relativebrightness/internal/config"
	"relativebrightness/internal/ha"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func createTestConfig() *config.LightGroupsConfig {
	return &config.LightGroupsConfig{
		LightGroups: []config.GroupConfig{
			{
				Name:             "Living Room",
				Entities:         []string{"light.sofa", "light.reading"},
				BrightnessEntity: "input_number.living_room_brightness",
			},
			{
				UniqueID: "kitchen_main",
				Name:     "Kitchen",
				Entities: "light.counter, light.island",
				All:      true,
			},
		},
	}
}

func newTestManager(t *testing.T, client *ha.MockClient) *Manager {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	return NewManager(client, createTestConfig(), logger, false)
}

func TestNewManager(t *testing.T) {
	manager := newTestManager(t, ha.NewMockClient())

	groups := manager.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, "living_room", groups[0].ID())
	assert.Equal(t, "kitchen_main", groups[1].ID())
	assert.Equal(t, []string{"light.counter", "light.island"}, groups[1].Info().Members)

	_, ok := manager.Group("kitchen_main")
	assert.True(t, ok)
	_, ok = manager.Group("kitchen")
	assert.False(t, ok)

	assert.Equal(t, []string{"kitchen_main", "living_room"}, manager.Tracker().GroupIDs())
}

func TestManager_UnknownGroup(t *testing.T) {
	manager := newTestManager(t, ha.NewMockClient())

	err := manager.TurnOn("garage", TurnOnRequest{}, ha.NewContext(""))
	assert.ErrorIs(t, err, ErrUnknownGroup)

	err = manager.TurnOff("garage", TurnOffParams{}, ha.NewContext(""))
	assert.ErrorIs(t, err, ErrUnknownGroup)
}

func TestManager_TurnOnById(t *testing.T) {
	client := ha.NewMockClient()
	client.SetLight("light.counter", true, 100)
	client.SetLight("light.island", true, 200)

	manager := newTestManager(t, client)

	require.NoError(t, manager.TurnOn("kitchen_main", TurnOnRequest{TurnOnParams: TurnOnParams{Brightness: intPtr(75)}}, ha.NewContext("")))

	// group at 150 dims by half
	assert.Equal(t, 50, brightnessOf(t, client, "light.counter"))
	assert.Equal(t, 100, brightnessOf(t, client, "light.island"))
}

func TestManager_Snapshots(t *testing.T) {
	client := ha.NewMockClient()
	client.SetLight("light.sofa", true, 120)
	client.SetLight("light.reading", false, 0)
	client.SetLight("light.counter", true, 100)
	client.SetLight("light.island", false, 0)

	manager := newTestManager(t, client)

	snapshots := manager.Snapshots()
	require.Len(t, snapshots, 2)

	living := snapshots[0]
	assert.Equal(t, "living_room", living.ID)
	require.NotNil(t, living.State)
	assert.True(t, living.State.On)
	assert.Equal(t, 120, *living.State.Brightness)
	assert.NotNil(t, living.History)

	kitchen := snapshots[1]
	require.NotNil(t, kitchen.State)
	assert.False(t, kitchen.State.On, "all mode group with one member off is off")

	client.SetGetStatesError(errors.New("connection lost"))
	snapshots = manager.Snapshots()
	assert.Nil(t, snapshots[0].State)
	assert.Contains(t, snapshots[0].Error, "connection lost")
}

func TestManager_BrightnessEntity(t *testing.T) {
	client := ha.NewMockClient()
	client.SetLight("light.sofa", true, 50)
	client.SetLight("light.reading", true, 150)
	client.SetState("input_number.living_room_brightness", "100.0", nil)

	manager := newTestManager(t, client)
	require.NoError(t, manager.Start())
	defer manager.Stop()

	assert.Equal(t, 1, client.SubscriberCount("input_number.living_room_brightness"))

	client.SetState("input_number.living_room_brightness", "150.0", nil)

	require.Eventually(t, func() bool {
		return len(client.GetServiceCalls()) == 2
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 116, brightnessOf(t, client, "light.sofa"))
	assert.Equal(t, 184, brightnessOf(t, client, "light.reading"))
}

func TestManager_BrightnessEntityIgnoresNonNumeric(t *testing.T) {
	client := ha.NewMockClient()
	client.SetLight("light.sofa", true, 50)

	manager := newTestManager(t, client)
	require.NoError(t, manager.Start())
	defer manager.Stop()

	client.SetState("input_number.living_room_brightness", ha.StateUnavailable, nil)
	client.SetState("input_number.living_room_brightness", "bright", nil)

	// a valid update afterwards is still applied
	client.SetState("input_number.living_room_brightness", "0", nil)

	require.Eventually(t, func() bool {
		return len(client.GetServiceCalls()) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, "turn_off", client.GetServiceCalls()[0].Service)
}

func TestManager_Stop(t *testing.T) {
	client := ha.NewMockClient()
	manager := newTestManager(t, client)

	require.NoError(t, manager.Start())
	assert.Error(t, manager.Start(), "second start must fail")

	require.NoError(t, manager.Stop())
	assert.Equal(t, 0, client.SubscriberCount("input_number.living_room_brightness"))

	// changes after stop are not applied
	client.SetState("input_number.living_room_brightness", "42", nil)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, client.GetServiceCalls())

	require.NoError(t, manager.Stop())
}

func TestManager_StartUnwindsOnSubscribeFailure(t *testing.T) {
	client := ha.NewMockClient()
	logger, _ := zap.NewDevelopment()
	cfg := &config.LightGroupsConfig{
		LightGroups: []config.GroupConfig{
			{
				Name:             "Living Room",
				Entities:         []string{"light.sofa"},
				BrightnessEntity: "input_number.living_room_brightness",
			},
			{
				Name:             "Kitchen",
				Entities:         []string{"light.counter"},
				BrightnessEntity: "input_number.kitchen_brightness",
			},
		},
	}
	manager := NewManager(client, cfg, logger, false)

	failure := errors.New("subscribe rejected")
	client.SetSubscribeError(func(entityID string) error {
		if entityID == "input_number.kitchen_brightness" {
			return failure
		}
		return nil
	})

	err := manager.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, 0, client.SubscriberCount("input_number.living_room_brightness"))
	assert.Equal(t, 0, client.SubscriberCount("input_number.kitchen_brightness"))

	// the manager can be started again once the cause is gone
	client.SetSubscribeError(nil)
	require.NoError(t, manager.Start())
	assert.Equal(t, 1, client.SubscriberCount("input_number.living_room_brightness"))
	assert.Equal(t, 1, client.SubscriberCount("input_number.kitchen_brightness"))

	require.NoError(t, manager.Stop())
	assert.Equal(t, 0, client.SubscriberCount("input_number.living_room_brightness"))
}
