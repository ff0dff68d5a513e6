package lightgroup_test

import (
	"testing"
	"time"

	"relativebrightness/internal/config"
	"relativebrightness/internal/ha"
	"relativebrightness/internal/lightgroup"
	"relativebrightness/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test_token"

func setupEnv(t *testing.T) (*testutil.TestEnv, *lightgroup.Manager) {
	t.Helper()

	env, err := testutil.NewTestEnv(testToken)
	require.NoError(t, err)
	t.Cleanup(env.Cleanup)

	env.Server.SetLight("light.sofa", true, 50)
	env.Server.SetLight("light.reading", true, 200)
	env.Server.SetLight("light.floor", false, 0)
	env.Server.SetState("input_number.living_room_brightness", "125.0", nil)

	cfg, err := config.ParseLightGroups([]byte(`
light_groups:
  - name: Living Room
    entities:
      - light.sofa
      - light.reading
      - light.floor
    brightness_entity: input_number.living_room_brightness
`))
	require.NoError(t, err)

	// events already written precede this response on the socket, so none of
	// the setup changes reach the manager's subscription
	_, err = env.Client.GetAllStates()
	require.NoError(t, err)

	manager := lightgroup.NewManager(env.Client, cfg, env.Logger, false)
	require.NoError(t, manager.Start())
	t.Cleanup(func() { manager.Stop() })

	return env, manager
}

func serverBrightness(env *testutil.TestEnv, entityID string) int {
	state := env.Server.GetState(entityID)
	b, _ := state.Brightness()
	return b
}

func TestIntegration_TurnOnOverWebSocket(t *testing.T) {
	env, manager := setupEnv(t)

	// group brightness is the mean of the on members: 125
	err := manager.TurnOn("living_room", lightgroup.TurnOnRequest{
		TurnOnParams: lightgroup.TurnOnParams{Brightness: intPtr(255)},
	}, ha.NewContext(""))
	require.NoError(t, err)

	calls := testutil.FilterServiceCalls(env.GetServiceCalls(), "light", "turn_on")
	require.Len(t, calls, 1, "both members reach 255 and share one command")
	assert.Equal(t, []string{"light.sofa", "light.reading"}, calls[0].EntityIDs())

	b, ok := calls[0].Brightness()
	require.True(t, ok)
	assert.Equal(t, 255, b)

	assert.Nil(t, testutil.FindServiceCallWithEntityID(env.GetServiceCalls(), "light", "turn_on", "light.floor"))

	require.Eventually(t, func() bool {
		return serverBrightness(env, "light.sofa") == 255
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, env.Server.GetState("light.floor").IsOn())
}

func TestIntegration_BrightnessEntityDrivesGroup(t *testing.T) {
	env, _ := setupEnv(t)

	env.Server.SetState("input_number.living_room_brightness", "75.0", nil)

	require.Eventually(t, func() bool {
		return env.Server.CountServiceCalls("light", "turn_on") == 2
	}, 2*time.Second, 10*time.Millisecond)

	// 125 -> 75 dims every member by 40% of its own level
	require.Eventually(t, func() bool {
		return serverBrightness(env, "light.sofa") == 30 && serverBrightness(env, "light.reading") == 120
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIntegration_FailureIsReturned(t *testing.T) {
	env, manager := setupEnv(t)
	env.Server.FailService("light", "turn_on", "light.reading", "device offline")

	err := manager.TurnOn("living_room", lightgroup.TurnOnRequest{
		TurnOnParams: lightgroup.TurnOnParams{Brightness: intPtr(150)},
	}, ha.NewContext("user"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device offline")

	// sofa was sent first and stays applied
	require.NotNil(t, testutil.FindServiceCallWithEntityID(env.GetServiceCalls(), "light", "turn_on", "light.sofa"))

	group, ok := manager.Group("living_room")
	require.True(t, ok)
	last := group.History().Outputs.LastInvocation()
	require.NotNil(t, last)
	assert.Equal(t, "user", last.UserID)
	assert.Contains(t, last.Error, "device offline")
}

func intPtr(v int) *int {
	return &v
}
