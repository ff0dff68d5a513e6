package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleLightGroups = `light_groups:
  - unique_id: living_room_relative
    name: Living Room
    entities:
      - light.sofa
      - light.ceiling
      - light.floor_lamp
    brightness_entity: input_number.living_room_brightness
  - name: Primary Suite
    entities: light.bedside_left, light.bedside_right
    all: true
`

func setupTestConfigDir(t *testing.T, contents string) string {
	tmpDir := t.TempDir()
	err := os.WriteFile(filepath.Join(tmpDir, LightGroupsFile), []byte(contents), 0644)
	require.NoError(t, err)
	return tmpDir
}

func TestLoader_LoadAll(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	loader := NewLoader(setupTestConfigDir(t, sampleLightGroups), logger)

	err := loader.LoadAll()
	require.NoError(t, err)

	groups := loader.GetLightGroups()
	require.NotNil(t, groups)
	require.Len(t, groups.LightGroups, 2)

	living := groups.LightGroups[0]
	assert.Equal(t, "living_room_relative", living.ID())
	assert.Equal(t, "Living Room", living.Name)
	assert.Equal(t, []string{"light.sofa", "light.ceiling", "light.floor_lamp"}, living.GetEntities())
	assert.Equal(t, "input_number.living_room_brightness", living.BrightnessEntity)
	assert.False(t, living.All)

	suite := groups.LightGroups[1]
	assert.Equal(t, "primary_suite", suite.ID())
	assert.Equal(t, "light.primary_suite", suite.EntityID())
	assert.Equal(t, []string{"light.bedside_left", "light.bedside_right"}, suite.GetEntities())
	assert.True(t, suite.All)
}

func TestLoader_MissingFile(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	loader := NewLoader(t.TempDir(), logger)

	err := loader.LoadAll()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read light groups config")
	assert.Nil(t, loader.GetLightGroups())
}

func TestParseLightGroups_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "malformed yaml",
			yaml:    "light_groups: [",
			wantErr: "failed to parse",
		},
		{
			name: "missing name",
			yaml: `light_groups:
  - entities: [light.a]
`,
			wantErr: "name is required",
		},
		{
			name: "no entities",
			yaml: `light_groups:
  - name: Empty
`,
			wantErr: "at least one entity",
		},
		{
			name: "non light member",
			yaml: `light_groups:
  - name: Mixed
    entities: [light.a, switch.b]
`,
			wantErr: "switch.b is not a light",
		},
		{
			name: "duplicate id",
			yaml: `light_groups:
  - name: Kitchen
    entities: [light.a]
  - name: kitchen
    entities: [light.b]
`,
			wantErr: "duplicate id kitchen",
		},
		{
			name: "bad brightness entity",
			yaml: `light_groups:
  - name: Kitchen
    entities: [light.a]
    brightness_entity: brightness
`,
			wantErr: "invalid brightness_entity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLightGroups([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGroupConfig_GetEntities(t *testing.T) {
	tests := []struct {
		name     string
		entities interface{}
		expected []string
	}{
		{"nil", nil, []string{}},
		{"single string", "light.a", []string{"light.a"}},
		{"comma separated", "light.a, light.b,light.c", []string{"light.a", "light.b", "light.c"}},
		{"list", []interface{}{"light.a", "light.b"}, []string{"light.a", "light.b"}},
		{"duplicates removed", []string{"light.a", "LIGHT.A", "light.b"}, []string{"light.a", "light.b"}},
		{"unsupported type", 42, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group := GroupConfig{Entities: tt.entities}
			assert.Equal(t, tt.expected, group.GetEntities())
		})
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Living Room", "living_room"},
		{"Primary Suite evening", "primary_suite_evening"},
		{"  Kid's   Room ", "kid_s_room"},
		{"Hallway-2", "hallway_2"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ToSnakeCase(tt.input))
		})
	}
}
