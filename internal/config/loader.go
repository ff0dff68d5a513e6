package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// LightGroupsFile is the file name the loader reads from the config directory
const LightGroupsFile = "light_groups.yaml"

// GroupConfig describes one relative brightness light group
type GroupConfig struct {
	UniqueID         string      `yaml:"unique_id"`
	Name             string      `yaml:"name"`
	Entities         interface{} `yaml:"entities"` // Can be string, comma separated string or []string
	All              bool        `yaml:"all"`
	BrightnessEntity string      `yaml:"brightness_entity"` // Optional input_number driving the group brightness
}

// GetEntities returns the member entity ids in configured order, without duplicates
func (g *GroupConfig) GetEntities() []string {
	raw := interfaceToStringSlice(g.Entities)
	seen := make(map[string]bool, len(raw))
	entities := make([]string, 0, len(raw))

	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			id := strings.ToLower(strings.TrimSpace(part))
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			entities = append(entities, id)
		}
	}

	return entities
}

// ID returns the identifier the group is addressed by: its unique_id, or the
// snake_case form of its name
func (g *GroupConfig) ID() string {
	if g.UniqueID != "" {
		return g.UniqueID
	}
	return ToSnakeCase(g.Name)
}

// EntityID returns the light entity id a group of this name would have in Home Assistant
func (g *GroupConfig) EntityID() string {
	return "light." + ToSnakeCase(g.Name)
}

// LightGroupsConfig represents the light_groups.yaml structure
type LightGroupsConfig struct {
	LightGroups []GroupConfig `yaml:"light_groups"`
}

// Validate checks the configuration for missing names, non-light members and id collisions
func (c *LightGroupsConfig) Validate() error {
	ids := make(map[string]bool, len(c.LightGroups))

	for i := range c.LightGroups {
		group := &c.LightGroups[i]

		if strings.TrimSpace(group.Name) == "" {
			return fmt.Errorf("light group %d: name is required", i)
		}

		entities := group.GetEntities()
		if len(entities) == 0 {
			return fmt.Errorf("light group %q: at least one entity is required", group.Name)
		}

		for _, entityID := range entities {
			if !strings.HasPrefix(entityID, "light.") {
				return fmt.Errorf("light group %q: entity %s is not a light", group.Name, entityID)
			}
		}

		if group.BrightnessEntity != "" && !strings.Contains(group.BrightnessEntity, ".") {
			return fmt.Errorf("light group %q: invalid brightness_entity %q", group.Name, group.BrightnessEntity)
		}

		id := group.ID()
		if ids[id] {
			return fmt.Errorf("light group %q: duplicate id %s", group.Name, id)
		}
		ids[id] = true
	}

	return nil
}

// Loader manages configuration file loading
type Loader struct {
	configDir   string
	logger      *zap.Logger
	lightGroups *LightGroupsConfig
}

// NewLoader creates a new configuration loader
func NewLoader(configDir string, logger *zap.Logger) *Loader {
	return &Loader{
		configDir: configDir,
		logger:    logger,
	}
}

// LoadAll loads all configuration files
func (l *Loader) LoadAll() error {
	l.logger.Info("Loading configuration files", zap.String("dir", l.configDir))

	if err := l.LoadLightGroups(); err != nil {
		return fmt.Errorf("failed to load light groups config: %w", err)
	}

	l.logger.Info("All configuration files loaded successfully")
	return nil
}

// LoadLightGroups loads and validates the light_groups.yaml file
func (l *Loader) LoadLightGroups() error {
	path := filepath.Join(l.configDir, LightGroupsFile)
	l.logger.Debug("Loading light groups config", zap.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read light groups config: %w", err)
	}

	config, err := ParseLightGroups(data)
	if err != nil {
		return err
	}

	l.lightGroups = config
	l.logger.Info("Light groups config loaded successfully",
		zap.Int("groups", len(config.LightGroups)))
	return nil
}

// GetLightGroups returns the loaded light group configuration
func (l *Loader) GetLightGroups() *LightGroupsConfig {
	return l.lightGroups
}

// ParseLightGroups parses and validates light group YAML
func ParseLightGroups(data []byte) (*LightGroupsConfig, error) {
	var config LightGroupsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse light groups config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid light groups config: %w", err)
	}

	return &config, nil
}

var underscores = regexp.MustCompile(`_+`)

// ToSnakeCase converts a display name to the snake_case form Home Assistant uses
// in entity ids: "Living Room" -> "living_room"
func ToSnakeCase(str string) string {
	result := strings.ToLower(strings.TrimSpace(str))
	result = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, result)

	result = underscores.ReplaceAllString(result, "_")
	return strings.Trim(result, "_")
}

// interfaceToStringSlice converts an interface{} that can be string, []string, or nil to []string
func interfaceToStringSlice(val interface{}) []string {
	switch v := val.(type) {
	case nil:
		return []string{}
	case string:
		if v == "" {
			return []string{}
		}
		return []string{v}
	case []interface{}:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok && str != "" {
				result = append(result, str)
			}
		}
		return result
	case []string:
		return v
	default:
		return []string{}
	}
}
