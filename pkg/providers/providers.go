package providers

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed metrc.yaml
var defaultMetrc []byte

// Metrc is the static configuration the Metrc adapter reads.
type Metrc struct {
	Crop     string            `yaml:"crop"`
	StateMap map[string]string `yaml:"state_map"`
	UnitMap  map[string]string `yaml:"unit_map"`
}

// LoadMetrc parses the embedded defaults, or path when it is set.
func LoadMetrc(path string) (*Metrc, error) {
	data := defaultMetrc
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read metrc providers file: %w", err)
		}
		data = raw
	}
	return ParseMetrc(data)
}

func ParseMetrc(data []byte) (*Metrc, error) {
	var cfg Metrc
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse metrc providers: %w", err)
	}
	if strings.TrimSpace(cfg.Crop) == "" {
		return nil, fmt.Errorf("metrc providers: crop is required")
	}
	return &cfg, nil
}

// State maps an integration state onto the Metrc state code, falling back
// to the state itself.
func (m *Metrc) State(state string) string {
	if m != nil {
		if mapped, ok := m.StateMap[strings.ToUpper(strings.TrimSpace(state))]; ok {
			return mapped
		}
	}
	return state
}

// Unit maps an Artemis unit name onto the Metrc unit vocabulary. Unknown
// names pass through unchanged.
func (m *Metrc) Unit(unitName string) string {
	if m != nil {
		if mapped, ok := m.UnitMap[unitName]; ok {
			return mapped
		}
	}
	return unitName
}
