package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/m-kaneko-ai/youtube-avter-system-sub001/internal/model"
)

type agentsFile struct {
	Agents map[string]agentEntry `yaml:"agents"`
}

type agentEntry struct {
	DisplayName string         `yaml:"display_name"`
	Enabled     *bool          `yaml:"enabled"`
	Config      map[string]any `yaml:"config"`
}

// LoadAgents reads agent definitions from a YAML file of the form
//
//	agents:
//	  trend_monitor:
//	    display_name: Trend Monitor
//	    enabled: true
//	    config: {keywords: [...]}
//
// Kinds absent from the file (or a missing file) are enabled with an empty
// config. The result lists every kind in model.AgentKinds order.
func LoadAgents(path string) ([]model.AgentDefinition, error) {
	var file agentsFile
	if path != "" {
		data, err := os.ReadFile(expandHome(path))
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read agents file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &file); err != nil {
				return nil, fmt.Errorf("failed to parse agents file: %w", err)
			}
		}
	}

	for name := range file.Agents {
		if _, err := model.ParseAgentKind(name); err != nil {
			return nil, fmt.Errorf("agents file: %w", err)
		}
	}

	defs := make([]model.AgentDefinition, 0, len(model.AgentKinds()))
	for _, kind := range model.AgentKinds() {
		def := model.AgentDefinition{
			Kind:        kind,
			DisplayName: displayName(kind),
			Enabled:     true,
			Config:      map[string]any{},
		}
		if e, ok := file.Agents[string(kind)]; ok {
			if e.DisplayName != "" {
				def.DisplayName = e.DisplayName
			}
			if e.Enabled != nil {
				def.Enabled = *e.Enabled
			}
			if e.Config != nil {
				def.Config = e.Config
			}
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// displayName turns trend_monitor into Trend Monitor.
func displayName(kind model.AgentKind) string {
	words := strings.Split(string(kind), "_")
	for i, w := range words {
		if w == "qa" {
			words[i] = "QA"
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
