package flags

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseError reports a registry file that could not be understood, with a
// structural hint for the caller.
type ParseError struct {
	Format string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %s", e.Format, e.Reason)
}

// Parse decodes a registry file into flags. The extension picks the codec;
// without one, JSON is tried first, then YAML. Three shapes are accepted: a
// bare array, an object with a flags property, and a single flag object.
func Parse(content []byte, path string) ([]Flag, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".yaml"), strings.HasSuffix(lower, ".yml"):
		return parseYAML(content)
	case strings.HasSuffix(lower, ".json"):
		return parseJSON(content)
	default:
		parsed, err := parseJSON(content)
		if err == nil {
			return parsed, nil
		}
		return parseYAML(content)
	}
}

func parseJSON(content []byte) ([]Flag, error) {
	var asList []Flag
	if err := json.Unmarshal(content, &asList); err == nil {
		return asList, nil
	}

	var asObject struct {
		Flags []Flag          `json:"flags"`
		Key   json.RawMessage `json:"key"`
	}
	if err := json.Unmarshal(content, &asObject); err != nil {
		return nil, &ParseError{Format: "JSON", Reason: err.Error()}
	}
	if asObject.Flags != nil {
		return asObject.Flags, nil
	}
	if len(asObject.Key) > 0 {
		var single Flag
		if err := json.Unmarshal(content, &single); err != nil {
			return nil, &ParseError{Format: "JSON", Reason: err.Error()}
		}
		return []Flag{single}, nil
	}
	return nil, &ParseError{Format: "JSON", Reason: "expected array of flags or object with flags property"}
}

func parseYAML(content []byte) ([]Flag, error) {
	var asList []Flag
	if err := yaml.Unmarshal(content, &asList); err == nil {
		return asList, nil
	}

	var asObject struct {
		Flags []Flag `yaml:"flags"`
		Key   string `yaml:"key"`
	}
	if err := yaml.Unmarshal(content, &asObject); err != nil {
		return nil, &ParseError{Format: "YAML", Reason: err.Error()}
	}
	if asObject.Flags != nil {
		return asObject.Flags, nil
	}
	if asObject.Key != "" {
		var single Flag
		if err := yaml.Unmarshal(content, &single); err != nil {
			return nil, &ParseError{Format: "YAML", Reason: err.Error()}
		}
		return []Flag{single}, nil
	}
	return nil, &ParseError{Format: "YAML", Reason: "expected array of flags or object with flags property"}
}
