package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadProfileConfig reads the optional Memobase profile configuration from
// path and returns it as a raw string, since the service consumes the text
// verbatim. The file is validated as YAML before being returned so a broken
// config fails at startup rather than server-side. A missing file is fine:
// the project then runs on the service's defaults.
func LoadProfileConfig(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read profile config: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parse profile config %s: %w", path, err)
	}

	return string(data), nil
}
