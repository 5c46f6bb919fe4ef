package recovery

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadMessages reads spoken recovery phrases from a YAML file, keyed by
// error domain and then error key. Only the phrases present in the file are
// overridden; everything else keeps its built-in default, so a locale file
// only needs to carry what it changes.
func LoadMessages(path string) (map[Domain]map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read messages file %q: %w", path, err)
	}

	var loaded map[Domain]map[string]string
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse messages file %q: %w", path, err)
	}
	return loaded, nil
}
