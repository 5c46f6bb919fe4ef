package intent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadKeywords reads keyword tables from a YAML file. Lists that are absent
// from the file keep their built-in defaults, so a locale file only needs to
// override what it changes.
func LoadKeywords(path string) (Keywords, error) {
	kw := DefaultKeywords()

	data, err := os.ReadFile(path)
	if err != nil {
		return kw, fmt.Errorf("read keywords file %q: %w", path, err)
	}

	var loaded Keywords
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return kw, fmt.Errorf("parse keywords file %q: %w", path, err)
	}

	if len(loaded.Confirm) > 0 {
		kw.Confirm = loaded.Confirm
	}
	if len(loaded.Retry) > 0 {
		kw.Retry = loaded.Retry
	}
	if len(loaded.Cancel) > 0 {
		kw.Cancel = loaded.Cancel
	}
	return kw, nil
}
