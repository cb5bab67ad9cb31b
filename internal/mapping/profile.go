package mapping

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/ingest-cli/internal/model"
)

// Profile is a saved set of user mappings that can be reapplied to a later
// file with the same layout.
type Profile struct {
	Name     string             `yaml:"name"`
	Table    string             `yaml:"table,omitempty"`
	SavedAt  time.Time          `yaml:"saved_at"`
	Mappings model.UserMappings `yaml:"mappings"`
}

// SaveProfile writes p to path as YAML.
func SaveProfile(path string, p Profile) error {
	if p.SavedAt.IsZero() {
		p.SavedAt = time.Now().UTC()
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "mapping: marshal profile")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "mapping: write profile %s", path)
	}
	return nil
}

// LoadProfile reads a YAML profile.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "mapping: read profile %s", path)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrapf(err, "mapping: parse profile %s", path)
	}
	if p.Mappings == nil {
		p.Mappings = model.UserMappings{}
	}
	return &p, nil
}
