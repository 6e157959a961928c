package instrument

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Load reads instrument specs from a YAML file.
func Load(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "instrument: read specs %s", path)
	}

	// The YAML has a top-level "instruments" key.
	var wrapper struct {
		Instruments []Spec `yaml:"instruments"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "instrument: parse specs")
	}

	if len(wrapper.Instruments) == 0 {
		return nil, eris.Errorf("instrument: %s declares no instruments", path)
	}
	for _, spec := range wrapper.Instruments {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
	}
	return wrapper.Instruments, nil
}
