package config

import (
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// ToMap renders the config as nested maps keyed by the koanf names, the
// same keys a config file uses. Durations become strings such as "500ms".
func ToMap(cfg *NodeConfig) (map[string]any, error) {
	out := make(map[string]any)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "koanf",
		Result:  &out,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	stringifyDurations(out)
	return out, nil
}

func stringifyDurations(m map[string]any) {
	for k, v := range m {
		switch val := v.(type) {
		case time.Duration:
			m[k] = val.String()
		case map[string]any:
			stringifyDurations(val)
		}
	}
}
