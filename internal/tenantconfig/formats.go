package tenantconfig

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// jsonCodec is the baseline export/import format.
type jsonCodec struct{}

func (jsonCodec) Encode(values map[string]any) ([]byte, error) {
	return json.MarshalIndent(values, "", " ")
}

func (jsonCodec) Decode(raw []byte) (map[string]any, error) {
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// yamlCodec registers alongside the JSON baseline so exported tenant
// configuration can round-trip through either format.
type yamlCodec struct{}

func (yamlCodec) Encode(values map[string]any) ([]byte, error) {
	return yaml.Marshal(values)
}

func (yamlCodec) Decode(raw []byte) (map[string]any, error) {
	var values map[string]any
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, err
	}
	return values, nil
}
