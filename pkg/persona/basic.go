package persona

import (
	"encoding/json"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Basic is a persona with a name and a description, without greetings.
type Basic struct {
	Name_       string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

var _ Persona = (*Basic)(nil)

func NewBasic(name, description string) *Basic {
	return &Basic{Name_: name, Description: description}
}

func (b *Basic) Name() string {
	return b.Name_
}

func (b *Basic) Greetings(partner string) []string {
	return []string{}
}

func (b *Basic) SystemPrompt(partner string) string {
	return ReplaceNames(b.Description, b.Name_, partner)
}

func LoadBasicFromJSON(data []byte) (*Basic, error) {
	ret := &Basic{}
	if err := json.Unmarshal(data, ret); err != nil {
		return nil, errors.Wrap(err, "could not parse persona")
	}
	if ret.Name_ == "" {
		return nil, errors.New("persona has no name")
	}
	return ret, nil
}

func LoadBasicFromYAML(data []byte) (*Basic, error) {
	ret := &Basic{}
	if err := yaml.Unmarshal(data, ret); err != nil {
		return nil, errors.Wrap(err, "could not parse persona")
	}
	if ret.Name_ == "" {
		return nil, errors.New("persona has no name")
	}
	return ret, nil
}
