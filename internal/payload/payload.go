// Package payload holds the three data blocks a description is generated
// from, the built-in sample fixtures, and loaders for block files.
package payload

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed fixtures/default.yaml
var defaultFixtures []byte

// Input is the request content: arbitrarily shaped JSON records for the
// product, the user's personal data, and the context the user supplied.
type Input struct {
	ProductInfo             map[string]any `json:"product_info" yaml:"product_info"`
	UserPersonalInformation map[string]any `json:"user_personal_information" yaml:"user_personal_information"`
	UserProvidedInformation map[string]any `json:"user_provided_information" yaml:"user_provided_information"`
}

// Normalize replaces missing blocks with empty records so they render as
// {} rather than null.
func (in Input) Normalize() Input {
	if in.ProductInfo == nil {
		in.ProductInfo = map[string]any{}
	}
	if in.UserPersonalInformation == nil {
		in.UserPersonalInformation = map[string]any{}
	}
	if in.UserProvidedInformation == nil {
		in.UserProvidedInformation = map[string]any{}
	}
	return in
}

// Merge returns in with every block that over provides replaced.
func (in Input) Merge(over Input) Input {
	if over.ProductInfo != nil {
		in.ProductInfo = over.ProductInfo
	}
	if over.UserPersonalInformation != nil {
		in.UserPersonalInformation = over.UserPersonalInformation
	}
	if over.UserProvidedInformation != nil {
		in.UserProvidedInformation = over.UserProvidedInformation
	}
	return in
}

// IsEmpty reports whether no block is set.
func (in Input) IsEmpty() bool {
	return in.ProductInfo == nil && in.UserPersonalInformation == nil && in.UserProvidedInformation == nil
}

// Defaults returns the embedded sample request.
func Defaults() (Input, error) {
	return parseFixtures(defaultFixtures)
}

// LoadFixtures reads a fixtures file (YAML or JSON). An empty path yields
// the embedded defaults.
func LoadFixtures(path string) (Input, error) {
	if path == "" {
		return Defaults()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Input{}, fmt.Errorf("reading fixtures: %w", err)
	}
	in, err := parseFixtures(data)
	if err != nil {
		return Input{}, fmt.Errorf("parsing fixtures %s: %w", path, err)
	}
	return in, nil
}

func parseFixtures(data []byte) (Input, error) {
	var in Input
	if err := yaml.Unmarshal(data, &in); err != nil {
		return Input{}, err
	}
	return in.Normalize(), nil
}
