package models

// Location levels, from broadest to most specific.
const (
	LevelCity     = "city"
	LevelLocality = "locality"
	LevelArea     = "area"
)

// LocationNode is one entry in the location forest. Aliases include every
// spelling the normalizer should accept for this node.
type LocationNode struct {
	Key         string       `json:"key" yaml:"key"`
	DisplayName string       `json:"display_name" yaml:"name"`
	Level       string       `json:"level,omitempty" yaml:"level"`
	ParentKey   string       `json:"parent_key,omitempty" yaml:"parent"`
	Aliases     []string     `json:"aliases,omitempty" yaml:"aliases"`
	Coordinates *Coordinates `json:"coordinates,omitempty" yaml:"coordinates"`
}
