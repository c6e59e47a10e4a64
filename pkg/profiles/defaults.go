package profiles

import (
	_ "embed"
)

//go:embed defaults.yaml
var defaultProfilesYAML []byte

// Defaults returns the built-in profile set.
func Defaults() *Registry {
	r, err := Load(defaultProfilesYAML)
	if err != nil {
		panic(err)
	}
	return r
}
