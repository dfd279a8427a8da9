package resolver

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Built-in requirement presets. The Hub set covers the images the operator
// install needs in the cluster; the Kantra set covers the images the kantra
// CLI tests extract binaries from.
const (
	// PresetHub names the Hub testing image set.
	PresetHub = "hub"
	// PresetKantra names the Kantra testing image set.
	PresetKantra = "kantra"
)

//nolint:gochecknoglobals // Fixed requirement presets.
var presets = map[string][]string{
	PresetHub: {
		"quay.io/konveyor/tackle2-hub",
		"quay.io/konveyor/tackle2-addon-analyzer",
		"quay.io/konveyor/tackle2-addon-discovery",
		"quay.io/konveyor/tackle2-addon-platform",
		"quay.io/konveyor/java-external-provider",
		"quay.io/konveyor/generic-external-provider",
		"quay.io/konveyor/dotnet-external-provider",
	},
	PresetKantra: {
		"quay.io/konveyor/kantra",
		"quay.io/konveyor/java-external-provider",
		"quay.io/konveyor/generic-external-provider",
		"quay.io/konveyor/dotnet-external-provider",
	},
}

// Preset returns the named built-in requirement list.
func Preset(name string) ([]string, bool) {
	required, ok := presets[name]

	return required, ok
}

// PresetNames returns the names of the built-in requirement lists.
func PresetNames() []string {
	return []string{PresetHub, PresetKantra}
}

// imageSetConfig is the on-disk shape of a custom requirement list.
type imageSetConfig struct {
	// Images is the ordered requirement list. Order matters: the reference
	// tag is taken from the first listed image that is found.
	Images []string `json:"images"`
}

// LoadImageSet reads an ordered requirement list from a YAML file.
func LoadImageSet(path string) ([]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path from CLI flag
	if err != nil {
		return nil, fmt.Errorf("failed to read image set config: %w", err)
	}

	var config imageSetConfig

	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse image set config: %w", err)
	}

	if len(config.Images) == 0 {
		return nil, fmt.Errorf("image set config %s lists no images", path)
	}

	return config.Images, nil
}
