package resolver

import "regexp"

// Category classifies a loaded image archive into the environment variable
// downstream install steps read it from.
type Category int

// The fixed set of image categories.
const (
	// CategoryHub is the tackle2-hub API server image.
	CategoryHub Category = iota
	// CategoryAnalyzerAddon is the analyzer task addon image.
	CategoryAnalyzerAddon
	// CategoryDiscoveryAddon is the discovery task addon image.
	CategoryDiscoveryAddon
	// CategoryPlatformAddon is the platform task addon image.
	CategoryPlatformAddon
	// CategoryJavaProvider is the Java external provider image.
	CategoryJavaProvider
	// CategoryCSharpProvider is the C#/.NET external provider image.
	CategoryCSharpProvider
	// CategoryGenericProvider is the generic external provider image.
	CategoryGenericProvider
	// CategoryKantraRunner is the kantra CLI runner image.
	CategoryKantraRunner
)

// categoryRule pairs a category's path matcher with its output key.
type categoryRule struct {
	category Category
	pattern  *regexp.Regexp
	envKey   string
}

// categoryRules is the fixed classification table. Patterns are applied to
// archive file paths, which carry underscored image names, so they match on
// the component name only. A path may legitimately match more than one rule.
//
//nolint:gochecknoglobals // Fixed classification table.
var categoryRules = []categoryRule{
	{CategoryHub, regexp.MustCompile(`(?i)tackle2-hub`), "HUB_IMAGE"},
	{CategoryAnalyzerAddon, regexp.MustCompile(`(?i)tackle2-addon-analyzer`), "ANALYZER_ADDON_IMAGE"},
	{CategoryDiscoveryAddon, regexp.MustCompile(`(?i)tackle2-addon-discovery`), "DISCOVERY_ADDON_IMAGE"},
	{CategoryPlatformAddon, regexp.MustCompile(`(?i)tackle2-addon-platform`), "PLATFORM_ADDON_IMAGE"},
	{CategoryJavaProvider, regexp.MustCompile(`(?i)java-external-provider`), "JAVA_PROVIDER_IMAGE"},
	{CategoryCSharpProvider, regexp.MustCompile(`(?i)(csharp|dotnet)-external-provider`), "CSHARP_PROVIDER_IMAGE"},
	{CategoryGenericProvider, regexp.MustCompile(`(?i)generic-external-provider`), "GENERIC_PROVIDER_IMAGE"},
	{CategoryKantraRunner, regexp.MustCompile(`(?i)kantra`), "KANTRA_IMAGE"},
}

// String returns the category's display name.
func (c Category) String() string {
	switch c {
	case CategoryHub:
		return "hub"
	case CategoryAnalyzerAddon:
		return "analyzer-addon"
	case CategoryDiscoveryAddon:
		return "discovery-addon"
	case CategoryPlatformAddon:
		return "platform-addon"
	case CategoryJavaProvider:
		return "java-provider"
	case CategoryCSharpProvider:
		return "csharp-provider"
	case CategoryGenericProvider:
		return "generic-provider"
	case CategoryKantraRunner:
		return "kantra-runner"
	default:
		return "unknown"
	}
}

// EnvKey returns the environment variable a category exports to.
func (c Category) EnvKey() string {
	for _, rule := range categoryRules {
		if rule.category == c {
			return rule.envKey
		}
	}

	return ""
}

// Classify returns the environment variable keys of every category whose
// pattern matches the archive path. Classification is non-exclusive: a path
// matching two patterns yields two keys.
func Classify(archivePath string) []string {
	var keys []string

	for _, rule := range categoryRules {
		if rule.pattern.MatchString(archivePath) {
			keys = append(keys, rule.envKey)
		}
	}

	return keys
}
