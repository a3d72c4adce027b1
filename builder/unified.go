package builder

import "slices"

// UnifiedConfig is the bundler-neutral build plan a strategy produces.
type UnifiedConfig struct {
	LibraryType LibraryType        `json:"libraryType"`
	Strategy    string             `json:"strategy"`
	Input       string             `json:"input"`
	Output      []OutputDescriptor `json:"output"`
	Plugins     []Plugin           `json:"plugins"`
	External    []string           `json:"external"`
	Treeshake   bool               `json:"treeshake"`
	OnWarn      WarningFilter      `json:"onwarn"`
}

// OutputDescriptor is one emitted bundle.
type OutputDescriptor struct {
	Format    string            `json:"format"`
	File      string            `json:"file"`
	Sourcemap bool              `json:"sourcemap"`
	Name      string            `json:"name,omitempty"`
	Globals   map[string]string `json:"globals,omitempty"`
	Exports   string            `json:"exports"`
}

// Plugin is a bundler plugin to load from Package with Options.
type Plugin struct {
	Name    string         `json:"name"`
	Package string         `json:"package"`
	Version string         `json:"version,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// Plugin returns the plugin called name, if present.
func (u *UnifiedConfig) Plugin(name string) (Plugin, bool) {
	i := slices.IndexFunc(u.Plugins, func(p Plugin) bool { return p.Name == name })
	if i < 0 {
		return Plugin{}, false
	}
	return u.Plugins[i], true
}

// PluginNames lists plugin names in load order.
func (u *UnifiedConfig) PluginNames() []string {
	names := make([]string, len(u.Plugins))
	for i, p := range u.Plugins {
		names[i] = p.Name
	}
	return names
}

// WarningFilter lists bundler warning codes that are logged rather than
// passed to the bundler's own warning handler.
type WarningFilter struct {
	Demote []string `json:"demote"`
}

// Demotes reports whether warnings with code are only logged.
func (f WarningFilter) Demotes(code string) bool {
	return slices.Contains(f.Demote, code)
}

func defaultWarningFilter() WarningFilter {
	return WarningFilter{Demote: []string{"CIRCULAR_DEPENDENCY"}}
}
