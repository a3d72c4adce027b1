package builder

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/rs/zerolog/log"
)

// Strategy turns a Config for one library type into a UnifiedConfig.
type Strategy interface {
	Name() string
	LibraryType() LibraryType
	Priority() int
	IsApplicable(cfg *Config) bool
	Apply(ctx context.Context, cfg *Config, tc Toolchain) (*UnifiedConfig, error)
}

// requirement is a package that must be installed for a strategy to apply.
// major 0 accepts any version.
type requirement struct {
	pkg   string
	major int
}

type recommended struct {
	formats      []string
	sourcemap    bool
	declaration  bool
	extract      bool
	minimize     bool
	autoprefixer bool
	noTreeshake  bool
	external     []string
	globals      map[string]string
}

// profile is everything that differs between library types.
type profile struct {
	libraryType LibraryType
	name        string
	priority    int
	requires    []requirement
	plugins     []string // pluginCatalog names in load order; "?" marks optional
	jsxSource   string   // jsxImportSource for the esbuild JSX transform
	recommended recommended
}

var standardOutput = recommended{
	formats:   []string{FormatESM, FormatCJS},
	sourcemap: true,
}

func withExternal(rec recommended, external ...string) recommended {
	rec.external = external
	return rec
}

var profiles = []profile{
	{
		libraryType: TypeScript,
		name:        "typescript",
		priority:    6,
		requires:    []requirement{{pkg: "typescript"}},
		plugins:     []string{"typescript", "dts"},
		recommended: recommended{formats: []string{FormatESM, FormatCJS}, sourcemap: true, declaration: true},
	},
	{
		libraryType: Style,
		name:        "style",
		priority:    8,
		plugins:     []string{"postcss", "sass", "stylus"},
		recommended: recommended{
			formats:      []string{FormatESM},
			extract:      true,
			minimize:     true,
			autoprefixer: true,
			noTreeshake:  true,
		},
	},
	{
		libraryType: Vue2,
		name:        "vue2",
		priority:    10,
		requires:    []requirement{{pkg: "vue", major: 2}},
		plugins:     []string{"vue2", "vue-jsx", "typescript", "postcss?"},
		recommended: recommended{
			formats:   []string{FormatESM, FormatCJS, FormatUMD},
			sourcemap: true,
			external:  []string{"vue"},
			globals:   map[string]string{"vue": "Vue"},
		},
	},
	{
		libraryType: Vue3,
		name:        "vue3",
		priority:    10,
		requires:    []requirement{{pkg: "vue", major: 3}},
		plugins:     []string{"vue3", "vue-jsx", "typescript", "postcss?"},
		recommended: recommended{
			formats:   []string{FormatESM, FormatCJS, FormatUMD},
			sourcemap: true,
			external:  []string{"vue"},
			globals:   map[string]string{"vue": "Vue"},
		},
	},
	{
		libraryType: React,
		name:        "react",
		priority:    10,
		requires:    []requirement{{pkg: "react"}},
		plugins:     []string{"jsx", "postcss?", "dts"},
		jsxSource:   "react",
		recommended: withExternal(standardOutput, "react", "react-dom"),
	},
	{
		libraryType: Svelte,
		name:        "svelte",
		priority:    9,
		requires:    []requirement{{pkg: "svelte"}},
		plugins:     []string{"svelte", "postcss?", "dts"},
		recommended: withExternal(standardOutput, "svelte"),
	},
	{
		libraryType: Solid,
		name:        "solid",
		priority:    9,
		requires:    []requirement{{pkg: "solid-js"}},
		plugins:     []string{"jsx", "postcss?", "dts"},
		jsxSource:   "solid-js",
		recommended: withExternal(standardOutput, "solid-js"),
	},
	{
		libraryType: Preact,
		name:        "preact",
		priority:    9,
		requires:    []requirement{{pkg: "preact"}},
		plugins:     []string{"jsx", "postcss?", "dts"},
		jsxSource:   "preact",
		recommended: withExternal(standardOutput, "preact"),
	},
	{
		libraryType: Lit,
		name:        "lit",
		priority:    8,
		requires:    []requirement{{pkg: "lit"}},
		plugins:     []string{"typescript", "postcss?", "dts"},
		recommended: withExternal(standardOutput, "lit"),
	},
	{
		libraryType: Angular,
		name:        "angular",
		priority:    7,
		requires:    []requirement{{pkg: "@angular/core"}},
		plugins:     []string{"typescript", "dts"},
		recommended: withExternal(standardOutput, "@angular/core", "@angular/common"),
	},
	{
		libraryType: Mixed,
		name:        "mixed",
		priority:    2,
		plugins:     []string{"typescript", "vue3?", "postcss?", "dts"},
		recommended: recommended{
			formats:     []string{FormatESM, FormatCJS},
			sourcemap:   true,
			declaration: true,
			extract:     true,
		},
	},
}

// Builtin returns one strategy per supported library type.
func Builtin() []Strategy {
	out := make([]Strategy, len(profiles))
	for i := range profiles {
		out[i] = &profileStrategy{p: profiles[i]}
	}
	return out
}

// profileStrategy is the Strategy every built-in library type uses.
type profileStrategy struct {
	p profile
}

func (s *profileStrategy) Name() string             { return s.p.name }
func (s *profileStrategy) LibraryType() LibraryType { return s.p.libraryType }
func (s *profileStrategy) Priority() int            { return s.p.priority }

// IsApplicable reports whether cfg asks for this strategy's library type.
func (s *profileStrategy) IsApplicable(cfg *Config) bool {
	return cfg != nil && cfg.LibraryType == s.p.libraryType
}

// Apply fills cfg with the recommended settings, checks that the framework is
// installed and assembles the plugin list.
func (s *profileStrategy) Apply(ctx context.Context, cfg *Config, tc Toolchain) (*UnifiedConfig, error) {
	if cfg == nil {
		return nil, &ConfigError{Strategy: s.p.name, Field: "config", Reason: "must not be nil"}
	}
	if !s.IsApplicable(cfg) {
		return nil, &ConfigError{Strategy: s.p.name, Field: "libraryType", Reason: fmt.Sprintf("%q is not handled by this strategy", cfg.LibraryType)}
	}
	full := cfg.withDefaults(s.p.recommended)
	if err := full.Validate(); err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			ce.Strategy = s.p.name
		}
		return nil, err
	}

	for _, req := range s.p.requires {
		if _, err := s.require(ctx, tc, req); err != nil {
			return nil, err
		}
	}

	var plugins []Plugin
	for _, ref := range append(append([]string(nil), commonPlugins...), s.p.plugins...) {
		name, optional := parsePluginRef(ref)
		p, ok, err := s.plugin(ctx, tc, name, optional, full)
		if err != nil {
			return nil, err
		}
		if ok {
			plugins = append(plugins, p)
		}
	}
	if isSet(full.Style.Extract) && !hasPlugin(plugins, "postcss") {
		p, _, err := s.plugin(ctx, tc, "postcss", false, full)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	if full.Performance.Minify {
		p, _, err := s.plugin(ctx, tc, "terser", false, full)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}

	uc := &UnifiedConfig{
		LibraryType: s.p.libraryType,
		Strategy:    s.p.name,
		Input:       full.Input,
		Output:      outputDescriptors(full),
		Plugins:     plugins,
		External:    full.External,
		Treeshake:   isSet(full.Performance.Treeshaking),
		OnWarn:      defaultWarningFilter(),
	}
	log.Debug().Str("strategy", s.p.name).Strs("plugins", uc.PluginNames()).Int("outputs", len(uc.Output)).Msg("strategy applied")
	return uc, nil
}

func (s *profileStrategy) require(ctx context.Context, tc Toolchain, req requirement) (Module, error) {
	m, err := tc.Resolve(ctx, req.pkg)
	if err != nil {
		return Module{}, &DependencyError{Strategy: s.p.name, Package: req.pkg, Constraint: constraint(req.major), Err: err}
	}
	if req.major > 0 && m.Major() != req.major {
		return Module{}, &DependencyError{Strategy: s.p.name, Package: req.pkg, Constraint: constraint(req.major), Found: m.Version}
	}
	return m, nil
}

func constraint(major int) string {
	if major <= 0 {
		return ""
	}
	return fmt.Sprintf("^%d", major)
}

// plugin builds the named plugin. A missing optional plugin is skipped.
func (s *profileStrategy) plugin(ctx context.Context, tc Toolchain, name string, optional bool, cfg *Config) (Plugin, bool, error) {
	def, ok := pluginCatalog[name]
	if !ok {
		return Plugin{}, false, &ConfigError{Strategy: s.p.name, Field: "plugins", Reason: fmt.Sprintf("unknown plugin %q", name)}
	}
	optional = optional || def.optional
	m, err := tc.Resolve(ctx, def.pkg)
	if err != nil {
		if optional && errors.Is(err, ErrModuleNotFound) {
			log.Debug().Str("strategy", s.p.name).Str("plugin", name).Msg("optional plugin not installed, skipping")
			return Plugin{}, false, nil
		}
		return Plugin{}, false, &DependencyError{Strategy: s.p.name, Package: def.pkg, Err: err}
	}
	p := Plugin{Name: name, Package: def.pkg, Version: m.Version}
	if def.options != nil {
		opts, err := def.options(ctx, pluginContext{cfg: cfg, profile: &s.p, tc: tc})
		if err != nil {
			return Plugin{}, false, err
		}
		p.Options = opts
	}
	return p, true, nil
}

// parsePluginRef splits "name?" into name and an optional flag.
func parsePluginRef(ref string) (string, bool) {
	if n := len(ref); n > 0 && ref[n-1] == '?' {
		return ref[:n-1], true
	}
	return ref, false
}

func hasPlugin(plugins []Plugin, name string) bool {
	for _, p := range plugins {
		if p.Name == name {
			return true
		}
	}
	return false
}

var formatExt = map[string]string{
	FormatESM:  ".mjs",
	FormatCJS:  ".cjs",
	FormatUMD:  ".umd.js",
	FormatIIFE: ".iife.js",
}

func outputDescriptors(cfg *Config) []OutputDescriptor {
	out := make([]OutputDescriptor, 0, len(cfg.Output.Formats))
	for _, f := range cfg.Output.Formats {
		d := OutputDescriptor{
			Format:    f,
			File:      path.Join(cfg.Output.Dir, cfg.Output.FileName+formatExt[f]),
			Sourcemap: isSet(cfg.Output.Sourcemap),
			Exports:   "named",
		}
		if f == FormatUMD || f == FormatIIFE {
			d.Name = cfg.Output.Name
			d.Globals = cfg.Output.Globals
		}
		out = append(out, d)
	}
	return out
}
