package builder

import (
	"context"
	"errors"
)

// pluginContext is what a plugin's option builder can look at.
type pluginContext struct {
	cfg     *Config
	profile *profile
	tc      Toolchain
}

type pluginDef struct {
	pkg      string
	optional bool
	options  func(ctx context.Context, pc pluginContext) (map[string]any, error)
}

// commonPlugins are loaded ahead of every strategy's own plugins.
var commonPlugins = []string{"node-resolve", "commonjs", "json"}

var sourceExtensions = []string{".mjs", ".js", ".json", ".ts", ".tsx", ".jsx", ".vue", ".svelte"}

var pluginCatalog = map[string]pluginDef{
	"node-resolve": {
		pkg: "@rollup/plugin-node-resolve",
		options: func(context.Context, pluginContext) (map[string]any, error) {
			return map[string]any{"browser": true, "preferBuiltins": false, "extensions": sourceExtensions}, nil
		},
	},
	"commonjs": {pkg: "@rollup/plugin-commonjs"},
	"json":     {pkg: "@rollup/plugin-json"},
	"typescript": {
		pkg: "@rollup/plugin-typescript",
		options: func(_ context.Context, pc pluginContext) (map[string]any, error) {
			// declarations come from the dts plugin when the strategy has one
			emit := isSet(pc.cfg.TypeScript.Declaration) && !pc.profile.hasPlugin("dts")
			return map[string]any{
				"tsconfig":     "tsconfig.json",
				"declaration":  emit,
				"sourceMap":    isSet(pc.cfg.Output.Sourcemap),
				"skipLibCheck": true,
				"jsx":          "preserve",
			}, nil
		},
	},
	"dts": {
		pkg: "rollup-plugin-dts",
		options: func(context.Context, pluginContext) (map[string]any, error) {
			return map[string]any{"respectExternal": true}, nil
		},
	},
	"jsx": {
		pkg: "rollup-plugin-esbuild",
		options: func(_ context.Context, pc pluginContext) (map[string]any, error) {
			if pc.profile.jsxSource == "" {
				return nil, &ConfigError{Strategy: pc.profile.name, Field: "jsx", Reason: "no jsxImportSource for this library type"}
			}
			return map[string]any{
				"target":          "es2018",
				"jsx":             "automatic",
				"jsxImportSource": pc.profile.jsxSource,
				"minify":          false,
				"sourceMap":       isSet(pc.cfg.Output.Sourcemap),
			}, nil
		},
	},
	"postcss": {
		pkg: "rollup-plugin-postcss",
		options: func(ctx context.Context, pc pluginContext) (map[string]any, error) {
			opts := map[string]any{
				"extract":   isSet(pc.cfg.Style.Extract),
				"minimize":  isSet(pc.cfg.Style.Minimize),
				"sourceMap": isSet(pc.cfg.Output.Sourcemap),
			}
			plugins := []string{}
			if isSet(pc.cfg.Style.Autoprefixer) {
				if _, err := pc.tc.Resolve(ctx, "autoprefixer"); err != nil {
					return nil, &DependencyError{Strategy: pc.profile.name, Package: "autoprefixer", Err: err}
				}
				plugins = append(plugins, "autoprefixer")
			}
			opts["plugins"] = plugins
			// less runs inside postcss when it is installed
			use, err := installed(ctx, pc.tc, "less")
			if err != nil {
				return nil, err
			}
			opts["use"] = use
			return opts, nil
		},
	},
	"sass":   {pkg: "rollup-plugin-sass", optional: true},
	"stylus": {pkg: "rollup-plugin-stylus", optional: true},
	"vue2": {
		pkg: "rollup-plugin-vue",
		options: func(_ context.Context, pc pluginContext) (map[string]any, error) {
			return map[string]any{"css": !isSet(pc.cfg.Style.Extract), "compileTemplate": true}, nil
		},
	},
	"vue3": {
		pkg: "unplugin-vue",
		options: func(_ context.Context, pc pluginContext) (map[string]any, error) {
			return map[string]any{"isProduction": pc.cfg.Performance.Minify}, nil
		},
	},
	"vue-jsx": {pkg: "unplugin-vue-jsx", optional: true},
	"svelte": {
		pkg: "rollup-plugin-svelte",
		options: func(_ context.Context, pc pluginContext) (map[string]any, error) {
			return map[string]any{
				"emitCss":         isSet(pc.cfg.Style.Extract),
				"compilerOptions": map[string]any{"dev": false},
			}, nil
		},
	},
	"terser": {
		pkg: "@rollup/plugin-terser",
		options: func(context.Context, pluginContext) (map[string]any, error) {
			return map[string]any{"compress": map[string]any{"drop_console": false}, "format": map[string]any{"comments": false}}, nil
		},
	},
}

func (p *profile) hasPlugin(name string) bool {
	for _, ref := range p.plugins {
		if n, _ := parsePluginRef(ref); n == name {
			return true
		}
	}
	return false
}

// installed filters names down to the packages tc can resolve.
func installed(ctx context.Context, tc Toolchain, names ...string) ([]string, error) {
	out := []string{}
	for _, name := range names {
		_, err := tc.Resolve(ctx, name)
		switch {
		case err == nil:
			out = append(out, name)
		case errors.Is(err, ErrModuleNotFound):
		default:
			return nil, err
		}
	}
	return out, nil
}
