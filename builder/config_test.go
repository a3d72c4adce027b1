package builder

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

const yamlConfig = `
libraryType: vue3
input: src/index.ts
output:
  dir: lib
  name: MyLib
  formats: [esm, umd]
  sourcemap: false
  globals:
    vue: Vue
external: [lodash]
performance:
  minify: true
style:
  extract: true
`

const tomlConfig = `
libraryType = "vue3"
input = "src/index.ts"
external = ["lodash"]

[output]
dir = "lib"
name = "MyLib"
formats = ["esm", "umd"]
sourcemap = false

[output.globals]
vue = "Vue"

[performance]
minify = true

[style]
extract = true
`

const jsonConfig = `{
  "libraryType": "vue3",
  "input": "src/index.ts",
  "output": {"dir": "lib", "name": "MyLib", "formats": ["esm", "umd"], "sourcemap": false, "globals": {"vue": "Vue"}},
  "external": ["lodash"],
  "performance": {"minify": true},
  "style": {"extract": true}
}`

func TestDecodeConfigFormats(t *testing.T) {
	tests := []struct {
		ext  string
		data string
	}{
		{".yaml", yamlConfig},
		{".toml", tomlConfig},
		{".json", jsonConfig},
	}
	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			cfg, err := DecodeConfig(tt.ext, []byte(tt.data))
			if err != nil {
				t.Fatalf("DecodeConfig: %v", err)
			}
			if cfg.LibraryType != Vue3 || cfg.Input != "src/index.ts" {
				t.Errorf("type/input = %s/%s", cfg.LibraryType, cfg.Input)
			}
			if cfg.Output.Dir != "lib" || cfg.Output.Name != "MyLib" || !slices.Equal(cfg.Output.Formats, []string{"esm", "umd"}) {
				t.Errorf("output = %+v", cfg.Output)
			}
			if cfg.Output.Sourcemap == nil || *cfg.Output.Sourcemap {
				t.Errorf("sourcemap = %v, want explicit false", cfg.Output.Sourcemap)
			}
			if cfg.Output.Globals["vue"] != "Vue" {
				t.Errorf("globals = %v", cfg.Output.Globals)
			}
			if !cfg.Performance.Minify || !isSet(cfg.Style.Extract) || cfg.Style.Minimize != nil {
				t.Errorf("performance/style = %+v %+v", cfg.Performance, cfg.Style)
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

func TestDecodeConfigErrors(t *testing.T) {
	if _, err := DecodeConfig(".ini", []byte("x=1")); !errors.Is(err, ErrUnknownConfigFormat) {
		t.Errorf("ini: err = %v, want ErrUnknownConfigFormat", err)
	}
	if _, err := DecodeConfig(".yaml", []byte("libraryType: ember\n")); !errors.Is(err, ErrUnsupportedLibraryType) {
		t.Errorf("bad type: err = %v, want ErrUnsupportedLibraryType", err)
	}
	if _, err := DecodeConfig(".json", []byte(`{"libraryType":"lit","bogus":1}`)); err == nil {
		t.Error("unknown json field accepted")
	}
}

func TestLoadConfigSetsRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ldesign.config.yaml")
	if err := os.WriteFile(path, []byte("libraryType: Lit\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LibraryType != Lit {
		t.Errorf("library type = %q, want lit", cfg.LibraryType)
	}
	if cfg.Root != dir {
		t.Errorf("root = %q, want %q", cfg.Root, dir)
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"unknown format", Config{Output: Output{Formats: []string{"amd"}}}, "output.formats"},
		{"iife without name", Config{Output: Output{Formats: []string{FormatIIFE}}}, "output.name"},
		{"ok", Config{LibraryType: Lit, Output: Output{Formats: []string{FormatESM}}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			var ce *ConfigError
			if !errors.As(err, &ce) || ce.Field != tt.field {
				t.Fatalf("err = %v, want ConfigError on %s", err, tt.field)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := &Config{
		External: []string{"a"},
		Output:   Output{Formats: []string{FormatESM}, Globals: map[string]string{"a": "A"}, Sourcemap: Bool(true)},
	}
	c := orig.Clone()
	c.External[0] = "b"
	c.Output.Formats[0] = FormatCJS
	c.Output.Globals["a"] = "B"
	*c.Output.Sourcemap = false

	if orig.External[0] != "a" || orig.Output.Formats[0] != FormatESM || orig.Output.Globals["a"] != "A" || !*orig.Output.Sourcemap {
		t.Errorf("clone shares state with original: %+v", orig)
	}
}

func TestParseLibraryType(t *testing.T) {
	for _, in := range []string{"lit", " LIT ", "Lit"} {
		if got, err := ParseLibraryType(in); err != nil || got != Lit {
			t.Errorf("ParseLibraryType(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseLibraryType("ember"); !errors.Is(err, ErrUnsupportedLibraryType) {
		t.Errorf("ember: err = %v", err)
	}
}
