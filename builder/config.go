package builder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config describes a library build. Pointer fields distinguish "unset" from
// false so that per-type recommended defaults can fill the gaps.
type Config struct {
	LibraryType LibraryType       `yaml:"libraryType" json:"libraryType" toml:"libraryType"`
	Root        string            `yaml:"root" json:"root,omitempty" toml:"root"`
	Input       string            `yaml:"input" json:"input" toml:"input"`
	Output      Output            `yaml:"output" json:"output" toml:"output"`
	External    []string          `yaml:"external" json:"external,omitempty" toml:"external"`
	Performance Performance       `yaml:"performance" json:"performance" toml:"performance"`
	Style       StyleOptions      `yaml:"style" json:"style" toml:"style"`
	TypeScript  TypeScriptOptions `yaml:"typescript" json:"typescript" toml:"typescript"`
}

// Output configures the emitted bundles.
type Output struct {
	Dir       string            `yaml:"dir" json:"dir" toml:"dir"`
	Name      string            `yaml:"name" json:"name,omitempty" toml:"name"` // global name for umd/iife
	FileName  string            `yaml:"fileName" json:"fileName,omitempty" toml:"fileName"`
	Formats   []string          `yaml:"formats" json:"formats,omitempty" toml:"formats"`
	Sourcemap *bool             `yaml:"sourcemap" json:"sourcemap,omitempty" toml:"sourcemap"`
	Globals   map[string]string `yaml:"globals" json:"globals,omitempty" toml:"globals"`
}

type Performance struct {
	Treeshaking *bool `yaml:"treeshaking" json:"treeshaking,omitempty" toml:"treeshaking"`
	Minify      bool  `yaml:"minify" json:"minify" toml:"minify"`
}

type StyleOptions struct {
	Extract      *bool `yaml:"extract" json:"extract,omitempty" toml:"extract"`
	Minimize     *bool `yaml:"minimize" json:"minimize,omitempty" toml:"minimize"`
	Autoprefixer *bool `yaml:"autoprefixer" json:"autoprefixer,omitempty" toml:"autoprefixer"`
}

type TypeScriptOptions struct {
	Declaration *bool `yaml:"declaration" json:"declaration,omitempty" toml:"declaration"`
}

const (
	defaultInput    = "src/index.ts"
	defaultOutDir   = "dist"
	defaultFileName = "index"
)

// Bool returns a pointer to b, for building configs in code.
func Bool(b bool) *bool {
	return &b
}

func isSet(p *bool) bool {
	return p != nil && *p
}

// LoadConfig reads a builder config, choosing the decoder by file extension:
// .yaml/.yml, .toml or .json.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading builder config %s: %w", path, err)
	}
	cfg, err := DecodeConfig(filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("decoding builder config %s: %w", path, err)
	}
	if cfg.Root == "" {
		cfg.Root = filepath.Dir(path)
	}
	return cfg, nil
}

// DecodeConfig decodes data in the format named by ext (".yaml", ".toml", ".json").
func DecodeConfig(ext string, data []byte) (*Config, error) {
	cfg := &Config{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownConfigFormat, ext)
	}
	return cfg, nil
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	out.External = slices.Clone(c.External)
	out.Output.Formats = slices.Clone(c.Output.Formats)
	out.Output.Globals = maps.Clone(c.Output.Globals)
	out.Output.Sourcemap = cloneBool(c.Output.Sourcemap)
	out.Performance.Treeshaking = cloneBool(c.Performance.Treeshaking)
	out.Style.Extract = cloneBool(c.Style.Extract)
	out.Style.Minimize = cloneBool(c.Style.Minimize)
	out.Style.Autoprefixer = cloneBool(c.Style.Autoprefixer)
	out.TypeScript.Declaration = cloneBool(c.TypeScript.Declaration)
	return &out
}

func cloneBool(p *bool) *bool {
	if p == nil {
		return nil
	}
	return Bool(*p)
}

// Validate checks the fields every strategy relies on.
func (c *Config) Validate() error {
	if c.LibraryType != "" && !c.LibraryType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedLibraryType, c.LibraryType)
	}
	for _, f := range c.Output.Formats {
		if !validFormats[f] {
			return &ConfigError{Field: "output.formats", Reason: fmt.Sprintf("unknown format %q", f)}
		}
	}
	if c.needsGlobalName() && c.Output.Name == "" {
		return &ConfigError{Field: "output.name", Reason: "required for umd and iife formats"}
	}
	return nil
}

func (c *Config) needsGlobalName() bool {
	return slices.Contains(c.Output.Formats, FormatUMD) || slices.Contains(c.Output.Formats, FormatIIFE)
}

// withDefaults returns a copy of c with the recommended settings for its
// library type and the package defaults filled in where c leaves them unset.
func (c *Config) withDefaults(rec recommended) *Config {
	out := c.Clone()
	if out.Input == "" {
		out.Input = defaultInput
	}
	if out.Output.Dir == "" {
		out.Output.Dir = defaultOutDir
	}
	if out.Output.FileName == "" {
		out.Output.FileName = defaultFileName
	}
	if len(out.Output.Formats) == 0 {
		out.Output.Formats = recommendedFormats(rec.formats, out.Output.Name)
	}
	if out.Output.Sourcemap == nil {
		out.Output.Sourcemap = Bool(rec.sourcemap)
	}
	for pkg, global := range rec.globals {
		if out.Output.Globals == nil {
			out.Output.Globals = make(map[string]string, len(rec.globals))
		}
		if _, ok := out.Output.Globals[pkg]; !ok {
			out.Output.Globals[pkg] = global
		}
	}
	out.External = mergeExternal(rec.external, out.External)
	if out.Performance.Treeshaking == nil {
		out.Performance.Treeshaking = Bool(!rec.noTreeshake)
	}
	if out.TypeScript.Declaration == nil {
		out.TypeScript.Declaration = Bool(rec.declaration)
	}
	if out.Style.Extract == nil {
		out.Style.Extract = Bool(rec.extract)
	}
	if out.Style.Minimize == nil {
		out.Style.Minimize = Bool(rec.minimize)
	}
	if out.Style.Autoprefixer == nil {
		out.Style.Autoprefixer = Bool(rec.autoprefixer)
	}
	return out
}

// recommendedFormats drops the formats that need a global name when none is configured.
func recommendedFormats(formats []string, globalName string) []string {
	out := make([]string, 0, len(formats))
	for _, f := range formats {
		if globalName == "" && (f == FormatUMD || f == FormatIIFE) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func mergeExternal(recommended, user []string) []string {
	seen := make(map[string]bool, len(recommended)+len(user))
	var out []string
	for _, list := range [][]string{recommended, user} {
		for _, pkg := range list {
			if pkg == "" || seen[pkg] {
				continue
			}
			seen[pkg] = true
			out = append(out, pkg)
		}
	}
	slices.Sort(out)
	return out
}
