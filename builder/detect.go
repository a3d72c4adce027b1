package builder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"
)

// Category weights and the confidence a detection needs to beat the mixed fallback.
const (
	weightFiles        = 0.4
	weightDependencies = 0.3
	weightConfigs      = 0.2
	weightFields       = 0.1

	MinConfidence = 0.6
)

// Detection is the outcome of Detect.
type Detection struct {
	Type       LibraryType              `json:"type"`
	Confidence float64                  `json:"confidence"`
	Scores     map[LibraryType]float64  `json:"scores"`
	Evidence   map[LibraryType][]string `json:"evidence,omitempty"`
}

type detectionPattern struct {
	files        []string
	dependencies []string // "name" or "name@^major"
	configs      []string
	fields       []string
	exclude      []string
	weight       float64
}

var skipDirs = map[string]bool{"node_modules": true, "dist": true, "build": true, ".git": true}

var commonExcludes = []string{"**/*.test.*", "**/*.spec.*", "**/*.d.ts"}

var jsSources = []string{"**/*.js", "**/*.jsx"}

var detectionPatterns = map[LibraryType]detectionPattern{
	TypeScript: {
		files:        []string{"src/**/*.ts", "src/**/*.tsx", "lib/**/*.ts", "lib/**/*.tsx", "index.ts", "main.ts"},
		dependencies: []string{"typescript", "@types/node"},
		configs:      []string{"tsconfig.json", "tsconfig.build.json"},
		fields:       []string{"types", "typings"},
		exclude:      jsSources,
		weight:       0.8,
	},
	Style: {
		files:        []string{"src/**/*.css", "src/**/*.less", "src/**/*.scss", "src/**/*.sass", "src/**/*.styl", "lib/**/*.css", "styles/**/*"},
		dependencies: []string{"less", "sass", "stylus", "postcss"},
		configs:      []string{"postcss.config.js", ".stylelintrc"},
		fields:       []string{"style", "sass", "less"},
		exclude:      []string{"**/*.ts", "**/*.tsx", "**/*.js", "**/*.jsx", "**/*.vue"},
		weight:       0.9,
	},
	Vue2: {
		files:        []string{"src/**/*.vue", "lib/**/*.vue", "components/**/*.vue"},
		dependencies: []string{"vue@^2", "@vue/composition-api", "vue-template-compiler"},
		configs:      []string{"vue.config.js"},
		weight:       0.95,
	},
	Vue3: {
		files:        []string{"src/**/*.vue", "lib/**/*.vue", "components/**/*.vue"},
		dependencies: []string{"vue@^3", "@vue/runtime-core", "@vue/runtime-dom"},
		configs:      []string{"vite.config.ts", "vite.config.js"},
		weight:       0.95,
	},
	React: {
		files:        []string{"src/**/*.tsx", "src/**/*.jsx", "lib/**/*.tsx", "components/**/*.tsx"},
		dependencies: []string{"react", "react-dom"},
		configs:      []string{"vite.config.ts", "vite.config.js"},
		weight:       0.95,
	},
	Svelte: {
		files:        []string{"src/**/*.svelte", "lib/**/*.svelte", "components/**/*.svelte"},
		dependencies: []string{"svelte"},
		configs:      []string{"svelte.config.js", "svelte.config.cjs"},
		fields:       []string{"svelte"},
		weight:       0.95,
	},
	Solid: {
		files:        []string{"src/**/*.jsx", "src/**/*.tsx"},
		dependencies: []string{"solid-js"},
		configs:      []string{"vite.config.ts", "vite.config.js"},
		weight:       0.9,
	},
	Preact: {
		files:        []string{"src/**/*.jsx", "src/**/*.tsx"},
		dependencies: []string{"preact"},
		configs:      []string{"vite.config.ts", "vite.config.js"},
		weight:       0.9,
	},
	Lit: {
		files:        []string{"src/**/*.ts", "src/**/*.js", "src/**/*.css"},
		dependencies: []string{"lit"},
		weight:       0.85,
	},
	Angular: {
		files:        []string{"projects/**/*.ts", "src/**/*.ts"},
		dependencies: []string{"@angular/core", "@angular/common"},
		configs:      []string{"ng-package.json", "angular.json"},
		weight:       0.8,
	},
	Mixed: {
		files:  []string{"src/**/*.{ts,tsx,vue,css,less,scss}"},
		weight: 0.6,
	},
}

type packageJSON struct {
	Dependencies     map[string]string `json:"dependencies"`
	DevDependencies  map[string]string `json:"devDependencies"`
	PeerDependencies map[string]string `json:"peerDependencies"`
	fields           map[string]json.RawMessage
}

// version returns the declared range of name from any dependency section.
func (p *packageJSON) version(name string) (string, bool) {
	for _, deps := range []map[string]string{p.Dependencies, p.PeerDependencies, p.DevDependencies} {
		if v, ok := deps[name]; ok {
			return v, true
		}
	}
	return "", false
}

// project is the part of a source tree that detection looks at.
type project struct {
	files []string
	pkg   packageJSON
}

// Detect guesses the library type of the project rooted at fsys. Each type
// scores the weighted share of its evidence categories that match, scaled by
// the type's own weight; below MinConfidence the result is Mixed.
func Detect(fsys fs.FS) (Detection, error) {
	p, err := scanProject(fsys)
	if err != nil {
		return Detection{}, err
	}

	d := Detection{
		Scores:   make(map[LibraryType]float64, len(detectionPatterns)),
		Evidence: make(map[LibraryType][]string),
	}
	for _, t := range LibraryTypes() {
		score, evidence, err := p.score(detectionPatterns[t])
		if err != nil {
			return Detection{}, fmt.Errorf("scoring %s: %w", t, err)
		}
		d.Scores[t] = score
		if len(evidence) > 0 {
			d.Evidence[t] = evidence
		}
	}

	candidates := LibraryTypes()
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if d.Scores[a] != d.Scores[b] {
			return d.Scores[a] > d.Scores[b]
		}
		return priorityOf(a) > priorityOf(b)
	})
	best := candidates[0]
	if best != Mixed && d.Scores[best] < MinConfidence {
		log.Debug().Str("best", string(best)).Float64("confidence", d.Scores[best]).Msg("no library type above threshold, using mixed")
		best = Mixed
	}
	d.Type = best
	d.Confidence = d.Scores[best]
	log.Debug().Str("library_type", string(d.Type)).Float64("confidence", d.Confidence).Int("files", len(p.files)).Msg("library type detected")
	return d, nil
}

func scanProject(fsys fs.FS) (*project, error) {
	p := &project{}
	err := fs.WalkDir(fsys, ".", func(name string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if name != "." && skipDirs[entry.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		for _, pattern := range commonExcludes {
			if ok, _ := doublestar.Match(pattern, name); ok {
				return nil
			}
		}
		p.files = append(p.files, name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking project: %w", err)
	}

	data, err := fs.ReadFile(fsys, "package.json")
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading package.json: %w", err)
	default:
		if err := json.Unmarshal(data, &p.pkg); err != nil {
			return nil, fmt.Errorf("parsing package.json: %w", err)
		}
		if err := json.Unmarshal(data, &p.pkg.fields); err != nil {
			return nil, fmt.Errorf("parsing package.json: %w", err)
		}
	}
	return p, nil
}

func (p *project) score(pat detectionPattern) (float64, []string, error) {
	var possible, matched float64
	var evidence []string

	if len(pat.files) > 0 {
		possible += weightFiles
		file, err := p.matchFile(pat.files, pat.exclude)
		if err != nil {
			return 0, nil, err
		}
		if file != "" {
			matched += weightFiles
			evidence = append(evidence, "file:"+file)
		}
	}
	if len(pat.dependencies) > 0 {
		possible += weightDependencies
		if dep := p.matchDependency(pat.dependencies); dep != "" {
			matched += weightDependencies
			evidence = append(evidence, "dependency:"+dep)
		}
	}
	if len(pat.configs) > 0 {
		possible += weightConfigs
		for _, c := range pat.configs {
			if p.hasFile(c) {
				matched += weightConfigs
				evidence = append(evidence, "config:"+c)
				break
			}
		}
	}
	if len(pat.fields) > 0 {
		possible += weightFields
		for _, f := range pat.fields {
			if _, ok := p.pkg.fields[f]; ok {
				matched += weightFields
				evidence = append(evidence, "field:"+f)
				break
			}
		}
	}
	if possible == 0 {
		return 0, nil, nil
	}
	return matched / possible * pat.weight, evidence, nil
}

// matchFile returns the first project file matching any pattern and no exclusion.
func (p *project) matchFile(patterns, exclude []string) (string, error) {
	for _, name := range p.files {
		excluded := false
		for _, ex := range exclude {
			if ok, _ := doublestar.Match(ex, name); ok {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}
		for _, pattern := range patterns {
			ok, err := doublestar.Match(pattern, name)
			if err != nil {
				return "", fmt.Errorf("bad pattern %q: %w", pattern, err)
			}
			if ok {
				return name, nil
			}
		}
	}
	return "", nil
}

// matchDependency returns the first declared dependency satisfying one of specs.
func (p *project) matchDependency(specs []string) string {
	for _, spec := range specs {
		name, major := splitDependency(spec)
		v, ok := p.pkg.version(name)
		if !ok {
			continue
		}
		if major > 0 && majorVersion(v) != major {
			continue
		}
		return name
	}
	return ""
}

// splitDependency parses "name" or "name@^major". Scoped names keep their leading @.
func splitDependency(spec string) (string, int) {
	i := strings.LastIndex(spec, "@^")
	if i <= 0 {
		return spec, 0
	}
	major, err := strconv.Atoi(spec[i+2:])
	if err != nil {
		return spec, 0
	}
	return spec[:i], major
}

func (p *project) hasFile(name string) bool {
	for _, f := range p.files {
		if f == name {
			return true
		}
	}
	return false
}

func priorityOf(t LibraryType) int {
	for i := range profiles {
		if profiles[i].libraryType == t {
			return profiles[i].priority
		}
	}
	return 0
}
