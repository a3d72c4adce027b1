// Package builder turns a library build configuration into a bundler-neutral
// plan: which plugins to load, with which options, for which output formats.
// One strategy exists per library type and dispatch on the type is exact.
package builder

import (
	"fmt"
	"strings"
)

// LibraryType names the kind of library being built.
type LibraryType string

const (
	TypeScript LibraryType = "typescript"
	Style      LibraryType = "style"
	Vue2       LibraryType = "vue2"
	Vue3       LibraryType = "vue3"
	React      LibraryType = "react"
	Svelte     LibraryType = "svelte"
	Solid      LibraryType = "solid"
	Preact     LibraryType = "preact"
	Lit        LibraryType = "lit"
	Angular    LibraryType = "angular"
	Mixed      LibraryType = "mixed"
)

// LibraryTypes lists every supported library type.
func LibraryTypes() []LibraryType {
	return []LibraryType{TypeScript, Style, Vue2, Vue3, React, Svelte, Solid, Preact, Lit, Angular, Mixed}
}

// Valid reports whether t is a supported library type.
func (t LibraryType) Valid() bool {
	for _, known := range LibraryTypes() {
		if t == known {
			return true
		}
	}
	return false
}

func (t LibraryType) String() string {
	return string(t)
}

// ParseLibraryType parses s case-insensitively.
func ParseLibraryType(s string) (LibraryType, error) {
	t := LibraryType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLibraryType, s)
	}
	return t, nil
}

// UnmarshalText implements encoding.TextUnmarshaler so that config files are
// validated while decoding. An empty value is left for auto-detection.
func (t *LibraryType) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*t = ""
		return nil
	}
	parsed, err := ParseLibraryType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (t LibraryType) MarshalText() ([]byte, error) {
	return []byte(t), nil
}

// Output formats.
const (
	FormatESM  = "esm"
	FormatCJS  = "cjs"
	FormatUMD  = "umd"
	FormatIIFE = "iife"
)

var validFormats = map[string]bool{
	FormatESM:  true,
	FormatCJS:  true,
	FormatUMD:  true,
	FormatIIFE: true,
}
