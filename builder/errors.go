package builder

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateStrategy is returned when a second strategy claims a library type.
	ErrDuplicateStrategy = errors.New("builder: strategy already registered for library type")
	// ErrNilStrategy is returned by Register for a nil strategy.
	ErrNilStrategy = errors.New("builder: nil strategy")
	// ErrUnsupportedLibraryType is returned when no strategy handles a library type.
	ErrUnsupportedLibraryType = errors.New("builder: unsupported library type")
	// ErrModuleNotFound is returned by a Toolchain for a package that is not installed.
	ErrModuleNotFound = errors.New("builder: module not found")
	// ErrInvalidConfig is matched by every *ConfigError.
	ErrInvalidConfig = errors.New("builder: invalid config")
	// ErrUnknownConfigFormat is returned by LoadConfig for an unrecognised extension.
	ErrUnknownConfigFormat = errors.New("builder: unknown config file format")
)

// DependencyError reports that a strategy needs a package that is missing or
// installed at an incompatible version.
type DependencyError struct {
	Strategy string
	Package  string
	// Constraint is the required major version range, e.g. "^3"; empty when any version does.
	Constraint string
	// Found is the installed version when the constraint was not met.
	Found string
	Err   error
}

func (e *DependencyError) Error() string {
	switch {
	case e.Found != "":
		return fmt.Sprintf("builder: strategy %s requires %s@%s, found %s", e.Strategy, e.Package, e.Constraint, e.Found)
	case e.Err != nil:
		return fmt.Sprintf("builder: strategy %s requires %s: %v", e.Strategy, e.Package, e.Err)
	default:
		return fmt.Sprintf("builder: strategy %s requires %s", e.Strategy, e.Package)
	}
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// ConfigError reports a configuration value a strategy cannot work with.
type ConfigError struct {
	Strategy string
	Field    string
	Reason   string
}

func (e *ConfigError) Error() string {
	if e.Strategy == "" {
		return fmt.Sprintf("builder: invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("builder: strategy %s: invalid %s: %s", e.Strategy, e.Field, e.Reason)
}

// Is makes every ConfigError match ErrInvalidConfig.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}
