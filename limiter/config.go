package limiter

import (
	"fmt"
	"regexp"

	"github.com/rs/zerolog/log"
)

var validLimitBy = map[string]bool{
	LimitByIP:       true,
	LimitByDeviceID: true,
	LimitByUserID:   true,
}

// Rule limits requests whose path matches Path, keeping one bucket per
// identifier named in LimitBy.
type Rule struct {
	Path    string   `yaml:"path" json:"path" toml:"path"`
	IsRegex bool     `yaml:"is_regex" json:"is_regex" toml:"is_regex"`
	LimitBy []string `yaml:"limit_by" json:"limit_by" toml:"limit_by"`
	Bucket  `yaml:",inline"`

	compiledRegex *regexp.Regexp
}

// Matches reports whether path is covered by the rule.
// It must be called on a rule prepared by Config.ValidateAndPrepare.
func (r *Rule) Matches(path string) bool {
	if r.IsRegex {
		return r.compiledRegex != nil && r.compiledRegex.MatchString(path)
	}
	return r.Path == path
}

// Config holds the rule-based limiter configuration.
type Config struct {
	StorageType string `yaml:"storage_type" json:"storage_type" toml:"storage_type"`
	Rules       []Rule `yaml:"rules" json:"rules" toml:"rules"`
}

// ValidateAndPrepare validates the config and compiles regex rules.
func (c *Config) ValidateAndPrepare() error {
	if c.StorageType == "" {
		c.StorageType = StorageMemory
	}
	if c.StorageType != StorageMemory && c.StorageType != StorageRedis {
		return fmt.Errorf("invalid storage_type: %s, must be '%s' or '%s'", c.StorageType, StorageMemory, StorageRedis)
	}

	if len(c.Rules) == 0 {
		log.Warn().Msg("no rate limit rules defined in config")
	}

	seenPaths := make(map[string]bool, len(c.Rules))
	for i := range c.Rules {
		rule := &c.Rules[i]

		if rule.Path == "" {
			return fmt.Errorf("rule %d has an empty path", i)
		}
		if seenPaths[rule.Path] {
			return fmt.Errorf("duplicate path definition found: %s", rule.Path)
		}
		seenPaths[rule.Path] = true

		if err := rule.Bucket.Validate(); err != nil {
			return fmt.Errorf("rule for path '%s': %w", rule.Path, err)
		}

		if rule.IsRegex {
			re, err := regexp.Compile(rule.Path)
			if err != nil {
				return fmt.Errorf("failed to compile regex for path '%s': %w", rule.Path, err)
			}
			rule.compiledRegex = re
		}

		if len(rule.LimitBy) == 0 {
			return fmt.Errorf("rule for path '%s' must have at least one limit_by type", rule.Path)
		}
		for _, lb := range rule.LimitBy {
			if !validLimitBy[lb] {
				return fmt.Errorf("rule for path '%s' has invalid limit_by type: '%s'", rule.Path, lb)
			}
		}
	}
	return nil
}
