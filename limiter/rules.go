package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/ldesign/toolkit/meta"
	"github.com/rs/zerolog/log"
)

// Extractor returns the identifier of the given LimitBy type for the request in ctx,
// or "" when the request carries none.
type Extractor func(ctx context.Context, limitType string) string

// MetaExtractor reads identifiers from the request metadata attached by the
// HTTP middleware and gRPC interceptors.
func MetaExtractor(ctx context.Context, limitType string) string {
	return meta.String(ctx, limitType)
}

// Decision is the outcome of checking a request against the configured rules.
type Decision struct {
	Limited    bool
	Rule       string        // path of the rule that limited the request
	Key        string        // store key that ran out of tokens
	RetryAfter time.Duration // a lower bound on when the key regains a token
	Err        error         // store failure; the request is limited when set
}

// RuleLimiter applies per-path rules with one bucket per identifier.
type RuleLimiter struct {
	config       *Config
	store        Store
	extractValue Extractor
}

// NewRuleLimiter creates a RuleLimiter. cfg must have been prepared with ValidateAndPrepare.
func NewRuleLimiter(cfg *Config, store Store) *RuleLimiter {
	return &RuleLimiter{
		config:       cfg,
		store:        store,
		extractValue: MetaExtractor,
	}
}

// SetExtractor replaces the identifier extractor.
func (rl *RuleLimiter) SetExtractor(extractor Extractor) {
	if extractor != nil {
		rl.extractValue = extractor
	}
}

// Limit reports whether the request for path must be rejected.
func (rl *RuleLimiter) Limit(ctx context.Context, path string) bool {
	return rl.Check(ctx, path).Limited
}

// Check evaluates every rule matching path. Store failures fail closed.
func (rl *RuleLimiter) Check(ctx context.Context, path string) Decision {
	for i := range rl.config.Rules {
		rule := &rl.config.Rules[i]
		if !rule.Matches(path) {
			continue
		}
		log.Debug().Str("path", path).Str("rule_path", rule.Path).Msg("matched rule")

		d := rl.applyRuleLimits(ctx, rule)
		if d.Err != nil {
			log.Error().Err(d.Err).Str("path", path).Str("rule_path", rule.Path).Msg("rate limit check failed")
			return d
		}
		if d.Limited {
			log.Warn().Str("path", path).Str("rule_path", rule.Path).Msg("rate limit triggered for rule")
			return d
		}
	}
	return Decision{}
}

// applyRuleLimits checks the rule's bucket for every identifier type it limits by.
func (rl *RuleLimiter) applyRuleLimits(ctx context.Context, rule *Rule) Decision {
	for _, limitType := range rule.LimitBy {
		value := rl.extractValue(ctx, limitType)
		if value == "" {
			log.Debug().Str("rule_path", rule.Path).Str("limit_by", limitType).Msg("identifier value missing, skipping this limit type")
			continue
		}

		key := generateStoreKey(rule, limitType, value)
		allowed, err := rl.store.Allow(ctx, key, rule.Bucket)
		if err != nil {
			return Decision{
				Limited: true,
				Rule:    rule.Path,
				Key:     key,
				Err:     fmt.Errorf("store error for key %s: %w", key, err),
			}
		}
		if !allowed {
			return Decision{
				Limited:    true,
				Rule:       rule.Path,
				Key:        key,
				RetryAfter: rule.Bucket.TokenInterval(),
			}
		}
	}
	return Decision{}
}

// generateStoreKey formats rule:<path>|by:<type>|val:<value>.
func generateStoreKey(rule *Rule, limitType string, value string) string {
	return fmt.Sprintf("rule:%s|by:%s|val:%s", rule.Path, limitType, value)
}
