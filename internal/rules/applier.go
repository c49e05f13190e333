// Package rules translates blocked site identities into enforced match
// rules. Enforcement itself is an external capability behind the Sink
// interface; the production sink is the local DNS sinkhole.
package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Rule is one enforced match rule: the domain and all of its subdomains,
// for top-level navigations.
type Rule struct {
	ID     int    `json:"id"`
	Domain string `json:"domain"`
}

// Sink installs a complete rule set, replacing whatever was installed
// before. Implementations must be idempotent for identical sets.
type Sink interface {
	ReplaceRules(ctx context.Context, ruleSet []Rule) error
}

// Applier fans a blocked-identity set out to its sinks.
type Applier struct {
	sinks  []Sink
	logger zerolog.Logger
}

// NewApplier creates a rule applier over the given sinks.
func NewApplier(logger zerolog.Logger, sinks ...Sink) *Applier {
	return &Applier{
		sinks:  sinks,
		logger: logger.With().Str("component", "rule-applier").Logger(),
	}
}

// Apply replaces the installed rules with one rule per identity. Sink
// failures are joined and surfaced to the caller; every sink is attempted.
func (a *Applier) Apply(ctx context.Context, identities []string) error {
	ruleSet := make([]Rule, 0, len(identities))
	for i, identity := range identities {
		ruleSet = append(ruleSet, Rule{ID: i + 1, Domain: identity})
	}

	var errs []error
	for _, sink := range a.sinks {
		if err := sink.ReplaceRules(ctx, ruleSet); err != nil {
			errs = append(errs, fmt.Errorf("replace rules: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	a.logger.Debug().Int("rules", len(ruleSet)).Msg("Blocking rules applied")
	return nil
}
