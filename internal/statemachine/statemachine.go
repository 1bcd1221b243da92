// Package statemachine holds the closed transition table for a Post's
// lifecycle (spec §4.3). It is pure: it knows nothing about storage.
// internal/store applies transitions atomically against Postgres using
// this table as the single source of truth for what is legal.
package statemachine

import "github.com/fb-discord-relay/relay/internal/domain"

// table enumerates, for each state, the exclusive set of states it may
// transition into. Any edge not listed here is illegal.
var table = map[domain.Status][]domain.Status{
	domain.StatusReceived:    {domain.StatusFetching},
	domain.StatusFetching:    {domain.StatusEligible, domain.StatusIgnored, domain.StatusFailed, domain.StatusReceived},
	domain.StatusEligible:    {domain.StatusSending},
	domain.StatusSending:     {domain.StatusDelivered, domain.StatusFailed, domain.StatusNeedsReview},
	domain.StatusDelivered:   {},
	domain.StatusIgnored:     {},
	domain.StatusFailed:      {domain.StatusReceived},
	domain.StatusNeedsReview: {domain.StatusReceived},
}

// IsAllowed reports whether the edge from -> to is a legal transition.
func IsAllowed(from, to domain.Status) bool {
	for _, candidate := range table[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status has no outgoing pipeline
// transitions (operator SQL may still mutate the row).
func IsTerminal(s domain.Status) bool {
	targets, ok := table[s]
	return ok && len(targets) == 0
}
