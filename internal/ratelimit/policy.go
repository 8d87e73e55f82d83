// Package ratelimit throttles sensitive views per client address, with a
// tighter budget for anonymous callers than for authenticated ones.
package ratelimit

import (
	"fmt"
	"time"
)

type Policy struct {
	Name     string
	Requests int
	Per      time.Duration
}

func (p Policy) String() string {
	return fmt.Sprintf("%s(%d/%s)", p.Name, p.Requests, p.Per)
}

type Policies struct {
	Anonymous     Policy
	Authenticated Policy
}

func DefaultPolicies() Policies {
	return Policies{
		Anonymous:     Policy{Name: "anonymous", Requests: 5, Per: time.Minute},
		Authenticated: Policy{Name: "authenticated", Requests: 10, Per: time.Minute},
	}
}

func (p Policies) Select(id Identity) Policy {
	if id.Authenticated {
		return p.Authenticated
	}
	return p.Anonymous
}

// SelectPolicy picks from the default budgets.
func SelectPolicy(id Identity) Policy {
	return DefaultPolicies().Select(id)
}
