package triage

import "slices"

// Policy decides a route for the given metadata. ok is false when the policy
// has no opinion, which lets callers fall through to another policy.
type Policy interface {
	Decide(md Metadata) (d Decision, ok bool)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(Metadata) (Decision, bool)

func (f PolicyFunc) Decide(md Metadata) (Decision, bool) { return f(md) }

// Chain asks each policy in order and returns the first decision.
type Chain struct {
	policies []Policy
}

// NewChain copies policies; nil entries are skipped.
func NewChain(policies ...Policy) *Chain {
	c := &Chain{policies: make([]Policy, 0, len(policies))}
	for _, p := range policies {
		if p != nil {
			c.policies = append(c.policies, p)
		}
	}
	return c
}

// Len returns the number of policies in the chain.
func (c *Chain) Len() int { return len(c.policies) }

// Policies returns a copy of the chained policies.
func (c *Chain) Policies() []Policy { return slices.Clone(c.policies) }

func (c *Chain) Decide(md Metadata) (Decision, bool) {
	for _, p := range c.policies {
		if d, ok := p.Decide(md); ok {
			return d, true
		}
	}
	return Decision{}, false
}
