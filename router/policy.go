package router

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Policy selects a read target.
type Policy string

const (
	RoundRobin Policy = "round-robin"
	Random     Policy = "random"
	Weighted   Policy = "weighted"
)

// ParsePolicy accepts the policy names plus underscore spellings. An empty
// string means round-robin.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-") {
	case "", "round-robin", "roundrobin":
		return RoundRobin, nil
	case "random":
		return Random, nil
	case "weighted":
		return Weighted, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

type member struct {
	target Target
	exec   Executor
}

// selector picks among a fixed, non-empty member set. It is owned by one
// Router and is safe for concurrent use.
type selector struct {
	policy  Policy
	members []*member
	total   int
	cursor  uint64
	rnd     func() float64
}

func newSelector(policy Policy, members []*member, rnd func() float64) *selector {
	s := &selector{policy: policy, members: members, rnd: rnd}
	for _, m := range members {
		s.total += m.target.Weight
	}
	return s
}

func (s *selector) pick() *member {
	n := len(s.members)
	switch s.policy {
	case Random:
		i := int(s.rnd() * float64(n))
		if i >= n {
			i = n - 1
		}
		return s.members[i]
	case Weighted:
		r := s.rnd() * float64(s.total)
		for _, m := range s.members {
			r -= float64(m.target.Weight)
			if r <= 0 {
				return m
			}
		}
		return s.members[n-1]
	default:
		next := atomic.AddUint64(&s.cursor, 1) - 1
		return s.members[next%uint64(n)]
	}
}
