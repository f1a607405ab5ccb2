package health

import (
	"context"
	"sort"
)

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// Service runs the registered dependency checks.
type Service struct {
	names  []string
	checks map[string]Check
}

// NewService constructs a health service with no checks.
func NewService() *Service {
	return &Service{checks: map[string]Check{}}
}

// Register adds a named check. Registering a name twice replaces the check.
func (s *Service) Register(name string, check Check) {
	if _, ok := s.checks[name]; !ok {
		s.names = append(s.names, name)
		sort.Strings(s.names)
	}
	s.checks[name] = check
}

// Status runs every check and reports per-dependency results.
func (s *Service) Status(ctx context.Context) (map[string]string, bool) {
	out := make(map[string]string, len(s.names))
	ok := true
	for _, name := range s.names {
		if err := s.checks[name](ctx); err != nil {
			out[name] = err.Error()
			ok = false
			continue
		}
		out[name] = "ok"
	}
	return out, ok
}
