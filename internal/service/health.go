package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gitlab.com/nevasik7/alerting/logger"
)

type Checker interface {
	Health(ctx context.Context) error
}

// CheckerFunc adapts a plain function to Checker
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Health(ctx context.Context) error { return f(ctx) }

// Dependencies reports the health of external services/clients
type Dependencies struct {
	log    logger.Logger
	checks map[string]Checker
}

func NewDependencies(log logger.Logger) *Dependencies {
	return &Dependencies{log: log, checks: make(map[string]Checker, 4)}
}

// Add registers a named check; nil checkers are ignored
func (d *Dependencies) Add(name string, c Checker) *Dependencies {
	if c != nil {
		d.checks[name] = c
	}
	return d
}

// Check runs every registered check and returns a status per dependency
func (d *Dependencies) Check(ctx context.Context) (map[string]string, error) {
	names := make([]string, 0, len(d.checks))
	for name := range d.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := make(map[string]string, len(names))
	errDependency := make([]string, 0, len(names))
	for _, name := range names {
		if err := d.checks[name].Health(ctx); err != nil {
			status[name] = err.Error()
			errDependency = append(errDependency, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		status[name] = "ok"
	}

	if len(errDependency) > 0 {
		return status, fmt.Errorf("dependency check failed: %s", strings.Join(errDependency, "; "))
	}

	d.log.Debugf("All dependency check passed")
	return status, nil
}
