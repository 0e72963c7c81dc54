package compose

import (
	"fmt"
	"sort"
	"strings"
)

// CycleError reports a dependency cycle through the named services.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s", strings.Join(e.Path, " -> "))
}

// findCycle runs a three-color DFS over depends_on edges and returns the
// first cycle found as a service name path, or nil. Roots are visited in
// sorted order so the reported cycle is deterministic.
func findCycle(services map[string]Service) []string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS stack
		black = 2 // fully explored
	)

	color := make(map[string]int, len(services))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		color[name] = gray
		stack = append(stack, name)

		deps := append([]string(nil), services[name].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			switch color[dep] {
			case white:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			case gray:
				// Close the loop: slice the stack from the first
				// occurrence of dep and append dep again.
				for i, n := range stack {
					if n == dep {
						return append(append([]string(nil), stack[i:]...), dep)
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[name] = black
		return nil
	}

	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if color[name] == white {
			if cycle := visit(name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// TopoOrder returns service names such that every service appears after
// all of its depends_on entries. Ties break alphabetically so the order
// is stable across runs. The config must already have passed Validate.
func (c *Config) TopoOrder() []string {
	indegree := make(map[string]int, len(c.Services))
	dependents := make(map[string][]string, len(c.Services))
	for name, svc := range c.Services {
		indegree[name] += 0
		for _, dep := range svc.DependsOn {
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(c.Services))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		released := false
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
				released = true
			}
		}
		if released {
			sort.Strings(ready)
		}
	}

	return order
}
