package scriptplan

import (
	"fmt"
	"strings"

	"aco/internal/services"
)

// CycleError reports scripts whose depends_on edges form a cycle.
type CycleError struct {
	Scripts []string
}

func (e *CycleError) Error() string {
	return "dependency cycle among scripts: " + strings.Join(e.Scripts, ", ")
}

// ExecutionOrder returns a topological order of scripts over depends_on. Among
// scripts that are ready at the same time, plan order wins.
func ExecutionOrder(scripts []PlannedScript) ([]string, error) {
	index := make(map[string]int, len(scripts))
	for i, s := range scripts {
		index[s.Name] = i
	}
	indegree := make([]int, len(scripts))
	dependents := make([][]int, len(scripts))
	for i, s := range scripts {
		seen := make(map[string]struct{}, len(s.DependsOn))
		for _, dep := range s.DependsOn {
			if _, dup := seen[dep]; dup {
				continue
			}
			seen[dep] = struct{}{}
			j, ok := index[dep]
			if !ok {
				return nil, services.Wrap(services.ErrValidation, "scriptplan", "order",
					fmt.Sprintf("script %q depends on unknown script %q", s.Name, dep), nil)
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	done := make([]bool, len(scripts))
	order := make([]string, 0, len(scripts))
	for len(order) < len(scripts) {
		next := -1
		for i := range scripts {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			remaining := make([]string, 0, len(scripts)-len(order))
			for i, s := range scripts {
				if !done[i] {
					remaining = append(remaining, s.Name)
				}
			}
			return nil, &CycleError{Scripts: remaining}
		}
		done[next] = true
		order = append(order, scripts[next].Name)
		for _, d := range dependents[next] {
			indegree[d]--
		}
	}
	return order, nil
}
