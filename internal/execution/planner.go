package execution

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// TopoSort orders a plan's steps so every step appears after everything it
// DependsOn, detecting cycles along the way. A non-trivial strongly
// connected component is classified as iterative (allowed, scheduled in
// declared order) if its steps' declared output examples differ across
// the component, or deadlock (rejected) if they're identical — a step
// that always produces the same output by re-running itself can never
// converge.
func TopoSort(p *Plan) ([]string, error) {
	index := make(map[string]int, len(p.Steps))
	for i, s := range p.Steps {
		index[s.ID] = i
	}

	sccs := tarjanSCCs(p.Steps, index)

	order := make([]string, 0, len(p.Steps))
	for _, comp := range sccs {
		if len(comp) == 1 {
			order = append(order, p.Steps[comp[0]].ID)
			continue
		}
		if err := classifyCycle(p.Steps, comp); err != nil {
			return nil, err
		}
		declared := append([]int(nil), comp...)
		sort.Ints(declared)
		for _, i := range declared {
			order = append(order, p.Steps[i].ID)
		}
	}
	return order, nil
}

// tarjanSCCs returns the plan's strongly connected components, each as a
// list of step indices, in topological order: Tarjan's algorithm produces
// them in reverse, and this function reverses that list before returning.
func tarjanSCCs(steps []PlanStep, index map[string]int) [][]int {
	n := len(steps)
	adj := make([][]int, n)
	for i, s := range steps {
		for _, dep := range s.DependsOn {
			if j, ok := index[dep]; ok {
				// dep -> i: dep must run before i.
				adj[j] = append(adj[j], i)
			}
		}
	}

	indices := make([]int, n)
	lowlink := make([]int, n)
	onStack := make([]bool, n)
	for i := range indices {
		indices[i] = -1
	}

	var stack []int
	var sccs [][]int
	counter := 0

	var strongconnect func(v int)
	strongconnect = func(v int) {
		indices[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if indices[w] == -1 {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlink[v] {
					lowlink[v] = indices[w]
				}
			}
		}

		if lowlink[v] == indices[v] {
			var comp []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, comp)
		}
	}

	for v := 0; v < n; v++ {
		if indices[v] == -1 {
			strongconnect(v)
		}
	}

	// Tarjan emits components in reverse topological order already; reverse
	// so a component's dependencies precede it in the overall ordering.
	for i, j := 0, len(sccs)-1; i < j; i, j = i+1, j-1 {
		sccs[i], sccs[j] = sccs[j], sccs[i]
	}
	return sccs
}

// classifyCycle decides whether a non-trivial SCC is an allowed iterative
// loop (draft -> revised, output genuinely changes step to step) or a
// deadlock (every step declares the same output, so the loop can never
// converge).
func classifyCycle(steps []PlanStep, comp []int) error {
	seen := map[string]bool{}
	for _, i := range comp {
		h := hashOutput(steps[i].OutputExample)
		seen[h] = true
	}
	if len(seen) <= 1 {
		names := make([]string, 0, len(comp))
		for _, i := range comp {
			names = append(names, steps[i].ID)
		}
		return fmt.Errorf("PLAN_DEADLOCK: cycle %v produces identical output on every iteration", names)
	}
	return nil
}

func hashOutput(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
