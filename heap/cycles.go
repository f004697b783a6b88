package heap

import "sort"

// CollectCycles runs one cycle-collection pass: it finds every object
// unreachable from roots, partitions that unreachable subgraph into strongly
// connected components, and frees each cyclic component by cutting every
// edge between its members and then freeing each member. Plain
// unreachable acyclic garbage (should already be freed by refcounting, but
// can appear transiently under a dirty heap) is freed directly.
//
// roots is the current root set: VM register files, globals, and any value
// held live outside the heap. CollectCycles returns the ids it freed.
func (h *Heap) CollectCycles(roots []int64) []int64 {
	reachable := h.bfsReachable(roots)

	var unreachable []int64
	for id := range h.objects {
		if !reachable[id] {
			unreachable = append(unreachable, id)
		}
	}
	if len(unreachable) == 0 {
		return nil
	}
	sort.Slice(unreachable, func(i, j int) bool { return unreachable[i] < unreachable[j] })

	sccs := h.tarjanSCC(unreachable)

	var freed []int64
	for _, scc := range sccs {
		freed = append(freed, h.breakComponent(scc)...)
	}
	return freed
}

// bfsReachable returns the set of heap ids reachable from roots by
// following strong outgoing edges.
func (h *Heap) bfsReachable(roots []int64) map[int64]bool {
	visited := make(map[int64]bool, len(h.objects))
	queue := make([]int64, 0, len(roots))
	for _, r := range roots {
		if !visited[r] {
			visited[r] = true
			queue = append(queue, r)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range h.edges.Outgoing(id) {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return visited
}

// tarjanSCC computes strongly connected components restricted to the given
// node set (the unreachable subgraph), in deterministic order.
func (h *Heap) tarjanSCC(nodes []int64) [][]int64 {
	type state struct {
		index   int
		lowlink int
		onStack bool
	}

	inSet := make(map[int64]bool, len(nodes))
	for _, n := range nodes {
		inSet[n] = true
	}

	states := make(map[int64]*state)
	var stack []int64
	var sccs [][]int64
	counter := 0

	var strongConnect func(v int64)
	strongConnect = func(v int64) {
		st := &state{index: counter, lowlink: counter, onStack: true}
		states[v] = st
		counter++
		stack = append(stack, v)

		for _, w := range h.edges.Outgoing(v) {
			if !inSet[w] {
				continue
			}
			if ws, seen := states[w]; !seen {
				strongConnect(w)
				if states[w].lowlink < st.lowlink {
					st.lowlink = states[w].lowlink
				}
			} else if ws.onStack {
				if ws.index < st.lowlink {
					st.lowlink = ws.index
				}
			}
		}

		if st.lowlink == st.index {
			var component []int64
			for {
				n := len(stack) - 1
				w := stack[n]
				stack = stack[:n]
				states[w].onStack = false
				component = append(component, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, component)
		}
	}

	for _, n := range nodes {
		if _, seen := states[n]; !seen {
			strongConnect(n)
		}
	}
	return sccs
}

// breakComponent frees one strongly connected component. A singleton with
// no self-edge is ordinary unreachable garbage and is freed directly; a
// true cycle (singleton self-edge, or size > 1) is broken by cutting every
// edge between its members before freeing them, so that
// the dec_ref cascade started by free() cannot re-enter an already-freed
// member of the same component.
func (h *Heap) breakComponent(component []int64) []int64 {
	isCycle := len(component) > 1
	if !isCycle && len(component) == 1 {
		for _, t := range h.edges.Outgoing(component[0]) {
			if t == component[0] {
				isCycle = true
				break
			}
		}
	}

	inComponent := make(map[int64]bool, len(component))
	for _, id := range component {
		inComponent[id] = true
	}

	if isCycle {
		for _, id := range component {
			for _, target := range h.edges.Outgoing(id) {
				if inComponent[target] {
					h.edges.removeEdge(id, target)
					if obj := h.objects[id]; obj != nil {
						if obj.FieldRefs[target] > 0 {
							obj.FieldRefs[target]--
							if obj.FieldRefs[target] == 0 {
								delete(obj.FieldRefs, target)
							}
						}
					}
				}
			}
		}
	}

	var freed []int64
	for _, id := range component {
		if _, alive := h.objects[id]; alive {
			h.free(id)
			freed = append(freed, id)
		}
	}
	return freed
}
