package graph

import "sort"

// Graph is a builder: add_node/add_edge/add_conditional_edges/add_reducer
// accumulate a declaration which Compile validates and freezes into a
// Compiled runnable. A Graph is not safe for concurrent building, but a
// Compiled graph is safe for concurrent Invoke/Stream/Step calls.
type Graph struct {
	nodes    map[string]*nodeEntry
	edges    map[string]EdgeTarget
	reducers reducerTable
	entry    string // START target
	opts     Options
}

type nodeEntry struct {
	id     string
	fn     NodeFunc
	policy *NodePolicy
}

// New creates an empty Graph builder.
func New(opts Options) *Graph {
	return &Graph{
		nodes:    make(map[string]*nodeEntry),
		edges:    make(map[string]EdgeTarget),
		reducers: make(reducerTable),
		opts:     opts.withDefaults(),
	}
}

// AddNode inserts or replaces the node registered under id. id must be
// non-empty and must not be START or END.
func (g *Graph) AddNode(id string, fn NodeFunc, policy *NodePolicy) error {
	if id == "" {
		return NewError(CodeValidationFailed, "node id cannot be empty", nil)
	}
	if id == START || id == END {
		return NewError(CodeValidationFailed, "node id cannot be a reserved name", nil)
	}
	if fn == nil {
		return NewError(CodeValidationFailed, "node function cannot be nil", nil)
	}
	g.nodes[id] = &nodeEntry{id: id, fn: fn, policy: policy}
	return nil
}

// AddEdge records a single edge from -> to. from == START records the
// entry point. Repeated single edges from the same source upgrade the
// stored target from Single to Parallel.
func (g *Graph) AddEdge(from, to string) error {
	if from == "" || to == "" {
		return NewError(CodeValidationFailed, "edge endpoints cannot be empty", nil)
	}
	if from == START {
		if g.entry != "" && g.entry != to {
			// only the first START edge sets the entry point; later
			// START edges to other nodes are ignored
		}
		if g.entry == "" {
			g.entry = to
		}
		return nil
	}

	existing, ok := g.edges[from]
	if !ok {
		g.edges[from] = EdgeTarget{Kind: EdgeSingle, Single: to}
		return nil
	}
	switch existing.Kind {
	case EdgeSingle:
		g.edges[from] = EdgeTarget{Kind: EdgeParallel, Parallel: []string{existing.Single, to}}
	case EdgeParallel:
		existing.Parallel = append(existing.Parallel, to)
		g.edges[from] = existing
	case EdgeConditional:
		return NewError(CodeValidationFailed, "cannot add a plain edge from a node with conditional edges", nil)
	}
	return nil
}

// AddConditionalEdges replaces any prior edge from `from` with a
// conditional route table. routeOrder controls the deterministic
// "first route" fallback and the route-matching scan order; pass the
// keys in the order you want them tried.
func (g *Graph) AddConditionalEdges(from string, routes map[string]string, routeOrder []string) error {
	if from == "" {
		return NewError(CodeValidationFailed, "edge source cannot be empty", nil)
	}
	if len(routeOrder) == 0 {
		routeOrder = sortedKeys(routes)
	}
	ordered := make([]conditionalRoute, 0, len(routeOrder))
	for _, k := range routeOrder {
		target, ok := routes[k]
		if !ok {
			continue
		}
		ordered = append(ordered, conditionalRoute{Key: k, Target: target})
	}
	g.edges[from] = EdgeTarget{Kind: EdgeConditional, Routes: ordered}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AddReducer installs the reducer tagged by tag for key. Must be called
// before Compile to affect that key; unregistered keys default to
// Overwrite.
func (g *Graph) AddReducer(key string, tag ReducerTag) {
	g.reducers[key] = tag
}

// Compile validates the declared graph and returns an immutable runnable.
// Failure modes (all ValidationFailed): missing entry point, dangling
// edge targets, nodes unreachable from the entry.
func (g *Graph) Compile() (*Compiled, error) {
	if g.entry == "" {
		return nil, NewError(CodeValidationFailed, "graph has no entry point: call AddEdge(START, firstNode)", nil)
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return nil, NewError(CodeValidationFailed, "entry point references unknown node "+g.entry, nil)
	}

	// Dangling edge targets.
	checkTarget := func(t string) error {
		if t == END {
			return nil
		}
		if _, ok := g.nodes[t]; !ok {
			return NewError(CodeValidationFailed, "edge references unknown node "+t, nil)
		}
		return nil
	}
	for from, et := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return nil, NewError(CodeValidationFailed, "edge source references unknown node "+from, nil)
		}
		switch et.Kind {
		case EdgeSingle:
			if err := checkTarget(et.Single); err != nil {
				return nil, err
			}
		case EdgeParallel:
			for _, t := range et.Parallel {
				if err := checkTarget(t); err != nil {
					return nil, err
				}
			}
		case EdgeConditional:
			for _, r := range et.Routes {
				if err := checkTarget(r.Target); err != nil {
					return nil, err
				}
			}
		}
	}

	// Reachability from entry (BFS over declared edges).
	reached := map[string]bool{g.entry: true}
	queue := []string{g.entry}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, t := range targetsOf(g.edges[cur]) {
			if t == END || reached[t] {
				continue
			}
			reached[t] = true
			queue = append(queue, t)
		}
	}
	for id := range g.nodes {
		if !reached[id] {
			return nil, NewError(CodeValidationFailed, "node unreachable from entry point: "+id, nil)
		}
	}

	nodesCopy := make(map[string]*nodeEntry, len(g.nodes))
	for k, v := range g.nodes {
		nodesCopy[k] = v
	}
	edgesCopy := make(map[string]EdgeTarget, len(g.edges))
	for k, v := range g.edges {
		edgesCopy[k] = v
	}
	reducersCopy := make(reducerTable, len(g.reducers))
	for k, v := range g.reducers {
		reducersCopy[k] = v
	}

	return &Compiled{
		nodes:    nodesCopy,
		edges:    edgesCopy,
		reducers: reducersCopy,
		entry:    g.entry,
		opts:     g.opts,
		executor: newStepExecutor(g.opts.MaxConcurrentNodes),
	}, nil
}

func targetsOf(et EdgeTarget) []string {
	switch et.Kind {
	case EdgeSingle:
		if et.Single == "" {
			return nil
		}
		return []string{et.Single}
	case EdgeParallel:
		return et.Parallel
	case EdgeConditional:
		out := make([]string, 0, len(et.Routes))
		for _, r := range et.Routes {
			out = append(out, r.Target)
		}
		return out
	default:
		return nil
	}
}
