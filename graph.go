package molecule

// GraphNode is a read-only snapshot of one cached molecule instance and its
// direct dependencies.
type GraphNode struct {
	Label      string
	InstanceID string
	Mounted    bool
	Tuples     []string
	Children   []*GraphNode
}

// Graph returns the dependency tree of the cached instance of m for the
// given scope context, without constructing anything. ok is false when the
// molecule has never been constructed or holds no cached instance for that
// context.
func (inj *Injector) Graph(m AnyMolecule, scopes ...ScopeTuple) (*GraphNode, bool) {
	if m == nil {
		return nil, false
	}

	inj.mu.Lock()
	defer inj.mu.Unlock()

	node, err := inj.bound(m.anyMoleculeNode())
	if err != nil {
		return nil, false
	}
	fp, ok := inj.fingerprints[node]
	if !ok {
		return nil, false
	}
	norm, err := inj.normalize(scopes)
	if err != nil {
		return nil, false
	}
	path, _ := inj.pathFor(node, fp.all, norm)
	e, ok := inj.cache.Get(path...)
	if !ok {
		return nil, false
	}
	return graphNode(e), true
}

func graphNode(e *cacheEntry) *GraphNode {
	n := &GraphNode{
		Label:      e.node.String(),
		InstanceID: e.id.String(),
		Mounted:    e.mounted,
	}
	for _, t := range e.scopeTuples {
		n.Tuples = append(n.Tuples, t.String())
	}
	for _, c := range e.deps.children {
		n.Children = append(n.Children, graphNode(c))
	}
	return n
}
