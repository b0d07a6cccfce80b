package aql

// Normalize rewrites a parsed tree in place into compiler form. See the
// package documentation for the rules. Parse followed by Normalize is
// deterministic, so the result can be cached by query text.
func Normalize(root *Node) error {
	if err := normalizeNode(root); err != nil {
		return err
	}
	return nil
}

// ParseNormalized parses and normalizes a document.
func ParseNormalized(text string) (*Node, error) {
	root, err := Parse(text)
	if err != nil {
		return nil, err
	}
	if err := Normalize(root); err != nil {
		return nil, err
	}
	return root, nil
}

func normalizeNode(n *Node) error {
	if err := applyCount(n); err != nil {
		return err
	}
	chainPlucks(n)
	if err := mergeWheres(n); err != nil {
		return err
	}
	if err := checkSorts(n); err != nil {
		return err
	}

	for _, f := range n.Filters {
		if p, ok := f.(*Pluck); ok {
			if err := normalizeNode(p.Target); err != nil {
				return err
			}
		}
	}
	for _, c := range n.Children {
		if err := normalizeNode(c); err != nil {
			return err
		}
	}

	merged, err := dedupe(n.Children)
	if err != nil {
		return err
	}
	n.Children = merged
	return nil
}

// applyCount makes count terminal: nothing may follow it, and the plucks and
// sub-selections before it are dropped because only the row count remains.
func applyCount(n *Node) error {
	idx := -1
	for i, f := range n.Filters {
		if _, ok := f.(*Count); ok {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	if idx != len(n.Filters)-1 {
		return Errorf(n, ErrCodeInvalidFilter, "%s is not allowed after count()", n.Filters[idx+1])
	}
	kept := make([]Filter, 0, len(n.Filters))
	for _, f := range n.Filters {
		if _, ok := f.(*Pluck); ok {
			continue
		}
		kept = append(kept, f)
	}
	n.Filters = kept
	n.Children = nil
	return nil
}

// chainPlucks pushes every pluck after the first into the first pluck's
// target, and moves the node's own sub-selection there too. Recursion on
// the target continues the chain.
func chainPlucks(n *Node) {
	var first *Pluck
	kept := make([]Filter, 0, len(n.Filters))
	for _, f := range n.Filters {
		p, ok := f.(*Pluck)
		if !ok {
			kept = append(kept, f)
			continue
		}
		if first == nil {
			first = p
			kept = append(kept, f)
			continue
		}
		first.Target.Filters = append(first.Target.Filters, p)
	}
	n.Filters = kept
	if first != nil && len(n.Children) > 0 {
		first.Target.Children = append(first.Target.Children, n.Children...)
		n.Children = nil
	}
}

// mergeWheres folds every where into the first one. A where after a pluck
// filters plucked values, which has no column to name, so it is rejected.
func mergeWheres(n *Node) error {
	var first *Where
	plucked := false
	kept := make([]Filter, 0, len(n.Filters))
	for _, f := range n.Filters {
		switch v := f.(type) {
		case *Pluck:
			plucked = true
		case *Where:
			if plucked {
				return Errorf(n, ErrCodeInvalidFilter, "where is not allowed after pluck")
			}
			if first == nil {
				first = &Where{Conds: append([]Condition(nil), v.Conds...)}
				kept = append(kept, first)
				continue
			}
			first.Conds = append(first.Conds, v.Conds...)
			continue
		case *SortBy:
			if plucked {
				return Errorf(n, ErrCodeInvalidFilter, "sortBy is not allowed after pluck; use sort()")
			}
		}
		kept = append(kept, f)
	}
	n.Filters = kept
	return nil
}

func checkSorts(n *Node) error {
	sorts := 0
	for _, f := range n.Filters {
		switch f.(type) {
		case *Sort, *SortBy:
			sorts++
		}
	}
	if sorts > 1 {
		return Errorf(n, ErrCodeInvalidFilter, "only one sort or sortBy is allowed per selection")
	}
	return nil
}

// dedupe merges siblings that share an output key. Matching signatures
// union their sub-selections recursively; differing ones conflict.
func dedupe(nodes []*Node) ([]*Node, error) {
	if len(nodes) < 2 {
		return nodes, nil
	}
	out := make([]*Node, 0, len(nodes))
	byKey := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		prev, ok := byKey[n.Key()]
		if !ok {
			byKey[n.Key()] = n
			out = append(out, n)
			continue
		}
		if err := mergeInto(prev, n); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func mergeInto(dst, src *Node) error {
	if dst.Signature() != src.Signature() {
		return Errorf(src, ErrCodeConflict,
			"conflicting selections for %q: %s vs %s", src.Key(), dst.Signature(), src.Signature())
	}
	if dp, ok := dst.Pluck(); ok {
		sp, _ := src.Pluck()
		if err := mergeInto(dp.Target, sp.Target); err != nil {
			return err
		}
	}
	for _, c := range src.Children {
		merged := false
		for _, existing := range dst.Children {
			if existing.Key() == c.Key() {
				if err := mergeInto(existing, c); err != nil {
					return err
				}
				merged = true
				break
			}
		}
		if !merged {
			dst.Children = append(dst.Children, c)
		}
	}
	return nil
}
