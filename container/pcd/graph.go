package pcd

import (
	"fmt"

	"github.com/fmpcd/fmpcd/container/pcd/pcdad"
	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"github.com/zyedidia/generic/mapset"
)

func (r *Registry) node(id pcddef.NodeID) (*node, error) {
	n, ok := r.nodes.get(pcddef.Handle(id))
	if !ok {
		return nil, fmt.Errorf("%w: %s", pcddef.ErrNotFound, id)
	}
	return n, nil
}

func (r *Registry) tree(id pcddef.TreeID) (*tree, error) {
	tr, ok := r.trees.get(pcddef.Handle(id))
	if !ok {
		return nil, fmt.Errorf("%w: %s", pcddef.ErrNotFound, id)
	}
	return tr, nil
}

// validateAction checks an action and the objects it refers to.
func (r *Registry) validateAction(act pcddef.Action) error {
	if e := act.Validate(); e != nil {
		return e
	}
	if child, ok := act.Child(); ok {
		if n, ok := r.nodes.get(pcddef.Handle(child)); !ok || n.state != nodeLive {
			return fmt.Errorf("%w: next engine refers to missing %s", pcddef.ErrConfig, child)
		}
	}
	if act.Manip != 0 {
		m, ok := r.manips.get(pcddef.Handle(act.Manip))
		if !ok {
			return fmt.Errorf("%w: action refers to missing %s", pcddef.ErrConfig, act.Manip)
		}
		return m.checkAction(act)
	}
	return nil
}

// encodeRecord encodes the record of an action under the given required actions.
// A node action carrying a manipulation encodes a manipulation lookup and stages the descriptor's link.
func (t *txn) encodeRecord(act pcddef.Action, required pcddef.RequiredAction) (pcdad.Record, error) {
	r := t.r
	var m *manip
	if act.Manip != 0 {
		var e error
		if m, e = r.manip(act.Manip); e != nil {
			return pcdad.Record{}, e
		}
	}

	if child, ok := act.Child(); ok {
		n, e := r.node(child)
		if e != nil {
			return pcdad.Record{}, e
		}
		cl, e := pcdad.EncodeContLookup(n.contLookup(n.nodeTables))
		if e != nil || m == nil {
			return cl, e
		}
		if e = t.stageLink(m, child, cl); e != nil {
			return pcdad.Record{}, e
		}
		return pcdad.EncodeManipLookup(m.ad)
	}

	var manipAddr pcddef.Addr
	if m != nil {
		manipAddr = m.ad
		required |= m.info.required
	}
	return pcdad.EncodeResult(act, manipAddr, required)
}

func (r *Registry) readRecord(table pcddef.Addr, i int) (rec pcdad.Record, e error) {
	e = r.mem.Read(table+pcddef.Addr(i*pcddef.ADSize), rec[:])
	return rec, e
}

// linkRequired returns the required actions that a record imposes on its child node.
func (r *Registry) linkRequired(parent pcddef.RequiredAction, act pcddef.Action) pcddef.RequiredAction {
	if m, ok := r.manips.get(pcddef.Handle(act.Manip)); ok {
		parent |= m.info.propagate
	}
	return parent
}

// treesOf returns the trees from which a node is reachable.
func (r *Registry) treesOf(id pcddef.NodeID) mapset.Set[pcddef.TreeID] {
	trees := mapset.New[pcddef.TreeID]()
	visited := mapset.New[pcddef.NodeID]()
	var walk func(id pcddef.NodeID)
	walk = func(id pcddef.NodeID) {
		if visited.Has(id) {
			return
		}
		visited.Put(id)
		n, ok := r.nodes.get(pcddef.Handle(id))
		if !ok {
			return
		}
		n.refTrees.EachAssociation(func(tree pcddef.TreeID, _ []int) { trees.Put(tree) })
		n.refNodes.EachAssociation(func(parent pcddef.NodeID, _ []int) { walk(parent) })
	}
	walk(id)
	return trees
}

// subgraph returns the nodes reachable from the children of acts, each once.
func (r *Registry) subgraph(acts ...pcddef.Action) (list []*node) {
	visited := mapset.New[pcddef.NodeID]()
	var walk func(id pcddef.NodeID)
	walk = func(id pcddef.NodeID) {
		if visited.Has(id) {
			return
		}
		visited.Put(id)
		n, ok := r.nodes.get(pcddef.Handle(id))
		if !ok {
			return
		}
		list = append(list, n)
		for _, act := range n.actions() {
			if child, ok := act.Child(); ok {
				walk(child)
			}
		}
	}
	for _, act := range acts {
		if child, ok := act.Child(); ok {
			walk(child)
		}
	}
	return list
}

// manipsOf returns manipulations attached to acts or anywhere in their subgraph.
func (r *Registry) manipsOf(acts ...pcddef.Action) (list []*manip) {
	seen := mapset.New[pcddef.ManipID]()
	add := func(act pcddef.Action) {
		if act.Manip == 0 || seen.Has(act.Manip) {
			return
		}
		seen.Put(act.Manip)
		if m, ok := r.manips.get(pcddef.Handle(act.Manip)); ok {
			list = append(list, m)
		}
	}
	for _, act := range acts {
		add(act)
	}
	for _, n := range r.subgraph(acts...) {
		for _, act := range n.actions() {
			add(act)
		}
	}
	return list
}

// treesBelow returns the trees from which any node reachable from the children of acts is reachable.
func (r *Registry) treesBelow(acts ...pcddef.Action) mapset.Set[pcddef.TreeID] {
	trees := mapset.New[pcddef.TreeID]()
	for _, n := range r.subgraph(acts...) {
		r.treesOf(n.id).Each(trees.Put)
	}
	return trees
}

// checkLinks verifies that linking acts under parent creates no cycle
// and leaves every node reachable from at most one tree.
// trees contains the trees from which parent is reachable.
func (r *Registry) checkLinks(trees mapset.Set[pcddef.TreeID], parent pcddef.NodeID, acts ...pcddef.Action) error {
	for _, n := range r.subgraph(acts...) {
		if n.id == parent {
			return fmt.Errorf("%w: linking %s would create a cycle", pcddef.ErrConfig, parent)
		}
	}
	all := r.treesBelow(acts...)
	trees.Each(all.Put)
	if all.Size() > 1 {
		return fmt.Errorf("%w: a node can belong to only one tree", pcddef.ErrConfig)
	}
	return nil
}

// stageRequired applies required actions to a node and its subtree.
// Result records are patched in place, one nia word each; the node's required field is set on commit.
// Required actions are never cleared.
func (t *txn) stageRequired(id pcddef.NodeID, req pcddef.RequiredAction) error {
	n, e := t.r.node(id)
	if e != nil {
		return e
	}
	have := n.required | t.required[id]
	add := req &^ have
	if add == 0 {
		return nil
	}
	t.required[id] = have | add

	for i, act := range n.actions() {
		if child, ok := act.Child(); ok {
			if e := t.stageRequired(child, t.r.linkRequired(have|add, act)); e != nil {
				return e
			}
			continue
		}
		rec, e := t.r.readRecord(n.adTable, i)
		if e != nil {
			return e
		}
		if e := pcdad.ApplyRequired(&rec, add); e != nil {
			return fmt.Errorf("%s record %d: %w", id, i, e)
		}
		word := pcdad.WordNia * 4
		if e := t.patch(n.adTable+pcddef.Addr(i*pcddef.ADSize+word), rec[word:word+4]); e != nil {
			return e
		}
	}
	t.onCommit(func() { n.setRequired(add) })
	return nil
}

// stageChildren propagates required actions from a parent into the children of acts.
func (t *txn) stageChildren(parent pcddef.RequiredAction, acts ...pcddef.Action) error {
	for _, act := range acts {
		if child, ok := act.Child(); ok {
			if e := t.stageRequired(child, t.r.linkRequired(parent, act)); e != nil {
				return e
			}
		}
	}
	return nil
}

// stageBoundPorts pushes port-dependent parameters of bound trees into manipulations reachable from acts.
func (t *txn) stageBoundPorts(trees mapset.Set[pcddef.TreeID], acts ...pcddef.Action) (e error) {
	manips := t.r.manipsOf(acts...)
	if len(manips) == 0 {
		return nil
	}
	trees.Each(func(id pcddef.TreeID) {
		tr, ok := t.r.trees.get(pcddef.Handle(id))
		if !ok || e != nil {
			return
		}
		for _, port := range tr.sortedPorts() {
			for _, m := range manips {
				if e = t.stagePort(m, port, false); e != nil {
					return
				}
			}
		}
	})
	return e
}

// stageNodeLinks moves back-references and manipulation owners from oldActs to newActs on commit.
func (t *txn) stageNodeLinks(parent *node, oldActs, newActs []pcddef.Action) {
	r := t.r
	t.onCommit(func() {
		for _, act := range oldActs {
			if child, ok := r.nodes.get(pcddef.Handle(act.Node)); ok && act.Engine == pcddef.EngineNode {
				child.refNodes.RemoveAll(parent.id)
			}
			if m, ok := r.manips.get(pcddef.Handle(act.Manip)); ok {
				m.owners--
			}
		}
		for i, act := range newActs {
			if child, ok := r.nodes.get(pcddef.Handle(act.Node)); ok && act.Engine == pcddef.EngineNode {
				child.refNodes.Put(parent.id, i)
			}
			if m, ok := r.manips.get(pcddef.Handle(act.Manip)); ok {
				m.owners++
			}
		}
	})
}

// stageTreeLinks is stageNodeLinks for tree entries.
func (t *txn) stageTreeLinks(tr *tree, oldActs, newActs []pcddef.Action) {
	r := t.r
	t.onCommit(func() {
		for _, act := range oldActs {
			if child, ok := r.nodes.get(pcddef.Handle(act.Node)); ok && act.Engine == pcddef.EngineNode {
				child.refTrees.RemoveAll(tr.id)
			}
			if m, ok := r.manips.get(pcddef.Handle(act.Manip)); ok {
				m.owners--
			}
		}
		for i, act := range newActs {
			if child, ok := r.nodes.get(pcddef.Handle(act.Node)); ok && act.Engine == pcddef.EngineNode {
				child.refTrees.Put(tr.id, i)
			}
			if m, ok := r.manips.get(pcddef.Handle(act.Manip)); ok {
				m.owners++
			}
		}
	})
}
