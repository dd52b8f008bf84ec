package pcdrules

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fmpcd/fmpcd/container/pcd"
	"github.com/fmpcd/fmpcd/container/pcd/netenv"
	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Compiled contains objects created from a Document.
type Compiled struct {
	reg    *pcd.Registry
	Env    *netenv.Env
	Manips map[string]pcddef.ManipID
	Nodes  map[string]pcddef.NodeID
	Trees  map[string]pcddef.TreeID

	manipOrder []string
	nodeOrder  []string
	treeOrder  []string
}

// TreeNames returns tree names in creation order.
func (c *Compiled) TreeNames() []string {
	return append([]string(nil), c.treeOrder...)
}

// NodeNames returns node names in creation order; children precede their parents.
func (c *Compiled) NodeNames() []string {
	return append([]string(nil), c.nodeOrder...)
}

// Close deletes every created object.
// Trees and manipulations are deleted in reverse creation order, nodes once nothing continues lookup into them.
// Objects already deleted through the registry are skipped.
func (c *Compiled) Close() (e error) {
	for i := len(c.treeOrder) - 1; i >= 0; i-- {
		e = multierr.Append(e, ignoreNotFound(c.reg.DeleteTree(c.Trees[c.treeOrder[i]])))
	}
	e = multierr.Append(e, c.deleteNodes())
	for i := len(c.manipOrder) - 1; i >= 0; i-- {
		e = multierr.Append(e, ignoreNotFound(c.reg.DeleteManip(c.Manips[c.manipOrder[i]])))
	}
	c.treeOrder, c.nodeOrder, c.manipOrder = nil, nil, nil
	if c.Env != nil {
		e = multierr.Append(e, c.Env.Close())
	}
	return e
}

// deleteNodes deletes nodes in passes, because runtime modifications may link an earlier node to a later one.
func (c *Compiled) deleteNodes() (e error) {
	var pending []pcddef.NodeID
	for i := len(c.nodeOrder) - 1; i >= 0; i-- {
		pending = append(pending, c.Nodes[c.nodeOrder[i]])
	}

	for len(pending) > 0 {
		var occupied []pcddef.NodeID
		for _, id := range pending {
			info, e2 := c.reg.NodeInfo(id)
			switch {
			case errors.Is(e2, pcddef.ErrNotFound):
			case e2 != nil:
				e = multierr.Append(e, e2)
			case info.Owners > 0:
				occupied = append(occupied, id)
			default:
				e = multierr.Append(e, c.reg.DeleteNode(id))
			}
		}

		if len(occupied) == len(pending) {
			for _, id := range occupied {
				e = multierr.Append(e, c.reg.DeleteNode(id))
			}
			logger.Warn("nodes left occupied", zap.Int("count", len(occupied)))
			return e
		}
		pending = occupied
	}
	return e
}

// Compile creates manipulations, nodes, and trees declared in doc.
// Nodes are created after the nodes they refer to. If any step fails, objects created so far are deleted.
func Compile(reg *pcd.Registry, doc Document) (compiled *Compiled, e error) {
	c := &Compiled{
		reg:    reg,
		Manips: map[string]pcddef.ManipID{},
		Nodes:  map[string]pcddef.NodeID{},
		Trees:  map[string]pcddef.TreeID{},
	}
	if c.Env, e = netenv.New(doc.Units...); e != nil {
		return nil, e
	}
	defer func() {
		if e != nil {
			e = multierr.Append(e, c.Close())
		}
	}()

	for _, name := range sortedKeys(doc.Manips) {
		id, e := reg.CreateManip(doc.Manips[name])
		if e != nil {
			return nil, fmt.Errorf("manip %s: %w", name, e)
		}
		c.Manips[name] = id
		c.manipOrder = append(c.manipOrder, name)
	}

	order, e := nodeOrder(doc.Nodes)
	if e != nil {
		return nil, e
	}
	for _, name := range order {
		params, e := c.nodeParams(doc.Nodes[name])
		if e != nil {
			return nil, fmt.Errorf("node %s: %w", name, e)
		}
		id, e := reg.CreateNode(params)
		if e != nil {
			return nil, fmt.Errorf("node %s: %w", name, e)
		}
		c.Nodes[name] = id
		c.nodeOrder = append(c.nodeOrder, name)
	}

	for _, name := range sortedKeys(doc.Trees) {
		groups, e := c.groupParams(doc.Trees[name])
		if e != nil {
			return nil, fmt.Errorf("tree %s: %w", name, e)
		}
		id, e := reg.BuildTree(c.Env, groups)
		if e != nil {
			return nil, fmt.Errorf("tree %s: %w", name, e)
		}
		c.Trees[name] = id
		c.treeOrder = append(c.treeOrder, name)
	}

	logger.Info("compiled",
		zap.Int("manips", len(c.Manips)),
		zap.Int("nodes", len(c.Nodes)),
		zap.Int("trees", len(c.Trees)),
	)
	return c, nil
}

// Action resolves node and manipulation names of an action.
func (c *Compiled) Action(ar ActionRule) (act pcddef.Action, e error) {
	act = pcddef.Action{
		Engine:        ar.Engine,
		Drop:          ar.Drop,
		OverrideFqid:  ar.Fqid != 0,
		NewFqid:       ar.Fqid,
		Statistics:    ar.Statistics,
		Scheme:        ar.Scheme,
		Profile:       ar.Profile,
		SharedProfile: ar.SharedProfile,
	}
	if ar.Node != "" {
		id, ok := c.Nodes[ar.Node]
		if !ok {
			return act, fmt.Errorf("%w: unknown node %s", pcddef.ErrConfig, ar.Node)
		}
		act.Node = id
	}
	if ar.Manip != "" {
		id, ok := c.Manips[ar.Manip]
		if !ok {
			return act, fmt.Errorf("%w: unknown manip %s", pcddef.ErrConfig, ar.Manip)
		}
		act.Manip = id
	}
	return act, nil
}

func (c *Compiled) nodeParams(nr NodeRule) (params pcd.NodeParams, e error) {
	params.Extraction = nr.Extraction
	res, e := nr.Extraction.Resolve()
	if e != nil {
		return params, e
	}
	if params.Miss, e = c.Action(nr.Miss); e != nil {
		return params, e
	}

	for i, kr := range nr.Keys {
		var kp pcd.KeyParams
		if kp.Key, kp.Mask, e = kr.Key.Bytes(res.Size); e != nil {
			return params, fmt.Errorf("key %d: %w", i, e)
		}
		if kr.Mask != "" {
			if kp.Mask, e = ParseMask(kr.Mask, res.Size); e != nil {
				return params, fmt.Errorf("key %d mask: %w", i, e)
			}
		}
		if kp.Action, e = c.Action(kr.Action); e != nil {
			return params, fmt.Errorf("key %d: %w", i, e)
		}
		params.Keys = append(params.Keys, kp)
	}
	return params, nil
}

func (c *Compiled) groupParams(tr TreeRule) (groups []pcd.GroupParams, e error) {
	for g, gr := range tr.Groups {
		gp := pcd.GroupParams{Units: []int{}}
		for _, name := range gr.Units {
			unit, ok := c.Env.FindUnit(name)
			if !ok {
				return nil, fmt.Errorf("%w: group %d refers to unknown unit %s", pcddef.ErrConfig, g, name)
			}
			gp.Units = append(gp.Units, unit)
		}
		for i, ar := range gr.Entries {
			act, e := c.Action(ar)
			if e != nil {
				return nil, fmt.Errorf("group %d entry %d: %w", g, i, e)
			}
			gp.Entries = append(gp.Entries, act)
		}
		groups = append(groups, gp)
	}
	return groups, nil
}

// nodeOrder sorts node names so that every node follows the nodes it refers to.
func nodeOrder(nodes map[string]NodeRule) (order []string, e error) {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := map[string]int{}

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("%w: node %s is part of a cycle", pcddef.ErrConfig, name)
		case visited:
			return nil
		}
		nr, ok := nodes[name]
		if !ok {
			return fmt.Errorf("%w: unknown node %s", pcddef.ErrConfig, name)
		}
		state[name] = visiting
		refs := []string{nr.Miss.Node}
		for _, kr := range nr.Keys {
			refs = append(refs, kr.Action.Node)
		}
		for _, ref := range refs {
			if ref == "" {
				continue
			}
			if e := visit(ref); e != nil {
				return e
			}
		}
		state[name] = visited
		order = append(order, name)
		return nil
	}

	for _, name := range sortedKeys(nodes) {
		if e := visit(name); e != nil {
			return nil, e
		}
	}
	return order, nil
}

func ignoreNotFound(e error) error {
	if errors.Is(e, pcddef.ErrNotFound) {
		return nil
	}
	return e
}

func sortedKeys[V any](m map[string]V) (keys []string) {
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
