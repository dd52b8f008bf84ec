package pcd

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/fmpcd/fmpcd/container/pcd/pcdad"
	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"github.com/fmpcd/fmpcd/container/pcd/pcdkey"
	"github.com/zyedidia/generic/multimap"
	"go.uber.org/zap"
)

type nodeState int

const (
	nodeBuilding nodeState = iota
	nodeLive
	nodeModifying
	nodeDeleted
)

func (s nodeState) String() string {
	switch s {
	case nodeBuilding:
		return "building"
	case nodeLive:
		return "live"
	case nodeModifying:
		return "modifying"
	case nodeDeleted:
		return "deleted"
	}
	return fmt.Sprintf("%d", int(s))
}

// KeyParams describes one key of a node.
type KeyParams struct {
	Key []byte `json:"key"`
	// Mask, if not nil, has the same length as Key.
	Mask   []byte        `json:"mask,omitempty"`
	Action pcddef.Action `json:"action"`
}

// NodeParams contains CreateNode arguments.
type NodeParams struct {
	Extraction pcddef.Extraction `json:"extraction"`
	Keys       []KeyParams       `json:"keys"`
	Miss       pcddef.Action     `json:"miss"`
}

type keyEntry struct {
	key    []byte
	mask   []byte // effective mask, all ones when not specified
	action pcddef.Action
}

func (ke keyEntry) collides(other keyEntry) bool {
	if !bytes.Equal(ke.mask, other.mask) {
		return false
	}
	for i, m := range ke.mask {
		if ke.key[i]&m != other.key[i]&m {
			return false
		}
	}
	return true
}

// nodeTables is the part of a node replaced as a unit when its tables are rebuilt.
type nodeTables struct {
	keys     []keyEntry
	miss     pcddef.Action
	masks    pcdkey.MaskState
	layout   pcdkey.Layout
	keyTable pcddef.Addr
	adTable  pcddef.Addr
}

// actions returns key actions followed by the miss action, in record order.
func (tb nodeTables) actions() (list []pcddef.Action) {
	list = make([]pcddef.Action, 0, len(tb.keys)+1)
	for _, ke := range tb.keys {
		list = append(list, ke.action)
	}
	return append(list, tb.miss)
}

type node struct {
	nodeTables
	id    pcddef.NodeID
	state nodeState
	ex    pcddef.Extraction
	res   pcddef.Resolved

	// required is the set of required actions applied to every record.
	// It is modified only through setRequired.
	required pcddef.RequiredAction

	// refNodes maps each parent node to the indices of its records that continue lookup here.
	refNodes multimap.MultiMap[pcddef.NodeID, int]
	// refTrees maps each tree to the indices of its entries that continue lookup here.
	refTrees multimap.MultiMap[pcddef.TreeID, int]
}

func (n *node) setRequired(add pcddef.RequiredAction) {
	if add&^n.required != 0 {
		logger.Debug("node required actions", zap.Stringer("id", n.id), zap.Uint32("add", uint32(add)))
	}
	n.required |= add
}

// owners returns the number of records that continue lookup into this node.
func (n *node) owners() int {
	return n.refNodes.Size() + n.refTrees.Size()
}

func (n *node) parseCode(tb nodeTables) pcddef.ParseCode {
	if n.res.Generic && tb.masks.Masked() {
		return pcddef.PcGenericWithMask
	}
	return n.res.ParseCode
}

// contLookup returns the continue-lookup record that points to tb.
func (n *node) contLookup(tb nodeTables) pcdad.ContLookup {
	c := pcdad.ContLookup{
		ADTable:    tb.adTable,
		KeyTable:   tb.keyTable,
		NumKeys:    len(tb.keys),
		LocalMask:  tb.layout.Local,
		ParseCode:  n.parseCode(tb),
		Pr:         n.res.Pr,
		Offset:     n.res.Offset,
		GlobalMask: tb.masks.GlobalMask(),
	}
	if !n.res.FullField {
		c.KeySize = n.res.Size
	}
	return c
}

// makeKey validates a key and folds its mask into ms.
func (n *node) makeKey(ms *pcdkey.MaskState, kp KeyParams) (ke keyEntry, e error) {
	if len(kp.Key) != n.res.Size {
		return ke, fmt.Errorf("%w: key size %d differs from extraction size %d", pcddef.ErrConfig, len(kp.Key), n.res.Size)
	}
	if n.res.FixedKey != nil && (!bytes.Equal(kp.Key, n.res.FixedKey) || kp.Mask != nil) {
		return ke, fmt.Errorf("%w: %s only accepts key %X without mask", pcddef.ErrConfig, n.ex.Field, n.res.FixedKey)
	}
	ke.key = append([]byte(nil), kp.Key...)
	if ke.mask, e = ms.Update(kp.Mask); e != nil {
		return ke, e
	}
	ke.action = kp.Action
	return ke, nil
}

// checkCollisions ensures no two keys match the same frames.
func checkCollisions(keys []keyEntry) error {
	for i := range keys {
		for j := i + 1; j < len(keys); j++ {
			if keys[i].collides(keys[j]) {
				return fmt.Errorf("%w: key %d collides with key %d", pcddef.ErrConfig, j, i)
			}
		}
	}
	return nil
}

// stageTables builds tb in fresh memory and repoints every ancestor record.
// sources[i] is the current record index copied into new record i, or -1 to encode tb's action afresh.
// Copied records keep their hit counters.
func (t *txn) stageTables(n *node, tb *nodeTables, sources []int) (e error) {
	if tb.layout, e = pcdkey.NewLayout(n.res.Size, tb.masks.Local()); e != nil {
		return e
	}

	keys, masks := make([][]byte, len(tb.keys)), make([][]byte, len(tb.keys))
	for i, ke := range tb.keys {
		keys[i], masks[i] = ke.key, ke.mask
	}
	if tb.keyTable, e = t.alloc(tb.layout.Encode(keys, masks), pcddef.KeyTableAlign); e != nil {
		return e
	}

	acts := tb.actions()
	ad := make([]byte, len(acts)*pcddef.ADSize)
	for i, act := range acts {
		var rec pcdad.Record
		if src := sources[i]; src >= 0 {
			rec, e = t.r.readRecord(n.adTable, src)
		} else {
			rec, e = t.encodeRecord(act, n.required|t.required[n.id])
		}
		if e != nil {
			return fmt.Errorf("%s record %d: %w", n.id, i, e)
		}
		copy(ad[i*pcddef.ADSize:], rec[:])
	}
	if tb.adTable, e = t.alloc(ad, pcddef.ADTableAlign); e != nil {
		return e
	}

	if n.state != nodeBuilding {
		cl, e := pcdad.EncodeContLookup(n.contLookup(*tb))
		if e != nil {
			return e
		}
		if e = t.repoint(n, cl); e != nil {
			return e
		}
		t.free(n.keyTable)
		t.free(n.adTable)
	}

	staged := *tb
	t.onCommit(func() { n.nodeTables = staged })
	return nil
}

// repoint stages rewriting every ancestor record of n into cl.
// An ancestor record that carries a manipulation keeps pointing to the descriptor, whose link is rewritten instead.
func (t *txn) repoint(n *node, cl pcdad.Record) (e error) {
	n.refNodes.Each(func(parent pcddef.NodeID, index int) {
		if e != nil {
			return
		}
		p, ok := t.r.nodes.get(pcddef.Handle(parent))
		if !ok {
			e = fmt.Errorf("%w: dangling back-reference %s", pcddef.ErrInvalidState, parent)
			return
		}
		e = t.patchLink(p.adTable, index, p.actions()[index], cl)
	})
	n.refTrees.Each(func(id pcddef.TreeID, index int) {
		if e != nil {
			return
		}
		tr, ok := t.r.trees.get(pcddef.Handle(id))
		if !ok {
			e = fmt.Errorf("%w: dangling back-reference %s", pcddef.ErrInvalidState, id)
			return
		}
		e = t.patchLink(tr.adTable, index, tr.entries[index], cl)
	})
	return e
}

func (t *txn) patchLink(table pcddef.Addr, index int, act pcddef.Action, cl pcdad.Record) error {
	if act.Manip != 0 {
		m, e := t.r.manip(act.Manip)
		if e != nil {
			return e
		}
		return t.patch(m.ad+pcdad.ManipLinkOffset, cl[:])
	}
	return t.patch(table+pcddef.Addr(index*pcddef.ADSize), cl[:])
}

// CreateNode creates a classification node.
func (r *Registry) CreateNode(params NodeParams) (id pcddef.NodeID, e error) {
	n := &node{
		state:    nodeBuilding,
		ex:       params.Extraction,
		refNodes: multimap.NewMapSlice[pcddef.NodeID, int](),
		refTrees: multimap.NewMapSlice[pcddef.TreeID, int](),
	}
	if n.res, e = params.Extraction.Resolve(); e != nil {
		return 0, e
	}
	if n.res.FixedKey != nil && len(params.Keys) != 1 {
		return 0, fmt.Errorf("%w: %s needs exactly one key", pcddef.ErrConfig, params.Extraction.Field)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if len(params.Keys) > r.cfg.MaxKeys {
		return 0, fmt.Errorf("%w: %d keys exceed %d", pcddef.ErrCapacity, len(params.Keys), r.cfg.MaxKeys)
	}

	tb := nodeTables{masks: pcdkey.NewMaskState(n.res.Size, n.res.GlobalMaskAllowed), miss: params.Miss}
	for i, kp := range params.Keys {
		ke, e := n.makeKey(&tb.masks, kp)
		if e != nil {
			return 0, fmt.Errorf("key %d: %w", i, e)
		}
		tb.keys = append(tb.keys, ke)
	}
	if e = checkCollisions(tb.keys); e != nil {
		return 0, e
	}
	acts := tb.actions()
	for i, act := range acts {
		if e = r.validateAction(act); e != nil {
			return 0, fmt.Errorf("record %d: %w", i, e)
		}
	}

	n.id = pcddef.NodeID(r.nodes.insert(n))
	defer func() {
		if e != nil {
			r.nodes.remove(pcddef.Handle(n.id))
		}
	}()
	if e = r.checkLinks(r.treesOf(n.id), n.id, acts...); e != nil {
		return 0, e
	}
	unlock, e := r.lockTrees(r.treesBelow(acts...))
	if e != nil {
		return 0, e
	}
	defer unlock()

	t := r.begin()
	defer t.rollback()
	if e = t.stageChildren(n.required, acts...); e != nil {
		return 0, e
	}
	sources := make([]int, len(acts))
	for i := range sources {
		sources[i] = -1
	}
	if e = t.stageTables(n, &tb, sources); e != nil {
		return 0, e
	}
	t.stageNodeLinks(n, nil, acts)
	if e = t.commit(); e != nil {
		return 0, e
	}

	n.state = nodeLive
	logger.Info("node created",
		zap.Stringer("id", n.id),
		zap.Int("keys", len(n.keys)),
		zap.Int("key-size", n.res.Size),
		zap.Bool("local-mask", n.layout.Local),
		zap.Stringer("key-table", n.keyTable),
		zap.Stringer("ad-table", n.adTable),
	)
	return n.id, nil
}

// DeleteNode deletes a node.
// It fails with ErrInvalidState while any record continues lookup into the node.
func (r *Registry) DeleteNode(id pcddef.NodeID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	n, e := r.node(id)
	if e != nil {
		return e
	}
	if owners := n.owners(); owners != 0 {
		return fmt.Errorf("%w: %s is occupied by %d owners", pcddef.ErrInvalidState, id, owners)
	}
	unlock, e := r.lockTrees(r.treesBelow(n.actions()...))
	if e != nil {
		return e
	}
	defer unlock()

	t := r.begin()
	defer t.rollback()
	t.stageNodeLinks(n, n.actions(), nil)
	t.free(n.keyTable)
	t.free(n.adTable)
	t.onCommit(func() {
		n.state = nodeDeleted
		r.nodes.remove(pcddef.Handle(id))
	})
	if e = t.commit(); e != nil {
		return e
	}
	logger.Info("node deleted", zap.Stringer("id", id))
	return nil
}

// GetKeyCounter reads the hit counter of a key.
// It fails with ErrInvalidState if the key continues lookup or does not keep statistics.
func (r *Registry) GetKeyCounter(id pcddef.NodeID, index int) (uint32, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	n, e := r.node(id)
	if e != nil {
		return 0, e
	}
	if index < 0 || index >= len(n.keys) {
		return 0, fmt.Errorf("%w: key %d of %d", pcddef.ErrIndexRange, index, len(n.keys))
	}
	act := n.keys[index].action
	if act.Engine == pcddef.EngineNode {
		return 0, fmt.Errorf("%w: no statistics when next engine is a node", pcddef.ErrInvalidState)
	}
	if !act.Statistics {
		return 0, fmt.Errorf("%w: statistics not enabled on key %d", pcddef.ErrInvalidState, index)
	}
	rec, e := r.readRecord(n.adTable, index)
	if e != nil {
		return 0, e
	}
	return rec.Counter(), nil
}

// KeyInfo describes one key of a node.
type KeyInfo struct {
	Key    string        `json:"key"`
	Mask   string        `json:"mask"`
	Action pcddef.Action `json:"action"`
}

// NodeInfo describes a node.
type NodeInfo struct {
	ID         pcddef.NodeID     `json:"id"`
	State      string            `json:"state"`
	Extraction pcddef.Extraction `json:"extraction"`
	Keys       []KeyInfo         `json:"keys"`
	Miss       pcddef.Action     `json:"miss"`
	Layout     pcdkey.Layout     `json:"layout"`
	ContLookup pcdad.ContLookup  `json:"contLookup"`
	Owners     int               `json:"owners"`
	Trees      []pcddef.TreeID   `json:"trees"`
	WithoutDMA bool              `json:"withoutDMA,omitempty"`
}

// NumKeys returns the number of keys.
func (info NodeInfo) NumKeys() int {
	return len(info.Keys)
}

// ADTableSize returns the size of the action descriptor table.
func (info NodeInfo) ADTableSize() int {
	return (len(info.Keys) + 1) * pcddef.ADSize
}

// NodeInfo returns information about a node.
func (r *Registry) NodeInfo(id pcddef.NodeID) (info NodeInfo, e error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	n, e := r.node(id)
	if e != nil {
		return info, e
	}
	info = NodeInfo{
		ID:         n.id,
		State:      n.state.String(),
		Extraction: n.ex,
		Keys:       []KeyInfo{},
		Miss:       n.miss,
		Layout:     n.layout,
		ContLookup: n.contLookup(n.nodeTables),
		Owners:     n.owners(),
		Trees:      []pcddef.TreeID{},
		WithoutDMA: n.required&pcddef.RequireEnqueueWithoutDMA != 0,
	}
	for _, ke := range n.keys {
		info.Keys = append(info.Keys, KeyInfo{
			Key:    hex.EncodeToString(ke.key),
			Mask:   hex.EncodeToString(ke.mask),
			Action: ke.action,
		})
	}
	r.treesOf(id).Each(func(tree pcddef.TreeID) { info.Trees = append(info.Trees, tree) })
	return info, nil
}

// Nodes lists nodes.
func (r *Registry) Nodes() (list []pcddef.NodeID) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.nodes.each(func(h pcddef.Handle, n *node) {
		list = append(list, pcddef.NodeID(h))
	})
	return list
}
