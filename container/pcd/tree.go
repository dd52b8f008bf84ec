package pcd

import (
	"fmt"
	"sort"

	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"github.com/zyedidia/generic/mapset"
	"go.uber.org/zap"
)

// GroupParams describes one group of a tree.
// A group tests up to MaxUnitsPerGroup distinction units and has 2^len(Units) entries.
type GroupParams struct {
	Units   []int           `json:"units"`
	Entries []pcddef.Action `json:"entries"`
}

type treeGroup struct {
	units []int
	base  int
}

type tree struct {
	id      pcddef.TreeID
	env     pcddef.NetEnv
	groups  []treeGroup
	entries []pcddef.Action
	adTable pcddef.Addr
	ports   map[int]pcddef.Port

	locked  bool
	lockSet []pcddef.TreeID
}

func (tr *tree) sortedPorts() (list []pcddef.Port) {
	for _, port := range tr.ports {
		list = append(list, port)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

func (tr *tree) entryIndex(group, index int) (int, error) {
	if group < 0 || group >= len(tr.groups) {
		return 0, fmt.Errorf("%w: group %d of %d", pcddef.ErrIndexRange, group, len(tr.groups))
	}
	g := tr.groups[group]
	if size := 1 << len(g.units); index < 0 || index >= size {
		return 0, fmt.Errorf("%w: entry %d of %d in group %d", pcddef.ErrIndexRange, index, size, group)
	}
	return g.base + index, nil
}

func validateGroups(env pcddef.NetEnv, groups []GroupParams) (total int, e error) {
	switch {
	case env == nil:
		return 0, fmt.Errorf("%w: tree needs a network environment", pcddef.ErrConfig)
	case len(groups) == 0:
		return 0, fmt.Errorf("%w: tree needs at least one group", pcddef.ErrConfig)
	case len(groups) > pcddef.MaxGroups:
		return 0, fmt.Errorf("%w: %d groups exceed %d", pcddef.ErrCapacity, len(groups), pcddef.MaxGroups)
	}

	prevSize := 1 << pcddef.MaxUnitsPerGroup
	for i, g := range groups {
		if len(g.Units) > pcddef.MaxUnitsPerGroup {
			return 0, fmt.Errorf("%w: group %d tests %d units", pcddef.ErrCapacity, i, len(g.Units))
		}
		seen := mapset.New[int]()
		for _, u := range g.Units {
			if u < 0 || u >= env.NumUnits() || seen.Has(u) {
				return 0, fmt.Errorf("%w: group %d has invalid or duplicate unit %d", pcddef.ErrConfig, i, u)
			}
			seen.Put(u)
		}
		size := 1 << len(g.Units)
		if len(g.Entries) != size {
			return 0, fmt.Errorf("%w: group %d needs %d entries", pcddef.ErrConfig, i, size)
		}
		if size > prevSize {
			return 0, fmt.Errorf("%w: group %d is larger than its predecessor", pcddef.ErrConfig, i)
		}
		prevSize = size
		total += size
	}
	if total > pcddef.MaxTreeEntries {
		return 0, fmt.Errorf("%w: %d entries exceed %d", pcddef.ErrCapacity, total, pcddef.MaxTreeEntries)
	}
	return total, nil
}

// BuildTree creates a classification tree.
// Groups must be ordered by non-increasing size.
func (r *Registry) BuildTree(env pcddef.NetEnv, groups []GroupParams) (id pcddef.TreeID, e error) {
	total, e := validateGroups(env, groups)
	if e != nil {
		return 0, e
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	tr := &tree{
		env:   env,
		ports: map[int]pcddef.Port{},
	}
	for _, g := range groups {
		tr.groups = append(tr.groups, treeGroup{units: append([]int(nil), g.Units...), base: len(tr.entries)})
		tr.entries = append(tr.entries, g.Entries...)
	}
	for i, act := range tr.entries {
		if e = r.validateAction(act); e != nil {
			return 0, fmt.Errorf("entry %d: %w", i, e)
		}
	}

	tr.id = pcddef.TreeID(r.trees.insert(tr))
	defer func() {
		if e != nil {
			r.trees.remove(pcddef.Handle(tr.id))
		}
	}()
	if e = r.checkLinks(mapset.Of(tr.id), 0, tr.entries...); e != nil {
		return 0, e
	}

	t := r.begin()
	defer t.rollback()
	if e = t.stageChildren(0, tr.entries...); e != nil {
		return 0, e
	}
	ad := make([]byte, total*pcddef.ADSize)
	for i, act := range tr.entries {
		rec, e := t.encodeRecord(act, 0)
		if e != nil {
			return 0, fmt.Errorf("entry %d: %w", i, e)
		}
		copy(ad[i*pcddef.ADSize:], rec[:])
	}
	if tr.adTable, e = t.alloc(ad, pcddef.ADTableAlign); e != nil {
		return 0, e
	}
	t.stageTreeLinks(tr, nil, tr.entries)
	if e = t.commit(); e != nil {
		return 0, e
	}

	env.RegisterDependent()
	logger.Info("tree built",
		zap.Stringer("id", tr.id),
		zap.Int("groups", len(tr.groups)),
		zap.Int("entries", total),
		zap.Stringer("ad-table", tr.adTable),
	)
	return tr.id, nil
}

// ModifyTreeNextEngine replaces the action of one tree entry.
// The tree's table stays in place, because bound ports refer to it; the entry record is rewritten as a unit.
func (r *Registry) ModifyTreeNextEngine(id pcddef.TreeID, group, index int, act pcddef.Action) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	tr, e := r.tree(id)
	if e != nil {
		return e
	}
	flat, e := tr.entryIndex(group, index)
	if e != nil {
		return e
	}
	if e = r.validateAction(act); e != nil {
		return e
	}
	trees := mapset.Of(id)
	if e = r.checkLinks(trees, 0, act); e != nil {
		return e
	}
	unlock, e := r.lockTrees(trees)
	if e != nil {
		return e
	}
	defer unlock()

	t := r.begin()
	defer t.rollback()
	if e = t.stageChildren(0, act); e != nil {
		return e
	}
	if e = t.stageBoundPorts(trees, act); e != nil {
		return e
	}
	rec, e := t.encodeRecord(act, 0)
	if e != nil {
		return e
	}
	if e = t.patch(tr.adTable+pcddef.Addr(flat*pcddef.ADSize), rec[:]); e != nil {
		return e
	}
	entries := append([]pcddef.Action(nil), tr.entries...)
	entries[flat] = act
	t.stageTreeLinks(tr, tr.entries, entries)
	t.onCommit(func() { tr.entries = entries })
	if e = t.commit(); e != nil {
		return e
	}

	logger.Info("tree next engine modified", zap.Stringer("id", id), zap.Int("entry", flat), zap.Stringer("action", act))
	return nil
}

// GetGroupParams returns the first entry index of a group and the bit set of units it tests.
func (r *Registry) GetGroupParams(id pcddef.TreeID, group int) (base int, unitsMask uint32, e error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	tr, e := r.tree(id)
	if e != nil {
		return 0, 0, e
	}
	if group < 0 || group >= len(tr.groups) {
		return 0, 0, fmt.Errorf("%w: group %d of %d", pcddef.ErrIndexRange, group, len(tr.groups))
	}
	g := tr.groups[group]
	for _, u := range g.units {
		unitsMask |= tr.env.UnitMask(u)
	}
	return g.base, unitsMask, nil
}

// BindToPort binds the tree to a port, and returns the address of the tree's table.
// Port-dependent parameters are pushed into every reachable manipulation; on ErrConflictingBinding nothing changes.
func (r *Registry) BindToPort(id pcddef.TreeID, port pcddef.Port) (pcddef.Addr, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	tr, e := r.tree(id)
	if e != nil {
		return 0, e
	}
	if _, ok := tr.ports[port.ID]; ok {
		return 0, fmt.Errorf("%w: %s already bound to port %d", pcddef.ErrInvalidState, id, port.ID)
	}
	unlock, e := r.lockTrees(mapset.Of(id))
	if e != nil {
		return 0, e
	}
	defer unlock()

	t := r.begin()
	defer t.rollback()
	for _, m := range r.manipsOf(tr.entries...) {
		if e = t.stagePort(m, port, false); e != nil {
			return 0, e
		}
	}
	t.onCommit(func() { tr.ports[port.ID] = port })
	if e = t.commit(); e != nil {
		return 0, e
	}

	logger.Info("tree bound", zap.Stringer("id", id), zap.Int("port", port.ID), zap.Int("owners", len(tr.ports)))
	return tr.adTable, nil
}

// UnbindFromPort unbinds the tree from a port.
// Manipulations no longer reachable from any bound tree forget their port-dependent parameters.
func (r *Registry) UnbindFromPort(id pcddef.TreeID, portID int) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	tr, e := r.tree(id)
	if e != nil {
		return e
	}
	if _, ok := tr.ports[portID]; !ok {
		return fmt.Errorf("%w: %s is not bound to port %d", pcddef.ErrInvalidState, id, portID)
	}
	unlock, e := r.lockTrees(mapset.Of(id))
	if e != nil {
		return e
	}
	defer unlock()

	t := r.begin()
	defer t.rollback()
	if len(tr.ports) == 1 {
		stillBound := mapset.New[pcddef.ManipID]()
		r.trees.each(func(h pcddef.Handle, other *tree) {
			if other != tr && len(other.ports) > 0 {
				for _, m := range r.manipsOf(other.entries...) {
					stillBound.Put(m.id)
				}
			}
		})
		for _, m := range r.manipsOf(tr.entries...) {
			if m.port == nil || stillBound.Has(m.id) {
				continue
			}
			rec := m.descriptor(nil)
			if e = t.patch(m.ad, rec[:]); e != nil {
				return e
			}
			m := m
			t.onCommit(func() { m.port = nil })
		}
	}
	t.onCommit(func() { delete(tr.ports, portID) })
	if e = t.commit(); e != nil {
		return e
	}

	logger.Info("tree unbound", zap.Stringer("id", id), zap.Int("port", portID), zap.Int("owners", len(tr.ports)))
	return nil
}

// DeleteTree deletes a tree.
// It fails with ErrInvalidState while the tree is bound to any port.
func (r *Registry) DeleteTree(id pcddef.TreeID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	tr, e := r.tree(id)
	if e != nil {
		return e
	}
	if len(tr.ports) != 0 {
		return fmt.Errorf("%w: %s is bound to %d ports", pcddef.ErrInvalidState, id, len(tr.ports))
	}
	if tr.locked {
		return fmt.Errorf("%w: %s is locked", pcddef.ErrBusy, id)
	}

	t := r.begin()
	defer t.rollback()
	t.stageTreeLinks(tr, tr.entries, nil)
	t.free(tr.adTable)
	t.onCommit(func() { r.trees.remove(pcddef.Handle(id)) })
	if e = t.commit(); e != nil {
		return e
	}

	tr.env.UnregisterDependent()
	logger.Info("tree deleted", zap.Stringer("id", id))
	return nil
}

// GroupInfo describes one group of a tree.
type GroupInfo struct {
	Units     []int           `json:"units"`
	UnitMasks []uint32        `json:"unitMasks"`
	Base      int             `json:"base"`
	Entries   []pcddef.Action `json:"entries"`
}

// EntryIndex returns the tree entry selected by the bit set of present units.
// The first unit of the group is the most significant bit of the index within the group.
func (g GroupInfo) EntryIndex(present uint32) int {
	index := 0
	for _, mask := range g.UnitMasks {
		index <<= 1
		if present&mask != 0 {
			index |= 1
		}
	}
	return g.Base + index
}

// TreeInfo describes a tree.
type TreeInfo struct {
	ID      pcddef.TreeID `json:"id"`
	ADTable pcddef.Addr   `json:"adTable"`
	Groups  []GroupInfo   `json:"groups"`
	Ports   []pcddef.Port `json:"ports"`
	Locked  bool          `json:"locked"`
	// LockOwner indicates the tree holds the locks taken by its own TryLockWholeSubtree,
	// which ReleaseLock on this tree releases.
	LockOwner bool `json:"lockOwner"`
}

// Owners returns the number of bound ports.
func (info TreeInfo) Owners() int {
	return len(info.Ports)
}

// TreeInfo returns information about a tree.
func (r *Registry) TreeInfo(id pcddef.TreeID) (info TreeInfo, e error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	tr, e := r.tree(id)
	if e != nil {
		return info, e
	}
	info = TreeInfo{
		ID:      tr.id,
		ADTable: tr.adTable,
		Ports:   tr.sortedPorts(),
		Locked:  tr.locked,

		LockOwner: tr.lockSet != nil,
	}
	for _, g := range tr.groups {
		gi := GroupInfo{
			Units:   append([]int(nil), g.units...),
			Base:    g.base,
			Entries: append([]pcddef.Action(nil), tr.entries[g.base:g.base+1<<len(g.units)]...),
		}
		for _, u := range g.units {
			gi.UnitMasks = append(gi.UnitMasks, tr.env.UnitMask(u))
		}
		info.Groups = append(info.Groups, gi)
	}
	return info, nil
}

// Trees lists trees.
func (r *Registry) Trees() (list []pcddef.TreeID) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.trees.each(func(h pcddef.Handle, tr *tree) {
		list = append(list, pcddef.TreeID(h))
	})
	return list
}
