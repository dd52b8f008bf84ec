package pcd

import (
	"fmt"

	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"github.com/zyedidia/generic/mapset"
	"go.uber.org/zap"
)

// lockTrees acquires the logical locks of trees without waiting.
// If any lock is held, it releases the locks it acquired and fails with ErrBusy.
func (r *Registry) lockTrees(ids mapset.Set[pcddef.TreeID]) (unlock func(), e error) {
	var locked []*tree
	unlock = func() {
		for _, tr := range locked {
			tr.locked = false
		}
	}

	ids.Each(func(id pcddef.TreeID) {
		tr, ok := r.trees.get(pcddef.Handle(id))
		if e != nil || !ok {
			return
		}
		if tr.locked {
			e = fmt.Errorf("%w: %s is locked", pcddef.ErrBusy, id)
			return
		}
		tr.locked = true
		locked = append(locked, tr)
	})

	if e != nil {
		unlock()
		return nil, e
	}
	return unlock, nil
}

// TryLockWholeSubtree locks the tree and every tree that shares a node with it.
// It never waits: if any of these locks is held, no lock is taken and it fails with ErrBusy.
// While locked, modifications of the tree or any node reachable from it fail with ErrBusy.
func (r *Registry) TryLockWholeSubtree(id pcddef.TreeID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	tr, e := r.tree(id)
	if e != nil {
		return e
	}
	ids := mapset.Of(id)
	for _, n := range r.subgraph(tr.entries...) {
		r.treesOf(n.id).Each(ids.Put)
	}
	if _, e = r.lockTrees(ids); e != nil {
		return e
	}

	tr.lockSet = nil
	ids.Each(func(id pcddef.TreeID) { tr.lockSet = append(tr.lockSet, id) })
	logger.Debug("subtree locked", zap.Stringer("id", id), zap.Int("trees", len(tr.lockSet)))
	return nil
}

// ReleaseLock releases the locks taken by TryLockWholeSubtree.
func (r *Registry) ReleaseLock(id pcddef.TreeID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	tr, e := r.tree(id)
	if e != nil {
		return e
	}
	if tr.lockSet == nil {
		return fmt.Errorf("%w: %s is not locked by TryLockWholeSubtree", pcddef.ErrInvalidState, id)
	}
	for _, other := range tr.lockSet {
		if o, ok := r.trees.get(pcddef.Handle(other)); ok {
			o.locked = false
		}
	}
	tr.lockSet = nil
	logger.Debug("subtree unlocked", zap.Stringer("id", id))
	return nil
}
