package pcd

import (
	"fmt"

	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"go.uber.org/zap"
)

// nodeChange computes replacement tables for a node.
// It edits tb in place and returns the record sources for stageTables,
// plus the actions that were introduced and therefore need validation and linking.
type nodeChange func(n *node, tb *nodeTables) (sources []int, introduced []pcddef.Action, e error)

func identitySources(count int) []int {
	sources := make([]int, count)
	for i := range sources {
		sources[i] = i
	}
	return sources
}

// modifyNode rebuilds a node's tables under the locks of every tree that reaches the node.
func (r *Registry) modifyNode(id pcddef.NodeID, op string, change nodeChange) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	n, e := r.node(id)
	if e != nil {
		return e
	}
	if n.state != nodeLive {
		return fmt.Errorf("%w: %s is %s", pcddef.ErrInvalidState, id, n.state)
	}

	trees := r.treesOf(id)
	unlock, e := r.lockTrees(trees)
	if e != nil {
		return e
	}
	defer unlock()

	tb := n.nodeTables
	tb.keys = append([]keyEntry(nil), n.keys...)
	sources, introduced, e := change(n, &tb)
	if e != nil {
		return e
	}
	for _, act := range introduced {
		if e = r.validateAction(act); e != nil {
			return e
		}
	}
	if e = r.checkLinks(trees, id, introduced...); e != nil {
		return e
	}
	below := r.treesBelow(introduced...)
	trees.Each(below.Remove)
	unlockBelow, e := r.lockTrees(below)
	if e != nil {
		return e
	}
	defer unlockBelow()

	n.state = nodeModifying
	defer func() { n.state = nodeLive }()

	t := r.begin()
	defer t.rollback()
	if e = t.stageChildren(n.required, introduced...); e != nil {
		return e
	}
	if e = t.stageBoundPorts(trees, introduced...); e != nil {
		return e
	}
	oldActs := n.actions()
	if e = t.stageTables(n, &tb, sources); e != nil {
		return e
	}
	t.stageNodeLinks(n, oldActs, tb.actions())
	if e = t.commit(); e != nil {
		return e
	}

	logger.Info(op,
		zap.Stringer("id", id),
		zap.Int("keys", len(n.keys)),
		zap.Bool("local-mask", n.layout.Local),
		zap.Stringer("key-table", n.keyTable),
		zap.Stringer("ad-table", n.adTable),
	)
	return nil
}

func (n *node) checkKeyModifiable() error {
	if n.res.FixedKey != nil {
		return fmt.Errorf("%w: keys of %s node cannot be modified", pcddef.ErrInvalidState, n.ex.Field)
	}
	return nil
}

func checkKeyIndex(index, count int) error {
	if index < 0 || index >= count {
		return fmt.Errorf("%w: key %d of %d", pcddef.ErrIndexRange, index, count)
	}
	return nil
}

// AddKey inserts a key at index, shifting later keys.
func (r *Registry) AddKey(id pcddef.NodeID, index int, kp KeyParams) error {
	return r.modifyNode(id, "key added", func(n *node, tb *nodeTables) (sources []int, introduced []pcddef.Action, e error) {
		if e = n.checkKeyModifiable(); e != nil {
			return
		}
		nKeys := len(tb.keys)
		if index < 0 || index > nKeys {
			return nil, nil, fmt.Errorf("%w: insert position %d of %d", pcddef.ErrIndexRange, index, nKeys)
		}
		if nKeys+1 > r.cfg.MaxKeys {
			return nil, nil, fmt.Errorf("%w: node already has %d keys", pcddef.ErrCapacity, nKeys)
		}

		ke, e := n.makeKey(&tb.masks, kp)
		if e != nil {
			return nil, nil, e
		}
		tb.keys = append(tb.keys[:index], append([]keyEntry{ke}, tb.keys[index:]...)...)
		if e = checkCollisions(tb.keys); e != nil {
			return nil, nil, e
		}

		sources = make([]int, nKeys+2)
		for i := range sources {
			switch {
			case i < index:
				sources[i] = i
			case i == index:
				sources[i] = -1
			default:
				sources[i] = i - 1
			}
		}
		return sources, []pcddef.Action{kp.Action}, nil
	})
}

// RemoveKey removes the key at index, shifting later keys.
func (r *Registry) RemoveKey(id pcddef.NodeID, index int) error {
	return r.modifyNode(id, "key removed", func(n *node, tb *nodeTables) (sources []int, introduced []pcddef.Action, e error) {
		if e = n.checkKeyModifiable(); e != nil {
			return
		}
		nKeys := len(tb.keys)
		if e = checkKeyIndex(index, nKeys); e != nil {
			return
		}

		tb.keys = append(tb.keys[:index], tb.keys[index+1:]...)
		sources = make([]int, nKeys)
		for i := range sources {
			if i < index {
				sources[i] = i
			} else {
				sources[i] = i + 1
			}
		}
		return sources, nil, nil
	})
}

// ModifyKey replaces the key and mask at index, keeping its action and counter.
func (r *Registry) ModifyKey(id pcddef.NodeID, index int, key, mask []byte) error {
	return r.modifyNode(id, "key modified", func(n *node, tb *nodeTables) (sources []int, introduced []pcddef.Action, e error) {
		if e = n.checkKeyModifiable(); e != nil {
			return
		}
		if e = checkKeyIndex(index, len(tb.keys)); e != nil {
			return
		}

		ke, e := n.makeKey(&tb.masks, KeyParams{Key: key, Mask: mask, Action: tb.keys[index].action})
		if e != nil {
			return nil, nil, e
		}
		tb.keys[index] = ke
		if e = checkCollisions(tb.keys); e != nil {
			return nil, nil, e
		}
		return identitySources(len(tb.keys) + 1), nil, nil
	})
}

// ModifyKeyAndNextEngine replaces the key, mask, and action at index.
func (r *Registry) ModifyKeyAndNextEngine(id pcddef.NodeID, index int, kp KeyParams) error {
	return r.modifyNode(id, "key and next engine modified", func(n *node, tb *nodeTables) (sources []int, introduced []pcddef.Action, e error) {
		if e = n.checkKeyModifiable(); e != nil {
			return
		}
		if e = checkKeyIndex(index, len(tb.keys)); e != nil {
			return
		}

		ke, e := n.makeKey(&tb.masks, kp)
		if e != nil {
			return nil, nil, e
		}
		tb.keys[index] = ke
		if e = checkCollisions(tb.keys); e != nil {
			return nil, nil, e
		}
		sources = identitySources(len(tb.keys) + 1)
		sources[index] = -1
		return sources, []pcddef.Action{kp.Action}, nil
	})
}

// ModifyNextEngine replaces the action of the key at index.
func (r *Registry) ModifyNextEngine(id pcddef.NodeID, index int, act pcddef.Action) error {
	return r.modifyNode(id, "next engine modified", func(n *node, tb *nodeTables) (sources []int, introduced []pcddef.Action, e error) {
		if e = checkKeyIndex(index, len(tb.keys)); e != nil {
			return
		}
		tb.keys[index].action = act
		sources = identitySources(len(tb.keys) + 1)
		sources[index] = -1
		return sources, []pcddef.Action{act}, nil
	})
}

// ModifyMissNextEngine replaces the miss action.
func (r *Registry) ModifyMissNextEngine(id pcddef.NodeID, act pcddef.Action) error {
	return r.modifyNode(id, "miss next engine modified", func(n *node, tb *nodeTables) (sources []int, introduced []pcddef.Action, e error) {
		tb.miss = act
		sources = identitySources(len(tb.keys) + 1)
		sources[len(tb.keys)] = -1
		return sources, []pcddef.Action{act}, nil
	})
}
