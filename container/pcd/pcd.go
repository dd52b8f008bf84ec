// Package pcd compiles coarse classification nodes and trees into action descriptor tables.
//
// A Registry owns every node, tree, and manipulation, addressed by generation-checked handles.
// The logical graph (actions, back-references, owners) lives in Go memory; the binary tables live in pcddef.Memory
// and are derived from the logical graph whenever a link is made.
// Every modification builds replacement tables in fresh memory, repoints live ancestor records, and frees the old
// tables last, so that a concurrent hardware reader only ever observes complete tables.
package pcd

import (
	"sync"
	"sync/atomic"

	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"github.com/fmpcd/fmpcd/core/logging"
	"go.uber.org/zap"
)

var logger = logging.New("pcd")

// Option customizes a Registry.
type Option func(r *Registry)

// WithApplier pushes every committed write to a live device.
func WithApplier(applier pcddef.Applier) Option {
	return func(r *Registry) {
		r.applier = applier
	}
}

// Registry holds classification nodes, trees, and manipulations.
// It is safe for concurrent use.
type Registry struct {
	mutex   sync.Mutex
	mem     pcddef.Memory
	applier pcddef.Applier
	cfg     pcddef.Config

	nodes  arena[*node]
	trees  arena[*tree]
	manips arena[*manip]

	generation atomic.Uint64
}

// New creates a Registry.
func New(mem pcddef.Memory, cfg pcddef.Config, opts ...Option) *Registry {
	cfg.ApplyDefaults()
	r := &Registry{
		mem: mem,
		cfg: cfg,
	}
	for _, opt := range opts {
		opt(r)
	}
	logger.Info("registry created", zap.Int("max-keys", cfg.MaxKeys), zap.Bool("applier", r.applier != nil))
	return r
}

// Memory returns the memory backing the tables.
func (r *Registry) Memory() pcddef.Memory {
	return r.mem
}

// Generation returns a counter that increments after every committed modification.
// Readers that cache lookup results should discard them when it changes.
func (r *Registry) Generation() uint64 {
	return r.generation.Load()
}

// Counts returns the number of live nodes, trees, and manipulations.
func (r *Registry) Counts() (nNodes, nTrees, nManips int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.nodes.len(), r.trees.len(), r.manips.len()
}
