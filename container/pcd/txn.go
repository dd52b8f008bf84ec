package pcd

import (
	"errors"
	"fmt"

	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// txn is a prepared modification.
//
// Staging allocates and fills fresh tables, which no live record points to yet.
// Commit pushes fresh tables, then patches live records in order, then updates logical state, then frees old tables.
// Rollback releases fresh tables; live memory is untouched until commit.
type txn struct {
	r       *Registry
	fresh   []region
	patches []patch
	frees   []pcddef.Addr
	commits []func()
	done    bool

	required map[pcddef.NodeID]pcddef.RequiredAction
	ports    map[pcddef.ManipID]pcddef.Port
	links    map[pcddef.ManipID]pcddef.NodeID
}

type region struct {
	addr pcddef.Addr
	data []byte
}

type patch struct {
	addr     pcddef.Addr
	old, new []byte
}

func (r *Registry) begin() *txn {
	return &txn{
		r:        r,
		required: map[pcddef.NodeID]pcddef.RequiredAction{},
		ports:    map[pcddef.ManipID]pcddef.Port{},
		links:    map[pcddef.ManipID]pcddef.NodeID{},
	}
}

// alloc allocates fresh memory and fills it with data.
func (t *txn) alloc(data []byte, align int) (pcddef.Addr, error) {
	addr, e := t.r.mem.Alloc(len(data), align)
	if e != nil {
		if !errors.Is(e, pcddef.ErrNoMemory) {
			e = fmt.Errorf("%w: %v", pcddef.ErrNoMemory, e)
		}
		return 0, e
	}
	t.fresh = append(t.fresh, region{addr, data})
	if e = t.r.mem.Write(addr, data); e != nil {
		return 0, e
	}
	return addr, nil
}

// patch stages an in-place write into a live table.
func (t *txn) patch(addr pcddef.Addr, data []byte) error {
	old := make([]byte, len(data))
	if e := t.r.mem.Read(addr, old); e != nil {
		return e
	}
	t.patches = append(t.patches, patch{addr, old, append([]byte(nil), data...)})
	return nil
}

// free stages releasing an old table after commit.
func (t *txn) free(addr pcddef.Addr) {
	t.frees = append(t.frees, addr)
}

// onCommit stages a logical state update.
func (t *txn) onCommit(fn func()) {
	t.commits = append(t.commits, fn)
}

func (t *txn) write(addr pcddef.Addr, data []byte) error {
	if e := t.r.mem.Write(addr, data); e != nil {
		return e
	}
	if t.r.applier != nil {
		return t.r.applier.Apply(addr, data)
	}
	return nil
}

func (t *txn) commit() error {
	if t.r.applier != nil {
		for _, rg := range t.fresh {
			if e := t.r.applier.Apply(rg.addr, rg.data); e != nil {
				return t.unwind(e)
			}
		}
	}

	for i, p := range t.patches {
		if e := t.write(p.addr, p.new); e != nil {
			for j := i; j >= 0; j-- {
				e = multierr.Append(e, t.write(t.patches[j].addr, t.patches[j].old))
			}
			return t.unwind(e)
		}
	}

	for _, fn := range t.commits {
		fn()
	}

	var freeErr error
	for _, addr := range t.frees {
		freeErr = multierr.Append(freeErr, t.r.mem.Free(addr))
	}
	if freeErr != nil {
		logger.Error("free old tables error", zap.Error(freeErr))
	}

	t.done = true
	gen := t.r.generation.Add(1)
	logger.Debug("transaction committed",
		zap.Uint64("generation", gen),
		zap.Int("fresh", len(t.fresh)),
		zap.Int("patches", len(t.patches)),
		zap.Int("freed", len(t.frees)),
	)
	return nil
}

func (t *txn) unwind(e error) error {
	logger.Warn("transaction unwound", zap.Error(e))
	return multierr.Append(e, t.discard())
}

func (t *txn) discard() (e error) {
	t.done = true
	for _, rg := range t.fresh {
		e = multierr.Append(e, t.r.mem.Free(rg.addr))
	}
	t.fresh = nil
	return e
}

// rollback discards an uncommitted transaction.
// It is deferred by every operation and does nothing after commit.
func (t *txn) rollback() {
	if t.done {
		return
	}
	if len(t.fresh) > 0 {
		logger.Debug("transaction discarded", zap.Int("fresh", len(t.fresh)))
	}
	if e := t.discard(); e != nil {
		logger.Warn("discard error", zap.Error(e))
	}
}
