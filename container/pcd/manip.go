package pcd

import (
	"fmt"

	"github.com/fmpcd/fmpcd/container/pcd/pcdad"
	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"go.uber.org/zap"
)

// ManipKind identifies a manipulation kind.
type ManipKind string

// ManipKind values.
const (
	// ManipRemoveHeader removes Size octets at Offset before enqueue.
	ManipRemoveHeader ManipKind = "removeHeader"
	// ManipInsertInternal inserts Size octets of internal context at Offset.
	ManipInsertInternal ManipKind = "insertInternal"
	// ManipFragment fragments frames longer than MTU into buffers of the receiving port's pool.
	ManipFragment ManipKind = "fragment"
	// ManipPrsResultToPrefix copies the parse result into the buffer prefix before the next lookup.
	ManipPrsResultToPrefix ManipKind = "prsResultToPrefix"
	// ManipStatistics counts frames in the manipulation descriptor.
	ManipStatistics ManipKind = "statistics"
)

// ManipKinds lists valid ManipKind values.
var ManipKinds = []ManipKind{ManipRemoveHeader, ManipInsertInternal, ManipFragment, ManipPrsResultToPrefix, ManipStatistics}

type manipKindInfo struct {
	code    uint8
	engines []pcddef.Engine
	// required is OR'ed into the record that carries the manipulation.
	required pcddef.RequiredAction
	// propagate is OR'ed into every record of the child subtree.
	propagate pcddef.RequiredAction
	// portField extracts the port-dependent parameter; nil if the kind does not depend on the port.
	portField func(port pcddef.Port) int
}

// continuesLookup determines whether the kind is executed between a record and the next node.
// Such a descriptor is followed by a continue-lookup record at pcdad.ManipLinkOffset.
func (info manipKindInfo) continuesLookup() bool {
	for _, eng := range info.engines {
		if eng == pcddef.EngineNode {
			return true
		}
	}
	return false
}

var manipKinds = map[ManipKind]manipKindInfo{
	ManipRemoveHeader: {
		code:     1,
		engines:  []pcddef.Engine{pcddef.EngineDone},
		required: pcddef.RequireEnqueueWithoutDMA,
	},
	ManipInsertInternal: {
		code:    2,
		engines: []pcddef.Engine{pcddef.EngineDone, pcddef.EngineKeygen, pcddef.EnginePolicer},
	},
	ManipFragment: {
		code:      3,
		engines:   []pcddef.Engine{pcddef.EngineDone},
		portField: func(port pcddef.Port) int { return int(port.BufferPool) },
	},
	ManipPrsResultToPrefix: {
		code:      4,
		engines:   []pcddef.Engine{pcddef.EngineNode},
		propagate: pcddef.RequireEnqueueWithoutDMA,
		portField: func(port pcddef.Port) int { return int(port.PrsResultOffset) },
	},
	ManipStatistics: {
		code:    5,
		engines: []pcddef.Engine{pcddef.EngineDone},
	},
}

// Minimum MTU of ManipFragment.
const MinFragmentMTU = 256

// ManipParams contains manipulation parameters.
type ManipParams struct {
	Kind   ManipKind `json:"kind"`
	Offset uint8     `json:"offset,omitempty"`
	Size   uint8     `json:"size,omitempty"`
	MTU    uint16    `json:"mtu,omitempty"`
}

// Validate checks the parameters.
func (p ManipParams) Validate() error {
	if _, ok := manipKinds[p.Kind]; !ok {
		return fmt.Errorf("%w: unknown manipulation kind %q", pcddef.ErrConfig, p.Kind)
	}
	switch p.Kind {
	case ManipRemoveHeader, ManipInsertInternal:
		if p.Size == 0 {
			return fmt.Errorf("%w: %s needs a size", pcddef.ErrConfig, p.Kind)
		}
	case ManipFragment:
		if p.MTU < MinFragmentMTU {
			return fmt.Errorf("%w: fragment MTU %d below %d", pcddef.ErrConfig, p.MTU, MinFragmentMTU)
		}
	}
	return nil
}

// Manipulation descriptor layout.
const (
	manipFlagPortValid = 0x00000001
	manipWordKind      = 0
	manipWordParams    = 1
	manipWordPort      = 2
)

type manip struct {
	id     pcddef.ManipID
	params ManipParams
	info   manipKindInfo
	ad     pcddef.Addr
	owners int
	port   *pcddef.Port
	// next is the node that the descriptor's continue-lookup record points to.
	next pcddef.NodeID
}

func (m *manip) descriptor(port *pcddef.Port) (rec pcdad.Record) {
	word0 := uint32(m.info.code) << 24
	if port != nil {
		word0 |= manipFlagPortValid
		rec.SetWord(manipWordPort, uint32(port.PrsResultOffset)<<24|uint32(port.BufferPool)<<16)
	}
	rec.SetWord(manipWordKind, word0)
	rec.SetWord(manipWordParams, uint32(m.params.Offset)<<24|uint32(m.params.Size)<<16|uint32(m.params.MTU))
	return rec
}

// checkAction determines whether act may carry this manipulation.
func (m *manip) checkAction(act pcddef.Action) error {
	for _, eng := range m.info.engines {
		if act.Engine == eng {
			return nil
		}
	}
	return fmt.Errorf("%w: %s cannot be attached to %s engine", pcddef.ErrConfig, m.params.Kind, act.Engine)
}

// stageLink points the descriptor's continue-lookup record at child.
// All records carrying the manipulation must continue lookup into the same node.
func (t *txn) stageLink(m *manip, child pcddef.NodeID, cl pcdad.Record) error {
	next, ok := t.links[m.id]
	if !ok && m.owners > 0 {
		next, ok = m.next, true
	}
	if ok && next != child {
		return fmt.Errorf("%w: %s already continues lookup into %s", pcddef.ErrConfig, m.id, next)
	}
	t.links[m.id] = child
	if e := t.patch(m.ad+pcdad.ManipLinkOffset, cl[:]); e != nil {
		return e
	}
	t.onCommit(func() { m.next = child })
	return nil
}

// checkPort determines whether port is consistent with an earlier binding.
func (m *manip) checkPort(bound *pcddef.Port, port pcddef.Port) error {
	if bound == nil || m.info.portField == nil {
		return nil
	}
	if have, want := m.info.portField(*bound), m.info.portField(port); have != want {
		return fmt.Errorf("%w: %s bound to port %d with parameter %d, port %d needs %d",
			pcddef.ErrConflictingBinding, m.id, bound.ID, have, port.ID, want)
	}
	return nil
}

// stagePort checks port against the bound port, and records port on first binding.
func (t *txn) stagePort(m *manip, port pcddef.Port, validateOnly bool) error {
	bound := m.port
	if pending, ok := t.ports[m.id]; ok {
		bound = &pending
	}
	if e := m.checkPort(bound, port); e != nil {
		return e
	}
	if validateOnly || bound != nil {
		return nil
	}

	t.ports[m.id] = port
	rec := m.descriptor(&port)
	if e := t.patch(m.ad, rec[:]); e != nil {
		return e
	}
	t.onCommit(func() { m.port = &port })
	return nil
}

func (r *Registry) manip(id pcddef.ManipID) (*manip, error) {
	m, ok := r.manips.get(pcddef.Handle(id))
	if !ok {
		return nil, fmt.Errorf("%w: %s", pcddef.ErrNotFound, id)
	}
	return m, nil
}

// CreateManip creates a manipulation.
func (r *Registry) CreateManip(params ManipParams) (id pcddef.ManipID, e error) {
	if e = params.Validate(); e != nil {
		return 0, e
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	m := &manip{params: params, info: manipKinds[params.Kind]}
	t := r.begin()
	defer t.rollback()
	rec := m.descriptor(nil)
	desc := rec[:]
	if m.info.continuesLookup() {
		desc = append(desc, make([]byte, pcdad.ManipLinkOffset+pcddef.ADSize-len(desc))...)
	}
	if m.ad, e = t.alloc(desc, pcddef.ManipADAlign); e != nil {
		return 0, e
	}
	if e = t.commit(); e != nil {
		return 0, e
	}

	m.id = pcddef.ManipID(r.manips.insert(m))
	logger.Info("manip created", zap.Stringer("id", m.id), zap.String("kind", string(params.Kind)), zap.Stringer("ad", m.ad))
	return m.id, nil
}

// DeleteManip deletes a manipulation.
// It fails while any record refers to it.
func (r *Registry) DeleteManip(id pcddef.ManipID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	m, e := r.manip(id)
	if e != nil {
		return e
	}
	if m.owners != 0 {
		return fmt.Errorf("%w: %s is referenced by %d records", pcddef.ErrInvalidState, id, m.owners)
	}

	t := r.begin()
	defer t.rollback()
	t.free(m.ad)
	t.onCommit(func() { r.manips.remove(pcddef.Handle(id)) })
	if e = t.commit(); e != nil {
		return e
	}
	logger.Info("manip deleted", zap.Stringer("id", id))
	return nil
}

// UpdateManipulation fills port-dependent parameters of a manipulation on its first binding.
// If validateOnly is true, it only checks that port is consistent with an earlier binding.
// A manipulation already bound with a different port-dependent parameter fails with ErrConflictingBinding.
func (r *Registry) UpdateManipulation(port pcddef.Port, id pcddef.ManipID, validateOnly bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	m, e := r.manip(id)
	if e != nil {
		return e
	}

	t := r.begin()
	defer t.rollback()
	if e = t.stagePort(m, port, validateOnly); e != nil {
		return e
	}
	return t.commit()
}

// ManipInfo describes a manipulation.
type ManipInfo struct {
	ID     pcddef.ManipID `json:"id"`
	Params ManipParams    `json:"params"`
	AD     pcddef.Addr    `json:"ad"`
	Owners int            `json:"owners"`
	Port   *pcddef.Port   `json:"port,omitempty"`
	// Next is the node into which lookup continues after the manipulation.
	Next pcddef.NodeID `json:"next,omitempty"`
}

// ManipInfo returns information about a manipulation.
func (r *Registry) ManipInfo(id pcddef.ManipID) (info ManipInfo, e error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	m, e := r.manip(id)
	if e != nil {
		return info, e
	}
	info = ManipInfo{
		ID:     m.id,
		Params: m.params,
		AD:     m.ad,
		Owners: m.owners,
	}
	if m.owners > 0 {
		info.Next = m.next
	}
	if m.port != nil {
		port := *m.port
		info.Port = &port
	}
	return info, nil
}

// Manips lists manipulations.
func (r *Registry) Manips() (list []pcddef.ManipID) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.manips.each(func(h pcddef.Handle, m *manip) {
		list = append(list, pcddef.ManipID(h))
	})
	return list
}
