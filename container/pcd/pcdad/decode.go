package pcdad

import (
	"fmt"

	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
)

// Decoded is the logical content of a Record.
type Decoded struct {
	// ContLookup is set for continue-lookup records.
	ContLookup *ContLookup
	// Action is set for result records. Manip is never set; see ManipAddr.
	// A manipulation lookup record has Action.Engine EngineNode and no Node.
	Action pcddef.Action
	// ManipAddr is the attached manipulation descriptor.
	ManipAddr pcddef.Addr
	// WithoutDMA indicates an enqueue rewritten by RequireEnqueueWithoutDMA.
	WithoutDMA bool
	Counter    uint32
}

// Decode decodes a record.
func Decode(r Record) (d Decoded, e error) {
	if r.IsContLookup() {
		ccAdBase, matchTblPtr, pc := r.Word(WordCcAdBase), r.Word(WordMatchTblPtr), r.Word(WordPcAndOffsets)
		c := &ContLookup{
			ADTable:   pcddef.Addr(ccAdBase & maxADTableAddr),
			KeyTable:  pcddef.Addr(matchTblPtr & maxKeyTableAddr),
			NumKeys:   int(matchTblPtr >> 24),
			LocalMask: matchTblPtr&ContLookupLclMask != 0,
			ParseCode: pcddef.ParseCode(pc & 0xFFFF),
			Pr:        pcddef.PrOffset(pc >> 24),
			Offset:    uint8(pc >> 16),
		}
		if size := int(ccAdBase>>24) & 0x3F; size != 0 {
			c.KeySize = size + 1
		}
		copy(c.GlobalMask[:], r[4*WordGmask:])
		d.ContLookup = c
		return d, nil
	}

	fqid, plcrProfile, nia := r.Word(WordFqid), r.Word(WordPlcrProfile), r.Word(WordNia)
	act := &d.Action
	override := fqid&TypeMask == ResultControlFlow
	switch nia & NiaEngMask {
	case NiaEngFmCtl:
		if nia&NiaAcMask != NiaFmCtlAcCC || nia&ResultNaden == 0 {
			return d, fmt.Errorf("%w: unknown next engine 0x%08X", pcddef.ErrConfig, nia)
		}
		d.Action.Engine = pcddef.EngineNode
		d.ManipAddr = pcddef.Addr(plcrProfile&0xFFFF) << 4
		return d, nil
	case NiaEngBMI:
		act.Engine = pcddef.EngineDone
		switch nia & NiaAcMask {
		case NiaBmiDiscard:
			act.Drop, override = true, false
		case NiaBmiEnqFrame:
		case NiaBmiEnqFrameWithoutDMA:
			d.WithoutDMA = true
		default:
			return d, fmt.Errorf("%w: unknown BMI action 0x%X", pcddef.ErrConfig, nia&NiaAcMask)
		}
	case NiaEngKG:
		act.Engine = pcddef.EngineKeygen
		act.Scheme = uint8(nia)
	case NiaEngPlcr:
		act.Engine = pcddef.EnginePolicer
		act.Profile = uint16(nia & 0xFF)
		act.SharedProfile = nia&NiaPlcrAbsolute != 0
		if override && uint16(plcrProfile>>ProfileIDShift) != act.Profile {
			return d, fmt.Errorf("%w: policer profile mismatch", pcddef.ErrConfig)
		}
	default:
		return d, fmt.Errorf("%w: unknown next engine 0x%08X", pcddef.ErrConfig, nia)
	}

	if override {
		act.OverrideFqid, act.NewFqid = true, fqid&pcddef.MaxFqid
	}
	act.Statistics = nia&ResultStatisticsEn != 0
	if nia&ResultNaden != 0 {
		d.ManipAddr = pcddef.Addr(plcrProfile&0xFFFF) << 4
	}
	d.Counter = r.Word(WordCounter)
	return d, nil
}
