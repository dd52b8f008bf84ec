package pcdad

import (
	"fmt"

	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
)

// EncodeResult encodes a terminal action into a result record.
// manip is the address of the attached manipulation descriptor, or zero.
func EncodeResult(act pcddef.Action, manip pcddef.Addr, required pcddef.RequiredAction) (r Record, e error) {
	if e = act.Validate(); e != nil {
		return r, e
	}
	if act.Engine == pcddef.EngineNode {
		return r, fmt.Errorf("%w: node engine needs a continue-lookup record", pcddef.ErrConfig)
	}
	if manip%pcddef.ManipADAlign != 0 || manip > maxManipAddr {
		return r, fmt.Errorf("%w: manipulation descriptor %s not addressable", pcddef.ErrConfig, manip)
	}

	var fqid, plcrProfile, nia uint32
	if act.OverrideFqid {
		fqid = ResultControlFlow | act.NewFqid
	}

	switch act.Engine {
	case pcddef.EngineDone:
		switch {
		case act.Drop:
			nia = NiaEngBMI | NiaBmiDiscard
		default:
			if !act.OverrideFqid {
				fqid = ResultDataFlow | ResultPlcrDis
			}
			nia = NiaEngBMI | NiaBmiEnqFrame
		}
	case pcddef.EngineKeygen:
		if !act.OverrideFqid {
			fqid = ResultDataFlow | ResultPlcrDis
		}
		nia = NiaKgDirect | NiaEngKG | uint32(act.Scheme)
	case pcddef.EnginePolicer:
		if act.OverrideFqid {
			plcrProfile = uint32(act.Profile) << ProfileIDShift
		} else {
			fqid = ResultDataFlow
		}
		if act.SharedProfile {
			nia |= NiaPlcrAbsolute
		}
		nia |= NiaEngPlcr | uint32(act.Profile)
	}

	if act.Statistics {
		nia |= ResultExtendedMode | ResultStatisticsEn
	}
	if manip != 0 {
		plcrProfile |= uint32(manip) >> 4
		nia |= ResultExtendedMode | ResultNaden
	}

	r.SetWord(WordFqid, fqid)
	r.SetWord(WordPlcrProfile, plcrProfile)
	r.SetWord(WordNia, nia)
	if e = ApplyRequired(&r, required); e != nil {
		return Record{}, e
	}
	return r, nil
}

// EncodeManipLookup encodes a record that executes a manipulation and then continues lookup.
// The continue-lookup record lives in the manipulation descriptor at ManipLinkOffset.
func EncodeManipLookup(manip pcddef.Addr) (r Record, e error) {
	if manip == 0 || manip%pcddef.ManipADAlign != 0 || manip > maxManipAddr {
		return r, fmt.Errorf("%w: manipulation descriptor %s not addressable", pcddef.ErrConfig, manip)
	}
	r.SetWord(WordPlcrProfile, uint32(manip)>>4)
	r.SetWord(WordNia, ResultExtendedMode|ResultNaden|NiaEngFmCtl|NiaFmCtlAcCC)
	return r, nil
}

// ContLookup describes a continue-lookup record.
type ContLookup struct {
	ADTable  pcddef.Addr `json:"adTable"`
	KeyTable pcddef.Addr `json:"keyTable"`
	NumKeys  int         `json:"numKeys"`
	// KeySize is zero for full-field nodes, whose key size follows from the parse code.
	KeySize   int              `json:"keySize"`
	LocalMask bool             `json:"localMask"`
	ParseCode pcddef.ParseCode `json:"parseCode"`
	Pr        pcddef.PrOffset  `json:"pr"`
	Offset    uint8            `json:"offset"`
	// GlobalMask is 0xFFFFFFFF when the node has no global mask.
	GlobalMask [pcddef.GlobalMaskSize]byte `json:"globalMask"`
}

// EncodeContLookup encodes a continue-lookup record that points to a child node's tables.
func EncodeContLookup(c ContLookup) (r Record, e error) {
	switch {
	case c.ADTable > maxADTableAddr || c.ADTable%pcddef.ADTableAlign != 0:
		return r, fmt.Errorf("%w: AD table %s not addressable", pcddef.ErrConfig, c.ADTable)
	case c.KeyTable > maxKeyTableAddr || c.KeyTable%pcddef.KeyTableAlign != 0:
		return r, fmt.Errorf("%w: key table %s not addressable", pcddef.ErrConfig, c.KeyTable)
	case c.NumKeys < 0 || c.NumKeys > pcddef.MaxKeys:
		return r, fmt.Errorf("%w: %d keys", pcddef.ErrCapacity, c.NumKeys)
	case c.KeySize < 0 || c.KeySize > pcddef.MaxKeySize:
		return r, fmt.Errorf("%w: key size %d", pcddef.ErrConfig, c.KeySize)
	}

	ccAdBase := TypeContLookup | uint32(c.ADTable)
	if c.KeySize != 0 {
		ccAdBase |= uint32(c.KeySize-1) << 24
	}
	matchTblPtr := uint32(c.NumKeys)<<24 | uint32(c.KeyTable)
	if c.LocalMask {
		matchTblPtr |= ContLookupLclMask
	}

	r.SetWord(WordCcAdBase, ccAdBase)
	r.SetWord(WordMatchTblPtr, matchTblPtr)
	r.SetWord(WordPcAndOffsets, uint32(c.Pr)<<24|uint32(c.Offset)<<16|uint32(c.ParseCode))
	copy(r[4*WordGmask:], c.GlobalMask[:])
	return r, nil
}

// ApplyRequired applies required-action bits to a result record in place.
// Continue-lookup records are unchanged; callers propagate into the child node.
func ApplyRequired(r *Record, required pcddef.RequiredAction) error {
	if required&pcddef.RequireEnqueueWithoutDMA == 0 || r.IsContLookup() {
		return nil
	}

	nia := r.Word(WordNia)
	switch nia & NiaEngMask {
	case NiaEngBMI:
		switch nia & NiaAcMask {
		case NiaBmiDiscard, NiaBmiEnqFrameWithoutDMA:
		case NiaBmiEnqFrame:
			r.SetWord(WordNia, nia|NiaBmiEnqFrameWithoutDMA)
		default:
			return fmt.Errorf("%w: next engine was not assigned as done", pcddef.ErrInvalidState)
		}
	case NiaEngKG:
		if nia&NiaKgDirect == 0 {
			return fmt.Errorf("%w: keygen scheme must be direct", pcddef.ErrInvalidState)
		}
	case NiaEngPlcr:
		if r.Word(WordFqid)&TypeMask != ResultControlFlow || nia&NiaPlcrAbsolute == 0 {
			return fmt.Errorf("%w: policer must override with a shared profile", pcddef.ErrInvalidState)
		}
	case NiaEngFmCtl:
		if nia&NiaAcMask != NiaFmCtlAcCC {
			return fmt.Errorf("%w: unknown next engine", pcddef.ErrInvalidState)
		}
	default:
		return fmt.Errorf("%w: unknown next engine", pcddef.ErrInvalidState)
	}
	return nil
}
