// Package pcdad encodes and decodes action descriptor records.
package pcdad

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
)

// Record is one action descriptor: four big-endian words.
//
// Result record words: fqid, plcrProfile, nia, counter.
// Continue-lookup record words: ccAdBase, matchTblPtr, pcAndOffsets, gmask.
type Record [pcddef.ADSize]byte

// Word returns the i-th word.
func (r Record) Word(i int) uint32 {
	return binary.BigEndian.Uint32(r[4*i:])
}

// SetWord assigns the i-th word.
func (r *Record) SetWord(i int, v uint32) {
	binary.BigEndian.PutUint32(r[4*i:], v)
}

// IsContLookup determines whether the record is a continue-lookup record.
func (r Record) IsContLookup() bool {
	return r.Word(0)&TypeMask == TypeContLookup
}

// Counter returns the hit counter word of a result record.
func (r Record) Counter() uint32 {
	return r.Word(3)
}

func (r Record) String() string {
	return hex.EncodeToString(r[:])
}

// Word indices.
const (
	WordFqid = iota
	WordPlcrProfile
	WordNia
	WordCounter
)

// Continue-lookup word indices.
const (
	WordCcAdBase = iota
	WordMatchTblPtr
	WordPcAndOffsets
	WordGmask
)

// Type tag and result flags.
const (
	TypeMask       = 0xC0000000
	TypeContLookup = 0x40000000

	ResultControlFlow = 0x00000000
	ResultDataFlow    = 0x80000000
	ResultPlcrDis     = 0x20000000

	ResultExtendedMode = 0x80000000
	ResultStatisticsEn = 0x40000000
	ResultNaden        = 0x20000000

	ContLookupLclMask = 0x00800000

	ProfileIDShift = 16
)

// Next invoked action (nia) fields.
const (
	NiaEngMask  = 0x00FC0000
	NiaEngFmCtl = 0x00000000
	NiaEngKG    = 0x00480000
	NiaEngPlcr  = 0x004C0000
	NiaEngBMI   = 0x00500000

	NiaAcMask                = 0x0003FFFF
	NiaBmiEnqFrame           = 0x00000002
	NiaBmiDiscard            = 0x000000C1
	NiaBmiEnqFrameWithoutDMA = 0x00000202
	NiaKgDirect              = 0x00000100
	NiaPlcrAbsolute          = 0x00008000
	NiaFmCtlAcCC             = 0x00000006
)

// ManipLinkOffset is the offset of the continue-lookup record within a manipulation descriptor
// that continues lookup into a node.
const ManipLinkOffset = pcddef.ADSize

const (
	maxADTableAddr  = 1<<24 - 1
	maxKeyTableAddr = 1<<23 - 1
	maxManipAddr    = 0xFFFF << 4
)
