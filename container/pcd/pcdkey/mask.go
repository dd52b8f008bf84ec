package pcdkey

import (
	"bytes"
	"fmt"

	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
)

// MaskState tracks the global/local mask decision of a node.
//
// A node starts in global mode. The first mask of a key of at most GlobalMaskSize octets becomes the global mask.
// A differing mask, a non-trivial mask on a longer key, or a non-trivial mask where the extraction forbids a global mask
// switches the node to local mode, which is permanent.
// A missing mask means all octets are compared.
type MaskState struct {
	keySize int
	allowed bool
	global  []byte
	local   bool
}

// NewMaskState creates a MaskState.
func NewMaskState(keySize int, globalAllowed bool) MaskState {
	return MaskState{keySize: keySize, allowed: globalAllowed && keySize <= pcddef.GlobalMaskSize}
}

// Update folds one key's mask into the decision and returns the effective mask.
// MaskState is a value; callers update a copy and keep it only if the operation succeeds.
func (ms *MaskState) Update(mask []byte) (effective []byte, e error) {
	if mask == nil {
		effective = AllOnes(ms.keySize)
	} else if len(mask) != ms.keySize {
		return nil, fmt.Errorf("%w: mask size %d differs from key size %d", pcddef.ErrConfig, len(mask), ms.keySize)
	} else {
		effective = append([]byte(nil), mask...)
	}

	switch {
	case ms.local:
	case !ms.allowed:
		ms.local = !bytes.Equal(effective, AllOnes(ms.keySize))
	case ms.global == nil:
		ms.global = effective
	case !bytes.Equal(ms.global, effective):
		ms.local = true
	}
	return effective, nil
}

// Local determines whether the node uses per-key masks.
func (ms MaskState) Local() bool {
	return ms.local
}

// Masked determines whether any octet of any key is masked.
func (ms MaskState) Masked() bool {
	return ms.local || (ms.global != nil && !bytes.Equal(ms.global, AllOnes(ms.keySize)))
}

// GlobalMask returns the mask placed in continue-lookup records.
// It is all ones in local mode or when there is no global mask.
func (ms MaskState) GlobalMask() (m [pcddef.GlobalMaskSize]byte) {
	copy(m[:], AllOnes(pcddef.GlobalMaskSize))
	if !ms.local && ms.global != nil {
		copy(m[:], ms.global)
	}
	return m
}
