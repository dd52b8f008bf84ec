// Package pcddef declares common data structures for coarse classification.
package pcddef

import "errors"

// Hardware ABI constants.
const (
	// ADSize is the size of one action descriptor record.
	ADSize = 16
	// ADTableAlign is the alignment of an action descriptor table.
	ADTableAlign = 256
	// KeyTableAlign is the alignment of a key match table.
	KeyTableAlign = 16
	// ManipADAlign is the alignment of a manipulation descriptor.
	ManipADAlign = 16
	// GlobalMaskSize is the size of the mask carried in a continue-lookup record.
	GlobalMaskSize = 4

	// MaxKeySize is the maximum key size in octets.
	MaxKeySize = 56
	// MaxKeys is the maximum number of keys in a node.
	MaxKeys = 255

	// MaxGroups is the maximum number of groups in a tree.
	MaxGroups = 16
	// MaxUnitsPerGroup is the maximum number of distinction units tested by a group.
	MaxUnitsPerGroup = 4
	// MaxTreeEntries is the maximum number of entries across all groups of a tree.
	MaxTreeEntries = 16
	// MaxUnits is the maximum number of distinction units in a network environment.
	MaxUnits = 32

	// MaxFqid is the maximum frame queue ID.
	MaxFqid = 1<<24 - 1
	// MaxSchemes is the number of keygen schemes.
	MaxSchemes = 32
	// MaxPolicerProfiles is the number of policer profiles.
	MaxPolicerProfiles = 256
)

// Errors.
var (
	ErrConfig             = errors.New("invalid configuration")
	ErrCapacity           = errors.New("capacity exceeded")
	ErrNoMemory           = errors.New("out of memory")
	ErrInvalidState       = errors.New("invalid state")
	ErrBusy               = errors.New("busy")
	ErrConflictingBinding = errors.New("conflicting binding")
	ErrIndexRange         = errors.New("index out of range")
	ErrNotFound           = errors.New("not found")
)

// RequiredAction is a bit set of post-link actions demanded by a manipulation.
type RequiredAction uint32

// RequiredAction bits.
const (
	RequireEnqueueWithoutDMA RequiredAction = 1 << iota
)
