package pcddef

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	handleIndexBits = 20
	handleIndexMask = 1<<handleIndexBits - 1
	handleGenMask   = 1<<(32-handleIndexBits) - 1
)

// Handle is an arena reference: slot index in the low 20 bits, generation in the high 12 bits.
// Zero is never a valid handle.
type Handle uint32

// MakeHandle constructs a Handle.
func MakeHandle(index int, gen uint32) Handle {
	return Handle(uint32(index)&handleIndexMask | (gen&handleGenMask)<<handleIndexBits)
}

// Index returns the slot index.
func (h Handle) Index() int {
	return int(h & handleIndexMask)
}

// Gen returns the generation.
func (h Handle) Gen() uint32 {
	return uint32(h) >> handleIndexBits
}

func (h Handle) format(prefix string) string {
	return fmt.Sprintf("%s%d.%d", prefix, h.Index(), h.Gen())
}

func parseHandle(prefix, s string) (Handle, error) {
	s = strings.TrimPrefix(s, prefix)
	index, gen, ok := strings.Cut(s, ".")
	if !ok {
		return 0, fmt.Errorf("bad handle %q", s)
	}
	i, e := strconv.ParseUint(index, 10, handleIndexBits)
	if e != nil {
		return 0, e
	}
	g, e := strconv.ParseUint(gen, 10, 32-handleIndexBits)
	if e != nil {
		return 0, e
	}
	return MakeHandle(int(i), uint32(g)), nil
}

// NodeID identifies a classification node.
// It is encoded as text in JSON.
type NodeID Handle

func (id NodeID) String() string {
	return Handle(id).format("node")
}

// MarshalText implements encoding.TextMarshaler.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *NodeID) UnmarshalText(text []byte) (e error) {
	*id, e = ParseNodeID(string(text))
	return e
}

// ParseNodeID parses NodeID.String() output.
func ParseNodeID(s string) (NodeID, error) {
	h, e := parseHandle("node", s)
	return NodeID(h), e
}

// TreeID identifies a classification tree.
type TreeID Handle

func (id TreeID) String() string {
	return Handle(id).format("tree")
}

// MarshalText implements encoding.TextMarshaler.
func (id TreeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *TreeID) UnmarshalText(text []byte) (e error) {
	*id, e = ParseTreeID(string(text))
	return e
}

// ParseTreeID parses TreeID.String() output.
func ParseTreeID(s string) (TreeID, error) {
	h, e := parseHandle("tree", s)
	return TreeID(h), e
}

// ManipID identifies a manipulation.
type ManipID Handle

func (id ManipID) String() string {
	return Handle(id).format("manip")
}

// ParseManipID parses ManipID.String() output.
func ParseManipID(s string) (ManipID, error) {
	h, e := parseHandle("manip", s)
	return ManipID(h), e
}

// MarshalText implements encoding.TextMarshaler.
func (id ManipID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ManipID) UnmarshalText(text []byte) (e error) {
	*id, e = ParseManipID(string(text))
	return e
}

// Addr is an offset from the base of hardware memory.
type Addr uint32

func (a Addr) String() string {
	return fmt.Sprintf("0x%06X", uint32(a))
}
