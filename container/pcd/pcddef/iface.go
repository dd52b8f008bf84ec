package pcddef

// Memory is the hardware memory pool backing key and action descriptor tables.
type Memory interface {
	// Alloc allocates size octets aligned to align.
	Alloc(size, align int) (Addr, error)
	// Free releases an allocation made by Alloc.
	Free(addr Addr) error
	// Read copies len(p) octets at addr into p.
	Read(addr Addr, p []byte) error
	// Write copies p into memory at addr.
	Write(addr Addr, p []byte) error
}

// Applier pushes written bytes to a live device in a split control/data-plane deployment.
type Applier interface {
	Apply(addr Addr, p []byte) error
}

// NetEnv is the network environment a tree depends on.
type NetEnv interface {
	// RegisterDependent records one more tree depending on the environment.
	RegisterDependent()
	// UnregisterDependent removes one dependent tree.
	UnregisterDependent()
	// NumUnits returns the number of distinction units.
	NumUnits() int
	// UnitMask returns the bit that represents a distinction unit.
	UnitMask(unit int) uint32
}

// Port contains port-dependent parameters pushed to manipulations when a tree is bound.
type Port struct {
	ID int `json:"id"`
	// PrsResultOffset is the parser result offset in the internal context, in 16-octet units.
	PrsResultOffset uint8 `json:"prsResultOffset"`
	// BufferPool is the buffer pool used for frames received on the port.
	BufferPool uint8 `json:"bufferPool,omitempty"`
}
