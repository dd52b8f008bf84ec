// Package muram simulates the on-chip memory pool that holds classification tables.
package muram

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"github.com/fmpcd/fmpcd/core/logging"
	mathpkg "github.com/pkg/math"
	"go.uber.org/zap"
)

var logger = logging.New("muram")

// Limits and defaults.
const (
	MinSize     = 4096
	MaxSize     = 1 << 23
	DefaultSize = 0x28000

	DefaultReserved = 256
)

// Config contains MURAM configuration.
type Config struct {
	// Size is the total size in octets.
	Size int `json:"size,omitempty"`
	// Reserved is the size of the low region that is never allocated.
	// It keeps offset zero free to mean "no table".
	Reserved int `json:"reserved,omitempty"`
}

// ApplyDefaults applies defaults.
func (cfg *Config) ApplyDefaults() {
	if cfg.Size == 0 {
		cfg.Size = DefaultSize
	} else {
		cfg.Size = mathpkg.MinInt(mathpkg.MaxInt(MinSize, cfg.Size), MaxSize)
	}
	if cfg.Reserved <= 0 {
		cfg.Reserved = DefaultReserved
	}
	cfg.Reserved = mathpkg.MinInt(cfg.Reserved, cfg.Size/2)
}

type span struct {
	off, size int
}

func (s span) end() int {
	return s.off + s.size
}

// Usage reports allocator usage.
type Usage struct {
	Size   int `json:"size"`
	Used   int `json:"used"`
	Free   int `json:"free"`
	Allocs int `json:"allocs"`
}

// Muram is a byte-addressed memory region with a first-fit allocator.
type Muram struct {
	mutex sync.Mutex
	mem   []byte
	free  []span // sorted by offset, never adjacent
	used  map[pcddef.Addr]int
}

var _ pcddef.Memory = (*Muram)(nil)

// New creates a Muram.
func New(cfg Config) *Muram {
	cfg.ApplyDefaults()
	m := &Muram{
		mem:  make([]byte, cfg.Size),
		free: []span{{cfg.Reserved, cfg.Size - cfg.Reserved}},
		used: map[pcddef.Addr]int{},
	}
	logger.Debug("MURAM created", zap.Int("size", cfg.Size), zap.Int("reserved", cfg.Reserved))
	return m
}

// Alloc allocates zeroed memory.
func (m *Muram) Alloc(size, align int) (pcddef.Addr, error) {
	if size <= 0 || align <= 0 || align&(align-1) != 0 {
		return 0, fmt.Errorf("muram.Alloc(%d,%d): bad arguments", size, align)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	for i, f := range m.free {
		start := (f.off + align - 1) &^ (align - 1)
		if start+size > f.end() {
			continue
		}

		var repl []span
		if start > f.off {
			repl = append(repl, span{f.off, start - f.off})
		}
		if tail := f.end() - (start + size); tail > 0 {
			repl = append(repl, span{start + size, tail})
		}
		m.free = append(m.free[:i], append(repl, m.free[i+1:]...)...)

		for j := start; j < start+size; j++ {
			m.mem[j] = 0
		}
		addr := pcddef.Addr(start)
		m.used[addr] = size
		return addr, nil
	}
	return 0, fmt.Errorf("muram.Alloc(%d,%d): %w", size, align, pcddef.ErrNoMemory)
}

// Free releases memory.
func (m *Muram) Free(addr pcddef.Addr) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	size, ok := m.used[addr]
	if !ok {
		return fmt.Errorf("muram.Free(%s): not allocated", addr)
	}
	delete(m.used, addr)

	s := span{int(addr), size}
	i := sort.Search(len(m.free), func(i int) bool { return m.free[i].off > s.off })
	m.free = append(m.free, span{})
	copy(m.free[i+1:], m.free[i:])
	m.free[i] = s

	if i+1 < len(m.free) && m.free[i].end() == m.free[i+1].off {
		m.free[i].size += m.free[i+1].size
		m.free = append(m.free[:i+1], m.free[i+2:]...)
	}
	if i > 0 && m.free[i-1].end() == m.free[i].off {
		m.free[i-1].size += m.free[i].size
		m.free = append(m.free[:i], m.free[i+1:]...)
	}
	return nil
}

func (m *Muram) check(addr pcddef.Addr, n int) error {
	if int(addr)+n > len(m.mem) {
		return fmt.Errorf("muram: access [%s,+%d) out of range", addr, n)
	}
	return nil
}

// Read copies memory into p.
func (m *Muram) Read(addr pcddef.Addr, p []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if e := m.check(addr, len(p)); e != nil {
		return e
	}
	copy(p, m.mem[addr:])
	return nil
}

// Write copies p into memory.
func (m *Muram) Write(addr pcddef.Addr, p []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if e := m.check(addr, len(p)); e != nil {
		return e
	}
	copy(m.mem[addr:], p)
	return nil
}

// ReadUint32 reads a big-endian word.
func (m *Muram) ReadUint32(addr pcddef.Addr) (uint32, error) {
	var b [4]byte
	e := m.Read(addr, b[:])
	return binary.BigEndian.Uint32(b[:]), e
}

// WriteUint32 writes a big-endian word.
func (m *Muram) WriteUint32(addr pcddef.Addr, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return m.Write(addr, b[:])
}

// SizeOf returns the size of an allocation, or zero if addr is not allocated.
func (m *Muram) SizeOf(addr pcddef.Addr) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.used[addr]
}

// Usage returns allocator usage.
func (m *Muram) Usage() (u Usage) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	u.Size = len(m.mem)
	for _, f := range m.free {
		u.Free += f.size
	}
	for _, size := range m.used {
		u.Used += size
	}
	u.Allocs = len(m.used)
	return u
}
