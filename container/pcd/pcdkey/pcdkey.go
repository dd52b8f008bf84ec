// Package pcdkey lays out key match tables.
package pcdkey

import (
	"bytes"
	"fmt"

	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
)

// Strides lists the supported key table row strides.
var Strides = []int{1, 2, 4, 8, 16, 24, 32, 40, 48, 56}

// Stride returns the smallest supported stride that holds a key of the given size.
func Stride(size int) (int, error) {
	if size > 0 {
		for _, s := range Strides {
			if size <= s {
				return s, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: key size %d", pcddef.ErrConfig, size)
}

// Layout describes the geometry of a key match table.
type Layout struct {
	KeySize int  `json:"keySize"`
	Stride  int  `json:"stride"`
	Local   bool `json:"local"`
}

// NewLayout creates a Layout.
func NewLayout(keySize int, local bool) (l Layout, e error) {
	l.KeySize, l.Local = keySize, local
	l.Stride, e = Stride(keySize)
	return
}

// RowSize returns the size of one row; local masks follow the key within the row.
func (l Layout) RowSize() int {
	if l.Local {
		return 2 * l.Stride
	}
	return l.Stride
}

// TableSize returns the size of a table with numKeys keys plus the miss row.
func (l Layout) TableSize(numKeys int) int {
	return (numKeys + 1) * l.RowSize()
}

// Encode builds a table image.
// In local mode, masks[i] is written after keys[i]; the miss row stays zero.
func (l Layout) Encode(keys, masks [][]byte) []byte {
	row := l.RowSize()
	b := make([]byte, l.TableSize(len(keys)))
	for i, key := range keys {
		copy(b[i*row:], key[:l.KeySize])
		if l.Local {
			copy(b[i*row+l.Stride:], masks[i][:l.KeySize])
		}
	}
	return b
}

// Row extracts key and mask of row i from a table image.
// Outside local mode the returned mask is nil.
func (l Layout) Row(table []byte, i int) (key, mask []byte) {
	off := i * l.RowSize()
	key = table[off : off+l.KeySize]
	if l.Local {
		mask = table[off+l.Stride : off+l.Stride+l.KeySize]
	}
	return
}

// AllOnes returns a mask that compares every octet.
func AllOnes(size int) []byte {
	return bytes.Repeat([]byte{0xFF}, size)
}
