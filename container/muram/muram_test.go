package muram_test

import (
	"testing"

	"github.com/fmpcd/fmpcd/container/muram"
	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"github.com/fmpcd/fmpcd/core/testenv"
)

var makeAR = testenv.MakeAR

func TestAllocFree(t *testing.T) {
	assert, require := makeAR(t)
	m := muram.New(muram.Config{Size: 4096, Reserved: 256})
	assert.Equal(muram.Usage{Size: 4096, Free: 3840}, m.Usage())

	a, e := m.Alloc(48, 16)
	require.NoError(e)
	assert.EqualValues(256, a)
	b, e := m.Alloc(64, 256)
	require.NoError(e)
	assert.EqualValues(512, b)
	c, e := m.Alloc(16, 16)
	require.NoError(e)
	assert.EqualValues(304, c)
	assert.Equal(64, m.SizeOf(b))

	u := m.Usage()
	assert.Equal(128, u.Used)
	assert.Equal(3, u.Allocs)

	require.NoError(m.Free(a))
	require.NoError(m.Free(c))
	require.NoError(m.Free(b))
	assert.Error(m.Free(b))
	assert.Equal(muram.Usage{Size: 4096, Free: 3840}, m.Usage())

	_, e = m.Alloc(4096, 16)
	assert.ErrorIs(e, pcddef.ErrNoMemory)
	_, e = m.Alloc(16, 3)
	assert.Error(e)
}

func TestReadWrite(t *testing.T) {
	assert, require := makeAR(t)
	m := muram.New(muram.Config{Size: 4096})

	a, e := m.Alloc(16, 16)
	require.NoError(e)
	require.NoError(m.WriteUint32(a+4, 0xA1B2C3D4))
	w, e := m.ReadUint32(a + 4)
	require.NoError(e)
	assert.EqualValues(0xA1B2C3D4, w)

	p := make([]byte, 8)
	require.NoError(m.Read(a, p))
	assert.Equal(testenv.BytesFromHex("00000000 A1B2C3D4"), p)

	require.NoError(m.Free(a))
	b, e := m.Alloc(16, 16)
	require.NoError(e)
	assert.Equal(a, b)
	require.NoError(m.Read(b, p))
	assert.Equal(make([]byte, 8), p, "allocation is zeroed")

	assert.Error(m.Write(4094, make([]byte, 4)))
}
