package pcd_test

import (
	"testing"

	"github.com/fmpcd/fmpcd/container/pcd"
	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"github.com/fmpcd/fmpcd/core/testenv"
)

func TestNodeBasic(t *testing.T) {
	assert, require := makeAR(t)
	f := NewFixture(t, pcddef.Config{})

	fullMask := testenv.BytesFromHex("FFFFFFFF")
	id, e := f.Reg.CreateNode(pcd.NodeParams{
		Extraction: l4Extraction,
		Keys: []pcd.KeyParams{
			{Key: testenv.BytesFromHex("00350035"), Mask: fullMask, Action: pcddef.Enqueue().WithStatistics()},
			{Key: testenv.BytesFromHex("00440043"), Mask: fullMask, Action: pcddef.Enqueue().WithStatistics()},
			{Key: testenv.BytesFromHex("007B007B"), Mask: fullMask, Action: pcddef.Enqueue().WithStatistics()},
		},
		Miss: pcddef.Discard(),
	})
	require.NoError(e)

	info := f.NodeInfo(id)
	assert.Equal("live", info.State)
	assert.Equal(3, info.NumKeys())
	assert.False(info.Layout.Local)
	assert.Equal([4]byte{0xFF, 0xFF, 0xFF, 0xFF}, info.ContLookup.GlobalMask)
	assert.Equal(3, info.ContLookup.NumKeys)
	assert.Equal(4, info.ContLookup.KeySize)
	assert.Equal(pcddef.PrL4, info.ContLookup.Pr)
	assert.Equal(64, info.ADTableSize())
	assert.Equal(64, f.Mem.SizeOf(info.ContLookup.ADTable))
	assert.Equal(info.Layout.TableSize(3), f.Mem.SizeOf(info.ContLookup.KeyTable))

	for i := 0; i < 3; i++ {
		d := f.Record(info.ContLookup.ADTable, i)
		assert.Nil(d.ContLookup)
		assert.Equal(pcddef.EngineDone, d.Action.Engine)
		assert.True(d.Action.Statistics)
	}
	assert.True(f.Record(info.ContLookup.ADTable, 3).Action.Drop)

	cnt, e := f.Reg.GetKeyCounter(id, 0)
	assert.NoError(e)
	assert.Zero(cnt)
	_, e = f.Reg.GetKeyCounter(id, 3)
	assert.ErrorIs(e, pcddef.ErrIndexRange)

	assert.NoError(f.Reg.DeleteNode(id))
	assert.Zero(f.Mem.SizeOf(info.ContLookup.ADTable))
	assert.Zero(f.Mem.SizeOf(info.ContLookup.KeyTable))
	_, e = f.Reg.NodeInfo(id)
	assert.ErrorIs(e, pcddef.ErrNotFound)
	assert.ErrorIs(f.Reg.DeleteNode(id), pcddef.ErrNotFound)
}

func TestNodeCreateErrors(t *testing.T) {
	assert, _ := makeAR(t)
	f := NewFixture(t, pcddef.Config{MaxKeys: 2})
	usage := f.Mem.Usage()

	_, e := f.Reg.CreateNode(pcd.NodeParams{
		Extraction: l4Extraction,
		Keys: []pcd.KeyParams{
			key4("00000001", pcddef.Enqueue()),
			key4("00000002", pcddef.Enqueue()),
			key4("00000003", pcddef.Enqueue()),
		},
		Miss: pcddef.Discard(),
	})
	assert.ErrorIs(e, pcddef.ErrCapacity)

	_, e = f.Reg.CreateNode(pcd.NodeParams{
		Extraction: l4Extraction,
		Keys: []pcd.KeyParams{
			key4("00000001", pcddef.Enqueue()),
			key4("00000001", pcddef.Discard()),
		},
		Miss: pcddef.Discard(),
	})
	assert.ErrorIs(e, pcddef.ErrConfig, "collision")

	_, e = f.Reg.CreateNode(pcd.NodeParams{
		Extraction: l4Extraction,
		Keys: []pcd.KeyParams{
			{Key: testenv.BytesFromHex("00000100"), Mask: testenv.BytesFromHex("0000FF00"), Action: pcddef.Enqueue()},
			{Key: testenv.BytesFromHex("00000101"), Mask: testenv.BytesFromHex("0000FF00"), Action: pcddef.Discard()},
		},
		Miss: pcddef.Discard(),
	})
	assert.ErrorIs(e, pcddef.ErrConfig, "collision under mask")

	_, e = f.Reg.CreateNode(pcd.NodeParams{
		Extraction: l4Extraction,
		Keys:       []pcd.KeyParams{key4("000001", pcddef.Enqueue())},
		Miss:       pcddef.Discard(),
	})
	assert.ErrorIs(e, pcddef.ErrConfig, "key size")

	_, e = f.Reg.CreateNode(pcd.NodeParams{
		Extraction: l4Extraction,
		Keys:       []pcd.KeyParams{key4("00000001", pcddef.ToNode(pcddef.NodeID(pcddef.MakeHandle(7, 1))))},
		Miss:       pcddef.Discard(),
	})
	assert.ErrorIs(e, pcddef.ErrConfig, "missing child")

	_, e = f.Reg.CreateNode(pcd.NodeParams{
		Extraction: pcddef.Extraction{Source: pcddef.SourceFromHeader, Header: pcddef.HeaderUDP, Size: 57},
		Miss:       pcddef.Discard(),
	})
	assert.ErrorIs(e, pcddef.ErrConfig, "extraction")

	assert.Equal(usage, f.Mem.Usage())
	nNodes, _, _ := f.Reg.Counts()
	assert.Zero(nNodes)
}

func TestNodeAddKey(t *testing.T) {
	assert, require := makeAR(t)
	f := NewFixture(t, pcddef.Config{})

	id := f.L4Node(pcddef.Discard(),
		key4("00000000", pcddef.Enqueue().WithStatistics()),
		key4("00000001", pcddef.Enqueue().WithStatistics()),
		key4("00000002", pcddef.Enqueue().WithStatistics()),
	)
	before := f.NodeInfo(id)
	require.NoError(f.Mem.WriteUint32(before.ContLookup.ADTable+pcddef.ADSize*1+12, 41))

	require.NoError(f.Reg.AddKey(id, 1, key4("0000000A", pcddef.Enqueue().WithFqid(7))))
	after := f.NodeInfo(id)
	assert.Equal(4, after.NumKeys())
	assert.NotEqual(before.ContLookup.ADTable, after.ContLookup.ADTable)
	assert.Zero(f.Mem.SizeOf(before.ContLookup.ADTable))
	assert.Zero(f.Mem.SizeOf(before.ContLookup.KeyTable))
	assert.Equal(80, f.Mem.SizeOf(after.ContLookup.ADTable))

	assert.Equal("00000000", after.Keys[0].Key)
	assert.Equal("0000000a", after.Keys[1].Key)
	assert.Equal("00000001", after.Keys[2].Key)
	assert.Equal("00000002", after.Keys[3].Key)

	d := f.Record(after.ContLookup.ADTable, 1)
	assert.True(d.Action.OverrideFqid)
	assert.EqualValues(7, d.Action.NewFqid)
	cnt, e := f.Reg.GetKeyCounter(id, 2)
	assert.NoError(e)
	assert.EqualValues(41, cnt)
	_, e = f.Reg.GetKeyCounter(id, 1)
	assert.ErrorIs(e, pcddef.ErrInvalidState)

	assert.ErrorIs(f.Reg.AddKey(id, 6, key4("0000000B", pcddef.Enqueue())), pcddef.ErrIndexRange)
	assert.ErrorIs(f.Reg.AddKey(id, 0, key4("00000001", pcddef.Enqueue())), pcddef.ErrConfig)
	assert.Equal(after, f.NodeInfo(id))

	require.NoError(f.Reg.AddKey(id, 4, key4("0000000B", pcddef.Discard())))
	assert.Equal("0000000b", f.NodeInfo(id).Keys[4].Key)
}

func TestNodeCapacity(t *testing.T) {
	assert, _ := makeAR(t)
	f := NewFixture(t, pcddef.Config{MaxKeys: 2})

	id := f.L4Node(pcddef.Discard(), key4("00000000", pcddef.Enqueue()), key4("00000001", pcddef.Enqueue()))
	assert.ErrorIs(f.Reg.AddKey(id, 0, key4("00000002", pcddef.Enqueue())), pcddef.ErrCapacity)
	assert.NoError(f.Reg.RemoveKey(id, 0))
	assert.NoError(f.Reg.AddKey(id, 0, key4("00000002", pcddef.Enqueue())))
}

func TestNodeRemoveKey(t *testing.T) {
	assert, require := makeAR(t)
	f := NewFixture(t, pcddef.Config{})

	childA := f.L4Node(pcddef.Enqueue())
	parent := f.L4Node(pcddef.Discard(),
		key4("00000000", pcddef.ToNode(childA)),
		key4("00000001", pcddef.Enqueue()),
		key4("00000002", pcddef.Enqueue()),
		key4("00000003", pcddef.Enqueue()),
	)
	assert.Equal(1, f.NodeInfo(childA).Owners)
	assert.ErrorIs(f.Reg.DeleteNode(childA), pcddef.ErrInvalidState)

	d := f.Record(f.NodeInfo(parent).ContLookup.ADTable, 0)
	require.NotNil(d.ContLookup)
	assert.Equal(f.NodeInfo(childA).ContLookup, *d.ContLookup)

	require.NoError(f.Reg.RemoveKey(parent, 0))
	info := f.NodeInfo(parent)
	assert.Equal(3, info.NumKeys())
	assert.Equal("00000001", info.Keys[0].Key)
	assert.Equal(64, f.Mem.SizeOf(info.ContLookup.ADTable))
	assert.Zero(f.NodeInfo(childA).Owners)

	assert.ErrorIs(f.Reg.RemoveKey(parent, 3), pcddef.ErrIndexRange)
	assert.NoError(f.Reg.DeleteNode(childA))
}

func TestNodeModify(t *testing.T) {
	assert, require := makeAR(t)
	f := NewFixture(t, pcddef.Config{})

	child := f.L4Node(pcddef.Enqueue())
	id := f.L4Node(pcddef.Discard(),
		key4("00000000", pcddef.Enqueue().WithStatistics()),
		key4("00000001", pcddef.Enqueue()),
	)
	require.NoError(f.Mem.WriteUint32(f.NodeInfo(id).ContLookup.ADTable+12, 9))

	require.NoError(f.Reg.ModifyKey(id, 0, testenv.BytesFromHex("00000005"), nil))
	info := f.NodeInfo(id)
	assert.Equal("00000005", info.Keys[0].Key)
	cnt, e := f.Reg.GetKeyCounter(id, 0)
	assert.NoError(e)
	assert.EqualValues(9, cnt)
	assert.ErrorIs(f.Reg.ModifyKey(id, 0, testenv.BytesFromHex("00000001"), nil), pcddef.ErrConfig)

	require.NoError(f.Reg.ModifyNextEngine(id, 1, pcddef.ToNode(child)))
	assert.Equal(1, f.NodeInfo(child).Owners)
	assert.NotNil(f.Record(f.NodeInfo(id).ContLookup.ADTable, 1).ContLookup)

	require.NoError(f.Reg.ModifyKeyAndNextEngine(id, 1, key4("00000006", pcddef.ToKeygen(3))))
	assert.Zero(f.NodeInfo(child).Owners)
	d := f.Record(f.NodeInfo(id).ContLookup.ADTable, 1)
	assert.Equal(pcddef.EngineKeygen, d.Action.Engine)
	assert.EqualValues(3, d.Action.Scheme)

	require.NoError(f.Reg.ModifyMissNextEngine(id, pcddef.ToNode(child)))
	info = f.NodeInfo(id)
	assert.Equal(pcddef.ToNode(child), info.Miss)
	assert.NotNil(f.Record(info.ContLookup.ADTable, 2).ContLookup)
	assert.Equal(1, f.NodeInfo(child).Owners)

	cnt, e = f.Reg.GetKeyCounter(id, 0)
	assert.NoError(e)
	assert.EqualValues(9, cnt)

	assert.ErrorIs(f.Reg.ModifyNextEngine(id, 2, pcddef.Discard()), pcddef.ErrIndexRange)
	assert.ErrorIs(f.Reg.ModifyNextEngine(id, 0, pcddef.Action{Engine: "bogus"}), pcddef.ErrConfig)
	assert.ErrorIs(f.Reg.ModifyNextEngine(child, 0, pcddef.Discard()), pcddef.ErrIndexRange)
}

func TestNodeRepointAncestors(t *testing.T) {
	assert, require := makeAR(t)
	f := NewFixture(t, pcddef.Config{})

	child := f.L4Node(pcddef.Discard(), key4("00000001", pcddef.Enqueue()))
	parent := f.L4Node(pcddef.ToNode(child), key4("00000002", pcddef.ToNode(child)))
	tree := f.Tree(pcddef.ToNode(child), pcddef.Discard())
	assert.Equal(3, f.NodeInfo(child).Owners)
	assert.Equal([]pcddef.TreeID{tree}, f.NodeInfo(child).Trees)
	assert.Empty(f.NodeInfo(parent).Trees)

	// every ancestor record points at the complete replacement table.
	for _, op := range []func() error{
		func() error { return f.Reg.AddKey(child, 1, key4("00000003", pcddef.Enqueue())) },
		func() error { return f.Reg.AddKey(child, 0, key4("00000004", pcddef.Discard())) },
		func() error { return f.Reg.RemoveKey(child, 1) },
		func() error { return f.Reg.ModifyNextEngine(child, 0, pcddef.ToKeygen(1)) },
	} {
		require.NoError(op())
		want := f.NodeInfo(child).ContLookup
		assert.Equal(want.NumKeys, f.NodeInfo(child).NumKeys())

		parentAD := f.NodeInfo(parent).ContLookup.ADTable
		for _, i := range []int{0, 1} {
			d := f.Record(parentAD, i)
			require.NotNil(d.ContLookup)
			assert.Equal(want, *d.ContLookup)
		}
		treeInfo, e := f.Reg.TreeInfo(tree)
		require.NoError(e)
		d := f.Record(treeInfo.ADTable, 1)
		require.NotNil(d.ContLookup)
		assert.Equal(want, *d.ContLookup)

		assert.Equal((want.NumKeys+1)*pcddef.ADSize, f.Mem.SizeOf(want.ADTable))
	}
	assert.Equal(3, f.NodeInfo(child).Owners)
}

func TestNodeLinkErrors(t *testing.T) {
	assert, require := makeAR(t)
	f := NewFixture(t, pcddef.Config{})

	a := f.L4Node(pcddef.Discard())
	b := f.L4Node(pcddef.ToNode(a))
	c := f.L4Node(pcddef.ToNode(b))
	assert.ErrorIs(f.Reg.ModifyMissNextEngine(a, pcddef.ToNode(c)), pcddef.ErrConfig, "cycle")
	assert.ErrorIs(f.Reg.ModifyMissNextEngine(a, pcddef.ToNode(a)), pcddef.ErrConfig, "self loop")

	f.Tree(pcddef.ToNode(c), pcddef.Discard())
	d := f.L4Node(pcddef.ToNode(a))
	_, e := f.Reg.BuildTree(f.Env, []pcd.GroupParams{{Units: []int{1}, Entries: []pcddef.Action{pcddef.Discard(), pcddef.ToNode(d)}}})
	assert.ErrorIs(e, pcddef.ErrConfig, "a is reachable from two trees")

	require.NoError(f.Reg.ModifyMissNextEngine(d, pcddef.Discard()))
	_, e = f.Reg.BuildTree(f.Env, []pcd.GroupParams{{Units: []int{1}, Entries: []pcddef.Action{pcddef.Discard(), pcddef.ToNode(d)}}})
	assert.NoError(e)
}

func TestNodeLocalMask(t *testing.T) {
	assert, require := makeAR(t)
	f := NewFixture(t, pcddef.Config{})

	ex := pcddef.Extraction{Source: pcddef.SourceFromHeader, Header: pcddef.HeaderUDP, Offset: 2, Size: 2}
	id, e := f.Reg.CreateNode(pcd.NodeParams{
		Extraction: ex,
		Keys: []pcd.KeyParams{
			{Key: testenv.BytesFromHex("0100"), Mask: testenv.BytesFromHex("FF00"), Action: pcddef.Enqueue()},
		},
		Miss: pcddef.Discard(),
	})
	require.NoError(e)
	info := f.NodeInfo(id)
	assert.False(info.Layout.Local)
	assert.Equal([4]byte{0xFF, 0x00, 0xFF, 0xFF}, info.ContLookup.GlobalMask)

	require.NoError(f.Reg.AddKey(id, 1, pcd.KeyParams{Key: testenv.BytesFromHex("0002"), Mask: testenv.BytesFromHex("00FF"), Action: pcddef.Enqueue()}))
	info = f.NodeInfo(id)
	assert.True(info.Layout.Local)
	assert.True(info.ContLookup.LocalMask)
	assert.Equal([4]byte{0xFF, 0xFF, 0xFF, 0xFF}, info.ContLookup.GlobalMask)
	assert.Equal(info.Layout.TableSize(2), f.Mem.SizeOf(info.ContLookup.KeyTable))

	table := make([]byte, info.Layout.TableSize(2))
	require.NoError(f.Mem.Read(info.ContLookup.KeyTable, table))
	key, mask := info.Layout.Row(table, 1)
	assert.Equal(testenv.BytesFromHex("0002"), key)
	assert.Equal(testenv.BytesFromHex("00FF"), mask)

	// local mode is permanent
	require.NoError(f.Reg.RemoveKey(id, 1))
	require.NoError(f.Reg.ModifyKey(id, 0, testenv.BytesFromHex("0300"), testenv.BytesFromHex("FF00")))
	assert.True(f.NodeInfo(id).Layout.Local)
}

func TestNodeFixedKey(t *testing.T) {
	assert, require := makeAR(t)
	f := NewFixture(t, pcddef.Config{})

	ex := pcddef.Extraction{Source: pcddef.SourceFullField, Field: pcddef.FieldIPv4Ttl}
	_, e := f.Reg.CreateNode(pcd.NodeParams{
		Extraction: ex,
		Keys:       []pcd.KeyParams{{Key: []byte{0x02}, Action: pcddef.Enqueue()}},
		Miss:       pcddef.Discard(),
	})
	assert.ErrorIs(e, pcddef.ErrConfig)

	id, e := f.Reg.CreateNode(pcd.NodeParams{
		Extraction: ex,
		Keys:       []pcd.KeyParams{{Key: []byte{0x01}, Action: pcddef.Discard()}},
		Miss:       pcddef.Enqueue(),
	})
	require.NoError(e)
	assert.Zero(f.NodeInfo(id).ContLookup.KeySize, "full field")

	assert.ErrorIs(f.Reg.AddKey(id, 0, pcd.KeyParams{Key: []byte{0x01}, Action: pcddef.Enqueue()}), pcddef.ErrInvalidState)
	assert.ErrorIs(f.Reg.RemoveKey(id, 0), pcddef.ErrInvalidState)
	assert.ErrorIs(f.Reg.ModifyKey(id, 0, []byte{0x01}, nil), pcddef.ErrInvalidState)
	assert.NoError(f.Reg.ModifyNextEngine(id, 0, pcddef.Enqueue().WithFqid(3)))
}

func TestNodeGeneration(t *testing.T) {
	assert, require := makeAR(t)
	f := NewFixture(t, pcddef.Config{})

	gen0 := f.Reg.Generation()
	id := f.L4Node(pcddef.Discard())
	gen1 := f.Reg.Generation()
	assert.Greater(gen1, gen0)

	require.Error(f.Reg.RemoveKey(id, 0))
	assert.Equal(gen1, f.Reg.Generation())

	require.NoError(f.Reg.ModifyMissNextEngine(id, pcddef.Enqueue()))
	assert.Greater(f.Reg.Generation(), gen1)
	assert.Equal([]pcddef.NodeID{id}, f.Reg.Nodes())
}
