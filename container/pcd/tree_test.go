package pcd_test

import (
	"testing"

	"github.com/fmpcd/fmpcd/container/pcd"
	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
)

func makeEntries(n int, fqidBase uint32) (list []pcddef.Action) {
	for i := 0; i < n; i++ {
		list = append(list, pcddef.Enqueue().WithFqid(fqidBase+uint32(i)))
	}
	return list
}

func TestTreeGroups(t *testing.T) {
	assert, require := makeAR(t)
	f := NewFixture(t, pcddef.Config{})

	groups := []pcd.GroupParams{
		{Units: []int{0, 1}, Entries: makeEntries(4, 100)},
		{Units: []int{2}, Entries: makeEntries(2, 200)},
	}
	id, e := f.Reg.BuildTree(f.Env, groups)
	require.NoError(e)
	assert.Equal(1, f.Env.Owners())

	info, e := f.Reg.TreeInfo(id)
	require.NoError(e)
	assert.Equal(6*pcddef.ADSize, f.Mem.SizeOf(info.ADTable))
	assert.Zero(int(info.ADTable) % pcddef.ADTableAlign)
	require.Len(info.Groups, 2)
	assert.Equal([]uint32{0x80000000, 0x40000000}, info.Groups[0].UnitMasks)

	base, unitsMask, e := f.Reg.GetGroupParams(id, 1)
	assert.NoError(e)
	assert.Equal(4, base)
	assert.EqualValues(0x20000000, unitsMask)
	_, _, e = f.Reg.GetGroupParams(id, 2)
	assert.ErrorIs(e, pcddef.ErrIndexRange)

	entry := info.Groups[0].EntryIndex(f.Env.Present(pcddef.HeaderIPv4))
	assert.Equal(2, entry)
	assert.EqualValues(102, f.Record(info.ADTable, entry).Action.NewFqid)
	entry = info.Groups[1].EntryIndex(f.Env.Present(pcddef.HeaderUDP, pcddef.HeaderVlan))
	assert.Equal(5, entry)
	assert.EqualValues(201, f.Record(info.ADTable, entry).Action.NewFqid)

	_, e = f.Reg.BuildTree(f.Env, append(groups, pcd.GroupParams{Units: []int{0, 1, 2}, Entries: makeEntries(8, 300)}))
	assert.ErrorIs(e, pcddef.ErrConfig)
	assert.Equal(1, f.Env.Owners())

	require.NoError(f.Reg.DeleteTree(id))
	assert.Zero(f.Env.Owners())
	assert.Zero(f.Mem.SizeOf(info.ADTable))
	_, e = f.Reg.TreeInfo(id)
	assert.ErrorIs(e, pcddef.ErrNotFound)
}

func TestTreeBuildErrors(t *testing.T) {
	assert, _ := makeAR(t)
	f := NewFixture(t, pcddef.Config{})

	for _, tt := range []struct {
		groups []pcd.GroupParams
		err    error
	}{
		{nil, pcddef.ErrConfig},
		{[]pcd.GroupParams{{Units: []int{0, 1, 2, 0, 1}}}, pcddef.ErrCapacity},
		{[]pcd.GroupParams{{Units: []int{3}, Entries: makeEntries(2, 1)}}, pcddef.ErrConfig},
		{[]pcd.GroupParams{{Units: []int{1, 1}, Entries: makeEntries(4, 1)}}, pcddef.ErrConfig},
		{[]pcd.GroupParams{{Units: []int{1}, Entries: makeEntries(3, 1)}}, pcddef.ErrConfig},
		{[]pcd.GroupParams{{Units: []int{}, Entries: makeEntries(1, 1)}, {Units: []int{0}, Entries: makeEntries(2, 1)}}, pcddef.ErrConfig},
		{[]pcd.GroupParams{{Units: []int{0, 1, 2}, Entries: makeEntries(8, 1)}, {Units: []int{0, 1, 2}, Entries: makeEntries(8, 1)}, {Units: []int{}, Entries: makeEntries(1, 1)}}, pcddef.ErrCapacity},
		{[]pcd.GroupParams{{Units: []int{0}, Entries: []pcddef.Action{pcddef.Discard(), pcddef.ToNode(pcddef.NodeID(pcddef.MakeHandle(1, 1)))}}}, pcddef.ErrConfig},
	} {
		_, e := f.Reg.BuildTree(f.Env, tt.groups)
		assert.ErrorIs(e, tt.err, "%v", tt.groups)
	}

	_, e := f.Reg.BuildTree(nil, []pcd.GroupParams{{Units: []int{}, Entries: makeEntries(1, 1)}})
	assert.ErrorIs(e, pcddef.ErrConfig)

	assert.Zero(f.Env.Owners())
	_, nTrees, _ := f.Reg.Counts()
	assert.Zero(nTrees)
}

func TestTreeModify(t *testing.T) {
	assert, require := makeAR(t)
	f := NewFixture(t, pcddef.Config{})

	n := f.L4Node(pcddef.Discard())
	id := f.Tree(pcddef.Enqueue(), pcddef.Discard())
	before, e := f.Reg.TreeInfo(id)
	require.NoError(e)

	require.NoError(f.Reg.ModifyTreeNextEngine(id, 0, 1, pcddef.ToNode(n)))
	after, e := f.Reg.TreeInfo(id)
	require.NoError(e)
	assert.Equal(before.ADTable, after.ADTable)
	assert.Equal(pcddef.ToNode(n), after.Groups[0].Entries[1])
	d := f.Record(after.ADTable, 1)
	require.NotNil(d.ContLookup)
	assert.Equal(f.NodeInfo(n).ContLookup, *d.ContLookup)
	assert.Equal(1, f.NodeInfo(n).Owners)
	assert.ErrorIs(f.Reg.DeleteNode(n), pcddef.ErrInvalidState)

	assert.ErrorIs(f.Reg.ModifyTreeNextEngine(id, 1, 0, pcddef.Enqueue()), pcddef.ErrIndexRange)
	assert.ErrorIs(f.Reg.ModifyTreeNextEngine(id, 0, 2, pcddef.Enqueue()), pcddef.ErrIndexRange)
	assert.ErrorIs(f.Reg.ModifyTreeNextEngine(id, 0, 0, pcddef.ToKeygen(200)), pcddef.ErrConfig)

	require.NoError(f.Reg.ModifyTreeNextEngine(id, 0, 1, pcddef.ToPolicer(3, true).WithFqid(12)))
	assert.Zero(f.NodeInfo(n).Owners)
	d = f.Record(after.ADTable, 1)
	assert.Equal(pcddef.EnginePolicer, d.Action.Engine)
	assert.NoError(f.Reg.DeleteNode(n))
}

func TestTreeDelete(t *testing.T) {
	assert, require := makeAR(t)
	f := NewFixture(t, pcddef.Config{})

	n := f.L4Node(pcddef.Discard())
	id := f.Tree(pcddef.ToNode(n), pcddef.Discard())

	adTable, e := f.Reg.BindToPort(id, pcddef.Port{ID: 1})
	require.NoError(e)
	info, e := f.Reg.TreeInfo(id)
	require.NoError(e)
	assert.Equal(info.ADTable, adTable)
	assert.Equal(1, info.Owners())

	assert.ErrorIs(f.Reg.DeleteTree(id), pcddef.ErrInvalidState)
	assert.ErrorIs(f.Reg.UnbindFromPort(id, 2), pcddef.ErrInvalidState)
	require.NoError(f.Reg.UnbindFromPort(id, 1))
	require.NoError(f.Reg.DeleteTree(id))

	assert.Zero(f.NodeInfo(n).Owners)
	assert.Empty(f.NodeInfo(n).Trees)
	assert.Zero(f.Mem.SizeOf(adTable))
	assert.NoError(f.Reg.DeleteNode(n))
	assert.Empty(f.Reg.Trees())
}

func TestLock(t *testing.T) {
	assert, require := makeAR(t)
	f := NewFixture(t, pcddef.Config{})

	m, e := f.Reg.CreateManip(pcd.ManipParams{Kind: pcd.ManipPrsResultToPrefix})
	require.NoError(e)
	n := f.L4Node(pcddef.Discard(), key4("00000002", pcddef.Enqueue()))
	loose := f.L4Node(pcddef.Discard())
	parent := f.L4Node(pcddef.ToNode(n))
	id := f.Tree(pcddef.ToNode(n), pcddef.Discard())
	other := f.Tree(pcddef.Enqueue(), pcddef.Discard())

	require.NoError(f.Reg.TryLockWholeSubtree(id))
	info, e := f.Reg.TreeInfo(id)
	require.NoError(e)
	assert.True(info.Locked)
	assert.True(info.LockOwner)
	otherInfo, e := f.Reg.TreeInfo(other)
	require.NoError(e)
	assert.False(otherInfo.Locked)
	assert.False(otherInfo.LockOwner)

	assert.ErrorIs(f.Reg.TryLockWholeSubtree(id), pcddef.ErrBusy)
	assert.ErrorIs(f.Reg.AddKey(n, 0, key4("00000001", pcddef.Enqueue())), pcddef.ErrBusy)
	assert.ErrorIs(f.Reg.ModifyMissNextEngine(n, pcddef.Enqueue()), pcddef.ErrBusy)
	assert.ErrorIs(f.Reg.ModifyTreeNextEngine(id, 0, 0, pcddef.Enqueue()), pcddef.ErrBusy)
	_, e = f.Reg.BindToPort(id, pcddef.Port{ID: 1})
	assert.ErrorIs(e, pcddef.ErrBusy)
	assert.ErrorIs(f.Reg.DeleteTree(id), pcddef.ErrBusy)

	usage, gen, nodes := f.Mem.Usage(), f.Reg.Generation(), len(f.Reg.Nodes())
	_, e = f.Reg.CreateNode(pcd.NodeParams{Extraction: l4Extraction, Miss: pcddef.ToNode(n).WithManip(m)})
	assert.ErrorIs(e, pcddef.ErrBusy)
	assert.ErrorIs(f.Reg.ModifyMissNextEngine(loose, pcddef.ToNode(n).WithManip(m)), pcddef.ErrBusy)
	assert.ErrorIs(f.Reg.DeleteNode(parent), pcddef.ErrBusy)
	assert.Equal(usage, f.Mem.Usage())
	assert.Equal(gen, f.Reg.Generation())
	assert.Len(f.Reg.Nodes(), nodes)
	assert.False(f.NodeInfo(n).WithoutDMA)
	assert.False(f.Record(f.NodeInfo(n).ContLookup.ADTable, 0).WithoutDMA)

	assert.NoError(f.Reg.AddKey(loose, 0, key4("00000001", pcddef.Enqueue())))
	assert.NoError(f.Reg.ModifyTreeNextEngine(other, 0, 0, pcddef.Enqueue()))
	assert.ErrorIs(f.Reg.ReleaseLock(other), pcddef.ErrInvalidState)

	require.NoError(f.Reg.ReleaseLock(id))
	assert.ErrorIs(f.Reg.ReleaseLock(id), pcddef.ErrInvalidState)
	assert.NoError(f.Reg.AddKey(n, 0, key4("00000001", pcddef.Enqueue())))
	info, e = f.Reg.TreeInfo(id)
	require.NoError(e)
	assert.False(info.Locked)
	assert.False(info.LockOwner)

	assert.NoError(f.Reg.DeleteNode(parent))
	_, e = f.Reg.CreateNode(pcd.NodeParams{Extraction: l4Extraction, Miss: pcddef.ToNode(n).WithManip(m)})
	assert.NoError(e)
	assert.True(f.NodeInfo(n).WithoutDMA)
	assert.True(f.Record(f.NodeInfo(n).ContLookup.ADTable, 1).WithoutDMA)
}
